package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler", "method", "status_code"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"handler", "method", "status_code"},
	)
)

var (
	PurchaseAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seckill_purchase_attempts_total",
			Help: "Total number of purchase attempts",
		},
		[]string{"mode"},
	)

	PurchaseGrantedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seckill_purchase_granted_total",
			Help: "Total number of purchases granted",
		},
	)

	PurchaseReplayTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seckill_purchase_replay_total",
			Help: "Total number of repeated requests answered from an existing grant",
		},
	)

	PurchaseDeniedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seckill_purchase_denied_total",
			Help: "Total number of denied purchases",
		},
		[]string{"reason"},
	)

	PurchaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "seckill_purchase_duration_seconds",
			Help:    "Duration of the purchase decision in seconds",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"outcome"},
	)

	SeedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seckill_seed_total",
			Help: "Total number of cache seed attempts",
		},
		[]string{"result"},
	)
)

var (
	ReconcileBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seckill_reconcile_batches_total",
			Help: "Total number of flush batches",
		},
		[]string{"result"},
	)

	ReconcileGrantsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seckill_reconcile_grants_total",
			Help: "Total number of grants processed by flushes",
		},
		[]string{"result"},
	)

	ReconcileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "seckill_reconcile_duration_seconds",
			Help:    "Duration of flush batches in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	PendingBacklog = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "seckill_pending_backlog",
			Help: "Number of grants not yet written to the durable store",
		},
	)

	PendingDeadLetters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "seckill_pending_dead_letters",
			Help: "Number of grants the durable store refused, parked for an operator",
		},
	)
)

var (
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Duration of database queries in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"query_type", "table"},
	)

	DBConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_active",
			Help: "Number of active database connections",
		},
	)

	DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_idle",
			Help: "Number of idle database connections",
		},
	)
)

var (
	RedisCommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_command_duration_seconds",
			Help:    "Duration of Redis commands in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"command"},
	)

	RedisErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_errors_total",
			Help: "Total number of failed Redis commands",
		},
		[]string{"command"},
	)
)

func TimeDBQuery(queryType, table string) func() {
	start := time.Now()
	return func() {
		duration := time.Since(start).Seconds()
		DBQueryDuration.WithLabelValues(queryType, table).Observe(duration)
	}
}

func TimeReconcile() func() {
	start := time.Now()
	return func() {
		ReconcileDuration.Observe(time.Since(start).Seconds())
	}
}

func RecordSeed(result string) {
	SeedTotal.WithLabelValues(result).Inc()
}

func RecordFlush(inserted, duplicates int, err error) {
	if err != nil {
		ReconcileBatchesTotal.WithLabelValues("error").Inc()
		return
	}
	ReconcileBatchesTotal.WithLabelValues("ok").Inc()
	ReconcileGrantsTotal.WithLabelValues("inserted").Add(float64(inserted))
	ReconcileGrantsTotal.WithLabelValues("duplicate").Add(float64(duplicates))
}

func UpdatePendingBacklog(n int64) {
	PendingBacklog.Set(float64(n))
}

// RecordDeadLettered counts grants parked after the durable store refused them.
func RecordDeadLettered(n int) {
	ReconcileGrantsTotal.WithLabelValues("dead_lettered").Add(float64(n))
}

func UpdatePendingDeadLetters(n int64) {
	PendingDeadLetters.Set(float64(n))
}
