package monitoring

import (
	"time"
)

// PurchaseMetrics records one purchase decision.
type PurchaseMetrics struct {
	start time.Time
}

func NewPurchaseMetrics(mode string) *PurchaseMetrics {
	PurchaseAttemptsTotal.WithLabelValues(mode).Inc()
	return &PurchaseMetrics{start: time.Now()}
}

func (m *PurchaseMetrics) RecordGranted(replay bool) {
	if replay {
		PurchaseReplayTotal.Inc()
	} else {
		PurchaseGrantedTotal.Inc()
	}
	m.observe("granted")
}

func (m *PurchaseMetrics) RecordDenied(reason string) {
	PurchaseDeniedTotal.WithLabelValues(reason).Inc()
	m.observe("denied")
}

func (m *PurchaseMetrics) observe(outcome string) {
	PurchaseDuration.WithLabelValues(outcome).Observe(time.Since(m.start).Seconds())
}
