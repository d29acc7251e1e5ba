package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"runtime"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yuzvak/seckill-service/internal/infrastructure/http/response"
	"github.com/yuzvak/seckill-service/internal/pkg/logger"
)

const (
	statusUp   = "UP"
	statusDown = "DOWN"

	healthPingTimeout = 2 * time.Second
)

// BacklogReader reports how many granted purchases await the durable flush.
type BacklogReader interface {
	Backlog(ctx context.Context) (int64, error)
}

type HealthHandler struct {
	db        *sql.DB
	redis     *redis.Client
	backlog   BacklogReader
	log       *logger.Logger
	startTime time.Time
}

func NewHealthHandler(db *sql.DB, redis *redis.Client, backlog BacklogReader, log *logger.Logger) *HealthHandler {
	return &HealthHandler{
		db:        db,
		redis:     redis,
		backlog:   backlog,
		log:       log,
		startTime: time.Now().UTC(),
	}
}

type MemoryMetrics struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"total_alloc"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"num_gc"`
}

type ServicesStatus struct {
	App      string `json:"app"`
	Database string `json:"database"`
	Redis    string `json:"redis"`
}

type HealthData struct {
	ServicesStatus ServicesStatus `json:"services_status"`
	PendingGrants  int64          `json:"pending_grants"`
	Uptime         string         `json:"uptime"`
	Memory         MemoryMetrics  `json:"memory"`
	Goroutines     int            `json:"goroutines"`
}

// HandleHealth answers 503 when either store is unreachable so load
// balancers stop routing purchases to an instance that would fail closed.
func (h *HealthHandler) HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
		defer cancel()

		dbStatus := statusUp
		if err := h.db.PingContext(ctx); err != nil {
			h.log.Warn("Database health check failed", "error", err)
			dbStatus = statusDown
		}

		redisStatus := statusUp
		if err := h.redis.Ping(ctx).Err(); err != nil {
			h.log.Warn("Redis health check failed", "error", err)
			redisStatus = statusDown
		}

		var pending int64
		if redisStatus == statusUp && h.backlog != nil {
			if n, err := h.backlog.Backlog(ctx); err == nil {
				pending = n
			}
		}

		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)

		data := HealthData{
			ServicesStatus: ServicesStatus{
				App:      statusUp,
				Database: dbStatus,
				Redis:    redisStatus,
			},
			PendingGrants: pending,
			Uptime:        time.Since(h.startTime).String(),
			Memory: MemoryMetrics{
				Alloc:      mem.Alloc,
				TotalAlloc: mem.TotalAlloc,
				Sys:        mem.Sys,
				NumGC:      mem.NumGC,
			},
			Goroutines: runtime.NumGoroutine(),
		}

		status := http.StatusOK
		if dbStatus == statusDown || redisStatus == statusDown {
			status = http.StatusServiceUnavailable
		}

		response.WriteJSON(w, status, data)
	}
}
