package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/yuzvak/seckill-service/internal/pkg/logger"
)

const RequestIDHeader = "X-Request-ID"

func NewLoggingMiddleware(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now().UTC()

			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)

			wrw := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrw, r)

			reqLog := log.WithCorrelationID(requestID)
			fields := []interface{}{
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrw.statusCode,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr,
			}

			// purchase traffic is the hot path; only failures go above debug
			if wrw.statusCode >= http.StatusInternalServerError {
				reqLog.Warn("HTTP Request", fields...)
			} else {
				reqLog.Debug("HTTP Request", fields...)
			}
		})
	}
}

type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
