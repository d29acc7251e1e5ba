package middleware

import (
	"net/http"
	"time"
)

const timeoutBody = `{"error":"timeout"}`

// NewTimeoutMiddleware bounds every request. The deadline also reaches the
// handler context, so a purchase stuck on the cache reports timeout.
func NewTimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.TimeoutHandler(next, timeout, timeoutBody)
	}
}
