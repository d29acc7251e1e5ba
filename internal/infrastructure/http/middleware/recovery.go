package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/yuzvak/seckill-service/internal/domain/seckill"
	"github.com/yuzvak/seckill-service/internal/infrastructure/http/response"
	"github.com/yuzvak/seckill-service/internal/pkg/logger"
)

func NewRecoveryMiddleware(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}

					log.Error("Panic recovered",
						"error", err,
						"stack", string(debug.Stack()),
						"path", r.URL.Path,
						"method", r.Method,
					)

					response.WriteJSON(w, http.StatusInternalServerError, &response.ErrorResponse{
						Error: string(seckill.ReasonInternal),
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
