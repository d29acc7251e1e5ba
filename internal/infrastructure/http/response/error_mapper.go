package response

import (
	"net/http"

	domainErrors "github.com/yuzvak/seckill-service/internal/domain/errors"
	"github.com/yuzvak/seckill-service/internal/domain/seckill"
)

var reasonStatus = map[seckill.DenyReason]int{
	seckill.ReasonDuplicate:      http.StatusBadRequest,
	seckill.ReasonOutOfStock:     http.StatusBadRequest,
	seckill.ReasonInvalidRequest: http.StatusBadRequest,
	seckill.ReasonInvalidID:      http.StatusBadRequest,
	seckill.ReasonNotFound:       http.StatusNotFound,
	seckill.ReasonCacheDown:      http.StatusServiceUnavailable,
	seckill.ReasonTimeout:        http.StatusServiceUnavailable,
	seckill.ReasonInternal:       http.StatusInternalServerError,
}

// MapDomainError turns an error into the status and body a client sees.
// Causes are never echoed back.
func MapDomainError(err error) (int, *ErrorResponse) {
	reason := seckill.ReasonFor(err)

	status, ok := reasonStatus[reason]
	if !ok {
		status = http.StatusInternalServerError
	}

	resp := &ErrorResponse{Error: string(reason)}
	if status == http.StatusServiceUnavailable {
		resp.Message = "outcome unknown, check purchase status before retrying"
	}

	return status, resp
}

func WriteDomainError(w http.ResponseWriter, err error) {
	statusCode, errorResponse := MapDomainError(err)
	if domainErrors.IsRetryable(err) {
		w.Header().Set("Retry-After", "1")
	}
	WriteJSON(w, statusCode, errorResponse)
}
