package commands

import (
	"context"
	"errors"

	domainErrors "github.com/yuzvak/seckill-service/internal/domain/errors"
	"github.com/yuzvak/seckill-service/internal/domain/seckill"
)

type StatusReader interface {
	Status(ctx context.Context, userID, productID string) (*seckill.PurchaseGrant, error)
}

type StatusQuery struct {
	UserID    string
	ProductID string
}

type StatusResponse struct {
	Granted bool                   `json:"granted"`
	Grant   *seckill.PurchaseGrant `json:"grant,omitempty"`
}

type StatusHandler struct {
	purchaseUseCase StatusReader
}

func NewStatusHandler(purchaseUseCase StatusReader) *StatusHandler {
	return &StatusHandler{purchaseUseCase: purchaseUseCase}
}

// Handle reports whether the user holds a grant. No grant is not an error.
func (h *StatusHandler) Handle(ctx context.Context, q StatusQuery) (*StatusResponse, error) {
	grant, err := h.purchaseUseCase.Status(ctx, q.UserID, q.ProductID)
	if errors.Is(err, domainErrors.ErrGrantNotFound) {
		return &StatusResponse{Granted: false}, nil
	}
	if err != nil {
		return nil, err
	}

	return &StatusResponse{Granted: true, Grant: grant}, nil
}
