package commands

import (
	"context"

	"github.com/yuzvak/seckill-service/internal/domain/seckill"
	"github.com/yuzvak/seckill-service/internal/pkg/logger"
)

// Purchaser is satisfied by use_cases.PurchaseUseCase.
type Purchaser interface {
	Purchase(ctx context.Context, userID, productID string, quantity int) (*seckill.PurchaseResult, error)
}

type PurchaseCommand struct {
	UserID    string
	ProductID string
	Quantity  int
}

type PurchaseResponse struct {
	Success bool   `json:"success"`
	Replay  bool   `json:"replay,omitempty"`
	GrantID string `json:"grant_id,omitempty"`
}

type PurchaseHandler struct {
	purchaseUseCase Purchaser
	log             *logger.Logger
}

func NewPurchaseHandler(
	purchaseUseCase Purchaser,
	log *logger.Logger,
) *PurchaseHandler {
	return &PurchaseHandler{
		purchaseUseCase: purchaseUseCase,
		log:             log,
	}
}

func (h *PurchaseHandler) Handle(ctx context.Context, cmd PurchaseCommand) (*PurchaseResponse, error) {
	h.log.Debug("Processing purchase request",
		"user_id", cmd.UserID,
		"product_id", cmd.ProductID,
		"quantity", cmd.Quantity,
	)

	result, err := h.purchaseUseCase.Purchase(ctx, cmd.UserID, cmd.ProductID, cmd.Quantity)
	if err != nil {
		return nil, err
	}

	return &PurchaseResponse{
		Success: true,
		Replay:  result.Replay,
		GrantID: result.Grant.ID,
	}, nil
}
