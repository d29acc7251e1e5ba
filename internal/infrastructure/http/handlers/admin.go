package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/yuzvak/seckill-service/internal/application/use_cases"
	"github.com/yuzvak/seckill-service/internal/domain/seckill"
	"github.com/yuzvak/seckill-service/internal/infrastructure/http/response"
	"github.com/yuzvak/seckill-service/internal/pkg/logger"
)

// AdminConsumer is the pending-log consumer name used by on-demand flushes.
const AdminConsumer = "admin"

// Reconciler is the operator surface of use_cases.ReconcileUseCase.
type Reconciler interface {
	FlushAll(ctx context.Context, consumer string) (*seckill.FlushResult, error)
	Reseed(ctx context.Context, productID string) (*seckill.ProductInventory, error)
	Restock(ctx context.Context, productID string, stock int64) (*seckill.ProductInventory, error)
	Inspect(ctx context.Context, productID string) (*use_cases.ProductView, error)
	Backlog(ctx context.Context) (int64, error)
}

type AdminHandler struct {
	reconciler Reconciler
	logger     *logger.Logger
}

func NewAdminHandler(reconciler Reconciler, logger *logger.Logger) *AdminHandler {
	return &AdminHandler{
		reconciler: reconciler,
		logger:     logger,
	}
}

type FlushResponse struct {
	Claimed      int   `json:"claimed"`
	Inserted     int   `json:"inserted"`
	Duplicates   int   `json:"duplicates"`
	Acked        int   `json:"acked"`
	DeadLettered int   `json:"dead_lettered"`
	Backlog      int64 `json:"backlog"`
}

type RestockRequest struct {
	Stock *int64 `json:"stock"`
}

type ProductResponse struct {
	*use_cases.ProductView
	Backlog int64 `json:"backlog"`
}

func (h *AdminHandler) HandleFlush(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	result, err := h.reconciler.FlushAll(ctx, AdminConsumer)
	if err != nil {
		h.logger.Error("Admin flush failed", "error", err)
		response.WriteDomainError(w, err)
		return
	}

	backlog, err := h.reconciler.Backlog(ctx)
	if err != nil {
		response.WriteDomainError(w, err)
		return
	}

	h.logger.Info("Admin flush completed",
		"inserted", result.Inserted,
		"duplicates", result.Duplicates,
		"dead_lettered", result.DeadLettered,
		"backlog", backlog,
	)

	response.WriteSuccess(w, FlushResponse{
		Claimed:      result.Claimed,
		Inserted:     result.Inserted,
		Duplicates:   result.Duplicates,
		Acked:        result.Acked,
		DeadLettered: result.DeadLettered,
		Backlog:      backlog,
	})
}

func (h *AdminHandler) HandleSeed(w http.ResponseWriter, r *http.Request) {
	productID := r.PathValue("productId")

	inv, err := h.reconciler.Reseed(r.Context(), productID)
	if err != nil {
		h.logger.Error("Reseed failed", "product_id", productID, "error", err)
		response.WriteDomainError(w, err)
		return
	}

	h.logger.Info("Product reseeded", "product_id", productID, "cached_stock", inv.CachedStock)
	response.WriteSuccess(w, inv)
}

func (h *AdminHandler) HandleRestock(w http.ResponseWriter, r *http.Request) {
	productID := r.PathValue("productId")

	var req RestockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.Stock == nil {
		response.WriteValidationError(w, "invalid_request", map[string]string{
			"stock": "stock is required",
		})
		return
	}

	inv, err := h.reconciler.Restock(r.Context(), productID, *req.Stock)
	if err != nil {
		h.logger.Error("Restock failed", "product_id", productID, "error", err)
		response.WriteDomainError(w, err)
		return
	}

	h.logger.Info("Product restocked", "product_id", productID, "stock", *req.Stock)
	response.WriteSuccess(w, inv)
}

func (h *AdminHandler) HandleInspect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	view, err := h.reconciler.Inspect(ctx, r.PathValue("productId"))
	if err != nil {
		response.WriteDomainError(w, err)
		return
	}

	backlog, err := h.reconciler.Backlog(ctx)
	if err != nil {
		response.WriteDomainError(w, err)
		return
	}

	response.WriteSuccess(w, ProductResponse{ProductView: view, Backlog: backlog})
}
