package handlers

import (
	"net/http"
	"strconv"

	"github.com/yuzvak/seckill-service/internal/application/commands"
	"github.com/yuzvak/seckill-service/internal/domain/seckill"
	"github.com/yuzvak/seckill-service/internal/infrastructure/http/response"
	"github.com/yuzvak/seckill-service/internal/pkg/logger"
)

type PurchaseHandler struct {
	purchase *commands.PurchaseHandler
	status   *commands.StatusHandler
	log      *logger.Logger
}

func NewPurchaseHandler(
	purchaser commands.Purchaser,
	statusReader commands.StatusReader,
	log *logger.Logger,
) *PurchaseHandler {
	return &PurchaseHandler{
		purchase: commands.NewPurchaseHandler(purchaser, log),
		status:   commands.NewStatusHandler(statusReader),
		log:      log,
	}
}

// HandlePurchase serves POST /seckill/{productId}/{userId}?quantity=n.
func (h *PurchaseHandler) HandlePurchase() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cmd := commands.PurchaseCommand{
			UserID:    r.PathValue("userId"),
			ProductID: r.PathValue("productId"),
			Quantity:  1,
		}

		if raw := r.URL.Query().Get("quantity"); raw != "" {
			q, err := strconv.Atoi(raw)
			if err != nil {
				response.WriteValidationError(w, string(seckill.ReasonInvalidRequest), map[string]string{
					"quantity": "quantity must be an integer",
				})
				return
			}
			cmd.Quantity = q
		}

		resp, err := h.purchase.Handle(r.Context(), cmd)
		if err != nil {
			h.log.Debug("Purchase denied",
				"user_id", cmd.UserID,
				"product_id", cmd.ProductID,
				"reason", string(seckill.ReasonFor(err)),
			)
			response.WriteDomainError(w, err)
			return
		}

		response.WriteSuccess(w, resp)
	}
}

// HandleStatus serves GET /seckill/{productId}/{userId}.
func (h *PurchaseHandler) HandleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := h.status.Handle(r.Context(), commands.StatusQuery{
			UserID:    r.PathValue("userId"),
			ProductID: r.PathValue("productId"),
		})
		if err != nil {
			response.WriteDomainError(w, err)
			return
		}

		if !resp.Granted {
			response.WriteJSON(w, http.StatusNotFound, resp)
			return
		}

		response.WriteSuccess(w, resp)
	}
}
