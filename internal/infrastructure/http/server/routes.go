package server

import (
	"net/http"

	"github.com/yuzvak/seckill-service/internal/infrastructure/http/middleware"
	"github.com/yuzvak/seckill-service/internal/infrastructure/monitoring"
)

func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	monitoring.RegisterMetricsEndpoint(mux)

	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth())

	mux.HandleFunc("POST /seckill/{productId}/{userId}", s.purchaseHandler.HandlePurchase())
	mux.HandleFunc("GET /seckill/{productId}/{userId}", s.purchaseHandler.HandleStatus())

	mux.HandleFunc("POST /admin/reconcile/flush", s.adminHandler.HandleFlush)
	mux.HandleFunc("POST /admin/products/{productId}/seed", s.adminHandler.HandleSeed)
	mux.HandleFunc("PUT /admin/products/{productId}", s.adminHandler.HandleRestock)
	mux.HandleFunc("GET /admin/products/{productId}", s.adminHandler.HandleInspect)

	handler := middleware.NewRecoveryMiddleware(s.logger)(mux)
	handler = middleware.NewTimeoutMiddleware(s.requestTimeout)(handler)
	handler = middleware.NewLoggingMiddleware(s.logger)(handler)
	handler = monitoring.WrapHandler(handler)
	handler = middleware.NewTracingMiddleware()(handler)

	return handler
}
