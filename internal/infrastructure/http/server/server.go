package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yuzvak/seckill-service/internal/application/commands"
	"github.com/yuzvak/seckill-service/internal/config"
	"github.com/yuzvak/seckill-service/internal/infrastructure/http/handlers"
	"github.com/yuzvak/seckill-service/internal/pkg/logger"
)

// PurchaseService is what the public seckill routes need.
type PurchaseService interface {
	commands.Purchaser
	commands.StatusReader
}

type Dependencies struct {
	DB         *sql.DB
	Redis      *redis.Client
	Purchase   PurchaseService
	Reconciler handlers.Reconciler
}

type Server struct {
	server          *http.Server
	logger          *logger.Logger
	requestTimeout  time.Duration
	healthHandler   *handlers.HealthHandler
	purchaseHandler *handlers.PurchaseHandler
	adminHandler    *handlers.AdminHandler
}

func NewServer(cfg config.ServerConfig, deps Dependencies, logger *logger.Logger) *Server {
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		server:          server,
		logger:          logger,
		requestTimeout:  cfg.RequestTimeout.Duration,
		healthHandler:   handlers.NewHealthHandler(deps.DB, deps.Redis, deps.Reconciler, logger),
		purchaseHandler: handlers.NewPurchaseHandler(deps.Purchase, deps.Purchase, logger),
		adminHandler:    handlers.NewAdminHandler(deps.Reconciler, logger),
	}
}

// Handler exposes the fully wrapped router.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

func (s *Server) ListenAndServe() error {
	s.server.Handler = s.setupRoutes()

	s.logger.Info("Starting HTTP server", "address", s.server.Addr)

	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
