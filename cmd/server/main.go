package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/yuzvak/seckill-service/internal/application/use_cases"
	"github.com/yuzvak/seckill-service/internal/config"
	"github.com/yuzvak/seckill-service/internal/infrastructure/http/server"
	"github.com/yuzvak/seckill-service/internal/infrastructure/monitoring"
	"github.com/yuzvak/seckill-service/internal/infrastructure/persistence/postgres"
	"github.com/yuzvak/seckill-service/internal/infrastructure/persistence/redis"
	"github.com/yuzvak/seckill-service/internal/infrastructure/scheduler"
	"github.com/yuzvak/seckill-service/internal/infrastructure/tracing"
	"github.com/yuzvak/seckill-service/internal/pkg/clock"
	"github.com/yuzvak/seckill-service/internal/pkg/generator"
	"github.com/yuzvak/seckill-service/internal/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.json", "Path to configuration file")
	flag.Parse()

	bootLog := logger.NewLogger()

	cfg, configErr := config.LoadConfig(*configPath)
	if configErr != nil {
		bootLog.Fatal("Failed to load configuration", "error", configErr)
	}

	log := logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	log.Info("Starting seckill service", "combined_script", cfg.Purchase.CombinedScript)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		log.Fatal("Failed to initialise tracing", "error", err)
	}

	db, dbErr := postgres.NewConnection(ctx, cfg.Database)
	if dbErr != nil {
		log.Fatal("Failed to connect to database", "error", dbErr)
	}
	defer db.Close()

	if migrationErr := postgres.RunMigrations(ctx, db, cfg.Database.MigrationsPath, log); migrationErr != nil {
		log.Fatal("Failed to run migrations", "error", migrationErr)
	}

	redisConn, err := redis.NewConnection(ctx, cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect to Redis", "error", err)
	}
	defer redisConn.Close()

	dbMetricsCollector := monitoring.NewDBMetricsCollector(db.GetDB())
	dbMetricsCollector.StartCollecting(ctx, 30*time.Second)

	stockRepo := postgres.NewStockRepository(db)
	inventory := redis.NewInventoryCache(redisConn)
	ledger := redis.NewPurchaseLedger(redisConn)
	pending := redis.NewPendingLog(redisConn)

	reconcile := use_cases.NewReconcileUseCase(stockRepo, inventory, pending, log, use_cases.ReconcileOptions{
		BatchSize:    cfg.Reconcile.BatchSize,
		LeaseTimeout: cfg.Reconcile.LeaseTimeout.Duration,
		SeedTimeout:  cfg.Reconcile.SeedTimeout.Duration,
	})
	purchase := use_cases.NewPurchaseUseCase(
		inventory,
		ledger,
		reconcile,
		clock.NewRealClock(),
		generator.NewUUIDGenerator(),
		log,
		cfg.Purchase,
		cfg.Redis.OpTimeout.Duration,
	)

	if cfg.Reconcile.WarmOnStart {
		seeded, warmErr := reconcile.Warm(ctx)
		if warmErr != nil {
			// products left unseeded are seeded lazily on first purchase
			log.Warn("Cache warm-up incomplete", "seeded", seeded, "error", warmErr)
		} else {
			log.Info("Cache warmed", "products", seeded)
		}
	}

	flushScheduler := scheduler.NewFlushScheduler(reconcile, cfg.Reconcile.Workers, cfg.Reconcile.Interval.Duration, log)
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		if err := flushScheduler.Start(ctx); err != nil {
			log.Error("Flush scheduler failed", "error", err)
		}
	}()

	httpServer := server.NewServer(cfg.Server, server.Dependencies{
		DB:         db.GetDB(),
		Redis:      redisConn.GetClient(),
		Purchase:   purchase,
		Reconciler: reconcile,
	}, log)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		log.Info("Shutting down server...")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("Server shutdown error", "error", err)
		}
	}()

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("Server failed", "error", err)
		stop()
	}

	<-ctx.Done()

	// workers run a final drain before returning; anything left stays in the pending log
	flushScheduler.Stop()
	<-schedulerDone

	tracingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(tracingCtx); err != nil {
		log.Warn("Tracing shutdown error", "error", err)
	}

	log.Info("Server stopped")
}
