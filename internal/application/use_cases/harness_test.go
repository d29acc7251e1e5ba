package use_cases

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yuzvak/seckill-service/internal/config"
	redisstore "github.com/yuzvak/seckill-service/internal/infrastructure/persistence/redis"
	"github.com/yuzvak/seckill-service/internal/pkg/clock"
	"github.com/yuzvak/seckill-service/internal/pkg/generator"
	"github.com/yuzvak/seckill-service/internal/pkg/logger"
)

type harness struct {
	mr        *miniredis.Miniredis
	client    *goredis.Client
	stock     *memoryStock
	cache     *redisstore.InventoryCache
	ledger    *redisstore.PurchaseLedger
	pending   *redisstore.PendingLog
	purchase  *PurchaseUseCase
	reconcile *ReconcileUseCase
}

func testPurchaseConfig(combined bool) config.PurchaseConfig {
	return config.PurchaseConfig{
		DefaultUserLimit: 1,
		ProductLimits:    map[string]int{"bulk": 3},
		ClaimTTL:         config.Duration{Duration: 30 * time.Second},
		CombinedScript:   combined,
	}
}

func newHarness(t *testing.T, cfg config.PurchaseConfig, durable map[string]int64) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1, PoolSize: 64})
	t.Cleanup(func() { _ = client.Close() })

	conn := redisstore.NewConnectionFromClient(client)
	h := &harness{
		mr:      mr,
		client:  client,
		stock:   newMemoryStock(durable),
		cache:   redisstore.NewInventoryCache(conn),
		ledger:  redisstore.NewPurchaseLedger(conn),
		pending: redisstore.NewPendingLog(conn),
	}

	log := logger.Nop()
	h.reconcile = NewReconcileUseCase(h.stock, h.cache, h.pending, log, ReconcileOptions{
		BatchSize:    10,
		LeaseTimeout: time.Minute,
	})
	h.purchase = NewPurchaseUseCase(h.cache, h.ledger, h.reconcile,
		clock.NewMockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		generator.NewSequenceGenerator("g"),
		log, cfg, time.Second)

	return h
}

// cacheStockKey mirrors the counter key layout of the redis adapter.
func cacheStockKey(productID string) string {
	return "seckill:{" + productID + "}:stock"
}
