package use_cases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/yuzvak/seckill-service/internal/application/ports"
	domainErrors "github.com/yuzvak/seckill-service/internal/domain/errors"
	"github.com/yuzvak/seckill-service/internal/domain/seckill"
	"github.com/yuzvak/seckill-service/internal/infrastructure/monitoring"
	"github.com/yuzvak/seckill-service/internal/pkg/logger"
)

type ReconcileOptions struct {
	BatchSize    int
	LeaseTimeout time.Duration
	// SeedTimeout bounds a shared seed, which outlives the request that started it.
	SeedTimeout time.Duration
}

const defaultSeedTimeout = 5 * time.Second

// ReconcileUseCase owns every write to the durable store. It seeds the
// cache from durable stock and flushes the pending log into it.
type ReconcileUseCase struct {
	stock   ports.StockRepository
	cache   ports.InventoryCache
	pending ports.PendingLog
	log     *logger.Logger
	tracer  trace.Tracer

	seeds singleflight.Group

	batchSize    int
	leaseTimeout time.Duration
	seedTimeout  time.Duration
}

func NewReconcileUseCase(
	stock ports.StockRepository,
	cache ports.InventoryCache,
	pending ports.PendingLog,
	log *logger.Logger,
	opts ReconcileOptions,
) *ReconcileUseCase {
	if opts.SeedTimeout <= 0 {
		opts.SeedTimeout = defaultSeedTimeout
	}

	return &ReconcileUseCase{
		stock:        stock,
		cache:        cache,
		pending:      pending,
		log:          log,
		tracer:       tracer(),
		batchSize:    opts.BatchSize,
		leaseTimeout: opts.LeaseTimeout,
		seedTimeout:  opts.SeedTimeout,
	}
}

// Seed initialises the cached counter from durable stock if it is absent.
// Concurrent seeds for one product in this process share a single attempt;
// across processes the conditional set keeps the first seed. The shared
// attempt is not tied to any one caller, so a caller giving up does not
// fail the others.
func (uc *ReconcileUseCase) Seed(ctx context.Context, productID string) error {
	ch := uc.seeds.DoChan(productID, func() (interface{}, error) {
		seedCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uc.seedTimeout)
		defer cancel()
		return nil, uc.seed(seedCtx, productID, false)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reseed overwrites the cached counter from durable stock. Purchases that
// decremented but have not been recorded yet are not accounted for, so it
// is meant for replenishment while the product is quiet.
func (uc *ReconcileUseCase) Reseed(ctx context.Context, productID string) (*seckill.ProductInventory, error) {
	if err := uc.seed(ctx, productID, true); err != nil {
		return nil, err
	}
	return uc.cache.Inventory(ctx, productID)
}

// Restock sets durable stock after external replenishment and reseeds.
// Stock below the quantity still waiting to be flushed is refused, since
// those grants could then never be written.
func (uc *ReconcileUseCase) Restock(ctx context.Context, productID string, stock int64) (*seckill.ProductInventory, error) {
	if err := seckill.ValidateID("product id", productID); err != nil {
		return nil, err
	}

	if stock < 0 {
		return nil, domainErrors.ErrInvalidQuantity
	}

	inv, err := uc.cache.Inventory(ctx, productID)
	if err != nil {
		return nil, err
	}
	if stock < inv.PendingQty {
		return nil, fmt.Errorf("%w: stock %d for %s is below %d granted and not yet flushed",
			domainErrors.ErrInvalidQuantity, stock, productID, inv.PendingQty)
	}

	if err := uc.stock.SetStock(ctx, productID, stock); err != nil {
		return nil, fmt.Errorf("set stock for %s: %w", productID, err)
	}

	uc.log.Info("Product restocked", "product_id", productID, "stock", stock)

	return uc.Reseed(ctx, productID)
}

func (uc *ReconcileUseCase) seed(ctx context.Context, productID string, force bool) error {
	ctx, span := uc.tracer.Start(ctx, "ReconcileUseCase.Seed", trace.WithAttributes(
		attribute.String("product_id", productID),
		attribute.Bool("force", force),
	))
	defer span.End()

	err := uc.stock.LockStock(ctx, productID, func(stock int64) error {
		if force {
			if err := uc.cache.Reseed(ctx, productID, stock); err != nil {
				return err
			}
			monitoring.RecordSeed("reseeded")
			uc.log.Info("Cache reseeded", "product_id", productID, "durable_stock", stock)
			return nil
		}

		applied, err := uc.cache.Seed(ctx, productID, stock)
		if err != nil {
			return err
		}

		if applied {
			monitoring.RecordSeed("applied")
			uc.log.Info("Cache seeded", "product_id", productID, "durable_stock", stock)
		} else {
			monitoring.RecordSeed("skipped")
			uc.log.Debug("Cache already seeded", "product_id", productID)
		}
		return nil
	})
	if err != nil {
		monitoring.RecordSeed("error")
		span.RecordError(err)
		if !errors.Is(err, domainErrors.ErrProductNotFound) {
			span.SetStatus(codes.Error, "seed failed")
			uc.log.Error("Failed to seed cache", "product_id", productID, "error", err)
		}
		return err
	}

	return nil
}

// Warm seeds every durable product. It returns the number seeded without error.
func (uc *ReconcileUseCase) Warm(ctx context.Context) (int, error) {
	ids, err := uc.stock.ListProductIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list products: %w", err)
	}

	var errs []error
	seeded := 0
	for _, id := range ids {
		if err := uc.Seed(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("seed %s: %w", id, err))
			continue
		}
		seeded++
	}

	uc.log.Info("Cache warmed", "products", len(ids), "seeded", seeded)

	return seeded, errors.Join(errs...)
}

// Flush moves one batch from the pending log into the durable store.
// Entries are acked only after the durable transaction committed; on a
// transient failure they stay leased to consumer and are retried. A batch
// the store refuses on its data is split until the refused entries are
// isolated and dead-lettered, so they cannot hold back the rest.
func (uc *ReconcileUseCase) Flush(ctx context.Context, consumer string) (*seckill.FlushResult, error) {
	ctx, span := uc.tracer.Start(ctx, "ReconcileUseCase.Flush", trace.WithAttributes(
		attribute.String("consumer", consumer),
	))
	defer span.End()

	result := &seckill.FlushResult{}

	entries, err := uc.pending.Claim(ctx, consumer, uc.batchSize, uc.leaseTimeout)
	if err != nil {
		span.RecordError(err)
		return result, fmt.Errorf("claim pending: %w", err)
	}

	result.Claimed = len(entries)
	if len(entries) == 0 {
		return result, nil
	}

	defer monitoring.TimeReconcile()()

	if err := uc.flushEntries(ctx, consumer, entries, result); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "flush failed")
		return result, err
	}

	span.SetAttributes(attribute.Int("dead_lettered", result.DeadLettered))
	uc.log.Info("Flushed pending grants",
		"consumer", consumer,
		"claimed", result.Claimed,
		"inserted", result.Inserted,
		"duplicates", result.Duplicates,
		"acked", result.Acked,
		"dead_lettered", result.DeadLettered,
	)

	return result, nil
}

func (uc *ReconcileUseCase) flushEntries(ctx context.Context, consumer string, entries []seckill.PendingEntry, result *seckill.FlushResult) error {
	grants := make([]seckill.PurchaseGrant, 0, len(entries))
	for _, e := range entries {
		grants = append(grants, e.Grant)
	}

	applied, err := uc.stock.ApplyGrants(ctx, grants)
	if err != nil {
		if !errors.Is(err, domainErrors.ErrDurableWriteFailure) {
			err = fmt.Errorf("%w: %w", domainErrors.ErrDurableWriteFailure, err)
		}

		totals := seckill.TotalsByProduct(grants)
		if !errors.Is(err, domainErrors.ErrGrantRejected) {
			monitoring.RecordFlush(0, 0, err)
			uc.log.Error("Flush batch failed", "consumer", consumer, "entries", len(entries), "quantities", totals, "error", err)
			return err
		}

		if len(entries) == 1 {
			return uc.deadLetter(ctx, consumer, entries[0], err, result)
		}

		uc.log.Warn("Durable store rejected batch, splitting", "consumer", consumer, "entries", len(entries), "quantities", totals, "error", err)
		mid := len(entries) / 2
		if err := uc.flushEntries(ctx, consumer, entries[:mid], result); err != nil {
			return err
		}
		return uc.flushEntries(ctx, consumer, entries[mid:], result)
	}

	result.Inserted += applied.Inserted
	result.Duplicates += applied.Duplicates
	monitoring.RecordFlush(applied.Inserted, applied.Duplicates, nil)

	if applied.Duplicates > 0 {
		uc.log.Warn("Skipped grants already in durable store", "consumer", consumer, "duplicates", applied.Duplicates)
	}

	acked, err := uc.pending.Ack(ctx, entries)
	if err != nil {
		// committed but not acked; the next claim redelivers and the
		// durable write skips them as duplicates
		uc.log.Error("Failed to ack flushed entries", "consumer", consumer, "entries", len(entries), "error", err)
		return fmt.Errorf("ack pending: %w", err)
	}
	result.Acked += acked

	return nil
}

func (uc *ReconcileUseCase) deadLetter(ctx context.Context, consumer string, entry seckill.PendingEntry, cause error, result *seckill.FlushResult) error {
	moved, err := uc.pending.DeadLetter(ctx, []seckill.PendingEntry{entry}, cause.Error())
	if err != nil {
		uc.log.Error("Failed to dead-letter rejected grant", "consumer", consumer, "grant_id", entry.Grant.ID, "error", err)
		return fmt.Errorf("dead-letter pending: %w", err)
	}

	result.DeadLettered += moved
	monitoring.RecordDeadLettered(moved)
	uc.log.Error("Grant rejected by durable store, dead-lettered",
		"consumer", consumer,
		"entry_id", entry.EntryID,
		"grant_id", entry.Grant.ID,
		"user_id", entry.Grant.UserID,
		"product_id", entry.Grant.ProductID,
		"quantity", entry.Grant.Quantity,
		"error", cause,
	)

	return nil
}

// FlushAll keeps flushing until a batch comes back short.
func (uc *ReconcileUseCase) FlushAll(ctx context.Context, consumer string) (*seckill.FlushResult, error) {
	total := &seckill.FlushResult{}

	for {
		res, err := uc.Flush(ctx, consumer)
		total.Claimed += res.Claimed
		total.Inserted += res.Inserted
		total.Duplicates += res.Duplicates
		total.Acked += res.Acked
		total.DeadLettered += res.DeadLettered
		if err != nil {
			return total, err
		}

		if res.Claimed < uc.batchSize {
			return total, nil
		}

		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

func (uc *ReconcileUseCase) Backlog(ctx context.Context) (int64, error) {
	n, err := uc.pending.Backlog(ctx)
	if err != nil {
		return 0, err
	}
	monitoring.UpdatePendingBacklog(n)

	dead, err := uc.pending.DeadLetters(ctx)
	if err != nil {
		return 0, err
	}
	monitoring.UpdatePendingDeadLetters(dead)

	return n, nil
}

// ProductView is the admin view of one product across both tiers.
type ProductView struct {
	seckill.ProductInventory
	DurableStock int64 `json:"durable_stock"`
}

func (uc *ReconcileUseCase) Inspect(ctx context.Context, productID string) (*ProductView, error) {
	durable, err := uc.stock.GetStock(ctx, productID)
	if err != nil {
		return nil, err
	}

	inv, err := uc.cache.Inventory(ctx, productID)
	if err != nil {
		return nil, err
	}

	return &ProductView{ProductInventory: *inv, DurableStock: durable}, nil
}
