package use_cases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yuzvak/seckill-service/internal/application/ports"
	"github.com/yuzvak/seckill-service/internal/config"
	domainErrors "github.com/yuzvak/seckill-service/internal/domain/errors"
	"github.com/yuzvak/seckill-service/internal/domain/seckill"
	"github.com/yuzvak/seckill-service/internal/infrastructure/monitoring"
	"github.com/yuzvak/seckill-service/internal/pkg/clock"
	"github.com/yuzvak/seckill-service/internal/pkg/generator"
	"github.com/yuzvak/seckill-service/internal/pkg/logger"
)

// Seeder populates a missing cache counter from the durable store.
type Seeder interface {
	Seed(ctx context.Context, productID string) error
}

type PurchaseUseCase struct {
	cache  ports.InventoryCache
	ledger ports.PurchaseLedger
	seeder Seeder
	clock  clock.Clock
	ids    generator.IDGenerator
	log    *logger.Logger
	tracer trace.Tracer

	cfg       config.PurchaseConfig
	opTimeout time.Duration
}

func NewPurchaseUseCase(
	cache ports.InventoryCache,
	ledger ports.PurchaseLedger,
	seeder Seeder,
	clk clock.Clock,
	ids generator.IDGenerator,
	log *logger.Logger,
	cfg config.PurchaseConfig,
	opTimeout time.Duration,
) *PurchaseUseCase {
	return &PurchaseUseCase{
		cache:     cache,
		ledger:    ledger,
		seeder:    seeder,
		clock:     clk,
		ids:       ids,
		log:       log,
		tracer:    tracer(),
		cfg:       cfg,
		opTimeout: opTimeout,
	}
}

func (uc *PurchaseUseCase) mode() string {
	if uc.cfg.CombinedScript {
		return "combined"
	}
	return "stepwise"
}

// Purchase decides one request. A nil error means the user holds a grant,
// either new or from an earlier request (Replay). Any cache failure is
// reported as ErrCacheUnavailable without a grant: callers must check
// Status before retrying.
func (uc *PurchaseUseCase) Purchase(ctx context.Context, userID, productID string, quantity int) (*seckill.PurchaseResult, error) {
	ctx, span := uc.tracer.Start(ctx, "PurchaseUseCase.Purchase", trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.String("product_id", productID),
		attribute.Int("quantity", quantity),
		attribute.String("mode", uc.mode()),
	))
	defer span.End()

	metrics := monitoring.NewPurchaseMetrics(uc.mode())

	result, err := uc.purchase(ctx, userID, productID, quantity)
	if err != nil {
		reason := seckill.ReasonFor(err)
		metrics.RecordDenied(string(reason))
		span.SetAttributes(attribute.String("deny_reason", string(reason)))

		switch reason {
		case seckill.ReasonDuplicate, seckill.ReasonOutOfStock, seckill.ReasonInvalidRequest, seckill.ReasonInvalidID, seckill.ReasonNotFound:
			uc.log.Info("Purchase denied", "user_id", userID, "product_id", productID, "reason", reason)
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, string(reason))
			uc.log.Error("Purchase failed", "user_id", userID, "product_id", productID, "reason", reason, "error", err)
		}
		return nil, err
	}

	metrics.RecordGranted(result.Replay)
	span.SetAttributes(attribute.Bool("replay", result.Replay))
	uc.log.Debug("Purchase granted",
		"user_id", userID,
		"product_id", productID,
		"grant_id", result.Grant.ID,
		"replay", result.Replay,
	)

	return result, nil
}

func (uc *PurchaseUseCase) purchase(ctx context.Context, userID, productID string, quantity int) (*seckill.PurchaseResult, error) {
	if quantity > uc.cfg.UserLimit(productID) {
		return nil, domainErrors.ErrQuantityLimitExceeded
	}

	grant, err := seckill.NewPurchaseGrant(uc.ids.GrantID(), userID, productID, quantity, uc.clock.Now())
	if err != nil {
		return nil, err
	}

	if uc.cfg.CombinedScript {
		return uc.purchaseAtomically(ctx, grant)
	}
	return uc.purchaseStepwise(ctx, grant)
}

// purchaseStepwise claims the marker, decrements, then records the grant.
func (uc *PurchaseUseCase) purchaseStepwise(ctx context.Context, grant *seckill.PurchaseGrant) (*seckill.PurchaseResult, error) {
	claimCtx, cancel := context.WithTimeout(ctx, uc.opTimeout)
	claim, err := uc.ledger.TryClaim(claimCtx, grant.UserID, grant.ProductID, grant.ID, uc.cfg.ClaimTTL.Duration)
	cancel()
	if err != nil {
		return nil, err
	}

	if claim == seckill.ClaimAlreadyClaimed {
		return uc.replay(ctx, grant.UserID, grant.ProductID)
	}

	res, err := uc.decrement(ctx, grant.ProductID, grant.Quantity)
	if err != nil {
		if errors.Is(err, domainErrors.ErrNotSeeded) || errors.Is(err, domainErrors.ErrProductNotFound) {
			uc.release(ctx, grant)
		}
		// otherwise the decrement may have applied; the claim expires after claim_ttl
		return nil, err
	}

	if res == seckill.DecrementDenied {
		uc.release(ctx, grant)
		return nil, domainErrors.ErrOutOfStock
	}

	recordCtx, cancel := context.WithTimeout(ctx, uc.opTimeout)
	recorded, err := uc.ledger.RecordGrant(recordCtx, grant, uc.cfg.MarkerTTL.Duration)
	cancel()
	if err != nil {
		return nil, err
	}

	if !recorded {
		// our claim expired and another request for this user took over
		return nil, domainErrors.ErrDuplicateClaim
	}

	return &seckill.PurchaseResult{Grant: grant}, nil
}

// decrement seeds the counter and retries once when it is absent.
func (uc *PurchaseUseCase) decrement(ctx context.Context, productID string, quantity int) (seckill.DecrementResult, error) {
	for attempt := 0; ; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, uc.opTimeout)
		res, err := uc.cache.TryDecrement(opCtx, productID, quantity)
		cancel()
		if err != nil {
			return seckill.DecrementDenied, err
		}

		if res != seckill.DecrementNotSeeded {
			return res, nil
		}

		if attempt > 0 {
			return seckill.DecrementDenied, domainErrors.ErrNotSeeded
		}

		if err := uc.seed(ctx, productID); err != nil {
			return seckill.DecrementDenied, err
		}
	}
}

func (uc *PurchaseUseCase) seed(ctx context.Context, productID string) error {
	err := uc.seeder.Seed(ctx, productID)
	if err == nil || errors.Is(err, domainErrors.ErrProductNotFound) {
		return err
	}

	// the seed never touched a counter, so the outcome is not ambiguous
	return fmt.Errorf("%w: %w", domainErrors.ErrNotSeeded, err)
}

func (uc *PurchaseUseCase) release(ctx context.Context, grant *seckill.PurchaseGrant) {
	opCtx, cancel := context.WithTimeout(ctx, uc.opTimeout)
	defer cancel()

	if _, err := uc.ledger.Release(opCtx, grant.UserID, grant.ProductID, grant.ID); err != nil {
		uc.log.Warn("Failed to release claim, leaving it to expire",
			"user_id", grant.UserID,
			"product_id", grant.ProductID,
			"claim_ttl", uc.cfg.ClaimTTL.Duration.String(),
			"error", err,
		)
	}
}

func (uc *PurchaseUseCase) purchaseAtomically(ctx context.Context, grant *seckill.PurchaseGrant) (*seckill.PurchaseResult, error) {
	for attempt := 0; ; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, uc.opTimeout)
		res, err := uc.ledger.PurchaseAtomically(opCtx, grant, uc.cfg.MarkerTTL.Duration)
		cancel()
		if err != nil {
			return nil, err
		}

		switch res {
		case seckill.AtomicGranted:
			return &seckill.PurchaseResult{Grant: grant}, nil
		case seckill.AtomicAlreadyClaimed:
			return uc.replay(ctx, grant.UserID, grant.ProductID)
		case seckill.AtomicOutOfStock:
			return nil, domainErrors.ErrOutOfStock
		}

		if attempt > 0 {
			return nil, domainErrors.ErrNotSeeded
		}

		if err := uc.seed(ctx, grant.ProductID); err != nil {
			return nil, err
		}
	}
}

// replay answers a repeated request: an existing grant is returned as a
// success, anything else (an in-flight claim) is a duplicate.
func (uc *PurchaseUseCase) replay(ctx context.Context, userID, productID string) (*seckill.PurchaseResult, error) {
	grant, err := uc.status(ctx, userID, productID)
	if errors.Is(err, domainErrors.ErrGrantNotFound) {
		return nil, domainErrors.ErrDuplicateClaim
	}
	if err != nil {
		return nil, err
	}

	return &seckill.PurchaseResult{Grant: grant, Replay: true}, nil
}

// Status is the idempotent check a client makes before retrying a
// purchase whose outcome it did not observe.
func (uc *PurchaseUseCase) Status(ctx context.Context, userID, productID string) (*seckill.PurchaseGrant, error) {
	ctx, span := uc.tracer.Start(ctx, "PurchaseUseCase.Status", trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.String("product_id", productID),
	))
	defer span.End()

	return uc.status(ctx, userID, productID)
}

func (uc *PurchaseUseCase) status(ctx context.Context, userID, productID string) (*seckill.PurchaseGrant, error) {
	opCtx, cancel := context.WithTimeout(ctx, uc.opTimeout)
	defer cancel()

	return uc.ledger.Grant(opCtx, userID, productID)
}
