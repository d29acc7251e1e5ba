package ports

import (
	"context"
	"time"

	"github.com/yuzvak/seckill-service/internal/domain/seckill"
)

// InventoryCache holds the live stock counter per product. Every mutation
// is a single script evaluated by the cache server.
type InventoryCache interface {
	TryDecrement(ctx context.Context, productID string, quantity int) (seckill.DecrementResult, error)
	// Seed sets the counter only when it is absent. It reports whether it applied.
	Seed(ctx context.Context, productID string, durableStock int64) (bool, error)
	// Reseed overwrites the counter after external replenishment.
	Reseed(ctx context.Context, productID string, durableStock int64) error
	Inventory(ctx context.Context, productID string) (*seckill.ProductInventory, error)
}

// PurchaseLedger tracks per-user markers. A claim is owned by the grant ID
// that placed it; release and record only act on the owner's claim.
type PurchaseLedger interface {
	TryClaim(ctx context.Context, userID, productID, grantID string, ttl time.Duration) (seckill.ClaimResult, error)
	// Release removes a claim that never became a grant. It is a no-op otherwise.
	Release(ctx context.Context, userID, productID, grantID string) (bool, error)
	// RecordGrant turns the claim into a grant and appends it to the pending
	// log. When the claim was lost to another request the decremented
	// quantity is returned to the counter and false is reported.
	RecordGrant(ctx context.Context, grant *seckill.PurchaseGrant, markerTTL time.Duration) (bool, error)
	Grant(ctx context.Context, userID, productID string) (*seckill.PurchaseGrant, error)
	// PurchaseAtomically performs claim, decrement and record in one script.
	PurchaseAtomically(ctx context.Context, grant *seckill.PurchaseGrant, markerTTL time.Duration) (seckill.AtomicPurchaseResult, error)
}

// PendingLog is the set of grants not yet confirmed in the durable store.
type PendingLog interface {
	// Claim leases up to count entries to consumer. Entries whose lease is
	// older than leaseTimeout are taken over from other consumers.
	Claim(ctx context.Context, consumer string, count int, leaseTimeout time.Duration) ([]seckill.PendingEntry, error)
	// Ack removes entries after their durable write committed.
	Ack(ctx context.Context, entries []seckill.PendingEntry) (int, error)
	// DeadLetter parks entries the durable store will never accept. Their
	// quantity stays counted as pending.
	DeadLetter(ctx context.Context, entries []seckill.PendingEntry, reason string) (int, error)
	DeadLetters(ctx context.Context) (int64, error)
	Backlog(ctx context.Context) (int64, error)
}
