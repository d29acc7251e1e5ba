package ports

import (
	"context"

	"github.com/yuzvak/seckill-service/internal/domain/seckill"
)

// StockRepository is the durable system of record. Only the reconciliation
// path writes to it.
type StockRepository interface {
	GetStock(ctx context.Context, productID string) (int64, error)
	ListProductIDs(ctx context.Context) ([]string, error)
	// SetStock creates a product row or overwrites its stock after external replenishment.
	SetStock(ctx context.Context, productID string, stock int64) error
	// LockStock runs fn with the product's durable stock while holding the
	// row lock, so no flush for that product commits in between.
	LockStock(ctx context.Context, productID string, fn func(stock int64) error) error
	// ApplyGrants writes grants idempotently and decrements stock by the
	// quantity of newly inserted grants, in one transaction.
	ApplyGrants(ctx context.Context, grants []seckill.PurchaseGrant) (*seckill.ApplyResult, error)
	GrantsByIDs(ctx context.Context, ids []string) ([]seckill.PurchaseGrant, error)
}
