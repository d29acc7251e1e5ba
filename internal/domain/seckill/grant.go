package seckill

import (
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/yuzvak/seckill-service/internal/domain/errors"
)

// MaxIDLength bounds user and product ids to what the durable columns hold.
const MaxIDLength = 64

// ValidateID rejects ids the durable store could never accept.
func ValidateID(field, id string) error {
	if id == "" {
		return fmt.Errorf("%w: %s cannot be empty", domainErrors.ErrInvalidIdentifier, field)
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("%w: %s longer than %d bytes", domainErrors.ErrInvalidIdentifier, field, MaxIDLength)
	}
	return nil
}

// PurchaseGrant is created once per (user, product) pair that wins the
// race. It is never mutated afterwards.
type PurchaseGrant struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	GrantedAt time.Time `json:"granted_at"`
}

func NewPurchaseGrant(id, userID, productID string, quantity int, grantedAt time.Time) (*PurchaseGrant, error) {
	if id == "" {
		return nil, errors.New("grant id cannot be empty")
	}

	if err := ValidateID("user id", userID); err != nil {
		return nil, err
	}

	if err := ValidateID("product id", productID); err != nil {
		return nil, err
	}

	if quantity <= 0 {
		return nil, domainErrors.ErrInvalidQuantity
	}

	return &PurchaseGrant{
		ID:        id,
		UserID:    userID,
		ProductID: productID,
		Quantity:  quantity,
		GrantedAt: grantedAt.UTC(),
	}, nil
}

// PendingEntry is a grant waiting to be written to the durable store.
// EntryID identifies it in the pending log.
type PendingEntry struct {
	EntryID string
	Grant   PurchaseGrant
}

// TotalsByProduct sums granted quantities per product.
func TotalsByProduct(grants []PurchaseGrant) map[string]int64 {
	totals := make(map[string]int64)
	for _, g := range grants {
		totals[g.ProductID] += int64(g.Quantity)
	}
	return totals
}
