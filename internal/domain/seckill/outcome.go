package seckill

import (
	"context"
	"errors"

	domainErrors "github.com/yuzvak/seckill-service/internal/domain/errors"
)

type DecrementResult int

const (
	DecrementDenied DecrementResult = iota
	DecrementGranted
	DecrementNotSeeded
)

func (r DecrementResult) String() string {
	switch r {
	case DecrementGranted:
		return "granted"
	case DecrementNotSeeded:
		return "not_seeded"
	default:
		return "denied"
	}
}

type ClaimResult int

const (
	ClaimAlreadyClaimed ClaimResult = iota
	ClaimClaimed
)

// AtomicPurchaseResult is what the combined claim+decrement+record script reports.
type AtomicPurchaseResult int

const (
	AtomicOutOfStock AtomicPurchaseResult = iota
	AtomicGranted
	AtomicAlreadyClaimed
	AtomicNotSeeded
)

type DenyReason string

const (
	ReasonDuplicate      DenyReason = "duplicate"
	ReasonOutOfStock     DenyReason = "out_of_stock"
	ReasonTimeout        DenyReason = "timeout"
	ReasonCacheDown      DenyReason = "cache_unavailable"
	ReasonNotFound       DenyReason = "product_not_found"
	ReasonInvalidRequest DenyReason = "invalid_quantity"
	ReasonInvalidID      DenyReason = "invalid_request"
	ReasonInternal       DenyReason = "internal"
)

// ReasonFor classifies a purchase error into the reason reported to callers.
func ReasonFor(err error) DenyReason {
	switch {
	case errors.Is(err, domainErrors.ErrDuplicateClaim):
		return ReasonDuplicate
	case errors.Is(err, domainErrors.ErrOutOfStock):
		return ReasonOutOfStock
	case errors.Is(err, domainErrors.ErrProductNotFound):
		return ReasonNotFound
	case errors.Is(err, domainErrors.ErrInvalidQuantity), errors.Is(err, domainErrors.ErrQuantityLimitExceeded):
		return ReasonInvalidRequest
	case errors.Is(err, domainErrors.ErrInvalidIdentifier):
		return ReasonInvalidID
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, domainErrors.ErrCacheUnavailable), errors.Is(err, domainErrors.ErrNotSeeded):
		return ReasonCacheDown
	default:
		return ReasonInternal
	}
}

type PurchaseResult struct {
	Grant  *PurchaseGrant
	Replay bool
}
