package errors

import (
	"errors"
)

var (
	ErrDuplicateClaim        = errors.New("user already claimed this product")
	ErrOutOfStock            = errors.New("product is out of stock")
	ErrInvalidQuantity       = errors.New("quantity must be positive")
	ErrQuantityLimitExceeded = errors.New("quantity exceeds per-user limit")
	ErrInvalidIdentifier     = errors.New("identifier is empty or too long")

	ErrProductNotFound = errors.New("product not found")
	ErrGrantNotFound   = errors.New("no grant for user and product")
	ErrNotSeeded       = errors.New("product stock not seeded in cache")

	// ErrCacheUnavailable means an atomic operation could not be evaluated.
	// The outcome is unknown; callers must fail closed.
	ErrCacheUnavailable = errors.New("cache unavailable")

	ErrDurableWriteFailure = errors.New("durable write failed")

	// ErrGrantRejected marks a durable write the store refused on its data,
	// so retrying the same grants can never succeed.
	ErrGrantRejected = errors.New("grant rejected by durable store")
)

// IsRetryable reports whether the caller may retry after an idempotent status check.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrCacheUnavailable) || errors.Is(err, ErrNotSeeded)
}
