package redis

import (
	"fmt"

	domainErrors "github.com/yuzvak/seckill-service/internal/domain/errors"
)

// unavailable marks err as an ambiguous cache failure while keeping the
// underlying cause (timeouts, connection errors) inspectable.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domainErrors.ErrCacheUnavailable, err)
}
