package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/yuzvak/seckill-service/internal/domain/seckill"
)

type InventoryCache struct {
	client *redis.Client
}

func NewInventoryCache(conn *Connection) *InventoryCache {
	return &InventoryCache{client: conn.GetClient()}
}

func (c *InventoryCache) TryDecrement(ctx context.Context, productID string, quantity int) (seckill.DecrementResult, error) {
	res, err := tryDecrementScript.Run(ctx, c.client, []string{stockKey(productID)}, quantity).Int64()
	if err != nil {
		return seckill.DecrementDenied, unavailable("try decrement", err)
	}

	switch res {
	case 1:
		return seckill.DecrementGranted, nil
	case -1:
		return seckill.DecrementNotSeeded, nil
	default:
		return seckill.DecrementDenied, nil
	}
}

func (c *InventoryCache) Seed(ctx context.Context, productID string, durableStock int64) (bool, error) {
	res, err := c.seed(ctx, productID, durableStock, false)
	if err != nil {
		return false, err
	}
	return res >= 0, nil
}

func (c *InventoryCache) Reseed(ctx context.Context, productID string, durableStock int64) error {
	_, err := c.seed(ctx, productID, durableStock, true)
	return err
}

func (c *InventoryCache) seed(ctx context.Context, productID string, durableStock int64, force bool) (int64, error) {
	if durableStock < 0 {
		return 0, fmt.Errorf("seed %s: negative stock %d", productID, durableStock)
	}

	forceArg := "0"
	if force {
		forceArg = "1"
	}

	keys := []string{stockKey(productID), pendingQtyKey}
	res, err := seedScript.Run(ctx, c.client, keys, durableStock, productID, forceArg).Int64()
	if err != nil {
		return 0, unavailable("seed", err)
	}
	return res, nil
}

func (c *InventoryCache) Inventory(ctx context.Context, productID string) (*seckill.ProductInventory, error) {
	pipe := c.client.Pipeline()
	stockCmd := pipe.Get(ctx, stockKey(productID))
	pendingCmd := pipe.HGet(ctx, pendingQtyKey, productID)

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable("inventory", err)
	}

	inv := &seckill.ProductInventory{ProductID: productID}

	stock, err := stockCmd.Int64()
	switch {
	case err == nil:
		inv.CachedStock = stock
		inv.Seeded = true
	case !errors.Is(err, redis.Nil):
		return nil, unavailable("inventory", err)
	}

	pending, err := pendingCmd.Int64()
	switch {
	case err == nil:
		inv.PendingQty = pending
	case !errors.Is(err, redis.Nil):
		return nil, unavailable("inventory", err)
	}

	return inv, nil
}
