package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	domainErrors "github.com/yuzvak/seckill-service/internal/domain/errors"
	"github.com/yuzvak/seckill-service/internal/domain/seckill"
)

type PurchaseLedger struct {
	client *redis.Client
}

func NewPurchaseLedger(conn *Connection) *PurchaseLedger {
	return &PurchaseLedger{client: conn.GetClient()}
}

func (l *PurchaseLedger) TryClaim(ctx context.Context, userID, productID, grantID string, ttl time.Duration) (seckill.ClaimResult, error) {
	ok, err := l.client.SetNX(ctx, markerKey(userID, productID), claimToken(grantID), ttl).Result()
	if err != nil {
		return seckill.ClaimAlreadyClaimed, unavailable("try claim", err)
	}

	if !ok {
		return seckill.ClaimAlreadyClaimed, nil
	}
	return seckill.ClaimClaimed, nil
}

func (l *PurchaseLedger) Release(ctx context.Context, userID, productID, grantID string) (bool, error) {
	res, err := releaseScript.Run(ctx, l.client, []string{markerKey(userID, productID)}, claimToken(grantID)).Int64()
	if err != nil {
		return false, unavailable("release", err)
	}
	return res == 1, nil
}

func (l *PurchaseLedger) RecordGrant(ctx context.Context, grant *seckill.PurchaseGrant, markerTTL time.Duration) (bool, error) {
	payload, err := json.Marshal(grant)
	if err != nil {
		return false, fmt.Errorf("marshal grant %s: %w", grant.ID, err)
	}

	keys := []string{
		markerKey(grant.UserID, grant.ProductID),
		stockKey(grant.ProductID),
		pendingStreamKey,
		pendingQtyKey,
	}

	res, err := recordGrantScript.Run(ctx, l.client, keys,
		claimToken(grant.ID), payload, grant.ProductID, grant.Quantity, markerTTL.Milliseconds()).Int64()
	if err != nil {
		return false, unavailable("record grant", err)
	}
	return res == 1, nil
}

// Grant returns the recorded grant. An in-flight claim is reported as
// ErrGrantNotFound.
func (l *PurchaseLedger) Grant(ctx context.Context, userID, productID string) (*seckill.PurchaseGrant, error) {
	val, err := l.client.Get(ctx, markerKey(userID, productID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, domainErrors.ErrGrantNotFound
	}
	if err != nil {
		return nil, unavailable("get grant", err)
	}

	if strings.HasPrefix(val, claimPrefix) {
		return nil, domainErrors.ErrGrantNotFound
	}

	var grant seckill.PurchaseGrant
	if err := json.Unmarshal([]byte(val), &grant); err != nil {
		return nil, fmt.Errorf("decode grant for %s/%s: %w", userID, productID, err)
	}
	return &grant, nil
}

func (l *PurchaseLedger) PurchaseAtomically(ctx context.Context, grant *seckill.PurchaseGrant, markerTTL time.Duration) (seckill.AtomicPurchaseResult, error) {
	payload, err := json.Marshal(grant)
	if err != nil {
		return seckill.AtomicOutOfStock, fmt.Errorf("marshal grant %s: %w", grant.ID, err)
	}

	keys := []string{
		markerKey(grant.UserID, grant.ProductID),
		stockKey(grant.ProductID),
		pendingStreamKey,
		pendingQtyKey,
	}

	res, err := atomicPurchaseScript.Run(ctx, l.client, keys,
		payload, grant.ProductID, grant.Quantity, markerTTL.Milliseconds()).Int64()
	if err != nil {
		return seckill.AtomicOutOfStock, unavailable("purchase", err)
	}

	switch res {
	case 1:
		return seckill.AtomicGranted, nil
	case 2:
		return seckill.AtomicAlreadyClaimed, nil
	case 3:
		return seckill.AtomicNotSeeded, nil
	default:
		return seckill.AtomicOutOfStock, nil
	}
}
