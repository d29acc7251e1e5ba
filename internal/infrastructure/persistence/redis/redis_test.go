package redis

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/yuzvak/seckill-service/internal/domain/seckill"
)

func newTestConnection(t *testing.T) (*miniredis.Miniredis, *Connection) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	return mr, NewConnectionFromClient(client)
}

func newTestGrant(t *testing.T, id, userID, productID string, quantity int) *seckill.PurchaseGrant {
	t.Helper()

	grant, err := seckill.NewPurchaseGrant(id, userID, productID, quantity,
		time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return grant
}
