package redis

import "fmt"

const (
	pendingStreamKey = "seckill:pending"
	pendingQtyKey    = "seckill:pending:qty"
	deadStreamKey    = "seckill:pending:dead"
	pendingGroup     = "reconciler"

	claimPrefix = "claimed:"
)

// Stock and marker keys share the product hash tag.
func stockKey(productID string) string {
	return fmt.Sprintf("seckill:{%s}:stock", productID)
}

func markerKey(userID, productID string) string {
	return fmt.Sprintf("seckill:{%s}:user:%s", productID, userID)
}

func claimToken(grantID string) string {
	return claimPrefix + grantID
}
