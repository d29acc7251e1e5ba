package seckill

// ProductInventory is the cached stock view of a product. Seeded is false
// when the cache holds no counter for it, which is distinct from zero stock.
type ProductInventory struct {
	ProductID   string `json:"product_id"`
	CachedStock int64  `json:"cached_stock"`
	Seeded      bool   `json:"seeded"`
	PendingQty  int64  `json:"pending_quantity"`
}

// ApplyResult summarises one durable flush transaction.
type ApplyResult struct {
	Inserted   int
	Duplicates int
	// StockDecrements holds the quantity subtracted from each durable row.
	StockDecrements map[string]int64
}

type FlushResult struct {
	Claimed    int
	Inserted   int
	Duplicates int
	Acked      int

	// DeadLettered counts entries the durable store refused on their own.
	DeadLettered int
}
