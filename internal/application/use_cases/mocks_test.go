package use_cases

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	domainErrors "github.com/yuzvak/seckill-service/internal/domain/errors"
	"github.com/yuzvak/seckill-service/internal/domain/seckill"
)

type mockInventoryCache struct {
	mock.Mock
}

func (m *mockInventoryCache) TryDecrement(ctx context.Context, productID string, quantity int) (seckill.DecrementResult, error) {
	args := m.Called(ctx, productID, quantity)
	return args.Get(0).(seckill.DecrementResult), args.Error(1)
}

func (m *mockInventoryCache) Seed(ctx context.Context, productID string, durableStock int64) (bool, error) {
	args := m.Called(ctx, productID, durableStock)
	return args.Bool(0), args.Error(1)
}

func (m *mockInventoryCache) Reseed(ctx context.Context, productID string, durableStock int64) error {
	args := m.Called(ctx, productID, durableStock)
	return args.Error(0)
}

func (m *mockInventoryCache) Inventory(ctx context.Context, productID string) (*seckill.ProductInventory, error) {
	args := m.Called(ctx, productID)
	inv, _ := args.Get(0).(*seckill.ProductInventory)
	return inv, args.Error(1)
}

type mockPurchaseLedger struct {
	mock.Mock
}

func (m *mockPurchaseLedger) TryClaim(ctx context.Context, userID, productID, grantID string, ttl time.Duration) (seckill.ClaimResult, error) {
	args := m.Called(ctx, userID, productID, grantID, ttl)
	return args.Get(0).(seckill.ClaimResult), args.Error(1)
}

func (m *mockPurchaseLedger) Release(ctx context.Context, userID, productID, grantID string) (bool, error) {
	args := m.Called(ctx, userID, productID, grantID)
	return args.Bool(0), args.Error(1)
}

func (m *mockPurchaseLedger) RecordGrant(ctx context.Context, grant *seckill.PurchaseGrant, markerTTL time.Duration) (bool, error) {
	args := m.Called(ctx, grant, markerTTL)
	return args.Bool(0), args.Error(1)
}

func (m *mockPurchaseLedger) Grant(ctx context.Context, userID, productID string) (*seckill.PurchaseGrant, error) {
	args := m.Called(ctx, userID, productID)
	grant, _ := args.Get(0).(*seckill.PurchaseGrant)
	return grant, args.Error(1)
}

func (m *mockPurchaseLedger) PurchaseAtomically(ctx context.Context, grant *seckill.PurchaseGrant, markerTTL time.Duration) (seckill.AtomicPurchaseResult, error) {
	args := m.Called(ctx, grant, markerTTL)
	return args.Get(0).(seckill.AtomicPurchaseResult), args.Error(1)
}

type mockSeeder struct {
	mock.Mock
}

func (m *mockSeeder) Seed(ctx context.Context, productID string) error {
	args := m.Called(ctx, productID)
	return args.Error(0)
}

// memoryStock is an in-memory durable store with the same idempotency
// rules as the Postgres repository.
type memoryStock struct {
	mu     sync.Mutex
	stock  map[string]int64
	grants map[string]seckill.PurchaseGrant

	failApply error

	// failAfterReject becomes failApply once a batch has been rejected
	failAfterReject error

	// when set, LockStock signals lockEntered and waits for lockGate
	lockEntered chan struct{}
	lockGate    chan struct{}
}

func newMemoryStock(stock map[string]int64) *memoryStock {
	return &memoryStock{
		stock:  stock,
		grants: make(map[string]seckill.PurchaseGrant),
	}
}

func grantKey(userID, productID string) string {
	return userID + "|" + productID
}

func (s *memoryStock) GetStock(_ context.Context, productID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stock, ok := s.stock[productID]
	if !ok {
		return 0, domainErrors.ErrProductNotFound
	}
	return stock, nil
}

func (s *memoryStock) ListProductIDs(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.stock))
	for id := range s.stock {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *memoryStock) SetStock(_ context.Context, productID string, stock int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stock[productID] = stock
	return nil
}

func (s *memoryStock) LockStock(_ context.Context, productID string, fn func(stock int64) error) error {
	if s.lockEntered != nil {
		s.lockEntered <- struct{}{}
		<-s.lockGate
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stock, ok := s.stock[productID]
	if !ok {
		return domainErrors.ErrProductNotFound
	}
	return fn(stock)
}

func (s *memoryStock) ApplyGrants(_ context.Context, grants []seckill.PurchaseGrant) (*seckill.ApplyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failApply != nil {
		err := s.failApply
		s.failApply = nil
		return nil, fmt.Errorf("%w: %w", domainErrors.ErrDurableWriteFailure, err)
	}

	result := &seckill.ApplyResult{StockDecrements: make(map[string]int64)}
	inserted := make(map[string]seckill.PurchaseGrant)
	for _, g := range grants {
		key := grantKey(g.UserID, g.ProductID)
		if _, ok := s.grants[key]; ok {
			continue
		}
		if _, ok := inserted[key]; ok {
			continue
		}
		inserted[key] = g
		result.StockDecrements[g.ProductID] += int64(g.Quantity)
	}

	for productID, qty := range result.StockDecrements {
		if s.stock[productID]-qty < 0 {
			if s.failAfterReject != nil {
				s.failApply, s.failAfterReject = s.failAfterReject, nil
			}
			return nil, fmt.Errorf("%w: %w: stock for %s would go negative",
				domainErrors.ErrDurableWriteFailure, domainErrors.ErrGrantRejected, productID)
		}
	}

	for key, g := range inserted {
		s.grants[key] = g
	}
	for productID, qty := range result.StockDecrements {
		s.stock[productID] -= qty
	}

	result.Inserted = len(inserted)
	result.Duplicates = len(grants) - len(inserted)
	return result, nil
}

func (s *memoryStock) GrantsByIDs(_ context.Context, ids []string) ([]seckill.PurchaseGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	var out []seckill.PurchaseGrant
	for _, g := range s.grants {
		if want[g.ID] {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *memoryStock) grantCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.grants)
}
