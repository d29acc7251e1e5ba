package use_cases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	domainErrors "github.com/yuzvak/seckill-service/internal/domain/errors"
	"github.com/yuzvak/seckill-service/internal/domain/seckill"
	"github.com/yuzvak/seckill-service/internal/pkg/clock"
	"github.com/yuzvak/seckill-service/internal/pkg/generator"
	"github.com/yuzvak/seckill-service/internal/pkg/logger"
)

var modes = []struct {
	name     string
	combined bool
}{
	{"stepwise", false},
	{"combined", true},
}

type outcome struct {
	userID string
	result *seckill.PurchaseResult
	err    error
}

func purchaseConcurrently(uc *PurchaseUseCase, productID string, quantity int, users []string) []outcome {
	out := make([]outcome, len(users))

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, userID := range users {
		wg.Add(1)
		go func(i int, userID string) {
			defer wg.Done()
			<-start
			res, err := uc.Purchase(context.Background(), userID, productID, quantity)
			out[i] = outcome{userID: userID, result: res, err: err}
		}(i, userID)
	}
	close(start)
	wg.Wait()

	return out
}

func countOutcomes(outcomes []outcome) (granted int, errs map[error]int) {
	errs = make(map[error]int)
	for _, o := range outcomes {
		switch {
		case o.err == nil:
			granted++
		case errors.Is(o.err, domainErrors.ErrOutOfStock):
			errs[domainErrors.ErrOutOfStock]++
		case errors.Is(o.err, domainErrors.ErrDuplicateClaim):
			errs[domainErrors.ErrDuplicateClaim]++
		default:
			errs[o.err]++
		}
	}
	return granted, errs
}

func TestPurchase_FourUsersThreeUnits(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, testPurchaseConfig(mode.combined), map[string]int64{"p-1": 3})
			require.NoError(t, h.reconcile.Seed(ctx, "p-1"))

			outcomes := purchaseConcurrently(h.purchase, "p-1", 1, []string{"A", "B", "C", "D"})

			granted, errs := countOutcomes(outcomes)
			assert.Equal(t, 3, granted)
			assert.Equal(t, 1, errs[domainErrors.ErrOutOfStock])

			for _, o := range outcomes {
				again, err := h.purchase.Purchase(ctx, o.userID, "p-1", 1)
				if o.err == nil {
					require.NoError(t, err)
					assert.True(t, again.Replay)
					assert.Equal(t, o.result.Grant.ID, again.Grant.ID, "replay returns the original grant")
				} else {
					assert.ErrorIs(t, err, domainErrors.ErrOutOfStock)
				}
			}

			inv, err := h.cache.Inventory(ctx, "p-1")
			require.NoError(t, err)
			assert.Zero(t, inv.CachedStock)
			assert.Equal(t, int64(3), inv.PendingQty)
		})
	}
}

func TestPurchase_NoOversell(t *testing.T) {
	cases := []struct {
		stock    int64
		quantity int
		users    int
		want     int
	}{
		{stock: 50, quantity: 1, users: 200, want: 50},
		{stock: 10, quantity: 3, users: 20, want: 3},
		{stock: 100, quantity: 1, users: 30, want: 30},
	}

	for _, mode := range modes {
		for _, tc := range cases {
			t.Run(fmt.Sprintf("%s/stock=%d/q=%d/users=%d", mode.name, tc.stock, tc.quantity, tc.users), func(t *testing.T) {
				productID := "p-1"
				if tc.quantity > 1 {
					productID = "bulk"
				}
				h := newHarness(t, testPurchaseConfig(mode.combined), map[string]int64{productID: tc.stock})

				users := make([]string, tc.users)
				for i := range users {
					users[i] = fmt.Sprintf("user-%d", i)
				}

				// the first requests also race to seed the counter
				outcomes := purchaseConcurrently(h.purchase, productID, tc.quantity, users)

				granted, errs := countOutcomes(outcomes)
				assert.Equal(t, tc.want, granted)
				assert.Equal(t, tc.users-tc.want, errs[domainErrors.ErrOutOfStock])

				inv, err := h.cache.Inventory(context.Background(), productID)
				require.NoError(t, err)
				assert.Equal(t, tc.stock-int64(tc.want*tc.quantity), inv.CachedStock)
				assert.GreaterOrEqual(t, inv.CachedStock, int64(0))
			})
		}
	}
}

func TestPurchase_SameUserDecrementsOnce(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, testPurchaseConfig(mode.combined), map[string]int64{"p-1": 10})
			require.NoError(t, h.reconcile.Seed(ctx, "p-1"))

			users := make([]string, 25)
			for i := range users {
				users[i] = "same-user"
			}

			outcomes := purchaseConcurrently(h.purchase, "p-1", 1, users)

			fresh := 0
			for _, o := range outcomes {
				if o.err != nil {
					assert.ErrorIs(t, o.err, domainErrors.ErrDuplicateClaim)
					continue
				}
				if !o.result.Replay {
					fresh++
				}
			}
			assert.Equal(t, 1, fresh)

			inv, err := h.cache.Inventory(ctx, "p-1")
			require.NoError(t, err)
			assert.Equal(t, int64(9), inv.CachedStock)

			backlog, err := h.pending.Backlog(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(1), backlog)
		})
	}
}

func TestPurchase_DeniedUserCanBuyAfterRestock(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, testPurchaseConfig(mode.combined), map[string]int64{"p-1": 0})

			_, err := h.purchase.Purchase(ctx, "A", "p-1", 1)
			require.ErrorIs(t, err, domainErrors.ErrOutOfStock)

			_, err = h.purchase.Status(ctx, "A", "p-1")
			assert.ErrorIs(t, err, domainErrors.ErrGrantNotFound)
			assert.False(t, h.mr.Exists("seckill:{p-1}:user:A"), "claim rolled back")

			_, err = h.reconcile.Restock(ctx, "p-1", 5)
			require.NoError(t, err)

			res, err := h.purchase.Purchase(ctx, "A", "p-1", 1)
			require.NoError(t, err)
			assert.False(t, res.Replay)
		})
	}
}

func TestPurchase_SeedsOnFirstRequest(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testPurchaseConfig(false), map[string]int64{"p-1": 2})

	res, err := h.purchase.Purchase(ctx, "A", "p-1", 1)
	require.NoError(t, err)
	assert.Equal(t, "A", res.Grant.UserID)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), res.Grant.GrantedAt)

	stock, err := h.mr.Get(cacheStockKey("p-1"))
	require.NoError(t, err)
	assert.Equal(t, "1", stock)
}

func TestPurchase_UnknownProduct(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, testPurchaseConfig(mode.combined), map[string]int64{})

			_, err := h.purchase.Purchase(ctx, "A", "p-404", 1)
			assert.ErrorIs(t, err, domainErrors.ErrProductNotFound)
			assert.False(t, h.mr.Exists("seckill:{p-404}:user:A"))
			assert.False(t, h.mr.Exists(cacheStockKey("p-404")))
		})
	}
}

func TestPurchase_QuantityLimits(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testPurchaseConfig(false), map[string]int64{"p-1": 10, "bulk": 10})

	_, err := h.purchase.Purchase(ctx, "A", "p-1", 0)
	assert.ErrorIs(t, err, domainErrors.ErrInvalidQuantity)

	_, err = h.purchase.Purchase(ctx, "A", "p-1", 2)
	assert.ErrorIs(t, err, domainErrors.ErrQuantityLimitExceeded)

	res, err := h.purchase.Purchase(ctx, "A", "bulk", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Grant.Quantity)

	_, err = h.purchase.Purchase(ctx, "B", "bulk", 4)
	assert.ErrorIs(t, err, domainErrors.ErrQuantityLimitExceeded)

	assert.False(t, h.mr.Exists("seckill:{p-1}:user:A"), "rejected requests never claim")
}

func TestPurchase_OverlongIDsDenied(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, testPurchaseConfig(mode.combined), map[string]int64{"p-1": 5})
			longUser := strings.Repeat("u", seckill.MaxIDLength+1)

			_, err := h.purchase.Purchase(ctx, longUser, "p-1", 1)
			assert.ErrorIs(t, err, domainErrors.ErrInvalidIdentifier)
			assert.Equal(t, seckill.ReasonInvalidID, seckill.ReasonFor(err))

			assert.False(t, h.mr.Exists("seckill:{p-1}:user:"+longUser))
			assert.False(t, h.mr.Exists(cacheStockKey("p-1")), "nothing seeded or decremented")

			backlog, err := h.reconcile.Backlog(ctx)
			require.NoError(t, err)
			assert.Zero(t, backlog)

			res, err := h.purchase.Purchase(ctx, strings.Repeat("u", seckill.MaxIDLength), "p-1", 1)
			require.NoError(t, err)
			assert.False(t, res.Replay)
		})
	}
}

func TestPurchase_CacheDownFailsClosed(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, testPurchaseConfig(mode.combined), map[string]int64{"p-1": 10})
			require.NoError(t, h.reconcile.Seed(ctx, "p-1"))

			h.mr.Close()

			res, err := h.purchase.Purchase(ctx, "A", "p-1", 1)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, domainErrors.ErrCacheUnavailable)
			assert.True(t, domainErrors.IsRetryable(err))
		})
	}
}

func newMockedPurchase(cache *mockInventoryCache, ledger *mockPurchaseLedger, seeder *mockSeeder) *PurchaseUseCase {
	return NewPurchaseUseCase(cache, ledger, seeder,
		clock.NewMockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		generator.NewSequenceGenerator("g"),
		logger.Nop(), testPurchaseConfig(false), time.Second)
}

func TestPurchase_AmbiguousDecrementKeepsClaim(t *testing.T) {
	// Arrange
	cache := new(mockInventoryCache)
	ledger := new(mockPurchaseLedger)
	seeder := new(mockSeeder)
	uc := newMockedPurchase(cache, ledger, seeder)

	ledger.On("TryClaim", mock.Anything, "A", "p-1", "g-1", 30*time.Second).Return(seckill.ClaimClaimed, nil)
	cache.On("TryDecrement", mock.Anything, "p-1", 1).
		Return(seckill.DecrementDenied, fmt.Errorf("try decrement: %w: %w", domainErrors.ErrCacheUnavailable, context.DeadlineExceeded))

	// Act
	_, err := uc.Purchase(context.Background(), "A", "p-1", 1)

	// Assert
	assert.ErrorIs(t, err, domainErrors.ErrCacheUnavailable)
	assert.Equal(t, seckill.ReasonTimeout, seckill.ReasonFor(err))
	ledger.AssertNotCalled(t, "Release", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	ledger.AssertNotCalled(t, "RecordGrant", mock.Anything, mock.Anything, mock.Anything)
	cache.AssertExpectations(t)
}

func TestPurchase_DeniedDecrementReleasesClaim(t *testing.T) {
	// Arrange
	cache := new(mockInventoryCache)
	ledger := new(mockPurchaseLedger)
	uc := newMockedPurchase(cache, ledger, new(mockSeeder))

	ledger.On("TryClaim", mock.Anything, "A", "p-1", "g-1", 30*time.Second).Return(seckill.ClaimClaimed, nil)
	cache.On("TryDecrement", mock.Anything, "p-1", 1).Return(seckill.DecrementDenied, nil)
	ledger.On("Release", mock.Anything, "A", "p-1", "g-1").Return(true, nil)

	// Act
	_, err := uc.Purchase(context.Background(), "A", "p-1", 1)

	// Assert
	assert.ErrorIs(t, err, domainErrors.ErrOutOfStock)
	ledger.AssertExpectations(t)
}

func TestPurchase_ReleaseFailureStillDenies(t *testing.T) {
	cache := new(mockInventoryCache)
	ledger := new(mockPurchaseLedger)
	uc := newMockedPurchase(cache, ledger, new(mockSeeder))

	ledger.On("TryClaim", mock.Anything, "A", "p-1", "g-1", mock.Anything).Return(seckill.ClaimClaimed, nil)
	cache.On("TryDecrement", mock.Anything, "p-1", 1).Return(seckill.DecrementDenied, nil)
	ledger.On("Release", mock.Anything, "A", "p-1", "g-1").Return(false, domainErrors.ErrCacheUnavailable)

	_, err := uc.Purchase(context.Background(), "A", "p-1", 1)
	assert.ErrorIs(t, err, domainErrors.ErrOutOfStock)
}

func TestPurchase_SeedFailureReleasesClaim(t *testing.T) {
	cache := new(mockInventoryCache)
	ledger := new(mockPurchaseLedger)
	seeder := new(mockSeeder)
	uc := newMockedPurchase(cache, ledger, seeder)

	ledger.On("TryClaim", mock.Anything, "A", "p-1", "g-1", mock.Anything).Return(seckill.ClaimClaimed, nil)
	cache.On("TryDecrement", mock.Anything, "p-1", 1).Return(seckill.DecrementNotSeeded, nil)
	seeder.On("Seed", mock.Anything, "p-1").Return(errors.New("connection refused"))
	ledger.On("Release", mock.Anything, "A", "p-1", "g-1").Return(true, nil)

	_, err := uc.Purchase(context.Background(), "A", "p-1", 1)

	assert.ErrorIs(t, err, domainErrors.ErrNotSeeded)
	ledger.AssertExpectations(t)
	cache.AssertNumberOfCalls(t, "TryDecrement", 1)
}

func TestPurchase_StillNotSeededAfterSeed(t *testing.T) {
	cache := new(mockInventoryCache)
	ledger := new(mockPurchaseLedger)
	seeder := new(mockSeeder)
	uc := newMockedPurchase(cache, ledger, seeder)

	ledger.On("TryClaim", mock.Anything, "A", "p-1", "g-1", mock.Anything).Return(seckill.ClaimClaimed, nil)
	cache.On("TryDecrement", mock.Anything, "p-1", 1).Return(seckill.DecrementNotSeeded, nil)
	seeder.On("Seed", mock.Anything, "p-1").Return(nil).Once()
	ledger.On("Release", mock.Anything, "A", "p-1", "g-1").Return(true, nil)

	_, err := uc.Purchase(context.Background(), "A", "p-1", 1)

	assert.ErrorIs(t, err, domainErrors.ErrNotSeeded)
	cache.AssertNumberOfCalls(t, "TryDecrement", 2)
	seeder.AssertExpectations(t)
}

func TestPurchase_LostClaimIsDuplicate(t *testing.T) {
	cache := new(mockInventoryCache)
	ledger := new(mockPurchaseLedger)
	uc := newMockedPurchase(cache, ledger, new(mockSeeder))

	ledger.On("TryClaim", mock.Anything, "A", "p-1", "g-1", mock.Anything).Return(seckill.ClaimClaimed, nil)
	cache.On("TryDecrement", mock.Anything, "p-1", 1).Return(seckill.DecrementGranted, nil)
	ledger.On("RecordGrant", mock.Anything, mock.MatchedBy(func(g *seckill.PurchaseGrant) bool {
		return g.ID == "g-1" && g.UserID == "A"
	}), time.Duration(0)).Return(false, nil)

	_, err := uc.Purchase(context.Background(), "A", "p-1", 1)
	assert.ErrorIs(t, err, domainErrors.ErrDuplicateClaim)
}

func TestPurchase_ClaimedWithoutGrantIsDuplicate(t *testing.T) {
	cache := new(mockInventoryCache)
	ledger := new(mockPurchaseLedger)
	uc := newMockedPurchase(cache, ledger, new(mockSeeder))

	ledger.On("TryClaim", mock.Anything, "A", "p-1", "g-1", mock.Anything).Return(seckill.ClaimAlreadyClaimed, nil)
	ledger.On("Grant", mock.Anything, "A", "p-1").Return(nil, domainErrors.ErrGrantNotFound)

	_, err := uc.Purchase(context.Background(), "A", "p-1", 1)

	assert.ErrorIs(t, err, domainErrors.ErrDuplicateClaim)
	cache.AssertNotCalled(t, "TryDecrement", mock.Anything, mock.Anything, mock.Anything)
}

func TestPurchase_StatusAfterGrant(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testPurchaseConfig(false), map[string]int64{"p-1": 1})

	_, err := h.purchase.Status(ctx, "A", "p-1")
	assert.ErrorIs(t, err, domainErrors.ErrGrantNotFound)

	res, err := h.purchase.Purchase(ctx, "A", "p-1", 1)
	require.NoError(t, err)

	grant, err := h.purchase.Status(ctx, "A", "p-1")
	require.NoError(t, err)
	assert.Equal(t, res.Grant, grant)
}
