package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSeckill grants one unit per distinct user until stock runs out.
type fakeSeckill struct {
	mu      sync.Mutex
	stock   int64
	durable int64
	users   map[string]bool
}

func (f *fakeSeckill) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPut:
		var req struct{ Stock int64 }
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.stock, f.durable = req.Stock, req.Stock
		f.users = make(map[string]bool)
		_, _ = w.Write([]byte(`{}`))
	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/seckill/"):
		user := strings.Split(r.URL.Path, "/")[3]
		if f.users[user] {
			_, _ = w.Write([]byte(`{"success":true,"replay":true}`))
			return
		}
		if f.stock == 0 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"out_of_stock"}`))
			return
		}
		f.stock--
		f.users[user] = true
		_, _ = w.Write([]byte(`{"success":true}`))
	case r.URL.Path == "/admin/reconcile/flush":
		f.durable = f.stock
		_, _ = w.Write([]byte(`{}`))
	default:
		_ = json.NewEncoder(w).Encode(map[string]int64{"cached_stock": f.stock, "durable_stock": f.durable})
	}
}

func TestLoadTester_Run(t *testing.T) {
	srv := httptest.NewServer(&fakeSeckill{})
	defer srv.Close()

	lt := NewLoadTester(&LoadTestConfig{
		BaseURL:     srv.URL,
		ProductID:   "p-1",
		Stock:       20,
		Users:       100,
		Concurrency: 10,
		Quantity:    1,
		RepeatRatio: 0.5,
		Verify:      true,
	})

	report, err := lt.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 20, report.GrantedUsers)
	assert.Equal(t, int64(20), report.GrantedUnits)
	assert.Equal(t, 20, report.Outcomes["granted"])
	assert.Equal(t, report.Requests-20-report.Replays, report.Outcomes["out_of_stock"])
	assert.True(t, report.Consistent)
	require.NotNil(t, report.DurableStock)
	assert.Equal(t, int64(0), *report.DurableStock)
}

func TestPercentile(t *testing.T) {
	sorted := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	assert.Equal(t, time.Duration(5), percentile(sorted, 0.5))
	assert.Equal(t, time.Duration(10), percentile(sorted, 1))
	assert.Zero(t, percentile(nil, 0.99))
}
