package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type LoadTestConfig struct {
	BaseURL     string
	ProductID   string
	Stock       int64
	Users       int
	Concurrency int
	Quantity    int
	RepeatRatio float64
	Verify      bool
}

type Report struct {
	Requests       int              `json:"requests"`
	Outcomes       map[string]int   `json:"outcomes"`
	GrantedUsers   int              `json:"granted_users"`
	GrantedUnits   int64            `json:"granted_units"`
	Replays        int              `json:"replays"`
	Duration       time.Duration    `json:"duration"`
	ThroughputRPS  float64          `json:"throughput_rps"`
	P50            time.Duration    `json:"p50"`
	P95            time.Duration    `json:"p95"`
	P99            time.Duration    `json:"p99"`
	Consistent     bool             `json:"consistent"`
	DurableStock   *int64           `json:"durable_stock,omitempty"`
	ProductDetails *productResponse `json:"product,omitempty"`
}

type purchaseResponse struct {
	Success bool   `json:"success"`
	Replay  bool   `json:"replay"`
	GrantID string `json:"grant_id"`
	Error   string `json:"error"`
}

type productResponse struct {
	CachedStock  int64 `json:"cached_stock"`
	DurableStock int64 `json:"durable_stock"`
	PendingQty   int64 `json:"pending_quantity"`
	Backlog      int64 `json:"backlog"`
}

type LoadTester struct {
	config *LoadTestConfig
	client *http.Client

	mu        sync.Mutex
	latencies []time.Duration
	outcomes  map[string]int
	granted   map[string]bool
	replays   int
}

func NewLoadTester(config *LoadTestConfig) *LoadTester {
	return &LoadTester{
		config: config,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        1000,
				MaxIdleConnsPerHost: config.Concurrency,
				MaxConnsPerHost:     config.Concurrency,
			},
		},
		outcomes: make(map[string]int),
		granted:  make(map[string]bool),
	}
}

func (lt *LoadTester) Run(ctx context.Context) (*Report, error) {
	if lt.config.Stock > 0 {
		if err := lt.restock(ctx); err != nil {
			return nil, fmt.Errorf("restock: %w", err)
		}
	}

	users := lt.schedule()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lt.config.Concurrency)

	start := time.Now()
	for _, userID := range users {
		userID := userID
		g.Go(func() error {
			lt.purchase(gctx, userID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	report := lt.report(elapsed)

	if lt.config.Verify {
		if err := lt.verify(ctx, report); err != nil {
			return nil, fmt.Errorf("verify: %w", err)
		}
	}

	return report, nil
}

// schedule lists purchase attempts in random order, some users twice.
func (lt *LoadTester) schedule() []string {
	users := make([]string, 0, lt.config.Users)
	for i := 0; i < lt.config.Users; i++ {
		userID := "u-" + strconv.Itoa(i)
		users = append(users, userID)
		if rand.Float64() < lt.config.RepeatRatio {
			users = append(users, userID)
		}
	}
	rand.Shuffle(len(users), func(i, j int) { users[i], users[j] = users[j], users[i] })
	return users
}

func (lt *LoadTester) purchase(ctx context.Context, userID string) {
	url := fmt.Sprintf("%s/seckill/%s/%s?quantity=%d", lt.config.BaseURL, lt.config.ProductID, userID, lt.config.Quantity)

	start := time.Now()
	outcome := "transport_error"
	var body purchaseResponse

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err == nil {
		var resp *http.Response
		resp, err = lt.client.Do(req)
		if err == nil {
			_ = json.NewDecoder(resp.Body).Decode(&body)
			resp.Body.Close()
			switch {
			case body.Success:
				outcome = "granted"
			case body.Error != "":
				outcome = body.Error
			default:
				outcome = "status_" + strconv.Itoa(resp.StatusCode)
			}
		}
	}

	lt.mu.Lock()
	defer lt.mu.Unlock()
	lt.latencies = append(lt.latencies, time.Since(start))
	if body.Success && body.Replay {
		lt.replays++
		outcome = "replay"
	}
	lt.outcomes[outcome]++
	if body.Success {
		lt.granted[userID] = true
	}
}

func (lt *LoadTester) report(elapsed time.Duration) *Report {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	sorted := append([]time.Duration(nil), lt.latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	units := int64(len(lt.granted)) * int64(lt.config.Quantity)
	report := &Report{
		Requests:      len(sorted),
		Outcomes:      lt.outcomes,
		GrantedUsers:  len(lt.granted),
		GrantedUnits:  units,
		Replays:       lt.replays,
		Duration:      elapsed,
		ThroughputRPS: float64(len(sorted)) / elapsed.Seconds(),
		P50:           percentile(sorted, 0.50),
		P95:           percentile(sorted, 0.95),
		P99:           percentile(sorted, 0.99),
		Consistent:    lt.config.Stock <= 0 || units <= lt.config.Stock,
	}
	return report
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

func (lt *LoadTester) restock(ctx context.Context) error {
	payload, _ := json.Marshal(map[string]int64{"stock": lt.config.Stock})
	url := fmt.Sprintf("%s/admin/products/%s", lt.config.BaseURL, lt.config.ProductID)
	_, err := lt.call(ctx, http.MethodPut, url, payload)
	return err
}

// verify drains the pending log and checks durable stock accounts for
// every grant the run observed.
func (lt *LoadTester) verify(ctx context.Context, report *Report) error {
	if _, err := lt.call(ctx, http.MethodPost, lt.config.BaseURL+"/admin/reconcile/flush", nil); err != nil {
		return err
	}

	data, err := lt.call(ctx, http.MethodGet, fmt.Sprintf("%s/admin/products/%s", lt.config.BaseURL, lt.config.ProductID), nil)
	if err != nil {
		return err
	}

	var product productResponse
	if err := json.Unmarshal(data, &product); err != nil {
		return err
	}

	report.ProductDetails = &product
	report.DurableStock = &product.DurableStock
	if lt.config.Stock > 0 && product.DurableStock != lt.config.Stock-report.GrantedUnits {
		report.Consistent = false
	}
	return nil
}

func (lt *LoadTester) call(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := lt.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s %s: status %d: %s", method, url, resp.StatusCode, data)
	}
	return data, nil
}

func (r *Report) Print(w io.Writer) {
	fmt.Fprintf(w, "=== Seckill Load Test Report ===\n")
	fmt.Fprintf(w, "Requests:        %d in %s (%.0f req/s)\n", r.Requests, r.Duration.Round(time.Millisecond), r.ThroughputRPS)
	fmt.Fprintf(w, "Latency:         p50 %s  p95 %s  p99 %s\n", r.P50, r.P95, r.P99)
	fmt.Fprintf(w, "Granted:         %d users, %d units (%d replays)\n", r.GrantedUsers, r.GrantedUnits, r.Replays)

	keys := make([]string, 0, len(r.Outcomes))
	for k := range r.Outcomes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %-18s %d\n", k, r.Outcomes[k])
	}

	if r.DurableStock != nil {
		fmt.Fprintf(w, "Durable stock:   %d\n", *r.DurableStock)
	}
	fmt.Fprintf(w, "Consistent:      %t\n", r.Consistent)
}
