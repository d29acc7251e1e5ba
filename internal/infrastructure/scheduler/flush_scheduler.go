package scheduler

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yuzvak/seckill-service/internal/domain/seckill"
	"github.com/yuzvak/seckill-service/internal/pkg/generator"
	"github.com/yuzvak/seckill-service/internal/pkg/logger"
)

const drainTimeout = 5 * time.Second

// Flusher is satisfied by use_cases.ReconcileUseCase.
type Flusher interface {
	FlushAll(ctx context.Context, consumer string) (*seckill.FlushResult, error)
	Backlog(ctx context.Context) (int64, error)
}

// FlushScheduler runs the background workers that move granted purchases
// from the pending log into the durable store.
type FlushScheduler struct {
	flusher  Flusher
	workers  int
	interval time.Duration
	consumer func(worker int) string
	logger   *logger.Logger
	stopChan chan struct{}
	stopOnce sync.Once
}

func NewFlushScheduler(
	flusher Flusher,
	workers int,
	interval time.Duration,
	logger *logger.Logger,
) *FlushScheduler {
	if workers <= 0 {
		workers = 1
	}
	return &FlushScheduler{
		flusher:  flusher,
		workers:  workers,
		interval: interval,
		consumer: generator.ConsumerName,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start blocks until ctx is cancelled or Stop is called. Each worker makes
// one last drain attempt on the way out.
func (s *FlushScheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting flush scheduler", "workers", s.workers, "interval", s.interval.String())

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.workers; i++ {
		worker := i
		g.Go(func() error {
			s.run(gctx, worker)
			return nil
		})
	}

	err := g.Wait()
	s.logger.Info("Flush scheduler stopped")
	return err
}

func (s *FlushScheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

func (s *FlushScheduler) run(ctx context.Context, worker int) {
	consumer := s.consumer(worker)
	log := s.logger.WithField("consumer", consumer)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.drain(context.WithoutCancel(ctx), consumer, log)
			return
		case <-s.stopChan:
			s.drain(ctx, consumer, log)
			return
		case <-ticker.C:
			s.flush(ctx, consumer, log)
		}
	}
}

func (s *FlushScheduler) drain(ctx context.Context, consumer string, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()
	s.flush(ctx, consumer, log)
}

func (s *FlushScheduler) flush(ctx context.Context, consumer string, log *logger.Logger) {
	result, err := s.flusher.FlushAll(ctx, consumer)
	if err != nil {
		log.Error("Flush failed, entries stay pending", "error", err)
		return
	}

	if result.Claimed == 0 {
		return
	}

	backlog, err := s.flusher.Backlog(ctx)
	if err != nil {
		log.Warn("Failed to read pending backlog", "error", err)
	}

	log.Info("Flushed pending grants",
		"claimed", result.Claimed,
		"inserted", result.Inserted,
		"duplicates", result.Duplicates,
		"dead_lettered", result.DeadLettered,
		"backlog", backlog,
	)
}
