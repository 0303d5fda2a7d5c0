package worker

import (
	"context"
	"log"
	"time"

	"github.com/craftpage/wizard-back/internal/service"
)

// Sweeper periodically fails pending requests past their expiry deadline and
// returns requests held past the claim deadline to the pending pool.
type Sweeper struct {
	queue     *service.QueueService
	interval  time.Duration
	claimTTL  time.Duration
	batchSize int
	logger    *log.Logger
}

func NewSweeper(
	queue *service.QueueService,
	interval, claimTTL time.Duration,
	batchSize int,
	logger *log.Logger,
) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if claimTTL <= 0 {
		claimTTL = 30 * time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Sweeper{
		queue:     queue,
		interval:  interval,
		claimTTL:  claimTTL,
		batchSize: batchSize,
		logger:    logger,
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	now := time.Now().UTC()

	expired, err := s.queue.ExpireDue(ctx, now, s.batchSize)
	if err != nil && s.logger != nil {
		s.logger.Printf("expiry sweep error: %v", err)
	}

	released, err := s.queue.ReleaseStale(ctx, now.Add(-s.claimTTL), s.batchSize)
	if err != nil && s.logger != nil {
		s.logger.Printf("stale claim sweep error: %v", err)
	}

	if (expired > 0 || released > 0) && s.logger != nil {
		s.logger.Printf("sweep done expired=%d released=%d", expired, released)
	}
}
