package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sifan077/TreePulse/internal/app/model"
	"github.com/sifan077/TreePulse/internal/app/queue"
	"github.com/sifan077/TreePulse/internal/app/repository"
	"go.uber.org/zap"
)

const (
	defaultFlushInterval  = 30 * time.Second
	defaultFlushBatchSize = 1000
	finalDrainTimeout     = 10 * time.Second
)

// DrainResult reports how many records one drain cycle landed in Postgres.
type DrainResult struct {
	Views  int `json:"views"`
	Clicks int `json:"clicks"`
}

// FlushScheduler periodically drains the server queue into Postgres in
// bounded chunks. It owns its timer: Start is idempotent, Stop cancels
// the timer only after one final drain so shutdown loses as little as
// possible. One failed cycle never stops the next.
type FlushScheduler struct {
	queue     queue.EventQueue
	repo      repository.AnalyticsRepository
	lock      *DrainLock
	logger    *zap.Logger
	metrics   *Metrics
	interval  time.Duration
	batchSize int64

	started  atomic.Bool
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewFlushScheduler creates a scheduler. lock and metrics may be nil;
// interval and batchSize fall back to defaults when non-positive.
func NewFlushScheduler(
	q queue.EventQueue,
	repo repository.AnalyticsRepository,
	lock *DrainLock,
	logger *zap.Logger,
	metrics *Metrics,
	interval time.Duration,
	batchSize int,
) *FlushScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	if batchSize <= 0 {
		batchSize = defaultFlushBatchSize
	}
	return &FlushScheduler{
		queue:     q,
		repo:      repo,
		lock:      lock,
		logger:    logger,
		metrics:   metrics,
		interval:  interval,
		batchSize: int64(batchSize),
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}
}

// Start launches the recurring drain. Calling it twice is a no-op.
func (s *FlushScheduler) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.logger.Info("flush scheduler started",
		zap.Duration("interval", s.interval),
		zap.Int64("batch_size", s.batchSize),
	)
	go s.run()
}

// Stop performs a final bounded drain and then stops the timer. Safe to
// call only after Start.
func (s *FlushScheduler) Stop() {
	if !s.started.Load() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), finalDrainTimeout)
	defer cancel()
	if _, err := s.Drain(ctx); err != nil {
		s.logger.Error("final drain failed", zap.Error(err))
	}

	close(s.stopChan)
	<-s.doneChan
	s.logger.Info("flush scheduler stopped")
}

func (s *FlushScheduler) run() {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.Drain(context.Background()); err != nil {
				s.logger.Error("flush cycle failed", zap.Error(err))
			}
		case <-s.stopChan:
			return
		}
	}
}

// Drain runs one flush cycle over both event streams. It is also the
// on-demand entry point for the admin flush endpoint. When another
// instance holds the drain lease the cycle is skipped; the records stay
// queued for the holder.
func (s *FlushScheduler) Drain(ctx context.Context) (DrainResult, error) {
	if !s.lock.TryAcquire(ctx) {
		s.logger.Debug("drain lease held elsewhere, skipping cycle")
		return DrainResult{}, nil
	}
	defer s.lock.Release(ctx)

	start := time.Now()
	defer func() {
		s.metrics.observeFlushDuration(time.Since(start).Seconds())
	}()

	var result DrainResult

	views, viewErr := s.drainViews(ctx)
	result.Views = views

	clicks, clickErr := s.drainClicks(ctx)
	result.Clicks = clicks

	if viewErr != nil || clickErr != nil {
		s.metrics.incFlushFailures()
	}
	return result, errors.Join(viewErr, clickErr)
}

func (s *FlushScheduler) drainViews(ctx context.Context) (int, error) {
	payloads, err := s.queue.Peek(ctx, model.ViewQueueKey, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("peek views: %w", err)
	}
	if len(payloads) == 0 {
		s.updateDepth(ctx, "view", model.ViewQueueKey)
		return 0, nil
	}

	records := make([]model.ViewRecord, 0, len(payloads))
	for _, payload := range payloads {
		var rec model.ViewRecord
		if err := json.Unmarshal(payload, &rec); err != nil || !rec.Valid() {
			// Malformed records are discarded, not retried.
			s.metrics.addDropped("view", "malformed_queued", 1)
			continue
		}
		records = append(records, rec)
	}

	if err := s.repo.InsertPageViewsBatch(ctx, records); err != nil {
		if !errors.Is(err, repository.ErrDuplicate) {
			// Leave the peeked range untrimmed for the next attempt.
			return 0, fmt.Errorf("flush views: %w", err)
		}
		s.logger.Debug("duplicate view batch treated as applied", zap.Int("count", len(records)))
	}

	// Trim exactly what was peeked: a duplicate conflict means the rows
	// are already in the database, not that they need another pass.
	if err := s.queue.Trim(ctx, model.ViewQueueKey, int64(len(payloads))); err != nil {
		return 0, fmt.Errorf("trim views: %w", err)
	}

	s.metrics.addFlushed("view", len(records))
	s.updateDepth(ctx, "view", model.ViewQueueKey)
	s.logger.Info("flushed page views",
		zap.Int("inserted", len(records)),
		zap.Int("trimmed", len(payloads)),
	)
	return len(records), nil
}

func (s *FlushScheduler) drainClicks(ctx context.Context) (int, error) {
	payloads, err := s.queue.Peek(ctx, model.ClickQueueKey, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("peek clicks: %w", err)
	}
	if len(payloads) == 0 {
		s.updateDepth(ctx, "click", model.ClickQueueKey)
		return 0, nil
	}

	records := make([]model.ClickRecord, 0, len(payloads))
	for _, payload := range payloads {
		var rec model.ClickRecord
		if err := json.Unmarshal(payload, &rec); err != nil || !rec.Valid() {
			s.metrics.addDropped("click", "malformed_queued", 1)
			continue
		}
		records = append(records, rec)
	}

	if err := s.repo.InsertLinkClicksBatch(ctx, records); err != nil {
		if !errors.Is(err, repository.ErrDuplicate) {
			return 0, fmt.Errorf("flush clicks: %w", err)
		}
		s.logger.Debug("duplicate click batch treated as applied", zap.Int("count", len(records)))
	}

	if err := s.queue.Trim(ctx, model.ClickQueueKey, int64(len(payloads))); err != nil {
		return 0, fmt.Errorf("trim clicks: %w", err)
	}

	s.metrics.addFlushed("click", len(records))
	s.updateDepth(ctx, "click", model.ClickQueueKey)
	s.logger.Info("flushed link clicks",
		zap.Int("inserted", len(records)),
		zap.Int("trimmed", len(payloads)),
	)
	return len(records), nil
}

func (s *FlushScheduler) updateDepth(ctx context.Context, kind, key string) {
	depth, err := s.queue.Len(ctx, key)
	if err != nil {
		return
	}
	s.metrics.setQueueDepth(kind, depth)
}
