package service

import (
	"context"
	"encoding/json"
	"regexp"
	"sync"
	"time"

	"github.com/sifan077/TreePulse/internal/app/model"
	"github.com/sifan077/TreePulse/internal/app/queue"
	"github.com/sifan077/TreePulse/internal/app/repository"
	"go.uber.org/zap"
)

var (
	// Linktree UIDs are user-chosen public handles.
	uidPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
	// Row identifiers are cuid-format strings minted by the CRUD layer.
	idPattern = regexp.MustCompile(`^c[a-z0-9]{20,31}$`)
)

// BatchInput is a client-submitted batch of view and click events.
type BatchInput struct {
	Views  []ViewInput  `json:"views"`
	Clicks []ClickInput `json:"clicks"`
}

// ViewInput identifies a viewed linktree by its public UID.
type ViewInput struct {
	UID string `json:"uid"`
}

// ClickInput carries both identifiers so ingress needs no lookup; the
// rendered page already knows them.
type ClickInput struct {
	LinkID     string `json:"link_id"`
	LinktreeID string `json:"linktree_id"`
}

// RequestMeta is the ingress-side metadata attached to every record.
type RequestMeta struct {
	IPAddress string
	SessionID string
}

// BatchResult reports how many events were accepted onto the queue.
type BatchResult struct {
	Views  int `json:"views"`
	Clicks int `json:"clicks"`
}

// IngestService turns client batches into validated, self-contained
// queue records. It never fails a request over a bad event: malformed
// input is dropped at this boundary and backend errors are swallowed.
type IngestService struct {
	queue   queue.EventQueue
	trees   repository.LinktreeRepository
	tap     *EventTap
	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewIngestService creates an ingest service. tap and metrics may be nil.
func NewIngestService(
	q queue.EventQueue,
	trees repository.LinktreeRepository,
	tap *EventTap,
	logger *zap.Logger,
	metrics *Metrics,
) *IngestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestService{
		queue:   q,
		trees:   trees,
		tap:     tap,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// IngestBatch validates and enqueues one client batch. Views and clicks
// are independent streams, so they are processed concurrently with no
// ordering guarantee between them. A record is never constructed
// without an identifier and a non-empty IP address.
func (s *IngestService) IngestBatch(ctx context.Context, input BatchInput, meta RequestMeta) BatchResult {
	if meta.IPAddress == "" {
		s.metrics.addDropped("view", "missing_ip", len(input.Views))
		s.metrics.addDropped("click", "missing_ip", len(input.Clicks))
		return BatchResult{}
	}

	var result BatchResult
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		result.Views = s.ingestViews(ctx, input.Views, meta)
	}()
	go func() {
		defer wg.Done()
		result.Clicks = s.ingestClicks(ctx, input.Clicks, meta)
	}()

	wg.Wait()
	return result
}

// ingestViews resolves all UIDs with one bulk query, then enqueues a
// record per resolved UID. One lookup per batch, never per event.
func (s *IngestService) ingestViews(ctx context.Context, views []ViewInput, meta RequestMeta) int {
	if len(views) == 0 {
		return 0
	}

	uids := make([]string, 0, len(views))
	for _, v := range views {
		if !uidPattern.MatchString(v.UID) {
			s.metrics.addDropped("view", "malformed", 1)
			continue
		}
		uids = append(uids, v.UID)
	}
	if len(uids) == 0 {
		return 0
	}

	resolved, err := s.trees.ResolveUIDs(ctx, uids)
	if err != nil {
		s.logger.Error("failed to resolve linktree uids", zap.Int("count", len(uids)), zap.Error(err))
		s.metrics.addDropped("view", "resolve_error", len(uids))
		return 0
	}

	now := s.now().UTC()
	accepted := 0
	for _, uid := range uids {
		treeID, ok := resolved[uid]
		if !ok {
			s.metrics.addDropped("view", "unknown_uid", 1)
			continue
		}
		rec := model.ViewRecord{
			LinktreeID: treeID,
			IPAddress:  meta.IPAddress,
			SessionID:  meta.SessionID,
			ViewedAt:   now,
		}
		if s.enqueue(ctx, model.ViewQueueKey, rec) {
			s.tap.PublishView(rec)
			accepted++
		} else {
			s.metrics.addDropped("view", "queue_error", 1)
		}
	}

	s.metrics.addIngested("view", accepted)
	return accepted
}

// ingestClicks trusts the client-supplied linktree id (known from the
// rendered page) and only checks that both identifiers are well formed.
func (s *IngestService) ingestClicks(ctx context.Context, clicks []ClickInput, meta RequestMeta) int {
	if len(clicks) == 0 {
		return 0
	}

	now := s.now().UTC()
	accepted := 0
	for _, c := range clicks {
		if !idPattern.MatchString(c.LinkID) || !idPattern.MatchString(c.LinktreeID) {
			s.metrics.addDropped("click", "malformed", 1)
			continue
		}
		rec := model.ClickRecord{
			LinkID:     c.LinkID,
			LinktreeID: c.LinktreeID,
			IPAddress:  meta.IPAddress,
			SessionID:  meta.SessionID,
			ClickedAt:  now,
		}
		if s.enqueue(ctx, model.ClickQueueKey, rec) {
			s.tap.PublishClick(rec)
			accepted++
		} else {
			s.metrics.addDropped("click", "queue_error", 1)
		}
	}

	s.metrics.addIngested("click", accepted)
	return accepted
}

func (s *IngestService) enqueue(ctx context.Context, key string, record interface{}) bool {
	payload, err := json.Marshal(record)
	if err != nil {
		s.logger.Error("failed to marshal queue record", zap.String("queue", key), zap.Error(err))
		return false
	}
	if err := s.queue.Append(ctx, key, payload); err != nil {
		// Best-effort telemetry: a down store drops events, it never
		// errors the request.
		s.logger.Warn("failed to append to server queue", zap.String("queue", key), zap.Error(err))
		return false
	}
	return true
}
