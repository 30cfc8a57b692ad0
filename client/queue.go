package client

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	queueStorageKey = "analytics_queue"
	maxQueueSize    = 100
	maxEventAge     = 7 * 24 * time.Hour
)

// QueuedEvent is the tagged union persisted in the local queue. Kind
// selects the variant; consumers switch on it exhaustively.
type QueuedEvent struct {
	Kind         Kind   `json:"kind"`
	UID          string `json:"uid,omitempty"`
	LinkID       string `json:"link_id,omitempty"`
	LinktreeID   string `json:"linktree_id,omitempty"`
	EnqueuedAtMs int64  `json:"enqueued_at_ms"`
}

// BatchPayload is the wire shape of one delivery to the ingest endpoint.
type BatchPayload struct {
	Views  []ViewEvent  `json:"views"`
	Clicks []ClickEvent `json:"clicks"`
}

// ViewEvent identifies a viewed linktree by public UID.
type ViewEvent struct {
	UID string `json:"uid"`
}

// ClickEvent identifies a clicked link and its linktree.
type ClickEvent struct {
	LinkID     string `json:"link_id"`
	LinktreeID string `json:"linktree_id"`
}

// Sender delivers one batch; any error means the whole batch is retried
// on the next flush.
type Sender interface {
	SendBatch(ctx context.Context, batch BatchPayload) error
}

// Queue accumulates events in persistent local storage and delivers
// them in batches, minimizing request count. It tolerates everything:
// invalid events are dropped, storage failures fall back to losing
// events, and delivery failures restore the batch for the next flush.
type Queue struct {
	store  Store
	sender Sender
	logger *zap.Logger

	mu       sync.Mutex // guards the load-modify-save cycle on store
	flushing atomic.Bool
	now      func() time.Time
}

// NewQueue builds a queue over the given persistent store and sender.
// logger may be nil.
func NewQueue(store Store, sender Sender, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		store:  store,
		sender: sender,
		logger: logger,
		now:    time.Now,
	}
}

// EnqueueView queues a page view. Empty UIDs are silently dropped;
// this is best-effort telemetry, not a correctness-critical path.
func (q *Queue) EnqueueView(uid string) {
	if uid == "" {
		return
	}
	q.enqueue(QueuedEvent{
		Kind:         KindView,
		UID:          uid,
		EnqueuedAtMs: q.now().UnixMilli(),
	})
}

// EnqueueClick queues a link click. Both identifiers are required.
func (q *Queue) EnqueueClick(linkID, linktreeID string) {
	if linkID == "" || linktreeID == "" {
		return
	}
	q.enqueue(QueuedEvent{
		Kind:         KindClick,
		LinkID:       linkID,
		LinktreeID:   linktreeID,
		EnqueuedAtMs: q.now().UnixMilli(),
	})
}

func (q *Queue) enqueue(ev QueuedEvent) {
	q.mu.Lock()
	events := q.loadLocked()
	events = append(events, ev)
	// Oldest entries go first when the cap overflows.
	if len(events) > maxQueueSize {
		events = events[len(events)-maxQueueSize:]
	}
	full := len(events) >= maxQueueSize
	q.saveLocked(events)
	q.mu.Unlock()

	if full {
		if err := q.Flush(context.Background()); err != nil {
			q.logger.Debug("capacity flush failed, batch restored", zap.Error(err))
		}
	}
}

// Len reports the number of queued (non-stale) events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.loadLocked())
}

// Flush delivers all queued events in one batched request. At most one
// flush is in flight: concurrent calls are no-ops while one runs, which
// collapses the timer, capacity, and click triggers. The queue is
// cleared optimistically before sending; on failure the snapshot is
// restored, merged with anything enqueued meanwhile.
func (q *Queue) Flush(ctx context.Context) error {
	if !q.flushing.CompareAndSwap(false, true) {
		return nil
	}
	defer q.flushing.Store(false)

	q.mu.Lock()
	snapshot := q.loadLocked()
	if len(snapshot) == 0 {
		q.mu.Unlock()
		// Flushing an empty queue issues no network call.
		return nil
	}
	q.saveLocked(nil)
	q.mu.Unlock()

	batch := partition(snapshot)
	if err := q.sender.SendBatch(ctx, batch); err != nil {
		q.restore(snapshot)
		return err
	}
	return nil
}

// restore puts a failed batch back in front of whatever arrived during
// the attempt, so nothing enqueued mid-flush is lost.
func (q *Queue) restore(snapshot []QueuedEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()

	arrived := q.loadLocked()
	merged := make([]QueuedEvent, 0, len(snapshot)+len(arrived))
	merged = append(merged, snapshot...)
	merged = append(merged, arrived...)
	if len(merged) > maxQueueSize {
		merged = merged[len(merged)-maxQueueSize:]
	}
	q.saveLocked(merged)
}

// loadLocked reads the persisted queue, purging entries older than the
// max age on every read so abandoned state cannot grow unbounded.
func (q *Queue) loadLocked() []QueuedEvent {
	raw, ok := q.store.Get(queueStorageKey)
	if !ok || raw == "" {
		return nil
	}

	var events []QueuedEvent
	if err := json.Unmarshal([]byte(raw), &events); err != nil {
		q.store.Delete(queueStorageKey)
		return nil
	}

	cutoff := q.now().Add(-maxEventAge).UnixMilli()
	fresh := events[:0]
	for _, ev := range events {
		if ev.EnqueuedAtMs >= cutoff {
			fresh = append(fresh, ev)
		}
	}
	return fresh
}

func (q *Queue) saveLocked(events []QueuedEvent) {
	if len(events) == 0 {
		q.store.Delete(queueStorageKey)
		return
	}
	raw, err := json.Marshal(events)
	if err != nil {
		return
	}
	if err := q.store.Set(queueStorageKey, string(raw)); err != nil {
		q.logger.Debug("failed to persist local queue", zap.Error(err))
	}
}

// partition splits the tagged events into the batch wire shape. The
// switch is exhaustive over Kind; unknown kinds (from a newer client
// version's state file) are dropped.
func partition(events []QueuedEvent) BatchPayload {
	var batch BatchPayload
	for _, ev := range events {
		switch ev.Kind {
		case KindView:
			batch.Views = append(batch.Views, ViewEvent{UID: ev.UID})
		case KindClick:
			batch.Clicks = append(batch.Clicks, ClickEvent{
				LinkID:     ev.LinkID,
				LinktreeID: ev.LinktreeID,
			})
		}
	}
	return batch
}
