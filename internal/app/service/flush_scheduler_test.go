package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sifan077/TreePulse/internal/app/model"
	"github.com/sifan077/TreePulse/internal/app/repository"
)

// fakeQueue is an in-memory EventQueue with the same peek/trim
// semantics as the Redis lists.
type fakeQueue struct {
	mu        sync.Mutex
	lists     map[string][][]byte
	appendErr error
	peekErr   error
	trimErr   error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{lists: make(map[string][][]byte)}
}

func (q *fakeQueue) Append(ctx context.Context, key string, payload []byte) error {
	if q.appendErr != nil {
		return q.appendErr
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lists[key] = append(q.lists[key], payload)
	return nil
}

func (q *fakeQueue) Peek(ctx context.Context, key string, max int64) ([][]byte, error) {
	if q.peekErr != nil {
		return nil, q.peekErr
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	list := q.lists[key]
	if int64(len(list)) > max {
		list = list[:max]
	}
	out := make([][]byte, len(list))
	copy(out, list)
	return out, nil
}

func (q *fakeQueue) Trim(ctx context.Context, key string, count int64) error {
	if q.trimErr != nil {
		return q.trimErr
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	list := q.lists[key]
	if int64(len(list)) <= count {
		delete(q.lists, key)
		return nil
	}
	q.lists[key] = list[count:]
	return nil
}

func (q *fakeQueue) Len(ctx context.Context, key string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.lists[key])), nil
}

type mockAnalyticsRepo struct {
	insertViewsFn  func(ctx context.Context, records []model.ViewRecord) error
	insertClicksFn func(ctx context.Context, records []model.ClickRecord) error
	clearAllFn     func(ctx context.Context) (repository.ClearResult, error)

	insertedViews  [][]model.ViewRecord
	insertedClicks [][]model.ClickRecord

	views  int64
	clicks int64
}

func (m *mockAnalyticsRepo) InsertPageViewsBatch(ctx context.Context, records []model.ViewRecord) error {
	m.insertedViews = append(m.insertedViews, records)
	if m.insertViewsFn != nil {
		return m.insertViewsFn(ctx, records)
	}
	return nil
}

func (m *mockAnalyticsRepo) InsertLinkClicksBatch(ctx context.Context, records []model.ClickRecord) error {
	m.insertedClicks = append(m.insertedClicks, records)
	if m.insertClicksFn != nil {
		return m.insertClicksFn(ctx, records)
	}
	return nil
}

func (m *mockAnalyticsRepo) CountViews(ctx context.Context, linktreeID string) (int64, error) {
	return m.views, nil
}

func (m *mockAnalyticsRepo) CountClicks(ctx context.Context, linktreeID string) (int64, error) {
	return m.clicks, nil
}

func (m *mockAnalyticsRepo) CountAllViews(ctx context.Context) (int64, error)  { return m.views, nil }
func (m *mockAnalyticsRepo) CountAllClicks(ctx context.Context) (int64, error) { return m.clicks, nil }

func (m *mockAnalyticsRepo) ClearAll(ctx context.Context) (repository.ClearResult, error) {
	if m.clearAllFn != nil {
		return m.clearAllFn(ctx)
	}
	return repository.ClearResult{}, nil
}

func queueViewRecords(t *testing.T, q *fakeQueue, n int) {
	t.Helper()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		rec := model.ViewRecord{
			LinktreeID: "clh3k2j9a0001qzrm5b8f7x2d",
			IPAddress:  "203.0.113.7",
			ViewedAt:   base.Add(time.Duration(i) * time.Second),
		}
		payload, err := json.Marshal(rec)
		if err != nil {
			t.Fatalf("marshal record: %v", err)
		}
		if err := q.Append(context.Background(), model.ViewQueueKey, payload); err != nil {
			t.Fatalf("append record: %v", err)
		}
	}
}

func TestFlushScheduler_DrainsBoundedChunks(t *testing.T) {
	q := newFakeQueue()
	repo := &mockAnalyticsRepo{}
	queueViewRecords(t, q, 1500)

	s := NewFlushScheduler(q, repo, nil, nil, nil, time.Minute, 1000)

	result, err := s.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain returned error: %v", err)
	}
	if result.Views != 1000 {
		t.Fatalf("expected 1000 views drained, got %d", result.Views)
	}
	remaining, _ := q.Len(context.Background(), model.ViewQueueKey)
	if remaining != 500 {
		t.Fatalf("expected 500 records left for the next cycle, got %d", remaining)
	}

	result, err = s.Drain(context.Background())
	if err != nil {
		t.Fatalf("second Drain returned error: %v", err)
	}
	if result.Views != 500 {
		t.Fatalf("expected 500 views on second cycle, got %d", result.Views)
	}
	remaining, _ = q.Len(context.Background(), model.ViewQueueKey)
	if remaining != 0 {
		t.Fatalf("expected empty queue, got %d", remaining)
	}
}

func TestFlushScheduler_DuplicateBatch_TrimmedAsApplied(t *testing.T) {
	q := newFakeQueue()
	repo := &mockAnalyticsRepo{
		insertViewsFn: func(ctx context.Context, records []model.ViewRecord) error {
			return repository.ErrDuplicate
		},
	}
	queueViewRecords(t, q, 3)

	s := NewFlushScheduler(q, repo, nil, nil, nil, time.Minute, 1000)

	if _, err := s.Drain(context.Background()); err != nil {
		t.Fatalf("expected duplicate conflict swallowed, got %v", err)
	}
	remaining, _ := q.Len(context.Background(), model.ViewQueueKey)
	if remaining != 0 {
		t.Fatalf("expected queue trimmed despite duplicate, got %d", remaining)
	}
}

func TestFlushScheduler_InsertFailure_LeavesQueueForRetry(t *testing.T) {
	q := newFakeQueue()
	dbErr := errors.New("connection reset")
	repo := &mockAnalyticsRepo{
		insertViewsFn: func(ctx context.Context, records []model.ViewRecord) error {
			return dbErr
		},
	}
	queueViewRecords(t, q, 5)

	s := NewFlushScheduler(q, repo, nil, nil, nil, time.Minute, 1000)

	if _, err := s.Drain(context.Background()); !errors.Is(err, dbErr) {
		t.Fatalf("expected insert error propagated, got %v", err)
	}
	remaining, _ := q.Len(context.Background(), model.ViewQueueKey)
	if remaining != 5 {
		t.Fatalf("expected records left untrimmed for retry, got %d", remaining)
	}
}

func TestFlushScheduler_MalformedRecords_DiscardedNotRetried(t *testing.T) {
	q := newFakeQueue()
	repo := &mockAnalyticsRepo{}

	_ = q.Append(context.Background(), model.ViewQueueKey, []byte("not json"))
	// Parses but incomplete: no IP address.
	incomplete, _ := json.Marshal(model.ViewRecord{LinktreeID: "x", ViewedAt: time.Now()})
	_ = q.Append(context.Background(), model.ViewQueueKey, incomplete)
	queueViewRecords(t, q, 2)

	s := NewFlushScheduler(q, repo, nil, nil, nil, time.Minute, 1000)

	result, err := s.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain returned error: %v", err)
	}
	if result.Views != 2 {
		t.Fatalf("expected 2 valid views inserted, got %d", result.Views)
	}
	if len(repo.insertedViews) != 1 || len(repo.insertedViews[0]) != 2 {
		t.Fatalf("expected one insert of 2 records, got %+v", repo.insertedViews)
	}
	// Malformed records are trimmed along with the batch, never retried.
	remaining, _ := q.Len(context.Background(), model.ViewQueueKey)
	if remaining != 0 {
		t.Fatalf("expected malformed records trimmed, got %d", remaining)
	}
}

func TestFlushScheduler_PeekThenPeek_SameRecords(t *testing.T) {
	q := newFakeQueue()
	queueViewRecords(t, q, 4)

	first, err := q.Peek(context.Background(), model.ViewQueueKey, 3)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	second, err := q.Peek(context.Background(), model.ViewQueueKey, 3)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("expected both peeks to return 3 records, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if string(first[i]) != string(second[i]) {
			t.Fatalf("peek is not idempotent at index %d", i)
		}
	}

	if err := q.Trim(context.Background(), model.ViewQueueKey, 3); err != nil {
		t.Fatalf("trim: %v", err)
	}
	rest, err := q.Peek(context.Background(), model.ViewQueueKey, 10)
	if err != nil {
		t.Fatalf("peek after trim: %v", err)
	}
	if len(rest) != 1 {
		t.Fatalf("expected 1 record after trim, got %d", len(rest))
	}
}

func TestFlushScheduler_StartTwice_SingleTimer(t *testing.T) {
	q := newFakeQueue()
	s := NewFlushScheduler(q, &mockAnalyticsRepo{}, nil, nil, nil, time.Hour, 1000)

	s.Start()
	s.Start() // no-op
	s.Stop()  // would panic on a double-started scheduler
}
