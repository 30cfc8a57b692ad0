package client

import (
	"context"
	"errors"
	"testing"
	"time"
)

type mockSender struct {
	sendFn  func(ctx context.Context, batch BatchPayload) error
	calls   int
	batches []BatchPayload
}

func (m *mockSender) SendBatch(ctx context.Context, batch BatchPayload) error {
	m.calls++
	m.batches = append(m.batches, batch)
	if m.sendFn != nil {
		return m.sendFn(ctx, batch)
	}
	return nil
}

func TestQueue_FlushEmpty_NoNetworkCall(t *testing.T) {
	sender := &mockSender{}
	q := NewQueue(NewMemoryStore(), sender, nil)

	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}
	if sender.calls != 0 {
		t.Fatalf("expected no network call for empty queue, got %d", sender.calls)
	}
}

func TestQueue_EnqueueInvalid_Dropped(t *testing.T) {
	q := NewQueue(NewMemoryStore(), &mockSender{}, nil)

	q.EnqueueView("")
	q.EnqueueClick("", "tree")
	q.EnqueueClick("link", "")

	if n := q.Len(); n != 0 {
		t.Fatalf("expected empty queue, got %d events", n)
	}
}

func TestQueue_Flush_PartitionsByKind(t *testing.T) {
	sender := &mockSender{}
	q := NewQueue(NewMemoryStore(), sender, nil)

	q.EnqueueView("ari")
	q.EnqueueView("ben")
	q.EnqueueClick("clh3k2j9a0001qzrm5b8f7x2d", "clh3k2j9a0002qzrm5b8f7x2e")

	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}
	if sender.calls != 1 {
		t.Fatalf("expected one batched request, got %d", sender.calls)
	}
	batch := sender.batches[0]
	if len(batch.Views) != 2 || len(batch.Clicks) != 1 {
		t.Fatalf("unexpected partition: %d views, %d clicks", len(batch.Views), len(batch.Clicks))
	}
	if q.Len() != 0 {
		t.Fatalf("expected queue cleared after successful flush, got %d", q.Len())
	}
}

func TestQueue_FailedFlush_RestoresEvents(t *testing.T) {
	sendErr := errors.New("network down")
	var queueDuringSend *Queue
	sender := &mockSender{
		sendFn: func(ctx context.Context, batch BatchPayload) error {
			// Simulate an event arriving while the flush is in flight.
			queueDuringSend.EnqueueView("late")
			return sendErr
		},
	}
	q := NewQueue(NewMemoryStore(), sender, nil)
	queueDuringSend = q

	q.EnqueueView("ari")
	q.EnqueueView("ben")

	if err := q.Flush(context.Background()); err == nil {
		t.Fatal("expected flush error")
	}

	// No loss on failure: both originals plus the mid-flight arrival.
	if n := q.Len(); n != 3 {
		t.Fatalf("expected 3 events after failed flush, got %d", n)
	}

	sender.sendFn = nil
	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("retry flush failed: %v", err)
	}
	retried := sender.batches[len(sender.batches)-1]
	if len(retried.Views) != 3 {
		t.Fatalf("expected 3 views retried, got %d", len(retried.Views))
	}
	// Snapshot goes back in front of later arrivals.
	if retried.Views[0].UID != "ari" || retried.Views[2].UID != "late" {
		t.Fatalf("unexpected retry order: %+v", retried.Views)
	}
}

func TestQueue_Capacity_EvictsOldestAndFlushes(t *testing.T) {
	sendErr := errors.New("network down")
	sender := &mockSender{
		sendFn: func(ctx context.Context, batch BatchPayload) error {
			return sendErr
		},
	}
	q := NewQueue(NewMemoryStore(), sender, nil)

	for i := 0; i < maxQueueSize+1; i++ {
		q.EnqueueView(uidForIndex(i))
	}

	if sender.calls == 0 {
		t.Fatal("expected an automatic flush attempt at capacity")
	}
	if n := q.Len(); n != maxQueueSize {
		t.Fatalf("expected exactly %d retained events, got %d", maxQueueSize, n)
	}

	// Oldest entry is the one evicted.
	events := q.loadLocked()
	if events[0].UID != uidForIndex(1) {
		t.Fatalf("expected oldest event evicted, head is %s", events[0].UID)
	}
}

func TestQueue_StaleEvents_PurgedOnRead(t *testing.T) {
	sender := &mockSender{}
	q := NewQueue(NewMemoryStore(), sender, nil)

	base := time.Now()
	q.now = func() time.Time { return base.Add(-8 * 24 * time.Hour) }
	q.EnqueueView("old")

	q.now = func() time.Time { return base }
	q.EnqueueView("fresh")

	if n := q.Len(); n != 1 {
		t.Fatalf("expected stale event purged, got %d events", n)
	}
	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}
	if len(sender.batches[0].Views) != 1 || sender.batches[0].Views[0].UID != "fresh" {
		t.Fatalf("unexpected flushed batch: %+v", sender.batches[0])
	}
}

func uidForIndex(i int) string {
	return string(rune('a'+i%26)) + string(rune('a'+(i/26)%26))
}
