package client

import (
	"testing"
	"time"
)

func TestDeduplicator_MarkThenHas_AllLayers(t *testing.T) {
	session := NewMemoryStore()
	persistent := NewMemoryStore()
	d := NewDeduplicator(session, persistent)

	if d.HasTracked(KindView, "ari") {
		t.Fatal("expected untracked key to report false")
	}

	d.MarkTracked(KindView, "ari")

	if !d.HasTracked(KindView, "ari") {
		t.Fatal("expected tracked key to report true")
	}
	if _, ok := session.Get("tp_view_ari"); !ok {
		t.Fatal("expected session layer to hold the key")
	}
	if _, ok := persistent.Get("tp_view_ari"); !ok {
		t.Fatal("expected persistent layer to hold the key")
	}

	// Kinds are independent namespaces.
	if d.HasTracked(KindClick, "ari") {
		t.Fatal("expected click kind to be untracked")
	}
}

func TestDeduplicator_PersistentHit_Promoted(t *testing.T) {
	persistent := NewMemoryStore()

	// First client writes the persistent entry.
	first := NewDeduplicator(NewMemoryStore(), persistent)
	first.MarkTracked(KindView, "ari")

	// A fresh client (new memory and session) still sees it and
	// promotes the hit into its faster layers.
	session := NewMemoryStore()
	second := NewDeduplicator(session, persistent)
	if !second.HasTracked(KindView, "ari") {
		t.Fatal("expected persistent entry to be found")
	}
	if _, ok := session.Get("tp_view_ari"); !ok {
		t.Fatal("expected persistent hit promoted into session layer")
	}
}

func TestDeduplicator_ExpiredEntry_PurgedAndAbsent(t *testing.T) {
	persistent := NewMemoryStore()
	d := NewDeduplicator(NewMemoryStore(), persistent)

	base := time.Now()
	d.now = func() time.Time { return base }
	d.MarkTracked(KindView, "ari")

	// A fresh client 31 days later: the persistent entry is expired.
	late := NewDeduplicator(NewMemoryStore(), persistent)
	late.now = func() time.Time { return base.Add(31 * 24 * time.Hour) }

	if late.HasTracked(KindView, "ari") {
		t.Fatal("expected expired entry to report false")
	}
	if _, ok := persistent.Get("tp_view_ari"); ok {
		t.Fatal("expected expired entry to be purged")
	}
}

func TestDeduplicator_CorruptPersistentEntry_Discarded(t *testing.T) {
	persistent := NewMemoryStore()
	_ = persistent.Set("tp_view_ari", "{not json")

	d := NewDeduplicator(NewMemoryStore(), persistent)
	if d.HasTracked(KindView, "ari") {
		t.Fatal("expected corrupt entry to report false")
	}
	if _, ok := persistent.Get("tp_view_ari"); ok {
		t.Fatal("expected corrupt entry to be deleted")
	}
}

func TestDeduplicator_NilStores_MemoryStillWorks(t *testing.T) {
	d := NewDeduplicator(nil, nil)

	d.MarkTracked(KindClick, "link1")
	if !d.HasTracked(KindClick, "link1") {
		t.Fatal("expected memory layer to work without storage")
	}
}
