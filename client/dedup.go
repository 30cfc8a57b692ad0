package client

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Kind discriminates the two event variants flowing through the client.
type Kind string

const (
	KindView  Kind = "view"
	KindClick Kind = "click"
)

// Dedup state older than this is treated as absent, so a repeat visitor
// counts again after a month.
const dedupMaxAge = 30 * 24 * time.Hour

// dedupEntry is the persisted form of a tracked key.
type dedupEntry struct {
	Timestamp int64  `json:"timestamp"`
	ID        string `json:"id"`
}

// Deduplicator decides whether a view or click was already reported,
// layering three lifetimes: an in-memory set (this process), a
// session-scoped store, and a persistent store with a 30-day expiry.
// It is advisory only — it cuts network chatter, while true uniqueness
// is enforced by the server's database.
type Deduplicator struct {
	mu         sync.Mutex
	memory     map[string]struct{}
	session    Store
	persistent Store
	now        func() time.Time
}

// NewDeduplicator builds a deduplicator over the given session and
// persistent stores. Either store may be nil; the memory layer always
// works.
func NewDeduplicator(session, persistent Store) *Deduplicator {
	return &Deduplicator{
		memory:     make(map[string]struct{}),
		session:    session,
		persistent: persistent,
		now:        time.Now,
	}
}

// HasTracked checks memory, then session, then persistent state,
// promoting hits from slower layers into faster ones. An expired
// persistent entry is purged and reported as absent.
func (d *Deduplicator) HasTracked(kind Kind, key string) bool {
	storageKey := dedupKey(kind, key)

	d.mu.Lock()
	_, inMemory := d.memory[storageKey]
	d.mu.Unlock()
	if inMemory {
		return true
	}

	if d.session != nil {
		if _, ok := d.session.Get(storageKey); ok {
			d.remember(storageKey)
			return true
		}
	}

	if d.persistent != nil {
		if raw, ok := d.persistent.Get(storageKey); ok {
			var entry dedupEntry
			if err := json.Unmarshal([]byte(raw), &entry); err != nil {
				d.persistent.Delete(storageKey)
				return false
			}
			age := d.now().Sub(time.UnixMilli(entry.Timestamp))
			if age > dedupMaxAge {
				d.persistent.Delete(storageKey)
				return false
			}
			d.promote(storageKey)
			return true
		}
	}

	return false
}

// MarkTracked records the key in all three layers. Storage failures are
// swallowed: at minimum the memory layer holds for the rest of the
// process lifetime.
func (d *Deduplicator) MarkTracked(kind Kind, key string) {
	storageKey := dedupKey(kind, key)
	d.remember(storageKey)

	if d.session != nil {
		_ = d.session.Set(storageKey, "1")
	}
	if d.persistent != nil {
		entry := dedupEntry{
			Timestamp: d.now().UnixMilli(),
			ID:        key,
		}
		if raw, err := json.Marshal(entry); err == nil {
			_ = d.persistent.Set(storageKey, string(raw))
		}
	}
}

func (d *Deduplicator) remember(storageKey string) {
	d.mu.Lock()
	d.memory[storageKey] = struct{}{}
	d.mu.Unlock()
}

// promote copies a persistent hit into the faster layers.
func (d *Deduplicator) promote(storageKey string) {
	d.remember(storageKey)
	if d.session != nil {
		_ = d.session.Set(storageKey, "1")
	}
}

func dedupKey(kind Kind, key string) string {
	return fmt.Sprintf("tp_%s_%s", kind, key)
}
