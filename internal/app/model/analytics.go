package model

import "time"

// PageView is one recorded view of a linktree page. The unique index
// is the real dedup authority: a re-drained queue record re-inserts
// with the same timestamp and collides instead of double counting.
type PageView struct {
	ID         string    `db:"id" gorm:"primaryKey;size:36"`
	LinktreeID string    `db:"linktree_id" gorm:"size:32;not null;uniqueIndex:idx_page_views_dedup"`
	IPAddress  string    `db:"ip_address" gorm:"size:45;not null;uniqueIndex:idx_page_views_dedup"`
	SessionID  *string   `db:"session_id" gorm:"size:64"`
	ViewedAt   time.Time `db:"viewed_at" gorm:"not null;index;uniqueIndex:idx_page_views_dedup"`
}

// LinkClick is one recorded click on a linktree link.
type LinkClick struct {
	ID         string    `db:"id" gorm:"primaryKey;size:36"`
	LinkID     string    `db:"link_id" gorm:"size:32;not null;uniqueIndex:idx_link_clicks_dedup"`
	LinktreeID string    `db:"linktree_id" gorm:"size:32;not null;index"`
	IPAddress  string    `db:"ip_address" gorm:"size:45;not null;uniqueIndex:idx_link_clicks_dedup"`
	SessionID  *string   `db:"session_id" gorm:"size:64"`
	ClickedAt  time.Time `db:"clicked_at" gorm:"not null;index;uniqueIndex:idx_link_clicks_dedup"`
}

// ViewRecord is the denormalized wire form queued between ingress and
// the flush scheduler. It is self-contained so the flush path needs no
// joins or lookups.
type ViewRecord struct {
	LinktreeID string    `json:"linktree_id"`
	IPAddress  string    `json:"ip_address"`
	SessionID  string    `json:"session_id,omitempty"`
	ViewedAt   time.Time `json:"viewed_at"`
}

// Valid reports whether the record carries everything a PageView row needs.
func (r ViewRecord) Valid() bool {
	return r.LinktreeID != "" && r.IPAddress != "" && !r.ViewedAt.IsZero()
}

// ClickRecord is the queued wire form of a link click.
type ClickRecord struct {
	LinkID     string    `json:"link_id"`
	LinktreeID string    `json:"linktree_id"`
	IPAddress  string    `json:"ip_address"`
	SessionID  string    `json:"session_id,omitempty"`
	ClickedAt  time.Time `json:"clicked_at"`
}

// Valid reports whether the record carries everything a LinkClick row needs.
func (r ClickRecord) Valid() bool {
	return r.LinkID != "" && r.LinktreeID != "" && r.IPAddress != "" && !r.ClickedAt.IsZero()
}

// Stats is a recomputable aggregate served from cache with a short TTL.
type Stats struct {
	LinktreeID string    `json:"linktree_id,omitempty"`
	Views      int64     `json:"views"`
	Clicks     int64     `json:"clicks"`
	ComputedAt time.Time `json:"computed_at"`
}

// Redis keys of the durable per-type server queues.
const (
	ViewQueueKey  = "analytics:queue:views"
	ClickQueueKey = "analytics:queue:clicks"
)

// NATS subjects for the best-effort firehose of accepted records.
const (
	TapStreamName     = "ANALYTICS"
	TapViewSubject    = "analytics.views"
	TapClickSubject   = "analytics.clicks"
	TapStreamMaxBytes = 1024 * 1024 * 100 // 100MB
)
