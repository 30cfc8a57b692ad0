package model

import "time"

// Linktree describes a public linktree page owned by a user. CRUD for
// linktrees lives outside this service; the pipeline only resolves UIDs
// and maintains the derived view counter.
type Linktree struct {
	ID        string    `db:"id" gorm:"primaryKey;size:32"`
	UID       string    `db:"uid" gorm:"uniqueIndex;size:64;not null"`
	ViewCount int64     `db:"view_count" gorm:"not null;default:0"`
	CreatedAt time.Time `db:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `db:"updated_at" gorm:"autoUpdateTime"`
}

// Link is a single entry on a linktree page.
type Link struct {
	ID         string    `db:"id" gorm:"primaryKey;size:32"`
	LinktreeID string    `db:"linktree_id" gorm:"size:32;not null;index"`
	ClickCount int64     `db:"click_count" gorm:"not null;default:0"`
	CreatedAt  time.Time `db:"created_at" gorm:"autoCreateTime"`
	UpdatedAt  time.Time `db:"updated_at" gorm:"autoUpdateTime"`
}
