package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sifan077/TreePulse/internal/app/model"
)

// ErrDuplicate signals that a batch insert hit a unique constraint.
// Duplicate submissions are expected from retried flushes and are
// treated as already applied by callers.
var ErrDuplicate = errors.New("duplicate analytics record")

const pgUniqueViolation = "23505"

// ClearResult reports what an administrative clear removed.
type ClearResult struct {
	Views  int64 `json:"views"`
	Clicks int64 `json:"clicks"`
}

// AnalyticsRepository is the durable sink of the ingestion pipeline.
// The insert paths run on the raw pgx pool so each batch is a single
// multi-row statement and unique violations surface as typed errors.
type AnalyticsRepository interface {
	InsertPageViewsBatch(ctx context.Context, records []model.ViewRecord) error
	InsertLinkClicksBatch(ctx context.Context, records []model.ClickRecord) error
	CountViews(ctx context.Context, linktreeID string) (int64, error)
	CountClicks(ctx context.Context, linktreeID string) (int64, error)
	CountAllViews(ctx context.Context) (int64, error)
	CountAllClicks(ctx context.Context) (int64, error)
	ClearAll(ctx context.Context) (ClearResult, error)
}

type analyticsRepository struct {
	pool *pgxpool.Pool
}

// NewAnalyticsRepository returns a pgx-backed AnalyticsRepository.
func NewAnalyticsRepository(pool *pgxpool.Pool) AnalyticsRepository {
	return &analyticsRepository{pool: pool}
}

func (r *analyticsRepository) InsertPageViewsBatch(ctx context.Context, records []model.ViewRecord) error {
	if len(records) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO page_views (id, linktree_id, ip_address, session_id, viewed_at) VALUES ")
	args := make([]interface{}, 0, len(records)*5)
	perTree := make(map[string]int64, len(records))

	for i, rec := range records {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 5
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5)
		args = append(args, uuid.New().String(), rec.LinktreeID, rec.IPAddress, nullable(rec.SessionID), rec.ViewedAt)
		perTree[rec.LinktreeID]++
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin page view batch: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, sb.String(), args...); err != nil {
		return classifyInsertErr("insert page views", err)
	}

	// Derived counter, kept in the same transaction as the rows it counts.
	for treeID, n := range perTree {
		if _, err := tx.Exec(ctx,
			"UPDATE linktrees SET view_count = view_count + $1, updated_at = NOW() WHERE id = $2",
			n, treeID,
		); err != nil {
			return fmt.Errorf("update view counters: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit page view batch: %w", err)
	}
	return nil
}

func (r *analyticsRepository) InsertLinkClicksBatch(ctx context.Context, records []model.ClickRecord) error {
	if len(records) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO link_clicks (id, link_id, linktree_id, ip_address, session_id, clicked_at) VALUES ")
	args := make([]interface{}, 0, len(records)*6)
	perLink := make(map[string]int64, len(records))

	for i, rec := range records {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 6
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5, base+6)
		args = append(args, uuid.New().String(), rec.LinkID, rec.LinktreeID, rec.IPAddress, nullable(rec.SessionID), rec.ClickedAt)
		perLink[rec.LinkID]++
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin link click batch: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, sb.String(), args...); err != nil {
		return classifyInsertErr("insert link clicks", err)
	}

	for linkID, n := range perLink {
		if _, err := tx.Exec(ctx,
			"UPDATE links SET click_count = click_count + $1, updated_at = NOW() WHERE id = $2",
			n, linkID,
		); err != nil {
			return fmt.Errorf("update click counters: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit link click batch: %w", err)
	}
	return nil
}

func (r *analyticsRepository) CountViews(ctx context.Context, linktreeID string) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM page_views WHERE linktree_id = $1", linktreeID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count views: %w", err)
	}
	return n, nil
}

func (r *analyticsRepository) CountClicks(ctx context.Context, linktreeID string) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM link_clicks WHERE linktree_id = $1", linktreeID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count clicks: %w", err)
	}
	return n, nil
}

func (r *analyticsRepository) CountAllViews(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM page_views").Scan(&n); err != nil {
		return 0, fmt.Errorf("count all views: %w", err)
	}
	return n, nil
}

func (r *analyticsRepository) CountAllClicks(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM link_clicks").Scan(&n); err != nil {
		return 0, fmt.Errorf("count all clicks: %w", err)
	}
	return n, nil
}

// ClearAll deletes every analytics row and resets the derived counters.
// Administrator-triggered; errors here are surfaced, not swallowed.
func (r *analyticsRepository) ClearAll(ctx context.Context) (ClearResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return ClearResult{}, fmt.Errorf("begin clear: %w", err)
	}
	defer tx.Rollback(ctx)

	var result ClearResult

	tag, err := tx.Exec(ctx, "DELETE FROM page_views")
	if err != nil {
		return ClearResult{}, fmt.Errorf("clear page views: %w", err)
	}
	result.Views = tag.RowsAffected()

	tag, err = tx.Exec(ctx, "DELETE FROM link_clicks")
	if err != nil {
		return ClearResult{}, fmt.Errorf("clear link clicks: %w", err)
	}
	result.Clicks = tag.RowsAffected()

	if _, err := tx.Exec(ctx, "UPDATE linktrees SET view_count = 0"); err != nil {
		return ClearResult{}, fmt.Errorf("reset view counters: %w", err)
	}
	if _, err := tx.Exec(ctx, "UPDATE links SET click_count = 0"); err != nil {
		return ClearResult{}, fmt.Errorf("reset click counters: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return ClearResult{}, fmt.Errorf("commit clear: %w", err)
	}
	return result, nil
}

func classifyInsertErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%s: %w", op, ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
