package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/sifan077/TreePulse/internal/app/model"
	"gorm.io/gorm"
)

var (
	// ErrLinktreeNotFound signals that the requested linktree does not exist.
	ErrLinktreeNotFound = errors.New("linktree not found")
)

const (
	uidFilterMaxAge        = 5 * time.Minute
	uidFilterFalsePositive = 0.01
	uidFilterMinCapacity   = 1024
)

// LinktreeRepository defines the data access contract for linktrees.
type LinktreeRepository interface {
	// ResolveUIDs translates a set of public UIDs into linktree IDs in a
	// single query. UIDs that do not resolve are absent from the map.
	ResolveUIDs(ctx context.Context, uids []string) (map[string]string, error)
	GetByUID(ctx context.Context, uid string) (*model.Linktree, error)
}

type linktreeRepository struct {
	db *gorm.DB

	mu          sync.RWMutex
	uidFilter   *bloom.BloomFilter
	filterBuilt time.Time
	refreshing  bool
}

// NewLinktreeRepository returns a GORM-backed LinktreeRepository.
func NewLinktreeRepository(db *gorm.DB) LinktreeRepository {
	return &linktreeRepository{db: db}
}

func (r *linktreeRepository) ResolveUIDs(ctx context.Context, uids []string) (map[string]string, error) {
	candidates := r.filterKnown(ctx, uids)
	if len(candidates) == 0 {
		return map[string]string{}, nil
	}

	var rows []model.Linktree
	if err := r.db.WithContext(ctx).
		Select("id", "uid").
		Where("uid IN ?", candidates).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	resolved := make(map[string]string, len(rows))
	for _, row := range rows {
		resolved[row.UID] = row.ID
	}
	return resolved, nil
}

func (r *linktreeRepository) GetByUID(ctx context.Context, uid string) (*model.Linktree, error) {
	var tree model.Linktree
	if err := r.db.WithContext(ctx).Where("uid = ?", uid).First(&tree).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLinktreeNotFound
		}
		return nil, err
	}
	return &tree, nil
}

// filterKnown drops UIDs the bloom filter has definitely never seen.
// The filter is a negative cache only: a false positive just costs the
// IN query, and a stale filter is replaced in the background so new
// linktrees are invisible for at most uidFilterMaxAge.
func (r *linktreeRepository) filterKnown(ctx context.Context, uids []string) []string {
	r.mu.RLock()
	filter := r.uidFilter
	stale := filter == nil || time.Since(r.filterBuilt) > uidFilterMaxAge
	r.mu.RUnlock()

	if stale {
		r.refreshFilter(ctx)
	}
	if filter == nil {
		return uids
	}

	candidates := uids[:0:0]
	for _, uid := range uids {
		if filter.TestString(uid) {
			candidates = append(candidates, uid)
		}
	}
	return candidates
}

// refreshFilter rebuilds the UID filter at most once at a time; callers
// keep using the previous filter until the rebuild lands.
func (r *linktreeRepository) refreshFilter(ctx context.Context) {
	r.mu.Lock()
	if r.refreshing {
		r.mu.Unlock()
		return
	}
	r.refreshing = true
	r.mu.Unlock()

	go func() {
		defer func() {
			r.mu.Lock()
			r.refreshing = false
			r.mu.Unlock()
		}()

		var uids []string
		if err := r.db.WithContext(context.WithoutCancel(ctx)).
			Model(&model.Linktree{}).
			Pluck("uid", &uids).Error; err != nil {
			return
		}

		capacity := uint(len(uids) * 2)
		if capacity < uidFilterMinCapacity {
			capacity = uidFilterMinCapacity
		}
		filter := bloom.NewWithEstimates(capacity, uidFilterFalsePositive)
		for _, uid := range uids {
			filter.AddString(uid)
		}

		r.mu.Lock()
		r.uidFilter = filter
		r.filterBuilt = time.Now()
		r.mu.Unlock()
	}()
}
