package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sifan077/TreePulse/internal/app/model"
	"github.com/sifan077/TreePulse/internal/app/repository"
)

// StatsService serves aggregate analytics with a read-through cache.
// Aggregates are always recomputable from Postgres; the cache only
// shields the database from repeated admin dashboard reads.
type StatsService struct {
	repo  repository.AnalyticsRepository
	trees repository.LinktreeRepository
	cache *AnalyticsCache
	now   func() time.Time
}

// NewStatsService creates a stats service. cache may be nil.
func NewStatsService(repo repository.AnalyticsRepository, trees repository.LinktreeRepository, cache *AnalyticsCache) *StatsService {
	return &StatsService{
		repo:  repo,
		trees: trees,
		cache: cache,
		now:   time.Now,
	}
}

// GlobalStats returns the site-wide view/click totals.
func (s *StatsService) GlobalStats(ctx context.Context) (model.Stats, error) {
	if stats, ok := s.cache.GetStats(ctx, GlobalStatsKey()); ok {
		return stats, nil
	}

	views, err := s.repo.CountAllViews(ctx)
	if err != nil {
		return model.Stats{}, fmt.Errorf("global stats: %w", err)
	}
	clicks, err := s.repo.CountAllClicks(ctx)
	if err != nil {
		return model.Stats{}, fmt.Errorf("global stats: %w", err)
	}

	stats := model.Stats{Views: views, Clicks: clicks, ComputedAt: s.now().UTC()}
	s.cache.SetStats(ctx, GlobalStatsKey(), stats)
	return stats, nil
}

// LinktreeStats returns the aggregates for one linktree by public UID.
func (s *StatsService) LinktreeStats(ctx context.Context, uid string) (model.Stats, error) {
	tree, err := s.trees.GetByUID(ctx, uid)
	if err != nil {
		return model.Stats{}, fmt.Errorf("linktree stats: %w", err)
	}

	if stats, ok := s.cache.GetStats(ctx, LinktreeStatsKey(tree.ID)); ok {
		return stats, nil
	}

	views, err := s.repo.CountViews(ctx, tree.ID)
	if err != nil {
		return model.Stats{}, fmt.Errorf("linktree stats: %w", err)
	}
	clicks, err := s.repo.CountClicks(ctx, tree.ID)
	if err != nil {
		return model.Stats{}, fmt.Errorf("linktree stats: %w", err)
	}

	stats := model.Stats{
		LinktreeID: tree.ID,
		Views:      views,
		Clicks:     clicks,
		ComputedAt: s.now().UTC(),
	}
	s.cache.SetStats(ctx, LinktreeStatsKey(tree.ID), stats)
	return stats, nil
}

// ClearAll removes every analytics row, resets derived counters, and
// invalidates all aggregate cache entries. Admin-only; errors surface.
func (s *StatsService) ClearAll(ctx context.Context) (repository.ClearResult, error) {
	result, err := s.repo.ClearAll(ctx)
	if err != nil {
		return repository.ClearResult{}, err
	}
	s.cache.Invalidate(ctx, InvalidateScope{Global: true, Pattern: AllStatsPattern()})
	return result, nil
}
