package service

import (
	"context"
	"errors"
	"testing"

	"github.com/sifan077/TreePulse/internal/app/model"
	"github.com/sifan077/TreePulse/internal/app/repository"
)

func TestStatsService_GlobalStats_ComputedFromRepo(t *testing.T) {
	repo := &mockAnalyticsRepo{views: 42, clicks: 17}
	s := NewStatsService(repo, &mockLinktreeRepo{}, nil)

	stats, err := s.GlobalStats(context.Background())
	if err != nil {
		t.Fatalf("GlobalStats returned error: %v", err)
	}
	if stats.Views != 42 || stats.Clicks != 17 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.ComputedAt.IsZero() {
		t.Fatal("expected computed_at timestamp")
	}
}

func TestStatsService_LinktreeStats_ResolvesUID(t *testing.T) {
	repo := &mockAnalyticsRepo{views: 7, clicks: 3}
	trees := &mockLinktreeRepo{
		getFn: func(ctx context.Context, uid string) (*model.Linktree, error) {
			if uid != "ari" {
				return nil, repository.ErrLinktreeNotFound
			}
			return &model.Linktree{ID: testTreeID, UID: "ari"}, nil
		},
	}
	s := NewStatsService(repo, trees, nil)

	stats, err := s.LinktreeStats(context.Background(), "ari")
	if err != nil {
		t.Fatalf("LinktreeStats returned error: %v", err)
	}
	if stats.LinktreeID != testTreeID || stats.Views != 7 || stats.Clicks != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestStatsService_LinktreeStats_UnknownUID(t *testing.T) {
	s := NewStatsService(&mockAnalyticsRepo{}, &mockLinktreeRepo{
		getFn: func(ctx context.Context, uid string) (*model.Linktree, error) {
			return nil, repository.ErrLinktreeNotFound
		},
	}, nil)

	if _, err := s.LinktreeStats(context.Background(), "ghost"); !errors.Is(err, repository.ErrLinktreeNotFound) {
		t.Fatalf("expected ErrLinktreeNotFound, got %v", err)
	}
}

func TestStatsService_ClearAll_SurfacesErrors(t *testing.T) {
	dbErr := errors.New("permission denied")
	repo := &mockAnalyticsRepo{
		clearAllFn: func(ctx context.Context) (repository.ClearResult, error) {
			return repository.ClearResult{}, dbErr
		},
	}
	s := NewStatsService(repo, &mockLinktreeRepo{}, nil)

	if _, err := s.ClearAll(context.Background()); !errors.Is(err, dbErr) {
		t.Fatalf("expected repo error surfaced, got %v", err)
	}
}

func TestStatsService_ClearAll_ReportsCounts(t *testing.T) {
	repo := &mockAnalyticsRepo{
		clearAllFn: func(ctx context.Context) (repository.ClearResult, error) {
			return repository.ClearResult{Views: 100, Clicks: 25}, nil
		},
	}
	s := NewStatsService(repo, &mockLinktreeRepo{}, nil)

	result, err := s.ClearAll(context.Background())
	if err != nil {
		t.Fatalf("ClearAll returned error: %v", err)
	}
	if result.Views != 100 || result.Clicks != 25 {
		t.Fatalf("unexpected clear result: %+v", result)
	}
}
