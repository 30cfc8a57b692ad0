package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sifan077/TreePulse/internal/app/model"
)

const (
	globalStatsKey       = "analytics:stats:global"
	linktreeStatsPrefix  = "analytics:stats:linktree:"
	allStatsPattern      = "analytics:stats:*"
	invalidateScanCount  = 100
	defaultStatsCacheTTL = time.Minute
)

// InvalidateScope selects which aggregate cache entries to drop.
// Fields combine: a clear-all passes Global plus the wildcard pattern.
type InvalidateScope struct {
	LinktreeID string
	Global     bool
	Pattern    string
}

// AnalyticsCache holds precomputed aggregates in Redis. Entries are
// derived and recomputable at any time; the cache is never the source
// of truth, and a missing or down backend just means a recompute.
type AnalyticsCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewAnalyticsCache creates a cache with the given TTL. client may be
// nil; every operation then degrades to a miss or no-op.
func NewAnalyticsCache(client *redis.Client, ttl time.Duration) *AnalyticsCache {
	if ttl <= 0 {
		ttl = defaultStatsCacheTTL
	}
	return &AnalyticsCache{client: client, ttl: ttl}
}

// GetStats returns the cached aggregate for key, or ok=false on miss,
// decode failure, or backend outage.
func (c *AnalyticsCache) GetStats(ctx context.Context, key string) (model.Stats, bool) {
	if c == nil || c.client == nil {
		return model.Stats{}, false
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return model.Stats{}, false
	}
	var stats model.Stats
	if err := json.Unmarshal(data, &stats); err != nil {
		return model.Stats{}, false
	}
	return stats, true
}

// SetStats stores an aggregate under key with the cache TTL. Failures
// are swallowed; the next read recomputes.
func (c *AnalyticsCache) SetStats(ctx context.Context, key string, stats model.Stats) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, key, data, c.ttl).Err()
}

// Invalidate drops the cache entries selected by scope so subsequent
// reads recompute from the database. A cache outage is a no-op, never
// an error: the entries expire on their own TTL anyway.
func (c *AnalyticsCache) Invalidate(ctx context.Context, scope InvalidateScope) {
	if c == nil || c.client == nil {
		return
	}

	if scope.LinktreeID != "" {
		_ = c.client.Del(ctx, LinktreeStatsKey(scope.LinktreeID)).Err()
	}
	if scope.Global {
		_ = c.client.Del(ctx, globalStatsKey).Err()
	}
	if scope.Pattern != "" {
		c.invalidatePattern(ctx, scope.Pattern)
	}
}

func (c *AnalyticsCache) invalidatePattern(ctx context.Context, pattern string) {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, invalidateScanCount).Result()
		if err != nil {
			return
		}
		if len(keys) > 0 {
			_ = c.client.Del(ctx, keys...).Err()
		}
		if next == 0 {
			return
		}
		cursor = next
	}
}

// GlobalStatsKey is the cache key of the global totals entry.
func GlobalStatsKey() string {
	return globalStatsKey
}

// LinktreeStatsKey is the cache key of a single linktree's aggregates.
func LinktreeStatsKey(linktreeID string) string {
	return linktreeStatsPrefix + linktreeID
}

// AllStatsPattern matches every aggregate cache entry.
func AllStatsPattern() string {
	return allStatsPattern
}
