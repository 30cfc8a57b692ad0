// Package queue implements the durable server-side event buffer on
// Redis lists. Records are appended at the tail and drained from the
// head in two phases: Peek returns head records without removing them,
// Trim removes them only after the caller has landed them downstream.
// A crash between the two phases leaves the records for the next drain.
package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// EventQueue is the append/peek/trim contract shared by ingress and the
// flush scheduler.
type EventQueue interface {
	Append(ctx context.Context, key string, payload []byte) error
	Peek(ctx context.Context, key string, max int64) ([][]byte, error)
	Trim(ctx context.Context, key string, count int64) error
	Len(ctx context.Context, key string) (int64, error)
}

type redisEventQueue struct {
	client *redis.Client
}

// NewRedisEventQueue returns an EventQueue backed by Redis lists.
// A nil client is allowed: every operation degrades to a no-op so the
// request path never blocks on a missing store.
func NewRedisEventQueue(client *redis.Client) EventQueue {
	return &redisEventQueue{client: client}
}

func (q *redisEventQueue) Append(ctx context.Context, key string, payload []byte) error {
	if q.client == nil {
		return nil
	}
	if err := q.client.RPush(ctx, key, payload).Err(); err != nil {
		return fmt.Errorf("queue append %s: %w", key, err)
	}
	return nil
}

func (q *redisEventQueue) Peek(ctx context.Context, key string, max int64) ([][]byte, error) {
	if q.client == nil || max <= 0 {
		return nil, nil
	}
	values, err := q.client.LRange(ctx, key, 0, max-1).Result()
	if err != nil {
		return nil, fmt.Errorf("queue peek %s: %w", key, err)
	}
	payloads := make([][]byte, len(values))
	for i, v := range values {
		payloads[i] = []byte(v)
	}
	return payloads, nil
}

func (q *redisEventQueue) Trim(ctx context.Context, key string, count int64) error {
	if q.client == nil || count <= 0 {
		return nil
	}
	if err := q.client.LTrim(ctx, key, count, -1).Err(); err != nil {
		return fmt.Errorf("queue trim %s: %w", key, err)
	}
	return nil
}

func (q *redisEventQueue) Len(ctx context.Context, key string) (int64, error) {
	if q.client == nil {
		return 0, nil
	}
	n, err := q.client.LLen(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue len %s: %w", key, err)
	}
	return n, nil
}
