package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const drainLockKey = "analytics:flush:lock"

// releaseScript deletes the lease only if this instance still owns it,
// so a slow cycle cannot release a lease that already expired and was
// re-acquired elsewhere.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// DrainLock serializes drain cycles across server instances sharing one
// queue store. Without it, two schedulers could both peek the same head
// records before either trims and double-insert them; the database's
// unique indexes make that harmless but wasteful.
type DrainLock struct {
	client *redis.Client
	ttl    time.Duration
	id     string
}

// NewDrainLock creates a lease with the given TTL. A nil client always
// grants the lease: with no shared store there is nothing to contend on.
func NewDrainLock(client *redis.Client, ttl time.Duration) *DrainLock {
	return &DrainLock{
		client: client,
		ttl:    ttl,
		id:     uuid.New().String(),
	}
}

// TryAcquire attempts to take the lease without blocking. Errors count
// as not acquired; the cycle is simply skipped and retried next tick.
// A nil lock always grants, matching the nil-client case.
func (l *DrainLock) TryAcquire(ctx context.Context) bool {
	if l == nil || l.client == nil {
		return true
	}
	ok, err := l.client.SetNX(ctx, drainLockKey, l.id, l.ttl).Result()
	if err != nil {
		return false
	}
	return ok
}

// Release gives the lease back if this instance still holds it.
func (l *DrainLock) Release(ctx context.Context) {
	if l == nil || l.client == nil {
		return
	}
	_ = releaseScript.Run(ctx, l.client, []string{drainLockKey}, l.id).Err()
}
