// Package runlock enforces the one-active-cycle invariant across
// processes. With Redis enabled the lock is shared by all replicas;
// otherwise a local no-op lock assumes a single instance.
package runlock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockKey = "github-events-pipeline:cycle-lock"

// Lock guards one ingestion cycle. Acquire is non-blocking: a held lock
// means the tick should be skipped, not queued.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
	Close() error
}

type redisLock struct {
	client *redis.Client
	ttl    time.Duration
	token  string
}

// NewRedisLock creates a Redis-backed cycle lock. ttl bounds how long a
// crashed holder can block other replicas.
func NewRedisLock(redisURL string, ttl time.Duration) (Lock, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &redisLock{
		client: client,
		ttl:    ttl,
		token:  uuid.New().String(),
	}, nil
}

func (l *redisLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, lockKey, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire cycle lock: %w", err)
	}
	return ok, nil
}

// Release deletes the lock only if this instance still holds it, so an
// expired-and-reacquired lock is never released out from under another
// holder.
func (l *redisLock) Release(ctx context.Context) error {
	script := `
		if redis.call('GET', KEYS[1]) == ARGV[1] then
			return redis.call('DEL', KEYS[1])
		end
		return 0
	`
	if err := l.client.Eval(ctx, script, []string{lockKey}, l.token).Err(); err != nil {
		return fmt.Errorf("release cycle lock: %w", err)
	}
	return nil
}

func (l *redisLock) Close() error {
	return l.client.Close()
}

// NoOpLock always grants the lock (single-instance deployments).
type NoOpLock struct{}

func (NoOpLock) Acquire(ctx context.Context) (bool, error) { return true, nil }
func (NoOpLock) Release(ctx context.Context) error         { return nil }
func (NoOpLock) Close() error                              { return nil }
