package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SweepLock elects the single replica that runs a scheduled job tick
type SweepLock interface {
	// Acquire returns a release func and true when the caller owns name for ttl
	Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, bool, error)
}

// releaseScript deletes the key only if it still holds our token, so a lease
// that expired and was taken by another replica is left alone
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// RedisSweepLock is a SET NX PX lease in Redis
type RedisSweepLock struct {
	client   *redis.Client
	prefix   string
	newToken func() string
}

// NewRedisSweepLock creates a lock backed by client
func NewRedisSweepLock(client *redis.Client) *RedisSweepLock {
	return &RedisSweepLock{
		client:   client,
		prefix:   "booking:sweep-lock:",
		newToken: func() string { return uuid.NewString() },
	}
}

// Acquire tries to take the lease without waiting
func (l *RedisSweepLock) Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, bool, error) {
	key := l.prefix + name
	token := l.newToken()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		if err := l.client.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("failed to release lock %s: %w", name, err)
		}
		return nil
	}
	return release, true, nil
}

// NoopSweepLock always grants the lease. Used when Redis is not configured;
// every replica then runs the jobs, which the status CAS tolerates.
type NoopSweepLock struct{}

// Acquire always succeeds
func (NoopSweepLock) Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, bool, error) {
	return func(context.Context) error { return nil }, true, nil
}
