// Package ratelimit throttles login attempts per client address.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ovpnpanel:login:"

// Throttle decides whether a client address may attempt another login
type Throttle interface {
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
	Fail(ctx context.Context, key string) error
	Reset(ctx context.Context, key string) error
}

var (
	_ Throttle = (*Limiter)(nil)
	_ Throttle = (*AuditLimiter)(nil)
)

// Limiter counts failed logins in Redis. A nil *Limiter allows everything.
type Limiter struct {
	client   *redis.Client
	attempts int
	window   time.Duration
}

// New creates a limiter allowing attempts failures per window
func New(client *redis.Client, attempts int, window time.Duration) *Limiter {
	return &Limiter{
		client:   client,
		attempts: attempts,
		window:   window,
	}
}

// Connect dials Redis at addr and verifies the connection
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   0,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// Allow reports whether key may try again and, if not, how long it has to
// wait. Redis errors fail open so an outage does not lock the admin out.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	if l == nil || l.client == nil {
		return true, 0, nil
	}

	count, err := l.client.Get(ctx, keyPrefix+key).Int()
	if err == redis.Nil {
		return true, 0, nil
	}
	if err != nil {
		return true, 0, fmt.Errorf("failed to read login attempts: %w", err)
	}

	if count < l.attempts {
		return true, 0, nil
	}

	ttl, err := l.client.TTL(ctx, keyPrefix+key).Result()
	if err != nil || ttl < 0 {
		ttl = l.window
	}
	return false, ttl, nil
}

// Fail records a failed attempt for key
func (l *Limiter) Fail(ctx context.Context, key string) error {
	if l == nil || l.client == nil {
		return nil
	}

	_, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, keyPrefix+key)
		p.ExpireNX(ctx, keyPrefix+key, l.window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record login attempt: %w", err)
	}
	return nil
}

// Reset clears the failures of key after a successful login
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Del(ctx, keyPrefix+key).Err()
}
