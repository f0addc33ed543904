package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestNilLimiterAllows(t *testing.T) {
	var l *Limiter
	ctx := context.Background()

	ok, wait, err := l.Allow(ctx, "192.0.2.1")
	if !ok || wait != 0 || err != nil {
		t.Fatalf("nil limiter must allow: %v %v %v", ok, wait, err)
	}
	if err := l.Fail(ctx, "192.0.2.1"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if err := l.Reset(ctx, "192.0.2.1"); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	if ok, _, _ := New(nil, 1, time.Minute).Allow(ctx, "x"); !ok {
		t.Fatal("limiter without a client must allow")
	}
}

func TestUnreachableRedisFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	ok, _, err := New(client, 3, time.Minute).Allow(context.Background(), "192.0.2.1")
	if !ok {
		t.Fatal("a Redis outage must not block logins")
	}
	if err == nil {
		t.Fatal("expected the Redis error to be reported")
	}
}

type countedFailures struct {
	count int
	err   error
	since time.Time
}

func (c *countedFailures) CountFailedLogins(_ context.Context, _ string, since time.Time) (int, error) {
	c.since = since
	return c.count, c.err
}

func TestAuditLimiter(t *testing.T) {
	counter := &countedFailures{count: 2}
	l := NewAuditLimiter(counter, 3, 15*time.Minute)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	if ok, _, err := l.Allow(ctx, "192.0.2.1"); !ok || err != nil {
		t.Fatalf("below the limit must allow: %v %v", ok, err)
	}
	if !counter.since.Equal(now.Add(-15 * time.Minute)) {
		t.Fatalf("failures must be counted over the window, since=%v", counter.since)
	}

	counter.count = 3
	ok, wait, err := l.Allow(ctx, "192.0.2.1")
	if ok || err != nil || wait != 15*time.Minute {
		t.Fatalf("at the limit must block for the window: %v %v %v", ok, wait, err)
	}

	counter.err = errors.New("database is locked")
	if ok, _, err := l.Allow(ctx, "192.0.2.1"); !ok || err == nil {
		t.Fatalf("a read error must fail open and be reported: %v %v", ok, err)
	}
}
