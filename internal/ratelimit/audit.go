package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// FailureCounter counts failed logins that were recorded elsewhere. The
// sqlite audit repository implements it.
type FailureCounter interface {
	CountFailedLogins(ctx context.Context, clientIP string, since time.Time) (int, error)
}

// AuditLimiter throttles logins from the failures already in the audit log,
// so the panel keeps a lockout without Redis. The audit rows are its state:
// Fail and Reset do nothing because the login handler audits every attempt.
type AuditLimiter struct {
	counter  FailureCounter
	attempts int
	window   time.Duration
	now      func() time.Time
}

// NewAuditLimiter creates a limiter allowing attempts failures per window
func NewAuditLimiter(counter FailureCounter, attempts int, window time.Duration) *AuditLimiter {
	return &AuditLimiter{
		counter:  counter,
		attempts: attempts,
		window:   window,
		now:      time.Now,
	}
}

// Allow reports whether key may try again. Read errors fail open.
func (l *AuditLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	count, err := l.counter.CountFailedLogins(ctx, key, l.now().Add(-l.window))
	if err != nil {
		return true, 0, fmt.Errorf("failed to count login failures: %w", err)
	}
	if count < l.attempts {
		return true, 0, nil
	}
	return false, l.window, nil
}

// Fail is a no-op; the failed attempt is audited by the caller
func (l *AuditLimiter) Fail(context.Context, string) error { return nil }

// Reset is a no-op; the audited successful login starts the count over
func (l *AuditLimiter) Reset(context.Context, string) error { return nil }
