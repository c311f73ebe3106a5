// Package ratelimit limits how many messages a user may send per window.
// The message store is the only source of truth; there is no counter state.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Counter counts persisted user turns.
type Counter interface {
	CountUserTurnsSince(ctx context.Context, userKey string, since time.Time) (int, error)
}

// Decision is the outcome of a rate check.
type Decision struct {
	Allowed bool          `json:"allowed"`
	Count   int           `json:"count"` // persisted user turns in the window
	Limit   int           `json:"limit"`
	Window  time.Duration `json:"window"`
}

// Limiter checks a user's sliding window before each turn.
type Limiter struct {
	counter Counter
	limit   int
	window  time.Duration
	now     func() time.Time
}

// New creates a limiter allowing limit user turns per window.
func New(counter Counter, limit int, window time.Duration) *Limiter {
	return &Limiter{counter: counter, limit: limit, window: window, now: time.Now}
}

// WithClock replaces the limiter's clock.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Allow reports whether the user may send one more turn now.
func (l *Limiter) Allow(ctx context.Context, userKey string) (Decision, error) {
	n, err := count(ctx, l.counter, userKey, l.window, l.now())
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Allowed: n+1 <= l.limit,
		Count:   n,
		Limit:   l.limit,
		Window:  l.window,
	}, nil
}

// IsAllowed counts the user turns persisted in [now-window, now] plus the
// incoming one and allows the turn while that total stays within limit.
func IsAllowed(ctx context.Context, counter Counter, userKey string, window time.Duration, limit int, now time.Time) (bool, error) {
	n, err := count(ctx, counter, userKey, window, now)
	if err != nil {
		return false, err
	}
	return n+1 <= limit, nil
}

func count(ctx context.Context, counter Counter, userKey string, window time.Duration, now time.Time) (int, error) {
	n, err := counter.CountUserTurnsSince(ctx, userKey, now.Add(-window))
	if err != nil {
		return 0, fmt.Errorf("count recent turns: %w", err)
	}
	return n, nil
}
