package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Limiter applies fixed-window policies on top of a counter store.
type Limiter struct {
	store Store
}

// NewLimiter creates a limiter backed by the given store.
func NewLimiter(store Store) *Limiter {
	return &Limiter{store: store}
}

// Evaluate decides whether an attempt for key may proceed at now under policy.
// Store errors are propagated; an unreachable store never counts as allowed.
func (l *Limiter) Evaluate(ctx context.Context, key Key, p Policy, now time.Time) (Decision, error) {
	if p.Limit <= 0 {
		return Decision{}, fmt.Errorf("policy limit must be positive, got %d", p.Limit)
	}
	if p.Window <= 0 {
		return Decision{}, fmt.Errorf("policy window must be positive, got %v", p.Window)
	}

	var d Decision
	err := l.store.Update(ctx, key, func(prev *Counter) *Counter {
		next, dec := apply(prev, p, now)
		d = dec
		return next
	})
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit store update for %s: %w", key, err)
	}
	return d, nil
}

// apply is the pure fixed-window decision. The window starts fresh when no
// counter exists or now has reached WindowEnd (the boundary is exclusive at
// the top). Denied attempts are not counted, so the returned counter is nil
// on denial and nothing is persisted.
func apply(prev *Counter, p Policy, now time.Time) (*Counter, Decision) {
	c := Counter{WindowStart: now, WindowEnd: now.Add(p.Window)}
	if prev != nil && now.Before(prev.WindowEnd) {
		c = *prev
	}

	if c.Count >= p.Limit {
		return nil, Decision{
			Allowed:    false,
			Limit:      p.Limit,
			Current:    c.Count,
			Remaining:  0,
			ResetAt:    c.WindowEnd,
			RetryAfter: c.WindowEnd.Sub(now),
		}
	}

	c.Count++
	return &c, Decision{
		Allowed:   true,
		Limit:     p.Limit,
		Current:   c.Count,
		Remaining: p.Limit - c.Count,
		ResetAt:   c.WindowEnd,
	}
}
