// Package ratelimit implements fixed-window rate limiting for monitor
// evaluations. Counters live behind the Store interface so single-instance
// deployments can use the in-memory store and multi-instance deployments the
// Redis-backed one.
package ratelimit

import (
	"context"
	"time"
)

// Limit type tags used across the application.
const (
	// LimitTypeManualEvaluation caps user-initiated "evaluate now" requests
	LimitTypeManualEvaluation = "manual_evaluation"
	// LimitTypeMonitorRefresh throttles scheduled re-evaluations per monitor
	LimitTypeMonitorRefresh = "monitor_refresh"
)

// Key addresses one counter: an opaque identifier (user ID, monitor ID, IP)
// plus a limit category.
type Key struct {
	Identifier string
	LimitType  string
}

func (k Key) String() string {
	return k.LimitType + ":" + k.Identifier
}

// Policy is the limit applied at a call site. It is supplied by the caller
// and never stored.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Counter is the stored state for one key. Count reflects only allowed
// attempts in the current window; WindowEnd is fixed at window creation.
type Counter struct {
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
}

// Decision is the outcome of one rate limit evaluation.
type Decision struct {
	Allowed    bool
	Limit      int
	Current    int // count after this decision
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration // zero unless denied
}

// RetryAfterSeconds returns RetryAfter floored to whole seconds, never negative.
func (d Decision) RetryAfterSeconds() int {
	s := int(d.RetryAfter / time.Second)
	if s < 0 {
		return 0
	}
	return s
}

// Store persists one counter per key. Update must be atomic with respect to
// concurrent callers of the same key: fn receives the stored counter (nil when
// absent) and returns the counter to persist, or nil to leave the stored value
// unchanged. fn may be invoked more than once if the store retries on write
// conflicts, so it must be free of side effects beyond its return value.
type Store interface {
	Update(ctx context.Context, key Key, fn func(prev *Counter) *Counter) error
}
