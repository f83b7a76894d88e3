// Package evaluation decides whether a monitor evaluation may run right now.
package evaluation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/monitorhub/monitorhub/internal/models"
	"github.com/monitorhub/monitorhub/internal/ratelimit"
)

const (
	// DefaultManualLimit caps user-initiated evaluations per rolling day
	DefaultManualLimit = 50
	// DefaultManualWindow is the manual evaluation budget window
	DefaultManualWindow = 24 * time.Hour
	// DefaultRefreshInterval is the minimum gap between scheduled evaluations
	// of one monitor, regardless of its configured frequency
	DefaultRefreshInterval = 5 * time.Minute
)

// TriggerPolicy maps the kind of evaluation request to a rate limit policy.
// Manual requests draw from a per-user budget; scheduled runs are exempt from
// the user budget but throttled per monitor so a misconfigured frequency
// cannot hammer the fact source.
type TriggerPolicy struct {
	limiter         *ratelimit.Limiter
	manual          ratelimit.Policy
	refreshInterval time.Duration
}

// NewTriggerPolicy creates a trigger policy. Zero values fall back to defaults.
func NewTriggerPolicy(limiter *ratelimit.Limiter, manualLimit int, manualWindow, refreshInterval time.Duration) *TriggerPolicy {
	if manualLimit <= 0 {
		manualLimit = DefaultManualLimit
	}
	if manualWindow <= 0 {
		manualWindow = DefaultManualWindow
	}
	if refreshInterval <= 0 {
		refreshInterval = DefaultRefreshInterval
	}
	return &TriggerPolicy{
		limiter:         limiter,
		manual:          ratelimit.Policy{Limit: manualLimit, Window: manualWindow},
		refreshInterval: refreshInterval,
	}
}

// CanTrigger decides whether an evaluation of monitorID requested by userID
// may proceed now. The returned decision carries retry information on denial.
func (p *TriggerPolicy) CanTrigger(ctx context.Context, monitorID, userID uuid.UUID, kind models.TriggerKind) (ratelimit.Decision, error) {
	now := time.Now()

	switch kind {
	case models.TriggerKindManual:
		key := ratelimit.Key{Identifier: userID.String(), LimitType: ratelimit.LimitTypeManualEvaluation}
		return p.limiter.Evaluate(ctx, key, p.manual, now)

	case models.TriggerKindScheduled:
		key := ratelimit.Key{Identifier: monitorID.String(), LimitType: ratelimit.LimitTypeMonitorRefresh}
		policy := ratelimit.Policy{Limit: 1, Window: p.refreshInterval}
		return p.limiter.Evaluate(ctx, key, policy, now)

	default:
		return ratelimit.Decision{}, fmt.Errorf("unknown trigger kind %q", kind)
	}
}
