package models

import (
	"time"

	"github.com/google/uuid"
)

// TriggerKind identifies what initiated an evaluation run
type TriggerKind string

const (
	TriggerKindScheduled TriggerKind = "scheduled"
	TriggerKindManual    TriggerKind = "manual"
)

// Outcome is the terminal state of one evaluation attempt
type Outcome string

const (
	// OutcomeSuccess means the evaluation completed without firing an alert
	OutcomeSuccess Outcome = "success"
	// OutcomeTriggered means the condition fired and an alert was handed off
	OutcomeTriggered Outcome = "triggered"
	// OutcomeFailed means an external collaborator failed
	OutcomeFailed Outcome = "failed"
	// OutcomeRateLimited means the trigger policy denied the attempt
	OutcomeRateLimited Outcome = "rate_limited"
)

// EvaluationRun is one attempt to evaluate one monitor. Runs are append-only:
// once written they are never updated, and the latest run is the "previous
// state" for the next one.
type EvaluationRun struct {
	ID          uuid.UUID         `json:"id"`
	MonitorID   uuid.UUID         `json:"monitor_id"`
	UserID      uuid.UUID         `json:"user_id"`
	TriggeredBy TriggerKind       `json:"triggered_by"`
	Outcome     Outcome           `json:"outcome"`
	Result      *bool             `json:"result,omitempty"` // condition satisfied, nil when no extraction happened
	Confidence  float64           `json:"confidence,omitempty"`
	FactValues  map[string]string `json:"fact_values,omitempty"`
	Summary     string            `json:"summary,omitempty"`
	Error       string            `json:"error,omitempty"`
	RetryAfter  int               `json:"retry_after,omitempty"` // seconds, only for rate_limited
	CreatedAt   time.Time         `json:"created_at"`
}

// BatchResult aggregates the outcomes of one batch evaluation pass. It is
// computed once per pass and returned whole; callers never see a partially
// updated result.
type BatchResult struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Triggered  int `json:"triggered"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"` // rate-limited or already in flight
}
