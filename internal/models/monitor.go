package models

import (
	"time"

	"github.com/google/uuid"
)

// ConditionKind describes how a monitor's trigger condition is interpreted
type ConditionKind string

const (
	// ConditionKindState fires while the condition holds (alert on entering the state)
	ConditionKindState ConditionKind = "state"
	// ConditionKindChange fires on a change into the satisfied state
	ConditionKindChange ConditionKind = "change"
)

// Monitor represents a user-authored watch condition
type Monitor struct {
	ID              uuid.UUID     `json:"id"`
	UserID          uuid.UUID     `json:"user_id"`
	Name            string        `json:"name"`
	Query           string        `json:"query"`      // natural-language condition, e.g. "Tesla stock drops 5%"
	SourceURL       string        `json:"source_url"` // page the facts are extracted from
	ConditionKind   ConditionKind `json:"condition_kind"`
	Frequency       time.Duration `json:"frequency"` // desired re-evaluation interval
	Active          bool          `json:"active"`
	NotifyEmail     string        `json:"notify_email"`
	LastResult      *bool         `json:"last_result,omitempty"`
	LastEvaluatedAt *time.Time    `json:"last_evaluated_at,omitempty"`
	NextRunAt       *time.Time    `json:"next_run_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Due reports whether the monitor is due for a scheduled evaluation at now
func (m *Monitor) Due(now time.Time) bool {
	if !m.Active {
		return false
	}
	if m.NextRunAt == nil {
		return true
	}
	return !now.Before(*m.NextRunAt)
}
