package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/monitorhub/monitorhub/internal/models"
)

// EvaluationRepository handles the append-only evaluation run audit trail
type EvaluationRepository struct {
	db *DB
}

// NewEvaluationRepository creates a new evaluation repository
func NewEvaluationRepository(db *DB) *EvaluationRepository {
	return &EvaluationRepository{db: db}
}

// Append writes one evaluation run. Runs are never updated or deleted.
func (r *EvaluationRepository) Append(ctx context.Context, run *models.EvaluationRun) error {
	factsJSON, err := json.Marshal(run.FactValues)
	if err != nil {
		return fmt.Errorf("failed to marshal fact values: %w", err)
	}

	query := `
		INSERT INTO evaluation_runs (id, monitor_id, user_id, triggered_by, outcome,
			result, confidence, fact_values, summary, error, retry_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at
	`

	err = r.db.QueryRowContext(ctx, query,
		run.ID,
		run.MonitorID,
		run.UserID,
		run.TriggeredBy,
		run.Outcome,
		run.Result,
		run.Confidence,
		factsJSON,
		run.Summary,
		run.Error,
		run.RetryAfter,
		time.Now(),
	).Scan(&run.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to append evaluation run: %w", err)
	}

	return nil
}

const evaluationColumns = `
	id, monitor_id, user_id, triggered_by, outcome, result, confidence,
	fact_values, summary, error, retry_after, created_at
`

func scanEvaluation(row interface{ Scan(dest ...any) error }) (*models.EvaluationRun, error) {
	run := &models.EvaluationRun{}
	var (
		result    sql.NullBool
		factsJSON []byte
	)
	err := row.Scan(
		&run.ID,
		&run.MonitorID,
		&run.UserID,
		&run.TriggeredBy,
		&run.Outcome,
		&result,
		&run.Confidence,
		&factsJSON,
		&run.Summary,
		&run.Error,
		&run.RetryAfter,
		&run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if result.Valid {
		run.Result = &result.Bool
	}
	if len(factsJSON) > 0 {
		if err := json.Unmarshal(factsJSON, &run.FactValues); err != nil {
			return nil, fmt.Errorf("failed to unmarshal fact values: %w", err)
		}
	}
	return run, nil
}

// GetLatestCompleted returns the most recent run that produced a condition
// result for the monitor, or nil when none exists. Rate-limited and failed
// runs carry no result, so they never shadow the real previous state.
func (r *EvaluationRepository) GetLatestCompleted(ctx context.Context, monitorID uuid.UUID) (*models.EvaluationRun, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+evaluationColumns+`
		FROM evaluation_runs
		WHERE monitor_id = $1 AND result IS NOT NULL
		ORDER BY created_at DESC
		LIMIT 1
	`, monitorID)

	run, err := scanEvaluation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest evaluation: %w", err)
	}
	return run, nil
}

// ListByMonitor returns the most recent runs for a monitor, newest first
func (r *EvaluationRepository) ListByMonitor(ctx context.Context, monitorID uuid.UUID, limit int) ([]*models.EvaluationRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+evaluationColumns+`
		FROM evaluation_runs
		WHERE monitor_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, monitorID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluation runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	runs := []*models.EvaluationRun{}
	for rows.Next() {
		run, err := scanEvaluation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan evaluation run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate evaluation runs: %w", err)
	}
	return runs, nil
}
