package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/monitorhub/monitorhub/internal/models"
)

// ErrMonitorNotFound is returned when no monitor exists with the given ID
var ErrMonitorNotFound = errors.New("monitor not found")

// MonitorRepository handles monitor database operations
type MonitorRepository struct {
	db *DB
}

// NewMonitorRepository creates a new monitor repository
func NewMonitorRepository(db *DB) *MonitorRepository {
	return &MonitorRepository{db: db}
}

const monitorColumns = `
	id, user_id, name, query, source_url, condition_kind, frequency_seconds,
	active, notify_email, last_result, last_evaluated_at, next_run_at,
	created_at, updated_at
`

func scanMonitor(row interface{ Scan(dest ...any) error }) (*models.Monitor, error) {
	m := &models.Monitor{}
	var (
		freqSeconds     int64
		lastResult      sql.NullBool
		lastEvaluatedAt sql.NullTime
		nextRunAt       sql.NullTime
	)
	err := row.Scan(
		&m.ID,
		&m.UserID,
		&m.Name,
		&m.Query,
		&m.SourceURL,
		&m.ConditionKind,
		&freqSeconds,
		&m.Active,
		&m.NotifyEmail,
		&lastResult,
		&lastEvaluatedAt,
		&nextRunAt,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Frequency = time.Duration(freqSeconds) * time.Second
	if lastResult.Valid {
		m.LastResult = &lastResult.Bool
	}
	if lastEvaluatedAt.Valid {
		t := lastEvaluatedAt.Time
		m.LastEvaluatedAt = &t
	}
	if nextRunAt.Valid {
		t := nextRunAt.Time
		m.NextRunAt = &t
	}
	return m, nil
}

// Create creates a new monitor
func (r *MonitorRepository) Create(ctx context.Context, m *models.Monitor) error {
	query := `
		INSERT INTO monitors (id, user_id, name, query, source_url, condition_kind,
			frequency_seconds, active, notify_email, next_run_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`

	now := time.Now()
	err := r.db.QueryRowContext(ctx, query,
		m.ID,
		m.UserID,
		m.Name,
		m.Query,
		m.SourceURL,
		m.ConditionKind,
		int64(m.Frequency/time.Second),
		m.Active,
		m.NotifyEmail,
		m.NextRunAt,
		now,
		now,
	).Scan(&m.CreatedAt, &m.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create monitor: %w", err)
	}

	return nil
}

// GetByID retrieves a monitor by ID
func (r *MonitorRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Monitor, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+monitorColumns+` FROM monitors WHERE id = $1`, id)
	m, err := scanMonitor(row)
	if err == sql.ErrNoRows {
		return nil, ErrMonitorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get monitor: %w", err)
	}
	return m, nil
}

// ListByUser retrieves all monitors belonging to a user
func (r *MonitorRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Monitor, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+monitorColumns+` FROM monitors WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list monitors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	monitors := []*models.Monitor{}
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan monitor: %w", err)
		}
		monitors = append(monitors, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate monitors: %w", err)
	}
	return monitors, nil
}

// ListDue retrieves active monitors whose next run is at or before now.
// Results are capped so one batch pass stays bounded.
func (r *MonitorRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Monitor, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+monitorColumns+`
		FROM monitors
		WHERE active = TRUE AND (next_run_at IS NULL OR next_run_at <= $1)
		ORDER BY next_run_at NULLS FIRST
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due monitors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	monitors := []*models.Monitor{}
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan due monitor: %w", err)
		}
		monitors = append(monitors, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate due monitors: %w", err)
	}
	return monitors, nil
}

// Update updates a monitor's user-editable fields
func (r *MonitorRepository) Update(ctx context.Context, m *models.Monitor) error {
	query := `
		UPDATE monitors
		SET name = $2, query = $3, source_url = $4, condition_kind = $5,
			frequency_seconds = $6, active = $7, notify_email = $8, updated_at = $9
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.QueryRowContext(ctx, query,
		m.ID,
		m.Name,
		m.Query,
		m.SourceURL,
		m.ConditionKind,
		int64(m.Frequency/time.Second),
		m.Active,
		m.NotifyEmail,
		time.Now(),
	).Scan(&m.UpdatedAt)

	if err == sql.ErrNoRows {
		return fmt.Errorf("monitor not found")
	}
	if err != nil {
		return fmt.Errorf("failed to update monitor: %w", err)
	}

	return nil
}

// MarkEvaluated records evaluation bookkeeping on the monitor itself: the
// latest condition result and when the monitor should run next.
func (r *MonitorRepository) MarkEvaluated(ctx context.Context, id uuid.UUID, result *bool, evaluatedAt, nextRunAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE monitors
		SET last_result = $2, last_evaluated_at = $3, next_run_at = $4, updated_at = $3
		WHERE id = $1
	`, id, result, evaluatedAt, nextRunAt)
	if err != nil {
		return fmt.Errorf("failed to mark monitor evaluated: %w", err)
	}
	return nil
}

// Delete deletes a monitor by ID
func (r *MonitorRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM monitors WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete monitor: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("monitor not found")
	}

	return nil
}
