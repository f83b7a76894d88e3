package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/monitorhub/monitorhub/internal/models"
)

// MonitorRepositoryInterface defines the interface for monitor repository operations
// This interface enables better testability by allowing mock implementations
type MonitorRepositoryInterface interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Monitor, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Monitor, error)
	MarkEvaluated(ctx context.Context, id uuid.UUID, result *bool, evaluatedAt, nextRunAt time.Time) error
}

// EvaluationRepositoryInterface defines the interface for evaluation run repository operations
type EvaluationRepositoryInterface interface {
	Append(ctx context.Context, run *models.EvaluationRun) error
	GetLatestCompleted(ctx context.Context, monitorID uuid.UUID) (*models.EvaluationRun, error)
}

// Ensure concrete types implement the interfaces
var (
	_ MonitorRepositoryInterface    = (*MonitorRepository)(nil)
	_ EvaluationRepositoryInterface = (*EvaluationRepository)(nil)
)
