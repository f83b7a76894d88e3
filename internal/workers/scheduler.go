package workers

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/monitorhub/monitorhub/internal/database"
	"github.com/monitorhub/monitorhub/internal/models"
	"github.com/monitorhub/monitorhub/internal/queue"
)

// DefaultScheduleInterval is how often the scheduler looks for due monitors
const DefaultScheduleInterval = time.Minute

// Scheduler periodically enqueues evaluation jobs for monitors that are due.
// It only produces work; workers consuming the queue do the evaluations, and
// the trigger policy deduplicates whatever the scheduler over-produces.
type Scheduler struct {
	jobQueue    queue.JobQueue
	monitorRepo database.MonitorRepositoryInterface
	interval    time.Duration
	batchLimit  int
	logger      *zap.Logger
}

// NewScheduler creates a new scheduler
func NewScheduler(jobQueue queue.JobQueue, monitorRepo database.MonitorRepositoryInterface, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultScheduleInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		jobQueue:    jobQueue,
		monitorRepo: monitorRepo,
		interval:    interval,
		batchLimit:  DefaultBatchLimit,
		logger:      logger,
	}
}

// Start runs the scheduling loop until ctx is cancelled
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.ScheduleDueMonitors(ctx); err != nil {
				s.logger.Error("scheduling pass failed", zap.Error(err))
			}
		}
	}
}

// ScheduleDueMonitors enqueues one evaluation job per due monitor. A job that
// fails to enqueue is skipped; the monitor stays due and the next pass picks
// it up again.
func (s *Scheduler) ScheduleDueMonitors(ctx context.Context) error {
	monitors, err := s.monitorRepo.ListDue(ctx, time.Now(), s.batchLimit)
	if err != nil {
		return fmt.Errorf("failed to list due monitors: %w", err)
	}

	enqueued := 0
	for _, monitor := range monitors {
		if err := s.enqueueEvaluation(ctx, monitor); err != nil {
			s.logger.Warn("failed_to_enqueue_evaluation_job",
				zap.String("monitor_id", monitor.ID.String()),
				zap.Error(err),
			)
			continue
		}
		enqueued++
	}

	if enqueued > 0 {
		s.logger.Info("scheduled_due_monitors",
			zap.Int("due", len(monitors)),
			zap.Int("enqueued", enqueued),
		)
	}
	return nil
}

func (s *Scheduler) enqueueEvaluation(ctx context.Context, monitor *models.Monitor) error {
	monitorID := monitor.ID
	job := queue.NewJob(queue.JobTypeEvaluateMonitor, monitor.UserID, &monitorID)

	// A job the workers have not reached within two passes is stale; the
	// scheduler will have enqueued a fresh one by then
	notAfter := time.Now().Add(2 * s.interval)
	job.NotAfter = &notAfter

	if err := s.jobQueue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("failed to enqueue evaluation job: %w", err)
	}
	return nil
}
