package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/monitorhub/monitorhub/internal/models"
	"github.com/monitorhub/monitorhub/internal/queue"
	"github.com/monitorhub/monitorhub/internal/services/extraction"
)

// ProcessJob processes a queued job based on its type
func (e *Evaluator) ProcessJob(ctx context.Context, msg queue.MessageInterface) error {
	job := msg.GetJob()

	switch job.Type {
	case queue.JobTypeEvaluateMonitor:
		if job.MonitorID == nil {
			if nackErr := msg.Nack(false); nackErr != nil {
				e.logger.Error("failed to nack malformed job", zap.Error(nackErr))
			}
			return fmt.Errorf("monitor_id is required for %s job", job.Type)
		}
		_, _, err := e.EvaluateOne(ctx, *job.MonitorID, job.UserID, models.TriggerKindScheduled)
		if err != nil {
			if errors.Is(err, ErrEvaluationInFlight) {
				// Another worker got there first, drop the duplicate
				if ackErr := msg.Ack(); ackErr != nil {
					return fmt.Errorf("failed to ack duplicate job: %w", ackErr)
				}
				return nil
			}
			return e.handleJobError(ctx, msg, job, err)
		}
		if ackErr := msg.Ack(); ackErr != nil {
			return fmt.Errorf("failed to ack job: %w", ackErr)
		}
		return nil

	case queue.JobTypeEvaluateBatch:
		if _, err := e.EvaluateAllActive(ctx); err != nil {
			// Batch passes recur; never requeue a failed one
			if nackErr := msg.Nack(false); nackErr != nil {
				e.logger.Error("failed to nack batch job", zap.Error(nackErr))
			}
			return fmt.Errorf("batch evaluation failed: %w", err)
		}
		if ackErr := msg.Ack(); ackErr != nil {
			return fmt.Errorf("failed to ack batch job: %w", ackErr)
		}
		return nil

	default:
		if nackErr := msg.Nack(false); nackErr != nil { // unknown job type, send to DLQ
			e.logger.Error("failed to nack unknown job type", zap.Error(nackErr))
		}
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

// handleJobError decides between a delayed retry, an immediate retry, and the
// DLQ. Provider throttling re-enqueues through the delayed exchange so the
// worker keeps draining other jobs instead of blocking.
func (e *Evaluator) handleJobError(ctx context.Context, msg queue.MessageInterface, job *queue.Job, err error) error {
	throttled := extraction.IsRateLimitError(err) || extraction.IsQuotaError(err)

	if throttled && job.CanRetry() && e.jobQueue != nil {
		retryDelay := extraction.GetRetryDelay(err, job.RetryCount)
		notBefore := time.Now().Add(retryDelay)

		if ackErr := msg.Ack(); ackErr != nil {
			e.logger.Error("failed to ack throttled job before re-enqueue", zap.Error(ackErr))
		}

		if enqueueErr := e.jobQueue.Enqueue(ctx, job.Retried(notBefore)); enqueueErr != nil {
			return fmt.Errorf("throttled, failed to re-enqueue: %w", enqueueErr)
		}

		e.logger.Info("job_rescheduled_after_throttle",
			zap.String("job_id", job.ID.String()),
			zap.Duration("delay", retryDelay),
			zap.Int("retry_count", job.RetryCount+1),
		)
		return nil
	}

	if job.CanRetry() {
		job.IncrementRetry()
		e.logger.Warn("job_failed_will_retry",
			zap.String("job_id", job.ID.String()),
			zap.Int("attempt", job.RetryCount),
			zap.Int("max_retries", job.MaxRetries),
			zap.Error(err),
		)
		if nackErr := msg.Nack(true); nackErr != nil {
			e.logger.Error("failed to nack job for retry", zap.Error(nackErr))
		}
		return fmt.Errorf("job failed (will retry): %w", err)
	}

	e.logger.Error("job_failed_sending_to_dlq",
		zap.String("job_id", job.ID.String()),
		zap.Int("max_retries", job.MaxRetries),
		zap.Error(err),
	)
	if nackErr := msg.Nack(false); nackErr != nil {
		e.logger.Error("failed to nack job to DLQ", zap.Error(nackErr))
	}
	return fmt.Errorf("job failed (max retries): %w", err)
}
