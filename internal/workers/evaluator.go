package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/monitorhub/monitorhub/internal/database"
	"github.com/monitorhub/monitorhub/internal/evaluation"
	"github.com/monitorhub/monitorhub/internal/models"
	"github.com/monitorhub/monitorhub/internal/queue"
	"github.com/monitorhub/monitorhub/internal/ratelimit"
	"github.com/monitorhub/monitorhub/internal/services/extraction"
	"github.com/monitorhub/monitorhub/internal/services/notify"
	"github.com/monitorhub/monitorhub/internal/services/scrape"
)

// ErrEvaluationInFlight is returned when an evaluation of the same monitor is
// already running. No run record is written for the rejected attempt.
var ErrEvaluationInFlight = errors.New("evaluation already in flight for this monitor")

// ErrNotOwner is returned when a manual evaluation is requested by a user who
// does not own the monitor.
var ErrNotOwner = errors.New("monitor does not belong to user")

const (
	// DefaultBatchLimit caps how many due monitors one batch pass picks up
	DefaultBatchLimit = 100
	// DefaultExtractionTimeout bounds one scrape-plus-extraction attempt
	DefaultExtractionTimeout = 90 * time.Second
)

// Evaluator orchestrates monitor evaluations: it enforces the trigger policy,
// runs the scrape and extraction pipeline, records the run, and hands
// triggered alerts to the notifier.
type Evaluator struct {
	monitorRepo database.MonitorRepositoryInterface
	evalRepo    database.EvaluationRepositoryInterface
	triggers    *evaluation.TriggerPolicy
	scraper     scrape.Scraper
	extractor   extraction.Extractor
	notifier    notify.Notifier
	jobQueue    queue.JobQueue // for re-enqueueing jobs with delays
	logger      *zap.Logger

	batchLimit        int
	extractionTimeout time.Duration

	mu       sync.Mutex
	inFlight map[uuid.UUID]struct{}
}

// NewEvaluator creates a new evaluator
func NewEvaluator(
	monitorRepo database.MonitorRepositoryInterface,
	evalRepo database.EvaluationRepositoryInterface,
	triggers *evaluation.TriggerPolicy,
	scraper scrape.Scraper,
	extractor extraction.Extractor,
	notifier notify.Notifier,
	jobQueue queue.JobQueue,
	logger *zap.Logger,
) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		monitorRepo:       monitorRepo,
		evalRepo:          evalRepo,
		triggers:          triggers,
		scraper:           scraper,
		extractor:         extractor,
		notifier:          notifier,
		jobQueue:          jobQueue,
		logger:            logger,
		batchLimit:        DefaultBatchLimit,
		extractionTimeout: DefaultExtractionTimeout,
		inFlight:          make(map[uuid.UUID]struct{}),
	}
}

// SetBatchLimit overrides how many due monitors one batch pass picks up.
// Non-positive values are ignored.
func (e *Evaluator) SetBatchLimit(limit int) {
	if limit > 0 {
		e.batchLimit = limit
	}
}

// SetExtractionTimeout overrides the per-evaluation scrape-plus-extraction
// deadline. Non-positive values are ignored.
func (e *Evaluator) SetExtractionTimeout(timeout time.Duration) {
	if timeout > 0 {
		e.extractionTimeout = timeout
	}
}

// tryAcquire marks the monitor as in flight. Returns false if it already is.
func (e *Evaluator) tryAcquire(monitorID uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inFlight[monitorID]; busy {
		return false
	}
	e.inFlight[monitorID] = struct{}{}
	return true
}

func (e *Evaluator) release(monitorID uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, monitorID)
}

// EvaluateOne runs a single evaluation of monitorID on behalf of userID.
//
// A second evaluation of the same monitor while one is running returns
// ErrEvaluationInFlight without writing a run. A trigger-policy denial writes
// a rate_limited run and returns it with a nil error; the decision carries the
// limit state for response headers. Extraction failures other than provider
// throttling also write a run (outcome failed) and return nil; throttling
// errors are returned unrecorded so the job layer can retry with a delay.
func (e *Evaluator) EvaluateOne(ctx context.Context, monitorID, userID uuid.UUID, kind models.TriggerKind) (*models.EvaluationRun, ratelimit.Decision, error) {
	if !e.tryAcquire(monitorID) {
		return nil, ratelimit.Decision{}, ErrEvaluationInFlight
	}
	defer e.release(monitorID)

	monitor, err := e.monitorRepo.GetByID(ctx, monitorID)
	if err != nil {
		return nil, ratelimit.Decision{}, fmt.Errorf("failed to get monitor: %w", err)
	}
	if kind == models.TriggerKindManual && monitor.UserID != userID {
		return nil, ratelimit.Decision{}, ErrNotOwner
	}

	decision, err := e.triggers.CanTrigger(ctx, monitorID, monitor.UserID, kind)
	if err != nil {
		return nil, ratelimit.Decision{}, fmt.Errorf("trigger policy: %w", err)
	}
	if !decision.Allowed {
		run := e.newRun(monitor, kind)
		run.Outcome = models.OutcomeRateLimited
		run.RetryAfter = decision.RetryAfterSeconds()
		if err := e.persistRun(ctx, run); err != nil {
			return nil, decision, err
		}
		e.logger.Info("evaluation_rate_limited",
			zap.String("monitor_id", monitorID.String()),
			zap.String("triggered_by", string(kind)),
			zap.Int("retry_after_seconds", run.RetryAfter),
		)
		return run, decision, nil
	}

	run, err := e.evaluate(ctx, monitor, kind)
	if err != nil {
		return nil, decision, err
	}
	return run, decision, nil
}

// evaluate runs the scrape/extract/record/notify pipeline for an admitted attempt.
func (e *Evaluator) evaluate(ctx context.Context, monitor *models.Monitor, kind models.TriggerKind) (*models.EvaluationRun, error) {
	evalCtx, cancel := context.WithTimeout(ctx, e.extractionTimeout)
	defer cancel()

	run := e.newRun(monitor, kind)

	content, err := e.scraper.Fetch(evalCtx, monitor.SourceURL)
	if err != nil {
		return e.recordFailure(ctx, monitor, run, fmt.Errorf("fetch source: %w", err))
	}

	result, err := e.extractor.ExtractAndEvaluate(evalCtx, monitor, content)
	if err != nil {
		// Provider throttling is transient: surface it unrecorded so the job
		// layer can re-enqueue with a delay instead of polluting run history.
		if extraction.IsRateLimitError(err) || extraction.IsQuotaError(err) {
			return nil, fmt.Errorf("extraction throttled: %w", err)
		}
		return e.recordFailure(ctx, monitor, run, fmt.Errorf("extraction: %w", err))
	}

	run.Result = &result.Result
	run.Confidence = result.Confidence
	run.FactValues = result.FactValues
	run.Summary = result.Summary

	// Alert only on the transition into the satisfied state: the latest
	// completed run is the previous state, and a missing one counts as false.
	prev, err := e.evalRepo.GetLatestCompleted(ctx, monitor.ID)
	if err != nil {
		e.logger.Warn("failed_to_load_previous_run",
			zap.String("monitor_id", monitor.ID.String()),
			zap.Error(err),
		)
	}
	wasSatisfied := prev != nil && prev.Result != nil && *prev.Result
	if result.Result && !wasSatisfied {
		run.Outcome = models.OutcomeTriggered
	} else {
		run.Outcome = models.OutcomeSuccess
	}

	if err := e.persistRun(ctx, run); err != nil {
		return nil, err
	}
	e.markEvaluated(ctx, monitor, run.Result)

	if run.Outcome == models.OutcomeTriggered {
		// Fire-and-handoff: a failed notification never rolls back the run
		if err := e.notifier.Notify(ctx, monitor, run); err != nil {
			e.logger.Error("alert_delivery_failed",
				zap.String("monitor_id", monitor.ID.String()),
				zap.Error(err),
			)
		}
	}

	e.logger.Info("evaluation_completed",
		zap.String("monitor_id", monitor.ID.String()),
		zap.String("triggered_by", string(kind)),
		zap.String("outcome", string(run.Outcome)),
		zap.Float64("confidence", run.Confidence),
	)
	return run, nil
}

// recordFailure writes a failed run and schedules the next attempt. The run is
// returned with a nil error: a broken source page is a recorded outcome, not a
// job failure worth retrying immediately.
func (e *Evaluator) recordFailure(ctx context.Context, monitor *models.Monitor, run *models.EvaluationRun, cause error) (*models.EvaluationRun, error) {
	run.Outcome = models.OutcomeFailed
	run.Error = cause.Error()
	if err := e.persistRun(ctx, run); err != nil {
		return nil, err
	}
	// Keep the previous result; a failed attempt says nothing about the condition
	e.markEvaluated(ctx, monitor, monitor.LastResult)
	e.logger.Warn("evaluation_failed",
		zap.String("monitor_id", monitor.ID.String()),
		zap.Error(cause),
	)
	return run, nil
}

func (e *Evaluator) newRun(monitor *models.Monitor, kind models.TriggerKind) *models.EvaluationRun {
	return &models.EvaluationRun{
		ID:          uuid.New(),
		MonitorID:   monitor.ID,
		UserID:      monitor.UserID,
		TriggeredBy: kind,
		CreatedAt:   time.Now(),
	}
}

// persistRun appends the run, surviving caller cancellation so a shutdown
// mid-evaluation never loses a completed attempt.
func (e *Evaluator) persistRun(ctx context.Context, run *models.EvaluationRun) error {
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := e.evalRepo.Append(persistCtx, run); err != nil {
		return fmt.Errorf("failed to record evaluation run: %w", err)
	}
	return nil
}

// markEvaluated updates the monitor's last result and next due time. Failure
// here is logged, not returned: the run record is already the source of truth.
func (e *Evaluator) markEvaluated(ctx context.Context, monitor *models.Monitor, result *bool) {
	now := time.Now()
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := e.monitorRepo.MarkEvaluated(persistCtx, monitor.ID, result, now, now.Add(monitor.Frequency)); err != nil {
		e.logger.Error("failed_to_mark_monitor_evaluated",
			zap.String("monitor_id", monitor.ID.String()),
			zap.Error(err),
		)
	}
}

// EvaluateAllActive evaluates every due monitor once. One monitor's failure
// never aborts the pass; only context cancellation stops it early. The result
// is computed over the whole pass and returned in one piece.
func (e *Evaluator) EvaluateAllActive(ctx context.Context) (*models.BatchResult, error) {
	monitors, err := e.monitorRepo.ListDue(ctx, time.Now(), e.batchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due monitors: %w", err)
	}

	result := &models.BatchResult{Total: len(monitors)}
	for _, monitor := range monitors {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		run, _, err := e.EvaluateOne(ctx, monitor.ID, monitor.UserID, models.TriggerKindScheduled)
		if err != nil {
			if errors.Is(err, ErrEvaluationInFlight) {
				result.Skipped++
				continue
			}
			result.Failed++
			e.logger.Warn("batch_evaluation_error",
				zap.String("monitor_id", monitor.ID.String()),
				zap.Error(err),
			)
			continue
		}

		switch run.Outcome {
		case models.OutcomeTriggered:
			result.Triggered++
		case models.OutcomeSuccess:
			result.Successful++
		case models.OutcomeFailed:
			result.Failed++
		case models.OutcomeRateLimited:
			result.Skipped++
		}
	}

	e.logger.Info("batch_evaluation_completed",
		zap.Int("total", result.Total),
		zap.Int("successful", result.Successful),
		zap.Int("triggered", result.Triggered),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}
