// Package notify delivers alerts for triggered monitors. Delivery is
// fire-and-handoff: a failed notification never rolls back the evaluation run
// that produced it.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/monitorhub/monitorhub/internal/models"
)

// Notifier delivers an alert for a triggered evaluation run
type Notifier interface {
	Notify(ctx context.Context, monitor *models.Monitor, run *models.EvaluationRun) error
}

// LogNotifier writes alerts to the log instead of delivering them. Used in
// development and as a fallback when SMTP is not configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-only notifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the alert
func (n *LogNotifier) Notify(ctx context.Context, monitor *models.Monitor, run *models.EvaluationRun) error {
	n.logger.Info("alert_triggered",
		zap.String("monitor_id", monitor.ID.String()),
		zap.String("monitor_name", monitor.Name),
		zap.String("user_id", monitor.UserID.String()),
		zap.String("summary", run.Summary),
		zap.Float64("confidence", run.Confidence),
	)
	return nil
}
