package notify

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/monitorhub/monitorhub/internal/models"
)

// EmailNotifier delivers alerts over SMTP
type EmailNotifier struct {
	dialer *gomail.Dialer
	from   string
}

// NewEmailNotifier creates an SMTP-backed notifier
func NewEmailNotifier(host string, port int, username, password, from string) *EmailNotifier {
	return &EmailNotifier{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

// Notify sends the alert email to the monitor's configured address
func (n *EmailNotifier) Notify(ctx context.Context, monitor *models.Monitor, run *models.EvaluationRun) error {
	if monitor.NotifyEmail == "" {
		return fmt.Errorf("monitor %s has no notify email configured", monitor.ID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", n.from)
	msg.SetHeader("To", monitor.NotifyEmail)
	msg.SetHeader("Subject", fmt.Sprintf("MonitorHub alert: %s", monitor.Name))

	body := fmt.Sprintf(
		"Your monitor %q fired.\n\nCondition: %s\nSummary: %s\nConfidence: %.0f%%\n",
		monitor.Name, monitor.Query, run.Summary, run.Confidence*100,
	)
	for name, value := range run.FactValues {
		body += fmt.Sprintf("%s: %s\n", name, value)
	}
	msg.SetBody("text/plain", body)

	if err := n.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}
	return nil
}
