// Package notify delivers package alerts to staff outside the in-app panel.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/rehab-clinic-platform/internal/events"
	"github.com/wolfman30/rehab-clinic-platform/internal/patients"
	"github.com/wolfman30/rehab-clinic-platform/pkg/logging"
)

// AlertDispatcher emails package alerts to the configured staff recipients.
// It is an events.DeliveryHandler for the outbox deliverer.
type AlertDispatcher struct {
	email      EmailSender
	recipients []string
	patients   patients.Directory
	logger     *logging.Logger
}

func NewAlertDispatcher(email EmailSender, recipients []string, directory patients.Directory, logger *logging.Logger) *AlertDispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	clean := make([]string, 0, len(recipients))
	for _, r := range recipients {
		if r = strings.TrimSpace(r); r != "" {
			clean = append(clean, r)
		}
	}
	return &AlertDispatcher{email: email, recipients: clean, patients: directory, logger: logger}
}

// Handle ignores events other than package alerts.
func (d *AlertDispatcher) Handle(ctx context.Context, entry events.OutboxEntry) error {
	if entry.Type != events.EventPackageAlertCreated {
		return nil
	}
	var evt events.PackageAlertCreatedV1
	if err := json.Unmarshal(entry.Payload, &evt); err != nil {
		// Unparseable payloads would be retried forever.
		d.logger.Error("notify: drop malformed alert event", "outbox_id", entry.ID, "error", err)
		return nil
	}
	if evt.Method != "email" {
		return nil
	}
	if d.email == nil || len(d.recipients) == 0 {
		d.logger.Warn("notify: email alert has no sender or recipients", "alert_id", evt.AlertID)
		return nil
	}

	msg := d.buildMessage(ctx, evt)
	var errs []error
	for _, to := range d.recipients {
		m := msg
		m.To = to
		if err := d.email.Send(ctx, m); err != nil {
			errs = append(errs, fmt.Errorf("send to %s: %w", to, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: alert %s: %w", evt.AlertID, err)
	}
	d.logger.Info("notify: alert emailed", "alert_id", evt.AlertID, "alert_type", evt.AlertType, "recipients", len(d.recipients))
	return nil
}

func (d *AlertDispatcher) buildMessage(ctx context.Context, evt events.PackageAlertCreatedV1) EmailMessage {
	patientLabel := evt.PatientID
	if d.patients != nil {
		if p, err := d.patients.Find(ctx, evt.PatientID); err == nil && p.FullName != "" {
			patientLabel = p.FullName
		}
	}

	subject := fmt.Sprintf("%s %s: %s", subjectPrefix(evt.AlertType), patientLabel, evt.PackageName)

	var b strings.Builder
	b.WriteString(evt.Message)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Patient: %s\n", patientLabel)
	fmt.Fprintf(&b, "Package: %s (%s)\n", evt.PackageName, evt.PackageID)
	fmt.Fprintf(&b, "Sessions remaining: %d\n", evt.Remaining)
	fmt.Fprintf(&b, "Raised at: %s\n", evt.OccurredAt.Format("2006-01-02 15:04 MST"))

	return EmailMessage{Subject: subject, Body: b.String()}
}

func subjectPrefix(alertType string) string {
	switch alertType {
	case "priority_red":
		return "[URGENT] Last session for"
	case "red":
		return "[Renewal due] Low sessions for"
	case "yellow":
		return "[Heads up] Sessions running low for"
	case "expired":
		return "[Expired] Package lapsed for"
	case "expiring_soon":
		return "[Expiring] Package expiring for"
	default:
		return "[Package alert]"
	}
}
