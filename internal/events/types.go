package events

import "time"

// EventPackageAlertCreated is emitted when an alert needs delivery beyond the staff panel.
const EventPackageAlertCreated = "package.alert.created.v1"

type PackageAlertCreatedV1 struct {
	EventID     string    `json:"event_id"`
	AlertID     string    `json:"alert_id"`
	PackageID   string    `json:"package_id"`
	PackageName string    `json:"package_name"`
	PatientID   string    `json:"patient_id"`
	AlertType   string    `json:"alert_type"`
	Method      string    `json:"method"`
	Message     string    `json:"message"`
	Remaining   int       `json:"remaining"`
	OccurredAt  time.Time `json:"occurred_at"`
}
