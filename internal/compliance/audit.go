// Package compliance keeps an immutable audit trail of staff actions on patient packages.
package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/wolfman30/rehab-clinic-platform/internal/staff"
)

// AuditEventType represents the type of audited action.
type AuditEventType string

const (
	// EventPackageUpdated is logged when staff edit a package's non-counter fields.
	EventPackageUpdated AuditEventType = "package.updated"
	// EventPackageDeleted is logged for the administrative delete override.
	EventPackageDeleted AuditEventType = "package.deleted"
	// EventAlertRead is logged when an alert is acknowledged.
	EventAlertRead AuditEventType = "alert.read"
)

// AuditEvent represents an immutable audit record.
type AuditEvent struct {
	ID        string          `json:"id"`
	EventType AuditEventType  `json:"event_type"`
	ActorID   string          `json:"actor_id"`
	ActorRole string          `json:"actor_role,omitempty"`
	PatientID string          `json:"patient_id,omitempty"`
	PackageID string          `json:"package_id,omitempty"`
	AlertID   string          `json:"alert_id,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// AuditService writes and queries the audit_events table.
type AuditService struct {
	db *sql.DB
}

// NewAuditService creates a new audit service.
func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db}
}

// LogEvent records an audit event. Actor fields default to the staff member on ctx.
func (s *AuditService) LogEvent(ctx context.Context, event AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.ActorID == "" {
		event.ActorID = staff.ActorID(ctx)
		if id, ok := staff.FromContext(ctx); ok {
			event.ActorRole = id.Role
		}
	}
	if len(event.Details) == 0 {
		event.Details = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO audit_events (
			id, event_type, actor_id, actor_role, patient_id,
			package_id, alert_id, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		event.ActorID,
		nullString(event.ActorRole),
		nullString(event.PatientID),
		nullString(event.PackageID),
		nullString(event.AlertID),
		[]byte(event.Details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: failed to log audit event: %w", err)
	}
	return nil
}

// LogPackageEvent records a package-scoped action with arbitrary JSON details.
func (s *AuditService) LogPackageEvent(ctx context.Context, eventType AuditEventType, packageID, patientID string, details any) error {
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("compliance: marshal details: %w", err)
	}
	return s.LogEvent(ctx, AuditEvent{
		EventType: eventType,
		PackageID: packageID,
		PatientID: patientID,
		Details:   raw,
	})
}

// LogAlertRead records an alert acknowledgement.
func (s *AuditService) LogAlertRead(ctx context.Context, alertID, packageID, patientID string) error {
	return s.LogEvent(ctx, AuditEvent{
		EventType: EventAlertRead,
		AlertID:   alertID,
		PackageID: packageID,
		PatientID: patientID,
	})
}

// AuditFilter specifies criteria for querying audit events.
type AuditFilter struct {
	PatientID  string
	PackageID  string
	EventTypes []AuditEventType
	StartTime  time.Time
	EndTime    time.Time
	Limit      int
	Offset     int
}

// QueryEvents retrieves audit events, newest first.
func (s *AuditService) QueryEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := `
		SELECT id, event_type, actor_id, actor_role, patient_id,
			   package_id, alert_id, details, created_at
		FROM audit_events
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if filter.PatientID != "" {
		query += fmt.Sprintf(" AND patient_id = $%d", argIdx)
		args = append(args, filter.PatientID)
		argIdx++
	}
	if filter.PackageID != "" {
		query += fmt.Sprintf(" AND package_id = $%d", argIdx)
		args = append(args, filter.PackageID)
		argIdx++
	}
	if len(filter.EventTypes) > 0 {
		types := make([]string, 0, len(filter.EventTypes))
		for _, t := range filter.EventTypes {
			types = append(types, string(t))
		}
		query += fmt.Sprintf(" AND event_type = ANY($%d)", argIdx)
		args = append(args, pq.Array(types))
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("compliance: failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var role, patientID, packageID, alertID sql.NullString
		var details []byte
		if err := rows.Scan(
			&e.ID, &e.EventType, &e.ActorID, &role, &patientID,
			&packageID, &alertID, &details, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("compliance: failed to scan audit event: %w", err)
		}
		e.ActorRole = role.String
		e.PatientID = patientID.String
		e.PackageID = packageID.String
		e.AlertID = alertID.String
		e.Details = details
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("compliance: iterate audit events: %w", err)
	}
	return events, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
