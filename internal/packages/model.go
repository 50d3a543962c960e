package packages

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a therapy package.
type Status string

const (
	StatusActive   Status = "active"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusFinished Status = "finished"
	StatusExpired  Status = "expired"
)

// NonTerminalStatuses can still absorb consumed sessions.
var NonTerminalStatuses = []Status{StatusActive, StatusWarning, StatusCritical}

// IsTerminal reports whether no further consumption applies.
func (s Status) IsTerminal() bool {
	return s == StatusFinished || s == StatusExpired
}

// AlertType is the severity tier of a package alert.
type AlertType string

const (
	AlertPriorityRed  AlertType = "priority_red"
	AlertRed          AlertType = "red"
	AlertYellow       AlertType = "yellow"
	AlertExpired      AlertType = "expired"
	AlertExpiringSoon AlertType = "expiring_soon"
)

// AlertMethod is how an alert reaches staff.
type AlertMethod string

const (
	MethodPanel AlertMethod = "panel"
	MethodEmail AlertMethod = "email"
)

// ParseAlertMethod falls back to the in-panel notification for unknown values.
func ParseAlertMethod(raw string) AlertMethod {
	if AlertMethod(strings.ToLower(strings.TrimSpace(raw))) == MethodEmail {
		return MethodEmail
	}
	return MethodPanel
}

// Read flags are stored as strings.
const (
	ReadFalse = "false"
	ReadTrue  = "true"
)

// AttendanceStatus records what happened at a scheduled package session.
type AttendanceStatus string

const (
	AttendanceAttended  AttendanceStatus = "attended"
	AttendanceCancelled AttendanceStatus = "cancelled"
	AttendanceNoShow    AttendanceStatus = "no_show"
)

func (a AttendanceStatus) valid() bool {
	switch a {
	case AttendanceAttended, AttendanceCancelled, AttendanceNoShow:
		return true
	}
	return false
}

// TherapyPackage is a purchased bundle of sessions owned by one patient.
type TherapyPackage struct {
	ID             string     `json:"id"`
	PatientID      string     `json:"patient_id"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	TotalSessions  int        `json:"total_sessions"`
	SessionsUsed   int        `json:"sessions_used"`
	PurchaseDate   time.Time  `json:"purchase_date"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
	PriceCents     *int64     `json:"price_cents,omitempty"`
	Status         Status     `json:"status"`
	Notes          string     `json:"notes,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Remaining is the number of sessions left in the package.
func (p *TherapyPackage) Remaining() int {
	return p.TotalSessions - p.SessionsUsed
}

// PackageAlert is a staff-facing notification about a package.
type PackageAlert struct {
	ID        string      `json:"id"`
	PackageID string      `json:"package_id"`
	PatientID string      `json:"patient_id"`
	AlertType AlertType   `json:"alert_type"`
	Message   string      `json:"message"`
	Method    AlertMethod `json:"method"`
	IsRead    string      `json:"is_read"`
	CreatedAt time.Time   `json:"created_at"`
}

// PackageSession is one attendance entry in a package's ledger.
type PackageSession struct {
	ID               string           `json:"id"`
	PackageID        string           `json:"package_id"`
	PatientID        string           `json:"patient_id"`
	SessionDate      time.Time        `json:"session_date"`
	AttendanceStatus AttendanceStatus `json:"attendance_status"`
	TherapistID      string           `json:"therapist_id,omitempty"`
	Notes            string           `json:"notes,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

// CreatePackageRequest is the input for creating a package.
type CreatePackageRequest struct {
	PatientID      string     `json:"patient_id"`
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	TotalSessions  int        `json:"total_sessions"`
	PurchaseDate   time.Time  `json:"purchase_date"`
	ExpirationDate *time.Time `json:"expiration_date"`
	PriceCents     *int64     `json:"price_cents"`
	Notes          string     `json:"notes"`
}

// Validate checks the request shape; patient existence is checked by the service.
func (r *CreatePackageRequest) Validate() error {
	if strings.TrimSpace(r.PatientID) == "" {
		return validationf("patient_id is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return validationf("name is required")
	}
	if r.TotalSessions < 1 {
		return validationf("total_sessions must be at least 1, got %d", r.TotalSessions)
	}
	if r.PurchaseDate.IsZero() {
		return validationf("purchase_date is required")
	}
	if r.ExpirationDate != nil && r.ExpirationDate.Before(r.PurchaseDate) {
		return validationf("expiration_date cannot be before purchase_date")
	}
	if r.PriceCents != nil && *r.PriceCents < 0 {
		return validationf("price_cents cannot be negative")
	}
	return nil
}

// UpdatePackageRequest carries the editable, non-counter fields. Nil means unchanged.
type UpdatePackageRequest struct {
	Name           *string    `json:"name"`
	Description    *string    `json:"description"`
	PurchaseDate   *time.Time `json:"purchase_date"`
	ExpirationDate *time.Time `json:"expiration_date"`
	PriceCents     *int64     `json:"price_cents"`
	Notes          *string    `json:"notes"`
}

// Apply validates the edit against the current package and copies it over.
func (r *UpdatePackageRequest) Apply(p *TherapyPackage) error {
	if r.Name != nil {
		if strings.TrimSpace(*r.Name) == "" {
			return validationf("name cannot be empty")
		}
		p.Name = *r.Name
	}
	if r.Description != nil {
		p.Description = *r.Description
	}
	if r.PurchaseDate != nil {
		if r.PurchaseDate.IsZero() {
			return validationf("purchase_date cannot be empty")
		}
		p.PurchaseDate = *r.PurchaseDate
	}
	if r.ExpirationDate != nil {
		exp := *r.ExpirationDate
		p.ExpirationDate = &exp
	}
	if p.ExpirationDate != nil && p.ExpirationDate.Before(p.PurchaseDate) {
		return validationf("expiration_date cannot be before purchase_date")
	}
	if r.PriceCents != nil {
		if *r.PriceCents < 0 {
			return validationf("price_cents cannot be negative")
		}
		price := *r.PriceCents
		p.PriceCents = &price
	}
	if r.Notes != nil {
		p.Notes = *r.Notes
	}
	return nil
}

// RecordSessionRequest is the input for appending to a package's ledger.
type RecordSessionRequest struct {
	PackageID        string           `json:"-"`
	PatientID        string           `json:"patient_id"`
	SessionDate      time.Time        `json:"session_date"`
	AttendanceStatus AttendanceStatus `json:"attendance_status"`
	TherapistID      string           `json:"therapist_id"`
	Notes            string           `json:"notes"`
}

// Validate checks the ledger entry input.
func (r *RecordSessionRequest) Validate() error {
	if strings.TrimSpace(r.PackageID) == "" {
		return validationf("package_id is required")
	}
	if strings.TrimSpace(r.PatientID) == "" {
		return validationf("patient_id is required")
	}
	if r.SessionDate.IsZero() {
		return validationf("session_date is required")
	}
	if !r.AttendanceStatus.valid() {
		return validationf("attendance_status must be attended, cancelled or no_show")
	}
	return nil
}
