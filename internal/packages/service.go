package packages

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/rehab-clinic-platform/internal/compliance"
	"github.com/wolfman30/rehab-clinic-platform/internal/events"
	"github.com/wolfman30/rehab-clinic-platform/internal/locks"
	"github.com/wolfman30/rehab-clinic-platform/internal/observability/metrics"
	"github.com/wolfman30/rehab-clinic-platform/internal/patients"
	"github.com/wolfman30/rehab-clinic-platform/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var packagesTracer = otel.Tracer("rehab.internal.packages")

// Auditor records staff overrides. *compliance.AuditService satisfies it.
type Auditor interface {
	LogPackageEvent(ctx context.Context, eventType compliance.AuditEventType, packageID, patientID string, details any) error
	LogAlertRead(ctx context.Context, alertID, packageID, patientID string) error
}

// Service owns the package lifecycle: creation, consumption, status and alerts.
type Service struct {
	repo        Repository
	patients    patients.Directory
	locker      locks.Locker
	audit       Auditor
	metrics     *metrics.PackageMetrics
	logger      *logging.Logger
	alertMethod AlertMethod
	now         func() time.Time
}

// NewService wires a service with an in-process locker and panel alerts.
func NewService(repo Repository, directory patients.Directory, logger *logging.Logger) *Service {
	if repo == nil {
		panic("packages: repository cannot be nil")
	}
	if directory == nil {
		panic("packages: patient directory cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		repo:        repo,
		patients:    directory,
		locker:      locks.NewLocalLocker(),
		logger:      logger,
		alertMethod: MethodPanel,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithLocker swaps the lock implementation, e.g. for a Redis-backed one.
func (s *Service) WithLocker(l locks.Locker) *Service {
	if l != nil {
		s.locker = l
	}
	return s
}

func (s *Service) WithAuditor(a Auditor) *Service {
	s.audit = a
	return s
}

func (s *Service) WithMetrics(m *metrics.PackageMetrics) *Service {
	s.metrics = m
	return s
}

// WithAlertMethod sets how newly raised alerts are delivered.
func (s *Service) WithAlertMethod(m AlertMethod) *Service {
	if m != "" {
		s.alertMethod = m
	}
	return s
}

// WithClock overrides the time source. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// CreatePackage validates the request and stores a new package for the patient.
func (s *Service) CreatePackage(ctx context.Context, req CreatePackageRequest) (_ *TherapyPackage, err error) {
	ctx, span := packagesTracer.Start(ctx, "packages.create",
		trace.WithAttributes(attribute.String("patient.id", req.PatientID)))
	started := time.Now()
	defer func() { s.finish(span, "create_package", started, err) }()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	exists, err := s.patients.Exists(ctx, req.PatientID)
	if err != nil {
		return nil, fmt.Errorf("packages: lookup patient: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrPatientNotFound, req.PatientID)
	}

	release, err := s.acquire(ctx, "patient:"+req.PatientID)
	if err != nil {
		return nil, err
	}
	defer release()

	now := s.now()
	pkg := &TherapyPackage{
		ID:             uuid.NewString(),
		PatientID:      req.PatientID,
		Name:           req.Name,
		Description:    req.Description,
		TotalSessions:  req.TotalSessions,
		PurchaseDate:   req.PurchaseDate,
		ExpirationDate: req.ExpirationDate,
		PriceCents:     req.PriceCents,
		Notes:          req.Notes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	pkg.Status = CalculateStatus(pkg.TotalSessions, 0, pkg.ExpirationDate, now)

	err = s.repo.WithinTx(ctx, func(tx Repository) error {
		active, err := tx.GetActivePackage(ctx, req.PatientID)
		if err != nil {
			return err
		}
		if active != nil {
			// A stale row that already lapsed does not block a new purchase.
			if st := effectiveStatus(active, now); st.IsTerminal() {
				active.Status = st
				active.UpdatedAt = now
				if err := tx.UpdatePackage(ctx, active); err != nil {
					return err
				}
			} else {
				return fmt.Errorf("%w: package %s is %s", ErrConflict, active.ID, st)
			}
		}
		return tx.CreatePackage(ctx, pkg)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("package created", "package_id", pkg.ID, "patient_id", pkg.PatientID,
		"total_sessions", pkg.TotalSessions, "status", pkg.Status)
	return pkg, nil
}

// ConsumeSession uses one session and raises a tier alert when the new remaining count calls for one.
func (s *Service) ConsumeSession(ctx context.Context, packageID string) (_ *TherapyPackage, err error) {
	ctx, span := packagesTracer.Start(ctx, "packages.consume",
		trace.WithAttributes(attribute.String("package.id", packageID)))
	started := time.Now()
	defer func() { s.finish(span, "consume_session", started, err) }()

	release, err := s.acquire(ctx, "package:"+packageID)
	if err != nil {
		return nil, err
	}
	defer release()

	var updated *TherapyPackage
	var alert *PackageAlert
	err = s.repo.WithinTx(ctx, func(tx Repository) error {
		var err error
		updated, alert, err = s.consume(ctx, tx, packageID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.afterConsume(span, updated, alert)
	return updated, nil
}

// RecordPackageSession appends an attendance entry; attended entries also consume a session.
func (s *Service) RecordPackageSession(ctx context.Context, req RecordSessionRequest) (_ *PackageSession, err error) {
	ctx, span := packagesTracer.Start(ctx, "packages.record_session",
		trace.WithAttributes(
			attribute.String("package.id", req.PackageID),
			attribute.String("attendance", string(req.AttendanceStatus)),
		))
	started := time.Now()
	defer func() { s.finish(span, "record_session", started, err) }()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	release, err := s.acquire(ctx, "package:"+req.PackageID)
	if err != nil {
		return nil, err
	}
	defer release()

	session := &PackageSession{
		ID:               uuid.NewString(),
		PackageID:        req.PackageID,
		PatientID:        req.PatientID,
		SessionDate:      req.SessionDate,
		AttendanceStatus: req.AttendanceStatus,
		TherapistID:      req.TherapistID,
		Notes:            req.Notes,
		CreatedAt:        s.now(),
	}

	var updated *TherapyPackage
	var alert *PackageAlert
	err = s.repo.WithinTx(ctx, func(tx Repository) error {
		pkg, err := tx.GetPackage(ctx, req.PackageID)
		if err != nil {
			return s.notFound(err, "package", req.PackageID)
		}
		if pkg.PatientID != req.PatientID {
			return validationf("package %s does not belong to patient %s", pkg.ID, req.PatientID)
		}
		if err := tx.CreateSession(ctx, session); err != nil {
			return err
		}
		if req.AttendanceStatus != AttendanceAttended {
			return nil
		}
		updated, alert, err = s.consume(ctx, tx, req.PackageID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if updated != nil {
		s.afterConsume(span, updated, alert)
	}
	s.logger.Info("package session recorded", "package_id", session.PackageID, "session_id", session.ID,
		"attendance", session.AttendanceStatus)
	return session, nil
}

// UpdatePackage edits non-counter fields. Terminal packages keep their status.
func (s *Service) UpdatePackage(ctx context.Context, packageID string, req UpdatePackageRequest) (_ *TherapyPackage, err error) {
	ctx, span := packagesTracer.Start(ctx, "packages.update",
		trace.WithAttributes(attribute.String("package.id", packageID)))
	started := time.Now()
	defer func() { s.finish(span, "update_package", started, err) }()

	release, err := s.acquire(ctx, "package:"+packageID)
	if err != nil {
		return nil, err
	}
	defer release()

	var before, after TherapyPackage
	err = s.repo.WithinTx(ctx, func(tx Repository) error {
		pkg, err := tx.GetPackage(ctx, packageID)
		if err != nil {
			return s.notFound(err, "package", packageID)
		}
		before = clonePackage(pkg)
		if err := req.Apply(pkg); err != nil {
			return err
		}
		now := s.now()
		if !pkg.Status.IsTerminal() {
			pkg.Status = CalculateStatus(pkg.TotalSessions, pkg.SessionsUsed, pkg.ExpirationDate, now)
		}
		pkg.UpdatedAt = now
		if err := tx.UpdatePackage(ctx, pkg); err != nil {
			return err
		}
		after = clonePackage(pkg)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.auditPackage(ctx, compliance.EventPackageUpdated, &after, map[string]any{
		"before": before,
		"after":  after,
	})
	return &after, nil
}

// DeletePackage is the administrative override. It reports whether a package was removed.
func (s *Service) DeletePackage(ctx context.Context, packageID string) (_ bool, err error) {
	ctx, span := packagesTracer.Start(ctx, "packages.delete",
		trace.WithAttributes(attribute.String("package.id", packageID)))
	started := time.Now()
	defer func() { s.finish(span, "delete_package", started, err) }()

	release, err := s.acquire(ctx, "package:"+packageID)
	if err != nil {
		return false, err
	}
	defer release()

	pkg, err := s.repo.GetPackage(ctx, packageID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	deleted, err := s.repo.DeletePackage(ctx, packageID)
	if err != nil || !deleted {
		return deleted, err
	}

	s.logger.Warn("package deleted", "package_id", pkg.ID, "patient_id", pkg.PatientID,
		"sessions_used", pkg.SessionsUsed, "total_sessions", pkg.TotalSessions)
	s.auditPackage(ctx, compliance.EventPackageDeleted, pkg, pkg)
	return true, nil
}

// GetPackage returns a package with its status re-evaluated against now.
func (s *Service) GetPackage(ctx context.Context, packageID string) (*TherapyPackage, error) {
	pkg, err := s.repo.GetPackage(ctx, packageID)
	if err != nil {
		return nil, s.notFound(err, "package", packageID)
	}
	return s.realize(ctx, pkg), nil
}

func (s *Service) ListPackages(ctx context.Context) ([]*TherapyPackage, error) {
	pkgs, err := s.repo.ListPackages(ctx)
	if err != nil {
		return nil, err
	}
	return s.realizeAll(ctx, pkgs), nil
}

func (s *Service) ListPackagesByPatient(ctx context.Context, patientID string) ([]*TherapyPackage, error) {
	pkgs, err := s.repo.ListPackagesByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return s.realizeAll(ctx, pkgs), nil
}

// GetActivePackage returns the patient's non-terminal package, or nil when there is none.
func (s *Service) GetActivePackage(ctx context.Context, patientID string) (*TherapyPackage, error) {
	pkg, err := s.repo.GetActivePackage(ctx, patientID)
	if err != nil || pkg == nil {
		return nil, err
	}
	pkg = s.realize(ctx, pkg)
	if pkg.Status.IsTerminal() {
		return nil, nil
	}
	return pkg, nil
}

func (s *Service) ListAlerts(ctx context.Context) ([]*PackageAlert, error) {
	return s.repo.ListAlerts(ctx, AlertFilter{})
}

func (s *Service) ListUnreadAlerts(ctx context.Context) ([]*PackageAlert, error) {
	return s.repo.ListAlerts(ctx, AlertFilter{UnreadOnly: true})
}

func (s *Service) ListAlertsByPatient(ctx context.Context, patientID string) ([]*PackageAlert, error) {
	return s.repo.ListAlerts(ctx, AlertFilter{PatientID: patientID})
}

// MarkAlertRead flips the read flag. Marking an already-read alert is a no-op.
func (s *Service) MarkAlertRead(ctx context.Context, alertID string) (*PackageAlert, error) {
	alert, err := s.repo.MarkAlertRead(ctx, alertID)
	if err != nil {
		return nil, s.notFound(err, "alert", alertID)
	}
	if s.audit != nil {
		if err := s.audit.LogAlertRead(ctx, alert.ID, alert.PackageID, alert.PatientID); err != nil {
			s.logger.Warn("audit alert read failed", "alert_id", alert.ID, "error", err)
		}
	}
	return alert, nil
}

// ListPackageSessions returns the attendance ledger for a package, oldest first.
func (s *Service) ListPackageSessions(ctx context.Context, packageID string) ([]*PackageSession, error) {
	if _, err := s.repo.GetPackage(ctx, packageID); err != nil {
		return nil, s.notFound(err, "package", packageID)
	}
	return s.repo.ListSessions(ctx, packageID)
}

// consume runs inside a unit of work and holds the package lock.
func (s *Service) consume(ctx context.Context, tx Repository, packageID string) (*TherapyPackage, *PackageAlert, error) {
	pkg, err := tx.GetPackage(ctx, packageID)
	if err != nil {
		return nil, nil, s.notFound(err, "package", packageID)
	}
	now := s.now()
	if effectiveStatus(pkg, now) == StatusExpired {
		return nil, nil, fmt.Errorf("%w: package %s has expired", ErrExhausted, pkg.ID)
	}
	if pkg.Remaining() <= 0 {
		return nil, nil, fmt.Errorf("%w: package %s has used all %d sessions", ErrExhausted, pkg.ID, pkg.TotalSessions)
	}

	status := CalculateStatus(pkg.TotalSessions, pkg.SessionsUsed+1, pkg.ExpirationDate, now)
	updated, err := tx.ConsumeUsage(ctx, pkg.ID, pkg.SessionsUsed, status, now)
	if err != nil {
		return nil, nil, err
	}

	remaining := updated.Remaining()
	alertType, ok := AlertTypeForRemaining(remaining)
	if !ok {
		return updated, nil, nil
	}
	alert, err := s.raiseAlert(ctx, tx, updated, alertType, remaining, now)
	if err != nil {
		return nil, nil, err
	}
	return updated, alert, nil
}

// raiseAlert stores an alert and, for non-panel delivery, queues it on the outbox in the same unit of work.
func (s *Service) raiseAlert(ctx context.Context, tx Repository, pkg *TherapyPackage, alertType AlertType, remaining int, now time.Time) (*PackageAlert, error) {
	alert := &PackageAlert{
		ID:        uuid.NewString(),
		PackageID: pkg.ID,
		PatientID: pkg.PatientID,
		AlertType: alertType,
		Message:   AlertMessage(alertType, pkg.Name, remaining),
		Method:    s.alertMethod,
		IsRead:    ReadFalse,
		CreatedAt: now,
	}
	if err := tx.CreateAlert(ctx, alert); err != nil {
		return nil, err
	}
	if alert.Method == MethodPanel {
		return alert, nil
	}
	outbox := tx.Outbox()
	if outbox == nil {
		s.logger.Warn("no outbox configured, alert stays panel-only", "alert_id", alert.ID, "method", alert.Method)
		return alert, nil
	}
	evt := events.PackageAlertCreatedV1{
		EventID:     uuid.NewString(),
		AlertID:     alert.ID,
		PackageID:   pkg.ID,
		PackageName: pkg.Name,
		PatientID:   pkg.PatientID,
		AlertType:   string(alert.AlertType),
		Method:      string(alert.Method),
		Message:     alert.Message,
		Remaining:   remaining,
		OccurredAt:  now,
	}
	if _, err := outbox.Insert(ctx, pkg.ID, events.EventPackageAlertCreated, evt); err != nil {
		return nil, fmt.Errorf("packages: queue alert event: %w", err)
	}
	return alert, nil
}

func (s *Service) afterConsume(span trace.Span, pkg *TherapyPackage, alert *PackageAlert) {
	s.metrics.ObserveSessionConsumed(string(pkg.Status))
	span.SetAttributes(
		attribute.Int("package.remaining", pkg.Remaining()),
		attribute.String("package.status", string(pkg.Status)),
	)
	s.logger.Info("package session consumed", "package_id", pkg.ID, "patient_id", pkg.PatientID,
		"sessions_used", pkg.SessionsUsed, "remaining", pkg.Remaining(), "status", pkg.Status)
	if alert != nil {
		s.metrics.ObserveAlert(string(alert.AlertType), string(alert.Method))
		s.logger.Info("package alert raised", "alert_id", alert.ID, "package_id", alert.PackageID,
			"alert_type", alert.AlertType, "method", alert.Method)
	}
}

// realize persists a status the clock has moved on since the last write.
func (s *Service) realize(ctx context.Context, pkg *TherapyPackage) *TherapyPackage {
	now := s.now()
	st := effectiveStatus(pkg, now)
	if st == pkg.Status {
		return pkg
	}
	pkg.Status = st
	pkg.UpdatedAt = now
	if err := s.repo.UpdatePackage(ctx, pkg); err != nil {
		s.logger.Warn("persist realized status failed", "package_id", pkg.ID, "status", st, "error", err)
	}
	return pkg
}

func (s *Service) realizeAll(ctx context.Context, pkgs []*TherapyPackage) []*TherapyPackage {
	out := make([]*TherapyPackage, 0, len(pkgs))
	for _, p := range pkgs {
		out = append(out, s.realize(ctx, p))
	}
	return out
}

func (s *Service) acquire(ctx context.Context, key string) (func(), error) {
	release, err := s.locker.Acquire(ctx, key)
	if err != nil {
		if errors.Is(err, locks.ErrNotAcquired) {
			return nil, fmt.Errorf("%w: %v", ErrConcurrentUpdate, err)
		}
		return nil, fmt.Errorf("packages: acquire lock: %w", err)
	}
	return release, nil
}

func (s *Service) auditPackage(ctx context.Context, eventType compliance.AuditEventType, pkg *TherapyPackage, details any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogPackageEvent(ctx, eventType, pkg.ID, pkg.PatientID, details); err != nil {
		s.logger.Warn("audit log failed", "event_type", eventType, "package_id", pkg.ID, "error", err)
	}
}

func (s *Service) notFound(err error, kind, id string) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	return err
}

func (s *Service) finish(span trace.Span, operation string, started time.Time, err error) {
	outcome := outcomeLabel(err)
	s.metrics.ObserveOperation(operation, outcome, started)
	if err != nil {
		span.RecordError(err)
		if outcome == "error" {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrPatientNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrExhausted):
		return "exhausted"
	case errors.Is(err, ErrConcurrentUpdate):
		return "contended"
	default:
		return "error"
	}
}
