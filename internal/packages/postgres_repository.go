package packages

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/wolfman30/rehab-clinic-platform/internal/events"
)

// DB abstracts the pgx query interface so pools, transactions and mocks all fit.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

const packageColumns = `id, patient_id, name, description, total_sessions, sessions_used, purchase_date,
	expiration_date, price_cents, status, notes, created_at, updated_at`

const alertColumns = `id, package_id, patient_id, alert_type, message, method, is_read, created_at`

const sessionColumns = `id, package_id, patient_id, session_date, attendance_status, therapist_id, notes, created_at`

// PostgresRepository stores packages in the relational database.
type PostgresRepository struct {
	db DB
}

// NewPostgresRepository initializes a repo backed by a pgx pool (or anything shaped like one).
func NewPostgresRepository(db DB) *PostgresRepository {
	if db == nil {
		panic("packages: pgx pool required")
	}
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) CreatePackage(ctx context.Context, p *TherapyPackage) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO therapy_packages (`+packageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.PatientID, p.Name, p.Description, p.TotalSessions, p.SessionsUsed, p.PurchaseDate,
		p.ExpirationDate, p.PriceCents, string(p.Status), p.Notes, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrConflict
		}
		return fmt.Errorf("packages: insert package: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetPackage(ctx context.Context, id string) (*TherapyPackage, error) {
	row := r.db.QueryRow(ctx, `SELECT `+packageColumns+` FROM therapy_packages WHERE id = $1`, id)
	p, err := scanPackage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("packages: select package: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) ListPackages(ctx context.Context) ([]*TherapyPackage, error) {
	return r.queryPackages(ctx, "list packages", `
		SELECT `+packageColumns+` FROM therapy_packages
		ORDER BY created_at, id`)
}

func (r *PostgresRepository) ListPackagesByPatient(ctx context.Context, patientID string) ([]*TherapyPackage, error) {
	return r.queryPackages(ctx, "list packages by patient", `
		SELECT `+packageColumns+` FROM therapy_packages
		WHERE patient_id = $1
		ORDER BY created_at, id`, patientID)
}

func (r *PostgresRepository) GetActivePackage(ctx context.Context, patientID string) (*TherapyPackage, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+packageColumns+` FROM therapy_packages
		WHERE patient_id = $1 AND status = ANY($2)
		ORDER BY created_at
		LIMIT 1`, patientID, statusStrings(NonTerminalStatuses))
	p, err := scanPackage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("packages: select active package: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) UpdatePackage(ctx context.Context, p *TherapyPackage) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE therapy_packages
		SET name = $2, description = $3, purchase_date = $4, expiration_date = $5,
			price_cents = $6, status = $7, notes = $8, updated_at = $9
		WHERE id = $1`,
		p.ID, p.Name, p.Description, p.PurchaseDate, p.ExpirationDate,
		p.PriceCents, string(p.Status), p.Notes, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("packages: update package: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) ConsumeUsage(ctx context.Context, id string, expectedUsed int, status Status, at time.Time) (*TherapyPackage, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE therapy_packages
		SET sessions_used = sessions_used + 1, status = $3, updated_at = $4
		WHERE id = $1 AND sessions_used = $2 AND sessions_used < total_sessions
		RETURNING `+packageColumns,
		id, expectedUsed, string(status), at,
	)
	p, err := scanPackage(row)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("packages: consume session: %w", err)
	}
	current, getErr := r.GetPackage(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if current.Remaining() <= 0 {
		return nil, ErrExhausted
	}
	return nil, ErrConcurrentUpdate
}

func (r *PostgresRepository) DeletePackage(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM therapy_packages WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("packages: delete package: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) ListExpirable(ctx context.Context, asOf time.Time) ([]*TherapyPackage, error) {
	return r.queryPackages(ctx, "list expirable", `
		SELECT `+packageColumns+` FROM therapy_packages
		WHERE status = ANY($1) AND expiration_date IS NOT NULL AND expiration_date < $2
		  AND NOT EXISTS (
			SELECT 1 FROM package_alerts a
			WHERE a.package_id = therapy_packages.id AND a.alert_type = $3)
		ORDER BY expiration_date`, append(statusStrings(NonTerminalStatuses), string(StatusExpired)), asOf, string(AlertExpired))
}

func (r *PostgresRepository) ListExpiringBetween(ctx context.Context, from, to time.Time) ([]*TherapyPackage, error) {
	return r.queryPackages(ctx, "list expiring", `
		SELECT `+packageColumns+` FROM therapy_packages
		WHERE status = ANY($1) AND expiration_date BETWEEN $2 AND $3
		ORDER BY expiration_date`, statusStrings(NonTerminalStatuses), from, to)
}

func (r *PostgresRepository) queryPackages(ctx context.Context, op string, query string, args ...any) ([]*TherapyPackage, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("packages: %s: %w", op, err)
	}
	defer rows.Close()

	var out []*TherapyPackage
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("packages: %s: scan: %w", op, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("packages: %s: %w", op, err)
	}
	return out, nil
}

func (r *PostgresRepository) CreateAlert(ctx context.Context, a *PackageAlert) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO package_alerts (`+alertColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.PackageID, a.PatientID, string(a.AlertType), a.Message, string(a.Method), a.IsRead, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("packages: insert alert: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetAlert(ctx context.Context, id string) (*PackageAlert, error) {
	row := r.db.QueryRow(ctx, `SELECT `+alertColumns+` FROM package_alerts WHERE id = $1`, id)
	a, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("packages: select alert: %w", err)
	}
	return a, nil
}

func (r *PostgresRepository) ListAlerts(ctx context.Context, filter AlertFilter) ([]*PackageAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM package_alerts WHERE ($1::text = '' OR patient_id = $1)`
	if filter.UnreadOnly {
		query += ` AND is_read = 'false'`
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := r.db.Query(ctx, query, filter.PatientID)
	if err != nil {
		return nil, fmt.Errorf("packages: list alerts: %w", err)
	}
	defer rows.Close()

	var out []*PackageAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("packages: list alerts: scan: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) MarkAlertRead(ctx context.Context, id string) (*PackageAlert, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE package_alerts SET is_read = 'true'
		WHERE id = $1
		RETURNING `+alertColumns, id)
	a, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("packages: mark alert read: %w", err)
	}
	return a, nil
}

func (r *PostgresRepository) HasAlert(ctx context.Context, packageID string, alertType AlertType) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM package_alerts WHERE package_id = $1 AND alert_type = $2)`,
		packageID, string(alertType)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("packages: check alert: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) CreateSession(ctx context.Context, s *PackageSession) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO package_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.PackageID, s.PatientID, s.SessionDate, string(s.AttendanceStatus), s.TherapistID, s.Notes, s.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return ErrNotFound
		}
		return fmt.Errorf("packages: insert session: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListSessions(ctx context.Context, packageID string) ([]*PackageSession, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+sessionColumns+` FROM package_sessions
		WHERE package_id = $1
		ORDER BY session_date, created_at`, packageID)
	if err != nil {
		return nil, fmt.Errorf("packages: list sessions: %w", err)
	}
	defer rows.Close()

	var out []*PackageSession
	for rows.Next() {
		var s PackageSession
		var attendance string
		if err := rows.Scan(&s.ID, &s.PackageID, &s.PatientID, &s.SessionDate, &attendance, &s.TherapistID, &s.Notes, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("packages: list sessions: scan: %w", err)
		}
		s.AttendanceStatus = AttendanceStatus(attendance)
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Outbox() events.Writer {
	return events.NewOutboxStore(r.db)
}

func (r *PostgresRepository) WithinTx(ctx context.Context, fn func(Repository) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("packages: begin tx: %w", err)
	}
	if err := fn(&PostgresRepository{db: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("packages: commit tx: %w", err)
	}
	return nil
}

func scanPackage(row pgx.Row) (*TherapyPackage, error) {
	var p TherapyPackage
	var status string
	if err := row.Scan(
		&p.ID,
		&p.PatientID,
		&p.Name,
		&p.Description,
		&p.TotalSessions,
		&p.SessionsUsed,
		&p.PurchaseDate,
		&p.ExpirationDate,
		&p.PriceCents,
		&status,
		&p.Notes,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.Status = Status(status)
	return &p, nil
}

func scanAlert(row pgx.Row) (*PackageAlert, error) {
	var a PackageAlert
	var alertType, method string
	if err := row.Scan(&a.ID, &a.PackageID, &a.PatientID, &alertType, &a.Message, &method, &a.IsRead, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.AlertType = AlertType(alertType)
	a.Method = AlertMethod(method)
	return &a, nil
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
