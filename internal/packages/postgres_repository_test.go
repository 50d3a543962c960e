package packages

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/rehab-clinic-platform/internal/events"
)

var packageRowColumns = []string{
	"id", "patient_id", "name", "description", "total_sessions", "sessions_used", "purchase_date",
	"expiration_date", "price_cents", "status", "notes", "created_at", "updated_at",
}

var alertRowColumns = []string{"id", "package_id", "patient_id", "alert_type", "message", "method", "is_read", "created_at"}

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *PostgresRepository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPostgresRepository(mock)
}

func packageRow(id string, total, used int, status Status) *pgxmock.Rows {
	ts := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	return pgxmock.NewRows(packageRowColumns).AddRow(
		id, "patient-1", "Knee rehab", "", total, used, ts,
		nil, nil, string(status), "", ts, ts,
	)
}

func TestPostgresCreatePackage(t *testing.T) {
	mock, repo := newMockRepo(t)
	pkg := &TherapyPackage{ID: "pkg-1", PatientID: "patient-1", Name: "Knee rehab", TotalSessions: 10, Status: StatusActive}

	mock.ExpectExec("INSERT INTO therapy_packages").
		WithArgs("pkg-1", "patient-1", "Knee rehab", "", 10, 0, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "active", "", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, repo.CreatePackage(context.Background(), pkg))

	mock.ExpectExec("INSERT INTO therapy_packages").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "therapy_packages_one_active"})
	err := repo.CreatePackage(context.Background(), pkg)
	assert.ErrorIs(t, err, ErrConflict)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetPackage(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectQuery("FROM therapy_packages WHERE id").WithArgs("pkg-1").WillReturnRows(packageRow("pkg-1", 10, 3, StatusActive))
	pkg, err := repo.GetPackage(context.Background(), "pkg-1")
	require.NoError(t, err)
	assert.Equal(t, 7, pkg.Remaining())
	assert.Equal(t, StatusActive, pkg.Status)
	assert.Nil(t, pkg.ExpirationDate)

	mock.ExpectQuery("FROM therapy_packages WHERE id").WithArgs("missing").WillReturnError(pgx.ErrNoRows)
	_, err = repo.GetPackage(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetActivePackageNone(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectQuery("status = ANY").
		WithArgs("patient-1", []string{"active", "warning", "critical"}).
		WillReturnError(pgx.ErrNoRows)
	pkg, err := repo.GetActivePackage(context.Background(), "patient-1")
	require.NoError(t, err)
	assert.Nil(t, pkg)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListExpirableSkipsAlerted(t *testing.T) {
	mock, repo := newMockRepo(t)
	asOf := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("NOT EXISTS").
		WithArgs([]string{"active", "warning", "critical", "expired"}, asOf, "expired").
		WillReturnRows(packageRow("pkg-1", 10, 2, StatusExpired))
	pkgs, err := repo.ListExpirable(context.Background(), asOf)
	require.NoError(t, err)
	require.Len(t, pkgs, 1)
	assert.Equal(t, StatusExpired, pkgs[0].Status)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresConsumeUsage(t *testing.T) {
	at := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

	t.Run("increments", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		mock.ExpectQuery("SET sessions_used = sessions_used \\+ 1").
			WithArgs("pkg-1", 6, "warning", at).
			WillReturnRows(packageRow("pkg-1", 10, 7, StatusWarning))

		pkg, err := repo.ConsumeUsage(context.Background(), "pkg-1", 6, StatusWarning, at)
		require.NoError(t, err)
		assert.Equal(t, 7, pkg.SessionsUsed)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("exhausted", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		mock.ExpectQuery("SET sessions_used = sessions_used \\+ 1").WillReturnError(pgx.ErrNoRows)
		mock.ExpectQuery("FROM therapy_packages WHERE id").WithArgs("pkg-1").
			WillReturnRows(packageRow("pkg-1", 10, 10, StatusFinished))

		_, err := repo.ConsumeUsage(context.Background(), "pkg-1", 10, StatusFinished, at)
		assert.ErrorIs(t, err, ErrExhausted)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lost race", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		mock.ExpectQuery("SET sessions_used = sessions_used \\+ 1").WillReturnError(pgx.ErrNoRows)
		mock.ExpectQuery("FROM therapy_packages WHERE id").WithArgs("pkg-1").
			WillReturnRows(packageRow("pkg-1", 10, 5, StatusActive))

		_, err := repo.ConsumeUsage(context.Background(), "pkg-1", 4, StatusActive, at)
		assert.ErrorIs(t, err, ErrConcurrentUpdate)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresUpdateAndDelete(t *testing.T) {
	mock, repo := newMockRepo(t)
	pkg := &TherapyPackage{ID: "pkg-1", Name: "Shoulder", Status: StatusExpired}

	mock.ExpectExec("UPDATE therapy_packages").WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, repo.UpdatePackage(context.Background(), pkg), ErrNotFound)

	mock.ExpectExec("DELETE FROM therapy_packages").WithArgs("pkg-1").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	deleted, err := repo.DeletePackage(context.Background(), "pkg-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	mock.ExpectExec("DELETE FROM therapy_packages").WithArgs("pkg-1").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	deleted, err = repo.DeletePackage(context.Background(), "pkg-1")
	require.NoError(t, err)
	assert.False(t, deleted)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAlerts(t *testing.T) {
	mock, repo := newMockRepo(t)
	ts := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM package_alerts WHERE .* AND is_read = 'false'").
		WithArgs("").
		WillReturnRows(pgxmock.NewRows(alertRowColumns).
			AddRow("alert-2", "pkg-1", "patient-1", "red", "2 sessions remaining", "panel", ReadFalse, ts).
			AddRow("alert-1", "pkg-1", "patient-1", "yellow", "3 sessions remaining", "panel", ReadFalse, ts))
	alerts, err := repo.ListAlerts(context.Background(), AlertFilter{UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertRed, alerts[0].AlertType)
	assert.Equal(t, MethodPanel, alerts[1].Method)

	mock.ExpectQuery("UPDATE package_alerts SET is_read").WithArgs("alert-1").
		WillReturnRows(pgxmock.NewRows(alertRowColumns).
			AddRow("alert-1", "pkg-1", "patient-1", "yellow", "3 sessions remaining", "panel", ReadTrue, ts))
	alert, err := repo.MarkAlertRead(context.Background(), "alert-1")
	require.NoError(t, err)
	assert.Equal(t, ReadTrue, alert.IsRead)

	mock.ExpectQuery("UPDATE package_alerts SET is_read").WithArgs("missing").WillReturnError(pgx.ErrNoRows)
	_, err = repo.MarkAlertRead(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	mock.ExpectQuery("SELECT EXISTS").WithArgs("pkg-1", "expired").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	exists, err := repo.HasAlert(context.Background(), "pkg-1", AlertExpired)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateSessionUnknownPackage(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectExec("INSERT INTO package_sessions").WillReturnError(&pgconn.PgError{Code: "23503"})
	err := repo.CreateSession(context.Background(), &PackageSession{ID: "s-1", PackageID: "gone", AttendanceStatus: AttendanceAttended})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresWithinTx(t *testing.T) {
	t.Run("commits alert and outbox together", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO package_alerts").WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectExec("INSERT INTO outbox").
			WithArgs(pgxmock.AnyArg(), "pkg-1", events.EventPackageAlertCreated, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		err := repo.WithinTx(context.Background(), func(tx Repository) error {
			if err := tx.CreateAlert(context.Background(), &PackageAlert{ID: "alert-1", PackageID: "pkg-1", AlertType: AlertRed, Method: MethodEmail, IsRead: ReadFalse}); err != nil {
				return err
			}
			_, err := tx.Outbox().Insert(context.Background(), "pkg-1", events.EventPackageAlertCreated, map[string]string{"alert_id": "alert-1"})
			return err
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		boom := errors.New("boom")
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO package_alerts").WillReturnError(boom)
		mock.ExpectRollback()

		err := repo.WithinTx(context.Background(), func(tx Repository) error {
			return tx.CreateAlert(context.Background(), &PackageAlert{ID: "alert-1", PackageID: "pkg-1"})
		})
		assert.ErrorIs(t, err, boom)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
