// Package patients resolves patient ids owned by the clinic's patient records.
package patients

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when no patient has the given id.
var ErrNotFound = errors.New("patients: not found")

// Patient is the slice of the patient record the package engine needs.
type Patient struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email,omitempty"`
}

// Directory answers patient lookups.
type Directory interface {
	Exists(ctx context.Context, patientID string) (bool, error)
	Find(ctx context.Context, patientID string) (*Patient, error)
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresDirectory reads the patients table.
type PostgresDirectory struct {
	db queryer
}

func NewPostgresDirectory(db queryer) *PostgresDirectory {
	if db == nil {
		panic("patients: db cannot be nil")
	}
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) Exists(ctx context.Context, patientID string) (bool, error) {
	if strings.TrimSpace(patientID) == "" {
		return false, nil
	}
	var exists bool
	err := d.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patients WHERE id = $1)`, patientID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("patients: exists %s: %w", patientID, err)
	}
	return exists, nil
}

func (d *PostgresDirectory) Find(ctx context.Context, patientID string) (*Patient, error) {
	var p Patient
	err := d.db.QueryRow(ctx, `SELECT id, full_name, COALESCE(email, '') FROM patients WHERE id = $1`, patientID).
		Scan(&p.ID, &p.FullName, &p.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("patients: find %s: %w", patientID, err)
	}
	return &p, nil
}

// Upsert inserts or renames a patient. Used by seeding and tests.
func (d *PostgresDirectory) Upsert(ctx context.Context, p Patient) error {
	_, err := d.db.Exec(ctx, `
		INSERT INTO patients (id, full_name, email) VALUES ($1, $2, NULLIF($3, ''))
		ON CONFLICT (id) DO UPDATE SET full_name = EXCLUDED.full_name, email = EXCLUDED.email
	`, p.ID, p.FullName, p.Email)
	if err != nil {
		return fmt.Errorf("patients: upsert %s: %w", p.ID, err)
	}
	return nil
}

// StaticDirectory is an in-memory directory for tests and database-less runs.
type StaticDirectory struct {
	mu       sync.RWMutex
	patients map[string]Patient
	allowAll bool
}

// NewStaticDirectory seeds a directory with the given patients.
func NewStaticDirectory(seed ...Patient) *StaticDirectory {
	d := &StaticDirectory{patients: make(map[string]Patient, len(seed))}
	for _, p := range seed {
		d.patients[p.ID] = p
	}
	return d
}

// NewPermissiveDirectory accepts any non-empty patient id.
func NewPermissiveDirectory() *StaticDirectory {
	d := NewStaticDirectory()
	d.allowAll = true
	return d
}

func (d *StaticDirectory) Add(p Patient) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.patients[p.ID] = p
}

func (d *StaticDirectory) Exists(ctx context.Context, patientID string) (bool, error) {
	if strings.TrimSpace(patientID) == "" {
		return false, nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.patients[patientID]
	return ok || d.allowAll, nil
}

func (d *StaticDirectory) Find(ctx context.Context, patientID string) (*Patient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if p, ok := d.patients[patientID]; ok {
		return &p, nil
	}
	if d.allowAll && strings.TrimSpace(patientID) != "" {
		return &Patient{ID: patientID}, nil
	}
	return nil, ErrNotFound
}
