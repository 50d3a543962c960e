package packages

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/rehab-clinic-platform/internal/events"
)

// AlertFilter narrows alert listings.
type AlertFilter struct {
	PatientID  string
	UnreadOnly bool
}

// Repository persists packages, their alerts and their session ledger.
type Repository interface {
	CreatePackage(ctx context.Context, p *TherapyPackage) error
	GetPackage(ctx context.Context, id string) (*TherapyPackage, error)
	ListPackages(ctx context.Context) ([]*TherapyPackage, error)
	ListPackagesByPatient(ctx context.Context, patientID string) ([]*TherapyPackage, error)
	// GetActivePackage returns nil, nil when the patient has no non-terminal package.
	GetActivePackage(ctx context.Context, patientID string) (*TherapyPackage, error)
	UpdatePackage(ctx context.Context, p *TherapyPackage) error
	// ConsumeUsage bumps sessions_used by one if it still equals expectedUsed and is below the total.
	ConsumeUsage(ctx context.Context, id string, expectedUsed int, status Status, at time.Time) (*TherapyPackage, error)
	DeletePackage(ctx context.Context, id string) (bool, error)
	// ListExpirable returns packages lapsed before asOf that are live or already expired
	// but still lack an expired alert.
	ListExpirable(ctx context.Context, asOf time.Time) ([]*TherapyPackage, error)
	ListExpiringBetween(ctx context.Context, from, to time.Time) ([]*TherapyPackage, error)

	CreateAlert(ctx context.Context, a *PackageAlert) error
	GetAlert(ctx context.Context, id string) (*PackageAlert, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]*PackageAlert, error)
	MarkAlertRead(ctx context.Context, id string) (*PackageAlert, error)
	HasAlert(ctx context.Context, packageID string, alertType AlertType) (bool, error)

	CreateSession(ctx context.Context, s *PackageSession) error
	ListSessions(ctx context.Context, packageID string) ([]*PackageSession, error)

	// Outbox returns the event writer bound to this repository's unit of work, or nil.
	Outbox() events.Writer

	// WithinTx runs fn as one unit of work; an error from fn discards its writes.
	WithinTx(ctx context.Context, fn func(Repository) error) error
}

type memPackage struct {
	seq int64
	pkg TherapyPackage
}

type memAlert struct {
	seq   int64
	alert PackageAlert
}

type memSession struct {
	seq     int64
	session PackageSession
}

// InMemoryRepository keeps everything in maps. Used in tests and when no database is configured.
type InMemoryRepository struct {
	txMu     sync.Mutex
	mu       sync.RWMutex
	seq      int64
	packages map[string]memPackage
	alerts   map[string]memAlert
	sessions map[string]memSession
	outbox   *events.MemoryOutbox
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		packages: make(map[string]memPackage),
		alerts:   make(map[string]memAlert),
		sessions: make(map[string]memSession),
	}
}

// WithOutbox attaches an in-memory outbox for alert events.
func (r *InMemoryRepository) WithOutbox(outbox *events.MemoryOutbox) *InMemoryRepository {
	r.outbox = outbox
	return r
}

func (r *InMemoryRepository) Outbox() events.Writer {
	if r.outbox == nil {
		return nil
	}
	return r.outbox
}

func (r *InMemoryRepository) nextSeq() int64 {
	r.seq++
	return r.seq
}

func (r *InMemoryRepository) CreatePackage(ctx context.Context, p *TherapyPackage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !p.Status.IsTerminal() {
		for _, existing := range r.packages {
			if existing.pkg.PatientID == p.PatientID && !existing.pkg.Status.IsTerminal() {
				return ErrConflict
			}
		}
	}
	r.packages[p.ID] = memPackage{seq: r.nextSeq(), pkg: clonePackage(p)}
	return nil
}

func (r *InMemoryRepository) GetPackage(ctx context.Context, id string) (*TherapyPackage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored, ok := r.packages[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := clonePackage(&stored.pkg)
	return &out, nil
}

func (r *InMemoryRepository) ListPackages(ctx context.Context) ([]*TherapyPackage, error) {
	return r.filterPackages(func(*TherapyPackage) bool { return true }), nil
}

func (r *InMemoryRepository) ListPackagesByPatient(ctx context.Context, patientID string) ([]*TherapyPackage, error) {
	return r.filterPackages(func(p *TherapyPackage) bool { return p.PatientID == patientID }), nil
}

func (r *InMemoryRepository) GetActivePackage(ctx context.Context, patientID string) (*TherapyPackage, error) {
	matches := r.filterPackages(func(p *TherapyPackage) bool {
		return p.PatientID == patientID && !p.Status.IsTerminal()
	})
	if len(matches) == 0 {
		return nil, nil
	}
	return matches[0], nil
}

func (r *InMemoryRepository) UpdatePackage(ctx context.Context, p *TherapyPackage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.packages[p.ID]
	if !ok {
		return ErrNotFound
	}
	stored.pkg = clonePackage(p)
	r.packages[p.ID] = stored
	return nil
}

func (r *InMemoryRepository) ConsumeUsage(ctx context.Context, id string, expectedUsed int, status Status, at time.Time) (*TherapyPackage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.packages[id]
	if !ok {
		return nil, ErrNotFound
	}
	if stored.pkg.SessionsUsed >= stored.pkg.TotalSessions {
		return nil, ErrExhausted
	}
	if stored.pkg.SessionsUsed != expectedUsed {
		return nil, ErrConcurrentUpdate
	}
	stored.pkg.SessionsUsed++
	stored.pkg.Status = status
	stored.pkg.UpdatedAt = at
	r.packages[id] = stored
	out := clonePackage(&stored.pkg)
	return &out, nil
}

func (r *InMemoryRepository) DeletePackage(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.packages[id]; !ok {
		return false, nil
	}
	delete(r.packages, id)
	for alertID, a := range r.alerts {
		if a.alert.PackageID == id {
			delete(r.alerts, alertID)
		}
	}
	for sessionID, s := range r.sessions {
		if s.session.PackageID == id {
			delete(r.sessions, sessionID)
		}
	}
	return true, nil
}

func (r *InMemoryRepository) ListExpirable(ctx context.Context, asOf time.Time) ([]*TherapyPackage, error) {
	return r.filterPackages(func(p *TherapyPackage) bool {
		if p.Status == StatusFinished || p.ExpirationDate == nil || !p.ExpirationDate.Before(asOf) {
			return false
		}
		// filterPackages already holds the read lock.
		for _, stored := range r.alerts {
			if stored.alert.PackageID == p.ID && stored.alert.AlertType == AlertExpired {
				return false
			}
		}
		return true
	}), nil
}

func (r *InMemoryRepository) ListExpiringBetween(ctx context.Context, from, to time.Time) ([]*TherapyPackage, error) {
	return r.filterPackages(func(p *TherapyPackage) bool {
		if p.Status.IsTerminal() || p.ExpirationDate == nil {
			return false
		}
		return !p.ExpirationDate.Before(from) && !p.ExpirationDate.After(to)
	}), nil
}

func (r *InMemoryRepository) filterPackages(keep func(*TherapyPackage) bool) []*TherapyPackage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rows := make([]memPackage, 0, len(r.packages))
	for _, stored := range r.packages {
		if keep(&stored.pkg) {
			rows = append(rows, stored)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	out := make([]*TherapyPackage, 0, len(rows))
	for i := range rows {
		p := clonePackage(&rows[i].pkg)
		out = append(out, &p)
	}
	return out
}

func (r *InMemoryRepository) CreateAlert(ctx context.Context, a *PackageAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts[a.ID] = memAlert{seq: r.nextSeq(), alert: *a}
	return nil
}

func (r *InMemoryRepository) GetAlert(ctx context.Context, id string) (*PackageAlert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored, ok := r.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := stored.alert
	return &out, nil
}

// ListAlerts returns newest first.
func (r *InMemoryRepository) ListAlerts(ctx context.Context, filter AlertFilter) ([]*PackageAlert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rows := make([]memAlert, 0, len(r.alerts))
	for _, stored := range r.alerts {
		if filter.PatientID != "" && stored.alert.PatientID != filter.PatientID {
			continue
		}
		if filter.UnreadOnly && stored.alert.IsRead == ReadTrue {
			continue
		}
		rows = append(rows, stored)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq > rows[j].seq })
	out := make([]*PackageAlert, 0, len(rows))
	for i := range rows {
		a := rows[i].alert
		out = append(out, &a)
	}
	return out, nil
}

func (r *InMemoryRepository) MarkAlertRead(ctx context.Context, id string) (*PackageAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	stored.alert.IsRead = ReadTrue
	r.alerts[id] = stored
	out := stored.alert
	return &out, nil
}

func (r *InMemoryRepository) HasAlert(ctx context.Context, packageID string, alertType AlertType) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, stored := range r.alerts {
		if stored.alert.PackageID == packageID && stored.alert.AlertType == alertType {
			return true, nil
		}
	}
	return false, nil
}

func (r *InMemoryRepository) CreateSession(ctx context.Context, s *PackageSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.packages[s.PackageID]; !ok {
		return ErrNotFound
	}
	r.sessions[s.ID] = memSession{seq: r.nextSeq(), session: *s}
	return nil
}

func (r *InMemoryRepository) ListSessions(ctx context.Context, packageID string) ([]*PackageSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rows := make([]memSession, 0)
	for _, stored := range r.sessions {
		if stored.session.PackageID == packageID {
			rows = append(rows, stored)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	out := make([]*PackageSession, 0, len(rows))
	for i := range rows {
		s := rows[i].session
		out = append(out, &s)
	}
	return out, nil
}

// WithinTx serializes units of work. When fn fails only the rows it touched are put back,
// so writes made outside the unit of work in the meantime survive.
func (r *InMemoryRepository) WithinTx(ctx context.Context, fn func(Repository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	tx := &memTx{InMemoryRepository: r, seen: make(map[string]bool)}
	if err := fn(tx); err != nil {
		r.mu.Lock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		r.mu.Unlock()
		if r.outbox != nil {
			r.outbox.Discard(tx.written...)
		}
		return err
	}
	return nil
}

// memTx is the view handed to a unit of work. It records the prior state of every row it
// writes and the outbox entries it inserts.
type memTx struct {
	*InMemoryRepository
	seen    map[string]bool
	undo    []func()
	written []uuid.UUID
}

func (t *memTx) Outbox() events.Writer {
	if t.outbox == nil {
		return nil
	}
	return t
}

func (t *memTx) Insert(ctx context.Context, aggregateID string, eventType string, payload any) (uuid.UUID, error) {
	id, err := t.outbox.Insert(ctx, aggregateID, eventType, payload)
	if err == nil {
		t.written = append(t.written, id)
	}
	return id, err
}

func (t *memTx) WithinTx(ctx context.Context, fn func(Repository) error) error {
	return fn(t)
}

func (t *memTx) CreatePackage(ctx context.Context, p *TherapyPackage) error {
	t.rememberPackage(p.ID)
	return t.InMemoryRepository.CreatePackage(ctx, p)
}

func (t *memTx) UpdatePackage(ctx context.Context, p *TherapyPackage) error {
	t.rememberPackage(p.ID)
	return t.InMemoryRepository.UpdatePackage(ctx, p)
}

func (t *memTx) ConsumeUsage(ctx context.Context, id string, expectedUsed int, status Status, at time.Time) (*TherapyPackage, error) {
	t.rememberPackage(id)
	return t.InMemoryRepository.ConsumeUsage(ctx, id, expectedUsed, status, at)
}

func (t *memTx) DeletePackage(ctx context.Context, id string) (bool, error) {
	t.rememberPackage(id)
	t.mu.RLock()
	var alertIDs, sessionIDs []string
	for alertID, a := range t.alerts {
		if a.alert.PackageID == id {
			alertIDs = append(alertIDs, alertID)
		}
	}
	for sessionID, s := range t.sessions {
		if s.session.PackageID == id {
			sessionIDs = append(sessionIDs, sessionID)
		}
	}
	t.mu.RUnlock()
	for _, alertID := range alertIDs {
		t.rememberAlert(alertID)
	}
	for _, sessionID := range sessionIDs {
		t.rememberSession(sessionID)
	}
	return t.InMemoryRepository.DeletePackage(ctx, id)
}

func (t *memTx) CreateAlert(ctx context.Context, a *PackageAlert) error {
	t.rememberAlert(a.ID)
	return t.InMemoryRepository.CreateAlert(ctx, a)
}

func (t *memTx) MarkAlertRead(ctx context.Context, id string) (*PackageAlert, error) {
	t.rememberAlert(id)
	return t.InMemoryRepository.MarkAlertRead(ctx, id)
}

func (t *memTx) CreateSession(ctx context.Context, s *PackageSession) error {
	t.rememberSession(s.ID)
	return t.InMemoryRepository.CreateSession(ctx, s)
}

// first reports whether key has not been touched yet in this unit of work.
func (t *memTx) first(key string) bool {
	if t.seen[key] {
		return false
	}
	t.seen[key] = true
	return true
}

func (t *memTx) rememberPackage(id string) {
	if !t.first("package:" + id) {
		return
	}
	r := t.InMemoryRepository
	r.mu.RLock()
	prev, ok := r.packages[id]
	r.mu.RUnlock()
	if ok {
		prev.pkg = clonePackage(&prev.pkg)
	}
	t.undo = append(t.undo, func() {
		if ok {
			r.packages[id] = prev
		} else {
			delete(r.packages, id)
		}
	})
}

func (t *memTx) rememberAlert(id string) {
	if !t.first("alert:" + id) {
		return
	}
	r := t.InMemoryRepository
	r.mu.RLock()
	prev, ok := r.alerts[id]
	r.mu.RUnlock()
	t.undo = append(t.undo, func() {
		if ok {
			r.alerts[id] = prev
		} else {
			delete(r.alerts, id)
		}
	})
}

func (t *memTx) rememberSession(id string) {
	if !t.first("session:" + id) {
		return
	}
	r := t.InMemoryRepository
	r.mu.RLock()
	prev, ok := r.sessions[id]
	r.mu.RUnlock()
	t.undo = append(t.undo, func() {
		if ok {
			r.sessions[id] = prev
		} else {
			delete(r.sessions, id)
		}
	})
}

func clonePackage(p *TherapyPackage) TherapyPackage {
	out := *p
	if p.ExpirationDate != nil {
		exp := *p.ExpirationDate
		out.ExpirationDate = &exp
	}
	if p.PriceCents != nil {
		price := *p.PriceCents
		out.PriceCents = &price
	}
	return out
}
