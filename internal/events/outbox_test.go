package events

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/wolfman30/rehab-clinic-platform/pkg/logging"
)

func TestOutboxStoreFlow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := NewOutboxStore(mock)

	mock.ExpectExec("INSERT INTO outbox").WithArgs(pgxmock.AnyArg(), "pkg-1", EventPackageAlertCreated, pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	if _, err := store.Insert(context.Background(), "pkg-1", EventPackageAlertCreated, map[string]string{"alert_id": "a-1"}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	now := time.Now().UTC()
	id := uuid.New()
	rows := pgxmock.NewRows([]string{"id", "aggregate_id", "type", "payload", "created_at"}).AddRow(id, "pkg-1", EventPackageAlertCreated, []byte("{\"alert_id\":\"a-1\"}"), now)
	mock.ExpectQuery("SELECT id").WithArgs(int32(10)).WillReturnRows(rows)

	entries, err := store.FetchPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("fetch pending failed: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != id || entries[0].AggregateID != "pkg-1" {
		t.Fatalf("unexpected entries: %#v", entries)
	}

	mock.ExpectExec("UPDATE outbox").WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	ok, err := store.MarkDelivered(context.Background(), id)
	if err != nil {
		t.Fatalf("mark delivered failed: %v", err)
	}
	if !ok {
		t.Fatal("expected mark delivered to report success")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

type recordingHandler struct {
	calls []OutboxEntry
	err   error
}

func (h *recordingHandler) Handle(_ context.Context, entry OutboxEntry) error {
	h.calls = append(h.calls, entry)
	return h.err
}

func TestDelivererDrainMarksDelivered(t *testing.T) {
	outbox := NewMemoryOutbox()
	ctx := context.Background()
	if _, err := outbox.Insert(ctx, "pkg-1", EventPackageAlertCreated, PackageAlertCreatedV1{AlertID: "a-1"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	handler := &recordingHandler{}
	d := NewDeliverer(outbox, handler, logging.Default())

	if got := d.Drain(ctx); got != 1 {
		t.Fatalf("expected 1 delivered, got %d", got)
	}
	if got := d.Drain(ctx); got != 0 {
		t.Fatalf("expected nothing pending on second drain, got %d", got)
	}
	if len(handler.calls) != 1 {
		t.Fatalf("expected handler once, got %d", len(handler.calls))
	}
}

func TestDelivererKeepsFailedEntriesPending(t *testing.T) {
	outbox := NewMemoryOutbox()
	ctx := context.Background()
	if _, err := outbox.Insert(ctx, "pkg-1", EventPackageAlertCreated, PackageAlertCreatedV1{AlertID: "a-1"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	handler := &recordingHandler{err: errors.New("smtp down")}
	d := NewDeliverer(outbox, handler, logging.Default())

	if got := d.Drain(ctx); got != 0 {
		t.Fatalf("expected no deliveries, got %d", got)
	}
	pending, _ := outbox.FetchPending(ctx, 10)
	if len(pending) != 1 {
		t.Fatalf("expected entry to stay pending, got %d", len(pending))
	}
}

func TestMemoryOutboxDiscard(t *testing.T) {
	outbox := NewMemoryOutbox()
	ctx := context.Background()
	keep, _ := outbox.Insert(ctx, "pkg-1", "a", nil)
	drop, _ := outbox.Insert(ctx, "pkg-2", "b", nil)
	outbox.Discard(drop)

	pending, _ := outbox.FetchPending(ctx, 0)
	if len(pending) != 1 || pending[0].ID != keep {
		t.Fatalf("unexpected pending entries: %#v", pending)
	}
}

func TestFanOutJoinsErrors(t *testing.T) {
	ok := &recordingHandler{}
	failing := &recordingHandler{err: errors.New("queue unavailable")}
	err := FanOut{ok, nil, failing}.Handle(context.Background(), OutboxEntry{Type: "x"})
	if err == nil {
		t.Fatal("expected joined error")
	}
	if len(ok.calls) != 1 || len(failing.calls) != 1 {
		t.Fatalf("expected both handlers invoked")
	}
}

func TestObservedReportsOutcome(t *testing.T) {
	var seen []string
	observe := func(eventType string, err error) {
		seen = append(seen, fmt.Sprintf("%s:%v", eventType, err != nil))
	}
	_ = Observed(&recordingHandler{}, observe).Handle(context.Background(), OutboxEntry{Type: EventPackageAlertCreated})
	_ = Observed(&recordingHandler{err: errors.New("x")}, observe).Handle(context.Background(), OutboxEntry{Type: "other"})

	want := []string{EventPackageAlertCreated + ":false", "other:true"}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Fatalf("got %v, want %v", seen, want)
	}
}
