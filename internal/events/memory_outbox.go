package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryOutbox is an in-process outbox for memory mode and tests.
type MemoryOutbox struct {
	mu        sync.Mutex
	entries   []OutboxEntry
	delivered map[uuid.UUID]bool
}

func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{delivered: make(map[uuid.UUID]bool)}
}

func (o *MemoryOutbox) Insert(ctx context.Context, aggregateID string, eventType string, payload any) (uuid.UUID, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("events: marshal payload: %w", err)
	}
	entry := OutboxEntry{
		ID:          uuid.New(),
		AggregateID: aggregateID,
		Type:        eventType,
		Payload:     data,
		CreatedAt:   time.Now().UTC(),
	}
	o.mu.Lock()
	o.entries = append(o.entries, entry)
	o.mu.Unlock()
	return entry.ID, nil
}

func (o *MemoryOutbox) FetchPending(ctx context.Context, limit int32) ([]OutboxEntry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []OutboxEntry
	for _, entry := range o.entries {
		if o.delivered[entry.ID] {
			continue
		}
		out = append(out, entry)
		if limit > 0 && int32(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

func (o *MemoryOutbox) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.delivered[id] {
		return false, nil
	}
	for _, entry := range o.entries {
		if entry.ID == id {
			o.delivered[id] = true
			return true, nil
		}
	}
	return false, nil
}

// Discard drops entries by id. Used to roll back writes made inside a failed unit of work.
func (o *MemoryOutbox) Discard(ids ...uuid.UUID) {
	if len(ids) == 0 {
		return
	}
	drop := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	kept := o.entries[:0]
	for _, entry := range o.entries {
		if !drop[entry.ID] {
			kept = append(kept, entry)
		}
	}
	o.entries = kept
}
