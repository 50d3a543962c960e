package events

import (
	"context"
	"errors"
)

// FanOut delivers an entry to every handler; the entry stays pending if any fails.
type FanOut []DeliveryHandler

func (f FanOut) Handle(ctx context.Context, entry OutboxEntry) error {
	var errs []error
	for _, h := range f {
		if h == nil {
			continue
		}
		if err := h.Handle(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Observed reports every delivery attempt to observe, e.g. a metrics counter.
func Observed(h DeliveryHandler, observe func(eventType string, err error)) DeliveryHandler {
	return observedHandler{next: h, observe: observe}
}

type observedHandler struct {
	next    DeliveryHandler
	observe func(string, error)
}

func (o observedHandler) Handle(ctx context.Context, entry OutboxEntry) error {
	err := o.next.Handle(ctx, entry)
	if o.observe != nil {
		o.observe(entry.Type, err)
	}
	return err
}
