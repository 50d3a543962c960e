// Package locks serializes read-check-write sequences on one package or patient.
package locks

import (
	"context"
	"errors"
)

// ErrNotAcquired is returned when a lock could not be taken before the context ended.
var ErrNotAcquired = errors.New("locks: lock not acquired")

// Locker hands out exclusive, keyed locks. The returned release func is safe to call once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
