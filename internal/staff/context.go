// Package staff carries the authenticated clinic staff member through a request context.
package staff

import "context"

type ctxKey string

const identityKey ctxKey = "rehab.staff"

// Role names recognised by the API.
const (
	RoleAdmin        = "admin"
	RoleTherapist    = "therapist"
	RoleReceptionist = "receptionist"
)

// Identity is the staff member behind a request.
type Identity struct {
	ID    string
	Email string
	Role  string
}

// WithIdentity stores the staff identity in context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext extracts the staff identity if present.
func FromContext(ctx context.Context) (Identity, bool) {
	val := ctx.Value(identityKey)
	if val == nil {
		return Identity{}, false
	}
	id, ok := val.(Identity)
	return id, ok && id.ID != ""
}

// ActorID returns the staff id, or "system" for background work.
func ActorID(ctx context.Context) string {
	if id, ok := FromContext(ctx); ok {
		return id.ID
	}
	return "system"
}
