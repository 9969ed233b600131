package tenantx

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotBound is returned by storage layers when an operation that requires
// a tenant scope runs on a context without one. It is deliberately distinct
// from any not-found error so a missing binding can never be mistaken for
// an empty result.
var ErrNotBound = errors.New("tenant context not bound")

type contextKey struct{}

// Tenant is the per-request tenant binding. Every unit of work against the
// store runs under exactly one Tenant.
type Tenant struct {
	ID   uuid.UUID
	Slug string
}

func WithTenant(ctx context.Context, tenant Tenant) context.Context {
	return context.WithValue(ctx, contextKey{}, tenant)
}

func FromContext(ctx context.Context) (Tenant, bool) {
	if v := ctx.Value(contextKey{}); v != nil {
		if t, ok := v.(Tenant); ok && t.ID != uuid.Nil {
			return t, true
		}
	}
	return Tenant{}, false
}

// Require returns the bound tenant or ErrNotBound.
func Require(ctx context.Context) (Tenant, error) {
	t, ok := FromContext(ctx)
	if !ok {
		return Tenant{}, ErrNotBound
	}
	return t, nil
}

func IDFromContext(ctx context.Context) uuid.UUID {
	if t, ok := FromContext(ctx); ok {
		return t.ID
	}
	return uuid.Nil
}
