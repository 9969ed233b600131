package es

import (
	"context"

	"github.com/google/uuid"
)

// Store persists and loads ordered event streams. Every call requires a
// tenant bound on the context; implementations must fail with
// ErrTenantNotBound instead of touching another tenant's data.
type Store interface {
	// Load returns the full stream for one aggregate in version order.
	// An aggregate the tenant has never written yields an empty slice
	// and a nil error.
	Load(ctx context.Context, aggregateType string, aggregateID uuid.UUID) ([]StoredEvent, error)

	// Append writes events at versions expectedVersion+1.. and returns
	// the new head version. expectedVersion 0 asserts a fresh stream.
	// A concurrent writer landing first surfaces as *ConflictError.
	Append(ctx context.Context, aggregateType string, aggregateID uuid.UUID, events []NewEvent, expectedVersion int64) (int64, error)
}
