// Package es is the event-sourced persistence core: the append-only stored
// event model, the per-family codec registry, and the tenant-scoped event
// store implementations. Aggregates are reconstructed by folding the event
// stream for one id; the stored version number is the optimistic-concurrency
// token for the next append.
package es

import (
	"time"

	"github.com/google/uuid"
)

// Metadata is carried on every stored event and is immutable once written.
type Metadata struct {
	TenantID      uuid.UUID `json:"tenant_id"`
	UserID        string    `json:"user_id"`
	CorrelationID string    `json:"correlation_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// StoredEvent is the immutable unit of storage. Version is 1-based and
// strictly contiguous per (tenant, aggregate); an aggregate with zero
// stored events does not exist.
type StoredEvent struct {
	EventID       uuid.UUID
	TenantID      uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	EventType     string
	Payload       []byte
	Metadata      Metadata
	Version       int64
	CreatedAt     time.Time
}

// NewEvent is an event awaiting append. The store assigns EventID, Version
// and CreatedAt at commit time.
type NewEvent struct {
	EventType string
	Payload   []byte
	Metadata  Metadata
}

// Event is implemented by every domain event. Concrete families seal this
// with an unexported marker method so decoding and folding stay exhaustive.
type Event interface {
	EventType() string
}
