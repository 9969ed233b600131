package es

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"vm-request-platform/shared/tenantx"
)

// ErrTenantNotBound is returned when a store operation runs on a context
// without a tenant binding. Re-exported so callers need not import tenantx
// just to classify the error.
var ErrTenantNotBound = tenantx.ErrNotBound

// ConflictError reports an optimistic-concurrency failure: the stored
// version differed from the caller's expectation at commit time. The same
// shape is used whether the conflict was detected before the append or by
// the store's uniqueness constraint.
type ConflictError struct {
	AggregateID     uuid.UUID
	ExpectedVersion int64
	ActualVersion   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict on aggregate %s: expected version %d, actual %d",
		e.AggregateID, e.ExpectedVersion, e.ActualVersion)
}

// StorageError wraps any unexpected storage failure. Nothing below the
// command-handler boundary surfaces a raw driver error.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("persistence failure in %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// UnknownEventTypeError means a stored event's type tag has no decoder in
// the registry that was asked to decode it.
type UnknownEventTypeError struct {
	Registry  string
	EventType string
}

func (e *UnknownEventTypeError) Error() string {
	return fmt.Sprintf("unknown event type %q in registry %q", e.EventType, e.Registry)
}

// PayloadError means a stored payload could not be decoded into the shape
// mapped for its event type. Raw carries the offending content for
// diagnosis.
type PayloadError struct {
	Registry  string
	EventType string
	Raw       []byte
	Err       error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("cannot decode payload of %q in registry %q: %v (raw: %s)",
		e.EventType, e.Registry, e.Err, string(e.Raw))
}

func (e *PayloadError) Unwrap() error { return e.Err }

// IsConflict reports whether err is an optimistic-concurrency conflict.
func IsConflict(err error) bool {
	var conflict *ConflictError
	return errors.As(err, &conflict)
}
