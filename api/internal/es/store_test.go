package es

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"vm-request-platform/shared/tenantx"
)

func tenantCtx(t *testing.T) (context.Context, uuid.UUID) {
	t.Helper()
	id := uuid.New()
	ctx := tenantx.WithTenant(context.Background(), tenantx.Tenant{ID: id, Slug: "acme"})
	return ctx, id
}

func TestMemoryStoreAssignsContiguousVersions(t *testing.T) {
	store := NewMemoryStore()
	ctx, _ := tenantCtx(t)
	aggID := uuid.New()

	v, err := store.Append(ctx, "VmRequest", aggID, []NewEvent{
		{EventType: "VMRequestCreated", Payload: []byte(`{}`)},
	}, 0)
	if err != nil {
		t.Fatalf("first append: %v", err)
	}
	if v != 1 {
		t.Fatalf("expected head version 1, got %d", v)
	}

	v, err = store.Append(ctx, "VmRequest", aggID, []NewEvent{
		{EventType: "VMRequestApproved", Payload: []byte(`{}`)},
		{EventType: "VMProvisioningStarted", Payload: []byte(`{}`)},
	}, 1)
	if err != nil {
		t.Fatalf("second append: %v", err)
	}
	if v != 3 {
		t.Fatalf("expected head version 3, got %d", v)
	}

	stream, err := store.Load(ctx, "VmRequest", aggID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(stream) != 3 {
		t.Fatalf("expected 3 events, got %d", len(stream))
	}
	for i, ev := range stream {
		if ev.Version != int64(i+1) {
			t.Fatalf("event %d has version %d", i, ev.Version)
		}
	}
}

func TestMemoryStoreRejectsStaleExpectedVersion(t *testing.T) {
	store := NewMemoryStore()
	ctx, _ := tenantCtx(t)
	aggID := uuid.New()

	if _, err := store.Append(ctx, "VmRequest", aggID, []NewEvent{
		{EventType: "VMRequestCreated", Payload: []byte(`{}`)},
	}, 0); err != nil {
		t.Fatalf("seed append: %v", err)
	}
	if _, err := store.Append(ctx, "VmRequest", aggID, []NewEvent{
		{EventType: "VMRequestApproved", Payload: []byte(`{}`)},
	}, 1); err != nil {
		t.Fatalf("winning append: %v", err)
	}

	_, err := store.Append(ctx, "VmRequest", aggID, []NewEvent{
		{EventType: "VMRequestRejected", Payload: []byte(`{}`)},
	}, 1)
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.ExpectedVersion != 1 || conflict.ActualVersion != 2 {
		t.Fatalf("conflict expected/actual = %d/%d", conflict.ExpectedVersion, conflict.ActualVersion)
	}
	if !IsConflict(err) {
		t.Fatalf("IsConflict should recognize %v", err)
	}
}

func TestMemoryStoreIsolatesTenants(t *testing.T) {
	store := NewMemoryStore()
	ctxA, _ := tenantCtx(t)
	ctxB, _ := tenantCtx(t)
	aggID := uuid.New()

	if _, err := store.Append(ctxA, "VmRequest", aggID, []NewEvent{
		{EventType: "VMRequestCreated", Payload: []byte(`{}`)},
	}, 0); err != nil {
		t.Fatalf("append as tenant A: %v", err)
	}

	stream, err := store.Load(ctxB, "VmRequest", aggID)
	if err != nil {
		t.Fatalf("load as tenant B: %v", err)
	}
	if len(stream) != 0 {
		t.Fatalf("tenant B sees %d events from tenant A", len(stream))
	}

	// Tenant B starts its own stream under the same id without conflict.
	if _, err := store.Append(ctxB, "VmRequest", aggID, []NewEvent{
		{EventType: "VMRequestCreated", Payload: []byte(`{}`)},
	}, 0); err != nil {
		t.Fatalf("append as tenant B: %v", err)
	}
}

func TestMemoryStoreRequiresTenantBinding(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	aggID := uuid.New()

	if _, err := store.Load(ctx, "VmRequest", aggID); !errors.Is(err, ErrTenantNotBound) {
		t.Fatalf("load without tenant: got %v", err)
	}
	if _, err := store.Append(ctx, "VmRequest", aggID, []NewEvent{
		{EventType: "VMRequestCreated", Payload: []byte(`{}`)},
	}, 0); !errors.Is(err, ErrTenantNotBound) {
		t.Fatalf("append without tenant: got %v", err)
	}
}

func TestMemoryStoreEmptyAppendIsNoop(t *testing.T) {
	store := NewMemoryStore()
	ctx, _ := tenantCtx(t)
	aggID := uuid.New()

	v, err := store.Append(ctx, "VmRequest", aggID, nil, 7)
	if err != nil {
		t.Fatalf("empty append: %v", err)
	}
	if v != 7 {
		t.Fatalf("empty append should echo the expected version, got %d", v)
	}
}
