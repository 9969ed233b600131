package vm

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/google/uuid"

	"vm-request-platform/api/internal/es"
	"vm-request-platform/shared/logx"
	"vm-request-platform/shared/tenantx"
)

func newTestService(t *testing.T) (*Service, context.Context) {
	t.Helper()
	svc := NewService(es.NewMemoryStore(), nil, logx.New("api", "test", "dev", "error"))
	ctx := tenantx.WithTenant(context.Background(), tenantx.Tenant{ID: uuid.New(), Slug: "acme"})
	return svc, ctx
}

func TestRegisterStartStopDelete(t *testing.T) {
	svc, ctx := newTestService(t)

	registered, err := svc.Register(ctx, RegisterCommand{
		RequestID: uuid.New(), Hostname: "web-1.internal", IPAddress: "10.0.0.5",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if registered.Version != 1 {
		t.Fatalf("register version = %d, want 1", registered.Version)
	}

	// Registration leaves the machine running; start is an idempotent no-op.
	res, err := svc.Start(ctx, StartCommand{VMID: registered.VMID, StartedBy: "alice"})
	if err != nil {
		t.Fatalf("start on running vm: %v", err)
	}
	if res.Version != 1 {
		t.Fatalf("idempotent start bumped version to %d", res.Version)
	}

	if _, err := svc.Stop(ctx, StopCommand{VMID: registered.VMID, StoppedBy: "alice"}); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := svc.Start(ctx, StartCommand{VMID: registered.VMID, StartedBy: "alice"}); err != nil {
		t.Fatalf("restart: %v", err)
	}
	final, err := svc.Delete(ctx, DeleteCommand{VMID: registered.VMID, DeletedBy: "bob"})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if final.Version != 4 {
		t.Fatalf("final version = %d, want 4", final.Version)
	}

	agg, err := svc.Load(ctx, registered.VMID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if agg.Status != StatusDeleted {
		t.Fatalf("status = %s, want DELETED", agg.Status)
	}
}

func TestStartDeletedVMIsInvalid(t *testing.T) {
	svc, ctx := newTestService(t)

	registered, err := svc.Register(ctx, RegisterCommand{RequestID: uuid.New(), Hostname: "h", IPAddress: "10.0.0.9"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Delete(ctx, DeleteCommand{VMID: registered.VMID, DeletedBy: "bob"}); err != nil {
		t.Fatalf("delete: %v", err)
	}

	_, err = svc.Start(ctx, StartCommand{VMID: registered.VMID, StartedBy: "alice"})
	var invalid *InvalidStateError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
	if invalid.Current != StatusDeleted {
		t.Fatalf("error carries state %s", invalid.Current)
	}
}

func TestUnknownVMIsNotFound(t *testing.T) {
	svc, ctx := newTestService(t)

	_, err := svc.Stop(ctx, StopCommand{VMID: uuid.New(), StoppedBy: "alice"})
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestVMEventsRoundTrip(t *testing.T) {
	samples := []Event{
		Registered{RequestID: uuid.New(), Hostname: "web-1.internal", IPAddress: "10.0.0.5"},
		Started{StartedBy: "alice"},
		Stopped{StoppedBy: "alice"},
		Deleted{DeletedBy: "bob"},
	}
	reg := Registry()
	for _, original := range samples {
		payload, err := es.Encode(original)
		if err != nil {
			t.Fatalf("encode %s: %v", original.EventType(), err)
		}
		decoded, err := reg.Decode(es.StoredEvent{EventType: original.EventType(), Payload: payload})
		if err != nil {
			t.Fatalf("decode %s: %v", original.EventType(), err)
		}
		if !reflect.DeepEqual(decoded, original) {
			t.Fatalf("round trip changed %s", original.EventType())
		}
	}
}
