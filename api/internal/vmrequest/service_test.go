package vmrequest

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"vm-request-platform/api/internal/es"
	"vm-request-platform/shared/logx"
	"vm-request-platform/shared/tenantx"
)

type recordingProjector struct {
	upserts []Aggregate
	fail    error
}

func (p *recordingProjector) Upsert(_ context.Context, agg Aggregate) error {
	if p.fail != nil {
		return p.fail
	}
	p.upserts = append(p.upserts, agg)
	return nil
}

func newTestService(t *testing.T) (*Service, *recordingProjector, context.Context) {
	t.Helper()
	projector := &recordingProjector{}
	svc := NewService(es.NewMemoryStore(), projector, logx.New("api", "test", "dev", "error"))
	ctx := tenantx.WithTenant(context.Background(), tenantx.Tenant{ID: uuid.New(), Slug: "acme"})
	return svc, projector, ctx
}

func TestCreateThenApprove(t *testing.T) {
	svc, projector, ctx := newTestService(t)

	created, err := svc.Create(ctx, CreateCommand{
		RequesterID: "alice",
		Spec:        VMSpec{Name: "web-1", TemplateID: "ubuntu-22", CPUCores: 2, MemoryMB: 4096, DiskGB: 50},
		Reason:      "staging",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Version != 1 {
		t.Fatalf("create version = %d, want 1", created.Version)
	}

	approved, err := svc.Approve(ctx, ApproveCommand{RequestID: created.RequestID, AdminID: "bob"})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Version != 2 {
		t.Fatalf("approve version = %d, want 2", approved.Version)
	}

	if len(projector.upserts) != 2 {
		t.Fatalf("projector saw %d upserts, want 2", len(projector.upserts))
	}
	last := projector.upserts[len(projector.upserts)-1]
	if last.Status != StatusApproved || last.Version != 2 {
		t.Fatalf("projected snapshot: status=%s version=%d", last.Status, last.Version)
	}
}

func TestStaleExpectedVersionConflictsBeforeAppend(t *testing.T) {
	svc, _, ctx := newTestService(t)

	created, err := svc.Create(ctx, CreateCommand{RequesterID: "alice", Spec: VMSpec{Name: "web-1"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Approve(ctx, ApproveCommand{RequestID: created.RequestID, AdminID: "bob"}); err != nil {
		t.Fatalf("first approve: %v", err)
	}

	stale := int64(1)
	_, err = svc.Approve(ctx, ApproveCommand{RequestID: created.RequestID, AdminID: "carol", ExpectedVersion: &stale})
	var conflict *es.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.ExpectedVersion != 1 || conflict.ActualVersion != 2 {
		t.Fatalf("conflict expected/actual = %d/%d, want 1/2", conflict.ExpectedVersion, conflict.ActualVersion)
	}
}

func TestCommandOnUnknownAggregateIsNotFound(t *testing.T) {
	svc, _, ctx := newTestService(t)

	_, err := svc.Approve(ctx, ApproveCommand{RequestID: uuid.New(), AdminID: "bob"})
	if !IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestSelfApprovalAppendsNothing(t *testing.T) {
	svc, _, ctx := newTestService(t)

	created, err := svc.Create(ctx, CreateCommand{RequesterID: "alice", Spec: VMSpec{Name: "web-1"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = svc.Approve(ctx, ApproveCommand{RequestID: created.RequestID, AdminID: "alice"})
	var forbidden *ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}

	agg, err := svc.Load(ctx, created.RequestID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if agg.Version != 1 {
		t.Fatalf("self-approval appended events: version = %d", agg.Version)
	}
}

func TestIdempotentCancelSkipsProjection(t *testing.T) {
	svc, projector, ctx := newTestService(t)

	created, err := svc.Create(ctx, CreateCommand{RequesterID: "alice", Spec: VMSpec{Name: "web-1"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Cancel(ctx, CancelCommand{RequestID: created.RequestID, CancelledBy: "alice"}); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	upsertsAfterFirst := len(projector.upserts)

	res, err := svc.Cancel(ctx, CancelCommand{RequestID: created.RequestID, CancelledBy: "alice"})
	if err != nil {
		t.Fatalf("repeat cancel: %v", err)
	}
	if res.Version != 2 {
		t.Fatalf("repeat cancel version = %d, want 2", res.Version)
	}
	if len(projector.upserts) != upsertsAfterFirst {
		t.Fatalf("no-op cancel touched the projection")
	}
}

func TestProjectorFailureDoesNotFailCommand(t *testing.T) {
	svc, projector, ctx := newTestService(t)
	projector.fail = errors.New("read model down")

	created, err := svc.Create(ctx, CreateCommand{RequesterID: "alice", Spec: VMSpec{Name: "web-1"}})
	if err != nil {
		t.Fatalf("create should succeed despite projector failure: %v", err)
	}

	agg, err := svc.Load(ctx, created.RequestID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if agg.Version != 1 {
		t.Fatalf("event not committed: version = %d", agg.Version)
	}
}

func TestCommandsRequireTenantBinding(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Create(context.Background(), CreateCommand{RequesterID: "alice", Spec: VMSpec{Name: "web-1"}})
	if !errors.Is(err, es.ErrTenantNotBound) {
		t.Fatalf("expected ErrTenantNotBound, got %v", err)
	}
}

func TestProvisioningLifecycle(t *testing.T) {
	svc, _, ctx := newTestService(t)

	created, err := svc.Create(ctx, CreateCommand{RequesterID: "alice", Spec: VMSpec{Name: "web-1"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Approve(ctx, ApproveCommand{RequestID: created.RequestID, AdminID: "bob"}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := svc.StartProvisioning(ctx, StartProvisioningCommand{RequestID: created.RequestID, WorkerID: "worker-1"}); err != nil {
		t.Fatalf("start provisioning: %v", err)
	}
	vmID := uuid.New()
	res, err := svc.CompleteProvisioning(ctx, CompleteProvisioningCommand{
		RequestID: created.RequestID, VMID: vmID, Hostname: "web-1.internal", IPAddress: "10.0.0.5",
	})
	if err != nil {
		t.Fatalf("complete provisioning: %v", err)
	}
	if res.Version != 4 {
		t.Fatalf("final version = %d, want 4", res.Version)
	}

	agg, err := svc.Load(ctx, created.RequestID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if agg.Status != StatusReady || agg.VMID != vmID {
		t.Fatalf("final state: status=%s vm=%s", agg.Status, agg.VMID)
	}
}
