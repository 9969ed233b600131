//go:build integration

package integration

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"vm-request-platform/api/internal/es"
	"vm-request-platform/api/internal/projections"
	"vm-request-platform/api/internal/repos"
	"vm-request-platform/api/internal/vmrequest"
	"vm-request-platform/shared/dbx"
	"vm-request-platform/shared/logx"
	"vm-request-platform/shared/tenantx"
	"vm-request-platform/shared/waitx"
)

func TestDependencies(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			t.Fatalf("db connect failed: %v", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			t.Fatalf("db ping failed: %v", err)
		}
	} else {
		t.Skip("DATABASE_URL not set")
	}

	brokers := strings.Split(os.Getenv("KAFKA_BROKERS"), ",")
	if len(brokers) == 0 || strings.TrimSpace(brokers[0]) == "" {
		t.Skip("KAFKA_BROKERS not set")
	}
	conn, err := kafka.Dial("tcp", strings.TrimSpace(brokers[0]))
	if err != nil {
		t.Fatalf("kafka dial failed: %v", err)
	}
	_ = conn.Close()

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		t.Fatalf("redis ping failed: %v", err)
	}
	_ = redisClient.Close()

	influxURL := os.Getenv("INFLUX_URL")
	if influxURL == "" {
		t.Skip("INFLUX_URL not set")
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, influxURL+"/health", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("influx health failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.Fatalf("influx health status: %d", resp.StatusCode)
	}

	asynqRedis := os.Getenv("ASYNQ_REDIS_ADDR")
	if asynqRedis == "" {
		t.Skip("ASYNQ_REDIS_ADDR not set")
	}
	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: asynqRedis})
	defer inspector.Close()
	if _, err := inspector.GetQueueInfo("default"); err != nil {
		t.Fatalf("asynq inspector failed: %v", err)
	}
}

// TestEventStoreAgainstPostgres exercises the storage contract the unit
// tests can only simulate: version uniqueness enforced by the database and
// fail-closed row security.
func TestEventStoreAgainstPostgres(t *testing.T) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	tenants := repos.NewTenantsRepo(pool)
	tenantA, err := tenants.CreateTenant(ctx, "it-a-"+uuid.NewString()[:8], "Tenant A")
	if err != nil {
		t.Fatalf("create tenant A: %v", err)
	}
	tenantB, err := tenants.CreateTenant(ctx, "it-b-"+uuid.NewString()[:8], "Tenant B")
	if err != nil {
		t.Fatalf("create tenant B: %v", err)
	}

	store := es.NewPGStore(pool, nil, nil)
	ctxA := tenantx.WithTenant(ctx, tenantx.Tenant{ID: tenantA.TenantID, Slug: tenantA.Slug})
	ctxB := tenantx.WithTenant(ctx, tenantx.Tenant{ID: tenantB.TenantID, Slug: tenantB.Slug})
	aggID := uuid.New()

	if _, err := store.Append(ctxA, "VmRequest", aggID, []es.NewEvent{
		{EventType: vmrequest.TypeCreated, Payload: []byte(`{"requester_id":"alice","spec":{"name":"it-1"}}`)},
	}, 0); err != nil {
		t.Fatalf("append as tenant A: %v", err)
	}

	// Losing writer gets a conflict with the winner's head version.
	_, err = store.Append(ctxA, "VmRequest", aggID, []es.NewEvent{
		{EventType: vmrequest.TypeCancelled, Payload: []byte(`{}`)},
	}, 0)
	var conflict *es.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.ActualVersion != 1 {
		t.Fatalf("conflict actual = %d, want 1", conflict.ActualVersion)
	}

	// Tenant B sees nothing under A's id, and without a binding the store
	// refuses before touching the database.
	stream, err := store.Load(ctxB, "VmRequest", aggID)
	if err != nil {
		t.Fatalf("load as tenant B: %v", err)
	}
	if len(stream) != 0 {
		t.Fatalf("tenant B read %d of tenant A's events", len(stream))
	}
	if _, err := store.Load(ctx, "VmRequest", aggID); !errors.Is(err, es.ErrTenantNotBound) {
		t.Fatalf("unbound load: got %v", err)
	}

	// A session bound to tenant B cannot write rows stamped with tenant
	// A's id: the WITH CHECK half of the row policy rejects the insert at
	// the database even though the SQL itself is well-formed.
	tx, err := dbx.BeginTenantTx(ctxB, pool)
	if err != nil {
		t.Fatalf("begin tenant B tx: %v", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO events (event_id, tenant_id, aggregate_type, aggregate_id, event_type, payload, metadata, version, created_at)
		VALUES ($1, $2, 'VmRequest', $3, $4, '{}'::jsonb, '{}'::jsonb, 2, now())
	`, uuid.New(), tenantA.TenantID, aggID, vmrequest.TypeCancelled)
	if err == nil {
		t.Fatalf("insert stamped with tenant A's id succeeded under tenant B's binding")
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "42501" {
		t.Fatalf("expected row security violation (42501), got %v", err)
	}
}

// TestCommandToProjectionAgainstPostgres runs a full create/approve cycle
// and waits for the read model the way API callers do.
func TestCommandToProjectionAgainstPostgres(t *testing.T) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	tenants := repos.NewTenantsRepo(pool)
	tenant, err := tenants.CreateTenant(ctx, "it-"+uuid.NewString()[:8], "IT Tenant")
	if err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	tctx := tenantx.WithTenant(ctx, tenantx.Tenant{ID: tenant.TenantID, Slug: tenant.Slug})

	views := projections.NewVMRequestsRepo(pool)
	store := es.NewPGStore(pool, nil, nil)
	svc := vmrequest.NewService(store, views, logx.New("integration", "test", "dev", "error"))

	created, err := svc.Create(tctx, vmrequest.CreateCommand{
		RequesterID: "alice",
		Spec:        vmrequest.VMSpec{Name: "it-vm", TemplateID: "ubuntu-22", CPUCores: 1, MemoryMB: 1024, DiskGB: 10},
		Reason:      "integration",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Approve(tctx, vmrequest.ApproveCommand{RequestID: created.RequestID, AdminID: "bob"}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	view, err := waitx.Await(tctx, waitx.Options{AggregateID: created.RequestID.String()},
		func(ctx context.Context) (projections.VMRequestView, bool, error) {
			v, found, err := views.FindByID(ctx, created.RequestID)
			return v, found && v.Version >= 2, err
		})
	if err != nil {
		t.Fatalf("await projection: %v", err)
	}
	if view.Status != string(vmrequest.StatusApproved) {
		t.Fatalf("projected status = %s", view.Status)
	}
}
