package projections

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vm-request-platform/api/internal/es"
	"vm-request-platform/api/internal/vm"
	"vm-request-platform/shared/dbx"
	"vm-request-platform/shared/events"
	"vm-request-platform/shared/tenantx"
)

// VMView is one row of the vms read model. It is maintained two ways: the
// command service upserts snapshots inline, and the consumer replays
// published envelopes. Both paths are version-guarded, so they can race
// without corrupting the row.
type VMView struct {
	VMID      uuid.UUID `json:"vm_id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	RequestID uuid.UUID `json:"request_id"`
	Hostname  string    `json:"hostname"`
	IPAddress string    `json:"ip_address"`
	Status    string    `json:"status"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

type VMsRepo struct {
	pool     *pgxpool.Pool
	registry *es.Registry
}

func NewVMsRepo(pool *pgxpool.Pool) *VMsRepo {
	return &VMsRepo{pool: pool, registry: vm.Registry()}
}

// Upsert satisfies the command-side projector contract.
func (r *VMsRepo) Upsert(ctx context.Context, agg vm.Aggregate) error {
	tenant, err := tenantx.Require(ctx)
	if err != nil {
		return err
	}
	return dbx.InTenantScope(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO vms (vm_id, tenant_id, request_id, hostname, ip_address, status, version, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (tenant_id, vm_id) DO UPDATE SET
				request_id = EXCLUDED.request_id,
				hostname = EXCLUDED.hostname,
				ip_address = EXCLUDED.ip_address,
				status = EXCLUDED.status,
				version = EXCLUDED.version,
				updated_at = EXCLUDED.updated_at
			WHERE vms.version < EXCLUDED.version
		`, agg.ID, tenant.ID, agg.RequestID, agg.Hostname, agg.IPAddress, string(agg.Status), agg.Version, time.Now().UTC())
		return err
	})
}

// Apply folds one published envelope into the read model. The envelope
// carries the tenant, so the consumer binds it here rather than trusting
// its own context.
func (r *VMsRepo) Apply(ctx context.Context, env events.Envelope) error {
	if env.AggregateType != vm.AggregateType {
		return nil
	}
	decoded, err := r.registry.Decode(es.StoredEvent{EventType: env.EventType, Payload: env.Payload})
	if err != nil {
		return err
	}
	ev, ok := decoded.(vm.Event)
	if !ok {
		return &es.UnknownEventTypeError{Registry: vm.AggregateType, EventType: env.EventType}
	}

	ctx = tenantx.WithTenant(ctx, tenantx.Tenant{ID: env.TenantID})
	return dbx.InTenantScope(ctx, r.pool, func(tx pgx.Tx) error {
		switch e := ev.(type) {
		case vm.Registered:
			_, err := tx.Exec(ctx, `
				INSERT INTO vms (vm_id, tenant_id, request_id, hostname, ip_address, status, version, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				ON CONFLICT (tenant_id, vm_id) DO NOTHING
			`, env.AggregateID, env.TenantID, e.RequestID, e.Hostname, e.IPAddress, string(vm.StatusRunning), env.Version, env.OccurredAt)
			return err
		case vm.Started:
			return r.setStatus(ctx, tx, env, vm.StatusRunning)
		case vm.Stopped:
			return r.setStatus(ctx, tx, env, vm.StatusStopped)
		case vm.Deleted:
			return r.setStatus(ctx, tx, env, vm.StatusDeleted)
		}
		return nil
	})
}

func (r *VMsRepo) setStatus(ctx context.Context, tx pgx.Tx, env events.Envelope, status vm.Status) error {
	_, err := tx.Exec(ctx, `
		UPDATE vms
		SET status = $2, version = $3, updated_at = now()
		WHERE vm_id = $1 AND version < $3
	`, env.AggregateID, string(status), env.Version)
	return err
}

func (r *VMsRepo) FindByID(ctx context.Context, vmID uuid.UUID) (VMView, bool, error) {
	var (
		view  VMView
		found bool
	)
	err := dbx.InTenantScope(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			SELECT vm_id, tenant_id, request_id, hostname, ip_address, status, version, updated_at
			FROM vms
			WHERE vm_id = $1
		`, vmID).Scan(&view.VMID, &view.TenantID, &view.RequestID, &view.Hostname, &view.IPAddress, &view.Status, &view.Version, &view.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return view, found, err
}

func (r *VMsRepo) List(ctx context.Context, page int, size int) (Page[VMView], error) {
	page, size = Normalize(page, size)

	var (
		items []VMView
		total int64
	)
	err := dbx.InTenantScope(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, "SELECT COUNT(*) FROM vms").Scan(&total); err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `
			SELECT vm_id, tenant_id, request_id, hostname, ip_address, status, version, updated_at
			FROM vms
			ORDER BY updated_at DESC, vm_id
			LIMIT $1 OFFSET $2
		`, size, page*size)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var v VMView
			if err := rows.Scan(&v.VMID, &v.TenantID, &v.RequestID, &v.Hostname, &v.IPAddress, &v.Status, &v.Version, &v.UpdatedAt); err != nil {
				return err
			}
			items = append(items, v)
		}
		return rows.Err()
	})
	if err != nil {
		return Page[VMView]{}, err
	}
	return NewPage(items, page, size, total), nil
}
