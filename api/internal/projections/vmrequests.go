package projections

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vm-request-platform/api/internal/es"
	"vm-request-platform/api/internal/vmrequest"
	"vm-request-platform/shared/dbx"
	"vm-request-platform/shared/events"
	"vm-request-platform/shared/tenantx"
)

// VMRequestView is one row of the vm_requests read model: the latest
// aggregate snapshot plus the version it was projected from.
type VMRequestView struct {
	RequestID      uuid.UUID  `json:"request_id"`
	TenantID       uuid.UUID  `json:"tenant_id"`
	RequesterID    string     `json:"requester_id"`
	Name           string     `json:"name"`
	TemplateID     string     `json:"template_id"`
	CPUCores       int        `json:"cpu_cores"`
	MemoryMB       int        `json:"memory_mb"`
	DiskGB         int        `json:"disk_gb"`
	Reason         string     `json:"reason"`
	Status         string     `json:"status"`
	VMID           *uuid.UUID `json:"vm_id"`
	Hostname       *string    `json:"hostname"`
	IPAddress      *string    `json:"ip_address"`
	FailureMessage *string    `json:"failure_message"`
	Version        int64      `json:"version"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type binding struct {
	column string
	value  any
}

// bindings is the single source of truth for the row's non-key columns.
// Both the insert column list and the conflict-update list are generated
// from it, so a column added here is written on both paths or the row
// fails to scan; it cannot be silently dropped on one side.
func (v VMRequestView) bindings() []binding {
	return []binding{
		{"requester_id", v.RequesterID},
		{"name", v.Name},
		{"template_id", v.TemplateID},
		{"cpu_cores", v.CPUCores},
		{"memory_mb", v.MemoryMB},
		{"disk_gb", v.DiskGB},
		{"reason", v.Reason},
		{"status", v.Status},
		{"vm_id", v.VMID},
		{"hostname", v.Hostname},
		{"ip_address", v.IPAddress},
		{"failure_message", v.FailureMessage},
		{"version", v.Version},
		{"updated_at", v.UpdatedAt},
	}
}

const vmRequestColumns = `request_id, tenant_id, requester_id, name, template_id, cpu_cores, memory_mb, disk_gb, reason, status, vm_id, hostname, ip_address, failure_message, version, updated_at`

func scanVMRequest(row pgx.Row) (VMRequestView, error) {
	var v VMRequestView
	err := row.Scan(
		&v.RequestID, &v.TenantID, &v.RequesterID, &v.Name, &v.TemplateID,
		&v.CPUCores, &v.MemoryMB, &v.DiskGB, &v.Reason, &v.Status,
		&v.VMID, &v.Hostname, &v.IPAddress, &v.FailureMessage, &v.Version, &v.UpdatedAt,
	)
	return v, err
}

type VMRequestsRepo struct {
	pool     *pgxpool.Pool
	registry *es.Registry
}

func NewVMRequestsRepo(pool *pgxpool.Pool) *VMRequestsRepo {
	return &VMRequestsRepo{pool: pool, registry: vmrequest.Registry()}
}

// Upsert projects the post-command aggregate snapshot. A stale writer
// racing a newer one is discarded by the version guard on the update path,
// so out-of-order delivery can never roll the row backwards.
func (r *VMRequestsRepo) Upsert(ctx context.Context, agg vmrequest.Aggregate) error {
	tenant, err := tenantx.Require(ctx)
	if err != nil {
		return err
	}

	view := VMRequestView{
		RequestID:   agg.ID,
		TenantID:    tenant.ID,
		RequesterID: agg.RequesterID,
		Name:        agg.Spec.Name,
		TemplateID:  agg.Spec.TemplateID,
		CPUCores:    agg.Spec.CPUCores,
		MemoryMB:    agg.Spec.MemoryMB,
		DiskGB:      agg.Spec.DiskGB,
		Reason:      agg.Reason,
		Status:      string(agg.Status),
		Version:     agg.Version,
		UpdatedAt:   time.Now().UTC(),
	}
	if agg.VMID != uuid.Nil {
		id := agg.VMID
		view.VMID = &id
	}
	if agg.Hostname != "" {
		h := agg.Hostname
		view.Hostname = &h
	}
	if agg.IPAddress != "" {
		ip := agg.IPAddress
		view.IPAddress = &ip
	}
	if agg.FailureMsg != "" {
		m := agg.FailureMsg
		view.FailureMessage = &m
	}

	sql, args := upsertVMRequestSQL(view)
	return dbx.InTenantScope(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, sql, args...)
		return err
	})
}

func upsertVMRequestSQL(v VMRequestView) (string, []any) {
	bs := v.bindings()
	cols := make([]string, 0, len(bs)+2)
	placeholders := make([]string, 0, len(bs)+2)
	sets := make([]string, 0, len(bs))
	args := make([]any, 0, len(bs)+2)

	cols = append(cols, "request_id", "tenant_id")
	args = append(args, v.RequestID, v.TenantID)
	placeholders = append(placeholders, "$1", "$2")

	for _, b := range bs {
		args = append(args, b.value)
		cols = append(cols, b.column)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", b.column, b.column))
	}

	sql := fmt.Sprintf(`
		INSERT INTO vm_requests (%s)
		VALUES (%s)
		ON CONFLICT (tenant_id, request_id) DO UPDATE SET %s
		WHERE vm_requests.version < EXCLUDED.version
	`, strings.Join(cols, ", "), strings.Join(placeholders, ", "), strings.Join(sets, ", "))
	return sql, args
}

// Apply folds one published envelope into the read model. This is the
// convergence path: the inline upsert on the command side is best effort,
// so the consumer replays every envelope through here. The envelope
// carries the tenant and both paths are version-guarded, so they can race
// without rolling the row backwards.
func (r *VMRequestsRepo) Apply(ctx context.Context, env events.Envelope) error {
	if env.AggregateType != vmrequest.AggregateType {
		return nil
	}
	decoded, err := r.registry.Decode(es.StoredEvent{EventType: env.EventType, Payload: env.Payload})
	if err != nil {
		return err
	}

	ctx = tenantx.WithTenant(ctx, tenantx.Tenant{ID: env.TenantID})
	switch e := decoded.(type) {
	case vmrequest.Created:
		view := VMRequestView{
			RequestID:   env.AggregateID,
			TenantID:    env.TenantID,
			RequesterID: e.RequesterID,
			Name:        e.Spec.Name,
			TemplateID:  e.Spec.TemplateID,
			CPUCores:    e.Spec.CPUCores,
			MemoryMB:    e.Spec.MemoryMB,
			DiskGB:      e.Spec.DiskGB,
			Reason:      e.Reason,
			Status:      string(vmrequest.StatusPending),
			Version:     env.Version,
			UpdatedAt:   env.OccurredAt,
		}
		sql, args := upsertVMRequestSQL(view)
		return dbx.InTenantScope(ctx, r.pool, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, sql, args...)
			return err
		})
	case vmrequest.Approved:
		return r.UpdateStatus(ctx, env.AggregateID, vmrequest.StatusApproved, env.Version)
	case vmrequest.Rejected:
		return r.UpdateStatus(ctx, env.AggregateID, vmrequest.StatusRejected, env.Version)
	case vmrequest.Cancelled:
		return r.UpdateStatus(ctx, env.AggregateID, vmrequest.StatusCancelled, env.Version)
	case vmrequest.ProvisioningStarted:
		return r.UpdateStatus(ctx, env.AggregateID, vmrequest.StatusProvisioning, env.Version)
	case vmrequest.ProvisioningCompleted:
		return r.UpdateVMDetails(ctx, env.AggregateID, e.VMID, e.Hostname, e.IPAddress, env.Version)
	case vmrequest.ProvisioningFailed:
		return r.updateFailure(ctx, env.AggregateID, e.ErrorMessage, env.Version)
	}
	return nil
}

// UpdateStatus is the partial update used by asynchronous listeners that
// only learn the new status. The version guard keeps it monotone.
func (r *VMRequestsRepo) UpdateStatus(ctx context.Context, requestID uuid.UUID, status vmrequest.Status, version int64) error {
	return dbx.InTenantScope(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE vm_requests
			SET status = $2, version = $3, updated_at = now()
			WHERE request_id = $1 AND version < $3
		`, requestID, string(status), version)
		return err
	})
}

// UpdateVMDetails records the provisioned machine on the request row.
func (r *VMRequestsRepo) UpdateVMDetails(ctx context.Context, requestID uuid.UUID, vmID uuid.UUID, hostname string, ipAddress string, version int64) error {
	return dbx.InTenantScope(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE vm_requests
			SET status = $2, vm_id = $3, hostname = $4, ip_address = $5, version = $6, updated_at = now()
			WHERE request_id = $1 AND version < $6
		`, requestID, string(vmrequest.StatusReady), vmID, hostname, ipAddress, version)
		return err
	})
}

func (r *VMRequestsRepo) updateFailure(ctx context.Context, requestID uuid.UUID, message string, version int64) error {
	return dbx.InTenantScope(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE vm_requests
			SET status = $2, failure_message = $3, version = $4, updated_at = now()
			WHERE request_id = $1 AND version < $4
		`, requestID, string(vmrequest.StatusFailed), message, version)
		return err
	})
}

// FindByID reports found=false for both "never existed" and "belongs to
// another tenant"; the row policy makes the two indistinguishable.
func (r *VMRequestsRepo) FindByID(ctx context.Context, requestID uuid.UUID) (VMRequestView, bool, error) {
	var (
		view  VMRequestView
		found bool
	)
	err := dbx.InTenantScope(ctx, r.pool, func(tx pgx.Tx) error {
		v, err := scanVMRequest(tx.QueryRow(ctx, `
			SELECT `+vmRequestColumns+`
			FROM vm_requests
			WHERE request_id = $1
		`, requestID))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		view, found = v, true
		return nil
	})
	return view, found, err
}

func (r *VMRequestsRepo) FindByStatus(ctx context.Context, status vmrequest.Status, page int, size int) (Page[VMRequestView], error) {
	return r.findPage(ctx, "WHERE status = $1", []any{string(status)}, page, size)
}

func (r *VMRequestsRepo) FindByRequester(ctx context.Context, requesterID string, page int, size int) (Page[VMRequestView], error) {
	return r.findPage(ctx, "WHERE requester_id = $1", []any{requesterID}, page, size)
}

func (r *VMRequestsRepo) List(ctx context.Context, page int, size int) (Page[VMRequestView], error) {
	return r.findPage(ctx, "", nil, page, size)
}

func (r *VMRequestsRepo) findPage(ctx context.Context, where string, args []any, page int, size int) (Page[VMRequestView], error) {
	page, size = Normalize(page, size)

	var (
		items []VMRequestView
		total int64
	)
	err := dbx.InTenantScope(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, "SELECT COUNT(*) FROM vm_requests "+where, args...).Scan(&total); err != nil {
			return err
		}

		listArgs := append(append([]any{}, args...), size, page*size)
		rows, err := tx.Query(ctx, fmt.Sprintf(`
			SELECT %s
			FROM vm_requests
			%s
			ORDER BY updated_at DESC, request_id
			LIMIT $%d OFFSET $%d
		`, vmRequestColumns, where, len(args)+1, len(args)+2), listArgs...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			v, err := scanVMRequest(rows)
			if err != nil {
				return err
			}
			items = append(items, v)
		}
		return rows.Err()
	})
	if err != nil {
		return Page[VMRequestView]{}, err
	}
	return NewPage(items, page, size, total), nil
}
