package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Tenant is the registry row behind slug resolution. The tenants table is
// not row-secured: middleware must be able to resolve a slug before any
// tenant is bound.
type Tenant struct {
	TenantID  uuid.UUID `json:"tenant_id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type TenantsRepo struct {
	pool *pgxpool.Pool
}

func NewTenantsRepo(pool *pgxpool.Pool) *TenantsRepo {
	return &TenantsRepo{pool: pool}
}

func (r *TenantsRepo) CreateTenant(ctx context.Context, slug string, name string) (Tenant, error) {
	var tenant Tenant
	err := r.pool.QueryRow(ctx, `
		INSERT INTO tenants (slug, name)
		VALUES ($1, $2)
		RETURNING tenant_id, slug, name, created_at
	`, slug, name).Scan(&tenant.TenantID, &tenant.Slug, &tenant.Name, &tenant.CreatedAt)
	return tenant, err
}

func (r *TenantsRepo) GetTenantByID(ctx context.Context, tenantID uuid.UUID) (Tenant, error) {
	var tenant Tenant
	err := r.pool.QueryRow(ctx, `
		SELECT tenant_id, slug, name, created_at
		FROM tenants
		WHERE tenant_id = $1
	`, tenantID).Scan(&tenant.TenantID, &tenant.Slug, &tenant.Name, &tenant.CreatedAt)
	return tenant, err
}

func (r *TenantsRepo) GetTenantBySlug(ctx context.Context, slug string) (Tenant, error) {
	var tenant Tenant
	err := r.pool.QueryRow(ctx, `
		SELECT tenant_id, slug, name, created_at
		FROM tenants
		WHERE slug = $1
	`, slug).Scan(&tenant.TenantID, &tenant.Slug, &tenant.Name, &tenant.CreatedAt)
	return tenant, err
}
