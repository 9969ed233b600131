package dbx

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vm-request-platform/shared/config"
	"vm-request-platform/shared/tenantx"
)

func NewPool(cfg config.Config) (*pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	poolCfg.MaxConns = int32(cfg.DBMaxConns)
	poolCfg.MinConns = int32(cfg.DBMinConns)
	poolCfg.MaxConnIdleTime = time.Duration(cfg.DBConnMaxIdleSec) * time.Second
	poolCfg.MaxConnLifetime = time.Duration(cfg.DBConnMaxLifeSec) * time.Second

	return pgxpool.NewWithConfig(context.Background(), poolCfg)
}

func Ping(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return errors.New("db pool is nil")
	}
	var one int
	return pool.QueryRow(ctx, "SELECT 1").Scan(&one)
}

// BeginTenantTx opens a transaction bound to the tenant in ctx by setting
// the app.tenant_id session variable with transaction-local scope. Row
// security policies key on that variable; because set_config is local, the
// binding expires with the transaction and can never leak to another
// request reusing the pooled connection.
//
// Returns tenantx.ErrNotBound when ctx carries no tenant: the caller made
// a mistake and must see a hard error, never an unfiltered view.
func BeginTenantTx(ctx context.Context, pool *pgxpool.Pool) (pgx.Tx, error) {
	tenant, err := tenantx.Require(ctx)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, errors.New("db pool is nil")
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenant.ID.String()); err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	return tx, nil
}

// InTenantScope runs fn inside a tenant-bound transaction, committing on
// success and rolling back on error.
func InTenantScope(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := BeginTenantTx(ctx, pool)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}
