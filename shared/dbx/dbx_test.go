package dbx

import (
	"context"
	"errors"
	"testing"

	"vm-request-platform/shared/tenantx"
)

func TestBeginTenantTxRequiresBinding(t *testing.T) {
	_, err := BeginTenantTx(context.Background(), nil)
	if !errors.Is(err, tenantx.ErrNotBound) {
		t.Fatalf("expected tenantx.ErrNotBound before any pool access, got %v", err)
	}
}

func TestInTenantScopeRequiresBinding(t *testing.T) {
	err := InTenantScope(context.Background(), nil, nil)
	if !errors.Is(err, tenantx.ErrNotBound) {
		t.Fatalf("expected tenantx.ErrNotBound, got %v", err)
	}
}
