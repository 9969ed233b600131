package tenantx

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestRequireWithoutBinding(t *testing.T) {
	_, err := Require(context.Background())
	if !errors.Is(err, ErrNotBound) {
		t.Fatalf("expected ErrNotBound, got %v", err)
	}
}

func TestWithTenantRoundTrip(t *testing.T) {
	tenant := Tenant{ID: uuid.New(), Slug: "acme"}
	ctx := WithTenant(context.Background(), tenant)

	got, ok := FromContext(ctx)
	if !ok {
		t.Fatalf("expected tenant in context")
	}
	if got.ID != tenant.ID || got.Slug != "acme" {
		t.Fatalf("unexpected tenant: %+v", got)
	}
}

func TestNilTenantIDIsNotBound(t *testing.T) {
	ctx := WithTenant(context.Background(), Tenant{})
	if _, ok := FromContext(ctx); ok {
		t.Fatalf("zero tenant id must not count as a binding")
	}
}
