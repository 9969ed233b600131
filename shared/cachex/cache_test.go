package cachex

import (
	"context"
	"strings"
	"testing"
)

func TestTenantSlugKey(t *testing.T) {
	key := TenantSlugKey("acme")
	if key != "tenant:slug:acme" {
		t.Fatalf("key = %q", key)
	}
	if !strings.HasPrefix(key, tenantSlugPrefix) {
		t.Fatalf("slug keys must share the namespace prefix")
	}
}

func TestUninitializedClientFailsClosed(t *testing.T) {
	var c *Client
	if err := c.Ping(context.Background()); err == nil {
		t.Fatalf("nil client ping should fail")
	}
}
