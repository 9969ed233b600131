package authx

import "testing"

func TestParseRoles(t *testing.T) {
	claims := map[string]any{
		"roles": []any{"admin", "requester", "admin"},
	}
	roles := parseRoles(claims)
	if len(roles) != 2 {
		t.Fatalf("expected deduplicated roles, got %v", roles)
	}
}

func TestHasRole(t *testing.T) {
	auth := AuthContext{Roles: []string{"admin"}}
	if !auth.HasRole("ADMIN") {
		t.Fatalf("role match should be case-insensitive")
	}
	if auth.HasRole("requester") {
		t.Fatalf("unexpected role match")
	}
}

func TestNewJWTVerifierValidation(t *testing.T) {
	if _, err := NewJWTVerifier("", "aud", "", 60, 0); err == nil {
		t.Fatalf("expected error for missing issuer")
	}
	if _, err := NewJWTVerifier("https://issuer", "", "", 60, 0); err == nil {
		t.Fatalf("expected error for missing audience")
	}
}
