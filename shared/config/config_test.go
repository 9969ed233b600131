package config

import (
	"testing"
)

func TestParseCSV(t *testing.T) {
	got := parseCSV("a, b, ,c,,")
	if len(got) != 3 {
		t.Fatalf("expected 3 items, got %d", len(got))
	}
	if got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected values: %#v", got)
	}
	if parseCSV("  ") != nil {
		t.Fatalf("expected nil for blank input")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("CONFIG_PATH", "")

	cfg, problems := Load("api", 8080)
	if len(problems) != 0 {
		t.Fatalf("unexpected problems: %+v", problems)
	}
	if cfg.ServiceName != "api" || cfg.HTTPPort != 8080 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.ProjectionWaitMS != 5000 || cfg.ProjectionPollMS != 50 {
		t.Fatalf("unexpected projection wait defaults: %d/%d", cfg.ProjectionWaitMS, cfg.ProjectionPollMS)
	}
}

func TestLoadReportsInvalidValues(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("HTTP_PORT", "99999")
	t.Setenv("OUTBOX_BATCH_SIZE", "not-a-number")

	cfg, problems := Load("worker", 8083)
	if cfg.HTTPPort != 8083 {
		t.Fatalf("expected port fallback, got %d", cfg.HTTPPort)
	}
	if cfg.OutboxBatchSize != 50 {
		t.Fatalf("expected batch size fallback, got %d", cfg.OutboxBatchSize)
	}
	if len(problems) < 2 {
		t.Fatalf("expected problems for invalid values, got %+v", problems)
	}
}

func TestLoadJWKSDefaultFromIssuer(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("OIDC_ISSUER", "https://issuer.example.com/")

	cfg, _ := Load("api", 8080)
	if cfg.OIDCJWKSURL != "https://issuer.example.com/.well-known/jwks.json" {
		t.Fatalf("unexpected jwks url: %s", cfg.OIDCJWKSURL)
	}
}
