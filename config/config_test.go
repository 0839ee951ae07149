package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesEnvSubstitutionAndDefaults(t *testing.T) {
	t.Setenv("TEST_BACKEND_DSN", "user:pass@tcp(127.0.0.1:3306)/reporting")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := `
proxy:
  host: "0.0.0.0"
  port: 3307
backend:
  connection_string: "${TEST_BACKEND_DSN}"
  pool_size: 2
business_rules:
  date_columns: ["cob_date"]
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.ConnectionString != "user:pass@tcp(127.0.0.1:3306)/reporting" {
		t.Fatalf("expected env substitution, got %q", cfg.Backend.ConnectionString)
	}
	if cfg.Backend.PoolSize != 2 {
		t.Fatalf("expected pool_size 2, got %d", cfg.Backend.PoolSize)
	}
	if !cfg.Security.BlockWrites {
		t.Fatalf("expected default block_writes=true to survive a partial config")
	}
	if !cfg.Transformations.UnwrapSubqueries {
		t.Fatalf("expected default unwrap_subqueries=true to survive a partial config")
	}
	if cfg.Transformations.MaxSubqueryDepth != 2 {
		t.Fatalf("expected default max_subquery_depth 2, got %d", cfg.Transformations.MaxSubqueryDepth)
	}
	if cfg.Backend.Timeout() != 30*time.Second {
		t.Fatalf("expected default timeout 30s, got %v", cfg.Backend.Timeout())
	}
}

func TestBackendTimeoutDecodesAsSeconds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := `
backend:
  connection_string: "x"
  timeout: 5
  pool_recycle: 3600
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.Timeout() != 5*time.Second {
		t.Fatalf("expected 5s timeout, got %v", cfg.Backend.Timeout())
	}
	if cfg.Backend.PoolRecycle() != time.Hour {
		t.Fatalf("expected 1h pool_recycle, got %v", cfg.Backend.PoolRecycle())
	}
}

func TestExpandEnvFallsBackToDefault(t *testing.T) {
	os.Unsetenv("TEST_UNSET_VAR")
	got := expandEnv("listen: ${TEST_UNSET_VAR:-127.0.0.1:3307}")
	if got != "listen: 127.0.0.1:3307" {
		t.Fatalf("expected fallback substitution, got %q", got)
	}
}
