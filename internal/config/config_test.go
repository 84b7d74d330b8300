package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashita-ai/yoho/internal/model"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvFloatInvalid(t *testing.T) {
	t.Setenv("TEST_FLOAT_BAD", "fast")
	_, err := envFloat("TEST_FLOAT_BAD", 1)
	if err == nil {
		t.Fatal("expected error for non-numeric value, got nil")
	}
	if got := err.Error(); got != `TEST_FLOAT_BAD="fast" is not a valid number` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err := envBool("TEST_BOOL_BAD", false)
	if err == nil {
		t.Fatal("expected error for non-boolean value, got nil")
	}
	if got := err.Error(); got != `TEST_BOOL_BAD="maybe" is not a valid boolean` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	v, err := envDuration("TEST_DUR", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 5*time.Second {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.BaseURL != "http://localhost:8000" {
		t.Fatalf("expected default base URL, got %q", cfg.BaseURL)
	}
	if cfg.DefaultScope != model.DefaultScope {
		t.Fatalf("expected default scope %v, got %v", model.DefaultScope, cfg.DefaultScope)
	}
	if cfg.HTTPTimeout != 30*time.Second || !cfg.RateLimitEnabled || cfg.RateLimitBurst != 10 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.ExportsEnabled() {
		t.Fatal("no exporter should be enabled by default")
	}
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	t.Setenv("YOHO_HTTP_TIMEOUT", "soon")
	t.Setenv("YOHO_MCP_RATE_LIMIT_BURST", "lots")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with multiple invalid vars")
	}
	got := err.Error()
	for _, want := range []string{"YOHO_HTTP_TIMEOUT", "soon", "YOHO_MCP_RATE_LIMIT_BURST"} {
		if !strings.Contains(got, want) {
			t.Fatalf("error should mention %s, got: %s", want, got)
		}
	}
}

func TestLoadRejectsBadBaseURL(t *testing.T) {
	t.Setenv("YOHO_BASE_URL", "localhost:8000")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for base URL without scheme")
	}
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	t.Setenv("YOHO_LOG_LEVEL", "chatty")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

func TestLoadMinIORequiresCredentials(t *testing.T) {
	t.Setenv("YOHO_MINIO_ENDPOINT", "localhost:9000")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for MinIO endpoint without credentials")
	}
	t.Setenv("YOHO_MINIO_ACCESS_KEY", "a")
	t.Setenv("YOHO_MINIO_SECRET_KEY", "b")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.ExportsEnabled() || cfg.MinIO.Bucket != "forecasts" {
		t.Fatalf("unexpected MinIO config: %+v", cfg.MinIO)
	}
}

func writeCatalog(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scopes.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write catalogue: %v", err)
	}
	return path
}

func TestLoadCatalogDefaultAndOverride(t *testing.T) {
	path := writeCatalog(t, `
runs: [v1, v2]
loas: [standard, alternative]
violence_types: [armed_conflict, other]
default: {run: v2, loa: alternative, violence_type: other}
`)
	t.Setenv("YOHO_SCOPE_CATALOG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := model.Scope{Run: "v2", LoA: "alternative", ViolenceType: "other"}
	if cfg.DefaultScope != want {
		t.Fatalf("expected catalogue default %v, got %v", want, cfg.DefaultScope)
	}

	t.Setenv("YOHO_DEFAULT_RUN", "v1")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultScope.Run != "v1" || cfg.DefaultScope.LoA != "alternative" {
		t.Fatalf("env should override only the run, got %v", cfg.DefaultScope)
	}

	t.Setenv("YOHO_DEFAULT_RUN", "v9")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "v9") {
		t.Fatalf("expected default outside the catalogue to be rejected, got %v", err)
	}
}

func TestLoadCatalogErrors(t *testing.T) {
	if _, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := LoadCatalog(writeCatalog(t, "runs: [v1, v1]\n")); err == nil {
		t.Fatal("expected error for duplicate run")
	}
	if _, err := LoadCatalog(writeCatalog(t, "runs: {not: a list}\n")); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}
