package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t, "PORT", "EMBED_DIM", "CHUNK_CHAR_TARGET", "MMR_LAMBDA", "STORAGE_BACKEND",
		"DATABASE_URL", "DB_DSN", "AI_PROVIDER", "RATE_LIMIT_PER_SEC", "IDEMPOTENCY_TTL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 8080 {
		t.Errorf("HTTP.Port = %d, want 8080", cfg.HTTP.Port)
	}
	if cfg.Embedding.Dim != 1536 {
		t.Errorf("Embedding.Dim = %d, want 1536", cfg.Embedding.Dim)
	}
	if cfg.Chunking.CharTarget != 5000 || cfg.Chunking.CharOverlap != 800 {
		t.Errorf("unexpected chunking defaults: %+v", cfg.Chunking)
	}
	if cfg.MMR.Lambda != 0.7 {
		t.Errorf("MMR.Lambda = %v, want 0.7", cfg.MMR.Lambda)
	}
	if cfg.Storage.Backend != "local" {
		t.Errorf("Storage.Backend = %q, want local", cfg.Storage.Backend)
	}
	if cfg.Database.Search.Backend != "memory" {
		t.Errorf("Database.Search.Backend = %q, want memory when no DSN set", cfg.Database.Search.Backend)
	}
	if cfg.AIProvider != "fake" {
		t.Errorf("AIProvider = %q, want fake", cfg.AIProvider)
	}
	if cfg.Idempotency.TTL != 24*time.Hour {
		t.Errorf("Idempotency.TTL = %v, want 24h", cfg.Idempotency.TTL)
	}
}

func TestLoad_DatabaseDefaultDSNSwitchesBackendToPostgres(t *testing.T) {
	clearEnv(t, "DATABASE_URL", "SEARCH_BACKEND", "VECTOR_BACKEND")
	os.Setenv("DATABASE_URL", "postgres://localhost:5432/groundedqa")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Search.Backend != "postgres" {
		t.Errorf("Database.Search.Backend = %q, want postgres", cfg.Database.Search.Backend)
	}
	if cfg.Database.Vector.Backend != "postgres" {
		t.Errorf("Database.Vector.Backend = %q, want postgres", cfg.Database.Vector.Backend)
	}
}

func TestLoad_InvalidEmbedDimRejected(t *testing.T) {
	clearEnv(t, "EMBED_DIM")
	os.Setenv("EMBED_DIM", "0")
	t.Cleanup(func() { os.Unsetenv("EMBED_DIM") })

	if _, err := Load(); err == nil {
		t.Fatal("expected error for EMBED_DIM=0")
	}
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	clearEnv(t, "PORT", "RERANK_CANDIDATES", "MMR_ENABLED", "URL_ALLOWLIST")
	os.Setenv("PORT", "9100")
	os.Setenv("RERANK_CANDIDATES", "50")
	os.Setenv("MMR_ENABLED", "false")
	os.Setenv("URL_ALLOWLIST", "example.com, docs.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 9100 {
		t.Errorf("HTTP.Port = %d, want 9100", cfg.HTTP.Port)
	}
	if cfg.Rerank.Candidates != 50 {
		t.Errorf("Rerank.Candidates = %d, want 50", cfg.Rerank.Candidates)
	}
	if cfg.MMR.Enabled {
		t.Error("MMR.Enabled should be false")
	}
	if len(cfg.Extract.URLAllowlist) != 2 || cfg.Extract.URLAllowlist[0] != "example.com" {
		t.Errorf("unexpected URLAllowlist: %v", cfg.Extract.URLAllowlist)
	}
}

func TestParseCommaSeparatedList(t *testing.T) {
	got := parseCommaSeparatedList(" a, b ,, c")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if v := firstNonEmpty("", "", "x", "y"); v != "x" {
		t.Errorf("firstNonEmpty = %q, want x", v)
	}
	if v := firstNonEmpty("", ""); v != "" {
		t.Errorf("firstNonEmpty = %q, want empty", v)
	}
}

func TestLoad_ConfigFileLayersBelowEnv(t *testing.T) {
	clearEnv(t, "PORT", "CONFIG_FILE", "AI_PROVIDER", "CHUNK_CHAR_TARGET")

	dir := t.TempDir()
	path := dir + "/groundedqa.yaml"
	yaml := "http:\n  port: 9200\nai_provider: anthropic\nchunking:\n  char_target: 3000\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	os.Setenv("CONFIG_FILE", path)
	os.Setenv("PORT", "9999")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 9999 {
		t.Errorf("HTTP.Port = %d, want env override 9999", cfg.HTTP.Port)
	}
	if cfg.AIProvider != "anthropic" {
		t.Errorf("AIProvider = %q, want config file value anthropic", cfg.AIProvider)
	}
	if cfg.Chunking.CharTarget != 3000 {
		t.Errorf("Chunking.CharTarget = %d, want config file value 3000", cfg.Chunking.CharTarget)
	}
}

func TestLoad_MissingConfigFileIsNotAnError(t *testing.T) {
	clearEnv(t, "CONFIG_FILE")
	os.Setenv("CONFIG_FILE", "/nonexistent/path/to/config.yaml")

	if _, err := Load(); err != nil {
		t.Fatalf("expected a missing CONFIG_FILE to be silently ignored, got %v", err)
	}
}
