package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BrandonDHaskell/Portunus/relay/internal/config"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// ── Environment ──────────────────────────────────────────────────────────────

func TestFromEnv_Defaults(t *testing.T) {
	cfg := config.FromEnv()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("expected :8080, got %q", cfg.HTTPAddr)
	}
	if cfg.EEPROMBackend != "sqlite" {
		t.Errorf("expected sqlite backend, got %q", cfg.EEPROMBackend)
	}
	if cfg.ReplyDelay != 20*time.Millisecond {
		t.Errorf("expected 20ms reply delay, got %v", cfg.ReplyDelay)
	}
	if cfg.SyncTimeout != 5*time.Second {
		t.Errorf("expected 5s sync timeout, got %v", cfg.SyncTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected defaults to validate, got %v", err)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("PORTUNUS_ENV", "PROD")
	t.Setenv("PORTUNUS_EEPROM_BACKEND", "Badger")
	t.Setenv("PORTUNUS_SEED_TAGS", " 04A1B2C3, ,DEADBEEF ")
	t.Setenv("PORTUNUS_SYNC_TIMEOUT", "0s")
	t.Setenv("PORTUNUS_ARCHIVE_RETENTION_DAYS", "-4")
	t.Setenv("PORTUNUS_STUB_TRANSPORT", "false")

	cfg := config.FromEnv()

	if cfg.Env != "prod" {
		t.Errorf("expected prod, got %q", cfg.Env)
	}
	if cfg.EEPROMBackend != "badger" {
		t.Errorf("expected badger, got %q", cfg.EEPROMBackend)
	}
	if len(cfg.SeedTags) != 2 || cfg.SeedTags[1] != "DEADBEEF" {
		t.Errorf("expected 2 seed tags, got %v", cfg.SeedTags)
	}
	if cfg.SyncTimeout != 0 {
		t.Errorf("expected 0 sync timeout, got %v", cfg.SyncTimeout)
	}
	if cfg.ArchiveRetentionDays != 90 {
		t.Errorf("expected negative retention to fall back to 90, got %d", cfg.ArchiveRetentionDays)
	}
	if cfg.StubTransport {
		t.Error("expected stub transport off")
	}
}

func TestFromEnv_UnknownEnvFallsBackToDev(t *testing.T) {
	t.Setenv("PORTUNUS_ENV", "staging")
	if cfg := config.FromEnv(); cfg.Env != "dev" {
		t.Errorf("expected dev, got %q", cfg.Env)
	}
}

// ── File overlay ─────────────────────────────────────────────────────────────

func TestLoad_FileOverridesOnlyDefinedKeys(t *testing.T) {
	t.Setenv("PORTUNUS_HTTP_ADDR", ":7000")
	path := writeFile(t, `
grpc_addr = ""
eeprom_backend = "memory"
reply_delay = "50ms"
seed_tags = ["04A1B2C3"]
archive_retention_days = 0
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":7000" {
		t.Errorf("expected env http addr to survive, got %q", cfg.HTTPAddr)
	}
	if cfg.GRPCAddr != "" {
		t.Errorf("expected grpc disabled, got %q", cfg.GRPCAddr)
	}
	if cfg.EEPROMBackend != "memory" {
		t.Errorf("expected memory backend, got %q", cfg.EEPROMBackend)
	}
	if cfg.ReplyDelay != 50*time.Millisecond {
		t.Errorf("expected 50ms, got %v", cfg.ReplyDelay)
	}
	if cfg.ArchiveRetentionDays != 0 {
		t.Errorf("expected retention 0, got %d", cfg.ArchiveRetentionDays)
	}
	if len(cfg.SeedTags) != 1 {
		t.Errorf("expected 1 seed tag, got %v", cfg.SeedTags)
	}
	if cfg.SyncTimeout != 5*time.Second {
		t.Errorf("expected untouched sync timeout, got %v", cfg.SyncTimeout)
	}
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeFile(t, `poll_interval = "soon"`)
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_InvalidBackend(t *testing.T) {
	path := writeFile(t, `eeprom_backend = "floppy"`)
	if _, err := config.Load(path); !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
