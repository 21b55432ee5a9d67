package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if cfg.DBPath != "gao_dev.db" {
		t.Fatalf("DBPath = %q, want %q", cfg.DBPath, "gao_dev.db")
	}
	if cfg.LockTimeout != 30*time.Second {
		t.Fatalf("LockTimeout = %v, want 30s", cfg.LockTimeout)
	}
}

func TestLoadFromTOMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := "db_path = \"custom.db\"\nlock_timeout = \"5s\"\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(%q): %v", path, err)
	}
	if cfg.DBPath != "custom.db" {
		t.Fatalf("DBPath = %q, want %q", cfg.DBPath, "custom.db")
	}
	if cfg.LockTimeout != 5*time.Second {
		t.Fatalf("LockTimeout = %v, want 5s", cfg.LockTimeout)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("Load of missing file should not error: %v", err)
	}
	if cfg.DBPath != "gao_dev.db" {
		t.Fatalf("DBPath = %q, want default %q", cfg.DBPath, "gao_dev.db")
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("db_path = \"from_file.db\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("GAODEV_DB_PATH", "from_env.db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBPath != "from_env.db" {
		t.Fatalf("DBPath = %q, want env override %q", cfg.DBPath, "from_env.db")
	}
}

func TestLoadInvalidLockTimeout(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("lock_timeout = \"not-a-duration\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected Load to reject an invalid lock_timeout")
	}
}
