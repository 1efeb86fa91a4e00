package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 8080)
	}
	if cfg.Database.Path != "settlement.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "settlement.db")
	}
	if len(cfg.CORS.Origins) == 0 {
		t.Error("CORS.Origins should have localhost defaults")
	}
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settlementd.toml")
	data := []byte(`
[server]
port = 9090

[database]
path = "/var/lib/settlement.db"
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SETTLEMENT_PORT", "7070")
	t.Setenv("SETTLEMENT_ORIGINS", "https://draft.example.com, https://ops.example.com")

	cfg, err := Load(path, true)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Env beats file, file beats default.
	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Database.Path != "/var/lib/settlement.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if len(cfg.CORS.Origins) != 2 || cfg.CORS.Origins[1] != "https://ops.example.com" {
		t.Errorf("CORS.Origins = %v", cfg.CORS.Origins)
	}
	if cfg.Addr() != ":7070" {
		t.Errorf("Addr() = %q", cfg.Addr())
	}
}

func TestLoadMissingFile(t *testing.T) {
	// Implicit default path: missing file falls back to defaults.
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml"), false); err != nil {
		t.Errorf("implicit missing file should not error: %v", err)
	}
	// Explicitly requested path: missing file is an error.
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml"), true); err == nil {
		t.Error("explicit missing file should error")
	}
}

func TestLoadRejectsBadPort(t *testing.T) {
	t.Setenv("SETTLEMENT_PORT", "0")
	if _, err := Load("", false); err == nil {
		t.Error("port 0 should be rejected")
	}
}
