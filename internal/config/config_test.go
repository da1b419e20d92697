package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"ANTIGRAVITY_DATA_DIR", "ANTIGRAVITY_DB_PATH", "ANTIGRAVITY_STATE_PATH",
		"ANTIGRAVITY_ACCOUNTS_PATH", "ANTIGRAVITY_FETCH_METHOD",
		"ANTIGRAVITY_WAKE_ENABLED", "ANTIGRAVITY_WAKE_MODELS", "ANTIGRAVITY_WAKE_ACCOUNTS",
		"ANTIGRAVITY_WAKE_COOLDOWN", "ANTIGRAVITY_WAKE_GROUP_ALIASES",
		"ANTIGRAVITY_POLL_INTERVAL", "ANTIGRAVITY_PASSPHRASE", "ANTIGRAVITY_LOG_LEVEL",
	} {
		t.Setenv(name, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.FetchMethod != MethodAuto {
		t.Errorf("FetchMethod = %q, want auto", cfg.FetchMethod)
	}
	if !cfg.WakeEnabled {
		t.Error("wakeup should default to enabled")
	}
	if !cfg.GroupAliases {
		t.Error("alias grouping should default to enabled")
	}
	if cfg.Cooldown != 10*time.Minute {
		t.Errorf("Cooldown = %v, want 10m", cfg.Cooldown)
	}
	if cfg.PollInterval != 60*time.Second {
		t.Errorf("PollInterval = %v, want 60s", cfg.PollInterval)
	}
	if cfg.DBPath != filepath.Join(cfg.DataDir, "history.db") {
		t.Errorf("DBPath = %q not under DataDir", cfg.DBPath)
	}
	if cfg.StatePath != filepath.Join(cfg.DataDir, "wake_state.json") {
		t.Errorf("StatePath = %q not under DataDir", cfg.StatePath)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("ANTIGRAVITY_DATA_DIR", "/tmp/ag-test")
	t.Setenv("ANTIGRAVITY_FETCH_METHOD", "CLOUD")
	t.Setenv("ANTIGRAVITY_WAKE_ENABLED", "false")
	t.Setenv("ANTIGRAVITY_WAKE_MODELS", "gemini-3-pro, claude-sonnet-4-5 ,")
	t.Setenv("ANTIGRAVITY_WAKE_COOLDOWN", "600")
	t.Setenv("ANTIGRAVITY_POLL_INTERVAL", "30")
	t.Setenv("ANTIGRAVITY_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.FetchMethod != MethodCloud {
		t.Errorf("FetchMethod = %q, want cloud", cfg.FetchMethod)
	}
	if cfg.WakeEnabled {
		t.Error("WakeEnabled should be false")
	}
	if len(cfg.SelectedModels) != 2 || cfg.SelectedModels[1] != "claude-sonnet-4-5" {
		t.Errorf("SelectedModels = %v", cfg.SelectedModels)
	}
	if cfg.Cooldown != 10*time.Minute {
		t.Errorf("Cooldown = %v, want 10m", cfg.Cooldown)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %v, want 30s", cfg.PollInterval)
	}
	if cfg.DBPath != filepath.Join("/tmp/ag-test", "history.db") {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad fetch method", "ANTIGRAVITY_FETCH_METHOD", "carrier-pigeon"},
		{"cooldown too short", "ANTIGRAVITY_WAKE_COOLDOWN", "30"},
		{"cooldown too long", "ANTIGRAVITY_WAKE_COOLDOWN", "90000"},
		{"poll interval too short", "ANTIGRAVITY_POLL_INTERVAL", "5"},
		{"poll interval too long", "ANTIGRAVITY_POLL_INTERVAL", "7200"},
		{"bad log level", "ANTIGRAVITY_LOG_LEVEL", "loud"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("%s=%s should fail validation", tt.key, tt.value)
			}
		})
	}
}

func TestInvalidDurationsFallBackToDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("ANTIGRAVITY_WAKE_COOLDOWN", "not-a-number")
	t.Setenv("ANTIGRAVITY_POLL_INTERVAL", "-5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cooldown != 10*time.Minute || cfg.PollInterval != 60*time.Second {
		t.Errorf("unparseable durations should fall back: %v, %v", cfg.Cooldown, cfg.PollInterval)
	}
}

func TestStringRedactsPassphrase(t *testing.T) {
	clearEnv(t)
	t.Setenv("ANTIGRAVITY_PASSPHRASE", "super-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	out := cfg.String()
	if strings.Contains(out, "super-secret") {
		t.Error("String() leaked the passphrase")
	}
	if !strings.Contains(out, "****") {
		t.Error("String() should mark the passphrase as set")
	}
}
