// Package config handles loading and validation of antigravity-usage
// configuration from .env files and environment variables. CLI flags are
// layered on top by the commands themselves.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Fetch method selection.
const (
	MethodAuto  = "auto"
	MethodLocal = "local"
	MethodCloud = "cloud"
)

// Config holds all application configuration.
type Config struct {
	DataDir      string // ANTIGRAVITY_DATA_DIR (default: ~/.antigravity-usage)
	DBPath       string // ANTIGRAVITY_DB_PATH
	StatePath    string // ANTIGRAVITY_STATE_PATH (wake state JSON)
	AccountsPath string // ANTIGRAVITY_ACCOUNTS_PATH (accounts YAML)

	FetchMethod string // ANTIGRAVITY_FETCH_METHOD: auto | local | cloud

	WakeEnabled      bool          // ANTIGRAVITY_WAKE_ENABLED
	SelectedModels   []string      // ANTIGRAVITY_WAKE_MODELS (comma separated)
	SelectedAccounts []string      // ANTIGRAVITY_WAKE_ACCOUNTS (comma separated)
	Cooldown         time.Duration // ANTIGRAVITY_WAKE_COOLDOWN (seconds)
	GroupAliases     bool          // ANTIGRAVITY_WAKE_GROUP_ALIASES

	PollInterval time.Duration // ANTIGRAVITY_POLL_INTERVAL (seconds)
	Passphrase   string        // ANTIGRAVITY_PASSPHRASE (token decryption)
	LogLevel     string        // ANTIGRAVITY_LOG_LEVEL
}

// Load reads configuration from an optional .env file and the environment.
func Load() (*Config, error) {
	// .env is optional; ignore a missing file.
	_ = godotenv.Load(".env")

	cfg := &Config{}

	cfg.DataDir = os.Getenv("ANTIGRAVITY_DATA_DIR")
	cfg.DBPath = os.Getenv("ANTIGRAVITY_DB_PATH")
	cfg.StatePath = os.Getenv("ANTIGRAVITY_STATE_PATH")
	cfg.AccountsPath = os.Getenv("ANTIGRAVITY_ACCOUNTS_PATH")
	cfg.FetchMethod = strings.ToLower(os.Getenv("ANTIGRAVITY_FETCH_METHOD"))
	cfg.Passphrase = os.Getenv("ANTIGRAVITY_PASSPHRASE")
	cfg.LogLevel = os.Getenv("ANTIGRAVITY_LOG_LEVEL")

	cfg.WakeEnabled = envBool("ANTIGRAVITY_WAKE_ENABLED", true)
	cfg.GroupAliases = envBool("ANTIGRAVITY_WAKE_GROUP_ALIASES", true)
	cfg.SelectedModels = envList("ANTIGRAVITY_WAKE_MODELS")
	cfg.SelectedAccounts = envList("ANTIGRAVITY_WAKE_ACCOUNTS")

	if v := envSeconds("ANTIGRAVITY_WAKE_COOLDOWN"); v > 0 {
		cfg.Cooldown = v
	}
	if v := envSeconds("ANTIGRAVITY_POLL_INTERVAL"); v > 0 {
		cfg.PollInterval = v
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envBool(name string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	switch v {
	case "":
		return def
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func envList(name string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envSeconds(name string) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return 0
	}
	if v, err := strconv.Atoi(raw); err == nil && v > 0 {
		return time.Duration(v) * time.Second
	}
	return 0
}

// applyDefaults sets default values for empty config fields.
func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			c.DataDir = ".antigravity-usage"
		} else {
			c.DataDir = filepath.Join(home, ".antigravity-usage")
		}
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "history.db")
	}
	if c.StatePath == "" {
		c.StatePath = filepath.Join(c.DataDir, "wake_state.json")
	}
	if c.AccountsPath == "" {
		c.AccountsPath = filepath.Join(c.DataDir, "accounts.yaml")
	}
	if c.FetchMethod == "" {
		c.FetchMethod = MethodAuto
	}
	if c.Cooldown == 0 {
		c.Cooldown = 10 * time.Minute
	}
	if c.PollInterval == 0 {
		c.PollInterval = 60 * time.Second
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.FetchMethod {
	case MethodAuto, MethodLocal, MethodCloud:
	default:
		return fmt.Errorf("ANTIGRAVITY_FETCH_METHOD must be auto, local, or cloud (got %q)", c.FetchMethod)
	}

	if c.Cooldown < time.Minute {
		return fmt.Errorf("wake cooldown must be at least 1 minute")
	}
	if c.Cooldown > 24*time.Hour {
		return fmt.Errorf("wake cooldown must be at most 24 hours")
	}

	if c.PollInterval < 10*time.Second {
		return fmt.Errorf("poll interval must be at least 10 seconds")
	}
	if c.PollInterval > time.Hour {
		return fmt.Errorf("poll interval must be at most 1 hour")
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be debug, info, warn, or error (got %q)", c.LogLevel)
	}
	return nil
}

// String returns a redacted representation of the config.
func (c *Config) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Config{\n")
	fmt.Fprintf(&sb, "  DataDir: %s,\n", c.DataDir)
	fmt.Fprintf(&sb, "  DBPath: %s,\n", c.DBPath)
	fmt.Fprintf(&sb, "  StatePath: %s,\n", c.StatePath)
	fmt.Fprintf(&sb, "  AccountsPath: %s,\n", c.AccountsPath)
	fmt.Fprintf(&sb, "  FetchMethod: %s,\n", c.FetchMethod)
	fmt.Fprintf(&sb, "  WakeEnabled: %v,\n", c.WakeEnabled)
	fmt.Fprintf(&sb, "  SelectedModels: %v,\n", c.SelectedModels)
	fmt.Fprintf(&sb, "  SelectedAccounts: %v,\n", c.SelectedAccounts)
	fmt.Fprintf(&sb, "  Cooldown: %v,\n", c.Cooldown)
	fmt.Fprintf(&sb, "  GroupAliases: %v,\n", c.GroupAliases)
	fmt.Fprintf(&sb, "  PollInterval: %v,\n", c.PollInterval)
	if c.Passphrase != "" {
		fmt.Fprintf(&sb, "  Passphrase: ****,\n")
	} else {
		fmt.Fprintf(&sb, "  Passphrase: (not set),\n")
	}
	fmt.Fprintf(&sb, "  LogLevel: %s,\n", c.LogLevel)
	fmt.Fprintf(&sb, "}")
	return sb.String()
}
