package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds the runtime configuration for the attache service.
// Values come from environment variables (a .env file is loaded by the
// entry point before this is read).
type Config struct {
	ListenAddr    string // HTTP listen address, e.g. ":8765"
	DataDir       string // Directory holding the SQLite database and search index
	DatabasePath  string // Full path to the conversations database
	DropDir       string // Optional directory watched for file drops ("" disables)
	RetentionDays int    // Sessions inactive longer than this are eligible for cleanup
	UserID        string // Logical user the desktop shell runs as
}

// FromEnv builds a Config from environment variables, applying defaults
// suitable for a local single-user installation.
func FromEnv() (*Config, error) {
	cfg := &Config{
		ListenAddr:    envOr("ATTACHE_LISTEN_ADDR", ":8765"),
		DropDir:       os.Getenv("ATTACHE_DROP_DIR"),
		RetentionDays: 30,
		UserID:        envOr("ATTACHE_USER_ID", "default_user"),
	}

	dataDir := os.Getenv("ATTACHE_DATA_DIR")
	if dataDir == "" {
		userConfigDir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user config dir: %w", err)
		}
		dataDir = filepath.Join(userConfigDir, "attache")
	}
	cfg.DataDir = dataDir
	cfg.DatabasePath = filepath.Join(dataDir, "conversations.db")

	if v := os.Getenv("ATTACHE_RETENTION_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days < 1 {
			return nil, fmt.Errorf("invalid ATTACHE_RETENTION_DAYS: %q", v)
		}
		cfg.RetentionDays = days
	}

	return cfg, nil
}

// EnsureDataDir creates the data directory if it does not exist.
func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
