// Package config handles hub configuration
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds hub configuration
type Config struct {
	// Database location
	DatabasePath string

	// Conversation timeout settings. A conversation with no activity for
	// longer than ConversationTimeout is terminated by its monitor within
	// one MonitorInterval of crossing the threshold.
	ConversationTimeout time.Duration
	MonitorInterval     time.Duration

	// Logging
	LogFile  string
	LogLevel slog.Level

	// Verbose mode for debugging
	Verbose bool
}

// Load loads configuration from environment and defaults
func Load() (*Config, error) {
	cfg := &Config{
		DatabasePath:        defaultDatabasePath(),
		ConversationTimeout: 5 * time.Minute,
		MonitorInterval:     2 * time.Second,
		LogFile:             "",
		LogLevel:            slog.LevelInfo,
	}

	// Environment overrides
	if v := os.Getenv("HUB_DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("HUB_CONVERSATION_TIMEOUT"); v != "" {
		cfg.ConversationTimeout = parseDurationOrDefault(v, 5*time.Minute)
	}
	if v := os.Getenv("HUB_MONITOR_INTERVAL"); v != "" {
		cfg.MonitorInterval = parseDurationOrDefault(v, 2*time.Second)
	}
	if v := os.Getenv("HUB_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("HUB_LOG_LEVEL"); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv("HUB_VERBOSE"); v != "" {
		cfg.Verbose = v == "true" || v == "1"
	}

	if cfg.ConversationTimeout <= 0 {
		return nil, fmt.Errorf("conversation timeout must be positive")
	}
	if cfg.MonitorInterval <= 0 {
		return nil, fmt.Errorf("monitor interval must be positive")
	}

	return cfg, nil
}

// defaultDatabasePath returns SQLite in the project directory
func defaultDatabasePath() string {
	dir, err := os.Getwd()
	if err != nil {
		return filepath.Join(".hub", "hub.db")
	}
	return filepath.Join(dir, ".hub", "hub.db")
}

func parseDurationOrDefault(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
