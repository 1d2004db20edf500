package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ConversationTimeout != 5*time.Minute {
		t.Errorf("Expected default timeout 5m, got %v", cfg.ConversationTimeout)
	}
	if cfg.MonitorInterval != 2*time.Second {
		t.Errorf("Expected default monitor interval 2s, got %v", cfg.MonitorInterval)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("Expected default log level info, got %v", cfg.LogLevel)
	}
	if cfg.DatabasePath == "" {
		t.Error("Expected non-empty default database path")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HUB_DATABASE_PATH", "/tmp/custom.db")
	t.Setenv("HUB_CONVERSATION_TIMEOUT", "30s")
	t.Setenv("HUB_MONITOR_INTERVAL", "500ms")
	t.Setenv("HUB_LOG_LEVEL", "debug")
	t.Setenv("HUB_VERBOSE", "1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DatabasePath != "/tmp/custom.db" {
		t.Errorf("Expected custom database path, got %s", cfg.DatabasePath)
	}
	if cfg.ConversationTimeout != 30*time.Second {
		t.Errorf("Expected timeout 30s, got %v", cfg.ConversationTimeout)
	}
	if cfg.MonitorInterval != 500*time.Millisecond {
		t.Errorf("Expected monitor interval 500ms, got %v", cfg.MonitorInterval)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("Expected debug level, got %v", cfg.LogLevel)
	}
	if !cfg.Verbose {
		t.Error("Expected verbose to be enabled")
	}
}

func TestLoad_InvalidDurationFallsBack(t *testing.T) {
	t.Setenv("HUB_CONVERSATION_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ConversationTimeout != 5*time.Minute {
		t.Errorf("Expected fallback to default timeout, got %v", cfg.ConversationTimeout)
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"DEBUG":   slog.LevelDebug,
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"INFO":    slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer

	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)
	logger.Info("routing message", "conversation_id", "conv_1")

	if stderr.Len() == 0 {
		t.Error("Expected text output on stderr writer")
	}

	var entry map[string]any
	if err := json.Unmarshal(file.Bytes(), &entry); err != nil {
		t.Fatalf("File output is not JSON: %v", err)
	}
	if entry["conversation_id"] != "conv_1" {
		t.Errorf("Expected conversation_id attribute, got %v", entry)
	}
}
