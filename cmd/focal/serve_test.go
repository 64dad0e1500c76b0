package main

import (
	"os"
	"testing"

	"github.com/InfraWhisperer/focal/internal/config"
	"github.com/InfraWhisperer/focal/internal/logging"
)

func TestStartWatcherDisabled(t *testing.T) {
	cfg := config.WatcherConfig{Enabled: false}
	logger := logging.NewLogger(logging.Config{Format: logging.HumanFormat, Level: logging.InfoLevel, Output: os.Stderr})

	w, err := startWatcher(nil, nil, cfg, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w != nil {
		t.Fatal("expected nil watcher when watcher config is disabled")
	}
}

func TestResolveLogLevel(t *testing.T) {
	origFlag := logLevelFlag
	defer func() { logLevelFlag = origFlag }()

	t.Run("flag takes precedence", func(t *testing.T) {
		logLevelFlag = "debug"
		defer os.Unsetenv("FOCAL_LOG_LEVEL")
		os.Setenv("FOCAL_LOG_LEVEL", "error")

		if got := resolveLogLevel(); got != logging.DebugLevel {
			t.Fatalf("expected flag to win, got %q", got)
		}
	})

	t.Run("env var used when flag unset", func(t *testing.T) {
		logLevelFlag = ""
		defer os.Unsetenv("FOCAL_LOG_LEVEL")
		os.Setenv("FOCAL_LOG_LEVEL", "warn")

		if got := resolveLogLevel(); got != logging.WarnLevel {
			t.Fatalf("expected env var, got %q", got)
		}
	})

	t.Run("defaults to info", func(t *testing.T) {
		logLevelFlag = ""
		os.Unsetenv("FOCAL_LOG_LEVEL")

		if got := resolveLogLevel(); got != logging.InfoLevel {
			t.Fatalf("expected default info level, got %q", got)
		}
	})
}
