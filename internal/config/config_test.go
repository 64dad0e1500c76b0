package config

import (
	"os"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if !cfg.Watcher.Enabled {
		t.Error("Watcher should be enabled by default")
	}
	if cfg.Watcher.DebounceMs != 500 {
		t.Errorf("Watcher.DebounceMs = %d, want 500", cfg.Watcher.DebounceMs)
	}
	if len(cfg.Watcher.IgnorePatterns) == 0 {
		t.Error("Watcher.IgnorePatterns should have defaults")
	}
	if cfg.Indexer.MaxFileSizeBytes != 500_000 {
		t.Errorf("Indexer.MaxFileSizeBytes = %d, want 500000", cfg.Indexer.MaxFileSizeBytes)
	}
	if len(cfg.Indexer.ExcludePatterns) == 0 {
		t.Error("Indexer.ExcludePatterns should have defaults")
	}
	if cfg.Context.DefaultMaxTokens != 12000 {
		t.Errorf("Context.DefaultMaxTokens = %d, want 12000", cfg.Context.DefaultMaxTokens)
	}
	if cfg.Context.MemoryBudgetFraction != 0.1 {
		t.Errorf("Context.MemoryBudgetFraction = %v, want 0.1", cfg.Context.MemoryBudgetFraction)
	}
	if cfg.Context.PivotCount != 5 {
		t.Errorf("Context.PivotCount = %d, want 5", cfg.Context.PivotCount)
	}
	if cfg.Context.ExpansionDepth != 1 {
		t.Errorf("Context.ExpansionDepth = %d, want 1", cfg.Context.ExpansionDepth)
	}
	if cfg.Server.HTTPPort != 3100 {
		t.Errorf("Server.HTTPPort = %d, want 3100", cfg.Server.HTTPPort)
	}
}

func TestLoad_NoConfigFileUsesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd() error = %v", err)
	}
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("Chdir() error = %v", err)
	}
	defer os.Chdir(origWd)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Context.DefaultMaxTokens != 12000 {
		t.Errorf("Context.DefaultMaxTokens = %d, want 12000 (default)", cfg.Context.DefaultMaxTokens)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd() error = %v", err)
	}
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("Chdir() error = %v", err)
	}
	defer os.Chdir(origWd)

	os.Setenv("FOCAL_LOGLEVEL", "debug")
	defer os.Unsetenv("FOCAL_LOGLEVEL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q (from env override)", cfg.LogLevel, "debug")
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd() error = %v", err)
	}
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("Chdir() error = %v", err)
	}
	defer os.Chdir(origWd)

	toml := "logLevel = \"warn\"\n\n[server]\nhttpPort = 4000\n"
	if err := os.WriteFile("focal.toml", []byte(toml), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "warn")
	}
	if cfg.Server.HTTPPort != 4000 {
		t.Errorf("Server.HTTPPort = %d, want 4000", cfg.Server.HTTPPort)
	}
}
