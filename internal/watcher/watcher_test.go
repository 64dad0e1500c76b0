package watcher

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/InfraWhisperer/focal/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{
		Format: logging.HumanFormat,
		Level:  logging.ErrorLevel,
		Output: io.Discard,
	})
}

func TestEventTypeString(t *testing.T) {
	tests := []struct {
		eventType EventType
		want      string
	}{
		{EventCreate, "create"},
		{EventModify, "modify"},
		{EventDelete, "delete"},
		{EventRename, "rename"},
		{EventType(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := tt.eventType.String()
			if got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if !config.Enabled {
		t.Error("Enabled should be true by default")
	}
	if config.DebounceMs != 500 {
		t.Errorf("DebounceMs = %d, want 500", config.DebounceMs)
	}
	if len(config.IgnorePatterns) == 0 {
		t.Error("IgnorePatterns should not be empty")
	}
}

func TestNewWatcher(t *testing.T) {
	w, err := New(DefaultConfig(), testLogger(), func(string, []Event) {})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { w.Stop() })

	if len(w.WatchedRepos()) != 0 {
		t.Error("new watcher should have no watched repos")
	}
}

func TestWatcherStats(t *testing.T) {
	config := DefaultConfig()
	config.DebounceMs = 1000

	w, err := New(config, testLogger(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { w.Stop() })

	stats := w.Stats()
	if stats["enabled"] != true {
		t.Errorf("stats[enabled] = %v, want true", stats["enabled"])
	}
	if stats["watchedRepos"] != 0 {
		t.Errorf("stats[watchedRepos] = %v, want 0", stats["watchedRepos"])
	}
	if stats["debounceMs"] != 1000 {
		t.Errorf("stats[debounceMs] = %v, want 1000", stats["debounceMs"])
	}
}

func TestWatcherIsIgnored(t *testing.T) {
	config := Config{
		IgnorePatterns: []string{
			"*.log",
			"*.tmp",
			"node_modules/**",
			".git/**",
		},
	}
	w, err := New(config, testLogger(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { w.Stop() })

	tests := []struct {
		path    string
		ignored bool
	}{
		{"debug.log", true},
		{"temp.tmp", true},
		{"node_modules/package/index.js", true},
		{".git/config", true},
		{"main.go", false},
		{"src/app.ts", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := w.IsIgnored(tt.path)
			if got != tt.ignored {
				t.Errorf("IsIgnored(%q) = %v, want %v", tt.path, got, tt.ignored)
			}
		})
	}
}

func TestWatcherStartDisabled(t *testing.T) {
	w, err := New(Config{Enabled: false}, testLogger(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { w.Stop() })

	if err := w.Start(); err != nil {
		t.Errorf("Start() error = %v", err)
	}
}

func TestWatcherStopWithoutStart(t *testing.T) {
	w, err := New(DefaultConfig(), testLogger(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestWatchRepoAndReceiveEvent(t *testing.T) {
	dir := t.TempDir()

	var mu sync.Mutex
	var gotEvents []Event
	done := make(chan struct{}, 1)

	config := DefaultConfig()
	config.DebounceMs = 20

	w, err := New(config, testLogger(), func(repoPath string, events []Event) {
		mu.Lock()
		gotEvents = append(gotEvents, events...)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { w.Stop() })

	if err := w.WatchRepo(dir); err != nil {
		t.Fatalf("WatchRepo() error = %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "new.go"), []byte("package main\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(gotEvents) == 0 {
		t.Error("expected at least one event for the new file")
	}
}

func TestUnwatchRepoNotWatched(t *testing.T) {
	w, err := New(DefaultConfig(), testLogger(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { w.Stop() })

	// Unwatching a non-watched repo should not panic.
	w.UnwatchRepo("/nonexistent/path")
}

// BatchDebouncer tests (kept from the teacher's utility, unchanged API).

func TestNewBatchDebouncer(t *testing.T) {
	emit := func(events []Event) {}
	b := NewBatchDebouncer(100*time.Millisecond, emit)

	if b == nil {
		t.Fatal("NewBatchDebouncer() returned nil")
	}
	if b.EventCount() != 0 {
		t.Errorf("EventCount() = %d, want 0", b.EventCount())
	}
}

func TestBatchDebouncerAdd(t *testing.T) {
	var received []Event
	var mu sync.Mutex

	emit := func(events []Event) {
		mu.Lock()
		received = events
		mu.Unlock()
	}

	b := NewBatchDebouncer(50*time.Millisecond, emit)

	b.Add(Event{Type: EventCreate, Path: "file1.go"})
	b.Add(Event{Type: EventModify, Path: "file2.go"})
	b.Add(Event{Type: EventDelete, Path: "file3.go"})

	if b.EventCount() != 3 {
		t.Errorf("EventCount() = %d, want 3", b.EventCount())
	}

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	if len(received) != 3 {
		t.Errorf("Should have received 3 events, got %d", len(received))
	}
	mu.Unlock()
}

func TestBatchDebouncerCancel(t *testing.T) {
	var called bool
	var mu sync.Mutex

	emit := func(events []Event) {
		mu.Lock()
		called = true
		mu.Unlock()
	}

	b := NewBatchDebouncer(50*time.Millisecond, emit)
	b.Add(Event{Type: EventCreate, Path: "file.go"})
	b.Cancel()

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	if called {
		t.Error("Emit should not be called after cancel")
	}
	mu.Unlock()

	if b.EventCount() != 0 {
		t.Errorf("EventCount() = %d, want 0 after cancel", b.EventCount())
	}
}

func TestBatchDebouncerFlush(t *testing.T) {
	var received []Event
	var mu sync.Mutex

	emit := func(events []Event) {
		mu.Lock()
		received = events
		mu.Unlock()
	}

	b := NewBatchDebouncer(500*time.Millisecond, emit)
	b.Add(Event{Type: EventCreate, Path: "file.go"})
	b.Flush()

	mu.Lock()
	if len(received) != 1 {
		t.Errorf("Should have received 1 event, got %d", len(received))
	}
	mu.Unlock()

	if b.EventCount() != 0 {
		t.Errorf("EventCount() = %d, want 0 after flush", b.EventCount())
	}
}
