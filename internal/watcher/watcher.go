// Package watcher provides recursive filesystem watching with debouncing,
// so the indexer can be driven incrementally instead of by periodic full
// re-scans.
package watcher

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/InfraWhisperer/focal/internal/logging"
)

// EventType represents the type of file system event.
type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
	EventRename
)

// Event represents a file system event for a single path.
type Event struct {
	Type      EventType
	Path      string
	Timestamp time.Time
}

// String returns a string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	case EventRename:
		return "rename"
	default:
		return "unknown"
	}
}

// ChangeHandler is called with a repository root and the batch of debounced
// events under it.
type ChangeHandler func(repoPath string, events []Event)

// Config contains watcher configuration.
type Config struct {
	Enabled        bool     `json:"enabled" mapstructure:"enabled"`
	DebounceMs     int      `json:"debounceMs" mapstructure:"debounce_ms"`
	IgnorePatterns []string `json:"ignorePatterns" mapstructure:"ignore_patterns"`
}

// DefaultConfig returns the default watcher configuration: a 500ms debounce
// window, matching this spec's watcher invariant.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		DebounceMs: 500,
		IgnorePatterns: []string{
			"*.log",
			"*.tmp",
			"node_modules/**",
			".git/**",
			"vendor/**",
			"target/**",
			"dist/**",
			"__pycache__/**",
		},
	}
}

// Watcher watches one or more repository roots for file changes, using the
// platform-native backend through fsnotify, recursively adding subdirectories
// as they are discovered (fsnotify itself only watches one directory level).
type Watcher struct {
	config  Config
	logger  *logging.Logger
	handler ChangeHandler

	fsWatcher *fsnotify.Watcher

	mu         sync.RWMutex
	roots      []string // sorted longest-first, for prefix matching
	debouncers map[string]*BatchDebouncer

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a new file system watcher. Call Start to begin receiving
// events and WatchRepo to add roots.
func New(config Config, logger *logging.Logger, handler ChangeHandler) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		config:     config,
		logger:     logger,
		handler:    handler,
		fsWatcher:  fsWatcher,
		debouncers: make(map[string]*BatchDebouncer),
		stopCh:     make(chan struct{}),
	}, nil
}

// Start begins the event loop. Must be called after any initial WatchRepo
// calls so the first batch of directories is already registered.
func (w *Watcher) Start() error {
	if !w.config.Enabled {
		w.logger.Info("file watcher is disabled", nil)
		return nil
	}

	w.logger.Info("starting file watcher", map[string]interface{}{
		"debounceMs": w.config.DebounceMs,
	})

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop stops watching and blocks until the event loop has exited.
func (w *Watcher) Stop() error {
	w.logger.Info("stopping file watcher", nil)
	close(w.stopCh)
	w.wg.Wait()

	w.mu.Lock()
	for _, d := range w.debouncers {
		d.Cancel()
	}
	w.mu.Unlock()

	err := w.fsWatcher.Close()
	w.logger.Info("file watcher stopped", nil)
	return err
}

// WatchRepo adds repoPath and all of its non-ignored subdirectories to the
// watch set.
func (w *Watcher) WatchRepo(repoPath string) error {
	absPath, err := filepath.Abs(repoPath)
	if err != nil {
		return err
	}

	w.mu.Lock()
	if _, exists := w.debouncers[absPath]; exists {
		w.mu.Unlock()
		return nil
	}
	w.debouncers[absPath] = NewBatchDebouncer(
		time.Duration(w.config.DebounceMs)*time.Millisecond,
		func(events []Event) { w.emit(absPath, events) },
	)
	w.roots = append(w.roots, absPath)
	sort.Slice(w.roots, func(i, j int) bool { return len(w.roots[i]) > len(w.roots[j]) })
	w.mu.Unlock()

	return filepath.WalkDir(absPath, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != absPath && w.IsIgnored(path) {
			return filepath.SkipDir
		}
		if err := w.fsWatcher.Add(path); err != nil {
			w.logger.Debug("failed to watch directory", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
		}
		return nil
	})
}

// UnwatchRepo stops watching a repository root.
func (w *Watcher) UnwatchRepo(repoPath string) {
	absPath, err := filepath.Abs(repoPath)
	if err != nil {
		return
	}

	w.mu.Lock()
	if d, exists := w.debouncers[absPath]; exists {
		d.Cancel()
		delete(w.debouncers, absPath)
	}
	filtered := w.roots[:0]
	for _, r := range w.roots {
		if r != absPath {
			filtered = append(filtered, r)
		}
	}
	w.roots = filtered
	w.mu.Unlock()

	w.logger.Info("stopped watching repository", map[string]interface{}{"path": absPath})
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", map[string]interface{}{"error": err.Error()})
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) handleFSEvent(fsEvent fsnotify.Event) {
	if w.IsIgnored(fsEvent.Name) {
		return
	}

	// A newly created directory needs to be watched recursively too, so
	// later file creates inside it are not missed.
	if fsEvent.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(fsEvent.Name); err == nil && info.IsDir() {
			_ = w.fsWatcher.Add(fsEvent.Name)
		}
	}

	root, ok := w.rootFor(fsEvent.Name)
	if !ok {
		return
	}

	event := Event{
		Type:      eventTypeFromOp(fsEvent.Op),
		Path:      fsEvent.Name,
		Timestamp: time.Now(),
	}

	w.mu.RLock()
	debouncer := w.debouncers[root]
	w.mu.RUnlock()
	if debouncer != nil {
		debouncer.Add(event)
	}
}

func eventTypeFromOp(op fsnotify.Op) EventType {
	switch {
	case op&fsnotify.Create == fsnotify.Create:
		return EventCreate
	case op&fsnotify.Remove == fsnotify.Remove:
		return EventDelete
	case op&fsnotify.Rename == fsnotify.Rename:
		return EventRename
	default:
		return EventModify
	}
}

// rootFor returns the most specific watched root containing path.
func (w *Watcher) rootFor(path string) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, root := range w.roots { // sorted longest-first
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return root, true
		}
	}
	return "", false
}

func (w *Watcher) emit(repoPath string, events []Event) {
	w.logger.Debug("changes detected", map[string]interface{}{
		"repoPath":   repoPath,
		"eventCount": len(events),
	})
	if w.handler != nil {
		w.handler(repoPath, events)
	}
}

// IsIgnored checks if a path matches any configured ignore pattern.
func (w *Watcher) IsIgnored(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range w.config.IgnorePatterns {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
		if strings.Contains(pattern, "**") {
			parts := strings.SplitN(pattern, "**", 2)
			prefix := strings.TrimSuffix(parts[0], "/")
			suffix := ""
			if len(parts) > 1 {
				suffix = strings.TrimPrefix(parts[1], "/")
			}
			if strings.Contains(path, prefix) && (suffix == "" || strings.HasSuffix(path, suffix)) {
				return true
			}
		}
	}
	return false
}

// WatchedRepos returns the list of watched repository roots.
func (w *Watcher) WatchedRepos() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, len(w.roots))
	copy(out, w.roots)
	return out
}

// Stats returns watcher statistics.
func (w *Watcher) Stats() map[string]interface{} {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return map[string]interface{}{
		"enabled":        w.config.Enabled,
		"watchedRepos":   len(w.roots),
		"debounceMs":     w.config.DebounceMs,
		"ignorePatterns": len(w.config.IgnorePatterns),
	}
}
