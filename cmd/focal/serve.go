package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/InfraWhisperer/focal/internal/config"
	ctxengine "github.com/InfraWhisperer/focal/internal/context"
	"github.com/InfraWhisperer/focal/internal/grammar"
	"github.com/InfraWhisperer/focal/internal/graph"
	"github.com/InfraWhisperer/focal/internal/indexer"
	"github.com/InfraWhisperer/focal/internal/logging"
	"github.com/InfraWhisperer/focal/internal/mcp"
	"github.com/InfraWhisperer/focal/internal/storage"
	"github.com/InfraWhisperer/focal/internal/version"
	"github.com/InfraWhisperer/focal/internal/watcher"

	"github.com/spf13/cobra"
)

// runFocal is the root command's entry point: it opens the shared database,
// runs an initial full index over every given root, starts the filesystem
// watcher on each, and then serves the tool protocol over stdio or HTTP.
func runFocal(cmd *cobra.Command, args []string) error {
	logger := newCLILogger()

	roots := make([]string, 0, len(args))
	for _, root := range args {
		abs, err := filepath.Abs(root)
		if err != nil {
			fatalf(logger, "cannot resolve root %q: %v", root, err)
		}
		info, err := os.Stat(abs)
		if err != nil || !info.IsDir() {
			fatalf(logger, "root %q is not a readable directory", root)
		}
		roots = append(roots, abs)
	}

	cfg, err := config.Load()
	if err != nil {
		fatalf(logger, "failed to load configuration: %v", err)
	}

	db, err := storage.Open(logger)
	if err != nil {
		fatalf(logger, "failed to open index database: %v", err)
	}
	defer db.Close()

	if purged, err := db.CleanupOldAutoObservations(90); err != nil {
		logger.Warn("failed to purge old auto-observations", map[string]interface{}{"error": err.Error()})
	} else if purged > 0 {
		logger.Info("purged old auto-observations", map[string]interface{}{"count": purged})
	}

	registry := grammar.NewRegistry()
	ix := indexer.New(db, registry).
		WithExcludes(cfg.Indexer.ExcludePatterns).
		WithMaxFileSize(cfg.Indexer.MaxFileSizeBytes)
	ctxEng := ctxengine.New(db)
	graphEng := graph.New(db)

	for _, root := range roots {
		name := filepath.Base(root)
		if _, err := db.UpsertRepository(name, root); err != nil {
			fatalf(logger, "failed to register repository %q: %v", root, err)
		}

		logger.Info("indexing repository", map[string]interface{}{"root": root})
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		stats, err := ix.IndexDirectory(ctx, root)
		cancel()
		if err != nil {
			logger.Error("initial indexing failed", map[string]interface{}{
				"root":  root,
				"error": err.Error(),
			})
			continue
		}
		logger.Info("indexing complete", map[string]interface{}{
			"root":              root,
			"files_indexed":     stats.FilesIndexed,
			"files_skipped":     stats.FilesSkipped,
			"symbols_extracted": stats.SymbolsExtracted,
			"edges_created":     stats.EdgesCreated,
			"errors":            stats.Errors,
		})
	}

	w, err := startWatcher(ix, roots, cfg.Watcher, logger)
	if err != nil {
		logger.Warn("filesystem watcher unavailable, continuing without live reindexing", map[string]interface{}{
			"error": err.Error(),
		})
		w = nil
	}
	if w != nil {
		defer func() { _ = w.Stop() }()
	}

	server := mcp.NewMCPServer(version.Version, db, ix, ctxEng, graphEng, w, logger)

	if httpFlag {
		return serveHTTP(cmd, server, cfg, logger)
	}
	return serveStdio(server, logger)
}

// startWatcher wires the filesystem watcher's change events back into the
// indexer: a create/modify event reindexes the file, a delete removes it.
// A disabled watcher config (§4.D) is honored by simply not starting one.
func startWatcher(ix *indexer.Indexer, roots []string, cfg config.WatcherConfig, logger *logging.Logger) (*watcher.Watcher, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	handler := func(repoPath string, events []watcher.Event) {
		ctx := context.Background()
		for _, ev := range events {
			var err error
			switch ev.Type {
			case watcher.EventDelete:
				_, err = ix.RemoveDeletedFile(ev.Path, repoPath)
			default:
				_, err = ix.IndexFile(ctx, ev.Path, repoPath)
			}
			if err != nil {
				logger.Warn("incremental reindex failed", map[string]interface{}{
					"path":  ev.Path,
					"error": err.Error(),
				})
			}
		}
	}

	watcherCfg := watcher.Config{
		Enabled:        cfg.Enabled,
		DebounceMs:     cfg.DebounceMs,
		IgnorePatterns: cfg.IgnorePatterns,
	}
	w, err := watcher.New(watcherCfg, logger, handler)
	if err != nil {
		return nil, err
	}
	if err := w.Start(); err != nil {
		return nil, err
	}
	for _, root := range roots {
		if err := w.WatchRepo(root); err != nil {
			logger.Warn("failed to watch repository", map[string]interface{}{
				"root":  root,
				"error": err.Error(),
			})
		}
	}
	return w, nil
}

// serveStdio runs the MCP server over stdio until EOF or a fatal error.
func serveStdio(server *mcp.MCPServer, logger *logging.Logger) error {
	if err := server.Start(); err != nil {
		logger.Error("MCP server error", map[string]interface{}{"error": err.Error()})
		return err
	}
	return nil
}

// serveHTTP runs the MCP server over HTTP, with graceful shutdown on
// SIGINT/SIGTERM. --port always wins; its flag default matches the
// configured default so a config-only override still takes effect whenever
// --port is left unset.
func serveHTTP(cmd *cobra.Command, server *mcp.MCPServer, cfg *config.Config, logger *logging.Logger) error {
	port := portFlag
	if !cmd.Flags().Changed("port") && cfg.Server.HTTPPort != 0 {
		port = cfg.Server.HTTPPort
	}
	addr := fmt.Sprintf("localhost:%d", port)
	httpServer := mcp.NewHTTPServer(addr, server)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("focal HTTP server listening", map[string]interface{}{"addr": addr})
		fmt.Printf("focal HTTP server listening on http://%s/mcp\n", addr)
		serverErr <- httpServer.Start()
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server error", map[string]interface{}{"error": err.Error()})
			return err
		}
	case sig := <-shutdown:
		logger.Info("received shutdown signal", map[string]interface{}{"signal": sig.String()})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("error during shutdown", map[string]interface{}{"error": err.Error()})
			return err
		}
		logger.Info("server stopped gracefully", nil)
	}

	return nil
}
