package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/InfraWhisperer/focal/internal/logging"
)

// DB represents a database connection with transaction helpers
type DB struct {
	conn   *sql.DB
	logger *logging.Logger
	dbPath string

	// writeMu is the process-wide exclusive write lock: every mutating
	// operation (Exec, WithTx) holds it for its whole duration, so the
	// indexer's file re-index, the watcher's incremental updates, and the
	// tool dispatcher's memory writes never interleave. Reads are not
	// serialized by it - SQLite's WAL mode lets readers proceed against the
	// last committed snapshot while a writer holds the lock.
	writeMu sync.Mutex
}

// Open opens or creates the single global database at <home>/.focal/index.db.
// Every configured repository root becomes a row in the repositories table
// within this one database file; there is no per-repo database.
func Open(logger *logging.Logger) (*DB, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve home directory: %w", err)
	}

	focalDir := filepath.Join(home, ".focal")
	if err := os.MkdirAll(focalDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create .focal directory: %w", err)
	}

	return OpenAt(filepath.Join(focalDir, "index.db"), logger)
}

// OpenAt opens or creates a database at an explicit path, bypassing the
// <home>/.focal convention. Exercised directly by package tests, which pass
// ":memory:" or a t.TempDir() path to stay hermetic.
func OpenAt(dbPath string, logger *logging.Logger) (*DB, error) {
	// Check if database needs to be created
	dbExists := dbPath != ":memory:" && fileExists(dbPath)

	// Open database connection
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set pragmas for performance and reliability
	pragmas := []string{
		"PRAGMA journal_mode=WAL",    // Write-Ahead Logging for better concurrency
		"PRAGMA synchronous=NORMAL",  // Balance between safety and performance
		"PRAGMA foreign_keys=ON",     // Enable foreign key constraints
		"PRAGMA busy_timeout=5000",   // Wait up to 5 seconds on lock
		"PRAGMA cache_size=-64000",   // 64MB cache
		"PRAGMA temp_store=MEMORY",   // Use memory for temp tables
		"PRAGMA mmap_size=268435456", // 256MB mmap
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	db := &DB{
		conn:   conn,
		logger: logger,
		dbPath: dbPath,
	}

	// Initialize schema if database is new
	if !dbExists {
		logger.Info("Creating new database", map[string]interface{}{
			"path": dbPath,
		})
		if err := db.initializeSchema(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	} else {
		// Run migrations on existing database
		logger.Debug("Running database migrations", map[string]interface{}{
			"path": dbPath,
		})
		if err := db.runMigrations(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Conn returns the underlying sql.DB connection
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// BeginTx starts a new transaction
func (db *DB) BeginTx() (*sql.Tx, error) {
	return db.conn.Begin()
}

// WithTx executes a function within a transaction, holding the process-wide
// write lock for the whole transaction so no other mutating call - on this
// DB handle, from any goroutine - can interleave with it.
// If the function returns an error, the transaction is rolled back
// Otherwise, the transaction is committed
func (db *DB) WithTx(fn func(*sql.Tx) error) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.BeginTx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p) // Re-throw panic after rollback
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error("failed to rollback transaction", map[string]interface{}{
				"error":          err.Error(),
				"rollback_error": rbErr.Error(),
			})
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Exec executes a single-statement mutation under the process-wide write
// lock. Multi-statement mutations that must commit atomically use WithTx
// instead, which holds the same lock for their whole duration.
func (db *DB) Exec(query string, args ...interface{}) (sql.Result, error) {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	return db.conn.Exec(query, args...)
}

// Query executes a query that returns rows
func (db *DB) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return db.conn.Query(query, args...)
}

// QueryRow executes a query that returns at most one row
func (db *DB) QueryRow(query string, args ...interface{}) *sql.Row {
	return db.conn.QueryRow(query, args...)
}

// HealthReport is the result of a database integrity check, surfaced by
// the get_health tool.
type HealthReport struct {
	OK             bool
	IntegrityError string
	FTSConsistent  bool
	RepoCount      int64
	FileCount      int64
	SymbolCount    int64
	MemoryCount    int64
	DBPath         string
}

// CheckHealth runs SQLite's integrity_check, cross-checks the symbols_fts
// row count against symbols, and gathers row counts for get_health.
func (db *DB) CheckHealth() (*HealthReport, error) {
	report := &HealthReport{DBPath: db.dbPath}

	var integrityResult string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&integrityResult); err != nil {
		return nil, fmt.Errorf("failed to run integrity_check: %w", err)
	}
	report.OK = integrityResult == "ok"
	if !report.OK {
		report.IntegrityError = integrityResult
	}

	var symbolCount, ftsCount int64
	if err := db.QueryRow("SELECT COUNT(*) FROM symbols").Scan(&symbolCount); err != nil {
		return nil, err
	}
	if err := db.QueryRow("SELECT COUNT(*) FROM symbols_fts").Scan(&ftsCount); err != nil {
		return nil, err
	}
	report.FTSConsistent = symbolCount == ftsCount
	report.SymbolCount = symbolCount

	if err := db.QueryRow("SELECT COUNT(*) FROM repositories").Scan(&report.RepoCount); err != nil {
		return nil, err
	}
	if err := db.QueryRow("SELECT COUNT(*) FROM files").Scan(&report.FileCount); err != nil {
		return nil, err
	}
	if err := db.QueryRow("SELECT COUNT(*) FROM memories").Scan(&report.MemoryCount); err != nil {
		return nil, err
	}

	if !report.FTSConsistent {
		report.OK = false
	}

	return report, nil
}

// fileExists checks if a file exists
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
