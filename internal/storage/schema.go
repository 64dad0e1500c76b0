package storage

import (
	"database/sql"
	"fmt"
)

// initializeSchema creates all tables for a new database.
func (db *DB) initializeSchema() error {
	return db.WithTx(func(tx *sql.Tx) error {
		if err := createRepositoriesTable(tx); err != nil {
			return err
		}
		if err := createFilesTable(tx); err != nil {
			return err
		}
		if err := createSymbolsTable(tx); err != nil {
			return err
		}
		if err := createEdgesTable(tx); err != nil {
			return err
		}
		if err := createMemoriesTable(tx); err != nil {
			return err
		}
		if err := createMemorySymbolsTable(tx); err != nil {
			return err
		}
		if err := createSymbolsFTSTable(tx); err != nil {
			return err
		}
		if err := createMemoriesFTSTable(tx); err != nil {
			return err
		}

		db.logger.Info("database schema initialized", map[string]interface{}{})
		return nil
	})
}

// runMigrations applies additive schema changes to an existing database.
//
// Migrations are idempotent column-presence probes, not a version counter:
// each candidate column is checked with a throwaway SELECT, and added only
// if the probe fails. This lets an older database pick up new columns
// without ever needing a downgrade path.
func (db *DB) runMigrations() error {
	return db.WithTx(func(tx *sql.Tx) error {
		if err := ensureTablesExist(tx); err != nil {
			return err
		}
		// Future additive columns are probed and added here, e.g.:
		// if !hasColumn(tx, "symbols", "doc_comment") {
		//     if _, err := tx.Exec(`ALTER TABLE symbols ADD COLUMN doc_comment TEXT DEFAULT ''`); err != nil {
		//         return err
		//     }
		// }
		return nil
	})
}

// ensureTablesExist creates any base table missing from an older database.
// CREATE TABLE IF NOT EXISTS is itself idempotent, so this just re-runs the
// full set of creators; present tables are left untouched.
func ensureTablesExist(tx *sql.Tx) error {
	creators := []func(*sql.Tx) error{
		createRepositoriesTable,
		createFilesTable,
		createSymbolsTable,
		createEdgesTable,
		createMemoriesTable,
		createMemorySymbolsTable,
		createSymbolsFTSTable,
		createMemoriesFTSTable,
	}
	for _, create := range creators {
		if err := create(tx); err != nil {
			return err
		}
	}
	return nil
}

// hasColumn probes for a column's existence without touching sqlite_master,
// since PRAGMA table_info result sets vary in driver support; a LIMIT 0
// SELECT is the most portable presence check across sqlite drivers.
func hasColumn(tx *sql.Tx, table, column string) bool {
	_, err := tx.Exec(fmt.Sprintf("SELECT %s FROM %s LIMIT 0", column, table))
	return err == nil
}

func createRepositoriesTable(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS repositories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			root_path TEXT NOT NULL UNIQUE,
			indexed_at TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to create repositories table: %w", err)
	}
	return nil
}

func createFilesTable(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS files (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			repo_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
			path TEXT NOT NULL,
			language TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			indexed_at TEXT NOT NULL,
			UNIQUE(repo_id, path)
		)
	`); err != nil {
		return fmt.Errorf("failed to create files table: %w", err)
	}
	if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_files_repo_id ON files(repo_id)`); err != nil {
		return fmt.Errorf("failed to create files index: %w", err)
	}
	return nil
}

func createSymbolsTable(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS symbols (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			file_id INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			signature TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			body_hash TEXT NOT NULL DEFAULT '',
			start_line INTEGER NOT NULL,
			end_line INTEGER NOT NULL,
			parent_id INTEGER REFERENCES symbols(id) ON DELETE CASCADE
		)
	`); err != nil {
		return fmt.Errorf("failed to create symbols table: %w", err)
	}
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_symbols_file_id_name ON symbols(file_id, name)",
		"CREATE INDEX IF NOT EXISTS idx_symbols_kind_name ON symbols(kind, name)",
		"CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name)",
	}
	for _, stmt := range indexes {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create symbols index: %w", err)
		}
	}
	return nil
}

func createEdgesTable(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS edges (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_id INTEGER NOT NULL REFERENCES symbols(id) ON DELETE CASCADE,
			target_id INTEGER NOT NULL REFERENCES symbols(id) ON DELETE CASCADE,
			kind TEXT NOT NULL,
			UNIQUE(source_id, target_id, kind)
		)
	`); err != nil {
		return fmt.Errorf("failed to create edges table: %w", err)
	}
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_edges_source_id ON edges(source_id)",
		"CREATE INDEX IF NOT EXISTS idx_edges_target_id ON edges(target_id)",
	}
	for _, stmt := range indexes {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create edges index: %w", err)
		}
	}
	return nil
}

func createMemoriesTable(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			content TEXT NOT NULL,
			category TEXT NOT NULL,
			source TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			stale INTEGER NOT NULL DEFAULT 0,
			needs_review INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		return fmt.Errorf("failed to create memories table: %w", err)
	}
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_memories_category ON memories(category)",
		"CREATE INDEX IF NOT EXISTS idx_memories_session_id ON memories(session_id)",
		"CREATE INDEX IF NOT EXISTS idx_memories_source ON memories(source)",
	}
	for _, stmt := range indexes {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create memories index: %w", err)
		}
	}
	return nil
}

func createMemorySymbolsTable(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS memory_symbols (
			memory_id INTEGER NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
			symbol_id INTEGER NOT NULL REFERENCES symbols(id) ON DELETE CASCADE,
			symbol_name TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (memory_id, symbol_id)
		)
	`); err != nil {
		return fmt.Errorf("failed to create memory_symbols table: %w", err)
	}
	if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_memory_symbols_symbol_id ON memory_symbols(symbol_id)`); err != nil {
		return fmt.Errorf("failed to create memory_symbols index: %w", err)
	}
	return nil
}

// createSymbolsFTSTable creates an external-content FTS5 table over symbols.
//
// Deliberately NOT a shadow content table with triggers: content=symbols
// ties the FTS index directly to the base table's rowid space, and every
// insert/delete against symbols_fts is issued inline, in the same function
// and the same transaction, as the corresponding symbols mutation.
func createSymbolsFTSTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS symbols_fts USING fts5(
			name, signature, body,
			content='symbols',
			content_rowid='id'
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create symbols_fts table: %w", err)
	}
	return nil
}

func createMemoriesFTSTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
			content, category,
			content='memories',
			content_rowid='id'
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create memories_fts table: %w", err)
	}
	return nil
}
