package storage

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// Symbol is a single parsed code symbol (function, method, type, ...).
type Symbol struct {
	ID        int64
	FileID    int64
	Name      string
	Kind      string
	Signature string
	Body      string
	BodyHash  string
	StartLine int64
	EndLine   int64
	ParentID  sql.NullInt64
}

// InsertSymbol inserts a symbol row and its symbols_fts row in the same
// transaction, satisfying the invariant that symbol content and its FTS
// index are never allowed to drift apart.
func (db *DB) InsertSymbol(fileID int64, name, kind, signature, body, bodyHash string, startLine, endLine int64, parentID *int64) (int64, error) {
	var id int64
	err := db.WithTx(func(tx *sql.Tx) error {
		var err error
		id, err = db.InsertSymbolTx(tx, fileID, name, kind, signature, body, bodyHash, startLine, endLine, parentID)
		return err
	})
	return id, err
}

// InsertSymbolTx is InsertSymbol's transaction-scoped counterpart, called
// directly by the indexer so every symbol in a re-indexed file is inserted
// inside the same transaction as the file's deletes and memory relinking.
func (db *DB) InsertSymbolTx(tx *sql.Tx, fileID int64, name, kind, signature, body, bodyHash string, startLine, endLine int64, parentID *int64) (int64, error) {
	var pid sql.NullInt64
	if parentID != nil {
		pid = sql.NullInt64{Int64: *parentID, Valid: true}
	}

	res, err := tx.Exec(`
		INSERT INTO symbols (file_id, name, kind, signature, body, body_hash, start_line, end_line, parent_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, fileID, name, kind, signature, body, bodyHash, startLine, endLine, pid)
	if err != nil {
		return 0, fmt.Errorf("failed to insert symbol: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if _, err := tx.Exec(`
		INSERT INTO symbols_fts(rowid, name, signature, body) VALUES (?, ?, ?, ?)
	`, id, name, signature, body); err != nil {
		return 0, fmt.Errorf("failed to insert symbols_fts row: %w", err)
	}
	return id, nil
}

// GetSymbolsByFile returns every symbol declared in a file, in source order.
func (db *DB) GetSymbolsByFile(fileID int64) ([]Symbol, error) {
	rows, err := db.Query(`
		SELECT id, file_id, name, kind, signature, body, body_hash, start_line, end_line, parent_id
		FROM symbols WHERE file_id = ? ORDER BY start_line
	`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSymbols(rows)
}

// GetSymbolsByFileTx is GetSymbolsByFile's transaction-scoped counterpart,
// used by the indexer to read a file's freshly re-inserted symbols as part
// of the same transaction that inserted them.
func (db *DB) GetSymbolsByFileTx(tx *sql.Tx, fileID int64) ([]Symbol, error) {
	rows, err := tx.Query(`
		SELECT id, file_id, name, kind, signature, body, body_hash, start_line, end_line, parent_id
		FROM symbols WHERE file_id = ? ORDER BY start_line
	`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSymbols(rows)
}

// DeleteSymbolsByFile removes every symbol in a file, along with the
// matching symbols_fts rows, inside a single transaction.
func (db *DB) DeleteSymbolsByFile(fileID int64) (int64, error) {
	var count int64
	err := db.WithTx(func(tx *sql.Tx) error {
		n, err := db.DeleteSymbolsByFileTx(tx, fileID)
		count = n
		return err
	})
	return count, err
}

// DeleteSymbolsByFileTx is DeleteSymbolsByFile's transaction-scoped
// counterpart, called directly by the indexer as part of a file's atomic
// re-index.
func (db *DB) DeleteSymbolsByFileTx(tx *sql.Tx, fileID int64) (int64, error) {
	if _, err := tx.Exec(`
		DELETE FROM symbols_fts WHERE rowid IN (SELECT id FROM symbols WHERE file_id = ?)
	`, fileID); err != nil {
		return 0, fmt.Errorf("failed to delete symbols_fts rows: %w", err)
	}
	res, err := tx.Exec(`DELETE FROM symbols WHERE file_id = ?`, fileID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete symbols: %w", err)
	}
	return res.RowsAffected()
}

// GetSymbolByID returns a single symbol by its primary key, or nil if it
// does not exist.
func (db *DB) GetSymbolByID(id int64) (*Symbol, error) {
	row := db.QueryRow(`
		SELECT id, file_id, name, kind, signature, body, body_hash, start_line, end_line, parent_id
		FROM symbols WHERE id = ?
	`, id)
	return scanOneSymbol(row)
}

// FindSymbolByName returns the first symbol with an exact name match
// within a repository.
func (db *DB) FindSymbolByName(repoID int64, name string) (*Symbol, error) {
	row := db.QueryRow(`
		SELECT s.id, s.file_id, s.name, s.kind, s.signature, s.body, s.body_hash, s.start_line, s.end_line, s.parent_id
		FROM symbols s
		JOIN files f ON f.id = s.file_id
		WHERE f.repo_id = ? AND s.name = ?
		LIMIT 1
	`, repoID, name)
	return scanOneSymbol(row)
}

// FindSymbolByNameAny searches for a symbol by name across all
// repositories, used when a tool call omits a repo scope.
func (db *DB) FindSymbolByNameAny(name string) (*Symbol, error) {
	row := db.QueryRow(`
		SELECT id, file_id, name, kind, signature, body, body_hash, start_line, end_line, parent_id
		FROM symbols WHERE name = ? ORDER BY id LIMIT 1
	`, name)
	return scanOneSymbol(row)
}

// GetAllSymbolNamesForRepo builds a name -> symbol id map for a repository,
// preferring functions and methods over types when a name is ambiguous, and
// adding unqualified aliases for "Type.Method"-style qualified names.
func (db *DB) GetAllSymbolNamesForRepo(repoID int64) (map[string]int64, error) {
	rows, err := db.Query(`
		SELECT s.id, s.name, s.kind FROM symbols s
		JOIN files f ON f.id = s.file_id
		WHERE f.repo_id = ?
		ORDER BY CASE s.kind WHEN 'function' THEN 0 WHEN 'method' THEN 1 ELSE 2 END
	`, repoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSymbolNameMap(rows)
}

// GetAllSymbolNamesForRepoTx is GetAllSymbolNamesForRepo's transaction-scoped
// counterpart, used by the indexer to resolve a re-indexed file's references
// against the rest of the repository inside the same transaction that
// rewrote the file's own symbols.
func (db *DB) GetAllSymbolNamesForRepoTx(tx *sql.Tx, repoID int64) (map[string]int64, error) {
	rows, err := tx.Query(`
		SELECT s.id, s.name, s.kind FROM symbols s
		JOIN files f ON f.id = s.file_id
		WHERE f.repo_id = ?
		ORDER BY CASE s.kind WHEN 'function' THEN 0 WHEN 'method' THEN 1 ELSE 2 END
	`, repoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSymbolNameMap(rows)
}

func scanSymbolNameMap(rows *sql.Rows) (map[string]int64, error) {
	names := make(map[string]int64)
	for rows.Next() {
		var id int64
		var name, kind string
		if err := rows.Scan(&id, &name, &kind); err != nil {
			return nil, err
		}
		if _, exists := names[name]; !exists {
			names[name] = id
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	aliases := make(map[string]int64)
	for name, id := range names {
		if pos := strings.LastIndex(name, "."); pos >= 0 {
			short := name[pos+1:]
			if _, exists := names[short]; !exists {
				aliases[short] = id
			}
		}
	}
	for short, id := range aliases {
		names[short] = id
	}

	return names, nil
}

// SymbolFilter narrows a QuerySymbolsFull call; empty/zero fields are skipped.
type SymbolFilter struct {
	Name     string
	Kind     string
	RepoName string
	RepoID   int64
}

// SymbolResult is a symbol enriched with the file/repo it lives in.
type SymbolResult struct {
	Symbol
	FilePath string
	RepoName string
}

// QuerySymbolsFull runs a filtered, joined symbol search, capped at 200
// rows, used by the context engine's substring pivot fallback.
func (db *DB) QuerySymbolsFull(filter SymbolFilter) ([]SymbolResult, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT s.id, s.file_id, s.name, s.kind, s.signature, s.body, s.body_hash,
		       s.start_line, s.end_line, s.parent_id, f.path, r.name
		FROM symbols s
		JOIN files f ON f.id = s.file_id
		JOIN repositories r ON r.id = f.repo_id
		WHERE 1=1
	`)
	var args []interface{}

	if filter.Name != "" {
		sb.WriteString(" AND s.name LIKE ?")
		args = append(args, "%"+filter.Name+"%")
	}
	if filter.Kind != "" {
		sb.WriteString(" AND s.kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.RepoName != "" {
		sb.WriteString(" AND r.name = ?")
		args = append(args, filter.RepoName)
	}
	if filter.RepoID != 0 {
		sb.WriteString(" AND r.id = ?")
		args = append(args, filter.RepoID)
	}
	sb.WriteString(" ORDER BY s.name LIMIT 200")

	rows, err := db.Query(sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SymbolResult
	for rows.Next() {
		var r SymbolResult
		if err := rows.Scan(&r.ID, &r.FileID, &r.Name, &r.Kind, &r.Signature, &r.Body, &r.BodyHash,
			&r.StartLine, &r.EndLine, &r.ParentID, &r.FilePath, &r.RepoName); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, rows.Err()
}

func scanSymbols(rows *sql.Rows) ([]Symbol, error) {
	var out []Symbol
	for rows.Next() {
		var s Symbol
		if err := rows.Scan(&s.ID, &s.FileID, &s.Name, &s.Kind, &s.Signature, &s.Body, &s.BodyHash,
			&s.StartLine, &s.EndLine, &s.ParentID); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanOneSymbol(row *sql.Row) (*Symbol, error) {
	var s Symbol
	err := row.Scan(&s.ID, &s.FileID, &s.Name, &s.Kind, &s.Signature, &s.Body, &s.BodyHash,
		&s.StartLine, &s.EndLine, &s.ParentID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}
