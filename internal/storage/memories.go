package storage

import (
	"database/sql"
	"fmt"
)

// Memory is a single stored note: a manual decision/gotcha/preference, or
// an auto-observation recorded by the indexer or a session.
type Memory struct {
	ID          int64
	Content     string
	Category    string
	Source      string
	SessionID   string
	CreatedAt   string
	Stale       bool
	NeedsReview bool
}

// SaveMemory inserts a manual memory and links it to the given symbols, in
// one transaction alongside the memories_fts row.
func (db *DB) SaveMemory(content, category string, symbolIDs []int64) (int64, error) {
	var id int64
	err := db.WithTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			INSERT INTO memories (content, category, source, session_id, created_at)
			VALUES (?, ?, 'manual', '', datetime('now'))
		`, content, category)
		if err != nil {
			return fmt.Errorf("failed to insert memory: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`
			INSERT INTO memories_fts(rowid, content, category) VALUES (?, ?, ?)
		`, id, content, category); err != nil {
			return fmt.Errorf("failed to insert memories_fts row: %w", err)
		}
		return linkMemorySymbolsTx(tx, id, symbolIDs)
	})
	return id, err
}

// SaveAutoObservation records or refreshes an automatic observation.
// Observations from the same source within the same session are
// deduplicated: a later call updates the existing row's content and
// timestamp rather than appending a new one.
func (db *DB) SaveAutoObservation(content, source, sessionID string, symbolIDs []int64) (int64, error) {
	var id int64
	err := db.WithTx(func(tx *sql.Tx) error {
		var existingID sql.NullInt64
		err := tx.QueryRow(`
			SELECT id FROM memories
			WHERE source = ? AND session_id = ? AND category = 'auto'
			ORDER BY created_at DESC LIMIT 1
		`, source, sessionID).Scan(&existingID)
		if err != nil && err != sql.ErrNoRows {
			return err
		}

		if existingID.Valid {
			id = existingID.Int64
			if _, err := tx.Exec(`
				UPDATE memories SET content = ?, created_at = datetime('now') WHERE id = ?
			`, content, id); err != nil {
				return err
			}
			if _, err := tx.Exec(`DELETE FROM memories_fts WHERE rowid = ?`, id); err != nil {
				return err
			}
			if _, err := tx.Exec(`
				INSERT INTO memories_fts(rowid, content, category) VALUES (?, ?, 'auto')
			`, id, content); err != nil {
				return err
			}
		} else {
			res, err := tx.Exec(`
				INSERT INTO memories (content, category, source, session_id, created_at)
				VALUES (?, 'auto', ?, ?, datetime('now'))
			`, content, source, sessionID)
			if err != nil {
				return err
			}
			id, err = res.LastInsertId()
			if err != nil {
				return err
			}
			if _, err := tx.Exec(`
				INSERT INTO memories_fts(rowid, content, category) VALUES (?, ?, 'auto')
			`, id, content); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(`DELETE FROM memory_symbols WHERE memory_id = ?`, id); err != nil {
			return err
		}
		return linkMemorySymbolsTx(tx, id, symbolIDs)
	})
	return id, err
}

func linkMemorySymbolsTx(tx *sql.Tx, memoryID int64, symbolIDs []int64) error {
	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO memory_symbols (memory_id, symbol_id, symbol_name)
		SELECT ?, id, name FROM symbols WHERE id = ?
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, sid := range symbolIDs {
		if _, err := stmt.Exec(memoryID, sid); err != nil {
			return err
		}
	}
	return nil
}

// MemoryFilter narrows a ListMemories call; empty/false fields are skipped.
type MemoryFilter struct {
	Category     string
	IncludeStale bool
	SymbolName   string
}

// ListMemories lists memories matching a filter, newest first.
func (db *DB) ListMemories(filter MemoryFilter) ([]Memory, error) {
	query := `SELECT DISTINCT m.id, m.content, m.category, m.source, m.session_id, m.created_at, m.stale, m.needs_review FROM memories m`
	var args []interface{}

	if filter.SymbolName != "" {
		query += ` JOIN memory_symbols ms ON ms.memory_id = m.id`
	}
	query += ` WHERE 1=1`

	if filter.Category != "" {
		query += ` AND m.category = ?`
		args = append(args, filter.Category)
	}
	if !filter.IncludeStale {
		query += ` AND m.stale = 0`
	}
	if filter.SymbolName != "" {
		query += ` AND ms.symbol_name = ?`
		args = append(args, filter.SymbolName)
	}
	query += ` ORDER BY m.created_at DESC`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMemories(rows)
}

// GetMemoriesForSymbol returns memories linked to a single symbol.
func (db *DB) GetMemoriesForSymbol(symbolID int64, includeStale bool) ([]Memory, error) {
	query := `
		SELECT m.id, m.content, m.category, m.source, m.session_id, m.created_at, m.stale, m.needs_review
		FROM memories m
		JOIN memory_symbols ms ON ms.memory_id = m.id
		WHERE ms.symbol_id = ?
	`
	if !includeStale {
		query += ` AND m.stale = 0`
	}
	query += ` ORDER BY m.created_at DESC`

	rows, err := db.Query(query, symbolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMemories(rows)
}

// GetMemoriesForSymbolsBatch loads memories for many symbols in one query,
// avoiding the N+1 pattern when a capsule includes dozens of symbols.
func (db *DB) GetMemoriesForSymbolsBatch(symbolIDs []int64, includeStale bool) (map[int64][]Memory, error) {
	result := make(map[int64][]Memory)
	if len(symbolIDs) == 0 {
		return result, nil
	}

	placeholders := make([]byte, 0, len(symbolIDs)*2)
	args := make([]interface{}, 0, len(symbolIDs))
	for i, id := range symbolIDs {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, id)
	}

	query := fmt.Sprintf(`
		SELECT ms.symbol_id, m.id, m.content, m.category, m.source, m.session_id, m.created_at, m.stale, m.needs_review
		FROM memories m
		JOIN memory_symbols ms ON ms.memory_id = m.id
		WHERE ms.symbol_id IN (%s)
	`, string(placeholders))
	if !includeStale {
		query += ` AND m.stale = 0`
	}
	query += ` ORDER BY m.created_at DESC`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var symID int64
		var m Memory
		var stale, needsReview int
		if err := rows.Scan(&symID, &m.ID, &m.Content, &m.Category, &m.Source, &m.SessionID, &m.CreatedAt, &stale, &needsReview); err != nil {
			return nil, err
		}
		m.Stale = stale != 0
		m.NeedsReview = needsReview != 0
		result[symID] = append(result[symID], m)
	}
	return result, rows.Err()
}

// GetMemoryByID fetches a single memory by id.
func (db *DB) GetMemoryByID(memoryID int64) (*Memory, error) {
	row := db.QueryRow(`
		SELECT id, content, category, source, session_id, created_at, stale, needs_review
		FROM memories WHERE id = ?
	`, memoryID)
	var m Memory
	var stale, needsReview int
	err := row.Scan(&m.ID, &m.Content, &m.Category, &m.Source, &m.SessionID, &m.CreatedAt, &stale, &needsReview)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.Stale = stale != 0
	m.NeedsReview = needsReview != 0
	return &m, nil
}

// GetSymbolIDsForMemory returns the symbols a memory is linked to.
func (db *DB) GetSymbolIDsForMemory(memoryID int64) ([]int64, error) {
	rows, err := db.Query(`SELECT symbol_id FROM memory_symbols WHERE memory_id = ?`, memoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// DeleteMemory deletes a memory and its memories_fts row (memory_symbols
// rows cascade via the foreign key).
func (db *DB) DeleteMemory(memoryID int64) (bool, error) {
	var deleted bool
	err := db.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM memories_fts WHERE rowid = ?`, memoryID); err != nil {
			return err
		}
		res, err := tx.Exec(`DELETE FROM memories WHERE id = ?`, memoryID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		deleted = n > 0
		return nil
	})
	return deleted, err
}

// UpdateMemory replaces a memory's content, category, and symbol links.
func (db *DB) UpdateMemory(memoryID int64, content, category string, symbolIDs []int64) error {
	return db.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`UPDATE memories SET content = ?, category = ? WHERE id = ?`, content, category, memoryID); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM memories_fts WHERE rowid = ?`, memoryID); err != nil {
			return err
		}
		if _, err := tx.Exec(`
			INSERT INTO memories_fts(rowid, content, category) VALUES (?, ?, ?)
		`, memoryID, content, category); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM memory_symbols WHERE memory_id = ?`, memoryID); err != nil {
			return err
		}
		return linkMemorySymbolsTx(tx, memoryID, symbolIDs)
	})
}

// MemorySymbolLink names the memory, the symbol it was linked to before
// re-indexing, and that symbol's previous body hash.
type MemorySymbolLink struct {
	MemoryID    int64
	SymbolName  string
	OldBodyHash string
}

// CollectMemorySymbolNames gathers (memory, symbol name, old body hash)
// tuples for every memory linked to a symbol in fileID, ahead of a
// re-index that is about to delete and re-insert that file's symbols.
func (db *DB) CollectMemorySymbolNames(fileID int64) ([]MemorySymbolLink, error) {
	rows, err := db.Query(`
		SELECT ms.memory_id, s.name, s.body_hash
		FROM memory_symbols ms
		JOIN symbols s ON s.id = ms.symbol_id
		WHERE s.file_id = ?
	`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMemorySymbolLinks(rows)
}

// CollectMemorySymbolNamesTx is CollectMemorySymbolNames's transaction-scoped
// counterpart, used by the indexer to snapshot a file's memory links inside
// the same transaction that is about to delete and re-derive its symbols.
func (db *DB) CollectMemorySymbolNamesTx(tx *sql.Tx, fileID int64) ([]MemorySymbolLink, error) {
	rows, err := tx.Query(`
		SELECT ms.memory_id, s.name, s.body_hash
		FROM memory_symbols ms
		JOIN symbols s ON s.id = ms.symbol_id
		WHERE s.file_id = ?
	`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMemorySymbolLinks(rows)
}

func scanMemorySymbolLinks(rows *sql.Rows) ([]MemorySymbolLink, error) {
	var out []MemorySymbolLink
	for rows.Next() {
		var l MemorySymbolLink
		if err := rows.Scan(&l.MemoryID, &l.SymbolName, &l.OldBodyHash); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// RelinkMemoriesToSymbols re-links memories to the newly (re-)inserted
// symbols in fileID by matching on symbol name, and classifies each
// memory's staleness from the body hash comparison:
//   - name matches, body unchanged  -> stale=0, needs_review=0
//   - name matches, body changed    -> stale=0, needs_review=1
//   - name no longer present        -> memory is left stale
func (db *DB) RelinkMemoriesToSymbols(fileID int64, links []MemorySymbolLink) (int, error) {
	var relinked int
	err := db.WithTx(func(tx *sql.Tx) error {
		var err error
		relinked, err = db.RelinkMemoriesToSymbolsTx(tx, fileID, links)
		return err
	})
	return relinked, err
}

// RelinkMemoriesToSymbolsTx is RelinkMemoriesToSymbols's transaction-scoped
// counterpart, called directly by the indexer so a file's memory relinking
// commits as part of the same transaction as its symbol re-insertion.
func (db *DB) RelinkMemoriesToSymbolsTx(tx *sql.Tx, fileID int64, links []MemorySymbolLink) (int, error) {
	relinked := 0
	for _, link := range links {
		var symID int64
		var newBodyHash string
		err := tx.QueryRow(`
			SELECT id, body_hash FROM symbols WHERE file_id = ? AND name = ? LIMIT 1
		`, fileID, link.SymbolName).Scan(&symID, &newBodyHash)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return relinked, err
		}

		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO memory_symbols (memory_id, symbol_id, symbol_name)
			VALUES (?, ?, ?)
		`, link.MemoryID, symID, link.SymbolName); err != nil {
			return relinked, err
		}

		bodyChanged := link.OldBodyHash != "" && newBodyHash != "" && link.OldBodyHash != newBodyHash
		needsReview := 0
		if bodyChanged {
			needsReview = 1
		}
		if _, err := tx.Exec(`
			UPDATE memories SET stale = 0, needs_review = ? WHERE id = ?
		`, needsReview, link.MemoryID); err != nil {
			return relinked, err
		}
		relinked++
	}
	return relinked, nil
}

// MarkMemoriesStaleForFile marks every memory linked to a symbol in fileID
// as stale, ahead of that file's symbols being deleted and re-derived.
func (db *DB) MarkMemoriesStaleForFile(fileID int64) (int64, error) {
	var count int64
	err := db.WithTx(func(tx *sql.Tx) error {
		var err error
		count, err = db.MarkMemoriesStaleForFileTx(tx, fileID)
		return err
	})
	return count, err
}

// MarkMemoriesStaleForFileTx is MarkMemoriesStaleForFile's transaction-scoped
// counterpart, called directly by the indexer as the opening step of a
// file's atomic re-index.
func (db *DB) MarkMemoriesStaleForFileTx(tx *sql.Tx, fileID int64) (int64, error) {
	res, err := tx.Exec(`
		UPDATE memories SET stale = 1
		WHERE id IN (
			SELECT ms.memory_id FROM memory_symbols ms
			JOIN symbols s ON s.id = ms.symbol_id
			WHERE s.file_id = ?
		)
	`, fileID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CleanupOldAutoObservations deletes non-manual memories older than
// maxAgeDays. Manual memories are never garbage collected.
func (db *DB) CleanupOldAutoObservations(maxAgeDays int) (int64, error) {
	cutoff := fmt.Sprintf("-%d days", maxAgeDays)
	var count int64
	err := db.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			DELETE FROM memories_fts WHERE rowid IN (
				SELECT id FROM memories WHERE source != 'manual' AND created_at < datetime('now', ?)
			)
		`, cutoff); err != nil {
			return err
		}
		res, err := tx.Exec(`
			DELETE FROM memories WHERE source != 'manual' AND created_at < datetime('now', ?)
		`, cutoff)
		if err != nil {
			return err
		}
		count, err = res.RowsAffected()
		return err
	})
	return count, err
}

// SessionRecovery reconstructs working context for a session recovering
// from context compaction.
type SessionRecovery struct {
	SessionID           string
	ManualMemories      []Memory
	AutoObservations    []Memory
	RecentFiles         []string
	SymbolNamesAccessed []string
}

// GetSessionRecovery gathers cross-session manual memories, this session's
// own auto-observations, and the files/symbols they touch.
func (db *DB) GetSessionRecovery(sessionID string) (*SessionRecovery, error) {
	manual, err := scanMemoriesQuery(db, `
		SELECT id, content, category, source, session_id, created_at, stale, needs_review
		FROM memories WHERE source = 'manual' AND stale = 0
		ORDER BY created_at DESC LIMIT 20
	`)
	if err != nil {
		return nil, err
	}

	auto, err := scanMemoriesQuery(db, `
		SELECT id, content, category, source, session_id, created_at, stale, needs_review
		FROM memories WHERE session_id = ? AND source != 'manual' AND stale = 0
		ORDER BY created_at ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}

	fileRows, err := db.Query(`
		SELECT DISTINCT f.path
		FROM memories m
		JOIN memory_symbols ms ON ms.memory_id = m.id
		JOIN symbols s ON s.id = ms.symbol_id
		JOIN files f ON f.id = s.file_id
		WHERE m.session_id = ? AND m.stale = 0
		ORDER BY m.created_at DESC
		LIMIT 20
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer fileRows.Close()
	var recentFiles []string
	for fileRows.Next() {
		var p string
		if err := fileRows.Scan(&p); err != nil {
			return nil, err
		}
		recentFiles = append(recentFiles, p)
	}

	nameRows, err := db.Query(`
		SELECT DISTINCT s.name
		FROM memories m
		JOIN memory_symbols ms ON ms.memory_id = m.id
		JOIN symbols s ON s.id = ms.symbol_id
		WHERE m.session_id = ? AND m.stale = 0
		ORDER BY s.name
		LIMIT 30
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer nameRows.Close()
	var names []string
	for nameRows.Next() {
		var n string
		if err := nameRows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}

	return &SessionRecovery{
		SessionID:           sessionID,
		ManualMemories:      manual,
		AutoObservations:    auto,
		RecentFiles:         recentFiles,
		SymbolNamesAccessed: names,
	}, nil
}

func scanMemoriesQuery(db *DB, query string, args ...interface{}) ([]Memory, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMemories(rows)
}

func scanMemories(rows *sql.Rows) ([]Memory, error) {
	var out []Memory
	for rows.Next() {
		var m Memory
		var stale, needsReview int
		if err := rows.Scan(&m.ID, &m.Content, &m.Category, &m.Source, &m.SessionID, &m.CreatedAt, &stale, &needsReview); err != nil {
			return nil, err
		}
		m.Stale = stale != 0
		m.NeedsReview = needsReview != 0
		out = append(out, m)
	}
	return out, rows.Err()
}
