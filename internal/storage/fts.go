// Package storage full-text search helpers.
//
// symbols_fts and memories_fts are external-content FTS5 tables
// (content=symbols / content=memories): there is no shadow content table
// and no trigger. Every insert or delete against symbols/memories is
// accompanied, in the same function and the same transaction, by the
// matching symbols_fts/memories_fts mutation — see InsertSymbol,
// DeleteSymbolsByFile, SaveMemory, and DeleteMemory.
package storage

import (
	"database/sql"
	"fmt"
	"strings"
)

// SymbolSearchHit is one ranked result from a symbols_fts query.
type SymbolSearchHit struct {
	SymbolID  int64
	Name      string
	Kind      string
	Signature string
	FileID    int64
	FilePath  string
	MatchType string // "exact", "prefix", "substring"
}

// SearchSymbols runs a tiered exact -> prefix -> substring search over
// symbols_fts, scoped to a repository, returning up to limit ranked hits.
func (db *DB) SearchSymbols(repoID int64, query string, limit int) ([]SymbolSearchHit, error) {
	query = strings.TrimSpace(query)
	if query == "" || limit <= 0 {
		return nil, nil
	}

	seen := make(map[int64]bool)
	var hits []SymbolSearchHit

	exact, err := db.searchSymbolsFTS(repoID, fmt.Sprintf(`"%s"`, escapeFTS5Query(query)), limit, "exact")
	if err == nil {
		for _, h := range exact {
			if !seen[h.SymbolID] {
				seen[h.SymbolID] = true
				hits = append(hits, h)
			}
		}
	}

	if len(hits) < limit {
		prefix, err := db.searchSymbolsFTS(repoID, escapeFTS5Query(query)+"*", limit-len(hits), "prefix")
		if err == nil {
			for _, h := range prefix {
				if !seen[h.SymbolID] {
					seen[h.SymbolID] = true
					hits = append(hits, h)
				}
			}
		}
	}

	if len(hits) < limit {
		substr, err := db.searchSymbolsSubstring(repoID, query, limit-len(hits), seen)
		if err == nil {
			hits = append(hits, substr...)
		}
	}

	return hits, nil
}

func (db *DB) searchSymbolsFTS(repoID int64, ftsQuery string, limit int, matchType string) ([]SymbolSearchHit, error) {
	rows, err := db.Query(`
		SELECT s.id, s.name, s.kind, s.signature, f.id, f.path
		FROM symbols_fts
		JOIN symbols s ON s.id = symbols_fts.rowid
		JOIN files f ON f.id = s.file_id
		WHERE symbols_fts MATCH ? AND f.repo_id = ?
		ORDER BY bm25(symbols_fts, 1.0, 0.5, 0.3)
		LIMIT ?
	`, ftsQuery, repoID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []SymbolSearchHit
	for rows.Next() {
		var h SymbolSearchHit
		if err := rows.Scan(&h.SymbolID, &h.Name, &h.Kind, &h.Signature, &h.FileID, &h.FilePath); err != nil {
			return nil, err
		}
		h.MatchType = matchType
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (db *DB) searchSymbolsSubstring(repoID int64, query string, limit int, seen map[int64]bool) ([]SymbolSearchHit, error) {
	pattern := "%" + query + "%"
	rows, err := db.Query(`
		SELECT s.id, s.name, s.kind, s.signature, f.id, f.path
		FROM symbols s
		JOIN files f ON f.id = s.file_id
		WHERE f.repo_id = ? AND s.name LIKE ?
		LIMIT ?
	`, repoID, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []SymbolSearchHit
	for rows.Next() {
		var h SymbolSearchHit
		if err := rows.Scan(&h.SymbolID, &h.Name, &h.Kind, &h.Signature, &h.FileID, &h.FilePath); err != nil {
			return nil, err
		}
		if seen[h.SymbolID] {
			continue
		}
		h.MatchType = "substring"
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// MemorySearchHit is one ranked result from a memories_fts query.
type MemorySearchHit struct {
	MemoryID int64
	Content  string
	Category string
}

// SearchMemories runs a tiered exact -> prefix search over memories_fts.
func (db *DB) SearchMemories(query string, limit int) ([]MemorySearchHit, error) {
	query = strings.TrimSpace(query)
	if query == "" || limit <= 0 {
		return nil, nil
	}

	seen := make(map[int64]bool)
	var hits []MemorySearchHit

	exact, err := db.searchMemoriesFTS(fmt.Sprintf(`"%s"`, escapeFTS5Query(query)), limit)
	if err == nil {
		for _, h := range exact {
			seen[h.MemoryID] = true
			hits = append(hits, h)
		}
	}

	if len(hits) < limit {
		prefix, err := db.searchMemoriesFTS(escapeFTS5Query(query)+"*", limit-len(hits))
		if err == nil {
			for _, h := range prefix {
				if !seen[h.MemoryID] {
					seen[h.MemoryID] = true
					hits = append(hits, h)
				}
			}
		}
	}

	return hits, nil
}

func (db *DB) searchMemoriesFTS(ftsQuery string, limit int) ([]MemorySearchHit, error) {
	rows, err := db.Query(`
		SELECT m.id, m.content, m.category
		FROM memories_fts
		JOIN memories m ON m.id = memories_fts.rowid
		WHERE memories_fts MATCH ?
		ORDER BY bm25(memories_fts)
		LIMIT ?
	`, ftsQuery, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []MemorySearchHit
	for rows.Next() {
		var h MemorySearchHit
		if err := rows.Scan(&h.MemoryID, &h.Content, &h.Category); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// RebuildFTS rebuilds both external-content FTS5 indexes from their base
// tables. get_health reports a Corruption diagnosis but does not call it;
// nothing in the service calls it.
func (db *DB) RebuildFTS() error {
	return db.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO symbols_fts(symbols_fts) VALUES('rebuild')`); err != nil {
			return fmt.Errorf("failed to rebuild symbols_fts: %w", err)
		}
		if _, err := tx.Exec(`INSERT INTO memories_fts(memories_fts) VALUES('rebuild')`); err != nil {
			return fmt.Errorf("failed to rebuild memories_fts: %w", err)
		}
		return nil
	})
}

// escapeFTS5Query escapes characters FTS5 treats as query syntax.
func escapeFTS5Query(query string) string {
	replacer := strings.NewReplacer(
		`"`, `""`,
		`*`, `\*`,
		`(`, `\(`,
		`)`, `\)`,
	)
	return replacer.Replace(query)
}
