package storage

import "database/sql"

// Edge is a directed relationship between two symbols: calls, imports,
// type_ref, or implements.
type Edge struct {
	ID       int64
	SourceID int64
	TargetID int64
	Kind     string
}

// InsertEdge inserts an edge, silently ignoring a duplicate
// (source, target, kind) triple — re-indexing a file re-derives the same
// edges and must not fail on them.
func (db *DB) InsertEdge(sourceID, targetID int64, kind string) error {
	return db.WithTx(func(tx *sql.Tx) error {
		return db.InsertEdgeTx(tx, sourceID, targetID, kind)
	})
}

// InsertEdgeTx is InsertEdge's transaction-scoped counterpart, called
// directly by the indexer so an edge discovered while re-indexing a file
// commits alongside that file's symbol and memory-link changes.
func (db *DB) InsertEdgeTx(tx *sql.Tx, sourceID, targetID int64, kind string) error {
	_, err := tx.Exec(`
		INSERT OR IGNORE INTO edges (source_id, target_id, kind) VALUES (?, ?, ?)
	`, sourceID, targetID, kind)
	return err
}

// EdgeSymbol pairs an edge with the symbol on its other end.
type EdgeSymbol struct {
	Edge   Edge
	Symbol Symbol
}

// GetDependencies returns the outgoing edges from a symbol: what it calls,
// imports, or references.
func (db *DB) GetDependencies(symbolID int64) ([]EdgeSymbol, error) {
	rows, err := db.Query(`
		SELECT e.id, e.source_id, e.target_id, e.kind,
		       s.id, s.file_id, s.name, s.kind, s.signature, s.body, s.body_hash, s.start_line, s.end_line, s.parent_id
		FROM edges e
		JOIN symbols s ON s.id = e.target_id
		WHERE e.source_id = ?
	`, symbolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEdgeSymbols(rows)
}

// GetDependents returns the incoming edges to a symbol: what calls,
// imports, or references it.
func (db *DB) GetDependents(symbolID int64) ([]EdgeSymbol, error) {
	rows, err := db.Query(`
		SELECT e.id, e.source_id, e.target_id, e.kind,
		       s.id, s.file_id, s.name, s.kind, s.signature, s.body, s.body_hash, s.start_line, s.end_line, s.parent_id
		FROM edges e
		JOIN symbols s ON s.id = e.source_id
		WHERE e.target_id = ?
	`, symbolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEdgeSymbols(rows)
}

// DependencyHint names the target symbol of an outgoing edge — used to warn
// a reader about dependencies that exist but are not in the returned result
// set.
type DependencyHint struct {
	Name     string
	Kind     string
	EdgeKind string
}

// GetDependencyHintNames returns the names/kinds of symbols reachable via
// type_ref, imports, or calls edges from symbolID, for the caller to filter
// down to names not already present in its result set.
func (db *DB) GetDependencyHintNames(symbolID int64) ([]DependencyHint, error) {
	rows, err := db.Query(`
		SELECT s.name, s.kind, e.kind
		FROM edges e
		JOIN symbols s ON s.id = e.target_id
		WHERE e.source_id = ? AND e.kind IN ('type_ref', 'imports', 'calls')
	`, symbolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hints []DependencyHint
	for rows.Next() {
		var h DependencyHint
		if err := rows.Scan(&h.Name, &h.Kind, &h.EdgeKind); err != nil {
			return nil, err
		}
		hints = append(hints, h)
	}
	return hints, rows.Err()
}

// DeleteEdgesByFile removes every edge touching a symbol declared in
// fileID, as either source or target.
func (db *DB) DeleteEdgesByFile(fileID int64) (int64, error) {
	var count int64
	err := db.WithTx(func(tx *sql.Tx) error {
		n, err := db.DeleteEdgesByFileTx(tx, fileID)
		count = n
		return err
	})
	return count, err
}

// DeleteEdgesByFileTx is DeleteEdgesByFile's transaction-scoped counterpart,
// called directly by the indexer as part of a file's atomic re-index.
func (db *DB) DeleteEdgesByFileTx(tx *sql.Tx, fileID int64) (int64, error) {
	res1, err := tx.Exec(`
		DELETE FROM edges WHERE source_id IN (SELECT id FROM symbols WHERE file_id = ?)
	`, fileID)
	if err != nil {
		return 0, err
	}
	n1, err := res1.RowsAffected()
	if err != nil {
		return 0, err
	}

	res2, err := tx.Exec(`
		DELETE FROM edges WHERE target_id IN (SELECT id FROM symbols WHERE file_id = ?)
	`, fileID)
	if err != nil {
		return 0, err
	}
	n2, err := res2.RowsAffected()
	if err != nil {
		return 0, err
	}

	return n1 + n2, nil
}

func scanEdgeSymbols(rows *sql.Rows) ([]EdgeSymbol, error) {
	var out []EdgeSymbol
	for rows.Next() {
		var es EdgeSymbol
		if err := rows.Scan(
			&es.Edge.ID, &es.Edge.SourceID, &es.Edge.TargetID, &es.Edge.Kind,
			&es.Symbol.ID, &es.Symbol.FileID, &es.Symbol.Name, &es.Symbol.Kind, &es.Symbol.Signature,
			&es.Symbol.Body, &es.Symbol.BodyHash, &es.Symbol.StartLine, &es.Symbol.EndLine, &es.Symbol.ParentID,
		); err != nil {
			return nil, err
		}
		out = append(out, es)
	}
	return out, rows.Err()
}
