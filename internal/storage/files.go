package storage

import "database/sql"

// File is a single indexed source file within a repository.
type File struct {
	ID          int64
	RepoID      int64
	Path        string
	Language    string
	ContentHash string
	IndexedAt   string
}

// UpsertFile inserts a file row or refreshes its language/hash/indexed_at
// if (repo_id, path) already exists.
func (db *DB) UpsertFile(repoID int64, path, language, contentHash string) (int64, error) {
	var id int64
	err := db.WithTx(func(tx *sql.Tx) error {
		var err error
		id, err = db.UpsertFileTx(tx, repoID, path, language, contentHash)
		return err
	})
	return id, err
}

// UpsertFileTx is UpsertFile's transaction-scoped counterpart: callers that
// need a file upsert to commit atomically alongside other writes - such as
// the indexer's per-file re-index - open their own transaction with WithTx
// and call this directly instead.
func (db *DB) UpsertFileTx(tx *sql.Tx, repoID int64, path, language, contentHash string) (int64, error) {
	_, err := tx.Exec(`
		INSERT INTO files (repo_id, path, language, content_hash, indexed_at)
		VALUES (?, ?, ?, ?, datetime('now'))
		ON CONFLICT(repo_id, path) DO UPDATE SET
			language = excluded.language,
			content_hash = excluded.content_hash,
			indexed_at = excluded.indexed_at
	`, repoID, path, language, contentHash)
	if err != nil {
		return 0, err
	}

	var id int64
	if err := tx.QueryRow(`SELECT id FROM files WHERE repo_id = ? AND path = ?`, repoID, path).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// GetFileByPath looks up a file by repository and relative path.
func (db *DB) GetFileByPath(repoID int64, path string) (*File, error) {
	row := db.QueryRow(`
		SELECT id, repo_id, path, language, content_hash, indexed_at FROM files WHERE repo_id = ? AND path = ?
	`, repoID, path)
	var f File
	if err := row.Scan(&f.ID, &f.RepoID, &f.Path, &f.Language, &f.ContentHash, &f.IndexedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &f, nil
}

// GetFileByID looks up a file by its primary key.
func (db *DB) GetFileByID(fileID int64) (*File, error) {
	row := db.QueryRow(`
		SELECT id, repo_id, path, language, content_hash, indexed_at FROM files WHERE id = ?
	`, fileID)
	var f File
	if err := row.Scan(&f.ID, &f.RepoID, &f.Path, &f.Language, &f.ContentHash, &f.IndexedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &f, nil
}

// GetFileHash returns the stored content hash for a file, used by the
// indexer to skip re-parsing files whose content has not changed.
func (db *DB) GetFileHash(repoID int64, path string) (string, bool, error) {
	var hash string
	err := db.QueryRow(`SELECT content_hash FROM files WHERE repo_id = ? AND path = ?`, repoID, path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return hash, true, nil
}

// GetFilesForRepo lists every indexed file belonging to a repository.
func (db *DB) GetFilesForRepo(repoID int64) ([]File, error) {
	rows, err := db.Query(`
		SELECT id, repo_id, path, language, content_hash, indexed_at FROM files WHERE repo_id = ? ORDER BY path
	`, repoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []File
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.ID, &f.RepoID, &f.Path, &f.Language, &f.ContentHash, &f.IndexedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// GetFilePathForSymbol resolves the file path a given symbol lives in.
func (db *DB) GetFilePathForSymbol(symbolID int64) (string, error) {
	var path string
	err := db.QueryRow(`
		SELECT f.path FROM files f JOIN symbols s ON s.file_id = f.id WHERE s.id = ?
	`, symbolID).Scan(&path)
	return path, err
}

// RemoveFile deletes a file and cascades its symbols and edges out of the
// index. Returns false if no file existed at that path.
func (db *DB) RemoveFile(repoID int64, path string) (bool, error) {
	var fileID int64
	err := db.QueryRow(`SELECT id FROM files WHERE repo_id = ? AND path = ?`, repoID, path).Scan(&fileID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	removed := false
	err = db.WithTx(func(tx *sql.Tx) error {
		if _, err := db.DeleteEdgesByFileTx(tx, fileID); err != nil {
			return err
		}
		if _, err := db.DeleteSymbolsByFileTx(tx, fileID); err != nil {
			return err
		}
		res, err := tx.Exec(`DELETE FROM files WHERE id = ?`, fileID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		removed = n > 0
		return nil
	})
	return removed, err
}
