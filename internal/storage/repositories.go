package storage

import "database/sql"

// Repository is a single configured repository root tracked in the
// single global database.
type Repository struct {
	ID        int64
	Name      string
	RootPath  string
	IndexedAt string
}

// UpsertRepository inserts a repository row or refreshes its name and
// indexed_at timestamp if root_path already exists.
func (db *DB) UpsertRepository(name, rootPath string) (int64, error) {
	_, err := db.Exec(`
		INSERT INTO repositories (name, root_path, indexed_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT(root_path) DO UPDATE SET
			name = excluded.name,
			indexed_at = excluded.indexed_at
	`, name, rootPath)
	if err != nil {
		return 0, err
	}

	// ON CONFLICT DO UPDATE leaves LastInsertId stale on the update path, so
	// the id is always re-read explicitly.
	var id int64
	if err := db.QueryRow(`SELECT id FROM repositories WHERE root_path = ?`, rootPath).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// GetRepositoryByPath looks up a repository by its root path.
func (db *DB) GetRepositoryByPath(rootPath string) (*Repository, error) {
	row := db.QueryRow(`SELECT id, name, root_path, indexed_at FROM repositories WHERE root_path = ?`, rootPath)
	var r Repository
	if err := row.Scan(&r.ID, &r.Name, &r.RootPath, &r.IndexedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

// GetRepositoryByName looks up a repository by its short name.
func (db *DB) GetRepositoryByName(name string) (*Repository, error) {
	row := db.QueryRow(`SELECT id, name, root_path, indexed_at FROM repositories WHERE name = ?`, name)
	var r Repository
	if err := row.Scan(&r.ID, &r.Name, &r.RootPath, &r.IndexedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

// ListRepositories returns every configured repository, ordered by name.
func (db *DB) ListRepositories() ([]Repository, error) {
	rows, err := db.Query(`SELECT id, name, root_path, indexed_at FROM repositories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Repository
	for rows.Next() {
		var r Repository
		if err := rows.Scan(&r.ID, &r.Name, &r.RootPath, &r.IndexedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LanguageCount is one entry of a repository overview's language breakdown.
type LanguageCount struct {
	Language string
	Count    int64
}

// RepoOverview summarizes a single repository for the get_repo_overview tool.
type RepoOverview struct {
	Name        string
	RootPath    string
	FileCount   int64
	SymbolCount int64
	MemoryCount int64
	Languages   []LanguageCount
}

// GetRepoOverview aggregates file/symbol/memory counts and a per-language
// breakdown for a single repository.
func (db *DB) GetRepoOverview(repoID int64) (*RepoOverview, error) {
	repo, err := db.getRepositoryByID(repoID)
	if err != nil {
		return nil, err
	}
	if repo == nil {
		return nil, nil
	}

	overview := &RepoOverview{Name: repo.Name, RootPath: repo.RootPath}

	if err := db.QueryRow(`SELECT COUNT(*) FROM files WHERE repo_id = ?`, repoID).Scan(&overview.FileCount); err != nil {
		return nil, err
	}
	if err := db.QueryRow(`
		SELECT COUNT(*) FROM symbols s JOIN files f ON f.id = s.file_id WHERE f.repo_id = ?
	`, repoID).Scan(&overview.SymbolCount); err != nil {
		return nil, err
	}
	if err := db.QueryRow(`
		SELECT COUNT(DISTINCT m.id)
		FROM memories m
		JOIN memory_symbols ms ON ms.memory_id = m.id
		JOIN symbols s ON s.id = ms.symbol_id
		JOIN files f ON f.id = s.file_id
		WHERE f.repo_id = ?
	`, repoID).Scan(&overview.MemoryCount); err != nil {
		return nil, err
	}

	rows, err := db.Query(`
		SELECT language, COUNT(*) FROM files WHERE repo_id = ? GROUP BY language ORDER BY COUNT(*) DESC
	`, repoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var lc LanguageCount
		if err := rows.Scan(&lc.Language, &lc.Count); err != nil {
			return nil, err
		}
		overview.Languages = append(overview.Languages, lc)
	}

	return overview, rows.Err()
}

func (db *DB) getRepositoryByID(repoID int64) (*Repository, error) {
	row := db.QueryRow(`SELECT id, name, root_path, indexed_at FROM repositories WHERE id = ?`, repoID)
	var r Repository
	if err := row.Scan(&r.ID, &r.Name, &r.RootPath, &r.IndexedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}
