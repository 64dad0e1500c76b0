// Package indexer walks a repository, extracts symbols with the grammar
// registry, and stores them in the graph store. It handles full indexing,
// single-file incremental updates, and deletion.
package indexer

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/InfraWhisperer/focal/internal/grammar"
	"github.com/InfraWhisperer/focal/internal/storage"
)

// defaultExcludes are directory names skipped during a full index walk.
var defaultExcludes = map[string]bool{
	"node_modules": true,
	".git":         true,
	"vendor":       true,
	"target":       true,
	"dist":         true,
	"__pycache__":  true,
}

const defaultMaxFileSize = 500 * 1024 // 500 KB

// Stats summarizes one indexing pass.
type Stats struct {
	FilesIndexed     int
	FilesSkipped     int
	SymbolsExtracted int
	EdgesCreated     int
	Errors           []string
}

// Indexer walks a repository root, parses supported files, and stores the
// resulting symbols and edges in db.
type Indexer struct {
	db          *storage.DB
	registry    *grammar.Registry
	excludes    map[string]bool
	maxFileSize int64
}

// New creates an Indexer with the default exclude set and file size cap.
func New(db *storage.DB, registry *grammar.Registry) *Indexer {
	return &Indexer{
		db:          db,
		registry:    registry,
		excludes:    defaultExcludes,
		maxFileSize: defaultMaxFileSize,
	}
}

// WithExcludes overrides the set of directory names skipped during a walk.
func (ix *Indexer) WithExcludes(patterns []string) *Indexer {
	set := make(map[string]bool, len(patterns))
	for _, p := range patterns {
		set[p] = true
	}
	ix.excludes = set
	return ix
}

// WithMaxFileSize overrides the size cap (in bytes) above which files are
// skipped rather than parsed.
func (ix *Indexer) WithMaxFileSize(size int64) *Indexer {
	ix.maxFileSize = size
	return ix
}

// IndexDirectory walks root, parses every supported file, stores symbols,
// then resolves cross-file edges in a second pass. The whole operation runs
// as one logical unit of work: errors on individual files are collected into
// Stats.Errors rather than aborting the walk.
func (ix *Indexer) IndexDirectory(ctx context.Context, root string) (*Stats, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
	}

	repoName := filepath.Base(absRoot)
	repoID, err := ix.db.UpsertRepository(repoName, absRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert repository: %w", err)
	}

	stats := &Stats{}
	p := grammar.NewParser()

	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("walk error: %v", walkErr))
			return nil
		}
		if d.IsDir() {
			if ix.excludes[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		g := ix.registry.ForPath(path)
		if g == nil {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: stat error: %v", path, err))
			return nil
		}
		if info.Size() > ix.maxFileSize {
			stats.FilesSkipped++
			return nil
		}

		relPath, err := filepath.Rel(absRoot, path)
		if err != nil {
			relPath = path
		}
		relPath = filepath.ToSlash(relPath)

		if err := ix.indexOneFile(ctx, p, g, repoID, absRoot, path, relPath, stats); err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", relPath, err))
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("walk failed: %w", err)
	}

	edgeCount, err := ix.resolveEdges(ctx, p, repoID, absRoot)
	if err != nil {
		return stats, fmt.Errorf("failed to resolve edges: %w", err)
	}
	stats.EdgesCreated = edgeCount

	return stats, nil
}

// indexOneFile re-indexes a single file discovered during a directory walk.
// Everything from the file upsert through symbol re-insertion and memory
// relinking runs inside one transaction (§4.B, §5): a reader never observes
// the file with its old symbols deleted but the new ones not yet in place.
// Cross-file edge resolution happens afterward, in a second pass
// (resolveEdges), since it depends on every file in the repository having
// already been upserted.
func (ix *Indexer) indexOneFile(ctx context.Context, p *grammar.Parser, g grammar.Grammar, repoID int64, absRoot, absPath, relPath string, stats *Stats) error {
	source, err := os.ReadFile(absPath)
	if err != nil {
		return fmt.Errorf("read error: %w", err)
	}
	hash := contentHash(source)

	if existing, ok, err := ix.db.GetFileHash(repoID, relPath); err != nil {
		return fmt.Errorf("failed to check existing hash: %w", err)
	} else if ok && existing == hash {
		stats.FilesSkipped++
		return nil
	}

	language := ix.registry.DetectLanguage(absPath)
	if language == "" {
		language = g.FileExtensions()[0]
	}

	tree, err := p.Parse(ctx, source, g)
	if err != nil {
		return fmt.Errorf("parse error: %w", err)
	}
	symbols := g.ExtractSymbols(source, tree)

	var inserted int
	err = ix.db.WithTx(func(tx *sql.Tx) error {
		fileID, err := ix.db.UpsertFileTx(tx, repoID, relPath, language, hash)
		if err != nil {
			return fmt.Errorf("failed to upsert file: %w", err)
		}

		if _, err := ix.db.MarkMemoriesStaleForFileTx(tx, fileID); err != nil {
			return fmt.Errorf("failed to mark memories stale: %w", err)
		}
		memoryLinks, err := ix.db.CollectMemorySymbolNamesTx(tx, fileID)
		if err != nil {
			return fmt.Errorf("failed to snapshot memory links: %w", err)
		}

		if _, err := ix.db.DeleteEdgesByFileTx(tx, fileID); err != nil {
			return fmt.Errorf("failed to delete old edges: %w", err)
		}
		if _, err := ix.db.DeleteSymbolsByFileTx(tx, fileID); err != nil {
			return fmt.Errorf("failed to delete old symbols: %w", err)
		}

		inserted, err = ix.insertSymbolsRecursiveTx(tx, fileID, symbols, nil)
		if err != nil {
			return fmt.Errorf("failed to insert symbols: %w", err)
		}

		if len(memoryLinks) > 0 {
			if _, err := ix.db.RelinkMemoriesToSymbolsTx(tx, fileID, memoryLinks); err != nil {
				return fmt.Errorf("failed to relink memories: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	stats.SymbolsExtracted += inserted
	stats.FilesIndexed++
	return nil
}

// IndexFile re-indexes a single file identified by an absolute path, given
// the repository root it belongs to. Returns false if the file's extension
// is unsupported or its content hash is unchanged.
func (ix *Indexer) IndexFile(ctx context.Context, filePath, root string) (bool, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false, fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	repoName := filepath.Base(absRoot)
	repoID, err := ix.db.UpsertRepository(repoName, absRoot)
	if err != nil {
		return false, fmt.Errorf("failed to upsert repository: %w", err)
	}

	g := ix.registry.ForPath(filePath)
	if g == nil {
		return false, nil
	}

	source, err := os.ReadFile(filePath)
	if err != nil {
		return false, fmt.Errorf("read error: %w", err)
	}
	hash := contentHash(source)

	relPath, err := filepath.Rel(absRoot, filePath)
	if err != nil {
		relPath = filePath
	}
	relPath = filepath.ToSlash(relPath)

	if existing, ok, err := ix.db.GetFileHash(repoID, relPath); err != nil {
		return false, fmt.Errorf("failed to check existing hash: %w", err)
	} else if ok && existing == hash {
		return false, nil
	}

	language := ix.registry.DetectLanguage(filePath)
	if language == "" {
		language = g.FileExtensions()[0]
	}

	p := grammar.NewParser()
	tree, err := p.Parse(ctx, source, g)
	if err != nil {
		return false, fmt.Errorf("parse error: %w", err)
	}
	symbols := g.ExtractSymbols(source, tree)
	refs := g.ExtractReferences(source, tree)

	// The watcher delivers one file at a time, so unlike IndexDirectory's
	// two-pass walk, a single file's edge resolution against the rest of the
	// repository fits inside the same transaction as its symbol re-index:
	// the file never becomes visible with stale edges pointing at deleted
	// symbols.
	err = ix.db.WithTx(func(tx *sql.Tx) error {
		fileID, err := ix.db.UpsertFileTx(tx, repoID, relPath, language, hash)
		if err != nil {
			return fmt.Errorf("failed to upsert file: %w", err)
		}

		if _, err := ix.db.MarkMemoriesStaleForFileTx(tx, fileID); err != nil {
			return fmt.Errorf("failed to mark memories stale: %w", err)
		}
		memoryLinks, err := ix.db.CollectMemorySymbolNamesTx(tx, fileID)
		if err != nil {
			return fmt.Errorf("failed to snapshot memory links: %w", err)
		}
		if _, err := ix.db.DeleteEdgesByFileTx(tx, fileID); err != nil {
			return fmt.Errorf("failed to delete old edges: %w", err)
		}
		if _, err := ix.db.DeleteSymbolsByFileTx(tx, fileID); err != nil {
			return fmt.Errorf("failed to delete old symbols: %w", err)
		}

		if _, err := ix.insertSymbolsRecursiveTx(tx, fileID, symbols, nil); err != nil {
			return fmt.Errorf("failed to insert symbols: %w", err)
		}

		if len(memoryLinks) > 0 {
			if _, err := ix.db.RelinkMemoriesToSymbolsTx(tx, fileID, memoryLinks); err != nil {
				return fmt.Errorf("failed to relink memories: %w", err)
			}
		}

		symbolMap, err := ix.db.GetAllSymbolNamesForRepoTx(tx, repoID)
		if err != nil {
			return fmt.Errorf("failed to load symbol map: %w", err)
		}
		fileSymbols, err := ix.db.GetSymbolsByFileTx(tx, fileID)
		if err != nil {
			return fmt.Errorf("failed to load file symbols: %w", err)
		}
		for _, r := range refs {
			srcID, ok := findSymbolIDByName(fileSymbols, r.FromSymbol)
			if !ok {
				continue
			}
			tgtID, ok := symbolMap[r.ToName]
			if !ok || tgtID == srcID {
				continue
			}
			if err := ix.db.InsertEdgeTx(tx, srcID, tgtID, r.Kind); err != nil {
				return fmt.Errorf("failed to insert edge: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	return true, nil
}

// RemoveDeletedFile removes a deleted file's symbols and edges from the
// index. Returns true if the file was present and removed.
func (ix *Indexer) RemoveDeletedFile(filePath, root string) (bool, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false, fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	repoName := filepath.Base(absRoot)
	repoID, err := ix.db.UpsertRepository(repoName, absRoot)
	if err != nil {
		return false, fmt.Errorf("failed to upsert repository: %w", err)
	}

	relPath, err := filepath.Rel(absRoot, filePath)
	if err != nil {
		relPath = filePath
	}
	relPath = filepath.ToSlash(relPath)

	return ix.db.RemoveFile(repoID, relPath)
}

// insertSymbolsRecursiveTx inserts extracted symbols and their nested
// children inside tx, hashing each symbol's body for content-aware memory
// staleness.
func (ix *Indexer) insertSymbolsRecursiveTx(tx *sql.Tx, fileID int64, symbols []grammar.ExtractedSymbol, parentID *int64) (int, error) {
	count := 0
	for _, sym := range symbols {
		bodyHash := contentHash([]byte(sym.Body))
		symID, err := ix.db.InsertSymbolTx(tx, fileID, sym.Name, sym.Kind, sym.Signature, sym.Body, bodyHash,
			int64(sym.StartLine), int64(sym.EndLine), parentID)
		if err != nil {
			return count, err
		}
		count++

		childCount, err := ix.insertSymbolsRecursiveTx(tx, fileID, sym.Children, &symID)
		if err != nil {
			return count, err
		}
		count += childCount
	}
	return count, nil
}

// resolveEdges re-parses every file in the repository to extract references,
// then resolves each against a repo-wide name->id map built once up front —
// O(refs) instead of O(refs * query_cost).
func (ix *Indexer) resolveEdges(ctx context.Context, p *grammar.Parser, repoID int64, absRoot string) (int, error) {
	symbolMap, err := ix.db.GetAllSymbolNamesForRepo(repoID)
	if err != nil {
		return 0, err
	}
	files, err := ix.db.GetFilesForRepo(repoID)
	if err != nil {
		return 0, err
	}

	edgeCount := 0
	for _, f := range files {
		g := ix.registry.ForPath(f.Path)
		if g == nil {
			continue
		}

		source, err := os.ReadFile(filepath.Join(absRoot, filepath.FromSlash(f.Path)))
		if err != nil {
			continue
		}
		tree, err := p.Parse(ctx, source, g)
		if err != nil {
			continue
		}
		refs := g.ExtractReferences(source, tree)

		fileSymbols, err := ix.db.GetSymbolsByFile(f.ID)
		if err != nil {
			return edgeCount, err
		}

		for _, r := range refs {
			srcID, ok := findSymbolIDByName(fileSymbols, r.FromSymbol)
			if !ok {
				continue
			}
			tgtID, ok := symbolMap[r.ToName]
			if !ok || tgtID == srcID {
				continue
			}
			if err := ix.db.InsertEdge(srcID, tgtID, r.Kind); err != nil {
				return edgeCount, err
			}
			edgeCount++
		}
	}

	return edgeCount, nil
}

func findSymbolIDByName(symbols []storage.Symbol, name string) (int64, bool) {
	if name == "" {
		return 0, false
	}
	for _, s := range symbols {
		if s.Name == name {
			return s.ID, true
		}
	}
	return 0, false
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum)
}
