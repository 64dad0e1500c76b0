package indexer

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/InfraWhisperer/focal/internal/grammar"
	"github.com/InfraWhisperer/focal/internal/logging"
	"github.com/InfraWhisperer/focal/internal/storage"
)

func setupTestDB(t *testing.T) *storage.DB {
	t.Helper()
	logger := logging.NewLogger(logging.Config{
		Format: logging.HumanFormat,
		Level:  logging.ErrorLevel,
		Output: io.Discard,
	})
	db, err := storage.OpenAt(":memory:", logger)
	if err != nil {
		t.Fatalf("OpenAt() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestIndexDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", `package main

func main() {
	helper()
}

func helper() {}
`)
	writeFile(t, dir, "vendor/ignored.go", `package vendor

func ShouldNotBeIndexed() {}
`)

	db := setupTestDB(t)
	ix := New(db, grammar.NewRegistry())

	stats, err := ix.IndexDirectory(context.Background(), dir)
	if err != nil {
		t.Fatalf("IndexDirectory() error = %v", err)
	}
	if stats.FilesIndexed != 1 {
		t.Errorf("FilesIndexed = %d, want 1 (vendor/ should be excluded)", stats.FilesIndexed)
	}
	if stats.SymbolsExtracted != 2 {
		t.Errorf("SymbolsExtracted = %d, want 2", stats.SymbolsExtracted)
	}
	if stats.EdgesCreated != 1 {
		t.Errorf("EdgesCreated = %d, want 1 (main calls helper)", stats.EdgesCreated)
	}
	if len(stats.Errors) != 0 {
		t.Errorf("Errors = %v, want none", stats.Errors)
	}

	repo, err := db.GetRepositoryByPath(mustAbs(t, dir))
	if err != nil || repo == nil {
		t.Fatalf("GetRepositoryByPath() = (%v, %v)", repo, err)
	}
}

func TestIndexDirectorySkipsUnchangedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main\n\nfunc main() {}\n")

	db := setupTestDB(t)
	ix := New(db, grammar.NewRegistry())

	if _, err := ix.IndexDirectory(context.Background(), dir); err != nil {
		t.Fatalf("first IndexDirectory() error = %v", err)
	}

	stats, err := ix.IndexDirectory(context.Background(), dir)
	if err != nil {
		t.Fatalf("second IndexDirectory() error = %v", err)
	}
	if stats.FilesIndexed != 0 || stats.FilesSkipped != 1 {
		t.Errorf("second pass stats = %+v, want FilesIndexed=0 FilesSkipped=1", stats)
	}
}

func TestIndexFileIncremental(t *testing.T) {
	dir := t.TempDir()
	mainPath := filepath.Join(dir, "main.go")
	writeFile(t, dir, "main.go", "package main\n\nfunc main() {}\n")

	db := setupTestDB(t)
	ix := New(db, grammar.NewRegistry())
	if _, err := ix.IndexDirectory(context.Background(), dir); err != nil {
		t.Fatalf("IndexDirectory() error = %v", err)
	}

	writeFile(t, dir, "main.go", "package main\n\nfunc main() {\n\thelper()\n}\n\nfunc helper() {}\n")
	changed, err := ix.IndexFile(context.Background(), mainPath, dir)
	if err != nil {
		t.Fatalf("IndexFile() error = %v", err)
	}
	if !changed {
		t.Error("IndexFile() = false, want true after content change")
	}

	repo, err := db.GetRepositoryByPath(mustAbs(t, dir))
	if err != nil || repo == nil {
		t.Fatalf("GetRepositoryByPath() = (%v, %v)", repo, err)
	}
	file, err := db.GetFileByPath(repo.ID, "main.go")
	if err != nil || file == nil {
		t.Fatalf("GetFileByPath() = (%v, %v)", file, err)
	}
	symbols, err := db.GetSymbolsByFile(file.ID)
	if err != nil {
		t.Fatalf("GetSymbolsByFile() error = %v", err)
	}
	if len(symbols) != 2 {
		t.Errorf("len(symbols) = %d, want 2 after re-index", len(symbols))
	}

	// Unchanged re-index should report no change.
	changed, err = ix.IndexFile(context.Background(), mainPath, dir)
	if err != nil {
		t.Fatalf("IndexFile() second call error = %v", err)
	}
	if changed {
		t.Error("IndexFile() = true on unchanged content, want false")
	}
}

func TestRemoveDeletedFile(t *testing.T) {
	dir := t.TempDir()
	mainPath := filepath.Join(dir, "main.go")
	writeFile(t, dir, "main.go", "package main\n\nfunc main() {}\n")

	db := setupTestDB(t)
	ix := New(db, grammar.NewRegistry())
	if _, err := ix.IndexDirectory(context.Background(), dir); err != nil {
		t.Fatalf("IndexDirectory() error = %v", err)
	}

	removed, err := ix.RemoveDeletedFile(mainPath, dir)
	if err != nil {
		t.Fatalf("RemoveDeletedFile() error = %v", err)
	}
	if !removed {
		t.Error("RemoveDeletedFile() = false, want true")
	}

	repo, _ := db.GetRepositoryByPath(mustAbs(t, dir))
	if f, err := db.GetFileByPath(repo.ID, "main.go"); err != nil || f != nil {
		t.Errorf("expected file gone after removal, got f=%v err=%v", f, err)
	}
}

func mustAbs(t *testing.T, path string) string {
	t.Helper()
	abs, err := filepath.Abs(path)
	if err != nil {
		t.Fatalf("filepath.Abs() error = %v", err)
	}
	return abs
}
