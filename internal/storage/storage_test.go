package storage

import (
	"io"
	"testing"

	"github.com/InfraWhisperer/focal/internal/logging"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := logging.NewLogger(logging.Config{
		Format: logging.HumanFormat,
		Level:  logging.ErrorLevel,
		Output: io.Discard,
	})

	db, err := OpenAt(":memory:", logger)
	if err != nil {
		t.Fatalf("OpenAt() error = %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return db
}

func TestDatabaseInitialization(t *testing.T) {
	db := setupTestDB(t)

	tables := []string{"repositories", "files", "symbols", "edges", "memories", "memory_symbols"}
	for _, table := range tables {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestUpsertRepository(t *testing.T) {
	db := setupTestDB(t)

	id1, err := db.UpsertRepository("focal", "/repo/focal")
	if err != nil {
		t.Fatalf("UpsertRepository() error = %v", err)
	}

	id2, err := db.UpsertRepository("focal-renamed", "/repo/focal")
	if err != nil {
		t.Fatalf("UpsertRepository() second call error = %v", err)
	}
	if id1 != id2 {
		t.Errorf("expected same id on conflict, got %d and %d", id1, id2)
	}

	repo, err := db.GetRepositoryByPath("/repo/focal")
	if err != nil {
		t.Fatalf("GetRepositoryByPath() error = %v", err)
	}
	if repo == nil {
		t.Fatal("expected repository, got nil")
	}
	if repo.Name != "focal-renamed" {
		t.Errorf("Name = %q, want %q", repo.Name, "focal-renamed")
	}
}

func TestFileUpsertAndRemove(t *testing.T) {
	db := setupTestDB(t)
	repoID, err := db.UpsertRepository("focal", "/repo/focal")
	if err != nil {
		t.Fatalf("UpsertRepository() error = %v", err)
	}

	fileID, err := db.UpsertFile(repoID, "main.go", "go", "hash1")
	if err != nil {
		t.Fatalf("UpsertFile() error = %v", err)
	}

	hash, ok, err := db.GetFileHash(repoID, "main.go")
	if err != nil {
		t.Fatalf("GetFileHash() error = %v", err)
	}
	if !ok || hash != "hash1" {
		t.Errorf("GetFileHash() = (%q, %v), want (hash1, true)", hash, ok)
	}

	if _, err := db.InsertSymbol(fileID, "main", "function", "func main()", "func main() {}", "bh1", 1, 3, nil); err != nil {
		t.Fatalf("InsertSymbol() error = %v", err)
	}

	removed, err := db.RemoveFile(repoID, "main.go")
	if err != nil {
		t.Fatalf("RemoveFile() error = %v", err)
	}
	if !removed {
		t.Error("expected RemoveFile() to report true")
	}

	if f, err := db.GetFileByPath(repoID, "main.go"); err != nil || f != nil {
		t.Errorf("expected file gone after RemoveFile(), got f=%v err=%v", f, err)
	}
}

func TestSymbolSearchAndEdges(t *testing.T) {
	db := setupTestDB(t)
	repoID, _ := db.UpsertRepository("focal", "/repo/focal")
	fileID, _ := db.UpsertFile(repoID, "util.go", "go", "h")

	callerID, err := db.InsertSymbol(fileID, "DoWork", "function", "func DoWork()", "func DoWork() { helper() }", "bh-caller", 1, 3, nil)
	if err != nil {
		t.Fatalf("InsertSymbol(caller) error = %v", err)
	}
	calleeID, err := db.InsertSymbol(fileID, "helper", "function", "func helper()", "func helper() {}", "bh-callee", 5, 7, nil)
	if err != nil {
		t.Fatalf("InsertSymbol(callee) error = %v", err)
	}

	if err := db.InsertEdge(callerID, calleeID, "calls"); err != nil {
		t.Fatalf("InsertEdge() error = %v", err)
	}
	// Re-inserting the same edge must not fail or duplicate.
	if err := db.InsertEdge(callerID, calleeID, "calls"); err != nil {
		t.Fatalf("InsertEdge() duplicate error = %v", err)
	}

	deps, err := db.GetDependencies(callerID)
	if err != nil {
		t.Fatalf("GetDependencies() error = %v", err)
	}
	if len(deps) != 1 || deps[0].Symbol.Name != "helper" {
		t.Errorf("GetDependencies() = %+v, want one edge to helper", deps)
	}

	dependents, err := db.GetDependents(calleeID)
	if err != nil {
		t.Fatalf("GetDependents() error = %v", err)
	}
	if len(dependents) != 1 || dependents[0].Symbol.Name != "DoWork" {
		t.Errorf("GetDependents() = %+v, want one edge from DoWork", dependents)
	}

	hits, err := db.SearchSymbols(repoID, "helper", 10)
	if err != nil {
		t.Fatalf("SearchSymbols() error = %v", err)
	}
	found := false
	for _, h := range hits {
		if h.Name == "helper" {
			found = true
		}
	}
	if !found {
		t.Errorf("SearchSymbols() = %+v, want a hit for helper", hits)
	}
}

func TestMemoryLifecycle(t *testing.T) {
	db := setupTestDB(t)
	repoID, _ := db.UpsertRepository("focal", "/repo/focal")
	fileID, _ := db.UpsertFile(repoID, "auth.go", "go", "h")
	symID, err := db.InsertSymbol(fileID, "Login", "function", "func Login()", "func Login() {}", "bh1", 1, 5, nil)
	if err != nil {
		t.Fatalf("InsertSymbol() error = %v", err)
	}

	memID, err := db.SaveMemory("Login retries 3 times on transient failure", "gotcha", []int64{symID})
	if err != nil {
		t.Fatalf("SaveMemory() error = %v", err)
	}

	memories, err := db.GetMemoriesForSymbol(symID, false)
	if err != nil {
		t.Fatalf("GetMemoriesForSymbol() error = %v", err)
	}
	if len(memories) != 1 || memories[0].ID != memID {
		t.Errorf("GetMemoriesForSymbol() = %+v, want one memory with id %d", memories, memID)
	}

	hits, err := db.SearchMemories("retries", 10)
	if err != nil {
		t.Fatalf("SearchMemories() error = %v", err)
	}
	if len(hits) == 0 {
		t.Error("SearchMemories() returned no hits for a known memory's content")
	}

	if _, err := db.MarkMemoriesStaleForFile(fileID); err != nil {
		t.Fatalf("MarkMemoriesStaleForFile() error = %v", err)
	}
	fresh, err := db.GetMemoriesForSymbol(symID, false)
	if err != nil {
		t.Fatalf("GetMemoriesForSymbol() after stale error = %v", err)
	}
	if len(fresh) != 0 {
		t.Errorf("expected stale memory excluded by default, got %+v", fresh)
	}

	deleted, err := db.DeleteMemory(memID)
	if err != nil {
		t.Fatalf("DeleteMemory() error = %v", err)
	}
	if !deleted {
		t.Error("expected DeleteMemory() to report true")
	}
}

func TestAutoObservationDedup(t *testing.T) {
	db := setupTestDB(t)

	id1, err := db.SaveAutoObservation("indexed 10 files", "indexer", "session-1", nil)
	if err != nil {
		t.Fatalf("SaveAutoObservation() error = %v", err)
	}
	id2, err := db.SaveAutoObservation("indexed 12 files", "indexer", "session-1", nil)
	if err != nil {
		t.Fatalf("SaveAutoObservation() second call error = %v", err)
	}
	if id1 != id2 {
		t.Errorf("expected same observation id to be reused, got %d and %d", id1, id2)
	}

	mem, err := db.GetMemoryByID(id1)
	if err != nil {
		t.Fatalf("GetMemoryByID() error = %v", err)
	}
	if mem == nil || mem.Content != "indexed 12 files" {
		t.Errorf("GetMemoryByID() = %+v, want updated content", mem)
	}
}
