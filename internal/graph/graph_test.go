package graph

import (
	"io"
	"testing"

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

// seedChain builds main -> handler -> validate -> normalize, a straight-line
// call chain, plus an unrelated symbol off to the side.
func seedChain(t *testing.T, db *storage.DB) (repoID int64, ids map[string]int64) {
	t.Helper()

	repoID, err := db.UpsertRepository("demo", "/repo")
	if err != nil {
		t.Fatalf("UpsertRepository() error = %v", err)
	}
	fileID, err := db.UpsertFile(repoID, "app.go", "go", "hash1")
	if err != nil {
		t.Fatalf("UpsertFile() error = %v", err)
	}

	ids = make(map[string]int64)
	insert := func(name string) int64 {
		id, err := db.InsertSymbol(fileID, name, "function", "func "+name+"()", "func "+name+"() {}", "h-"+name, 1, 2, nil)
		if err != nil {
			t.Fatalf("InsertSymbol(%s) error = %v", name, err)
		}
		ids[name] = id
		return id
	}

	insert("main")
	insert("handler")
	insert("validate")
	insert("normalize")
	insert("unrelated")

	edge := func(from, to string) {
		if err := db.InsertEdge(ids[from], ids[to], "calls"); err != nil {
			t.Fatalf("InsertEdge(%s->%s) error = %v", from, to, err)
		}
	}
	edge("main", "handler")
	edge("handler", "validate")
	edge("validate", "normalize")

	return repoID, ids
}

func TestImpactGraph(t *testing.T) {
	db := setupTestDB(t)
	repoID, ids := seedChain(t, db)

	engine := New(db)
	nodes, err := engine.ImpactGraph("validate", 5, &repoID)
	if err != nil {
		t.Fatalf("ImpactGraph() error = %v", err)
	}

	found := make(map[int64]ImpactNode)
	for _, n := range nodes {
		found[n.SymbolID] = n
	}

	if n, ok := found[ids["handler"]]; !ok {
		t.Error("expected handler (direct dependent) in impact graph")
	} else if n.Distance != 1 {
		t.Errorf("handler distance = %d, want 1", n.Distance)
	}

	if n, ok := found[ids["main"]]; !ok {
		t.Error("expected main (transitive dependent) in impact graph")
	} else if n.Distance != 2 {
		t.Errorf("main distance = %d, want 2", n.Distance)
	}

	if _, ok := found[ids["normalize"]]; ok {
		t.Error("normalize is a dependency, not a dependent, and should not appear")
	}
	if _, ok := found[ids["unrelated"]]; ok {
		t.Error("unrelated symbol should not appear in impact graph")
	}
}

func TestImpactGraphRespectsMaxDepth(t *testing.T) {
	db := setupTestDB(t)
	repoID, ids := seedChain(t, db)

	engine := New(db)
	nodes, err := engine.ImpactGraph("validate", 1, &repoID)
	if err != nil {
		t.Fatalf("ImpactGraph() error = %v", err)
	}

	for _, n := range nodes {
		if n.SymbolID == ids["main"] {
			t.Error("main is 2 hops away and should be excluded at max_depth=1")
		}
	}
}

func TestImpactGraphUnknownSymbol(t *testing.T) {
	db := setupTestDB(t)
	repoID, _ := seedChain(t, db)

	engine := New(db)
	if _, err := engine.ImpactGraph("does_not_exist", 5, &repoID); err == nil {
		t.Error("expected an error for an unresolvable symbol name")
	}
}

func TestFindPaths(t *testing.T) {
	db := setupTestDB(t)
	repoID, ids := seedChain(t, db)

	engine := New(db)
	paths, err := engine.FindPaths("main", "normalize", 5, &repoID)
	if err != nil {
		t.Fatalf("FindPaths() error = %v", err)
	}

	if len(paths) != 1 {
		t.Fatalf("len(paths) = %d, want 1", len(paths))
	}

	want := []int64{ids["main"], ids["handler"], ids["validate"], ids["normalize"]}
	got := make([]int64, 0, len(paths[0]))
	for _, node := range paths[0] {
		got = append(got, node.SymbolID)
	}
	if len(got) != len(want) {
		t.Fatalf("path length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("path[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestFindPathsNoPath(t *testing.T) {
	db := setupTestDB(t)
	repoID, _ := seedChain(t, db)

	engine := New(db)
	paths, err := engine.FindPaths("normalize", "main", 5, &repoID)
	if err != nil {
		t.Fatalf("FindPaths() error = %v", err)
	}
	if len(paths) != 0 {
		t.Errorf("len(paths) = %d, want 0 (edges only run forward)", len(paths))
	}
}

func TestFindPathsUnresolvedSymbol(t *testing.T) {
	db := setupTestDB(t)
	repoID, _ := seedChain(t, db)

	engine := New(db)
	if _, err := engine.FindPaths("main", "ghost", 5, &repoID); err == nil {
		t.Error("expected an error when the target symbol does not exist")
	}
}

func TestResolveSymbolAnyRepoFallback(t *testing.T) {
	db := setupTestDB(t)
	_, ids := seedChain(t, db)

	engine := New(db)
	nodes, err := engine.ImpactGraph("validate", 5, nil)
	if err != nil {
		t.Fatalf("ImpactGraph() with nil repoID error = %v", err)
	}

	var foundHandler bool
	for _, n := range nodes {
		if n.SymbolID == ids["handler"] {
			foundHandler = true
		}
	}
	if !foundHandler {
		t.Error("expected handler in impact graph when resolving with no repo scope")
	}
}
