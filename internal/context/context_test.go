package context

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

func TestDetectIntent(t *testing.T) {
	tests := []struct {
		query string
		want  Intent
	}{
		{"fix the crash in the parser", IntentDebug},
		{"refactor this into smaller functions", IntentRefactor},
		{"add a new feature for exporting", IntentModify},
		{"how does the indexer work", IntentExplore},
		{"", IntentExplore},
		{"fix refactor", IntentDebug}, // tie between debug/refactor favors debug
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got := DetectIntent(tt.query)
			if got != tt.want {
				t.Errorf("DetectIntent(%q) = %v, want %v", tt.query, got, tt.want)
			}
		})
	}
}

func TestIntentString(t *testing.T) {
	tests := []struct {
		intent Intent
		want   string
	}{
		{IntentDebug, "debug"},
		{IntentRefactor, "refactor"},
		{IntentModify, "modify"},
		{IntentExplore, "explore"},
	}
	for _, tt := range tests {
		if got := tt.intent.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestStripIntentKeywords(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"fix the parser crash", "the parser"},
		{"fix crash", "fix crash"}, // stripping everything falls back to original
		{"how does indexing work", "how does indexing work"},
	}
	for _, tt := range tests {
		if got := stripIntentKeywords(tt.query); got != tt.want {
			t.Errorf("stripIntentKeywords(%q) = %q, want %q", tt.query, got, tt.want)
		}
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := estimateTokens(""); got != 0 {
		t.Errorf("estimateTokens(\"\") = %d, want 0", got)
	}
	if got := estimateTokens("abcd"); got != 1 {
		t.Errorf("estimateTokens(4 chars) = %d, want 1", got)
	}
	if got := estimateTokens("abcde"); got != 2 {
		t.Errorf("estimateTokens(5 chars) = %d, want 2", got)
	}
}

// seedRepo builds a tiny repo graph: pivot symbol "HandleRequest" calls
// "validate", and is called by "main" — plus a memory attached to the pivot.
func seedRepo(t *testing.T, db *storage.DB) (repoID, pivotID, depID, dependentID int64) {
	t.Helper()

	repoID, err := db.UpsertRepository("demo", "/repo")
	if err != nil {
		t.Fatalf("UpsertRepository() error = %v", err)
	}

	fileID, err := db.UpsertFile(repoID, "handler.go", "go", "hash1")
	if err != nil {
		t.Fatalf("UpsertFile() error = %v", err)
	}

	pivotID, err = db.InsertSymbol(fileID, "HandleRequest", "function",
		"func HandleRequest(r *Request)", "func HandleRequest(r *Request) { validate(r) }", "bodyhash1", 10, 15, nil)
	if err != nil {
		t.Fatalf("InsertSymbol(pivot) error = %v", err)
	}

	depID, err = db.InsertSymbol(fileID, "validate", "function",
		"func validate(r *Request) error", "func validate(r *Request) error { return nil }", "bodyhash2", 20, 22, nil)
	if err != nil {
		t.Fatalf("InsertSymbol(dep) error = %v", err)
	}

	dependentID, err = db.InsertSymbol(fileID, "main", "function",
		"func main()", "func main() { HandleRequest(nil) }", "bodyhash3", 1, 5, nil)
	if err != nil {
		t.Fatalf("InsertSymbol(dependent) error = %v", err)
	}

	if err := db.InsertEdge(pivotID, depID, "calls"); err != nil {
		t.Fatalf("InsertEdge(pivot->dep) error = %v", err)
	}
	if err := db.InsertEdge(dependentID, pivotID, "calls"); err != nil {
		t.Fatalf("InsertEdge(dependent->pivot) error = %v", err)
	}

	if _, err := db.SaveMemory("HandleRequest validates all inbound fields before dispatch", "note", []int64{pivotID}); err != nil {
		t.Fatalf("SaveMemory() error = %v", err)
	}

	return repoID, pivotID, depID, dependentID
}

func TestGetCapsuleModifyIntentExpandsDependencies(t *testing.T) {
	db := setupTestDB(t)
	repoID, pivotID, depID, dependentID := seedRepo(t, db)

	engine := New(db)
	capsule, err := engine.GetCapsule("add a feature to HandleRequest", 10000, &repoID, nil)
	if err != nil {
		t.Fatalf("GetCapsule() error = %v", err)
	}

	if capsule.Intent != "modify" {
		t.Errorf("Intent = %q, want %q", capsule.Intent, "modify")
	}

	var foundPivot, foundDep, foundDependent bool
	for _, item := range capsule.Items {
		switch item.SymbolID {
		case pivotID:
			foundPivot = true
			if !item.IsPivot {
				t.Error("pivot item should have IsPivot = true")
			}
			if item.Body == "" {
				t.Error("pivot item should carry a full body")
			}
		case depID:
			foundDep = true
		case dependentID:
			foundDependent = true
		}
	}

	if !foundPivot {
		t.Error("expected pivot symbol HandleRequest in capsule items")
	}
	if !foundDep {
		t.Error("modify intent should expand to dependencies (validate)")
	}
	if foundDependent {
		t.Error("modify intent should not expand to dependents (main)")
	}

	if len(capsule.Memories) == 0 {
		t.Error("expected at least one memory attached to the pivot")
	}
	if capsule.TotalTokens <= 0 {
		t.Error("expected TotalTokens > 0")
	}
	if capsule.Budget != 10000 {
		t.Errorf("Budget = %d, want 10000", capsule.Budget)
	}
}

func TestGetCapsuleDebugIntentExpandsBothDirections(t *testing.T) {
	db := setupTestDB(t)
	repoID, pivotID, depID, dependentID := seedRepo(t, db)
	_ = pivotID

	engine := New(db)
	capsule, err := engine.GetCapsule("fix the crash in HandleRequest", 10000, &repoID, nil)
	if err != nil {
		t.Fatalf("GetCapsule() error = %v", err)
	}

	if capsule.Intent != "debug" {
		t.Errorf("Intent = %q, want %q", capsule.Intent, "debug")
	}

	var foundDep, foundDependent bool
	for _, item := range capsule.Items {
		if item.SymbolID == depID {
			foundDep = true
		}
		if item.SymbolID == dependentID {
			foundDependent = true
		}
	}
	if !foundDep || !foundDependent {
		t.Error("debug intent should expand to both dependencies and dependents")
	}
}

func TestGetCapsuleRespectsTokenBudget(t *testing.T) {
	db := setupTestDB(t)
	repoID, _, _, _ := seedRepo(t, db)

	engine := New(db)
	capsule, err := engine.GetCapsule("add a feature to HandleRequest", 1, &repoID, nil)
	if err != nil {
		t.Fatalf("GetCapsule() error = %v", err)
	}

	if capsule.TotalTokens > capsule.Budget && len(capsule.Items) > 0 {
		t.Errorf("TotalTokens %d exceeds Budget %d with items present", capsule.TotalTokens, capsule.Budget)
	}
}

func TestGetCapsuleAlreadySentSuppressesBody(t *testing.T) {
	db := setupTestDB(t)
	repoID, pivotID, _, _ := seedRepo(t, db)

	engine := New(db)
	capsule, err := engine.GetCapsule("add a feature to HandleRequest", 10000, &repoID, map[int64]bool{pivotID: true})
	if err != nil {
		t.Fatalf("GetCapsule() error = %v", err)
	}

	for _, item := range capsule.Items {
		if item.SymbolID == pivotID {
			if item.Body == "" {
				t.Error("expected placeholder body text, got empty")
			}
			if item.Body == "func HandleRequest(r *Request) { validate(r) }" {
				t.Error("already-sent pivot should not repeat its full body")
			}
		}
	}
}

func TestGetCapsuleNilRepoSearchesAllRepos(t *testing.T) {
	db := setupTestDB(t)
	_, pivotID, _, _ := seedRepo(t, db)

	engine := New(db)
	capsule, err := engine.GetCapsule("add a feature to HandleRequest", 10000, nil, nil)
	if err != nil {
		t.Fatalf("GetCapsule() error = %v", err)
	}

	var found bool
	for _, item := range capsule.Items {
		if item.SymbolID == pivotID {
			found = true
		}
	}
	if !found {
		t.Error("expected pivot symbol to be found when repoID is nil")
	}
}
