// Package context builds token-budgeted context capsules: a query's intent
// steers which graph edges get pulled in around a set of FTS-selected pivot
// symbols, and the result is trimmed to fit a token budget.
package context

import (
	"fmt"
	"sort"
	"strings"

	"github.com/InfraWhisperer/focal/internal/storage"
)

// Intent is the detected purpose behind a natural-language query. It steers
// which graph edges GetCapsule follows when expanding beyond pivot symbols.
type Intent int

const (
	// IntentDebug: "fix", "bug", "crash", "fail", "panic", "broken", "debug".
	IntentDebug Intent = iota
	// IntentRefactor: "refactor", "rename", "extract", "split", "reorganize".
	IntentRefactor
	// IntentModify: "add", "implement", "create", "build", "feature".
	IntentModify
	// IntentExplore is the default when no keyword matches at all.
	IntentExplore
)

func (i Intent) String() string {
	switch i {
	case IntentDebug:
		return "debug"
	case IntentRefactor:
		return "refactor"
	case IntentModify:
		return "modify"
	default:
		return "explore"
	}
}

var (
	debugKeywords    = []string{"fix", "bug", "crash", "fail", "panic", "broken", "debug"}
	refactorKeywords = []string{"refactor", "rename", "extract", "split", "reorganize"}
	modifyKeywords   = []string{"add", "implement", "create", "build", "feature"}
	allKeywords      = append(append(append([]string{}, debugKeywords...), refactorKeywords...), modifyKeywords...)
)

// DetectIntent classifies query text by counting word-boundary keyword hits
// per category. The highest count wins; ties favor Debug over Refactor over
// Modify. No hits at all means Explore.
func DetectIntent(query string) Intent {
	words := tokenizeWords(query)

	debugHits := countMatches(words, debugKeywords)
	refactorHits := countMatches(words, refactorKeywords)
	modifyHits := countMatches(words, modifyKeywords)

	max := debugHits
	if refactorHits > max {
		max = refactorHits
	}
	if modifyHits > max {
		max = modifyHits
	}
	if max == 0 {
		return IntentExplore
	}
	if debugHits == max {
		return IntentDebug
	}
	if refactorHits == max {
		return IntentRefactor
	}
	return IntentModify
}

func tokenizeWords(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		words = append(words, strings.TrimFunc(f, func(r rune) bool {
			return !isAlphanumeric(r)
		}))
	}
	return words
}

func isAlphanumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func countMatches(words, keywords []string) int {
	set := make(map[string]bool, len(keywords))
	for _, k := range keywords {
		set[k] = true
	}
	count := 0
	for _, w := range words {
		if set[w] {
			count++
		}
	}
	return count
}

// stripIntentKeywords removes intent-signaling words from query, leaving
// only the code-relevant terms for FTS search. Falls back to the original
// query if stripping would leave nothing (an all-keyword query must still
// produce some FTS match attempt).
func stripIntentKeywords(query string) string {
	all := make(map[string]bool, len(allKeywords))
	for _, k := range allKeywords {
		all[k] = true
	}

	var kept []string
	for _, w := range strings.Fields(query) {
		if !all[strings.ToLower(w)] {
			kept = append(kept, w)
		}
	}
	if len(kept) == 0 {
		return query
	}
	return strings.Join(kept, " ")
}

// estimateTokens is a rough ~4-chars-per-token estimate, good enough for
// budgeting without a real tokenizer dependency.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// itemTokenCost estimates the token cost of a fully-rendered capsule item.
func itemTokenCost(sym *storage.Symbol, filePath string, includeBody bool) int {
	chars := len(sym.Name) + len(sym.Kind) + len(sym.Signature) + len(filePath) + 20
	if includeBody {
		chars += len(sym.Body)
	}
	return (chars + 3) / 4
}

// CapsuleItem is a single symbol packaged for the context capsule. Pivot
// symbols carry their full body; adjacent (graph-expanded) symbols carry
// only the signature.
type CapsuleItem struct {
	SymbolID      int64  `json:"symbol_id"`
	Name          string `json:"name"`
	Kind          string `json:"kind"`
	FilePath      string `json:"file_path"`
	Signature     string `json:"signature"`
	Body          string `json:"body"`
	IsPivot       bool   `json:"is_pivot"`
	TokenEstimate int    `json:"token_estimate"`
	StartLine     int64  `json:"start_line"`
	EndLine       int64  `json:"end_line"`
}

// Capsule is the token-budgeted result of GetCapsule.
type Capsule struct {
	Intent      string           `json:"intent"`
	Items       []CapsuleItem    `json:"items"`
	Memories    []storage.Memory `json:"memories"`
	TotalTokens int              `json:"total_tokens"`
	Budget      int              `json:"budget"`
}

// Engine builds context capsules from the persistent graph store.
type Engine struct {
	db *storage.DB
}

// New creates a context Engine over db.
func New(db *storage.DB) *Engine {
	return &Engine{db: db}
}

// GetCapsule builds a token-budgeted context capsule for query.
//
// Algorithm:
//  1. Detect intent from query text.
//  2. Phase 1 — FTS search for pivot symbols (top 5), added with full body.
//  3. Phase 2 — Expand to adjacent symbols via the dependency graph, the
//     direction driven by intent. Adjacent symbols get signature only.
//  4. Phase 3 — Attach memories linked to pivot symbols, capped at 10% of
//     the token budget.
//  5. Respect the token budget at every step; stop adding once exhausted.
func (e *Engine) GetCapsule(query string, maxTokens int, repoID *int64, alreadySent map[int64]bool) (*Capsule, error) {
	if alreadySent == nil {
		alreadySent = map[int64]bool{}
	}

	intent := DetectIntent(query)
	budget := maxTokens
	usedTokens := 0
	var items []CapsuleItem
	seenIDs := make(map[int64]bool)

	ftsQuery := stripIntentKeywords(query)

	pivots, err := e.findPivots(ftsQuery, repoID)
	if err != nil {
		return nil, fmt.Errorf("failed to find pivot symbols: %w", err)
	}
	if intent == IntentDebug {
		e.applyRecencyBoost(pivots)
	}

	for _, sym := range pivots {
		filePath, err := e.db.GetFilePathForSymbol(sym.ID)
		if err != nil {
			filePath = "<unknown>"
		}

		includeBody := !alreadySent[sym.ID]
		cost := itemTokenCost(&sym, filePath, includeBody)
		if usedTokens+cost > budget {
			break
		}

		body := sym.Body
		if !includeBody {
			body = "(full body sent earlier in session)"
		}

		items = append(items, CapsuleItem{
			SymbolID:      sym.ID,
			Name:          sym.Name,
			Kind:          sym.Kind,
			FilePath:      filePath,
			Signature:     sym.Signature,
			Body:          body,
			IsPivot:       true,
			TokenEstimate: cost,
			StartLine:     sym.StartLine,
			EndLine:       sym.EndLine,
		})
		usedTokens += cost
		seenIDs[sym.ID] = true
	}

	// Phase 2: expand to adjacent symbols, direction chosen by intent.
	type adjacent struct {
		sym      storage.Symbol
		filePath string
	}
	var adjacentSymbols []adjacent

	addEdgeSymbols := func(edgeSymbols []storage.EdgeSymbol) {
		for _, es := range edgeSymbols {
			if seenIDs[es.Symbol.ID] {
				continue
			}
			seenIDs[es.Symbol.ID] = true
			fp, err := e.db.GetFilePathForSymbol(es.Symbol.ID)
			if err != nil {
				fp = "<unknown>"
			}
			adjacentSymbols = append(adjacentSymbols, adjacent{sym: es.Symbol, filePath: fp})
		}
	}

	for _, pivot := range pivots {
		if !seenIDs[pivot.ID] {
			continue // pivot was skipped due to budget — don't expand from it
		}

		switch intent {
		case IntentDebug:
			if dependents, err := e.db.GetDependents(pivot.ID); err == nil {
				addEdgeSymbols(dependents)
			}
			if deps, err := e.db.GetDependencies(pivot.ID); err == nil {
				addEdgeSymbols(deps)
			}
		case IntentRefactor:
			if dependents, err := e.db.GetDependents(pivot.ID); err == nil {
				addEdgeSymbols(dependents)
			}
		default: // Modify, Explore
			if deps, err := e.db.GetDependencies(pivot.ID); err == nil {
				addEdgeSymbols(deps)
			}
		}
	}

	for _, a := range adjacentSymbols {
		cost := itemTokenCost(&a.sym, a.filePath, false)
		if usedTokens+cost > budget {
			break
		}
		items = append(items, CapsuleItem{
			SymbolID:      a.sym.ID,
			Name:          a.sym.Name,
			Kind:          a.sym.Kind,
			FilePath:      a.filePath,
			Signature:     a.sym.Signature,
			Body:          "",
			IsPivot:       false,
			TokenEstimate: cost,
			StartLine:     a.sym.StartLine,
			EndLine:       a.sym.EndLine,
		})
		usedTokens += cost
	}

	// Phase 3: attach memories linked to pivots, capped at 10% of budget.
	memoryBudget := budget / 10
	memoryTokens := 0
	var memories []storage.Memory

	for _, pivot := range pivots {
		if memoryTokens >= memoryBudget {
			break
		}
		mems, err := e.db.GetMemoriesForSymbol(pivot.ID, false)
		if err != nil {
			continue
		}
		for _, mem := range mems {
			cost := estimateTokens(mem.Content)
			if memoryTokens+cost > memoryBudget || usedTokens+memoryTokens+cost > budget {
				break
			}
			memoryTokens += cost
			memories = append(memories, mem)
		}
	}
	usedTokens += memoryTokens

	return &Capsule{
		Intent:      intent.String(),
		Items:       items,
		Memories:    memories,
		TotalTokens: usedTokens,
		Budget:      budget,
	}, nil
}

// applyRecencyBoost stable-sorts pivots for debug-intent queries so symbols
// in more recently indexed files rank first, on the theory that a bug just
// introduced lives in whatever was touched most recently.
func (e *Engine) applyRecencyBoost(pivots []storage.Symbol) {
	indexedAt := make(map[int64]string, len(pivots))
	for _, sym := range pivots {
		if _, ok := indexedAt[sym.FileID]; ok {
			continue
		}
		f, err := e.db.GetFileByID(sym.FileID)
		if err != nil || f == nil {
			continue
		}
		indexedAt[sym.FileID] = f.IndexedAt
	}
	sort.SliceStable(pivots, func(i, j int) bool {
		return indexedAt[pivots[i].FileID] > indexedAt[pivots[j].FileID]
	})
}

// findPivots runs the FTS search for pivot symbols (top 5), falling back to
// a fuzzy name match (via a LIKE query) when FTS returns fewer than 3 hits,
// since FTS5's tokenizer misses camelCase names and partial substrings that
// a LIKE scan catches.
func (e *Engine) findPivots(ftsQuery string, repoID *int64) ([]storage.Symbol, error) {
	const pivotLimit = 5

	hits, err := e.searchAcrossRepos(ftsQuery, repoID, pivotLimit)
	if err != nil {
		return nil, err
	}

	pivots := make([]storage.Symbol, 0, len(hits))
	seen := make(map[int64]bool, len(hits))
	for _, h := range hits {
		sym, err := e.db.GetSymbolByID(h.SymbolID)
		if err != nil || sym == nil {
			continue
		}
		pivots = append(pivots, *sym)
		seen[sym.ID] = true
	}

	if len(pivots) < 3 {
		for _, word := range candidateNameTokens(ftsQuery) {
			if len(pivots) >= pivotLimit {
				break
			}
			filter := storage.SymbolFilter{Name: word}
			if repoID != nil {
				filter.RepoID = *repoID
			}
			fallback, err := e.db.QuerySymbolsFull(filter)
			if err != nil {
				continue
			}
			for _, r := range fallback {
				if len(pivots) >= pivotLimit {
					break
				}
				if seen[r.ID] {
					continue
				}
				seen[r.ID] = true
				pivots = append(pivots, r.Symbol)
			}
		}
	}

	return pivots, nil
}

// candidateNameTokens picks words from a query likely to be identifier
// fragments (longer than 2 characters), used to drive a per-word LIKE
// fallback when the whole phrase finds fewer than 3 symbols via FTS.
func candidateNameTokens(query string) []string {
	var tokens []string
	for _, w := range strings.Fields(query) {
		if len(w) > 2 {
			tokens = append(tokens, w)
		}
	}
	return tokens
}

// searchAcrossRepos runs SearchSymbols scoped to repoID, or across every
// repository when repoID is nil — this store requires a repository scope
// per query, unlike a single global symbols table with an optional filter.
func (e *Engine) searchAcrossRepos(query string, repoID *int64, limit int) ([]storage.SymbolSearchHit, error) {
	if repoID != nil {
		return e.db.SearchSymbols(*repoID, query, limit)
	}

	repos, err := e.db.ListRepositories()
	if err != nil {
		return nil, err
	}

	var all []storage.SymbolSearchHit
	for _, r := range repos {
		hits, err := e.db.SearchSymbols(r.ID, query, limit)
		if err != nil {
			continue
		}
		all = append(all, hits...)
		if len(all) >= limit {
			break
		}
	}
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}
