package mcp

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/InfraWhisperer/focal/internal/envelope"
	"github.com/InfraWhisperer/focal/internal/errors"
	"github.com/InfraWhisperer/focal/internal/graph"
	"github.com/InfraWhisperer/focal/internal/storage"
)

// Tool represents a tool exposed via the MCP protocol.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// ToolHandler is a function that handles a tool call and returns an envelope response.
type ToolHandler func(params map[string]interface{}) (*envelope.Response, error)

// ComputeToolsetHash computes a stable hash over the tool surface, used to
// invalidate a tools/list pagination cursor if the surface ever changes.
func ComputeToolsetHash(tools []Tool) string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		h.Write([]byte(name))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// GetToolDefinitions returns all 19 tool definitions.
func (s *MCPServer) GetToolDefinitions() []Tool {
	obj := func(props map[string]interface{}, required ...string) map[string]interface{} {
		schema := map[string]interface{}{
			"type":       "object",
			"properties": props,
		}
		if len(required) > 0 {
			schema["required"] = required
		}
		return schema
	}
	str := func(desc string) map[string]interface{} {
		return map[string]interface{}{"type": "string", "description": desc}
	}
	num := func(desc string, def int) map[string]interface{} {
		return map[string]interface{}{"type": "number", "description": desc, "default": def}
	}
	strArray := func(desc string) map[string]interface{} {
		return map[string]interface{}{
			"type":        "array",
			"items":       map[string]interface{}{"type": "string"},
			"description": desc,
		}
	}
	boolean := func(desc string, def bool) map[string]interface{} {
		return map[string]interface{}{"type": "boolean", "description": desc, "default": def}
	}

	return []Tool{
		{
			Name:        "query_symbol",
			Description: "Look up a symbol by name and return its definition plus any linked memories",
			InputSchema: obj(map[string]interface{}{
				"name": str("Symbol name"),
				"kind": str("Optional symbol kind filter"),
				"repo": str("Optional repo name or root-path prefix; omitted searches all repos"),
			}, "name"),
		},
		{
			Name:        "get_file_symbols",
			Description: "Return the ordered skeleton of every symbol declared in a file",
			InputSchema: obj(map[string]interface{}{
				"file_path": str("Path to the file, relative to its repository root"),
				"repo":      str("Optional repo name or root-path prefix"),
			}, "file_path"),
		},
		{
			Name:        "get_skeleton",
			Description: "Return a signatures-only view of a file",
			InputSchema: obj(map[string]interface{}{
				"file_path": str("Path to the file, relative to its repository root"),
				"repo":      str("Optional repo name or root-path prefix"),
				"detail":    str("Optional detail level"),
			}, "file_path"),
		},
		{
			Name:        "batch_query",
			Description: "Fetch several symbols by name within a token budget, with dependency hints for anything left out",
			InputSchema: obj(map[string]interface{}{
				"symbol_names": strArray("Symbol names to fetch"),
				"max_tokens":   num("Token budget", 12000),
				"include_body": boolean("Include full symbol bodies", true),
			}, "symbol_names"),
		},
		{
			Name:        "search_code",
			Description: "Full-text search over symbol name, signature, and body",
			InputSchema: obj(map[string]interface{}{
				"query":       str("Search query"),
				"kind":        str("Optional symbol kind filter"),
				"repo":        str("Optional repo name or root-path prefix"),
				"max_results": num("Maximum number of results", 20),
			}, "query"),
		},
		{
			Name:        "search_memory",
			Description: "Full-text search over saved memories",
			InputSchema: obj(map[string]interface{}{
				"query":       str("Search query"),
				"max_results": num("Maximum number of results", 20),
			}, "query"),
		},
		{
			Name:        "get_context",
			Description: "Build a token-budgeted context capsule for a natural-language query: intent detection, pivot search, graph expansion, and memory attachment",
			InputSchema: obj(map[string]interface{}{
				"query":      str("Natural-language query describing the task"),
				"max_tokens": num("Token budget", 12000),
				"repo":       str("Optional repo name or root-path prefix"),
			}, "query"),
		},
		{
			Name:        "get_dependencies",
			Description: "List what a symbol depends on (forward edges), up to a given depth",
			InputSchema: obj(map[string]interface{}{
				"symbol_name": str("Symbol name"),
				"depth":       num("Traversal depth, 1-3", 1),
			}, "symbol_name"),
		},
		{
			Name:        "get_dependents",
			Description: "List what depends on a symbol (reverse edges), up to a given depth",
			InputSchema: obj(map[string]interface{}{
				"symbol_name": str("Symbol name"),
				"depth":       num("Traversal depth, 1-3", 1),
			}, "symbol_name"),
		},
		{
			Name:        "get_impact_graph",
			Description: "Compute the blast radius of changing a symbol: every transitively affected dependent, with distance and edge kind",
			InputSchema: obj(map[string]interface{}{
				"symbol_name": str("Symbol name"),
				"depth":       num("Maximum depth, 1-5", 2),
				"repo":        str("Optional repo name or root-path prefix"),
			}, "symbol_name"),
		},
		{
			Name:        "search_logic_flow",
			Description: "Find up to max_paths distinct call/reference paths from one symbol to another",
			InputSchema: obj(map[string]interface{}{
				"from_symbol": str("Starting symbol name"),
				"to_symbol":   str("Target symbol name"),
				"max_paths":   num("Maximum number of paths to return", 3),
				"repo":        str("Optional repo name or root-path prefix"),
			}, "from_symbol", "to_symbol"),
		},
		{
			Name:        "save_memory",
			Description: "Save a manual memory (decision, pattern, bug fix, architecture note, or convention), optionally linked to symbols",
			InputSchema: obj(map[string]interface{}{
				"content":      str("Memory content"),
				"category":     str("One of: decision, pattern, bug_fix, architecture, convention"),
				"symbol_names": strArray("Optional symbol names to link"),
			}, "content", "category"),
		},
		{
			Name:        "list_memories",
			Description: "List saved memories, optionally filtered by category, staleness, or linked symbol",
			InputSchema: obj(map[string]interface{}{
				"category":      str("Optional category filter"),
				"include_stale": boolean("Include stale memories", false),
				"symbol_name":   str("Optional linked-symbol filter"),
			}),
		},
		{
			Name:        "update_memory",
			Description: "Update a memory's content, category, or linked symbols",
			InputSchema: obj(map[string]interface{}{
				"memory_id":    num("Memory id", 0),
				"content":      str("New content"),
				"category":     str("New category"),
				"symbol_names": strArray("New set of linked symbol names"),
			}, "memory_id"),
		},
		{
			Name:        "delete_memory",
			Description: "Delete a memory by id",
			InputSchema: obj(map[string]interface{}{
				"memory_id": num("Memory id", 0),
			}, "memory_id"),
		},
		{
			Name:        "get_repo_overview",
			Description: "Summarize a repository's file/symbol/memory counts and language breakdown",
			InputSchema: obj(map[string]interface{}{
				"repo": str("Optional repo name or root-path prefix; omitted lists all repos"),
			}),
		},
		{
			Name:        "get_health",
			Description: "Run a database integrity check and report diagnostics",
			InputSchema: obj(map[string]interface{}{}),
		},
		{
			Name:        "get_symbol_history",
			Description: "Return the git commit history of a symbol's line range via the external git tool",
			InputSchema: obj(map[string]interface{}{
				"symbol_name": str("Symbol name"),
				"max_entries": num("Maximum number of history entries", 10),
				"repo":        str("Optional repo name or root-path prefix"),
			}, "symbol_name"),
		},
		{
			Name:        "recover_session",
			Description: "Recover context after a session reset: recent manual memories, this session's auto-observations, and recently touched files/symbols. Clears the already-sent set.",
			InputSchema: obj(map[string]interface{}{
				"session_id": str("Optional session id whose auto-observations are recovered; defaults to the current session. A new session id is issued on every call"),
			}),
		},
	}
}

// RegisterTools wires every tool name to its handler method.
func (s *MCPServer) RegisterTools() {
	s.tools["query_symbol"] = s.toolQuerySymbol
	s.tools["get_file_symbols"] = s.toolGetFileSymbols
	s.tools["get_skeleton"] = s.toolGetSkeleton
	s.tools["batch_query"] = s.toolBatchQuery
	s.tools["search_code"] = s.toolSearchCode
	s.tools["search_memory"] = s.toolSearchMemory
	s.tools["get_context"] = s.toolGetContext
	s.tools["get_dependencies"] = s.toolGetDependencies
	s.tools["get_dependents"] = s.toolGetDependents
	s.tools["get_impact_graph"] = s.toolGetImpactGraph
	s.tools["search_logic_flow"] = s.toolSearchLogicFlow
	s.tools["save_memory"] = s.toolSaveMemory
	s.tools["list_memories"] = s.toolListMemories
	s.tools["update_memory"] = s.toolUpdateMemory
	s.tools["delete_memory"] = s.toolDeleteMemory
	s.tools["get_repo_overview"] = s.toolGetRepoOverview
	s.tools["get_health"] = s.toolGetHealth
	s.tools["get_symbol_history"] = s.toolGetSymbolHistory
	s.tools["recover_session"] = s.toolRecoverSession
}

// stringParam extracts a string parameter, returning "" if absent or the
// wrong type.
func stringParam(params map[string]interface{}, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

// intParam extracts a numeric parameter (JSON numbers decode as float64),
// falling back to def if absent or the wrong type.
func intParam(params map[string]interface{}, key string, def int) int {
	if v, ok := params[key].(float64); ok {
		return int(v)
	}
	return def
}

// boolParam extracts a boolean parameter, falling back to def.
func boolParam(params map[string]interface{}, key string, def bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return def
}

// stringSliceParam extracts a []string parameter from a decoded JSON array.
func stringSliceParam(params map[string]interface{}, key string) []string {
	raw, ok := params[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// skeleton renders a symbol without its body, for cases where the full
// body either isn't wanted or was already delivered this session.
type skeleton struct {
	SymbolID  int64  `json:"symbol_id"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Signature string `json:"signature"`
	FilePath  string `json:"file_path"`
	StartLine int64  `json:"start_line"`
	EndLine   int64  `json:"end_line"`
}

// fullSymbol renders a symbol with its body and linked memories.
type fullSymbol struct {
	skeleton
	Body     string          `json:"body"`
	Memories []storage.Memory `json:"memories,omitempty"`
}

func toSkeleton(sym storage.Symbol, filePath string) skeleton {
	return skeleton{
		SymbolID:  sym.ID,
		Name:      sym.Name,
		Kind:      sym.Kind,
		Signature: sym.Signature,
		FilePath:  filePath,
		StartLine: sym.StartLine,
		EndLine:   sym.EndLine,
	}
}

// toolQuerySymbol implements query_symbol.
func (s *MCPServer) toolQuerySymbol(params map[string]interface{}) (*envelope.Response, error) {
	name := stringParam(params, "name")
	if name == "" {
		return nil, errors.New(errors.BadRequest, "missing required field: name", nil)
	}
	kind := stringParam(params, "kind")
	repoID, err := s.resolveRepoID(stringParam(params, "repo"))
	if err != nil {
		return nil, err
	}

	var sym *storage.Symbol
	if repoID != nil {
		sym, err = s.db.FindSymbolByName(*repoID, name)
	} else {
		sym, err = s.db.FindSymbolByNameAny(name)
	}
	if err != nil {
		return nil, errors.New(errors.Fatal, "symbol lookup failed", err)
	}
	if sym == nil || (kind != "" && sym.Kind != kind) {
		return envelope.New().Data(map[string]interface{}{
			"found": false,
			"name":  name,
		}).Build(), nil
	}

	filePath, err := s.db.GetFilePathForSymbol(sym.ID)
	if err != nil {
		filePath = "<unknown>"
	}
	memories, err := s.db.GetMemoriesForSymbol(sym.ID, true)
	if err != nil {
		return nil, errors.New(errors.Fatal, "failed to load linked memories", err)
	}

	result := fullSymbol{skeleton: toSkeleton(*sym, filePath), Body: sym.Body, Memories: memories}
	s.markSent(sym.ID)
	s.recordAutoObservation("query_symbol", fmt.Sprintf("Looked up symbol %q (%s) in %s", name, sym.Kind, filePath), []int64{sym.ID})

	return envelope.New().Data(result).Build(), nil
}

// toolGetFileSymbols implements get_file_symbols.
func (s *MCPServer) toolGetFileSymbols(params map[string]interface{}) (*envelope.Response, error) {
	filePath := stringParam(params, "file_path")
	if filePath == "" {
		return nil, errors.New(errors.BadRequest, "missing required field: file_path", nil)
	}
	repoID, err := s.resolveRepoID(stringParam(params, "repo"))
	if err != nil {
		return nil, err
	}
	file, err := s.lookupFile(filePath, repoID)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return envelope.New().Data(map[string]interface{}{"found": false, "file_path": filePath}).Build(), nil
	}

	syms, err := s.db.GetSymbolsByFile(file.ID)
	if err != nil {
		return nil, errors.New(errors.Fatal, "failed to load file symbols", err)
	}

	skeletons := make([]skeleton, 0, len(syms))
	ids := make([]int64, 0, len(syms))
	for _, sym := range syms {
		skeletons = append(skeletons, toSkeleton(sym, filePath))
		ids = append(ids, sym.ID)
	}

	s.recordAutoObservation("get_file_symbols", fmt.Sprintf("Listed %d symbols in %s", len(syms), filePath), ids)

	return envelope.New().Data(map[string]interface{}{
		"file_path": filePath,
		"symbols":   skeletons,
	}).Build(), nil
}

// toolGetSkeleton implements get_skeleton: identical to get_file_symbols in
// substance (a signatures-only view), kept as a distinct tool name because
// callers reach for it by a different mental model ("show me the shape of
// this file" vs. "list its symbols").
func (s *MCPServer) toolGetSkeleton(params map[string]interface{}) (*envelope.Response, error) {
	resp, err := s.toolGetFileSymbols(params)
	if err != nil {
		return nil, err
	}
	if detail := stringParam(params, "detail"); detail != "" {
		resp.Meta = &envelope.Meta{}
	}
	return resp, nil
}

// lookupFile resolves a file by path, scoped to repoID when given or
// searched across every repository otherwise.
func (s *MCPServer) lookupFile(filePath string, repoID *int64) (*storage.File, error) {
	if repoID != nil {
		f, err := s.db.GetFileByPath(*repoID, filePath)
		if err != nil {
			return nil, errors.New(errors.Fatal, "file lookup failed", err)
		}
		return f, nil
	}

	repos, err := s.db.ListRepositories()
	if err != nil {
		return nil, errors.New(errors.Fatal, "failed to list repositories", err)
	}
	for _, r := range repos {
		f, err := s.db.GetFileByPath(r.ID, filePath)
		if err != nil {
			return nil, errors.New(errors.Fatal, "file lookup failed", err)
		}
		if f != nil {
			return f, nil
		}
	}
	return nil, nil
}

// toolBatchQuery implements batch_query.
func (s *MCPServer) toolBatchQuery(params map[string]interface{}) (*envelope.Response, error) {
	names := stringSliceParam(params, "symbol_names")
	if len(names) == 0 {
		return nil, errors.New(errors.BadRequest, "missing required field: symbol_names", nil)
	}
	maxTokens := intParam(params, "max_tokens", 12000)
	includeBody := boolParam(params, "include_body", true)

	var items []interface{}
	seen := make(map[int64]bool)
	var ids []int64
	budgetUsed := 0

	for _, name := range names {
		sym, err := s.db.FindSymbolByNameAny(name)
		if err != nil {
			return nil, errors.New(errors.Fatal, "symbol lookup failed", err)
		}
		if sym == nil {
			continue
		}
		filePath, _ := s.db.GetFilePathForSymbol(sym.ID)

		cost := estimateItemTokens(sym, filePath, includeBody)
		if budgetUsed+cost > maxTokens {
			break
		}
		budgetUsed += cost

		if includeBody {
			items = append(items, fullSymbol{skeleton: toSkeleton(*sym, filePath), Body: sym.Body})
			s.markSent(sym.ID)
		} else {
			items = append(items, toSkeleton(*sym, filePath))
		}
		seen[sym.ID] = true
		ids = append(ids, sym.ID)
	}

	var hints []string
	hintSeen := make(map[string]bool)
	for _, id := range ids {
		rawHints, err := s.db.GetDependencyHintNames(id)
		if err != nil {
			continue
		}
		for _, h := range rawHints {
			key := h.EdgeKind + ":" + h.Name
			if hintSeen[key] {
				continue
			}
			target, err := s.db.FindSymbolByNameAny(h.Name)
			if err == nil && target != nil && seen[target.ID] {
				continue
			}
			hintSeen[key] = true
			hints = append(hints, formatDependencyHint(h))
		}
	}

	s.recordAutoObservation("batch_query", fmt.Sprintf("Batch-fetched %d symbols", len(ids)), ids)

	return envelope.New().
		Data(map[string]interface{}{
			"symbols":          items,
			"dependency_hints": hints,
		}).
		WithTruncation(len(ids) < len(names), len(ids), len(names), "token_budget").
		Build(), nil
}

func formatDependencyHint(h storage.DependencyHint) string {
	switch h.EdgeKind {
	case "type_ref":
		return fmt.Sprintf("References trait `%s` (not in context)", h.Name)
	case "imports":
		return fmt.Sprintf("Imports `%s` (not in context)", h.Name)
	default:
		return fmt.Sprintf("Calls `%s` (not in context)", h.Name)
	}
}

func estimateItemTokens(sym *storage.Symbol, filePath string, includeBody bool) int {
	body := sym.Body
	if !includeBody {
		body = ""
	}
	n := len(sym.Name) + len(sym.Kind) + len(sym.Signature) + len(body) + len(filePath) + 20
	return (n + 3) / 4
}

// toolSearchCode implements search_code.
func (s *MCPServer) toolSearchCode(params map[string]interface{}) (*envelope.Response, error) {
	query := stringParam(params, "query")
	if query == "" {
		return nil, errors.New(errors.BadRequest, "missing required field: query", nil)
	}
	maxResults := intParam(params, "max_results", 20)
	kind := stringParam(params, "kind")
	repoID, err := s.resolveRepoID(stringParam(params, "repo"))
	if err != nil {
		return nil, err
	}

	var hits []storage.SymbolSearchHit
	if repoID != nil {
		hits, err = s.db.SearchSymbols(*repoID, query, maxResults)
	} else {
		repos, lerr := s.db.ListRepositories()
		if lerr != nil {
			return nil, errors.New(errors.Fatal, "failed to list repositories", lerr)
		}
		for _, r := range repos {
			h, serr := s.db.SearchSymbols(r.ID, query, maxResults)
			if serr != nil {
				continue
			}
			hits = append(hits, h...)
		}
	}
	if err != nil {
		return nil, errors.New(errors.Fatal, "search failed", err)
	}

	results := make([]skeleton, 0, len(hits))
	ids := make([]int64, 0, len(hits))
	for _, hit := range hits {
		sym, err := s.db.GetSymbolByID(hit.SymbolID)
		if err != nil || sym == nil {
			continue
		}
		if kind != "" && sym.Kind != kind {
			continue
		}
		filePath, _ := s.db.GetFilePathForSymbol(sym.ID)
		results = append(results, toSkeleton(*sym, filePath))
		ids = append(ids, sym.ID)
		if len(results) >= maxResults {
			break
		}
	}

	s.recordAutoObservation("search_code", fmt.Sprintf("Searched code for %q, %d hits", query, len(results)), ids)

	return envelope.New().
		Data(map[string]interface{}{"results": results}).
		WithTruncation(len(hits) > len(results), len(results), len(hits), "max_results").
		Build(), nil
}

// toolSearchMemory implements search_memory.
func (s *MCPServer) toolSearchMemory(params map[string]interface{}) (*envelope.Response, error) {
	query := stringParam(params, "query")
	if query == "" {
		return nil, errors.New(errors.BadRequest, "missing required field: query", nil)
	}
	maxResults := intParam(params, "max_results", 20)

	hits, err := s.db.SearchMemories(query, maxResults)
	if err != nil {
		return nil, errors.New(errors.Fatal, "memory search failed", err)
	}

	return envelope.New().Data(map[string]interface{}{"results": hits}).Build(), nil
}

// toolGetContext implements get_context.
func (s *MCPServer) toolGetContext(params map[string]interface{}) (*envelope.Response, error) {
	query := stringParam(params, "query")
	if query == "" {
		return nil, errors.New(errors.BadRequest, "missing required field: query", nil)
	}
	maxTokens := intParam(params, "max_tokens", 12000)
	repoID, err := s.resolveRepoID(stringParam(params, "repo"))
	if err != nil {
		return nil, err
	}

	capsule, err := s.context.GetCapsule(query, maxTokens, repoID, s.alreadySentSnapshot())
	if err != nil {
		return nil, errors.New(errors.Fatal, "failed to build context capsule", err)
	}

	var ids []int64
	for _, item := range capsule.Items {
		ids = append(ids, item.SymbolID)
		if !item.IsPivot || item.Body != "" {
			s.markSent(item.SymbolID)
		}
	}

	s.recordAutoObservation("get_context", fmt.Sprintf("Built %s-intent context capsule for %q", capsule.Intent, query), ids)

	return envelope.New().
		Data(capsule).
		WithTruncation(capsule.TotalTokens >= capsule.Budget, len(capsule.Items), len(capsule.Items), "token_budget").
		Build(), nil
}

// traversalDepth reads a depth parameter, rejecting values outside [lo, hi]
// with InvalidDepth.
func traversalDepth(params map[string]interface{}, def, lo, hi int) (int, error) {
	depth := intParam(params, "depth", def)
	if depth < lo || depth > hi {
		return 0, errors.New(errors.InvalidDepth, fmt.Sprintf("depth must be between %d and %d", lo, hi), nil)
	}
	return depth, nil
}

// toolGetDependencies implements get_dependencies.
func (s *MCPServer) toolGetDependencies(params map[string]interface{}) (*envelope.Response, error) {
	return s.directedEdges(params, "get_dependencies", false)
}

// toolGetDependents implements get_dependents.
func (s *MCPServer) toolGetDependents(params map[string]interface{}) (*envelope.Response, error) {
	return s.directedEdges(params, "get_dependents", true)
}

// directedEdges implements get_dependencies/get_dependents: a BFS of the
// given depth along reverse edges (dependents) or forward edges
// (dependencies), delegated to a single call into the graph package.
func (s *MCPServer) directedEdges(params map[string]interface{}, tool string, reverse bool) (*envelope.Response, error) {
	symbolName := stringParam(params, "symbol_name")
	if symbolName == "" {
		return nil, errors.New(errors.BadRequest, "missing required field: symbol_name", nil)
	}
	depth, err := traversalDepth(params, 1, 1, 3)
	if err != nil {
		return nil, err
	}

	var nodes []graph.ImpactNode
	if reverse {
		nodes, err = s.graph.ImpactGraph(symbolName, depth, nil)
	} else {
		nodes, err = s.graph.Dependencies(symbolName, depth, nil)
	}
	if err != nil {
		return nil, errors.New(errors.SymbolNotFound, err.Error(), err)
	}

	ids := make([]int64, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.SymbolID)
	}
	s.recordAutoObservation(tool, fmt.Sprintf("%s on %q found %d symbols", tool, symbolName, len(nodes)), ids)

	return envelope.New().Data(map[string]interface{}{"edges": nodes}).Build(), nil
}

// toolGetImpactGraph implements get_impact_graph.
func (s *MCPServer) toolGetImpactGraph(params map[string]interface{}) (*envelope.Response, error) {
	symbolName := stringParam(params, "symbol_name")
	if symbolName == "" {
		return nil, errors.New(errors.BadRequest, "missing required field: symbol_name", nil)
	}
	depth, err := traversalDepth(params, 2, 1, 5)
	if err != nil {
		return nil, err
	}
	repoID, err := s.resolveRepoID(stringParam(params, "repo"))
	if err != nil {
		return nil, err
	}

	nodes, err := s.graph.ImpactGraph(symbolName, depth, repoID)
	if err != nil {
		return nil, errors.New(errors.SymbolNotFound, err.Error(), err)
	}

	ids := make([]int64, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.SymbolID)
	}
	s.recordAutoObservation("get_impact_graph", fmt.Sprintf("Computed impact graph for %q, %d affected symbols", symbolName, len(nodes)), ids)

	return envelope.New().Data(map[string]interface{}{"impact": nodes}).Build(), nil
}

// toolSearchLogicFlow implements search_logic_flow.
func (s *MCPServer) toolSearchLogicFlow(params map[string]interface{}) (*envelope.Response, error) {
	fromSymbol := stringParam(params, "from_symbol")
	toSymbol := stringParam(params, "to_symbol")
	if fromSymbol == "" || toSymbol == "" {
		return nil, errors.New(errors.BadRequest, "missing required field: from_symbol and to_symbol are both required", nil)
	}
	maxPaths := intParam(params, "max_paths", 3)
	repoID, err := s.resolveRepoID(stringParam(params, "repo"))
	if err != nil {
		return nil, err
	}

	paths, err := s.graph.FindPaths(fromSymbol, toSymbol, maxPaths, repoID)
	if err != nil {
		return nil, errors.New(errors.SymbolNotFound, err.Error(), err)
	}

	var ids []int64
	for _, path := range paths {
		for _, node := range path {
			ids = append(ids, node.SymbolID)
		}
	}
	s.recordAutoObservation("search_logic_flow", fmt.Sprintf("Traced %q -> %q, found %d paths", fromSymbol, toSymbol, len(paths)), ids)

	return envelope.New().Data(map[string]interface{}{"paths": paths}).Build(), nil
}

// toolSaveMemory implements save_memory.
func (s *MCPServer) toolSaveMemory(params map[string]interface{}) (*envelope.Response, error) {
	content := stringParam(params, "content")
	category := stringParam(params, "category")
	if content == "" || category == "" {
		return nil, errors.New(errors.BadRequest, "missing required field: content and category are both required", nil)
	}

	symbolIDs, err := s.resolveSymbolIDs(stringSliceParam(params, "symbol_names"))
	if err != nil {
		return nil, err
	}

	id, err := s.db.SaveMemory(content, category, symbolIDs)
	if err != nil {
		return nil, errors.New(errors.Fatal, "failed to save memory", err)
	}

	return OperationalResponse(map[string]interface{}{"memory_id": id}), nil
}

// resolveSymbolIDs resolves a list of symbol names to ids, skipping any
// name that doesn't resolve rather than failing the whole call.
func (s *MCPServer) resolveSymbolIDs(names []string) ([]int64, error) {
	var ids []int64
	for _, name := range names {
		sym, err := s.db.FindSymbolByNameAny(name)
		if err != nil {
			return nil, errors.New(errors.Fatal, "symbol lookup failed", err)
		}
		if sym != nil {
			ids = append(ids, sym.ID)
		}
	}
	return ids, nil
}

// toolListMemories implements list_memories.
func (s *MCPServer) toolListMemories(params map[string]interface{}) (*envelope.Response, error) {
	filter := storage.MemoryFilter{
		Category:     stringParam(params, "category"),
		IncludeStale: boolParam(params, "include_stale", false),
		SymbolName:   stringParam(params, "symbol_name"),
	}

	memories, err := s.db.ListMemories(filter)
	if err != nil {
		return nil, errors.New(errors.Fatal, "failed to list memories", err)
	}

	return envelope.New().Data(map[string]interface{}{"memories": memories}).Build(), nil
}

// toolUpdateMemory implements update_memory.
func (s *MCPServer) toolUpdateMemory(params map[string]interface{}) (*envelope.Response, error) {
	memoryID := int64(intParam(params, "memory_id", 0))
	if memoryID == 0 {
		return nil, errors.New(errors.BadRequest, "missing required field: memory_id", nil)
	}

	existing, err := s.db.GetMemoryByID(memoryID)
	if err != nil {
		return nil, errors.New(errors.Fatal, "memory lookup failed", err)
	}
	if existing == nil {
		return nil, errors.New(errors.MemoryNotFound, fmt.Sprintf("memory %d not found", memoryID), nil)
	}

	content := stringParam(params, "content")
	if content == "" {
		content = existing.Content
	}
	category := stringParam(params, "category")
	if category == "" {
		category = existing.Category
	}

	symbolNames := stringSliceParam(params, "symbol_names")
	var symbolIDs []int64
	if symbolNames != nil {
		symbolIDs, err = s.resolveSymbolIDs(symbolNames)
		if err != nil {
			return nil, err
		}
	} else {
		symbolIDs, err = s.db.GetSymbolIDsForMemory(memoryID)
		if err != nil {
			return nil, errors.New(errors.Fatal, "failed to load existing links", err)
		}
	}

	if err := s.db.UpdateMemory(memoryID, content, category, symbolIDs); err != nil {
		return nil, errors.New(errors.Fatal, "failed to update memory", err)
	}

	return OperationalResponse(map[string]interface{}{"ok": true}), nil
}

// toolDeleteMemory implements delete_memory.
func (s *MCPServer) toolDeleteMemory(params map[string]interface{}) (*envelope.Response, error) {
	memoryID := int64(intParam(params, "memory_id", 0))
	if memoryID == 0 {
		return nil, errors.New(errors.BadRequest, "missing required field: memory_id", nil)
	}

	ok, err := s.db.DeleteMemory(memoryID)
	if err != nil {
		return nil, errors.New(errors.Fatal, "failed to delete memory", err)
	}
	if !ok {
		return nil, errors.New(errors.MemoryNotFound, fmt.Sprintf("memory %d not found", memoryID), nil)
	}

	return OperationalResponse(map[string]interface{}{"ok": true}), nil
}

// toolGetRepoOverview implements get_repo_overview.
func (s *MCPServer) toolGetRepoOverview(params map[string]interface{}) (*envelope.Response, error) {
	repo := stringParam(params, "repo")

	if repo == "" {
		repos, err := s.db.ListRepositories()
		if err != nil {
			return nil, errors.New(errors.Fatal, "failed to list repositories", err)
		}
		overviews := make([]*storage.RepoOverview, 0, len(repos))
		for _, r := range repos {
			ov, err := s.db.GetRepoOverview(r.ID)
			if err != nil {
				continue
			}
			overviews = append(overviews, ov)
		}
		return OperationalResponse(map[string]interface{}{"repos": overviews}), nil
	}

	repoID, err := s.resolveRepoID(repo)
	if err != nil {
		return nil, err
	}
	ov, err := s.db.GetRepoOverview(*repoID)
	if err != nil {
		return nil, errors.New(errors.Fatal, "failed to load repo overview", err)
	}
	return OperationalResponse(ov), nil
}

// toolGetHealth implements get_health.
func (s *MCPServer) toolGetHealth(params map[string]interface{}) (*envelope.Response, error) {
	report, err := s.db.CheckHealth()
	if err != nil {
		return nil, errors.New(errors.Fatal, "health check failed", err)
	}
	if !report.OK {
		return envelope.New().
			Data(report).
			Error(errors.New(errors.Corruption, "database integrity check failed", nil)).
			Build(), nil
	}
	return OperationalResponse(report), nil
}

// toolGetSymbolHistory implements get_symbol_history by shelling out to
// git log -L on the symbol's line range, the sole git collaborator this service
// uses (per the spec's explicit carve-out for blame retrieval).
func (s *MCPServer) toolGetSymbolHistory(params map[string]interface{}) (*envelope.Response, error) {
	symbolName := stringParam(params, "symbol_name")
	if symbolName == "" {
		return nil, errors.New(errors.BadRequest, "missing required field: symbol_name", nil)
	}
	maxEntries := intParam(params, "max_entries", 10)
	repoID, err := s.resolveRepoID(stringParam(params, "repo"))
	if err != nil {
		return nil, err
	}

	var sym *storage.Symbol
	if repoID != nil {
		sym, err = s.db.FindSymbolByName(*repoID, symbolName)
	} else {
		sym, err = s.db.FindSymbolByNameAny(symbolName)
	}
	if err != nil {
		return nil, errors.New(errors.Fatal, "symbol lookup failed", err)
	}
	if sym == nil {
		return nil, errors.New(errors.SymbolNotFound, fmt.Sprintf("symbol %q not found", symbolName), nil)
	}

	filePath, err := s.db.GetFilePathForSymbol(sym.ID)
	if err != nil {
		return nil, errors.New(errors.Fatal, "failed to resolve file path", err)
	}

	entries, err := blameHistory(filePath, sym.StartLine, sym.EndLine, maxEntries)
	if err != nil {
		return envelope.New().
			Data(map[string]interface{}{"file_path": filePath, "history": nil}).
			Warning("git blame unavailable: " + err.Error()).
			Build(), nil
	}

	s.recordAutoObservation("get_symbol_history", fmt.Sprintf("Fetched history for %q in %s", symbolName, filePath), []int64{sym.ID})

	return envelope.New().Data(map[string]interface{}{
		"file_path": filePath,
		"history":   entries,
	}).Build(), nil
}

// toolRecoverSession implements recover_session.
func (s *MCPServer) toolRecoverSession(params map[string]interface{}) (*envelope.Response, error) {
	sessionID := stringParam(params, "session_id")
	if sessionID == "" {
		sessionID = s.currentSessionID()
	}

	recovery, err := s.db.GetSessionRecovery(sessionID)
	if err != nil {
		return nil, errors.New(errors.Fatal, "failed to recover session", err)
	}

	newSessionID := s.resetSession()
	recovery.SessionID = newSessionID

	return OperationalResponse(recovery), nil
}
