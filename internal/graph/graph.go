// Package graph implements BFS traversal over the symbol dependency graph:
// impact analysis (who breaks if I change this?) and path discovery (how
// does A reach B?).
package graph

import (
	"fmt"
	"sort"

	"github.com/InfraWhisperer/focal/internal/storage"
)

const (
	maxPathLen   = 10
	maxQueueSize = 10_000
)

// ImpactNode is one symbol in a blast-radius result, annotated with its
// distance from the root and the edge kind that connected it.
type ImpactNode struct {
	SymbolID int64  `json:"symbol_id"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	FilePath string `json:"file_path"`
	Distance int    `json:"distance"`
	EdgeKind string `json:"edge_kind"`
}

// PathNode is one symbol in a dependency path result.
type PathNode struct {
	SymbolID int64  `json:"symbol_id"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	FilePath string `json:"file_path"`
}

// Engine runs BFS traversals over the stored symbol/edge graph.
type Engine struct {
	db *storage.DB
}

// New creates a graph Engine over db.
func New(db *storage.DB) *Engine {
	return &Engine{db: db}
}

// ImpactGraph runs a BFS over reverse edges (dependents) starting from
// symbolName, returning every symbol transitively affected by changing it,
// up to maxDepth hops away. repoID narrows symbol-name resolution to a
// single repository; nil searches across all of them.
func (e *Engine) ImpactGraph(symbolName string, maxDepth int, repoID *int64) ([]ImpactNode, error) {
	root, err := e.resolveSymbol(symbolName, repoID)
	if err != nil {
		return nil, err
	}

	visited := map[int64]bool{root.ID: true}
	type queueEntry struct {
		id    int64
		depth int
	}
	queue := []queueEntry{{id: root.ID, depth: 0}}

	var results []ImpactNode

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current.depth >= maxDepth {
			continue
		}

		dependents, err := e.db.GetDependents(current.id)
		if err != nil {
			return nil, fmt.Errorf("failed to get dependents of symbol %d: %w", current.id, err)
		}

		for _, es := range dependents {
			if visited[es.Symbol.ID] {
				continue
			}
			visited[es.Symbol.ID] = true

			filePath, err := e.db.GetFilePathForSymbol(es.Symbol.ID)
			if err != nil {
				filePath = "<unknown>"
			}

			results = append(results, ImpactNode{
				SymbolID: es.Symbol.ID,
				Name:     es.Symbol.Name,
				Kind:     es.Symbol.Kind,
				FilePath: filePath,
				Distance: current.depth + 1,
				EdgeKind: es.Edge.Kind,
			})

			queue = append(queue, queueEntry{id: es.Symbol.ID, depth: current.depth + 1})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		return a.Name < b.Name
	})

	return results, nil
}

// Dependencies runs a BFS over forward edges (dependencies) starting from
// symbolName, returning every symbol it transitively depends on, up to
// maxDepth hops away. repoID narrows symbol-name resolution to a single
// repository; nil searches across all of them.
func (e *Engine) Dependencies(symbolName string, maxDepth int, repoID *int64) ([]ImpactNode, error) {
	root, err := e.resolveSymbol(symbolName, repoID)
	if err != nil {
		return nil, err
	}

	visited := map[int64]bool{root.ID: true}
	type queueEntry struct {
		id    int64
		depth int
	}
	queue := []queueEntry{{id: root.ID, depth: 0}}

	var results []ImpactNode

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current.depth >= maxDepth {
			continue
		}

		deps, err := e.db.GetDependencies(current.id)
		if err != nil {
			return nil, fmt.Errorf("failed to get dependencies of symbol %d: %w", current.id, err)
		}

		for _, es := range deps {
			if visited[es.Symbol.ID] {
				continue
			}
			visited[es.Symbol.ID] = true

			filePath, err := e.db.GetFilePathForSymbol(es.Symbol.ID)
			if err != nil {
				filePath = "<unknown>"
			}

			results = append(results, ImpactNode{
				SymbolID: es.Symbol.ID,
				Name:     es.Symbol.Name,
				Kind:     es.Symbol.Kind,
				FilePath: filePath,
				Distance: current.depth + 1,
				EdgeKind: es.Edge.Kind,
			})

			queue = append(queue, queueEntry{id: es.Symbol.ID, depth: current.depth + 1})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		return a.Name < b.Name
	})

	return results, nil
}

// FindPaths runs a BFS over forward edges (dependencies) from fromName to
// toName, returning up to maxPaths distinct symbol chains, shortest first
// and equal lengths ordered by their node names. Each path holds at most
// maxPathLen symbols and the search queue at most maxQueueSize entries,
// to bound runaway traversal in a densely connected graph.
func (e *Engine) FindPaths(fromName, toName string, maxPaths int, repoID *int64) ([][]PathNode, error) {
	source, err := e.resolveSymbol(fromName, repoID)
	if err != nil {
		return nil, err
	}
	target, err := e.resolveSymbol(toName, repoID)
	if err != nil {
		return nil, err
	}

	var foundPaths [][]int64
	queue := [][]int64{{source.ID}}

	symbolCache := map[int64]storage.Symbol{
		source.ID: *source,
		target.ID: *target,
	}

	for len(queue) > 0 {
		if len(foundPaths) >= maxPaths || len(queue) > maxQueueSize {
			break
		}

		path := queue[0]
		queue = queue[1:]

		currentID := path[len(path)-1]

		if currentID == target.ID {
			foundPaths = append(foundPaths, path)
			continue
		}
		if len(path) >= maxPathLen {
			continue
		}

		onPath := make(map[int64]bool, len(path))
		for _, id := range path {
			onPath[id] = true
		}

		deps, err := e.db.GetDependencies(currentID)
		if err != nil {
			return nil, fmt.Errorf("failed to get dependencies of symbol %d: %w", currentID, err)
		}

		for _, es := range deps {
			if onPath[es.Symbol.ID] {
				continue
			}
			if _, ok := symbolCache[es.Symbol.ID]; !ok {
				symbolCache[es.Symbol.ID] = es.Symbol
			}
			newPath := make([]int64, len(path), len(path)+1)
			copy(newPath, path)
			newPath = append(newPath, es.Symbol.ID)
			queue = append(queue, newPath)
		}
	}

	paths := make([][]PathNode, 0, len(foundPaths))
	for _, idPath := range foundPaths {
		nodePath := make([]PathNode, 0, len(idPath))
		for _, id := range idPath {
			sym, ok := symbolCache[id]
			if !ok {
				continue
			}
			filePath, err := e.db.GetFilePathForSymbol(id)
			if err != nil {
				filePath = "<unknown>"
			}
			nodePath = append(nodePath, PathNode{
				SymbolID: sym.ID,
				Name:     sym.Name,
				Kind:     sym.Kind,
				FilePath: filePath,
			})
		}
		paths = append(paths, nodePath)
	}

	sort.SliceStable(paths, func(i, j int) bool {
		a, b := paths[i], paths[j]
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		for k := range a {
			if a[k].Name != b[k].Name {
				return a[k].Name < b[k].Name
			}
		}
		return false
	})

	return paths, nil
}

// resolveSymbol looks up a symbol by name, scoped to repoID when non-nil or
// across every repository otherwise.
func (e *Engine) resolveSymbol(name string, repoID *int64) (*storage.Symbol, error) {
	var sym *storage.Symbol
	var err error
	if repoID != nil {
		sym, err = e.db.FindSymbolByName(*repoID, name)
	} else {
		sym, err = e.db.FindSymbolByNameAny(name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve symbol %q: %w", name, err)
	}
	if sym == nil {
		return nil, fmt.Errorf("symbol %q not found", name)
	}
	return sym, nil
}
