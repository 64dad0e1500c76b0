// Package grammar extracts symbols and references from parsed source files
// via tree-sitter. Each supported language implements Grammar as a pure
// function of (source, tree): no I/O, no global state.
package grammar

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// ExtractedSymbol is a symbol found by a Grammar's ExtractSymbols.
// ParentPath is non-empty for symbols nested under another (e.g. a method's
// enclosing type), and is resolved to a symbols.parent_id by the indexer
// after insertion.
type ExtractedSymbol struct {
	Name       string
	Kind       string
	Signature  string
	Body       string
	StartLine  int
	EndLine    int
	ParentPath string
	Children   []ExtractedSymbol
}

// ExtractedReference is a reference found by a Grammar's ExtractReferences.
type ExtractedReference struct {
	FromSymbol string
	ToName     string
	Kind       string // "calls", "imports", "type_ref"
}

// Grammar extracts symbols and references from one language's parse tree.
type Grammar interface {
	Language() *sitter.Language
	FileExtensions() []string
	ExtractSymbols(source []byte, tree *sitter.Tree) []ExtractedSymbol
	ExtractReferences(source []byte, tree *sitter.Tree) []ExtractedReference
}

// Registry maps file extensions to the Grammar that handles them.
type Registry struct {
	grammars []Grammar
}

// NewRegistry builds the registry with every supported language wired in.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Register(&GoGrammar{})
	r.Register(&RustGrammar{})
	r.Register(&TypeScriptGrammar{})
	r.Register(&TsxGrammar{})
	r.Register(&JavaScriptGrammar{})
	r.Register(&PythonGrammar{})
	return r
}

// Register adds a grammar to the registry.
func (r *Registry) Register(g Grammar) {
	r.grammars = append(r.grammars, g)
}

// ForExtension returns the grammar handling ext (without the leading dot),
// or nil if no grammar claims it.
func (r *Registry) ForExtension(ext string) Grammar {
	for _, g := range r.grammars {
		for _, e := range g.FileExtensions() {
			if e == ext {
				return g
			}
		}
	}
	return nil
}

// ForPath resolves the grammar for a file path by its extension.
func (r *Registry) ForPath(path string) Grammar {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "" {
		return nil
	}
	return r.ForExtension(ext)
}

// DetectLanguage returns the canonical language name for a file path
// (the grammar's first registered extension), or "" if unsupported.
func (r *Registry) DetectLanguage(path string) string {
	g := r.ForPath(path)
	if g == nil {
		return ""
	}
	return g.FileExtensions()[0]
}

// Parser wraps a tree-sitter parser for one-shot parses across languages.
type Parser struct {
	parser *sitter.Parser
}

// NewParser creates a tree-sitter parser.
func NewParser() *Parser {
	return &Parser{parser: sitter.NewParser()}
}

// Parse parses source under the given grammar's language.
func (p *Parser) Parse(ctx context.Context, source []byte, g Grammar) (*sitter.Tree, error) {
	p.parser.SetLanguage(g.Language())
	tree, err := p.parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	return tree, nil
}

func nodeText(node *sitter.Node, source []byte) string {
	if node == nil {
		return ""
	}
	return string(source[node.StartByte():node.EndByte()])
}

// signatureUpTo returns the trimmed text between node's start and body's
// start — everything before the opening brace/colon of a declaration.
func signatureUpTo(node, body *sitter.Node, source []byte) string {
	if body == nil {
		return strings.TrimSpace(nodeText(node, source))
	}
	return strings.TrimSpace(string(source[node.StartByte():body.StartByte()]))
}

// declarationLine returns everything before the first '{' in body, trimmed;
// the whole trimmed body if there is no brace (single-line declarations).
func declarationLine(body string) string {
	if idx := strings.IndexByte(body, '{'); idx >= 0 {
		return strings.TrimSpace(body[:idx])
	}
	return strings.TrimSpace(body)
}

func findChildByType(node *sitter.Node, kind string) *sitter.Node {
	if node == nil {
		return nil
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child != nil && child.Type() == kind {
			return child
		}
	}
	return nil
}

func childrenOf(node *sitter.Node) []*sitter.Node {
	if node == nil {
		return nil
	}
	out := make([]*sitter.Node, 0, node.ChildCount())
	for i := 0; i < int(node.ChildCount()); i++ {
		out = append(out, node.Child(i))
	}
	return out
}

// walk visits every node in the tree rooted at root, depth-first.
func walk(root *sitter.Node, visit func(*sitter.Node)) {
	if root == nil {
		return
	}
	visit(root)
	for i := 0; i < int(root.ChildCount()); i++ {
		walk(root.Child(i), visit)
	}
}
