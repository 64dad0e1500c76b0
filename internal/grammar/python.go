package grammar

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// PythonGrammar extracts symbols and references from Python source.
type PythonGrammar struct{}

func (g *PythonGrammar) Language() *sitter.Language { return python.GetLanguage() }
func (g *PythonGrammar) FileExtensions() []string   { return []string{"py"} }

func (g *PythonGrammar) ExtractSymbols(source []byte, tree *sitter.Tree) []ExtractedSymbol {
	root := tree.RootNode()
	var out []ExtractedSymbol
	for i := 0; i < int(root.ChildCount()); i++ {
		node := root.Child(i)
		if node == nil {
			continue
		}
		switch node.Type() {
		case "function_definition":
			if sym, ok := pyFunctionSymbol(node, source, "", "function"); ok {
				out = append(out, sym)
			}
		case "class_definition":
			if sym, ok := pyClassSymbol(node, source); ok {
				out = append(out, sym)
			}
		}
	}
	return out
}

func pyFunctionSymbol(node *sitter.Node, source []byte, className, kind string) (ExtractedSymbol, bool) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return ExtractedSymbol{}, false
	}
	name := nodeText(nameNode, source)
	if className != "" {
		name = className + "." + name
		kind = "method"
	}
	body := node.ChildByFieldName("body")
	return ExtractedSymbol{
		Name:       name,
		Kind:       kind,
		Signature:  signatureUpTo(node, body, source),
		Body:       nodeText(node, source),
		StartLine:  int(node.StartPoint().Row) + 1,
		EndLine:    int(node.EndPoint().Row) + 1,
		ParentPath: className,
	}, true
}

func pyClassSymbol(node *sitter.Node, source []byte) (ExtractedSymbol, bool) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return ExtractedSymbol{}, false
	}
	className := nodeText(nameNode, source)
	body := node.ChildByFieldName("body")

	var children []ExtractedSymbol
	if body != nil {
		for i := 0; i < int(body.ChildCount()); i++ {
			member := body.Child(i)
			if member == nil || member.Type() != "function_definition" {
				continue
			}
			if sym, ok := pyFunctionSymbol(member, source, className, "method"); ok {
				children = append(children, sym)
			}
		}
	}

	return ExtractedSymbol{
		Name:      className,
		Kind:      "class",
		Signature: signatureUpTo(node, body, source),
		Body:      nodeText(node, source),
		StartLine: int(node.StartPoint().Row) + 1,
		EndLine:   int(node.EndPoint().Row) + 1,
		Children:  children,
	}, true
}

func (g *PythonGrammar) ExtractReferences(source []byte, tree *sitter.Tree) []ExtractedReference {
	root := tree.RootNode()
	var out []ExtractedReference
	walk(root, func(node *sitter.Node) {
		switch node.Type() {
		case "call":
			fn := node.ChildByFieldName("function")
			if fn == nil {
				return
			}
			if toName := pyCalleeName(fn, source); toName != "" {
				out = append(out, ExtractedReference{
					FromSymbol: pyEnclosingFunctionName(node, source),
					ToName:     toName,
					Kind:       "calls",
				})
			}
		case "import_statement", "import_from_statement":
			out = append(out, ExtractedReference{ToName: nodeText(node, source), Kind: "imports"})
		}
	})
	return out
}

func pyCalleeName(fn *sitter.Node, source []byte) string {
	switch fn.Type() {
	case "identifier":
		return nodeText(fn, source)
	case "attribute":
		var last *sitter.Node
		for i := 0; i < int(fn.ChildCount()); i++ {
			child := fn.Child(i)
			if child != nil && child.Type() == "identifier" {
				last = child
			}
		}
		if last != nil {
			return nodeText(last, source)
		}
	}
	return ""
}

func pyEnclosingFunctionName(node *sitter.Node, source []byte) string {
	for n := node.Parent(); n != nil; n = n.Parent() {
		if n.Type() == "function_definition" {
			className := ""
			for p := n.Parent(); p != nil; p = p.Parent() {
				if p.Type() == "class_definition" {
					if nameNode := p.ChildByFieldName("name"); nameNode != nil {
						className = nodeText(nameNode, source)
					}
					break
				}
			}
			if sym, ok := pyFunctionSymbol(n, source, className, "function"); ok {
				return sym.Name
			}
		}
	}
	return ""
}
