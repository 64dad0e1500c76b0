package grammar

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// TypeScriptGrammar extracts symbols and references from TypeScript source.
type TypeScriptGrammar struct{}

func (g *TypeScriptGrammar) Language() *sitter.Language { return typescript.GetLanguage() }
func (g *TypeScriptGrammar) FileExtensions() []string   { return []string{"ts"} }
func (g *TypeScriptGrammar) ExtractSymbols(source []byte, tree *sitter.Tree) []ExtractedSymbol {
	return tsExtractSymbols(source, tree)
}
func (g *TypeScriptGrammar) ExtractReferences(source []byte, tree *sitter.Tree) []ExtractedReference {
	return tsExtractReferences(source, tree)
}

// TsxGrammar extracts symbols and references from TSX source.
type TsxGrammar struct{}

func (g *TsxGrammar) Language() *sitter.Language { return tsx.GetLanguage() }
func (g *TsxGrammar) FileExtensions() []string   { return []string{"tsx"} }
func (g *TsxGrammar) ExtractSymbols(source []byte, tree *sitter.Tree) []ExtractedSymbol {
	return tsExtractSymbols(source, tree)
}
func (g *TsxGrammar) ExtractReferences(source []byte, tree *sitter.Tree) []ExtractedReference {
	return tsExtractReferences(source, tree)
}

// JavaScriptGrammar extracts symbols and references from JavaScript source.
// Kept separate from TypeScriptGrammar (unlike the reference implementation,
// which folds .js into its TypeScript grammar) so plain JS files parse under
// the javascript grammar rather than accepting TS-only syntax permissively.
type JavaScriptGrammar struct{}

func (g *JavaScriptGrammar) Language() *sitter.Language { return javascript.GetLanguage() }
func (g *JavaScriptGrammar) FileExtensions() []string   { return []string{"js", "jsx", "mjs"} }
func (g *JavaScriptGrammar) ExtractSymbols(source []byte, tree *sitter.Tree) []ExtractedSymbol {
	return tsExtractSymbols(source, tree)
}
func (g *JavaScriptGrammar) ExtractReferences(source []byte, tree *sitter.Tree) []ExtractedReference {
	return tsExtractReferences(source, tree)
}

func tsExtractSymbols(source []byte, tree *sitter.Tree) []ExtractedSymbol {
	root := tree.RootNode()
	var out []ExtractedSymbol
	for i := 0; i < int(root.ChildCount()); i++ {
		out = append(out, tsSymbolsFromNode(root.Child(i), source)...)
	}
	return out
}

// tsSymbolsFromNode unwraps export_statement recursively before dispatching.
func tsSymbolsFromNode(node *sitter.Node, source []byte) []ExtractedSymbol {
	if node == nil {
		return nil
	}
	switch node.Type() {
	case "export_statement":
		var out []ExtractedSymbol
		for i := 0; i < int(node.ChildCount()); i++ {
			out = append(out, tsSymbolsFromNode(node.Child(i), source)...)
		}
		return out
	case "function_declaration":
		if sym, ok := tsNamedSymbol(node, source, "function"); ok {
			return []ExtractedSymbol{sym}
		}
	case "class_declaration":
		if sym, ok := tsClassSymbol(node, source); ok {
			return []ExtractedSymbol{sym}
		}
	case "interface_declaration":
		if sym, ok := tsNamedSymbol(node, source, "interface"); ok {
			return []ExtractedSymbol{sym}
		}
	case "type_alias_declaration":
		if sym, ok := tsNamedSymbol(node, source, "type_alias"); ok {
			return []ExtractedSymbol{sym}
		}
	case "lexical_declaration":
		return tsConstSymbols(node, source)
	}
	return nil
}

func tsNamedSymbol(node *sitter.Node, source []byte, kind string) (ExtractedSymbol, bool) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return ExtractedSymbol{}, false
	}
	body := node.ChildByFieldName("body")
	return ExtractedSymbol{
		Name:      nodeText(nameNode, source),
		Kind:      kind,
		Signature: signatureUpTo(node, body, source),
		Body:      nodeText(node, source),
		StartLine: int(node.StartPoint().Row) + 1,
		EndLine:   int(node.EndPoint().Row) + 1,
	}, true
}

func tsClassSymbol(node *sitter.Node, source []byte) (ExtractedSymbol, bool) {
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
			if member == nil || member.Type() != "method_definition" {
				continue
			}
			mName := member.ChildByFieldName("name")
			if mName == nil {
				continue
			}
			mBody := member.ChildByFieldName("body")
			children = append(children, ExtractedSymbol{
				Name:       className + "." + nodeText(mName, source),
				Kind:       "method",
				Signature:  signatureUpTo(member, mBody, source),
				Body:       nodeText(member, source),
				StartLine:  int(member.StartPoint().Row) + 1,
				EndLine:    int(member.EndPoint().Row) + 1,
				ParentPath: className,
			})
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

// tsConstSymbols extracts "const x = ..." declarators; let/var bindings are
// considered implementation detail, not indexable symbols.
func tsConstSymbols(node *sitter.Node, source []byte) []ExtractedSymbol {
	hasConst := false
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child != nil && child.Type() == "const" {
			hasConst = true
			break
		}
	}
	if !hasConst {
		return nil
	}

	var out []ExtractedSymbol
	for i := 0; i < int(node.ChildCount()); i++ {
		declarator := node.Child(i)
		if declarator == nil || declarator.Type() != "variable_declarator" {
			continue
		}
		nameNode := declarator.ChildByFieldName("name")
		if nameNode == nil {
			continue
		}
		out = append(out, ExtractedSymbol{
			Name:      nodeText(nameNode, source),
			Kind:      "const",
			Signature: declarationLine(nodeText(node, source)),
			Body:      nodeText(node, source),
			StartLine: int(node.StartPoint().Row) + 1,
			EndLine:   int(node.EndPoint().Row) + 1,
		})
	}
	return out
}

func tsExtractReferences(source []byte, tree *sitter.Tree) []ExtractedReference {
	root := tree.RootNode()
	var out []ExtractedReference
	walk(root, func(node *sitter.Node) {
		switch node.Type() {
		case "call_expression":
			fn := node.ChildByFieldName("function")
			if fn == nil {
				return
			}
			if toName := tsCalleeName(fn, source); toName != "" {
				out = append(out, ExtractedReference{
					FromSymbol: tsEnclosingFunctionName(node, source),
					ToName:     toName,
					Kind:       "calls",
				})
			}
		case "new_expression":
			ctor := node.ChildByFieldName("constructor")
			if ctor != nil {
				out = append(out, ExtractedReference{
					FromSymbol: tsEnclosingFunctionName(node, source),
					ToName:     nodeText(ctor, source),
					Kind:       "calls",
				})
			}
		case "import_statement":
			out = append(out, ExtractedReference{ToName: nodeText(node, source), Kind: "imports"})
		}
	})
	return out
}

func tsCalleeName(fn *sitter.Node, source []byte) string {
	switch fn.Type() {
	case "identifier":
		return nodeText(fn, source)
	case "member_expression":
		if prop := fn.ChildByFieldName("property"); prop != nil {
			return nodeText(prop, source)
		}
	}
	return ""
}

func tsEnclosingFunctionName(node *sitter.Node, source []byte) string {
	for n := node.Parent(); n != nil; n = n.Parent() {
		switch n.Type() {
		case "function_declaration":
			if nameNode := n.ChildByFieldName("name"); nameNode != nil {
				return nodeText(nameNode, source)
			}
		case "method_definition":
			if nameNode := n.ChildByFieldName("name"); nameNode != nil {
				return nodeText(nameNode, source)
			}
		}
	}
	return ""
}
