package grammar

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/rust"
)

// RustGrammar extracts symbols and references from Rust source.
type RustGrammar struct{}

func (g *RustGrammar) Language() *sitter.Language { return rust.GetLanguage() }
func (g *RustGrammar) FileExtensions() []string   { return []string{"rs"} }

func (g *RustGrammar) ExtractSymbols(source []byte, tree *sitter.Tree) []ExtractedSymbol {
	root := tree.RootNode()
	var out []ExtractedSymbol
	for i := 0; i < int(root.ChildCount()); i++ {
		node := root.Child(i)
		if node == nil {
			continue
		}
		switch node.Type() {
		case "function_item":
			if sym, ok := rustFunctionSymbol(node, source, ""); ok {
				out = append(out, sym)
			}
		case "struct_item":
			if sym, ok := rustNamedSymbol(node, source, "struct"); ok {
				out = append(out, sym)
			}
		case "enum_item":
			if sym, ok := rustNamedSymbol(node, source, "enum"); ok {
				out = append(out, sym)
			}
		case "trait_item":
			if sym, ok := rustNamedSymbol(node, source, "trait"); ok {
				out = append(out, sym)
			}
		case "const_item", "static_item":
			if sym, ok := rustNamedSymbol(node, source, "const"); ok {
				out = append(out, sym)
			}
		case "type_item":
			if sym, ok := rustNamedSymbol(node, source, "type_alias"); ok {
				out = append(out, sym)
			}
		case "mod_item":
			if sym, ok := rustNamedSymbol(node, source, "module"); ok {
				out = append(out, sym)
			}
		case "impl_item":
			out = append(out, rustImplMethods(node, source)...)
		}
	}
	return out
}

func rustNamedSymbol(node *sitter.Node, source []byte, kind string) (ExtractedSymbol, bool) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		nameNode = findChildByType(node, "type_identifier")
	}
	if nameNode == nil {
		nameNode = findChildByType(node, "identifier")
	}
	if nameNode == nil {
		return ExtractedSymbol{}, false
	}
	return ExtractedSymbol{
		Name:      nodeText(nameNode, source),
		Kind:      kind,
		Signature: declarationLine(nodeText(node, source)),
		Body:      nodeText(node, source),
		StartLine: int(node.StartPoint().Row) + 1,
		EndLine:   int(node.EndPoint().Row) + 1,
	}, true
}

func rustFunctionSymbol(node *sitter.Node, source []byte, prefix string) (ExtractedSymbol, bool) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return ExtractedSymbol{}, false
	}
	name := nodeText(nameNode, source)
	if prefix != "" {
		name = prefix + "::" + name
	}
	body := node.ChildByFieldName("body")
	return ExtractedSymbol{
		Name:       name,
		Kind:       "method",
		Signature:  signatureUpTo(node, body, source),
		Body:       nodeText(node, source),
		StartLine:  int(node.StartPoint().Row) + 1,
		EndLine:    int(node.EndPoint().Row) + 1,
		ParentPath: prefix,
	}, true
}

// rustImplMethods extracts the function_item children of an impl block's
// declaration_list, naming each "Type::method" to disambiguate identically
// named methods across types.
func rustImplMethods(node *sitter.Node, source []byte) []ExtractedSymbol {
	typeNode := node.ChildByFieldName("type")
	if typeNode == nil {
		return nil
	}
	typeName := nodeText(typeNode, source)

	body := node.ChildByFieldName("body")
	if body == nil {
		return nil
	}
	var out []ExtractedSymbol
	for i := 0; i < int(body.ChildCount()); i++ {
		item := body.Child(i)
		if item == nil || item.Type() != "function_item" {
			continue
		}
		if sym, ok := rustFunctionSymbol(item, source, typeName); ok {
			out = append(out, sym)
		}
	}
	return out
}

func (g *RustGrammar) ExtractReferences(source []byte, tree *sitter.Tree) []ExtractedReference {
	root := tree.RootNode()
	var out []ExtractedReference
	walk(root, func(node *sitter.Node) {
		switch node.Type() {
		case "call_expression":
			fn := node.ChildByFieldName("function")
			if fn == nil {
				return
			}
			if toName := rustCalleeName(fn, source); toName != "" {
				out = append(out, ExtractedReference{
					FromSymbol: rustEnclosingFunctionName(node, source),
					ToName:     toName,
					Kind:       "calls",
				})
			}
		case "macro_invocation":
			if macro := node.ChildByFieldName("macro"); macro != nil {
				out = append(out, ExtractedReference{
					FromSymbol: rustEnclosingFunctionName(node, source),
					ToName:     nodeText(macro, source),
					Kind:       "calls",
				})
			}
		case "use_declaration":
			out = append(out, ExtractedReference{ToName: nodeText(node, source), Kind: "imports"})
		}
	})
	return out
}

func rustCalleeName(fn *sitter.Node, source []byte) string {
	switch fn.Type() {
	case "identifier":
		return nodeText(fn, source)
	case "scoped_identifier":
		if name := fn.ChildByFieldName("name"); name != nil {
			return nodeText(name, source)
		}
	case "field_expression":
		if field := fn.ChildByFieldName("field"); field != nil {
			return nodeText(field, source)
		}
	}
	return ""
}

func rustEnclosingFunctionName(node *sitter.Node, source []byte) string {
	for n := node.Parent(); n != nil; n = n.Parent() {
		if n.Type() == "function_item" {
			prefix := ""
			if impl := rustEnclosingImplType(n, source); impl != "" {
				prefix = impl
			}
			if sym, ok := rustFunctionSymbol(n, source, prefix); ok {
				return sym.Name
			}
		}
	}
	return ""
}

func rustEnclosingImplType(node *sitter.Node, source []byte) string {
	for n := node.Parent(); n != nil; n = n.Parent() {
		if n.Type() == "impl_item" {
			if typeNode := n.ChildByFieldName("type"); typeNode != nil {
				return nodeText(typeNode, source)
			}
		}
	}
	return ""
}
