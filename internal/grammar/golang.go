package grammar

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
)

// GoGrammar extracts symbols and references from Go source.
type GoGrammar struct{}

func (g *GoGrammar) Language() *sitter.Language { return golang.GetLanguage() }
func (g *GoGrammar) FileExtensions() []string   { return []string{"go"} }

func (g *GoGrammar) ExtractSymbols(source []byte, tree *sitter.Tree) []ExtractedSymbol {
	root := tree.RootNode()
	var out []ExtractedSymbol
	for i := 0; i < int(root.ChildCount()); i++ {
		node := root.Child(i)
		if node == nil {
			continue
		}
		switch node.Type() {
		case "function_declaration":
			if sym, ok := goFunctionSymbol(node, source); ok {
				out = append(out, sym)
			}
		case "method_declaration":
			if sym, ok := goMethodSymbol(node, source); ok {
				out = append(out, sym)
			}
		case "type_declaration":
			out = append(out, goTypeSymbols(node, source)...)
		case "const_declaration":
			out = append(out, goValueSymbols(node, source, "const")...)
		case "var_declaration":
			out = append(out, goValueSymbols(node, source, "const")...)
		}
	}
	return out
}

func goFunctionSymbol(node *sitter.Node, source []byte) (ExtractedSymbol, bool) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return ExtractedSymbol{}, false
	}
	body := node.ChildByFieldName("body")
	return ExtractedSymbol{
		Name:      nodeText(nameNode, source),
		Kind:      "function",
		Signature: signatureUpTo(node, body, source),
		Body:      nodeText(node, source),
		StartLine: int(node.StartPoint().Row) + 1,
		EndLine:   int(node.EndPoint().Row) + 1,
	}, true
}

func goMethodSymbol(node *sitter.Node, source []byte) (ExtractedSymbol, bool) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return ExtractedSymbol{}, false
	}
	receiver := node.ChildByFieldName("receiver")
	recvType := goReceiverTypeName(receiver, source)
	name := nodeText(nameNode, source)
	qualified := name
	if recvType != "" {
		qualified = recvType + "." + name
	}
	body := node.ChildByFieldName("body")
	return ExtractedSymbol{
		Name:       qualified,
		Kind:       "method",
		Signature:  signatureUpTo(node, body, source),
		Body:       nodeText(node, source),
		StartLine:  int(node.StartPoint().Row) + 1,
		EndLine:    int(node.EndPoint().Row) + 1,
		ParentPath: recvType,
	}, true
}

// goReceiverTypeName strips the pointer star and parameter name from a
// method receiver, e.g. "(s *Server)" -> "Server".
func goReceiverTypeName(receiver *sitter.Node, source []byte) string {
	if receiver == nil {
		return ""
	}
	for i := 0; i < int(receiver.ChildCount()); i++ {
		param := receiver.Child(i)
		if param == nil || param.Type() != "parameter_declaration" {
			continue
		}
		typeNode := param.ChildByFieldName("type")
		if typeNode == nil {
			continue
		}
		text := nodeText(typeNode, source)
		return strings.TrimPrefix(text, "*")
	}
	return ""
}

func goTypeSymbols(node *sitter.Node, source []byte) []ExtractedSymbol {
	var out []ExtractedSymbol
	for i := 0; i < int(node.ChildCount()); i++ {
		spec := node.Child(i)
		if spec == nil || spec.Type() != "type_spec" {
			continue
		}
		nameNode := spec.ChildByFieldName("name")
		typeNode := spec.ChildByFieldName("type")
		if nameNode == nil || typeNode == nil {
			continue
		}
		kind := "type_alias"
		switch typeNode.Type() {
		case "struct_type":
			kind = "struct"
		case "interface_type":
			kind = "interface"
		}
		out = append(out, ExtractedSymbol{
			Name:      nodeText(nameNode, source),
			Kind:      kind,
			Signature: declarationLine(nodeText(node, source)),
			Body:      nodeText(node, source),
			StartLine: int(node.StartPoint().Row) + 1,
			EndLine:   int(node.EndPoint().Row) + 1,
		})
	}
	return out
}

func goValueSymbols(node *sitter.Node, source []byte, kind string) []ExtractedSymbol {
	var out []ExtractedSymbol
	for i := 0; i < int(node.ChildCount()); i++ {
		spec := node.Child(i)
		if spec == nil || spec.Type() != "const_spec" && spec.Type() != "var_spec" {
			continue
		}
		for j := 0; j < int(spec.ChildCount()); j++ {
			id := spec.Child(j)
			if id == nil || id.Type() != "identifier" {
				continue
			}
			out = append(out, ExtractedSymbol{
				Name:      nodeText(id, source),
				Kind:      kind,
				Signature: declarationLine(nodeText(spec, source)),
				Body:      nodeText(spec, source),
				StartLine: int(spec.StartPoint().Row) + 1,
				EndLine:   int(spec.EndPoint().Row) + 1,
			})
		}
	}
	return out
}

func (g *GoGrammar) ExtractReferences(source []byte, tree *sitter.Tree) []ExtractedReference {
	root := tree.RootNode()
	var out []ExtractedReference
	walk(root, func(node *sitter.Node) {
		if node.Type() != "call_expression" {
			return
		}
		fn := node.ChildByFieldName("function")
		if fn == nil {
			return
		}
		toName := goCalleeName(fn, source)
		if toName == "" {
			return
		}
		from := goEnclosingFunctionName(node, source)
		out = append(out, ExtractedReference{FromSymbol: from, ToName: toName, Kind: "calls"})
	})
	return out
}

func goCalleeName(fn *sitter.Node, source []byte) string {
	switch fn.Type() {
	case "identifier":
		return nodeText(fn, source)
	case "selector_expression":
		field := fn.ChildByFieldName("field")
		if field != nil {
			return nodeText(field, source)
		}
	}
	return ""
}

// goEnclosingFunctionName walks up from node to find the nearest enclosing
// function_declaration or method_declaration, for reference attribution.
func goEnclosingFunctionName(node *sitter.Node, source []byte) string {
	for n := node.Parent(); n != nil; n = n.Parent() {
		switch n.Type() {
		case "function_declaration":
			if nameNode := n.ChildByFieldName("name"); nameNode != nil {
				return nodeText(nameNode, source)
			}
		case "method_declaration":
			if sym, ok := goMethodSymbol(n, source); ok {
				return sym.Name
			}
		}
	}
	return ""
}
