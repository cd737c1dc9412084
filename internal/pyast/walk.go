package pyast

import (
	sitter "github.com/smacker/go-tree-sitter"
)

// Walk visits n and its descendants in source order. Returning false from fn
// skips the children of the current node.
func Walk(n *sitter.Node, fn func(*sitter.Node) bool) {
	if n == nil {
		return
	}
	if !fn(n) {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		Walk(n.Child(i), fn)
	}
}

// NamedChildren returns the named children of n, skipping comments.
func NamedChildren(n *sitter.Node) []*sitter.Node {
	if n == nil {
		return nil
	}
	var out []*sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c.Type() == "comment" {
			continue
		}
		out = append(out, c)
	}
	return out
}

// SameNode compares two nodes by type and byte range.
func SameNode(a, b *sitter.Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Type() == b.Type() && a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte()
}

// IsFieldOf reports whether n is the given field child of its parent.
func IsFieldOf(n *sitter.Node, parentType, field string) bool {
	p := n.Parent()
	if p == nil || p.Type() != parentType {
		return false
	}
	return SameNode(p.ChildByFieldName(field), n)
}

// IsLoadIdentifier reports whether an identifier node is a name reference
// rather than an attribute name, keyword label or definition name.
func IsLoadIdentifier(n *sitter.Node) bool {
	if n.Type() != "identifier" {
		return false
	}
	switch {
	case IsFieldOf(n, "attribute", "attribute"):
		return false
	case IsFieldOf(n, "keyword_argument", "name"):
		return false
	case IsFieldOf(n, "function_definition", "name"):
		return false
	case IsFieldOf(n, "class_definition", "name"):
		return false
	}
	if p := n.Parent(); p != nil {
		switch p.Type() {
		case "parameters", "lambda_parameters", "default_parameter", "typed_parameter",
			"typed_default_parameter", "list_splat_pattern", "dictionary_splat_pattern":
			if p.Type() == "default_parameter" || p.Type() == "typed_default_parameter" {
				return !IsFieldOf(n, p.Type(), "name")
			}
			return false
		case "dotted_name", "aliased_import", "import_statement", "import_from_statement":
			return false
		}
	}
	return true
}

// CalleeName returns the simple name a call targets: the identifier itself or
// the final attribute of a dotted call.
func CalleeName(call *sitter.Node, src []byte) string {
	fn := call.ChildByFieldName("function")
	if fn == nil {
		return ""
	}
	switch fn.Type() {
	case "identifier":
		return fn.Content(src)
	case "attribute":
		if attr := fn.ChildByFieldName("attribute"); attr != nil {
			return attr.Content(src)
		}
	}
	return ""
}

// Ancestor returns the nearest ancestor of n with the given type.
func Ancestor(n *sitter.Node, nodeType string) *sitter.Node {
	for p := n.Parent(); p != nil; p = p.Parent() {
		if p.Type() == nodeType {
			return p
		}
	}
	return nil
}

// Contains reports whether inner lies within outer's byte range.
func Contains(outer, inner *sitter.Node) bool {
	return inner.StartByte() >= outer.StartByte() && inner.EndByte() <= outer.EndByte()
}
