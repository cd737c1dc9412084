// Package pyast parses Python scanner scripts with tree-sitter and exposes the
// structural inventory the classifier, renderer and validator work from.
// All code lookups and rewrites go through the parse tree; plain text handling
// is limited to indentation and the final sanitize step.
package pyast

import (
	"context"
	"fmt"
	"time"

	"scanforge/internal/logging"
	"scanforge/internal/types"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// parseTree runs the tree-sitter Python grammar over src.
// A fresh parser is used per call; sitter.Parser is not safe for concurrent use.
func parseTree(ctx context.Context, src []byte) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	return tree, nil
}

// Check parses src and reports the first syntax problem, if any.
func Check(ctx context.Context, src []byte) error {
	tree, err := parseTree(ctx, src)
	if err != nil {
		return err
	}
	defer tree.Close()
	return firstError(tree.RootNode())
}

// Parse parses src and builds its Module inventory. Sources containing ERROR
// or MISSING nodes are rejected with a *types.ParseError.
func Parse(ctx context.Context, src []byte) (*Module, error) {
	start := time.Now()

	tree, err := parseTree(ctx, src)
	if err != nil {
		return nil, err
	}
	if perr := firstError(tree.RootNode()); perr != nil {
		tree.Close()
		return nil, perr
	}

	m := newModule(src, tree)
	m.inventory()

	logging.ClassifyDebug("pyast: parsed %d bytes - %d functions, %d classes, %d imports in %v",
		len(src), len(m.Functions), len(m.Classes), len(m.Imports), time.Since(start))
	return m, nil
}

// firstError walks the tree in source order and returns the first ERROR or
// MISSING node as a ParseError.
func firstError(root *sitter.Node) error {
	if root == nil || !root.HasError() {
		return nil
	}
	var found *sitter.Node
	Walk(root, func(n *sitter.Node) bool {
		if found != nil {
			return false
		}
		if n.IsMissing() || n.Type() == "ERROR" {
			found = n
			return false
		}
		return n.HasError()
	})
	if found == nil {
		// HasError without a locatable node; report the root.
		return &types.ParseError{Line: 1, Column: 1, Kind: "invalid syntax"}
	}
	kind := "invalid syntax"
	if found.IsMissing() {
		kind = "missing " + found.Type()
	}
	p := found.StartPoint()
	return &types.ParseError{Line: int(p.Row) + 1, Column: int(p.Column) + 1, Kind: kind}
}
