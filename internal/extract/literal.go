package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"scanforge/internal/pyast"
	"scanforge/internal/types"

	sitter "github.com/smacker/go-tree-sitter"
)

// LiteralBackend extracts a specification from source structure alone.
// It never calls out, so it serves offline runs and tests.
type LiteralBackend struct{}

// NewLiteralBackend creates the offline backend.
func NewLiteralBackend() *LiteralBackend {
	return &LiteralBackend{}
}

// Name returns "literal".
func (b *LiteralBackend) Name() string {
	return "literal"
}

// Extract derives name, conditions and parameters from the parsed module.
func (b *LiteralBackend) Extract(ctx context.Context, req Request) (*types.StrategySpecification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mod := req.Module
	if mod == nil {
		return nil, errors.New("literal backend requires a parsed module")
	}

	spec := &types.StrategySpecification{
		Name:            deriveName(mod),
		EntryConditions: conditions(mod),
		ExitConditions:  []string{},
		Parameters:      map[string]any{},
		Timeframe:       timeframe(mod),
		StrategyType:    "scanner",
		Rationale:       "derived from source structure without a model",
	}
	if req.Classification != nil {
		spec.ScanKind = string(req.Classification.PatternType)
		if req.Classification.PatternType == types.PatternMulti {
			spec.StrategyType = "multi_pattern"
		}
	}
	if lit := mod.ConfigLiteral(); lit != nil {
		for k, v := range lit.Values {
			spec.Parameters[k] = v
		}
	}
	spec.Description = fmt.Sprintf("%d detection conditions over %d parameters",
		len(spec.EntryConditions), len(spec.Parameters))
	return spec, nil
}

// deriveName picks a display name: module docstring, then a scan function, then "Generated".
func deriveName(mod *pyast.Module) string {
	if doc := strings.TrimSpace(mod.Docstring); doc != "" {
		line, _, _ := strings.Cut(doc, "\n")
		if line = strings.TrimSuffix(strings.TrimSpace(line), "."); line != "" {
			return line
		}
	}
	for _, fn := range mod.Functions {
		if strings.HasPrefix(fn.Name, "scan_") && fn.Name != "scan_symbol" {
			return humanize(strings.TrimPrefix(fn.Name, "scan_")) + " scanner"
		}
	}
	return "Generated"
}

func humanize(s string) string {
	words := strings.Fields(strings.ReplaceAll(s, "_", " "))
	if len(words) == 0 {
		return s
	}
	words[0] = strings.ToUpper(words[0][:1]) + words[0][1:]
	return strings.Join(words, " ")
}

// conditions collects `if` conditions inside detection loops, the guards and
// non-constant return expressions of row predicates and the right-hand sides
// of pattern assignments.
func conditions(mod *pyast.Module) []string {
	seen := make(map[string]bool)
	out := []string{}
	add := func(s string) {
		s = strings.Join(strings.Fields(s), " ")
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	pyast.Walk(mod.Root(), func(n *sitter.Node) bool {
		if n.Type() != "for_statement" || !pyast.IsDetectionLoop(n, mod.Source) {
			return true
		}
		pyast.Walk(n.ChildByFieldName("body"), func(c *sitter.Node) bool {
			if c.Type() == "if_statement" || c.Type() == "elif_clause" {
				add(mod.Text(c.ChildByFieldName("condition")))
			}
			return true
		})
		return false
	})

	for _, fn := range mod.Functions {
		if !isRowPredicate(fn) {
			continue
		}
		pyast.Walk(fn.Node.ChildByFieldName("body"), func(c *sitter.Node) bool {
			switch c.Type() {
			case "if_statement", "elif_clause":
				add(mod.Text(c.ChildByFieldName("condition")))
			case "return_statement":
				if expr := pyast.NamedChildren(c); len(expr) == 1 && !isConstant(expr[0]) {
					add(mod.Text(expr[0]))
				}
			}
			return true
		})
	}

	for _, pa := range mod.PatternAssignments {
		add(pa.Target + ": " + mod.Text(pa.Node.ChildByFieldName("right")))
	}
	return out
}

func isConstant(n *sitter.Node) bool {
	switch n.Type() {
	case "true", "false", "none":
		return true
	}
	return false
}

// isRowPredicate matches helpers like _mold_on_row(row) that decide one row.
func isRowPredicate(fn *pyast.Function) bool {
	if len(fn.Params) == 0 {
		return false
	}
	name := strings.ToLower(fn.Name)
	for _, w := range []string{"mold", "on_row", "signal", "is_", "check", "match"} {
		if strings.Contains(name, w) {
			return true
		}
	}
	return false
}

func timeframe(mod *pyast.Module) string {
	for _, fn := range mod.Functions {
		name := strings.ToLower(fn.Name)
		switch {
		case strings.Contains(name, "daily"):
			return "daily"
		case strings.Contains(name, "intraday"), strings.Contains(name, "minute"):
			return "intraday"
		}
	}
	return "unspecified"
}
