package render

import (
	"fmt"
	"sort"
	"strings"

	"scanforge/internal/pyast"

	sitter "github.com/smacker/go-tree-sitter"
)

// ParamsName is the explicit parameter object threaded through rewritten helpers.
const ParamsName = "params"

// Preserved is the original module rewritten for embedding above the scanner class.
type Preserved struct {
	Source string
	// ConfigName is the module-level config literal the helpers closed over.
	ConfigName string
	// Rewritten lists helpers that now take the parameter object first.
	Rewritten []string
	// Futures holds `from __future__` imports that must open the artifact.
	Futures []string
	// Dropped describes removed top-level statements, one per entry.
	Dropped []string

	droppedAt map[uint32]bool
}

// drops reports whether stmt was removed from the preserved source.
func (p *Preserved) drops(stmt *pyast.Statement) bool {
	return p != nil && p.droppedAt[stmt.Node.StartByte()]
}

// IsRewritten reports whether fn now takes the parameter object.
func (p *Preserved) IsRewritten(fn string) bool {
	if p == nil {
		return false
	}
	i := sort.SearchStrings(p.Rewritten, fn)
	return i < len(p.Rewritten) && p.Rewritten[i] == fn
}

// constructors that are safe to evaluate at import time.
var safeCalls = map[string]bool{
	"dict": true, "list": true, "set": true, "tuple": true, "frozenset": true,
	"int": true, "float": true, "str": true, "bool": true, "range": true,
	"timedelta": true, "datetime": true, "date": true, "Timedelta": true, "Timestamp": true,
	"getenv": true, "get": true, "Path": true, "compile": true, "namedtuple": true,
	"getLogger": true, "field": true,
}

// PreserveSource rewrites the original module so it can be imported by the
// generated scanner: the entry guard and other import-time side effects are
// removed, and helpers that read the module config are rewritten to take an
// explicit parameter object.
func PreserveSource(mod *pyast.Module) (*Preserved, error) {
	p := &Preserved{droppedAt: make(map[uint32]bool)}
	if lit := mod.ConfigLiteral(); lit != nil {
		p.ConfigName = lit.Name
	}
	rewritten := rewrittenHelpers(mod, p.ConfigName)
	for name := range rewritten {
		p.Rewritten = append(p.Rewritten, name)
	}
	sort.Strings(p.Rewritten)

	live := liveBindings(mod)
	var edits []pyast.Edit
	var dropped []span
	for _, stmt := range mod.Statements {
		reason := dropReason(mod, stmt)
		if reason == "" || live[stmt.Node.StartByte()] {
			continue
		}
		p.droppedAt[stmt.Node.StartByte()] = true
		s := lineSpan(mod.Source, stmt.Span.Start, stmt.Span.End)
		dropped = append(dropped, s)
		edits = append(edits, pyast.Edit{Start: s.start, End: s.end})
		p.Dropped = append(p.Dropped, fmt.Sprintf("line %d: %s", stmt.Span.StartLine, reason))
		if stmt.Node.Type() == "future_import_statement" {
			p.Futures = append(p.Futures, mod.Text(stmt.Node))
		}
	}

	for _, fn := range mod.Functions {
		if !rewritten[fn.Name] {
			continue
		}
		edits = append(edits, insertParam(fn.Node.ChildByFieldName("parameters"), ParamsName))
		edits = append(edits, configRenames(mod, fn.Node.ChildByFieldName("body"), p.ConfigName)...)
	}

	argFor := func(n *sitter.Node) string {
		if fn := mod.FunctionAt(n.StartByte()); fn != nil && rewritten[fn.Name] {
			return ParamsName
		}
		return p.ConfigName
	}
	edits = append(edits, helperEdits(mod, mod.Root(), p.IsRewritten, argFor, func(b uint32) bool {
		return inSpans(dropped, b)
	})...)

	out, err := pyast.ApplyEdits(mod.Source, edits)
	if err != nil {
		return nil, fmt.Errorf("rewrite preserved source: %w", err)
	}
	p.Source = strings.TrimSpace(collapseBlankLines(string(out)))
	return p, nil
}

// rewrittenHelpers returns functions that read the config global, plus every
// function that references one of them, transitively.
func rewrittenHelpers(mod *pyast.Module, configName string) map[string]bool {
	set := make(map[string]bool)
	if configName == "" {
		return set
	}
	for _, fn := range mod.Functions {
		if fn.Identifiers[configName] > 0 && !fn.HasParam(configName) && !fn.HasParam(ParamsName) {
			set[fn.Name] = true
		}
	}
	for changed := true; changed; {
		changed = false
		for _, fn := range mod.Functions {
			if set[fn.Name] || fn.HasParam(ParamsName) {
				continue
			}
			for ref := range fn.Identifiers {
				if set[ref] {
					set[fn.Name] = true
					changed = true
					break
				}
			}
		}
	}
	return set
}

// liveBindings returns the start bytes of top-level assignments that bind a
// name a function or class reads, directly or through another live binding.
// Those stay in the preserved source even when they call out at import time.
func liveBindings(mod *pyast.Module) map[uint32]bool {
	reads := make(map[string]bool)
	for _, fn := range mod.Functions {
		for name := range freeReads(mod, fn) {
			reads[name] = true
		}
	}
	for _, c := range mod.Classes {
		for name := range usedNames(mod, c.Node) {
			reads[name] = true
		}
	}

	live := make(map[uint32]bool)
	for changed := true; changed; {
		changed = false
		for _, stmt := range mod.Statements {
			if stmt.Kind != pyast.StmtAssignment || live[stmt.Node.StartByte()] {
				continue
			}
			for _, name := range boundNames(mod, stmt.Node) {
				if !reads[name] {
					continue
				}
				live[stmt.Node.StartByte()] = true
				for used := range usedNames(mod, stmt.Node) {
					reads[used] = true
				}
				changed = true
				break
			}
		}
	}
	return live
}

// freeReads returns the names fn reads that resolve at module scope: loads
// that are neither parameters nor assigned locally without a global statement.
func freeReads(mod *pyast.Module, fn *pyast.Function) map[string]bool {
	locals := make(map[string]bool)
	globals := make(map[string]bool)
	bind := func(target *sitter.Node) {
		pyast.Walk(target, func(id *sitter.Node) bool {
			if id.Type() == "identifier" {
				locals[mod.Text(id)] = true
			}
			return id.Type() != "subscript" && id.Type() != "attribute"
		})
	}
	pyast.Walk(fn.Node.ChildByFieldName("body"), func(n *sitter.Node) bool {
		switch n.Type() {
		case "global_statement":
			for _, id := range pyast.NamedChildren(n) {
				globals[mod.Text(id)] = true
			}
		case "assignment", "augmented_assignment", "for_statement":
			bind(n.ChildByFieldName("left"))
		case "as_pattern":
			bind(n.ChildByFieldName("alias"))
		case "function_definition", "class_definition":
			if name := n.ChildByFieldName("name"); name != nil {
				locals[mod.Text(name)] = true
			}
		}
		return true
	})

	out := make(map[string]bool)
	for name := range fn.Identifiers {
		if fn.HasParam(name) || (locals[name] && !globals[name]) {
			continue
		}
		out[name] = true
	}
	return out
}

func dropReason(mod *pyast.Module, stmt *pyast.Statement) string {
	n := stmt.Node
	switch stmt.Kind {
	case pyast.StmtEntryGuard:
		return "entry guard"
	case pyast.StmtFunction, pyast.StmtClass, pyast.StmtImport, pyast.StmtConfig,
		pyast.StmtDocstring, pyast.StmtComment:
		if n.Type() == "future_import_statement" {
			return "future import hoisted"
		}
		return ""
	case pyast.StmtAssignment:
		assign := pyast.NamedChildren(n)[0]
		left := assign.ChildByFieldName("left")
		if left != nil && (left.Type() == "subscript" || left.Type() == "attribute") {
			return "module-level mutation " + strings.TrimSpace(firstLine(mod.Text(n)))
		}
		if call := unsafeCall(mod, assign.ChildByFieldName("right")); call != "" {
			return "import-time call " + call
		}
		return ""
	}
	switch n.Type() {
	case "if_statement", "try_statement":
		return ""
	case "expression_statement":
		if inner := pyast.NamedChildren(n); len(inner) == 1 && inner[0].Type() == "string" {
			return ""
		}
		return "top-level expression " + strings.TrimSpace(firstLine(mod.Text(n)))
	case "for_statement", "while_statement", "with_statement":
		return "top-level " + strings.TrimSuffix(n.Type(), "_statement") + " block"
	}
	return ""
}

func unsafeCall(mod *pyast.Module, n *sitter.Node) string {
	found := ""
	pyast.Walk(n, func(c *sitter.Node) bool {
		if found != "" {
			return false
		}
		if c.Type() == "lambda" {
			return false
		}
		if c.Type() == "call" && !safeCalls[pyast.CalleeName(c, mod.Source)] {
			found = mod.Text(c.ChildByFieldName("function"))
		}
		return true
	})
	return found
}

// configRenames rewrites loads of the config global inside a body to the
// parameter object. `global NAME` statements become `pass`.
func configRenames(mod *pyast.Module, body *sitter.Node, configName string) []pyast.Edit {
	var edits []pyast.Edit
	pyast.Walk(body, func(n *sitter.Node) bool {
		switch n.Type() {
		case "global_statement", "nonlocal_statement":
			edits = append(edits, pyast.Edit{Start: n.StartByte(), End: n.EndByte(), Text: "pass"})
			return false
		case "function_definition", "lambda":
			if params := n.ChildByFieldName("parameters"); params != nil && bindsName(mod, params, configName) {
				return false
			}
		case "identifier":
			if pyast.IsLoadIdentifier(n) && mod.Text(n) == configName {
				edits = append(edits, pyast.Edit{Start: n.StartByte(), End: n.EndByte(), Text: ParamsName})
			}
		}
		return true
	})
	return edits
}

func bindsName(mod *pyast.Module, params *sitter.Node, name string) bool {
	bound := false
	pyast.Walk(params, func(c *sitter.Node) bool {
		if c.Type() == "identifier" && mod.Text(c) == name {
			bound = true
		}
		return !bound
	})
	return bound
}

// helperEdits threads the parameter object into every use of a rewritten
// helper under root: calls gain a leading argument and bare references are
// wrapped so callbacks like df.apply(helper) keep their arity.
func helperEdits(mod *pyast.Module, root *sitter.Node, rewritten func(string) bool, argFor func(*sitter.Node) string, skip func(uint32) bool) []pyast.Edit {
	var edits []pyast.Edit
	pyast.Walk(root, func(n *sitter.Node) bool {
		if n.Type() != "identifier" || skip(n.StartByte()) || !pyast.IsLoadIdentifier(n) {
			return true
		}
		name := mod.Text(n)
		if !rewritten(name) || isAssignTarget(n) {
			return true
		}
		arg := argFor(n)
		if pyast.IsFieldOf(n, "call", "function") {
			edits = append(edits, prependArg(n.Parent().ChildByFieldName("arguments"), arg)...)
			return true
		}
		edits = append(edits, pyast.Edit{
			Start: n.StartByte(),
			End:   n.EndByte(),
			Text:  fmt.Sprintf("(lambda *a, **kw: %s(%s, *a, **kw))", name, arg),
		})
		return true
	})
	return edits
}

func isAssignTarget(n *sitter.Node) bool {
	return pyast.IsFieldOf(n, "assignment", "left") || pyast.IsFieldOf(n, "augmented_assignment", "left")
}

// insertParam adds name as the first parameter of a parameters node.
func insertParam(params *sitter.Node, name string) pyast.Edit {
	at := params.StartByte() + 1
	if len(pyast.NamedChildren(params)) == 0 {
		return pyast.Edit{Start: at, End: at, Text: name}
	}
	return pyast.Edit{Start: at, End: at, Text: name + ", "}
}

// prependArg adds arg as the first argument of a call. A bare generator
// argument `f(x for x in y)` is parenthesized so the call stays valid.
func prependArg(args *sitter.Node, arg string) []pyast.Edit {
	if args == nil {
		return nil
	}
	if args.Type() == "generator_expression" {
		return []pyast.Edit{
			{Start: args.StartByte(), End: args.StartByte(), Text: "(" + arg + ", "},
			{Start: args.EndByte(), End: args.EndByte(), Text: ")"},
		}
	}
	at := args.StartByte() + 1
	if len(pyast.NamedChildren(args)) == 0 {
		return []pyast.Edit{{Start: at, End: at, Text: arg}}
	}
	return []pyast.Edit{{Start: at, End: at, Text: arg + ", "}}
}

type span struct{ start, end uint32 }

// lineSpan widens [start, end) to whole lines, including the trailing newline.
func lineSpan(src []byte, start, end uint32) span {
	s := pyast.LineStart(src, start)
	e := end
	for e < uint32(len(src)) && src[e] != '\n' {
		e++
	}
	if e < uint32(len(src)) {
		e++
	}
	return span{start: s, end: e}
}

func inSpans(spans []span, b uint32) bool {
	for _, s := range spans {
		if b >= s.start && b < s.end {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	if len(line) > 60 {
		line = line[:57] + "..."
	}
	return line
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	blank := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			blank++
			if blank > 2 {
				continue
			}
			out = append(out, "")
			continue
		}
		blank = 0
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
