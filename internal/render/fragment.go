package render

import (
	"fmt"
	"sort"
	"strings"

	"scanforge/internal/pyast"

	sitter "github.com/smacker/go-tree-sitter"
)

// FragmentMode says how a detection fragment is embedded in _detect_ticker.
type FragmentMode string

const (
	// ModeRow embeds a per-row loop body under the skeleton's own row loop.
	ModeRow FragmentMode = "row"
	// ModeEntity embeds a per-ticker loop body once per ticker.
	ModeEntity FragmentMode = "entity"
	// ModeFrame embeds a whole statement block once per ticker partition.
	ModeFrame FragmentMode = "frame"
)

// Row iteration styles for ModeRow.
const (
	RowsIterrows   = "iterrows"
	RowsItertuples = "itertuples"
)

// Fragment is the detection logic lifted from the source and re-targeted to
// the skeleton's local names.
type Fragment struct {
	Mode     FragmentMode `json:"mode"`
	RowStyle string       `json:"row_style,omitempty"`
	// Text is dedented; empty renders as a no-op.
	Text string `json:"text"`
	// Preamble holds earlier statements the fragment depends on, dedented.
	Preamble string `json:"preamble,omitempty"`
	// Source names where the fragment came from.
	Source      string            `json:"source"`
	Renames     map[string]string `json:"renames,omitempty"`
	Placeholder bool              `json:"placeholder,omitempty"`
}

// PlaceholderFragment is the safe no-op substituted for a fragment that does
// not compile.
func PlaceholderFragment(f Fragment) Fragment {
	return Fragment{
		Mode:        f.Mode,
		RowStyle:    f.RowStyle,
		Text:        "# detection fragment from " + f.Source + " replaced: it did not parse\npass",
		Source:      f.Source,
		Placeholder: true,
	}
}

// loopShape describes a detection loop's header.
type loopShape struct {
	mode     FragmentMode
	rowStyle string
	index    string
	row      string
	frame    string
	entity   string
	acc      string
}

// findLoop returns the first detection loop inside fn, or anywhere in the
// module when fn is nil.
func findLoop(mod *pyast.Module, fn *pyast.Function) *sitter.Node {
	root := mod.Root()
	if fn != nil {
		root = fn.Node
	}
	var loop *sitter.Node
	pyast.Walk(root, func(n *sitter.Node) bool {
		if loop != nil {
			return false
		}
		if n.Type() == "for_statement" && pyast.IsDetectionLoop(n, mod.Source) {
			loop = n
			return false
		}
		return true
	})
	return loop
}

func shapeOf(mod *pyast.Module, loop *sitter.Node) loopShape {
	left := loop.ChildByFieldName("left")
	right := loop.ChildByFieldName("right")
	shape := loopShape{mode: ModeFrame, acc: accumulator(mod, loop.ChildByFieldName("body"))}

	if right.Type() == "call" {
		callee := right.ChildByFieldName("function")
		method := pyast.CalleeName(right, mod.Source)
		if callee != nil && callee.Type() == "attribute" {
			if obj := callee.ChildByFieldName("object"); obj != nil && obj.Type() == "identifier" {
				targets := pyast.NamedChildren(left)
				switch {
				case method == RowsIterrows && (left.Type() == "pattern_list" || left.Type() == "tuple_pattern") &&
					len(targets) == 2 && targets[0].Type() == "identifier" && targets[1].Type() == "identifier":
					return loopShape{
						mode: ModeRow, rowStyle: RowsIterrows,
						index: mod.Text(targets[0]), row: mod.Text(targets[1]),
						frame: mod.Text(obj), acc: shape.acc,
					}
				case method == RowsItertuples && left.Type() == "identifier":
					return loopShape{
						mode: ModeRow, rowStyle: RowsItertuples,
						row: mod.Text(left), frame: mod.Text(obj), acc: shape.acc,
					}
				}
			}
		}
	}

	rowIter := false
	pyast.Walk(right, func(c *sitter.Node) bool {
		if c.Type() == "call" {
			switch pyast.CalleeName(c, mod.Source) {
			case RowsIterrows, RowsItertuples:
				if fn := c.ChildByFieldName("function"); fn != nil && fn.Type() == "attribute" {
					if id := leftmostIdentifier(fn.ChildByFieldName("object")); id != nil {
						shape.frame = mod.Text(id)
					}
				}
				rowIter = true
			}
		}
		return !rowIter
	})
	if !rowIter && left.Type() == "identifier" && (isEntityName(mod.Text(left)) || isEntityIterable(mod.Text(right))) {
		shape.mode = ModeEntity
		shape.entity = mod.Text(left)
	}
	return shape
}

func leftmostIdentifier(n *sitter.Node) *sitter.Node {
	for n != nil {
		switch n.Type() {
		case "identifier":
			return n
		case "attribute":
			n = n.ChildByFieldName("object")
		case "call":
			n = n.ChildByFieldName("function")
		case "subscript":
			n = n.ChildByFieldName("value")
		default:
			return nil
		}
	}
	return nil
}

// accumulator returns X for the first X.append(...) or X.extend(...) in body.
func accumulator(mod *pyast.Module, body *sitter.Node) string {
	acc := ""
	pyast.Walk(body, func(c *sitter.Node) bool {
		if acc != "" {
			return false
		}
		if c.Type() != "call" {
			return true
		}
		switch pyast.CalleeName(c, mod.Source) {
		case "append", "extend":
			if fn := c.ChildByFieldName("function"); fn != nil && fn.Type() == "attribute" {
				if obj := fn.ChildByFieldName("object"); obj != nil && obj.Type() == "identifier" {
					acc = mod.Text(obj)
				}
			}
		}
		return true
	})
	return acc
}

// renamesFor maps source names to skeleton names.
func renamesFor(shape loopShape, fn *pyast.Function, configName string) map[string]string {
	r := make(map[string]string)
	set := func(from, to string) {
		if from != "" && from != to {
			if _, taken := r[from]; !taken {
				r[from] = to
			}
		}
	}
	set(shape.index, "date")
	set(shape.row, "row")
	set(shape.frame, "frame")
	set(shape.entity, "ticker")
	set(shape.acc, "results")
	set(configName, ParamsName)
	if fn == nil {
		return r
	}
	entityBound := shape.entity != ""
	for _, p := range fn.Params {
		switch {
		case p == shape.frame || p == shape.acc:
		case isConfigName(p):
			set(p, ParamsName)
		case isStartName(p):
			set(p, "self.window_start")
		case isEndName(p):
			set(p, "self.window_end")
		case !entityBound && isEntityName(p):
			set(p, "ticker")
			entityBound = true
		}
	}
	return r
}

// retarget renders src[start:end] with renames, record-key normalization and
// parameter threading applied.
type retarget struct {
	mod       *pyast.Module
	renames   map[string]string
	rowVar    string
	rewritten func(string) bool
}

func (rt retarget) edits(region *sitter.Node) []pyast.Edit {
	var edits []pyast.Edit
	src := rt.mod.Source
	pyast.Walk(region, func(n *sitter.Node) bool {
		switch n.Type() {
		case "subscript":
			if rt.rowVar == "" {
				return true
			}
			obj := n.ChildByFieldName("value")
			key, ok := pyast.StringKey(n, src)
			if !ok || obj == nil || obj.Type() != "identifier" || rt.mod.Text(obj) != rt.rowVar || shadowed(rt.mod, obj, rt.rowVar, region) {
				return true
			}
			switch strings.ToLower(key) {
			case "date", "datetime", "timestamp":
				edits = append(edits, pyast.Edit{Start: n.StartByte(), End: n.EndByte(), Text: "date"})
				return false
			case "ticker", "symbol", "sym":
				edits = append(edits, pyast.Edit{Start: n.StartByte(), End: n.EndByte(), Text: "ticker"})
				return false
			}
		case "string":
			// f-string interpolations still need renaming
			if !pyast.IsFieldOf(n, "pair", "key") || pyast.IsFString(n, src) {
				return true
			}
			switch strings.ToLower(pyast.StringValue(n, src)) {
			case "ticker", "symbol", "sym":
				edits = append(edits, pyast.Edit{Start: n.StartByte(), End: n.EndByte(), Text: `"Ticker"`})
			case "date":
				edits = append(edits, pyast.Edit{Start: n.StartByte(), End: n.EndByte(), Text: `"Date"`})
			}
			return false
		case "keyword_argument":
			key := n.ChildByFieldName("name")
			if key == nil || !inDictCall(rt.mod, n) {
				return true
			}
			switch strings.ToLower(rt.mod.Text(key)) {
			case "ticker", "symbol", "sym":
				edits = append(edits, pyast.Edit{Start: key.StartByte(), End: key.EndByte(), Text: "Ticker"})
			case "date":
				edits = append(edits, pyast.Edit{Start: key.StartByte(), End: key.EndByte(), Text: "Date"})
			}
		case "identifier":
			name := rt.mod.Text(n)
			to, ok := rt.renames[name]
			if !ok || !pyast.IsLoadIdentifier(n) || shadowed(rt.mod, n, name, region) {
				return true
			}
			if rt.rewritten(name) {
				return true
			}
			edits = append(edits, pyast.Edit{Start: n.StartByte(), End: n.EndByte(), Text: to})
		}
		return true
	})
	edits = append(edits, helperEdits(rt.mod, region, rt.rewritten,
		func(*sitter.Node) string { return ParamsName },
		func(uint32) bool { return false })...)
	return edits
}

// inDictCall reports whether a keyword argument belongs to a dict(...) call.
func inDictCall(mod *pyast.Module, kw *sitter.Node) bool {
	args := kw.Parent()
	if args == nil || args.Type() != "argument_list" {
		return false
	}
	call := args.Parent()
	if call == nil || call.Type() != "call" {
		return false
	}
	fn := call.ChildByFieldName("function")
	return fn != nil && fn.Type() == "identifier" && mod.Text(fn) == "dict"
}

// text applies the retargeting to the line-aligned text of region.
func (rt retarget) text(region *sitter.Node) (string, error) {
	src := rt.mod.Source
	start := region.StartByte()
	if ls := pyast.LineStart(src, start); strings.TrimSpace(string(src[ls:start])) == "" {
		start = ls
	}
	out, err := pyast.ApplyEditsIn(src, start, region.EndByte(), rt.edits(region))
	if err != nil {
		return "", err
	}
	return pyast.Dedent(out), nil
}

// shadowed reports whether name at n is rebound by an enclosing lambda or
// comprehension inside region.
func shadowed(mod *pyast.Module, n *sitter.Node, name string, region *sitter.Node) bool {
	for p := n.Parent(); p != nil && pyast.Contains(region, p); p = p.Parent() {
		switch p.Type() {
		case "lambda":
			if params := p.ChildByFieldName("parameters"); params != nil && bindsName(mod, params, name) {
				return true
			}
		case "list_comprehension", "set_comprehension", "dictionary_comprehension", "generator_expression":
			for _, c := range pyast.NamedChildren(p) {
				if c.Type() == "for_in_clause" && bindsName(mod, c.ChildByFieldName("left"), name) {
					return true
				}
			}
		}
		if pyast.SameNode(p, region) {
			break
		}
	}
	return false
}

// ExtractFragment produces the detection fragment for a plan.
func ExtractFragment(mod *pyast.Module, plan RenderPlan, pres *Preserved) (Fragment, error) {
	switch plan.Extraction {
	case RulePatternColumns:
		return Fragment{
			Mode:     ModeRow,
			RowStyle: RowsIterrows,
			Source:   "pattern columns",
			Text: strings.Join([]string{
				"for label in PATTERN_COLUMNS:",
				"    if label in row.index and self._flag(row[label]):",
				`        results.append({"Ticker": ticker, "Date": date, "Scanner_Label": label})`,
			}, "\n"),
		}, nil
	case RuleRowPredicate:
		return predicateFragment(mod, plan.PredicateFunction, pres)
	case RuleLoopBody:
		return loopFragment(mod, plan, pres)
	}
	return Fragment{Mode: ModeFrame, Source: "none"}, nil
}

func predicateFragment(mod *pyast.Module, name string, pres *Preserved) (Fragment, error) {
	fn := mod.Function(name)
	if fn == nil {
		return Fragment{}, fmt.Errorf("row predicate %q not found", name)
	}
	args, ok := callArgs(fn.Required, pres.IsRewritten(name), argBinding{
		Ticker: "ticker", Start: "self.window_start", End: "self.window_end",
		Frame: "frame", Params: ParamsName, Fallback: []string{"row"},
	})
	if !ok {
		return Fragment{Mode: ModeFrame, Source: name}, nil
	}
	return Fragment{
		Mode:     ModeRow,
		RowStyle: RowsIterrows,
		Source:   name,
		Text: fmt.Sprintf("if %s(%s):\n    results.append({\"Ticker\": ticker, \"Date\": date})",
			name, args),
	}, nil
}

func loopFragment(mod *pyast.Module, plan RenderPlan, pres *Preserved) (Fragment, error) {
	var fn *pyast.Function
	if plan.ScanFunction != "" {
		fn = mod.Function(plan.ScanFunction)
	}
	loop := findLoop(mod, fn)
	if loop == nil {
		return Fragment{Mode: ModeFrame, Source: "none"}, nil
	}
	if fn == nil {
		fn = mod.FunctionAt(loop.StartByte())
	}
	shape := shapeOf(mod, loop)
	rt := retarget{
		mod:       mod,
		renames:   renamesFor(shape, fn, pres.ConfigName),
		rowVar:    shape.row,
		rewritten: pres.IsRewritten,
	}

	frag := Fragment{Mode: shape.mode, RowStyle: shape.rowStyle, Renames: rt.renames, Source: "<module>"}
	if fn != nil {
		frag.Source = fn.Name
	}

	region := loop
	if shape.mode != ModeFrame {
		region = loop.ChildByFieldName("body")
	}
	text, err := rt.text(region)
	if err != nil {
		return Fragment{}, fmt.Errorf("extract detection fragment from %s: %w", frag.Source, err)
	}
	frag.Text = strings.TrimRight(text, "\n ")

	staged := make(map[string]bool)
	for _, name := range plan.ComputeFunctions {
		staged[name] = true
	}
	if plan.IngestFunction != "" {
		staged[plan.IngestFunction] = true
	}
	pre, err := preamble(mod, fn, loop, region, shape, rt, pres, staged)
	if err != nil {
		return Fragment{}, fmt.Errorf("extract fragment preamble from %s: %w", frag.Source, err)
	}
	frag.Preamble = pre
	return frag, nil
}

// preamble collects statements before the loop that bind names the fragment
// reads, transitively. The frame, accumulator and loop variables are owned
// by the skeleton and never lifted. Frame preparation that calls a staged
// function is skipped: compute_features has already applied it.
func preamble(mod *pyast.Module, fn *pyast.Function, loop, region *sitter.Node, shape loopShape, rt retarget, pres *Preserved, staged map[string]bool) (string, error) {
	var candidates []*sitter.Node
	if fn != nil {
		body := fn.Node.ChildByFieldName("body")
		for _, stmt := range pyast.NamedChildren(body) {
			if pyast.Contains(stmt, loop) {
				break
			}
			candidates = append(candidates, stmt)
		}
	} else {
		for _, stmt := range mod.Statements {
			if pyast.Contains(stmt.Node, loop) {
				break
			}
			if stmt.Kind == pyast.StmtAssignment && pres.drops(stmt) {
				candidates = append(candidates, stmt.Node)
			}
		}
	}

	owned := map[string]bool{shape.frame: true, shape.acc: true, shape.index: true, shape.row: true, shape.entity: true}
	needed := usedNames(mod, region)
	picked := make([]bool, len(candidates))
	for i := len(candidates) - 1; i >= 0; i-- {
		bound := boundNames(mod, candidates[i])
		hit := mutatesFrame(mod, candidates[i], shape.frame) && !callsAny(mod, candidates[i], staged)
		for _, b := range bound {
			if needed[b] && !owned[b] {
				hit = true
			}
		}
		if !hit {
			continue
		}
		picked[i] = true
		for name := range usedNames(mod, candidates[i]) {
			needed[name] = true
		}
	}

	var parts []string
	for i, stmt := range candidates {
		if !picked[i] {
			continue
		}
		text, err := rt.text(stmt)
		if err != nil {
			return "", err
		}
		parts = append(parts, strings.TrimRight(text, "\n "))
	}
	return strings.Join(parts, "\n"), nil
}

// callsAny reports whether stmt calls one of names.
func callsAny(mod *pyast.Module, stmt *sitter.Node, names map[string]bool) bool {
	found := false
	pyast.Walk(stmt, func(c *sitter.Node) bool {
		if c.Type() == "call" && names[pyast.CalleeName(c, mod.Source)] {
			found = true
		}
		return !found
	})
	return found
}

func usedNames(mod *pyast.Module, n *sitter.Node) map[string]bool {
	used := make(map[string]bool)
	pyast.Walk(n, func(c *sitter.Node) bool {
		if c.Type() == "identifier" && pyast.IsLoadIdentifier(c) && !isAssignTarget(c) {
			used[mod.Text(c)] = true
		}
		return true
	})
	return used
}

// boundNames lists names an assignment or import statement binds.
func boundNames(mod *pyast.Module, stmt *sitter.Node) []string {
	var out []string
	switch stmt.Type() {
	case "import_statement", "import_from_statement":
		pyast.Walk(stmt, func(c *sitter.Node) bool {
			switch c.Type() {
			case "aliased_import":
				out = append(out, mod.Text(c.ChildByFieldName("alias")))
				return false
			case "dotted_name":
				if !pyast.IsFieldOf(c, "import_from_statement", "module_name") {
					root, _, _ := strings.Cut(mod.Text(c), ".")
					out = append(out, root)
				}
				return false
			}
			return true
		})
	case "expression_statement":
		for _, c := range pyast.NamedChildren(stmt) {
			if c.Type() != "assignment" && c.Type() != "augmented_assignment" {
				continue
			}
			pyast.Walk(c.ChildByFieldName("left"), func(id *sitter.Node) bool {
				if id.Type() == "identifier" {
					out = append(out, mod.Text(id))
				}
				return id.Type() != "subscript" && id.Type() != "attribute"
			})
		}
	}
	sort.Strings(out)
	return out
}

// mutatesFrame matches `frame[...] = ...`, `frame.x = ...` and
// `frame = f(frame)` statements that prepare the frame before the loop.
func mutatesFrame(mod *pyast.Module, stmt *sitter.Node, frame string) bool {
	if frame == "" || stmt.Type() != "expression_statement" {
		return false
	}
	for _, c := range pyast.NamedChildren(stmt) {
		if c.Type() != "assignment" && c.Type() != "augmented_assignment" {
			continue
		}
		left := c.ChildByFieldName("left")
		switch left.Type() {
		case "subscript", "attribute":
			if id := leftmostIdentifier(left); id != nil && mod.Text(id) == frame {
				return true
			}
		case "identifier":
			if mod.Text(left) == frame && usedNames(mod, c.ChildByFieldName("right"))[frame] {
				return true
			}
		}
	}
	return false
}
