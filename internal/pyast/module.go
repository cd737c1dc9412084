package pyast

import (
	"sort"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// Span is a byte range with 1-based inclusive line numbers.
type Span struct {
	Start     uint32 `json:"start"`
	End       uint32 `json:"end"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

func spanOf(n *sitter.Node) Span {
	return Span{
		Start:     n.StartByte(),
		End:       n.EndByte(),
		StartLine: int(n.StartPoint().Row) + 1,
		EndLine:   int(n.EndPoint().Row) + 1,
	}
}

// StatementKind classifies a top-level statement.
type StatementKind string

const (
	StmtImport     StatementKind = "import"
	StmtFunction   StatementKind = "function"
	StmtClass      StatementKind = "class"
	StmtConfig     StatementKind = "config_literal"
	StmtAssignment StatementKind = "assignment"
	StmtDocstring  StatementKind = "docstring"
	StmtEntryGuard StatementKind = "entry_guard"
	StmtComment    StatementKind = "comment"
	StmtOther      StatementKind = "other"
)

// Statement is one top-level statement of the module.
type Statement struct {
	Kind StatementKind
	Span Span
	Node *sitter.Node
}

// Function is a top-level function definition.
type Function struct {
	Name   string
	Params []string
	// Required lists positional parameters without defaults.
	Required []string
	// Span covers decorators when present.
	Span Span
	Node *sitter.Node
	// Identifiers counts name references inside the body.
	Identifiers map[string]int
	// Calls counts simple callee names inside the body.
	Calls     map[string]int
	Docstring string
}

// HasParam reports whether name is one of the function's parameters.
func (f *Function) HasParam(name string) bool {
	for _, p := range f.Params {
		if p == name {
			return true
		}
	}
	return false
}

// Class is a top-level class definition.
type Class struct {
	Name    string
	Methods []string
	Span    Span
	Node    *sitter.Node
}

// HasMethod reports whether the class defines name.
func (c *Class) HasMethod(name string) bool {
	for _, m := range c.Methods {
		if m == name {
			return true
		}
	}
	return false
}

// Import is one import statement anywhere in the module.
type Import struct {
	// Module is the imported module path ("pandas", "concurrent.futures", ".utils").
	Module string
	// Names lists names pulled in by a from-import.
	Names []string
	// Bound lists the names the statement binds in scope.
	Bound    []string
	From     bool
	TopLevel bool
	Span     Span
}

// Root returns the top-level package of the import ("concurrent" for
// "concurrent.futures"); relative imports return "".
func (i *Import) Root() string {
	if strings.HasPrefix(i.Module, ".") {
		return ""
	}
	root, _, _ := strings.Cut(i.Module, ".")
	return root
}

// ConfigLiteral is a top-level `NAME = {...}` dictionary assignment.
type ConfigLiteral struct {
	Name string
	// Keys preserves source order.
	Keys []string
	// Values holds entries whose value is a plain literal.
	Values map[string]any
	// Raw holds the source text of every entry's value.
	Raw  map[string]string
	Span Span
}

// PatternAssignment is `frame["name"] = <expr with >= 2 comparisons>`.
type PatternAssignment struct {
	Target      string
	Frame       string
	Comparisons int
	// Function is the enclosing top-level function, or "" at module level.
	Function string
	Span     Span
	Node     *sitter.Node
}

// Module is a parsed source file plus its structural inventory.
type Module struct {
	Source []byte
	tree   *sitter.Tree

	Docstring          string
	Statements         []*Statement
	Functions          []*Function
	Classes            []*Class
	Imports            []*Import
	ConfigLiterals     []*ConfigLiteral
	EntryGuard         *Statement
	PatternAssignments []*PatternAssignment
	// SubscriptKeys counts string keys used in subscripts (`row["Close"]`).
	SubscriptKeys map[string]int
	// Calls counts simple callee names across the whole module.
	Calls map[string]int
	// Uses counts name references across the module.
	Uses map[string]int
	// Bound is every name bound anywhere (imports, defs, params, assignment targets).
	Bound map[string]bool
	// DetectionLoops counts per-row loops that feed an accumulator.
	DetectionLoops int
}

func newModule(src []byte, tree *sitter.Tree) *Module {
	return &Module{
		Source:        src,
		tree:          tree,
		SubscriptKeys: make(map[string]int),
		Calls:         make(map[string]int),
		Uses:          make(map[string]int),
		Bound:         make(map[string]bool),
	}
}

// Close releases the parse tree. Nodes obtained from the module are invalid afterwards.
func (m *Module) Close() {
	if m != nil && m.tree != nil {
		m.tree.Close()
		m.tree = nil
	}
}

// Root returns the module node.
func (m *Module) Root() *sitter.Node {
	return m.tree.RootNode()
}

// Text returns the source text of n.
func (m *Module) Text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return string(m.Source[n.StartByte():n.EndByte()])
}

// Function returns the top-level function with the given name.
func (m *Module) Function(name string) *Function {
	for _, f := range m.Functions {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Class returns the top-level class with the given name.
func (m *Module) Class(name string) *Class {
	for _, c := range m.Classes {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ConfigLiteral returns the first config literal, if any.
func (m *Module) ConfigLiteral() *ConfigLiteral {
	if len(m.ConfigLiterals) == 0 {
		return nil
	}
	return m.ConfigLiterals[0]
}

// ImportsModule reports whether any import targets the given root package.
func (m *Module) ImportsModule(root string) bool {
	for _, imp := range m.Imports {
		if imp.Root() == root {
			return true
		}
	}
	return false
}

// PatternTargets returns distinct pattern-assignment targets in source order.
func (m *Module) PatternTargets() []string {
	seen := make(map[string]bool)
	var out []string
	for _, pa := range m.PatternAssignments {
		if seen[pa.Target] {
			continue
		}
		seen[pa.Target] = true
		out = append(out, pa.Target)
	}
	return out
}

// FunctionAt returns the top-level function containing byte offset b.
func (m *Module) FunctionAt(b uint32) *Function {
	for _, f := range m.Functions {
		if b >= f.Span.Start && b < f.Span.End {
			return f
		}
	}
	return nil
}

// =============================================================================
// INVENTORY
// =============================================================================

func (m *Module) inventory() {
	root := m.Root()
	for i, child := range topLevel(root) {
		m.topLevelStatement(i, child)
	}

	Walk(root, func(n *sitter.Node) bool {
		switch n.Type() {
		case "import_statement", "import_from_statement":
			m.addImport(n)
		case "assignment":
			m.collectBinding(n.ChildByFieldName("left"))
			m.checkPatternAssignment(n)
		case "augmented_assignment":
			m.collectBinding(n.ChildByFieldName("left"))
		case "for_statement":
			m.collectBinding(n.ChildByFieldName("left"))
			if IsDetectionLoop(n, m.Source) {
				m.DetectionLoops++
			}
		case "for_in_clause":
			m.collectBinding(n.ChildByFieldName("left"))
		case "as_pattern":
			m.collectBinding(n.ChildByFieldName("alias"))
		case "named_expression":
			m.collectBinding(n.ChildByFieldName("name"))
		case "function_definition", "class_definition":
			if name := n.ChildByFieldName("name"); name != nil {
				m.Bound[m.Text(name)] = true
			}
		case "parameters", "lambda_parameters":
			for _, p := range paramNames(n, m.Source) {
				m.Bound[p] = true
			}
		case "call":
			if name := CalleeName(n, m.Source); name != "" {
				m.Calls[name]++
			}
		case "subscript":
			if key, ok := StringKey(n, m.Source); ok {
				m.SubscriptKeys[key]++
			}
		case "identifier":
			if IsLoadIdentifier(n) {
				m.Uses[m.Text(n)]++
			}
		}
		return true
	})
}

// topLevel returns module statements, unwrapping nothing.
func topLevel(root *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	for i := 0; i < int(root.NamedChildCount()); i++ {
		out = append(out, root.NamedChild(i))
	}
	return out
}

func (m *Module) topLevelStatement(idx int, n *sitter.Node) {
	stmt := &Statement{Kind: StmtOther, Span: spanOf(n), Node: n}
	defer func() { m.Statements = append(m.Statements, stmt) }()

	switch n.Type() {
	case "comment":
		stmt.Kind = StmtComment
	case "import_statement", "import_from_statement", "future_import_statement":
		stmt.Kind = StmtImport
	case "function_definition":
		stmt.Kind = StmtFunction
		m.addFunction(n, n)
	case "class_definition":
		stmt.Kind = StmtClass
		m.addClass(n, n)
	case "decorated_definition":
		def := n.ChildByFieldName("definition")
		if def == nil {
			return
		}
		switch def.Type() {
		case "function_definition":
			stmt.Kind = StmtFunction
			m.addFunction(def, n)
		case "class_definition":
			stmt.Kind = StmtClass
			m.addClass(def, n)
		}
	case "if_statement":
		if isEntryGuard(n, m.Source) {
			stmt.Kind = StmtEntryGuard
			m.EntryGuard = stmt
		}
	case "expression_statement":
		inner := NamedChildren(n)
		if len(inner) != 1 {
			return
		}
		switch inner[0].Type() {
		case "string":
			if m.Docstring == "" && m.firstCodeStatement(idx) {
				stmt.Kind = StmtDocstring
				m.Docstring = StringValue(inner[0], m.Source)
			}
		case "assignment":
			stmt.Kind = StmtAssignment
			if lit := m.configLiteral(inner[0]); lit != nil {
				lit.Span = spanOf(n)
				stmt.Kind = StmtConfig
				m.ConfigLiterals = append(m.ConfigLiterals, lit)
			}
		}
	}
}

// firstCodeStatement reports whether every statement before idx is a comment.
func (m *Module) firstCodeStatement(idx int) bool {
	for _, s := range m.Statements[:min(idx, len(m.Statements))] {
		if s.Kind != StmtComment {
			return false
		}
	}
	return true
}

func (m *Module) addFunction(def, outer *sitter.Node) {
	name := def.ChildByFieldName("name")
	if name == nil {
		return
	}
	fn := &Function{
		Name:        m.Text(name),
		Params:      paramNames(def.ChildByFieldName("parameters"), m.Source),
		Required:    requiredParams(def.ChildByFieldName("parameters"), m.Source),
		Span:        spanOf(outer),
		Node:        def,
		Identifiers: make(map[string]int),
		Calls:       make(map[string]int),
	}
	body := def.ChildByFieldName("body")
	if body != nil {
		if stmts := NamedChildren(body); len(stmts) > 0 && stmts[0].Type() == "expression_statement" {
			if s := NamedChildren(stmts[0]); len(s) == 1 && s[0].Type() == "string" {
				fn.Docstring = StringValue(s[0], m.Source)
			}
		}
		Walk(body, func(n *sitter.Node) bool {
			switch n.Type() {
			case "identifier":
				if IsLoadIdentifier(n) {
					fn.Identifiers[m.Text(n)]++
				}
			case "call":
				if c := CalleeName(n, m.Source); c != "" {
					fn.Calls[c]++
				}
			}
			return true
		})
	}
	m.Functions = append(m.Functions, fn)
}

func (m *Module) addClass(def, outer *sitter.Node) {
	name := def.ChildByFieldName("name")
	if name == nil {
		return
	}
	cls := &Class{Name: m.Text(name), Span: spanOf(outer), Node: def}
	for _, stmt := range NamedChildren(def.ChildByFieldName("body")) {
		if stmt.Type() == "decorated_definition" {
			stmt = stmt.ChildByFieldName("definition")
		}
		if stmt != nil && stmt.Type() == "function_definition" {
			if n := stmt.ChildByFieldName("name"); n != nil {
				cls.Methods = append(cls.Methods, m.Text(n))
			}
		}
	}
	m.Classes = append(m.Classes, cls)
}

func (m *Module) addImport(n *sitter.Node) {
	imp := &Import{Span: spanOf(n), TopLevel: n.Parent() != nil && n.Parent().Type() == "module"}

	if n.Type() == "import_statement" {
		// `import a, b as c` records one Import per module.
		for _, c := range NamedChildren(n) {
			one := &Import{Span: imp.Span, TopLevel: imp.TopLevel}
			switch c.Type() {
			case "dotted_name":
				one.Module = m.Text(c)
				root, _, _ := strings.Cut(one.Module, ".")
				one.Bound = []string{root}
			case "aliased_import":
				one.Module = m.Text(c.ChildByFieldName("name"))
				one.Bound = []string{m.Text(c.ChildByFieldName("alias"))}
			default:
				continue
			}
			m.Bound[one.Bound[0]] = true
			m.Imports = append(m.Imports, one)
		}
		return
	}

	imp.From = true
	modNode := n.ChildByFieldName("module_name")
	imp.Module = m.Text(modNode)
	for _, c := range NamedChildren(n) {
		if SameNode(c, modNode) {
			continue
		}
		switch c.Type() {
		case "dotted_name":
			name := m.Text(c)
			imp.Names = append(imp.Names, name)
			imp.Bound = append(imp.Bound, name)
		case "aliased_import":
			imp.Names = append(imp.Names, m.Text(c.ChildByFieldName("name")))
			imp.Bound = append(imp.Bound, m.Text(c.ChildByFieldName("alias")))
		case "wildcard_import":
			imp.Names = append(imp.Names, "*")
		}
	}
	for _, b := range imp.Bound {
		m.Bound[b] = true
	}
	m.Imports = append(m.Imports, imp)
}

// collectBinding marks every identifier in a binding target as bound.
func (m *Module) collectBinding(n *sitter.Node) {
	Walk(n, func(c *sitter.Node) bool {
		if c.Type() == "identifier" {
			m.Bound[m.Text(c)] = true
		}
		return true
	})
}

func (m *Module) configLiteral(assign *sitter.Node) *ConfigLiteral {
	left := assign.ChildByFieldName("left")
	right := assign.ChildByFieldName("right")
	if left == nil || right == nil || left.Type() != "identifier" || right.Type() != "dictionary" {
		return nil
	}
	lit := &ConfigLiteral{
		Name:   m.Text(left),
		Values: make(map[string]any),
		Raw:    make(map[string]string),
	}
	for _, pair := range NamedChildren(right) {
		if pair.Type() != "pair" {
			continue
		}
		k := pair.ChildByFieldName("key")
		v := pair.ChildByFieldName("value")
		if k == nil || v == nil || k.Type() != "string" {
			continue
		}
		key := StringValue(k, m.Source)
		lit.Keys = append(lit.Keys, key)
		lit.Raw[key] = m.Text(v)
		if val, ok := LiteralValue(v, m.Source); ok {
			lit.Values[key] = val
		}
	}
	return lit
}

func (m *Module) checkPatternAssignment(assign *sitter.Node) {
	left := assign.ChildByFieldName("left")
	right := assign.ChildByFieldName("right")
	if left == nil || right == nil || left.Type() != "subscript" {
		return
	}
	key, ok := StringKey(left, m.Source)
	if !ok {
		return
	}
	comparisons := CountComparisons(right)
	if comparisons < 2 {
		return
	}
	pa := &PatternAssignment{
		Target:      key,
		Frame:       m.Text(left.ChildByFieldName("value")),
		Comparisons: comparisons,
		Span:        spanOf(assign),
		Node:        assign,
	}
	if stmt := assign.Parent(); stmt != nil && stmt.Type() == "expression_statement" {
		pa.Span = spanOf(stmt)
	}
	for fn := Ancestor(assign, "function_definition"); fn != nil; fn = Ancestor(fn, "function_definition") {
		if p := fn.Parent(); p != nil && (p.Type() == "module" || p.Type() == "decorated_definition") {
			pa.Function = m.Text(fn.ChildByFieldName("name"))
			break
		}
	}
	m.PatternAssignments = append(m.PatternAssignments, pa)
}

// =============================================================================
// NODE HELPERS
// =============================================================================

// CountComparisons counts comparison operators under n; `a < b < c` counts two.
func CountComparisons(n *sitter.Node) int {
	count := 0
	Walk(n, func(c *sitter.Node) bool {
		if c.Type() == "comparison_operator" {
			count += len(NamedChildren(c)) - 1
		}
		return true
	})
	return count
}

// StringKey returns the key of a subscript whose index is one string literal.
func StringKey(sub *sitter.Node, src []byte) (string, bool) {
	idx := sub.ChildByFieldName("subscript")
	if idx == nil || idx.Type() != "string" {
		return "", false
	}
	if sub.NamedChildCount() > 2 {
		return "", false
	}
	return StringValue(idx, src), true
}

// StringValue returns the contents of a string literal without prefix or quotes.
func StringValue(n *sitter.Node, src []byte) string {
	text := string(src[n.StartByte():n.EndByte()])
	return unquote(text)
}

func unquote(text string) string {
	text = strings.TrimLeft(text, "rRbBuUfF")
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if len(text) >= 2*len(q) && strings.HasPrefix(text, q) && strings.HasSuffix(text, q) {
			return text[len(q) : len(text)-len(q)]
		}
	}
	return text
}

// IsFString reports whether a string literal is an f-string.
func IsFString(n *sitter.Node, src []byte) bool {
	text := string(src[n.StartByte():n.EndByte()])
	prefix := text[:len(text)-len(strings.TrimLeft(text, "rRbBuUfF"))]
	return strings.ContainsAny(prefix, "fF")
}

// LiteralValue converts a plain literal node into a Go value: int64, float64,
// bool, string, nil or []any of literals.
func LiteralValue(n *sitter.Node, src []byte) (any, bool) {
	text := string(src[n.StartByte():n.EndByte()])
	switch n.Type() {
	case "integer":
		v, err := strconv.ParseInt(strings.ReplaceAll(text, "_", ""), 0, 64)
		if err != nil {
			return nil, false
		}
		return v, true
	case "float":
		v, err := strconv.ParseFloat(strings.ReplaceAll(text, "_", ""), 64)
		if err != nil {
			return nil, false
		}
		return v, true
	case "true":
		return true, true
	case "false":
		return false, true
	case "none":
		return nil, true
	case "string":
		if IsFString(n, src) {
			return nil, false
		}
		return StringValue(n, src), true
	case "unary_operator":
		arg := n.ChildByFieldName("argument")
		op := n.ChildByFieldName("operator")
		if arg == nil || op == nil || op.Content(src) != "-" {
			return nil, false
		}
		v, ok := LiteralValue(arg, src)
		if !ok {
			return nil, false
		}
		switch x := v.(type) {
		case int64:
			return -x, true
		case float64:
			return -x, true
		}
		return nil, false
	case "list", "tuple":
		var out []any
		for _, c := range NamedChildren(n) {
			v, ok := LiteralValue(c, src)
			if !ok {
				return nil, false
			}
			out = append(out, v)
		}
		if out == nil {
			out = []any{}
		}
		return out, true
	case "parenthesized_expression":
		inner := NamedChildren(n)
		if len(inner) == 1 {
			return LiteralValue(inner[0], src)
		}
	}
	return nil, false
}

func paramNames(params *sitter.Node, src []byte) []string {
	var names []string
	for _, p := range NamedChildren(params) {
		switch p.Type() {
		case "identifier":
			names = append(names, p.Content(src))
		case "default_parameter", "typed_default_parameter":
			if n := p.ChildByFieldName("name"); n != nil {
				names = append(names, n.Content(src))
			}
		case "typed_parameter", "list_splat_pattern", "dictionary_splat_pattern":
			for _, c := range NamedChildren(p) {
				if c.Type() == "identifier" {
					names = append(names, c.Content(src))
					break
				}
				if c.Type() == "list_splat_pattern" || c.Type() == "dictionary_splat_pattern" {
					if id := NamedChildren(c); len(id) > 0 {
						names = append(names, id[0].Content(src))
					}
					break
				}
			}
		}
	}
	return names
}

// requiredParams returns plain positional parameters, stopping at the first
// splat or keyword-only separator.
func requiredParams(params *sitter.Node, src []byte) []string {
	var names []string
	for _, p := range NamedChildren(params) {
		switch p.Type() {
		case "identifier":
			names = append(names, p.Content(src))
		case "typed_parameter":
			c := NamedChildren(p)
			if len(c) == 0 || c[0].Type() != "identifier" {
				return names
			}
			names = append(names, c[0].Content(src))
		case "default_parameter", "typed_default_parameter":
			continue
		default:
			return names
		}
	}
	return names
}

func isEntryGuard(n *sitter.Node, src []byte) bool {
	cond := n.ChildByFieldName("condition")
	if cond == nil || cond.Type() != "comparison_operator" {
		return false
	}
	var hasName, hasMain bool
	for _, c := range NamedChildren(cond) {
		switch c.Type() {
		case "identifier":
			hasName = hasName || c.Content(src) == "__name__"
		case "string":
			hasMain = hasMain || StringValue(c, src) == "__main__"
		}
	}
	return hasName && hasMain
}

// IsDetectionLoop reports whether a for loop walks rows (iterrows/itertuples)
// or appends to an accumulator in its body.
func IsDetectionLoop(n *sitter.Node, src []byte) bool {
	if right := n.ChildByFieldName("right"); right != nil {
		rowIter := false
		Walk(right, func(c *sitter.Node) bool {
			if c.Type() == "call" {
				switch CalleeName(c, src) {
				case "iterrows", "itertuples":
					rowIter = true
				}
			}
			return !rowIter
		})
		if rowIter {
			return true
		}
	}
	appends := false
	Walk(n.ChildByFieldName("body"), func(c *sitter.Node) bool {
		if c.Type() == "call" && CalleeName(c, src) == "append" {
			appends = true
		}
		return !appends
	})
	return appends
}

// SortedKeys returns map keys in sorted order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
