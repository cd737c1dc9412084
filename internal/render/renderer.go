// Package render produces the target scanner module for a generation context.
// One renderer serves every strategy; a RenderPlan decides which original
// stages are reused, whether multi-pattern aggregation is emitted and where
// the detection fragment comes from.
package render

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"scanforge/internal/logging"
	"scanforge/internal/pyast"
	"scanforge/internal/types"
)

var identifierRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var pythonKeywords = map[string]bool{
	"False": true, "None": true, "True": true, "and": true, "as": true, "assert": true,
	"async": true, "await": true, "break": true, "class": true, "continue": true,
	"def": true, "del": true, "elif": true, "else": true, "except": true, "finally": true,
	"for": true, "from": true, "global": true, "if": true, "import": true, "in": true,
	"is": true, "lambda": true, "nonlocal": true, "not": true, "or": true, "pass": true,
	"raise": true, "return": true, "try": true, "while": true, "with": true, "yield": true,
}

// IsIdentifier reports whether s is a valid, non-keyword Python identifier.
func IsIdentifier(s string) bool {
	return identifierRE.MatchString(s) && !pythonKeywords[s]
}

// Renderer renders generation contexts through the scanner skeleton.
type Renderer struct {
	tmpl *template.Template
}

// New parses the skeleton template.
func New() *Renderer {
	funcs := template.FuncMap{
		"pyrepr": pyRepr,
		"indent": func(n int, s string) string {
			return pyast.Indent(s, strings.Repeat(" ", n))
		},
	}
	return &Renderer{
		tmpl: template.Must(template.New("scanner").Funcs(funcs).Parse(scannerTemplate)),
	}
}

type paramView struct {
	Name  string
	Value string
}

type view struct {
	Title          string
	Strategy       types.Strategy
	Description    string
	Conditions     []string
	Futures        []string
	ExtraImports   []string
	Preserved      string
	PatternColumns []string
	ClassName      string
	ClassDoc       string
	Params         []paramView
	Columns        ColumnConvention
	HistoryDays    int
	MaxWorkers     int
	IngestCall     string
	ComputeCalls   []string
	InlineFeatures string
	MinPrice       string
	MinVolume      string
	Mode           FragmentMode
	RowStyle       string
	Preamble       string
	Fragment       string
	Multi          bool
	Stubs          []string
}

// Render produces the scanner module. Errors are *types.RenderError: they
// mean the context violates the renderer's contract and retrying cannot help.
func (r *Renderer) Render(gc *GenerationContext) (string, error) {
	if gc == nil {
		return "", types.NewRenderError("context", "nil generation context")
	}
	if !IsIdentifier(gc.ClassName) {
		return "", types.NewRenderError("context", "invalid class name %q", gc.ClassName)
	}
	if gc.Plan.MultiPattern && len(gc.PatternColumns) == 0 {
		return "", types.NewRenderError("plan", "multi-pattern plan without pattern columns")
	}
	for _, stub := range gc.Stubs {
		if !IsIdentifier(stub) {
			return "", types.NewRenderError("stubs", "invalid method name %q", stub)
		}
	}

	v := view{
		Title:          pyDocstring(oneLine(firstNonEmpty(gc.Specification.Name, gc.Name, gc.ClassName))),
		Strategy:       gc.Strategy,
		Description:    pyDocstring(strings.TrimSpace(gc.Specification.Description)),
		Futures:        gc.Futures,
		ExtraImports:   gc.ExtraImports,
		Preserved:      gc.Preserved,
		PatternColumns: gc.PatternColumns,
		ClassName:      gc.ClassName,
		ClassDoc:       pyDocstring(oneLine(firstNonEmpty(gc.Specification.Rationale, gc.Name+" scanner."))),
		Columns:        gc.Columns,
		HistoryDays:    gc.HistoryDays,
		MaxWorkers:     max(gc.MaxWorkers, 1),
		IngestCall:     gc.IngestCall,
		ComputeCalls:   gc.ComputeCalls,
		InlineFeatures: gc.InlineFeatures,
		Mode:           gc.Fragment.Mode,
		RowStyle:       gc.Fragment.RowStyle,
		Preamble:       gc.Fragment.Preamble,
		Fragment:       gc.Fragment.Text,
		Multi:          gc.Plan.MultiPattern,
		Stubs:          gc.Stubs,
	}
	if v.Columns.Price == "" {
		v.Columns = conventions[0]
	}
	if strings.TrimSpace(v.Fragment) == "" {
		v.Fragment = "pass"
	}
	for _, c := range gc.Specification.EntryConditions {
		v.Conditions = append(v.Conditions, pyDocstring(oneLine(c)))
	}
	flat := gc.Parameters.Flatten()
	for _, name := range pyast.SortedKeys(flat) {
		v.Params = append(v.Params, paramView{Name: name, Value: pyRepr(flat[name])})
	}
	if gc.Filters.MinPrice != nil {
		v.MinPrice = gc.Filters.MinPrice.Param
	}
	if gc.Filters.MinVolume != nil {
		v.MinVolume = gc.Filters.MinVolume.Param
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, v); err != nil {
		return "", &types.RenderError{Stage: "template", Err: err}
	}
	out := Sanitize(buf.String())
	logging.RenderDebug("rendered %s attempt %d: %d bytes, fragment %s/%s from %s",
		gc.ClassName, gc.Attempt, len(out), gc.Fragment.Mode, gc.Plan.Extraction, gc.Fragment.Source)
	return out, nil
}

// FragmentLines returns the 1-based line range strictly between the
// detection fragment markers of rendered code, or ok=false when absent.
func FragmentLines(code string) (first, last int, ok bool) {
	begin, end := -1, -1
	for i, line := range strings.Split(code, "\n") {
		switch strings.TrimSpace(line) {
		case FragmentBegin:
			begin = i + 1
		case FragmentEnd:
			end = i + 1
		}
	}
	if begin < 0 || end <= begin {
		return 0, 0, false
	}
	return begin + 1, end - 1, true
}

// Fragment markers in rendered code.
const (
	FragmentBegin = "# >>> detection fragment"
	FragmentEnd   = "# <<< detection fragment"
)

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// ClassNameFor derives a scanner class name: PascalCase words plus a single
// "Scanner" suffix. Names that do not start with a letter get an "S" prefix.
func ClassNameFor(name string) string {
	var b strings.Builder
	for _, word := range strings.FieldsFunc(name, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	}) {
		b.WriteString(strings.ToUpper(word[:1]) + word[1:])
	}
	base := b.String()
	if base == "" {
		base = "Generated"
	}
	if base[0] >= '0' && base[0] <= '9' {
		base = "S" + base
	}
	if !strings.HasSuffix(base, "Scanner") {
		base += "Scanner"
	}
	return base
}

// Describe summarizes a context for logs and metadata.
func Describe(gc *GenerationContext) string {
	return fmt.Sprintf("%s via %s (extraction %s, %d compute, fragment %s)",
		gc.ClassName, gc.Strategy, gc.Plan.Extraction, len(gc.ComputeCalls), gc.Fragment.Mode)
}
