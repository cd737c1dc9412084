package render

import (
	"fmt"
	"slices"
	"strings"

	"scanforge/internal/pyast"
	"scanforge/internal/types"
	"scanforge/internal/window"

	sitter "github.com/smacker/go-tree-sitter"
)

// ColumnConvention is the field naming used by the source's frames.
type ColumnConvention struct {
	Price  string `json:"price"`
	Volume string `json:"volume"`
}

var conventions = []ColumnConvention{
	{Price: "Close", Volume: "Volume"},
	{Price: "close", Volume: "volume"},
	{Price: "c", Volume: "v"},
}

// DetectColumns picks the convention whose keys the source subscripts most.
func DetectColumns(mod *pyast.Module) ColumnConvention {
	best, bestScore := conventions[0], 0
	for _, c := range conventions {
		score := mod.SubscriptKeys[c.Price] + mod.SubscriptKeys[c.Volume]
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	return best
}

// Prepared is everything derived once from the source for a strategy. It is
// computed before the first attempt and shared read-only across attempts.
type Prepared struct {
	Plan      RenderPlan
	Preserved *Preserved
	Fragment  Fragment
	// PatternColumns lists multi-pattern flag columns in source order.
	PatternColumns []string
	// InlineFeatures holds module-level frame transforms lifted into compute.
	InlineFeatures string
	Columns        ColumnConvention
	// IngestCall is the expression _load returns, "" for loader-only ingest.
	IngestCall string
	// ComputeCalls are expressions evaluated in order in _compute_ticker.
	ComputeCalls []string
}

// Prepare derives the plan, the rewritten source and the detection fragment.
func Prepare(mod *pyast.Module, strategy types.Strategy) (*Prepared, error) {
	plan := NewPlan(strategy, mod)
	pres, err := PreserveSource(mod)
	if err != nil {
		return nil, types.NewRenderError("preserve", "%v", err)
	}
	p := &Prepared{
		Plan:      plan,
		Preserved: pres,
		Columns:   DetectColumns(mod),
	}
	if plan.MultiPattern {
		p.PatternColumns = mod.PatternTargets()
	}

	if fn := mod.Function(plan.IngestFunction); fn != nil {
		args, ok := callArgs(fn.Required, pres.IsRewritten(fn.Name), argBinding{
			Ticker: "ticker", Start: "start", End: "end", Params: "self.params",
			Fallback: []string{"ticker", "start", "end"},
		})
		if ok {
			p.IngestCall = fmt.Sprintf("%s(%s)", fn.Name, args)
		} else {
			p.Plan.IngestFunction = ""
		}
	}

	var compute []string
	for _, name := range plan.ComputeFunctions {
		fn := mod.Function(name)
		if fn == nil {
			continue
		}
		if len(fn.Required) == 0 && plan.MultiPattern {
			continue
		}
		args, ok := callArgs(fn.Required, pres.IsRewritten(name), argBinding{
			Ticker: "ticker", Frame: "frame", Params: "self.params",
			Fallback: []string{"frame"},
		})
		if !ok {
			continue
		}
		compute = append(compute, name)
		p.ComputeCalls = append(p.ComputeCalls, fmt.Sprintf("%s(%s)", name, args))
	}
	p.Plan.ComputeFunctions = compute

	// The fragment sees the final stage lists so its preamble skips calls
	// the ingest and compute stages already make.
	p.Fragment, err = ExtractFragment(mod, p.Plan, pres)
	if err != nil {
		return nil, types.NewRenderError("fragment", "%v", err)
	}

	if plan.MultiPattern && len(mod.PatternAssignments) > 0 {
		inline, err := inlineFeatures(mod, pres)
		if err != nil {
			return nil, types.NewRenderError("features", "%v", err)
		}
		p.InlineFeatures = inline
	}
	return p, nil
}

// inlineFeatures lifts the frame transforms that build pattern columns when
// they do not live in a callable compute function: module-level statements,
// or the body of a parameterless function.
func inlineFeatures(mod *pyast.Module, pres *Preserved) (string, error) {
	first := mod.PatternAssignments[0]
	var container *sitter.Node
	switch fn := mod.Function(first.Function); {
	case first.Function == "":
		container = mod.Root()
	case fn != nil && len(fn.Required) == 0:
		container = fn.Node.ChildByFieldName("body")
	default:
		return "", nil
	}

	frame := first.Frame
	if id := leftmostIdentifier(first.Node.ChildByFieldName("left")); id != nil {
		frame = mod.Text(id)
	}
	rt := retarget{
		mod:       mod,
		renames:   map[string]string{frame: "frame"},
		rewritten: pres.IsRewritten,
	}
	if pres.ConfigName != "" {
		rt.renames[pres.ConfigName] = ParamsName
	}

	var parts []string
	for _, stmt := range pyast.NamedChildren(container) {
		if !mutatesFrame(mod, stmt, frame) {
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

// Inputs is the immutable base a GenerationContext is built from.
type Inputs struct {
	Name           string
	ClassName      string
	Classification *types.ClassificationResult
	Specification  *types.StrategySpecification
	Parameters     *types.ParameterSpecification
	Prepared       *Prepared
	Window         window.Range
	MaxWorkers     int
	HistoryDays    int
}

// Patches are context changes requested by self-correction. They alter only
// generated code, never extracted parameter values.
type Patches struct {
	Imports     []string
	Stubs       []string
	Placeholder bool
}

// With returns p merged with other, deduplicated and order-preserving.
func (p Patches) With(other Patches) Patches {
	out := Patches{
		Imports:     slices.Clone(p.Imports),
		Stubs:       slices.Clone(p.Stubs),
		Placeholder: p.Placeholder || other.Placeholder,
	}
	for _, imp := range other.Imports {
		if !slices.Contains(out.Imports, imp) {
			out.Imports = append(out.Imports, imp)
		}
	}
	for _, s := range other.Stubs {
		if !slices.Contains(out.Stubs, s) {
			out.Stubs = append(out.Stubs, s)
		}
	}
	return out
}

// Empty reports whether the patch set changes nothing.
func (p Patches) Empty() bool {
	return len(p.Imports) == 0 && len(p.Stubs) == 0 && !p.Placeholder
}

// GenerationContext is the full value set for one render attempt. It is
// rebuilt from Inputs and Patches on every attempt and never mutated after.
type GenerationContext struct {
	Attempt        int
	Name           string
	ClassName      string
	Strategy       types.Strategy
	Classification types.ClassificationResult
	Specification  types.StrategySpecification
	Parameters     *types.ParameterSpecification
	Filters        window.FilterPlan
	Plan           RenderPlan
	Fragment       Fragment
	Preserved      string
	Futures        []string
	PatternColumns []string
	InlineFeatures string
	Columns        ColumnConvention
	IngestCall     string
	ComputeCalls   []string
	Window         window.Range
	MaxWorkers     int
	HistoryDays    int
	ExtraImports   []string
	Stubs          []string
}

// Build assembles a fresh context for an attempt.
func Build(in Inputs, patches Patches, attempt int) *GenerationContext {
	gc := &GenerationContext{
		Attempt:      attempt,
		Name:         in.Name,
		ClassName:    in.ClassName,
		Parameters:   in.Parameters.Clone(),
		Window:       in.Window,
		MaxWorkers:   in.MaxWorkers,
		HistoryDays:  in.HistoryDays,
		ExtraImports: slices.Clone(patches.Imports),
		Stubs:        slices.Clone(patches.Stubs),
	}
	if in.Classification != nil {
		gc.Classification = *in.Classification
	}
	if in.Specification != nil {
		gc.Specification = *in.Specification
		gc.Specification.EntryConditions = slices.Clone(in.Specification.EntryConditions)
		gc.Specification.ExitConditions = slices.Clone(in.Specification.ExitConditions)
	}
	if p := in.Prepared; p != nil {
		gc.Strategy = p.Plan.Strategy
		gc.Plan = p.Plan
		gc.Plan.ComputeFunctions = slices.Clone(p.Plan.ComputeFunctions)
		gc.Fragment = p.Fragment
		if p.Plan.PreserveSource && p.Preserved != nil {
			gc.Preserved = p.Preserved.Source
			gc.Futures = slices.Clone(p.Preserved.Futures)
		}
		gc.PatternColumns = slices.Clone(p.PatternColumns)
		gc.InlineFeatures = p.InlineFeatures
		gc.Columns = p.Columns
		gc.IngestCall = p.IngestCall
		gc.ComputeCalls = slices.Clone(p.ComputeCalls)
	}
	if patches.Placeholder {
		gc.Fragment = PlaceholderFragment(gc.Fragment)
	}
	gc.Filters = FilterPlanFor(gc.Parameters)
	return gc
}

// FilterPlanFor picks the minimum price and minimum volume thresholds the
// cheap filter stage applies to in-window rows.
func FilterPlanFor(ps *types.ParameterSpecification) window.FilterPlan {
	var plan window.FilterPlan
	pick := func(cat types.ParameterCategory, match func(string) bool) *window.Threshold {
		for _, name := range pyast.SortedKeys(ps.Categories[cat]) {
			v := ps.Categories[cat][name]
			f, ok := v.Float()
			if ok && match(strings.ToLower(name)) {
				return &window.Threshold{Param: name, Value: f}
			}
		}
		return nil
	}
	if ps == nil {
		return plan
	}
	plan.MinPrice = pick(types.CategoryPrice, func(n string) bool {
		return strings.HasPrefix(n, "min_") && (strings.Contains(n, "price") || strings.Contains(n, "close"))
	})
	plan.MinVolume = pick(types.CategoryVolume, func(n string) bool {
		if !strings.HasPrefix(n, "min_") || !strings.Contains(n, "vol") {
			return false
		}
		for _, w := range []string{"dollar", "rel", "ratio", "mult", "avg", "adv"} {
			if strings.Contains(n, w) {
				return false
			}
		}
		return true
	})
	return plan
}
