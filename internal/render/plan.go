package render

import (
	"strings"

	"scanforge/internal/pyast"
	"scanforge/internal/types"
)

// ExtractionRule says where the detection fragment comes from.
type ExtractionRule string

const (
	// RuleLoopBody lifts the body of the source's per-row detection loop.
	RuleLoopBody ExtractionRule = "loop_body"
	// RulePatternColumns flags rows by the boolean pattern columns the source computes.
	RulePatternColumns ExtractionRule = "pattern_columns"
	// RuleRowPredicate calls a source helper that decides one row.
	RuleRowPredicate ExtractionRule = "row_predicate"
	// RuleNone emits a no-op fragment.
	RuleNone ExtractionRule = "none"
)

// RenderPlan parameterizes the single renderer: which original stages are
// kept, whether multi-pattern aggregation is needed and which extraction rule
// produces the detection fragment.
type RenderPlan struct {
	Strategy types.Strategy `json:"strategy"`
	// PreserveSource keeps the rewritten original module above the scanner class.
	// When false the artifact is rendered from the template alone.
	PreserveSource bool `json:"preserve_source"`
	// IngestFunction is reused by fetch_grouped_data; "" means an injected loader.
	IngestFunction string `json:"ingest_function,omitempty"`
	// ComputeFunctions run in compute_features, in source order.
	ComputeFunctions []string `json:"compute_functions,omitempty"`
	// ScanFunction holds the detection loop.
	ScanFunction string `json:"scan_function,omitempty"`
	// PredicateFunction decides one row for RuleRowPredicate.
	PredicateFunction string         `json:"predicate_function,omitempty"`
	MultiPattern      bool           `json:"multi_pattern"`
	Extraction        ExtractionRule `json:"extraction"`
}

var (
	ingestPrefixes  = []string{"fetch", "load", "download", "get_data", "get_bars", "get_daily", "read_"}
	computePrefixes = []string{"add_", "compute_", "calc_", "calculate_", "with_", "enrich"}
)

// NewPlan derives the render plan for a strategy from the source inventory.
func NewPlan(strategy types.Strategy, mod *pyast.Module) RenderPlan {
	plan := RenderPlan{
		Strategy:       strategy,
		PreserveSource: hasPreservable(mod),
		IngestFunction: findIngest(mod),
	}
	for _, fn := range mod.Functions {
		if fn.Name != plan.IngestFunction && hasPrefix(fn.Name, computePrefixes) && len(fn.Required) >= 1 {
			plan.ComputeFunctions = append(plan.ComputeFunctions, fn.Name)
		}
	}

	switch strategy {
	case types.StrategyHybridPreserve:
		plan.ScanFunction = "scan_symbol"
		plan.Extraction = RuleLoopBody
		if findLoop(mod, mod.Function("scan_symbol")) == nil {
			plan.Extraction = RuleRowPredicate
			plan.PredicateFunction = "_mold_on_row"
		}
	case types.StrategyHybridPreserveMulti:
		plan.MultiPattern = true
		plan.Extraction = RulePatternColumns
		if len(mod.PatternAssignments) > 0 {
			if pf := mod.PatternAssignments[0].Function; pf != "" && !contains(plan.ComputeFunctions, pf) {
				plan.ComputeFunctions = append(plan.ComputeFunctions, pf)
			}
		}
	default:
		plan.Extraction = RuleNone
		if loop := findLoop(mod, nil); loop != nil {
			plan.Extraction = RuleLoopBody
			if fn := mod.FunctionAt(loop.StartByte()); fn != nil {
				plan.ScanFunction = fn.Name
			}
		} else if pred := findPredicate(mod); pred != "" {
			plan.Extraction = RuleRowPredicate
			plan.PredicateFunction = pred
		}
	}
	return plan
}

// hasPreservable reports whether anything beyond imports and comments
// survives the preserve rewrite.
func hasPreservable(mod *pyast.Module) bool {
	for _, stmt := range mod.Statements {
		switch stmt.Kind {
		case pyast.StmtImport, pyast.StmtDocstring, pyast.StmtComment:
			continue
		}
		if dropReason(mod, stmt) == "" {
			return true
		}
	}
	return false
}

func findIngest(mod *pyast.Module) string {
	if fn := mod.Function("fetch_daily"); fn != nil {
		return fn.Name
	}
	for _, fn := range mod.Functions {
		if hasPrefix(fn.Name, ingestPrefixes) && len(fn.Required) >= 1 {
			return fn.Name
		}
	}
	return ""
}

func findPredicate(mod *pyast.Module) string {
	for _, fn := range mod.Functions {
		name := strings.ToLower(fn.Name)
		if len(fn.Required) == 0 {
			continue
		}
		for _, w := range []string{"mold", "on_row", "signal", "is_", "check_", "matches"} {
			if strings.Contains(name, w) {
				return fn.Name
			}
		}
	}
	return ""
}

func hasPrefix(name string, prefixes []string) bool {
	lower := strings.ToLower(name)
	for _, p := range prefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
