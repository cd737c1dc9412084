// Package types provides shared type definitions used across scanforge packages.
// This package exists to break import cycles between the classifier, extractor,
// renderer, validator and the pipeline that wires them together.
// Types in this package should be foundational data structures with no complex dependencies.
package types

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
)

// =============================================================================
// CLASSIFICATION
// =============================================================================

// PatternType is the structural shape of an input script.
type PatternType string

const (
	PatternStandalone PatternType = "standalone"
	PatternMulti      PatternType = "multi"
	PatternGeneric    PatternType = "generic"
)

// ParsePatternType converts a config or CLI string into a PatternType.
func ParsePatternType(s string) (PatternType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "standalone":
		return PatternStandalone, nil
	case "multi", "multi_pattern", "multi-pattern":
		return PatternMulti, nil
	case "generic":
		return PatternGeneric, nil
	default:
		return "", fmt.Errorf("unknown pattern type %q", s)
	}
}

// DataSourceFlags records where the input script reads its market data from.
type DataSourceFlags struct {
	HTTPAPI       bool `json:"http_api" yaml:"http_api"`
	LocalFiles    bool `json:"local_files" yaml:"local_files"`
	MarketDataLib bool `json:"market_data_lib" yaml:"market_data_lib"`
	DataFrame     bool `json:"dataframe" yaml:"dataframe"`
}

// ClassificationResult is the structural fingerprint of an input script.
type ClassificationResult struct {
	PatternType     PatternType     `json:"pattern_type"`
	Confidence      float64         `json:"confidence"`
	Indicators      map[string]int  `json:"indicators"`
	DataSourceFlags DataSourceFlags `json:"data_source_flags"`
}

// Indicator returns the count for a named indicator (zero when absent).
func (c *ClassificationResult) Indicator(name string) int {
	if c == nil || c.Indicators == nil {
		return 0
	}
	return c.Indicators[name]
}

// =============================================================================
// SPECIFICATION
// =============================================================================

// StrategySpecification is the semantic description of a scanner, produced by
// the extraction collaborator or synthesized as a minimal fallback.
type StrategySpecification struct {
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	StrategyType    string         `json:"strategy_type"`
	EntryConditions []string       `json:"entry_conditions"`
	ExitConditions  []string       `json:"exit_conditions"`
	Parameters      map[string]any `json:"parameters,omitempty"`
	Timeframe       string         `json:"timeframe"`
	Rationale       string         `json:"rationale"`
	ScanKind        string         `json:"scan_kind"`
	Synthesized     bool           `json:"synthesized,omitempty"`
}

// ParameterCategory groups extracted thresholds.
type ParameterCategory string

const (
	CategoryPrice  ParameterCategory = "price"
	CategoryVolume ParameterCategory = "volume"
	CategoryGap    ParameterCategory = "gap"
	CategoryPeriod ParameterCategory = "period"
	CategoryOther  ParameterCategory = "other"
)

// AllParameterCategories lists categories in rendering order.
var AllParameterCategories = []ParameterCategory{
	CategoryPrice, CategoryVolume, CategoryGap, CategoryPeriod, CategoryOther,
}

// ParameterValue is one extracted threshold and where it came from.
type ParameterValue struct {
	Value      any    `json:"value"`
	Provenance string `json:"provenance"`
}

// Float returns the value as a float64 when it is numeric.
func (v ParameterValue) Float() (float64, bool) {
	switch n := v.Value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// ParameterSpecification holds categorized thresholds. Values are treated as
// immutable once extraction finishes; consumers take a Clone.
type ParameterSpecification struct {
	Categories map[ParameterCategory]map[string]ParameterValue `json:"categories"`
}

// NewParameterSpecification returns an empty specification with every category allocated.
func NewParameterSpecification() *ParameterSpecification {
	ps := &ParameterSpecification{Categories: make(map[ParameterCategory]map[string]ParameterValue)}
	for _, c := range AllParameterCategories {
		ps.Categories[c] = make(map[string]ParameterValue)
	}
	return ps
}

// Set stores a value under a category, allocating the category if needed.
func (p *ParameterSpecification) Set(cat ParameterCategory, name string, v ParameterValue) {
	if p.Categories == nil {
		p.Categories = make(map[ParameterCategory]map[string]ParameterValue)
	}
	if p.Categories[cat] == nil {
		p.Categories[cat] = make(map[string]ParameterValue)
	}
	p.Categories[cat][name] = v
}

// Lookup finds a parameter by name in any category.
func (p *ParameterSpecification) Lookup(name string) (ParameterValue, ParameterCategory, bool) {
	if p == nil {
		return ParameterValue{}, "", false
	}
	for _, cat := range AllParameterCategories {
		if v, ok := p.Categories[cat][name]; ok {
			return v, cat, true
		}
	}
	return ParameterValue{}, "", false
}

// Len counts parameters across categories.
func (p *ParameterSpecification) Len() int {
	if p == nil {
		return 0
	}
	n := 0
	for _, m := range p.Categories {
		n += len(m)
	}
	return n
}

// Names returns all parameter names sorted.
func (p *ParameterSpecification) Names() []string {
	if p == nil {
		return nil
	}
	var names []string
	for _, m := range p.Categories {
		for name := range m {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy. Slice and map values inside Value are copied one level.
func (p *ParameterSpecification) Clone() *ParameterSpecification {
	out := NewParameterSpecification()
	if p == nil {
		return out
	}
	for cat, m := range p.Categories {
		dst := make(map[string]ParameterValue, len(m))
		for name, v := range m {
			dst[name] = ParameterValue{Value: cloneValue(v.Value), Provenance: v.Provenance}
		}
		out.Categories[cat] = dst
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []any:
		return slices.Clone(t)
	case map[string]any:
		return maps.Clone(t)
	default:
		return v
	}
}

// Flatten returns name -> value across categories.
func (p *ParameterSpecification) Flatten() map[string]any {
	out := make(map[string]any)
	if p == nil {
		return out
	}
	for _, m := range p.Categories {
		for name, v := range m {
			out[name] = v.Value
		}
	}
	return out
}

// =============================================================================
// STRATEGY
// =============================================================================

// Strategy is a code generation strategy.
type Strategy string

const (
	StrategyHybridPreserve      Strategy = "hybrid_preserve"
	StrategyHybridPreserveMulti Strategy = "hybrid_preserve_multi"
	StrategyGenericPreserve     Strategy = "generic_preserve"
)

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationCategory names one independent static check.
type ValidationCategory string

const (
	ValidationSyntax    ValidationCategory = "syntax"
	ValidationStructure ValidationCategory = "structure"
	ValidationImports   ValidationCategory = "imports"
	ValidationStyle     ValidationCategory = "style"
)

// ValidationResult is the outcome of one validation category.
type ValidationResult struct {
	Category ValidationCategory `json:"category"`
	IsValid  bool               `json:"is_valid"`
	Errors   []string           `json:"errors"`
	Warnings []string           `json:"warnings"`
}

// AllValid reports whether every result passed.
func AllValid(results []ValidationResult) bool {
	for _, r := range results {
		if !r.IsValid {
			return false
		}
	}
	return true
}

// CollectErrors flattens error strings from all results, in category order.
func CollectErrors(results []ValidationResult) []string {
	var errs []string
	for _, r := range results {
		errs = append(errs, r.Errors...)
	}
	return errs
}

// CorrectionRecord documents one automatic fix applied between attempts.
type CorrectionRecord struct {
	AttemptNumber int    `json:"attempt_number"`
	ErrorType     string `json:"error_type"`
	Description   string `json:"description"`
	Fix           string `json:"fix"`
}

// =============================================================================
// RESULT
// =============================================================================

// TransformationResult is the single value returned by a transformation.
// GeneratedCode is nil when no artifact was produced.
type TransformationResult struct {
	Success            bool               `json:"success"`
	GeneratedCode      *string            `json:"generated_code"`
	ValidationResults  []ValidationResult `json:"validation_results"`
	Metadata           map[string]any     `json:"metadata"`
	Errors             []string           `json:"errors"`
	CorrectionsApplied int                `json:"corrections_applied"`
	Corrections        []CorrectionRecord `json:"corrections,omitempty"`
}

// Code returns the generated code or "" when none was produced.
func (r *TransformationResult) Code() string {
	if r == nil || r.GeneratedCode == nil {
		return ""
	}
	return *r.GeneratedCode
}
