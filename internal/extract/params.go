package extract

import (
	"strings"

	"scanforge/internal/pyast"
	"scanforge/internal/types"
)

// categoryRules are checked in order; the first substring match wins.
// Period words come before price words so "atr_len" is a period.
var categoryRules = []struct {
	cat   types.ParameterCategory
	words []string
}{
	{types.CategoryGap, []string{"gap"}},
	{types.CategoryPeriod, []string{"period", "lookback", "window", "len", "days", "bars"}},
	{types.CategoryVolume, []string{"vol", "adv", "dollar"}},
	{types.CategoryPrice, []string{"price", "close", "atr", "high", "low", "open"}},
}

// Categorize assigns a parameter name to a category by key substrings.
func Categorize(name string) types.ParameterCategory {
	lower := strings.ToLower(name)
	if strings.Contains(lower, "volatil") {
		return types.CategoryOther
	}
	for _, rule := range categoryRules {
		for _, w := range rule.words {
			if strings.Contains(lower, w) {
				return rule.cat
			}
		}
	}
	return types.CategoryOther
}

// BuildParameters merges model-reported parameters with the source's config
// literal. Literal values win over model values of the same name.
func BuildParameters(spec *types.StrategySpecification, lit *pyast.ConfigLiteral, backend string) *types.ParameterSpecification {
	ps := types.NewParameterSpecification()
	if spec != nil {
		provenance := "model:" + backend
		if backend == "" {
			provenance = "synthesized"
		}
		for name, v := range spec.Parameters {
			ps.Set(Categorize(name), name, types.ParameterValue{Value: v, Provenance: provenance})
		}
	}
	if lit != nil {
		for _, name := range lit.Keys {
			v, ok := lit.Values[name]
			if !ok {
				continue
			}
			ps.Set(Categorize(name), name, types.ParameterValue{Value: v, Provenance: "source:" + lit.Name})
		}
	}
	return ps
}
