// Package strategy chooses how generated code is produced from a classified
// source. Selection is a pure function of its inputs.
package strategy

import (
	"fmt"

	"scanforge/internal/classify"
	"scanforge/internal/logging"
	"scanforge/internal/pyast"
	"scanforge/internal/types"
)

// Decision is the selected strategy and why.
type Decision struct {
	Strategy types.Strategy `json:"strategy"`
	Reason   string         `json:"reason"`
}

// Select picks HybridPreserve, HybridPreserveMulti or GenericPreserve.
// The Standalone check runs first but only claims inputs with fewer than
// three pattern assignments, so multi-pattern sources that also follow the
// convention still get multi-pattern aggregation.
func Select(cls *types.ClassificationResult, spec *types.StrategySpecification, mod *pyast.Module) Decision {
	patterns := patternCount(cls, mod)

	var d Decision
	switch {
	case standalone(cls, mod) && patterns < classify.MultiThreshold:
		d = Decision{
			Strategy: types.StrategyHybridPreserve,
			Reason:   "standalone convention present: fetch/metrics/scan/mold functions, config literal and entry guard",
		}
	case cls != nil && cls.PatternType == types.PatternMulti:
		d = Decision{
			Strategy: types.StrategyHybridPreserveMulti,
			Reason:   fmt.Sprintf("classified multi-pattern with %d independent pattern assignments", patterns),
		}
	case patterns >= classify.MultiThreshold:
		d = Decision{
			Strategy: types.StrategyHybridPreserveMulti,
			Reason:   fmt.Sprintf("%d independent pattern assignments", patterns),
		}
	default:
		d = Decision{
			Strategy: types.StrategyGenericPreserve,
			Reason:   "no recognized source shape; applying minimal generic architecture",
		}
	}
	if spec != nil && spec.Synthesized {
		d.Reason += " (synthesized specification)"
	}

	logging.StrategyDebug("selected %s: %s", d.Strategy, d.Reason)
	return d
}

func standalone(cls *types.ClassificationResult, mod *pyast.Module) bool {
	if mod != nil {
		return classify.IsStandalone(classify.Indicators(mod))
	}
	return cls != nil && classify.IsStandalone(cls.Indicators)
}

func patternCount(cls *types.ClassificationResult, mod *pyast.Module) int {
	if mod != nil {
		return len(mod.PatternTargets())
	}
	return cls.Indicator(classify.IndicatorPatternAssignments)
}

// IsPreserve reports whether a strategy keeps the original source.
func IsPreserve(s types.Strategy) bool {
	switch s {
	case types.StrategyHybridPreserve, types.StrategyHybridPreserveMulti, types.StrategyGenericPreserve:
		return true
	}
	return false
}
