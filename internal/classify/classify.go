// Package classify fingerprints the structural shape of an input scanner
// script: Standalone (the fetch/metrics/scan/mold convention), Multi
// (three or more independent pattern assignments) or Generic.
package classify

import (
	"context"
	"math"

	"scanforge/internal/logging"
	"scanforge/internal/pyast"
	"scanforge/internal/types"
)

// ConventionFunctions is the Standalone naming quadruple.
var ConventionFunctions = []string{"fetch_daily", "add_daily_metrics", "scan_symbol", "_mold_on_row"}

// MultiThreshold is the number of distinct pattern assignments that makes a script Multi.
const MultiThreshold = 3

// Indicator names.
const (
	IndicatorConfigLiteral      = "config_literal"
	IndicatorEntryGuard         = "entry_guard"
	IndicatorPatternAssignments = "pattern_assignments"
	IndicatorFunctions          = "functions"
	IndicatorClasses            = "classes"
	IndicatorImports            = "imports"
	IndicatorDetectionLoops     = "detection_loops"
)

var (
	httpModules       = map[string]bool{"requests": true, "urllib": true, "urllib3": true, "httpx": true, "aiohttp": true, "polygon": true}
	marketDataModules = map[string]bool{"yfinance": true, "alpaca_trade_api": true, "alpaca": true}
	fileReaders       = map[string]bool{"read_csv": true, "read_parquet": true, "read_feather": true, "read_json": true, "open": true}
)

// Classify parses src and classifies it. Parse failures are returned as
// *types.ParseError and abort the pipeline.
func Classify(ctx context.Context, src []byte) (*types.ClassificationResult, *pyast.Module, error) {
	mod, err := pyast.Parse(ctx, src)
	if err != nil {
		return nil, nil, err
	}
	return ClassifyModule(mod), mod, nil
}

// ClassifyModule classifies an already-parsed module. It is a pure function
// of the module inventory.
func ClassifyModule(mod *pyast.Module) *types.ClassificationResult {
	ind := Indicators(mod)
	result := &types.ClassificationResult{
		Indicators:      ind,
		DataSourceFlags: dataSources(mod),
	}

	patterns := ind[IndicatorPatternAssignments]
	switch {
	case patterns >= MultiThreshold:
		result.PatternType = types.PatternMulti
		result.Confidence = math.Min(0.9, 0.7+0.04*float64(patterns-MultiThreshold))
	case IsStandalone(ind):
		result.PatternType = types.PatternStandalone
		result.Confidence = 0.95
	default:
		result.PatternType = types.PatternGeneric
		result.Confidence = 0.3
	}

	logging.ClassifyDebug("classified as %s (confidence=%.2f, patterns=%d, functions=%d)",
		result.PatternType, result.Confidence, patterns, ind[IndicatorFunctions])
	return result
}

// Indicators counts the structural features used for classification.
func Indicators(mod *pyast.Module) map[string]int {
	ind := make(map[string]int)
	for _, name := range ConventionFunctions {
		ind[name] = 0
	}
	for _, fn := range mod.Functions {
		if _, ok := ind[fn.Name]; ok {
			ind[fn.Name]++
		}
	}
	ind[IndicatorConfigLiteral] = len(mod.ConfigLiterals)
	if mod.EntryGuard != nil {
		ind[IndicatorEntryGuard] = 1
	} else {
		ind[IndicatorEntryGuard] = 0
	}
	ind[IndicatorPatternAssignments] = len(mod.PatternTargets())
	ind[IndicatorFunctions] = len(mod.Functions)
	ind[IndicatorClasses] = len(mod.Classes)
	ind[IndicatorImports] = len(mod.Imports)
	ind[IndicatorDetectionLoops] = mod.DetectionLoops
	return ind
}

// IsStandalone reports whether indicators carry the full convention
// quadruple plus a config literal and an entry guard.
func IsStandalone(ind map[string]int) bool {
	for _, name := range ConventionFunctions {
		if ind[name] == 0 {
			return false
		}
	}
	return ind[IndicatorConfigLiteral] > 0 && ind[IndicatorEntryGuard] > 0
}

func dataSources(mod *pyast.Module) types.DataSourceFlags {
	var flags types.DataSourceFlags
	for _, imp := range mod.Imports {
		root := imp.Root()
		switch {
		case httpModules[root]:
			flags.HTTPAPI = true
		case marketDataModules[root]:
			flags.MarketDataLib = true
		case root == "pandas":
			flags.DataFrame = true
		}
	}
	for name := range mod.Calls {
		if fileReaders[name] {
			flags.LocalFiles = true
		}
	}
	return flags
}
