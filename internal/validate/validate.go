// Package validate runs independent static checks on generated scanner code:
// syntax, structure, imports and style. A syntax failure ends validation for
// the attempt; the other categories always run together.
package validate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"scanforge/internal/config"
	"scanforge/internal/logging"
	"scanforge/internal/pyast"
	"scanforge/internal/types"

	sitter "github.com/smacker/go-tree-sitter"
)

// Stage methods every generated scanner class must expose.
var RequiredMethods = []string{"fetch_grouped_data", "apply_smart_filters", "compute_features", "detect_patterns"}

// OptionalMethods are expected but only warned about when missing.
var OptionalMethods = []string{"format_results", "run_scan"}

// Error message prefixes the correction rules match on.
const (
	PrefixSyntax         = "syntax error"
	PrefixMissingMethod  = "missing required method: "
	PrefixMissingImport  = "missing import: "
	PrefixUnresolved     = "unresolved import: "
	MsgHistoricalDropped = "filter stage drops historical rows"
	MsgMissingClass      = "missing scanner class"
)

// knownNames maps names generated code commonly uses to the import that binds them.
var knownNames = map[string]string{
	"pd":                 "import pandas as pd",
	"np":                 "import numpy as np",
	"requests":           "import requests",
	"threading":          "import threading",
	"ThreadPoolExecutor": "from concurrent.futures import ThreadPoolExecutor",
	"as_completed":       "from concurrent.futures import as_completed",
	"datetime":           "import datetime",
	"timedelta":          "from datetime import timedelta",
	"json":               "import json",
	"os":                 "import os",
	"math":               "import math",
	"time":               "import time",
	"sys":                "import sys",
	"re":                 "import re",
	"logging":            "import logging",
}

// Options configures a Validator.
type Options struct {
	MaxLineLength    int
	AvailableModules []string
	KnownExternal    []string
}

// OptionsFromConfig converts the validation config section.
func OptionsFromConfig(c config.ValidationConfig) Options {
	return Options{
		MaxLineLength:    c.MaxLineLength,
		AvailableModules: c.AvailableModules,
		KnownExternal:    c.KnownExternal,
	}
}

// Validator checks generated code.
type Validator struct {
	opts Options
}

// New creates a validator. A zero MaxLineLength defaults to 120.
func New(opts Options) *Validator {
	if opts.MaxLineLength <= 0 {
		opts.MaxLineLength = 120
	}
	return &Validator{opts: opts}
}

// Validate runs every category and returns one result per category that ran.
// className selects the primary class; "" means the first class.
func (v *Validator) Validate(ctx context.Context, code, className string) []types.ValidationResult {
	syntax := result{newResult(types.ValidationSyntax)}
	if strings.TrimSpace(code) == "" {
		syntax.fail("%s at line 1: empty module", PrefixSyntax)
		return []types.ValidationResult{syntax.ValidationResult}
	}
	mod, err := pyast.Parse(ctx, []byte(code))
	if err != nil {
		var pe *types.ParseError
		if errors.As(err, &pe) {
			syntax.fail("%s at line %d: %s", PrefixSyntax, pe.Line, pe.Kind)
		} else {
			syntax.fail("%s: %v", PrefixSyntax, err)
		}
		logging.ValidateDebug("syntax invalid: %v", syntax.Errors)
		return []types.ValidationResult{syntax.ValidationResult}
	}
	defer mod.Close()

	results := []types.ValidationResult{
		syntax.ValidationResult,
		v.checkStructure(mod, className),
		v.checkImports(mod),
		v.checkStyle(code),
	}
	for _, r := range results {
		logging.ValidateDebug("%s: valid=%t errors=%d warnings=%d", r.Category, r.IsValid, len(r.Errors), len(r.Warnings))
	}
	return results
}

type result struct{ types.ValidationResult }

func newResult(cat types.ValidationCategory) types.ValidationResult {
	return types.ValidationResult{Category: cat, IsValid: true, Errors: []string{}, Warnings: []string{}}
}

func (r *result) fail(format string, args ...any) {
	r.IsValid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *result) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (v *Validator) checkStructure(mod *pyast.Module, className string) types.ValidationResult {
	r := result{newResult(types.ValidationStructure)}
	cls := mod.Class(className)
	if cls == nil && len(mod.Classes) > 0 && className == "" {
		cls = mod.Classes[0]
	}
	if cls == nil {
		if className != "" {
			r.fail("%s %s", MsgMissingClass, className)
		} else {
			r.fail("%s", MsgMissingClass)
		}
		for _, m := range RequiredMethods {
			r.fail("%s%s", PrefixMissingMethod, m)
		}
		return r.ValidationResult
	}
	for _, m := range RequiredMethods {
		if !cls.HasMethod(m) {
			r.fail("%s%s", PrefixMissingMethod, m)
		}
	}
	for _, m := range OptionalMethods {
		if !cls.HasMethod(m) {
			r.warn("missing stage method: %s", m)
		}
	}
	if fn := method(mod, cls, "apply_smart_filters"); fn != nil && dropsHistory(mod, fn) {
		r.fail("%s", MsgHistoricalDropped)
	}
	return r.ValidationResult
}

// method returns the last definition of name in the class body.
func method(mod *pyast.Module, cls *pyast.Class, name string) *sitter.Node {
	var found *sitter.Node
	for _, stmt := range pyast.NamedChildren(cls.Node.ChildByFieldName("body")) {
		if stmt.Type() == "decorated_definition" {
			stmt = stmt.ChildByFieldName("definition")
		}
		if stmt != nil && stmt.Type() == "function_definition" && mod.Text(stmt.ChildByFieldName("name")) == name {
			found = stmt
		}
	}
	return found
}

// dropsHistory reports whether a filter method narrows rows without
// recombining the historical partition. Pass-through methods are fine.
func dropsHistory(mod *pyast.Module, fn *sitter.Node) bool {
	filters, recombines := false, false
	pyast.Walk(fn.ChildByFieldName("body"), func(n *sitter.Node) bool {
		switch n.Type() {
		case "call":
			switch pyast.CalleeName(n, mod.Source) {
			case "concat":
				pyast.Walk(n.ChildByFieldName("arguments"), func(a *sitter.Node) bool {
					if a.Type() == "identifier" && mod.Text(a) == "historical" {
						recombines = true
					}
					return !recombines
				})
			case "query", "dropna", "drop", "head", "tail", "nlargest", "nsmallest":
				filters = true
			}
		case "subscript":
			if idx := n.ChildByFieldName("subscript"); idx != nil && idx.Type() != "string" && !isAssignedTo(n) {
				filters = true
			}
		}
		return true
	})
	return filters && !recombines
}

func isAssignedTo(n *sitter.Node) bool {
	return pyast.IsFieldOf(n, "assignment", "left") || pyast.IsFieldOf(n, "augmented_assignment", "left")
}

func (v *Validator) checkImports(mod *pyast.Module) types.ValidationResult {
	r := result{newResult(types.ValidationImports)}
	for _, name := range pyast.SortedKeys(knownNames) {
		if mod.Uses[name] > 0 && !mod.Bound[name] {
			r.fail("%s%s", PrefixMissingImport, knownNames[name])
		}
	}
	seen := make(map[string]bool)
	for _, imp := range mod.Imports {
		if seen[imp.Module] {
			continue
		}
		seen[imp.Module] = true
		root := imp.Root()
		switch {
		case root == "":
			r.warn("relative import %s will not resolve in a standalone scanner", imp.Module)
		case stdlib[root] || slices.Contains(v.opts.AvailableModules, root):
		case slices.Contains(v.opts.KnownExternal, root):
			r.warn("optional dependency %s is not installed in the scanner runtime", root)
		default:
			r.fail("%s%s", PrefixUnresolved, imp.Module)
		}
	}
	return r.ValidationResult
}

func (v *Validator) checkStyle(code string) types.ValidationResult {
	r := result{newResult(types.ValidationStyle)}
	for i, line := range strings.Split(code, "\n") {
		if n := len([]rune(line)); n > v.opts.MaxLineLength {
			r.warn("line %d exceeds %d characters (%d)", i+1, v.opts.MaxLineLength, n)
		}
		if strings.TrimRight(line, " \t") != line {
			r.warn("line %d has trailing whitespace", i+1)
		}
	}
	return r.ValidationResult
}
