package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePatternType(t *testing.T) {
	tests := []struct {
		in      string
		want    PatternType
		wantErr bool
	}{
		{"standalone", PatternStandalone, false},
		{" Multi ", PatternMulti, false},
		{"multi-pattern", PatternMulti, false},
		{"generic", PatternGeneric, false},
		{"weird", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePatternType(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestParameterSpecification_CloneIsIndependent(t *testing.T) {
	ps := NewParameterSpecification()
	ps.Set(CategoryGap, "min_gap", ParameterValue{Value: 0.5, Provenance: "source:P"})
	ps.Set(CategoryOther, "sessions", ParameterValue{Value: []any{"pre", "rth"}, Provenance: "source:P"})

	clone := ps.Clone()
	clone.Set(CategoryGap, "min_gap", ParameterValue{Value: 9.0, Provenance: "edited"})
	clone.Categories[CategoryOther]["sessions"].Value.([]any)[0] = "post"

	v, cat, ok := ps.Lookup("min_gap")
	require.True(t, ok)
	assert.Equal(t, CategoryGap, cat)
	assert.Equal(t, 0.5, v.Value)
	assert.Equal(t, "pre", ps.Categories[CategoryOther]["sessions"].Value.([]any)[0])
	assert.Equal(t, 2, ps.Len())
	assert.Equal(t, []string{"min_gap", "sessions"}, ps.Names())
}

func TestParameterValue_Float(t *testing.T) {
	f, ok := ParameterValue{Value: 3}.Float()
	assert.True(t, ok)
	assert.Equal(t, 3.0, f)

	_, ok = ParameterValue{Value: "x"}.Float()
	assert.False(t, ok)
}

func TestAllValidAndCollectErrors(t *testing.T) {
	results := []ValidationResult{
		{Category: ValidationSyntax, IsValid: true},
		{Category: ValidationStructure, IsValid: false, Errors: []string{"missing required method: detect_patterns"}},
		{Category: ValidationStyle, IsValid: true, Warnings: []string{"line 3: trailing whitespace"}},
	}
	assert.False(t, AllValid(results))
	assert.Equal(t, []string{"missing required method: detect_patterns"}, CollectErrors(results))
	assert.True(t, AllValid(results[:1]))
}

func TestErrorTaxonomy(t *testing.T) {
	var err error = &ExtractionError{Backend: "gemini", Timeout: true, Err: errors.New("deadline")}
	wrapped := fmt.Errorf("extract: %w", err)
	assert.ErrorIs(t, wrapped, ErrExtraction)
	assert.Contains(t, wrapped.Error(), "extraction timed out (gemini)")

	var pe error = &ParseError{Line: 3, Column: 7, Kind: "ERROR"}
	assert.ErrorIs(t, pe, ErrParse)
	assert.NotErrorIs(t, pe, ErrRender)

	re := NewRenderError("skeleton", "missing class name")
	assert.ErrorIs(t, re, ErrRender)
	assert.Equal(t, "render error in skeleton: missing class name", re.Error())
}

func TestTransformationResult_Code(t *testing.T) {
	var r *TransformationResult
	assert.Equal(t, "", r.Code())
	code := "x = 1\n"
	r = &TransformationResult{GeneratedCode: &code}
	assert.Equal(t, code, r.Code())
}
