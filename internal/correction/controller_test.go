package correction

import (
	"context"
	"errors"
	"strings"
	"testing"

	"scanforge/internal/render"
	"scanforge/internal/types"
	"scanforge/internal/validate"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedRenderer returns code built from the context so tests can see
// patches flowing into later attempts.
type scriptedRenderer struct {
	contexts []*render.GenerationContext
	code     func(gc *render.GenerationContext) string
	err      error
}

func (s *scriptedRenderer) Render(gc *render.GenerationContext) (string, error) {
	s.contexts = append(s.contexts, gc)
	if s.err != nil {
		return "", s.err
	}
	return s.code(gc), nil
}

const brokenFragment = `class BrokenScanner:
    def detect_patterns(self, frame):
        # >>> detection fragment
        if row["gap"] >:
            results.append(row)
        # <<< detection fragment
        return results
`

func inputs() render.Inputs {
	ps := types.NewParameterSpecification()
	ps.Set(types.CategoryGap, "min_gap", types.ParameterValue{Value: 0.5, Provenance: "source:P"})
	ps.Set(types.CategoryPeriod, "windows", types.ParameterValue{Value: []any{int64(5), int64(20)}, Provenance: "source:P"})
	return render.Inputs{
		Name:          "Broken",
		ClassName:     "BrokenScanner",
		Specification: &types.StrategySpecification{Name: "Broken"},
		Parameters:    ps,
	}
}

func TestRunStopsAfterMaxAttemptsOnPersistentSyntaxError(t *testing.T) {
	gen := &scriptedRenderer{code: func(*render.GenerationContext) string { return brokenFragment }}
	c := New(gen, validate.New(validate.Options{}), 3)

	out, err := c.Run(context.Background(), inputs())
	require.NoError(t, err)

	assert.Equal(t, 3, out.Attempts)
	assert.Len(t, gen.contexts, 3)
	assert.Equal(t, StateExhausted, out.State)
	assert.False(t, out.Valid())
	assert.LessOrEqual(t, len(out.Records), 2)
	for _, r := range out.Records {
		assert.Equal(t, "fragment-syntax", r.ErrorType)
	}
	assert.Equal(t, brokenFragment, out.Code)
	assert.True(t, gen.contexts[1].Fragment.Placeholder)
}

func TestRunAppliesPatchesCumulatively(t *testing.T) {
	gen := &scriptedRenderer{code: func(gc *render.GenerationContext) string {
		return strings.Join(gc.ExtraImports, ",") + "|" + strings.Join(gc.Stubs, ",")
	}}
	checker := checkerFunc(func(code string) []types.ValidationResult {
		imports, stubs, _ := strings.Cut(code, "|")
		var errs []string
		if imports == "" {
			errs = append(errs, validate.PrefixMissingImport+"import numpy as np")
		}
		if stubs == "" {
			errs = append(errs, validate.PrefixMissingMethod+"compute_features")
		}
		return []types.ValidationResult{{Category: types.ValidationImports, IsValid: len(errs) == 0, Errors: errs}}
	})
	c := New(gen, checker, 3)

	out, err := c.Run(context.Background(), inputs())
	require.NoError(t, err)

	assert.Equal(t, StateSuccess, out.State)
	assert.Equal(t, 3, out.Attempts)
	require.Len(t, out.Records, 2)
	assert.Equal(t, "missing-import", out.Records[0].ErrorType)
	assert.Equal(t, "missing-method", out.Records[1].ErrorType)
	assert.Equal(t, []string{"import numpy as np"}, gen.contexts[2].ExtraImports)
	assert.Equal(t, []string{"compute_features"}, gen.contexts[2].Stubs)
	assert.Equal(t, []State{
		StateGenerating, StateValidating, StateCorrecting,
		StateGenerating, StateValidating, StateCorrecting,
		StateGenerating, StateValidating, StateSuccess,
	}, out.Trace)
}

func TestRunStopsWhenNoRuleMatches(t *testing.T) {
	gen := &scriptedRenderer{code: func(*render.GenerationContext) string { return "x" }}
	checker := checkerFunc(func(string) []types.ValidationResult {
		return []types.ValidationResult{{Category: types.ValidationImports, Errors: []string{"unresolved import: talib"}}}
	})

	out, err := New(gen, checker, 3).Run(context.Background(), inputs())
	require.NoError(t, err)
	assert.Equal(t, StateStopped, out.State)
	assert.Equal(t, 1, out.Attempts)
	assert.Empty(t, out.Records)
}

func TestRunReportsRenderFailure(t *testing.T) {
	gen := &scriptedRenderer{err: types.NewRenderError("template", "boom")}
	out, err := New(gen, validate.New(validate.Options{}), 3).Run(context.Background(), inputs())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrRender))
	assert.Equal(t, StateFailed, out.State)
}

func TestRunHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	gen := &scriptedRenderer{code: func(*render.GenerationContext) string { return "" }}
	_, err := New(gen, validate.New(validate.Options{}), 3).Run(ctx, inputs())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, gen.contexts)
}

func TestParametersSurviveCorrections(t *testing.T) {
	in := inputs()
	before := in.Parameters.Clone()

	var seen []*types.ParameterSpecification
	gen := &scriptedRenderer{code: func(gc *render.GenerationContext) string {
		seen = append(seen, gc.Parameters.Clone())
		// A misbehaving renderer must not leak mutations into later attempts.
		gc.Parameters.Set(types.CategoryGap, "min_gap", types.ParameterValue{Value: 99.0})
		gc.Parameters.Categories[types.CategoryPeriod]["windows"].Value.([]any)[0] = int64(-1)
		return brokenFragment
	}}
	out, err := New(gen, validate.New(validate.Options{}), 3).Run(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, out.Records, 2)
	require.Len(t, seen, 3)

	if diff := cmp.Diff(before, in.Parameters); diff != "" {
		t.Errorf("input parameters changed (-before +after):\n%s", diff)
	}
	for i, ps := range seen {
		if diff := cmp.Diff(before, ps); diff != "" {
			t.Errorf("attempt %d parameters differ (-before +after):\n%s", i+1, diff)
		}
	}
}

func TestDefaultRuleOrder(t *testing.T) {
	var names []string
	for _, r := range DefaultRules() {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"missing-import", "missing-method", "fragment-syntax"}, names)
}

func TestFragmentSyntaxIgnoresErrorsOutsideFragment(t *testing.T) {
	f := Failure{Code: brokenFragment, Errors: []string{"syntax error at line 1: invalid syntax"}}
	assert.False(t, fragmentSyntax(f))
	f.Errors = []string{"syntax error at line 4: invalid syntax"}
	assert.True(t, fragmentSyntax(f))
	f.Code = "x = (\n"
	assert.False(t, fragmentSyntax(f))
}

type checkerFunc func(code string) []types.ValidationResult

func (f checkerFunc) Validate(_ context.Context, code, _ string) []types.ValidationResult {
	return f(code)
}
