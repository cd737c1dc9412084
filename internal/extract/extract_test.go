package extract

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"scanforge/internal/pyast"
	"scanforge/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

const literalSource = `"""Gap and go scanner."""
P = {"min_gap": 0.04, "min_price": 5, "atr_len": 14}

def scan_symbol(sym, df):
    out = []
    for d, r in df.iterrows():
        if r["gap"] >= P["min_gap"] and r["Close"] > P["min_price"]:
            out.append({"ticker": sym, "date": d})
    return out
`

// fakeBackend answers after delay unless ctx ends first.
type fakeBackend struct {
	name  string
	spec  *types.StrategySpecification
	err   error
	delay time.Duration

	mu    sync.Mutex
	calls int
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Extract(ctx context.Context, _ Request) (*types.StrategySpecification, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.spec, f.err
}

func (f *fakeBackend) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memCache struct {
	entries map[string]*types.StrategySpecification
}

func (c *memCache) GetExtraction(_ context.Context, key string) (*types.StrategySpecification, string, bool, error) {
	spec, ok := c.entries[key]
	return spec, "memory", ok, nil
}

func (c *memCache) PutExtraction(_ context.Context, key, _ string, spec *types.StrategySpecification) error {
	c.entries[key] = spec
	return nil
}

func request(t *testing.T, pt types.PatternType) Request {
	t.Helper()
	mod, err := pyast.Parse(context.Background(), []byte(literalSource))
	require.NoError(t, err)
	t.Cleanup(mod.Close)
	return Request{
		Source:         []byte(literalSource),
		Module:         mod,
		Classification: &types.ClassificationResult{PatternType: pt, Confidence: 0.5},
	}
}

func modelSpec() *types.StrategySpecification {
	return &types.StrategySpecification{
		Name:            "Gap Go",
		EntryConditions: []string{"gap above threshold"},
		Parameters:      map[string]any{"min_gap": 0.09, "max_float": int64(20000000)},
	}
}

func TestServicePrimaryAnswers(t *testing.T) {
	primary := &fakeBackend{name: "primary", spec: modelSpec()}
	fallback := &fakeBackend{name: "fallback", spec: modelSpec()}
	svc := &Service{Primary: primary, Fallback: fallback, PrimaryTimeout: time.Second, FallbackTimeout: time.Second}

	res, err := svc.Extract(context.Background(), request(t, types.PatternStandalone))
	require.NoError(t, err)
	assert.Equal(t, "primary", res.Backend)
	assert.False(t, res.Synthesized)
	assert.Equal(t, 0, fallback.Calls())

	// Literal value wins over the model's value of the same name.
	v, cat, ok := res.Params.Lookup("min_gap")
	require.True(t, ok)
	assert.Equal(t, types.CategoryGap, cat)
	assert.Equal(t, 0.04, v.Value)
	assert.Equal(t, "source:P", v.Provenance)

	v, _, ok = res.Params.Lookup("max_float")
	require.True(t, ok)
	assert.Equal(t, "model:primary", v.Provenance)
}

func TestServiceFallsBackOnTimeout(t *testing.T) {
	primary := &fakeBackend{name: "primary", spec: modelSpec(), delay: time.Second}
	fallback := &fakeBackend{name: "fallback", spec: modelSpec()}
	svc := &Service{Primary: primary, Fallback: fallback, PrimaryTimeout: 20 * time.Millisecond, FallbackTimeout: time.Second}

	start := time.Now()
	res, err := svc.Extract(context.Background(), request(t, types.PatternGeneric))
	require.NoError(t, err)
	assert.Equal(t, "fallback", res.Backend)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestServiceSynthesizesForEligibleShapes(t *testing.T) {
	primary := &fakeBackend{name: "primary", err: errors.New("boom")}
	fallback := &fakeBackend{name: "fallback", spec: &types.StrategySpecification{}}
	svc := &Service{Primary: primary, Fallback: fallback, PrimaryTimeout: time.Second, FallbackTimeout: time.Second}

	res, err := svc.Extract(context.Background(), request(t, types.PatternMulti))
	require.NoError(t, err)
	assert.True(t, res.Synthesized)
	assert.Empty(t, res.Spec.EntryConditions)
	assert.Empty(t, res.Spec.ExitConditions)
	assert.Equal(t, "Gap and go scanner", res.Spec.Name)
	require.Error(t, res.Failure)
	assert.ErrorIs(t, res.Failure, types.ErrExtraction)
	assert.ErrorIs(t, res.Failure, ErrMalformed)

	v, _, ok := res.Params.Lookup("atr_len")
	require.True(t, ok)
	assert.Equal(t, int64(14), v.Value)
}

func TestServiceFailFastForGeneric(t *testing.T) {
	primary := &fakeBackend{name: "primary", delay: time.Second}
	fallback := &fakeBackend{name: "fallback", delay: time.Second}
	svc := &Service{Primary: primary, Fallback: fallback, PrimaryTimeout: 10 * time.Millisecond, FallbackTimeout: 10 * time.Millisecond}

	res, err := svc.Extract(context.Background(), request(t, types.PatternGeneric))
	require.Error(t, err)
	assert.Nil(t, res)

	var ee *types.ExtractionError
	require.ErrorAs(t, err, &ee)
	assert.True(t, ee.Timeout)
	assert.Equal(t, "fallback", ee.Backend)
	assert.Contains(t, err.Error(), "extraction timed out")
}

func TestServiceConfigurablePolicy(t *testing.T) {
	primary := &fakeBackend{name: "primary", err: errors.New("down")}
	svc := &Service{
		Primary:        primary,
		PrimaryTimeout: time.Second,
		Policy:         map[types.PatternType]bool{types.PatternGeneric: true},
	}
	res, err := svc.Extract(context.Background(), request(t, types.PatternGeneric))
	require.NoError(t, err)
	assert.True(t, res.Synthesized)

	_, err = svc.Extract(context.Background(), request(t, types.PatternStandalone))
	assert.ErrorIs(t, err, types.ErrExtraction)
}

func TestServiceCache(t *testing.T) {
	cache := &memCache{entries: map[string]*types.StrategySpecification{}}
	primary := &fakeBackend{name: "primary", spec: modelSpec()}
	svc := &Service{Primary: primary, PrimaryTimeout: time.Second, Cache: cache}

	req := request(t, types.PatternStandalone)
	_, err := svc.Extract(context.Background(), req)
	require.NoError(t, err)
	res, err := svc.Extract(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, res.Cached)
	assert.Equal(t, 1, primary.Calls())
	assert.NotEqual(t, CacheKey(req.Source, types.PatternStandalone), CacheKey(req.Source, types.PatternMulti))
}

func TestLiteralBackend(t *testing.T) {
	req := request(t, types.PatternStandalone)
	spec, err := NewLiteralBackend().Extract(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Gap and go scanner", spec.Name)
	assert.Equal(t, []string{`r["gap"] >= P["min_gap"] and r["Close"] > P["min_price"]`}, spec.EntryConditions)
	assert.Equal(t, int64(5), spec.Parameters["min_price"])
	assert.Equal(t, "standalone", spec.ScanKind)

	_, err = NewLiteralBackend().Extract(context.Background(), Request{})
	assert.Error(t, err)
}

func TestLiteralBackendPredicateGuards(t *testing.T) {
	src := `P = {"min_gap": 0.04, "min_price": 5}

def _mold_on_row(row):
    if row["Close"] < P["min_price"]:
        return False
    return row["gap"] >= P["min_gap"]
`
	mod, err := pyast.Parse(context.Background(), []byte(src))
	require.NoError(t, err)
	defer mod.Close()

	spec, err := NewLiteralBackend().Extract(context.Background(), Request{
		Source:         []byte(src),
		Module:         mod,
		Classification: &types.ClassificationResult{PatternType: types.PatternStandalone},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{`row["Close"] < P["min_price"]`, `row["gap"] >= P["min_gap"]`}, spec.EntryConditions)
	assert.NotContains(t, spec.EntryConditions, "False")
}

func TestCategorize(t *testing.T) {
	tests := map[string]types.ParameterCategory{
		"min_gap":        types.CategoryGap,
		"gap_days":       types.CategoryGap,
		"atr_len":        types.CategoryPeriod,
		"lookback":       types.CategoryPeriod,
		"min_volume":     types.CategoryVolume,
		"min_adv":        types.CategoryVolume,
		"dollar_vol":     types.CategoryVolume,
		"min_price":      types.CategoryPrice,
		"close_above":    types.CategoryPrice,
		"max_volatility": types.CategoryOther,
		"mode":           types.CategoryOther,
	}
	for name, want := range tests {
		assert.Equal(t, want, Categorize(name), name)
	}
}

func TestBuildPrompt(t *testing.T) {
	req := request(t, types.PatternStandalone)
	req.Classification.Indicators = map[string]int{"functions": 1}
	prompt, err := BuildPrompt(req)
	require.NoError(t, err)
	assert.Contains(t, prompt, "Classification: standalone")
	assert.Contains(t, prompt, "functions=1")
	assert.Contains(t, prompt, "Configuration literal: P")
	assert.Contains(t, prompt, "def scan_symbol")
}
