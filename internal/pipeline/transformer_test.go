package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"scanforge/internal/config"
	"scanforge/internal/correction"
	"scanforge/internal/extract"
	"scanforge/internal/render"
	"scanforge/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

const standaloneScript = `"""Gap mold scanner."""
import pandas as pd
import requests

P = {"min_gap": 0.5, "min_price": 5.0, "min_volume": 100000, "lookback": 20}


def fetch_daily(ticker, start, end):
    url = "https://data.example.com/daily/" + ticker
    resp = requests.get(url, params={"start": start, "end": end})
    return pd.DataFrame(resp.json())


def add_daily_metrics(df):
    df["gap"] = df["Open"] / df["Close"].shift(1) - 1
    df["avg_vol"] = df["Volume"].rolling(P["lookback"]).mean()
    return df


def _mold_on_row(row):
    if row["Close"] < P["min_price"]:
        return False
    return row["gap"] >= P["min_gap"] and row["Volume"] >= P["min_volume"]


def scan_symbol(sym, start, end):
    df = add_daily_metrics(fetch_daily(sym, start, end))
    out = []
    for d, r in df.iterrows():
        if _mold_on_row(r):
            out.append({"ticker": sym, "date": d})
    return out


if __name__ == "__main__":
    for hit in scan_symbol("AAPL", "2024-01-01", "2024-02-01"):
        print(hit)
`

const multiScript = `import pandas as pd

df = pd.read_csv("bars.csv")
df["sma"] = df["close"].rolling(20).mean()
df["gap_up"] = (df["open"] > df["close"].shift(1)) & (df["volume"] > 1000)
df["breakout"] = (df["close"] > df["sma"]) & (df["volume"] > 2000)
df["inside_day"] = (df["high"] < df["high"].shift(1)) & (df["low"] > df["low"].shift(1))
df["reversal"] = (df["close"] > df["open"]) & (df["low"] < df["sma"])
df["squeeze"] = (df["high"] - df["low"] < 1) & (df["close"] > 5)
print(df.tail())
`

const genericScript = `import pandas as pd

hits = []
for sym in ["AAPL", "MSFT"]:
    bars = pd.read_csv(sym + ".csv")
    if bars["close"].iloc[-1] > bars["close"].max() * 0.98:
        hits.append({"symbol": sym, "date": bars["date"].iloc[-1]})
print(hits)
`

// slowBackend answers after delay unless ctx ends first.
type slowBackend struct {
	delay time.Duration
}

func (s *slowBackend) Name() string { return "slow" }

func (s *slowBackend) Extract(ctx context.Context, _ extract.Request) (*types.StrategySpecification, error) {
	select {
	case <-time.After(s.delay):
		return &types.StrategySpecification{Name: "late"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type memRecorder struct {
	mu      sync.Mutex
	results []*types.TransformationResult
}

func (m *memRecorder) RecordTransformation(_ context.Context, _ []byte, _ string, res *types.TransformationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, res)
	return nil
}

func offline(t *testing.T) *Transformer {
	t.Helper()
	return New(config.DefaultConfig(), &extract.Service{Primary: extract.NewLiteralBackend()}, nil)
}

func request(src string) Request {
	return Request{Source: []byte(src), Start: "2024-01-02", End: "2024-01-31"}
}

func TestTransformStandalone(t *testing.T) {
	rec := &memRecorder{}
	tr := offline(t)
	tr.Recorder = rec

	res := tr.Transform(context.Background(), request(standaloneScript))
	require.NotNil(t, res)
	require.True(t, res.Success, "errors: %v", res.Errors)
	assert.Empty(t, res.Errors)
	assert.Equal(t, "standalone", res.Metadata["pattern_type"])
	assert.Equal(t, string(types.StrategyHybridPreserve), res.Metadata["strategy"])
	assert.Equal(t, 1, res.Metadata["attempts"])
	assert.Equal(t, string(correction.StateSuccess), res.Metadata["final_state"])
	assert.NotEmpty(t, res.Metadata["run_id"])

	code := res.Code()
	for _, m := range []string{"fetch_grouped_data", "apply_smart_filters", "compute_features", "detect_patterns", "format_results", "run_scan"} {
		assert.Contains(t, code, "def "+m+"(", m)
	}
	require.Len(t, res.ValidationResults, 4)
	for _, v := range res.ValidationResults {
		assert.True(t, v.IsValid, "%s: %v", v.Category, v.Errors)
	}

	require.Len(t, rec.results, 1)
	assert.Same(t, res, rec.results[0])
}

func TestTransformKeepsModuleBindingsHelpersUse(t *testing.T) {
	src := strings.Replace(standaloneScript,
		"resp = requests.get(url,", "resp = session.get(url,", 1)
	src = strings.Replace(src,
		"\n\ndef fetch_daily", "\nsession = requests.Session()\nBANNER = print_banner()\n\n\ndef fetch_daily", 1)
	require.Contains(t, src, "session.get(url,")

	res := offline(t).Transform(context.Background(), request(src))
	require.True(t, res.Success, "errors: %v", res.Errors)

	code := res.Code()
	assert.Contains(t, code, "session = requests.Session()")
	assert.Contains(t, code, "resp = session.get(url,")
	assert.NotContains(t, code, "print_banner")

	dropped, ok := res.Metadata["preserve_dropped"].([]string)
	require.True(t, ok, "preserve_dropped: %#v", res.Metadata["preserve_dropped"])
	require.Len(t, dropped, 2)
	assert.Contains(t, dropped[0], "import-time call print_banner")
	assert.Contains(t, dropped[1], "entry guard")
}

func TestTransformProposedNameWins(t *testing.T) {
	req := request(standaloneScript)
	req.ProposedName = "gap mold v2"
	res := offline(t).Transform(context.Background(), req)
	require.True(t, res.Success, "errors: %v", res.Errors)
	assert.Equal(t, "GapMoldV2Scanner", res.Metadata["class_name"])
	assert.Contains(t, res.Code(), "class GapMoldV2Scanner")
}

func TestTransformGenericExtractionTimeout(t *testing.T) {
	svc := &extract.Service{Primary: &slowBackend{delay: time.Second}, PrimaryTimeout: 20 * time.Millisecond}
	tr := New(config.DefaultConfig(), svc, nil)

	res := tr.Transform(context.Background(), request(genericScript))
	assert.False(t, res.Success)
	assert.Nil(t, res.GeneratedCode)
	assert.Equal(t, "generic", res.Metadata["pattern_type"])
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "extraction")
}

func TestTransformStandaloneSurvivesExtractionTimeout(t *testing.T) {
	svc := &extract.Service{Primary: &slowBackend{delay: time.Second}, PrimaryTimeout: 20 * time.Millisecond}
	res := New(config.DefaultConfig(), svc, nil).Transform(context.Background(), request(standaloneScript))
	require.True(t, res.Success, "errors: %v", res.Errors)
	assert.Equal(t, true, res.Metadata["extraction_fallback"])
	assert.Contains(t, res.Metadata["extraction_error"], "timed out")
}

func TestTransformMultiPattern(t *testing.T) {
	res := offline(t).Transform(context.Background(), request(multiScript))
	require.True(t, res.Success, "errors: %v", res.Errors)
	assert.Equal(t, string(types.StrategyHybridPreserveMulti), res.Metadata["strategy"])

	code := res.Code()
	for _, label := range []string{"gap_up", "breakout", "inside_day", "reversal", "squeeze"} {
		assert.Contains(t, code, `"`+label+`"`)
	}
	assert.Contains(t, code, `groupby(["Ticker", "Date"])`)
	assert.Contains(t, code, "Scanner_Label")
}

// brokenRenderer always emits code whose detection fragment does not parse.
type brokenRenderer struct{ calls int }

func (b *brokenRenderer) Render(gc *render.GenerationContext) (string, error) {
	b.calls++
	return "class X:\n    def detect_patterns(self):\n        " + render.FragmentBegin + "\n        if (:\n        " + render.FragmentEnd + "\n", nil
}

func TestTransformExhaustsAfterThreeAttempts(t *testing.T) {
	tr := offline(t)
	br := &brokenRenderer{}
	tr.Renderer = br

	res := tr.Transform(context.Background(), request(standaloneScript))
	assert.False(t, res.Success)
	assert.Equal(t, 3, br.calls)
	assert.Equal(t, 3, res.Metadata["attempts"])
	assert.LessOrEqual(t, res.CorrectionsApplied, 2)
	require.NotNil(t, res.GeneratedCode)
	assert.Contains(t, strings.Join(res.Errors, "\n"), "correction exhausted")
}

func TestTransformRejectsBadRequests(t *testing.T) {
	tr := offline(t)
	cases := map[string]Request{
		"empty source":    {Source: []byte("  \n"), Start: "2024-01-01", End: "2024-01-31"},
		"reversed window": {Source: []byte(standaloneScript), Start: "2024-02-01", End: "2024-01-01"},
		"bad date":        {Source: []byte(standaloneScript), Start: "yesterday", End: "2024-01-01"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			res := tr.Transform(context.Background(), req)
			assert.False(t, res.Success)
			assert.Nil(t, res.GeneratedCode)
			require.Len(t, res.Errors, 1)
			assert.Contains(t, res.Errors[0], "invalid request")
		})
	}
}

func TestTransformParseError(t *testing.T) {
	res := offline(t).Transform(context.Background(), request("def broken(:\n"))
	assert.False(t, res.Success)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "parse error")
}

type panickingExtractor struct{}

func (panickingExtractor) Extract(context.Context, extract.Request) (*extract.Result, error) {
	panic("boom")
}

func TestTransformRecoversPanics(t *testing.T) {
	rec := &memRecorder{}
	tr := New(config.DefaultConfig(), panickingExtractor{}, rec)

	res := tr.Transform(context.Background(), request(standaloneScript))
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Contains(t, res.Errors, "internal error: boom")
	assert.Equal(t, "standalone", res.Metadata["pattern_type"])
	assert.Len(t, rec.results, 1)
}

type failingExtractor struct{}

func (failingExtractor) Extract(context.Context, extract.Request) (*extract.Result, error) {
	return nil, &types.ExtractionError{Backend: "gemini", Err: errors.New("malformed response")}
}

func TestTransformExtractionFailure(t *testing.T) {
	res := New(config.DefaultConfig(), failingExtractor{}, nil).Transform(context.Background(), request(standaloneScript))
	assert.False(t, res.Success)
	assert.Equal(t, []string{"extraction failed (gemini): malformed response"}, res.Errors)
	assert.Equal(t, res.Errors[0], res.Metadata["extraction_error"])
}
