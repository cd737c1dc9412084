package pyast

import (
	"context"
	"errors"
	"strings"
	"testing"

	"scanforge/internal/types"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gapScript = `"""Daily gap scanner."""
import pandas as pd
import requests
from concurrent.futures import ThreadPoolExecutor as Pool, as_completed

P = {
    "min_gap": 0.5,  # percent
    "min_price": 5.0,
    "min_volume": 1_000_000,
    "atr_len": 14,
    "sessions": ["pre", "rth"],
    "floor": -2,
    "mode": "strict",
    "window": len("abc"),
}

def fetch_daily(ticker, start, end):
    resp = requests.get(f"https://api.example.com/{ticker}", timeout=30)
    return pd.DataFrame(resp.json()["results"])

def add_daily_metrics(df):
    df["gap"] = df["Open"] / df["Close"].shift(1) - 1
    df["atr"] = (df["High"] - df["Low"]).rolling(P["atr_len"]).mean()
    return df

def scan_symbol(sym, start, end, *args, limit: int = 5, **kw):
    df = add_daily_metrics(fetch_daily(sym, start, end))
    out = []
    for d, r in df.iterrows():
        if r["gap"] >= P["min_gap"]:
            out.append({"ticker": sym, "date": d})
    return out

class Helper:
    def run(self):
        return 1

if __name__ == "__main__":
    print(scan_symbol("AAPL", "2024-01-01", "2024-02-01"))
`

func parse(t *testing.T, src string) *Module {
	t.Helper()
	m, err := Parse(context.Background(), []byte(src))
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func TestParseInventory(t *testing.T) {
	m := parse(t, gapScript)

	assert.Equal(t, "Daily gap scanner.", m.Docstring)

	var names []string
	for _, f := range m.Functions {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"fetch_daily", "add_daily_metrics", "scan_symbol"}, names)

	scan := m.Function("scan_symbol")
	require.NotNil(t, scan)
	assert.Equal(t, []string{"sym", "start", "end", "args", "limit", "kw"}, scan.Params)
	assert.Equal(t, 1, scan.Calls["append"])
	assert.Positive(t, scan.Identifiers["P"])

	require.Len(t, m.Classes, 1)
	assert.True(t, m.Classes[0].HasMethod("run"))

	require.NotNil(t, m.EntryGuard)
	assert.Equal(t, StmtEntryGuard, m.EntryGuard.Kind)
	assert.Equal(t, 1, m.DetectionLoops)
}

func TestParseImports(t *testing.T) {
	m := parse(t, gapScript)

	var mods []string
	for _, imp := range m.Imports {
		mods = append(mods, imp.Module)
	}
	assert.Equal(t, []string{"pandas", "requests", "concurrent.futures"}, mods)
	assert.Equal(t, []string{"pd"}, m.Imports[0].Bound)
	assert.Equal(t, "concurrent", m.Imports[2].Root())
	assert.Equal(t, []string{"ThreadPoolExecutor", "as_completed"}, m.Imports[2].Names)
	assert.True(t, m.Bound["Pool"])
	assert.True(t, m.Bound["as_completed"])
	assert.True(t, m.ImportsModule("requests"))
}

func TestParseConfigLiteral(t *testing.T) {
	m := parse(t, gapScript)

	lit := m.ConfigLiteral()
	require.NotNil(t, lit)
	assert.Equal(t, "P", lit.Name)
	assert.Equal(t, []string{"min_gap", "min_price", "min_volume", "atr_len", "sessions", "floor", "mode", "window"}, lit.Keys)

	want := map[string]any{
		"min_gap":    0.5,
		"min_price":  5.0,
		"min_volume": int64(1000000),
		"atr_len":    int64(14),
		"sessions":   []any{"pre", "rth"},
		"floor":      int64(-2),
		"mode":       "strict",
	}
	if diff := cmp.Diff(want, lit.Values); diff != "" {
		t.Errorf("config literal values mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, `len("abc")`, lit.Raw["window"])
}

func TestParsePatternAssignments(t *testing.T) {
	src := `import pandas as pd

def detect(df):
    df["gap_up"] = (df["open"] > df["close"].shift(1)) & (df["volume"] > 1e6)
    df["inside"] = (df["high"] < df["high"].shift(1)) & (df["low"] > df["low"].shift(1))
    df["single"] = df["close"] > 5
    df["gap_up"] = (df["open"] > 1) & (df["close"] < 9)
    return df

frame = pd.DataFrame()
frame["late"] = (frame["c"] > 1) & (frame["c"] < 3)
`
	m := parse(t, src)
	require.Len(t, m.PatternAssignments, 4)
	assert.Equal(t, []string{"gap_up", "inside", "late"}, m.PatternTargets())
	assert.Equal(t, "detect", m.PatternAssignments[0].Function)
	assert.Equal(t, "df", m.PatternAssignments[0].Frame)
	assert.Equal(t, "", m.PatternAssignments[3].Function)
	assert.Equal(t, 11, m.PatternAssignments[3].Span.StartLine)
	assert.Equal(t, 3, m.SubscriptKeys["close"])
}

func TestParseErrorLocatesProblem(t *testing.T) {
	_, err := Parse(context.Background(), []byte("def f(:\n    return 1\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrParse))

	var pe *types.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 1, pe.Line)

	assert.NoError(t, Check(context.Background(), []byte("x = 1\n")))
	assert.Error(t, Check(context.Background(), []byte("x = (1\n")))
}

func TestApplyEdits(t *testing.T) {
	src := []byte("abcdef")
	out, err := ApplyEdits(src, []Edit{{Start: 4, End: 6, Text: "XY"}, {Start: 0, End: 0, Text: ">"}, {Start: 4, End: 6, Text: "XY"}})
	require.NoError(t, err)
	assert.Equal(t, ">abcdXY", string(out))

	_, err = ApplyEdits(src, []Edit{{Start: 1, End: 3, Text: ""}, {Start: 2, End: 4, Text: ""}})
	assert.ErrorContains(t, err, "overlapping")

	got, err := ApplyEditsIn(src, 2, 5, []Edit{{Start: 3, End: 4, Text: "_"}, {Start: 0, End: 1, Text: "!"}})
	require.NoError(t, err)
	assert.Equal(t, "c_e", got)
}

func TestDedentIndent(t *testing.T) {
	in := "        if x:\n            y()\n\n        z()"
	out := Dedent(in)
	assert.Equal(t, "if x:\n    y()\n\nz()", out)
	assert.Equal(t, "  if x:\n      y()\n\n  z()", Indent(out, "  "))
	assert.True(t, strings.HasPrefix(Dedent("\tif a:\n\t\tb"), "if a:"))
}
