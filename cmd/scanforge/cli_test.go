package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"scanforge/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gapScript = `"""Gap mold scanner."""
import pandas as pd

P = {"min_gap": 0.5, "min_price": 5.0}


def fetch_daily(ticker, start, end):
    return pd.read_csv(ticker + ".csv")


def add_daily_metrics(df):
    df["gap"] = df["Open"] / df["Close"].shift(1) - 1
    return df


def _mold_on_row(row):
    return row["gap"] >= P["min_gap"] and row["Close"] >= P["min_price"]


def scan_symbol(sym, start, end):
    df = add_daily_metrics(fetch_daily(sym, start, end))
    out = []
    for d, r in df.iterrows():
        if _mold_on_row(r):
            out.append({"ticker": sym, "date": d})
    return out


if __name__ == "__main__":
    print(scan_symbol("AAPL", "2024-01-01", "2024-02-01"))
`

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}, args...))
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestArtifactPath(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "gap_scanner.py"), artifactPath("out", filepath.Join("scripts", "gap.py")))
}

func TestTransformCommandWritesArtifact(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "gap.py")
	require.NoError(t, os.WriteFile(script, []byte(gapScript), 0644))
	out := filepath.Join(dir, "generated")

	_, stderr, err := execute(t, "transform", script, "--offline", "--no-store",
		"--start", "2024-01-02", "--end", "2024-01-31", "--out", out)
	require.NoError(t, err, stderr)

	code, err := os.ReadFile(filepath.Join(out, "gap_scanner.py"))
	require.NoError(t, err)
	assert.Contains(t, string(code), "def detect_patterns(self")
	assert.Contains(t, stderr, "OK")
}

func TestTransformCommandRejectsNameForMany(t *testing.T) {
	_, _, err := execute(t, "transform", "a.py", "b.py", "--name", "x", "--out", t.TempDir(),
		"--start", "2024-01-02", "--end", "2024-01-31", "--no-store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--name")
	transformName = ""
}

func TestClassifyCommand(t *testing.T) {
	script := filepath.Join(t.TempDir(), "gap.py")
	require.NoError(t, os.WriteFile(script, []byte(gapScript), 0644))

	stdout, _, err := execute(t, "classify", script, "--json")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"pattern_type": "standalone"`)
	assert.Contains(t, stdout, `"strategy": "hybrid_preserve"`)
}

func TestPreviewCommandKeepsHistory(t *testing.T) {
	csv := filepath.Join(t.TempDir(), "bars.csv")
	require.NoError(t, os.WriteFile(csv, []byte(strings.Join([]string{
		"ticker,date,close,volume",
		"AAPL,2023-12-28,3.0,100",
		"AAPL,2023-12-29,3.5,100",
		"AAPL,2024-01-03,4.0,100",
		"AAPL,2024-01-04,6.0,100",
	}, "\n")), 0644))

	stdout, _, err := execute(t, "preview", "--rows", csv, "--start", "2024-01-02", "--end", "2024-01-31", "--min-price", "5")
	require.NoError(t, err)
	assert.Regexp(t, `historical\s+2`, stdout)
	assert.Regexp(t, `kept\s+1`, stdout)
	assert.Regexp(t, `combined\s+3`, stdout)
	previewMinPrice = 0
}

func TestRenderReportShowsDiagnostics(t *testing.T) {
	code := "x"
	res := &types.TransformationResult{
		GeneratedCode: &code,
		Metadata:      map[string]any{"class_name": "GapScanner", "attempts": 3},
		ValidationResults: []types.ValidationResult{
			{Category: types.ValidationSyntax, Errors: []string{"syntax error at line 4: invalid syntax"}},
		},
		Corrections: []types.CorrectionRecord{{AttemptNumber: 1, ErrorType: "fragment-syntax", Fix: "placeholder"}},
		Errors:      []string{"correction exhausted after 3 attempts", "correction exhausted after 3 attempts"},
	}
	out := renderReport("gap.py", res)
	assert.Contains(t, out, "GapScanner")
	assert.Contains(t, out, "syntax error at line 4")
	assert.Contains(t, out, "fragment-syntax")
	assert.Equal(t, 1, strings.Count(out, "correction exhausted"))
}
