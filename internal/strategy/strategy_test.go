package strategy

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"scanforge/internal/classify"
	"scanforge/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const convention = `import pandas as pd
P = {"min_gap": 0.5}

def fetch_daily(t, s, e):
    return pd.DataFrame()

def add_daily_metrics(df):
    return df

def _mold_on_row(r):
    return r["gap"] > P["min_gap"]

def scan_symbol(t, s, e):
    return []

if __name__ == "__main__":
    scan_symbol("A", "2024-01-01", "2024-01-02")
`

func patterns(n int) string {
	var b strings.Builder
	b.WriteString("\ndef detect(df):\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "    df[\"p%d\"] = (df[\"c\"] > %d) & (df[\"v\"] < %d)\n", i, i, i+1)
	}
	b.WriteString("    return df\n")
	return b.String()
}

func decide(t *testing.T, src string) Decision {
	t.Helper()
	cls, mod, err := classify.Classify(context.Background(), []byte(src))
	require.NoError(t, err)
	defer mod.Close()
	return Select(cls, &types.StrategySpecification{Name: "x"}, mod)
}

func TestSelectStandalone(t *testing.T) {
	for i := 0; i < 3; i++ {
		assert.Equal(t, types.StrategyHybridPreserve, decide(t, convention).Strategy)
	}
	assert.Equal(t, types.StrategyHybridPreserve, decide(t, convention+patterns(2)).Strategy)
}

func TestSelectMultiEvenWithConvention(t *testing.T) {
	d := decide(t, convention+patterns(3))
	assert.Equal(t, types.StrategyHybridPreserveMulti, d.Strategy)
	assert.Contains(t, d.Reason, "3 independent")

	assert.Equal(t, types.StrategyHybridPreserveMulti, decide(t, "import pandas as pd\n"+patterns(5)).Strategy)
}

func TestSelectGeneric(t *testing.T) {
	d := decide(t, "import pandas as pd\n\ndef run():\n    return 1\n")
	assert.Equal(t, types.StrategyGenericPreserve, d.Strategy)
}

func TestSelectFromClassificationOnly(t *testing.T) {
	cls := &types.ClassificationResult{PatternType: types.PatternMulti, Indicators: map[string]int{"pattern_assignments": 1}}
	d := Select(cls, &types.StrategySpecification{Synthesized: true}, nil)
	assert.Equal(t, types.StrategyHybridPreserveMulti, d.Strategy)
	assert.Contains(t, d.Reason, "synthesized")
	assert.True(t, IsPreserve(d.Strategy))
}
