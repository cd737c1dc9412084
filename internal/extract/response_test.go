package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSpecificationStripsNarrative(t *testing.T) {
	text := "Sure! Here is the analysis:\n```json\n" +
		`{"name": "Gap Go", "entry_conditions": ["gap > 4%"], "parameters": {"min_gap": 0.04, "atr_len": 14, "tags": [1, 2.5]}}` +
		"\n```\nLet me know if you need more."

	spec, err := ParseSpecification(text)
	require.NoError(t, err)
	assert.Equal(t, "Gap Go", spec.Name)
	assert.Equal(t, []string{"gap > 4%"}, spec.EntryConditions)
	assert.Equal(t, []string{}, spec.ExitConditions)
	assert.Equal(t, 0.04, spec.Parameters["min_gap"])
	assert.Equal(t, int64(14), spec.Parameters["atr_len"])
	assert.Equal(t, []any{int64(1), 2.5}, spec.Parameters["tags"])
}

func TestParseSpecificationMalformed(t *testing.T) {
	for _, text := range []string{
		"no json here",
		`{"description": "missing name"}`,
		`{"name": "x", "parameters": [1,2]}`,
		`{"name": `,
	} {
		_, err := ParseSpecification(text)
		assert.ErrorIs(t, err, ErrMalformed, text)
	}
}

func TestSpecificationRoundTripKeepsIntegers(t *testing.T) {
	spec, err := ParseSpecification(`{"name": "n", "parameters": {"bars": 20}}`)
	require.NoError(t, err)
	data, err := EncodeSpecification(spec)
	require.NoError(t, err)
	back, err := DecodeSpecification(data)
	require.NoError(t, err)
	assert.Equal(t, int64(20), back.Parameters["bars"])
}
