package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"scanforge/internal/types"
)

// ErrMalformed means the backend answered with something that is not a usable specification.
var ErrMalformed = errors.New("malformed extraction response")

// rawSpec mirrors the JSON the model is asked to produce.
type rawSpec struct {
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	StrategyType    string         `json:"strategy_type"`
	EntryConditions []string       `json:"entry_conditions"`
	ExitConditions  []string       `json:"exit_conditions"`
	Parameters      map[string]any `json:"parameters"`
	Timeframe       string         `json:"timeframe"`
	Rationale       string         `json:"rationale"`
	ScanKind        string         `json:"scan_kind"`
}

// extractJSONObject returns the outermost {...} in text, dropping any
// narrative or code fences around it.
func extractJSONObject(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// ParseSpecification decodes a model response into a specification.
func ParseSpecification(text string) (*types.StrategySpecification, error) {
	obj, ok := extractJSONObject(text)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrMalformed)
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(obj)))
	dec.UseNumber()
	var raw rawSpec
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if strings.TrimSpace(raw.Name) == "" {
		return nil, fmt.Errorf("%w: missing name", ErrMalformed)
	}

	spec := &types.StrategySpecification{
		Name:            strings.TrimSpace(raw.Name),
		Description:     raw.Description,
		StrategyType:    raw.StrategyType,
		EntryConditions: nonNil(raw.EntryConditions),
		ExitConditions:  nonNil(raw.ExitConditions),
		Parameters:      make(map[string]any, len(raw.Parameters)),
		Timeframe:       raw.Timeframe,
		Rationale:       raw.Rationale,
		ScanKind:        raw.ScanKind,
	}
	for k, v := range raw.Parameters {
		spec.Parameters[k] = normalizeNumber(v)
	}
	return spec, nil
}

// normalizeNumber turns json.Number into int64 when integral, else float64.
func normalizeNumber(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeNumber(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalizeNumber(e)
		}
		return out
	}
	return v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// EncodeSpecification serializes a specification for caching.
func EncodeSpecification(spec *types.StrategySpecification) ([]byte, error) {
	return json.Marshal(spec)
}

// DecodeSpecification restores a cached specification, keeping integers integral.
func DecodeSpecification(data []byte) (*types.StrategySpecification, error) {
	return ParseSpecification(string(data))
}
