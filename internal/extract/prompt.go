package extract

import (
	"bytes"
	"fmt"
	"text/template"

	"scanforge/internal/types"
)

const systemPrompt = `You analyze Python stock-scanner scripts and describe the trading pattern they detect.
Answer with a single JSON object and nothing else. Fields:
  name              short human name of the scanner
  description       one sentence
  strategy_type     e.g. gap, breakout, reversal, momentum, multi_pattern
  entry_conditions  list of conditions that flag a row, in plain words
  exit_conditions   list of exit conditions, empty when the scanner has none
  parameters        object of threshold name -> number/bool/string as used by the script
  timeframe         daily, intraday or unspecified
  rationale         why these conditions identify the pattern
  scan_kind         standalone, multi or generic`

var userTemplate = template.Must(template.New("extract").Parse(`Classification: {{.Pattern}} (confidence {{printf "%.2f" .Confidence}})
Indicators:{{range $k, $v := .Indicators}} {{$k}}={{$v}}{{end}}
{{- if .ConfigName}}
Configuration literal: {{.ConfigName}}
{{- end}}

Script:
` + "```python" + `
{{.Source}}
` + "```" + `
`))

type promptData struct {
	Pattern    types.PatternType
	Confidence float64
	Indicators map[string]int
	ConfigName string
	Source     string
}

// BuildPrompt renders the user prompt for a request.
func BuildPrompt(req Request) (string, error) {
	data := promptData{Source: string(req.Source)}
	if req.Classification != nil {
		data.Pattern = req.Classification.PatternType
		data.Confidence = req.Classification.Confidence
		data.Indicators = req.Classification.Indicators
	}
	if req.Module != nil {
		if lit := req.Module.ConfigLiteral(); lit != nil {
			data.ConfigName = lit.Name
		}
	}
	var buf bytes.Buffer
	if err := userTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render extraction prompt: %w", err)
	}
	return buf.String(), nil
}

// SystemPrompt returns the instruction shared by model backends.
func SystemPrompt() string {
	return systemPrompt
}
