package main

import (
	"fmt"
	"sort"
	"strings"

	"scanforge/internal/store"
	"scanforge/internal/types"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#22c55e")).Bold(true)
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ef4444")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#f59e0b"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	labelStyle = lipgloss.NewStyle().Width(12).Foreground(lipgloss.Color("63"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)
)

func status(ok bool) string {
	if ok {
		return okStyle.Render("OK")
	}
	return failStyle.Render("FAILED")
}

func field(label string, value any) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), fmt.Sprint(value))
}

// renderReport formats one transformation result for the terminal.
func renderReport(path string, res *types.TransformationResult) string {
	var lines []string
	lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Center, titleStyle.Render(path), "  ", status(res.Success)))

	for _, key := range []string{"class_name", "pattern_type", "strategy", "extraction_backend", "attempts", "output_path"} {
		if v, ok := res.Metadata[key]; ok && fmt.Sprint(v) != "" {
			lines = append(lines, field(key, v))
		}
	}
	if fb, _ := res.Metadata["extraction_fallback"].(bool); fb {
		lines = append(lines, warnStyle.Render("extraction fell back to a synthesized specification"))
	}

	if len(res.ValidationResults) > 0 {
		lines = append(lines, "")
		for _, v := range res.ValidationResults {
			lines = append(lines, field(string(v.Category), status(v.IsValid)))
			for _, e := range v.Errors {
				lines = append(lines, "  "+failStyle.Render("x ")+e)
			}
			for _, w := range v.Warnings {
				lines = append(lines, "  "+warnStyle.Render("! ")+w)
			}
		}
	}
	for _, c := range res.Corrections {
		lines = append(lines, dimStyle.Render(fmt.Sprintf("correction %d: %s: %s", c.AttemptNumber, c.ErrorType, c.Fix)))
	}
	if !res.Success && len(res.Errors) > 0 {
		lines = append(lines, "")
		for _, e := range dedupe(res.Errors) {
			lines = append(lines, failStyle.Render("error: ")+e)
		}
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

// renderClassification formats classify output.
func renderClassification(path string, cls *types.ClassificationResult, strategy, reason string) string {
	lines := []string{
		titleStyle.Render(path),
		field("pattern", cls.PatternType),
		field("confidence", fmt.Sprintf("%.2f", cls.Confidence)),
		field("strategy", strategy),
		dimStyle.Render(reason),
		"",
	}
	names := make([]string, 0, len(cls.Indicators))
	for name := range cls.Indicators {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		lines = append(lines, field(name, cls.Indicators[name]))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

// renderHistory formats the history table.
func renderHistory(rows []store.Transformation) string {
	if len(rows) == 0 {
		return dimStyle.Render("no transformations recorded")
	}
	header := lipgloss.NewStyle().Bold(true).Render(
		fmt.Sprintf("%-36s  %-19s  %-8s  %-22s  %s", "RUN", "WHEN", "STATUS", "STRATEGY", "CLASS"))
	lines := []string{header}
	for _, r := range rows {
		st := okStyle.Render(fmt.Sprintf("%-8s", "ok"))
		if !r.Success {
			st = failStyle.Render(fmt.Sprintf("%-8s", "failed"))
		}
		lines = append(lines, fmt.Sprintf("%-36s  %-19s  %s  %-22s  %s",
			r.RunID, r.CreatedAt.Local().Format("2006-01-02 15:04:05"), st, r.Strategy, r.ClassName))
	}
	return strings.Join(lines, "\n")
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	var out []string
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
