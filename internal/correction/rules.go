package correction

import (
	"regexp"
	"strconv"
	"strings"

	"scanforge/internal/render"
	"scanforge/internal/types"
	"scanforge/internal/validate"
)

// Failure is everything a rule may inspect about one failed attempt.
type Failure struct {
	Attempt int
	Code    string
	Results []types.ValidationResult
	Errors  []string
	Context *render.GenerationContext
}

// Rule pairs an error signature with the patch that addresses it.
type Rule struct {
	Name  string
	Match func(f Failure) bool
	// Fix returns the patch to merge into the next attempt and a short
	// description of what it does.
	Fix func(f Failure) (render.Patches, string)
}

// DefaultRules returns the built-in rule table in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "missing-import", Match: hasPrefix(validate.PrefixMissingImport), Fix: addImports},
		{Name: "missing-method", Match: hasPrefix(validate.PrefixMissingMethod), Fix: addStubs},
		{Name: "fragment-syntax", Match: fragmentSyntax, Fix: placeholder},
	}
}

func hasPrefix(prefix string) func(Failure) bool {
	return func(f Failure) bool {
		return len(withPrefix(f.Errors, prefix)) > 0
	}
}

func withPrefix(errs []string, prefix string) []string {
	var out []string
	for _, e := range errs {
		if rest, ok := strings.CutPrefix(e, prefix); ok && strings.TrimSpace(rest) != "" {
			out = append(out, strings.TrimSpace(rest))
		}
	}
	return out
}

func addImports(f Failure) (render.Patches, string) {
	imports := withPrefix(f.Errors, validate.PrefixMissingImport)
	return render.Patches{Imports: imports}, "add " + strings.Join(imports, "; ")
}

func addStubs(f Failure) (render.Patches, string) {
	var stubs []string
	for _, m := range withPrefix(f.Errors, validate.PrefixMissingMethod) {
		if render.IsIdentifier(m) {
			stubs = append(stubs, m)
		}
	}
	return render.Patches{Stubs: stubs}, "add pass-through stubs for " + strings.Join(stubs, ", ")
}

var syntaxLine = regexp.MustCompile(`^syntax error at line (\d+)`)

// fragmentSyntax matches a syntax error located between the fragment markers.
func fragmentSyntax(f Failure) bool {
	first, last, ok := render.FragmentLines(f.Code)
	if !ok {
		return false
	}
	for _, e := range f.Errors {
		m := syntaxLine.FindStringSubmatch(e)
		if m == nil {
			continue
		}
		line, err := strconv.Atoi(m[1])
		if err == nil && line >= first && line <= last {
			return true
		}
	}
	return false
}

func placeholder(Failure) (render.Patches, string) {
	return render.Patches{Placeholder: true}, "replace detection fragment with a no-op placeholder"
}
