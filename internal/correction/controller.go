// Package correction drives the bounded generate, validate and correct loop.
// Each failed attempt is matched once against an ordered rule table; the
// first match contributes a patch for the next attempt and an unmatched
// failure stops the loop.
package correction

import (
	"context"
	"fmt"
	"strings"

	"scanforge/internal/logging"
	"scanforge/internal/render"
	"scanforge/internal/types"
)

// DefaultMaxAttempts bounds generation attempts when none is configured.
const DefaultMaxAttempts = 3

// State is a controller state.
type State string

const (
	StateGenerating State = "generating"
	StateValidating State = "validating"
	StateCorrecting State = "correcting"
	StateSuccess    State = "success"
	StateExhausted  State = "exhausted"
	// StateStopped means validation failed and no rule recognized the errors.
	StateStopped State = "stopped"
	// StateFailed means rendering itself failed.
	StateFailed State = "failed"
)

// Terminal reports whether the loop ends in this state.
func (s State) Terminal() bool {
	switch s {
	case StateSuccess, StateExhausted, StateStopped, StateFailed:
		return true
	}
	return false
}

// Generator renders code for one attempt.
type Generator interface {
	Render(gc *render.GenerationContext) (string, error)
}

// Checker validates generated code.
type Checker interface {
	Validate(ctx context.Context, code, className string) []types.ValidationResult
}

// Controller owns the retry loop.
type Controller struct {
	Renderer    Generator
	Validator   Checker
	Rules       []Rule
	MaxAttempts int
}

// New creates a controller with the default rule table.
func New(r Generator, v Checker, maxAttempts int) *Controller {
	return &Controller{Renderer: r, Validator: v, Rules: DefaultRules(), MaxAttempts: maxAttempts}
}

// Outcome is the result of a run. Code is the last artifact produced,
// valid or not.
type Outcome struct {
	Code     string
	Results  []types.ValidationResult
	Records  []types.CorrectionRecord
	Attempts int
	State    State
	Context  *render.GenerationContext
	// Trace lists every state entered, in order.
	Trace []State
}

// Valid reports whether the final artifact passed validation.
func (o *Outcome) Valid() bool {
	return o != nil && o.State == StateSuccess
}

// Run generates until validation passes, no rule applies, or the attempt
// budget is spent. The returned error is non-nil only for render failures
// and cancellation; exhaustion is reported through the Outcome.
func (c *Controller) Run(ctx context.Context, in render.Inputs) (*Outcome, error) {
	maxAttempts := c.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	rules := c.Rules
	if rules == nil {
		rules = DefaultRules()
	}

	out := &Outcome{}
	enter := func(s State) {
		out.State = s
		out.Trace = append(out.Trace, s)
	}

	var patches render.Patches
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			enter(StateFailed)
			return out, err
		}

		enter(StateGenerating)
		gc := render.Build(in, patches, attempt)
		out.Context = gc
		out.Attempts = attempt
		code, err := c.Renderer.Render(gc)
		if err != nil {
			enter(StateFailed)
			return out, fmt.Errorf("attempt %d: %w", attempt, err)
		}
		out.Code = code

		enter(StateValidating)
		out.Results = c.Validator.Validate(ctx, code, gc.ClassName)
		if types.AllValid(out.Results) {
			enter(StateSuccess)
			logging.CorrectionDebug("attempt %d valid", attempt)
			return out, nil
		}

		errs := types.CollectErrors(out.Results)
		logging.CorrectionDebug("attempt %d invalid: %s", attempt, strings.Join(errs, "; "))
		if attempt == maxAttempts {
			break
		}

		f := Failure{Attempt: attempt, Code: code, Results: out.Results, Errors: errs, Context: gc}
		rule, ok := firstMatch(rules, f)
		if !ok {
			enter(StateStopped)
			logging.Correction("attempt %d: no correction rule matches, stopping", attempt)
			return out, nil
		}

		enter(StateCorrecting)
		patch, desc := rule.Fix(f)
		patches = patches.With(patch)
		out.Records = append(out.Records, types.CorrectionRecord{
			AttemptNumber: attempt,
			ErrorType:     rule.Name,
			Description:   strings.Join(errs, "; "),
			Fix:           desc,
		})
		logging.Correction("attempt %d: applied %s (%s)", attempt, rule.Name, desc)
	}

	enter(StateExhausted)
	logging.Correction("exhausted after %d attempts", out.Attempts)
	return out, nil
}

func firstMatch(rules []Rule, f Failure) (Rule, bool) {
	for _, r := range rules {
		if r.Match != nil && r.Match(f) {
			return r, true
		}
	}
	return Rule{}, false
}
