// Package pipeline is the transformation orchestrator. It drives classify,
// extract, strategy selection, fragment preparation and the correction loop
// in strict order and converts every failure, panics included, into a
// TransformationResult.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"scanforge/internal/classify"
	"scanforge/internal/config"
	"scanforge/internal/correction"
	"scanforge/internal/extract"
	"scanforge/internal/logging"
	"scanforge/internal/render"
	"scanforge/internal/strategy"
	"scanforge/internal/types"
	"scanforge/internal/validate"
	"scanforge/internal/window"

	"github.com/google/uuid"
)

// Request is one transform call.
type Request struct {
	Source []byte
	// ProposedName overrides the extracted specification name.
	ProposedName string
	// Start and End bound the output window (ISO-8601 dates).
	Start   string
	End     string
	Verbose bool
}

// Extractor produces the semantic specification for a classified source.
type Extractor interface {
	Extract(ctx context.Context, req extract.Request) (*extract.Result, error)
}

// Recorder persists finished transformations. Failures are logged only.
type Recorder interface {
	RecordTransformation(ctx context.Context, source []byte, proposedName string, res *types.TransformationResult) error
}

// Transformer wires the stages together.
type Transformer struct {
	Extractor   Extractor
	Renderer    correction.Generator
	Validator   correction.Checker
	Rules       []correction.Rule
	MaxAttempts int
	MaxWorkers  int
	HistoryDays int
	Recorder    Recorder
}

// New builds a transformer from configuration. rec may be nil.
func New(cfg *config.Config, ext Extractor, rec Recorder) *Transformer {
	return &Transformer{
		Extractor:   ext,
		Renderer:    render.New(),
		Validator:   validate.New(validate.OptionsFromConfig(cfg.Validation)),
		Rules:       correction.DefaultRules(),
		MaxAttempts: cfg.Correction.MaxAttempts,
		MaxWorkers:  cfg.Render.MaxWorkers,
		HistoryDays: cfg.Render.HistoryDays,
		Recorder:    rec,
	}
}

// run carries per-call state.
type run struct {
	req    Request
	res    *types.TransformationResult
	logger *logging.Logger
}

func (r *run) progress(format string, args ...interface{}) {
	if r.req.Verbose {
		r.logger.Info(format, args...)
		return
	}
	r.logger.Debug(format, args...)
}

func (r *run) fail(err error) *types.TransformationResult {
	r.res.Success = false
	r.res.Errors = append(r.res.Errors, err.Error())
	r.logger.Warn("transformation failed: %v", err)
	return r.res
}

// Transform runs the whole pipeline. It never panics and never returns nil.
func (t *Transformer) Transform(ctx context.Context, req Request) (res *types.TransformationResult) {
	started := time.Now()
	runID := uuid.NewString()
	r := &run{
		req: req,
		res: &types.TransformationResult{
			ValidationResults: []types.ValidationResult{},
			Metadata:          map[string]any{"run_id": runID},
			Errors:            []string{},
		},
		logger: logging.Get(logging.CategoryPipeline).With("run_id", runID),
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("panic in pipeline: %v\n%s", p, debug.Stack())
			r.fail(fmt.Errorf("internal error: %v", p))
		}
		r.res.Metadata["duration_ms"] = time.Since(started).Milliseconds()
		if t.Recorder != nil {
			if err := t.Recorder.RecordTransformation(ctx, req.Source, req.ProposedName, r.res); err != nil {
				r.logger.Warn("recording transformation failed: %v", err)
			}
		}
		res = r.res
	}()

	t.transform(ctx, r)
	return r.res
}

func (t *Transformer) transform(ctx context.Context, r *run) {
	req, res := r.req, r.res

	if len(strings.TrimSpace(string(req.Source))) == 0 {
		r.fail(fmt.Errorf("%w: source text is empty", types.ErrInvalidRequest))
		return
	}
	rng, err := window.Parse(req.Start, req.End)
	if err != nil {
		r.fail(err)
		return
	}
	res.Metadata["output_window"] = rng.Map()

	cls, mod, err := classify.Classify(ctx, req.Source)
	if err != nil {
		r.fail(fmt.Errorf("classification: %w", err))
		return
	}
	defer mod.Close()
	res.Metadata["pattern_type"] = string(cls.PatternType)
	res.Metadata["confidence"] = cls.Confidence
	res.Metadata["indicators"] = cls.Indicators
	r.progress("classified as %s (confidence %.2f)", cls.PatternType, cls.Confidence)

	if t.Extractor == nil {
		r.fail(&types.ExtractionError{Err: errors.New("no extractor configured")})
		return
	}
	ext, err := t.Extractor.Extract(ctx, extract.Request{Source: req.Source, Module: mod, Classification: cls})
	if err != nil {
		res.Metadata["extraction_error"] = err.Error()
		r.fail(err)
		return
	}
	res.Metadata["extraction_backend"] = ext.Backend
	res.Metadata["extraction_fallback"] = ext.Synthesized
	if ext.Failure != nil {
		res.Metadata["extraction_error"] = ext.Failure.Error()
	}
	r.progress("extracted %q via %s (synthesized=%t, %d parameters)",
		ext.Spec.Name, firstNonEmpty(ext.Backend, "fallback"), ext.Synthesized, ext.Params.Len())

	decision := strategy.Select(cls, ext.Spec, mod)
	res.Metadata["strategy"] = string(decision.Strategy)
	res.Metadata["strategy_reason"] = decision.Reason
	r.progress("strategy %s: %s", decision.Strategy, decision.Reason)

	prepared, err := render.Prepare(mod, decision.Strategy)
	if err != nil {
		r.fail(err)
		return
	}
	if prepared.Plan.PreserveSource && prepared.Preserved != nil && len(prepared.Preserved.Dropped) > 0 {
		res.Metadata["preserve_dropped"] = prepared.Preserved.Dropped
		r.progress("preserved source dropped %d statements: %s",
			len(prepared.Preserved.Dropped), strings.Join(prepared.Preserved.Dropped, "; "))
	}
	r.progress("fragment %s from %s (%s)", prepared.Fragment.Mode, firstNonEmpty(prepared.Fragment.Source, "none"), prepared.Plan.Extraction)

	name := firstNonEmpty(strings.TrimSpace(req.ProposedName), ext.Spec.Name, "scanner")
	className := render.ClassNameFor(name)
	res.Metadata["class_name"] = className

	ctrl := &correction.Controller{
		Renderer:    t.Renderer,
		Validator:   t.Validator,
		Rules:       t.Rules,
		MaxAttempts: t.MaxAttempts,
	}
	out, err := ctrl.Run(ctx, render.Inputs{
		Name:           name,
		ClassName:      className,
		Classification: cls,
		Specification:  ext.Spec,
		Parameters:     ext.Params,
		Prepared:       prepared,
		Window:         rng,
		MaxWorkers:     t.MaxWorkers,
		HistoryDays:    t.HistoryDays,
	})
	if out != nil {
		res.Metadata["attempts"] = out.Attempts
		res.Metadata["final_state"] = string(out.State)
		res.Corrections = out.Records
		res.CorrectionsApplied = len(out.Records)
		if out.Results != nil {
			res.ValidationResults = out.Results
		}
		if out.Code != "" {
			code := out.Code
			res.GeneratedCode = &code
		}
	}
	if err != nil {
		r.fail(err)
		return
	}

	if out.Valid() {
		res.Success = true
		r.progress("generated %s in %d attempt(s), %d correction(s)", className, out.Attempts, len(out.Records))
		return
	}
	res.Errors = append(res.Errors, types.CollectErrors(out.Results)...)
	switch out.State {
	case correction.StateExhausted:
		r.fail(fmt.Errorf("%w after %d attempts", types.ErrCorrectionExhausted, out.Attempts))
	default:
		r.fail(fmt.Errorf("%w: no correction rule matches", types.ErrValidation))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
