// Package extract turns (source, classification) into a StrategySpecification
// and categorized ParameterSpecification by asking an external model.
// The primary backend and the fallback backend are each bounded by their
// own timeout. When both fail, the classification's policy decides whether a
// minimal specification is synthesized or the failure is fatal.
package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"scanforge/internal/logging"
	"scanforge/internal/pyast"
	"scanforge/internal/types"
)

// Request is one extraction call.
type Request struct {
	Source         []byte
	Module         *pyast.Module
	Classification *types.ClassificationResult
}

// Backend is one semantic extraction collaborator.
type Backend interface {
	Name() string
	Extract(ctx context.Context, req Request) (*types.StrategySpecification, error)
}

// Cache stores specifications produced by a backend, keyed by source hash.
type Cache interface {
	GetExtraction(ctx context.Context, key string) (*types.StrategySpecification, string, bool, error)
	PutExtraction(ctx context.Context, key, backend string, spec *types.StrategySpecification) error
}

// Result is the extractor's output.
type Result struct {
	Spec   *types.StrategySpecification
	Params *types.ParameterSpecification
	// Backend names the backend whose answer was used ("" when synthesized).
	Backend string
	// Synthesized is true when both backends failed and policy allowed a fallback spec.
	Synthesized bool
	Cached      bool
	// Failure is the extraction error recorded when Synthesized.
	Failure error
}

// Service runs the primary backend and, on failure, the fallback backend.
type Service struct {
	Primary         Backend
	Fallback        Backend
	PrimaryTimeout  time.Duration
	FallbackTimeout time.Duration
	// Policy maps a pattern type to true when a synthesized spec is allowed.
	Policy map[types.PatternType]bool
	Cache  Cache
}

// DefaultPolicy allows synthesized specifications for recognized shapes only.
func DefaultPolicy() map[types.PatternType]bool {
	return map[types.PatternType]bool{
		types.PatternStandalone: true,
		types.PatternMulti:      true,
		types.PatternGeneric:    false,
	}
}

// CacheKey identifies a (source, pattern type) pair.
func CacheKey(src []byte, pt types.PatternType) string {
	sum := sha256.Sum256(append([]byte(string(pt)+"\x00"), src...))
	return hex.EncodeToString(sum[:])
}

// Extract runs the backends and applies the fallback policy. The returned
// error is always an *types.ExtractionError (or wraps one).
func (s *Service) Extract(ctx context.Context, req Request) (*Result, error) {
	if req.Classification == nil {
		return nil, &types.ExtractionError{Err: errors.New("classification is required")}
	}
	pt := req.Classification.PatternType
	key := CacheKey(req.Source, pt)

	if s.Cache != nil {
		spec, backend, ok, err := s.Cache.GetExtraction(ctx, key)
		if err != nil {
			logging.ExtractWarn("cache lookup failed: %v", err)
		} else if ok {
			logging.ExtractDebug("cache hit for %s (backend=%s)", key[:12], backend)
			return s.result(req, spec, backend, true), nil
		}
	}

	spec, backend, err := s.runBackends(ctx, req)
	if err == nil {
		if s.Cache != nil {
			if perr := s.Cache.PutExtraction(ctx, key, backend, spec); perr != nil {
				logging.ExtractWarn("cache store failed: %v", perr)
			}
		}
		return s.result(req, spec, backend, false), nil
	}

	policy := s.Policy
	if policy == nil {
		policy = DefaultPolicy()
	}
	if !policy[pt] {
		logging.ExtractWarn("extraction failed for %s input, policy is fail-fast: %v", pt, err)
		return nil, err
	}

	logging.ExtractWarn("extraction failed for %s input, synthesizing fallback specification: %v", pt, err)
	synth := Synthesize(req)
	res := s.result(req, synth, "", false)
	res.Synthesized = true
	res.Failure = err
	return res, nil
}

func (s *Service) result(req Request, spec *types.StrategySpecification, backend string, cached bool) *Result {
	var lit *pyast.ConfigLiteral
	if req.Module != nil {
		lit = req.Module.ConfigLiteral()
	}
	return &Result{
		Spec:    spec,
		Params:  BuildParameters(spec, lit, backend),
		Backend: backend,
		Cached:  cached,
	}
}

// runBackends tries the primary then the fallback backend.
func (s *Service) runBackends(ctx context.Context, req Request) (*types.StrategySpecification, string, error) {
	if s.Primary == nil {
		return nil, "", &types.ExtractionError{Err: errors.New("no extraction backend configured")}
	}

	spec, primaryErr := s.call(ctx, s.Primary, s.PrimaryTimeout, req)
	if primaryErr == nil {
		return spec, s.Primary.Name(), nil
	}
	logging.ExtractWarn("primary backend %s failed: %v", s.Primary.Name(), primaryErr)

	if s.Fallback == nil {
		return nil, "", primaryErr
	}
	spec, fallbackErr := s.call(ctx, s.Fallback, s.FallbackTimeout, req)
	if fallbackErr == nil {
		logging.Extract("fallback backend %s answered after primary failure", s.Fallback.Name())
		return spec, s.Fallback.Name(), nil
	}
	logging.ExtractWarn("fallback backend %s failed: %v", s.Fallback.Name(), fallbackErr)

	return nil, "", &types.ExtractionError{
		Backend: s.Fallback.Name(),
		Timeout: isTimeout(fallbackErr),
		Err:     fmt.Errorf("%w; primary: %v", unwrapExtraction(fallbackErr), primaryErr),
	}
}

// call runs one backend under its own deadline. The backend runs on its own
// goroutine so a backend that ignores ctx still cannot hold the pipeline past
// the deadline.
func (s *Service) call(ctx context.Context, b Backend, timeout time.Duration, req Request) (*types.StrategySpecification, error) {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	type outcome struct {
		spec *types.StrategySpecification
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		spec, err := b.Extract(callCtx, req)
		done <- outcome{spec, err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return nil, wrapBackendErr(b.Name(), callCtx, o.err)
		}
		if o.spec == nil || o.spec.Name == "" {
			return nil, &types.ExtractionError{Backend: b.Name(), Err: ErrMalformed}
		}
		logging.ExtractDebug("backend %s answered in %v", b.Name(), time.Since(start))
		return o.spec, nil
	case <-callCtx.Done():
		return nil, wrapBackendErr(b.Name(), callCtx, callCtx.Err())
	}
}

func wrapBackendErr(name string, ctx context.Context, err error) error {
	var ee *types.ExtractionError
	if errors.As(err, &ee) {
		if ee.Backend == "" {
			ee.Backend = name
		}
		ee.Timeout = ee.Timeout || errors.Is(ctx.Err(), context.DeadlineExceeded)
		return ee
	}
	return &types.ExtractionError{
		Backend: name,
		Timeout: errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded),
		Err:     err,
	}
}

func isTimeout(err error) bool {
	var ee *types.ExtractionError
	return errors.As(err, &ee) && ee.Timeout
}

func unwrapExtraction(err error) error {
	var ee *types.ExtractionError
	if errors.As(err, &ee) && ee.Err != nil {
		return ee.Err
	}
	return err
}

// Synthesize builds the minimal fallback specification: a name, empty
// condition lists and the parameters found in the source's config literal.
func Synthesize(req Request) *types.StrategySpecification {
	spec := &types.StrategySpecification{
		Name:            "Generated",
		EntryConditions: []string{},
		ExitConditions:  []string{},
		Parameters:      map[string]any{},
		Synthesized:     true,
	}
	if req.Classification != nil {
		spec.ScanKind = string(req.Classification.PatternType)
	}
	if req.Module != nil {
		spec.Name = deriveName(req.Module)
		if lit := req.Module.ConfigLiteral(); lit != nil {
			for k, v := range lit.Values {
				spec.Parameters[k] = v
			}
		}
	}
	spec.Description = "minimal specification synthesized after extraction failure"
	return spec
}
