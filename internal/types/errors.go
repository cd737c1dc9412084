package types

import (
	"errors"
	"fmt"
)

// Pipeline error taxonomy.
var (
	// ErrParse means the source could not be parsed even for classification.
	ErrParse = errors.New("parse error")
	// ErrExtraction means the semantic extraction collaborator failed.
	ErrExtraction = errors.New("extraction error")
	// ErrRender means the renderer contract was violated.
	ErrRender = errors.New("render error")
	// ErrValidation means generated code failed validation (recoverable).
	ErrValidation = errors.New("validation failure")
	// ErrCorrectionExhausted means the retry budget ran out.
	ErrCorrectionExhausted = errors.New("correction exhausted")
	// ErrInvalidRequest means the transform request itself was malformed.
	ErrInvalidRequest = errors.New("invalid request")
)

// ParseError locates the first syntax problem in a source program.
type ParseError struct {
	Line   int
	Column int
	Kind   string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse error at line %d, column %d: %v", e.Line, e.Column, e.Err)
	}
	return fmt.Sprintf("parse error at line %d, column %d: %s", e.Line, e.Column, e.Kind)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// ExtractionError wraps a failure of one extraction backend.
type ExtractionError struct {
	Backend string
	Timeout bool
	Err     error
}

func (e *ExtractionError) Error() string {
	prefix := "extraction failed"
	if e.Timeout {
		prefix = "extraction timed out"
	}
	if e.Backend != "" {
		prefix = fmt.Sprintf("%s (%s)", prefix, e.Backend)
	}
	if e.Err == nil {
		return prefix
	}
	return fmt.Sprintf("%s: %v", prefix, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

func (e *ExtractionError) Is(target error) bool { return target == ErrExtraction }

// RenderError reports an internal renderer contract violation. There is no
// corrective path for it.
type RenderError struct {
	Stage string
	Err   error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render error in %s: %v", e.Stage, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

func (e *RenderError) Is(target error) bool { return target == ErrRender }

// NewRenderError builds a RenderError from a format string.
func NewRenderError(stage, format string, args ...any) *RenderError {
	return &RenderError{Stage: stage, Err: fmt.Errorf(format, args...)}
}
