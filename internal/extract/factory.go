package extract

import (
	"context"
	"fmt"

	"scanforge/internal/config"
	"scanforge/internal/logging"
	"scanforge/internal/types"
)

// NewBackend builds a backend for one configured provider.
func NewBackend(ctx context.Context, bc config.BackendConfig) (Backend, error) {
	switch bc.Provider {
	case "gemini":
		b, err := NewGeminiBackend(ctx, GeminiConfig{APIKey: bc.APIKey, Model: bc.Model, BaseURL: bc.BaseURL})
		if err != nil {
			return nil, err
		}
		return b, nil
	case "anthropic":
		if bc.APIKey == "" {
			return nil, fmt.Errorf("anthropic API key is required")
		}
		return NewAnthropicBackend(AnthropicConfig{APIKey: bc.APIKey, BaseURL: bc.BaseURL, Model: bc.Model}), nil
	case "literal":
		return NewLiteralBackend(), nil
	case "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported extraction provider: %s", bc.Provider)
	}
}

// NewServiceFromConfig wires the configured backends. Offline mode uses only
// the literal backend. A model backend without credentials is replaced by the
// literal backend so the pipeline still runs.
func NewServiceFromConfig(ctx context.Context, cfg *config.Config, cache Cache, offline bool) (*Service, error) {
	svc := &Service{
		PrimaryTimeout:  cfg.GetPrimaryTimeout(),
		FallbackTimeout: cfg.GetFallbackTimeout(),
		Policy:          cfg.FallbackPolicy(),
	}
	if cfg.Extraction.Cache {
		svc.Cache = cache
	}
	if offline {
		svc.Primary = NewLiteralBackend()
		svc.Cache = nil
		return svc, nil
	}

	primary, err := NewBackend(ctx, cfg.Extraction.Primary)
	if err != nil {
		logging.ExtractWarn("primary backend %s unavailable, using literal extraction: %v", cfg.Extraction.Primary.Provider, err)
		primary = NewLiteralBackend()
	}
	if primary == nil {
		return nil, fmt.Errorf("%w: no primary extraction backend configured", types.ErrExtraction)
	}
	svc.Primary = primary

	fallback, err := NewBackend(ctx, cfg.Extraction.Fallback)
	if err != nil {
		logging.ExtractWarn("fallback backend %s unavailable: %v", cfg.Extraction.Fallback.Provider, err)
		return svc, nil
	}
	svc.Fallback = fallback
	return svc, nil
}
