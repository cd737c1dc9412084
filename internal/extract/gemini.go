package extract

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"scanforge/internal/logging"
	"scanforge/internal/types"

	"google.golang.org/genai"
)

// =============================================================================
// GEMINI BACKEND
// =============================================================================

// GeminiConfig configures the Gemini backend.
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	// HTTPClient overrides the transport; nil uses the SDK default.
	HTTPClient *http.Client
}

// GeminiBackend extracts specifications through the Gemini API.
type GeminiBackend struct {
	client *genai.Client
	model  string
}

// NewGeminiBackend creates a Gemini backend.
func NewGeminiBackend(ctx context.Context, cfg GeminiConfig) (*GeminiBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-2.5-flash"
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.HTTPClient != nil {
		cc.HTTPClient = cfg.HTTPClient
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiBackend{client: client, model: model}, nil
}

// Name returns "gemini".
func (b *GeminiBackend) Name() string {
	return "gemini"
}

// Extract sends the prompt and parses the JSON answer.
func (b *GeminiBackend) Extract(ctx context.Context, req Request) (*types.StrategySpecification, error) {
	prompt, err := BuildPrompt(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	logging.ExtractDebug("[Gemini] GenerateContent: model=%s prompt_len=%d", b.model, len(prompt))

	resp, err := b.client.Models.GenerateContent(ctx, b.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(SystemPrompt(), genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       genai.Ptr[float32](0.1),
	})
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}

	text := resp.Text()
	logging.ExtractDebug("[Gemini] completed in %v response_len=%d", time.Since(start), len(text))
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty response", ErrMalformed)
	}
	return ParseSpecification(text)
}
