package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"scanforge/internal/logging"
	"scanforge/internal/types"
)

// =============================================================================
// ANTHROPIC BACKEND
// =============================================================================

// AnthropicConfig configures the Anthropic Messages API backend.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// AnthropicBackend extracts specifications through the Anthropic Messages API.
type AnthropicBackend struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewAnthropicBackend creates an Anthropic backend. The deadline comes from
// the caller's context, so the HTTP client carries no timeout of its own.
func NewAnthropicBackend(cfg AnthropicConfig) *AnthropicBackend {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-5-20250514"
	}
	return &AnthropicBackend{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{},
	}
}

// Name returns "anthropic".
func (b *AnthropicBackend) Name() string {
	return "anthropic"
}

// Extract sends one Messages request and parses the JSON answer.
func (b *AnthropicBackend) Extract(ctx context.Context, req Request) (*types.StrategySpecification, error) {
	if b.apiKey == "" {
		return nil, fmt.Errorf("API key not configured")
	}
	prompt, err := BuildPrompt(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	logging.ExtractDebug("[Anthropic] Messages: model=%s prompt_len=%d", b.model, len(prompt))

	body, err := json.Marshal(anthropicRequest{
		Model:       b.model,
		MaxTokens:   4096,
		System:      SystemPrompt(),
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", b.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("API error: %s", parsed.Error.Message)
	}

	var text strings.Builder
	for _, c := range parsed.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	logging.ExtractDebug("[Anthropic] completed in %v response_len=%d", time.Since(start), text.Len())
	return ParseSpecification(text.String())
}
