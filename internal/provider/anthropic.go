package provider

import (
	"context"

	"github.com/nexus-rag/nexus/internal/errors"
)

const anthropicBaseURL = "https://api.anthropic.com"

// AnthropicConfig configures the Anthropic generation backend.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key. Required.
	APIKey string
	// Model is the model identifier.
	Model string
	// BaseURL overrides the API endpoint; used by tests.
	BaseURL string
}

// AnthropicLLM generates text using the Anthropic Messages API.
type AnthropicLLM struct {
	cfg  AnthropicConfig
	http lazyClient
}

var _ LLM = (*AnthropicLLM)(nil)

// NewAnthropicLLM creates an Anthropic generation backend.
// Fails with kind unconfigured when the API key is missing.
func NewAnthropicLLM(cfg AnthropicConfig) (*AnthropicLLM, error) {
	if cfg.APIKey == "" {
		return nil, errors.New(errors.KindUnconfigured,
			"ANTHROPIC_API_KEY required for Anthropic provider", nil).
			WithDetail("variable", "ANTHROPIC_API_KEY").
			WithSuggestion("set ANTHROPIC_API_KEY in .env or use NEXUS_LLM_PROVIDER=ollama for local-only")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-sonnet-20241022"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = anthropicBaseURL
	}
	return &AnthropicLLM{cfg: cfg}, nil
}

type anthropicRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Generate produces text from a single prompt.
func (a *AnthropicLLM) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	return a.GenerateMessages(ctx, []Message{{Role: RoleUser, Content: prompt}}, opts)
}

// GenerateMessages produces text from chat-format messages. A leading
// system message is lifted into the Messages API system field.
func (a *AnthropicLLM) GenerateMessages(ctx context.Context, messages []Message, opts GenerateOptions) (string, error) {
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}

	var system string
	if len(messages) > 0 && messages[0].Role == RoleSystem {
		system = messages[0].Content
		messages = messages[1:]
	}

	req := anthropicRequest{
		Model:       a.cfg.Model,
		MaxTokens:   maxTokens,
		Temperature: opts.Temperature,
		System:      system,
		Messages:    messages,
	}

	headers := map[string]string{
		"x-api-key":         a.cfg.APIKey,
		"anthropic-version": "2023-06-01",
	}

	return errors.RetryWithResult(ctx, errors.DefaultRetryConfig(), func() (string, error) {
		var resp anthropicResponse
		if err := postJSON(ctx, a.http.get(), a.cfg.BaseURL+"/v1/messages", headers, req, &resp); err != nil {
			return "", err
		}
		if len(resp.Content) == 0 {
			return "", errors.New(errors.KindUnrecoverable, "empty response content", nil)
		}
		return resp.Content[0].Text, nil
	})
}

// ModelName returns the model identifier.
func (a *AnthropicLLM) ModelName() string { return a.cfg.Model }

// BackendTag returns the stable provider identifier.
func (a *AnthropicLLM) BackendTag() string { return "anthropic" }

// Available reports whether the provider is configured.
// No probe request is made; the API has no cheap health endpoint.
func (a *AnthropicLLM) Available(ctx context.Context) bool {
	return a.cfg.APIKey != ""
}
