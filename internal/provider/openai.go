package provider

import (
	"context"
	"fmt"

	"github.com/nexus-rag/nexus/internal/errors"
)

const openaiBaseURL = "https://api.openai.com"

// OpenAIConfig configures the OpenAI backends.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key. Required.
	APIKey string
	// Model is the generation model identifier.
	Model string
	// EmbedModel is the embedding model identifier.
	EmbedModel string
	// BaseURL overrides the API endpoint; used by tests.
	BaseURL string
}

func (c *OpenAIConfig) applyDefaults() error {
	if c.APIKey == "" {
		return errors.New(errors.KindUnconfigured,
			"OPENAI_API_KEY required for OpenAI provider", nil).
			WithDetail("variable", "OPENAI_API_KEY").
			WithSuggestion("set OPENAI_API_KEY in .env or use NEXUS_LLM_PROVIDER=ollama for local-only")
	}
	if c.Model == "" {
		c.Model = "gpt-4-turbo-preview"
	}
	if c.EmbedModel == "" {
		c.EmbedModel = "text-embedding-ada-002"
	}
	if c.BaseURL == "" {
		c.BaseURL = openaiBaseURL
	}
	return nil
}

// OpenAILLM generates text using the OpenAI chat completions API.
type OpenAILLM struct {
	cfg  OpenAIConfig
	http lazyClient
}

var _ LLM = (*OpenAILLM)(nil)

// NewOpenAILLM creates an OpenAI generation backend.
func NewOpenAILLM(cfg OpenAIConfig) (*OpenAILLM, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &OpenAILLM{cfg: cfg}, nil
}

type openaiChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type openaiChatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Generate produces text from a single prompt.
func (o *OpenAILLM) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	return o.GenerateMessages(ctx, []Message{{Role: RoleUser, Content: prompt}}, opts)
}

// GenerateMessages produces text from chat-format messages.
func (o *OpenAILLM) GenerateMessages(ctx context.Context, messages []Message, opts GenerateOptions) (string, error) {
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}

	req := openaiChatRequest{
		Model:       o.cfg.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: opts.Temperature,
	}

	return errors.RetryWithResult(ctx, errors.DefaultRetryConfig(), func() (string, error) {
		var resp openaiChatResponse
		if err := postJSON(ctx, o.http.get(), o.cfg.BaseURL+"/v1/chat/completions", o.headers(), req, &resp); err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", errors.New(errors.KindUnrecoverable, "empty response choices", nil)
		}
		return resp.Choices[0].Message.Content, nil
	})
}

func (o *OpenAILLM) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + o.cfg.APIKey}
}

// ModelName returns the model identifier.
func (o *OpenAILLM) ModelName() string { return o.cfg.Model }

// BackendTag returns the stable provider identifier.
func (o *OpenAILLM) BackendTag() string { return "openai" }

// Available reports whether the provider is configured.
func (o *OpenAILLM) Available(ctx context.Context) bool {
	return o.cfg.APIKey != ""
}

// OpenAIEmbedder generates embeddings using the OpenAI embeddings API.
type OpenAIEmbedder struct {
	cfg  OpenAIConfig
	http lazyClient
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an OpenAI embedding backend.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &OpenAIEmbedder{cfg: cfg}, nil
}

type openaiEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// EmbedQuery generates an embedding for one string.
func (o *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, errors.New(errors.KindUnrecoverable, "empty embedding returned", nil)
	}
	return vecs[0], nil
}

// EmbedDocuments embeds texts in sub-batches of at most 100 (the
// provider's per-request cap), retrying each sub-batch.
func (o *OpenAIEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	headers := map[string]string{"Authorization": "Bearer " + o.cfg.APIKey}
	results := make([][]float32, 0, len(texts))

	for i, batch := range subBatches(texts, OpenAIEmbedBatchSize) {
		req := openaiEmbedRequest{Model: o.cfg.EmbedModel, Input: batch}

		vecs, err := errors.RetryWithResult(ctx, errors.DefaultRetryConfig(), func() ([][]float32, error) {
			var resp openaiEmbedResponse
			if err := postJSON(ctx, o.http.get(), o.cfg.BaseURL+"/v1/embeddings", headers, req, &resp); err != nil {
				return nil, err
			}
			vecs := make([][]float32, len(resp.Data))
			for _, d := range resp.Data {
				if d.Index < 0 || d.Index >= len(vecs) {
					return nil, errors.Newf(errors.KindUnrecoverable, "embedding index %d out of range", d.Index)
				}
				vecs[d.Index] = d.Embedding
			}
			return vecs, nil
		})
		if err != nil {
			return nil, fmt.Errorf("embed batch %d: %w", i, err)
		}
		if len(vecs) != len(batch) {
			return nil, errors.Newf(errors.KindUnrecoverable,
				"embedding count mismatch: sent %d texts, got %d vectors", len(batch), len(vecs))
		}

		results = append(results, vecs...)
	}

	return results, nil
}

// ModelName returns the embedding model identifier.
func (o *OpenAIEmbedder) ModelName() string { return o.cfg.EmbedModel }

// BackendTag returns the stable provider identifier.
func (o *OpenAIEmbedder) BackendTag() string { return "openai" }

// Available reports whether the provider is configured.
func (o *OpenAIEmbedder) Available(ctx context.Context) bool {
	return o.cfg.APIKey != ""
}
