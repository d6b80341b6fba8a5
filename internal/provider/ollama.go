package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nexus-rag/nexus/internal/errors"
)

// OllamaConfig configures the local Ollama backend.
type OllamaConfig struct {
	// BaseURL is the Ollama API endpoint (default http://localhost:11434).
	BaseURL string
	// Model is the generation model name.
	Model string
	// EmbedModel is the embedding model name.
	EmbedModel string
	// EmbedBatchSize is the sub-batch size for document embedding.
	EmbedBatchSize int
}

func (c *OllamaConfig) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:11434"
	}
	if c.Model == "" {
		c.Model = "llama3"
	}
	if c.EmbedModel == "" {
		c.EmbedModel = "nomic-embed-text"
	}
	if c.EmbedBatchSize <= 0 {
		c.EmbedBatchSize = DefaultOllamaEmbedBatchSize
	}
}

// OllamaLLM generates text using a local Ollama server.
type OllamaLLM struct {
	cfg  OllamaConfig
	http lazyClient
}

// Verify interface implementation at compile time
var _ LLM = (*OllamaLLM)(nil)

// NewOllamaLLM creates an Ollama generation backend.
// No network contact happens until the first call.
func NewOllamaLLM(cfg OllamaConfig) *OllamaLLM {
	cfg.applyDefaults()
	return &OllamaLLM{cfg: cfg}
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message Message `json:"message"`
}

// Generate produces text from a single prompt.
func (o *OllamaLLM) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	return o.GenerateMessages(ctx, []Message{{Role: RoleUser, Content: prompt}}, opts)
}

// GenerateMessages produces text from chat-format messages with the
// standard retry policy for transient faults.
func (o *OllamaLLM) GenerateMessages(ctx context.Context, messages []Message, opts GenerateOptions) (string, error) {
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}

	req := ollamaChatRequest{
		Model:    o.cfg.Model,
		Messages: messages,
		Stream:   false,
		Options: map[string]any{
			"temperature": opts.Temperature,
			"num_predict": maxTokens,
		},
	}

	return errors.RetryWithResult(ctx, errors.DefaultRetryConfig(), func() (string, error) {
		var resp ollamaChatResponse
		if err := postJSON(ctx, o.http.get(), o.cfg.BaseURL+"/api/chat", nil, req, &resp); err != nil {
			return "", err
		}
		return resp.Message.Content, nil
	})
}

// ModelName returns the model identifier.
func (o *OllamaLLM) ModelName() string { return o.cfg.Model }

// BackendTag returns the stable provider identifier.
func (o *OllamaLLM) BackendTag() string { return "ollama" }

// Available checks if the Ollama server responds.
func (o *OllamaLLM) Available(ctx context.Context) bool {
	return getOK(ctx, o.http.get(), o.cfg.BaseURL+"/api/tags", nil)
}

// OllamaEmbedder generates embeddings using a local Ollama server.
type OllamaEmbedder struct {
	cfg  OllamaConfig
	http lazyClient
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an Ollama embedding backend.
func NewOllamaEmbedder(cfg OllamaConfig) *OllamaEmbedder {
	cfg.applyDefaults()
	return &OllamaEmbedder{cfg: cfg}
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// EmbedQuery generates an embedding for one string.
func (o *OllamaEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, errors.New(errors.KindUnrecoverable, "empty embedding returned", nil)
	}
	return vecs[0], nil
}

// EmbedDocuments embeds texts in sub-batches, retrying each sub-batch
// under the standard policy.
func (o *OllamaEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, 0, len(texts))
	for i, batch := range subBatches(texts, o.cfg.EmbedBatchSize) {
		req := ollamaEmbedRequest{Model: o.cfg.EmbedModel, Input: batch}

		vecs, err := errors.RetryWithResult(ctx, errors.DefaultRetryConfig(), func() ([][]float32, error) {
			var resp ollamaEmbedResponse
			if err := postJSON(ctx, o.http.get(), o.cfg.BaseURL+"/api/embed", nil, req, &resp); err != nil {
				return nil, err
			}
			return resp.Embeddings, nil
		})
		if err != nil {
			return nil, fmt.Errorf("embed batch %d: %w", i, err)
		}
		if len(vecs) != len(batch) {
			return nil, errors.Newf(errors.KindUnrecoverable,
				"embedding count mismatch: sent %d texts, got %d vectors", len(batch), len(vecs))
		}

		results = append(results, vecs...)
		slog.Debug("ollama_embed_batch", slog.Int("batch", i), slog.Int("size", len(batch)))
	}

	return results, nil
}

// ModelName returns the embedding model identifier.
func (o *OllamaEmbedder) ModelName() string { return o.cfg.EmbedModel }

// BackendTag returns the stable provider identifier.
func (o *OllamaEmbedder) BackendTag() string { return "ollama" }

// Available checks if the Ollama server responds.
func (o *OllamaEmbedder) Available(ctx context.Context) bool {
	return getOK(ctx, o.http.get(), o.cfg.BaseURL+"/api/tags", nil)
}
