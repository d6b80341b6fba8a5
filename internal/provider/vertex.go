package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/nexus-rag/nexus/internal/errors"
)

// VertexConfig configures the Vertex AI backends.
type VertexConfig struct {
	// Project is the Google Cloud project id. Required.
	Project string
	// Region is the Vertex AI region (default us-central1).
	Region string
	// Model is the generation model identifier.
	Model string
	// EmbedModel is the embedding model identifier.
	EmbedModel string
	// AccessToken authenticates requests. Falls back to
	// GOOGLE_ACCESS_TOKEN when empty.
	AccessToken string
	// BaseURL overrides the regional endpoint; used by tests.
	BaseURL string
}

func (c *VertexConfig) applyDefaults() error {
	if c.Project == "" {
		return errors.New(errors.KindUnconfigured,
			"GOOGLE_CLOUD_PROJECT required for Vertex AI provider", nil).
			WithDetail("variable", "GOOGLE_CLOUD_PROJECT").
			WithSuggestion("set GOOGLE_CLOUD_PROJECT in .env or use NEXUS_LLM_PROVIDER=ollama for local-only")
	}
	if c.Region == "" {
		c.Region = "us-central1"
	}
	if c.Model == "" {
		c.Model = "gemini-1.5-pro"
	}
	if c.EmbedModel == "" {
		c.EmbedModel = "text-embedding-004"
	}
	if c.AccessToken == "" {
		c.AccessToken = os.Getenv("GOOGLE_ACCESS_TOKEN")
	}
	if c.BaseURL == "" {
		c.BaseURL = fmt.Sprintf("https://%s-aiplatform.googleapis.com", c.Region)
	}
	return nil
}

func (c *VertexConfig) modelURL(model, verb string) string {
	return fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google/models/%s:%s",
		c.BaseURL, c.Project, c.Region, model, verb)
}

func (c *VertexConfig) headers() map[string]string {
	if c.AccessToken == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + c.AccessToken}
}

// VertexLLM generates text using the Vertex AI generateContent API.
type VertexLLM struct {
	cfg  VertexConfig
	http lazyClient
}

var _ LLM = (*VertexLLM)(nil)

// NewVertexLLM creates a Vertex AI generation backend.
func NewVertexLLM(cfg VertexConfig) (*VertexLLM, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &VertexLLM{cfg: cfg}, nil
}

type vertexPart struct {
	Text string `json:"text"`
}

type vertexContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []vertexPart `json:"parts"`
}

type vertexGenerateRequest struct {
	Contents          []vertexContent `json:"contents"`
	SystemInstruction *vertexContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  struct {
		MaxOutputTokens int     `json:"maxOutputTokens"`
		Temperature     float64 `json:"temperature"`
	} `json:"generationConfig"`
}

type vertexGenerateResponse struct {
	Candidates []struct {
		Content vertexContent `json:"content"`
	} `json:"candidates"`
}

// Generate produces text from a single prompt.
func (v *VertexLLM) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	return v.GenerateMessages(ctx, []Message{{Role: RoleUser, Content: prompt}}, opts)
}

// GenerateMessages produces text from chat-format messages. A leading
// system message becomes the systemInstruction; assistant turns map to
// the API's model role.
func (v *VertexLLM) GenerateMessages(ctx context.Context, messages []Message, opts GenerateOptions) (string, error) {
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}

	var req vertexGenerateRequest
	req.GenerationConfig.MaxOutputTokens = maxTokens
	req.GenerationConfig.Temperature = opts.Temperature

	if len(messages) > 0 && messages[0].Role == RoleSystem {
		req.SystemInstruction = &vertexContent{Parts: []vertexPart{{Text: messages[0].Content}}}
		messages = messages[1:]
	}
	for _, m := range messages {
		role := m.Role
		if role == RoleAssistant {
			role = "model"
		}
		req.Contents = append(req.Contents, vertexContent{
			Role:  role,
			Parts: []vertexPart{{Text: m.Content}},
		})
	}

	url := v.cfg.modelURL(v.cfg.Model, "generateContent")

	return errors.RetryWithResult(ctx, errors.DefaultRetryConfig(), func() (string, error) {
		var resp vertexGenerateResponse
		if err := postJSON(ctx, v.http.get(), url, v.cfg.headers(), req, &resp); err != nil {
			return "", err
		}
		if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
			return "", errors.New(errors.KindUnrecoverable, "empty response candidates", nil)
		}
		return resp.Candidates[0].Content.Parts[0].Text, nil
	})
}

// ModelName returns the model identifier.
func (v *VertexLLM) ModelName() string { return v.cfg.Model }

// BackendTag returns the stable provider identifier.
func (v *VertexLLM) BackendTag() string { return "vertex" }

// Available reports whether the provider is configured.
func (v *VertexLLM) Available(ctx context.Context) bool {
	return v.cfg.Project != ""
}

// VertexEmbedder generates embeddings using the Vertex AI predict API.
type VertexEmbedder struct {
	cfg  VertexConfig
	http lazyClient
}

var _ Embedder = (*VertexEmbedder)(nil)

// NewVertexEmbedder creates a Vertex AI embedding backend.
func NewVertexEmbedder(cfg VertexConfig) (*VertexEmbedder, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &VertexEmbedder{cfg: cfg}, nil
}

type vertexEmbedRequest struct {
	Instances []struct {
		Content string `json:"content"`
	} `json:"instances"`
}

type vertexEmbedResponse struct {
	Predictions []struct {
		Embeddings struct {
			Values []float32 `json:"values"`
		} `json:"embeddings"`
	} `json:"predictions"`
}

// EmbedQuery generates an embedding for one string.
func (v *VertexEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := v.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, errors.New(errors.KindUnrecoverable, "empty embedding returned", nil)
	}
	return vecs[0], nil
}

// EmbedDocuments embeds texts in sub-batches of at most 250, retrying
// each sub-batch.
func (v *VertexEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	url := v.cfg.modelURL(v.cfg.EmbedModel, "predict")
	results := make([][]float32, 0, len(texts))

	for i, batch := range subBatches(texts, VertexEmbedBatchSize) {
		var req vertexEmbedRequest
		for _, t := range batch {
			req.Instances = append(req.Instances, struct {
				Content string `json:"content"`
			}{Content: t})
		}

		vecs, err := errors.RetryWithResult(ctx, errors.DefaultRetryConfig(), func() ([][]float32, error) {
			var resp vertexEmbedResponse
			if err := postJSON(ctx, v.http.get(), url, v.cfg.headers(), req, &resp); err != nil {
				return nil, err
			}
			vecs := make([][]float32, 0, len(resp.Predictions))
			for _, p := range resp.Predictions {
				vecs = append(vecs, p.Embeddings.Values)
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
func (v *VertexEmbedder) ModelName() string { return v.cfg.EmbedModel }

// BackendTag returns the stable provider identifier.
func (v *VertexEmbedder) BackendTag() string { return "vertex" }

// Available reports whether the provider is configured.
func (v *VertexEmbedder) Available(ctx context.Context) bool {
	return v.cfg.Project != ""
}
