// Package provider implements the generation and embedding capabilities
// behind NEXUS. Backends are interchangeable: a local Ollama server or
// the Anthropic, OpenAI, and Vertex AI HTTP APIs.
//
// Construction is lazy: creating a provider validates credentials but
// never touches the network. The HTTP client is built on first call.
package provider

import (
	"context"
	"time"
)

// Message roles for chat-format generation.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a role-tagged input to chat-format generation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateOptions tunes a generation call.
type GenerateOptions struct {
	// MaxTokens caps the output length. 0 means the provider default.
	MaxTokens int
	// Temperature is the sampling temperature in [0, 2].
	Temperature float64
}

// DefaultMaxTokens is used when GenerateOptions.MaxTokens is zero.
const DefaultMaxTokens = 1024

// DefaultTemperature is used for prompt assembly when the caller has no preference.
const DefaultTemperature = 0.7

// DefaultRequestTimeout bounds a single provider HTTP request.
const DefaultRequestTimeout = 120 * time.Second

// Provider batch limits for embedding requests.
const (
	// OpenAIEmbedBatchSize is the per-request cap for the OpenAI embeddings API.
	OpenAIEmbedBatchSize = 100
	// VertexEmbedBatchSize is the per-request cap for Vertex AI embeddings.
	VertexEmbedBatchSize = 250
	// DefaultOllamaEmbedBatchSize is the default sub-batch size for Ollama.
	DefaultOllamaEmbedBatchSize = 50
)

// LLM is the generation capability.
type LLM interface {
	// Generate produces text from a single prompt.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)

	// GenerateMessages produces text from an ordered sequence of
	// role-tagged messages.
	GenerateMessages(ctx context.Context, messages []Message, opts GenerateOptions) (string, error)

	// ModelName returns the model identifier.
	ModelName() string

	// BackendTag returns the stable provider identifier used in
	// responses and ledger rows (ollama, anthropic, openai, vertex).
	BackendTag() string

	// Available probes whether the backend is reachable and configured.
	Available(ctx context.Context) bool
}

// Embedder is the embedding capability.
// EmbedQuery(t) is equivalent to EmbedDocuments([t])[0].
type Embedder interface {
	// EmbedQuery generates an embedding for a single query string.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// EmbedDocuments generates embeddings for a batch of documents,
	// splitting into provider-safe sub-batches internally.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// ModelName returns the embedding model identifier.
	ModelName() string

	// BackendTag returns the stable provider identifier.
	BackendTag() string

	// Available probes whether the backend is reachable and configured.
	Available(ctx context.Context) bool
}
