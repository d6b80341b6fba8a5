// Package router selects generation and embedding backends from the
// active configuration and enforces mode constraints. Local mode never
// routes to a cloud provider.
package router

import (
	"context"
	"fmt"

	"github.com/nexus-rag/nexus/internal/config"
	"github.com/nexus-rag/nexus/internal/errors"
	"github.com/nexus-rag/nexus/internal/provider"
)

// Router builds providers for a configuration.
type Router struct {
	cfg *config.Config
}

// New creates a router over cfg.
func New(cfg *config.Config) *Router {
	return &Router{cfg: cfg}
}

// GetLLM returns the generation backend for the configured provider.
// Local mode only permits Ollama.
func (r *Router) GetLLM() (provider.LLM, error) {
	name := r.cfg.LLMProvider
	if r.cfg.Mode == config.ModeLocal && name != config.ProviderOllama {
		return nil, errors.Newf(errors.KindModeViolation,
			"LOCAL mode requires Ollama provider, got: %s", name).
			WithSuggestion("set NEXUS_LLM_PROVIDER=ollama or change NEXUS_MODE")
	}

	switch name {
	case config.ProviderOllama:
		return provider.NewOllamaLLM(r.ollamaConfig()), nil
	case config.ProviderAnthropic:
		return provider.NewAnthropicLLM(provider.AnthropicConfig{
			APIKey: r.cfg.AnthropicAPIKey,
			Model:  r.cfg.AnthropicModel,
		})
	case config.ProviderOpenAI:
		return provider.NewOpenAILLM(r.openaiConfig())
	case config.ProviderVertex:
		return provider.NewVertexLLM(r.vertexConfig())
	default:
		return nil, errors.Newf(errors.KindUnknownProvider,
			"unknown LLM provider: %s, valid options: %v", name, config.ValidLLMProviders)
	}
}

// GetEmbedder returns the embedding backend for the configured provider,
// wrapped with an LRU cache. Local mode only permits Ollama. Hybrid mode
// allows cloud embeddings when explicitly configured.
func (r *Router) GetEmbedder() (provider.Embedder, error) {
	name := r.cfg.EmbedProvider
	if r.cfg.Mode == config.ModeLocal && name != config.ProviderOllama {
		return nil, errors.Newf(errors.KindModeViolation,
			"LOCAL mode requires Ollama embeddings, got: %s", name).
			WithSuggestion("set NEXUS_EMBED_PROVIDER=ollama or change NEXUS_MODE")
	}

	var (
		inner provider.Embedder
		err   error
	)
	switch name {
	case config.ProviderOllama:
		inner = provider.NewOllamaEmbedder(r.ollamaConfig())
	case config.ProviderOpenAI:
		inner, err = provider.NewOpenAIEmbedder(r.openaiConfig())
	case config.ProviderVertex:
		inner, err = provider.NewVertexEmbedder(r.vertexConfig())
	default:
		return nil, errors.Newf(errors.KindUnknownProvider,
			"unknown embedding provider: %s, valid options: %v", name, config.ValidEmbedProviders)
	}
	if err != nil {
		return nil, err
	}

	return provider.NewCachedEmbedder(inner, provider.DefaultEmbeddingCacheSize), nil
}

// GetProviders returns both backends for the configuration.
func (r *Router) GetProviders() (provider.LLM, provider.Embedder, error) {
	llm, err := r.GetLLM()
	if err != nil {
		return nil, nil, err
	}
	embed, err := r.GetEmbedder()
	if err != nil {
		return nil, nil, err
	}
	return llm, embed, nil
}

func (r *Router) ollamaConfig() provider.OllamaConfig {
	return provider.OllamaConfig{
		BaseURL:        r.cfg.OllamaBaseURL,
		Model:          r.cfg.OllamaModel,
		EmbedModel:     r.cfg.OllamaEmbedModel,
		EmbedBatchSize: r.cfg.EmbeddingBatchSize,
	}
}

func (r *Router) openaiConfig() provider.OpenAIConfig {
	return provider.OpenAIConfig{
		APIKey:     r.cfg.OpenAIAPIKey,
		Model:      r.cfg.OpenAIModel,
		EmbedModel: r.cfg.OpenAIEmbedModel,
	}
}

func (r *Router) vertexConfig() provider.VertexConfig {
	return provider.VertexConfig{
		Project:    r.cfg.GoogleCloudProject,
		Region:     r.cfg.GoogleCloudRegion,
		Model:      r.cfg.VertexModel,
		EmbedModel: r.cfg.VertexEmbedModel,
	}
}

// ValidationReport summarizes whether the configuration can route.
type ValidationReport struct {
	Valid          bool     `json:"valid"`
	Mode           string   `json:"mode"`
	LLMProvider    string   `json:"llm_provider"`
	EmbedProvider  string   `json:"embed_provider"`
	LLMAvailable   bool     `json:"llm_available"`
	EmbedAvailable bool     `json:"embed_available"`
	SafetyMode     string   `json:"safety_mode,omitempty"`
	Warnings       []string `json:"warnings"`
	Errors         []string `json:"errors"`
}

// ValidateConfiguration checks that both providers can be built and
// probes their availability. Construction failures make the report
// invalid; unreachable backends only warn.
func (r *Router) ValidateConfiguration(ctx context.Context) ValidationReport {
	report := ValidationReport{
		Valid:         true,
		Mode:          string(r.cfg.Mode),
		LLMProvider:   r.cfg.LLMProvider,
		EmbedProvider: r.cfg.EmbedProvider,
		Warnings:      []string{},
		Errors:        []string{},
	}

	if llm, err := r.GetLLM(); err != nil {
		report.Valid = false
		report.Errors = append(report.Errors, fmt.Sprintf("LLM provider error: %v", err))
	} else {
		report.LLMAvailable = llm.Available(ctx)
		if !report.LLMAvailable {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("LLM provider %s not available", r.cfg.LLMProvider))
		}
	}

	if embed, err := r.GetEmbedder(); err != nil {
		report.Valid = false
		report.Errors = append(report.Errors, fmt.Sprintf("Embedding provider error: %v", err))
	} else {
		report.EmbedAvailable = embed.Available(ctx)
		if !report.EmbedAvailable {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("Embedding provider %s not available", r.cfg.EmbedProvider))
		}
	}

	if r.cfg.Mode == config.ModeHybrid {
		if r.cfg.HybridSafeMode {
			report.SafetyMode = "HYBRID SAFE (docs local, snippets only to cloud)"
		} else {
			report.Warnings = append(report.Warnings,
				"HYBRID_SAFE_MODE disabled - full docs may be sent to cloud")
		}
	}

	return report
}
