// Package config resolves NEXUS configuration from environment variables,
// an optional .env file, and an optional nexus.yaml overlay.
// Environment variables always win over the overlay file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nexus-rag/nexus/internal/errors"
)

// Mode is the NEXUS operating mode.
type Mode string

const (
	// ModeLocal allows only the local provider; nothing leaves the host.
	ModeLocal Mode = "local"
	// ModeCloud uses cloud providers for generation and embeddings.
	ModeCloud Mode = "cloud"
	// ModeHybrid keeps retrieval local and sends redacted snippets to cloud generation.
	ModeHybrid Mode = "hybrid"
)

// Provider names accepted by the router.
const (
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderVertex    = "vertex"
)

// ValidLLMProviders lists accepted generation backends.
var ValidLLMProviders = []string{ProviderOllama, ProviderAnthropic, ProviderOpenAI, ProviderVertex}

// ValidEmbedProviders lists accepted embedding backends.
var ValidEmbedProviders = []string{ProviderOllama, ProviderOpenAI, ProviderVertex}

// Config is the resolved NEXUS configuration.
type Config struct {
	// Mode selection
	Mode Mode `yaml:"mode"`

	// Provider selection
	LLMProvider   string `yaml:"llm_provider"`
	EmbedProvider string `yaml:"embed_provider"`

	// Ollama
	OllamaModel      string `yaml:"ollama_model"`
	OllamaEmbedModel string `yaml:"ollama_embed_model"`
	OllamaBaseURL    string `yaml:"ollama_base_url"`

	// Anthropic
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	AnthropicModel  string `yaml:"anthropic_model"`

	// OpenAI
	OpenAIAPIKey     string `yaml:"openai_api_key"`
	OpenAIModel      string `yaml:"openai_model"`
	OpenAIEmbedModel string `yaml:"openai_embed_model"`

	// Vertex AI
	GoogleCloudProject string `yaml:"google_cloud_project"`
	GoogleCloudRegion  string `yaml:"google_cloud_region"`
	VertexModel        string `yaml:"vertex_model"`
	VertexEmbedModel   string `yaml:"vertex_embed_model"`

	// Document processing
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`

	// Persisted state
	ChromaPath string `yaml:"chroma_path"`
	LedgerPath string `yaml:"ledger_path"`
	CacheDir   string `yaml:"cache_dir"`

	// Performance
	EmbeddingBatchSize int `yaml:"embedding_batch_size"`

	// API
	APIHost string `yaml:"api_host"`
	APIPort int    `yaml:"api_port"`

	// Privacy / safety
	HybridSafeMode   bool `yaml:"hybrid_safe_mode"`
	MaxSnippetLength int  `yaml:"max_snippet_length"`
}

// Default returns the built-in defaults before env resolution.
func Default() *Config {
	return &Config{
		Mode:               ModeHybrid,
		LLMProvider:        ProviderOllama,
		EmbedProvider:      ProviderOllama,
		OllamaModel:        "llama3",
		OllamaEmbedModel:   "nomic-embed-text",
		OllamaBaseURL:      "http://localhost:11434",
		AnthropicModel:     "claude-3-5-sonnet-20241022",
		OpenAIModel:        "gpt-4-turbo-preview",
		OpenAIEmbedModel:   "text-embedding-ada-002",
		GoogleCloudRegion:  "us-central1",
		VertexModel:        "gemini-1.5-pro",
		VertexEmbedModel:   "text-embedding-004",
		ChunkSize:          1000,
		ChunkOverlap:       200,
		ChromaPath:         "./chroma_db",
		LedgerPath:         "./nexus_ledger.db",
		CacheDir:           "./rag_cache",
		EmbeddingBatchSize: 50,
		APIHost:            "0.0.0.0",
		APIPort:            8000,
		HybridSafeMode:     true,
		MaxSnippetLength:   4000,
	}
}

// Load resolves configuration: defaults, then optional nexus.yaml overlay,
// then .env, then process environment (highest priority).
// The result is not validated; call Validate before serving.
func Load() (*Config, error) {
	cfg := Default()

	// .env is optional; absence is not an error.
	_ = godotenv.Load()

	if overlay := os.Getenv("NEXUS_CONFIG_FILE"); overlay != "" {
		if err := cfg.applyYAML(overlay); err != nil {
			return nil, err
		}
	} else if _, err := os.Stat("nexus.yaml"); err == nil {
		if err := cfg.applyYAML("nexus.yaml"); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyYAML merges a yaml overlay file into the config.
func (c *Config) applyYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(errors.KindConfigInvalid, fmt.Errorf("read config file %s: %w", path, err))
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(errors.KindConfigInvalid, fmt.Errorf("parse config file %s: %w", path, err))
	}
	return nil
}

// applyEnv overrides config fields from environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("NEXUS_MODE"); v != "" {
		c.Mode = Mode(strings.ToLower(v))
	}
	setString(&c.LLMProvider, "NEXUS_LLM_PROVIDER")
	setString(&c.EmbedProvider, "NEXUS_EMBED_PROVIDER")
	setString(&c.OllamaModel, "OLLAMA_MODEL")
	setString(&c.OllamaEmbedModel, "OLLAMA_EMBED_MODEL")
	setString(&c.OllamaBaseURL, "OLLAMA_BASE_URL")
	setString(&c.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	setString(&c.AnthropicModel, "ANTHROPIC_MODEL")
	setString(&c.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&c.OpenAIModel, "OPENAI_MODEL")
	setString(&c.OpenAIEmbedModel, "OPENAI_EMBED_MODEL")
	setString(&c.GoogleCloudProject, "GOOGLE_CLOUD_PROJECT")
	setString(&c.GoogleCloudRegion, "GOOGLE_CLOUD_REGION")
	setString(&c.VertexModel, "VERTEX_MODEL")
	setString(&c.VertexEmbedModel, "VERTEX_EMBED_MODEL")
	setInt(&c.ChunkSize, "CHUNK_SIZE")
	setInt(&c.ChunkOverlap, "CHUNK_OVERLAP")
	setString(&c.ChromaPath, "CHROMA_DB_PATH")
	setString(&c.LedgerPath, "LEDGER_DB_PATH")
	setString(&c.CacheDir, "CACHE_DIR")
	setInt(&c.EmbeddingBatchSize, "EMBEDDING_BATCH_SIZE")
	setString(&c.APIHost, "API_HOST")
	setInt(&c.APIPort, "API_PORT")
	setBool(&c.HybridSafeMode, "HYBRID_SAFE_MODE")
	setInt(&c.MaxSnippetLength, "MAX_SNIPPET_LENGTH")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.ToLower(v) == "true" || v == "1"
	}
}

// Validate checks mode/provider invariants and prepares persisted-state
// directories. It runs once at startup and fails fast.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeLocal, ModeCloud, ModeHybrid:
	default:
		return errors.Newf(errors.KindConfigInvalid, "unknown mode: %s (valid: local, cloud, hybrid)", c.Mode)
	}

	if !contains(ValidLLMProviders, c.LLMProvider) {
		return errors.Newf(errors.KindConfigInvalid, "unknown LLM provider: %s (valid: %s)",
			c.LLMProvider, strings.Join(ValidLLMProviders, ", "))
	}
	if !contains(ValidEmbedProviders, c.EmbedProvider) {
		return errors.Newf(errors.KindConfigInvalid, "unknown embedding provider: %s (valid: %s)",
			c.EmbedProvider, strings.Join(ValidEmbedProviders, ", "))
	}

	if c.Mode == ModeCloud || c.Mode == ModeHybrid {
		switch c.LLMProvider {
		case ProviderAnthropic:
			if c.AnthropicAPIKey == "" {
				return errors.New(errors.KindUnconfigured,
					"ANTHROPIC_API_KEY required when using Anthropic provider", nil).
					WithDetail("variable", "ANTHROPIC_API_KEY")
			}
		case ProviderOpenAI:
			if c.OpenAIAPIKey == "" {
				return errors.New(errors.KindUnconfigured,
					"OPENAI_API_KEY required when using OpenAI provider", nil).
					WithDetail("variable", "OPENAI_API_KEY")
			}
		case ProviderVertex:
			if c.GoogleCloudProject == "" {
				return errors.New(errors.KindUnconfigured,
					"GOOGLE_CLOUD_PROJECT required when using Vertex provider", nil).
					WithDetail("variable", "GOOGLE_CLOUD_PROJECT")
			}
		}
	}

	if c.ChunkSize <= 0 {
		return errors.Newf(errors.KindConfigInvalid, "CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return errors.Newf(errors.KindConfigInvalid,
			"CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got overlap=%d size=%d", c.ChunkOverlap, c.ChunkSize)
	}
	if c.MaxSnippetLength <= 0 {
		return errors.Newf(errors.KindConfigInvalid, "MAX_SNIPPET_LENGTH must be positive, got %d", c.MaxSnippetLength)
	}

	for _, dir := range []string{c.ChromaPath, c.CacheDir, filepath.Dir(c.LedgerPath)} {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(errors.KindConfigInvalid, fmt.Errorf("create state directory %s: %w", dir, err))
		}
	}

	return nil
}

// WorkspacePath returns the vector-store partition directory for a workspace.
func (c *Config) WorkspacePath(workspaceID string) string {
	return filepath.Join(c.ChromaPath, workspaceID)
}

// Summary returns a loggable view of the active configuration.
// Credentials are never included.
func (c *Config) Summary() map[string]any {
	return map[string]any{
		"mode":             string(c.Mode),
		"llm_provider":     c.LLMProvider,
		"embed_provider":   c.EmbedProvider,
		"hybrid_safe_mode": c.HybridSafeMode,
		"chunk_size":       c.ChunkSize,
		"chunk_overlap":    c.ChunkOverlap,
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
