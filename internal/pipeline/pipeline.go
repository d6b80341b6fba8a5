// Package pipeline orchestrates the retrieval-augmented flow for one
// workspace: ingest documents into the vector partition, retrieve
// chunks for a question, redact them under the hybrid policy, and
// generate a cited answer.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/nexus-rag/nexus/internal/chunk"
	"github.com/nexus-rag/nexus/internal/config"
	"github.com/nexus-rag/nexus/internal/errors"
	"github.com/nexus-rag/nexus/internal/loader"
	"github.com/nexus-rag/nexus/internal/policy"
	"github.com/nexus-rag/nexus/internal/provider"
	"github.com/nexus-rag/nexus/internal/store"
)

const promptTemplate = `You are NEXUS, an autonomous document intelligence agent.
Use the following context to answer the question accurately and concisely.
If you don't know, say so.

Context: %s

Question: %s

Answer:`

// Pipeline is the per-workspace RAG orchestrator. The vector-store
// handle opens lazily: a populated partition on disk binds on first
// use, an empty workspace stays unbound until the first ingestion.
type Pipeline struct {
	workspaceID string
	dir         string
	llm         provider.LLM
	embedder    provider.Embedder
	redactor    *policy.Redactor
	splitter    *chunk.Splitter
	logger      *slog.Logger

	mu    sync.Mutex
	vs    *store.Store
	openG singleflight.Group
}

// New builds a pipeline for workspaceID using the given providers.
func New(cfg *config.Config, llm provider.LLM, embedder provider.Embedder, workspaceID string, logger *slog.Logger) *Pipeline {
	if workspaceID == "" {
		workspaceID = DefaultWorkspace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		workspaceID: workspaceID,
		dir:         cfg.WorkspacePath(workspaceID),
		llm:         llm,
		embedder:    embedder,
		redactor:    policy.NewRedactor(cfg.HybridSafeMode, cfg.MaxSnippetLength),
		splitter:    chunk.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		logger:      logger.With(slog.String("workspace", workspaceID)),
	}
}

// WorkspaceID returns the workspace this pipeline serves.
func (p *Pipeline) WorkspaceID() string { return p.workspaceID }

// PartitionDir returns the on-disk partition directory.
func (p *Pipeline) PartitionDir() string { return p.dir }

// LLM returns the generation backend.
func (p *Pipeline) LLM() provider.LLM { return p.llm }

// Embedder returns the embedding backend.
func (p *Pipeline) Embedder() provider.Embedder { return p.embedder }

// openStore binds the vector-store handle. When the partition does not
// exist on disk yet, the handle stays nil unless create is set.
// Concurrent callers share one open via singleflight.
func (p *Pipeline) openStore(create bool) (*store.Store, error) {
	p.mu.Lock()
	if p.vs != nil {
		defer p.mu.Unlock()
		return p.vs, nil
	}
	p.mu.Unlock()

	if !create && !store.Exists(p.dir) {
		return nil, nil
	}

	v, err, _ := p.openG.Do("open", func() (any, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.vs != nil {
			return p.vs, nil
		}
		s, err := store.Open(p.dir)
		if err != nil {
			return nil, err
		}
		p.vs = s
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*store.Store), nil
}

// IndexDocuments ingests the requested files into the workspace
// partition. Missing or unsupported paths count toward files_skipped
// without failing the run.
func (p *Pipeline) IndexDocuments(ctx context.Context, req IndexRequest) (IndexResult, error) {
	start := time.Now()
	result := IndexResult{
		WorkspaceID:     p.workspaceID,
		DocumentSources: []loader.Source{},
	}

	var (
		chunks  []store.Chunk
		texts   []string
		sources []loader.Source
	)

	for _, path := range req.Paths {
		if _, err := os.Stat(path); err != nil {
			result.FilesSkipped++
			continue
		}
		if !loader.Supported(path) {
			result.FilesSkipped++
			continue
		}

		docs, err := loader.Load(path)
		if err != nil {
			return result, fmt.Errorf("load %s: %w", path, err)
		}
		src, err := loader.NewSource(path)
		if err != nil {
			return result, fmt.Errorf("fingerprint %s: %w", path, err)
		}
		sources = append(sources, src)
		result.FilesProcessed++

		for _, doc := range docs {
			for _, c := range p.splitter.Split(doc.Text, doc.Source, doc.Page, 0) {
				chunks = append(chunks, store.Chunk{
					ID:      store.ChunkID(c.Source, c.Page, c.Index),
					Content: c.Content,
					Source:  c.Source,
					Page:    c.Page,
					Ordinal: c.Index,
				})
				texts = append(texts, c.Content)
			}
		}
	}

	if len(chunks) > 0 {
		vectors, err := p.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return result, err
		}

		vs, err := p.openStore(true)
		if err != nil {
			return result, err
		}
		if err := vs.AddChunks(ctx, chunks, vectors); err != nil {
			return result, err
		}
		for _, src := range sources {
			vs.PutSource(src)
		}
		if err := vs.Save(); err != nil {
			return result, err
		}
	}

	result.DocumentSources = append(result.DocumentSources, sources...)
	result.TotalChunks = len(chunks)
	result.ProcessingTimeMs = float64(time.Since(start).Microseconds()) / 1000.0

	p.logger.Info("index_complete",
		slog.Int("files_processed", result.FilesProcessed),
		slog.Int("files_skipped", result.FilesSkipped),
		slog.Int("total_chunks", result.TotalChunks),
		slog.Float64("processing_time_ms", result.ProcessingTimeMs))

	return result, nil
}

// Query retrieves chunks for the question, redacts them, and generates
// a cited answer. Fails with not_indexed when the workspace has no
// populated partition.
func (p *Pipeline) Query(ctx context.Context, req QueryRequest) (QueryResponse, error) {
	start := time.Now()
	runID := uuid.NewString()

	vs, err := p.openStore(false)
	if err != nil {
		return QueryResponse{}, err
	}
	if vs == nil {
		return QueryResponse{}, errors.New(errors.KindNotIndexed,
			"no documents indexed yet", nil).
			WithDetail("workspace", p.workspaceID).
			WithSuggestion("ingest documents with POST /index before querying")
	}

	queryVec, err := p.embedder.EmbedQuery(ctx, req.Question)
	if err != nil {
		return QueryResponse{}, err
	}

	results, err := vs.Search(ctx, queryVec, req.MaxResults)
	if err != nil {
		return QueryResponse{}, err
	}

	// Full excerpts here; the display truncation happens after
	// redaction so hashes always cover the complete chunk text.
	citations := make([]Citation, 0, len(results))
	snippets := make([]policy.Snippet, 0, len(results))
	for i, r := range results {
		citations = append(citations, Citation{
			Source:         r.Chunk.Source,
			Page:           r.Chunk.Page,
			Excerpt:        r.Chunk.Content,
			RelevanceScore: 1.0 / float64(i+1),
			ContentHash:    policy.HashContent(r.Chunk.Content),
		})
		snippets = append(snippets, policy.Snippet{
			Excerpt: r.Chunk.Content,
			Source:  r.Chunk.Source,
			Page:    r.Chunk.Page,
		})
	}

	safeContext, excerptHashes := p.redactor.Redact(snippets)

	prompt := fmt.Sprintf(promptTemplate, safeContext, req.Question)

	if !p.redactor.ValidateOutboundPayload(prompt) {
		return QueryResponse{}, errors.New(errors.KindPolicyViolation,
			"outbound payload failed safety check", nil)
	}

	answer, err := p.llm.Generate(ctx, prompt, provider.GenerateOptions{
		Temperature: provider.DefaultTemperature,
	})
	if err != nil {
		return QueryResponse{}, err
	}

	for i := range citations {
		if runes := []rune(citations[i].Excerpt); len(runes) > CitationDisplayLength {
			citations[i].Excerpt = string(runes[:CitationDisplayLength])
		}
	}

	latency := float64(time.Since(start).Microseconds()) / 1000.0
	p.logger.Info("query_complete",
		slog.String("run_id", runID),
		slog.Int("citations", len(citations)),
		slog.Float64("latency_ms", latency))

	return QueryResponse{
		Question:      req.Question,
		Answer:        answer,
		Citations:     citations,
		WorkspaceID:   p.workspaceID,
		ModelUsed:     p.llm.ModelName(),
		Provider:      p.llm.BackendTag(),
		LatencyMs:     latency,
		RunID:         runID,
		Timestamp:     time.Now(),
		ExcerptHashes: excerptHashes,
	}, nil
}

// Stats reports whether the partition is populated and how much it
// holds. A partition on disk binds lazily here.
func (p *Pipeline) Stats() (ready bool, chunks, documents int) {
	vs, err := p.openStore(false)
	if err != nil || vs == nil {
		return false, 0, 0
	}
	return true, vs.Count(), vs.SourceCount()
}

// Close releases the vector-store handle if bound.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.vs == nil {
		return nil
	}
	err := p.vs.Close()
	p.vs = nil
	return err
}
