package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-rag/nexus/internal/config"
	"github.com/nexus-rag/nexus/internal/errors"
	"github.com/nexus-rag/nexus/internal/provider"
)

// fakeLLM records prompts and returns a canned answer.
type fakeLLM struct {
	lastPrompt string
	answer     string
	err        error
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, opts provider.GenerateOptions) (string, error) {
	f.lastPrompt = prompt
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func (f *fakeLLM) GenerateMessages(ctx context.Context, messages []provider.Message, opts provider.GenerateOptions) (string, error) {
	return f.Generate(ctx, messages[len(messages)-1].Content, opts)
}

func (f *fakeLLM) ModelName() string                  { return "fake-model" }
func (f *fakeLLM) BackendTag() string                 { return "fake" }
func (f *fakeLLM) Available(ctx context.Context) bool { return true }

// fakeEmbedder maps text length to a deterministic unit vector.
type fakeEmbedder struct{}

func (fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return embedText(text), nil
}

func (fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		vecs[i] = embedText(t)
	}
	return vecs, nil
}

func (fakeEmbedder) ModelName() string                  { return "fake-embed" }
func (fakeEmbedder) BackendTag() string                 { return "fake" }
func (fakeEmbedder) Available(ctx context.Context) bool { return true }

func embedText(text string) []float32 {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, 8)
	for i := range vec {
		vec[i] = float32(sum[i]) / 255.0
	}
	return vec
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.ChromaPath = filepath.Join(t.TempDir(), "chroma")
	cfg.ChunkSize = 100
	cfg.ChunkOverlap = 20
	return cfg
}

func writeDoc(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestPipeline(t *testing.T, cfg *config.Config, llm *fakeLLM, ws string) *Pipeline {
	t.Helper()
	if llm == nil {
		llm = &fakeLLM{answer: "the answer"}
	}
	return New(cfg, llm, fakeEmbedder{}, ws, nil)
}

func TestIndexThenQuery(t *testing.T) {
	// Given an ingested document
	cfg := testConfig(t)
	llm := &fakeLLM{answer: "Machine learning is a subset of AI."}
	p := newTestPipeline(t, cfg, llm, "ws1")
	path := writeDoc(t, "ml.txt", "Machine learning is a subset of AI.")

	result, err := p.IndexDocuments(context.Background(), IndexRequest{
		Paths: []string{path}, WorkspaceID: "ws1",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesProcessed)
	assert.Equal(t, 0, result.FilesSkipped)
	assert.GreaterOrEqual(t, result.TotalChunks, 1)
	require.Len(t, result.DocumentSources, 1)
	assert.Equal(t, path, result.DocumentSources[0].FilePath)

	// When querying
	resp, err := p.Query(context.Background(), QueryRequest{
		Question: "What is machine learning?", WorkspaceID: "ws1", MaxResults: 3,
	})

	// Then the answer carries citations bounded to the display length
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Answer)
	require.NotEmpty(t, resp.Citations)
	for _, c := range resp.Citations {
		assert.LessOrEqual(t, len([]rune(c.Excerpt)), CitationDisplayLength)
		assert.Equal(t, path, c.Source)
	}
	assert.Equal(t, "fake-model", resp.ModelUsed)
	assert.Equal(t, "fake", resp.Provider)
	assert.NotEmpty(t, resp.RunID)
	assert.Len(t, resp.ExcerptHashes, len(resp.Citations))
}

func TestQuery_NotIndexed(t *testing.T) {
	cfg := testConfig(t)
	p := newTestPipeline(t, cfg, nil, "empty-ws")

	_, err := p.Query(context.Background(), QueryRequest{
		Question: "anything", WorkspaceID: "empty-ws", MaxResults: 3,
	})

	require.Error(t, err)
	assert.Equal(t, errors.KindNotIndexed, errors.KindOf(err))
}

func TestWorkspaceIsolation(t *testing.T) {
	// Given documents only in ws1
	cfg := testConfig(t)
	p1 := newTestPipeline(t, cfg, nil, "ws1")
	p2 := newTestPipeline(t, cfg, nil, "ws2")
	path := writeDoc(t, "doc.txt", "isolated content for workspace one")

	_, err := p1.IndexDocuments(context.Background(), IndexRequest{Paths: []string{path}})
	require.NoError(t, err)

	// Then ws2 has nothing to query
	_, err = p2.Query(context.Background(), QueryRequest{Question: "q", MaxResults: 1})
	assert.Equal(t, errors.KindNotIndexed, errors.KindOf(err))

	// And ws1 cites its own file
	resp, err := p1.Query(context.Background(), QueryRequest{Question: "workspace one", MaxResults: 1})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Citations)
	assert.Equal(t, path, resp.Citations[0].Source)
}

func TestIndexDocuments_SkipsMissingAndUnsupported(t *testing.T) {
	cfg := testConfig(t)
	p := newTestPipeline(t, cfg, nil, "ws")
	good := writeDoc(t, "good.md", "some markdown content")
	unsupported := writeDoc(t, "image.png", "not a document")

	result, err := p.IndexDocuments(context.Background(), IndexRequest{
		Paths: []string{good, unsupported, "/nonexistent/file.txt"},
	})

	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesProcessed)
	assert.Equal(t, 2, result.FilesSkipped)
}

func TestQuery_RedactionHashesFullExcerpt(t *testing.T) {
	// Given safe mode with a tight snippet bound and a long document
	cfg := testConfig(t)
	cfg.HybridSafeMode = true
	cfg.MaxSnippetLength = 50
	cfg.ChunkSize = 1000
	cfg.ChunkOverlap = 0
	llm := &fakeLLM{answer: "ok"}
	p := newTestPipeline(t, cfg, llm, "ws")
	content := strings.Repeat("z", 400)
	path := writeDoc(t, "long.txt", content)

	_, err := p.IndexDocuments(context.Background(), IndexRequest{Paths: []string{path}})
	require.NoError(t, err)

	resp, err := p.Query(context.Background(), QueryRequest{Question: "q", MaxResults: 1})
	require.NoError(t, err)

	// Then the hash covers the untruncated chunk
	want := sha256.Sum256([]byte(content))
	require.Len(t, resp.ExcerptHashes, 1)
	assert.Equal(t, hex.EncodeToString(want[:]), resp.ExcerptHashes[0])

	// And the outbound prompt only saw the truncated snippet
	assert.Contains(t, llm.lastPrompt, strings.Repeat("z", 50)+"...")
	assert.NotContains(t, llm.lastPrompt, strings.Repeat("z", 51))
}

func TestQuery_PromptTemplate(t *testing.T) {
	cfg := testConfig(t)
	llm := &fakeLLM{answer: "ok"}
	p := newTestPipeline(t, cfg, llm, "ws")
	path := writeDoc(t, "doc.txt", "short fact")

	_, err := p.IndexDocuments(context.Background(), IndexRequest{Paths: []string{path}})
	require.NoError(t, err)

	_, err = p.Query(context.Background(), QueryRequest{Question: "what fact?", MaxResults: 1})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(llm.lastPrompt, "You are NEXUS, an autonomous document intelligence agent."))
	assert.Contains(t, llm.lastPrompt, "Question: what fact?")
	assert.True(t, strings.HasSuffix(llm.lastPrompt, "Answer:"))
	assert.Contains(t, llm.lastPrompt, "[Source: "+path+"]")
}

func TestQuery_PolicyViolation(t *testing.T) {
	// Given a bound so small the prompt scaffolding alone exceeds it
	cfg := testConfig(t)
	cfg.HybridSafeMode = true
	cfg.MaxSnippetLength = 10
	llm := &fakeLLM{answer: "never reached"}
	p := newTestPipeline(t, cfg, llm, "ws")
	path := writeDoc(t, "doc.txt", strings.Repeat("a", 300))

	_, err := p.IndexDocuments(context.Background(), IndexRequest{Paths: []string{path}})
	require.NoError(t, err)

	_, err = p.Query(context.Background(), QueryRequest{
		Question: strings.Repeat("q", 200), MaxResults: 1,
	})

	require.Error(t, err)
	assert.Equal(t, errors.KindPolicyViolation, errors.KindOf(err))
	assert.Empty(t, llm.lastPrompt)
}

func TestPipeline_ReopenFromDisk(t *testing.T) {
	// Given a persisted partition from an earlier pipeline
	cfg := testConfig(t)
	first := newTestPipeline(t, cfg, nil, "ws")
	path := writeDoc(t, "doc.txt", "persistent knowledge")
	_, err := first.IndexDocuments(context.Background(), IndexRequest{Paths: []string{path}})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// When a fresh pipeline binds the same workspace
	second := newTestPipeline(t, cfg, nil, "ws")
	resp, err := second.Query(context.Background(), QueryRequest{Question: "knowledge?", MaxResults: 1})

	// Then the partition loads lazily and serves citations
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Citations)
}

func TestStats(t *testing.T) {
	cfg := testConfig(t)
	p := newTestPipeline(t, cfg, nil, "ws")

	ready, chunks, docs := p.Stats()
	assert.False(t, ready)
	assert.Zero(t, chunks)
	assert.Zero(t, docs)

	path := writeDoc(t, "doc.txt", "some content")
	_, err := p.IndexDocuments(context.Background(), IndexRequest{Paths: []string{path}})
	require.NoError(t, err)

	ready, chunks, docs = p.Stats()
	assert.True(t, ready)
	assert.GreaterOrEqual(t, chunks, 1)
	assert.Equal(t, 1, docs)
}

func TestQueryRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     QueryRequest
		wantErr bool
	}{
		{"valid", QueryRequest{Question: "q", MaxResults: 3}, false},
		{"defaults applied", QueryRequest{Question: "q"}, false},
		{"empty question", QueryRequest{MaxResults: 3}, true},
		{"question too long", QueryRequest{Question: strings.Repeat("q", 5001), MaxResults: 3}, true},
		{"max results too high", QueryRequest{Question: "q", MaxResults: 11}, true},
		{"max results negative", QueryRequest{Question: "q", MaxResults: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errors.KindBadRequest, errors.KindOf(err))
			} else {
				require.NoError(t, err)
				assert.Equal(t, DefaultWorkspace, tt.req.WorkspaceID)
				assert.GreaterOrEqual(t, tt.req.MaxResults, MinMaxResults)
			}
		})
	}
}

func TestIndexRequest_Validate(t *testing.T) {
	empty := IndexRequest{}
	err := empty.Validate()
	require.Error(t, err)
	assert.Equal(t, errors.KindBadRequest, errors.KindOf(err))

	ok := IndexRequest{Paths: []string{"/a"}}
	require.NoError(t, ok.Validate())
	assert.Equal(t, DefaultWorkspace, ok.WorkspaceID)
}
