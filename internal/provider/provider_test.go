package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-rag/nexus/internal/errors"
)

func TestOllamaLLM_Generate(t *testing.T) {
	// Given an Ollama server that echoes the chat request
	var gotReq ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: Message{Role: RoleAssistant, Content: "hello back"},
		})
	}))
	defer srv.Close()

	llm := NewOllamaLLM(OllamaConfig{BaseURL: srv.URL, Model: "llama3"})

	// When generating from a prompt
	out, err := llm.Generate(context.Background(), "hello", GenerateOptions{MaxTokens: 64, Temperature: 0.2})

	// Then the response text is returned and options were forwarded
	require.NoError(t, err)
	assert.Equal(t, "hello back", out)
	assert.Equal(t, "llama3", gotReq.Model)
	assert.False(t, gotReq.Stream)
	assert.Equal(t, float64(64), gotReq.Options["num_predict"])
}

func TestOllamaEmbedder_SubBatches(t *testing.T) {
	// Given a server that records per-request batch sizes
	var batchSizes []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		texts := req.Input.([]any)
		batchSizes = append(batchSizes, len(texts))
		vecs := make([][]float32, len(texts))
		for i := range vecs {
			vecs[i] = []float32{float32(i)}
		}
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: vecs})
	}))
	defer srv.Close()

	emb := NewOllamaEmbedder(OllamaConfig{BaseURL: srv.URL, EmbedBatchSize: 3})

	// When embedding 7 documents with batch size 3
	texts := []string{"a", "b", "c", "d", "e", "f", "g"}
	vecs, err := emb.EmbedDocuments(context.Background(), texts)

	// Then three sub-batches were sent and all vectors returned
	require.NoError(t, err)
	assert.Len(t, vecs, 7)
	assert.Equal(t, []int{3, 3, 1}, batchSizes)
}

func TestOllamaEmbedder_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{{1}}})
	}))
	defer srv.Close()

	emb := NewOllamaEmbedder(OllamaConfig{BaseURL: srv.URL})

	_, err := emb.EmbedDocuments(context.Background(), []string{"a", "b"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "count mismatch")
}

func TestRetry_TransientServerFault(t *testing.T) {
	// Given a server failing twice with 503 then succeeding
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(ollamaChatResponse{Message: Message{Content: "ok"}})
	}))
	defer srv.Close()

	llm := NewOllamaLLM(OllamaConfig{BaseURL: srv.URL})

	out, err := llm.Generate(context.Background(), "q", GenerateOptions{})

	// Then the third attempt succeeds
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetry_NoRetryOnBadRequest(t *testing.T) {
	// Given a server that always rejects with 400
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	llm := NewOllamaLLM(OllamaConfig{BaseURL: srv.URL})

	_, err := llm.Generate(context.Background(), "q", GenerateOptions{})

	// Then the error surfaces after a single attempt
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, errors.KindUnrecoverable, errors.KindOf(err))
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantKind  errors.Kind
		retryable bool
	}{
		{"rate limit", http.StatusTooManyRequests, errors.KindRateLimit, true},
		{"server fault", http.StatusBadGateway, errors.KindServerFault, true},
		{"client error", http.StatusUnauthorized, errors.KindUnrecoverable, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyStatus(tt.status, []byte("body"))
			assert.Equal(t, tt.wantKind, errors.KindOf(err))
			assert.Equal(t, tt.retryable, errors.IsRetryable(err))
		})
	}
}

func TestAnthropicLLM_SystemMessageLifted(t *testing.T) {
	// Given a Messages API server
	var gotReq anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		require.Equal(t, "test-key", r.Header.Get("x-api-key"))
		require.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(anthropicResponse{
			Content: []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			}{{Type: "text", Text: "answer"}},
		})
	}))
	defer srv.Close()

	llm, err := NewAnthropicLLM(AnthropicConfig{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)

	// When generating with a leading system message
	out, err := llm.GenerateMessages(context.Background(), []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
	}, GenerateOptions{})

	// Then the system message moved to the top-level field
	require.NoError(t, err)
	assert.Equal(t, "answer", out)
	assert.Equal(t, "be brief", gotReq.System)
	require.Len(t, gotReq.Messages, 1)
	assert.Equal(t, RoleUser, gotReq.Messages[0].Role)
}

func TestAnthropicLLM_Unconfigured(t *testing.T) {
	_, err := NewAnthropicLLM(AnthropicConfig{})

	require.Error(t, err)
	assert.Equal(t, errors.KindUnconfigured, errors.KindOf(err))
	assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")
}

func TestOpenAIEmbedder_OrderedByIndex(t *testing.T) {
	// Given a server returning embeddings out of order
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var req openaiEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := openaiEmbedResponse{}
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{Embedding: []float32{float32(i)}, Index: i})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	emb, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)

	vecs, err := emb.EmbedDocuments(context.Background(), []string{"a", "b", "c"})

	// Then vectors come back in input order
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, []float32{0}, vecs[0])
	assert.Equal(t, []float32{2}, vecs[2])
}

func TestOpenAILLM_Unconfigured(t *testing.T) {
	_, err := NewOpenAILLM(OpenAIConfig{})

	require.Error(t, err)
	assert.Equal(t, errors.KindUnconfigured, errors.KindOf(err))
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
}

func TestVertexLLM_GenerateContent(t *testing.T) {
	// Given a generateContent endpoint
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/projects/test-proj/locations/us-central1/")
		assert.Contains(t, r.URL.Path, ":generateContent")
		var req vertexGenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Contents, 1)
		resp := vertexGenerateResponse{}
		resp.Candidates = append(resp.Candidates, struct {
			Content vertexContent `json:"content"`
		}{Content: vertexContent{Role: "model", Parts: []vertexPart{{Text: "vertex answer"}}}})
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	llm, err := NewVertexLLM(VertexConfig{Project: "test-proj", BaseURL: srv.URL})
	require.NoError(t, err)

	out, err := llm.Generate(context.Background(), "q", GenerateOptions{})

	require.NoError(t, err)
	assert.Equal(t, "vertex answer", out)
}

func TestVertexLLM_Unconfigured(t *testing.T) {
	_, err := NewVertexLLM(VertexConfig{})

	require.Error(t, err)
	assert.Equal(t, errors.KindUnconfigured, errors.KindOf(err))
	assert.Contains(t, err.Error(), "GOOGLE_CLOUD_PROJECT")
}

func TestSubBatches(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		size  int
		wants []int
	}{
		{"exact multiple", 6, 3, []int{3, 3}},
		{"remainder", 7, 3, []int{3, 3, 1}},
		{"single batch", 2, 100, []int{2}},
		{"empty", 0, 3, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			texts := make([]string, tt.n)
			batches := subBatches(texts, tt.size)
			var sizes []int
			for _, b := range batches {
				sizes = append(sizes, len(b))
			}
			assert.Equal(t, tt.wants, sizes)
		})
	}
}
