// Package server exposes the NEXUS HTTP surface: query and index
// operations, workspace management, run history, and health. It owns
// the workspace-to-pipeline map and the write-then-respond ledger
// contract.
package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nexus-rag/nexus/internal/config"
	"github.com/nexus-rag/nexus/internal/errors"
	"github.com/nexus-rag/nexus/internal/ledger"
	"github.com/nexus-rag/nexus/internal/pipeline"
	"github.com/nexus-rag/nexus/internal/provider"
	"github.com/nexus-rag/nexus/internal/router"
	"github.com/nexus-rag/nexus/pkg/version"
)

// Server is the HTTP surface over the RAG pipelines and the ledger.
type Server struct {
	cfg      *config.Config
	ledger   *ledger.Ledger
	logger   *slog.Logger
	engine   *gin.Engine
	llm      provider.LLM
	embedder provider.Embedder

	mu        sync.Mutex
	pipelines map[string]*pipeline.Pipeline

	startTime time.Time

	queryCount atomic.Int64
	// queryMicros accumulates query latency for the health average.
	queryMicros atomic.Int64
}

// New builds the server. Provider construction happens here so that
// misconfiguration surfaces at startup, not on the first request.
func New(cfg *config.Config, led *ledger.Ledger, logger *slog.Logger) (*Server, error) {
	llm, embedder, err := router.New(cfg).GetProviders()
	if err != nil {
		return nil, err
	}
	return newServer(cfg, led, logger, llm, embedder), nil
}

func newServer(cfg *config.Config, led *ledger.Ledger, logger *slog.Logger, llm provider.LLM, embedder provider.Embedder) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:       cfg,
		ledger:    led,
		logger:    logger,
		llm:       llm,
		embedder:  embedder,
		pipelines: make(map[string]*pipeline.Pipeline),
		startTime: time.Now(),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger())
	s.engine = engine
	s.registerRoutes()

	return s
}

// Engine returns the underlying gin engine, used by tests and Run.
func (s *Server) Engine() *gin.Engine { return s.engine }

// Run serves on the configured host and port until the listener fails.
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.APIHost, s.cfg.APIPort)
	s.logger.Info("server_listening", slog.String("addr", addr))
	return s.engine.Run(addr)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("http_request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)))
	}
}

func (s *Server) registerRoutes() {
	s.engine.GET("/", s.handleRoot)
	s.engine.GET("/health", s.handleHealth)
	s.engine.POST("/query", s.handleQuery)
	s.engine.POST("/index", s.handleIndex)
	s.engine.GET("/workspaces", s.handleListWorkspaces)
	s.engine.POST("/workspaces", s.handleCreateWorkspace)
	s.engine.GET("/runs", s.handleListRuns)
	s.engine.GET("/runs/:run_id", s.handleGetRun)
}

// getPipeline returns the workspace's pipeline, creating it on first
// use. Creation is serialized; lookups race freely on the map copy.
func (s *Server) getPipeline(workspaceID string) *pipeline.Pipeline {
	if workspaceID == "" {
		workspaceID = pipeline.DefaultWorkspace
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.pipelines[workspaceID]; ok {
		return p
	}
	p := pipeline.New(s.cfg, s.llm, s.embedder, workspaceID, s.logger)
	s.pipelines[workspaceID] = p
	return p
}

// statusForError maps error kinds to HTTP status codes.
func statusForError(err error) int {
	switch errors.KindOf(err) {
	case errors.KindBadRequest:
		return http.StatusBadRequest
	case errors.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) abortWithError(c *gin.Context, err error) {
	status := statusForError(err)
	if status >= 500 {
		s.logger.Error("request_failed",
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()))
	}
	c.JSON(status, gin.H{"detail": err.Error()})
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "NEXUS RAG API",
		"version": version.Short(),
		"status":  "operational",
		"endpoints": gin.H{
			"health":     "/health",
			"query":      "POST /query",
			"index":      "POST /index",
			"workspaces": "/workspaces",
			"runs":       "/runs",
		},
	})
}

// healthMetrics mirrors the counters block of the health payload.
type healthMetrics struct {
	CacheHitRate      float64 `json:"cache_hit_rate"`
	AvgQueryLatencyMs float64 `json:"avg_query_latency_ms"`
	TotalQueries      int64   `json:"total_queries"`
	MemoryMB          float64 `json:"memory_mb"`
}

type healthStatus struct {
	Status           string        `json:"status"`
	Mode             string        `json:"mode"`
	LLMProvider      string        `json:"llm_provider"`
	EmbedProvider    string        `json:"embed_provider"`
	VectorStoreReady bool          `json:"vector_store_ready"`
	DocumentsIndexed int           `json:"documents_indexed"`
	UptimeSeconds    float64       `json:"uptime_seconds"`
	Metrics          healthMetrics `json:"metrics"`
}

func (s *Server) handleHealth(c *gin.Context) {
	ready, _, documents := s.getPipeline(pipeline.DefaultWorkspace).Stats()

	queries := s.queryCount.Load()
	var avgLatencyMs float64
	if queries > 0 {
		avgLatencyMs = float64(s.queryMicros.Load()) / float64(queries) / 1000
	}

	var hitRate float64
	if cached, ok := s.embedder.(*provider.CachedEmbedder); ok {
		hitRate = cached.HitRate()
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	c.JSON(http.StatusOK, healthStatus{
		Status:           "healthy",
		Mode:             string(s.cfg.Mode),
		LLMProvider:      s.cfg.LLMProvider,
		EmbedProvider:    s.cfg.EmbedProvider,
		VectorStoreReady: ready,
		DocumentsIndexed: documents,
		UptimeSeconds:    time.Since(s.startTime).Seconds(),
		Metrics: healthMetrics{
			CacheHitRate:      hitRate,
			AvgQueryLatencyMs: avgLatencyMs,
			TotalQueries:      queries,
			MemoryMB:          float64(mem.Alloc) / (1024 * 1024),
		},
	})
}

func (s *Server) handleQuery(c *gin.Context) {
	var req pipeline.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortWithError(c, errors.Wrap(errors.KindBadRequest, err))
		return
	}
	if err := req.Validate(); err != nil {
		s.abortWithError(c, err)
		return
	}

	resp, err := s.getPipeline(req.WorkspaceID).Query(c.Request.Context(), req)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	// Ledger row is durable before the response goes out.
	if err := s.ledger.RecordQueryRun(ledger.QueryRun{
		RunID:         resp.RunID,
		WorkspaceID:   resp.WorkspaceID,
		Timestamp:     ledger.FormatTimestamp(resp.Timestamp),
		Question:      resp.Question,
		Answer:        resp.Answer,
		ModelUsed:     resp.ModelUsed,
		Provider:      resp.Provider,
		LatencyMs:     resp.LatencyMs,
		CitationCount: len(resp.Citations),
		ExcerptHashes: resp.ExcerptHashes,
	}); err != nil {
		s.abortWithError(c, err)
		return
	}

	s.queryCount.Add(1)
	s.queryMicros.Add(int64(resp.LatencyMs * 1000))
	c.JSON(http.StatusOK, resp)
}

// indexResponse is an IndexResult plus the ledger's minted run id.
type indexResponse struct {
	pipeline.IndexResult
	RunID string `json:"run_id"`
}

func (s *Server) handleIndex(c *gin.Context) {
	var req pipeline.IndexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortWithError(c, errors.Wrap(errors.KindBadRequest, err))
		return
	}
	if err := req.Validate(); err != nil {
		s.abortWithError(c, err)
		return
	}

	result, err := s.getPipeline(req.WorkspaceID).IndexDocuments(c.Request.Context(), req)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	runID, err := s.ledger.RecordIndexRun(ledger.IndexRun{
		WorkspaceID:      result.WorkspaceID,
		FilesProcessed:   result.FilesProcessed,
		FilesSkipped:     result.FilesSkipped,
		TotalChunks:      result.TotalChunks,
		ProcessingTimeMs: result.ProcessingTimeMs,
		DocumentSources:  result.DocumentSources,
		EmbedProvider:    s.embedder.BackendTag(),
	})
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, indexResponse{IndexResult: result, RunID: runID})
}

type workspaceInfo struct {
	WorkspaceID   string                `json:"workspace_id"`
	PartitionPath string                `json:"partition_path"`
	Stats         ledger.WorkspaceStats `json:"stats"`
}

func (s *Server) handleListWorkspaces(c *gin.Context) {
	entries, err := os.ReadDir(s.cfg.ChromaPath)
	if err != nil && !os.IsNotExist(err) {
		s.abortWithError(c, err)
		return
	}

	workspaces := []workspaceInfo{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		stats, err := s.ledger.GetWorkspaceStats(entry.Name())
		if err != nil {
			s.abortWithError(c, err)
			return
		}
		workspaces = append(workspaces, workspaceInfo{
			WorkspaceID:   entry.Name(),
			PartitionPath: s.cfg.WorkspacePath(entry.Name()),
			Stats:         stats,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"workspaces": workspaces,
		"total":      len(workspaces),
	})
}

func (s *Server) handleCreateWorkspace(c *gin.Context) {
	workspaceID := c.Query("workspace_id")
	if workspaceID == "" {
		s.abortWithError(c, errors.New(errors.KindBadRequest,
			"workspace_id query parameter is required", nil))
		return
	}

	p := s.getPipeline(workspaceID)
	if err := os.MkdirAll(p.PartitionDir(), 0o755); err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"workspace_id":   workspaceID,
		"partition_path": p.PartitionDir(),
	})
}

func (s *Server) handleListRuns(c *gin.Context) {
	workspaceID := c.Query("workspace_id")
	runType := c.DefaultQuery("run_type", "all")
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil {
			s.abortWithError(c, errors.New(errors.KindBadRequest, "limit must be an integer", nil))
			return
		}
	}

	runs, err := s.ledger.ListRuns(workspaceID, runType, limit)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, runs)
}

func (s *Server) handleGetRun(c *gin.Context) {
	runID := c.Param("run_id")

	run, found, err := s.ledger.GetRun(runID)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	if !found {
		s.abortWithError(c, errors.Newf(errors.KindNotFound, "run not found: %s", runID))
		return
	}

	c.JSON(http.StatusOK, run)
}
