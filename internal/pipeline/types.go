package pipeline

import (
	"time"

	"github.com/nexus-rag/nexus/internal/errors"
	"github.com/nexus-rag/nexus/internal/loader"
)

// Question and result bounds for query requests.
const (
	MaxQuestionLength = 5000
	MinMaxResults     = 1
	MaxMaxResults     = 10
	DefaultMaxResults = 3

	// CitationDisplayLength bounds excerpt text in HTTP responses.
	// Full excerpts are only held in memory for redaction and hashing.
	CitationDisplayLength = 200
)

// DefaultWorkspace is used when a request omits the workspace id.
const DefaultWorkspace = "default"

// Citation is a retrieved chunk attributed to its source.
type Citation struct {
	Source         string  `json:"source"`
	Page           int     `json:"page,omitempty"`
	Excerpt        string  `json:"excerpt"`
	RelevanceScore float64 `json:"relevance_score"`
	ContentHash    string  `json:"content_hash"`
}

// QueryRequest asks a question against a workspace.
type QueryRequest struct {
	Question    string `json:"question"`
	WorkspaceID string `json:"workspace_id"`
	MaxResults  int    `json:"max_results"`
}

// Validate normalizes defaults and checks request bounds.
func (r *QueryRequest) Validate() error {
	if r.WorkspaceID == "" {
		r.WorkspaceID = DefaultWorkspace
	}
	if r.MaxResults == 0 {
		r.MaxResults = DefaultMaxResults
	}
	if n := len([]rune(r.Question)); n < 1 || n > MaxQuestionLength {
		return errors.Newf(errors.KindBadRequest,
			"question length must be between 1 and %d characters", MaxQuestionLength)
	}
	if r.MaxResults < MinMaxResults || r.MaxResults > MaxMaxResults {
		return errors.Newf(errors.KindBadRequest,
			"max_results must be between %d and %d", MinMaxResults, MaxMaxResults)
	}
	return nil
}

// QueryResponse is the answer to a query with its citations.
type QueryResponse struct {
	Question    string     `json:"question"`
	Answer      string     `json:"answer"`
	Citations   []Citation `json:"citations"`
	WorkspaceID string     `json:"workspace_id"`
	ModelUsed   string     `json:"model_used"`
	Provider    string     `json:"provider"`
	LatencyMs   float64    `json:"latency_ms"`
	RunID       string     `json:"run_id"`
	Timestamp   time.Time  `json:"timestamp"`

	// ExcerptHashes audit the full pre-truncation excerpts. The HTTP
	// layer stores them in the ledger; they are not part of the wire
	// response.
	ExcerptHashes []string `json:"-"`
}

// IndexRequest names documents to ingest into a workspace.
type IndexRequest struct {
	Paths        []string `json:"paths"`
	WorkspaceID  string   `json:"workspace_id"`
	ForceReindex bool     `json:"force_reindex"`
}

// Validate normalizes defaults and checks request bounds.
func (r *IndexRequest) Validate() error {
	if r.WorkspaceID == "" {
		r.WorkspaceID = DefaultWorkspace
	}
	if len(r.Paths) == 0 {
		return errors.New(errors.KindBadRequest, "paths must not be empty", nil)
	}
	return nil
}

// IndexResult reports an ingestion's outcome.
type IndexResult struct {
	WorkspaceID      string          `json:"workspace_id"`
	FilesProcessed   int             `json:"files_processed"`
	FilesSkipped     int             `json:"files_skipped"`
	TotalChunks      int             `json:"total_chunks"`
	ProcessingTimeMs float64         `json:"processing_time_ms"`
	DocumentSources  []loader.Source `json:"document_sources"`
}
