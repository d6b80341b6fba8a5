// Package ledger records the audit trail of index and query runs in
// SQLite. Every operation that touches documents or sends snippets to a
// provider leaves a row here, including the excerpt hashes produced by
// policy redaction.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nexus-rag/nexus/internal/loader"
)

// timeFormat matches ISO-8601 with microsecond precision, sortable as text.
const timeFormat = "2006-01-02T15:04:05.000000"

// Truncation bounds for stored query text.
const (
	maxStoredQuestion = 500
	maxStoredAnswer   = 2000
)

// IndexRun is a recorded document indexing operation.
type IndexRun struct {
	RunID            string          `json:"run_id"`
	WorkspaceID      string          `json:"workspace_id"`
	Timestamp        string          `json:"timestamp"`
	FilesProcessed   int             `json:"files_processed"`
	FilesSkipped     int             `json:"files_skipped"`
	TotalChunks      int             `json:"total_chunks"`
	ProcessingTimeMs float64         `json:"processing_time_ms"`
	DocumentSources  []loader.Source `json:"document_sources"`
	EmbedProvider    string          `json:"embed_provider"`
	RunType          string          `json:"run_type,omitempty"`
}

// QueryRun is a recorded query operation.
type QueryRun struct {
	RunID         string   `json:"run_id"`
	WorkspaceID   string   `json:"workspace_id"`
	Timestamp     string   `json:"timestamp"`
	Question      string   `json:"question"`
	Answer        string   `json:"answer"`
	MaxResults    int      `json:"max_results"`
	ModelUsed     string   `json:"model_used"`
	Provider      string   `json:"provider"`
	LatencyMs     float64  `json:"latency_ms"`
	CitationCount int      `json:"citation_count"`
	ExcerptHashes []string `json:"excerpt_hashes"`
	RunType       string   `json:"run_type,omitempty"`
}

// WorkspaceStats aggregates a workspace's run history.
type WorkspaceStats struct {
	WorkspaceID string `json:"workspace_id"`
	IndexRuns   struct {
		Total               int     `json:"total"`
		TotalFiles          int     `json:"total_files"`
		TotalChunks         int     `json:"total_chunks"`
		AvgProcessingTimeMs float64 `json:"avg_processing_time_ms"`
	} `json:"index_runs"`
	QueryRuns struct {
		Total        int     `json:"total"`
		AvgLatencyMs float64 `json:"avg_latency_ms"`
		AvgCitations float64 `json:"avg_citations"`
	} `json:"query_runs"`
}

// Ledger is the SQLite run ledger.
type Ledger struct {
	db *sql.DB

	// now is swappable for tests.
	now func() time.Time
}

// Open creates or opens the ledger database at path.
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}

	// Single writer to prevent lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL mode must be set via PRAGMA for modernc.org/sqlite.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	l := &Ledger{db: db, now: time.Now}
	if err := l.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS index_runs (
			run_id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			files_processed INTEGER NOT NULL,
			files_skipped INTEGER NOT NULL,
			total_chunks INTEGER NOT NULL,
			processing_time_ms REAL NOT NULL,
			document_sources TEXT NOT NULL,
			embed_provider TEXT NOT NULL,
			created_at TEXT DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS query_runs (
			run_id TEXT PRIMARY KEY,
			workspace_id TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			question TEXT NOT NULL,
			answer TEXT NOT NULL,
			max_results INTEGER NOT NULL,
			model_used TEXT NOT NULL,
			provider TEXT NOT NULL,
			latency_ms REAL NOT NULL,
			citation_count INTEGER NOT NULL,
			excerpt_hashes TEXT NOT NULL,
			created_at TEXT DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_index_workspace
			ON index_runs(workspace_id, timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_query_workspace
			ON query_runs(workspace_id, timestamp DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := l.db.Exec(stmt); err != nil {
			return fmt.Errorf("init ledger schema: %w", err)
		}
	}
	return nil
}

// RecordIndexRun writes an index run and returns its generated run id.
func (l *Ledger) RecordIndexRun(run IndexRun) (string, error) {
	now := l.now()
	runID := fmt.Sprintf("idx_%s_%s_%06d",
		run.WorkspaceID, now.Format("20060102_150405"), now.Nanosecond()/1000)

	sources := run.DocumentSources
	if sources == nil {
		sources = []loader.Source{}
	}
	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return "", fmt.Errorf("marshal document sources: %w", err)
	}

	_, err = l.db.Exec(`
		INSERT INTO index_runs (
			run_id, workspace_id, timestamp,
			files_processed, files_skipped, total_chunks,
			processing_time_ms, document_sources, embed_provider
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID,
		run.WorkspaceID,
		now.Format(timeFormat),
		run.FilesProcessed,
		run.FilesSkipped,
		run.TotalChunks,
		run.ProcessingTimeMs,
		string(sourcesJSON),
		run.EmbedProvider,
	)
	if err != nil {
		return "", fmt.Errorf("record index run: %w", err)
	}
	return runID, nil
}

// RecordQueryRun writes a query run under its existing run id. Question
// and answer text are truncated to keep the ledger bounded; max_results
// stores the citation count actually returned.
func (l *Ledger) RecordQueryRun(run QueryRun) error {
	hashes := run.ExcerptHashes
	if hashes == nil {
		hashes = []string{}
	}
	hashesJSON, err := json.Marshal(hashes)
	if err != nil {
		return fmt.Errorf("marshal excerpt hashes: %w", err)
	}

	_, err = l.db.Exec(`
		INSERT INTO query_runs (
			run_id, workspace_id, timestamp,
			question, answer, max_results,
			model_used, provider, latency_ms,
			citation_count, excerpt_hashes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID,
		run.WorkspaceID,
		run.Timestamp,
		truncateRunes(run.Question, maxStoredQuestion),
		truncateRunes(run.Answer, maxStoredAnswer),
		run.CitationCount,
		run.ModelUsed,
		run.Provider,
		run.LatencyMs,
		run.CitationCount,
		string(hashesJSON),
	)
	if err != nil {
		return fmt.Errorf("record query run: %w", err)
	}
	return nil
}

// RunList holds both run types from a listing.
type RunList struct {
	IndexRuns []IndexRun `json:"index_runs"`
	QueryRuns []QueryRun `json:"query_runs"`
}

// ListRuns returns recent runs newest first. workspaceID empty means
// all workspaces; runType is "index", "query", or "all".
func (l *Ledger) ListRuns(workspaceID, runType string, limit int) (RunList, error) {
	if limit <= 0 {
		limit = 100
	}
	result := RunList{IndexRuns: []IndexRun{}, QueryRuns: []QueryRun{}}

	if runType == "index" || runType == "all" {
		runs, err := l.listIndexRuns(workspaceID, limit)
		if err != nil {
			return result, err
		}
		result.IndexRuns = runs
	}
	if runType == "query" || runType == "all" {
		runs, err := l.listQueryRuns(workspaceID, limit)
		if err != nil {
			return result, err
		}
		result.QueryRuns = runs
	}
	return result, nil
}

func (l *Ledger) listIndexRuns(workspaceID string, limit int) ([]IndexRun, error) {
	query := `SELECT run_id, workspace_id, timestamp, files_processed, files_skipped,
		total_chunks, processing_time_ms, document_sources, embed_provider
		FROM index_runs`
	args := []any{}
	if workspaceID != "" {
		query += " WHERE workspace_id = ?"
		args = append(args, workspaceID)
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list index runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	runs := []IndexRun{}
	for rows.Next() {
		var run IndexRun
		var sourcesJSON string
		if err := rows.Scan(&run.RunID, &run.WorkspaceID, &run.Timestamp,
			&run.FilesProcessed, &run.FilesSkipped, &run.TotalChunks,
			&run.ProcessingTimeMs, &sourcesJSON, &run.EmbedProvider); err != nil {
			return nil, fmt.Errorf("scan index run: %w", err)
		}
		if err := json.Unmarshal([]byte(sourcesJSON), &run.DocumentSources); err != nil {
			return nil, fmt.Errorf("decode document sources: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (l *Ledger) listQueryRuns(workspaceID string, limit int) ([]QueryRun, error) {
	query := `SELECT run_id, workspace_id, timestamp, question, answer, max_results,
		model_used, provider, latency_ms, citation_count, excerpt_hashes
		FROM query_runs`
	args := []any{}
	if workspaceID != "" {
		query += " WHERE workspace_id = ?"
		args = append(args, workspaceID)
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	runs := []QueryRun{}
	for rows.Next() {
		run, err := scanQueryRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanQueryRun(rows *sql.Rows) (QueryRun, error) {
	var run QueryRun
	var hashesJSON string
	if err := rows.Scan(&run.RunID, &run.WorkspaceID, &run.Timestamp,
		&run.Question, &run.Answer, &run.MaxResults,
		&run.ModelUsed, &run.Provider, &run.LatencyMs,
		&run.CitationCount, &hashesJSON); err != nil {
		return run, fmt.Errorf("scan query run: %w", err)
	}
	if err := json.Unmarshal([]byte(hashesJSON), &run.ExcerptHashes); err != nil {
		return run, fmt.Errorf("decode excerpt hashes: %w", err)
	}
	return run, nil
}

// GetRun fetches one run by id, checking index runs before query runs.
// The second return value is false when no run matches.
func (l *Ledger) GetRun(runID string) (any, bool, error) {
	indexRuns, err := l.listIndexRunsByID(runID)
	if err != nil {
		return nil, false, err
	}
	if len(indexRuns) > 0 {
		run := indexRuns[0]
		run.RunType = "index"
		return run, true, nil
	}

	queryRuns, err := l.listQueryRunsByID(runID)
	if err != nil {
		return nil, false, err
	}
	if len(queryRuns) > 0 {
		run := queryRuns[0]
		run.RunType = "query"
		return run, true, nil
	}

	return nil, false, nil
}

func (l *Ledger) listIndexRunsByID(runID string) ([]IndexRun, error) {
	rows, err := l.db.Query(`SELECT run_id, workspace_id, timestamp, files_processed,
		files_skipped, total_chunks, processing_time_ms, document_sources, embed_provider
		FROM index_runs WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("get index run: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []IndexRun
	for rows.Next() {
		var run IndexRun
		var sourcesJSON string
		if err := rows.Scan(&run.RunID, &run.WorkspaceID, &run.Timestamp,
			&run.FilesProcessed, &run.FilesSkipped, &run.TotalChunks,
			&run.ProcessingTimeMs, &sourcesJSON, &run.EmbedProvider); err != nil {
			return nil, fmt.Errorf("scan index run: %w", err)
		}
		if err := json.Unmarshal([]byte(sourcesJSON), &run.DocumentSources); err != nil {
			return nil, fmt.Errorf("decode document sources: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (l *Ledger) listQueryRunsByID(runID string) ([]QueryRun, error) {
	rows, err := l.db.Query(`SELECT run_id, workspace_id, timestamp, question, answer,
		max_results, model_used, provider, latency_ms, citation_count, excerpt_hashes
		FROM query_runs WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("get query run: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []QueryRun
	for rows.Next() {
		run, err := scanQueryRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetWorkspaceStats aggregates run history for a workspace.
func (l *Ledger) GetWorkspaceStats(workspaceID string) (WorkspaceStats, error) {
	stats := WorkspaceStats{WorkspaceID: workspaceID}

	var totalFiles, totalChunks sql.NullInt64
	var avgProcessing sql.NullFloat64
	err := l.db.QueryRow(`SELECT COUNT(*), SUM(files_processed), SUM(total_chunks),
		AVG(processing_time_ms) FROM index_runs WHERE workspace_id = ?`, workspaceID).
		Scan(&stats.IndexRuns.Total, &totalFiles, &totalChunks, &avgProcessing)
	if err != nil {
		return stats, fmt.Errorf("index run stats: %w", err)
	}
	stats.IndexRuns.TotalFiles = int(totalFiles.Int64)
	stats.IndexRuns.TotalChunks = int(totalChunks.Int64)
	stats.IndexRuns.AvgProcessingTimeMs = avgProcessing.Float64

	var avgLatency, avgCitations sql.NullFloat64
	err = l.db.QueryRow(`SELECT COUNT(*), AVG(latency_ms), AVG(citation_count)
		FROM query_runs WHERE workspace_id = ?`, workspaceID).
		Scan(&stats.QueryRuns.Total, &avgLatency, &avgCitations)
	if err != nil {
		return stats, fmt.Errorf("query run stats: %w", err)
	}
	stats.QueryRuns.AvgLatencyMs = avgLatency.Float64
	stats.QueryRuns.AvgCitations = avgCitations.Float64

	return stats, nil
}

// CleanupOldRuns deletes runs older than the given number of days and
// returns how many rows were removed.
func (l *Ledger) CleanupOldRuns(days int) (int, error) {
	cutoff := l.now().AddDate(0, 0, -days).Format(timeFormat)

	res, err := l.db.Exec("DELETE FROM index_runs WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup index runs: %w", err)
	}
	indexDeleted, _ := res.RowsAffected()

	res, err = l.db.Exec("DELETE FROM query_runs WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup query runs: %w", err)
	}
	queryDeleted, _ := res.RowsAffected()

	return int(indexDeleted + queryDeleted), nil
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// FormatTimestamp renders t in the ledger's ISO-8601 layout.
func FormatTimestamp(t time.Time) string {
	return t.Format(timeFormat)
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
