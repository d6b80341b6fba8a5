// Package loader reads ingestible files and records document-source
// metadata. Supported formats: plain text (.txt), markdown (.md), and
// PDF (.pdf, extracted page by page).
package loader

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
)

// Document is raw loaded content before chunking.
type Document struct {
	// Text is the extracted content.
	Text string
	// Source is the originating file path.
	Source string
	// Page is the 1-based page number for paged formats; 0 otherwise.
	Page int
}

// Source is the immutable metadata recorded per ingested file.
type Source struct {
	FilePath  string    `json:"file_path"`
	FileHash  string    `json:"file_hash"`
	FileMtime float64   `json:"file_mtime"`
	IndexedAt time.Time `json:"indexed_at"`
}

// supportedExtensions are the formats the loader can dispatch.
var supportedExtensions = map[string]bool{
	".pdf": true,
	".txt": true,
	".md":  true,
}

// Supported reports whether the file's extension has a loader.
func Supported(path string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(path))]
}

// Load reads a file and returns its documents. PDFs yield one document
// per page; text formats yield a single document with page 0.
func Load(path string) ([]Document, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return loadPDF(path)
	case ".txt", ".md":
		return loadText(path)
	default:
		return nil, fmt.Errorf("unsupported file extension: %s", filepath.Ext(path))
	}
}

// NewSource builds the document-source record for a file: content digest
// of the raw bytes, filesystem mtime, and the ingestion timestamp.
func NewSource(path string) (Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Source{}, fmt.Errorf("read %s: %w", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return Source{}, fmt.Errorf("stat %s: %w", path, err)
	}

	sum := sha256.Sum256(data)
	return Source{
		FilePath:  path,
		FileHash:  hex.EncodeToString(sum[:]),
		FileMtime: float64(info.ModTime().UnixMicro()) / 1e6,
		IndexedAt: time.Now().UTC(),
	}, nil
}

func loadText(path string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return []Document{{Text: string(data), Source: path}}, nil
}

func loadPDF(path string) ([]Document, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer file.Close()

	var docs []Document
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract pdf %s page %d: %w", path, i, err)
		}
		docs = append(docs, Document{Text: text, Source: path, Page: i})
	}

	return docs, nil
}
