// Package store persists workspace vector partitions. Each workspace
// owns a directory holding an HNSW graph file plus a gob sidecar with
// the ID mappings, chunk payloads, and source records. Saves are atomic
// and guarded by a file lock so concurrent processes never interleave
// writes.
package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
	"github.com/gofrs/flock"

	"github.com/nexus-rag/nexus/internal/errors"
	"github.com/nexus-rag/nexus/internal/loader"
)

const (
	// IndexFileName is the HNSW graph file inside a workspace partition.
	IndexFileName = "vectors.hnsw"
	// metaSuffix extends the index file name for the gob sidecar.
	metaSuffix = ".meta"
	// lockFileName guards cross-process saves.
	lockFileName = ".lock"
)

// Chunk is a stored document fragment with retrieval metadata.
type Chunk struct {
	ID      string
	Content string
	Source  string
	Page    int
	Ordinal int
}

// SearchResult is a chunk scored against a query vector.
type SearchResult struct {
	Chunk    Chunk
	Score    float32
	Distance float32
}

// Store is a single workspace's vector partition.
type Store struct {
	mu    sync.RWMutex
	dir   string
	graph *hnsw.Graph[uint64]

	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	chunks  map[string]Chunk
	sources map[string]loader.Source

	dimensions int
	closed     bool
}

// storeMetadata is the gob sidecar payload.
type storeMetadata struct {
	IDMap      map[string]uint64
	NextKey    uint64
	Dimensions int
	Chunks     map[string]Chunk
	Sources    map[string]loader.Source
}

func newGraph() *hnsw.Graph[uint64] {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25
	return graph
}

// Exists reports whether dir holds a populated partition.
func Exists(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, IndexFileName))
	return err == nil && !info.IsDir()
}

// Open loads the partition at dir, or creates an empty one when no
// index file exists yet.
func Open(dir string) (*Store, error) {
	s := &Store{
		dir:     dir,
		graph:   newGraph(),
		idMap:   make(map[string]uint64),
		keyMap:  make(map[uint64]string),
		chunks:  make(map[string]Chunk),
		sources: make(map[string]loader.Source),
	}

	if !Exists(dir) {
		return s, nil
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// ChunkID derives the stable identifier for a chunk position.
func ChunkID(source string, page, ordinal int) string {
	return fmt.Sprintf("%s:%d:%d", source, page, ordinal)
}

// AddChunks inserts chunks with their embeddings. Re-adding an existing
// ID replaces it via lazy deletion; the orphaned graph node stays but
// never surfaces in results.
func (s *Store) AddChunks(ctx context.Context, chunks []Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return errors.Newf(errors.KindInternal,
			"chunks and vectors length mismatch: %d vs %d", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New(errors.KindInternal, "store is closed", nil)
	}

	if s.dimensions == 0 {
		s.dimensions = len(vectors[0])
	}
	for _, v := range vectors {
		if len(v) != s.dimensions {
			return errors.Newf(errors.KindInternal,
				"vector dimension mismatch: expected %d, got %d", s.dimensions, len(v))
		}
	}

	for i, c := range chunks {
		if existingKey, exists := s.idMap[c.ID]; exists {
			delete(s.keyMap, existingKey)
			delete(s.idMap, c.ID)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeVectorInPlace(vec)

		s.graph.Add(hnsw.MakeNode(key, vec))

		s.idMap[c.ID] = key
		s.keyMap[key] = c.ID
		s.chunks[c.ID] = c
	}

	return nil
}

// PutSource records (or refreshes) a source file record.
func (s *Store) PutSource(src loader.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.sources[src.FilePath] = src
}

// Search returns the k nearest chunks in descending similarity order.
func (s *Store) Search(ctx context.Context, query []float32, k int) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errors.New(errors.KindInternal, "store is closed", nil)
	}
	if s.dimensions != 0 && len(query) != s.dimensions {
		return nil, errors.Newf(errors.KindInternal,
			"query dimension mismatch: expected %d, got %d", s.dimensions, len(query))
	}
	if s.graph.Len() == 0 {
		return []SearchResult{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeVectorInPlace(normalized)

	nodes := s.graph.Search(normalized, k)

	results := make([]SearchResult, 0, len(nodes))
	for _, node := range nodes {
		id, exists := s.keyMap[node.Key]
		if !exists {
			// Lazy-deleted orphan.
			continue
		}
		chunk, ok := s.chunks[id]
		if !ok {
			continue
		}

		distance := s.graph.Distance(normalized, node.Value)
		results = append(results, SearchResult{
			Chunk:    chunk,
			Distance: distance,
			Score:    1.0 - distance/2.0,
		})
	}

	return results, nil
}

// Count returns the number of live chunks.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return len(s.idMap)
}

// SourceCount returns the number of recorded source files.
func (s *Store) SourceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return len(s.sources)
}

// Sources returns the recorded source file records.
func (s *Store) Sources() []loader.Source {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	out := make([]loader.Source, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, src)
	}
	return out
}

// Dimensions returns the embedding dimensionality, 0 when empty.
func (s *Store) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimensions
}

// Save persists the partition atomically. A file lock serializes
// concurrent savers across processes.
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return errors.New(errors.KindInternal, "store is closed", nil)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create partition directory: %w", err)
	}

	lock := flock.New(filepath.Join(s.dir, lockFileName))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("acquire partition lock: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	indexPath := filepath.Join(s.dir, IndexFileName)

	tmpIndexPath := indexPath + ".tmp"
	file, err := os.Create(tmpIndexPath)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	if err := s.graph.Export(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpIndexPath)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpIndexPath)
		return fmt.Errorf("close index file: %w", err)
	}

	if err := s.saveMetadata(indexPath + metaSuffix); err != nil {
		_ = os.Remove(tmpIndexPath)
		return fmt.Errorf("save metadata: %w", err)
	}

	if err := os.Rename(tmpIndexPath, indexPath); err != nil {
		_ = os.Remove(tmpIndexPath)
		return fmt.Errorf("rename index file: %w", err)
	}

	return nil
}

func (s *Store) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}

	meta := storeMetadata{
		IDMap:      s.idMap,
		NextKey:    s.nextKey,
		Dimensions: s.dimensions,
		Chunks:     s.chunks,
		Sources:    s.sources,
	}

	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}

	return os.Rename(tmpPath, path)
}

func (s *Store) load() error {
	indexPath := filepath.Join(s.dir, IndexFileName)

	if err := s.loadMetadata(indexPath + metaSuffix); err != nil {
		return fmt.Errorf("load metadata: %w", err)
	}

	file, err := os.Open(indexPath)
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer func() { _ = file.Close() }()

	// coder/hnsw Import requires an io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}

	return nil
}

func (s *Store) loadMetadata(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var meta storeMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}

	s.idMap = meta.IDMap
	s.nextKey = meta.NextKey
	s.dimensions = meta.Dimensions
	s.chunks = meta.Chunks
	s.sources = meta.Sources
	if s.chunks == nil {
		s.chunks = make(map[string]Chunk)
	}
	if s.sources == nil {
		s.sources = make(map[string]loader.Source)
	}

	s.keyMap = make(map[uint64]string, len(s.idMap))
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}

	return nil
}

// Close releases the in-memory graph. The partition on disk is
// untouched; call Save first to persist pending writes.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}
