package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-rag/nexus/internal/loader"
)

func testChunks() ([]Chunk, [][]float32) {
	chunks := []Chunk{
		{ID: ChunkID("a.txt", 0, 0), Content: "alpha content", Source: "a.txt", Ordinal: 0},
		{ID: ChunkID("a.txt", 0, 1), Content: "beta content", Source: "a.txt", Ordinal: 1},
		{ID: ChunkID("b.pdf", 2, 0), Content: "gamma content", Source: "b.pdf", Page: 2, Ordinal: 0},
	}
	vectors := [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
	}
	return chunks, vectors
}

func TestOpen_EmptyPartition(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ws1")

	s, err := Open(dir)

	require.NoError(t, err)
	assert.Equal(t, 0, s.Count())
	assert.False(t, Exists(dir))
}

func TestAddAndSearch(t *testing.T) {
	// Given a store with three orthogonal vectors
	s, err := Open(filepath.Join(t.TempDir(), "ws"))
	require.NoError(t, err)
	chunks, vectors := testChunks()
	require.NoError(t, s.AddChunks(context.Background(), chunks, vectors))

	// When searching near the first vector
	results, err := s.Search(context.Background(), []float32{0.9, 0.1, 0}, 2)

	// Then the closest chunk comes first with the highest score
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "alpha content", results[0].Chunk.Content)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestAddChunks_LengthMismatch(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "ws"))
	require.NoError(t, err)

	err = s.AddChunks(context.Background(), []Chunk{{ID: "x"}}, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "length mismatch")
}

func TestAddChunks_DimensionMismatch(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "ws"))
	require.NoError(t, err)
	chunks, vectors := testChunks()
	require.NoError(t, s.AddChunks(context.Background(), chunks, vectors))

	err = s.AddChunks(context.Background(), []Chunk{{ID: "y"}}, [][]float32{{1, 2}})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension mismatch")
}

func TestAddChunks_ReplaceExisting(t *testing.T) {
	// Given a chunk already stored
	s, err := Open(filepath.Join(t.TempDir(), "ws"))
	require.NoError(t, err)
	id := ChunkID("a.txt", 0, 0)
	require.NoError(t, s.AddChunks(context.Background(),
		[]Chunk{{ID: id, Content: "old", Source: "a.txt"}}, [][]float32{{1, 0}}))

	// When re-adding the same ID with new content
	require.NoError(t, s.AddChunks(context.Background(),
		[]Chunk{{ID: id, Content: "new", Source: "a.txt"}}, [][]float32{{1, 0}}))

	// Then the count stays at one and search sees the new payload
	assert.Equal(t, 1, s.Count())
	results, err := s.Search(context.Background(), []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new", results[0].Chunk.Content)
}

func TestSearch_EmptyStore(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "ws"))
	require.NoError(t, err)

	results, err := s.Search(context.Background(), []float32{1, 0, 0}, 3)

	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSaveAndReopen(t *testing.T) {
	// Given a populated and saved partition
	dir := filepath.Join(t.TempDir(), "ws")
	s, err := Open(dir)
	require.NoError(t, err)
	chunks, vectors := testChunks()
	require.NoError(t, s.AddChunks(context.Background(), chunks, vectors))
	s.PutSource(loader.Source{
		FilePath:  "a.txt",
		FileHash:  "abc123",
		IndexedAt: time.Now(),
	})
	require.NoError(t, s.Save())
	require.NoError(t, s.Close())
	assert.True(t, Exists(dir))

	// When reopening from disk
	reopened, err := Open(dir)
	require.NoError(t, err)

	// Then chunks, sources, and search survive the round trip
	assert.Equal(t, 3, reopened.Count())
	assert.Equal(t, 1, reopened.SourceCount())
	assert.Equal(t, 3, reopened.Dimensions())

	results, err := reopened.Search(context.Background(), []float32{0, 0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "gamma content", results[0].Chunk.Content)
	assert.Equal(t, 2, results[0].Chunk.Page)
}

func TestAppendAfterReopen(t *testing.T) {
	// Given a saved partition
	dir := filepath.Join(t.TempDir(), "ws")
	s, err := Open(dir)
	require.NoError(t, err)
	chunks, vectors := testChunks()
	require.NoError(t, s.AddChunks(context.Background(), chunks, vectors))
	require.NoError(t, s.Save())
	require.NoError(t, s.Close())

	// When reopening and appending more chunks
	reopened, err := Open(dir)
	require.NoError(t, err)
	err = reopened.AddChunks(context.Background(),
		[]Chunk{{ID: ChunkID("c.md", 0, 0), Content: "delta content", Source: "c.md"}},
		[][]float32{{0.5, 0.5, 0}})
	require.NoError(t, err)

	// Then the partition grows without disturbing earlier chunks
	assert.Equal(t, 4, reopened.Count())
	results, err := reopened.Search(context.Background(), []float32{0.5, 0.5, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "delta content", results[0].Chunk.Content)
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "ws"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.Error(t, s.AddChunks(context.Background(), []Chunk{{ID: "x"}}, [][]float32{{1}}))
	_, err = s.Search(context.Background(), []float32{1}, 1)
	assert.Error(t, err)
	assert.Error(t, s.Save())
	assert.Equal(t, 0, s.Count())

	// Close is idempotent
	assert.NoError(t, s.Close())
}

func TestChunkID(t *testing.T) {
	assert.Equal(t, "doc.pdf:3:7", ChunkID("doc.pdf", 3, 7))
}
