package docstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hashOf(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(Config{
		Path:      filepath.Join(t.TempDir(), "docqa.db"),
		Dimension: 3,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func testDoc(id, filename, content string) Document {
	return Document{
		ID:          id,
		Filename:    filename,
		FileType:    "txt",
		SizeBytes:   int64(len(content)),
		ContentHash: hashOf(content),
		UploadedAt:  time.Now().UTC(),
	}
}

func testChunk(position int, text string, embedding []float32) Chunk {
	return Chunk{
		ID:        hashOf(text),
		Position:  position,
		Text:      text,
		Locator:   fmt.Sprintf("page %d", position+1),
		Embedding: embedding,
	}
}

func Test_UpsertChunks_Idempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	doc := testDoc("d1", "report.txt", "report body")
	chunks := []Chunk{
		testChunk(0, "first chunk", []float32{1, 0, 0}),
		testChunk(1, "second chunk", []float32{0, 1, 0}),
	}

	require.NoError(t, s.UpsertChunks(ctx, doc, chunks))
	first, err := s.Stats(ctx)
	require.NoError(t, err)

	// Same bytes uploaded again under a different name: no new document, no
	// new chunks, no storage growth. Embeddings are omitted because the
	// records already exist.
	renamed := testDoc("d2", "copy-of-report.txt", "report body")
	for i := range chunks {
		chunks[i].Embedding = nil
	}
	require.NoError(t, s.UpsertChunks(ctx, renamed, chunks))

	second, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, second.Documents)
	assert.Equal(t, 2, second.Chunks)

	// The retry resolves to the original document id.
	found, err := s.FindDocumentByHash(ctx, doc.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, "d1", found.ID)
}

func Test_UpsertChunks_SharedChunkAcrossDocuments(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	shared := testChunk(0, "shared paragraph", []float32{1, 0, 0})
	require.NoError(t, s.UpsertChunks(ctx, testDoc("d1", "a.txt", "content a"), []Chunk{shared}))

	// Second document carries the same chunk text: record reused, only a
	// reference is added.
	dup := shared
	dup.Embedding = nil
	dup.Locator = "page 9"
	require.NoError(t, s.UpsertChunks(ctx, testDoc("d2", "b.txt", "content b"), []Chunk{dup}))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Documents)
	assert.Equal(t, 1, st.Chunks)

	// Deleting one owner keeps the record alive for the other.
	require.NoError(t, s.DeleteDocument(ctx, "d1"))
	st, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Documents)
	assert.Equal(t, 1, st.Chunks)

	// Citation now resolves through the surviving owner.
	res, err := s.Query(ctx, []float32{1, 0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "b.txt", res[0].File)
	assert.Equal(t, "page 9", res[0].Locator)

	// Deleting the last owner removes the record.
	require.NoError(t, s.DeleteDocument(ctx, "d2"))
	st, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Documents)
	assert.Equal(t, 0, st.Chunks)
}

func Test_UpsertChunks_MissingEmbedding(t *testing.T) {
	s := testStore(t)

	c := testChunk(0, "never seen before", nil)
	err := s.UpsertChunks(context.Background(), testDoc("d1", "a.txt", "content"), []Chunk{c})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func Test_UpsertChunks_DimensionMismatch(t *testing.T) {
	s := testStore(t)

	c := testChunk(0, "text", []float32{1, 2})
	err := s.UpsertChunks(context.Background(), testDoc("d1", "a.txt", "content"), []Chunk{c})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func Test_DeleteDocument_NotFound(t *testing.T) {
	s := testStore(t)
	assert.ErrorIs(t, s.DeleteDocument(context.Background(), "missing"), ErrNotFound)
}

func Test_DeleteDocument_NoOrphans(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertChunks(ctx, testDoc("d1", "a.txt", "content a"), []Chunk{
		testChunk(0, "one", []float32{1, 0, 0}),
		testChunk(1, "two", []float32{0, 1, 0}),
	}))
	require.NoError(t, s.DeleteDocument(ctx, "d1"))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Chunks)
	assert.Equal(t, int64(0), st.StorageBytes)
}

func Test_Query_TopKAndOrdering(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertChunks(ctx, testDoc("d1", "a.txt", "content"), []Chunk{
		testChunk(0, "exact match", []float32{1, 0, 0}),
		testChunk(1, "close match", []float32{1, 0.2, 0}),
		testChunk(2, "far away", []float32{0, 0, 1}),
	}))

	res, err := s.Query(ctx, []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "exact match", res[0].Text)
	assert.Equal(t, "close match", res[1].Text)
	assert.GreaterOrEqual(t, res[0].Score, res[1].Score)
	assert.Equal(t, "a.txt", res[0].File)
	assert.Equal(t, "page 1", res[0].Locator)

	// topK larger than the collection returns everything, still ordered.
	res, err = s.Query(ctx, []float32{1, 0, 0}, 50, nil)
	require.NoError(t, err)
	assert.Len(t, res, 3)
	for i := 1; i < len(res); i++ {
		assert.GreaterOrEqual(t, res[i-1].Score, res[i].Score)
	}
}

func Test_Query_StableTieBreak(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// Identical vectors with distinct texts: insertion order wins.
	require.NoError(t, s.UpsertChunks(ctx, testDoc("d1", "a.txt", "content"), []Chunk{
		testChunk(0, "inserted first", []float32{1, 0, 0}),
		testChunk(1, "inserted second", []float32{1, 0, 0}),
	}))

	res, err := s.Query(ctx, []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "inserted first", res[0].Text)
	assert.Equal(t, "inserted second", res[1].Text)
}

func Test_Query_InvalidArguments(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.Query(ctx, []float32{1, 0, 0}, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = s.Query(ctx, []float32{1, 0, 0}, -4, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = s.Query(ctx, []float32{1, 0}, 3, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func Test_Query_Filter(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	docA := testDoc("d1", "a.txt", "content a")
	docB := testDoc("d2", "b.md", "content b")
	docB.FileType = "md"

	require.NoError(t, s.UpsertChunks(ctx, docA, []Chunk{testChunk(0, "from txt", []float32{1, 0, 0})}))
	require.NoError(t, s.UpsertChunks(ctx, docB, []Chunk{testChunk(0, "from md", []float32{1, 0, 0})}))

	res, err := s.Query(ctx, []float32{1, 0, 0}, 10, &Filter{FileType: "md"})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "from md", res[0].Text)

	res, err = s.Query(ctx, []float32{1, 0, 0}, 10, &Filter{DocumentID: "d1"})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "from txt", res[0].Text)
}

func Test_Query_EmptyCollection(t *testing.T) {
	s := testStore(t)

	res, err := s.Query(context.Background(), []float32{1, 0, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func Test_ExistingChunkIDs(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	known := testChunk(0, "known", []float32{1, 0, 0})
	require.NoError(t, s.UpsertChunks(ctx, testDoc("d1", "a.txt", "content"), []Chunk{known}))

	existing, err := s.ExistingChunkIDs(ctx, []string{known.ID, hashOf("unknown")})
	require.NoError(t, err)
	assert.True(t, existing[known.ID])
	assert.False(t, existing[hashOf("unknown")])
}

func Test_Persistence_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docqa.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(Config{Path: path, Dimension: 3})
	require.NoError(t, err)
	require.NoError(t, s.UpsertChunks(ctx, testDoc("d1", "a.txt", "content"), []Chunk{
		testChunk(0, "persisted", []float32{0.5, 0.5, 0}),
	}))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(Config{Path: path, Dimension: 3})
	require.NoError(t, err)
	defer s.Close()

	res, err := s.Query(ctx, []float32{0.5, 0.5, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "persisted", res[0].Text)
	assert.InDelta(t, 1.0, res[0].Score, 1e-5)
}

func Test_Reset_WipesCollection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docqa.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(Config{Path: path, Dimension: 3})
	require.NoError(t, err)
	require.NoError(t, s.UpsertChunks(ctx, testDoc("d1", "a.txt", "content"), []Chunk{
		testChunk(0, "gone after reset", []float32{1, 0, 0}),
	}))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(Config{Path: path, Dimension: 3, Reset: true})
	require.NoError(t, err)
	defer s.Close()

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Documents)
	assert.Equal(t, 0, st.Chunks)
}

func Test_ListDocuments_OldestFirst(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	for i, name := range []string{"old.txt", "mid.txt", "new.txt"} {
		doc := testDoc(fmt.Sprintf("d%d", i), name, name)
		doc.UploadedAt = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, s.UpsertChunks(ctx, doc, []Chunk{
			testChunk(0, "chunk of "+name, []float32{1, 0, 0}),
		}))
	}

	docs, err := s.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "old.txt", docs[0].Filename)
	assert.Equal(t, "new.txt", docs[2].Filename)
}

func Test_Stats_CountsByType(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	docA := testDoc("d1", "a.txt", "content a")
	docB := testDoc("d2", "b.md", "content b")
	docB.FileType = "md"
	docC := testDoc("d3", "c.txt", "content c")

	require.NoError(t, s.UpsertChunks(ctx, docA, []Chunk{testChunk(0, "ca", []float32{1, 0, 0})}))
	require.NoError(t, s.UpsertChunks(ctx, docB, []Chunk{testChunk(0, "cb", []float32{0, 1, 0})}))
	require.NoError(t, s.UpsertChunks(ctx, docC, []Chunk{testChunk(0, "cc", []float32{0, 0, 1})}))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Documents)
	assert.Equal(t, 3, st.Chunks)
	assert.Equal(t, map[string]int{"txt": 2, "md": 1}, st.ByType)
	assert.Positive(t, st.StorageBytes)
}
