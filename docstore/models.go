package docstore

import (
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("document not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrStoreIO         = errors.New("store I/O failure")
)

// Document is one uploaded file. Immutable once created; re-uploading
// changed content creates a new document.
type Document struct {
	ID          string
	Filename    string
	FileType    string
	SizeBytes   int64
	ContentHash string
	UploadedAt  time.Time
}

// Chunk is the unit of embedding and retrieval. ID is the hex SHA-256 of
// Text, so byte-identical content maps to the same record regardless of
// which document carries it. Embedding may be empty on upsert when the
// record already exists in the collection.
type Chunk struct {
	ID         string
	Position   int
	TokenStart int
	TokenEnd   int
	Text       string
	Locator    string
	Embedding  []float32
}

// SearchResult is a retrieved chunk with its similarity score and the
// citation metadata of its oldest surviving owner.
type SearchResult struct {
	ChunkID string
	Text    string
	Score   float32
	File    string
	Locator string
}

// Filter restricts a query to chunks owned by a matching document.
type Filter struct {
	DocumentID string
	FileType   string
}

// Stats is collection metadata recomputed from live records.
type Stats struct {
	Documents    int
	Chunks       int
	ByType       map[string]int
	StorageBytes int64
}
