// Package docstore persists chunk records with their embeddings and answers
// similarity queries over them. Chunk records are keyed by the content hash
// of their text, so byte-identical content is stored at most once no matter
// how many documents carry it; per-document ownership lives in a separate
// reference table and a record is physically removed only when its last
// owner is deleted.
package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id           TEXT PRIMARY KEY,
	filename     TEXT NOT NULL,
	file_type    TEXT NOT NULL,
	size_bytes   INTEGER NOT NULL,
	content_hash TEXT NOT NULL UNIQUE,
	uploaded_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	id        TEXT PRIMARY KEY,
	text      TEXT NOT NULL,
	embedding BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS chunk_refs (
	document_id TEXT NOT NULL REFERENCES documents(id),
	chunk_id    TEXT NOT NULL REFERENCES chunks(id),
	position    INTEGER NOT NULL,
	token_start INTEGER NOT NULL,
	token_end   INTEGER NOT NULL,
	locator     TEXT NOT NULL,
	PRIMARY KEY (document_id, position)
);

CREATE INDEX IF NOT EXISTS idx_chunk_refs_chunk ON chunk_refs(chunk_id);
`

type Config struct {
	Path      string
	Dimension int
	Reset     bool
}

// SQLiteStore is the single serialization point for the collection:
// structural mutations take the exclusive lock, queries and stats take the
// shared lock. Each mutation additionally runs in one SQLite transaction so
// a crash mid-batch never leaves a half-written document behind a committed
// state.
type SQLiteStore struct {
	mu  sync.RWMutex
	db  *sql.DB
	dim int
}

func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: embedding dimension must be positive, got %d", ErrInvalidArgument, cfg.Dimension)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating data directory: %v", ErrStoreIO, err)
	}

	db, err := sql.Open("sqlite", cfg.Path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", ErrStoreIO, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: creating schema: %v", ErrStoreIO, err)
	}

	s := &SQLiteStore{db: db, dim: cfg.Dimension}
	if cfg.Reset {
		if err := s.DeleteAll(context.Background()); err != nil {
			db.Close()
			return nil, err
		}
	}

	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Dimension reports the fixed embedding dimension of the collection.
func (s *SQLiteStore) Dimension() int {
	return s.dim
}

// UpsertChunks atomically records doc and its chunk sequence. A chunk whose
// content hash already exists anywhere in the collection is not rewritten
// and needs no embedding; it only gains a reference row for doc. Re-running
// the call with identical content is a no-op, which is what makes a
// crashed partial upload converge on retry.
func (s *SQLiteStore) UpsertChunks(ctx context.Context, doc Document, chunks []Chunk) error {
	for _, c := range chunks {
		if len(c.Embedding) > 0 && len(c.Embedding) != s.dim {
			return fmt.Errorf("%w: chunk %s embedding dimension %d, collection uses %d",
				ErrInvalidArgument, c.ID, len(c.Embedding), s.dim)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %v", ErrStoreIO, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO documents (id, filename, file_type, size_bytes, content_hash, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.Filename, doc.FileType, doc.SizeBytes, doc.ContentHash, doc.UploadedAt); err != nil {
		return fmt.Errorf("%w: saving document: %v", ErrStoreIO, err)
	}

	// The content hash is unique across documents; when the same bytes were
	// already uploaded under another id, references attach to that owner.
	var ownerID string
	if err := tx.QueryRowContext(ctx,
		`SELECT id FROM documents WHERE content_hash = ?`, doc.ContentHash).Scan(&ownerID); err != nil {
		return fmt.Errorf("%w: resolving document owner: %v", ErrStoreIO, err)
	}

	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			var one int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM chunks WHERE id = ?`, c.ID).Scan(&one)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: chunk %s has no embedding and no existing record", ErrInvalidArgument, c.ID)
			}
			if err != nil {
				return fmt.Errorf("%w: checking chunk %s: %v", ErrStoreIO, c.ID, err)
			}
		} else {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO chunks (id, text, embedding) VALUES (?, ?, ?)
			`, c.ID, c.Text, float32SliceToBytes(c.Embedding)); err != nil {
				return fmt.Errorf("%w: saving chunk %s: %v", ErrStoreIO, c.ID, err)
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO chunk_refs (document_id, chunk_id, position, token_start, token_end, locator)
			VALUES (?, ?, ?, ?, ?, ?)
		`, ownerID, c.ID, c.Position, c.TokenStart, c.TokenEnd, c.Locator); err != nil {
			return fmt.Errorf("%w: saving chunk reference %s: %v", ErrStoreIO, c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing upsert: %v", ErrStoreIO, err)
	}

	return nil
}

// DeleteDocument removes the document, its references, and every chunk
// record left without an owner. Chunks still referenced by another live
// document are retained.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %v", ErrStoreIO, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, documentID)
	if err != nil {
		return fmt.Errorf("%w: deleting document: %v", ErrStoreIO, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, documentID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunk_refs WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("%w: deleting chunk references: %v", ErrStoreIO, err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM chunks WHERE id NOT IN (SELECT DISTINCT chunk_id FROM chunk_refs)
	`); err != nil {
		return fmt.Errorf("%w: deleting orphan chunks: %v", ErrStoreIO, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing delete: %v", ErrStoreIO, err)
	}

	return nil
}

// DeleteAll wipes every document, reference, and chunk record.
func (s *SQLiteStore) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %v", ErrStoreIO, err)
	}
	defer tx.Rollback()

	for _, table := range []string{"chunk_refs", "chunks", "documents"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("%w: clearing %s: %v", ErrStoreIO, table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing wipe: %v", ErrStoreIO, err)
	}

	return nil
}

type scoredChunk struct {
	rowid int64
	id    string
	text  string
	score float32
}

// Query returns at most topK chunks ranked by descending cosine similarity
// to vector; ties break by insertion order. Each result carries the
// filename and locator of the chunk's oldest surviving owner.
func (s *SQLiteStore) Query(ctx context.Context, vector []float32, topK int, filter *Filter) ([]SearchResult, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", ErrInvalidArgument, topK)
	}
	if len(vector) != s.dim {
		return nil, fmt.Errorf("%w: query dimension %d, collection uses %d", ErrInvalidArgument, len(vector), s.dim)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	q := `SELECT c.rowid, c.id, c.text, c.embedding FROM chunks c`
	var args []any
	if filter != nil {
		q += ` WHERE EXISTS (
			SELECT 1 FROM chunk_refs r JOIN documents d ON d.id = r.document_id
			WHERE r.chunk_id = c.id`
		if filter.DocumentID != "" {
			q += ` AND d.id = ?`
			args = append(args, filter.DocumentID)
		}
		if filter.FileType != "" {
			q += ` AND d.file_type = ?`
			args = append(args, filter.FileType)
		}
		q += `)`
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: querying chunks: %v", ErrStoreIO, err)
	}
	defer rows.Close()

	var scored []scoredChunk
	for rows.Next() {
		var sc scoredChunk
		var blob []byte
		if err := rows.Scan(&sc.rowid, &sc.id, &sc.text, &blob); err != nil {
			return nil, fmt.Errorf("%w: scanning chunk: %v", ErrStoreIO, err)
		}

		sc.score = cosine(vector, bytesToFloat32Slice(blob))
		scored = append(scored, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating chunks: %v", ErrStoreIO, err)
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].rowid < scored[j].rowid
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}

	results := make([]SearchResult, 0, len(scored))
	for _, sc := range scored {
		var file, locator string
		err := s.db.QueryRowContext(ctx, `
			SELECT d.filename, r.locator
			FROM chunk_refs r JOIN documents d ON d.id = r.document_id
			WHERE r.chunk_id = ? ORDER BY r.rowid LIMIT 1
		`, sc.id).Scan(&file, &locator)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: resolving citation for chunk %s: %v", ErrStoreIO, sc.id, err)
		}

		results = append(results, SearchResult{
			ChunkID: sc.id,
			Text:    sc.text,
			Score:   sc.score,
			File:    file,
			Locator: locator,
		})
	}

	return results, nil
}

// ExistingChunkIDs reports which of the given chunk ids already have a
// record, so callers can skip embedding duplicate content.
func (s *SQLiteStore) ExistingChunkIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	existing := make(map[string]bool, len(ids))
	for _, id := range ids {
		var one int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM chunks WHERE id = ?`, id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: checking chunk %s: %v", ErrStoreIO, id, err)
		}

		existing[id] = true
	}

	return existing, nil
}

// FindDocumentByHash looks up a document by its raw-content hash.
func (s *SQLiteStore) FindDocumentByHash(ctx context.Context, contentHash string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, filename, file_type, size_bytes, content_hash, uploaded_at
		FROM documents WHERE content_hash = ?
	`, contentHash)

	return scanDocument(row)
}

// GetDocument retrieves a document by id.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, filename, file_type, size_bytes, content_hash, uploaded_at
		FROM documents WHERE id = ?
	`, id)

	return scanDocument(row)
}

// ListDocuments returns all documents ordered oldest upload first.
func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filename, file_type, size_bytes, content_hash, uploaded_at
		FROM documents ORDER BY uploaded_at, rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: querying documents: %v", ErrStoreIO, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Filename, &d.FileType, &d.SizeBytes, &d.ContentHash, &d.UploadedAt); err != nil {
			return nil, fmt.Errorf("%w: scanning document: %v", ErrStoreIO, err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating documents: %v", ErrStoreIO, err)
	}

	return docs, nil
}

// Stats recomputes collection metadata from current records.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{ByType: make(map[string]int)}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size_bytes), 0) FROM documents`).Scan(&st.Documents, &st.StorageBytes); err != nil {
		return Stats{}, fmt.Errorf("%w: counting documents: %v", ErrStoreIO, err)
	}

	var recordBytes int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(LENGTH(embedding) + LENGTH(text)), 0) FROM chunks`).Scan(&st.Chunks, &recordBytes); err != nil {
		return Stats{}, fmt.Errorf("%w: counting chunks: %v", ErrStoreIO, err)
	}
	st.StorageBytes += recordBytes

	rows, err := s.db.QueryContext(ctx, `SELECT file_type, COUNT(*) FROM documents GROUP BY file_type`)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: counting file types: %v", ErrStoreIO, err)
	}
	defer rows.Close()

	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return Stats{}, fmt.Errorf("%w: scanning file type: %v", ErrStoreIO, err)
		}
		st.ByType[t] = n
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("%w: iterating file types: %v", ErrStoreIO, err)
	}

	return st, nil
}

func scanDocument(row *sql.Row) (*Document, error) {
	var d Document
	if err := row.Scan(&d.ID, &d.Filename, &d.FileType, &d.SizeBytes, &d.ContentHash, &d.UploadedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: scanning document: %v", ErrStoreIO, err)
	}

	return &d, nil
}
