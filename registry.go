package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/gamma-omg/docqa/chunker"
	"github.com/gamma-omg/docqa/cleanup"
	"github.com/gamma-omg/docqa/docstore"
	"github.com/gamma-omg/docqa/embedding"
	"github.com/gamma-omg/docqa/readers"
)

// ErrFileTooLarge rejects an upload at ingestion time; nothing is indexed
// and no partial state is created.
var ErrFileTooLarge = errors.New("file exceeds maximum upload size")

type DocStore interface {
	UpsertChunks(ctx context.Context, doc docstore.Document, chunks []docstore.Chunk) error
	DeleteDocument(ctx context.Context, documentID string) error
	FindDocumentByHash(ctx context.Context, contentHash string) (*docstore.Document, error)
	ExistingChunkIDs(ctx context.Context, ids []string) (map[string]bool, error)
	ListDocuments(ctx context.Context) ([]docstore.Document, error)
}

type Chunkifier interface {
	Chunk(text string) []chunker.Chunk
}

// DocRegistry owns the write path: it turns raw file bytes into parsed,
// chunked, embedded and deduplicated store records, and keeps the store in
// sync with an optional document root directory.
type DocRegistry struct {
	log              *slog.Logger
	root             string
	uploadDir        string
	maxFileSize      int64
	mergeEventsDelay time.Duration
	store            DocStore
	embedder         embedding.Embedder
	chunkifier       Chunkifier
	readers          []readers.FileReader
}

func (dr *DocRegistry) findReader(path string) (readers.FileReader, error) {
	for _, r := range dr.readers {
		if r.CanRead(path) {
			return r, nil
		}
	}

	return nil, fmt.Errorf("unable to find reader for file type: %s", filepath.Ext(path))
}

// IngestFile ingests one file from disk.
func (dr *DocRegistry) IngestFile(ctx context.Context, path string) (*docstore.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return dr.IngestBytes(ctx, filepath.Base(path), data)
}

// IngestBytes indexes one upload. Byte-identical content is recognized by
// its hash and returned as the already-indexed document without touching
// the parser, the embedding backend or the store. Chunks whose text already
// exists anywhere in the collection are not re-embedded.
func (dr *DocRegistry) IngestBytes(ctx context.Context, filename string, data []byte) (*docstore.Document, error) {
	if dr.maxFileSize > 0 && int64(len(data)) > dr.maxFileSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit is %d", ErrFileTooLarge, filename, len(data), dr.maxFileSize)
	}

	sum := sha256.Sum256(data)
	contentHash := hex.EncodeToString(sum[:])

	if existing, err := dr.store.FindDocumentByHash(ctx, contentHash); err == nil {
		dr.log.Info("skipping already indexed content", "file", filename, "document", existing.ID)
		return existing, nil
	} else if !errors.Is(err, docstore.ErrNotFound) {
		return nil, err
	}

	if _, err := dr.findReader(filename); err != nil {
		return nil, err
	}

	doc := docstore.Document{
		ID:          uuid.NewString(),
		Filename:    filename,
		FileType:    fileType(filename),
		SizeBytes:   int64(len(data)),
		ContentHash: contentHash,
		UploadedAt:  time.Now().UTC(),
	}

	// The raw bytes are retained so the cleanup manager can account for and
	// evict them together with the vector records.
	path := cleanup.UploadPath(dr.uploadDir, doc)
	if err := os.MkdirAll(dr.uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("retaining upload: %w", err)
	}

	if err := dr.index(ctx, doc, path); err != nil {
		os.Remove(path)
		return nil, err
	}

	dr.log.Info("indexed document", "file", filename, "document", doc.ID)

	return &doc, nil
}

func (dr *DocRegistry) index(ctx context.Context, doc docstore.Document, path string) error {
	reader, err := dr.findReader(doc.Filename)
	if err != nil {
		return err
	}

	parsed, err := reader.Read(path)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", doc.Filename, err)
	}

	chunks := dr.chunkifier.Chunk(parsed.Text)
	records := make([]docstore.Chunk, 0, len(chunks))
	for _, c := range chunks {
		sum := sha256.Sum256([]byte(c.Text))
		records = append(records, docstore.Chunk{
			ID:         hex.EncodeToString(sum[:]),
			Position:   c.Index,
			TokenStart: c.StartToken,
			TokenEnd:   c.EndToken,
			Text:       c.Text,
			Locator:    parsed.Locators.Locate(c.StartOffset),
		})
	}

	if err := dr.embedMissing(ctx, records); err != nil {
		return err
	}

	if err := dr.store.UpsertChunks(ctx, doc, records); err != nil {
		return fmt.Errorf("storing %s: %w", doc.Filename, err)
	}

	return nil
}

// embedMissing fills in embeddings for the chunks whose content is not yet
// in the collection. Duplicate text within the batch is embedded once.
func (dr *DocRegistry) embedMissing(ctx context.Context, records []docstore.Chunk) error {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}

	existing, err := dr.store.ExistingChunkIDs(ctx, ids)
	if err != nil {
		return err
	}

	var missingIDs []string
	var missingTexts []string
	seen := make(map[string]bool)
	for _, r := range records {
		if existing[r.ID] || seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		missingIDs = append(missingIDs, r.ID)
		missingTexts = append(missingTexts, r.Text)
	}
	if len(missingIDs) == 0 {
		return nil
	}

	vectors, err := dr.embedder.EmbedTexts(ctx, missingTexts)
	if err != nil {
		return fmt.Errorf("embedding chunks: %w", err)
	}

	byID := make(map[string][]float32, len(missingIDs))
	for i, id := range missingIDs {
		byID[id] = vectors[i]
	}
	for i := range records {
		if v, ok := byID[records[i].ID]; ok {
			records[i].Embedding = v
		}
	}

	return nil
}

// DeleteDocument removes a document, its solely-owned chunks, and the
// retained upload.
func (dr *DocRegistry) DeleteDocument(ctx context.Context, documentID string) error {
	docs, err := dr.store.ListDocuments(ctx)
	if err != nil {
		return err
	}

	for _, doc := range docs {
		if doc.ID != documentID {
			continue
		}

		if err := dr.store.DeleteDocument(ctx, documentID); err != nil {
			return err
		}

		path := cleanup.UploadPath(dr.uploadDir, doc)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			dr.log.Warn("failed to remove upload", "path", path, "error", err)
		}

		return nil
	}

	return fmt.Errorf("%w: %s", docstore.ErrNotFound, documentID)
}

type diskDoc struct {
	file string
	hash string
}

// Sync reconciles the document root with the store: new and changed files
// are ingested, documents whose file disappeared (or whose content changed)
// are forgotten. The content-hash check keeps repeated syncs idempotent.
func (dr *DocRegistry) Sync(ctx context.Context) error {
	if dr.root == "" {
		return nil
	}

	disk, err := dr.collectDocs()
	if err != nil {
		return err
	}

	db, err := dr.store.ListDocuments(ctx)
	if err != nil {
		return err
	}

	onDisk := make(map[string]bool, len(disk))
	for _, d := range disk {
		onDisk[d.file+"\x00"+d.hash] = true
	}

	for _, doc := range db {
		if onDisk[doc.Filename+"\x00"+doc.ContentHash] {
			continue
		}

		if err := dr.DeleteDocument(ctx, doc.ID); err != nil {
			return fmt.Errorf("failed to remove document %s from store: %w", doc.Filename, err)
		}
		dr.log.Info("forgot removed document", "file", doc.Filename, "document", doc.ID)
	}

	for _, d := range disk {
		data, err := os.ReadFile(filepath.Join(dr.root, d.file))
		if err != nil {
			return fmt.Errorf("failed to read document %s: %w", d.file, err)
		}

		if _, err := dr.IngestBytes(ctx, d.file, data); err != nil {
			return fmt.Errorf("failed to store document %s: %w", d.file, err)
		}
	}

	return nil
}

func (dr *DocRegistry) collectDocs() (docs []diskDoc, err error) {
	err = filepath.Walk(dr.root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		if _, e := dr.findReader(path); e != nil {
			dr.log.Warn(fmt.Sprintf("unsupported file: %s", path))
			return nil
		}

		data, e := os.ReadFile(path)
		if e != nil {
			return e
		}

		sum := sha256.Sum256(data)
		docs = append(docs, diskDoc{
			file: filepath.Base(path),
			hash: hex.EncodeToString(sum[:]),
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	return docs, nil
}

// Watch re-syncs the document root on filesystem events, merging bursts of
// events within the configured debounce window into a single sync.
func (dr *DocRegistry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	if err := watcher.Add(dr.root); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", dr.root, err)
	}

	go func() {
		defer watcher.Close()

		var timer *time.Timer
		fire := make(chan struct{}, 1)
		for {
			select {
			case <-ctx.Done():
				return

			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				if timer == nil {
					timer = time.AfterFunc(dr.mergeEventsDelay, func() { fire <- struct{}{} })
				} else {
					timer.Reset(dr.mergeEventsDelay)
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				dr.log.Error("watch error", "error", err)

			case <-fire:
				timer = nil
				if err := dr.Sync(ctx); err != nil {
					dr.log.Error("sync failed", "error", err)
				}
			}
		}
	}()

	return nil
}

func fileType(filename string) string {
	ext := filepath.Ext(filename)
	if ext == "" {
		return "unknown"
	}

	return ext[1:]
}
