// Package cleanup keeps persisted storage within the configured policy: it
// evicts documents past the age threshold and, under storage pressure,
// keeps evicting oldest-first until the collection is back under quota.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gamma-omg/docqa/docstore"
)

var ErrConfiguration = errors.New("invalid cleanup configuration")

// State of the current cycle. Transitions per run: Idle -> Scanning ->
// Evicting -> Idle. No durable eviction state exists: every cycle
// recomputes its decisions from live document age and size.
type State int32

const (
	Idle State = iota
	Scanning
	Evicting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Evicting:
		return "evicting"
	default:
		return "unknown"
	}
}

// Policy is loaded once at startup. Zero MaxFileAge disables age eviction;
// zero MaxStorageBytes disables the quota.
type Policy struct {
	MaxFileAge      time.Duration
	MaxStorageBytes int64
	Interval        time.Duration
}

func (p Policy) Validate() error {
	if p.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %s", ErrConfiguration, p.Interval)
	}
	if p.MaxFileAge < 0 {
		return fmt.Errorf("%w: max file age must not be negative, got %s", ErrConfiguration, p.MaxFileAge)
	}
	if p.MaxStorageBytes < 0 {
		return fmt.Errorf("%w: max storage bytes must not be negative, got %d", ErrConfiguration, p.MaxStorageBytes)
	}

	return nil
}

type store interface {
	ListDocuments(ctx context.Context) ([]docstore.Document, error)
	DeleteDocument(ctx context.Context, documentID string) error
	Stats(ctx context.Context) (docstore.Stats, error)
}

type Manager struct {
	log        *slog.Logger
	store      store
	uploadsDir string
	policy     Policy
	state      atomic.Int32
	now        func() time.Time
}

func NewManager(log *slog.Logger, s store, uploadsDir string, policy Policy) (*Manager, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	return &Manager{
		log:        log,
		store:      s,
		uploadsDir: uploadsDir,
		policy:     policy,
		now:        time.Now,
	}, nil
}

func (m *Manager) State() State {
	return State(m.state.Load())
}

// Run executes cleanup cycles on the configured interval until ctx is
// cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.policy.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted, err := m.RunCycle(ctx)
			if err != nil {
				m.log.Error("cleanup cycle failed", "error", err)
				continue
			}
			if evicted > 0 {
				m.log.Info("cleanup cycle completed", "evicted", evicted)
			}
		}
	}
}

// RunCycle scans all documents and evicts, oldest first, those past the age
// threshold; if total storage still exceeds the quota it keeps evicting the
// oldest remaining documents until back under. Per-document failures are
// logged and skipped. Cancellation stops between documents, never inside a
// delete.
func (m *Manager) RunCycle(ctx context.Context) (int, error) {
	m.state.Store(int32(Scanning))
	defer m.state.Store(int32(Idle))

	docs, err := m.store.ListDocuments(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing documents: %w", err)
	}

	now := m.now()
	evicted := 0

	m.state.Store(int32(Evicting))

	remaining := docs[:0:0]
	for _, doc := range docs {
		if ctx.Err() != nil {
			return evicted, ctx.Err()
		}

		if m.policy.MaxFileAge > 0 && now.Sub(doc.UploadedAt) > m.policy.MaxFileAge {
			if m.evict(ctx, doc, "age") {
				evicted++
				continue
			}
		}
		remaining = append(remaining, doc)
	}

	if m.policy.MaxStorageBytes > 0 {
		for _, doc := range remaining {
			if ctx.Err() != nil {
				return evicted, ctx.Err()
			}

			st, err := m.store.Stats(ctx)
			if err != nil {
				return evicted, fmt.Errorf("recomputing stats: %w", err)
			}
			if st.StorageBytes <= m.policy.MaxStorageBytes {
				break
			}

			if m.evict(ctx, doc, "storage pressure") {
				evicted++
			}
		}
	}

	return evicted, nil
}

// Reset force-evicts every document regardless of age or quota.
func (m *Manager) Reset(ctx context.Context) (int, error) {
	m.state.Store(int32(Evicting))
	defer m.state.Store(int32(Idle))

	docs, err := m.store.ListDocuments(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing documents: %w", err)
	}

	evicted := 0
	for _, doc := range docs {
		if ctx.Err() != nil {
			return evicted, ctx.Err()
		}
		if m.evict(ctx, doc, "reset") {
			evicted++
		}
	}

	return evicted, nil
}

// evict removes one document and its retained upload. Reports success;
// failures are logged so the cycle can move on to the next candidate.
func (m *Manager) evict(ctx context.Context, doc docstore.Document, reason string) bool {
	if err := m.store.DeleteDocument(ctx, doc.ID); err != nil {
		m.log.Warn("failed to evict document",
			"document", doc.ID, "file", doc.Filename, "reason", reason, "error", err)
		return false
	}

	if m.uploadsDir != "" {
		path := UploadPath(m.uploadsDir, doc)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			m.log.Warn("failed to remove upload", "path", path, "error", err)
		}
	}

	m.log.Info("evicted document",
		"document", doc.ID, "file", doc.Filename, "reason", reason,
		"age", m.now().Sub(doc.UploadedAt).Round(time.Second))

	return true
}

// UploadPath is where the raw bytes of a document are retained on disk.
func UploadPath(uploadsDir string, doc docstore.Document) string {
	return filepath.Join(uploadsDir, doc.ID+filepath.Ext(doc.Filename))
}
