// Package engine adapts bleve to the small contract the index layer needs:
// document add/delete, ranked search with accurate totals, streaming
// search, term vectors, highlighting and a federated composite searcher.
// Nothing outside this package imports bleve.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blevesearch/bleve/v2"

	ferrors "github.com/Aman-CERP/ferretbind/internal/errors"
)

// Engine wraps one bleve index living in one directory (or in memory).
//
// Engines are reference counted so a rebuilt index can replace an old one
// while searches that already resolved the old engine finish against it.
type Engine struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	schema Schema
	closed bool
	marker *Marker

	generation atomic.Uint64

	// refMu makes the retired check and the reference count move together.
	refMu   sync.Mutex
	refs    int64
	retired bool
}

// Create creates a new empty index at path using schema.
// Fails with a storage error if path is not writable or already holds an index.
func Create(path string, schema Schema) (*Engine, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	im, err := buildMapping(schema)
	if err != nil {
		return nil, ferrors.StorageError("cannot build index mapping", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, ferrors.StorageError("cannot create index directory "+path, err)
	}

	idx, err := bleve.New(path, im)
	if err != nil {
		return nil, ferrors.StorageError("cannot create index at "+path, err).WithDetail("path", path)
	}

	now := time.Now().UTC()
	m := &Marker{Schema: schema, Created: now, Updated: now}
	if err := writeMarker(path, m); err != nil {
		_ = idx.Close()
		return nil, err
	}

	slog.Debug("engine_created", slog.String("path", path), slog.Int("fields", len(schema.Fields)))
	return &Engine{index: idx, path: path, schema: schema, marker: m}, nil
}

// Open opens an existing index at path.
// Fails with an index-not-found error when no segments marker exists.
func Open(path string) (*Engine, error) {
	if !HasMarker(path) {
		return nil, ferrors.IndexNotFoundError(path)
	}
	m, err := ReadMarker(path)
	if err != nil {
		return nil, err
	}

	idx, err := bleve.Open(path)
	if err != nil {
		slog.Warn("engine_open_failed", slog.String("path", path), slog.String("error", err.Error()))
		return nil, ferrors.New(ferrors.ErrCodeIndexNotFound, "cannot open index at "+path, err).
			WithDetail("path", path)
	}
	return &Engine{index: idx, path: path, schema: m.Schema, marker: m}, nil
}

// OpenMem creates an in-memory index, used by tests and ephemeral callers.
func OpenMem(schema Schema) (*Engine, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	im, err := buildMapping(schema)
	if err != nil {
		return nil, ferrors.StorageError("cannot build index mapping", err)
	}
	idx, err := bleve.NewMemOnly(im)
	if err != nil {
		return nil, ferrors.StorageError("cannot create in-memory index", err)
	}
	return &Engine{index: idx, schema: schema}, nil
}

// Path returns the index directory, empty for in-memory engines.
func (e *Engine) Path() string {
	return e.path
}

// Schema returns the field schema the index was created with.
func (e *Engine) Schema() Schema {
	return e.schema
}

// Generation increases on every write. Readers compare it to detect
// that their view is stale.
func (e *Engine) Generation() uint64 {
	return e.generation.Load()
}

// Closed reports whether Close has run.
func (e *Engine) Closed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// Add indexes one document, replacing any document with the same key.
func (e *Engine) Add(doc Document) error {
	return e.AddBatch([]Document{doc})
}

// AddBatch indexes documents in a single bleve batch.
func (e *Engine) AddBatch(docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ferrors.New(ferrors.ErrCodeIndexClosed, "index is closed", nil)
	}

	batch := e.index.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.Key(e.schema.StoreClassName), doc.data(e.schema)); err != nil {
			return ferrors.StorageError(fmt.Sprintf("failed to index document %s", doc.ID), err)
		}
	}
	if err := e.index.Batch(batch); err != nil {
		return ferrors.StorageError("failed to execute batch", err)
	}
	e.generation.Add(1)
	return nil
}

// DeleteByQuery removes every document matching q and returns how many
// were removed.
func (e *Engine) DeleteByQuery(ctx context.Context, q Query) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, ferrors.New(ferrors.ErrCodeIndexClosed, "index is closed", nil)
	}

	res, err := runSearch(ctx, e.index, q, SearchOptions{Limit: -1}, e.docCountLocked())
	if err != nil {
		return 0, err
	}
	if len(res.Hits) == 0 {
		return 0, nil
	}

	batch := e.index.NewBatch()
	for _, h := range res.Hits {
		batch.Delete(h.DocID)
	}
	if err := e.index.Batch(batch); err != nil {
		return 0, ferrors.StorageError("failed to delete documents", err)
	}
	e.generation.Add(1)
	return len(res.Hits), nil
}

// NumDocs returns the number of documents in the index.
func (e *Engine) NumDocs() (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return 0, ferrors.New(ferrors.ErrCodeIndexClosed, "index is closed", nil)
	}
	return int(e.docCountLocked()), nil
}

func (e *Engine) docCountLocked() uint64 {
	n, err := e.index.DocCount()
	if err != nil {
		return 0
	}
	return n
}

// Flush records the current document count in the segments marker.
// bleve persists batches itself, so there is no buffered data to write.
func (e *Engine) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ferrors.New(ferrors.ErrCodeIndexClosed, "index is closed", nil)
	}
	if e.path == "" || e.marker == nil {
		return nil
	}
	e.marker.DocCount = e.docCountLocked()
	e.marker.Updated = time.Now().UTC()
	return writeMarker(e.path, e.marker)
}

// Optimize finalizes the index after a bulk load. Segment merging runs in
// the background inside bleve, so this amounts to a flush.
func (e *Engine) Optimize() error {
	return e.Flush()
}

// Close closes the index. Safe to call multiple times.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	if e.path != "" && e.marker != nil {
		e.marker.DocCount = e.docCountLocked()
		e.marker.Updated = time.Now().UTC()
		_ = writeMarker(e.path, e.marker)
	}
	return e.index.Close()
}

// Acquire takes a reference on the engine. It returns false when the
// engine is already closed or retired and must not be used.
func (e *Engine) Acquire() bool {
	e.refMu.Lock()
	defer e.refMu.Unlock()
	if e.retired || e.Closed() {
		return false
	}
	e.refs++
	return true
}

// Release drops a reference taken by Acquire. The last release of a
// retired engine closes it.
func (e *Engine) Release() {
	e.refMu.Lock()
	e.refs--
	last := e.refs <= 0 && e.retired
	e.refMu.Unlock()
	if last {
		_ = e.Close()
	}
}

// Retire marks the engine as replaced. It is closed immediately when
// nobody holds a reference, otherwise on the last Release.
func (e *Engine) Retire() {
	e.refMu.Lock()
	e.retired = true
	idle := e.refs <= 0
	e.refMu.Unlock()
	if idle {
		_ = e.Close()
	}
}

// Retired reports whether the engine has been replaced.
func (e *Engine) Retired() bool {
	e.refMu.Lock()
	defer e.refMu.Unlock()
	return e.retired
}
