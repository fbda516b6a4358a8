// Package syncer orchestrates change detection, ingestion, embedding and
// vector-store replacement for single documents.
//
// All operations for the same source path are serialized through per-path
// locks; distinct paths may sync concurrently. The persisted hash for a path
// is only ever advanced after its chunks have been successfully replaced in
// the store, so a failed resync never destroys a good prior index.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
	"github.com/fyrsmithlabs/corpusd/internal/ingest"
	"github.com/fyrsmithlabs/corpusd/internal/tracker"
	"github.com/fyrsmithlabs/corpusd/internal/vectorstore"
)

var (
	// ErrNoContent indicates a document produced no chunks.
	ErrNoContent = errors.New("document produced no chunks")

	// ErrInvalidConfig indicates invalid engine options.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Status is the outcome of a sync operation for one path.
type Status int

const (
	// StatusUnchanged means the on-disk content matches the recorded hash;
	// no embedding calls or store writes happened.
	StatusUnchanged Status = iota

	// StatusIndexed means the document's chunks were replaced and its hash
	// persisted.
	StatusIndexed

	// StatusRemoved means the document's chunks and hash entry were removed.
	StatusRemoved

	// StatusFailed means the operation aborted; hash and prior chunks are
	// untouched.
	StatusFailed
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusUnchanged:
		return "unchanged"
	case StatusIndexed:
		return "indexed"
	case StatusRemoved:
		return "removed"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Options configures the sync engine.
type Options struct {
	// Collection is the vector collection name.
	Collection string

	// Metric is the similarity metric for the collection.
	// Default: inner_product (matches raw-score ranking semantics).
	Metric vectorstore.MetricType

	// Index is the vector index type. Default: flat.
	Index vectorstore.IndexType

	// Params tunes the index.
	Params vectorstore.IndexParams
}

// ApplyDefaults sets default values for unset fields.
func (o *Options) ApplyDefaults() {
	if o.Metric == "" {
		o.Metric = vectorstore.MetricInnerProduct
	}
	if o.Index == "" {
		o.Index = vectorstore.IndexFlat
	}
}

// Engine keeps one collection synchronized with on-disk documents.
//
// The loaded hash map is the engine's explicit state object: loaded once at
// Init, snapshotted for reads, and replaced wholesale under a lock on each
// successful mutation. There is no ambient global state.
type Engine struct {
	tracker  *tracker.Tracker
	ingestor *ingest.Ingestor
	provider embeddings.Provider
	store    vectorstore.Store
	opts     Options
	logger   *zap.Logger

	hashMu sync.Mutex
	hashes tracker.Hashes

	locks pathLocks
}

// New creates a sync engine. Call Init before use.
func New(tr *tracker.Tracker, ing *ingest.Ingestor, provider embeddings.Provider, store vectorstore.Store, opts Options, logger *zap.Logger) (*Engine, error) {
	opts.ApplyDefaults()
	if err := vectorstore.ValidateCollectionName(opts.Collection); err != nil {
		return nil, err
	}
	if tr == nil || ing == nil || provider == nil || store == nil {
		return nil, fmt.Errorf("%w: tracker, ingestor, provider and store are required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		tracker:  tr,
		ingestor: ing,
		provider: provider,
		store:    store,
		opts:     opts,
		logger:   logger,
	}, nil
}

// Init loads the persisted hash map and ensures the collection exists. The
// embedding dimension is taken from the provider, probing it with a single
// call when not yet known; inability to determine the dimension here is
// fatal, per the startup error policy.
func (e *Engine) Init(ctx context.Context) error {
	hashes, err := e.tracker.Load()
	if err != nil {
		return fmt.Errorf("loading hash store: %w", err)
	}

	dim := e.provider.Dimension()
	if dim == 0 {
		probe, err := e.provider.EmbedQuery(ctx, "dimension probe")
		if err != nil {
			return fmt.Errorf("determining embedding dimension: %w", err)
		}
		dim = len(probe)
	}

	schema := vectorstore.Schema{
		Dimension: dim,
		Metric:    e.opts.Metric,
		Index:     e.opts.Index,
		Params:    e.opts.Params,
	}
	if err := e.store.EnsureCollection(ctx, e.opts.Collection, schema); err != nil {
		return fmt.Errorf("ensuring collection %s: %w", e.opts.Collection, err)
	}

	e.hashMu.Lock()
	e.hashes = hashes
	e.hashMu.Unlock()

	e.logger.Info("sync engine initialized",
		zap.String("collection", e.opts.Collection),
		zap.Int("dimension", dim),
		zap.Int("tracked_files", len(hashes)),
	)
	return nil
}

// AddOrUpdate syncs one document's indexed state with its on-disk content.
//
// Pipeline: hash check, parse, embed, replace, persist hash. Any step's
// failure aborts without touching the recorded hash or the previously
// indexed chunks — except that the replace itself is delete-then-insert,
// which leaves a brief window with zero chunks for the path. That window is
// accepted: it is bounded by per-path serialization and a concurrent search
// merely undercounts results for this one source.
func (e *Engine) AddOrUpdate(ctx context.Context, path string) (Status, error) {
	unlock := e.locks.lock(path)
	defer unlock()

	digest, err := tracker.HashFile(path)
	if err != nil {
		// Unreadable file: skip, keep old state.
		return StatusFailed, err
	}
	if digest == e.snapshot()[path] {
		e.logger.Debug("document unchanged", zap.String("path", path))
		return StatusUnchanged, nil
	}

	chunks, err := e.ingestor.Ingest(path)
	if err != nil {
		return StatusFailed, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(chunks) == 0 {
		return StatusFailed, fmt.Errorf("%w: %s", ErrNoContent, path)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := e.provider.EmbedDocuments(ctx, texts)
	if err != nil {
		// Prior chunks and hash stay intact: a bad reindex must not
		// destroy a good prior index.
		return StatusFailed, fmt.Errorf("embedding %s: %w", path, err)
	}

	embedded := make([]vectorstore.EmbeddedChunk, len(chunks))
	for i, c := range chunks {
		embedded[i] = vectorstore.EmbeddedChunk{Chunk: c, Vector: vectors[i]}
	}

	if _, err := e.store.DeleteBySource(ctx, e.opts.Collection, path); err != nil {
		return StatusFailed, fmt.Errorf("removing stale chunks for %s: %w", path, err)
	}
	inserted, err := e.store.Insert(ctx, e.opts.Collection, embedded)
	if err != nil {
		return StatusFailed, fmt.Errorf("inserting chunks for %s: %w", path, err)
	}

	// The digest computed before parsing is committed, not a re-read: the
	// file may have changed since, and the recorded hash must equal the
	// content that was actually indexed.
	if err := e.commitHash(path, digest); err != nil {
		return StatusFailed, err
	}

	e.logger.Info("document indexed",
		zap.String("path", path),
		zap.Int("chunks", inserted),
	)
	return StatusIndexed, nil
}

// Remove deletes a document's chunks and drops its hash entry.
func (e *Engine) Remove(ctx context.Context, path string) error {
	unlock := e.locks.lock(path)
	defer unlock()

	removed, err := e.store.DeleteBySource(ctx, e.opts.Collection, path)
	if err != nil {
		return fmt.Errorf("removing chunks for %s: %w", path, err)
	}

	e.hashMu.Lock()
	defer e.hashMu.Unlock()
	if _, tracked := e.hashes[path]; tracked {
		updated := tracker.Without(e.hashes, path)
		if err := e.tracker.Save(updated); err != nil {
			return fmt.Errorf("persisting hash store: %w", err)
		}
		e.hashes = updated
	}

	e.logger.Info("document removed",
		zap.String("path", path),
		zap.Int("chunks", removed),
	)
	return nil
}

// Collection returns the engine's collection name.
func (e *Engine) Collection() string {
	return e.opts.Collection
}

// snapshot returns the current hash map; callers must not mutate it.
func (e *Engine) snapshot() tracker.Hashes {
	e.hashMu.Lock()
	defer e.hashMu.Unlock()
	return e.hashes
}

// commitHash persists the hash map with the path's digest refreshed,
// replacing the in-memory map only after a successful save.
func (e *Engine) commitHash(path, digest string) error {
	e.hashMu.Lock()
	defer e.hashMu.Unlock()

	updated := tracker.WithHashValue(e.hashes, path, digest)
	if err := e.tracker.Save(updated); err != nil {
		return fmt.Errorf("persisting hash store: %w", err)
	}
	e.hashes = updated
	return nil
}

// pathLocks serializes operations per path. Entries are never evicted; the
// map is bounded by the corpus size.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (p *pathLocks) lock(path string) func() {
	p.mu.Lock()
	if p.locks == nil {
		p.locks = make(map[string]*sync.Mutex)
	}
	l, ok := p.locks[path]
	if !ok {
		l = &sync.Mutex{}
		p.locks[path] = l
	}
	p.mu.Unlock()

	l.Lock()
	return l.Unlock
}
