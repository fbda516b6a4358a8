// Package vectorstore owns collection lifecycle and vector search over
// embedded document chunks.
//
// Two implementations are provided: QdrantStore (external Qdrant over gRPC)
// and ChromemStore (embedded chromem-go). Both take pre-computed vectors;
// embedding happens upstream in the sync engine and search service.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/fyrsmithlabs/corpusd/internal/ingest"
)

// Sentinel errors for vector store operations.
var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrEmptyChunks indicates empty or nil chunks.
	ErrEmptyChunks = errors.New("empty or nil chunks")

	// ErrConnectionFailed indicates the store backend is unreachable.
	ErrConnectionFailed = errors.New("failed to connect to vector store")

	// ErrUnsupportedIndex indicates the backend cannot build the requested
	// index type.
	ErrUnsupportedIndex = errors.New("unsupported index type")

	// ErrDimensionMismatch indicates a vector whose length differs from the
	// collection's fixed dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// MetricType is the similarity function used to rank search results.
// Higher scores mean more similar for both metrics.
type MetricType string

const (
	MetricInnerProduct MetricType = "inner_product"
	MetricCosine       MetricType = "cosine"
)

// IndexType selects the vector index built for a collection.
type IndexType string

const (
	IndexFlat    IndexType = "flat"
	IndexIVFFlat IndexType = "ivf_flat"
	IndexHNSW    IndexType = "hnsw"
)

// IndexParams tunes the vector index. Zero values use backend defaults.
type IndexParams struct {
	// M is the HNSW graph degree.
	M int

	// EfConstruct is the HNSW build-time beam width.
	EfConstruct int

	// NList is the IVF partition count.
	NList int
}

// Schema describes a collection. Created once, immutable afterward; a
// dimension mismatch on later inserts is an error, never coerced.
type Schema struct {
	Dimension int
	Metric    MetricType
	Index     IndexType
	Params    IndexParams
}

// Validate validates the schema.
func (s Schema) Validate() error {
	if s.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidConfig, s.Dimension)
	}
	switch s.Metric {
	case MetricInnerProduct, MetricCosine:
	default:
		return fmt.Errorf("%w: unknown metric type %q", ErrInvalidConfig, s.Metric)
	}
	switch s.Index {
	case IndexFlat, IndexIVFFlat, IndexHNSW:
	default:
		return fmt.Errorf("%w: unknown index type %q", ErrInvalidConfig, s.Index)
	}
	return nil
}

// EmbeddedChunk pairs a document chunk with its embedding vector.
type EmbeddedChunk struct {
	Chunk  ingest.Chunk
	Vector []float32
}

// SearchResult is one ranked hit from a similarity search.
type SearchResult struct {
	// Text is the stored chunk text.
	Text string

	// Source is the originating file path.
	Source string

	// ElementType is the chunk's structural element type.
	ElementType string

	// Metadata is the chunk's stored metadata.
	Metadata map[string]any

	// Timestamp is the ISO-8601 insert time of the chunk.
	Timestamp string

	// Score is the raw similarity under the collection's metric
	// (higher = more similar).
	Score float32
}

// Store is the interface for vector storage operations.
type Store interface {
	// EnsureCollection creates the collection with the given schema if it
	// does not exist, and loads it into a queryable state. Idempotent:
	// no-op when the collection already exists. Concurrent callers racing
	// to create the same collection must not corrupt it.
	EnsureCollection(ctx context.Context, name string, schema Schema) error

	// Insert appends embedded chunks to the collection and returns the
	// inserted count. Duplicate chunk IDs are not detected or rejected;
	// uniqueness is the caller's responsibility via delete-before-insert.
	Insert(ctx context.Context, name string, chunks []EmbeddedChunk) (int, error)

	// DeleteBySource removes every chunk whose source equals sourcePath and
	// returns the removed count. Zero removed when the collection is absent
	// or nothing matches; not an error.
	DeleteBySource(ctx context.Context, name, sourcePath string) (int, error)

	// Search returns up to topK results ordered by similarity descending.
	// filters optionally restricts matches on scalar payload fields
	// (e.g. {"source": "/docs/strategy.md"}). A missing collection yields
	// an empty list, not an error.
	Search(ctx context.Context, name string, vector []float32, topK int, filters map[string]any) ([]SearchResult, error)

	// Drop destroys a collection and all its chunks. Irreversible.
	Drop(ctx context.Context, name string) error

	// Close releases backend resources.
	Close() error
}

// collectionNamePattern validates collection names.
// Pattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName validates a collection name. Rejects uppercase,
// special characters, path traversal and spaces.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// checkVectors validates chunk vectors against the collection dimension.
func checkVectors(chunks []EmbeddedChunk, dim int) error {
	for _, c := range chunks {
		if len(c.Vector) != dim {
			return fmt.Errorf("%w: chunk %s has dimension %d, collection expects %d",
				ErrDimensionMismatch, c.Chunk.ID, len(c.Vector), dim)
		}
	}
	return nil
}
