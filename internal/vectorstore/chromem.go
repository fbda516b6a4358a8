package vectorstore

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("corpusd.vectorstore.chromem")

// ChromemConfig holds configuration for the embedded chromem-go store.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty means a purely
	// in-memory database.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool
}

// ChromemStore implements Store using chromem-go, an embeddable pure-Go
// vector database. No external service is required.
//
// chromem ranks by exhaustive cosine similarity over normalized vectors. It
// therefore behaves as a Flat index regardless of Schema.Index (other index
// types are accepted as advisory), and InnerProduct on normalized vectors is
// order-equivalent to Cosine, so both metrics are accepted.
type ChromemStore struct {
	db     *chromem.DB
	config ChromemConfig
	logger *zap.Logger

	// schemas records the schema per collection for dimension validation.
	schemas sync.Map
}

// NewChromemStore creates a ChromemStore. With a non-empty path the database
// persists to disk and survives restarts.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(config.Path, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", config.Path, err)
		}
		var err error
		db, err = chromem.NewPersistentDB(config.Path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
	}

	logger.Info("chromem store initialized",
		zap.String("path", config.Path),
		zap.Bool("compress", config.Compress),
	)

	return &ChromemStore{
		db:     db,
		config: config,
		logger: logger,
	}, nil
}

// EnsureCollection creates the collection if absent. chromem's
// GetOrCreateCollection is safe under concurrent callers.
func (s *ChromemStore) EnsureCollection(ctx context.Context, name string, schema Schema) error {
	_, span := chromemTracer.Start(ctx, "ChromemStore.EnsureCollection")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", name),
		attribute.Int("dimension", schema.Dimension),
	)

	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	if err := schema.Validate(); err != nil {
		return err
	}

	meta := map[string]string{
		"dimension": strconv.Itoa(schema.Dimension),
		"metric":    string(schema.Metric),
		"index":     string(schema.Index),
	}
	if _, err := s.db.GetOrCreateCollection(name, meta, noEmbedding); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating collection %s: %w", name, err)
	}

	s.schemas.Store(name, schema)
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Insert appends embedded chunks to the collection.
func (s *ChromemStore) Insert(ctx context.Context, name string, chunks []EmbeddedChunk) (int, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Insert")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", name),
		attribute.Int("chunk_count", len(chunks)),
	)

	if err := ValidateCollectionName(name); err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, ErrEmptyChunks
	}
	if schema, ok := s.schemaFor(name); ok {
		if err := checkVectors(chunks, schema.Dimension); err != nil {
			span.RecordError(err)
			return 0, err
		}
	}

	collection := s.db.GetCollection(name, noEmbedding)
	if collection == nil {
		span.SetStatus(codes.Error, "collection not found")
		return 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}

	timestamp := time.Now().UTC().Format(time.RFC3339)
	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		meta := map[string]string{
			"chunk_id":     c.Chunk.ID,
			"source":       c.Chunk.Source,
			"element_type": c.Chunk.ElementType,
			"timestamp":    timestamp,
		}
		for k, v := range c.Chunk.Metadata {
			meta[metaPrefix+k] = fmt.Sprintf("%v", v)
		}

		docs[i] = chromem.Document{
			// chromem IDs are unique per collection; duplicate chunk IDs
			// must not silently overwrite, so each insert gets a fresh ID
			// and the chunk ID lives in metadata.
			ID:        uuid.New().String(),
			Content:   c.Chunk.Text,
			Metadata:  meta,
			Embedding: c.Vector,
		}
	}

	// Concurrency 1: embeddings are already computed, nothing to parallelize.
	if err := collection.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("adding documents to %s: %w", name, err)
	}

	span.SetAttributes(attribute.Int("documents_added", len(docs)))
	span.SetStatus(codes.Ok, "success")

	s.logger.Debug("inserted chunks",
		zap.String("collection", name),
		zap.Int("count", len(docs)),
	)
	return len(docs), nil
}

// DeleteBySource removes every chunk whose source matches sourcePath.
// chromem's Delete reports no count, so the count is taken from the
// collection size delta; the store is only ever written from within a
// path-serialized critical section.
func (s *ChromemStore) DeleteBySource(ctx context.Context, name, sourcePath string) (int, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.DeleteBySource")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", name),
		attribute.String("source", sourcePath),
	)

	if err := ValidateCollectionName(name); err != nil {
		return 0, err
	}

	collection := s.db.GetCollection(name, noEmbedding)
	if collection == nil {
		span.SetStatus(codes.Ok, "collection absent")
		return 0, nil
	}

	before := collection.Count()
	if err := collection.Delete(ctx, map[string]string{"source": sourcePath}, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("deleting chunks for %s: %w", sourcePath, err)
	}
	removed := before - collection.Count()

	span.SetAttributes(attribute.Int("documents_removed", removed))
	span.SetStatus(codes.Ok, "success")
	return removed, nil
}

// Search returns up to topK results ordered by similarity descending.
func (s *ChromemStore) Search(ctx context.Context, name string, vector []float32, topK int, filters map[string]any) ([]SearchResult, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Search")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", name),
		attribute.Int("top_k", topK),
	)

	if err := ValidateCollectionName(name); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}

	collection := s.db.GetCollection(name, noEmbedding)
	if collection == nil {
		span.SetStatus(codes.Ok, "collection absent")
		return []SearchResult{}, nil
	}

	// chromem requires nResults <= document count.
	count := collection.Count()
	if count == 0 {
		span.SetStatus(codes.Ok, "empty collection")
		return []SearchResult{}, nil
	}
	if topK > count {
		topK = count
	}

	var where map[string]string
	if len(filters) > 0 {
		where = make(map[string]string, len(filters))
		for k, v := range filters {
			where[k] = fmt.Sprintf("%v", v)
		}
	}

	hits, err := collection.QueryEmbedding(ctx, vector, topK, where, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", name, err)
	}

	results := make([]SearchResult, len(hits))
	for i, hit := range hits {
		result := SearchResult{
			Text:     hit.Content,
			Score:    hit.Similarity,
			Metadata: map[string]any{},
		}
		for k, v := range hit.Metadata {
			switch k {
			case "source":
				result.Source = v
			case "element_type":
				result.ElementType = v
			case "timestamp":
				result.Timestamp = v
			case "chunk_id":
				// provenance only, not part of the result shape
			default:
				if len(k) > len(metaPrefix) && k[:len(metaPrefix)] == metaPrefix {
					result.Metadata[k[len(metaPrefix):]] = v
				}
			}
		}
		results[i] = result
	}

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// Drop destroys a collection.
func (s *ChromemStore) Drop(ctx context.Context, name string) error {
	_, span := chromemTracer.Start(ctx, "ChromemStore.Drop")
	defer span.End()

	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	if err := s.db.DeleteCollection(name); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("dropping collection %s: %w", name, err)
	}

	s.schemas.Delete(name)
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Close releases resources. chromem persists incrementally; nothing to
// flush.
func (s *ChromemStore) Close() error {
	return nil
}

func (s *ChromemStore) schemaFor(name string) (Schema, bool) {
	v, ok := s.schemas.Load(name)
	if !ok {
		return Schema{}, false
	}
	return v.(Schema), true
}

// metaPrefix namespaces chunk metadata keys within chromem's flat
// string-typed metadata map.
const metaPrefix = "meta_"

// noEmbedding rejects any attempt by chromem to embed text itself; vectors
// are always supplied pre-computed.
func noEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("embedding must be computed upstream")
}

// Ensure ChromemStore implements Store interface.
var _ Store = (*ChromemStore)(nil)
