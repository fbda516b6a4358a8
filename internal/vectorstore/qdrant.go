package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Tracer for OpenTelemetry instrumentation.
var qdrantTracer = otel.Tracer("corpusd.vectorstore.qdrant")

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	// Default: "localhost"
	Host string

	// Port is the Qdrant gRPC port (not the HTTP REST port).
	// Default: 6334
	Port int

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// MaxRetries is the maximum number of retry attempts for transient
	// failures. Default: 3
	MaxRetries int

	// RetryBackoff is the initial backoff duration for retries. Doubles on
	// each retry. Default: 1s
	RetryBackoff time.Duration

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB
	MaxMessageSize int

	// CircuitBreakerThreshold is the number of failures before the circuit
	// opens. Default: 5
	CircuitBreakerThreshold int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	return nil
}

// IsTransientError reports whether an error should be retried. True for
// timeouts and temporary unavailability, false for invalid arguments,
// not-found and permission errors.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	st, ok := status.FromError(err)
	if !ok {
		return false
	}

	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantStore is a Store implementation using Qdrant's native gRPC client.
//
// Native gRPC transport (port 6334) with binary protobuf encoding avoids the
// HTTP layer's payload limits during bulk indexing.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig

	// schemas caches the schema per collection, recorded at
	// EnsureCollection. Needed to force exact search for Flat collections
	// and to validate insert dimensions.
	schemas sync.Map

	// collections caches collection existence to avoid repeated checks.
	collections sync.Map

	circuitBreaker struct {
		failures int
		lastFail time.Time
		mu       sync.Mutex
	}
}

// NewQdrantStore creates a QdrantStore, connects, and health-checks the
// server.
func NewQdrantStore(config QdrantConfig) (*QdrantStore, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := &QdrantStore{
		client: client,
		config: config,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}

	return store, nil
}

// Close closes the Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// retryOperation retries an operation with exponential backoff for transient
// errors, tracking failures in the circuit breaker.
func (s *QdrantStore) retryOperation(ctx context.Context, operationName string, operation func() error) error {
	backoff := s.config.RetryBackoff

	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			s.resetCircuitBreaker()
			return nil
		}

		if s.isCircuitOpen() {
			return fmt.Errorf("%s: circuit breaker open", operationName)
		}

		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", operationName, err)
		}

		s.recordFailure()

		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", operationName, s.config.MaxRetries, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operationName, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}

func (s *QdrantStore) recordFailure() {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	s.circuitBreaker.failures++
	s.circuitBreaker.lastFail = time.Now()
}

func (s *QdrantStore) resetCircuitBreaker() {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	s.circuitBreaker.failures = 0
}

func (s *QdrantStore) isCircuitOpen() bool {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()

	if s.circuitBreaker.failures >= s.config.CircuitBreakerThreshold {
		// Allow retry after 30 seconds
		if time.Since(s.circuitBreaker.lastFail) > 30*time.Second {
			s.circuitBreaker.failures = 0
			return false
		}
		return true
	}
	return false
}

// distanceFor maps a metric type to a Qdrant distance.
func distanceFor(metric MetricType) qdrant.Distance {
	if metric == MetricInnerProduct {
		return qdrant.Distance_Dot
	}
	return qdrant.Distance_Cosine
}

// EnsureCollection creates the collection if absent. Qdrant has no IVF
// index; IndexIVFFlat is rejected rather than silently substituted. A Flat
// index is realized by disabling HNSW graph building (m=0) and forcing exact
// search at query time.
func (s *QdrantStore) EnsureCollection(ctx context.Context, name string, schema Schema) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.EnsureCollection")
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
	if schema.Index == IndexIVFFlat {
		return fmt.Errorf("%w: qdrant has no IVF_FLAT index", ErrUnsupportedIndex)
	}

	exists, err := s.collectionExists(ctx, name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if exists {
		s.schemas.Store(name, schema)
		span.SetStatus(codes.Ok, "exists")
		return nil
	}

	create := &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(schema.Dimension),
			Distance: distanceFor(schema.Metric),
		}),
	}
	switch schema.Index {
	case IndexFlat:
		// m=0 disables HNSW graph building; searches run exact.
		create.HnswConfig = &qdrant.HnswConfigDiff{M: qdrant.PtrOf(uint64(0))}
	case IndexHNSW:
		hnsw := &qdrant.HnswConfigDiff{}
		if schema.Params.M > 0 {
			hnsw.M = qdrant.PtrOf(uint64(schema.Params.M))
		}
		if schema.Params.EfConstruct > 0 {
			hnsw.EfConstruct = qdrant.PtrOf(uint64(schema.Params.EfConstruct))
		}
		create.HnswConfig = hnsw
	}

	err = s.retryOperation(ctx, "create_collection", func() error {
		err := s.client.CreateCollection(ctx, create)
		if err != nil {
			// A concurrent creator winning the race is not a failure.
			if st, ok := status.FromError(err); ok && st.Code() == grpccodes.AlreadyExists {
				return nil
			}
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating collection %s: %w", name, err)
	}

	s.collections.Store(name, true)
	s.schemas.Store(name, schema)
	span.SetStatus(codes.Ok, "created")
	return nil
}

// Insert appends embedded chunks to the collection.
func (s *QdrantStore) Insert(ctx context.Context, name string, chunks []EmbeddedChunk) (int, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Insert")
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

	timestamp := time.Now().UTC().Format(time.RFC3339)
	points := make([]*qdrant.PointStruct, len(chunks))
	for i, c := range chunks {
		payload := map[string]*qdrant.Value{
			"chunk_id":     scalarValue(c.Chunk.ID),
			"text":         scalarValue(c.Chunk.Text),
			"source":       scalarValue(c.Chunk.Source),
			"element_type": scalarValue(c.Chunk.ElementType),
			"timestamp":    scalarValue(timestamp),
			"metadata":     structValue(c.Chunk.Metadata),
		}

		points[i] = &qdrant.PointStruct{
			// Chunk IDs like "strategy_0" are not valid Qdrant point IDs;
			// the original ID is preserved in the payload.
			Id:      qdrant.NewIDUUID(uuid.New().String()),
			Vectors: qdrant.NewVectors(c.Vector...),
			Payload: payload,
		}
	}

	err := s.retryOperation(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: name,
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("upserting points to collection %s: %w", name, err)
	}

	span.SetAttributes(attribute.Int("points_added", len(points)))
	span.SetStatus(codes.Ok, "success")
	return len(points), nil
}

// DeleteBySource removes every chunk whose source matches sourcePath.
func (s *QdrantStore) DeleteBySource(ctx context.Context, name, sourcePath string) (int, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.DeleteBySource")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", name),
		attribute.String("source", sourcePath),
	)

	if err := ValidateCollectionName(name); err != nil {
		return 0, err
	}

	exists, err := s.collectionExists(ctx, name)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	if !exists {
		span.SetStatus(codes.Ok, "collection absent")
		return 0, nil
	}

	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch("source", sourcePath)},
	}

	var matched uint64
	err = s.retryOperation(ctx, "count", func() error {
		count, err := s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: name,
			Filter:         filter,
			Exact:          qdrant.PtrOf(true),
		})
		if err != nil {
			return err
		}
		matched = count
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("counting points for %s: %w", sourcePath, err)
	}
	if matched == 0 {
		span.SetStatus(codes.Ok, "no matches")
		return 0, nil
	}

	err = s.retryOperation(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: name,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("deleting points for %s: %w", sourcePath, err)
	}

	span.SetAttributes(attribute.Int("points_removed", int(matched)))
	span.SetStatus(codes.Ok, "success")
	return int(matched), nil
}

// Search returns up to topK results ordered by similarity descending.
func (s *QdrantStore) Search(ctx context.Context, name string, vector []float32, topK int, filters map[string]any) ([]SearchResult, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Search")
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
	const maxTopK = 10000
	if topK > maxTopK {
		topK = maxTopK
	}

	exists, err := s.collectionExists(ctx, name)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !exists {
		span.SetStatus(codes.Ok, "collection absent")
		return []SearchResult{}, nil
	}

	query := &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	}

	if len(filters) > 0 {
		conditions := make([]*qdrant.Condition, 0, len(filters))
		for key, value := range filters {
			if str, ok := value.(string); ok {
				conditions = append(conditions, qdrant.NewMatch(key, str))
			}
		}
		if len(conditions) > 0 {
			query.Filter = &qdrant.Filter{Must: conditions}
		}
	}

	if schema, ok := s.schemaFor(name); ok && schema.Index == IndexFlat {
		query.Params = &qdrant.SearchParams{Exact: qdrant.PtrOf(true)}
	}

	var scored []*qdrant.ScoredPoint
	err = s.retryOperation(ctx, "search", func() error {
		res, err := s.client.Query(ctx, query)
		if err != nil {
			return err
		}
		scored = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching collection %s: %w", name, err)
	}

	results := make([]SearchResult, len(scored))
	for i, point := range scored {
		results[i] = resultFromPayload(point.Payload, point.Score)
	}

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// Drop destroys a collection.
func (s *QdrantStore) Drop(ctx context.Context, name string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Drop")
	defer span.End()

	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		return err
	}

	err := s.retryOperation(ctx, "drop_collection", func() error {
		return s.client.DeleteCollection(ctx, name)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("dropping collection %s: %w", name, err)
	}

	s.collections.Delete(name)
	s.schemas.Delete(name)
	span.SetStatus(codes.Ok, "success")
	return nil
}

// collectionExists checks existence, consulting the cache first.
func (s *QdrantStore) collectionExists(ctx context.Context, name string) (bool, error) {
	if _, ok := s.collections.Load(name); ok {
		return true, nil
	}

	var exists bool
	err := s.retryOperation(ctx, "collection_exists", func() error {
		info, err := s.client.GetCollectionInfo(ctx, name)
		if err != nil {
			if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
				exists = false
				return nil
			}
			return err
		}
		exists = info != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("checking collection %s: %w", name, err)
	}

	if exists {
		s.collections.Store(name, true)
	}
	return exists, nil
}

func (s *QdrantStore) schemaFor(name string) (Schema, bool) {
	v, ok := s.schemas.Load(name)
	if !ok {
		return Schema{}, false
	}
	return v.(Schema), true
}

// scalarValue converts a Go scalar to a Qdrant payload value. Ingest
// metadata is sanitized upstream, so only primitive kinds arrive here;
// anything else falls through to its string form.
func scalarValue(v any) *qdrant.Value {
	switch val := v.(type) {
	case nil:
		return &qdrant.Value{Kind: &qdrant.Value_NullValue{}}
	case string:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
	case bool:
		return &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
	case int:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
	case int64:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
	case float32:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: float64(val)}}
	case float64:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
	default:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprintf("%v", val)}}
	}
}

// structValue nests a scalar map as a Qdrant struct payload value.
func structValue(m map[string]any) *qdrant.Value {
	fields := make(map[string]*qdrant.Value, len(m))
	for k, v := range m {
		fields[k] = scalarValue(v)
	}
	return &qdrant.Value{Kind: &qdrant.Value_StructValue{StructValue: &qdrant.Struct{Fields: fields}}}
}

// resultFromPayload converts a scored point payload into a SearchResult.
func resultFromPayload(payload map[string]*qdrant.Value, score float32) SearchResult {
	result := SearchResult{Score: score, Metadata: map[string]any{}}
	for key, value := range payload {
		switch key {
		case "text":
			result.Text = value.GetStringValue()
		case "source":
			result.Source = value.GetStringValue()
		case "element_type":
			result.ElementType = value.GetStringValue()
		case "timestamp":
			result.Timestamp = value.GetStringValue()
		case "metadata":
			if st := value.GetStructValue(); st != nil {
				for mk, mv := range st.GetFields() {
					result.Metadata[mk] = payloadScalar(mv)
				}
			}
		}
	}
	return result
}

// payloadScalar converts a Qdrant payload value back to a Go scalar.
func payloadScalar(v *qdrant.Value) any {
	switch kind := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	default:
		return nil
	}
}

// Ensure QdrantStore implements Store interface.
var _ Store = (*QdrantStore)(nil)
