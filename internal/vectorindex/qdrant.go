package vectorindex

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// QdrantConfig holds configuration for the Qdrant gRPC backend.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	// Default: "localhost"
	Host string

	// Port is the Qdrant gRPC port (not the HTTP REST port).
	// Default: 6334
	Port int

	// CollectionPrefix names the two collections ("<prefix>_title" and
	// "<prefix>_content"). Default: "searchd"
	CollectionPrefix string

	// Dimension is the embedding dimension. Must match the vectors
	// documents carry.
	Dimension int

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// MaxRetries is the maximum number of retry attempts for transient
	// failures. Default: 3
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled on each retry.
	// Default: 1s
	RetryBackoff time.Duration

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB
	MaxMessageSize int

	// FailureThreshold is the number of consecutive failures before the
	// circuit opens. Default: 5
	FailureThreshold int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.CollectionPrefix == "" {
		c.CollectionPrefix = "searchd"
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
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port %d", ErrInvalidConfig, c.Port)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// isTransient reports whether a gRPC error is worth retrying.
func isTransient(err error) bool {
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

// QdrantIndex implements Index on Qdrant's native gRPC transport. Title
// and content vectors live in two parallel collections; point ids are
// derived deterministically from the organisation and document id so
// re-adding a document replaces it.
type QdrantIndex struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger

	// collections caches collection existence checks.
	collections sync.Map

	breaker struct {
		mu       sync.Mutex
		failures int
		lastFail time.Time
	}
}

var _ Index = (*QdrantIndex)(nil)

// NewQdrantIndex connects to Qdrant and verifies the connection with a
// health check.
func NewQdrantIndex(config QdrantConfig, logger *zap.Logger) (*QdrantIndex, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if !config.UseTLS {
		logger.Warn("qdrant gRPC using plaintext, insecure for production")
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

	idx := &QdrantIndex{client: client, config: config, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}
	return idx, nil
}

func (q *QdrantIndex) Close() error {
	if q.client != nil {
		return q.client.Close()
	}
	return nil
}

func (q *QdrantIndex) collectionName(mode SearchMode) string {
	return q.config.CollectionPrefix + "_" + string(mode)
}

// retryOperation retries an operation with exponential backoff,
// stopping early on permanent errors or an open circuit.
func (q *QdrantIndex) retryOperation(ctx context.Context, name string, op func() error) error {
	backoff := q.config.RetryBackoff
	for attempt := 0; attempt <= q.config.MaxRetries; attempt++ {
		err := op()
		if err == nil {
			q.resetBreaker()
			return nil
		}
		if q.breakerOpen() {
			return fmt.Errorf("%s: circuit breaker open", name)
		}
		if !isTransient(err) {
			return fmt.Errorf("%s failed (permanent): %w", name, err)
		}
		q.recordFailure()
		if attempt == q.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", name, q.config.MaxRetries, err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}

func (q *QdrantIndex) recordFailure() {
	q.breaker.mu.Lock()
	defer q.breaker.mu.Unlock()
	q.breaker.failures++
	q.breaker.lastFail = time.Now()
}

func (q *QdrantIndex) resetBreaker() {
	q.breaker.mu.Lock()
	defer q.breaker.mu.Unlock()
	q.breaker.failures = 0
}

func (q *QdrantIndex) breakerOpen() bool {
	q.breaker.mu.Lock()
	defer q.breaker.mu.Unlock()
	if q.breaker.failures < q.config.FailureThreshold {
		return false
	}
	// Allow retry after a cool-down.
	if time.Since(q.breaker.lastFail) > 30*time.Second {
		q.breaker.failures = 0
		return false
	}
	return true
}

// ensureCollection creates the collection on first use.
func (q *QdrantIndex) ensureCollection(ctx context.Context, name string) error {
	if _, ok := q.collections.Load(name); ok {
		return nil
	}

	var exists bool
	err := q.retryOperation(ctx, "collection_exists", func() error {
		var err error
		exists, err = q.client.CollectionExists(ctx, name)
		return err
	})
	if err != nil {
		return err
	}

	if !exists {
		err := q.retryOperation(ctx, "create_collection", func() error {
			return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
				CollectionName: name,
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
					Size:     uint64(q.config.Dimension),
					Distance: qdrant.Distance_Cosine,
				}),
			})
		})
		if err != nil {
			return fmt.Errorf("creating collection %s: %w", name, err)
		}
	}

	q.collections.Store(name, true)
	return nil
}

// pointID derives a stable UUID for a document so upserts replace
// rather than duplicate. The org id is part of the derivation, keeping
// partitions disjoint even for identical document ids.
func pointID(orgID, docID string) *qdrant.PointId {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(orgID+"/"+docID))
	return qdrant.NewIDUUID(id.String())
}

func (q *QdrantIndex) AddDocuments(ctx context.Context, orgID string, docs []Document) error {
	ctx, span := tracer.Start(ctx, "QdrantIndex.AddDocuments")
	defer span.End()
	span.SetAttributes(
		attribute.String("organisation_id", orgID),
		attribute.Int("document_count", len(docs)),
	)

	if orgID == "" {
		return ErrMissingOrganisation
	}
	if len(docs) == 0 {
		return ErrEmptyBatch
	}

	for _, mode := range []SearchMode{SearchTitle, SearchContent} {
		if err := q.ensureCollection(ctx, q.collectionName(mode)); err != nil {
			span.RecordError(err)
			return err
		}
	}

	valid, failed := splitBatch(docs, q.config.Dimension)

	titlePoints := make([]*qdrant.PointStruct, len(valid))
	contentPoints := make([]*qdrant.PointStruct, len(valid))
	rollbackIDs := make([]*qdrant.PointId, len(valid))
	for i, doc := range valid {
		id := pointID(orgID, doc.ID)
		payload := q.buildPayload(orgID, doc)
		titlePoints[i] = &qdrant.PointStruct{
			Id:      id,
			Vectors: qdrant.NewVectors(doc.TitleVector...),
			Payload: payload,
		}
		contentPoints[i] = &qdrant.PointStruct{
			Id:      id,
			Vectors: qdrant.NewVectors(doc.ContentVector...),
			Payload: payload,
		}
		rollbackIDs[i] = id
	}

	if len(valid) > 0 {
		err := q.retryOperation(ctx, "upsert_title", func() error {
			_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
				CollectionName: q.collectionName(SearchTitle),
				Points:         titlePoints,
			})
			return err
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("upserting title vectors: %w", err)
		}

		err = q.retryOperation(ctx, "upsert_content", func() error {
			_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
				CollectionName: q.collectionName(SearchContent),
				Points:         contentPoints,
			})
			return err
		})
		if err != nil {
			// Roll the title writes back so no document is half
			// visible.
			q.rollbackPoints(ctx, q.collectionName(SearchTitle), rollbackIDs)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("upserting content vectors: %w", err)
		}
	}

	observeDocumentsAdded("qdrant", len(valid))
	span.SetAttributes(attribute.Int("documents_added", len(valid)))
	if len(failed) > 0 {
		span.SetStatus(codes.Error, "partial batch failure")
		return &PartialBatchError{Failed: failed}
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

func (q *QdrantIndex) rollbackPoints(ctx context.Context, collection string, ids []*qdrant.PointId) {
	err := q.retryOperation(ctx, "rollback", func() error {
		_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{Ids: ids},
				},
			},
		})
		return err
	})
	if err != nil {
		q.logger.Error("failed to roll back title vectors",
			zap.String("collection", collection),
			zap.Int("point_count", len(ids)),
			zap.Error(err),
		)
	}
}

func (q *QdrantIndex) buildPayload(orgID string, doc Document) map[string]*qdrant.Value {
	payload := map[string]*qdrant.Value{
		fieldOrgID:     qdrant.NewValueString(orgID),
		"id":           qdrant.NewValueString(doc.ID),
		fieldTitle:     qdrant.NewValueString(doc.Title),
		fieldSource:    qdrant.NewValueString(doc.Source),
		fieldContent:   qdrant.NewValueString(doc.Content),
		fieldUpdatedAt: qdrant.NewValueString(doc.UpdatedAt.UTC().Format(time.RFC3339Nano)),
	}
	for k, v := range doc.Metadata {
		payload[userMetaPrefix+k] = qdrant.NewValueString(v)
	}
	return payload
}

// orgFilter builds the mandatory partition filter. Every query carries
// it; there is no unfiltered path.
func orgFilter(orgID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch(fieldOrgID, orgID),
		},
	}
}

func (q *QdrantIndex) SearchDocuments(ctx context.Context, orgID string, vector []float32, opts SearchOptions) ([]ScoredDocument, error) {
	ctx, span := tracer.Start(ctx, "QdrantIndex.SearchDocuments")
	defer span.End()
	span.SetAttributes(attribute.String("organisation_id", orgID))

	if err := validateSearch(orgID, vector, &opts, q.config.Dimension); err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("mode", string(opts.Mode)),
		attribute.Int("limit", opts.Limit),
	)

	collection := q.collectionName(opts.Mode)
	var exists bool
	if err := q.retryOperation(ctx, "collection_exists", func() error {
		var err error
		exists, err = q.client.CollectionExists(ctx, collection)
		return err
	}); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !exists {
		observeSearch("qdrant", string(opts.Mode), 0)
		return []ScoredDocument{}, nil
	}

	var hits []*qdrant.ScoredPoint
	err := q.retryOperation(ctx, "search", func() error {
		res, err := q.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(opts.Limit)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         orgFilter(orgID),
		})
		if err != nil {
			return err
		}
		hits = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching collection %s: %w", collection, err)
	}

	results := make([]ScoredDocument, len(hits))
	for i, hit := range hits {
		results[i] = decodePayload(hit.Payload)
		results[i].Score = hit.Score
	}
	sortScored(results)

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	observeSearch("qdrant", string(opts.Mode), len(results))
	return results, nil
}

func decodePayload(payload map[string]*qdrant.Value) ScoredDocument {
	md := make(map[string]string, len(payload))
	for k, v := range payload {
		if sv, ok := v.Kind.(*qdrant.Value_StringValue); ok {
			md[k] = sv.StringValue
		}
	}
	return decodeMetadata(md)
}

func (q *QdrantIndex) DeleteDocuments(ctx context.Context, orgID string, ids []string) error {
	ctx, span := tracer.Start(ctx, "QdrantIndex.DeleteDocuments")
	defer span.End()
	span.SetAttributes(
		attribute.String("organisation_id", orgID),
		attribute.Int("id_count", len(ids)),
	)

	if orgID == "" {
		return ErrMissingOrganisation
	}
	if len(ids) == 0 {
		return nil
	}

	// Delete by payload filter: document id within the org partition.
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch(fieldOrgID, orgID),
			qdrant.NewMatchKeywords("id", ids...),
		},
	}

	for _, mode := range []SearchMode{SearchTitle, SearchContent} {
		collection := q.collectionName(mode)
		var exists bool
		if err := q.retryOperation(ctx, "collection_exists", func() error {
			var err error
			exists, err = q.client.CollectionExists(ctx, collection)
			return err
		}); err != nil {
			return err
		}
		if !exists {
			continue
		}

		err := q.retryOperation(ctx, "delete", func() error {
			_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
				CollectionName: collection,
				Points: &qdrant.PointsSelector{
					PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
				},
			})
			return err
		})
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("deleting from collection %s: %w", collection, err)
		}
	}
	return nil
}
