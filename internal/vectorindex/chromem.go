package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Reserved metadata keys; user metadata is stored under a "meta."
// prefix to keep them apart.
const (
	fieldOrgID     = "org_id"
	fieldTitle     = "title"
	fieldSource    = "source"
	fieldContent   = "content"
	fieldUpdatedAt = "updated_at"

	userMetaPrefix = "meta."
)

// ChromemConfig holds configuration for the embedded chromem-go
// backend.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty means
	// in-memory only.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// CollectionPrefix names the two collections ("<prefix>_title" and
	// "<prefix>_content"). Default: "searchd"
	CollectionPrefix string

	// Dimension is the embedding dimension. Must match the vectors
	// documents carry.
	Dimension int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.CollectionPrefix == "" {
		c.CollectionPrefix = "searchd"
	}
}

// Validate validates the configuration.
func (c ChromemConfig) Validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// ChromemIndex implements Index on chromem-go, an embeddable pure-Go
// vector database. Title and content vectors live in two parallel
// collections keyed by the same document ids; a document is visible
// only once both writes have succeeded.
type ChromemIndex struct {
	db     *chromem.DB
	config ChromemConfig
	logger *zap.Logger
}

var _ Index = (*ChromemIndex)(nil)

// NewChromemIndex creates a ChromemIndex, persisting under
// config.Path when set.
func NewChromemIndex(config ChromemConfig, logger *zap.Logger) (*ChromemIndex, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
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
			return nil, fmt.Errorf("opening chromem DB: %w", err)
		}
	}

	return &ChromemIndex{db: db, config: config, logger: logger}, nil
}

// noEmbedding is passed to chromem as the embedding function. All
// vectors arrive precomputed; a call through here is a bug.
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("embeddings must be precomputed")
}

func (c *ChromemIndex) collectionName(mode SearchMode) string {
	return c.config.CollectionPrefix + "_" + string(mode)
}

func (c *ChromemIndex) getOrCreateCollection(mode SearchMode) (*chromem.Collection, error) {
	return c.db.GetOrCreateCollection(c.collectionName(mode), nil, noEmbedding)
}

func (c *ChromemIndex) AddDocuments(ctx context.Context, orgID string, docs []Document) error {
	ctx, span := tracer.Start(ctx, "ChromemIndex.AddDocuments")
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

	titles, err := c.getOrCreateCollection(SearchTitle)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("opening title collection: %w", err)
	}
	contents, err := c.getOrCreateCollection(SearchContent)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("opening content collection: %w", err)
	}

	valid, failed := splitBatch(docs, c.config.Dimension)

	added := 0
	for _, doc := range valid {
		if err := c.addOne(ctx, titles, contents, orgID, doc); err != nil {
			failed = append(failed, DocumentError{ID: doc.ID, Err: err})
			continue
		}
		added++
	}

	observeDocumentsAdded("chromem", added)
	span.SetAttributes(attribute.Int("documents_added", added))
	if len(failed) > 0 {
		span.SetStatus(codes.Error, "partial batch failure")
		return &PartialBatchError{Failed: failed}
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// addOne writes one document to both collections, rolling back the
// title write when the content write fails.
func (c *ChromemIndex) addOne(ctx context.Context, titles, contents *chromem.Collection, orgID string, doc Document) error {
	metadata := encodeMetadata(orgID, doc)
	key := partitionedID(orgID, doc.ID)

	err := titles.AddDocument(ctx, chromem.Document{
		ID:        key,
		Content:   doc.Title,
		Metadata:  metadata,
		Embedding: doc.TitleVector,
	})
	if err != nil {
		return fmt.Errorf("adding title vector: %w", err)
	}

	err = contents.AddDocument(ctx, chromem.Document{
		ID:        key,
		Content:   doc.Content,
		Metadata:  metadata,
		Embedding: doc.ContentVector,
	})
	if err != nil {
		if delErr := titles.Delete(ctx, nil, nil, key); delErr != nil {
			c.logger.Error("failed to roll back title vector",
				zap.String("document_id", doc.ID),
				zap.Error(delErr),
			)
		}
		return fmt.Errorf("adding content vector: %w", err)
	}
	return nil
}

func (c *ChromemIndex) SearchDocuments(ctx context.Context, orgID string, vector []float32, opts SearchOptions) ([]ScoredDocument, error) {
	ctx, span := tracer.Start(ctx, "ChromemIndex.SearchDocuments")
	defer span.End()
	span.SetAttributes(attribute.String("organisation_id", orgID))

	if err := validateSearch(orgID, vector, &opts, c.config.Dimension); err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("mode", string(opts.Mode)),
		attribute.Int("limit", opts.Limit),
	)

	collection := c.db.GetCollection(c.collectionName(opts.Mode), noEmbedding)
	if collection == nil {
		// Nothing indexed yet.
		observeSearch("chromem", string(opts.Mode), 0)
		return []ScoredDocument{}, nil
	}

	// chromem requires nResults <= document count.
	k := opts.Limit
	if count := collection.Count(); count == 0 {
		observeSearch("chromem", string(opts.Mode), 0)
		return []ScoredDocument{}, nil
	} else if k > count {
		k = count
	}

	hits, err := collection.QueryEmbedding(ctx, vector, k, map[string]string{fieldOrgID: orgID}, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying %s collection: %w", opts.Mode, err)
	}

	results := make([]ScoredDocument, len(hits))
	for i, hit := range hits {
		results[i] = decodeMetadata(hit.Metadata)
		results[i].Score = hit.Similarity
	}
	sortScored(results)

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	observeSearch("chromem", string(opts.Mode), len(results))
	return results, nil
}

func (c *ChromemIndex) DeleteDocuments(ctx context.Context, orgID string, ids []string) error {
	ctx, span := tracer.Start(ctx, "ChromemIndex.DeleteDocuments")
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

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = partitionedID(orgID, id)
	}

	for _, mode := range []SearchMode{SearchTitle, SearchContent} {
		collection := c.db.GetCollection(c.collectionName(mode), noEmbedding)
		if collection == nil {
			continue
		}
		// Scope the delete by org even though ids are already
		// partitioned.
		if err := collection.Delete(ctx, map[string]string{fieldOrgID: orgID}, nil, keys...); err != nil {
			span.RecordError(err)
			return fmt.Errorf("deleting from %s collection: %w", mode, err)
		}
	}
	return nil
}

func (c *ChromemIndex) Close() error { return nil }

// partitionedID namespaces a document id by organisation so one org's
// upsert can never replace another's document.
func partitionedID(orgID, docID string) string {
	return orgID + "/" + docID
}

func encodeMetadata(orgID string, doc Document) map[string]string {
	md := map[string]string{
		fieldOrgID:     orgID,
		"id":           doc.ID,
		fieldTitle:     doc.Title,
		fieldSource:    doc.Source,
		fieldContent:   doc.Content,
		fieldUpdatedAt: doc.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	for k, v := range doc.Metadata {
		md[userMetaPrefix+k] = v
	}
	return md
}

func decodeMetadata(md map[string]string) ScoredDocument {
	doc := ScoredDocument{
		ID:             md["id"],
		OrganisationID: md[fieldOrgID],
		Title:          md[fieldTitle],
		Source:         md[fieldSource],
		Content:        md[fieldContent],
	}
	if ts, err := time.Parse(time.RFC3339Nano, md[fieldUpdatedAt]); err == nil {
		doc.UpdatedAt = ts
	}
	for k, v := range md {
		if strings.HasPrefix(k, userMetaPrefix) {
			if doc.Metadata == nil {
				doc.Metadata = make(map[string]string)
			}
			doc.Metadata[strings.TrimPrefix(k, userMetaPrefix)] = v
		}
	}
	return doc
}
