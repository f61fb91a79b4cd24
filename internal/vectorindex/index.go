package vectorindex

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/searchd/internal/vectorindex")

// Index is a tenant-partitioned vector store.
type Index interface {
	// AddDocuments upserts documents into the organisation's partition.
	// Each document is committed atomically (title and content vectors
	// together); the batch as a whole is not atomic. When some
	// documents fail and others succeed, the returned error is a
	// *PartialBatchError.
	AddDocuments(ctx context.Context, orgID string, docs []Document) error

	// SearchDocuments returns the k nearest documents to vector within
	// the organisation's partition, closest first, ties broken by most
	// recent UpdatedAt. An organisation with no documents yields an
	// empty result.
	SearchDocuments(ctx context.Context, orgID string, vector []float32, opts SearchOptions) ([]ScoredDocument, error)

	// DeleteDocuments removes documents by id from the organisation's
	// partition. Unknown ids are ignored.
	DeleteDocuments(ctx context.Context, orgID string, ids []string) error

	// Close releases backend resources.
	Close() error
}

// validateDocument checks one document against the configured embedding
// dimension.
func validateDocument(doc Document, dimension int) error {
	if doc.ID == "" {
		return fmt.Errorf("document id required")
	}
	if len(doc.TitleVector) != dimension {
		return fmt.Errorf("%w: title vector has %d dimensions, want %d",
			ErrDimensionMismatch, len(doc.TitleVector), dimension)
	}
	if len(doc.ContentVector) != dimension {
		return fmt.Errorf("%w: content vector has %d dimensions, want %d",
			ErrDimensionMismatch, len(doc.ContentVector), dimension)
	}
	return nil
}

// splitBatch validates a batch and partitions it into indexable
// documents and per-document failures.
func splitBatch(docs []Document, dimension int) (valid []Document, failed []DocumentError) {
	for i, doc := range docs {
		if err := validateDocument(doc, dimension); err != nil {
			failed = append(failed, DocumentError{ID: doc.ID, Index: i, Err: err})
			continue
		}
		valid = append(valid, doc)
	}
	return valid, failed
}

// validateSearch checks common search preconditions.
func validateSearch(orgID string, vector []float32, opts *SearchOptions, dimension int) error {
	if orgID == "" {
		return ErrMissingOrganisation
	}
	opts.applyDefaults()
	if !opts.Mode.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSearchMode, opts.Mode)
	}
	if len(vector) != dimension {
		return fmt.Errorf("%w: query vector has %d dimensions, want %d",
			ErrDimensionMismatch, len(vector), dimension)
	}
	return nil
}

// sortScored orders hits closest-first, breaking score ties by most
// recent UpdatedAt.
func sortScored(results []ScoredDocument) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].UpdatedAt.After(results[j].UpdatedAt)
	})
}
