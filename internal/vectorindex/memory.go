package vectorindex

import (
	"context"
	"math"
	"sync"
)

// MemoryIndex is an in-process Index for tests and single-node
// development. Documents live in a per-organisation map; search is a
// linear cosine scan.
type MemoryIndex struct {
	dimension int

	mu         sync.RWMutex
	partitions map[string]map[string]Document
}

var _ Index = (*MemoryIndex)(nil)

// NewMemoryIndex creates an empty in-memory index for vectors of the
// given dimension.
func NewMemoryIndex(dimension int) (*MemoryIndex, error) {
	if dimension <= 0 {
		return nil, ErrInvalidConfig
	}
	return &MemoryIndex{
		dimension:  dimension,
		partitions: make(map[string]map[string]Document),
	}, nil
}

func (m *MemoryIndex) AddDocuments(ctx context.Context, orgID string, docs []Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if orgID == "" {
		return ErrMissingOrganisation
	}
	if len(docs) == 0 {
		return ErrEmptyBatch
	}

	valid, failed := splitBatch(docs, m.dimension)

	m.mu.Lock()
	partition, ok := m.partitions[orgID]
	if !ok {
		partition = make(map[string]Document)
		m.partitions[orgID] = partition
	}
	for _, doc := range valid {
		partition[doc.ID] = cloneDocument(doc)
	}
	m.mu.Unlock()

	observeDocumentsAdded("memory", len(valid))
	if len(failed) > 0 {
		return &PartialBatchError{Failed: failed}
	}
	return nil
}

func (m *MemoryIndex) SearchDocuments(ctx context.Context, orgID string, vector []float32, opts SearchOptions) ([]ScoredDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateSearch(orgID, vector, &opts, m.dimension); err != nil {
		return nil, err
	}

	m.mu.RLock()
	partition := m.partitions[orgID]
	results := make([]ScoredDocument, 0, len(partition))
	for _, doc := range partition {
		target := doc.ContentVector
		if opts.Mode == SearchTitle {
			target = doc.TitleVector
		}
		results = append(results, ScoredDocument{
			ID:             doc.ID,
			OrganisationID: orgID,

			Title:     doc.Title,
			Source:    doc.Source,
			Content:   doc.Content,
			Metadata:  cloneMetadata(doc.Metadata),
			UpdatedAt: doc.UpdatedAt,
			Score:     cosineSimilarity(vector, target),
		})
	}
	m.mu.RUnlock()

	sortScored(results)
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	observeSearch("memory", string(opts.Mode), len(results))
	return results, nil
}

func (m *MemoryIndex) DeleteDocuments(ctx context.Context, orgID string, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if orgID == "" {
		return ErrMissingOrganisation
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	partition := m.partitions[orgID]
	for _, id := range ids {
		delete(partition, id)
	}
	return nil
}

func (m *MemoryIndex) Close() error { return nil }

// cosineSimilarity returns the cosine of the angle between a and b.
// Zero vectors score 0.
func cosineSimilarity(a, b []float32) float32 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

func cloneDocument(doc Document) Document {
	doc.TitleVector = append([]float32(nil), doc.TitleVector...)
	doc.ContentVector = append([]float32(nil), doc.ContentVector...)
	doc.Metadata = cloneMetadata(doc.Metadata)
	return doc
}

func cloneMetadata(md map[string]string) map[string]string {
	if md == nil {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
