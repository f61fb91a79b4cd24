package vectorindex

import "time"

// SearchMode selects which vector a search runs against.
type SearchMode string

const (
	// SearchContent searches over the content vector.
	SearchContent SearchMode = "content"

	// SearchTitle searches over the title vector.
	SearchTitle SearchMode = "title"
)

// Valid reports whether m is a known search mode.
func (m SearchMode) Valid() bool {
	return m == SearchContent || m == SearchTitle
}

// Document is one indexed item. Both vectors must have the configured
// embedding dimension; they are written atomically per document.
type Document struct {
	// ID identifies the document within its organisation. Re-adding an
	// ID replaces the stored document.
	ID string

	// Title is the short display text, embedded as TitleVector.
	Title string

	// TitleVector is the title embedding.
	TitleVector []float32

	// Source names where the document came from, e.g. a connector name
	// or URL.
	Source string

	// Content is the body text, embedded as ContentVector.
	Content string

	// ContentVector is the content embedding.
	ContentVector []float32

	// Metadata holds free-form string attributes.
	Metadata map[string]string

	// UpdatedAt orders documents with equal similarity; most recent
	// wins.
	UpdatedAt time.Time
}

// ScoredDocument is one search hit. Embeddings are never returned.
type ScoredDocument struct {
	ID             string `json:"id"`
	OrganisationID string `json:"organisation_id"`

	Title     string            `json:"title"`
	Source    string            `json:"source"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`

	// Score is the cosine similarity to the query vector, higher is
	// closer.
	Score float32 `json:"score"`
}

// SearchOptions parameterizes a search.
type SearchOptions struct {
	// Mode selects the vector to search over. Defaults to
	// SearchContent.
	Mode SearchMode

	// Limit is the maximum number of results. Defaults to 10.
	Limit int
}

func (o *SearchOptions) applyDefaults() {
	if o.Mode == "" {
		o.Mode = SearchContent
	}
	if o.Limit <= 0 {
		o.Limit = 10
	}
}
