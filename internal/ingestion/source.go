package ingestion

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/searchd/internal/connector"
)

// SourceDocument is one unit of content fetched from a connector,
// before embedding.
type SourceDocument struct {
	// ID identifies the document within the connector, e.g. a page
	// URL. Stable across crawls so re-ingestion replaces.
	ID string

	// Title is the short display text.
	Title string

	// Content is the body text.
	Content string

	// Metadata holds connector-specific attributes.
	Metadata map[string]string

	// UpdatedAt is the document's last-modified time, or the fetch time
	// when the connector does not report one.
	UpdatedAt time.Time
}

// Source fetches documents for one connector kind.
type Source interface {
	// Connector returns the connector this source serves.
	Connector() connector.Name

	// FetchDocuments retrieves the documents behind a link target.
	FetchDocuments(ctx context.Context, target connector.LinkTarget) ([]SourceDocument, error)
}
