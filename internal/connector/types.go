package connector

import (
	"errors"
	"fmt"
	"time"
)

// Name identifies a supported connector. The set is closed; code that
// switches on Name can rely on these being the only values.
type Name string

const (
	WebConnector Name = "webConnector"
	GoogleDrive  Name = "googleDrive"
	Notion       Name = "notion"
	Asana        Name = "asana"
	Confluence   Name = "confluence"
)

// ErrUnknownConnector is returned for names outside the supported set.
var ErrUnknownConnector = errors.New("unknown connector")

// All returns the supported connector names in a stable order.
func All() []Name {
	return []Name{WebConnector, GoogleDrive, Notion, Asana, Confluence}
}

// Valid reports whether n is a supported connector name.
func (n Name) Valid() bool {
	switch n {
	case WebConnector, GoogleDrive, Notion, Asana, Confluence:
		return true
	}
	return false
}

func (n Name) String() string { return string(n) }

// ParseName validates a raw connector name.
func ParseName(s string) (Name, error) {
	n := Name(s)
	if !n.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownConnector, s)
	}
	return n, nil
}

// RateLimit is a request budget against the connector's third-party API.
type RateLimit struct {
	// Requests is the number of admitted operations per Interval.
	Requests int

	// Interval is the sliding admission window.
	Interval time.Duration
}

// Definition describes one supported connector, including the default
// budget used when deployment config supplies none.
type Definition struct {
	Name             Name
	Title            string
	Description      string
	DefaultRateLimit RateLimit
}

// Catalog is the closed registry of connector definitions.
type Catalog struct {
	defs map[Name]Definition
}

// NewCatalog returns the built-in connector catalog.
func NewCatalog() *Catalog {
	defs := map[Name]Definition{
		WebConnector: {
			Name:             WebConnector,
			Title:            "Web Connector",
			Description:      "Crawls and indexes web pages by URL",
			DefaultRateLimit: RateLimit{Requests: 5, Interval: time.Second},
		},
		GoogleDrive: {
			Name:             GoogleDrive,
			Title:            "Google Drive",
			Description:      "Indexes documents from Google Drive folders",
			DefaultRateLimit: RateLimit{Requests: 8, Interval: time.Second},
		},
		Notion: {
			Name:             Notion,
			Title:            "Notion",
			Description:      "Indexes pages from Notion workspaces",
			DefaultRateLimit: RateLimit{Requests: 3, Interval: time.Second},
		},
		Asana: {
			Name:             Asana,
			Title:            "Asana",
			Description:      "Indexes tasks and projects from Asana",
			DefaultRateLimit: RateLimit{Requests: 15, Interval: time.Minute},
		},
		Confluence: {
			Name:             Confluence,
			Title:            "Confluence",
			Description:      "Indexes pages from Confluence spaces",
			DefaultRateLimit: RateLimit{Requests: 10, Interval: time.Second},
		},
	}
	return &Catalog{defs: defs}
}

// Get returns the definition for name.
func (c *Catalog) Get(name Name) (Definition, error) {
	def, ok := c.defs[name]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrUnknownConnector, name)
	}
	return def, nil
}

// Definitions returns all definitions in catalog order.
func (c *Catalog) Definitions() []Definition {
	out := make([]Definition, 0, len(c.defs))
	for _, name := range All() {
		if def, ok := c.defs[name]; ok {
			out = append(out, def)
		}
	}
	return out
}
