package connector

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// LinkTarget is the connector-specific interpretation of a link's
// location. Each connector kind addresses its sub-resources differently
// (a URL, a folder id, a workspace page), so the variants form a closed
// tagged union keyed by connector name rather than an untyped blob.
type LinkTarget interface {
	// Connector returns the variant's connector name.
	Connector() Name

	// Location returns the canonical location string stored on the link.
	Location() string
}

// WebTarget is a crawlable URL.
type WebTarget struct {
	URL *url.URL
}

func (t WebTarget) Connector() Name  { return WebConnector }
func (t WebTarget) Location() string { return t.URL.String() }

// DriveTarget is a Google Drive folder.
type DriveTarget struct {
	FolderID string
}

func (t DriveTarget) Connector() Name  { return GoogleDrive }
func (t DriveTarget) Location() string { return t.FolderID }

// NotionTarget is a Notion page or database.
type NotionTarget struct {
	PageID string
}

func (t NotionTarget) Connector() Name  { return Notion }
func (t NotionTarget) Location() string { return t.PageID }

// AsanaTarget is an Asana project.
type AsanaTarget struct {
	ProjectID string
}

func (t AsanaTarget) Connector() Name  { return Asana }
func (t AsanaTarget) Location() string { return t.ProjectID }

// ConfluenceTarget is a Confluence space key.
type ConfluenceTarget struct {
	SpaceKey string
}

func (t ConfluenceTarget) Connector() Name  { return Confluence }
func (t ConfluenceTarget) Location() string { return t.SpaceKey }

// ErrInvalidLocation is returned when a link location does not parse
// for its connector kind.
var ErrInvalidLocation = errors.New("invalid link location")

// ParseTarget interprets a raw link location for the given connector.
func ParseTarget(name Name, location string) (LinkTarget, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, fmt.Errorf("%w: empty location for %s", ErrInvalidLocation, name)
	}

	switch name {
	case WebConnector:
		u, err := url.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidLocation, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocation, u.Scheme)
		}
		if u.Host == "" {
			return nil, fmt.Errorf("%w: missing host in %q", ErrInvalidLocation, location)
		}
		return WebTarget{URL: u}, nil
	case GoogleDrive:
		return DriveTarget{FolderID: location}, nil
	case Notion:
		return NotionTarget{PageID: location}, nil
	case Asana:
		return AsanaTarget{ProjectID: location}, nil
	case Confluence:
		return ConfluenceTarget{SpaceKey: location}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownConnector, name)
	}
}
