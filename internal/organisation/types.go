package organisation

import (
	"time"

	"github.com/fyrsmithlabs/searchd/internal/connector"
)

// LinkStatus is the lifecycle state of a connector-managed link.
type LinkStatus string

const (
	LinkPending   LinkStatus = "pending"
	LinkConnected LinkStatus = "connected"
	LinkError     LinkStatus = "error"
	LinkDisabled  LinkStatus = "disabled"
)

// Valid reports whether s is a known status.
func (s LinkStatus) Valid() bool {
	switch s {
	case LinkPending, LinkConnected, LinkError, LinkDisabled:
		return true
	}
	return false
}

// Link is a named resource a connector manages under one installed app,
// e.g. one monitored folder or URL. Identity is (InstalledApp, ID).
type Link struct {
	ID          string     `json:"id"`
	Location    string     `json:"location"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      LinkStatus `json:"status"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// InstalledApp records one connector installation for an organisation.
type InstalledApp struct {
	ConnectorName connector.Name `json:"connector_name"`

	// InstallationID is the opaque token issued by the connector's
	// OAuth/API flow. Empty until the flow completes.
	InstallationID string `json:"installation_id"`

	Permissions []string `json:"permissions"`

	// Links is ordered by first reference; entries are updated in
	// place and never implicitly removed.
	Links []Link `json:"links"`
}

// Organisation is the tenant root. Organisations are soft-disabled,
// never physically deleted.
type Organisation struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	InstalledApps []InstalledApp `json:"installed_apps"`
	CreatedAt     time.Time      `json:"created_at"`
}

// App returns the installed app for name, or nil.
func (o *Organisation) App(name connector.Name) *InstalledApp {
	for i := range o.InstalledApps {
		if o.InstalledApps[i].ConnectorName == name {
			return &o.InstalledApps[i]
		}
	}
	return nil
}

// Clone returns a deep copy of the organisation.
func (o *Organisation) Clone() *Organisation {
	if o == nil {
		return nil
	}
	out := *o
	out.InstalledApps = make([]InstalledApp, len(o.InstalledApps))
	for i, app := range o.InstalledApps {
		cp := app
		cp.Permissions = append([]string(nil), app.Permissions...)
		cp.Links = append([]Link(nil), app.Links...)
		out.InstalledApps[i] = cp
	}
	return &out
}

// LinkUpdate is a partial link mutation. The zero value of a field
// means "preserve the current value"; only supplied fields are merged
// into an existing link.
type LinkUpdate struct {
	// ID identifies the link within the installed app. Required.
	ID string `json:"id"`

	Location    string     `json:"location,omitempty"`
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	Status      LinkStatus `json:"status,omitempty"`
}

// AppUpdate replaces the credential fields of one installed app.
type AppUpdate struct {
	ConnectorName  connector.Name `json:"connector_name"`
	InstallationID string         `json:"installation_id"`
	Permissions    []string       `json:"permissions"`
}
