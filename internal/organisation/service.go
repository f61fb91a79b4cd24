package organisation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/searchd/internal/connector"
	"github.com/fyrsmithlabs/searchd/internal/events"
)

const instrumentationName = "github.com/fyrsmithlabs/searchd/internal/organisation"

var tracer = otel.Tracer(instrumentationName)

// Service is the installation registry for organisations. All writes
// to one organisation's installed apps and links are serialized under a
// per-organisation lock; different organisations never contend.
type Service struct {
	repo    Repository
	catalog *connector.Catalog
	bus     events.Bus
	logger  *zap.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewService creates the registry service. The bus may be nil when no
// event consumers exist (e.g. unit tests for pure merge behavior).
func NewService(repo Repository, catalog *connector.Catalog, bus events.Bus, logger *zap.Logger) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("connector catalog is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		repo:    repo,
		catalog: catalog,
		bus:     bus,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

// orgLock returns the mutex guarding one organisation's mutations.
func (s *Service) orgLock(orgID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	mu, ok := s.locks[orgID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[orgID] = mu
	}
	return mu
}

// Create registers a new organisation.
func (s *Service) Create(ctx context.Context, name string) (*Organisation, error) {
	org, err := s.repo.Create(ctx, name)
	if err != nil {
		return nil, err
	}
	s.logger.Info("organisation created",
		zap.String("organisation_id", org.ID),
		zap.String("name", org.Name),
	)
	return org, nil
}

// Retrieve returns one organisation.
func (s *Service) Retrieve(ctx context.Context, orgID string) (*Organisation, error) {
	if orgID == "" {
		return nil, fmt.Errorf("%w: organisation id is required", ErrValidation)
	}
	return s.repo.Load(ctx, orgID)
}

// List returns all organisations.
func (s *Service) List(ctx context.Context) ([]*Organisation, error) {
	return s.repo.List(ctx)
}

// InstallApp appends a new installed app for the connector, with an
// empty link set and no installation id. Installing a connector twice
// is an error; callers wanting the existing record should list instead.
func (s *Service) InstallApp(ctx context.Context, orgID string, name connector.Name) (*Organisation, error) {
	ctx, span := tracer.Start(ctx, "organisation.InstallApp")
	defer span.End()
	span.SetAttributes(
		attribute.String("organisation_id", orgID),
		attribute.String("connector", name.String()),
	)

	if _, err := s.catalog.Get(name); err != nil {
		return nil, fmt.Errorf("%w: connector %q", ErrNotFound, name)
	}

	mu := s.orgLock(orgID)
	mu.Lock()
	defer mu.Unlock()

	org, err := s.repo.Load(ctx, orgID)
	if err != nil {
		return nil, err
	}

	if org.App(name) != nil {
		return nil, fmt.Errorf("%w: %s on organisation %q", ErrAlreadyInstalled, name, orgID)
	}

	org.InstalledApps = append(org.InstalledApps, InstalledApp{ConnectorName: name})
	if err := s.repo.Commit(ctx, org); err != nil {
		return nil, err
	}

	s.logger.Info("connector installed",
		zap.String("organisation_id", orgID),
		zap.String("connector", name.String()),
	)
	return org, nil
}

// ListInstalledApps returns the organisation's installed apps. An
// organisation with nothing installed yields an empty slice, not an
// error.
func (s *Service) ListInstalledApps(ctx context.Context, orgID string) ([]InstalledApp, error) {
	org, err := s.repo.Load(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return org.InstalledApps, nil
}

// UpsertLinkOptions controls side effects of a link upsert.
type UpsertLinkOptions struct {
	// EmitEvent publishes an installation event for the link after the
	// mutation commits, triggering an ingestion crawl.
	EmitEvent bool
}

// UpsertLink creates or merges a link on the organisation's installed
// app for the connector. Matching is by link id: an existing link has
// only the supplied fields merged in — a status-only update preserves
// location, title, and description from earlier calls. A missing
// installed app is an error, never a silent no-op.
func (s *Service) UpsertLink(ctx context.Context, orgID string, name connector.Name, update LinkUpdate, opts UpsertLinkOptions) (*Link, error) {
	ctx, span := tracer.Start(ctx, "organisation.UpsertLink")
	defer span.End()
	span.SetAttributes(
		attribute.String("organisation_id", orgID),
		attribute.String("connector", name.String()),
		attribute.String("link_id", update.ID),
	)

	if update.ID == "" {
		return nil, fmt.Errorf("%w: link id is required", ErrValidation)
	}
	if update.Status != "" && !update.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown link status %q", ErrValidation, update.Status)
	}

	mu := s.orgLock(orgID)
	mu.Lock()
	defer mu.Unlock()

	org, err := s.repo.Load(ctx, orgID)
	if err != nil {
		return nil, err
	}

	app := org.App(name)
	if app == nil {
		return nil, fmt.Errorf("%w: connector %s is not installed on organisation %q", ErrNotFound, name, orgID)
	}

	link := mergeLink(app, update)
	if err := s.repo.Commit(ctx, org); err != nil {
		return nil, err
	}

	if opts.EmitEvent && s.bus != nil {
		topic := events.InstalledTopic(name.String())
		payload := events.InstallationEvent{
			OrganisationID: orgID,
			ConnectorName:  name.String(),
			LinkID:         link.ID,
			LinkLocation:   link.Location,
		}
		if err := s.bus.Publish(ctx, topic, payload); err != nil {
			// The mutation is committed; a publish failure only delays
			// ingestion until the next update.
			s.logger.Warn("failed to publish installation event",
				zap.String("topic", topic),
				zap.String("organisation_id", orgID),
				zap.Error(err),
			)
		}
	}

	result := *link
	return &result, nil
}

// mergeLink applies update to the app's link sequence and returns the
// resulting link. New ids are appended; existing ids are merged field
// by field, preserving anything the update does not supply.
func mergeLink(app *InstalledApp, update LinkUpdate) *Link {
	now := time.Now().UTC()

	for i := range app.Links {
		if app.Links[i].ID != update.ID {
			continue
		}
		link := &app.Links[i]
		if update.Location != "" {
			link.Location = update.Location
		}
		if update.Title != "" {
			link.Title = update.Title
		}
		if update.Description != "" {
			link.Description = update.Description
		}
		if update.Status != "" {
			link.Status = update.Status
		}
		link.UpdatedAt = now
		return link
	}

	status := update.Status
	if status == "" {
		status = LinkPending
	}
	app.Links = append(app.Links, Link{
		ID:          update.ID,
		Location:    update.Location,
		Title:       update.Title,
		Description: update.Description,
		Status:      status,
		UpdatedAt:   now,
	})
	return &app.Links[len(app.Links)-1]
}

// UpdateInstalledApps replaces installation credentials on matching
// installed apps. Every update entry must reference a connector the
// organisation has installed; otherwise the whole call fails with
// ErrValidation and no app is modified. Empty InstallationID or nil
// Permissions in an entry preserve the existing values.
func (s *Service) UpdateInstalledApps(ctx context.Context, orgID string, updates []AppUpdate) (*Organisation, error) {
	ctx, span := tracer.Start(ctx, "organisation.UpdateInstalledApps")
	defer span.End()
	span.SetAttributes(
		attribute.String("organisation_id", orgID),
		attribute.Int("update_count", len(updates)),
	)

	if len(updates) == 0 {
		return nil, fmt.Errorf("%w: no updates supplied", ErrValidation)
	}

	mu := s.orgLock(orgID)
	mu.Lock()
	defer mu.Unlock()

	org, err := s.repo.Load(ctx, orgID)
	if err != nil {
		return nil, err
	}

	// Validate the whole batch before touching anything.
	for _, update := range updates {
		if org.App(update.ConnectorName) == nil {
			return nil, fmt.Errorf("%w: connector %s is not installed on organisation %q",
				ErrValidation, update.ConnectorName, orgID)
		}
	}

	for _, update := range updates {
		app := org.App(update.ConnectorName)
		if update.InstallationID != "" {
			app.InstallationID = update.InstallationID
		}
		if update.Permissions != nil {
			app.Permissions = append([]string(nil), update.Permissions...)
		}
	}

	if err := s.repo.Commit(ctx, org); err != nil {
		return nil, err
	}
	return org, nil
}
