package services

import (
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/searchd/internal/config"
	"github.com/fyrsmithlabs/searchd/internal/connector"
	"github.com/fyrsmithlabs/searchd/internal/embeddings"
	"github.com/fyrsmithlabs/searchd/internal/events"
	"github.com/fyrsmithlabs/searchd/internal/ingestion"
	"github.com/fyrsmithlabs/searchd/internal/organisation"
	"github.com/fyrsmithlabs/searchd/internal/ratelimit"
	"github.com/fyrsmithlabs/searchd/internal/vectorindex"
)

// Registry provides access to all searchd services. Build wires them
// from configuration; Close releases them in reverse order.
type Registry struct {
	bus          events.Bus
	embeddedNATS *natsserver.Server
	index        vectorindex.Index
	embedder     *embeddings.Service
	limiter      *ratelimit.Registry
	catalog      *connector.Catalog
	organisation *organisation.Service
	orchestrator *ingestion.Orchestrator

	logger *zap.Logger
}

func (r *Registry) Bus() events.Bus                       { return r.bus }
func (r *Registry) Index() vectorindex.Index              { return r.index }
func (r *Registry) Embedder() *embeddings.Service         { return r.embedder }
func (r *Registry) Limiter() *ratelimit.Registry          { return r.limiter }
func (r *Registry) Catalog() *connector.Catalog           { return r.catalog }
func (r *Registry) Organisation() *organisation.Service   { return r.organisation }
func (r *Registry) Orchestrator() *ingestion.Orchestrator { return r.orchestrator }

// Build constructs the full service graph from cfg. On error, anything
// already constructed is released before returning.
func Build(cfg *config.Config, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{logger: logger}

	bus, embedded, err := buildBus(cfg.Events, logger)
	if err != nil {
		return nil, err
	}
	r.bus = bus
	r.embeddedNATS = embedded

	index, err := vectorindex.NewIndex(vectorindex.Config{
		Backend:   cfg.VectorIndex.Backend,
		Dimension: cfg.Embeddings.Dimension,
		Chromem: vectorindex.ChromemConfig{
			Path:             cfg.VectorIndex.ChromemPath,
			CollectionPrefix: cfg.VectorIndex.CollectionPrefix,
		},
		Qdrant: vectorindex.QdrantConfig{
			Host:             cfg.VectorIndex.QdrantHost,
			Port:             cfg.VectorIndex.QdrantPort,
			UseTLS:           cfg.VectorIndex.QdrantUseTLS,
			CollectionPrefix: cfg.VectorIndex.CollectionPrefix,
		},
	}, logger)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("building vector index: %w", err)
	}
	r.index = index

	embedder, err := embeddings.NewService(embeddings.Config{
		BaseURL:   cfg.Embeddings.BaseURL,
		Model:     cfg.Embeddings.Model,
		APIKey:    cfg.Embeddings.APIKey.Value(),
		Dimension: cfg.Embeddings.Dimension,
	})
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("building embedding service: %w", err)
	}
	r.embedder = embedder

	r.catalog = connector.NewCatalog()
	r.limiter = ratelimit.NewRegistry(logger)

	loaded := connector.LoadConnectors(r.catalog, r.limiter, connectorOptions(cfg.Connectors), logger)
	logger.Info("connectors loaded", zap.Int("count", len(loaded)))

	orgs, err := organisation.NewService(organisation.NewMemoryRepository(), r.catalog, r.bus, logger)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("building organisation service: %w", err)
	}
	r.organisation = orgs

	orch, err := ingestion.NewOrchestrator(ingestion.Config{
		Workers:        cfg.Ingestion.Workers,
		QueueSize:      cfg.Ingestion.QueueSize,
		AcquireTimeout: time.Duration(cfg.Ingestion.AcquireTimeout),
		CrawlTimeout:   time.Duration(cfg.Ingestion.CrawlTimeout),
	}, r.bus, r.limiter, orgs, r.index, embedder,
		[]ingestion.Source{ingestion.NewWebSource(ingestion.WebSourceConfig{}, logger)},
		logger)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("building ingestion orchestrator: %w", err)
	}
	r.orchestrator = orch

	return r, nil
}

// Start begins background work: ingestion workers and event
// subscriptions.
func (r *Registry) Start() error {
	return r.orchestrator.Start()
}

// Close releases all services in reverse dependency order. Errors are
// logged, not returned; shutdown proceeds past failures.
func (r *Registry) Close() {
	if r.orchestrator != nil {
		if err := r.orchestrator.Close(); err != nil {
			r.logger.Warn("closing orchestrator", zap.Error(err))
		}
	}
	if r.index != nil {
		if err := r.index.Close(); err != nil {
			r.logger.Warn("closing vector index", zap.Error(err))
		}
	}
	if r.bus != nil {
		if err := r.bus.Close(); err != nil {
			r.logger.Warn("closing event bus", zap.Error(err))
		}
	}
	if r.embeddedNATS != nil {
		r.embeddedNATS.Shutdown()
	}
}

func buildBus(cfg config.EventsConfig, logger *zap.Logger) (events.Bus, *natsserver.Server, error) {
	switch cfg.Backend {
	case "memory":
		return events.NewMemoryBus(logger), nil, nil
	case "nats":
		bus, err := events.NewNATSBus(events.NATSConfig{URL: cfg.URL}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting event bus: %w", err)
		}
		return bus, nil, nil
	case "embedded":
		srv, err := events.StartEmbeddedServer(cfg.EmbeddedHost, cfg.EmbeddedPort)
		if err != nil {
			return nil, nil, fmt.Errorf("starting embedded NATS: %w", err)
		}
		bus, err := events.NewNATSBus(events.NATSConfig{URL: srv.ClientURL()}, logger)
		if err != nil {
			srv.Shutdown()
			return nil, nil, fmt.Errorf("connecting to embedded NATS: %w", err)
		}
		return bus, srv, nil
	default:
		return nil, nil, fmt.Errorf("unknown events backend %q", cfg.Backend)
	}
}

func connectorOptions(cfgs map[string]config.ConnectorConfig) map[connector.Name]connector.LoadOptions {
	opts := make(map[connector.Name]connector.LoadOptions, len(cfgs))
	for name, c := range cfgs {
		parsed, err := connector.ParseName(name)
		if err != nil {
			continue
		}
		opts[parsed] = connector.LoadOptions{
			Enabled: c.Enabled,
			RateLimit: connector.RateLimit{
				Requests: c.RateLimitRequests,
				Interval: time.Duration(c.RateLimitInterval),
			},
		}
	}
	return opts
}
