package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/searchd/internal/connector"
	"github.com/fyrsmithlabs/searchd/internal/events"
	"github.com/fyrsmithlabs/searchd/internal/organisation"
	"github.com/fyrsmithlabs/searchd/internal/ratelimit"
	"github.com/fyrsmithlabs/searchd/internal/vectorindex"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/searchd/internal/ingestion")

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("orchestrator already started")

// SlotLimiter is the per-connector admission limiter a crawl must pass
// before touching the upstream service.
type SlotLimiter interface {
	AcquireWithTimeout(ctx context.Context, name string, timeout time.Duration) error
	Release(name string) error
}

var _ SlotLimiter = (*ratelimit.Registry)(nil)

// LinkRegistry records crawl outcomes on the organisation's link.
type LinkRegistry interface {
	UpsertLink(ctx context.Context, orgID string, name connector.Name, update organisation.LinkUpdate, opts organisation.UpsertLinkOptions) (*organisation.Link, error)
}

// Embedder turns texts into vectors; satisfied by embeddings.Service.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config holds orchestrator tuning knobs.
type Config struct {
	// Workers is the number of concurrent crawls. Default: 4
	Workers int

	// QueueSize is the pending-event buffer. Default: 64
	QueueSize int

	// AcquireTimeout bounds the wait for a rate-limiter slot.
	// Default: 30s
	AcquireTimeout time.Duration

	// CrawlTimeout bounds one fetch-embed-index cycle. Default: 2m
	CrawlTimeout time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.QueueSize == 0 {
		c.QueueSize = 64
	}
	if c.AcquireTimeout == 0 {
		c.AcquireTimeout = 30 * time.Second
	}
	if c.CrawlTimeout == 0 {
		c.CrawlTimeout = 2 * time.Minute
	}
}

// Orchestrator drives ingestion: installation events in, indexed
// documents out. Crawl failures are logged and recorded on the link;
// they never stop the event loop.
type Orchestrator struct {
	config   Config
	bus      events.Bus
	limiter  SlotLimiter
	links    LinkRegistry
	index    vectorindex.Index
	embedder Embedder
	logger   *zap.Logger

	sources map[connector.Name]Source

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	jobs    chan events.InstallationEvent
	subs    []events.Subscription
	wg      sync.WaitGroup
}

// NewOrchestrator wires the ingestion pipeline. Sources determine which
// installation topics are subscribed.
func NewOrchestrator(
	config Config,
	bus events.Bus,
	limiter SlotLimiter,
	links LinkRegistry,
	index vectorindex.Index,
	embedder Embedder,
	sources []Source,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if bus == nil || limiter == nil || links == nil || index == nil || embedder == nil {
		return nil, fmt.Errorf("bus, limiter, links, index and embedder are required")
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("at least one source is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()

	byName := make(map[connector.Name]Source, len(sources))
	for _, src := range sources {
		byName[src.Connector()] = src
	}

	return &Orchestrator{
		config:   config,
		bus:      bus,
		limiter:  limiter,
		links:    links,
		index:    index,
		embedder: embedder,
		sources:  byName,
		logger:   logger,
	}, nil
}

// Start subscribes to installation topics and launches the worker
// pool. It returns immediately; crawls run until Close.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.jobs = make(chan events.InstallationEvent, o.config.QueueSize)

	for i := 0; i < o.config.Workers; i++ {
		o.wg.Add(1)
		go o.worker(ctx)
	}

	for name := range o.sources {
		topic := events.InstalledTopic(name.String())
		sub, err := o.bus.Subscribe(topic, o.handleEvent(ctx))
		if err != nil {
			cancel()
			close(o.jobs)
			o.wg.Wait()
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
		o.subs = append(o.subs, sub)
		o.logger.Info("subscribed to installation topic", zap.String("topic", topic))
	}

	o.started = true
	return nil
}

// Close unsubscribes and waits for in-flight crawls to finish.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.started {
		return nil
	}

	for _, sub := range o.subs {
		if err := sub.Unsubscribe(); err != nil {
			o.logger.Warn("unsubscribe failed", zap.Error(err))
		}
	}
	o.cancel()
	close(o.jobs)
	o.wg.Wait()
	o.started = false
	return nil
}

// handleEvent decodes an installation event and enqueues it. The queue
// is bounded; when it is full the subscriber blocks, applying
// backpressure to the bus dispatch goroutine rather than dropping work.
func (o *Orchestrator) handleEvent(ctx context.Context) events.Handler {
	return func(_ context.Context, ev events.Event) error {
		var payload events.InstallationEvent
		if err := ev.Decode(&payload); err != nil {
			return fmt.Errorf("decoding installation event: %w", err)
		}
		select {
		case o.jobs <- payload:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (o *Orchestrator) worker(ctx context.Context) {
	defer o.wg.Done()
	for ev := range o.jobs {
		if ctx.Err() != nil {
			return
		}
		o.process(ctx, ev)
	}
}

func (o *Orchestrator) process(ctx context.Context, ev events.InstallationEvent) {
	ctx, span := tracer.Start(ctx, "ingestion.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("organisation_id", ev.OrganisationID),
		attribute.String("connector", ev.ConnectorName),
		attribute.String("link_id", ev.LinkID),
	)

	start := time.Now()
	name := connector.Name(ev.ConnectorName)
	err := o.crawl(ctx, name, ev)
	CrawlDuration.WithLabelValues(ev.ConnectorName).Observe(time.Since(start).Seconds())

	status := organisation.LinkConnected
	result := "success"
	if err != nil {
		var batchErr *vectorindex.PartialBatchError
		if errors.As(err, &batchErr) {
			// Most of the content landed; surface the failures in logs
			// but keep the link usable.
			o.logger.Warn("crawl indexed with partial failures",
				zap.String("organisation_id", ev.OrganisationID),
				zap.String("link_id", ev.LinkID),
				zap.Error(batchErr),
			)
			result = "partial"
		} else {
			o.logger.Error("crawl failed",
				zap.String("organisation_id", ev.OrganisationID),
				zap.String("connector", ev.ConnectorName),
				zap.String("link_id", ev.LinkID),
				zap.Error(err),
			)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			status = organisation.LinkError
			result = "error"
		}
	}
	CrawlsTotal.WithLabelValues(ev.ConnectorName, result).Inc()

	if ev.LinkID == "" {
		return
	}
	_, err = o.links.UpsertLink(ctx, ev.OrganisationID, name, organisation.LinkUpdate{
		ID:     ev.LinkID,
		Status: status,
	}, organisation.UpsertLinkOptions{})
	if err != nil {
		o.logger.Error("failed to record link status",
			zap.String("organisation_id", ev.OrganisationID),
			zap.String("link_id", ev.LinkID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

// crawl runs one fetch-embed-index cycle under a rate-limiter slot.
func (o *Orchestrator) crawl(ctx context.Context, name connector.Name, ev events.InstallationEvent) error {
	src, ok := o.sources[name]
	if !ok {
		return fmt.Errorf("%w: no source for %q", connector.ErrUnknownConnector, name)
	}

	target, err := connector.ParseTarget(name, ev.LinkLocation)
	if err != nil {
		return err
	}

	if err := o.limiter.AcquireWithTimeout(ctx, name.String(), o.config.AcquireTimeout); err != nil {
		return fmt.Errorf("acquiring crawl slot: %w", err)
	}
	defer func() {
		if err := o.limiter.Release(name.String()); err != nil && !errors.Is(err, ratelimit.ErrUnbalanced) {
			o.logger.Warn("releasing crawl slot", zap.String("connector", name.String()), zap.Error(err))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, o.config.CrawlTimeout)
	defer cancel()

	docs, err := src.FetchDocuments(ctx, target)
	if err != nil {
		return fmt.Errorf("fetching documents: %w", err)
	}
	if len(docs) == 0 {
		return nil
	}

	indexed, err := o.embedDocuments(ctx, name, ev.LinkID, docs)
	if err != nil {
		return err
	}

	if err := o.index.AddDocuments(ctx, ev.OrganisationID, indexed); err != nil {
		return err
	}
	DocumentsIngestedTotal.WithLabelValues(name.String()).Add(float64(len(indexed)))
	return nil
}

// embedDocuments produces index documents with title and content
// vectors. Titles and contents go through the embedder as one batch.
func (o *Orchestrator) embedDocuments(ctx context.Context, name connector.Name, linkID string, docs []SourceDocument) ([]vectorindex.Document, error) {
	texts := make([]string, 0, 2*len(docs))
	for _, doc := range docs {
		texts = append(texts, doc.Title, doc.Content)
	}

	vectors, err := o.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding documents: %w", err)
	}
	if len(vectors) != 2*len(docs) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}

	indexed := make([]vectorindex.Document, len(docs))
	for i, doc := range docs {
		metadata := make(map[string]string, len(doc.Metadata)+1)
		for k, v := range doc.Metadata {
			metadata[k] = v
		}
		if linkID != "" {
			metadata["link_id"] = linkID
		}
		indexed[i] = vectorindex.Document{
			ID:            doc.ID,
			Title:         doc.Title,
			TitleVector:   vectors[2*i],
			Source:        name.String(),
			Content:       doc.Content,
			ContentVector: vectors[2*i+1],
			Metadata:      metadata,
			UpdatedAt:     doc.UpdatedAt,
		}
	}
	return indexed, nil
}
