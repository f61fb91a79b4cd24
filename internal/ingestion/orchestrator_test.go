package ingestion

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/searchd/internal/connector"
	"github.com/fyrsmithlabs/searchd/internal/events"
	"github.com/fyrsmithlabs/searchd/internal/organisation"
	"github.com/fyrsmithlabs/searchd/internal/ratelimit"
	"github.com/fyrsmithlabs/searchd/internal/vectorindex"
)

const testDimension = 4

type stubSource struct {
	name  connector.Name
	docs  []SourceDocument
	err   error
	calls atomic.Int32
}

func (s *stubSource) Connector() connector.Name { return s.name }

func (s *stubSource) FetchDocuments(ctx context.Context, target connector.LinkTarget) ([]SourceDocument, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.docs, nil
}

// stubEmbedder produces deterministic non-zero vectors.
type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = []float32{float32(len(text)%7 + 1), 1, 0, 0}
	}
	return vectors, nil
}

func (stubEmbedder) Dimension() int { return testDimension }

type fixture struct {
	bus     *events.MemoryBus
	limiter *ratelimit.Registry
	orgs    *organisation.Service
	index   *vectorindex.MemoryIndex
	orch    *Orchestrator
}

func newFixture(t *testing.T, config Config, sources ...Source) *fixture {
	t.Helper()

	bus := events.NewMemoryBus(zap.NewNop())
	t.Cleanup(func() { _ = bus.Close() })

	limiter := ratelimit.NewRegistry(zap.NewNop())
	require.NoError(t, limiter.Register(connector.WebConnector.String(), 5, time.Second))

	orgs, err := organisation.NewService(organisation.NewMemoryRepository(), connector.NewCatalog(), bus, zap.NewNop())
	require.NoError(t, err)

	index, err := vectorindex.NewMemoryIndex(testDimension)
	require.NoError(t, err)

	orch, err := NewOrchestrator(config, bus, limiter, orgs, index, stubEmbedder{}, sources, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, orch.Start())
	t.Cleanup(func() { _ = orch.Close() })

	return &fixture{bus: bus, limiter: limiter, orgs: orgs, index: index, orch: orch}
}

// installAndLink creates an organisation with the web connector
// installed and upserts a link, emitting the installation event.
func (f *fixture) installAndLink(t *testing.T, location string) string {
	t.Helper()
	ctx := context.Background()

	org, err := f.orgs.Create(ctx, "acme")
	require.NoError(t, err)
	_, err = f.orgs.InstallApp(ctx, org.ID, connector.WebConnector)
	require.NoError(t, err)
	_, err = f.orgs.UpsertLink(ctx, org.ID, connector.WebConnector, organisation.LinkUpdate{
		ID:       "l1",
		Location: location,
	}, organisation.UpsertLinkOptions{EmitEvent: true})
	require.NoError(t, err)
	return org.ID
}

func (f *fixture) waitForLinkStatus(t *testing.T, orgID string, want organisation.LinkStatus) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		apps, err := f.orgs.ListInstalledApps(context.Background(), orgID)
		require.NoError(t, err)
		for _, app := range apps {
			for _, link := range app.Links {
				if link.Status == want {
					return
				}
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("link never reached status %q", want)
}

func TestOrchestrator_IngestsOnInstallation(t *testing.T) {
	src := &stubSource{
		name: connector.WebConnector,
		docs: []SourceDocument{
			{ID: "https://example.com", Title: "Example", Content: "hello world", UpdatedAt: time.Now().UTC()},
			{ID: "https://example.com/about", Title: "About", Content: "about us", UpdatedAt: time.Now().UTC()},
		},
	}
	f := newFixture(t, Config{}, src)
	orgID := f.installAndLink(t, "https://example.com")

	f.waitForLinkStatus(t, orgID, organisation.LinkConnected)
	assert.EqualValues(t, 1, src.calls.Load())

	results, err := f.index.SearchDocuments(context.Background(), orgID,
		[]float32{1, 1, 0, 0}, vectorindex.SearchOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, hit := range results {
		assert.Equal(t, "webConnector", hit.Source)
		assert.Equal(t, "l1", hit.Metadata["link_id"])
	}
}

func TestOrchestrator_FetchFailureMarksLinkError(t *testing.T) {
	src := &stubSource{name: connector.WebConnector, err: errors.New("site unreachable")}
	f := newFixture(t, Config{}, src)
	orgID := f.installAndLink(t, "https://example.com")

	f.waitForLinkStatus(t, orgID, organisation.LinkError)

	results, err := f.index.SearchDocuments(context.Background(), orgID,
		[]float32{1, 1, 0, 0}, vectorindex.SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestOrchestrator_RateLimitTimeoutMarksLinkError(t *testing.T) {
	src := &stubSource{
		name: connector.WebConnector,
		docs: []SourceDocument{{ID: "d", Title: "t", Content: "c", UpdatedAt: time.Now().UTC()}},
	}
	f := newFixture(t, Config{AcquireTimeout: 50 * time.Millisecond}, src)

	// Exhaust the connector's budget so the crawl cannot get a slot.
	require.NoError(t, f.limiter.Register(connector.WebConnector.String(), 1, time.Hour))
	require.NoError(t, f.limiter.Acquire(context.Background(), connector.WebConnector.String()))
	defer func() { _ = f.limiter.Release(connector.WebConnector.String()) }()

	orgID := f.installAndLink(t, "https://example.com")

	f.waitForLinkStatus(t, orgID, organisation.LinkError)
	assert.EqualValues(t, 0, src.calls.Load(), "fetch must not run without a slot")
}

func TestOrchestrator_UnknownLocationMarksLinkError(t *testing.T) {
	src := &stubSource{name: connector.WebConnector}
	f := newFixture(t, Config{}, src)
	orgID := f.installAndLink(t, "ftp://example.com")

	f.waitForLinkStatus(t, orgID, organisation.LinkError)
	assert.EqualValues(t, 0, src.calls.Load())
}

func TestOrchestrator_StartTwice(t *testing.T) {
	src := &stubSource{name: connector.WebConnector}
	f := newFixture(t, Config{}, src)

	assert.ErrorIs(t, f.orch.Start(), ErrAlreadyStarted)
}

func TestOrchestrator_CloseWaitsForWorkers(t *testing.T) {
	src := &stubSource{
		name: connector.WebConnector,
		docs: []SourceDocument{{ID: "d", Title: "t", Content: "c", UpdatedAt: time.Now().UTC()}},
	}
	f := newFixture(t, Config{Workers: 1}, src)
	orgID := f.installAndLink(t, "https://example.com")

	f.waitForLinkStatus(t, orgID, organisation.LinkConnected)
	require.NoError(t, f.orch.Close())

	// Closed orchestrator is a no-op on repeat close.
	require.NoError(t, f.orch.Close())
}

func TestNewOrchestrator_Validation(t *testing.T) {
	bus := events.NewMemoryBus(zap.NewNop())
	defer bus.Close()
	limiter := ratelimit.NewRegistry(zap.NewNop())
	index, err := vectorindex.NewMemoryIndex(testDimension)
	require.NoError(t, err)
	orgs, err := organisation.NewService(organisation.NewMemoryRepository(), connector.NewCatalog(), nil, zap.NewNop())
	require.NoError(t, err)

	_, err = NewOrchestrator(Config{}, bus, limiter, orgs, index, stubEmbedder{}, nil, zap.NewNop())
	require.Error(t, err, "sources are required")

	_, err = NewOrchestrator(Config{}, nil, limiter, orgs, index, stubEmbedder{},
		[]Source{&stubSource{name: connector.WebConnector}}, zap.NewNop())
	require.Error(t, err)
}
