package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/searchd/internal/config"
	"github.com/fyrsmithlabs/searchd/internal/connector"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.Events.Backend = "memory"
	cfg.VectorIndex.Backend = "memory"
	return cfg
}

func TestBuild_MemoryBackends(t *testing.T) {
	reg, err := Build(testConfig(), zap.NewNop())
	require.NoError(t, err)
	defer reg.Close()

	require.NotNil(t, reg.Bus())
	require.NotNil(t, reg.Index())
	require.NotNil(t, reg.Embedder())
	require.NotNil(t, reg.Organisation())
	require.NotNil(t, reg.Orchestrator())

	assert.True(t, reg.Limiter().Registered(connector.WebConnector.String()))

	require.NoError(t, reg.Start())
}

func TestBuild_UnknownEventsBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Events.Backend = "kafka"

	_, err := Build(cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka")
}

func TestBuild_EmbeddedBus(t *testing.T) {
	cfg := testConfig()
	cfg.Events.Backend = "embedded"
	cfg.Events.EmbeddedPort = -1 // random free port

	reg, err := Build(cfg, zap.NewNop())
	require.NoError(t, err)
	defer reg.Close()

	require.NotNil(t, reg.Bus())
}

func TestConnectorOptions(t *testing.T) {
	opts := connectorOptions(map[string]config.ConnectorConfig{
		"webConnector": {Enabled: true, RateLimitRequests: 2, RateLimitInterval: config.Duration(time.Minute)},
		"notAConnector": {Enabled: true},
	})

	require.Len(t, opts, 1)
	assert.Equal(t, 2, opts[connector.WebConnector].RateLimit.Requests)
	assert.Equal(t, time.Minute, opts[connector.WebConnector].RateLimit.Interval)
}

func TestBuild_DisabledConnector(t *testing.T) {
	cfg := testConfig()
	cfg.Connectors = map[string]config.ConnectorConfig{
		"webConnector": {Enabled: false},
		"notion":       {Enabled: true},
	}

	reg, err := Build(cfg, zap.NewNop())
	require.NoError(t, err)
	defer reg.Close()

	assert.False(t, reg.Limiter().Registered(connector.WebConnector.String()))
	assert.True(t, reg.Limiter().Registered(connector.Notion.String()))
}
