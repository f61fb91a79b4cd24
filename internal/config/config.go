// Package config provides configuration loading for searchd.
//
// Configuration is read from a YAML file and overridden by environment
// variables. Every section carries defaults that hold up for local
// development; production deployments override the backends.
package config

import (
	"fmt"
	"time"
)

// Config holds the complete searchd configuration.
type Config struct {
	Server      ServerConfig               `koanf:"server"`
	Logging     LoggingConfig              `koanf:"logging"`
	Events      EventsConfig               `koanf:"events"`
	VectorIndex VectorIndexConfig          `koanf:"vectorindex"`
	Embeddings  EmbeddingsConfig           `koanf:"embeddings"`
	Ingestion   IngestionConfig            `koanf:"ingestion"`
	Telemetry   TelemetryConfig            `koanf:"telemetry"`
	Connectors  map[string]ConnectorConfig `koanf:"connectors"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// EventsConfig selects the event bus backend.
type EventsConfig struct {
	// Backend is "memory", "nats", or "embedded" (in-process NATS
	// server).
	Backend string `koanf:"backend"`

	// URL is the NATS server URL for the "nats" backend.
	URL string `koanf:"url"`

	// EmbeddedHost/EmbeddedPort configure the in-process NATS server.
	EmbeddedHost string `koanf:"embedded_host"`
	EmbeddedPort int    `koanf:"embedded_port"`
}

// VectorIndexConfig selects and configures the vector index backend.
type VectorIndexConfig struct {
	// Backend is "memory", "chromem", or "qdrant".
	Backend string `koanf:"backend"`

	// ChromemPath is the persistence directory for the chromem
	// backend; empty keeps it in memory.
	ChromemPath string `koanf:"chromem_path"`

	// CollectionPrefix names the title/content collection pair.
	CollectionPrefix string `koanf:"collection_prefix"`

	QdrantHost   string `koanf:"qdrant_host"`
	QdrantPort   int    `koanf:"qdrant_port"`
	QdrantUseTLS bool   `koanf:"qdrant_use_tls"`
}

// EmbeddingsConfig holds embedding service configuration.
type EmbeddingsConfig struct {
	BaseURL   string `koanf:"base_url"`
	Model     string `koanf:"model"`
	APIKey    Secret `koanf:"api_key"`
	Dimension int    `koanf:"dimension"`
}

// IngestionConfig holds orchestrator configuration.
type IngestionConfig struct {
	Workers        int      `koanf:"workers"`
	QueueSize      int      `koanf:"queue_size"`
	AcquireTimeout Duration `koanf:"acquire_timeout"`
	CrawlTimeout   Duration `koanf:"crawl_timeout"`
}

// TelemetryConfig holds OTLP exporter settings. Disabled by default;
// the in-process Prometheus metrics endpoint works regardless.
type TelemetryConfig struct {
	Enabled    bool    `koanf:"enabled"`
	Endpoint   string  `koanf:"endpoint"`
	Insecure   bool    `koanf:"insecure"`
	SampleRate float64 `koanf:"sample_rate"`
}

// ConnectorConfig holds per-connector settings, keyed by connector
// name.
type ConnectorConfig struct {
	Enabled bool `koanf:"enabled"`

	// RateLimitRequests/RateLimitInterval override the connector's
	// default crawl budget. Zero values keep the default.
	RateLimitRequests int      `koanf:"rate_limit_requests"`
	RateLimitInterval Duration `koanf:"rate_limit_interval"`
}

// ApplyDefaults fills in defaults for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 9180
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Events.Backend == "" {
		c.Events.Backend = "memory"
	}
	if c.Events.URL == "" {
		c.Events.URL = "nats://127.0.0.1:4222"
	}
	if c.Events.EmbeddedHost == "" {
		c.Events.EmbeddedHost = "127.0.0.1"
	}
	if c.Events.EmbeddedPort == 0 {
		c.Events.EmbeddedPort = 4222
	}
	if c.VectorIndex.Backend == "" {
		c.VectorIndex.Backend = "chromem"
	}
	if c.VectorIndex.CollectionPrefix == "" {
		c.VectorIndex.CollectionPrefix = "searchd"
	}
	if c.VectorIndex.QdrantHost == "" {
		c.VectorIndex.QdrantHost = "localhost"
	}
	if c.VectorIndex.QdrantPort == 0 {
		c.VectorIndex.QdrantPort = 6334
	}
	if c.Embeddings.BaseURL == "" {
		c.Embeddings.BaseURL = "http://localhost:8080/v1"
	}
	if c.Embeddings.Model == "" {
		c.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if c.Embeddings.Dimension == 0 {
		c.Embeddings.Dimension = 384
	}
	if c.Ingestion.Workers == 0 {
		c.Ingestion.Workers = 4
	}
	if c.Ingestion.QueueSize == 0 {
		c.Ingestion.QueueSize = 64
	}
	if c.Ingestion.AcquireTimeout == 0 {
		c.Ingestion.AcquireTimeout = Duration(30 * time.Second)
	}
	if c.Ingestion.CrawlTimeout == 0 {
		c.Ingestion.CrawlTimeout = Duration(2 * time.Minute)
	}
	if c.Telemetry.Endpoint == "" {
		c.Telemetry.Endpoint = "localhost:4317"
	}
	if c.Telemetry.SampleRate == 0 {
		c.Telemetry.SampleRate = 1.0
	}
	if c.Connectors == nil {
		c.Connectors = map[string]ConnectorConfig{
			"webConnector": {Enabled: true},
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	switch c.Events.Backend {
	case "memory", "nats", "embedded":
	default:
		return fmt.Errorf("invalid events backend: %q", c.Events.Backend)
	}
	switch c.VectorIndex.Backend {
	case "memory", "chromem", "qdrant":
	default:
		return fmt.Errorf("invalid vectorindex backend: %q", c.VectorIndex.Backend)
	}
	if c.Embeddings.Dimension <= 0 {
		return fmt.Errorf("embeddings dimension must be positive")
	}
	for name, cc := range c.Connectors {
		if cc.RateLimitRequests < 0 {
			return fmt.Errorf("connector %q: negative rate limit", name)
		}
	}
	return nil
}
