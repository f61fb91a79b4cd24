package vectorindex

import (
	"fmt"

	"go.uber.org/zap"
)

// Backend identifiers accepted by Config.Backend.
const (
	BackendMemory  = "memory"
	BackendChromem = "chromem"
	BackendQdrant  = "qdrant"
)

// Config selects and configures an Index backend.
type Config struct {
	// Backend is one of "memory", "chromem", "qdrant".
	// Default: "chromem"
	Backend string

	// Dimension is the embedding dimension shared by all backends.
	Dimension int

	Chromem ChromemConfig
	Qdrant  QdrantConfig
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendChromem
	}
	if c.Chromem.Dimension == 0 {
		c.Chromem.Dimension = c.Dimension
	}
	if c.Qdrant.Dimension == 0 {
		c.Qdrant.Dimension = c.Dimension
	}
}

// NewIndex constructs the configured Index backend.
func NewIndex(config Config, logger *zap.Logger) (Index, error) {
	config.ApplyDefaults()
	if config.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}

	switch config.Backend {
	case BackendMemory:
		return NewMemoryIndex(config.Dimension)
	case BackendChromem:
		return NewChromemIndex(config.Chromem, logger)
	case BackendQdrant:
		return NewQdrantIndex(config.Qdrant, logger)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, config.Backend)
	}
}
