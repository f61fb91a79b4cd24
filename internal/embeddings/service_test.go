package embeddings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_ApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	assert.Equal(t, "http://localhost:8080/v1", cfg.BaseURL)
	assert.Equal(t, "BAAI/bge-small-en-v1.5", cfg.Model)
	assert.Equal(t, 384, cfg.Dimension)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "valid",
			config: Config{BaseURL: "http://localhost:8080/v1", Model: "m", Dimension: 384},
		},
		{
			name:    "missing base URL",
			config:  Config{Model: "m", Dimension: 384},
			wantErr: true,
		},
		{
			name:    "missing model",
			config:  Config{BaseURL: "http://localhost:8080/v1", Dimension: 384},
			wantErr: true,
		},
		{
			name:    "negative dimension",
			config:  Config{BaseURL: "http://localhost:8080/v1", Model: "m", Dimension: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewService(t *testing.T) {
	svc, err := NewService(Config{})
	require.NoError(t, err)
	assert.Equal(t, 384, svc.Dimension())

	_, err = NewService(Config{Dimension: -1})
	require.ErrorIs(t, err, ErrInvalidConfig)
}
