package vector

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
)

// NewIndexFromConfig constructs the configured vector backend pinned to the
// given dimensionality.
func NewIndexFromConfig(cfg *config.VectorConfig, dimensions int, logger *zap.Logger) (Index, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryIndex(dimensions)
	case "qdrant":
		return NewQdrantIndex(QdrantConfig{
			URL:        cfg.Qdrant.URL,
			APIKey:     cfg.Qdrant.APIKey(),
			Collection: cfg.Qdrant.Collection,
			Dimensions: dimensions,
			Timeout:    time.Duration(cfg.Qdrant.TimeoutSecs) * time.Second,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown vector backend: %s", cfg.Backend)
	}
}
