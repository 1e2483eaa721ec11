package embedding

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
)

// NewProviderFromConfig builds the process-wide embedding provider for the
// configured backend. Supported backends: "openai" (remote primary with
// TF-IDF failover), "tfidf" (local deterministic only), "local" (ONNX,
// requires a cgo build).
func NewProviderFromConfig(cfg *config.EmbeddingConfig, logger *zap.Logger) (*Provider, error) {
	fallback := NewTFIDFVectorizer(cfg.FallbackDimensions)

	var primary Embedder
	switch cfg.Backend {
	case "openai", "":
		primary = NewOpenAIClient(OpenAIConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey(),
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Timeout:    time.Duration(cfg.TimeoutSecs) * time.Second,
		})
	case "tfidf":
		primary = fallback
	case "local":
		onnx, err := NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
		if err != nil {
			return nil, err
		}
		primary = onnx
	default:
		return nil, fmt.Errorf("unknown embedding backend: %s (supported: openai, tfidf, local)", cfg.Backend)
	}

	return NewProvider(primary, fallback, cfg.BatchSize, cfg.MaxConcurrent,
		WithLogger(logger),
		WithCache(cfg.CacheSize),
	), nil
}
