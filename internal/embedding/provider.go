package embedding

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/contextrag/internal/config"
	"github.com/hyperjump/contextrag/internal/openaiclient"
)

// NewFromConfig builds the configured embedder wrapped in a CachedEmbedder.
// API keys come from the environment (see openaiclient).
func NewFromConfig(cfg config.EmbeddingConfig, logger *zap.Logger) (*CachedEmbedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var inner Embedder
	switch cfg.Provider {
	case "mock":
		inner = NewMockEmbedder(cfg.Dimensions)
	case "openai", "azure":
		baseURL := cfg.BaseURL
		if cfg.Provider == "azure" {
			baseURL = cfg.Azure.Endpoint
		}
		client, err := openaiclient.New(openaiclient.Options{
			Provider:   cfg.Provider,
			BaseURL:    baseURL,
			APIVersion: cfg.Azure.APIVersion,
			Deployment: cfg.Azure.Deployment,
		}.FromEnv())
		if err != nil {
			return nil, fmt.Errorf("embedding client: %w", err)
		}
		inner = NewOpenAIEmbedder(client, cfg.Model, cfg.Dimensions,
			WithBatchSize(cfg.BatchSize),
			WithConcurrency(cfg.Concurrency),
			WithLogger(logger))
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}
