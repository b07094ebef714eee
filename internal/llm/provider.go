package llm

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/contextrag/internal/config"
	"github.com/hyperjump/contextrag/internal/openaiclient"
)

// ErrUnknownModel is returned for a model the generator is not configured for.
var ErrUnknownModel = errors.New("unknown model")

// NewFromConfig builds the configured generator. API keys come from the environment.
func NewFromConfig(cfg config.LLMConfig, logger *zap.Logger) (Generator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Provider {
	case "echo":
		return EchoGenerator{}, nil
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
			return nil, fmt.Errorf("llm client: %w", err)
		}
		return NewOpenAIGenerator(client, cfg.DefaultModel,
			WithModels(cfg.Models...),
			WithMaxTokens(cfg.MaxTokens),
			WithTemperature(cfg.Temperature),
			WithPricing(Pricing{PromptPer1K: cfg.PromptPricePer1K, CompletionPer1K: cfg.CompletionPricePer1K}),
			WithLogger(logger)), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
