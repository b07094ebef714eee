// Package openaiclient builds go-openai clients for OpenAI, Azure OpenAI and compatible servers.
package openaiclient

import (
	"errors"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Environment variables read by FromEnv.
const (
	EnvOpenAIKey     = "OPENAI_API_KEY"
	EnvAzureKey      = "AZURE_OPENAI_API_KEY"
	EnvAzureEndpoint = "AZURE_OPENAI_ENDPOINT"
)

// ErrMissingAPIKey is returned when no API key is configured for the provider.
var ErrMissingAPIKey = errors.New("missing API key")

// Options describes one client.
type Options struct {
	// Provider is "openai" or "azure".
	Provider string
	APIKey   string
	// BaseURL overrides the OpenAI endpoint (OpenAI-compatible servers) or, for Azure,
	// the resource endpoint.
	BaseURL    string
	APIVersion string
	// Deployment maps every model name to one Azure deployment when set.
	Deployment string
}

// FromEnv fills APIKey (and the Azure endpoint when BaseURL is empty) from the environment.
func (o Options) FromEnv() Options {
	if o.Provider == "azure" {
		if o.APIKey == "" {
			o.APIKey = os.Getenv(EnvAzureKey)
		}
		if o.BaseURL == "" {
			o.BaseURL = os.Getenv(EnvAzureEndpoint)
		}
		return o
	}
	if o.APIKey == "" {
		o.APIKey = os.Getenv(EnvOpenAIKey)
	}
	return o
}

// Config returns the go-openai client configuration for o.
func Config(o Options) (openai.ClientConfig, error) {
	if o.APIKey == "" {
		return openai.ClientConfig{}, ErrMissingAPIKey
	}
	if o.Provider == "azure" {
		if o.BaseURL == "" {
			return openai.ClientConfig{}, errors.New("azure endpoint is required")
		}
		cfg := openai.DefaultAzureConfig(o.APIKey, strings.TrimRight(o.BaseURL, "/"))
		if o.APIVersion != "" {
			cfg.APIVersion = o.APIVersion
		}
		if o.Deployment != "" {
			deployment := o.Deployment
			cfg.AzureModelMapperFunc = func(string) string { return deployment }
		}
		return cfg, nil
	}
	cfg := openai.DefaultConfig(o.APIKey)
	if o.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(o.BaseURL, "/")
	}
	return cfg, nil
}

// New returns a client for o.
func New(o Options) (*openai.Client, error) {
	cfg, err := Config(o)
	if err != nil {
		return nil, err
	}
	return openai.NewClientWithConfig(cfg), nil
}
