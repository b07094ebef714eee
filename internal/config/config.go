// Package config provides configuration loading and structs for the contextrag server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Index     IndexConfig     `yaml:"index"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Watch     WatchConfig     `yaml:"watch"`
}

// WatchConfig holds inbox directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig holds paths for the database, index snapshots and uploaded files.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	SnapshotDir  string `yaml:"snapshot_dir"`
	UploadDir    string `yaml:"upload_dir"`
}

// AzureConfig holds Azure OpenAI settings. Used when provider is "azure".
type AzureConfig struct {
	Endpoint   string `yaml:"endpoint"`
	APIVersion string `yaml:"api_version"`
	Deployment string `yaml:"deployment"`
}

// EmbeddingConfig holds embedder settings.
type EmbeddingConfig struct {
	// Provider is one of "openai", "azure" or "mock".
	Provider    string      `yaml:"provider"`
	Model       string      `yaml:"model"`
	Dimensions  int         `yaml:"dimensions"`
	BaseURL     string      `yaml:"base_url"`
	Azure       AzureConfig `yaml:"azure"`
	BatchSize   int         `yaml:"batch_size"`
	Concurrency int         `yaml:"concurrency"`
	CacheSize   int         `yaml:"cache_size"`
}

// LLMConfig holds answer generation settings. Prices are per 1000 tokens.
type LLMConfig struct {
	// Provider is one of "openai", "azure" or "echo".
	Provider             string      `yaml:"provider"`
	DefaultModel         string      `yaml:"default_model"`
	Models               []string    `yaml:"models"`
	BaseURL              string      `yaml:"base_url"`
	Azure                AzureConfig `yaml:"azure"`
	MaxTokens            int         `yaml:"max_tokens"`
	Temperature          float32     `yaml:"temperature"`
	PromptPricePer1K     float64     `yaml:"prompt_price_per_1k"`
	CompletionPricePer1K float64     `yaml:"completion_price_per_1k"`
}

// IndexConfig holds vector index settings.
type IndexConfig struct {
	SnapshotName string `yaml:"snapshot_name"`
	Oversample   int    `yaml:"oversample"`
	Compress     *bool  `yaml:"compress"`
	Autosave     *bool  `yaml:"autosave"`
}

// AutosaveOrDefault reports whether the index is saved after every mutation; defaults to true.
func (i *IndexConfig) AutosaveOrDefault() bool {
	if i.Autosave != nil {
		return *i.Autosave
	}
	return true
}

// CompressOrDefault reports whether snapshots are zstd-compressed; defaults to true.
func (i *IndexConfig) CompressOrDefault() bool {
	if i.Compress != nil {
		return *i.Compress
	}
	return true
}

// ChunkingConfig holds chunker settings, in words.
type ChunkingConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// Load reads and parses the config file at path, expands paths, applies defaults and validates.
// Returns an error if the file cannot be read or parsed, or the result is invalid.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.SnapshotDir = expandPath(cfg.Storage.SnapshotDir, configDir)
	cfg.Storage.UploadDir = expandPath(cfg.Storage.UploadDir, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks values that have no sensible default.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions))
	}
	switch c.Embedding.Provider {
	case "openai", "azure", "mock":
	default:
		errs = append(errs, fmt.Errorf("embedding.provider %q not supported", c.Embedding.Provider))
	}
	if c.Embedding.Provider == "azure" && c.Embedding.Azure.Endpoint == "" {
		errs = append(errs, errors.New("embedding.azure.endpoint is required for the azure provider"))
	}
	switch c.LLM.Provider {
	case "openai", "azure", "echo":
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q not supported", c.LLM.Provider))
	}
	if c.LLM.Provider == "azure" && c.LLM.Azure.Endpoint == "" {
		errs = append(errs, errors.New("llm.azure.endpoint is required for the azure provider"))
	}
	if c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		errs = append(errs, fmt.Errorf("chunking.chunk_overlap (%d) must be smaller than chunk_size (%d)",
			c.Chunking.ChunkOverlap, c.Chunking.ChunkSize))
	}
	if strings.ContainsAny(c.Index.SnapshotName, `/\`) {
		errs = append(errs, fmt.Errorf("index.snapshot_name %q must not contain path separators", c.Index.SnapshotName))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
