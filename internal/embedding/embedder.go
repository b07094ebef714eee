// Package embedding provides text embedding via OpenAI-compatible APIs, a deterministic
// offline embedder, and caching.
package embedding

import (
	"context"
	"errors"
)

// ErrEmptyInput is returned when asked to embed an empty string.
var ErrEmptyInput = errors.New("cannot embed empty text")

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}
