// Package llm generates answers from a prompt with a chat model.
package llm

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyResponse is returned when the model produced no choices.
var ErrEmptyResponse = errors.New("model returned no choices")

// Request is one generation call.
type Request struct {
	Prompt string
	// Model overrides the generator's default model when set.
	Model       string
	MaxTokens   int
	Temperature float32
}

// Response carries the generated text and its accounting.
type Response struct {
	Text         string
	Model        string
	PromptTokens int
	OutputTokens int
	Cost         float64
	Latency      time.Duration
}

// Generator produces a completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	// Models lists the model names callers may request.
	Models() []string
	DefaultModel() string
}

// Pricing converts token usage to cost. Prices are per 1000 tokens.
type Pricing struct {
	PromptPer1K     float64
	CompletionPer1K float64
}

// Cost returns the price of a call.
func (p Pricing) Cost(promptTokens, outputTokens int) float64 {
	return float64(promptTokens)/1000*p.PromptPer1K + float64(outputTokens)/1000*p.CompletionPer1K
}
