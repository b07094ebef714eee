package llm

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIGenerator calls an OpenAI-compatible chat completions endpoint.
type OpenAIGenerator struct {
	client       *openai.Client
	defaultModel string
	models       []string
	maxTokens    int
	temperature  float32
	pricing      Pricing
	logger       *zap.Logger
}

// Option configures an OpenAIGenerator.
type Option func(*OpenAIGenerator)

// WithModels sets the models callers may request. The default model is always allowed.
func WithModels(models ...string) Option {
	return func(g *OpenAIGenerator) { g.models = models }
}

// WithMaxTokens sets the default completion limit.
func WithMaxTokens(n int) Option {
	return func(g *OpenAIGenerator) { g.maxTokens = n }
}

// WithTemperature sets the default sampling temperature.
func WithTemperature(t float32) Option {
	return func(g *OpenAIGenerator) { g.temperature = t }
}

// WithPricing sets the prices used for Response.Cost.
func WithPricing(p Pricing) Option {
	return func(g *OpenAIGenerator) { g.pricing = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *OpenAIGenerator) { g.logger = l }
}

// NewOpenAIGenerator returns a generator using defaultModel unless a request names another.
func NewOpenAIGenerator(client *openai.Client, defaultModel string, opts ...Option) *OpenAIGenerator {
	g := &OpenAIGenerator{
		client:       client,
		defaultModel: defaultModel,
		maxTokens:    1000,
		temperature:  0.1,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if !slices.Contains(g.models, defaultModel) {
		g.models = append([]string{defaultModel}, g.models...)
	}
	return g
}

// Generate sends req.Prompt as a single user message.
func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = g.defaultModel
	}
	if !slices.Contains(g.models, model) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.maxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = g.temperature
	}

	started := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	latency := time.Since(started)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	out := &Response{
		Text:         strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:        model,
		PromptTokens: resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Latency:      latency,
	}
	out.Cost = g.pricing.Cost(out.PromptTokens, out.OutputTokens)
	g.logger.Debug("completion generated",
		zap.String("model", model),
		zap.Int("prompt_tokens", out.PromptTokens),
		zap.Int("completion_tokens", out.OutputTokens),
		zap.Duration("latency", latency))
	return out, nil
}

// Models returns the allowed model names, default first.
func (g *OpenAIGenerator) Models() []string {
	return slices.Clone(g.models)
}

// DefaultModel returns the model used when a request names none.
func (g *OpenAIGenerator) DefaultModel() string {
	return g.defaultModel
}
