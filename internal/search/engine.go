// Package search answers questions over the indexed documents: it retrieves the closest
// chunks from the vector store and asks the generator to answer from them.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/contextrag/internal/embedding"
	"github.com/hyperjump/contextrag/internal/llm"
	"github.com/hyperjump/contextrag/internal/models"
	"github.com/hyperjump/contextrag/internal/storage"
	"github.com/hyperjump/contextrag/internal/vector"
	"github.com/hyperjump/contextrag/pkg/utils"
)

// ErrNoRelevantChunks is returned by Answer when retrieval finds nothing to answer from.
var ErrNoRelevantChunks = errors.New("no relevant chunks found")

// EvidenceLength is the number of characters of chunk text kept in answer evidence.
const EvidenceLength = 200

// Engine runs retrieval and retrieval-augmented generation.
type Engine struct {
	storage   storage.Storage
	embedder  embedding.Embedder
	store     *vector.Store
	generator llm.Generator
	logger    *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine. generator may be nil for a retrieval-only engine.
func NewEngine(
	storage storage.Storage,
	embedder embedding.Embedder,
	store *vector.Store,
	generator llm.Generator,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		storage:   storage,
		embedder:  embedder,
		store:     store,
		generator: generator,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Retrieve embeds query and returns the topK closest chunks, restricted to documentIDs
// when any are given.
func (e *Engine) Retrieve(ctx context.Context, query string, topK int, documentIDs []string) ([]vector.Result, error) {
	queryEmbedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	results, err := e.store.Search(ctx, queryEmbedding, topK, documentIDs...)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	return results, nil
}

// Search runs retrieval only and returns ranked chunks.
func (e *Engine) Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	startTime := time.Now()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	results, err := e.Retrieve(ctx, req.Query, req.TopK, req.DocumentIDs)
	if err != nil {
		return nil, err
	}
	response := &models.SearchResponse{
		Query:   req.Query,
		Results: make([]*models.RetrievedChunk, 0, len(results)),
		Total:   len(results),
	}
	for i, r := range results {
		response.Results = append(response.Results, &models.RetrievedChunk{
			ChunkID:    r.Metadata.ChunkID,
			DocumentID: r.Metadata.DocumentID,
			ChunkIndex: r.Metadata.ChunkIndex,
			Text:       r.Metadata.Text,
			Tokens:     r.Metadata.TokenCount,
			Score:      r.Score,
			Rank:       i + 1,
		})
	}
	response.QueryTime = time.Since(startTime).Milliseconds()
	return response, nil
}

// Answer retrieves context for req and generates an answer from it. Every answered query
// is recorded in the query log.
func (e *Engine) Answer(ctx context.Context, req *models.QueryRequest) (*models.QueryResponse, error) {
	if e.generator == nil {
		return nil, errors.New("no generator configured")
	}
	startTime := time.Now()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	model := req.Model
	if model == "" {
		model = e.generator.DefaultModel()
	}

	results, err := e.Retrieve(ctx, req.Query, req.TopK, req.DocumentIDs)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNoRelevantChunks
	}
	retrieval := time.Since(startTime)

	gen, err := e.generator.Generate(ctx, llm.Request{Prompt: BuildPrompt(req.Query, results), Model: model})
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}
	latency := time.Since(startTime)

	resp := &models.QueryResponse{
		ID:       NewQueryLogID(),
		Query:    req.Query,
		Approach: models.ApproachStandard,
		Model:    gen.Model,
		Response: gen.Text,
		Evidence: make([]*models.Evidence, 0, len(results)),
		Metrics: models.Metrics{
			TokensInput:  gen.PromptTokens,
			TokensOutput: gen.OutputTokens,
			Cost:         gen.Cost,
			LatencyMS:    latency.Milliseconds(),
			ChunksUsed:   len(results),
			RetrievalMS:  retrieval.Milliseconds(),
			GenerationMS: gen.Latency.Milliseconds(),
		},
	}
	for _, r := range results {
		resp.Evidence = append(resp.Evidence, &models.Evidence{
			ChunkID:    r.Metadata.ChunkID,
			DocumentID: r.Metadata.DocumentID,
			Text:       utils.Truncate(r.Metadata.Text, EvidenceLength),
			Score:      r.Score,
		})
	}

	queryLog := &models.QueryLog{
		ID:           resp.ID,
		Query:        req.Query,
		Approach:     resp.Approach,
		Model:        resp.Model,
		DocumentIDs:  req.DocumentIDs,
		Response:     resp.Response,
		TokensInput:  resp.Metrics.TokensInput,
		TokensOutput: resp.Metrics.TokensOutput,
		Cost:         resp.Metrics.Cost,
		LatencyMS:    resp.Metrics.LatencyMS,
	}
	if err := e.storage.CreateQueryLog(ctx, queryLog); err != nil {
		e.logger.Warn("failed to write query log", zap.String("id", resp.ID), zap.Error(err))
	}
	e.logger.Info("query answered",
		zap.String("id", resp.ID),
		zap.String("model", resp.Model),
		zap.Int("chunks", len(results)),
		zap.Int64("latency_ms", resp.Metrics.LatencyMS))
	return resp, nil
}

// BuildPrompt formats the question and its numbered context chunks.
func BuildPrompt(query string, results []vector.Result) string {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("[%d] %s", i+1, r.Metadata.Text)
	}
	return "Based on the following context, answer the question.\n\n" +
		"Context:\n" + strings.Join(parts, "\n\n") + "\n\n" +
		"Question: " + query + "\n\n" +
		"Answer:"
}

// NewQueryLogID returns "log-" followed by 12 hex digits.
func NewQueryLogID() string {
	return "log-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// Models lists the generator's models, or nil without a generator.
func (e *Engine) Models() []string {
	if e.generator == nil {
		return nil
	}
	return e.generator.Models()
}
