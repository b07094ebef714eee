package models

import "time"

// RetrievedChunk is one ranked chunk returned by retrieval.
type RetrievedChunk struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Tokens     int     `json:"tokens"`
	Score      float64 `json:"score"`
	Rank       int     `json:"rank"`
}

// SearchResponse is the response for a retrieval-only request.
type SearchResponse struct {
	Query     string            `json:"query"`
	Results   []*RetrievedChunk `json:"results"`
	Total     int               `json:"total"`
	QueryTime int64             `json:"query_time_ms"`
}

// Evidence is a shortened chunk cited in an answer.
type Evidence struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// Metrics describes the cost of answering one query.
type Metrics struct {
	TokensInput  int     `json:"tokens_input"`
	TokensOutput int     `json:"tokens_output"`
	Cost         float64 `json:"cost"`
	LatencyMS    int64   `json:"latency_ms"`
	ChunksUsed   int     `json:"chunks_used"`
	RetrievalMS  int64   `json:"retrieval_ms"`
	GenerationMS int64   `json:"generation_ms"`
}

// QueryResponse is the answer to a QueryRequest.
type QueryResponse struct {
	ID       string      `json:"id"`
	Query    string      `json:"query"`
	Approach string      `json:"approach"`
	Model    string      `json:"model"`
	Response string      `json:"response"`
	Evidence []*Evidence `json:"evidence"`
	Metrics  Metrics     `json:"metrics"`
}

// QueryLog is a persisted record of one answered query.
type QueryLog struct {
	ID           string    `json:"id" db:"id"`
	Query        string    `json:"query" db:"query"`
	Approach     string    `json:"approach" db:"approach"`
	Model        string    `json:"model" db:"model"`
	DocumentIDs  []string  `json:"document_ids" db:"document_ids"`
	Response     string    `json:"response" db:"response"`
	TokensInput  int       `json:"tokens_input" db:"tokens_input"`
	TokensOutput int       `json:"tokens_output" db:"tokens_output"`
	Cost         float64   `json:"cost" db:"cost"`
	LatencyMS    int64     `json:"latency_ms" db:"latency_ms"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// QualityWindow is how many recent query logs the quality metrics cover.
const QualityWindow = 50

// ApproachMetrics aggregates the query logs of one retrieval approach.
type ApproachMetrics struct {
	Count        int     `json:"count"`
	AvgCost      float64 `json:"avg_cost"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	TokensInput  int     `json:"tokens_input"`
	TokensOutput int     `json:"tokens_output"`
}

// QualityMetrics summarizes recent queries, per approach.
type QualityMetrics struct {
	TotalQueries int                         `json:"total_queries"`
	Approaches   map[string]*ApproachMetrics `json:"approaches"`
}

// SummarizeQueryLogs groups logs by approach and averages cost and latency.
// The standard approach is always present, with zero counts when no query used it.
func SummarizeQueryLogs(logs []*QueryLog) *QualityMetrics {
	m := &QualityMetrics{
		TotalQueries: len(logs),
		Approaches:   map[string]*ApproachMetrics{ApproachStandard: {}},
	}
	for _, l := range logs {
		a := m.Approaches[l.Approach]
		if a == nil {
			a = &ApproachMetrics{}
			m.Approaches[l.Approach] = a
		}
		a.Count++
		a.AvgCost += l.Cost
		a.AvgLatencyMS += float64(l.LatencyMS)
		a.TokensInput += l.TokensInput
		a.TokensOutput += l.TokensOutput
	}
	for _, a := range m.Approaches {
		if a.Count > 0 {
			a.AvgCost /= float64(a.Count)
			a.AvgLatencyMS /= float64(a.Count)
		}
	}
	return m
}
