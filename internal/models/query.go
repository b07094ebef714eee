package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRequest is wrapped by request validation errors.
var ErrInvalidRequest = errors.New("invalid request")

const (
	DefaultTopK = 5
	MaxTopK     = 50
)

// ApproachStandard is the only retrieval approach: plain dense retrieval over chunks.
const ApproachStandard = "standard"

// QueryRequest is a question answered from the indexed documents.
type QueryRequest struct {
	Query       string   `json:"query"`
	DocumentIDs []string `json:"document_ids,omitempty"`
	Model       string   `json:"model,omitempty"`
	TopK        int      `json:"top_k,omitempty"`
}

// Validate ensures the request has a query and clamps TopK into [1, MaxTopK].
func (q *QueryRequest) Validate() error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrInvalidRequest)
	}
	if q.TopK <= 0 {
		q.TopK = DefaultTopK
	}
	if q.TopK > MaxTopK {
		q.TopK = MaxTopK
	}
	return nil
}

// SearchRequest is a retrieval-only query.
type SearchRequest struct {
	Query       string   `json:"query"`
	DocumentIDs []string `json:"document_ids,omitempty"`
	TopK        int      `json:"top_k,omitempty"`
}

// Validate ensures the request has a query and clamps TopK into [1, MaxTopK].
func (q *SearchRequest) Validate() error {
	r := QueryRequest{Query: q.Query, TopK: q.TopK}
	if err := r.Validate(); err != nil {
		return err
	}
	q.Query, q.TopK = r.Query, r.TopK
	return nil
}
