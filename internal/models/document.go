// Package models defines core data structures for documents, chunks, queries and answers.
package models

import "time"

// DocumentStatus is the processing state of an uploaded document.
type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "uploaded"
	StatusProcessing DocumentStatus = "processing"
	StatusIndexed    DocumentStatus = "indexed"
	StatusError      DocumentStatus = "error"
)

// Document represents an uploaded document and its processing state.
type Document struct {
	ID           string                 `json:"id" db:"id"`
	Filename     string                 `json:"filename" db:"filename"`
	FileType     string                 `json:"file_type" db:"file_type"`
	DocumentType string                 `json:"document_type" db:"document_type"`
	Status       DocumentStatus         `json:"status" db:"status"`
	Processed    bool                   `json:"processed" db:"processed"`
	FilePath     string                 `json:"-" db:"file_path"`
	FileSize     int64                  `json:"file_size" db:"file_size"`
	Metadata     map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	UploadDate   time.Time              `json:"upload_date" db:"upload_date"`
	ChunkCount   int                    `json:"chunk_count,omitempty" db:"-"`
}

// DocumentChunk represents one chunk of a document. EnrichedText is the text that was
// embedded; Text is what is shown to users and the model.
type DocumentChunk struct {
	ID           string `json:"id" db:"id"`
	DocumentID   string `json:"document_id" db:"document_id"`
	ChunkIndex   int    `json:"chunk_index" db:"chunk_index"`
	Text         string `json:"text" db:"text"`
	EnrichedText string `json:"enriched_text,omitempty" db:"enriched_text"`
	Tokens       int    `json:"tokens" db:"tokens"`
	EmbeddingID  string `json:"embedding_id,omitempty" db:"embedding_id"`
}
