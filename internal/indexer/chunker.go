package indexer

import (
	"fmt"
	"strings"
)

// DefaultDocumentType is used when an upload does not name a document type.
const DefaultDocumentType = "general"

// Chunk is one window of a document. EnrichedText carries the document context header and
// is what gets embedded; Text is what is stored and shown.
type Chunk struct {
	Index        int
	Text         string
	EnrichedText string
	Tokens       int
}

// ChunkContext describes the document a chunk comes from.
type ChunkContext struct {
	Filename     string
	DocumentType string
}

// Header returns the context line prepended to every chunk of the document.
func (c ChunkContext) Header() string {
	docType := c.DocumentType
	if docType == "" {
		docType = DefaultDocumentType
	}
	return fmt.Sprintf("Document: %s | Type: %s", c.Filename, docType)
}

// Chunker splits text into overlapping word-based chunks.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker creates a chunker with the given size and overlap (in words).
// An overlap that is not smaller than the size is reduced to size-1.
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize < 1 {
		chunkSize = 1
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize - 1
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// Chunk splits text into windows of chunkSize words, each starting chunkSize-chunkOverlap
// words after the previous one. The last window ends at the last word.
func (c *Chunker) Chunk(text string, cc ChunkContext) []Chunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	header := cc.Header()
	step := c.chunkSize - c.chunkOverlap
	var chunks []Chunk
	for start := 0; start < len(words); start += step {
		end := min(start+c.chunkSize, len(words))
		body := strings.Join(words[start:end], " ")
		chunks = append(chunks, Chunk{
			Index:        len(chunks),
			Text:         body,
			EnrichedText: header + "\n\n" + body,
			Tokens:       EstimateTokens(body),
		})
		if end == len(words) {
			break
		}
	}
	return chunks
}

// EstimateTokens approximates the token count of text at four characters per token.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// ChunkID returns the id of chunk i of document docID.
func ChunkID(docID string, i int) string {
	return fmt.Sprintf("chunk-%s-%d", docID, i)
}
