// Package extract provides text extraction from uploaded document formats.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrEmptyText is returned when a document yields no text after extraction.
var ErrEmptyText = errors.New("no text extracted")

// SupportedExtensions lists the formats with a dedicated extractor. Other extensions are
// read as plain text.
var SupportedExtensions = []string{".pdf", ".docx", ".odt", ".rtf", ".xlsx", ".csv", ".txt", ".md"}

// Extractor extracts plain text from document files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads the file at path and returns its text content.
func (e *Extractor) Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, filepath.Ext(path))
}

// ExtractBytes extracts text from content based on the given extension (with leading dot).
// The result is trimmed; a document with no text returns ErrEmptyText.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	var text string
	var err error
	switch strings.ToLower(ext) {
	case ".pdf":
		text, err = extractPDF(content)
	case ".docx":
		text, err = extractDOCX(content)
	case ".odt", ".rtf":
		text, err = extractOpenDocument(content)
	case ".xlsx":
		text, err = extractExcel(content)
	case ".csv":
		text, err = extractCSV(content)
	default:
		text, err = extractPlain(content)
	}
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}
	return text, nil
}

// FileType returns the lower-case extension of filename without the dot, or "txt".
func FileType(filename string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if ext == "" {
		return "txt"
	}
	return ext
}
