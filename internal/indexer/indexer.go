// Package indexer turns uploaded files into indexed chunks: it stores uploads, extracts and
// chunks their text, embeds the chunks and records them in the vector store and the
// metadata database.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/contextrag/internal/config"
	"github.com/hyperjump/contextrag/internal/embedding"
	"github.com/hyperjump/contextrag/internal/extract"
	"github.com/hyperjump/contextrag/internal/fileid"
	"github.com/hyperjump/contextrag/internal/models"
	"github.com/hyperjump/contextrag/internal/storage"
	"github.com/hyperjump/contextrag/internal/vector"
)

var (
	// ErrInvalidUpload is returned for uploads without a usable filename.
	ErrInvalidUpload = errors.New("invalid upload")
	// ErrExtensionNotAllowed is returned by IngestFile for filtered extensions.
	ErrExtensionNotAllowed = errors.New("extension not allowed")
)

// ProcessResult summarizes one processed document.
type ProcessResult struct {
	DocumentID    string                `json:"document_id"`
	Status        models.DocumentStatus `json:"status"`
	ChunksCreated int                   `json:"chunks_created"`
	ZeroNorm      int                   `json:"zero_norm_vectors,omitempty"`
}

// Indexer runs the upload/process/delete pipeline.
type Indexer struct {
	storage      storage.Storage
	embedder     embedding.Embedder
	store        *vector.Store
	chunker      *Chunker
	extractor    *extract.Extractor
	uploadDir    string
	snapshotName string
	logger       *zap.Logger

	// mu serializes document mutations so a document's vectors, chunks and status move together.
	mu sync.Mutex
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithAutosave saves the vector store as snapshot name after every document change.
// An empty name disables autosave.
func WithAutosave(name string) IndexerOption {
	return func(idx *Indexer) { idx.snapshotName = name }
}

// NewIndexer creates an indexer. extractor may be nil, in which case files are read as plain text.
func NewIndexer(
	storage storage.Storage,
	embedder embedding.Embedder,
	store *vector.Store,
	chunking config.ChunkingConfig,
	uploadDir string,
	extractor *extract.Extractor,
	opts ...IndexerOption,
) *Indexer {
	idx := &Indexer{
		storage:   storage,
		embedder:  embedder,
		store:     store,
		chunker:   NewChunker(chunking.ChunkSize, chunking.ChunkOverlap),
		extractor: extractor,
		uploadDir: uploadDir,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// NewDocumentID returns a fresh upload document id, "doc-" followed by 12 hex digits.
func NewDocumentID() string {
	return "doc-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// Upload stores r as a new document in the upload directory with status uploaded.
// The document is not indexed until Process is called.
func (idx *Indexer) Upload(ctx context.Context, filename, documentType string, r io.Reader) (*models.Document, error) {
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		return nil, fmt.Errorf("%w: missing filename", ErrInvalidUpload)
	}
	if documentType == "" {
		documentType = DefaultDocumentType
	}
	id := NewDocumentID()
	fileType := extract.FileType(filename)
	if err := os.MkdirAll(idx.uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	path := filepath.Join(idx.uploadDir, id+"."+fileType)
	size, err := writeFile(path, r)
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	doc := &models.Document{
		ID:           id,
		Filename:     filename,
		FileType:     fileType,
		DocumentType: documentType,
		Status:       models.StatusUploaded,
		FilePath:     path,
		FileSize:     size,
		Metadata:     map[string]interface{}{},
	}
	if err := idx.storage.CreateDocument(ctx, doc); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to store document: %w", err)
	}
	idx.logger.Info("document uploaded",
		zap.String("document_id", id),
		zap.String("filename", filename),
		zap.Int64("size", size))
	return doc, nil
}

func writeFile(path string, r io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, err
	}
	return n, nil
}

// Process extracts, chunks, embeds and indexes an uploaded document. Reprocessing replaces
// the document's previous chunks. On failure the document status becomes error and any
// previously indexed vectors and chunks are dropped.
func (idx *Indexer) Process(ctx context.Context, id string) (*ProcessResult, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	doc, err := idx.storage.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := idx.storage.UpdateDocumentStatus(ctx, id, models.StatusProcessing); err != nil {
		return nil, fmt.Errorf("failed to update status: %w", err)
	}
	started := time.Now()
	res, err := idx.process(ctx, doc)
	if err != nil {
		idx.logger.Error("document processing failed", zap.String("document_id", id), zap.Error(err))
		// ctx may already be canceled; the cleanup and status update must still land.
		removed, rerr := idx.removeDocument(context.WithoutCancel(ctx), id)
		if rerr != nil {
			idx.logger.Error("failed to drop stale vectors", zap.String("document_id", id), zap.Error(rerr))
		}
		if removed > 0 {
			idx.autosave()
		}
		if serr := idx.storage.UpdateDocumentStatus(context.WithoutCancel(ctx), id, models.StatusError); serr != nil {
			idx.logger.Error("failed to record error status", zap.String("document_id", id), zap.Error(serr))
		}
		return nil, err
	}
	if err := idx.storage.UpdateDocumentStatus(ctx, id, models.StatusIndexed); err != nil {
		return nil, fmt.Errorf("failed to update status: %w", err)
	}
	idx.autosave()
	res.Status = models.StatusIndexed
	idx.logger.Info("document indexed",
		zap.String("document_id", id),
		zap.Int("chunks", res.ChunksCreated),
		zap.Duration("elapsed", time.Since(started)))
	return res, nil
}

func (idx *Indexer) process(ctx context.Context, doc *models.Document) (*ProcessResult, error) {
	text, err := idx.extractContent(doc.FilePath)
	if err != nil {
		return nil, fmt.Errorf("extract content: %w", err)
	}
	text = Preprocess(text)
	chunks := idx.chunker.Chunk(text, ChunkContext{Filename: doc.Filename, DocumentType: doc.DocumentType})
	if len(chunks) == 0 {
		return nil, fmt.Errorf("extract content: %w", extract.ErrEmptyText)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.EnrichedText
	}
	vectors, err := idx.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}

	if _, err := idx.removeDocument(ctx, doc.ID); err != nil {
		return nil, err
	}
	metas := make([]vector.ChunkMetadata, len(chunks))
	rows := make([]*models.DocumentChunk, len(chunks))
	for i, c := range chunks {
		chunkID := ChunkID(doc.ID, i)
		metas[i] = vector.ChunkMetadata{
			ChunkID:    chunkID,
			DocumentID: doc.ID,
			ChunkIndex: c.Index,
			Text:       c.Text,
			TokenCount: c.Tokens,
		}
		rows[i] = &models.DocumentChunk{
			ID:           chunkID,
			DocumentID:   doc.ID,
			ChunkIndex:   c.Index,
			Text:         c.Text,
			EnrichedText: c.EnrichedText,
			Tokens:       c.Tokens,
			EmbeddingID:  chunkID,
		}
	}
	inserted, err := idx.store.Insert(ctx, vectors, metas)
	if err != nil {
		return nil, fmt.Errorf("failed to index vectors: %w", err)
	}
	if err := idx.storage.BatchCreateChunks(ctx, rows); err != nil {
		// keep the index and the chunk table in step
		if _, derr := idx.store.DeleteDocument(context.WithoutCancel(ctx), doc.ID); derr != nil {
			idx.logger.Error("failed to roll back vectors", zap.String("document_id", doc.ID), zap.Error(derr))
		}
		return nil, fmt.Errorf("failed to store chunks: %w", err)
	}
	return &ProcessResult{
		DocumentID:    doc.ID,
		ChunksCreated: len(chunks),
		ZeroNorm:      len(inserted.ZeroNorm),
	}, nil
}

// removeDocument drops a document's vectors and chunk rows and returns the number of
// vectors removed. Missing vectors are not an error.
func (idx *Indexer) removeDocument(ctx context.Context, id string) (int, error) {
	removed, err := idx.store.DeleteDocument(ctx, id)
	if err != nil && !errors.Is(err, vector.ErrDocumentNotFound) {
		return 0, fmt.Errorf("failed to delete from vector index: %w", err)
	}
	if removed > 0 {
		idx.logger.Debug("previous vectors removed", zap.String("document_id", id), zap.Int("count", removed))
	}
	if err := idx.storage.DeleteChunksByDocumentID(ctx, id); err != nil {
		return removed, fmt.Errorf("failed to delete chunks: %w", err)
	}
	return removed, nil
}

const (
	metaKeySourcePath  = "source_path"
	metaKeySourceMtime = "source_mtime"
	metaKeySourceSize  = "source_size"
)

// IngestFile registers and processes a file in place (no copy into the upload directory).
// The document ID is derived from the absolute path so re-ingesting updates the same
// document; an unchanged file (same mtime and size) is skipped and reports skipped=true.
// If allowedExts is non-empty the extension must be in it (case-insensitive).
func (idx *Indexer) IngestFile(ctx context.Context, path string, allowedExts []string) (docID string, skipped bool, err error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", false, fmt.Errorf("absolute path: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(absPath))
	if len(allowedExts) > 0 && !extensionAllowed(ext, allowedExts) {
		return "", false, fmt.Errorf("%w: %q", ErrExtensionNotAllowed, ext)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", false, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", false, fmt.Errorf("not a regular file: %s", absPath)
	}
	docID = fileid.FileDocID(absPath)
	if idx.unchanged(ctx, absPath, docID, info) {
		idx.logger.Debug("skipping unchanged file", zap.String("path", absPath))
		return docID, true, nil
	}

	idx.mu.Lock()
	if _, err := idx.removeDocument(ctx, docID); err != nil {
		idx.mu.Unlock()
		return "", false, err
	}
	if err := idx.storage.DeleteDocument(ctx, docID); err != nil {
		idx.mu.Unlock()
		return "", false, fmt.Errorf("failed to replace document: %w", err)
	}
	doc := &models.Document{
		ID:           docID,
		Filename:     filepath.Base(absPath),
		FileType:     extract.FileType(absPath),
		DocumentType: DefaultDocumentType,
		Status:       models.StatusUploaded,
		FilePath:     absPath,
		FileSize:     info.Size(),
		Metadata: map[string]interface{}{
			metaKeySourcePath:  absPath,
			metaKeySourceMtime: strconv.FormatInt(info.ModTime().UnixNano(), 10),
			metaKeySourceSize:  strconv.FormatInt(info.Size(), 10),
		},
	}
	err = idx.storage.CreateDocument(ctx, doc)
	idx.mu.Unlock()
	if err != nil {
		return "", false, fmt.Errorf("failed to store document: %w", err)
	}
	if _, err := idx.Process(ctx, docID); err != nil {
		return docID, false, err
	}
	return docID, false, nil
}

// unchanged reports whether docID is indexed from absPath with the same mtime and size.
func (idx *Indexer) unchanged(ctx context.Context, absPath, docID string, info os.FileInfo) bool {
	doc, err := idx.storage.GetDocument(ctx, docID)
	if err != nil || doc.Status != models.StatusIndexed || doc.Metadata == nil {
		return false
	}
	if doc.Metadata[metaKeySourcePath] != absPath {
		return false
	}
	// Stored as strings: UnixNano exceeds float64 precision after a JSON round trip.
	return metadataInt64(doc.Metadata, metaKeySourceMtime) == info.ModTime().UnixNano() &&
		metadataInt64(doc.Metadata, metaKeySourceSize) == info.Size()
}

func metadataInt64(m map[string]interface{}, key string) int64 {
	switch n := m[key].(type) {
	case string:
		x, _ := strconv.ParseInt(n, 10, 64)
		return x
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// IngestDirectory walks dir recursively and ingests each regular file whose extension is
// in allowedExts (all files when empty). It returns the number of files processed (skipped
// files excluded) and stops at the first error.
func (idx *Indexer) IngestDirectory(ctx context.Context, dir string, allowedExts []string) (int, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("not a directory: %s", absDir)
	}
	n := 0
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if len(allowedExts) > 0 && !extensionAllowed(filepath.Ext(path), allowedExts) {
			return nil
		}
		_, skipped, err := idx.IngestFile(ctx, path, allowedExts)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if !skipped {
			n++
		}
		return nil
	})
	return n, err
}

func (idx *Indexer) extractContent(path string) (string, error) {
	if idx.extractor != nil {
		return idx.extractor.Extract(path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}

// DeleteDocument removes a document's vectors, chunks and record, and its file when the
// file lives in the upload directory. A document unknown to both the database and the
// vector store returns storage.ErrNotFound.
func (idx *Indexer) DeleteDocument(ctx context.Context, id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	doc, getErr := idx.storage.GetDocument(ctx, id)
	if getErr != nil && !errors.Is(getErr, storage.ErrNotFound) {
		return getErr
	}
	removed, err := idx.store.DeleteDocument(ctx, id)
	if err != nil && !errors.Is(err, vector.ErrDocumentNotFound) {
		return fmt.Errorf("failed to delete from vector index: %w", err)
	}
	if doc == nil && removed == 0 {
		return fmt.Errorf("document %s: %w", id, storage.ErrNotFound)
	}
	if err := idx.storage.DeleteChunksByDocumentID(ctx, id); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if err := idx.storage.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if doc != nil && idx.ownsFile(doc.FilePath) {
		if err := os.Remove(doc.FilePath); err != nil && !os.IsNotExist(err) {
			idx.logger.Warn("failed to remove uploaded file", zap.String("path", doc.FilePath), zap.Error(err))
		}
	}
	idx.autosave()
	idx.logger.Info("document deleted", zap.String("document_id", id), zap.Int("vectors_removed", removed))
	return nil
}

// ownsFile reports whether path is inside the upload directory.
func (idx *Indexer) ownsFile(path string) bool {
	if path == "" || idx.uploadDir == "" {
		return false
	}
	rel, err := filepath.Rel(idx.uploadDir, path)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

// autosave persists the vector store. A failed save is logged; the in-memory index stays
// authoritative and the next save retries.
func (idx *Indexer) autosave() {
	if idx.snapshotName == "" {
		return
	}
	if err := idx.store.Save(idx.snapshotName); err != nil {
		idx.logger.Error("index autosave failed", zap.String("snapshot", idx.snapshotName), zap.Error(err))
	}
}
