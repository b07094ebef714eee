package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/contextrag/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		file_type TEXT,
		document_type TEXT,
		status TEXT NOT NULL DEFAULT 'uploaded',
		processed INTEGER NOT NULL DEFAULT 0,
		file_path TEXT,
		file_size INTEGER,
		metadata TEXT,
		upload_date TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_documents_upload_date ON documents(upload_date);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		enriched_text TEXT,
		tokens INTEGER,
		embedding_id TEXT,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks(document_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_document_chunk ON chunks(document_id, chunk_index);

	CREATE TABLE IF NOT EXISTS query_logs (
		id TEXT PRIMARY KEY,
		query TEXT NOT NULL,
		approach TEXT NOT NULL,
		model TEXT,
		document_ids TEXT,
		response TEXT,
		tokens_input INTEGER,
		tokens_output INTEGER,
		cost REAL,
		latency_ms INTEGER,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_query_logs_created_at ON query_logs(created_at);
	`
	_, err := db.Exec(schema)
	return err
}

const documentColumns = `id, filename, file_type, document_type, status, processed, file_path, file_size, metadata, upload_date`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var doc models.Document
	var status string
	var fileType, docType, filePath, metadataJSON sql.NullString
	var fileSize sql.NullInt64
	if err := row.Scan(&doc.ID, &doc.Filename, &fileType, &docType, &status, &doc.Processed,
		&filePath, &fileSize, &metadataJSON, &doc.UploadDate); err != nil {
		return nil, err
	}
	doc.FileType = fileType.String
	doc.DocumentType = docType.String
	doc.Status = models.DocumentStatus(status)
	doc.FilePath = filePath.String
	doc.FileSize = fileSize.Int64
	if metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &doc, nil
}

// CreateDocument inserts a document. UploadDate and Status are set when empty.
func (s *SQLiteStorage) CreateDocument(ctx context.Context, doc *models.Document) error {
	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if doc.UploadDate.IsZero() {
		doc.UploadDate = time.Now().UTC()
	}
	if doc.Status == "" {
		doc.Status = models.StatusUploaded
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Filename, doc.FileType, doc.DocumentType, string(doc.Status), doc.Processed,
		doc.FilePath, doc.FileSize, string(metadataJSON), doc.UploadDate,
	)
	return err
}

// GetDocument returns a document by ID with its chunk count.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE document_id = ?`, id).Scan(&doc.ChunkCount); err != nil {
		return nil, err
	}
	return doc, nil
}

// UpdateDocumentStatus sets the status; processed follows status == indexed.
func (s *SQLiteStorage) UpdateDocumentStatus(ctx context.Context, id string, status models.DocumentStatus) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, processed = ? WHERE id = ?`,
		string(status), status == models.StatusIndexed, id,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteDocument removes a document by ID. Its chunks are removed by the foreign key cascade.
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	return err
}

// ListDocuments returns documents, newest first, with offset and limit.
func (s *SQLiteStorage) ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents ORDER BY upload_date DESC, id LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// GetChunk returns a chunk by ID.
func (s *SQLiteStorage) GetChunk(ctx context.Context, id string) (*models.DocumentChunk, error) {
	var chunk models.DocumentChunk
	var enriched, embeddingID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, document_id, chunk_index, text, enriched_text, tokens, embedding_id
		 FROM chunks WHERE id = ?`, id,
	).Scan(&chunk.ID, &chunk.DocumentID, &chunk.ChunkIndex, &chunk.Text, &enriched, &chunk.Tokens, &embeddingID)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chunk %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	chunk.EnrichedText = enriched.String
	chunk.EmbeddingID = embeddingID.String
	return &chunk, nil
}

// GetChunksByDocumentID returns all chunks for a document ordered by chunk_index.
func (s *SQLiteStorage) GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.DocumentChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, chunk_index, text, enriched_text, tokens, embedding_id
		 FROM chunks WHERE document_id = ? ORDER BY chunk_index`,
		docID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*models.DocumentChunk
	for rows.Next() {
		var chunk models.DocumentChunk
		var enriched, embeddingID sql.NullString
		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.ChunkIndex, &chunk.Text,
			&enriched, &chunk.Tokens, &embeddingID); err != nil {
			return nil, err
		}
		chunk.EnrichedText = enriched.String
		chunk.EmbeddingID = embeddingID.String
		chunks = append(chunks, &chunk)
	}
	return chunks, rows.Err()
}

// DeleteChunksByDocumentID removes all chunks for a document.
func (s *SQLiteStorage) DeleteChunksByDocumentID(ctx context.Context, docID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, docID)
	return err
}

// BatchCreateChunks inserts multiple chunks in a transaction.
func (s *SQLiteStorage) BatchCreateChunks(ctx context.Context, chunks []*models.DocumentChunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, document_id, chunk_index, text, enriched_text, tokens, embedding_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.ChunkIndex, c.Text,
			c.EnrichedText, c.Tokens, c.EmbeddingID); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// CreateQueryLog inserts a query log. CreatedAt is set when zero.
func (s *SQLiteStorage) CreateQueryLog(ctx context.Context, log *models.QueryLog) error {
	docIDs, err := json.Marshal(log.DocumentIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal document ids: %w", err)
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO query_logs (id, query, approach, model, document_ids, response,
		 tokens_input, tokens_output, cost, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.Query, log.Approach, log.Model, string(docIDs), log.Response,
		log.TokensInput, log.TokensOutput, log.Cost, log.LatencyMS, log.CreatedAt,
	)
	return err
}

// ListQueryLogs returns the most recent query logs, newest first.
func (s *SQLiteStorage) ListQueryLogs(ctx context.Context, limit int) ([]*models.QueryLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, query, approach, model, document_ids, response,
		 tokens_input, tokens_output, cost, latency_ms, created_at
		 FROM query_logs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*models.QueryLog
	for rows.Next() {
		var l models.QueryLog
		var model, docIDs, response sql.NullString
		if err := rows.Scan(&l.ID, &l.Query, &l.Approach, &model, &docIDs, &response,
			&l.TokensInput, &l.TokensOutput, &l.Cost, &l.LatencyMS, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.Model = model.String
		l.Response = response.String
		if docIDs.String != "" && docIDs.String != "null" {
			if err := json.Unmarshal([]byte(docIDs.String), &l.DocumentIDs); err != nil {
				return nil, fmt.Errorf("failed to unmarshal document ids: %w", err)
			}
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

// CountDocuments returns the total number of documents.
func (s *SQLiteStorage) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}

// CountChunks returns the total number of chunks.
func (s *SQLiteStorage) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
