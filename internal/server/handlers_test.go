package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hyperjump/contextrag/internal/config"
	"github.com/hyperjump/contextrag/internal/embedding"
	"github.com/hyperjump/contextrag/internal/extract"
	"github.com/hyperjump/contextrag/internal/indexer"
	"github.com/hyperjump/contextrag/internal/llm"
	"github.com/hyperjump/contextrag/internal/models"
	"github.com/hyperjump/contextrag/internal/search"
	"github.com/hyperjump/contextrag/internal/storage"
	"github.com/hyperjump/contextrag/internal/vector"
	"github.com/hyperjump/contextrag/internal/watcher"
)

const testDim = 256

type testEnv struct {
	srv     *Server
	handler http.Handler
	store   *vector.Store
	storage storage.Storage
	cfg     *config.Config
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Storage = config.StorageConfig{
		DatabasePath: filepath.Join(dir, "rag.db"),
		SnapshotDir:  filepath.Join(dir, "indices"),
		UploadDir:    filepath.Join(dir, "uploads"),
	}
	cfg.Embedding.Provider = "mock"
	cfg.Embedding.Dimensions = testDim
	cfg.LLM.Provider = "echo"
	cfg.Chunking = config.ChunkingConfig{ChunkSize: 20, ChunkOverlap: 2}

	st, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	vs, err := vector.NewStore(testDim, vector.NewSnapshotStore(cfg.Storage.SnapshotDir))
	require.NoError(t, err)
	emb := embedding.NewMockEmbedder(testDim)
	logger := zap.NewNop()

	idx := indexer.NewIndexer(st, emb, vs, cfg.Chunking, cfg.Storage.UploadDir, extract.NewExtractor(),
		indexer.WithLogger(logger))
	engine := search.NewEngine(st, emb, vs, llm.EchoGenerator{}, search.WithLogger(logger))
	srv := NewServer(engine, idx, st, vs, cfg, logger, opts...)
	return &testEnv{srv: srv, handler: srv.Router(), store: vs, storage: st, cfg: cfg}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *testEnv) upload(t *testing.T, filename, content, query string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("document_type", "manual"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/upload"+query, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

// ingest uploads and processes a document and returns its id.
func (e *testEnv) ingest(t *testing.T, filename, content string) string {
	t.Helper()
	w := e.upload(t, filename, content, "?process=true")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var out struct {
		DocumentID string `json:"document_id"`
		Status     string `json:"status"`
	}
	decode(t, w, &out)
	require.Equal(t, "indexed", out.Status)
	return out.DocumentID
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(v), w.Body.String())
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	env.ingest(t, "a.txt", "some words to index")

	w := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
		Services  struct {
			Database    string `json:"database"`
			VectorStore struct {
				Vectors int `json:"vectors"`
			} `json:"vector_store"`
		} `json:"services"`
	}
	decode(t, w, &out)
	assert.Equal(t, "healthy", out.Status)
	assert.NotEmpty(t, out.Timestamp)
	assert.Equal(t, "ok", out.Services.Database)
	assert.Equal(t, 1, out.Services.VectorStore.Vectors)
}

func TestUploadAndProcess(t *testing.T) {
	env := newTestEnv(t)
	w := env.upload(t, "guide.md", "install the package then run the server", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var up struct {
		DocumentID string `json:"document_id"`
		Filename   string `json:"filename"`
		Status     string `json:"status"`
	}
	decode(t, w, &up)
	assert.Equal(t, "guide.md", up.Filename)
	assert.Equal(t, "uploaded", up.Status)

	w = env.do(t, http.MethodGet, "/api/v1/documents/"+up.DocumentID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var doc models.Document
	decode(t, w, &doc)
	assert.Equal(t, "manual", doc.DocumentType)
	assert.False(t, doc.Processed)

	w = env.do(t, http.MethodPost, "/api/v1/documents/"+up.DocumentID+"/process", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var proc struct {
		Status        string `json:"status"`
		ChunksCreated int    `json:"chunks_created"`
	}
	decode(t, w, &proc)
	assert.Equal(t, "indexed", proc.Status)
	assert.Equal(t, 1, proc.ChunksCreated)

	w = env.do(t, http.MethodGet, "/api/v1/documents/"+up.DocumentID+"/chunks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var chunks struct {
		Chunks []models.DocumentChunk `json:"chunks"`
	}
	decode(t, w, &chunks)
	require.Len(t, chunks.Chunks, 1)
	assert.Equal(t, "install the package then run the server", chunks.Chunks[0].Text)
}

func TestUpload_MissingFile(t *testing.T) {
	env := newTestEnv(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("document_type", "x"))
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProcess_EmptyDocument(t *testing.T) {
	env := newTestEnv(t)
	w := env.upload(t, "blank.txt", "   ", "?process=true")
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
}

func TestProcess_NotFound(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/v1/documents/doc-missing/process", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListDocuments(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		w := env.upload(t, fmt.Sprintf("f%d.txt", i), "content", "")
		require.Equal(t, http.StatusCreated, w.Code)
	}
	w := env.do(t, http.MethodGet, "/api/v1/documents?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Documents []models.Document `json:"documents"`
		Total     int               `json:"total"`
	}
	decode(t, w, &out)
	assert.Len(t, out.Documents, 2)
	assert.Equal(t, 3, out.Total)

	w = env.do(t, http.MethodGet, "/api/v1/documents?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetDocument_NotFound(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/v1/documents/doc-nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	var out map[string]string
	decode(t, w, &out)
	assert.Contains(t, out["error"], "not found")
}

func TestDeleteDocument(t *testing.T) {
	env := newTestEnv(t)
	id := env.ingest(t, "a.txt", "to be deleted soon")

	w := env.do(t, http.MethodDelete, "/api/v1/documents/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Zero(t, env.store.Stats().TotalVectors)

	w = env.do(t, http.MethodDelete, "/api/v1/documents/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t)
	refunds := env.ingest(t, "refunds.txt", "refund requests are accepted within thirty days")
	env.ingest(t, "shipping.txt", "orders ship from the warehouse in five days")

	w := env.do(t, http.MethodPost, "/api/v1/search", models.SearchRequest{Query: "refund requests", TopK: 1})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out models.SearchResponse
	decode(t, w, &out)
	require.Len(t, out.Results, 1)
	assert.Equal(t, refunds, out.Results[0].DocumentID)

	w = env.do(t, http.MethodPost, "/api/v1/search", models.SearchRequest{Query: ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRAGStandard(t *testing.T) {
	env := newTestEnv(t)
	id := env.ingest(t, "refunds.txt", "refund requests are accepted within thirty days")

	w := env.do(t, http.MethodPost, "/api/v1/rag/standard", models.QueryRequest{Query: "refund window?"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out models.QueryResponse
	decode(t, w, &out)
	assert.Equal(t, "[1] refund requests are accepted within thirty days", out.Response)
	assert.Equal(t, llm.EchoModel, out.Model)
	require.Len(t, out.Evidence, 1)
	assert.Equal(t, id, out.Evidence[0].DocumentID)

	w = env.do(t, http.MethodGet, "/api/v1/queries?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var logs struct {
		Queries []models.QueryLog `json:"queries"`
	}
	decode(t, w, &logs)
	require.Len(t, logs.Queries, 1)
	assert.Equal(t, out.ID, logs.Queries[0].ID)
}

func TestRAGStandard_Errors(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/v1/rag/standard", models.QueryRequest{Query: "anything"})
	assert.Equal(t, http.StatusNotFound, w.Code, "empty index has no relevant chunks")

	env.ingest(t, "a.txt", "some content")
	w = env.do(t, http.MethodPost, "/api/v1/rag/standard", models.QueryRequest{Query: "content", Model: "gpt-4o"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQualityMetrics(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/v1/quality/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var empty models.QualityMetrics
	decode(t, w, &empty)
	assert.Zero(t, empty.TotalQueries)
	require.Contains(t, empty.Approaches, models.ApproachStandard)

	env.ingest(t, "refunds.txt", "refund requests are accepted within thirty days")
	for _, q := range []string{"refund window?", "refunds accepted?"} {
		w = env.do(t, http.MethodPost, "/api/v1/rag/standard", models.QueryRequest{Query: q})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodGet, "/api/v1/quality/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out models.QualityMetrics
	decode(t, w, &out)
	assert.Equal(t, 2, out.TotalQueries)
	require.Contains(t, out.Approaches, models.ApproachStandard)
	assert.Equal(t, 2, out.Approaches[models.ApproachStandard].Count)
}

func TestModels(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/v1/models", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Models []string `json:"models"`
	}
	decode(t, w, &out)
	assert.Equal(t, []string{llm.EchoModel}, out.Models)
}

func TestIndexStats(t *testing.T) {
	env := newTestEnv(t)
	env.ingest(t, "a.txt", "one two three")
	w := env.do(t, http.MethodGet, "/api/v1/index/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Index     vector.Stats      `json:"index"`
		Documents int               `json:"documents"`
		Chunks    int               `json:"chunks"`
		DiskUsage storage.DiskUsage `json:"disk_usage"`
	}
	decode(t, w, &out)
	assert.Equal(t, 1, out.Index.TotalVectors)
	assert.Equal(t, testDim, out.Index.Dimension)
	assert.Equal(t, "flat", out.Index.IndexType)
	assert.Equal(t, 1, out.Documents)
	assert.Equal(t, 1, out.Chunks)
	assert.Positive(t, out.DiskUsage.DatabaseBytes)
}

func TestSaveLoadSnapshots(t *testing.T) {
	env := newTestEnv(t)
	env.ingest(t, "a.txt", "persist me")

	w := env.do(t, http.MethodPost, "/api/v1/index/save", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = env.do(t, http.MethodPost, "/api/v1/index/save", snapshotRequest{Name: "backup"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/v1/index/snapshots", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Snapshots []string `json:"snapshots"`
	}
	decode(t, w, &list)
	assert.Equal(t, []string{"backup", env.cfg.Index.SnapshotName}, list.Snapshots)

	env.ingest(t, "b.txt", "added after the backup")
	require.Equal(t, 2, env.store.Stats().TotalVectors)

	w = env.do(t, http.MethodPost, "/api/v1/index/load", snapshotRequest{Name: "backup"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, env.store.Stats().TotalVectors)

	w = env.do(t, http.MethodPost, "/api/v1/index/load", snapshotRequest{Name: "missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, http.MethodPost, "/api/v1/index/save", snapshotRequest{Name: "../escape"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type stubWatch struct {
	dirs []string
}

func (m *stubWatch) Directories() []string { return append([]string(nil), m.dirs...) }

func (m *stubWatch) AddDirectory(path string, _ bool) error {
	for _, d := range m.dirs {
		if d == path {
			return nil
		}
	}
	m.dirs = append(m.dirs, path)
	return nil
}

func (m *stubWatch) RemoveDirectory(path string) error {
	for i, d := range m.dirs {
		if d == path {
			m.dirs = append(m.dirs[:i], m.dirs[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *stubWatch) Stats() watcher.Stats { return watcher.Stats{Indexed: 3} }

func TestWatchDirectories(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	ws := &stubWatch{}
	env := newTestEnv(t, WithWatchService(ws, cfgPath))

	w := env.do(t, http.MethodPost, "/api/v1/watch/directories", map[string]interface{}{"path": dir})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/v1/watch/directories", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Directories []string `json:"directories"`
	}
	decode(t, w, &out)
	assert.Equal(t, []string{dir}, out.Directories)

	saved, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, []string{dir}, saved.Watch.Directories)

	w = env.do(t, http.MethodPost, "/api/v1/watch/directories", map[string]interface{}{"path": filepath.Join(dir, "nope")})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodDelete, "/api/v1/watch/directories?path="+dir, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, ws.dirs)
}

func TestWatchDirectories_Disabled(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/v1/watch/directories", nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", storage.ErrNotFound), http.StatusNotFound},
		{vector.ErrSnapshotNotFound, http.StatusNotFound},
		{search.ErrNoRelevantChunks, http.StatusNotFound},
		{fmt.Errorf("%w: empty", models.ErrInvalidRequest), http.StatusBadRequest},
		{&vector.DimensionMismatchError{Expected: 3, Actual: 2, Index: -1}, http.StatusBadRequest},
		{fmt.Errorf("extract: %w", extract.ErrEmptyText), http.StatusBadRequest},
		{vector.ErrUnsupportedWithoutVectorRetention, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
