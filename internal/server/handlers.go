package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/contextrag/internal/config"
	"github.com/hyperjump/contextrag/internal/extract"
	"github.com/hyperjump/contextrag/internal/indexer"
	"github.com/hyperjump/contextrag/internal/llm"
	"github.com/hyperjump/contextrag/internal/models"
	"github.com/hyperjump/contextrag/internal/search"
	"github.com/hyperjump/contextrag/internal/storage"
	"github.com/hyperjump/contextrag/internal/vector"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	database := "ok"
	if _, err := s.storage.CountDocuments(r.Context()); err != nil {
		s.logger.Error("health: database check failed", zap.Error(err))
		database = "error: " + err.Error()
		status, code = "degraded", http.StatusServiceUnavailable
	}
	st := s.store.Stats()
	s.respondJSON(w, code, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"services": map[string]interface{}{
			"database": database,
			"vector_store": map[string]interface{}{
				"status":    "ok",
				"vectors":   st.TotalVectors,
				"documents": st.Documents,
			},
		},
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	docType := r.FormValue("document_type")
	s.logger.Debug("upload request", zap.String("filename", header.Filename), zap.String("document_type", docType))
	doc, err := s.indexer.Upload(r.Context(), header.Filename, docType, file)
	if err != nil {
		s.respondFailure(w, "upload failed", err)
		return
	}
	resp := map[string]interface{}{
		"document_id": doc.ID,
		"filename":    doc.Filename,
		"status":      doc.Status,
		"message":     "Document uploaded. Call /api/v1/documents/" + doc.ID + "/process",
	}
	if process, _ := strconv.ParseBool(r.URL.Query().Get("process")); process {
		res, err := s.indexer.Process(r.Context(), doc.ID)
		if err != nil {
			s.respondFailure(w, "processing failed", err)
			return
		}
		resp["status"] = res.Status
		resp["chunks_created"] = res.ChunksCreated
		resp["message"] = "Document uploaded and processed"
	}
	s.respondJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("process request", zap.String("id", id))
	res, err := s.indexer.Process(r.Context(), id)
	if err != nil {
		s.respondFailure(w, "processing failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"document_id":    res.DocumentID,
		"status":         res.Status,
		"chunks_created": res.ChunksCreated,
		"message":        "Document processed successfully",
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	offset, limit, ok := s.paging(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	docs, err := s.storage.ListDocuments(ctx, offset, limit)
	if err != nil {
		s.respondFailure(w, "list documents failed", err)
		return
	}
	total, err := s.storage.CountDocuments(ctx)
	if err != nil {
		s.respondFailure(w, "count documents failed", err)
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"documents": docs,
		"total":     total,
		"offset":    offset,
		"limit":     limit,
	})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.storage.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondFailure(w, "get document failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleGetChunks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if _, err := s.storage.GetDocument(ctx, id); err != nil {
		s.respondFailure(w, "get document failed", err)
		return
	}
	chunks, err := s.storage.GetChunksByDocumentID(ctx, id)
	if err != nil {
		s.respondFailure(w, "get chunks failed", err)
		return
	}
	if chunks == nil {
		chunks = []*models.DocumentChunk{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"document_id": id, "chunks": chunks})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("id", id))
	if err := s.indexer.DeleteDocument(r.Context(), id); err != nil {
		s.respondFailure(w, "deletion failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted", "message": "Document deleted"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("search request", zap.String("query", req.Query), zap.Int("top_k", req.TopK))
	resp, err := s.engine.Search(r.Context(), &req)
	if err != nil {
		s.respondFailure(w, "search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRAG(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("rag request", zap.String("query", req.Query), zap.String("model", req.Model))
	resp, err := s.engine.Answer(r.Context(), &req)
	if err != nil {
		s.respondFailure(w, "query failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"models": s.engine.Models()}
	if s.config != nil {
		resp["default"] = s.config.LLM.DefaultModel
		resp["embedding_model"] = s.config.Embedding.Model
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleQueries(w http.ResponseWriter, r *http.Request) {
	_, limit, ok := s.paging(w, r)
	if !ok {
		return
	}
	logs, err := s.storage.ListQueryLogs(r.Context(), limit)
	if err != nil {
		s.respondFailure(w, "list queries failed", err)
		return
	}
	if logs == nil {
		logs = []*models.QueryLog{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"queries": logs})
}

// handleQualityMetrics summarizes the most recent query logs per approach.
func (s *Server) handleQualityMetrics(w http.ResponseWriter, r *http.Request) {
	logs, err := s.storage.ListQueryLogs(r.Context(), models.QualityWindow)
	if err != nil {
		s.respondFailure(w, "list queries failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, models.SummarizeQueryLogs(logs))
}

func (s *Server) handleIndexStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docCount, err := s.storage.CountDocuments(ctx)
	if err != nil {
		s.respondFailure(w, "count documents failed", err)
		return
	}
	chunkCount, err := s.storage.CountChunks(ctx)
	if err != nil {
		s.respondFailure(w, "count chunks failed", err)
		return
	}
	resp := map[string]interface{}{
		"index":     s.store.Stats(),
		"documents": docCount,
		"chunks":    chunkCount,
	}
	if s.config != nil {
		resp["config"] = map[string]interface{}{
			"embedding_provider":   s.config.Embedding.Provider,
			"embedding_model":      s.config.Embedding.Model,
			"embedding_dimensions": s.config.Embedding.Dimensions,
			"chunk_size":           s.config.Chunking.ChunkSize,
			"chunk_overlap":        s.config.Chunking.ChunkOverlap,
			"oversample":           s.config.Index.Oversample,
			"snapshot_name":        s.config.Index.SnapshotName,
		}
		usage, err := storage.MeasureDiskUsage(s.config.Storage.DatabasePath,
			s.config.Storage.SnapshotDir, s.config.Storage.UploadDir)
		if err == nil {
			resp["disk_usage"] = usage
		} else {
			s.logger.Warn("disk usage unavailable", zap.Error(err))
		}
	}
	if s.watch != nil {
		resp["watcher"] = s.watch.Stats()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

type snapshotRequest struct {
	Name string `json:"name"`
}

// snapshotName reads an optional {"name": ...} body, falling back to the configured name.
func (s *Server) snapshotName(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req snapshotRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return "", false
		}
	}
	if req.Name == "" && s.config != nil {
		req.Name = s.config.Index.SnapshotName
	}
	if req.Name == "" {
		s.respondError(w, http.StatusBadRequest, "snapshot name is required")
		return "", false
	}
	return req.Name, true
}

func (s *Server) handleSaveIndex(w http.ResponseWriter, r *http.Request) {
	name, ok := s.snapshotName(w, r)
	if !ok {
		return
	}
	if err := s.store.Save(name); err != nil {
		s.respondFailure(w, "snapshot save failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "saved",
		"name":    name,
		"vectors": s.store.Stats().TotalVectors,
	})
}

func (s *Server) handleLoadIndex(w http.ResponseWriter, r *http.Request) {
	name, ok := s.snapshotName(w, r)
	if !ok {
		return
	}
	if err := s.store.Load(name); err != nil {
		s.respondFailure(w, "snapshot load failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "loaded",
		"name":    name,
		"vectors": s.store.Stats().TotalVectors,
	})
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.Snapshots()
	if err != nil {
		s.respondFailure(w, "list snapshots failed", err)
		return
	}
	if names == nil {
		names = []string{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"snapshots": names})
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.respondFailure(w, "watch add directory failed", err)
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.respondFailure(w, "watch remove directory failed", err)
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

// persistWatchDirectories writes the current watch roots back to the config file.
func (s *Server) persistWatchDirectories() {
	if s.configPath == "" || s.config == nil {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.config.Watch.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.config); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

// paging reads offset and limit query parameters.
func (s *Server) paging(w http.ResponseWriter, r *http.Request) (offset, limit int, ok bool) {
	limit = defaultListLimit
	q := r.URL.Query()
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "invalid offset")
			return 0, 0, false
		}
		offset = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return 0, 0, false
		}
		limit = min(n, maxListLimit)
	}
	return offset, limit, true
}

// statusFor maps an error to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, vector.ErrNotFound),
		errors.Is(err, search.ErrNoRelevantChunks):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidRequest),
		errors.Is(err, indexer.ErrInvalidUpload),
		errors.Is(err, indexer.ErrExtensionNotAllowed),
		errors.Is(err, extract.ErrEmptyText),
		errors.Is(err, llm.ErrUnknownModel),
		errors.Is(err, vector.ErrInvalidK),
		errors.Is(err, vector.ErrDimensionMismatch),
		errors.Is(err, vector.ErrInvalidSnapshotName):
		return http.StatusBadRequest
	case errors.Is(err, vector.ErrUnsupportedWithoutVectorRetention):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondFailure logs err and writes it with the status statusFor picks.
func (s *Server) respondFailure(w http.ResponseWriter, msg string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}
	s.respondError(w, code, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
