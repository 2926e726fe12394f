package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/hako/internal/config"
	"github.com/hyperjump/hako/internal/definitions"
	"github.com/hyperjump/hako/internal/models"
	"github.com/hyperjump/hako/internal/search"
	"github.com/hyperjump/hako/internal/storage"
	"github.com/hyperjump/hako/internal/vector"
	"github.com/hyperjump/hako/internal/vectorstore"
)

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, vectorstore.ErrCollectionNotFound):
		return http.StatusNotFound
	case errors.Is(err, search.ErrUnsupportedCollection),
		errors.Is(err, search.ErrInvalidRequest),
		errors.Is(err, vectorstore.ErrInvalidName),
		errors.Is(err, vector.ErrDimensionMismatch),
		errors.Is(err, definitions.ErrUnsupported):
		return http.StatusBadRequest
	case errors.Is(err, vectorstore.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func parseKey(w http.ResponseWriter, r *http.Request, s *Server) (uint64, bool) {
	key, err := strconv.ParseUint(chi.URLParam(r, "key"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "key must be an unsigned integer")
		return 0, false
	}
	return key, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := s.engine.Store().Stats(ctx)
	if err != nil {
		s.fail(w, "status: collection stats failed", err)
		return
	}
	var records int64
	for _, st := range stats {
		records += st.Records
	}
	resp := map[string]interface{}{
		"collections": stats,
		"records":     records,
	}
	vs := s.engine.Store().Config()
	configInfo := map[string]interface{}{
		"index_type":  vs.IndexType,
		"metric":      vs.Metric,
		"dimensions":  vs.Dimensions,
		"save_policy": vs.SavePolicy,
		"persist_dir": vs.PersistDir,
	}
	if s.config != nil {
		configInfo["backend"] = s.config.Store.Backend
		configInfo["codec"] = s.config.Store.Codec
		configInfo["database_path"] = s.config.Store.DatabasePath
		if diskBytes, err := storage.DiskUsageBytes(s.config.Store.DatabasePath, vs.PersistDir); err == nil {
			resp["disk_usage_bytes"] = diskBytes
		}
	}
	resp["config"] = configInfo
	if s.ingester != nil {
		if sources, err := s.ingester.Sources(ctx); err == nil {
			resp["sources"] = len(sources)
		}
	}
	if s.watch != nil {
		resp["watch_directories"] = s.watch.Directories()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	names, err := s.engine.Store().ListCollections(r.Context())
	if err != nil {
		s.fail(w, "list collections failed", err)
		return
	}
	if names == nil {
		names = []string{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"collections": names})
}

func (s *Server) handleDropCollection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.logger.Debug("drop collection request", zap.String("collection", name))
	if err := s.engine.Store().DeleteCollection(r.Context(), name); err != nil {
		s.fail(w, "drop collection failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"collection": vectorstore.SanitizeName(name), "status": "deleted"})
}

func (s *Server) handleUpsertRecords(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	dec := json.NewDecoder(r.Body)
	keys, err := s.engine.Upsert(r.Context(), name, func(v any) error { return dec.Decode(v) })
	if err != nil {
		s.fail(w, "upsert failed", err)
		return
	}
	s.logger.Debug("records upserted", zap.String("collection", name), zap.Int("count", len(keys)))
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{"keys": keys, "status": "upserted"})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	key, ok := parseKey(w, r, s)
	if !ok {
		return
	}
	rec, found, err := s.engine.Get(r.Context(), chi.URLParam(r, "name"), key)
	if err != nil {
		s.fail(w, "get record failed", err)
		return
	}
	if !found {
		s.respondError(w, http.StatusNotFound, "record not found")
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	key, ok := parseKey(w, r, s)
	if !ok {
		return
	}
	if err := s.engine.Delete(r.Context(), chi.URLParam(r, "name"), key); err != nil {
		s.fail(w, "delete record failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	name := chi.URLParam(r, "name")
	s.logger.Debug("search request", zap.String("collection", name), zap.String("query", req.Query), zap.Int("top", req.Top))
	response, err := s.engine.Search(r.Context(), name, &req)
	if err != nil {
		s.fail(w, "search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

type sourceRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	if s.ingester == nil {
		s.respondError(w, http.StatusNotImplemented, "ingestion not enabled")
		return
	}
	sources, err := s.ingester.Sources(r.Context())
	if err != nil {
		s.fail(w, "list sources failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"sources": sources})
}

func (s *Server) handleIngestSource(w http.ResponseWriter, r *http.Request) {
	if s.ingester == nil {
		s.respondError(w, http.StatusNotImplemented, "ingestion not enabled")
		return
	}
	var req sourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	info, err := os.Stat(req.Path)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "path not found")
			return
		}
		s.fail(w, "ingest stat failed", err)
		return
	}
	var results []definitions.Result
	if info.IsDir() {
		results, err = s.ingester.IngestDirectory(r.Context(), req.Path)
	} else {
		var res definitions.Result
		res, err = s.ingester.IngestFile(r.Context(), req.Path)
		results = []definitions.Result{res}
	}
	if err != nil {
		s.fail(w, "ingest failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{"results": results})
}

func (s *Server) handleRemoveSource(w http.ResponseWriter, r *http.Request) {
	if s.ingester == nil {
		s.respondError(w, http.StatusNotImplemented, "ingestion not enabled")
		return
	}
	path := s.pathParam(r)
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	n, err := s.ingester.RemovePath(r.Context(), path)
	if err != nil {
		s.fail(w, "remove source failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"removed": n, "status": "removed"})
}

// pathParam reads "path" from the query string, falling back to a JSON body.
func (s *Server) pathParam(r *http.Request) string {
	if path := r.URL.Query().Get("path"); path != "" {
		return path
	}
	var body sourceRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
		return body.Path
	}
	return ""
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
	s.logger.Debug("watch add directory request", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.logger.Error("watch add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchConfig()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := s.pathParam(r)
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	s.logger.Debug("watch remove directory request", zap.String("path", abs))
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.logger.Error("watch remove directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchConfig()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

// persistWatchConfig writes the current watch directories back to the config file.
func (s *Server) persistWatchConfig() {
	if s.configPath == "" || s.config == nil {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.config.Ingest.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.config); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
