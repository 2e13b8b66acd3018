package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/davidschrooten/searchsync/internal/document"
	"github.com/davidschrooten/searchsync/internal/indexer"
	"github.com/davidschrooten/searchsync/internal/mapping"
	"github.com/davidschrooten/searchsync/internal/metrics"
	"github.com/davidschrooten/searchsync/internal/mongodb"
	"github.com/davidschrooten/searchsync/internal/search"
)

const readyTimeout = 5 * time.Second

// Pinger checks that the document store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the API server
type Server struct {
	indexerService *indexer.Service
	searchClient   search.Client
	store          Pinger
	logger         *zap.Logger
}

// NewServer creates a new API server. store may be nil.
func NewServer(indexerService *indexer.Service, searchClient search.Client, store Pinger, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		indexerService: indexerService,
		searchClient:   searchClient,
		store:          store,
		logger:         logger,
	}
}

// Router setups the API routes
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	var collections []string
	if s.indexerService != nil {
		collections = s.indexerService.Collections()
	}
	r.Use(metrics.Middleware(collections...))

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/collections", s.handleListCollections)
	r.Route("/collections/{collection}", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/mapping", s.handleGetMapping)
		r.Put("/mapping", s.handlePutMapping)
		r.Post("/index", s.handleEnsureIndex)
		r.Post("/sync", s.handleSync)
		r.Post("/search", s.handleSearch)
		r.Put("/documents/{id}", s.handleIndexDocument)
		r.Delete("/documents/{id}", s.handleUnindexDocument)
	})

	return r
}

// collectionInfo is the listing entry of a configured collection
type collectionInfo struct {
	Name      string      `json:"name"`
	Index     string      `json:"index"`
	Type      string      `json:"type"`
	AutoIndex bool        `json:"autoIndex"`
	Syncing   bool        `json:"syncing"`
	State     interface{} `json:"state,omitempty"`
}

func (s *Server) info(coll *indexer.Collection) collectionInfo {
	info := collectionInfo{
		Name:      coll.Name(),
		Index:     coll.Target().Index,
		Type:      coll.Target().Type,
		AutoIndex: coll.AutoIndex(),
		Syncing:   s.indexerService.Syncing(coll.Name()),
	}
	if state := s.indexerService.GetSyncState(coll.Name()); state != nil {
		info.State = state
	}
	return info
}

// collection resolves the {collection} URL parameter, answering 404 for
// unknown names
func (s *Server) collection(w http.ResponseWriter, r *http.Request) (*indexer.Collection, bool) {
	coll, err := s.indexerService.Collection(chi.URLParam(r, "collection"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return nil, false
	}
	return coll, true
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	names := s.indexerService.Collections()
	collections := make([]collectionInfo, 0, len(names))
	for _, name := range names {
		coll, err := s.indexerService.Collection(name)
		if err != nil {
			continue
		}
		collections = append(collections, s.info(coll))
	}

	response(w, http.StatusOK, map[string]interface{}{
		"collections": collections,
		"total":       len(collections),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	coll, ok := s.collection(w, r)
	if !ok {
		return
	}
	response(w, http.StatusOK, s.info(coll))
}

func (s *Server) handleGetMapping(w http.ResponseWriter, r *http.Request) {
	coll, ok := s.collection(w, r)
	if !ok {
		return
	}
	response(w, http.StatusOK, map[string]interface{}{
		"index":    coll.Target().Index,
		"type":     coll.Target().Type,
		"mappings": mapping.Body(coll.Mapping()),
	})
}

func (s *Server) handlePutMapping(w http.ResponseWriter, r *http.Request) {
	coll, ok := s.collection(w, r)
	if !ok {
		return
	}

	resp, err := coll.CreateMappings(r.Context())
	if err != nil {
		s.fail(w, "Apply mapping failed", coll.Name(), err)
		return
	}
	raw(w, http.StatusOK, resp)
}

func (s *Server) handleEnsureIndex(w http.ResponseWriter, r *http.Request) {
	coll, ok := s.collection(w, r)
	if !ok {
		return
	}

	var req struct {
		Index string `json:"index"`
	}
	if !decode(w, r, &req) {
		return
	}

	name := req.Index
	if name == "" {
		name = coll.Target().Index
	}
	status, err := coll.EnsureIndex(r.Context(), name)
	if err != nil {
		s.fail(w, "Ensure index failed", coll.Name(), err)
		return
	}

	code := http.StatusOK
	if status == indexer.IndexCreated {
		code = http.StatusCreated
	}
	response(w, code, map[string]interface{}{
		"index":  name,
		"status": status.String(),
	})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	coll, ok := s.collection(w, r)
	if !ok {
		return
	}

	var req struct {
		Filter    interface{} `json:"filter"`
		Fields    []string    `json:"fields"`
		BatchSize int         `json:"batch_size"`
	}
	if !decode(w, r, &req) {
		return
	}

	job, err := s.indexerService.StartSync(r.Context(), coll.Name(), document.NormalizeFilter(req.Filter), indexer.SyncOptions{
		Fields:    req.Fields,
		BatchSize: req.BatchSize,
	})
	if errors.Is(err, indexer.ErrSyncInProgress) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		s.fail(w, "Start sync failed", coll.Name(), err)
		return
	}

	response(w, http.StatusAccepted, map[string]interface{}{
		"collection": coll.Name(),
		"index":      coll.Target().Index,
		"job":        job,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	coll, ok := s.collection(w, r)
	if !ok {
		return
	}

	var req struct {
		Query map[string]interface{} `json:"query"`
		Skip  *int                   `json:"skip"`
		Limit *int                   `json:"limit"`
		Sort  []string               `json:"sort"`
	}
	if !decode(w, r, &req) {
		return
	}

	resp, err := coll.Search(r.Context(), req.Query, indexer.SearchOptions{
		Skip:  req.Skip,
		Limit: req.Limit,
		Sort:  req.Sort,
	})
	if err != nil {
		s.fail(w, "Search failed", coll.Name(), err)
		return
	}
	raw(w, http.StatusOK, resp)
}

func (s *Server) handleIndexDocument(w http.ResponseWriter, r *http.Request) {
	coll, ok := s.collection(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	rec, err := coll.Store().FindByID(r.Context(), id)
	if err != nil {
		s.fail(w, "Load record failed", coll.Name(), err)
		return
	}

	resp, err := coll.IndexOne(r.Context(), rec, indexOptions(r))
	if err != nil {
		s.fail(w, "Index document failed", coll.Name(), err)
		return
	}
	raw(w, http.StatusOK, resp)
}

func (s *Server) handleUnindexDocument(w http.ResponseWriter, r *http.Request) {
	coll, ok := s.collection(w, r)
	if !ok {
		return
	}

	rec := document.Record{document.IDField: chi.URLParam(r, "id")}
	resp, err := coll.UnindexOne(r.Context(), rec, indexOptions(r))
	if err != nil {
		s.fail(w, "Unindex document failed", coll.Name(), err)
		return
	}
	raw(w, http.StatusOK, resp)
}

// indexOptions reads the target overrides of a document request
func indexOptions(r *http.Request) indexer.IndexOptions {
	q := r.URL.Query()
	return indexer.IndexOptions{
		Index:  q.Get("index"),
		Type:   q.Get("type"),
		Fields: q["field"],
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	// Simple health check
	response(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.searchClient == nil {
		http.Error(w, "search client not initialized", http.StatusServiceUnavailable)
		return
	}
	if s.indexerService == nil {
		http.Error(w, "indexer service not initialized", http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	checks := map[string]string{
		"searchClient":   "ok",
		"indexerService": "ok",
	}

	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			s.logger.Warn("Readiness check failed - document store unreachable", zap.Error(err))
			http.Error(w, "document store not ready", http.StatusServiceUnavailable)
			return
		}
		checks["documentStore"] = "ok"
	}

	// Every configured collection needs its index
	for _, name := range s.indexerService.Collections() {
		coll, err := s.indexerService.Collection(name)
		if err != nil {
			continue
		}
		exists, err := s.searchClient.IndexExists(ctx, coll.Target().Index)
		if err != nil || !exists {
			s.logger.Warn("Readiness check failed - index unavailable",
				zap.String("index", coll.Target().Index), zap.Error(err))
			http.Error(w, "index "+coll.Target().Index+" not available", http.StatusServiceUnavailable)
			return
		}
	}
	checks["indexes"] = "ok"

	response(w, http.StatusOK, map[string]interface{}{
		"status": "ready",
		"checks": checks,
	})
}

// fail logs err and answers with the status it maps to
func (s *Server) fail(w http.ResponseWriter, msg, collection string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.String("collection", collection), zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.String("collection", collection), zap.Error(err))
	}
	http.Error(w, err.Error(), status)
}

func statusFor(err error) int {
	var respErr *search.ResponseError
	switch {
	case errors.Is(err, indexer.ErrUnknownCollection), errors.Is(err, mongodb.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, indexer.ErrMissingID):
		return http.StatusBadRequest
	case errors.As(err, &respErr) && respErr.Status >= 400 && respErr.Status < 500:
		return respErr.Status
	default:
		return http.StatusInternalServerError
	}
}

// decode reads an optional JSON body into v
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return false
	}
	return true
}

func raw(w http.ResponseWriter, status int, body json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func response(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
