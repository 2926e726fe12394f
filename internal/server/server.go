// Package server provides the HTTP API for hako.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/hako/internal/config"
	"github.com/hyperjump/hako/internal/definitions"
	"github.com/hyperjump/hako/internal/metrics"
	"github.com/hyperjump/hako/internal/search"
)

// WatchService is the subset of the watcher used by the server to list and mutate watched directories.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
}

// Server is the HTTP server for the hako API.
type Server struct {
	engine   *search.Engine
	ingester *definitions.Ingester
	config   *config.Config
	logger   *zap.Logger
	metrics  *metrics.Collector // optional; enables /metrics and request metrics

	watch      WatchService // optional; enables the watch endpoints
	configPath string       // when set, watch changes are persisted here
	configMu   sync.Mutex

	server *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics exposes m on /metrics and records request metrics into it.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Server) { s.metrics = m }
}

// WithWatch enables the watch directory endpoints. A non-empty configPath makes
// changes to the watched directories persist to that file.
func WithWatch(w WatchService, configPath string) Option {
	return func(s *Server) {
		s.watch = w
		s.configPath = configPath
	}
}

// NewServer creates a server with the given dependencies.
func NewServer(engine *search.Engine, ingester *definitions.Ingester, cfg *config.Config, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine:   engine,
		ingester: ingester,
		config:   cfg,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Get("/collections", s.handleListCollections)
		r.Route("/collections/{name}", func(r chi.Router) {
			r.Delete("/", s.handleDropCollection)
			r.Post("/records", s.handleUpsertRecords)
			r.Get("/records/{key}", s.handleGetRecord)
			r.Delete("/records/{key}", s.handleDeleteRecord)
			r.Post("/search", s.handleSearch)
		})

		r.Get("/sources", s.handleListSources)
		r.Post("/sources", s.handleIngestSource)
		r.Delete("/sources", s.handleRemoveSource)

		r.Get("/watch/directories", s.handleWatchDirectoriesList)
		r.Post("/watch/directories", s.handleWatchDirectoriesAdd)
		r.Delete("/watch/directories", s.handleWatchDirectoriesRemove)
	})
	return r
}

// requestLogger logs each request at debug level and feeds request metrics.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		d := time.Since(start)
		if s.metrics != nil {
			s.metrics.ObserveRequest(r.Method, route, status, d)
		}
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", d),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
