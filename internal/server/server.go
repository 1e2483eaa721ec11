// Package server provides the HTTP API for Kotae: document upload and
// management, question answering with citations, and chat history.
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

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/ingest"
	"github.com/hyperjump/kotae/internal/retrieval"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/synthesis"
	"github.com/hyperjump/kotae/internal/vector"
	"github.com/hyperjump/kotae/internal/watcher"
)

// Server is the HTTP server for the Kotae API.
type Server struct {
	pipeline     *ingest.Pipeline
	orchestrator *retrieval.Orchestrator
	synthesizer  *synthesis.Synthesizer
	storage      storage.Storage
	provider     *embedding.Provider
	index        vector.Index
	config       *config.Config
	logger       *zap.Logger
	server       *http.Server

	// watch endpoints are optional; nil when directory watching is disabled.
	watch      *watcher.Watcher
	configPath string
	configMu   sync.Mutex
}

// Option configures optional server collaborators.
type Option func(*Server)

// WithWatcher enables the watch-directory management endpoints. configPath,
// when non-empty, is where directory changes are persisted.
func WithWatcher(w *watcher.Watcher, configPath string) Option {
	return func(s *Server) {
		s.watch = w
		s.configPath = configPath
	}
}

// NewServer creates a server with the given collaborators.
func NewServer(
	pipeline *ingest.Pipeline,
	orchestrator *retrieval.Orchestrator,
	synthesizer *synthesis.Synthesizer,
	store storage.Storage,
	provider *embedding.Provider,
	index vector.Index,
	cfg *config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	s := &Server{
		pipeline:     pipeline,
		orchestrator: orchestrator,
		synthesizer:  synthesizer,
		storage:      store,
		provider:     provider,
		index:        index,
		config:       cfg,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the chi router with all API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/documents/upload", s.handleUpload)
	r.Get("/api/documents", s.handleListDocuments)
	r.Get("/api/documents/{id}", s.handleGetDocument)
	r.Delete("/api/documents/{id}", s.handleDeleteDocument)
	r.Post("/api/chat/ask", s.handleAsk)
	r.Get("/api/chat/history", s.handleChatHistory)
	r.Get("/api/status", s.handleStatus)
	r.Get("/health", s.handleHealth)

	if s.watch != nil {
		r.Get("/api/watch/directories", s.handleWatchList)
		r.Post("/api/watch/directories", s.handleWatchAdd)
		r.Delete("/api/watch/directories", s.handleWatchRemove)
	}
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
