// Package server is the HTTP surface of relayq: job submission, state and
// catalog reads, queue introspection and the real-time websocket channel.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/BranchIntl/relayq/core"
	"github.com/BranchIntl/relayq/ratelimit"
	"github.com/BranchIntl/relayq/relay"
	"github.com/BranchIntl/relayq/state"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// VideoSubmitter enqueues video-processing jobs. pipeline.Pipeline
// satisfies it.
type VideoSubmitter interface {
	SubmitVideo(ctx context.Context, videoURL string) (string, error)
}

// BookLister proxies the remote catalog. catalog.Client satisfies it.
type BookLister interface {
	List(ctx context.Context, page, limit int) (json.RawMessage, error)
}

// PageCounter returns the total page count. cache.PageCountCache
// satisfies it.
type PageCounter interface {
	TotalPageCount(ctx context.Context) (int64, error)
}

// Gate is the inbound rate limit. ratelimit.FixedWindow satisfies it.
type Gate interface {
	Allow(ctx context.Context) (ratelimit.Decision, error)
	Err(d ratelimit.Decision) error
}

// HealthChecker reports the health of a dependency
type HealthChecker interface {
	Health() error
}

// Deps are the collaborators of the HTTP surface. Limiter, Stats and
// StaticDir are optional.
type Deps struct {
	Videos  VideoSubmitter
	Broker  core.Broker
	Stats   core.Statistics
	State   *state.Store
	Relay   *relay.Relay
	Books   BookLister
	Pages   PageCounter
	Limiter Gate
	Health  map[string]HealthChecker
}

// Options for the HTTP server
type Options struct {
	Addr      string
	StaticDir string
}

// Server is the HTTP server
type Server struct {
	deps       Deps
	options    Options
	httpServer *http.Server
	router     chi.Router
}

// New creates a new Server
func New(deps Deps, options Options) *Server {
	srv := &Server{deps: deps, options: options}
	srv.router = srv.buildRouter()
	srv.httpServer = &http.Server{
		Addr:              options.Addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(structuredLogger)
	r.Use(middleware.Recoverer)
	if s.deps.Limiter != nil {
		r.Use(rateLimit(s.deps.Limiter, "/ws", "/healthz"))
	}

	r.Get("/", s.handleRoot)
	r.Post("/video-process", s.handleVideoProcess)
	r.Get("/state", s.handleState)
	r.Get("/books", s.handleBooks)
	r.Get("/books/total", s.handleBooksTotal)

	r.Get("/queues/{name}", s.handleQueue)
	r.Get("/queues/{name}/jobs/{id}", s.handleJob)

	r.Get("/healthz", s.handleHealthz)

	if s.deps.Relay != nil {
		r.Handle("/ws", websocketHandler(s.deps.Relay))
	}

	if s.options.StaticDir != "" {
		r.NotFound(http.FileServer(http.Dir(s.options.StaticDir)).ServeHTTP)
	}

	return r
}

// Start begins listening for HTTP requests
func (s *Server) Start() error {
	slog.Info("HTTP server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("HTTP server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the http.Handler for testing
func (s *Server) Handler() http.Handler {
	return s.router
}
