// Package api exposes the session lifecycle over HTTP: create a session from
// an input bundle, advance it after a rewrite or statistics decision, fetch
// the report. Sessions live in memory; independent sessions run fully
// concurrently, one session advances under its own lock.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/koltyakov/querydoctor/internal/engine"
)

// Server holds the in-memory session store and the engine that advances it.
type Server struct {
	log     *slog.Logger
	eng     *engine.Engine
	version string

	mu       sync.RWMutex
	sessions map[uuid.UUID]*sessionEntry
}

// sessionEntry serializes advances of one session; the engine requires a
// session to be owned by a single caller at a time.
type sessionEntry struct {
	mu sync.Mutex
	s  *engine.Session
}

// NewServer creates a server. A nil logger falls back to slog.Default.
func NewServer(eng *engine.Engine, version string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:      log,
		eng:      eng,
		version:  version,
		sessions: make(map[uuid.UUID]*sessionEntry),
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/v1/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Delete("/", s.handleDelete)
			r.Post("/rewrite", s.handleRewrite)
			r.Post("/statistics", s.handleStatistics)
			r.Get("/report", s.handleReport)
		})
	})
	return r
}

// ListenAndServe runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// lookup fetches a session entry by its path id.
func (s *Server) lookup(r *http.Request) (*sessionEntry, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[id]
	return e, ok
}
