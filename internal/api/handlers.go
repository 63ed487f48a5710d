package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/koltyakov/querydoctor/internal/collect"
	"github.com/koltyakov/querydoctor/internal/engine"
	qerrors "github.com/koltyakov/querydoctor/internal/errors"
	"github.com/koltyakov/querydoctor/internal/report"
)

const maxBodyBytes = 4 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}

// handleCreate accepts an input bundle, creates a session, and runs it as far
// as the gates allow. A blocked phase is not an HTTP failure: the session is
// returned with its blocked state for the caller to inspect.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	bundle, err := collect.ParseBundle(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if bundle.Query == "" {
		writeError(w, http.StatusBadRequest, qerrors.NewValidationError("query", "", "query text is required"))
		return
	}

	ses := engine.NewSession(bundle)
	if err := s.eng.Run(r.Context(), ses, engine.BundleSource{Bundle: ses.Bundle}); err != nil {
		s.log.Warn("session blocked", "session", ses.ID, "err", err)
	}

	s.mu.Lock()
	s.sessions[ses.ID] = &sessionEntry{s: ses}
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, ses)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookup(r)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("session not found"))
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	writeJSON(w, http.StatusOK, e.s)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookup(r)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("session not found"))
		return
	}
	s.mu.Lock()
	delete(s.sessions, e.s.ID)
	s.mu.Unlock()

	s.log.Info("session abandoned", "session", e.s.ID)
	w.WriteHeader(http.StatusNoContent)
}

type rewriteRequest struct {
	Query string `json:"query"`
	// Bundle optionally carries fresh collaborator outputs for the rewritten
	// query (new baseline, antipatterns, plan).
	Bundle collect.Bundle `json:"bundle"`
}

func (s *Server) handleRewrite(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookup(r)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("session not found"))
		return
	}
	var req rewriteRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := s.eng.ApplyRewrite(e.s, req.Query, req.Bundle); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if err := s.eng.Run(r.Context(), e.s, engine.BundleSource{Bundle: e.s.Bundle}); err != nil {
		s.log.Warn("session blocked", "session", e.s.ID, "err", err)
	}
	writeJSON(w, http.StatusOK, e.s)
}

type statisticsRequest struct {
	// Applied reports whether the caller ran the emitted update directives;
	// true restarts at BASELINE, false continues to index analysis.
	Applied bool           `json:"applied"`
	Bundle  collect.Bundle `json:"bundle"`
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookup(r)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("session not found"))
		return
	}
	var req statisticsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := s.eng.ResolveStatistics(e.s, req.Applied, req.Bundle); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if err := s.eng.Run(r.Context(), e.s, engine.BundleSource{Bundle: e.s.Bundle}); err != nil {
		s.log.Warn("session blocked", "session", e.s.ID, "err", err)
	}
	writeJSON(w, http.StatusOK, e.s)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	e, ok := s.lookup(r)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("session not found"))
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	meta := collect.Meta{
		StartedAt: e.s.CreatedAt,
		Duration:  e.s.UpdatedAt.Sub(e.s.CreatedAt),
		Version:   s.version,
	}
	switch r.URL.Query().Get("format") {
	case "json":
		writeJSON(w, http.StatusOK, report.Envelope{Meta: meta, Session: e.s})
	case "text":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_ = report.WriteText(w, e.s)
	default:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := report.RenderHTML(w, e.s, meta); err != nil {
			s.log.Error("render report", "session", e.s.ID, "err", err)
		}
	}
}

// statusFor maps engine errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, qerrors.ErrSessionConcluded):
		return http.StatusConflict
	case errors.Is(err, qerrors.ErrInvalidConfig):
		return http.StatusBadRequest
	default:
		return http.StatusConflict
	}
}
