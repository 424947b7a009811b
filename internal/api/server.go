// Package api exposes the scoring service over HTTP: health and status
// probes, synchronous scoring, and artifact retrieval.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/parley/internal/aar"
	"github.com/MikeSquared-Agency/parley/internal/scenario"
	"github.com/MikeSquared-Agency/parley/internal/storage"
)

// Scorer runs the full scoring flow for one transcript and persists the
// artifacts. Satisfied by the processor.
type Scorer interface {
	ScoreTranscript(ctx context.Context, raw *aar.RawTranscript) (*aar.Report, error)
}

type Server struct {
	router    *chi.Mux
	port      int
	scorer    Scorer
	store     storage.Backend
	scenarios *scenario.Library
	logger    *slog.Logger
}

func NewServer(port int, scorer Scorer, store storage.Backend, scenarios *scenario.Library, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:    router,
		port:      port,
		scorer:    scorer,
		store:     store,
		scenarios: scenarios,
		logger:    logger,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/parley/status", s.status)
	router.Post("/api/v1/sessions/score", s.scoreSession)
	router.Get("/api/v1/reports/{session_id}", s.getReport)
	router.Get("/api/v1/transcripts/{session_id}", s.getTranscript)

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("API server starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":        "parley",
		"status":         "ready",
		"schema_version": aar.ReportSchemaVersion,
		"scenarios":      s.scenarios.IDs(),
	})
}

// scoreSession scores a transcript synchronously. The body is the raw
// transcript wire format; the response is the full report.
func (s *Server) scoreSession(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
		return
	}
	raw, err := aar.ParseRawTranscript(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// Structural turn problems fall back inside the pipeline, but a
	// transcript without a session id cannot be stored or retrieved.
	if raw.SessionID == "" {
		writeError(w, http.StatusBadRequest, "transcript has no session_id")
		return
	}

	report, err := s.scorer.ScoreTranscript(r.Context(), raw)
	if err != nil {
		s.logger.Error("synchronous scoring failed", "session_id", raw.SessionID, "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("scoring failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	report, err := s.store.LoadReport(r.Context(), sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no report for session %s", sessionID))
		return
	}
	if err != nil {
		s.logger.Error("report load failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "report load failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) getTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	transcript, err := s.store.LoadTranscript(r.Context(), sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no transcript for session %s", sessionID))
		return
	}
	if err != nil {
		s.logger.Error("transcript load failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "transcript load failed")
		return
	}
	writeJSON(w, http.StatusOK, transcript)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
