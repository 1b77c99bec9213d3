// Package http exposes the suggestion engine over HTTP. Control operations
// (start, advance, finish, cancel) are plain JSON; batch generation streams
// its events over SSE so the editor can render nodes as they are accepted.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	palette "github.com/mindspring/palette"
	"github.com/mindspring/palette/internal/logging"
	"github.com/mindspring/palette/pkg/domain"
)

// Engine is the surface of the suggestion engine the server needs.
type Engine interface {
	Start(ctx context.Context, req palette.StartRequest) (*domain.Session, error)
	NextBatch(ctx context.Context, sessionID, tab string) (<-chan domain.Event, error)
	Advance(ctx context.Context, sessionID, tab string, selectedIDs []string) (domain.StageAdvanceOutcome, error)
	Finish(ctx context.Context, sessionID string) ([]domain.Node, error)
	Cancel(ctx context.Context, sessionID string) error
	Preload(ctx context.Context, sessionID string) error
	Session(ctx context.Context, sessionID string) (*domain.Session, error)
}

// Server routes HTTP requests to the engine.
type Server struct {
	engine Engine
	logger *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewHandler creates the HTTP handler for the engine.
func NewHandler(engine Engine, opts ...Option) http.Handler {
	s := &Server{
		engine: engine,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Get("/health", s.health)
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.start)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Delete("/", s.cancel)
			r.Post("/batch", s.nextBatch)
			r.Post("/advance", s.advance)
			r.Post("/finish", s.finish)
			r.Post("/preload", s.preload)
		})
	})
	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusForError maps domain sentinels onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrUnknownTab):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnknownDiagramType):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidSelection):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrBusy),
		errors.Is(err, domain.ErrTabLocked),
		errors.Is(err, domain.ErrTerminalStage):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "err", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "err", err)
	}
}

type startRequest struct {
	SessionID   string `json:"session_id,omitempty"`
	DiagramType string `json:"diagram_type"`
	Topic       string `json:"topic"`
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	var body startRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	session, err := s.engine.Start(r.Context(), palette.StartRequest{
		SessionID:   body.SessionID,
		DiagramType: body.DiagramType,
		Topic:       body.Topic,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, session)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.engine.Session(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, session)
}

type batchRequest struct {
	Tab string `json:"tab"`
}

// nextBatch streams one generation run as SSE: an event per accepted or
// rejected candidate, provider lifecycle events, then batch_complete.
func (s *Server) nextBatch(w http.ResponseWriter, r *http.Request) {
	var body batchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	events, err := s.engine.NextBatch(r.Context(), chi.URLParam(r, "sessionID"), body.Tab)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			// The engine keeps generating and persists the batch; only the
			// stream stops.
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("event encode failed", "err", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}

type advanceRequest struct {
	Tab             string   `json:"tab"`
	SelectedNodeIDs []string `json:"selected_node_ids"`
}

func (s *Server) advance(w http.ResponseWriter, r *http.Request) {
	var body advanceRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	outcome, err := s.engine.Advance(r.Context(), chi.URLParam(r, "sessionID"), body.Tab, body.SelectedNodeIDs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, outcome)
}

type finishResponse struct {
	Selected []domain.Node `json:"selected"`
}

func (s *Server) finish(w http.ResponseWriter, r *http.Request) {
	selected, err := s.engine.Finish(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, finishResponse{Selected: selected})
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Cancel(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) preload(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Preload(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
