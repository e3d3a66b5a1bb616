// Package web exposes the push review system as a JSON HTTP API.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/memoai/memopush/internal/chunkstore"
	"github.com/memoai/memopush/internal/conversation"
	"github.com/memoai/memopush/internal/domain"
	"github.com/memoai/memopush/internal/pushstore"
	"github.com/memoai/memopush/internal/scheduler"
	"github.com/memoai/memopush/internal/sm2"
)

// Server holds the dependencies for the HTTP server.
type Server struct {
	chunks *chunkstore.DB
	pushes *pushstore.Store
	engine *conversation.Engine
	sched  *scheduler.Scheduler
	router *http.ServeMux
}

// NewServer creates and configures a new server.
func NewServer(chunks *chunkstore.DB, pushes *pushstore.Store, engine *conversation.Engine, sched *scheduler.Scheduler) *Server {
	s := &Server{
		chunks: chunks,
		pushes: pushes,
		engine: engine,
		sched:  sched,
		router: http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	s.router.HandleFunc("/chunks", s.handleChunks())
	s.router.HandleFunc("/chunks/", s.handleChunk())
	s.router.HandleFunc("/pushes", s.handlePushes())
	s.router.HandleFunc("/pushes/", s.handlePush())
	s.router.HandleFunc("/refresh", s.handleRefresh())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pushstore.ErrNotFound), errors.Is(err, chunkstore.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, conversation.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, conversation.ErrEmptyMessage), errors.Is(err, sm2.ErrInvalidGrade):
		status = http.StatusBadRequest
	case errors.Is(err, scheduler.ErrNotConfigured):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

// handleChunks lists every chunk.
func (s *Server) handleChunks() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		chunks, err := s.chunks.GetAll()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, chunks)
	}
}

// handleChunk serves a single chunk by id.
func (s *Server) handleChunk() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/chunks/")
		if id == "" || strings.Contains(id, "/") {
			http.NotFound(w, r)
			return
		}
		chunk, err := s.chunks.GetByID(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, chunk)
	}
}

// handlePushes lists pushes, optionally filtered by ?state=.
func (s *Server) handlePushes() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		state := domain.PushState(r.URL.Query().Get("state"))
		switch state {
		case "", domain.PushPending, domain.PushActive, domain.PushCompleted:
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown push state"})
			return
		}
		writeJSON(w, http.StatusOK, s.pushes.List(state))
	}
}

// handlePush dispatches /pushes/{id} and its sub-resources.
func (s *Server) handlePush() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/pushes/")
		id, action, _ := strings.Cut(rest, "/")
		if id == "" {
			http.NotFound(w, r)
			return
		}

		switch action {
		case "":
			switch r.Method {
			case http.MethodGet:
				s.getPush(w, id)
			case http.MethodDelete:
				s.deletePush(w, id)
			default:
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}
		case "messages":
			switch r.Method {
			case http.MethodGet:
				s.getMessages(w, id)
			case http.MethodPost:
				s.postMessage(w, r, id)
			default:
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}
		case "start":
			s.postOnly(w, r, func(ctx context.Context) error { return s.startPush(ctx, w, id) })
		case "evaluate":
			if r.Method != http.MethodPost {
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
				return
			}
			s.postEvaluate(w, r, id)
		case "force-evaluate":
			s.postOnly(w, r, func(ctx context.Context) error { return s.forceEvaluate(ctx, w, id) })
		default:
			http.NotFound(w, r)
		}
	}
}

func (s *Server) postOnly(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context) error) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := fn(r.Context()); err != nil {
		writeError(w, err)
	}
}

func (s *Server) getPush(w http.ResponseWriter, id string) {
	p, err := s.pushes.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) deletePush(w http.ResponseWriter, id string) {
	if err := s.pushes.Delete(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getMessages(w http.ResponseWriter, id string) {
	if _, err := s.pushes.Get(id); err != nil {
		writeError(w, err)
		return
	}
	msgs := s.pushes.Messages(id)
	if msgs == nil {
		msgs = []domain.PushMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) startPush(ctx context.Context, w http.ResponseWriter, id string) error {
	question, err := s.engine.Start(ctx, id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]string{"question": question})
	return nil
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Content string `json:"content"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	turn, err := s.engine.SendUserMessage(r.Context(), id, req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, turn)
}

func (s *Server) postEvaluate(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Grade          float64 `json:"grade"`
		Recommendation string  `json:"recommendation"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.engine.ManualEvaluate(id, req.Grade, req.Recommendation); err != nil {
		writeError(w, err)
		return
	}
	p, err := s.pushes.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) forceEvaluate(ctx context.Context, w http.ResponseWriter, id string) error {
	if err := s.engine.ForceEvaluate(ctx, id); err != nil {
		return err
	}
	p, err := s.pushes.Get(id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, p)
	return nil
}

// handleRefresh triggers a scheduler pass: sweep, due-marking and top-up.
func (s *Server) handleRefresh() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		stats, err := s.sched.Refresh(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}
