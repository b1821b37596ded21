// Package statusd is a small embedded, read-only HTTP server exposing
// transport state, thread summaries, and token usage as JSON for local
// tooling — the chi-router shape the teacher used for its playground API,
// repurposed here to a read-only diagnostics surface instead of a mutating
// REST API.
package statusd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/gatewayrt/internal/coordinator"
)

// Server is the embedded status HTTP server.
type Server struct {
	httpServer *http.Server
	coord      *coordinator.Coordinator
}

// New builds a Server bound to addr, serving coord's state read-only.
func New(addr string, coord *coordinator.Coordinator) *Server {
	s := &Server{coord: coord}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	r.Get("/status", s.handleStatus)
	r.Get("/chats", s.handleChats)
	r.Get("/chats/{chatID}", s.handleChat)
	r.Get("/chats/{chatID}/usage", s.handleUsage)
	r.Get("/capabilities", s.handleCapabilities)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving the status API until the server is shut
// down; it never returns a non-nil error for a clean shutdown.
func (s *Server) ListenAndServe() error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	return nil
}

type statusResponse struct {
	TransportState string `json:"transport_state"`
	ChatCount      int    `json:"chat_count"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		TransportState: s.coord.TransportState().String(),
		ChatCount:      len(s.coord.Summaries()),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.Summaries())
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	thread, ok := s.coord.Thread(chatID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "chat not found"})
		return
	}
	writeJSON(w, http.StatusOK, thread)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	writeJSON(w, http.StatusOK, s.coord.TokenUsage(chatID))
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.Capabilities())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

