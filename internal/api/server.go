// Package api exposes the chat service over JSON HTTP and SSE.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/papergent/papergent/internal/chat"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger      *slog.Logger
	Store       *chat.Store   // Required
	Service     *chat.Service // Required
	Pool        *pgxpool.Pool // Optional: nil disables DB ping in /ready
	CORSOrigins []string      // Allowed origins for CORS
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Service == nil {
		return nil, errors.New("service is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ch := &chatHandler{
		store:   cfg.Store,
		service: cfg.Service,
		logger:  logger,
	}

	mux := http.NewServeMux()

	// Session CRUD
	mux.HandleFunc("POST /api/chat/sessions", ch.createSession)
	mux.HandleFunc("GET /api/chat/sessions", ch.listSessions)
	mux.HandleFunc("GET /api/chat/sessions/{id}", ch.getSession)
	mux.HandleFunc("DELETE /api/chat/sessions/{id}", ch.deleteSession)
	mux.HandleFunc("GET /api/chat/sessions/{id}/messages", ch.listMessages)

	// Chat
	mux.HandleFunc("POST /api/chat/message", ch.sendMessage)
	mux.HandleFunc("POST /api/chat/stream", ch.streamMessage)

	// Build middleware stack (outermost first):
	//   Recovery → Logging → CORS → Routes
	var handler http.Handler = mux
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.HandleFunc("GET /{$}", root)
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
