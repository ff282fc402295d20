package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ignite/messaging/internal/auth"
	"github.com/ignite/messaging/internal/config"
)

// Server represents the API server
type Server struct {
	config  config.ServerConfig
	handler http.Handler
	server  *http.Server
}

// NewServer creates the API server. sessions may be nil, in which case the
// /auth routes are not mounted.
func NewServer(cfg config.ServerConfig, h *Handlers, gate auth.Gate, sessions *auth.SessionGate) *Server {
	return &Server{
		config:  cfg,
		handler: SetupRoutes(cfg, h, gate, sessions),
	}
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.handler,
		// Uploads are bounded by the attachment size limit, not by these.
		ReadTimeout:       2 * time.Minute,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.handler
}
