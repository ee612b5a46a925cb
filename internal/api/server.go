package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// Config holds the sync server settings.
type Config struct {
	ListenAddr string
	APIKey     string
	DBPath     string // ":memory:" for an ephemeral server
}

// Server is the HTTP API server for todoless sync.
type Server struct {
	config Config
	http   *http.Server
	tasks  *taskStore
	hub    *Hub
	addr   string
}

// NewServer creates a new Server with the given config.
func NewServer(cfg Config) (*Server, error) {
	tasks, err := newTaskStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config: cfg,
		tasks:  tasks,
		hub:    NewHub(),
	}

	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start begins listening for HTTP requests (non-blocking).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.addr = ln.Addr().String()

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "err", err)
		}
	}()

	slog.Info("sync server listening", "addr", s.addr)
	return nil
}

// Addr returns the bound listen address, valid after Start.
func (s *Server) Addr() string { return s.addr }

// Shutdown gracefully stops the server and closes the task database.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	err := s.http.Shutdown(ctx)
	if cerr := s.tasks.Close(); err == nil {
		err = cerr
	}
	return err
}

// routes builds the HTTP handler with all routes and middleware.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("GET /v1/tasks", s.requireAuth(s.handleListTasks))
	mux.HandleFunc("POST /v1/tasks", s.requireAuth(s.handleCreateTask))
	mux.HandleFunc("PATCH /v1/tasks/{id}", s.requireAuth(s.handleUpdateTask))
	mux.HandleFunc("DELETE /v1/tasks/{id}", s.requireAuth(s.handleDeleteTask))

	// Event stream; the websocket handshake carries the bearer token too.
	mux.HandleFunc("GET /v1/tasks/events", s.requireAuth(s.hub.handleEvents))

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireAuth checks the Bearer token against the configured API key.
// An empty configured key disables auth (local development).
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.APIKey == "" {
			next(w, r)
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.config.APIKey)) != 1 {
			writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid or missing API key")
			return
		}
		next(w, r)
	}
}
