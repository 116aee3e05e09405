// Package api provides the REST and SSE server for the gateway state.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"aprsgate/config"
	"aprsgate/logging"
)

// Server is the REST API server.
type Server struct {
	backend  Backend
	events   EventSource
	config   *config.WebConfig
	server   *http.Server
	listener net.Listener
	cleanup  func()
	running  bool
	mu       sync.RWMutex
}

// NewServer creates a new REST API server.
func NewServer(backend Backend, events EventSource, cfg *config.WebConfig) *Server {
	return &Server{
		backend: backend,
		events:  events,
		config:  cfg,
	}
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Start listens and serves in the background. Port 0 picks a free port.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api listen %s: %w", addr, err)
	}

	router, cleanup := NewRouter(s.backend, s.events)
	s.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.listener = ln
	s.cleanup = cleanup

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.DebugError("api", "serve", err)
			s.mu.Lock()
			if s.server == srv {
				s.running = false
			}
			s.mu.Unlock()
		}
	}()

	s.running = true
	logging.DebugLog("api", "listening on %s", ln.Addr())
	return nil
}

// Stop halts the HTTP server and closes open event streams.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}

	// Event streams end once the hub stops, so Shutdown does not wait on them.
	s.cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.server.Shutdown(ctx)
	s.running = false
	s.server = nil
	s.listener = nil
	s.cleanup = nil
	return err
}

// Address returns the server URL.
func (s *Server) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return "http://" + s.listener.Addr().String()
	}
	return "http://" + net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
