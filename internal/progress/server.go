package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// Server exposes health, metrics and progress over HTTP:
//
//	GET /health        liveness
//	GET /metrics       the given metrics handler
//	GET /progress      websocket progress stream
//	GET /api/progress  latest event per analysis as JSON
type Server struct {
	hub    *Hub
	server *http.Server
	mu     sync.Mutex
	addr   string
}

// NewServer creates a server listening on port. metricsHandler may be nil.
func NewServer(port int, hub *Hub, metricsHandler http.Handler) *Server {
	s := &Server{hub: hub}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(metricsHandler),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Router returns the request router.
func (s *Server) Router(metricsHandler http.Handler) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler).Methods("GET")
	}
	r.Handle("/progress", s.hub).Methods("GET")
	r.HandleFunc("/api/progress", s.handleSnapshot).Methods("GET")
	return r
}

// Start listens and serves in the background. It returns once the listener
// is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.server.Addr, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		log.Info().Str("address", ln.Addr().String()).Msg("Starting progress server")
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("progress server failed")
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stop disconnects subscribers and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.Close()
	if err := s.server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("failed to shutdown progress server")
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.hub.Snapshot()); err != nil {
		log.Debug().Err(err).Msg("failed to write progress snapshot")
	}
}
