package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/stratumhq/mongorelay/pkg/checkpoint"
	"github.com/stratumhq/mongorelay/pkg/log"
	"github.com/stratumhq/mongorelay/pkg/metrics"
	"github.com/stratumhq/mongorelay/pkg/monitor"
	"github.com/stratumhq/mongorelay/pkg/types"
)

// Server is the HTTP observability surface: Prometheus metrics, component
// health, and replication progress. Progress is assembled from checkpoint
// files per request, so serving it never touches either cluster.
type Server struct {
	store    checkpoint.Store
	mappings []types.CollectionMapping
	mux      *http.ServeMux
	srv      *http.Server
	logger   zerolog.Logger
}

// NewServer creates a new API server
func NewServer(store checkpoint.Store, mappings []types.CollectionMapping) *Server {
	mux := http.NewServeMux()
	s := &Server{
		store:    store,
		mappings: mappings,
		mux:      mux,
		logger:   log.WithComponent("api"),
	}

	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", metrics.HealthHandler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	mux.HandleFunc("/progress", s.progressHandler)

	return s
}

// ProgressResponse is the /progress payload.
type ProgressResponse struct {
	Timestamp   time.Time                  `json:"timestamp"`
	Collections []monitor.CollectionStatus `json:"collections"`
}

// progressHandler serves the checkpoint snapshot as JSON.
func (s *Server) progressHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := ProgressResponse{
		Timestamp:   time.Now().UTC(),
		Collections: monitor.Snapshot(s.store, s.mappings),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error().Err(err).Msg("Could not write progress response")
	}
}

// Start serves on addr until Shutdown. A closed server returns nil.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("Starting HTTP server")
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// Handler exposes the route table for embedding in other servers.
func (s *Server) Handler() http.Handler {
	return s.mux
}
