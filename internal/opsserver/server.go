// Package opsserver exposes the pipeline's operational HTTP surface:
// liveness, Prometheus metrics, and a status snapshot of the strategy
// pool, adapted from the teacher's internal/api.Server (mux + cors, no
// WebSocket push here since nothing in this pipeline streams to a
// browser client).
package opsserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/atlas-quant/strategy-pipeline/internal/metrics"
	"github.com/atlas-quant/strategy-pipeline/internal/store"
	"github.com/atlas-quant/strategy-pipeline/internal/types"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Config configures the ops server's listen address.
type Config struct {
	Host string
	Port int
}

// Server is the pipeline's health/metrics/status HTTP server.
type Server struct {
	logger     *zap.Logger
	cfg        Config
	store      *store.Store
	metrics    *metrics.Registry
	router     *mux.Router
	httpServer *http.Server
}

// New builds a Server.
func New(cfg Config, st *store.Store, reg *metrics.Registry, logger *zap.Logger) *Server {
	s := &Server{
		logger:  logger.Named("opsserver"),
		cfg:     cfg,
		store:   st,
		metrics: reg,
		router:  mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/status", s.handleStatus).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}
}

// Start runs the HTTP server until Stop is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.logger.Info("starting ops server", zap.String("addr", addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

// statusResponse summarizes the pool by status, mirroring spec §6's
// "status" CLI subcommand output.
type statusResponse struct {
	Counts      map[types.Status]int `json:"counts"`
	LiveCount   int                  `json:"live_count"`
	GeneratedAt time.Time            `json:"generated_at"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	counts := map[types.Status]int{}
	for _, st := range types.AllStatuses {
		n, err := s.store.Strategies.QueueDepth(ctx, st)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		counts[st] = n
	}
	resp := statusResponse{
		Counts:      counts,
		LiveCount:   counts[types.StatusLive],
		GeneratedAt: time.Now().UTC(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
