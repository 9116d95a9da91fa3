// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/absmach/overload/consumer"
)

// Config holds health check server configuration.
type Config struct {
	Address         string
	ShutdownTimeout time.Duration
	RunID           string
}

// StatusProvider reports live worker state.
type StatusProvider interface {
	Snapshot() []consumer.WorkerStatus
}

// ShutdownObserver reports whether the process is draining.
type ShutdownObserver interface {
	IsShutdown() bool
}

// Server exposes liveness, readiness and per-worker status.
type Server struct {
	config   Config
	workers  StatusProvider
	shutdown ShutdownObserver
	logger   *slog.Logger
	server   *http.Server

	mu       sync.RWMutex
	listener net.Listener
}

// New creates a new health check server.
func New(cfg Config, workers StatusProvider, shutdown ShutdownObserver, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:   cfg,
		workers:  workers,
		shutdown: shutdown,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/workers", s.handleWorkers)

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Addr returns the listener's network address, or "" before Listen.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Listen serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Listen(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("health_server_started", slog.String("address", listener.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("health_server_shutdown_failed", slog.String("error", err.Error()))
			return err
		}

		s.logger.Info("health_server_stopped")
		return nil
	}
}

// HealthResponse represents the liveness probe response.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

// ReadyResponse represents the readiness probe response.
type ReadyResponse struct {
	Status    string `json:"status"`
	Listening int    `json:"listening"`
	Workers   int    `json:"workers"`
	Details   string `json:"details,omitempty"`
}

// handleReady reports ready once every worker is consuming and no shutdown
// has been requested.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.workers == nil {
		writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{Status: "not_ready", Details: "supervisor not initialized"})
		return
	}

	snap := s.workers.Snapshot()
	resp := ReadyResponse{Workers: len(snap)}
	for _, ws := range snap {
		if ws.State == consumer.StateListening.String() {
			resp.Listening++
		}
	}

	switch {
	case s.shutdown != nil && s.shutdown.IsShutdown():
		resp.Status = "not_ready"
		resp.Details = "shutting down"
	case resp.Workers == 0 || resp.Listening < resp.Workers:
		resp.Status = "not_ready"
		resp.Details = fmt.Sprintf("%d of %d workers listening", resp.Listening, resp.Workers)
	default:
		resp.Status = "ready"
		writeJSON(w, http.StatusOK, resp)
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, resp)
}

// WorkersResponse lists every worker's live status.
type WorkersResponse struct {
	RunID   string                  `json:"run_id,omitempty"`
	Workers []consumer.WorkerStatus `json:"workers"`
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := WorkersResponse{RunID: s.config.RunID, Workers: []consumer.WorkerStatus{}}
	if s.workers != nil {
		resp.Workers = s.workers.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
