// Package health serves the operational surface: a JSON health endpoint
// and the Prometheus metrics registry.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server exposes /health and /metrics.
type Server struct {
	mu        sync.RWMutex
	port      int
	startTime time.Time
	logger    *zap.Logger
	server    *http.Server

	lastRebuildPosition string
	lastRebuildTime     time.Time
	rebuildCount        uint64
	errorCount          uint64
	lastError           string
	lastErrorTime       time.Time
}

// Response is the JSON body of /health.
type Response struct {
	Status              string `json:"status"`
	Uptime              string `json:"uptime"`
	RebuildCount        uint64 `json:"rebuild_count"`
	LastRebuildPosition string `json:"last_rebuild_position,omitempty"`
	LastRebuildTime     string `json:"last_rebuild_time,omitempty"`
	ErrorCount          uint64 `json:"error_count"`
	LastError           string `json:"last_error,omitempty"`
	LastErrorTime       string `json:"last_error_time,omitempty"`
}

// NewServer creates a health server listening on port.
func NewServer(port int, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		port:      port,
		startTime: time.Now(),
		logger:    logger,
	}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: r,
	}
	go func() {
		s.logger.Info("health server listening", zap.Int("port", s.port))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("health server failed", zap.Error(err))
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// RecordRebuild notes a completed ledger rebuild.
func (s *Server) RecordRebuild(positionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebuildCount++
	s.lastRebuildPosition = positionID
	s.lastRebuildTime = time.Now()
}

// RecordError notes a failed operation.
func (s *Server) RecordError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorCount++
	s.lastError = err.Error()
	s.lastErrorTime = time.Now()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	resp := Response{
		Status:              "healthy",
		Uptime:              time.Since(s.startTime).Round(time.Second).String(),
		RebuildCount:        s.rebuildCount,
		LastRebuildPosition: s.lastRebuildPosition,
		ErrorCount:          s.errorCount,
		LastError:           s.lastError,
	}
	if !s.lastRebuildTime.IsZero() {
		resp.LastRebuildTime = s.lastRebuildTime.Format(time.RFC3339)
	}
	if !s.lastErrorTime.IsZero() {
		resp.LastErrorTime = s.lastErrorTime.Format(time.RFC3339)
	}
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
