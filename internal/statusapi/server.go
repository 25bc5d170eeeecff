// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package statusapi serves the operational surface of the ingestion
// service over HTTP: a dependency health probe at /healthz and the
// lifetime statistics at /status.
package statusapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/bcem/mailingest/internal/models"
)

// Source provides the statistics served at /status. Implemented by the
// ingest orchestrator.
type Source interface {
	Stats() models.ServiceStats
}

// Check is a named reachability probe for one downstream dependency.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// Handler serves the health and status endpoints.
type Handler struct {
	source Source
	checks []Check
}

// NewHandler creates a status handler backed by the given source and
// dependency checks.
func NewHandler(source Source, checks ...Check) *Handler {
	return &Handler{source: source, checks: checks}
}

// ServeHealth reports 200 when every dependency check passes, and 503
// naming the first failing dependency otherwise.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	for _, c := range h.checks {
		if err := c.Ping(r.Context()); err != nil {
			slog.Warn("health check failed", "dependency", c.Name, "error", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "unhealthy",
				"failed": c.Name,
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status": "healthy"}`))
}

// ServeStatus serves the service statistics as JSON.
func (h *Handler) ServeStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.source.Stats()); err != nil {
		slog.Error("failed to encode status response", "error", err)
	}
}

// Serve starts the status HTTP server on the given port. It binds the
// port immediately and signals readiness via the returned channel before
// starting to accept connections.
func Serve(ctx context.Context, port int, handler *Handler) (<-chan struct{}, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handler.ServeHealth)
	mux.HandleFunc("/status", handler.ServeStatus)

	server := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind status port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("status server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("status server shutdown error", "error", err)
		}
	}()

	go func() {
		slog.Info("status server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("status server error", "error", err)
		}
	}()

	return ready, nil
}
