// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package admin serves the read-only HTTP status/metrics endpoint
// described in SPEC_FULL.md §6: healthz, metrics, and a stat mirror for
// operators who don't want to speak the TCP wire protocol. It never
// mutates queue state, but it still runs on its own goroutine outside
// the TCP dispatch loop, so every read goes through Queue.ClusterStatus
// rather than the cluster directly, taking q.mu for the duration of the
// snapshot just like the "stat" verb does.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wq-cluster/wqd/internal/queue"
	"github.com/wq-cluster/wqd/pkg/metrics"
)

// Server is the admin HTTP server.
type Server struct {
	addr    string
	queue   *queue.Queue
	metrics metrics.Collector
	ready   <-chan struct{}
	router  *mux.Router
}

// New builds an admin server bound to addr. ready is closed once the
// queue has completed its first refresh; /healthz reports 503 until then.
func New(addr string, q *queue.Queue, collector metrics.Collector, ready <-chan struct{}) *Server {
	s := &Server{addr: addr, queue: q, metrics: collector, ready: ready}
	s.router = mux.NewRouter()
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	s.router.HandleFunc("/stat", s.handleStat).Methods(http.MethodGet)
	return s
}

// ListenAndServe blocks serving the admin endpoint. The caller typically
// runs this in its own goroutine.
func (s *Server) ListenAndServe() error {
	return http.ListenAndServe(s.addr, s.router)
}

// Handler exposes the router directly, for tests that want to drive
// requests with httptest instead of a real listener.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.ready:
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	default:
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.metrics.GetStats())
}

func (s *Server) handleStat(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.queue.ClusterStatus())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
