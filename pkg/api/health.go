// Package api provides the liveness/readiness HTTP endpoints served
// alongside the Prometheus metrics endpoint on the enclave's admin port.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kaimast/credb/internal/catalog"
	"github.com/kaimast/credb/internal/store"
)

// HealthServer provides HTTP health check endpoints for a running enclave.
type HealthServer struct {
	store   *store.Store
	catalog *catalog.Catalog
	mux     *http.ServeMux
}

// NewHealthServer creates a health check HTTP server backed by the
// enclave's store and peer/index catalog.
func NewHealthServer(s *store.Store, cat *catalog.Catalog) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		store:   s,
		catalog: cat,
		mux:     mux,
	}

	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)

	return hs
}

// Start starts the health check HTTP server.
func (hs *HealthServer) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler implements the /health endpoint: a liveness check that
// returns 200 as long as the process can answer HTTP at all.
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// readyHandler implements the /ready endpoint: checks that every shard is
// mounted and the peer/index catalog is reachable.
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string

	if hs.store != nil {
		checks["shards"] = fmt.Sprintf("%d mounted", hs.store.NumShards())
	} else {
		checks["shards"] = "not initialized"
		ready = false
		message = "Store not initialized"
	}

	if hs.catalog != nil {
		if _, err := hs.catalog.ListPeers(); err != nil {
			checks["catalog"] = fmt.Sprintf("error: %v", err)
			ready = false
			if message == "" {
				message = "Catalog not accessible"
			}
		} else {
			checks["catalog"] = "ok"
		}
	} else {
		checks["catalog"] = "not initialized"
		ready = false
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	response := ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// GetHandler returns the HTTP handler for embedding in other servers.
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}
