package svcserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cuemby/fabric/pkg/metrics"
	"github.com/cuemby/fabric/pkg/registry"
)

// HealthServer exposes HTTP liveness/readiness endpoints alongside the
// Prometheus handler, for processes that run an embedded HTTP listener
// next to their registration and service traffic.
type HealthServer struct {
	reg *registry.Registry
	mux *http.ServeMux
}

// NewHealthServer builds a health server. reg may be nil, in which case
// /ready always reports not ready.
func NewHealthServer(reg *registry.Registry) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{reg: reg, mux: mux}

	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// Start runs the HTTP server until it errors or is shut down.
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

// HealthResponse is the /health response body.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse is the /ready response body.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler is a liveness check: 200 whenever the process can answer.
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{Status: "healthy", Timestamp: time.Now()}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// readyHandler reports ready when the health server was built with a
// registration layer (reg non-nil); it does not inspect the registry's
// contents.
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string

	if hs.reg != nil {
		checks["registration"] = "started"
	} else {
		checks["registration"] = "not initialized"
		ready = false
		message = "registration layer not initialized"
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

// GetHandler returns the HTTP handler for embedding into another server.
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}
