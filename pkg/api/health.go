package api

import (
	"net/http"
	"time"

	"github.com/cuemby/burrow/pkg/metrics"
)

// HealthResponse represents the liveness check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler implements /healthz.
// This is a simple liveness check - returns 200 if the process is alive
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   s.cfg.Version,
	})
}

// readyHandler implements /readyz. The API is ready once it is serving and
// the last registry sample through the bridge succeeded.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	readiness := metrics.GetReadiness()

	status := "ready"
	statusCode := http.StatusOK
	if !readiness.Ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    readiness.Components,
		Message:   readiness.Message,
	})
}
