package server

import (
	"net/http"
	"time"

	"github.com/kubeheal/kubeheal/pkg/serializer"
)

// HealthResponse represents health and readiness check responses.
type HealthResponse struct {
	Status    string            `json:"status" yaml:"status"`
	Timestamp time.Time         `json:"timestamp" yaml:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty" yaml:"checks,omitempty"`
}

// handleHealthz handles GET /healthz: process liveness only.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	serializer.RespondJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// handleReadyz handles GET /readyz: the readiness gate plus every
// registered collaborator check. Any failing check makes the response 503.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	ready := s.ready
	s.mu.RUnlock()

	resp := HealthResponse{
		Status:    "ready",
		Timestamp: time.Now(),
		Checks:    map[string]string{},
	}

	if !ready {
		resp.Status = "not_ready"
		resp.Checks["loop"] = "first evaluation pass not complete"
	}

	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			resp.Status = "not_ready"
			resp.Checks[name] = err.Error()
		} else {
			resp.Checks[name] = "ok"
		}
	}

	code := http.StatusOK
	if resp.Status != "ready" {
		code = http.StatusServiceUnavailable
	}
	serializer.RespondJSON(w, code, resp)
}
