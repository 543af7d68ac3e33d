package health

import (
	"encoding/json"
	"net/http"
)

// Handler serves the kubernetes-style probe endpoints.
type Handler struct {
	registry *Registry
}

// NewHandler creates a probe handler backed by the registry.
func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

// Healthz answers liveness probes. Always 200 while the process can
// serve requests at all.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	h.write(w, h.registry.Liveness(r.Context()))
}

// Readyz answers readiness probes. 503 when a critical dependency is
// down so the load balancer routes around this instance.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	h.write(w, h.registry.Readiness(r.Context()))
}

func (h *Handler) write(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")

	code := http.StatusOK
	if resp.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}
