package handlers

import "net/http"

// Healthz handles GET /healthz: a liveness probe that never touches the
// store, so it stays up even while a backend is degraded.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz handles GET /readyz: a readiness probe that fails if the
// document store backend can't be reached.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.HealthCheck(r.Context()); err != nil {
		respondError(w, err)
		return
	}
	respondData(w, http.StatusOK, map[string]string{"status": "ready"})
}
