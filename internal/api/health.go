package api

import (
	"context"
	"net/http"

	"github.com/corvidlabs/lectern/internal/log"
)

// Index reports the state of the vector index, satisfied by
// *store.Store. Readiness means the chunks table answers a query, not
// merely that a connection pool exists.
type Index interface {
	Count(ctx context.Context) (int64, error)
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	index  Index
	logger log.Logger
}

// NewHealthHandler creates a health handler over the vector index.
func NewHealthHandler(index Index, logger log.Logger) *HealthHandler {
	return &HealthHandler{index: index, logger: logger}
}

// RegisterRoutes registers health routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.liveness)
	mux.HandleFunc("GET /ready", h.readiness)
}

// liveness returns 200 if the process is alive.
func (h *HealthHandler) liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ReadyResponse is the body of a successful readiness check. Points
// surfaces how much of the corpus is indexed; 0 on a fresh deployment
// is ready but answering from general knowledge only.
type ReadyResponse struct {
	Status string `json:"status"`
	Points int64  `json:"points"`
}

// readiness returns 200 only when the chunks table answers a count
// query.
func (h *HealthHandler) readiness(w http.ResponseWriter, r *http.Request) {
	if h.index == nil {
		http.Error(w, "index not configured", http.StatusServiceUnavailable)
		return
	}
	count, err := h.index.Count(r.Context())
	if err != nil {
		h.logger.Error("readiness check failed", "error", err)
		http.Error(w, "index not ready", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, ReadyResponse{Status: "ready", Points: count})
}
