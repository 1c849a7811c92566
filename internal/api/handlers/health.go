package handlers

import (
	"context"
	"log/slog"
	"med-delivery-routing/internal/platform/logging"
	"net/http"
	"time"
)

const readyTimeout = 2 * time.Second

// Health provides a minimal liveness check endpoint.
func Health(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	res := map[string]string{"status": "ok"}
	writeJSON(w, r, http.StatusOK, res)
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type ReadyHandler struct {
	DB     Pinger
	Logger *slog.Logger
}

// Ready reports whether the database answers.
func (h *ReadyHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if h.DB == nil {
		writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if err := h.DB.PingContext(ctx); err != nil {
		logging.OrDiscard(h.Logger).WarnContext(r.Context(), "readiness check failed", "err", err)
		writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}
