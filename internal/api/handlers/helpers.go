package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"med-delivery-routing/internal/domain"
	"med-delivery-routing/internal/platform/logging"
	"med-delivery-routing/internal/platform/obs"
	"net/http"
	"strconv"
	"strings"
)

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(r.Context(), "encode failed",
			"req_id", obs.RequestID(r.Context()), "method", r.Method, "path", r.URL.Path, "err", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, map[string]string{"error": msg})
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

// writeServiceError maps service errors onto status codes. Unknown errors are
// logged with their full chain and answered with a generic body.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	logger = logging.OrDiscard(logger)
	switch {
	case errors.Is(err, domain.ErrMonitoringNotStarted):
		writeError(w, r, http.StatusConflict, "monitoring not started")
	case errors.Is(err, domain.ErrMedicationNotFound):
		writeError(w, r, http.StatusNotFound, "order medication not found")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrDepotCoordinates):
		writeError(w, r, http.StatusUnprocessableEntity, "depot is missing coordinates")
	case errors.Is(err, domain.ErrInvalidProblem):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrSolverFailed):
		logger.ErrorContext(r.Context(), "solver failed", "req_id", obs.RequestID(r.Context()), "err", err)
		writeError(w, r, http.StatusBadGateway, "solver unavailable")
	default:
		logger.ErrorContext(r.Context(), "request failed",
			"req_id", obs.RequestID(r.Context()), "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, r, http.StatusInternalServerError, "internal server error")
	}
}

// decodeBody reads exactly one JSON object with no unknown fields.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	defer r.Body.Close()
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		return errors.New("invalid json body")
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("body must contain only one JSON object")
	}
	return nil
}

func queryString(r *http.Request, key string) string {
	return strings.TrimSpace(r.URL.Query().Get(key))
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	v := queryString(r, key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New(key + " must be an integer")
	}
	return n, nil
}

func queryBool(r *http.Request, key string, fallback bool) (bool, error) {
	v := queryString(r, key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errors.New(key + " must be a boolean")
	}
	return b, nil
}
