package handlers

import (
	"context"
	"log/slog"
	"med-delivery-routing/internal/api/dto"
	"med-delivery-routing/internal/domain"
	"med-delivery-routing/internal/platform/logging"
	"net/http"
	"time"
)

// StabilityService is the monitor surface the stability endpoints need.
type StabilityService interface {
	Start(ctx context.Context, orderID string) (domain.StabilityState, error)
	Config(ctx context.Context, orderID string) (domain.MedicationLimits, error)
	Update(ctx context.Context, orderID string, t domain.Telemetry) (domain.StabilityOutcome, error)
	Stop(ctx context.Context, orderID string) (domain.StabilityState, error)
	State(ctx context.Context, orderID string) (domain.StabilityState, error)
}

type StabilityHandler struct {
	Monitor StabilityService
	Logger  *slog.Logger
}

func (h *StabilityHandler) logger() *slog.Logger { return logging.OrDiscard(h.Logger) }

// orderID reads the order from the path wildcard when the route has one, else from the query.
func orderID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("order_id")
	if id == "" {
		id = queryString(r, "order_id")
	}
	if id == "" {
		writeError(w, r, http.StatusBadRequest, "order_id is required")
		return "", false
	}
	return id, true
}

// Start begins cold-chain monitoring of an order.
func (h *StabilityHandler) Start(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	state, err := h.Monitor.Start(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger(), err)
		return
	}

	writeJSON(w, r, http.StatusOK, dto.StabilityStartResponse{
		OrderID:                state.OrderID,
		MaxExcursionTemp:       state.MaxExcursionTemp,
		MaxTimeExertionSeconds: state.MaxTimeExertionS,
		TimerStarted:           state.TimerStarted,
	})
}

// Config returns the medication limits of an order without starting monitoring.
func (h *StabilityHandler) Config(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	limits, err := h.Monitor.Config(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger(), err)
		return
	}

	writeJSON(w, r, http.StatusOK, dto.StabilityConfigResponse{
		OrderID:                id,
		MedicationName:         limits.MedicationName,
		MaxExcursionTemp:       limits.MaxExcursionTemp,
		MaxTimeExertionSeconds: int(limits.MaxTimeExertion / time.Second),
	})
}

// Update applies one telemetry reading and returns the decision.
func (h *StabilityHandler) Update(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	var req dto.TelemetryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := getValidator().Struct(req); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, validationMessage(err))
		return
	}

	outcome, err := h.Monitor.Update(r.Context(), id, domain.Telemetry{
		Temp: *req.Temp,
		Lat:  *req.Lat,
		Lon:  *req.Lon,
	})
	if err != nil {
		writeServiceError(w, r, h.logger(), err)
		return
	}

	writeJSON(w, r, http.StatusOK, toUpdateResponse(outcome))
}

// Stop ends monitoring of an order.
func (h *StabilityHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	state, err := h.Monitor.Stop(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger(), err)
		return
	}

	writeJSON(w, r, http.StatusOK, toStateResponse(state))
}

// State returns the monitor record of an order.
func (h *StabilityHandler) State(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	state, err := h.Monitor.State(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger(), err)
		return
	}

	writeJSON(w, r, http.StatusOK, toStateResponse(state))
}

func toUpdateResponse(o domain.StabilityOutcome) dto.StabilityUpdateResponse {
	written := o.Persisted
	remaining := o.RemainingSeconds

	switch o.Kind {
	case domain.OutcomeInactive:
		return dto.StabilityUpdateResponse{Status: string(domain.OutcomeInactive)}
	case domain.OutcomeSafe:
		return dto.StabilityUpdateResponse{Status: string(domain.OutcomeSafe), WrittenToDashboard: &written}
	case domain.OutcomeTimerStarted:
		return dto.StabilityUpdateResponse{TimerStarted: true, WrittenToDashboard: &written}
	case domain.OutcomeRemaining:
		return dto.StabilityUpdateResponse{RemainingSeconds: &remaining, WrittenToDashboard: &written}
	}
	return dto.StabilityUpdateResponse{Alert: o.Alert()}
}

func toStateResponse(s domain.StabilityState) dto.StabilityStateResponse {
	return dto.StabilityStateResponse{
		OrderID:                s.OrderID,
		Status:                 string(s.Status),
		Active:                 s.Active,
		MaxExcursionTemp:       s.MaxExcursionTemp,
		MaxTimeExertionSeconds: s.MaxTimeExertionS,
		TimerStarted:           s.TimerStarted,
		TimerStartedAt:         s.TimerStartedAt,
		LastTemp:               s.LastTemp,
		LastLat:                s.LastLat,
		LastLon:                s.LastLon,
		UpdatedAt:              s.UpdatedAt,
	}
}
