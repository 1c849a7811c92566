package handlers

import (
	"context"
	"log/slog"
	"med-delivery-routing/internal/api/dto"
	"med-delivery-routing/internal/domain"
	"med-delivery-routing/internal/platform/logging"
	"med-delivery-routing/internal/services"
	"net/http"
	"time"
)

const (
	algorithmHospital = "HGS"
	algorithmDriver   = "Driver-HGS"
)

// RoutePlanning is the planner surface the routing endpoints need.
type RoutePlanning interface {
	PlanHospitalRoutes(ctx context.Context, req services.PlanRequest) (*services.HospitalPlan, error)
	PlanDriverRoutes(ctx context.Context, req services.DriverPlanRequest) (*services.DriverPlan, error)
	DriverTodayOrders(ctx context.Context, driverID string) ([]services.TodayOrder, error)
}

// RouteDefaults fill query parameters the caller left out.
type RouteDefaults struct {
	HospitalID string
	Runtime    time.Duration
	Vehicles   int
	Capacity   int
}

type RouteHandler struct {
	Planner  RoutePlanning
	Defaults RouteDefaults
	Logger   *slog.Logger
}

func (h *RouteHandler) logger() *slog.Logger { return logging.OrDiscard(h.Logger) }

func (h *RouteHandler) defaultRuntimeSeconds() int {
	secs := int(h.Defaults.Runtime / time.Second)
	if secs < 1 {
		secs = 20
	}
	return secs
}

// Hospital plans routes for every pending stop of one hospital.
func (h *RouteHandler) Hospital(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	q := dto.PlanQuery{HospitalID: queryString(r, "hospital_id")}
	if q.HospitalID == "" {
		q.HospitalID = h.Defaults.HospitalID
	}

	var err error
	if q.Runtime, err = queryInt(r, "runtime", h.defaultRuntimeSeconds()); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if q.MultiMerge, err = queryBool(r, "multi_merge", true); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if q.Vehicles, err = queryInt(r, "vehicles", h.Defaults.Vehicles); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if q.Capacity, err = queryInt(r, "capacity", h.Defaults.Capacity); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := getValidator().Struct(q); err != nil {
		writeError(w, r, http.StatusBadRequest, validationMessage(err))
		return
	}

	plan, err := h.Planner.PlanHospitalRoutes(r.Context(), services.PlanRequest{
		HospitalID:      q.HospitalID,
		Runtime:         time.Duration(q.Runtime) * time.Second,
		MultiMerge:      q.MultiMerge,
		VehicleCount:    q.Vehicles,
		VehicleCapacity: q.Capacity,
	})
	if err != nil {
		writeServiceError(w, r, h.logger(), err)
		return
	}

	writeJSON(w, r, http.StatusOK, toHospitalPlanResponse(plan))
}

// Driver plans the delivery order of a driver's active orders with per-order ETAs.
func (h *RouteHandler) Driver(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	q := dto.DriverPlanQuery{DriverID: queryString(r, "driver_id")}

	var err error
	if q.Runtime, err = queryInt(r, "runtime", h.defaultRuntimeSeconds()); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if q.MultiMerge, err = queryBool(r, "multi_merge", true); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := getValidator().Struct(q); err != nil {
		writeError(w, r, http.StatusBadRequest, validationMessage(err))
		return
	}

	plan, err := h.Planner.PlanDriverRoutes(r.Context(), services.DriverPlanRequest{
		DriverID:   q.DriverID,
		Runtime:    time.Duration(q.Runtime) * time.Second,
		MultiMerge: q.MultiMerge,
	})
	if err != nil {
		writeServiceError(w, r, h.logger(), err)
		return
	}

	writeJSON(w, r, http.StatusOK, toDriverPlanResponse(plan))
}

// TodayOrders lists a driver's active orders with arrival and remaining-stability strings.
func (h *RouteHandler) TodayOrders(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	driverID := queryString(r, "driver_id")
	if driverID == "" {
		writeError(w, r, http.StatusBadRequest, "driver_id is required")
		return
	}

	orders, err := h.Planner.DriverTodayOrders(r.Context(), driverID)
	if err != nil {
		writeServiceError(w, r, h.logger(), err)
		return
	}

	res := make([]dto.TodayOrderResponse, 0, len(orders))
	for _, o := range orders {
		res = append(res, dto.TodayOrderResponse{
			OrderID:             o.OrderID,
			Status:              o.Status,
			HospitalName:        o.HospitalName,
			PatientAddress:      o.PatientAddress,
			OrdersCount:         1,
			ETAMinutes:          o.ETAMinutes,
			ETAIsEstimate:       o.ETAIsEstimate,
			MaxExcursionMinutes: o.MaxExcursionMinutes,
			ArrivalTime:         services.FormatHM(o.ETAMinutes),
			RemainingStability:  services.FormatHM(o.MaxExcursionMinutes),
		})
	}

	writeJSON(w, r, http.StatusOK, res)
}

func toHospitalPlanResponse(p *services.HospitalPlan) dto.HospitalPlanResponse {
	res := dto.HospitalPlanResponse{
		Algorithm:     algorithmHospital,
		HospitalID:    p.HospitalID,
		NumRoutes:     p.NumRoutes,
		Cost:          p.Cost,
		Routes:        make([][]dto.RoutePointResponse, 0, len(p.Routes)),
		Metrics:       toMetricsResponse(p.Metrics),
		Unserved:      toPointsResponse(p.Unserved),
		FallbackEdges: toEdgesResponse(p.FallbackEdges),
	}
	for _, route := range p.Routes {
		res.Routes = append(res.Routes, toPointsResponse(route))
	}
	return res
}

func toDriverPlanResponse(p *services.DriverPlan) dto.DriverPlanResponse {
	res := dto.DriverPlanResponse{
		DriverID:             p.DriverID,
		Algorithm:            algorithmDriver,
		NumDeliveries:        p.NumDeliveries,
		Cost:                 p.Cost,
		Routes:               make([]dto.DriverRouteResponse, 0, len(p.Routes)),
		Geo:                  make([][]dto.RoutePointResponse, 0, len(p.Geo)),
		Metrics:              toMetricsResponse(p.Metrics),
		OrderSequence:        p.ETAs.OrderSequence,
		ETAByOrder:           p.ETAs.ETAByOrder,
		ETACumulativeByOrder: p.ETAs.ETACumulativeByOrder,
		Unserved:             toPointsResponse(p.Unserved),
		FallbackEdges:        toEdgesResponse(p.FallbackEdges),
		Message:              p.Message,
	}
	if res.OrderSequence == nil {
		res.OrderSequence = []string{}
	}
	if res.ETAByOrder == nil {
		res.ETAByOrder = map[string]int{}
	}
	if res.ETACumulativeByOrder == nil {
		res.ETACumulativeByOrder = map[string]int{}
	}

	for _, route := range p.Routes {
		legs := make([]dto.LegResponse, 0, len(route.Legs))
		for _, l := range route.Legs {
			legs = append(legs, dto.LegResponse{
				From:             l.From,
				To:               l.To,
				DistanceM:        l.DistanceM,
				SegmentETAMin:    l.SegmentETAMin,
				CumulativeETAMin: l.CumulativeETAMin,
			})
		}
		res.Routes = append(res.Routes, dto.DriverRouteResponse{Path: route.Path, Legs: legs})
	}
	for _, g := range p.Geo {
		res.Geo = append(res.Geo, toPointsResponse(g))
	}
	return res
}

func toPointsResponse(points []domain.RoutePoint) []dto.RoutePointResponse {
	res := make([]dto.RoutePointResponse, 0, len(points))
	for _, p := range points {
		rp := dto.RoutePointResponse{
			Node: p.Node,
			Lat:  p.Lat,
			Lon:  p.Lon,
			Name: p.Name,
			ID:   p.ID,
			Type: p.Kind,
		}
		if p.OrderID != "" {
			orderID := p.OrderID
			rp.OrderID = &orderID
		}
		res = append(res, rp)
	}
	return res
}

func toMetricsResponse(metrics []domain.RouteMetrics) []dto.RouteMetricsResponse {
	res := make([]dto.RouteMetricsResponse, 0, len(metrics))
	for _, m := range metrics {
		res = append(res, dto.RouteMetricsResponse{
			DistanceKm:  m.DistanceKm,
			DurationH:   m.DurationH,
			WithinShift: m.WithinShift,
		})
	}
	return res
}

func toEdgesResponse(edges []domain.EdgeKey) []dto.EdgeResponse {
	res := make([]dto.EdgeResponse, 0, len(edges))
	for _, e := range edges {
		res = append(res, dto.EdgeResponse{From: e.From, To: e.To})
	}
	return res
}
