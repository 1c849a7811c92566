package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"med-delivery-routing/internal/adapters/solver"
	"med-delivery-routing/internal/adapters/statestore"
	"med-delivery-routing/internal/api/handlers"
	"med-delivery-routing/internal/domain"
	"med-delivery-routing/internal/platform/metrics"
	"med-delivery-routing/internal/services"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlanner struct {
	mu          sync.Mutex
	hospitalReq services.PlanRequest
	driverReq   services.DriverPlanRequest
	err         error
}

func (f *fakePlanner) PlanHospitalRoutes(_ context.Context, req services.PlanRequest) (*services.HospitalPlan, error) {
	f.mu.Lock()
	f.hospitalReq = req
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	cost := 12.5
	return &services.HospitalPlan{
		HospitalID: req.HospitalID,
		NumRoutes:  1,
		Cost:       &cost,
		Routes: [][]domain.RoutePoint{{
			{Node: 0, Lat: 30.0444, Lon: 31.2357, Name: "Cairo General", ID: req.HospitalID, Kind: "hospital"},
			{Node: 1, Lat: 30.0131, Lon: 31.2089, Name: "Patient 1", ID: "p-001", Kind: "patient"},
			{Node: 0, Lat: 30.0444, Lon: 31.2357, Name: "Cairo General", ID: req.HospitalID, Kind: "hospital"},
		}},
		Metrics:       []domain.RouteMetrics{{DistanceKm: 8.4, DurationH: 0.25, WithinShift: true}},
		FallbackEdges: []domain.EdgeKey{{From: 1, To: 0}},
	}, nil
}

func (f *fakePlanner) PlanDriverRoutes(_ context.Context, req services.DriverPlanRequest) (*services.DriverPlan, error) {
	f.mu.Lock()
	f.driverReq = req
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &services.DriverPlan{
		DriverID:      req.DriverID,
		NumDeliveries: 1,
		Routes: []services.RouteLegs{{
			Path: []int{0, 1, 0},
			Legs: []domain.Leg{
				{From: 0, To: 1, DistanceM: 4000, SegmentETAMin: 7, CumulativeETAMin: 7},
				{From: 1, To: 0, DistanceM: 4000, SegmentETAMin: 7, CumulativeETAMin: 14},
			},
		}},
		ETAs: services.DriverETAs{
			OrderSequence:        []string{"o-1001"},
			ETAByOrder:           map[string]int{"o-1001": 7},
			ETACumulativeByOrder: map[string]int{"o-1001": 7},
		},
	}, nil
}

func (f *fakePlanner) DriverTodayOrders(_ context.Context, driverID string) ([]services.TodayOrder, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []services.TodayOrder{{
		OrderID:             "o-1001",
		Status:              "in_transit",
		HospitalName:        "Cairo General",
		PatientAddress:      "12 Tahrir St",
		ETAMinutes:          75,
		MaxExcursionMinutes: 150,
	}}, nil
}

type fakeMeds map[string]domain.MedicationLimits

func (f fakeMeds) GetMedicationLimits(_ context.Context, orderID string) (domain.MedicationLimits, error) {
	l, ok := f[orderID]
	if !ok {
		return domain.MedicationLimits{}, fmt.Errorf("order %q: %w", orderID, domain.ErrNotFound)
	}
	return l, nil
}

type fakeSink struct {
	mu      sync.Mutex
	written []int
}

func (s *fakeSink) RecordRemainingStability(_ context.Context, _ string, remaining int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, remaining)
	return nil
}

type fakeAlerts struct {
	mu     sync.Mutex
	alerts []domain.StabilityAlert
}

func (a *fakeAlerts) PublishStabilityAlert(_ context.Context, alert domain.StabilityAlert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert)
	return nil
}

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }

type testEnv struct {
	handler http.Handler
	planner *fakePlanner
	sink    *fakeSink
	alerts  *fakeAlerts
	now     time.Time
	mu      sync.Mutex
}

func (e *testEnv) advance(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = e.now.Add(d)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		planner: &fakePlanner{},
		sink:    &fakeSink{},
		alerts:  &fakeAlerts{},
		now:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}

	meds := fakeMeds{
		"o-1001": {OrderID: "o-1001", MedicationName: "Insulin", MaxExcursionTemp: 25, MaxTimeExertion: 150 * time.Minute},
	}
	monitor := services.NewStabilityMonitor(
		statestore.NewMemoryStore(), meds, env.sink, env.alerts,
		services.StabilityOptions{FridgeMaxC: 8, Now: func() time.Time {
			env.mu.Lock()
			defer env.mu.Unlock()
			return env.now
		}},
		nil, nil,
	)

	env.handler = NewRouter(Deps{
		Planner:  env.planner,
		Monitor:  monitor,
		DB:       fakePinger{},
		Defaults: handlers.RouteDefaults{
			HospitalID: "h-default",
			Runtime:    20 * time.Second,
			Vehicles:   20,
			Capacity:   15,
		},
		Metrics:  metrics.New(),
	})
	return env
}

func (e *testEnv) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func TestWriteTimeoutOutlastsLargestSolverBudget(t *testing.T) {
	// runtime=600 is the largest budget the planning endpoints accept.
	largest := 600 * time.Second
	require.Equal(t, largest, services.MaxSolverBudget)

	timeout := WriteTimeout(solver.DefaultGrace)
	assert.Greater(t, timeout, largest+solver.DefaultGrace)
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = env.do(http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodPost, "/health", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodGet, rec.Header().Get("Allow"))
}

func TestReadyReportsDatabaseFailure(t *testing.T) {
	h := NewRouter(Deps{DB: fakePinger{err: errors.New("connection refused")}})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequestIDIsPropagated(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(http.MethodGet, "/health", "")

	rec := env.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "medroute_http_requests_total")
}

func TestHospitalRoutes(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/routes/hospital?hospital_id=h-cairo-1&runtime=5&multi_merge=false&vehicles=3&capacity=4", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, "HGS", body["algorithm"])
	assert.Equal(t, float64(1), body["num_routes"])
	assert.Equal(t, 12.5, body["cost"])

	routes := body["routes"].([]any)
	require.Len(t, routes, 1)
	first := routes[0].([]any)[1].(map[string]any)
	assert.Equal(t, "patient", first["type"])
	assert.Equal(t, "p-001", first["id"])

	assert.Len(t, body["fallback_edges"], 1)
	assert.Empty(t, body["unserved"])

	req := env.planner.hospitalReq
	assert.Equal(t, "h-cairo-1", req.HospitalID)
	assert.Equal(t, 5*time.Second, req.Runtime)
	assert.False(t, req.MultiMerge)
	assert.Equal(t, 3, req.VehicleCount)
	assert.Equal(t, 4, req.VehicleCapacity)
}

func TestHospitalRoutesDefaults(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/hgs", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	req := env.planner.hospitalReq
	assert.Equal(t, "h-default", req.HospitalID)
	assert.Equal(t, 20*time.Second, req.Runtime)
	assert.True(t, req.MultiMerge)
	assert.Equal(t, 20, req.VehicleCount)
	assert.Equal(t, 15, req.VehicleCapacity)
}

func TestHospitalRoutesRejectsBadQuery(t *testing.T) {
	env := newTestEnv(t)

	cases := map[string]string{
		"runtime not int":   "/routes/hospital?runtime=abc",
		"runtime too large": "/routes/hospital?runtime=601",
		"runtime zero":      "/routes/hospital?runtime=0",
		"bad multi_merge":   "/routes/hospital?multi_merge=maybe",
		"vehicles zero":     "/routes/hospital?vehicles=0",
	}
	for name, target := range cases {
		t.Run(name, func(t *testing.T) {
			rec := env.do(http.MethodGet, target, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestHospitalRoutesErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		msg    string
	}{
		{fmt.Errorf("load depot: %w", domain.ErrNotFound), http.StatusNotFound, "not found"},
		{fmt.Errorf("encode: %w", domain.ErrDepotCoordinates), http.StatusUnprocessableEntity, "depot is missing coordinates"},
		{fmt.Errorf("solve: %w: exit 1", domain.ErrSolverFailed), http.StatusBadGateway, "solver unavailable"},
		{errors.New("pq: relation missing"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tc := range cases {
		t.Run(tc.msg, func(t *testing.T) {
			env := newTestEnv(t)
			env.planner.err = tc.err

			rec := env.do(http.MethodGet, "/routes/hospital?hospital_id=h-cairo-1", "")
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.msg, decode(t, rec)["error"])
		})
	}
}

func TestDriverRoutes(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/driver/hgs?driver_id=d-100&runtime=3", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, "Driver-HGS", body["algorithm"])
	assert.Equal(t, "d-100", body["driver_id"])
	assert.Equal(t, map[string]any{"o-1001": float64(7)}, body["eta_by_order"])

	routes := body["routes"].([]any)
	require.Len(t, routes, 1)
	legs := routes[0].(map[string]any)["legs"].([]any)
	assert.Equal(t, float64(14), legs[1].(map[string]any)["cumulative_eta_min"])

	assert.Equal(t, 3*time.Second, env.planner.driverReq.Runtime)

	rec = env.do(http.MethodGet, "/routes/driver", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "driver_id is required", decode(t, rec)["error"])
}

func TestTodayOrders(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/driver/today-orders?driver_id=d-100", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var orders []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, "1h 15m", orders[0]["arrival_time"])
	assert.Equal(t, "2h 30m", orders[0]["remaining_stability"])
	assert.Equal(t, float64(1), orders[0]["orders_count"])

	rec = env.do(http.MethodGet, "/driver/today-orders", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStabilityLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/stability/update?order_id=o-1001", `{"temp":5,"lat":30.0,"lon":31.2}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(http.MethodPost, "/stability/start?order_id=o-1001", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, float64(25), body["max_excursion_temp"])
	assert.Equal(t, float64(9000), body["max_time_exertion_seconds"])
	assert.Equal(t, false, body["timer_started"])

	rec = env.do(http.MethodPost, "/stability/update?order_id=o-1001", `{"temp":5,"lat":30.0,"lon":31.2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"status": "safe", "written_to_dashboard": true}, decode(t, rec))

	rec = env.do(http.MethodPost, "/stability/update?order_id=o-1001", `{"temp":12,"lat":30.0,"lon":31.2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, map[string]any{"timer_started": true, "written_to_dashboard": true}, body)
	assert.NotContains(t, body, "remaining_seconds")

	env.advance(10 * time.Minute)
	rec = env.do(http.MethodPost, "/stability/update?order_id=o-1001", `{"temp":6,"lat":30.0,"lon":31.2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, float64(8400), body["remaining_seconds"])
	assert.NotContains(t, body, "timer_started")

	rec = env.do(http.MethodPost, "/stability/update?order_id=o-1001", `{"temp":30,"lat":30.0,"lon":31.2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"alert": "MAX_EXCURSION_EXCEEDED"}, decode(t, rec))
	require.Len(t, env.alerts.alerts, 1)

	rec = env.do(http.MethodPost, "/stability/update?order_id=o-1001", `{"temp":5,"lat":30.0,"lon":31.2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"status": "inactive"}, decode(t, rec))

	rec = env.do(http.MethodGet, "/stability/state?order_id=o-1001", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "exceeded", body["status"])
	assert.Equal(t, false, body["active"])
	assert.Equal(t, float64(30), body["last_temp"])
}

func TestStabilityStop(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/stability/stop?order_id=o-1001", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	env.do(http.MethodPost, "/stability/start?order_id=o-1001", "")
	rec = env.do(http.MethodPost, "/stability/stop?order_id=o-1001", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stopped", decode(t, rec)["status"])
}

func TestStabilityStartUnknownOrder(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/stability/start?order_id=o-404", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodPost, "/stability/start", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodGet, "/stability/start?order_id=o-1001", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStabilityConfig(t *testing.T) {
	env := newTestEnv(t)

	for _, target := range []string{"/stability/config?order_id=o-1001", "/stability/config/o-1001"} {
		rec := env.do(http.MethodGet, target, "")
		require.Equal(t, http.StatusOK, rec.Code, target)
		body := decode(t, rec)
		assert.Equal(t, "o-1001", body["order_id"])
		assert.Equal(t, "Insulin", body["medication_name"])
		assert.Equal(t, float64(9000), body["max_time_exertion_seconds"])
	}

	rec := env.do(http.MethodGet, "/stability/config/o-404", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStabilityUpdateRejectsBadBody(t *testing.T) {
	env := newTestEnv(t)
	env.do(http.MethodPost, "/stability/start?order_id=o-1001", "")

	cases := map[string]struct {
		body   string
		status int
	}{
		"not json":      {`{temp:1}`, http.StatusBadRequest},
		"unknown field": {`{"temp":1,"lat":30,"lon":31,"humidity":3}`, http.StatusBadRequest},
		"two objects":   {`{"temp":1,"lat":30,"lon":31}{}`, http.StatusBadRequest},
		"missing temp":  {`{"lat":30,"lon":31}`, http.StatusUnprocessableEntity},
		"bad latitude":  {`{"temp":1,"lat":95,"lon":31}`, http.StatusUnprocessableEntity},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/stability/update?order_id=o-1001", tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}

	assert.Empty(t, env.sink.written)
}
