package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"med-delivery-routing/internal/domain"
	"med-delivery-routing/internal/platform/logging"
	"med-delivery-routing/internal/platform/metrics"
	"med-delivery-routing/internal/platform/obs"
	"med-delivery-routing/internal/ports"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultSolverBudget = 20 * time.Second
	MaxSolverBudget     = 600 * time.Second

	DefaultVehicleCount    = 20
	DefaultVehicleCapacity = 15

	summaryConcurrency = 4
)

// PlannerConfig holds fleet defaults and limits used when a request leaves them unset.
type PlannerConfig struct {
	VehicleCount    int
	VehicleCapacity int
	ShiftLimit      time.Duration
	SolverBudget    time.Duration
	MergeMaxPasses  int
	Geo             GeoOptions
}

func (c PlannerConfig) withDefaults() PlannerConfig {
	if c.VehicleCount < 1 {
		c.VehicleCount = DefaultVehicleCount
	}
	if c.VehicleCapacity < 1 {
		c.VehicleCapacity = DefaultVehicleCapacity
	}
	if c.ShiftLimit <= 0 {
		c.ShiftLimit = DefaultShiftLimit
	}
	if c.SolverBudget <= 0 {
		c.SolverBudget = DefaultSolverBudget
	}
	if c.MergeMaxPasses <= 0 {
		c.MergeMaxPasses = DefaultMergeMaxPasses
	}
	return c
}

// RoutePlanner turns pending deliveries into validated multi-trip routes.
// Every plan owns a fresh GeoRoutingProvider; nothing is cached between requests.
type RoutePlanner struct {
	repo    ports.StopRepository
	solver  ports.Solver
	travel  ports.TravelTimeSource
	cfg     PlannerConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewRoutePlanner(
	repo ports.StopRepository,
	solver ports.Solver,
	travel ports.TravelTimeSource,
	cfg PlannerConfig,
	logger *slog.Logger,
	m *metrics.Metrics,
) *RoutePlanner {
	return &RoutePlanner{
		repo:    repo,
		solver:  solver,
		travel:  travel,
		cfg:     cfg.withDefaults(),
		logger:  logging.OrDiscard(logger).With("component", "planner"),
		metrics: m,
	}
}

type PlanRequest struct {
	HospitalID string
	// Runtime is the solver time budget; zero means the configured default.
	Runtime         time.Duration
	MultiMerge      bool
	VehicleCount    int
	VehicleCapacity int
}

type HospitalPlan struct {
	HospitalID    string
	NumRoutes     int
	Cost          *float64
	Routes        [][]domain.RoutePoint
	Metrics       []domain.RouteMetrics
	Unserved      []domain.RoutePoint
	FallbackEdges []domain.EdgeKey
}

type DriverPlanRequest struct {
	DriverID   string
	Runtime    time.Duration
	MultiMerge bool
}

type DriverPlan struct {
	DriverID      string
	NumDeliveries int
	Cost          *float64
	Routes        []RouteLegs
	Geo           [][]domain.RoutePoint
	Metrics       []domain.RouteMetrics
	ETAs          DriverETAs
	Unserved      []domain.RoutePoint
	FallbackEdges []domain.EdgeKey
	Message       string
}

// TodayOrder is one active order of a driver with its direct depot-to-patient ETA.
type TodayOrder struct {
	OrderID             string
	Status              string
	HospitalName        string
	PatientAddress      string
	ETAMinutes          int
	ETAIsEstimate       bool
	MaxExcursionMinutes int
}

// plannedRoutes is the shared outcome of solve + validate/merge for one instance.
type plannedRoutes struct {
	paths    [][]int
	unserved []int
	cost     *float64
	geo      *GeoRoutingProvider
}

// PlanHospitalRoutes computes routes for every pending stop of a hospital.
func (p *RoutePlanner) PlanHospitalRoutes(ctx context.Context, req PlanRequest) (_ *HospitalPlan, err error) {
	defer obs.Time(ctx, "planner.PlanHospitalRoutes")(&err)
	start := time.Now()
	defer func() { p.metrics.ObserveRouting("hospital", outcomeLabel(err), time.Since(start)) }()

	vehicles := req.VehicleCount
	if vehicles < 1 {
		vehicles = p.cfg.VehicleCount
	}
	capacity := req.VehicleCapacity
	if capacity < 1 {
		capacity = p.cfg.VehicleCapacity
	}

	depot, err := p.repo.GetHospital(ctx, req.HospitalID)
	if err != nil {
		return nil, fmt.Errorf("plan hospital routes: get hospital %q: %w", req.HospitalID, err)
	}
	stops, err := p.repo.ListPendingStops(ctx, req.HospitalID)
	if err != nil {
		return nil, fmt.Errorf("plan hospital routes: list stops for %q: %w", req.HospitalID, err)
	}

	inst, err := EncodeProblem("C102", depot, stops, vehicles, capacity, p.logger)
	if err != nil {
		return nil, fmt.Errorf("plan hospital routes: %w", err)
	}

	planned, err := p.plan(ctx, inst, req.Runtime, req.MultiMerge)
	if err != nil {
		return nil, fmt.Errorf("plan hospital routes: %w", err)
	}

	metricsOut, err := p.summarize(ctx, planned.paths, planned.geo)
	if err != nil {
		return nil, fmt.Errorf("plan hospital routes: %w", err)
	}

	plan := &HospitalPlan{
		HospitalID:    req.HospitalID,
		NumRoutes:     len(planned.paths),
		Cost:          planned.cost,
		Routes:        make([][]domain.RoutePoint, 0, len(planned.paths)),
		Metrics:       metricsOut,
		Unserved:      routePoints(inst, planned.unserved),
		FallbackEdges: planned.geo.FallbackEdges(),
	}
	for _, path := range planned.paths {
		plan.Routes = append(plan.Routes, routePoints(inst, path))
	}

	return plan, nil
}

// PlanDriverRoutes computes routes over a driver's active deliveries, with per-order ETAs.
func (p *RoutePlanner) PlanDriverRoutes(ctx context.Context, req DriverPlanRequest) (_ *DriverPlan, err error) {
	defer obs.Time(ctx, "planner.PlanDriverRoutes")(&err)
	start := time.Now()
	defer func() { p.metrics.ObserveRouting("driver", outcomeLabel(err), time.Since(start)) }()

	depot, err := p.repo.GetDriverHospital(ctx, req.DriverID)
	if err != nil {
		return nil, fmt.Errorf("plan driver routes: driver %q: %w", req.DriverID, err)
	}
	stops, err := p.repo.ListDriverDeliveries(ctx, req.DriverID)
	if err != nil {
		return nil, fmt.Errorf("plan driver routes: deliveries of %q: %w", req.DriverID, err)
	}

	if len(stops) == 0 {
		return &DriverPlan{
			DriverID: req.DriverID,
			Routes:   []RouteLegs{},
			Geo:      [][]domain.RoutePoint{},
			ETAs: DriverETAs{
				OrderSequence:        []string{},
				ETAByOrder:           map[string]int{},
				ETACumulativeByOrder: map[string]int{},
			},
			Message: "No deliveries today",
		}, nil
	}

	inst, err := EncodeProblem("DRIVER_"+req.DriverID, depot, stops, p.cfg.VehicleCount, p.cfg.VehicleCapacity, p.logger)
	if err != nil {
		return nil, fmt.Errorf("plan driver routes: %w", err)
	}

	planned, err := p.plan(ctx, inst, req.Runtime, req.MultiMerge)
	if err != nil {
		return nil, fmt.Errorf("plan driver routes: %w", err)
	}

	etas, err := DriverETAsFor(ctx, planned.paths, planned.geo, inst.Meta)
	if err != nil {
		return nil, fmt.Errorf("plan driver routes: %w", err)
	}
	metricsOut, err := p.summarize(ctx, planned.paths, planned.geo)
	if err != nil {
		return nil, fmt.Errorf("plan driver routes: %w", err)
	}

	plan := &DriverPlan{
		DriverID:      req.DriverID,
		NumDeliveries: len(stops),
		Cost:          planned.cost,
		Routes:        etas.Routes,
		Geo:           make([][]domain.RoutePoint, 0, len(planned.paths)),
		Metrics:       metricsOut,
		ETAs:          etas,
		Unserved:      routePoints(inst, planned.unserved),
		FallbackEdges: planned.geo.FallbackEdges(),
	}
	for _, path := range planned.paths {
		plan.Geo = append(plan.Geo, routePoints(inst, path))
	}

	p.logger.InfoContext(ctx, "driver plan ready",
		"driver_id", req.DriverID, "order_sequence", etas.OrderSequence, "routes", len(planned.paths))

	return plan, nil
}

// DriverTodayOrders returns the driver's active orders of today with direct ETAs.
// A failed map lookup degrades to the fallback estimate and is flagged on the order.
func (p *RoutePlanner) DriverTodayOrders(ctx context.Context, driverID string) (_ []TodayOrder, err error) {
	defer obs.Time(ctx, "planner.DriverTodayOrders")(&err)

	orders, err := p.repo.ListDriverOrdersToday(ctx, driverID)
	if err != nil {
		return nil, fmt.Errorf("driver today orders: %q: %w", driverID, err)
	}

	out := make([]TodayOrder, len(orders))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(summaryConcurrency)

	for i, o := range orders {
		g.Go(func() error {
			item := TodayOrder{
				OrderID:             o.OrderID,
				Status:              o.Status,
				HospitalName:        o.HospitalName,
				PatientAddress:      o.PatientAddress,
				MaxExcursionMinutes: int(o.MaxTimeExertion / time.Minute),
			}

			if o.Hospital.Valid() && o.Patient.Valid() {
				geo := NewGeoRoutingProvider(
					map[int]domain.Coordinates{domain.DepotID: o.Hospital, 1: o.Patient},
					p.travel, p.cfg.Geo, p.logger, p.metrics,
				)
				e, err := geo.GetEdge(gctx, domain.DepotID, 1)
				if err != nil {
					return fmt.Errorf("order %q: %w", o.OrderID, err)
				}
				item.ETAMinutes = minutes(e.DurationS)
				item.ETAIsEstimate = e.IsFallback
			} else {
				p.logger.WarnContext(gctx, "order without usable coordinates, eta unknown", "order_id", o.OrderID)
			}

			out[i] = item
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("driver today orders: %w", err)
	}
	return out, nil
}

// plan runs the solver on an instance and validates or merges its routes.
func (p *RoutePlanner) plan(ctx context.Context, inst *domain.ProblemInstance, runtime time.Duration, multiMerge bool) (plannedRoutes, error) {
	geo := NewGeoRoutingProvider(inst.Coordinates(), p.travel, p.cfg.Geo, p.logger, p.metrics)

	if inst.Size() == 0 {
		p.logger.InfoContext(ctx, "no stops to route", "instance", inst.Name)
		return plannedRoutes{paths: [][]int{}, geo: geo}, nil
	}

	budget := clampBudget(runtime, p.cfg.SolverBudget)

	solveStart := time.Now()
	res, err := p.solver.Solve(ctx, inst, budget)
	p.metrics.ObserveSolver(time.Since(solveStart))
	if err != nil {
		return plannedRoutes{}, fmt.Errorf("solve %s: %w: %w", inst.Name, domain.ErrSolverFailed, err)
	}

	routes := sanitizeSolverRoutes(res.Routes, inst.Size(), p.logger)
	p.logger.InfoContext(ctx, "solver finished",
		"instance", inst.Name, "routes", len(routes), "budget_s", budget.Seconds(), "dur_ms", time.Since(solveStart).Milliseconds())

	rules := RoutingRules{Capacity: inst.VehicleCapacity, ShiftLimit: p.cfg.ShiftLimit}
	demand, due := inst.Demand(), inst.Due()

	var merged MergeResult
	if multiMerge {
		merged, err = MergeRoutes(ctx, routes, rules, demand, due, geo, MergeOptions{MaxPasses: p.cfg.MergeMaxPasses}, p.logger)
	} else {
		merged, err = ExpandRoutes(ctx, routes, rules, demand, due, geo, p.logger)
	}
	if err != nil {
		return plannedRoutes{}, err
	}

	unserved := append(merged.Unserved, unroutedCustomers(routes, inst.Size())...)
	if len(unserved) > 0 {
		p.logger.WarnContext(ctx, "stops left unserved", "instance", inst.Name, "nodes", unserved)
	}
	p.metrics.AddUnserved(len(unserved))
	p.metrics.AddMergeReductions(merged.Merges)

	live, fallback := geo.Stats()
	p.logger.InfoContext(ctx, "routes validated",
		"instance", inst.Name, "routes", len(merged.Routes), "merges", merged.Merges,
		"live_edges", live, "fallback_edges", fallback)

	return plannedRoutes{
		paths:    merged.Routes,
		unserved: unserved,
		cost:     finiteCost(res.Cost, p.logger),
		geo:      geo,
	}, nil
}

// summarize computes route metrics concurrently; the provider is shared and safe for that.
func (p *RoutePlanner) summarize(ctx context.Context, paths [][]int, geo *GeoRoutingProvider) ([]domain.RouteMetrics, error) {
	out := make([]domain.RouteMetrics, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(summaryConcurrency)
	for i, path := range paths {
		g.Go(func() error {
			m, err := SummarizeRoute(gctx, path, geo, p.cfg.ShiftLimit)
			if err != nil {
				return fmt.Errorf("route %d: %w", i+1, err)
			}
			out[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// sanitizeSolverRoutes drops depot markers, out-of-range ids and repeated customers
// (first occurrence wins) from raw solver output, and removes empty routes.
func sanitizeSolverRoutes(routes [][]int, n int, logger *slog.Logger) [][]int {
	logger = logging.OrDiscard(logger)
	seen := make(map[int]struct{}, n)
	out := make([][]int, 0, len(routes))

	for ri, r := range routes {
		clean := make([]int, 0, len(r))
		for _, c := range r {
			if c == domain.DepotID {
				continue
			}
			if c < 1 || c > n {
				logger.Warn("solver returned unknown customer", "route", ri+1, "node", c)
				continue
			}
			if _, dup := seen[c]; dup {
				logger.Warn("solver returned customer twice", "route", ri+1, "node", c)
				continue
			}
			seen[c] = struct{}{}
			clean = append(clean, c)
		}
		if len(clean) > 0 {
			out = append(out, clean)
		}
	}
	return out
}

// unroutedCustomers lists customers 1..n the solver assigned to no route.
func unroutedCustomers(routes [][]int, n int) []int {
	seen := make(map[int]struct{}, n)
	for _, r := range routes {
		for _, c := range r {
			seen[c] = struct{}{}
		}
	}
	var out []int
	for c := 1; c <= n; c++ {
		if _, ok := seen[c]; !ok {
			out = append(out, c)
		}
	}
	return out
}

func routePoints(inst *domain.ProblemInstance, nodes []int) []domain.RoutePoint {
	out := make([]domain.RoutePoint, 0, len(nodes))
	for _, id := range nodes {
		n, ok := inst.Node(id)
		if !ok {
			continue
		}
		m := inst.Meta[id]
		out = append(out, domain.RoutePoint{
			Node:    id,
			Lat:     n.Lat,
			Lon:     n.Lon,
			Name:    m.Name,
			ID:      m.Ref,
			OrderID: m.OrderID,
			Kind:    m.Kind,
		})
	}
	return out
}

func finiteCost(cost *float64, logger *slog.Logger) *float64 {
	if cost == nil {
		return nil
	}
	if math.IsNaN(*cost) || math.IsInf(*cost, 0) {
		logger.Warn("solver cost is not finite, omitting", "cost", *cost)
		return nil
	}
	c := *cost
	return &c
}

func clampBudget(runtime, fallback time.Duration) time.Duration {
	if runtime <= 0 {
		return fallback
	}
	if runtime < time.Second {
		return time.Second
	}
	if runtime > MaxSolverBudget {
		return MaxSolverBudget
	}
	return runtime
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrSolverFailed):
		return "solver_error"
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrDepotCoordinates), errors.Is(err, domain.ErrInvalidProblem):
		return "client_error"
	}
	return "error"
}
