package services

import (
	"context"
	"fmt"
	"log/slog"
	"med-delivery-routing/internal/domain"
	"med-delivery-routing/internal/platform/logging"
	"med-delivery-routing/internal/ports"
	"time"
)

// DefaultShiftLimit is the longest a driver may be out across all trips of a route.
const DefaultShiftLimit = 8 * time.Hour

// RoutingRules are the fleet constraints a route is checked against.
type RoutingRules struct {
	Capacity   int
	ShiftLimit time.Duration
}

// SplitIntoTrips packs a raw customer sequence into depot-to-depot trips.
//
// It walks the sequence left to right and closes the current trip whenever the next
// customer would push the load past capacity. Customers are never reordered. A single
// customer heavier than capacity still gets a trip of its own. Depot markers are ignored.
func SplitIntoTrips(route []int, capacity int, demand map[int]int) []domain.Trip {
	trips := []domain.Trip{}
	var cur []int
	load := 0

	for _, c := range route {
		if c == domain.DepotID {
			continue
		}
		d := demand[c]
		if len(cur) > 0 && load+d > capacity {
			trips = append(trips, domain.Trip{Customers: cur, Load: load})
			cur, load = nil, 0
		}
		cur = append(cur, c)
		load += d
	}
	if len(cur) > 0 {
		trips = append(trips, domain.Trip{Customers: cur, Load: load})
	}

	return trips
}

// ValidateRoute splits a raw route into trips and simulates each of them.
//
// Each trip's clock starts at zero when it leaves the depot. An arrival later than the
// customer's due time rejects the route when the edge came from the map service; late
// arrivals over fallback edges are only logged. The shift check uses the sum over all
// trips. The only errors are edge lookup errors (unknown node ids).
func ValidateRoute(
	ctx context.Context,
	route []int,
	rules RoutingRules,
	demand map[int]int,
	due map[int]int,
	geo ports.EdgeSource,
	logger *slog.Logger,
) (domain.RouteValidation, error) {
	logger = logging.OrDiscard(logger)

	trips := SplitIntoTrips(route, rules.Capacity, demand)
	if len(trips) == 0 {
		return domain.RouteValidation{Feasible: true, Path: []int{}, Customers: []int{}, Trips: trips}, nil
	}

	rejected := domain.RouteValidation{Trips: trips}
	total := 0.0

	for i, trip := range trips {
		clock := 0.0
		prev := domain.DepotID

		for _, c := range trip.Customers {
			e, err := geo.GetEdge(ctx, prev, c)
			if err != nil {
				return domain.RouteValidation{}, fmt.Errorf("validate route: trip %d: %w", i+1, err)
			}
			clock += e.DurationS

			nodeDue, ok := due[c]
			if !ok {
				nodeDue = domain.NoDeadline
			}
			if etaMin := clock / 60; etaMin > float64(nodeDue) {
				logger.WarnContext(ctx, "late arrival",
					"trip", i+1, "node", c, "eta_min", etaMin, "due_min", nodeDue, "fallback", e.IsFallback)
				if !e.IsFallback {
					rejected.ShiftSeconds = total + clock
					return rejected, nil
				}
			}
			prev = c
		}

		back, err := geo.GetEdge(ctx, prev, domain.DepotID)
		if err != nil {
			return domain.RouteValidation{}, fmt.Errorf("validate route: trip %d return leg: %w", i+1, err)
		}
		clock += back.DurationS

		logger.DebugContext(ctx, "trip simulated",
			"trip", i+1, "customers", trip.Customers, "load", trip.Load, "capacity", rules.Capacity, "minutes", clock/60)
		total += clock
	}

	shiftLimit := rules.ShiftLimit
	if shiftLimit <= 0 {
		shiftLimit = DefaultShiftLimit
	}
	if total > shiftLimit.Seconds() {
		logger.WarnContext(ctx, "shift limit exceeded",
			"shift_h", total/3600, "limit_h", shiftLimit.Hours())
		rejected.ShiftSeconds = total
		return rejected, nil
	}

	path := []int{domain.DepotID}
	customers := make([]int, 0, len(route))
	for _, trip := range trips {
		path = append(path, trip.Customers...)
		path = append(path, domain.DepotID)
		customers = append(customers, trip.Customers...)
	}

	return domain.RouteValidation{
		Feasible:     true,
		Path:         path,
		Customers:    customers,
		Trips:        trips,
		ShiftSeconds: total,
	}, nil
}

// customersOf strips depot markers from a path.
func customersOf(path []int) []int {
	out := make([]int, 0, len(path))
	for _, n := range path {
		if n != domain.DepotID {
			out = append(out, n)
		}
	}
	return out
}
