package solver

import (
	"context"
	"errors"
	"math"
	"med-delivery-routing/internal/domain"
	"med-delivery-routing/internal/ports"
	"slices"
	"time"
)

// GreedySolver builds routes without an external process.
//
// Customers are sorted by straight-line distance from the depot and packed into
// vehicles in that order, so each vehicle receives a contiguous distance band.
// Each vehicle's stops are then ordered by nearest neighbour. The result is
// deterministic and ignores the time budget; it is not optimized.
type GreedySolver struct{}

var _ ports.Solver = GreedySolver{}

func (GreedySolver) Solve(ctx context.Context, inst *domain.ProblemInstance, _ time.Duration) (ports.SolverResult, error) {
	if inst == nil {
		return ports.SolverResult{}, errors.New("greedy solve: instance is nil")
	}
	if inst.VehicleCount < 1 || inst.VehicleCapacity < 1 {
		return ports.SolverResult{}, errors.New("greedy solve: fleet must have at least one vehicle with capacity")
	}
	if err := ctx.Err(); err != nil {
		return ports.SolverResult{}, err
	}

	depot := inst.Depot.Coordinates
	customers := slices.Clone(inst.Customers)

	// Tie-breaker keeps the assignment deterministic when distances are equal.
	slices.SortFunc(customers, func(a, b domain.Node) int {
		da, db := depot.DistanceTo(a.Coordinates), depot.DistanceTo(b.Coordinates)
		switch {
		case da < db:
			return -1
		case da > db:
			return 1
		}
		return a.ID - b.ID
	})

	vehicles := make([]*domain.Vehicle, 0, inst.VehicleCount)
	current := domain.NewVehicle(1, inst.VehicleCapacity)
	vehicles = append(vehicles, current)

	for _, c := range customers {
		if len(current.Customers) == 0 {
			current.ForceAssign(c.ID, c.Demand)
			continue
		}
		if err := current.Assign(c.ID, c.Demand); err == nil {
			continue
		}
		if len(vehicles) < inst.VehicleCount {
			current = domain.NewVehicle(len(vehicles)+1, inst.VehicleCapacity)
			vehicles = append(vehicles, current)
			current.ForceAssign(c.ID, c.Demand)
			continue
		}
		// Fleet exhausted: the last vehicle runs extra trips.
		current.ForceAssign(c.ID, c.Demand)
	}

	nodes := make(map[int]domain.Node, len(inst.Customers))
	for _, c := range inst.Customers {
		nodes[c.ID] = c
	}

	var (
		routes [][]int
		meters float64
	)
	for _, v := range vehicles {
		if len(v.Customers) == 0 {
			continue
		}
		route, dist := nearestNeighbor(depot, v.Customers, nodes)
		routes = append(routes, route)
		meters += dist
	}

	cost := math.Round(meters) / 1000
	return ports.SolverResult{Routes: routes, Cost: &cost}, nil
}

// nearestNeighbor orders ids greedily from the depot and returns the order
// with the length of the closed tour in meters.
func nearestNeighbor(depot domain.Coordinates, ids []int, nodes map[int]domain.Node) ([]int, float64) {
	remaining := slices.Clone(ids)
	slices.Sort(remaining)

	order := make([]int, 0, len(ids))
	at := depot
	total := 0.0

	for len(remaining) > 0 {
		best := -1
		bestDist := math.Inf(1)
		// remaining is sorted, so strict < keeps the lowest id on ties.
		for i, id := range remaining {
			d := at.DistanceTo(nodes[id].Coordinates)
			if d < bestDist {
				best, bestDist = i, d
			}
		}

		id := remaining[best]
		order = append(order, id)
		total += bestDist
		at = nodes[id].Coordinates
		remaining = slices.Delete(remaining, best, best+1)
	}

	total += at.DistanceTo(depot)
	return order, total
}
