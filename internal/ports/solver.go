package ports

import (
	"context"
	"med-delivery-routing/internal/domain"
	"time"
)

// Raw output of the external vehicle-routing oracle.
// Each route is a sequence of customer ids for one vehicle, without depot markers.
// Cost is nil when the solver did not report one.
type SolverResult struct {
	Routes [][]int
	Cost   *float64
}

// Contract for the metaheuristic solver. Implementations are black boxes;
// feasibility is enforced downstream by route validation.
type Solver interface {
	Solve(ctx context.Context, instance *domain.ProblemInstance, budget time.Duration) (SolverResult, error)
}
