package services

import (
	"context"
	"fmt"
	"log/slog"
	"med-delivery-routing/internal/platform/logging"
	"med-delivery-routing/internal/ports"
)

// DefaultMergeMaxPasses caps the consolidation loop.
const DefaultMergeMaxPasses = 64

type MergeOptions struct {
	MaxPasses int
}

// MergeResult holds the feasible expanded routes (0, trip..., 0, trip..., 0) and the
// customers no feasible trip could serve.
type MergeResult struct {
	Routes   [][]int
	Unserved []int
	Passes   int
	Merges   int
}

// MergeRoutes consolidates solver routes into fewer vehicles.
//
// Routes are first normalized (see ExpandRoutes). Then every unordered pair (i, j) of
// surviving routes is tried as the concatenation raw[i]+raw[j]; the first pair that
// validates is replaced by the merged route and the scan restarts. The loop stops when
// a full pass merges nothing or after MaxPasses passes. Running MergeRoutes on its own
// output merges nothing further.
func MergeRoutes(
	ctx context.Context,
	routes [][]int,
	rules RoutingRules,
	demand map[int]int,
	due map[int]int,
	geo ports.EdgeSource,
	opts MergeOptions,
	logger *slog.Logger,
) (MergeResult, error) {
	logger = logging.OrDiscard(logger)

	maxPasses := opts.MaxPasses
	if maxPasses <= 0 {
		maxPasses = DefaultMergeMaxPasses
	}

	raw, unserved, err := normalizeRoutes(ctx, routes, rules, demand, due, geo, logger)
	if err != nil {
		return MergeResult{}, fmt.Errorf("merge routes: %w", err)
	}

	res := MergeResult{Unserved: unserved}
	before := len(raw)

	for {
		if res.Passes >= maxPasses {
			logger.WarnContext(ctx, "merge pass limit reached", "passes", res.Passes, "routes", len(raw))
			break
		}
		res.Passes++

		merged, next, err := mergeFirstPair(ctx, raw, rules, demand, due, geo, logger)
		if err != nil {
			return MergeResult{}, fmt.Errorf("merge routes: pass %d: %w", res.Passes, err)
		}
		if !merged {
			break
		}
		raw = next
		res.Merges++
	}

	res.Routes = make([][]int, 0, len(raw))
	for _, r := range raw {
		v, err := ValidateRoute(ctx, r, rules, demand, due, geo, logger)
		if err != nil {
			return MergeResult{}, fmt.Errorf("merge routes: final validation: %w", err)
		}
		if !v.Feasible {
			res.Unserved = append(res.Unserved, r...)
			continue
		}
		res.Routes = append(res.Routes, v.Path)
	}

	logger.InfoContext(ctx, "routes merged",
		"before", before, "after", len(res.Routes), "passes", res.Passes, "unserved", len(res.Unserved))

	return res, nil
}

// ExpandRoutes validates each solver route on its own, without consolidation.
//
// A route that is infeasible as a whole is replaced by its capacity trips; a trip that is
// still infeasible is broken into one-customer trips, and customers that cannot be served
// even alone are reported as unserved.
func ExpandRoutes(
	ctx context.Context,
	routes [][]int,
	rules RoutingRules,
	demand map[int]int,
	due map[int]int,
	geo ports.EdgeSource,
	logger *slog.Logger,
) (MergeResult, error) {
	logger = logging.OrDiscard(logger)

	raw, unserved, err := normalizeRoutes(ctx, routes, rules, demand, due, geo, logger)
	if err != nil {
		return MergeResult{}, fmt.Errorf("expand routes: %w", err)
	}

	res := MergeResult{Routes: make([][]int, 0, len(raw)), Unserved: unserved}
	for _, r := range raw {
		v, err := ValidateRoute(ctx, r, rules, demand, due, geo, logger)
		if err != nil {
			return MergeResult{}, fmt.Errorf("expand routes: %w", err)
		}
		res.Routes = append(res.Routes, v.Path)
	}
	return res, nil
}

// normalizeRoutes returns feasible raw customer sequences covering as many customers as possible.
func normalizeRoutes(
	ctx context.Context,
	routes [][]int,
	rules RoutingRules,
	demand map[int]int,
	due map[int]int,
	geo ports.EdgeSource,
	logger *slog.Logger,
) ([][]int, []int, error) {
	raw := make([][]int, 0, len(routes))
	var unserved []int

	for ri, r := range routes {
		customers := customersOf(r)
		if len(customers) == 0 {
			continue
		}

		v, err := ValidateRoute(ctx, customers, rules, demand, due, geo, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("route %d: %w", ri+1, err)
		}
		if v.Feasible {
			raw = append(raw, v.Customers)
			continue
		}

		logger.InfoContext(ctx, "route infeasible, re-splitting into trips", "route", ri+1, "trips", len(v.Trips))

		for _, trip := range v.Trips {
			tv, err := ValidateRoute(ctx, trip.Customers, rules, demand, due, geo, logger)
			if err != nil {
				return nil, nil, fmt.Errorf("route %d: %w", ri+1, err)
			}
			if tv.Feasible {
				raw = append(raw, tv.Customers)
				continue
			}

			for _, c := range trip.Customers {
				sv, err := ValidateRoute(ctx, []int{c}, rules, demand, due, geo, logger)
				if err != nil {
					return nil, nil, fmt.Errorf("route %d: %w", ri+1, err)
				}
				if sv.Feasible {
					raw = append(raw, sv.Customers)
					continue
				}
				logger.WarnContext(ctx, "customer cannot be served by any trip", "node", c)
				unserved = append(unserved, c)
			}
		}
	}

	return raw, unserved, nil
}

// mergeFirstPair performs one pass and reports whether a pair was merged.
func mergeFirstPair(
	ctx context.Context,
	raw [][]int,
	rules RoutingRules,
	demand map[int]int,
	due map[int]int,
	geo ports.EdgeSource,
	logger *slog.Logger,
) (bool, [][]int, error) {
	for i := 0; i < len(raw); i++ {
		for j := i + 1; j < len(raw); j++ {
			cand := make([]int, 0, len(raw[i])+len(raw[j]))
			cand = append(cand, raw[i]...)
			cand = append(cand, raw[j]...)

			v, err := ValidateRoute(ctx, cand, rules, demand, due, geo, logger)
			if err != nil {
				return false, nil, err
			}
			if !v.Feasible {
				continue
			}

			logger.DebugContext(ctx, "routes merged", "i", i, "j", j, "customers", v.Customers)

			next := make([][]int, 0, len(raw)-1)
			for k, r := range raw {
				if k != i && k != j {
					next = append(next, r)
				}
			}
			next = append(next, v.Customers)
			return true, next, nil
		}
	}
	return false, raw, nil
}
