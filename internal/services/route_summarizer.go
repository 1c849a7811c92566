package services

import (
	"context"
	"fmt"
	"math"
	"med-delivery-routing/internal/domain"
	"med-delivery-routing/internal/ports"
	"time"
)

// LegsResult is the per-leg ETA breakdown of one expanded route.
// SegmentETA and CumulativeETA hold the first value recorded for each customer node.
type LegsResult struct {
	Legs          []domain.Leg
	TotalSeconds  float64
	SegmentETA    map[int]int
	CumulativeETA map[int]int
	Visits        []int
}

// RouteLegs pairs an expanded path with its legs.
type RouteLegs struct {
	Path []int
	Legs []domain.Leg
}

// DriverETAs is the ETA bookkeeping of a driver's whole day, keyed by order id.
type DriverETAs struct {
	Routes               []RouteLegs
	OrderSequence        []string
	ETAByOrder           map[string]int
	ETACumulativeByOrder map[string]int
}

// SummarizeRoute returns distance (km) and duration (h) of an expanded path, both rounded
// to two decimals, and whether the unrounded duration fits the shift.
func SummarizeRoute(ctx context.Context, path []int, geo ports.EdgeSource, shiftLimit time.Duration) (domain.RouteMetrics, error) {
	if shiftLimit <= 0 {
		shiftLimit = DefaultShiftLimit
	}

	dist, dur := 0.0, 0.0
	for i := 1; i < len(path); i++ {
		e, err := geo.GetEdge(ctx, path[i-1], path[i])
		if err != nil {
			return domain.RouteMetrics{}, fmt.Errorf("summarize route: %w", err)
		}
		dist += e.DistanceM
		dur += e.DurationS
	}

	return domain.RouteMetrics{
		DistanceKm:  round2(dist / 1000),
		DurationH:   round2(dur / 3600),
		WithinShift: dur <= shiftLimit.Seconds(),
	}, nil
}

// LegETAs walks an expanded path and records segment and cumulative ETAs in whole minutes.
// The cumulative clock runs over the whole path and is not reset at depot visits.
func LegETAs(ctx context.Context, path []int, geo ports.EdgeSource) (LegsResult, error) {
	res := LegsResult{
		Legs:          make([]domain.Leg, 0, max(len(path)-1, 0)),
		SegmentETA:    make(map[int]int),
		CumulativeETA: make(map[int]int),
	}

	cumulative := 0.0
	for i := 1; i < len(path); i++ {
		u, v := path[i-1], path[i]
		e, err := geo.GetEdge(ctx, u, v)
		if err != nil {
			return LegsResult{}, fmt.Errorf("leg etas: %w", err)
		}
		cumulative += e.DurationS

		leg := domain.Leg{
			From:             u,
			To:               v,
			DistanceM:        round2(e.DistanceM),
			SegmentETAMin:    minutes(e.DurationS),
			CumulativeETAMin: minutes(cumulative),
		}
		res.Legs = append(res.Legs, leg)

		if v == domain.DepotID {
			continue
		}
		if _, seen := res.SegmentETA[v]; !seen {
			res.SegmentETA[v] = leg.SegmentETAMin
			res.CumulativeETA[v] = leg.CumulativeETAMin
			res.Visits = append(res.Visits, v)
		}
	}
	res.TotalSeconds = cumulative

	return res, nil
}

// DriverETAsFor runs LegETAs over each path of a driver's plan. Cumulative ETAs of later
// paths are offset by the rounded duration of the paths before them.
func DriverETAsFor(ctx context.Context, paths [][]int, geo ports.EdgeSource, meta map[int]domain.StopMeta) (DriverETAs, error) {
	out := DriverETAs{
		Routes:               make([]RouteLegs, 0, len(paths)),
		OrderSequence:        []string{},
		ETAByOrder:           make(map[string]int),
		ETACumulativeByOrder: make(map[string]int),
	}

	offset := 0
	for _, path := range paths {
		legs, err := LegETAs(ctx, path, geo)
		if err != nil {
			return DriverETAs{}, fmt.Errorf("driver etas: %w", err)
		}

		for _, leg := range legs.Legs {
			m, ok := meta[leg.To]
			if !ok || m.OrderID == "" {
				continue
			}
			if _, seen := out.ETAByOrder[m.OrderID]; seen {
				continue
			}
			out.OrderSequence = append(out.OrderSequence, m.OrderID)
			out.ETAByOrder[m.OrderID] = leg.SegmentETAMin
			out.ETACumulativeByOrder[m.OrderID] = leg.CumulativeETAMin + offset
		}

		offset += minutes(legs.TotalSeconds)
		out.Routes = append(out.Routes, RouteLegs{Path: path, Legs: legs.Legs})
	}

	return out, nil
}

// FormatHM renders whole minutes as "Xh Ym".
func FormatHM(totalMinutes int) string {
	if totalMinutes < 0 {
		totalMinutes = 0
	}
	return fmt.Sprintf("%dh %dm", totalMinutes/60, totalMinutes%60)
}

// round2 rounds half away from zero to two decimals.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func minutes(seconds float64) int {
	return int(math.Round(seconds / 60))
}
