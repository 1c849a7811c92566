package distance

import (
	"context"
	"fmt"
	"med-delivery-routing/internal/domain"
	"med-delivery-routing/internal/ports"
)

// StaticPair is one directed entry of a StaticSource.
type StaticPair struct {
	From, To domain.Coordinates
	Meters   float64
	Seconds  float64
}

// StaticSource answers travel queries from a fixed table. Pairs it does not
// know are reported as failures, which makes callers fall back to estimates.
// Used in tests and for offline runs.
type StaticSource struct {
	m map[string]ports.DistanceResult
}

var _ ports.TravelTimeSource = (*StaticSource)(nil)

func NewStaticSource(pairs []StaticPair) *StaticSource {
	m := make(map[string]ports.DistanceResult, len(pairs))
	for _, p := range pairs {
		m[pairKey(p.From, p.To)] = ports.DistanceResult{DistanceMeters: p.Meters, DurationSeconds: p.Seconds}
	}
	return &StaticSource{m: m}
}

func pairKey(from, to domain.Coordinates) string {
	return lonLat(from) + "|" + lonLat(to)
}

func (s *StaticSource) Travel(ctx context.Context, from, to domain.Coordinates) (ports.DistanceResult, error) {
	if err := ctx.Err(); err != nil {
		return ports.DistanceResult{}, err
	}

	r, ok := s.m[pairKey(from, to)]
	if !ok {
		return ports.DistanceResult{}, fmt.Errorf("missing pair %s -> %s", lonLat(from), lonLat(to))
	}

	return r, nil
}
