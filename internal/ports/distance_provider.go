package ports

import (
	"context"
	"med-delivery-routing/internal/domain"
)

// Distance and travel duration between two locations, as reported by the map service.
type DistanceResult struct {
	DistanceMeters  float64
	DurationSeconds float64
}

// Contract for querying the live map-routing service.
type TravelTimeSource interface {
	// Return road distance and duration between two points.
	// Any failure (network, timeout, bad status, missing matrix cell) is an error.
	Travel(ctx context.Context, from, to domain.Coordinates) (DistanceResult, error)
}

// Contract for request-scoped edge lookups between encoded nodes.
type EdgeSource interface {
	GetEdge(ctx context.Context, u, v int) (domain.Edge, error)
}
