package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"med-delivery-routing/internal/domain"
	"med-delivery-routing/internal/platform/logging"
	"med-delivery-routing/internal/platform/metrics"
	"med-delivery-routing/internal/ports"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultFallbackSpeedMPS is roughly 60 km/h.
	DefaultFallbackSpeedMPS = 16.67

	// DefaultEdgeTimeout bounds one live edge lookup, retries included.
	DefaultEdgeTimeout = 30 * time.Second

	minFallbackDistanceM = 1.0
)

type GeoOptions struct {
	EdgeTimeout      time.Duration
	FallbackSpeedMPS float64
}

func (o GeoOptions) withDefaults() GeoOptions {
	if o.EdgeTimeout <= 0 {
		o.EdgeTimeout = DefaultEdgeTimeout
	}
	if o.FallbackSpeedMPS <= 0 || math.IsNaN(o.FallbackSpeedMPS) || math.IsInf(o.FallbackSpeedMPS, 0) {
		o.FallbackSpeedMPS = DefaultFallbackSpeedMPS
	}
	return o
}

// GeoRoutingProvider answers edge queries between the nodes of one routing request.
//
// It coordinates:
//   - Per-request edge caching (never shared between requests)
//   - Live lookups against the map-routing service
//   - Great-circle fallback when the service cannot answer
//
// GetEdge never fails because of the map service; it only rejects unknown node ids.
// The provider is safe for concurrent use.
type GeoRoutingProvider struct {
	coords  map[int]domain.Coordinates
	source  ports.TravelTimeSource
	opts    GeoOptions
	logger  *slog.Logger
	metrics *metrics.Metrics

	group singleflight.Group

	mu        sync.RWMutex
	edges     map[domain.EdgeKey]domain.Edge
	liveCount int
	fallbacks map[domain.EdgeKey]struct{}
}

// NewGeoRoutingProvider builds a provider for the given node locations.
// A nil source makes every non-trivial edge a fallback edge.
func NewGeoRoutingProvider(
	coords map[int]domain.Coordinates,
	source ports.TravelTimeSource,
	opts GeoOptions,
	logger *slog.Logger,
	m *metrics.Metrics,
) *GeoRoutingProvider {
	cp := make(map[int]domain.Coordinates, len(coords))
	for id, c := range coords {
		cp[id] = c
	}

	return &GeoRoutingProvider{
		coords:    cp,
		source:    source,
		opts:      opts.withDefaults(),
		logger:    logging.OrDiscard(logger).With("component", "geo"),
		metrics:   m,
		edges:     make(map[domain.EdgeKey]domain.Edge),
		fallbacks: make(map[domain.EdgeKey]struct{}),
	}
}

// GetEdge returns the travel distance and duration from u to v.
func (g *GeoRoutingProvider) GetEdge(ctx context.Context, u, v int) (domain.Edge, error) {
	from, ok := g.coords[u]
	if !ok {
		return domain.Edge{}, fmt.Errorf("get edge: unknown node %d", u)
	}
	to, ok := g.coords[v]
	if !ok {
		return domain.Edge{}, fmt.Errorf("get edge: unknown node %d", v)
	}

	if u == v {
		return domain.Edge{}, nil
	}

	key := domain.EdgeKey{From: u, To: v}
	if e, ok := g.cached(key); ok {
		g.metrics.EdgeLookup("cache")
		return e, nil
	}

	// Concurrent lookups of the same edge share one live call.
	res, _, _ := g.group.Do(strconv.Itoa(u)+">"+strconv.Itoa(v), func() (any, error) {
		if e, ok := g.cached(key); ok {
			return e, nil
		}
		e := g.lookup(ctx, key, from, to)
		g.store(key, e)
		return e, nil
	})

	return res.(domain.Edge), nil
}

// IsFallback reports whether the cached edge u->v was estimated locally.
func (g *GeoRoutingProvider) IsFallback(u, v int) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	_, ok := g.fallbacks[domain.EdgeKey{From: u, To: v}]
	return ok
}

// FallbackEdges lists the edges served by the fallback estimate, ordered by (From, To).
func (g *GeoRoutingProvider) FallbackEdges() []domain.EdgeKey {
	g.mu.RLock()
	out := make([]domain.EdgeKey, 0, len(g.fallbacks))
	for k := range g.fallbacks {
		out = append(out, k)
	}
	g.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}

// Stats returns how many distinct edges were answered live and by fallback.
func (g *GeoRoutingProvider) Stats() (live, fallback int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.liveCount, len(g.fallbacks)
}

func (g *GeoRoutingProvider) cached(key domain.EdgeKey) (domain.Edge, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.edges[key]
	return e, ok
}

func (g *GeoRoutingProvider) store(key domain.EdgeKey, e domain.Edge) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.edges[key] = e
	if e.IsFallback {
		g.fallbacks[key] = struct{}{}
	} else {
		g.liveCount++
	}
}

func (g *GeoRoutingProvider) lookup(ctx context.Context, key domain.EdgeKey, from, to domain.Coordinates) domain.Edge {
	if g.source != nil {
		lctx, cancel := context.WithTimeout(ctx, g.opts.EdgeTimeout)
		res, err := g.source.Travel(lctx, from, to)
		cancel()

		if err == nil {
			err = checkTravel(res)
		}
		if err == nil {
			g.metrics.EdgeLookup("live")
			return domain.Edge{DistanceM: res.DistanceMeters, DurationS: res.DurationSeconds}
		}

		g.logger.WarnContext(ctx, "map service lookup failed, using fallback",
			"from", key.From, "to", key.To, "err", err)
	}

	e := fallbackEdge(from, to, g.opts.FallbackSpeedMPS)
	g.metrics.EdgeLookup("fallback")
	g.logger.InfoContext(ctx, "fallback edge",
		"from", key.From, "to", key.To,
		"distance_m", math.Round(e.DistanceM*10)/10,
		"duration_s", math.Round(e.DurationS*10)/10,
	)
	return e
}

func checkTravel(r ports.DistanceResult) error {
	for _, v := range []float64{r.DistanceMeters, r.DurationSeconds} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("invalid travel metrics: distance=%v duration=%v", r.DistanceMeters, r.DurationSeconds)
		}
	}
	return nil
}

// fallbackEdge estimates an edge from great-circle distance at a fixed speed.
// The distance is floored so the estimate stays positive for coincident points.
func fallbackEdge(from, to domain.Coordinates, speedMPS float64) domain.Edge {
	d := math.Max(from.DistanceTo(to), minFallbackDistanceM)
	return domain.Edge{
		DistanceM:  d,
		DurationS:  d / speedMPS,
		IsFallback: true,
	}
}
