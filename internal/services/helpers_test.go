package services

import (
	"context"
	"fmt"
	"med-delivery-routing/internal/domain"
	"med-delivery-routing/internal/ports"
	"sync"
	"sync/atomic"
	"time"
)

// edgeTable is a fixed EdgeSource; pairs not listed get the default edge.
type edgeTable struct {
	edges map[domain.EdgeKey]domain.Edge
	def   domain.Edge
}

func (t edgeTable) GetEdge(_ context.Context, u, v int) (domain.Edge, error) {
	if u == v {
		return domain.Edge{}, nil
	}
	if e, ok := t.edges[domain.EdgeKey{From: u, To: v}]; ok {
		return e, nil
	}
	return t.def, nil
}

// symmetric builds an edge table where u->v and v->u share duration (seconds) and distance.
func symmetric(def domain.Edge, pairs ...edgePair) edgeTable {
	m := make(map[domain.EdgeKey]domain.Edge, 2*len(pairs))
	for _, p := range pairs {
		e := domain.Edge{DistanceM: p.meters, DurationS: p.seconds, IsFallback: p.fallback}
		m[domain.EdgeKey{From: p.u, To: p.v}] = e
		m[domain.EdgeKey{From: p.v, To: p.u}] = e
	}
	return edgeTable{edges: m, def: def}
}

type edgePair struct {
	u, v     int
	meters   float64
	seconds  float64
	fallback bool
}

// travelFunc adapts a function to ports.TravelTimeSource and counts calls.
type travelFunc struct {
	fn    func(ctx context.Context, from, to domain.Coordinates) (ports.DistanceResult, error)
	calls atomic.Int64
}

func (t *travelFunc) Travel(ctx context.Context, from, to domain.Coordinates) (ports.DistanceResult, error) {
	t.calls.Add(1)
	return t.fn(ctx, from, to)
}

func failingTravel() *travelFunc {
	return &travelFunc{fn: func(context.Context, domain.Coordinates, domain.Coordinates) (ports.DistanceResult, error) {
		return ports.DistanceResult{}, fmt.Errorf("connection refused")
	}}
}

// haversineTravel answers like a map service driving at 10 m/s over straight lines.
func haversineTravel() *travelFunc {
	return &travelFunc{fn: func(_ context.Context, from, to domain.Coordinates) (ports.DistanceResult, error) {
		d := from.DistanceTo(to)
		return ports.DistanceResult{DistanceMeters: d, DurationSeconds: d / 10}, nil
	}}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memStore struct {
	mu     sync.Mutex
	states map[string]domain.StabilityState
	// saveErr makes Update fail after fn ran, without saving.
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{states: make(map[string]domain.StabilityState)}
}

func (s *memStore) Get(_ context.Context, orderID string) (domain.StabilityState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[orderID]
	if !ok {
		return domain.StabilityState{}, domain.ErrNotFound
	}
	return st, nil
}

func (s *memStore) Put(_ context.Context, st domain.StabilityState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.OrderID] = st
	return nil
}

func (s *memStore) Update(_ context.Context, orderID string, fn func(*domain.StabilityState) error) (domain.StabilityState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[orderID]
	if !ok {
		return domain.StabilityState{}, domain.ErrNotFound
	}
	if err := fn(&st); err != nil {
		return domain.StabilityState{}, err
	}
	if s.saveErr != nil {
		return domain.StabilityState{}, s.saveErr
	}
	s.states[orderID] = st
	return st, nil
}

func (s *memStore) Delete(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, orderID)
	return nil
}

type fakeMeds map[string]domain.MedicationLimits

func (m fakeMeds) GetMedicationLimits(_ context.Context, orderID string) (domain.MedicationLimits, error) {
	l, ok := m[orderID]
	if !ok {
		return domain.MedicationLimits{}, domain.ErrNotFound
	}
	return l, nil
}

type sinkWrite struct {
	orderID   string
	remaining int
}

type fakeSink struct {
	mu     sync.Mutex
	writes []sinkWrite
	err    error
}

func (s *fakeSink) RecordRemainingStability(_ context.Context, orderID string, remaining int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.writes = append(s.writes, sinkWrite{orderID: orderID, remaining: remaining})
	return nil
}

func (s *fakeSink) last() sinkWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[len(s.writes)-1]
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

func ptr(f float64) *float64 { return &f }
