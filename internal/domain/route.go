package domain

// EdgeKey is the ordered node pair an edge is cached under.
type EdgeKey struct {
	From int
	To   int
}

// Edge is the travel distance and duration between two nodes.
// IsFallback marks estimates computed locally because the map service could not answer.
type Edge struct {
	DistanceM  float64
	DurationS  float64
	IsFallback bool
}

// Trip is one out-and-back dispatch from the depot.
// Invariant: Load <= vehicle capacity, unless the trip holds a single customer.
type Trip struct {
	Customers []int
	Load      int
}

// RouteValidation is the outcome of checking one raw route.
//
// Path is the expanded route with depot separators between trips
// (0, t1..., 0, t2..., 0); Customers is the flat list of visited customer ids.
// Both are empty when the route is infeasible.
type RouteValidation struct {
	Feasible     bool
	Path         []int
	Customers    []int
	Trips        []Trip
	ShiftSeconds float64
}

// RouteMetrics are the aggregate figures of one expanded route.
type RouteMetrics struct {
	DistanceKm  float64
	DurationH   float64
	WithinShift bool
}

// Leg is one hop of an expanded route with its ETA bookkeeping.
type Leg struct {
	From             int
	To               int
	DistanceM        float64
	SegmentETAMin    int
	CumulativeETAMin int
}

// RoutePoint is one presentation point of a planned route.
type RoutePoint struct {
	Node    int
	Lat     float64
	Lon     float64
	Name    string
	ID      string
	OrderID string
	Kind    string
}
