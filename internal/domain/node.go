package domain

import "math"

const (
	// DepotID is the node id reserved for the hospital every trip starts and ends at.
	DepotID = 0

	// NoDeadline is the due time (minutes) used for stops without a delivery deadline.
	NoDeadline = 9999

	// depotDue stands in for the depot's unbounded due time.
	depotDue = math.MaxInt32
)

const (
	KindHospital = "hospital"
	KindPatient  = "patient"
)

// Node is one location of a routing problem. Node 0 is always the depot.
// Nodes are built fresh per request and never mutated afterwards.
type Node struct {
	ID int
	Coordinates
	Demand     int
	DueMinutes int
}

// Depot is the hospital record vehicles are dispatched from.
// Lat/Lon are nil when the record carries no coordinates.
type Depot struct {
	ID      string
	Name    string
	Address string
	Lat     *float64
	Lon     *float64
}

// Stop is a pending delivery as read from persistence, before encoding.
type Stop struct {
	// Ref identifies the record the stop was built from (patient id for
	// hospital-wide plans, order id for driver plans).
	Ref        string
	OrderID    string
	Name       string
	Lat        *float64
	Lon        *float64
	Demand     int
	DueMinutes int
}

// StopMeta carries presentation data for a node of an encoded problem.
type StopMeta struct {
	Ref     string
	OrderID string
	Name    string
	Kind    string
}

// coordinatesOf returns the coordinates of a record when both parts are present and valid.
func coordinatesOf(lat, lon *float64) (Coordinates, bool) {
	if lat == nil || lon == nil {
		return Coordinates{}, false
	}
	c := Coordinates{Lat: *lat, Lon: *lon}
	return c, c.Valid()
}

// Coordinates returns the depot location, if known.
func (d Depot) Coordinates() (Coordinates, bool) { return coordinatesOf(d.Lat, d.Lon) }

// Coordinates returns the stop location, if known.
func (s Stop) Coordinates() (Coordinates, bool) { return coordinatesOf(s.Lat, s.Lon) }
