package domain

// ProblemInstance is the solver-ready description of one routing request:
// a depot, densely numbered customers (1..N) and the fleet shape.
type ProblemInstance struct {
	Name            string
	Depot           Node
	Customers       []Node
	VehicleCount    int
	VehicleCapacity int
	Meta            map[int]StopMeta
}

// Size returns the number of customers.
func (p *ProblemInstance) Size() int { return len(p.Customers) }

// Node returns the node with the given id, including the depot.
func (p *ProblemInstance) Node(id int) (Node, bool) {
	if id == DepotID {
		return p.Depot, true
	}
	if id < 1 || id > len(p.Customers) {
		return Node{}, false
	}
	return p.Customers[id-1], true
}

// Coordinates maps every node id to its location.
func (p *ProblemInstance) Coordinates() map[int]Coordinates {
	out := make(map[int]Coordinates, len(p.Customers)+1)
	out[DepotID] = p.Depot.Coordinates
	for _, c := range p.Customers {
		out[c.ID] = c.Coordinates
	}
	return out
}

// Demand maps every node id to its demand. The depot carries none.
func (p *ProblemInstance) Demand() map[int]int {
	out := make(map[int]int, len(p.Customers)+1)
	out[DepotID] = 0
	for _, c := range p.Customers {
		out[c.ID] = c.Demand
	}
	return out
}

// Due maps every node id to its due time in minutes after leaving the depot.
func (p *ProblemInstance) Due() map[int]int {
	out := make(map[int]int, len(p.Customers)+1)
	out[DepotID] = depotDue
	for _, c := range p.Customers {
		out[c.ID] = c.DueMinutes
	}
	return out
}
