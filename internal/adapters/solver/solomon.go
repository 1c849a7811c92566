package solver

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"med-delivery-routing/internal/domain"
	"strconv"
	"strings"
)

const (
	// CoordScale turns degrees into the integer grid of the instance file.
	CoordScale = 1000

	defaultInstanceName = "C102"
)

// EncodeSolomon renders the instance in the Solomon C102 text layout read by the HGS solver.
// Coordinates are written as integer lon/lat scaled by CoordScale; ready and service times are 0.
func EncodeSolomon(inst *domain.ProblemInstance) (string, error) {
	if inst == nil {
		return "", errors.New("encode solomon: instance is nil")
	}

	name := inst.Name
	if name == "" {
		name = defaultInstanceName
	}

	var b strings.Builder
	b.WriteString(name + "\n")
	b.WriteString("\n")
	b.WriteString("VEHICLE\n")
	b.WriteString("NUMBER     CAPACITY\n")
	fmt.Fprintf(&b, "%5d%11d\n", inst.VehicleCount, inst.VehicleCapacity)
	b.WriteString("\n")
	b.WriteString("CUSTOMER\n")
	b.WriteString("CUST NO.   XCOORD.    YCOORD.   DEMAND   READY TIME   DUE DATE  SERVICE TIME\n")

	writeRow(&b, domain.DepotID, inst.Depot.Coordinates, 0, domain.NoDeadline)
	for _, c := range inst.Customers {
		writeRow(&b, c.ID, c.Coordinates, c.Demand, c.DueMinutes)
	}

	return b.String(), nil
}

func writeRow(b *strings.Builder, id int, c domain.Coordinates, demand, due int) {
	x := int(c.Lon * CoordScale)
	y := int(c.Lat * CoordScale)
	fmt.Fprintf(b, "%7d%11d%11d%9d%13d%11d%14d\n", id, x, y, demand, 0, due, 0)
}

// ParseSolution reads solver output: one "Route #k: i j ..." line per vehicle
// and an optional "Cost c" line. Unknown lines are ignored.
func ParseSolution(text string) (routes [][]int, cost *float64, err error) {
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())

		switch {
		case strings.HasPrefix(line, "Route"):
			_, rest, ok := strings.Cut(line, ":")
			if !ok {
				return nil, nil, fmt.Errorf("parse solution: malformed route line %q", line)
			}
			fields := strings.Fields(rest)
			route := make([]int, 0, len(fields))
			for _, f := range fields {
				id, err := strconv.Atoi(f)
				if err != nil {
					return nil, nil, fmt.Errorf("parse solution: route line %q: %w", line, err)
				}
				route = append(route, id)
			}
			routes = append(routes, route)

		case strings.HasPrefix(line, "Cost"):
			fields := strings.Fields(line)
			if len(fields) < 2 {
				return nil, nil, fmt.Errorf("parse solution: malformed cost line %q", line)
			}
			c, err := strconv.ParseFloat(fields[len(fields)-1], 64)
			if err != nil {
				return nil, nil, fmt.Errorf("parse solution: cost line %q: %w", line, err)
			}
			if !math.IsNaN(c) {
				cost = &c
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("parse solution: %w", err)
	}

	return routes, cost, nil
}
