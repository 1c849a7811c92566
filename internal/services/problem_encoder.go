package services

import (
	"fmt"
	"log/slog"
	"med-delivery-routing/internal/domain"
	"med-delivery-routing/internal/platform/logging"
)

// EncodeProblem shapes a depot and its pending stops into a solver-ready instance.
//
// Stops are numbered 1..N in input order; stops without usable coordinates are
// dropped with a warning. A depot without coordinates is a configuration error.
func EncodeProblem(
	name string,
	depot domain.Depot,
	stops []domain.Stop,
	vehicleCount int,
	vehicleCapacity int,
	logger *slog.Logger,
) (*domain.ProblemInstance, error) {
	logger = logging.OrDiscard(logger)

	if vehicleCount < 1 || vehicleCapacity < 1 {
		return nil, fmt.Errorf(
			"encode problem: vehicle count %d and capacity %d must be >= 1: %w",
			vehicleCount, vehicleCapacity, domain.ErrInvalidProblem,
		)
	}

	depotCoords, ok := depot.Coordinates()
	if !ok {
		return nil, fmt.Errorf("encode problem: depot %q: %w", depot.ID, domain.ErrDepotCoordinates)
	}

	inst := &domain.ProblemInstance{
		Name: name,
		Depot: domain.Node{
			ID:          domain.DepotID,
			Coordinates: depotCoords,
		},
		Customers:       make([]domain.Node, 0, len(stops)),
		VehicleCount:    vehicleCount,
		VehicleCapacity: vehicleCapacity,
		Meta: map[int]domain.StopMeta{
			domain.DepotID: {Ref: depot.ID, Name: depot.Name, Kind: domain.KindHospital},
		},
	}

	for _, s := range stops {
		coords, ok := s.Coordinates()
		if !ok {
			logger.Warn("dropping stop without coordinates", "ref", s.Ref, "order_id", s.OrderID)
			continue
		}

		demand := s.Demand
		if demand < 1 {
			demand = 1
		}
		due := s.DueMinutes
		if due <= 0 {
			due = domain.NoDeadline
		}

		id := len(inst.Customers) + 1
		inst.Customers = append(inst.Customers, domain.Node{
			ID:          id,
			Coordinates: coords,
			Demand:      demand,
			DueMinutes:  due,
		})
		inst.Meta[id] = domain.StopMeta{
			Ref:     s.Ref,
			OrderID: s.OrderID,
			Name:    s.Name,
			Kind:    domain.KindPatient,
		}
	}

	return inst, nil
}
