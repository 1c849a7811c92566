package ports

import (
	"context"
	"med-delivery-routing/internal/domain"
	"time"
)

// Port: a boundary for reading depots and pending stops from the data source.
type StopRepository interface {
	// Retrieve the hospital used as depot.
	GetHospital(ctx context.Context, hospitalID string) (domain.Depot, error)
	// Retrieve pending stops of a hospital (one per patient, demand = open orders).
	ListPendingStops(ctx context.Context, hospitalID string) ([]domain.Stop, error)
	// Retrieve the hospital a driver is dispatched from.
	GetDriverHospital(ctx context.Context, driverID string) (domain.Depot, error)
	// Retrieve the driver's active deliveries (one per order, due = stability minutes).
	ListDriverDeliveries(ctx context.Context, driverID string) ([]domain.Stop, error)
	// Retrieve the driver's active orders created today.
	ListDriverOrdersToday(ctx context.Context, driverID string) ([]DriverOrder, error)
}

// An active order of a driver with its depot and destination.
type DriverOrder struct {
	OrderID         string
	Status          string
	CreatedAt       time.Time
	HospitalName    string
	Hospital        domain.Coordinates
	PatientAddress  string
	Patient         domain.Coordinates
	MaxTimeExertion time.Duration
}
