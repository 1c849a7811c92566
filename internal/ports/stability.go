package ports

import (
	"context"
	"med-delivery-routing/internal/domain"
)

// Port: medication excursion limits of the order's prescription.
type MedicationRepository interface {
	GetMedicationLimits(ctx context.Context, orderID string) (domain.MedicationLimits, error)
}

// Port: write-back of the computed remaining stability time.
type StabilitySink interface {
	RecordRemainingStability(ctx context.Context, orderID string, remainingSeconds int) error
}

// Keyed store of per-order monitor state.
type StabilityStore interface {
	// Get returns domain.ErrNotFound when the order is not monitored.
	Get(ctx context.Context, orderID string) (domain.StabilityState, error)
	Put(ctx context.Context, state domain.StabilityState) error
	Delete(ctx context.Context, orderID string) error
	// Update reads the order's state, applies fn and saves the result. No other writer
	// can change the state between the read and the save. fn may run more than once and
	// must not have side effects outside the state; an error from fn aborts without saving.
	Update(ctx context.Context, orderID string, fn func(state *domain.StabilityState) error) (domain.StabilityState, error)
}

// Outbound notification of terminal stability alerts.
type AlertPublisher interface {
	PublishStabilityAlert(ctx context.Context, alert domain.StabilityAlert) error
}
