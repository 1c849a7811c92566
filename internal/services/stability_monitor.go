package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"med-delivery-routing/internal/domain"
	"med-delivery-routing/internal/platform/logging"
	"med-delivery-routing/internal/platform/metrics"
	"med-delivery-routing/internal/ports"
	"sync"
	"time"
)

// errMonitorInactive aborts a state update without writing.
var errMonitorInactive = errors.New("stability monitor inactive")

type StabilityOptions struct {
	// FridgeMaxC is the upper bound of refrigerated storage. Zero is a valid bound.
	FridgeMaxC float64
	Now        func() time.Time
}

// StabilityMonitor tracks the cold-chain exposure of in-transit orders.
//
// Updates for one order are serialized; updates for different orders never wait on each
// other. Every decision is written to the sink, and terminal decisions publish an alert.
type StabilityMonitor struct {
	store   ports.StabilityStore
	meds    ports.MedicationRepository
	sink    ports.StabilitySink
	alerts  ports.AlertPublisher
	opts    StabilityOptions
	logger  *slog.Logger
	metrics *metrics.Metrics

	locks keyedMutex
}

func NewStabilityMonitor(
	store ports.StabilityStore,
	meds ports.MedicationRepository,
	sink ports.StabilitySink,
	alerts ports.AlertPublisher,
	opts StabilityOptions,
	logger *slog.Logger,
	m *metrics.Metrics,
) *StabilityMonitor {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &StabilityMonitor{
		store:   store,
		meds:    meds,
		sink:    sink,
		alerts:  alerts,
		opts:    opts,
		logger:  logging.OrDiscard(logger).With("component", "stability"),
		metrics: m,
		locks:   keyedMutex{locks: make(map[string]*refMutex)},
	}
}

// Start (re)initializes monitoring for an order from its medication limits.
// Any previous state for the order is replaced.
func (s *StabilityMonitor) Start(ctx context.Context, orderID string) (domain.StabilityState, error) {
	limits, err := s.Config(ctx, orderID)
	if err != nil {
		return domain.StabilityState{}, fmt.Errorf("start stability: %w", err)
	}

	unlock := s.locks.Lock(orderID)
	defer unlock()

	state := domain.StabilityState{
		OrderID:          orderID,
		Status:           domain.StabilityReady,
		Active:           true,
		MaxExcursionTemp: limits.MaxExcursionTemp,
		MaxTimeExertionS: int(limits.MaxTimeExertion / time.Second),
		UpdatedAt:        s.opts.Now().UTC(),
	}
	if err := s.store.Put(ctx, state); err != nil {
		return domain.StabilityState{}, fmt.Errorf("start stability: order %q: %w", orderID, err)
	}

	s.logger.InfoContext(ctx, "stability monitoring started",
		"order_id", orderID, "max_excursion_temp", state.MaxExcursionTemp, "max_time_exertion_s", state.MaxTimeExertionS)

	return state, nil
}

// Config returns the medication limits monitoring would use for the order.
func (s *StabilityMonitor) Config(ctx context.Context, orderID string) (domain.MedicationLimits, error) {
	limits, err := s.meds.GetMedicationLimits(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrMedicationNotFound) {
			err = fmt.Errorf("%w: %w", domain.ErrMedicationNotFound, err)
		}
		return domain.MedicationLimits{}, fmt.Errorf("medication limits: order %q: %w", orderID, err)
	}
	return limits, nil
}

// Update applies one telemetry reading to the order's monitor.
//
// Decisions in priority order: inactive monitor, temperature above the medication's
// absolute excursion limit, first reading above fridge range (timer start), running
// countdown, safe. The timer never resets once started.
func (s *StabilityMonitor) Update(ctx context.Context, orderID string, t domain.Telemetry) (domain.StabilityOutcome, error) {
	unlock := s.locks.Lock(orderID)
	defer unlock()

	now := s.opts.Now().UTC()

	// The store may rerun the closure when another instance wrote the order first;
	// outcome always reflects the last state actually read.
	var outcome domain.StabilityOutcome
	_, err := s.store.Update(ctx, orderID, func(state *domain.StabilityState) error {
		if !state.Active {
			outcome = domain.StabilityOutcome{Kind: domain.OutcomeInactive}
			return errMonitorInactive
		}

		outcome = decide(state, t, now, s.opts.FridgeMaxC)

		temp, lat, lon := t.Temp, t.Lat, t.Lon
		state.LastTemp, state.LastLat, state.LastLon = &temp, &lat, &lon
		state.UpdatedAt = now
		return nil
	})
	switch {
	case errors.Is(err, errMonitorInactive):
		s.metrics.StabilityUpdate(string(domain.OutcomeInactive))
		return outcome, nil
	case errors.Is(err, domain.ErrNotFound):
		return domain.StabilityOutcome{}, fmt.Errorf("update stability: order %q: %w", orderID, domain.ErrMonitoringNotStarted)
	case err != nil:
		// A terminal decision is still reported; it must not be hidden by a store failure.
		if outcome.Alert() == "" {
			return domain.StabilityOutcome{}, fmt.Errorf("update stability: order %q: save state: %w", orderID, err)
		}
		s.logger.ErrorContext(ctx, "stability state write failed", "order_id", orderID, "err", err)
	}

	outcome.Persisted = true
	if err := s.sink.RecordRemainingStability(ctx, orderID, outcome.RemainingSeconds); err != nil {
		outcome.Persisted = false
		s.logger.ErrorContext(ctx, "remaining stability write failed",
			"order_id", orderID, "remaining_s", outcome.RemainingSeconds, "err", err)
	}

	if code := outcome.Alert(); code != "" {
		s.logger.WarnContext(ctx, "stability alert", "order_id", orderID, "alert", code, "temp", t.Temp)

		alert := domain.StabilityAlert{
			OrderID:    orderID,
			Alert:      code,
			Temp:       t.Temp,
			Lat:        t.Lat,
			Lon:        t.Lon,
			OccurredAt: now,
		}
		if s.alerts != nil {
			if err := s.alerts.PublishStabilityAlert(ctx, alert); err != nil {
				s.logger.ErrorContext(ctx, "stability alert publish failed", "order_id", orderID, "alert", code, "err", err)
			}
		}
	}

	s.metrics.StabilityUpdate(string(outcome.Kind))
	return outcome, nil
}

// Stop deactivates monitoring of a completed or failed order. The state is kept for inspection.
func (s *StabilityMonitor) Stop(ctx context.Context, orderID string) (domain.StabilityState, error) {
	unlock := s.locks.Lock(orderID)
	defer unlock()

	now := s.opts.Now().UTC()
	state, err := s.store.Update(ctx, orderID, func(state *domain.StabilityState) error {
		if state.Active {
			state.Active = false
			state.Status = domain.StabilityStopped
			state.UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.StabilityState{}, fmt.Errorf("stop stability: order %q: %w", orderID, domain.ErrMonitoringNotStarted)
		}
		return domain.StabilityState{}, fmt.Errorf("stop stability: order %q: %w", orderID, err)
	}

	return state, nil
}

// State returns the current monitor state of an order.
func (s *StabilityMonitor) State(ctx context.Context, orderID string) (domain.StabilityState, error) {
	state, err := s.store.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.StabilityState{}, fmt.Errorf("stability state: order %q: %w", orderID, domain.ErrMonitoringNotStarted)
		}
		return domain.StabilityState{}, fmt.Errorf("stability state: order %q: %w", orderID, err)
	}
	return state, nil
}

// decide applies the transition rules to an active state and mutates it in place.
func decide(state *domain.StabilityState, t domain.Telemetry, now time.Time, fridgeMax float64) domain.StabilityOutcome {
	if t.Temp > state.MaxExcursionTemp {
		state.Active = false
		state.Status = domain.StabilityExceeded
		return domain.StabilityOutcome{Kind: domain.OutcomeExceeded}
	}

	if t.Temp > fridgeMax && !state.TimerStarted {
		started := now
		state.TimerStarted = true
		state.TimerStartedAt = &started
		state.Status = domain.StabilityTimerRunning
		return domain.StabilityOutcome{Kind: domain.OutcomeTimerStarted, RemainingSeconds: state.MaxTimeExertionS}
	}

	if state.TimerStarted && state.TimerStartedAt != nil {
		elapsed := now.Sub(*state.TimerStartedAt).Seconds()
		remaining := int(float64(state.MaxTimeExertionS) - elapsed)
		if remaining <= 0 {
			state.Active = false
			state.Status = domain.StabilityExpired
			return domain.StabilityOutcome{Kind: domain.OutcomeExpired}
		}
		return domain.StabilityOutcome{Kind: domain.OutcomeRemaining, RemainingSeconds: remaining}
	}

	return domain.StabilityOutcome{Kind: domain.OutcomeSafe, RemainingSeconds: state.MaxTimeExertionS}
}

// keyedMutex hands out one mutex per key and forgets it once nobody holds or waits on it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.mu.Lock()

	return func() {
		m.mu.Unlock()

		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
