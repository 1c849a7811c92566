package domain

import "time"

// StabilityStatus is the state of an order's cold-chain monitor.
type StabilityStatus string

const (
	StabilityReady        StabilityStatus = "ready"
	StabilityTimerRunning StabilityStatus = "timer_running"
	StabilityExpired      StabilityStatus = "expired"
	StabilityExceeded     StabilityStatus = "exceeded"
	StabilityStopped      StabilityStatus = "stopped"
)

// MedicationLimits is the excursion envelope of the medication carried by an order.
type MedicationLimits struct {
	OrderID          string
	MedicationName   string
	MaxExcursionTemp float64
	MaxTimeExertion  time.Duration
}

// StabilityState is the per-order monitor record. It is only mutated by
// telemetry updates for that order and never shared across orders.
type StabilityState struct {
	OrderID          string          `json:"order_id"`
	Status           StabilityStatus `json:"status"`
	Active           bool            `json:"active"`
	MaxExcursionTemp float64         `json:"max_excursion_temp"`
	MaxTimeExertionS int             `json:"max_time_exertion_s"`
	TimerStarted     bool            `json:"timer_started"`
	TimerStartedAt   *time.Time      `json:"timer_started_at,omitempty"`
	LastTemp         *float64        `json:"last_temp,omitempty"`
	LastLat          *float64        `json:"last_lat,omitempty"`
	LastLon          *float64        `json:"last_lon,omitempty"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Telemetry is one temperature and position reading for an in-transit order.
type Telemetry struct {
	Temp float64
	Lat  float64
	Lon  float64
}

// StabilityOutcomeKind is the decision taken for one telemetry update.
type StabilityOutcomeKind string

const (
	OutcomeInactive     StabilityOutcomeKind = "inactive"
	OutcomeSafe         StabilityOutcomeKind = "safe"
	OutcomeTimerStarted StabilityOutcomeKind = "timer_started"
	OutcomeRemaining    StabilityOutcomeKind = "remaining"
	OutcomeExceeded     StabilityOutcomeKind = "max_excursion_exceeded"
	OutcomeExpired      StabilityOutcomeKind = "stability_time_expired"
)

// Alert codes reported to callers and published downstream.
const (
	AlertMaxExcursionExceeded = "MAX_EXCURSION_EXCEEDED"
	AlertStabilityExpired     = "STABILITY_TIME_EXPIRED"
)

// StabilityOutcome is the result of one telemetry update.
type StabilityOutcome struct {
	Kind             StabilityOutcomeKind
	RemainingSeconds int
	// Persisted reports whether the remaining-time write reached the persistence layer.
	Persisted bool
}

// Alert returns the alert code for terminal outcomes, or "".
func (o StabilityOutcome) Alert() string {
	switch o.Kind {
	case OutcomeExceeded:
		return AlertMaxExcursionExceeded
	case OutcomeExpired:
		return AlertStabilityExpired
	}
	return ""
}

// StabilityAlert is emitted when an order leaves its safe envelope for good.
type StabilityAlert struct {
	OrderID    string    `json:"order_id"`
	Alert      string    `json:"alert"`
	Temp       float64   `json:"temp"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	OccurredAt time.Time `json:"occurred_at"`
}
