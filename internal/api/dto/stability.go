package dto

import "time"

// TelemetryRequest is one temperature and position reading. All fields are required.
type TelemetryRequest struct {
	Temp *float64 `json:"temp" validate:"required"`
	Lat  *float64 `json:"lat" validate:"required,latitude"`
	Lon  *float64 `json:"lon" validate:"required,longitude"`
}

type StabilityStartResponse struct {
	OrderID                string  `json:"order_id"`
	MaxExcursionTemp       float64 `json:"max_excursion_temp"`
	MaxTimeExertionSeconds int     `json:"max_time_exertion_seconds"`
	TimerStarted           bool    `json:"timer_started"`
}

type StabilityConfigResponse struct {
	OrderID                string  `json:"order_id"`
	MedicationName         string  `json:"medication_name,omitempty"`
	MaxExcursionTemp       float64 `json:"max_excursion_temp"`
	MaxTimeExertionSeconds int     `json:"max_time_exertion_seconds"`
}

// StabilityUpdateResponse carries exactly one decision; unset fields are omitted.
type StabilityUpdateResponse struct {
	Status             string `json:"status,omitempty"`
	TimerStarted       bool   `json:"timer_started,omitempty"`
	RemainingSeconds   *int   `json:"remaining_seconds,omitempty"`
	Alert              string `json:"alert,omitempty"`
	WrittenToDashboard *bool  `json:"written_to_dashboard,omitempty"`
}

type StabilityStateResponse struct {
	OrderID                string     `json:"order_id"`
	Status                 string     `json:"status"`
	Active                 bool       `json:"active"`
	MaxExcursionTemp       float64    `json:"max_excursion_temp"`
	MaxTimeExertionSeconds int        `json:"max_time_exertion_seconds"`
	TimerStarted           bool       `json:"timer_started"`
	TimerStartedAt         *time.Time `json:"timer_started_at,omitempty"`
	LastTemp               *float64   `json:"last_temp,omitempty"`
	LastLat                *float64   `json:"last_lat,omitempty"`
	LastLon                *float64   `json:"last_lon,omitempty"`
	UpdatedAt              time.Time  `json:"updated_at"`
}
