package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrDepotCoordinates     = errors.New("depot is missing coordinates")
	ErrInvalidProblem       = errors.New("invalid problem")
	ErrMedicationNotFound   = errors.New("order medication not found")
	ErrMonitoringNotStarted = errors.New("stability monitoring not started")
	ErrSolverFailed         = errors.New("solver failed")
	ErrStateConflict        = errors.New("stability state changed concurrently")
)
