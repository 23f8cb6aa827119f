package domain

import "errors"

var (
	ErrValidation  = errors.New("validation failed")
	ErrNotFound    = errors.New("not found")
	ErrForbidden   = errors.New("forbidden")
	ErrPersistence = errors.New("persistence unavailable")

	// ErrInvalidTransition is returned when a job is asked to move to a status
	// its current status does not lead to.
	ErrInvalidTransition = errors.New("invalid status transition")
)
