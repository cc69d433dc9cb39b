package queue

import "errors"

var (
	// ErrValidation rejects bad input at admission.
	ErrValidation = errors.New("validation error")
	// ErrInvalidState means the submission is not in the status the operation needs.
	ErrInvalidState = errors.New("invalid state")
	// ErrConflict means the submission is busy or already exists.
	ErrConflict = errors.New("conflict")
	ErrNotFound = errors.New("submission not found")
	// ErrCancelled is the cause attached to operator-cancelled jobs.
	ErrCancelled = errors.New("cancelled")
	// errShutdown is the cause attached to jobs interrupted by server shutdown.
	errShutdown = errors.New("server shutting down")
)
