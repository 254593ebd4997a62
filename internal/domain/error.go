package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound         = errors.New("entity not found")
	ErrAlreadyExists    = errors.New("entity already exists")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrValidation       = errors.New("validation failed")
	ErrConflict         = errors.New("conditional transition lost")
	ErrStoreUnavailable = errors.New("job store unavailable")

	// Queue errors
	ErrQueueEmpty   = errors.New("queue empty")
	ErrQueueFull    = errors.New("queue full")
	ErrUnknownQueue = errors.New("unknown queue")
	ErrUnknownKind  = errors.New("unknown job kind")

	// Job lifecycle
	ErrNoHandler          = errors.New("no handler registered for job kind")
	ErrInvalidExecContext = errors.New("invalid execution context")
)
