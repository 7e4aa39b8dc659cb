package domain

import "errors"

var (
	// ErrInvalidArgument is returned synchronously for malformed calls
	// (empty queue name or id, priority outside [0,99], bad counts).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrBackendUnavailable wraps any failure talking to the storage backend.
	ErrBackendUnavailable = errors.New("queue backend unavailable")

	// ErrConfiguration is fatal at startup.
	ErrConfiguration = errors.New("queue configuration error")
)
