package engine

import "errors"

var (
	// ErrHardware reports a configuration the attached codec cannot serve.
	// Fatal during Configuring; the engine stays Idle.
	ErrHardware = errors.New("engine: hardware configuration rejected")

	// ErrAlreadyRunning rejects Start on a running engine; it is not a
	// restart.
	ErrAlreadyRunning = errors.New("engine: already running")

	// ErrInvalidState rejects an operation the current state cannot serve.
	ErrInvalidState = errors.New("engine: invalid state for operation")

	// ErrNotConfigured rejects Start before a successful Configure.
	ErrNotConfigured = errors.New("engine: not configured")

	// ErrConfiguration reports a stage refusing to build during
	// Configuring; the engine rolls back to Idle.
	ErrConfiguration = errors.New("engine: stage configuration failed")
)
