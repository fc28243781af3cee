package dsp

import "errors"

var (
	// ErrInvalidParameter rejects a parameter update without touching the
	// running configuration.
	ErrInvalidParameter = errors.New("dsp: invalid parameter")

	// ErrProcessingBusy reports a reentrant process call on a stage that is
	// already processing a buffer.
	ErrProcessingBusy = errors.New("dsp: processing already in flight")

	// ErrLatencyExceeded reports a stage overrunning its share of the cycle
	// budget.
	ErrLatencyExceeded = errors.New("dsp: stage exceeded latency share")

	// ErrConfiguration reports construction-time validation failures.
	ErrConfiguration = errors.New("dsp: invalid stage configuration")
)
