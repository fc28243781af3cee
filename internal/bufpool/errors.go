package bufpool

import "errors"

var (
	// ErrInvalidSize rejects buffer sizes that are not powers of two inside
	// [MinFrames, MaxFrames].
	ErrInvalidSize = errors.New("bufpool: invalid buffer size")

	// ErrPoolExhausted reports that every buffer of the current generation
	// is in flight. Callers retry next cycle rather than block.
	ErrPoolExhausted = errors.New("bufpool: pool exhausted")
)
