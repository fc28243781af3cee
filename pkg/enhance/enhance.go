// ABOUTME: AI enhancement contract: pluggable inference behind a bounded gate
// ABOUTME: Defines the Enhancer interface and its result shape
package enhance

import (
	"context"
	"errors"
)

var (
	// ErrModelUnavailable reports that the backing runtime or model file
	// could not be initialized.
	ErrModelUnavailable = errors.New("enhance: model unavailable")

	// ErrShapeMismatch reports an enhancer returning a different sample
	// count than it was given.
	ErrShapeMismatch = errors.New("enhance: output shape mismatch")
)

// Result is one inference outcome. Samples has the same length as the
// input; Gain is the level change the enhancement applied; Confidence is
// the model's self-assessment in [0, 1].
type Result struct {
	Samples    []float32
	Gain       float64
	Confidence float64
}

// Enhancer is a replaceable inference backend. Enhance must respect ctx
// cancellation; the gate abandons results arriving after the deadline.
// Implementations may retain and return the input slice.
type Enhancer interface {
	Enhance(ctx context.Context, samples []float32) (Result, error)

	// ModelVersion identifies the loaded model for telemetry.
	ModelVersion() string

	// InputShape is the tensor shape the model expects: [1, frameCount, 1].
	InputShape() [3]int64
}
