// ABOUTME: Deterministic fake Enhancer for tests
// ABOUTME: Configurable delay, confidence, gain and failure injection
package fake

import (
	"context"
	"time"

	"github.com/tald-unia/unia-go/pkg/enhance"
)

// Enhancer is a test double with scripted behavior. It applies a flat
// linear gain after an optional delay.
type Enhancer struct {
	// Delay before the result is produced. The call honors context
	// cancellation during the wait.
	Delay time.Duration

	// Gain is the linear multiplier applied to every sample.
	Gain float64

	// Confidence reported with every result.
	Confidence float64

	// Err, when set, is returned instead of a result.
	Err error

	// Version reported by ModelVersion.
	Version string

	// Calls counts Enhance invocations.
	Calls int
}

// New returns a fake that applies no change with full confidence.
func New() *Enhancer {
	return &Enhancer{Gain: 1, Confidence: 1, Version: "fake-v1"}
}

// Enhance implements enhance.Enhancer.
func (f *Enhancer) Enhance(ctx context.Context, samples []float32) (enhance.Result, error) {
	f.Calls++

	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return enhance.Result{}, ctx.Err()
		}
	}
	if f.Err != nil {
		return enhance.Result{}, f.Err
	}

	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = s * float32(f.Gain)
	}
	return enhance.Result{
		Samples:    out,
		Gain:       f.Gain,
		Confidence: f.Confidence,
	}, nil
}

// ModelVersion implements enhance.Enhancer.
func (f *Enhancer) ModelVersion() string { return f.Version }

// InputShape implements enhance.Enhancer.
func (f *Enhancer) InputShape() [3]int64 { return [3]int64{1, -1, 1} }
