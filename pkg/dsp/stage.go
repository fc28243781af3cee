// ABOUTME: Stage interface shared by every DSP processor in the chain
// ABOUTME: Defines per-process metrics returned to the orchestrator
package dsp

import (
	"math"
	"time"

	"github.com/tald-unia/unia-go/pkg/audio"
)

// Stage is one processor in the per-cycle chain. The set of implementations
// is closed and assembled at configuration time; the running chain never
// changes shape mid-cycle.
//
// Process mutates the buffer in place and must not retain it. It is called
// from the audio thread only and must not allocate or block.
type Stage interface {
	Name() string
	Process(buf *audio.Buffer) (StageMetrics, error)
	Reset()
}

// StageMetrics is the per-process report a stage hands back to the
// orchestrator. Quality overruns are carried here as values, not errors;
// only configuration and latency failures abort a cycle.
type StageMetrics struct {
	ProcessingTime time.Duration
	Bypassed       bool

	// GainReduction is the dB of attenuation currently applied by a
	// dynamics stage (zero elsewhere).
	GainReduction float64

	// THDN is the stage's post-process distortion measurement, when the
	// stage performs one (zero elsewhere).
	THDN float64

	// THDNExceeded flags a soft quality violation: the stage kept running
	// but its output missed the distortion target.
	THDNExceeded bool
}

// DbToLinear converts a decibel value to linear amplitude.
func DbToLinear(db float64) float64 {
	return math.Pow(10, db/20.0)
}

// LinearToDb converts linear amplitude to decibels.
func LinearToDb(v float64) float64 {
	if v <= 0 {
		return -120.0 // practical floor for audio
	}
	return 20.0 * math.Log10(v)
}
