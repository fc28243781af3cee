// ABOUTME: Model-assisted room correction stage built on shelf biquads
// ABOUTME: Folds room size and reverb time into an inverse-EQ curve
package dsp

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/tald-unia/unia-go/pkg/audio"
)

// Room size bounds accepted by the correction model, in model units.
const (
	MinRoomSize = 1.0
	MaxRoomSize = 100.0
)

// RoomCorrectionParams describe the listening space the correction model
// compensates for.
type RoomCorrectionParams struct {
	RoomSize   float64 // [1, 100]
	ReverbTime float64 // seconds, > 0
	Enabled    bool
}

// DefaultRoomCorrectionParams models a mid-size domestic room.
func DefaultRoomCorrectionParams() RoomCorrectionParams {
	return RoomCorrectionParams{RoomSize: 30, ReverbTime: 0.4, Enabled: true}
}

// correctionState is one immutable coefficient snapshot.
type correctionState struct {
	params    RoomCorrectionParams
	lowShelf  biquadCoeffs
	highShelf biquadCoeffs
}

// RoomCorrection counteracts the dominant room coloration: bass build-up
// from boundary gain in small rooms and high-frequency loss from long
// reverberant tails. The model maps room size and reverb time onto a pair
// of shelving corrections applied through the shared biquad machinery.
type RoomCorrection struct {
	format audio.Format

	state atomic.Pointer[correctionState]

	// audio-thread filter state, per channel
	lowState  []biquadState
	highState []biquadState
}

// NewRoomCorrection builds a correction stage for the stream format.
func NewRoomCorrection(format audio.Format) *RoomCorrection {
	r := &RoomCorrection{
		format:    format,
		lowState:  make([]biquadState, format.Channels),
		highState: make([]biquadState, format.Channels),
	}
	if err := r.SetParams(DefaultRoomCorrectionParams()); err != nil {
		panic(err)
	}
	return r
}

// Name implements Stage.
func (r *RoomCorrection) Name() string { return "room-correction" }

// SetParams validates and atomically applies new room parameters, visible
// to the audio thread from its next cycle.
func (r *RoomCorrection) SetParams(p RoomCorrectionParams) error {
	if p.RoomSize < MinRoomSize || p.RoomSize > MaxRoomSize {
		return fmt.Errorf("%w: room size %.1f outside [%.0f, %.0f]",
			ErrInvalidParameter, p.RoomSize, MinRoomSize, MaxRoomSize)
	}
	if p.ReverbTime <= 0 {
		return fmt.Errorf("%w: reverb time %.3f s must be positive", ErrInvalidParameter, p.ReverbTime)
	}

	rate := float64(r.format.SampleRate)

	// Small rooms gain bass from boundary reinforcement; the cut deepens as
	// the room shrinks. Long reverb tails smear treble; the shelf restores
	// it in proportion to the decay time. Both corrections stay well inside
	// the equalizer's gain envelope.
	sizeNorm := (p.RoomSize - MinRoomSize) / (MaxRoomSize - MinRoomSize)
	bassCut := -6.0 * (1 - sizeNorm)
	trebleBoost := 3.0 * math.Min(p.ReverbTime/1.5, 1.0)

	r.state.Store(&correctionState{
		params:    p,
		lowShelf:  lowShelfCoeffs(rate, 120, bassCut, 0.707),
		highShelf: highShelfCoeffs(rate, 8000, trebleBoost, 0.707),
	})
	return nil
}

// Params returns the current snapshot.
func (r *RoomCorrection) Params() RoomCorrectionParams {
	return r.state.Load().params
}

// Process applies both shelves in place.
func (r *RoomCorrection) Process(buf *audio.Buffer) (StageMetrics, error) {
	st := r.state.Load()
	if !st.params.Enabled {
		return StageMetrics{Bypassed: true}, nil
	}

	start := time.Now()
	channels := r.format.Channels
	processInterleaved(&st.lowShelf, r.lowState, buf.Samples, channels)
	processInterleaved(&st.highShelf, r.highState, buf.Samples, channels)
	return StageMetrics{ProcessingTime: time.Since(start)}, nil
}

// Reset clears filter state.
func (r *RoomCorrection) Reset() {
	for ch := range r.lowState {
		r.lowState[ch] = biquadState{}
		r.highState[ch] = biquadState{}
	}
}
