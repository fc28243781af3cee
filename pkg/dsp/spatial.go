// ABOUTME: Spatial rendering stage: binaural HRTF placement plus room reverb
// ABOUTME: Parameter updates rebuild render state off the audio thread
package dsp

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/tald-unia/unia-go/pkg/audio"
)

// SpatialParams positions the listener and source and shapes the room.
// Coordinates are meters in a right-handed space: +X right, +Y up, +Z
// forward from the room origin.
type SpatialParams struct {
	ListenerPosition [3]float64
	ListenerForward  [3]float64 // facing direction, need not be normalized
	SourcePosition   [3]float64
	Room             RoomModel
	WetDry           float64 // 0 = untouched, 1 = fully rendered
	Enabled          bool
}

// DefaultSpatialParams positions a source two meters ahead in a modest
// treated room with a moderate render mix.
func DefaultSpatialParams() SpatialParams {
	return SpatialParams{
		ListenerForward: [3]float64{0, 0, 1},
		SourcePosition:  [3]float64{0, 0, 2},
		Room:            RoomModel{Width: 5, Height: 2.7, Depth: 6, Absorption: 0.35},
		WetDry:          0.4,
		Enabled:         true,
	}
}

func (p SpatialParams) validate() error {
	if p.WetDry < 0 || p.WetDry > 1 {
		return fmt.Errorf("%w: wet/dry %.3f outside [0, 1]", ErrInvalidParameter, p.WetDry)
	}
	if p.ListenerForward == ([3]float64{}) {
		return fmt.Errorf("%w: listener forward vector is zero", ErrInvalidParameter)
	}
	return p.Room.validate()
}

// azimuth returns the horizontal angle from the listener's facing
// direction to the source, degrees, positive to the right.
func (p SpatialParams) azimuth() float64 {
	dx := p.SourcePosition[0] - p.ListenerPosition[0]
	dz := p.SourcePosition[2] - p.ListenerPosition[2]
	if dx == 0 && dz == 0 {
		return 0
	}
	sourceAngle := math.Atan2(dx, dz)
	facingAngle := math.Atan2(p.ListenerForward[0], p.ListenerForward[2])
	return wrapDegrees((sourceAngle - facingAngle) * 180 / math.Pi)
}

// SpatialConfig carries the construction-time limits the stage is checked
// against. Violations are fatal: the stage refuses to build rather than
// run outside its envelope.
type SpatialConfig struct {
	LatencyBudget    time.Duration // full cycle budget for this stage's share
	DistortionTarget float64       // THD+N this deployment asks for
	DistortionLimit  float64       // lowest THD+N the platform can deliver
	HRTF             HRTF          // empty selects the synthetic set
}

// spatialState is the immutable render state the audio thread reads. A
// parameter update builds a fresh one on the control thread and swaps it
// in whole, so a cycle never sees half of an update.
type spatialState struct {
	params    SpatialParams
	hrtfLeft  *Convolver
	hrtfRight *Convolver
	room      *Convolver
}

// Spatial renders positional audio. Process runs on the audio thread;
// UpdateParameters may be called concurrently from control code.
type Spatial struct {
	format       audio.Format
	frames       int
	latencyShare time.Duration

	busy  atomic.Bool
	state atomic.Pointer[spatialState]
	hrtf  HRTF

	// audio-thread scratch, sized at construction
	mono, wetL, wetR, reverb []float64
}

// NewSpatial validates the deployment against hardware capabilities and
// the latency budget before allocating any render state.
func NewSpatial(format audio.Format, frames int, caps audio.DeviceCapabilities, cfg SpatialConfig) (*Spatial, error) {
	if err := format.Validate(caps); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if frames <= 0 {
		return nil, fmt.Errorf("%w: frame count %d", ErrConfiguration, frames)
	}
	if cfg.LatencyBudget > 0 {
		cycle := format.CycleLatency(frames)
		if cycle > cfg.LatencyBudget {
			return nil, fmt.Errorf("%w: cycle of %d frames at %d Hz takes %v, budget is %v",
				ErrConfiguration, frames, format.SampleRate, cycle, cfg.LatencyBudget)
		}
	}
	if cfg.DistortionLimit > 0 && cfg.DistortionTarget > 0 && cfg.DistortionTarget < cfg.DistortionLimit {
		return nil, fmt.Errorf("%w: distortion target %.6f%% below platform floor %.6f%%",
			ErrConfiguration, cfg.DistortionTarget, cfg.DistortionLimit)
	}

	hrtf := cfg.HRTF
	if len(hrtf.Azimuths) == 0 {
		hrtf = SyntheticHRTF(format.SampleRate)
	}
	if err := hrtf.Validate(); err != nil {
		return nil, err
	}

	s := &Spatial{
		format:       format,
		frames:       frames,
		latencyShare: cfg.LatencyBudget / 3,
		hrtf:         hrtf,
		mono:         make([]float64, frames),
		wetL:         make([]float64, frames),
		wetR:         make([]float64, frames),
		reverb:       make([]float64, frames),
	}
	if err := s.UpdateParameters(DefaultSpatialParams()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Spatial) Name() string { return "spatial" }

// UpdateParameters rebuilds the HRTF and room convolvers for the new
// listener geometry and swaps them in atomically. The previous state
// keeps serving until the swap, so audio never stalls on an update.
func (s *Spatial) UpdateParameters(p SpatialParams) error {
	if err := p.validate(); err != nil {
		return err
	}

	left, right := s.hrtf.Select(p.azimuth())
	roomIR, err := SynthesizeRoomIR(s.format.SampleRate, p.Room)
	if err != nil {
		return err
	}

	hrtfLeft, err := NewConvolver(left, s.frames)
	if err != nil {
		return err
	}
	hrtfRight, err := NewConvolver(right, s.frames)
	if err != nil {
		return err
	}
	room, err := NewConvolver(roomIR, s.frames)
	if err != nil {
		return err
	}

	s.state.Store(&spatialState{
		params:    p,
		hrtfLeft:  hrtfLeft,
		hrtfRight: hrtfRight,
		room:      room,
	})
	return nil
}

// Params returns the parameters of the current render state.
func (s *Spatial) Params() SpatialParams {
	return s.state.Load().params
}

// Process renders the buffer in place. Concurrent calls are rejected with
// ErrProcessingBusy: the stage owns per-call scratch and convolver state,
// so overlapping cycles would corrupt both.
func (s *Spatial) Process(buf *audio.Buffer) (StageMetrics, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return StageMetrics{}, fmt.Errorf("%w: spatial stage", ErrProcessingBusy)
	}
	defer s.busy.Store(false)

	start := time.Now()
	st := s.state.Load()

	if !st.params.Enabled || st.params.WetDry == 0 {
		return StageMetrics{ProcessingTime: time.Since(start), Bypassed: true}, nil
	}
	if buf.Format.Channels != 2 {
		// Positional rendering needs a stereo field; pass other layouts
		// through untouched rather than guessing a downmix.
		return StageMetrics{ProcessingTime: time.Since(start), Bypassed: true}, nil
	}

	frames := buf.Frames()
	if frames > s.frames {
		return StageMetrics{}, fmt.Errorf("%w: buffer of %d frames exceeds configured %d",
			ErrInvalidParameter, frames, s.frames)
	}

	mono := s.mono[:frames]
	for i := 0; i < frames; i++ {
		mono[i] = 0.5 * (buf.Samples[2*i] + buf.Samples[2*i+1])
	}

	wetL := s.wetL[:frames]
	wetR := s.wetR[:frames]
	reverb := s.reverb[:frames]
	if err := st.hrtfLeft.Process(wetL, mono); err != nil {
		return StageMetrics{}, err
	}
	if err := st.hrtfRight.Process(wetR, mono); err != nil {
		return StageMetrics{}, err
	}
	if err := st.room.Process(reverb, mono); err != nil {
		return StageMetrics{}, err
	}

	wet := st.params.WetDry
	dry := 1 - wet
	const reverbMix = 0.3
	for i := 0; i < frames; i++ {
		buf.Samples[2*i] = dry*buf.Samples[2*i] + wet*((1-reverbMix)*wetL[i]+reverbMix*reverb[i])
		buf.Samples[2*i+1] = dry*buf.Samples[2*i+1] + wet*((1-reverbMix)*wetR[i]+reverbMix*reverb[i])
	}

	elapsed := time.Since(start)
	if s.latencyShare > 0 && elapsed > s.latencyShare {
		return StageMetrics{ProcessingTime: elapsed},
			fmt.Errorf("%w: spatial render took %v of %v", ErrLatencyExceeded, elapsed, s.latencyShare)
	}
	return StageMetrics{ProcessingTime: elapsed}, nil
}

// Reset clears convolver tails, for seeks or stream restarts.
func (s *Spatial) Reset() {
	st := s.state.Load()
	st.hrtfLeft.Reset()
	st.hrtfRight.Reset()
	st.room.Reset()
}
