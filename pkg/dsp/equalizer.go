// ABOUTME: N-band parametric equalizer built from serial biquad sections
// ABOUTME: Atomic coefficient-bank swaps keep band updates tear-free
package dsp

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tald-unia/unia-go/pkg/audio"
)

// MaxBands is the size of the equalizer's filter bank.
const MaxBands = 31

// Audible range accepted for band center frequencies.
const (
	MinBandFrequency = 20.0
	MaxBandFrequency = 20000.0
	MaxBandGainDB    = 12.0
)

// Band is one parametric section's user-facing parameters.
type Band struct {
	Frequency float64 // Hz, [20, 20000]
	Gain      float64 // dB, [-12, +12]
	Q         float64 // > 0
	Enabled   bool
}

// eqBank is an immutable coefficient snapshot the audio thread reads per
// cycle. Updates build a new bank and swap the pointer; a cycle sees the
// old bank in full or the new one in full.
type eqBank struct {
	bands  [MaxBands]Band
	coeffs [MaxBands]biquadCoeffs
}

// Equalizer is a bank of up to MaxBands peaking sections applied in series.
type Equalizer struct {
	format       audio.Format
	latencyShare time.Duration
	thdnTarget   float64

	bank    atomic.Pointer[eqBank]
	enabled atomic.Bool

	// control-plane write exclusion; the audio thread never takes it
	mu sync.Mutex

	// audio-thread state: per band, per channel
	state    [MaxBands][]biquadState
	analyzer *Analyzer
	monoBuf  []float64
}

// NewEqualizer builds an equalizer for the stream format. latencyShare is
// this stage's slice of the cycle budget; thdnTarget is the distortion
// ratio above which output is flagged (soft failure).
func NewEqualizer(format audio.Format, frames int, latencyShare time.Duration, thdnTarget float64) *Equalizer {
	e := &Equalizer{
		format:       format,
		latencyShare: latencyShare,
		thdnTarget:   thdnTarget,
		analyzer:     NewAnalyzer(frames),
		monoBuf:      make([]float64, frames),
	}
	for i := range e.state {
		e.state[i] = make([]biquadState, format.Channels)
	}

	bank := &eqBank{}
	for i := range bank.coeffs {
		bank.bands[i] = Band{Frequency: defaultBandFrequency(i), Gain: 0, Q: 1.0}
		bank.coeffs[i] = identityCoeffs
	}
	e.bank.Store(bank)
	e.enabled.Store(true)
	return e
}

// defaultBandFrequency spreads band centers logarithmically across the
// audible range, ISO third-octave style.
func defaultBandFrequency(i int) float64 {
	// 31 bands from 20 Hz to 20 kHz
	ratio := float64(i) / float64(MaxBands-1)
	return MinBandFrequency * math.Pow(MaxBandFrequency/MinBandFrequency, ratio)
}

// Name implements Stage.
func (e *Equalizer) Name() string { return "equalizer" }

// SetEnabled toggles the master bypass. Disabled, the stage is a lossless
// passthrough.
func (e *Equalizer) SetEnabled(on bool) { e.enabled.Store(on) }

// Enabled reports the master state.
func (e *Equalizer) Enabled() bool { return e.enabled.Load() }

// UpdateBand validates and applies new parameters for one band. An invalid
// value rejects the whole update and the previous valid configuration keeps
// running (read-your-last-valid-write).
func (e *Equalizer) UpdateBand(index int, freq, gain, q float64) error {
	if index < 0 || index >= MaxBands {
		return fmt.Errorf("%w: band index %d outside [0,%d)", ErrInvalidParameter, index, MaxBands)
	}
	if freq < MinBandFrequency || freq > MaxBandFrequency {
		return fmt.Errorf("%w: frequency %.1f Hz outside audible range [%.0f,%.0f]",
			ErrInvalidParameter, freq, MinBandFrequency, MaxBandFrequency)
	}
	if gain < -MaxBandGainDB || gain > MaxBandGainDB {
		return fmt.Errorf("%w: gain %.1f dB outside [-%.0f,+%.0f]",
			ErrInvalidParameter, gain, MaxBandGainDB, MaxBandGainDB)
	}
	if q <= 0 {
		return fmt.Errorf("%w: Q %.3f must be positive", ErrInvalidParameter, q)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.bank.Load()
	next := *old // copy the whole bank
	next.bands[index] = Band{Frequency: freq, Gain: gain, Q: q, Enabled: old.bands[index].Enabled}
	next.coeffs[index] = peakingCoeffs(float64(e.format.SampleRate), freq, gain, q)
	e.bank.Store(&next)
	return nil
}

// SetBandEnabled toggles one band without touching its parameters.
func (e *Equalizer) SetBandEnabled(index int, on bool) error {
	if index < 0 || index >= MaxBands {
		return fmt.Errorf("%w: band index %d outside [0,%d)", ErrInvalidParameter, index, MaxBands)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.bank.Load()
	next := *old
	next.bands[index].Enabled = on
	e.bank.Store(&next)
	return nil
}

// BandAt returns the last valid parameters for one band.
func (e *Equalizer) BandAt(index int) (Band, error) {
	if index < 0 || index >= MaxBands {
		return Band{}, fmt.Errorf("%w: band index %d outside [0,%d)", ErrInvalidParameter, index, MaxBands)
	}
	return e.bank.Load().bands[index], nil
}

// Process runs the enabled sections in series over the buffer.
func (e *Equalizer) Process(buf *audio.Buffer) (StageMetrics, error) {
	if !e.enabled.Load() {
		return StageMetrics{Bypassed: true}, nil
	}

	start := time.Now()
	bank := e.bank.Load()
	channels := e.format.Channels

	for i := range bank.bands {
		if !bank.bands[i].Enabled || bank.bands[i].Gain == 0 {
			continue
		}
		processInterleaved(&bank.coeffs[i], e.state[i], buf.Samples, channels)
	}

	elapsed := time.Since(start)
	metrics := StageMetrics{ProcessingTime: elapsed}

	// Distortion check is advisory: flag and keep the stream running. The
	// flag surfaces through cycle metrics; nothing here may block, so no
	// I/O on this path.
	e.monoBuf = MonoMix(e.monoBuf, buf.Samples, channels)
	analysis := e.analyzer.Measure(e.monoBuf, e.format.SampleRate)
	metrics.THDN = analysis.THDN
	if analysis.THDN > e.thdnTarget {
		metrics.THDNExceeded = true
	}

	if e.latencyShare > 0 && elapsed > e.latencyShare {
		return metrics, fmt.Errorf("%w: equalizer took %v of %v share", ErrLatencyExceeded, elapsed, e.latencyShare)
	}
	return metrics, nil
}

// Reset clears all filter state.
func (e *Equalizer) Reset() {
	for i := range e.state {
		for ch := range e.state[i] {
			e.state[i][ch] = biquadState{}
		}
	}
}
