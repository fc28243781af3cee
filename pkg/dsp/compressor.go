// ABOUTME: Dynamics compressor with soft knee and attack/release envelope
// ABOUTME: Parameters swap atomically; ratio 1 is a numerical identity
package dsp

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/tald-unia/unia-go/pkg/audio"
)

// CompressorParams is one immutable parameter snapshot.
type CompressorParams struct {
	ThresholdDB float64 // level above which gain reduction applies
	Ratio       float64 // >= 1
	AttackSec   float64 // >= 0
	ReleaseSec  float64 // >= 0
	KneeDB      float64 // >= 0, total knee width centered on threshold
	MakeupDB    float64
	Enabled     bool
}

// maxReleaseSec caps the release time constant. Release shapes how the
// envelope recedes across many cycles; it is bounded by what is musically
// sensible, not by the per-cycle latency budget.
const maxReleaseSec = 5.0

// DefaultCompressorParams returns a gentle program-leveling configuration.
func DefaultCompressorParams() CompressorParams {
	return CompressorParams{
		ThresholdDB: -18.0,
		Ratio:       3.0,
		AttackSec:   0.010,
		ReleaseSec:  0.200,
		KneeDB:      6.0,
		MakeupDB:    0.0,
		Enabled:     true,
	}
}

// compressorCfg carries the snapshot plus coefficients derived once at set
// time so the audio thread never calls exp.
type compressorCfg struct {
	params       CompressorParams
	attackCoeff  float64
	releaseCoeff float64
	makeupLinear float64
	slope        float64 // 1 - 1/ratio
}

// Compressor attenuates signal above a threshold, shaped by an envelope
// follower with separate attack and release time constants.
type Compressor struct {
	format audio.Format
	budget time.Duration // pipeline latency budget, bounds attack time

	cfg atomic.Pointer[compressorCfg]

	// audio-thread state
	envelopeDB float64 // current gain reduction in dB (>= 0)
}

// NewCompressor builds a compressor for the stream format. budget is the
// pipeline's total latency budget; attack times beyond it are rejected.
func NewCompressor(format audio.Format, budget time.Duration) *Compressor {
	c := &Compressor{format: format, budget: budget}
	c.store(DefaultCompressorParams())
	return c
}

// Name implements Stage.
func (c *Compressor) Name() string { return "compressor" }

// SetParams validates and atomically applies a new parameter snapshot,
// visible to the audio thread from its next cycle.
func (c *Compressor) SetParams(p CompressorParams) error {
	if p.Ratio < 1 {
		return fmt.Errorf("%w: ratio %.2f must be >= 1", ErrInvalidParameter, p.Ratio)
	}
	if p.AttackSec < 0 || p.ReleaseSec < 0 {
		return fmt.Errorf("%w: attack/release must be >= 0", ErrInvalidParameter)
	}
	if p.KneeDB < 0 {
		return fmt.Errorf("%w: knee %.2f dB must be >= 0", ErrInvalidParameter, p.KneeDB)
	}
	// Attack governs how quickly gain changes land within a cycle, so it is
	// held to the pipeline budget. Release only decays reduction that is
	// already in place and may span many cycles.
	if c.budget > 0 && p.AttackSec > c.budget.Seconds() {
		return fmt.Errorf("%w: attack %.1fms exceeds %.1fms latency budget",
			ErrInvalidParameter, p.AttackSec*1000, c.budget.Seconds()*1000)
	}
	if p.ReleaseSec > maxReleaseSec {
		return fmt.Errorf("%w: release %.2fs exceeds %.0fs maximum",
			ErrInvalidParameter, p.ReleaseSec, maxReleaseSec)
	}

	c.store(p)
	return nil
}

// store derives audio-thread coefficients and swaps in the snapshot.
func (c *Compressor) store(p CompressorParams) {
	rate := float64(c.format.SampleRate)
	c.cfg.Store(&compressorCfg{
		params:       p,
		attackCoeff:  envCoeff(rate, p.AttackSec),
		releaseCoeff: envCoeff(rate, p.ReleaseSec),
		makeupLinear: DbToLinear(p.MakeupDB),
		slope:        1 - 1/p.Ratio,
	})
}

// Params returns the current snapshot.
func (c *Compressor) Params() CompressorParams {
	return c.cfg.Load().params
}

// envCoeff derives the one-pole smoothing coefficient for a time constant.
func envCoeff(sampleRate, seconds float64) float64 {
	if seconds <= 0 {
		return 0 // instantaneous
	}
	return math.Exp(-1 / (sampleRate * seconds))
}

// Process applies per-frame gain computation over the buffer.
func (c *Compressor) Process(buf *audio.Buffer) (StageMetrics, error) {
	cfg := c.cfg.Load()
	p := cfg.params

	// Ratio 1 applies no gain change anywhere; treat it like bypass so it
	// stays a numerical identity.
	if !p.Enabled || p.Ratio == 1 {
		return StageMetrics{Bypassed: true}, nil
	}

	start := time.Now()
	channels := c.format.Channels
	samples := buf.Samples

	var peakReduction float64
	for i := 0; i < len(samples); i += channels {
		// Frame level: loudest channel drives the detector.
		var level float64
		for ch := 0; ch < channels; ch++ {
			if v := math.Abs(samples[i+ch]); v > level {
				level = v
			}
		}

		// Static curve with soft knee around the threshold.
		levelDB := LinearToDb(level)
		over := levelDB - p.ThresholdDB
		var wantDB float64
		switch {
		case 2*over < -p.KneeDB:
			wantDB = 0
		case 2*over > p.KneeDB:
			wantDB = cfg.slope * over
		default:
			d := over + p.KneeDB/2
			wantDB = cfg.slope * d * d / (2 * p.KneeDB)
		}

		// Attack when reduction is deepening, release when it recedes.
		coeff := cfg.releaseCoeff
		if wantDB > c.envelopeDB {
			coeff = cfg.attackCoeff
		}
		c.envelopeDB = coeff*c.envelopeDB + (1-coeff)*wantDB

		if c.envelopeDB > peakReduction {
			peakReduction = c.envelopeDB
		}

		gain := DbToLinear(-c.envelopeDB) * cfg.makeupLinear
		for ch := 0; ch < channels; ch++ {
			samples[i+ch] *= gain
		}
	}

	return StageMetrics{
		ProcessingTime: time.Since(start),
		GainReduction:  peakReduction,
	}, nil
}

// Reset clears the envelope follower.
func (c *Compressor) Reset() {
	c.envelopeDB = 0
}
