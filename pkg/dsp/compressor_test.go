// ABOUTME: Tests for the dynamics compressor
// ABOUTME: Covers ratio-1 identity, threshold behavior and parameter gating
package dsp

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestCompressorDefaultsSurviveTightBudget(t *testing.T) {
	// Construction under the full-pipeline budget must yield a working
	// stage: the default release is far longer than any cycle and must
	// not trip the attack bound.
	c := NewCompressor(testFormat(), 10*time.Millisecond)
	if got := c.Params(); got != DefaultCompressorParams() {
		t.Fatalf("constructed params %+v, want defaults", got)
	}

	// Re-applying the defaults goes through validation and must pass.
	if err := c.SetParams(DefaultCompressorParams()); err != nil {
		t.Fatalf("defaults rejected: %v", err)
	}

	buf := sineBuffer(testFormat(), 256, 440, 0.9)
	if _, err := c.Process(buf); err != nil {
		t.Fatalf("process failed: %v", err)
	}
}

func TestCompressorRatioOneIsIdentity(t *testing.T) {
	c := NewCompressor(testFormat(), 10*time.Millisecond)
	p := DefaultCompressorParams()
	p.Ratio = 1
	if err := c.SetParams(p); err != nil {
		t.Fatalf("set params: %v", err)
	}

	// Both quiet and loud material must pass unchanged.
	for _, amp := range []float64{0.05, 0.95} {
		buf := sineBuffer(testFormat(), 256, 440, amp)
		want := make([]float64, len(buf.Samples))
		copy(want, buf.Samples)

		m, err := c.Process(buf)
		if err != nil {
			t.Fatalf("process failed: %v", err)
		}
		if !m.Bypassed {
			t.Error("ratio 1 should report bypass")
		}
		for i := range want {
			if buf.Samples[i] != want[i] {
				t.Fatalf("amp %v sample %d changed: %v != %v", amp, i, buf.Samples[i], want[i])
			}
		}
	}
}

func TestCompressorDisabledIsIdentity(t *testing.T) {
	c := NewCompressor(testFormat(), 10*time.Millisecond)
	p := DefaultCompressorParams()
	p.Enabled = false
	if err := c.SetParams(p); err != nil {
		t.Fatalf("set params: %v", err)
	}

	buf := sineBuffer(testFormat(), 256, 440, 0.9)
	want := make([]float64, len(buf.Samples))
	copy(want, buf.Samples)

	if _, err := c.Process(buf); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	for i := range want {
		if buf.Samples[i] != want[i] {
			t.Fatalf("sample %d changed while disabled", i)
		}
	}
}

func TestCompressorReducesLoudSignal(t *testing.T) {
	c := NewCompressor(testFormat(), 10*time.Millisecond)
	if err := c.SetParams(CompressorParams{
		ThresholdDB: -20, Ratio: 4, AttackSec: 0.001, ReleaseSec: 0.050,
		KneeDB: 0, MakeupDB: 0, Enabled: true,
	}); err != nil {
		t.Fatalf("set params: %v", err)
	}

	// 0 dBFS sine sits 20 dB over the threshold.
	buf := sineBuffer(testFormat(), 4096, 440, 1.0)
	m, err := c.Process(buf)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if m.GainReduction <= 0 {
		t.Error("expected gain reduction above threshold")
	}

	var peak float64
	for _, s := range buf.Samples {
		if v := math.Abs(s); v > peak {
			peak = v
		}
	}
	if peak >= 1.0 {
		t.Errorf("peak %v not attenuated", peak)
	}
}

func TestCompressorBelowThresholdNeverAmplifies(t *testing.T) {
	c := NewCompressor(testFormat(), 10*time.Millisecond)
	if err := c.SetParams(CompressorParams{
		ThresholdDB: -90, Ratio: 2, AttackSec: 0.001, ReleaseSec: 0.050,
		KneeDB: 0, MakeupDB: 0, Enabled: true,
	}); err != nil {
		t.Fatalf("set params: %v", err)
	}

	// Signal well below the noise-floor threshold; output must not grow.
	buf := sineBuffer(testFormat(), 1024, 440, 1e-6)
	var inPeak float64
	for _, s := range buf.Samples {
		if v := math.Abs(s); v > inPeak {
			inPeak = v
		}
	}

	if _, err := c.Process(buf); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	for _, s := range buf.Samples {
		if math.Abs(s) > inPeak+1e-12 {
			t.Fatalf("sample %v amplified above input peak %v", s, inPeak)
		}
	}
}

func TestCompressorSoftKneeIsContinuous(t *testing.T) {
	// Static curve at the knee edges must agree with both straight segments.
	p := CompressorParams{ThresholdDB: -20, Ratio: 4, KneeDB: 6}
	slope := 1 - 1/p.Ratio

	curve := func(levelDB float64) float64 {
		over := levelDB - p.ThresholdDB
		switch {
		case 2*over < -p.KneeDB:
			return 0
		case 2*over > p.KneeDB:
			return slope * over
		default:
			d := over + p.KneeDB/2
			return slope * d * d / (2 * p.KneeDB)
		}
	}

	lower := p.ThresholdDB - p.KneeDB/2
	upper := p.ThresholdDB + p.KneeDB/2
	if d := math.Abs(curve(lower+1e-9) - curve(lower-1e-9)); d > 1e-6 {
		t.Errorf("discontinuity %v at knee lower edge", d)
	}
	if want := slope * (upper - p.ThresholdDB); math.Abs(curve(upper)-want) > 1e-9 {
		t.Errorf("knee upper edge %v does not meet compression segment %v", curve(upper), want)
	}
}

func TestCompressorParamValidation(t *testing.T) {
	c := NewCompressor(testFormat(), 10*time.Millisecond)

	tests := []struct {
		name   string
		mutate func(*CompressorParams)
	}{
		{"ratio below one", func(p *CompressorParams) { p.Ratio = 0.5 }},
		{"negative attack", func(p *CompressorParams) { p.AttackSec = -0.01 }},
		{"negative release", func(p *CompressorParams) { p.ReleaseSec = -0.01 }},
		{"negative knee", func(p *CompressorParams) { p.KneeDB = -1 }},
		{"attack beyond budget", func(p *CompressorParams) { p.AttackSec = 0.5 }},
		{"release beyond maximum", func(p *CompressorParams) { p.ReleaseSec = 10.0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultCompressorParams()
			tt.mutate(&p)
			if err := c.SetParams(p); !errors.Is(err, ErrInvalidParameter) {
				t.Errorf("expected ErrInvalidParameter, got %v", err)
			}
		})
	}

	// The running configuration survives rejected updates.
	if got := c.Params(); got != DefaultCompressorParams() {
		t.Errorf("rejected update disturbed running params: %+v", got)
	}
}

func TestEnvelopeCoefficient(t *testing.T) {
	// exp(-1/(rate*t)) for 10ms at 48kHz.
	want := math.Exp(-1.0 / (48000 * 0.010))
	if got := envCoeff(48000, 0.010); math.Abs(got-want) > 1e-12 {
		t.Errorf("envCoeff = %v, want %v", got, want)
	}
	if got := envCoeff(48000, 0); got != 0 {
		t.Errorf("zero time constant should be instantaneous, got %v", got)
	}
}
