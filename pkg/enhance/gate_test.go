// ABOUTME: Tests for the enhancement gate's fail-open behavior
// ABOUTME: Timeout, low confidence and errors must leave the buffer untouched
package enhance_test

import (
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/tald-unia/unia-go/pkg/audio"
	"github.com/tald-unia/unia-go/pkg/enhance"
	"github.com/tald-unia/unia-go/pkg/enhance/fake"
)

func testBuffer() *audio.Buffer {
	f := audio.Format{SampleRate: 48000, BitDepth: 16, Channels: 2, Interleaved: true}
	buf := audio.NewBuffer(f, 64)
	for i := range buf.Samples {
		buf.Samples[i] = float64(i%16) / 32.0
	}
	return buf
}

func snapshot(buf *audio.Buffer) []float64 {
	out := make([]float64, len(buf.Samples))
	copy(out, buf.Samples)
	return out
}

func TestGateAppliesConfidentResult(t *testing.T) {
	enh := fake.New()
	enh.Gain = 0.5
	gate := enhance.NewGate(enh, enhance.GateConfig{
		Deadline:      50 * time.Millisecond,
		MinConfidence: 0.7,
	})

	buf := testBuffer()
	before := snapshot(buf)

	report := gate.Apply(buf)
	if !report.Applied {
		t.Fatalf("expected applied, got %q (%v)", report.Reason, report.Err)
	}
	if report.Gain != 0.5 {
		t.Errorf("gain %v, want 0.5", report.Gain)
	}
	for i := range before {
		want := float64(float32(before[i]) * 0.5)
		if buf.Samples[i] != want {
			t.Fatalf("sample %d: got %v want %v", i, buf.Samples[i], want)
		}
	}
}

func TestGateTimeoutFailsOpen(t *testing.T) {
	enh := fake.New()
	enh.Delay = 200 * time.Millisecond
	gate := enhance.NewGate(enh, enhance.GateConfig{Deadline: 5 * time.Millisecond})

	buf := testBuffer()
	before := snapshot(buf)

	report := gate.Apply(buf)
	if report.Applied {
		t.Fatal("slow enhancer must be skipped")
	}
	if report.Reason != enhance.ReasonTimeout {
		t.Errorf("reason %q, want %q", report.Reason, enhance.ReasonTimeout)
	}
	for i := range before {
		if buf.Samples[i] != before[i] {
			t.Fatalf("sample %d changed on timeout", i)
		}
	}
}

func TestGateLowConfidenceSkips(t *testing.T) {
	enh := fake.New()
	enh.Gain = 2.0
	enh.Confidence = 0.3
	gate := enhance.NewGate(enh, enhance.GateConfig{
		Deadline:      50 * time.Millisecond,
		MinConfidence: 0.7,
	})

	buf := testBuffer()
	before := snapshot(buf)

	report := gate.Apply(buf)
	if report.Applied {
		t.Fatal("low-confidence result must be skipped")
	}
	if report.Reason != enhance.ReasonLowConfidence {
		t.Errorf("reason %q, want %q", report.Reason, enhance.ReasonLowConfidence)
	}
	if report.Confidence != 0.3 {
		t.Errorf("confidence %v, want 0.3", report.Confidence)
	}
	for i := range before {
		if buf.Samples[i] != before[i] {
			t.Fatalf("sample %d changed on low confidence", i)
		}
	}
}

func TestGateModelErrorFailsOpen(t *testing.T) {
	enh := fake.New()
	enh.Err = errors.New("model exploded")
	gate := enhance.NewGate(enh, enhance.GateConfig{Deadline: 50 * time.Millisecond})

	buf := testBuffer()
	before := snapshot(buf)

	report := gate.Apply(buf)
	if report.Applied {
		t.Fatal("erroring enhancer must be skipped")
	}
	if report.Reason != enhance.ReasonError {
		t.Errorf("reason %q, want %q", report.Reason, enhance.ReasonError)
	}
	if report.Err == nil {
		t.Error("report should carry the model error")
	}
	for i := range before {
		if buf.Samples[i] != before[i] {
			t.Fatalf("sample %d changed on error", i)
		}
	}
}

func TestGateRecyclesScratchOnFailedCycles(t *testing.T) {
	const frames = 4096
	f := audio.Format{SampleRate: 48000, BitDepth: 16, Channels: 2, Interleaved: true}

	enh := fake.New()
	enh.Err = errors.New("model exploded")
	gate := enhance.NewGate(enh, enhance.GateConfig{Deadline: 50 * time.Millisecond})

	buf := audio.NewBuffer(f, frames)
	gate.Apply(buf) // warm the scratch pool

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	const cycles = 100
	for i := 0; i < cycles; i++ {
		if report := gate.Apply(buf); report.Reason != enhance.ReasonError {
			t.Fatalf("cycle %d: reason %q", i, report.Reason)
		}
	}
	runtime.ReadMemStats(&after)

	// The input copy must be reused across failing cycles, not reallocated
	// per call: a steady leak here is a fresh slice every failed cycle.
	scratchBytes := uint64(frames * f.Channels * 4)
	if grew := after.TotalAlloc - before.TotalAlloc; grew > cycles*scratchBytes/2 {
		t.Errorf("allocated %d bytes across %d failing cycles", grew, cycles)
	}
}

func TestGateRepeatedCyclesReuseScratch(t *testing.T) {
	enh := fake.New()
	gate := enhance.NewGate(enh, enhance.GateConfig{Deadline: 50 * time.Millisecond})

	for cycle := 0; cycle < 10; cycle++ {
		buf := testBuffer()
		if report := gate.Apply(buf); !report.Applied {
			t.Fatalf("cycle %d skipped: %q", cycle, report.Reason)
		}
	}
	if enh.Calls != 10 {
		t.Errorf("expected 10 calls, got %d", enh.Calls)
	}
}
