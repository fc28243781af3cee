// ABOUTME: Tests for the spatial/room rendering stage
// ABOUTME: Covers construction validation, reentrancy and wet/dry behavior
package dsp

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tald-unia/unia-go/pkg/audio"
)

func spatialCaps() audio.DeviceCapabilities {
	return audio.DeviceCapabilities{
		SampleRates: []int{44100, 48000, 96000, 192000},
		MaxBitDepth: 24,
		MaxChannels: 2,
	}
}

func TestNewSpatialValidatesHardware(t *testing.T) {
	caps := spatialCaps()
	format := testFormat()

	tests := []struct {
		name   string
		format audio.Format
		frames int
		cfg    SpatialConfig
	}{
		{
			"unsupported rate",
			audio.Format{SampleRate: 500000, BitDepth: 24, Channels: 2},
			256,
			SpatialConfig{LatencyBudget: 10 * time.Millisecond},
		},
		{
			"cycle exceeds budget",
			format,
			256,
			// 256 frames at 48kHz is ~5.3ms, over a 1ms budget.
			SpatialConfig{LatencyBudget: time.Millisecond},
		},
		{
			"distortion target below platform floor",
			format,
			256,
			SpatialConfig{
				LatencyBudget:    10 * time.Millisecond,
				DistortionTarget: 0.000001,
				DistortionLimit:  0.00001,
			},
		},
		{
			"zero frames",
			format,
			0,
			SpatialConfig{LatencyBudget: 10 * time.Millisecond},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSpatial(tt.format, tt.frames, caps, tt.cfg)
			if !errors.Is(err, ErrConfiguration) {
				t.Errorf("expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func newTestSpatial(t *testing.T) *Spatial {
	t.Helper()
	s, err := NewSpatial(testFormat(), 256, spatialCaps(), SpatialConfig{
		LatencyBudget: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}
	return s
}

func TestSpatialReentrancyRejected(t *testing.T) {
	s := newTestSpatial(t)

	// Hold the busy flag the way an in-flight Process would.
	if !s.busy.CompareAndSwap(false, true) {
		t.Fatal("stage unexpectedly busy")
	}
	defer s.busy.Store(false)

	buf := sineBuffer(testFormat(), 256, 440, 0.5)
	if _, err := s.Process(buf); !errors.Is(err, ErrProcessingBusy) {
		t.Errorf("expected ErrProcessingBusy, got %v", err)
	}
}

func TestSpatialDryMixIsBypass(t *testing.T) {
	s := newTestSpatial(t)
	p := s.Params()
	p.WetDry = 0
	if err := s.UpdateParameters(p); err != nil {
		t.Fatalf("update: %v", err)
	}

	buf := sineBuffer(testFormat(), 256, 440, 0.5)
	want := make([]float64, len(buf.Samples))
	copy(want, buf.Samples)

	m, err := s.Process(buf)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !m.Bypassed {
		t.Error("fully dry mix should bypass")
	}
	for i := range want {
		if buf.Samples[i] != want[i] {
			t.Fatalf("sample %d changed at wet/dry 0", i)
		}
	}
}

func TestSpatialRendersWetSignal(t *testing.T) {
	s := newTestSpatial(t)
	p := s.Params()
	p.WetDry = 1.0
	p.SourcePosition = [3]float64{2, 0, 2} // off to the right
	if err := s.UpdateParameters(p); err != nil {
		t.Fatalf("update: %v", err)
	}

	buf := sineBuffer(testFormat(), 256, 440, 0.5)
	want := make([]float64, len(buf.Samples))
	copy(want, buf.Samples)

	if _, err := s.Process(buf); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	changed := false
	for i := range want {
		if buf.Samples[i] != want[i] {
			changed = true
			break
		}
	}
	if !changed {
		t.Error("fully wet render left the buffer untouched")
	}
}

func TestSpatialParamValidation(t *testing.T) {
	s := newTestSpatial(t)

	p := s.Params()
	p.WetDry = 1.5
	if err := s.UpdateParameters(p); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("wet/dry above 1: expected ErrInvalidParameter, got %v", err)
	}

	p = s.Params()
	p.Room.Absorption = 0
	if err := s.UpdateParameters(p); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("zero absorption: expected ErrInvalidParameter, got %v", err)
	}

	p = s.Params()
	p.ListenerForward = [3]float64{}
	if err := s.UpdateParameters(p); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("zero forward vector: expected ErrInvalidParameter, got %v", err)
	}
}

func TestSpatialConcurrentUpdatesWhileProcessing(t *testing.T) {
	// This test covers the parameter-snapshot swap under contention, not
	// the wall-clock deadline: a zero budget disables the latency check so
	// scheduler stalls on a loaded machine cannot fail it.
	s, err := NewSpatial(testFormat(), 256, spatialCaps(), SpatialConfig{})
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		azimuths := []float64{-2, 0, 2}
		i := 0
		for {
			select {
			case <-stop:
				return
			default:
			}
			p := s.Params()
			p.SourcePosition = [3]float64{azimuths[i%3], 0, 2}
			if err := s.UpdateParameters(p); err != nil {
				t.Errorf("update: %v", err)
				return
			}
			i++
		}
	}()

	for cycle := 0; cycle < 50; cycle++ {
		buf := sineBuffer(testFormat(), 256, 440, 0.5)
		if _, err := s.Process(buf); err != nil {
			t.Fatalf("cycle %d: %v", cycle, err)
		}
	}
	close(stop)
	wg.Wait()
}

func TestHRTFSelectInterpolates(t *testing.T) {
	set := SyntheticHRTF(48000)
	if err := set.Validate(); err != nil {
		t.Fatalf("synthetic set invalid: %v", err)
	}

	// On a measurement point the pair comes back verbatim.
	l, r := set.Select(0)
	if len(l) == 0 || len(r) == 0 {
		t.Fatal("empty impulse pair")
	}

	// Between points the pair is a blend, still normalized in length.
	l2, r2 := set.Select(15)
	if len(l2) != len(l) || len(r2) != len(r) {
		t.Errorf("interpolated pair has unexpected lengths %d/%d", len(l2), len(r2))
	}
}

func TestRoomIRDecays(t *testing.T) {
	room := RoomModel{Width: 5, Height: 2.7, Depth: 6, Absorption: 0.35}
	ir, err := SynthesizeRoomIR(48000, room)
	if err != nil {
		t.Fatalf("synthesis failed: %v", err)
	}
	if len(ir) < 100 {
		t.Fatalf("implausibly short IR: %d samples", len(ir))
	}

	var head, tail float64
	n := len(ir) / 4
	for i := 0; i < n; i++ {
		head += ir[i] * ir[i]
		tail += ir[len(ir)-n+i] * ir[len(ir)-n+i]
	}
	if tail >= head {
		t.Errorf("room impulse does not decay: head %v tail %v", head, tail)
	}
}
