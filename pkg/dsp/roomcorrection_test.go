// ABOUTME: Tests for the room correction stage
// ABOUTME: Covers parameter bounds and spectral tilt direction
package dsp

import (
	"errors"
	"math"
	"testing"
)

func TestRoomCorrectionParamBounds(t *testing.T) {
	r := NewRoomCorrection(testFormat())

	tests := []struct {
		name   string
		params RoomCorrectionParams
	}{
		{"room too small", RoomCorrectionParams{RoomSize: 0.5, ReverbTime: 0.4}},
		{"room too large", RoomCorrectionParams{RoomSize: 150, ReverbTime: 0.4}},
		{"zero reverb time", RoomCorrectionParams{RoomSize: 30, ReverbTime: 0}},
		{"negative reverb time", RoomCorrectionParams{RoomSize: 30, ReverbTime: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.SetParams(tt.params); !errors.Is(err, ErrInvalidParameter) {
				t.Errorf("expected ErrInvalidParameter, got %v", err)
			}
		})
	}

	// Rejections never disturb the running snapshot.
	if got := r.Params(); got != DefaultRoomCorrectionParams() {
		t.Errorf("running params disturbed: %+v", got)
	}
}

func TestRoomCorrectionDisabledIsPassthrough(t *testing.T) {
	r := NewRoomCorrection(testFormat())
	p := r.Params()
	p.Enabled = false
	if err := r.SetParams(p); err != nil {
		t.Fatalf("set params: %v", err)
	}

	buf := sineBuffer(testFormat(), 256, 1000, 0.5)
	want := make([]float64, len(buf.Samples))
	copy(want, buf.Samples)

	m, err := r.Process(buf)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !m.Bypassed {
		t.Error("disabled stage should report bypass")
	}
	for i := range want {
		if buf.Samples[i] != want[i] {
			t.Fatalf("sample %d changed while disabled", i)
		}
	}
}

func rmsOf(samples []float64) float64 {
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func TestRoomCorrectionCutsBassInSmallRooms(t *testing.T) {
	r := NewRoomCorrection(testFormat())
	if err := r.SetParams(RoomCorrectionParams{RoomSize: 2, ReverbTime: 0.3, Enabled: true}); err != nil {
		t.Fatalf("set params: %v", err)
	}

	// 60 Hz content sits under the low shelf; a small room cuts it.
	buf := sineBuffer(testFormat(), 4096, 60, 0.5)
	inRMS := rmsOf(buf.Samples)
	if _, err := r.Process(buf); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if out := rmsOf(buf.Samples); out >= inRMS {
		t.Errorf("small-room bass not attenuated: in %v out %v", inRMS, out)
	}
}

func TestRoomCorrectionLiftsTrebleForLongReverb(t *testing.T) {
	r := NewRoomCorrection(testFormat())
	if err := r.SetParams(RoomCorrectionParams{RoomSize: 80, ReverbTime: 1.5, Enabled: true}); err != nil {
		t.Fatalf("set params: %v", err)
	}

	// 12 kHz content above the high shelf gains with long decay times.
	buf := sineBuffer(testFormat(), 4096, 12000, 0.25)
	inRMS := rmsOf(buf.Samples)
	if _, err := r.Process(buf); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if out := rmsOf(buf.Samples); out <= inRMS {
		t.Errorf("treble not restored: in %v out %v", inRMS, out)
	}
}
