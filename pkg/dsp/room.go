// ABOUTME: Synthetic room impulse response generation from room geometry
// ABOUTME: Sabine RT60 drives an exponentially decaying noise tail
package dsp

import (
	"fmt"
	"math"
)

// RoomModel describes a rectangular listening room for reverb synthesis.
type RoomModel struct {
	Width      float64 // meters
	Height     float64 // meters
	Depth      float64 // meters
	Absorption float64 // mean absorption coefficient in (0, 1]
}

func (r RoomModel) validate() error {
	if r.Width <= 0 || r.Height <= 0 || r.Depth <= 0 {
		return fmt.Errorf("%w: room dimensions must be positive, got %.1fx%.1fx%.1f",
			ErrInvalidParameter, r.Width, r.Height, r.Depth)
	}
	if r.Absorption <= 0 || r.Absorption > 1 {
		return fmt.Errorf("%w: absorption %.3f outside (0, 1]", ErrInvalidParameter, r.Absorption)
	}
	return nil
}

// RT60 estimates the reverberation time with the Sabine equation.
func (r RoomModel) RT60() float64 {
	volume := r.Width * r.Height * r.Depth
	surface := 2 * (r.Width*r.Height + r.Width*r.Depth + r.Height*r.Depth)
	return 0.161 * volume / (r.Absorption * surface)
}

// maxRoomIRSeconds bounds the synthesized tail so convolution cost stays
// proportional to the cycle budget rather than the room volume.
const maxRoomIRSeconds = 0.5

// SynthesizeRoomIR builds a decaying-noise impulse response whose decay
// rate matches the room's RT60. The noise source is a fixed LCG so the
// response is deterministic for a given geometry.
func SynthesizeRoomIR(sampleRate int, room RoomModel) ([]float64, error) {
	if err := room.validate(); err != nil {
		return nil, err
	}

	rt60 := room.RT60()
	seconds := rt60
	if seconds > maxRoomIRSeconds {
		seconds = maxRoomIRSeconds
	}
	length := int(seconds * float64(sampleRate))
	if length < 1 {
		length = 1
	}

	// Amplitude decays 60 dB over rt60 seconds.
	decay := math.Log(1000) / (rt60 * float64(sampleRate))

	ir := make([]float64, length)
	var seed uint64 = 0x9E3779B97F4A7C15
	var energy float64
	for i := range ir {
		seed = seed*6364136223846793005 + 1442695040888963407
		noise := float64(int64(seed>>11))/float64(1<<52) - 1 // roughly [-1, 1)
		ir[i] = noise * math.Exp(-decay*float64(i))
		energy += ir[i] * ir[i]
	}

	// Normalize so the reverb tail carries unit energy before mixing.
	if energy > 0 {
		norm := 1 / math.Sqrt(energy)
		for i := range ir {
			ir[i] *= norm
		}
	}
	return ir, nil
}
