// ABOUTME: Core audio data model for the UNIA processing engine
// ABOUTME: Defines formats, sequenced sample buffers and device capabilities
package audio

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Limits inherited from the UNIA DSP kernel.
const (
	MaxChannels     = 8
	MaxBufferFrames = 8192
	MinSampleRate   = 44100
	MaxSampleRate   = 384000

	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23
)

// Format describes the fixed shape of a PCM stream. It is immutable once a
// buffer is bound to it; changing the stream format requires draining
// in-flight buffers and re-allocating the pool.
type Format struct {
	SampleRate  int
	BitDepth    int
	Channels    int
	Interleaved bool
}

// Validate checks the format against device capabilities.
func (f Format) Validate(caps DeviceCapabilities) error {
	if !caps.SupportsRate(f.SampleRate) {
		return fmt.Errorf("%w: sample rate %d Hz not in supported set %v",
			ErrUnsupportedFormat, f.SampleRate, caps.SampleRates)
	}
	if f.BitDepth > caps.MaxBitDepth {
		return fmt.Errorf("%w: bit depth %d exceeds device max %d",
			ErrUnsupportedFormat, f.BitDepth, caps.MaxBitDepth)
	}
	if f.Channels < 1 || f.Channels > caps.MaxChannels {
		return fmt.Errorf("%w: channel count %d exceeds device max %d",
			ErrUnsupportedFormat, f.Channels, caps.MaxChannels)
	}
	return nil
}

// FrameBytes returns the size of one frame on the wire.
func (f Format) FrameBytes() int {
	return f.Channels * f.BitDepth / 8
}

// CycleLatency returns the wall-clock duration one buffer of the given
// frame count represents at this format's sample rate.
func (f Format) CycleLatency(frames int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(frames) / float64(f.SampleRate) * float64(time.Second))
}

// DeviceCapabilities is the static description of the attached codec,
// established at hardware-detection time and read-only afterwards.
type DeviceCapabilities struct {
	SampleRates     []int
	MaxBitDepth     int
	MaxChannels     int
	BaselineTHDN    float64       // measured distortion floor, as a ratio
	BaselineLatency time.Duration // measured round-trip latency floor
}

// SupportsRate reports whether the codec supports the exact sample rate.
func (c DeviceCapabilities) SupportsRate(hz int) bool {
	for _, r := range c.SampleRates {
		if r == hz {
			return true
		}
	}
	return false
}

// NearestRate returns the supported sample rate closest to the request.
func (c DeviceCapabilities) NearestRate(hz int) int {
	if len(c.SampleRates) == 0 {
		return 0
	}
	best := c.SampleRates[0]
	for _, r := range c.SampleRates[1:] {
		if abs(r-hz) < abs(best-hz) {
			best = r
		}
	}
	return best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Buffer is a fixed-capacity store of interleaved float64 samples bound to
// one Format. A buffer is exclusively owned by whichever stage currently
// holds it; ownership transfers as it moves through the chain and the
// buffer returns to its pool when the cycle completes.
type Buffer struct {
	Seq     uint64    // monotonically increasing per stream
	Gen     uuid.UUID // pool generation owning the backing store
	Format  Format
	Samples []float64 // interleaved, len == Frames()*Format.Channels
}

// NewBuffer allocates a buffer holding the given number of frames.
func NewBuffer(format Format, frames int) *Buffer {
	return &Buffer{
		Format:  format,
		Samples: make([]float64, frames*format.Channels),
	}
}

// Frames returns the frame count the buffer holds.
func (b *Buffer) Frames() int {
	if b.Format.Channels == 0 {
		return 0
	}
	return len(b.Samples) / b.Format.Channels
}

// Clear zeroes the sample store.
func (b *Buffer) Clear() {
	for i := range b.Samples {
		b.Samples[i] = 0
	}
}

// CopyFrom copies samples and sequencing from src. The two buffers must
// share a format and capacity.
func (b *Buffer) CopyFrom(src *Buffer) error {
	if b.Format != src.Format || len(b.Samples) != len(src.Samples) {
		return ErrFormatMismatch
	}
	b.Seq = src.Seq
	copy(b.Samples, src.Samples)
	return nil
}
