// ABOUTME: Pull-model audio sources feeding the cycle loop
// ABOUTME: Includes a test-tone generator and a slice-backed source
package engine

import (
	"io"
	"math"

	"github.com/tald-unia/unia-go/pkg/audio"
)

// Source delivers input frames each cycle. Read fills up to the buffer's
// capacity, returns the frame count written, and io.EOF once the stream is
// exhausted (possibly alongside a final short read). Called from the audio
// thread; implementations must not block unboundedly.
type Source interface {
	Read(buf *audio.Buffer) (int, error)
}

// SineSource generates a continuous test tone across all channels.
type SineSource struct {
	Frequency float64
	Amplitude float64

	phase float64
}

// Read implements Source. It never ends.
func (s *SineSource) Read(buf *audio.Buffer) (int, error) {
	frames := buf.Frames()
	channels := buf.Format.Channels
	step := 2 * math.Pi * s.Frequency / float64(buf.Format.SampleRate)

	for f := 0; f < frames; f++ {
		v := s.Amplitude * math.Sin(s.phase)
		s.phase += step
		if s.phase > 2*math.Pi {
			s.phase -= 2 * math.Pi
		}
		for ch := 0; ch < channels; ch++ {
			buf.Samples[f*channels+ch] = v
		}
	}
	return frames, nil
}

// SliceSource plays out a fixed interleaved sample slice, for offline
// rendering and tests.
type SliceSource struct {
	Samples []float64

	pos int
}

// Read implements Source.
func (s *SliceSource) Read(buf *audio.Buffer) (int, error) {
	channels := buf.Format.Channels
	remaining := (len(s.Samples) - s.pos) / channels
	if remaining <= 0 {
		return 0, io.EOF
	}

	frames := buf.Frames()
	if frames > remaining {
		frames = remaining
	}
	n := copy(buf.Samples, s.Samples[s.pos:s.pos+frames*channels])
	s.pos += n

	// Zero the tail of a short final read.
	for i := n; i < len(buf.Samples); i++ {
		buf.Samples[i] = 0
	}

	if s.pos >= len(s.Samples) {
		return frames, io.EOF
	}
	return frames, nil
}
