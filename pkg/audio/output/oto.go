// ABOUTME: Oto-based audio output implementation
// ABOUTME: Streams pipeline buffers to the codec with software volume control
package output

import (
	"fmt"
	"io"
	"log"

	"github.com/ebitengine/oto/v3"

	"github.com/tald-unia/unia-go/pkg/audio"
)

// Oto output implementation using the oto library.
type Oto struct {
	otoCtx     *oto.Context
	player     *oto.Player
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	format     audio.Format
	scratch    []byte
	volume     int
	muted      bool
	ready      bool
}

// NewOto creates a new Oto output sink.
func NewOto() *Oto {
	return &Oto{volume: 100}
}

// Open initializes the output device.
func (o *Oto) Open(format audio.Format) error {
	// oto only supports 16-bit output; higher bit depths are dithered down
	// at the boundary.
	if o.otoCtx != nil && o.format.SampleRate == format.SampleRate && o.format.Channels == format.Channels {
		log.Printf("Audio output already initialized with same format, reusing context")
		o.format = format
		return nil
	}

	// oto allows only one context per process; a format change keeps the
	// existing context and logs the mismatch.
	if o.otoCtx != nil {
		log.Printf("Warning: format change (%dHz %dch -> %dHz %dch) but oto doesn't support reinitialization",
			o.format.SampleRate, o.format.Channels, format.SampleRate, format.Channels)
		o.format = format
		return nil
	}

	op := &oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return fmt.Errorf("failed to create oto context: %w", err)
	}

	<-readyChan

	o.otoCtx = ctx
	o.format = format

	// Persistent player fed through a pipe for continuous streaming.
	o.pipeReader, o.pipeWriter = io.Pipe()
	o.player = o.otoCtx.NewPlayer(o.pipeReader)
	o.player.Play()

	o.ready = true

	log.Printf("Audio output initialized: %dHz, %d channels", format.SampleRate, format.Channels)

	return nil
}

// Write pushes a processed buffer to the device.
func (o *Oto) Write(buf *audio.Buffer) error {
	if !o.ready {
		return fmt.Errorf("output not initialized")
	}

	need := len(buf.Samples) * 2
	if cap(o.scratch) < need {
		o.scratch = make([]byte, need)
	}
	dst := o.scratch[:need]

	mult := o.volumeMultiplier()
	for i, s := range buf.Samples {
		v := audio.SampleToInt16(s * mult)
		dst[i*2] = byte(v)
		dst[i*2+1] = byte(uint16(v) >> 8)
	}

	if _, err := o.pipeWriter.Write(dst); err != nil {
		return fmt.Errorf("pipe write failed: %w", err)
	}

	return nil
}

// Close releases output resources.
func (o *Oto) Close() error {
	if o.pipeWriter != nil {
		o.pipeWriter.Close()
		o.pipeWriter = nil
	}
	if o.player != nil {
		o.player.Close()
		o.player = nil
	}
	if o.pipeReader != nil {
		o.pipeReader.Close()
		o.pipeReader = nil
	}
	if o.otoCtx != nil {
		o.otoCtx.Suspend()
		o.ready = false
	}
	return nil
}

// SetVolume sets the volume (0-100).
func (o *Oto) SetVolume(volume int) {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}
	o.volume = volume
	log.Printf("Volume set to %d", volume)
}

// SetMuted sets mute state.
func (o *Oto) SetMuted(muted bool) {
	o.muted = muted
	log.Printf("Muted: %v", muted)
}

func (o *Oto) volumeMultiplier() float64 {
	if o.muted {
		return 0.0
	}
	return float64(o.volume) / 100.0
}
