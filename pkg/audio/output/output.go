// ABOUTME: Hardware output sink interface definition
// ABOUTME: Common interface for pushing processed buffers to the codec
package output

import "github.com/tald-unia/unia-go/pkg/audio"

// Sink represents a hardware audio output.
type Sink interface {
	// Open initializes the output device for the stream format.
	Open(format audio.Format) error

	// Write pushes a processed buffer to the device (blocks until queued).
	Write(buf *audio.Buffer) error

	// Close releases output resources.
	Close() error
}
