// ABOUTME: Capturing null output sink
// ABOUTME: Collects written buffers for offline processing and tests
package output

import (
	"sync"

	"github.com/tald-unia/unia-go/pkg/audio"
)

// Null is a sink that records everything written to it. It backs offline
// processing (cmd/unia-proc) and tests that need to inspect pipeline output.
type Null struct {
	mu      sync.Mutex
	format  audio.Format
	samples []float64
	writes  int
	lastSeq uint64
}

// NewNull creates a capturing sink.
func NewNull() *Null {
	return &Null{}
}

// Open records the stream format.
func (n *Null) Open(format audio.Format) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.format = format
	return nil
}

// Write appends the buffer's samples to the capture.
func (n *Null) Write(buf *audio.Buffer) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.samples = append(n.samples, buf.Samples...)
	n.writes++
	n.lastSeq = buf.Seq
	return nil
}

// Close is a no-op.
func (n *Null) Close() error { return nil }

// Captured returns a copy of all samples written so far.
func (n *Null) Captured() []float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]float64, len(n.samples))
	copy(out, n.samples)
	return out
}

// Writes returns the number of buffers written.
func (n *Null) Writes() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.writes
}

// LastSeq returns the sequence number of the most recent buffer.
func (n *Null) LastSeq() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastSeq
}
