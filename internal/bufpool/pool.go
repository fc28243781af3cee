// ABOUTME: Generation-based buffer pool with lock-free acquire/release
// ABOUTME: Resize swaps a fresh generation; old buffers drain, never copy
package bufpool

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tald-unia/unia-go/pkg/audio"
)

// Valid buffer sizes are powers of two within this range.
const (
	MinFrames = 64
	MaxFrames = 1024
)

// DefaultPoolBuffers is how many buffers a generation carries. The cycle
// loop holds at most one; the rest absorb monitor taps and resize overlap.
const DefaultPoolBuffers = 8

// ValidFrames reports whether a frame count is an acceptable buffer size.
func ValidFrames(frames int) bool {
	if frames < MinFrames || frames > MaxFrames {
		return false
	}
	return frames&(frames-1) == 0
}

// generation is one immutable pool of equally sized buffers. A resize
// builds a new generation and swaps it in; the old one drains as its
// outstanding buffers are released and discarded.
type generation struct {
	id       uuid.UUID
	frames   int
	free     chan *audio.Buffer
	total    int
	inFlight atomic.Int64
}

// Manager owns buffer lifecycle for one stream. Acquire and Release are
// lock-free and safe for the audio thread; Resize runs on the control
// thread under a writer barrier.
type Manager struct {
	format  audio.Format
	budget  time.Duration
	count   int
	sensors Sensors

	seq atomic.Uint64
	gen atomic.Pointer[generation]

	// writer exclusion for resize; never taken on the audio path
	resizeMu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithSensors overrides the thermal/memory sensor source, for tests.
func WithSensors(s Sensors) Option {
	return func(m *Manager) { m.sensors = s }
}

// WithPoolBuffers sets how many buffers each generation holds.
func WithPoolBuffers(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.count = n
		}
	}
}

// New allocates the initial pool. budget is the pipeline latency budget the
// underrun-risk advice is computed against.
func New(format audio.Format, frames int, budget time.Duration, opts ...Option) (*Manager, error) {
	if !ValidFrames(frames) {
		return nil, fmt.Errorf("%w: %d frames (want power of two in [%d, %d])",
			ErrInvalidSize, frames, MinFrames, MaxFrames)
	}

	m := &Manager{
		format:  format,
		budget:  budget,
		count:   DefaultPoolBuffers,
		sensors: NewSystemSensors(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.gen.Store(m.newGeneration(frames))
	return m, nil
}

func (m *Manager) newGeneration(frames int) *generation {
	g := &generation{
		id:     uuid.New(),
		frames: frames,
		free:   make(chan *audio.Buffer, m.count),
		total:  m.count,
	}
	for i := 0; i < m.count; i++ {
		buf := audio.NewBuffer(m.format, frames)
		buf.Gen = g.id
		g.free <- buf
	}
	return g
}

// Frames returns the current generation's buffer size.
func (m *Manager) Frames() int {
	return m.gen.Load().frames
}

// Acquire hands out a free buffer stamped with the next sequence number.
// It never blocks; an empty pool returns ErrPoolExhausted for the caller
// to retry next cycle.
func (m *Manager) Acquire() (*audio.Buffer, error) {
	g := m.gen.Load()
	select {
	case buf := <-g.free:
		buf.Seq = m.seq.Add(1)
		g.inFlight.Add(1)
		return buf, nil
	default:
		return nil, fmt.Errorf("%w: %d buffers in flight", ErrPoolExhausted, g.inFlight.Load())
	}
}

// Release returns a buffer to its pool. Buffers from a retired generation
// are discarded: the old backing store drains out of existence instead of
// being copied into the new size.
func (m *Manager) Release(buf *audio.Buffer) {
	g := m.gen.Load()
	if buf.Gen != g.id {
		return
	}
	g.inFlight.Add(-1)
	select {
	case g.free <- buf:
	default:
		// Double release; drop rather than grow the pool.
	}
}

// Resize swaps in a fresh pool of the new size. In-flight buffers of the
// old generation finish their cycle untouched; the next Acquire already
// serves the new size.
func (m *Manager) Resize(newFrames int) error {
	if !ValidFrames(newFrames) {
		return fmt.Errorf("%w: %d frames (want power of two in [%d, %d])",
			ErrInvalidSize, newFrames, MinFrames, MaxFrames)
	}

	m.resizeMu.Lock()
	defer m.resizeMu.Unlock()

	old := m.gen.Load()
	if old.frames == newFrames {
		return nil
	}

	next := m.newGeneration(newFrames)
	m.gen.Store(next)
	log.Printf("Buffer pool resized: %d -> %d frames (%d old buffers draining)",
		old.frames, newFrames, old.inFlight.Load())
	return nil
}
