// ABOUTME: Deadline/confidence gate around an Enhancer, always fail-open
// ABOUTME: Timeouts, errors and low confidence all skip the stage for a cycle
package enhance

import (
	"context"
	"sync"
	"time"

	"github.com/tald-unia/unia-go/pkg/audio"
)

// Skip reasons carried in GateReport.
const (
	ReasonApplied       = "applied"
	ReasonTimeout       = "timeout"
	ReasonError         = "error"
	ReasonLowConfidence = "low-confidence"
)

// GateReport describes one gated enhancement attempt.
type GateReport struct {
	Applied    bool
	Reason     string
	Gain       float64
	Confidence float64
	Elapsed    time.Duration
	Err        error
}

// GateConfig bounds the enhancement stage.
type GateConfig struct {
	// Deadline is the hard per-cycle inference budget, a fraction of the
	// cycle budget chosen by the orchestrator.
	Deadline time.Duration

	// MinConfidence below which a result is discarded like a timeout.
	MinConfidence float64
}

// Gate runs an Enhancer with a hard deadline. The inference call runs on
// its own goroutine against a private copy of the input, so an overrunning
// model can never touch a buffer the pipeline has already moved on with.
type Gate struct {
	enh Enhancer
	cfg GateConfig

	scratch sync.Pool
}

// NewGate wraps an enhancer.
func NewGate(enh Enhancer, cfg GateConfig) *Gate {
	return &Gate{
		enh: enh,
		cfg: cfg,
		scratch: sync.Pool{
			New: func() any { return []float32(nil) },
		},
	}
}

// ModelVersion exposes the wrapped model's identity.
func (g *Gate) ModelVersion() string { return g.enh.ModelVersion() }

// Apply attempts enhancement of the buffer in place. On any failure the
// buffer is left exactly as it was; the report says why.
func (g *Gate) Apply(buf *audio.Buffer) GateReport {
	start := time.Now()

	in := g.scratch.Get().([]float32)
	if cap(in) < len(buf.Samples) {
		in = make([]float32, len(buf.Samples))
	}
	in = in[:len(buf.Samples)]
	for i, s := range buf.Samples {
		in[i] = float32(s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.Deadline)
	defer cancel()

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := g.enh.Enhance(ctx, in)
		done <- outcome{res, err}
		// The scratch slice may live inside res.Samples; only recycle it
		// once the result has been consumed or abandoned.
	}()

	select {
	case out := <-done:
		// The inference goroutine has finished, so the scratch copy is
		// safe to recycle on every branch below.
		elapsed := time.Since(start)
		if out.err != nil {
			g.scratch.Put(in[:0])
			return GateReport{Reason: ReasonError, Elapsed: elapsed, Err: out.err}
		}
		if out.res.Confidence < g.cfg.MinConfidence {
			g.scratch.Put(in[:0])
			return GateReport{
				Reason:     ReasonLowConfidence,
				Confidence: out.res.Confidence,
				Elapsed:    elapsed,
			}
		}
		if len(out.res.Samples) != len(buf.Samples) {
			g.scratch.Put(in[:0])
			return GateReport{Reason: ReasonError, Elapsed: elapsed, Err: ErrShapeMismatch}
		}
		for i, s := range out.res.Samples {
			buf.Samples[i] = float64(s)
		}
		g.scratch.Put(in[:0])
		return GateReport{
			Applied:    true,
			Reason:     ReasonApplied,
			Gain:       out.res.Gain,
			Confidence: out.res.Confidence,
			Elapsed:    elapsed,
		}
	case <-ctx.Done():
		// The goroutine still owns the scratch copy; let it go rather than
		// reuse memory an overrunning model may still write.
		return GateReport{Reason: ReasonTimeout, Elapsed: time.Since(start)}
	}
}
