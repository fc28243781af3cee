// ABOUTME: Processing orchestrator: owns the pull-process-push cycle loop
// ABOUTME: Dedicated locked audio thread, control work stays on other threads
package engine

import (
	"errors"
	"fmt"
	"io"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tald-unia/unia-go/internal/bufpool"
	"github.com/tald-unia/unia-go/internal/monitor"
	"github.com/tald-unia/unia-go/pkg/audio"
	"github.com/tald-unia/unia-go/pkg/audio/output"
	"github.com/tald-unia/unia-go/pkg/dsp"
	"github.com/tald-unia/unia-go/pkg/enhance"
)

// chain is the immutable set of built stages. Rebuilds (after a buffer
// resize) swap the whole pointer; a cycle sees one chain throughout.
type chain struct {
	eq       *dsp.Equalizer
	comp     *dsp.Compressor
	roomCorr *dsp.RoomCorrection
	spatial  *dsp.Spatial
}

// Engine is one processing context. Its lifetime is owned by the caller;
// there is no process-wide shared instance.
type Engine struct {
	id     uuid.UUID
	caps   audio.DeviceCapabilities
	source Source
	sink   output.Sink

	cfg        Config
	eff        EffectiveConfig
	configured bool

	state       atomic.Int32
	cycleBudget atomic.Int64 // nanoseconds, re-read every cycle

	pool   *bufpool.Manager
	chain  atomic.Pointer[chain]
	gate   *enhance.Gate
	params *paramStore
	mon    *monitor.Monitor

	// audio-thread cycle bookkeeping
	lateStreak int
	srcDone    bool

	stopCh       chan struct{}
	suspendCh    chan struct{}
	resumeCh     chan struct{}
	degradeCh    chan struct{}
	stopOnce     sync.Once
	teardownOnce sync.Once
	wg           sync.WaitGroup
}

// New creates an idle engine bound to a codec's capabilities, an input
// source and an output sink.
func New(caps audio.DeviceCapabilities, source Source, sink output.Sink) *Engine {
	e := &Engine{
		id:        uuid.New(),
		caps:      caps,
		source:    source,
		sink:      sink,
		params:    newParamStore(DefaultParams()),
		stopCh:    make(chan struct{}),
		suspendCh: make(chan struct{}, 1),
		resumeCh:  make(chan struct{}, 1),
		degradeCh: make(chan struct{}, 4),
	}
	e.state.Store(int32(Idle))
	return e
}

// ID identifies this engine session in logs and telemetry.
func (e *Engine) ID() uuid.UUID { return e.id }

// State returns the current lifecycle state.
func (e *Engine) State() State { return State(e.state.Load()) }

// Configure negotiates the requested setup against the hardware. The
// effective configuration may differ from the request; callers must
// re-read it. Only valid while Idle; failure leaves the engine unchanged.
func (e *Engine) Configure(cfg Config) (EffectiveConfig, error) {
	if e.State() != Idle {
		return EffectiveConfig{}, fmt.Errorf("%w: configure in state %s", ErrInvalidState, e.State())
	}

	cfg = cfg.withDefaults()
	eff, err := negotiate(e.caps, cfg)
	if err != nil {
		return EffectiveConfig{}, err
	}

	e.cfg = cfg
	e.eff = eff
	e.configured = true
	log.Printf("Engine %s configured: %dHz %d-bit %dch, %d frames (%.2fms cycle)",
		e.id, eff.Format.SampleRate, eff.Format.BitDepth, eff.Format.Channels,
		eff.BufferFrames, eff.CycleBudget.Seconds()*1000)
	return eff, nil
}

// Start moves Idle -> Configuring -> Running: validates hardware,
// allocates the buffer pool, builds the stage chain and launches the audio
// thread. Any failure rolls back to Idle. Start on a running engine is an
// error, not a restart.
func (e *Engine) Start() error {
	if !e.state.CompareAndSwap(int32(Idle), int32(Configuring)) {
		if e.State() == Running {
			return ErrAlreadyRunning
		}
		return fmt.Errorf("%w: start in state %s", ErrInvalidState, e.State())
	}

	if !e.configured {
		e.state.Store(int32(Idle))
		return ErrNotConfigured
	}

	if err := e.build(); err != nil {
		e.state.Store(int32(Idle))
		return err
	}

	e.cycleBudget.Store(int64(e.eff.CycleBudget))
	e.state.Store(int32(Running))
	log.Printf("Engine %s running", e.id)

	e.wg.Add(2)
	go e.run()
	go e.control()
	return nil
}

// build allocates buffers and constructs every stage. All allocation
// happens here, never during Running.
func (e *Engine) build() error {
	format := e.eff.Format
	frames := e.eff.BufferFrames

	pool, err := bufpool.New(format, frames, e.cfg.LatencyBudget, e.cfg.PoolOptions...)
	if err != nil {
		return err
	}
	e.pool = pool

	ch := &chain{
		eq:       dsp.NewEqualizer(format, frames, e.eff.CycleBudget/4, e.cfg.THDNTarget),
		comp:     dsp.NewCompressor(format, e.cfg.LatencyBudget),
		roomCorr: dsp.NewRoomCorrection(format),
	}
	spatial, err := dsp.NewSpatial(format, frames, e.caps, dsp.SpatialConfig{
		LatencyBudget:    e.cfg.LatencyBudget,
		DistortionTarget: e.cfg.THDNTarget,
		DistortionLimit:  e.caps.BaselineTHDN,
		HRTF:             e.cfg.HRTF,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	ch.spatial = spatial
	e.chain.Store(ch)

	if e.cfg.AI != nil && e.cfg.AI.Enhancer != nil {
		deadline := time.Duration(float64(e.eff.CycleBudget) * e.cfg.AI.DeadlineFraction)
		e.gate = enhance.NewGate(e.cfg.AI.Enhancer, enhance.GateConfig{
			Deadline:      deadline,
			MinConfidence: e.cfg.AI.MinConfidence,
		})
		log.Printf("Engine %s AI stage: model %s, %.2fms deadline",
			e.id, e.gate.ModelVersion(), deadline.Seconds()*1000)
	}

	e.mon = monitor.New(monitor.Config{
		SampleRate:         format.SampleRate,
		Channels:           format.Channels,
		Interval:           e.cfg.MonitorInterval,
		MaxLatency:         e.cfg.LatencyBudget,
		MaxTHDN:            e.cfg.THDNTarget,
		MinPowerEfficiency: e.cfg.MinPowerEfficiency,
	}, e.pool.Monitor)
	e.mon.Start()

	if err := e.sink.Open(format); err != nil {
		e.mon.Stop()
		return fmt.Errorf("%w: output: %v", ErrConfiguration, err)
	}
	return nil
}

// Suspend parks the audio thread after the in-flight cycle completes.
// State is preserved and Resume continues the stream.
func (e *Engine) Suspend() error {
	if e.State() != Running {
		return fmt.Errorf("%w: suspend in state %s", ErrInvalidState, e.State())
	}
	select {
	case e.suspendCh <- struct{}{}:
	default:
	}
	return nil
}

// Resume continues a suspended stream.
func (e *Engine) Resume() error {
	if e.State() != Suspended {
		return fmt.Errorf("%w: resume in state %s", ErrInvalidState, e.State())
	}
	select {
	case e.resumeCh <- struct{}{}:
	default:
	}
	return nil
}

// Stop completes the in-flight cycle, releases resources and moves to
// Stopped. Idempotent from any state; there are no torn writes to the
// output.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
	e.teardown()
}

func (e *Engine) teardown() {
	e.teardownOnce.Do(func() {
		if e.mon != nil {
			e.mon.Stop()
		}
		if e.sink != nil {
			e.sink.Close()
		}
		e.state.Store(int32(Stopped))
		log.Printf("Engine %s stopped", e.id)
	})
}

// UpdateParams applies a chain-shape change as a whole versioned snapshot,
// visible from the next cycle. Safe from any number of control threads.
func (e *Engine) UpdateParams(mutate func(*Params)) Params {
	return e.params.update(mutate)
}

// Params returns the current snapshot.
func (e *Engine) Params() Params { return *e.params.load() }

// Stage accessors for the per-stage parameter APIs. Nil before Start.
func (e *Engine) Equalizer() *dsp.Equalizer {
	if c := e.chain.Load(); c != nil {
		return c.eq
	}
	return nil
}

func (e *Engine) Compressor() *dsp.Compressor {
	if c := e.chain.Load(); c != nil {
		return c.comp
	}
	return nil
}

func (e *Engine) Spatial() *dsp.Spatial {
	if c := e.chain.Load(); c != nil {
		return c.spatial
	}
	return nil
}

func (e *Engine) RoomCorrection() *dsp.RoomCorrection {
	if c := e.chain.Load(); c != nil {
		return c.roomCorr
	}
	return nil
}

// Metrics returns the monitor's latest snapshot.
func (e *Engine) Metrics() (monitor.ProcessingMetrics, bool) {
	if e.mon == nil {
		return monitor.ProcessingMetrics{}, false
	}
	return e.mon.Snapshot()
}

// MetricsHistory returns retained snapshots, oldest first.
func (e *Engine) MetricsHistory() []monitor.ProcessingMetrics {
	if e.mon == nil {
		return nil
	}
	return e.mon.History()
}

// run is the real-time loop. Go offers no portable RT scheduling class;
// a locked OS thread is the closest the runtime provides.
func (e *Engine) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer func() { go e.Stop() }()
	defer e.wg.Done()

	next := time.Now()
	for {
		select {
		case <-e.stopCh:
			return
		case <-e.suspendCh:
			e.state.Store(int32(Suspended))
			log.Printf("Engine %s suspended", e.id)
			select {
			case <-e.resumeCh:
				e.state.Store(int32(Running))
				log.Printf("Engine %s resumed", e.id)
				next = time.Now()
			case <-e.stopCh:
				return
			}
		default:
		}

		if e.srcDone {
			e.stopOnce.Do(func() { close(e.stopCh) })
			return
		}

		e.cycle()

		if e.cfg.RealTime {
			next = next.Add(time.Duration(e.cycleBudget.Load()))
			if d := time.Until(next); d > 0 {
				time.Sleep(d)
			} else {
				next = time.Now()
			}
		}
	}
}

// cycle is one pull-process-push pass.
func (e *Engine) cycle() {
	start := time.Now()
	budget := time.Duration(e.cycleBudget.Load())

	buf, err := e.pool.Acquire()
	if err != nil {
		// Every buffer in flight; back off one cycle and retry.
		time.Sleep(budget)
		return
	}

	frames, err := e.source.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		log.Printf("Engine %s source error: %v", e.id, err)
		e.pool.Release(buf)
		e.srcDone = true
		return
	}
	if errors.Is(err, io.EOF) {
		e.srcDone = true
	}
	if frames == 0 {
		e.pool.Release(buf)
		return
	}

	p := e.params.load()
	ch := e.chain.Load()
	report := monitor.CycleReport{Seq: buf.Seq, Budget: budget}

	e.runStage(p.EqualizerEnabled, ch.eq, buf, &report)
	e.runStage(p.CompressorEnabled, ch.comp, buf, &report)
	e.runStage(p.RoomCorrectionEnabled, ch.roomCorr, buf, &report)
	e.runStage(p.SpatialEnabled, ch.spatial, buf, &report)

	if p.AIEnabled && e.gate != nil {
		gr := e.gate.Apply(buf)
		report.AIApplied = gr.Applied
		report.AIBypassed = !gr.Applied
	}

	if err := e.sink.Write(buf); err != nil {
		log.Printf("Engine %s output error: %v", e.id, err)
	}
	e.mon.TapOutput(buf.Samples)
	e.pool.Release(buf)

	report.Processing = time.Since(start)
	e.mon.ReportCycle(report)

	// Persistent deadline misses degrade the chain instead of aborting.
	if report.Processing > budget {
		e.lateStreak++
		if e.lateStreak >= degradeStreak {
			e.lateStreak = 0
			select {
			case e.degradeCh <- struct{}{}:
			default:
			}
		}
	} else {
		e.lateStreak = 0
	}
}

// runStage executes one stage when enabled, folding its metrics into the
// cycle report. Stage errors are quality events, not stream failures.
func (e *Engine) runStage(enabled bool, stage dsp.Stage, buf *audio.Buffer, report *monitor.CycleReport) {
	if !enabled || stage == nil {
		return
	}
	m, err := stage.Process(buf)
	if err != nil {
		log.Printf("Engine %s stage %s: %v", e.id, stage.Name(), err)
	}
	if m.GainReduction > report.GainReduction {
		report.GainReduction = m.GainReduction
	}
}

// control consumes monitor events and degrade requests off the audio
// thread.
func (e *Engine) control() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case <-e.degradeCh:
			e.degrade("persistent deadline misses")
		case ev := <-e.mon.Events():
			if ev.Kind == monitor.EventBufferRisk {
				e.degrade(ev.Message)
			}
		}
	}
}

// degrade sheds load: the optional AI stage goes first, then the buffer
// grows (trading latency for robustness).
func (e *Engine) degrade(reason string) {
	p := e.params.load()
	if p.AIEnabled && e.gate != nil {
		e.params.update(func(p *Params) { p.AIEnabled = false })
		log.Printf("Engine %s degraded (%s): AI stage dropped", e.id, reason)
		return
	}
	e.growBuffer(reason)
}

// growBuffer doubles the buffer size and rebuilds the size-bound spatial
// stage against the new frame count.
func (e *Engine) growBuffer(reason string) {
	cur := e.pool.Frames()
	next := cur * 2
	if next > bufpool.MaxFrames {
		log.Printf("Engine %s cannot degrade further: buffer already %d frames", e.id, cur)
		return
	}
	if e.eff.Format.CycleLatency(next) > e.cfg.LatencyBudget {
		log.Printf("Engine %s cannot grow buffer: %d frames would break the latency budget", e.id, next)
		return
	}
	if err := e.pool.Resize(next); err != nil {
		log.Printf("Engine %s resize failed: %v", e.id, err)
		return
	}
	e.cycleBudget.Store(int64(e.eff.Format.CycleLatency(next)))
	e.rebuildSpatial(next)
	log.Printf("Engine %s degraded (%s): buffer %d -> %d frames", e.id, reason, cur, next)
}

// rebuildSpatial swaps in a spatial stage sized for the new frame count,
// carrying over the current listener parameters.
func (e *Engine) rebuildSpatial(frames int) {
	old := e.chain.Load()
	if old == nil || old.spatial == nil {
		return
	}

	spatial, err := dsp.NewSpatial(e.eff.Format, frames, e.caps, dsp.SpatialConfig{
		LatencyBudget:    e.cfg.LatencyBudget,
		DistortionTarget: e.cfg.THDNTarget,
		DistortionLimit:  e.caps.BaselineTHDN,
		HRTF:             e.cfg.HRTF,
	})
	if err != nil {
		e.params.update(func(p *Params) { p.SpatialEnabled = false })
		log.Printf("Engine %s spatial rebuild failed, stage disabled: %v", e.id, err)
		return
	}
	if err := spatial.UpdateParameters(old.spatial.Params()); err != nil {
		log.Printf("Engine %s spatial parameter carry-over failed: %v", e.id, err)
	}

	next := *old
	next.spatial = spatial
	e.chain.Store(&next)
}
