// ABOUTME: Quality monitor: per-cycle reports plus spectral analysis of an output tap
// ABOUTME: Produces ProcessingMetrics snapshots and threshold-violation events
package monitor

import (
	"encoding/binary"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smallnest/ringbuffer"

	"github.com/tald-unia/unia-go/internal/bufpool"
	"github.com/tald-unia/unia-go/pkg/dsp"
)

// Defaults for the quality budgets the monitor enforces.
const (
	DefaultInterval           = time.Second
	DefaultMaxLatency         = 10 * time.Millisecond
	DefaultMaxTHDN            = 0.000005 // 0.0005%
	DefaultMinPowerEfficiency = 0.90
	DefaultHistorySize        = 256

	// tapSeconds of output audio kept for spectral analysis. Samples are
	// carried as raw float64 so the tap adds no quantization floor of its
	// own to the measurement.
	tapSeconds     = 1
	tapSampleBytes = 8

	// efficiencyAlpha smooths the power-efficiency estimate across windows.
	efficiencyAlpha = 0.3
)

// Config shapes the monitor for one stream.
type Config struct {
	SampleRate int
	Channels   int

	Interval           time.Duration
	MaxLatency         time.Duration
	MaxTHDN            float64
	MinPowerEfficiency float64
	HistorySize        int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.MaxLatency <= 0 {
		c.MaxLatency = DefaultMaxLatency
	}
	if c.MaxTHDN <= 0 {
		c.MaxTHDN = DefaultMaxTHDN
	}
	if c.MinPowerEfficiency <= 0 {
		c.MinPowerEfficiency = DefaultMinPowerEfficiency
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	return c
}

// CycleReport is what the orchestrator hands over after each cycle.
type CycleReport struct {
	Seq           uint64
	Processing    time.Duration // time the cycle actually took
	Budget        time.Duration // frames/sampleRate deadline
	GainReduction float64       // dB from the dynamics stage
	AIBypassed    bool
	AIApplied     bool
}

// ProcessingMetrics is the read-only snapshot exported to observers.
type ProcessingMetrics struct {
	Latency           time.Duration `json:"latency"`
	THDN              float64       `json:"thdn"`
	SNR               float64       `json:"snr"`
	PowerEfficiency   float64       `json:"powerEfficiency"`
	GainReduction     float64       `json:"gainReduction"`
	BufferUtilization float64       `json:"bufferUtilization"`
	Timestamp         time.Time     `json:"timestamp"`
}

// BufferHealthFunc supplies the buffer manager's current metrics.
type BufferHealthFunc func() bufpool.BufferMetrics

// Monitor consumes cycle reports and an output PCM tap on its own
// lower-priority goroutine, measuring real THD+N/SNR by FFT rather than
// trusting any stage's self-assessment.
type Monitor struct {
	cfg    Config
	health BufferHealthFunc

	reports chan CycleReport
	tap     *ringbuffer.RingBuffer
	events  chan Event

	analyzer   *dsp.Analyzer
	tapRaw     []byte // monitor goroutine only
	tapSamples []float64
	mono       []float64

	tapMu      sync.Mutex
	tapScratch []byte // TapOutput callers only

	snapshot atomic.Pointer[ProcessingMetrics]

	mu        sync.Mutex
	history   []ProcessingMetrics
	histNext  int
	histFull  bool
	lastSeq   uint64
	effEMA    float64
	effSeeded bool
	dropped   atomic.Uint64

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a monitor. health may be nil when no buffer manager is wired
// (offline analysis).
func New(cfg Config, health BufferHealthFunc) *Monitor {
	cfg = cfg.withDefaults()

	tapBytes := cfg.SampleRate * cfg.Channels * tapSampleBytes * tapSeconds
	return &Monitor{
		cfg:        cfg,
		health:     health,
		reports:    make(chan CycleReport, 256),
		tap:        ringbuffer.New(tapBytes),
		events:     make(chan Event, 64),
		analyzer:   dsp.NewAnalyzer(8192),
		tapRaw:     make([]byte, tapBytes),
		tapSamples: make([]float64, tapBytes/tapSampleBytes),
		tapScratch: make([]byte, tapBytes),
		history:    make([]ProcessingMetrics, cfg.HistorySize),
		done:       make(chan struct{}),
	}
}

// Start launches the sampling goroutine.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.loop()
}

// Stop halts sampling. Idempotent.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
	m.wg.Wait()
}

// ReportCycle hands over one cycle's numbers. Never blocks; a full queue
// drops the report and counts it.
func (m *Monitor) ReportCycle(r CycleReport) {
	select {
	case m.reports <- r:
	default:
		m.dropped.Add(1)
	}
}

// TapOutput copies output samples into the analysis ring at full float64
// precision. Never blocks; when the ring is full the window is simply
// sparser.
func (m *Monitor) TapOutput(samples []float64) {
	m.tapMu.Lock()
	defer m.tapMu.Unlock()

	need := len(samples) * tapSampleBytes
	if need > len(m.tapScratch) {
		need = len(m.tapScratch)
		samples = samples[:need/tapSampleBytes]
	}
	for i, s := range samples {
		binary.LittleEndian.PutUint64(m.tapScratch[i*tapSampleBytes:], math.Float64bits(s))
	}
	m.tap.Write(m.tapScratch[:need]) // ErrIsFull just drops the tail
}

// Snapshot returns the latest metrics, false before the first window.
func (m *Monitor) Snapshot() (ProcessingMetrics, bool) {
	p := m.snapshot.Load()
	if p == nil {
		return ProcessingMetrics{}, false
	}
	return *p, true
}

// History returns the retained snapshots, oldest first.
func (m *Monitor) History() []ProcessingMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.histFull {
		out := make([]ProcessingMetrics, m.histNext)
		copy(out, m.history[:m.histNext])
		return out
	}
	out := make([]ProcessingMetrics, len(m.history))
	n := copy(out, m.history[m.histNext:])
	copy(out[n:], m.history[:m.histNext])
	return out
}

// Events is the threshold-violation stream consumed by the control plane.
func (m *Monitor) Events() <-chan Event { return m.events }

func (m *Monitor) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

// sample closes one observation window.
func (m *Monitor) sample() {
	var (
		cycles       int
		sumProc      time.Duration
		budget       time.Duration
		maxReduction float64
		aiBypassed   int
		lateCycles   int
	)

drain:
	for {
		select {
		case r := <-m.reports:
			// Out-of-order reports are never folded into metrics.
			if r.Seq <= m.lastSeq {
				continue
			}
			m.lastSeq = r.Seq

			cycles++
			sumProc += r.Processing
			budget = r.Budget
			if r.GainReduction > maxReduction {
				maxReduction = r.GainReduction
			}
			if r.AIBypassed {
				aiBypassed++
			}
			if r.Budget > 0 && r.Processing > r.Budget {
				lateCycles++
			}
		default:
			break drain
		}
	}

	if cycles == 0 {
		return
	}

	out := ProcessingMetrics{
		Latency:       budget,
		GainReduction: maxReduction,
		Timestamp:     time.Now(),
	}

	// Power efficiency: the fraction of each cycle period left unused by
	// processing, smoothed across windows. The only online proxy available
	// without hardware power rails.
	if budget > 0 {
		eff := 1 - float64(sumProc)/float64(cycles)/float64(budget)
		if eff < 0 {
			eff = 0
		}
		if !m.effSeeded {
			m.effEMA = eff
			m.effSeeded = true
		} else {
			m.effEMA = efficiencyAlpha*eff + (1-efficiencyAlpha)*m.effEMA
		}
		out.PowerEfficiency = m.effEMA
	}

	m.analyzeTap(&out)

	if m.health != nil {
		bm := m.health()
		out.BufferUtilization = bm.Utilization
		if bm.Advice == bufpool.AdviceGrow {
			m.emit(Event{Kind: EventBufferRisk, Seq: m.lastSeq,
				Message: "buffer under pressure", Value: bm.UnderrunRisk})
		}
	}

	m.snapshot.Store(&out)
	m.record(out)

	if lateCycles > 0 {
		m.emit(Event{Kind: EventLatencyViolation, Seq: m.lastSeq,
			Message: "cycle deadline missed", Value: float64(lateCycles)})
	}
	if aiBypassed > 0 {
		m.emit(Event{Kind: EventAIBypassed, Seq: m.lastSeq,
			Message: "AI bypassed", Value: float64(aiBypassed)})
	}
	if out.THDN > m.cfg.MaxTHDN {
		m.emit(Event{Kind: EventTHDNExceeded, Seq: m.lastSeq,
			Message: "THD+N above target", Value: out.THDN})
	}
	if out.PowerEfficiency > 0 && out.PowerEfficiency < m.cfg.MinPowerEfficiency {
		m.emit(Event{Kind: EventPowerEfficiency, Seq: m.lastSeq,
			Message: "power efficiency below target", Value: out.PowerEfficiency})
	}
	if out.Latency > m.cfg.MaxLatency {
		m.emit(Event{Kind: EventLatencyViolation, Seq: m.lastSeq,
			Message: "buffer latency above budget", Value: out.Latency.Seconds()})
	}
}

// analyzeTap runs the spectral measurement over whatever output audio
// accumulated since the last window.
func (m *Monitor) analyzeTap(out *ProcessingMetrics) {
	avail := m.tap.Length()
	if avail < tapSampleBytes {
		return
	}
	if avail > len(m.tapRaw) {
		avail = len(m.tapRaw)
	}
	n, err := m.tap.Read(m.tapRaw[:avail])
	if err != nil || n < tapSampleBytes {
		return
	}

	sampleCount := n / tapSampleBytes
	for i := 0; i < sampleCount; i++ {
		m.tapSamples[i] = math.Float64frombits(
			binary.LittleEndian.Uint64(m.tapRaw[i*tapSampleBytes:]))
	}
	m.mono = dsp.MonoMix(m.mono, m.tapSamples[:sampleCount], m.cfg.Channels)
	if len(m.mono) < m.analyzer.WindowSize() {
		return
	}

	analysis := m.analyzer.Measure(m.mono, m.cfg.SampleRate)
	out.THDN = analysis.THDN
	out.SNR = analysis.SNR
}

func (m *Monitor) record(p ProcessingMetrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[m.histNext] = p
	m.histNext++
	if m.histNext == len(m.history) {
		m.histNext = 0
		m.histFull = true
	}
}

func (m *Monitor) emit(e Event) {
	e.Timestamp = time.Now()
	select {
	case m.events <- e:
	default:
		log.Printf("Quality event dropped (queue full): %s %s", e.Kind, e.Message)
	}
}
