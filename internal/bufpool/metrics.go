// ABOUTME: Buffer health metrics and grow/shrink advice
// ABOUTME: Underrun risk blends utilization with thermal and memory pressure
package bufpool

import (
	"log"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Risk weights; utilization dominates, platform pressure modulates.
const (
	weightUtilization = 0.45
	weightThermal     = 0.35
	weightMemory      = 0.20
)

// Advice thresholds from the robustness/latency trade-off.
const (
	riskGrowThreshold        = 0.2
	utilizationGrowThreshold = 0.8
)

// Advice is the manager's sizing recommendation.
type Advice int

const (
	AdviceHold Advice = iota
	AdviceGrow
	AdviceShrink
)

func (a Advice) String() string {
	switch a {
	case AdviceGrow:
		return "grow"
	case AdviceShrink:
		return "shrink"
	default:
		return "hold"
	}
}

// BufferMetrics is a point-in-time health snapshot.
type BufferMetrics struct {
	Frames       int
	PoolSize     int
	InFlight     int
	Utilization  float64 // in-flight fraction of the pool, [0, 1]
	UnderrunRisk float64 // [0, 1]
	CycleLatency time.Duration
	Advice       Advice
}

// Monitor computes the current health snapshot. Called from the control
// thread; sensor reads are cached so this stays cheap at 1Hz polling.
func (m *Manager) Monitor() BufferMetrics {
	g := m.gen.Load()

	inFlight := int(g.inFlight.Load())
	if inFlight < 0 {
		inFlight = 0
	}
	utilization := float64(inFlight) / float64(g.total)

	risk := weightUtilization*utilization +
		weightThermal*m.sensors.Thermal() +
		weightMemory*m.sensors.MemoryPressure()
	risk = clamp01(risk)

	cycle := m.format.CycleLatency(g.frames)

	out := BufferMetrics{
		Frames:       g.frames,
		PoolSize:     g.total,
		InFlight:     inFlight,
		Utilization:  utilization,
		UnderrunRisk: risk,
		CycleLatency: cycle,
		Advice:       AdviceHold,
	}

	switch {
	case risk > riskGrowThreshold || utilization > utilizationGrowThreshold:
		// Trade latency for robustness.
		out.Advice = AdviceGrow
	case m.budget > 0 && cycle < m.budget/2:
		// Latency headroom permits running tighter.
		out.Advice = AdviceShrink
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Sensors supplies the platform pressure inputs to the risk estimate, both
// normalized to [0, 1].
type Sensors interface {
	Thermal() float64
	MemoryPressure() float64
}

// Thermal normalization range: below idleTempC contributes nothing, at
// throttleTempC the contribution saturates.
const (
	idleTempC     = 40.0
	throttleTempC = 85.0
	sensorTTL     = 5 * time.Second
)

// systemSensors reads temperatures and memory via gopsutil, cached so
// repeated Monitor calls don't hammer procfs.
type systemSensors struct {
	mu       sync.Mutex
	fetched  time.Time
	thermal  float64
	memory   float64
	warnOnce sync.Once
}

// NewSystemSensors returns the gopsutil-backed sensor source.
func NewSystemSensors() Sensors {
	return &systemSensors{}
}

func (s *systemSensors) refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Since(s.fetched) < sensorTTL {
		return
	}
	s.fetched = time.Now()

	temps, err := host.SensorsTemperatures()
	if err != nil || len(temps) == 0 {
		s.warnOnce.Do(func() {
			log.Printf("No temperature sensors available, thermal pressure assumed zero: %v", err)
		})
		s.thermal = 0
	} else {
		var hottest float64
		for _, t := range temps {
			if t.Temperature > hottest {
				hottest = t.Temperature
			}
		}
		s.thermal = clamp01((hottest - idleTempC) / (throttleTempC - idleTempC))
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		s.memory = 0
	} else {
		s.memory = clamp01(vm.UsedPercent / 100)
	}
}

func (s *systemSensors) Thermal() float64 {
	s.refresh()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thermal
}

func (s *systemSensors) MemoryPressure() float64 {
	s.refresh()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memory
}
