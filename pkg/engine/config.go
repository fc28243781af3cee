// ABOUTME: Engine configuration and hardware negotiation
// ABOUTME: Effective values may differ from requested; callers re-read them
package engine

import (
	"fmt"
	"time"

	"github.com/tald-unia/unia-go/internal/bufpool"
	"github.com/tald-unia/unia-go/pkg/audio"
	"github.com/tald-unia/unia-go/pkg/dsp"
	"github.com/tald-unia/unia-go/pkg/enhance"
)

// System-wide quality budgets the pipeline is held to.
const (
	DefaultLatencyBudget      = 10 * time.Millisecond
	DefaultTHDNTarget         = 0.000005 // 0.0005%
	DefaultMinPowerEfficiency = 0.90
)

// degradeStreak is how many consecutive late cycles trigger automatic
// degradation of the chain.
const degradeStreak = 5

// AIConfig wires an optional enhancement backend into the chain.
type AIConfig struct {
	Enhancer enhance.Enhancer

	// DeadlineFraction of the cycle budget granted to inference.
	// Defaults to 0.25.
	DeadlineFraction float64

	// MinConfidence below which results are discarded.
	MinConfidence float64
}

// Config is the requested engine setup. Zero quality fields take the
// system defaults.
type Config struct {
	SampleRate   int
	BitDepth     int
	Channels     int
	BufferFrames int

	// RealTime paces cycles to the wall clock; off, the engine processes
	// as fast as the source delivers (offline rendering).
	RealTime bool

	LatencyBudget      time.Duration
	THDNTarget         float64
	MinPowerEfficiency float64
	MonitorInterval    time.Duration

	// PoolOptions customize the buffer manager (sensor source, pool depth).
	PoolOptions []bufpool.Option

	// HRTF supplies a measured set for the spatial stage. Empty selects
	// the synthetic spherical-head model.
	HRTF dsp.HRTF

	AI *AIConfig
}

func (c Config) withDefaults() Config {
	if c.LatencyBudget <= 0 {
		c.LatencyBudget = DefaultLatencyBudget
	}
	if c.THDNTarget <= 0 {
		c.THDNTarget = DefaultTHDNTarget
	}
	if c.MinPowerEfficiency <= 0 {
		c.MinPowerEfficiency = DefaultMinPowerEfficiency
	}
	if c.AI != nil && c.AI.DeadlineFraction <= 0 {
		c.AI.DeadlineFraction = 0.25
	}
	return c
}

// EffectiveConfig is the negotiated result; values may differ from the
// request (nearest supported) and callers must re-read them.
type EffectiveConfig struct {
	Format       audio.Format
	BufferFrames int
	CycleBudget  time.Duration
}

// negotiate maps a request onto the codec's capabilities. Requests beyond
// the hardware envelope fail with ErrHardware carrying requested versus
// supported values; requests inside it are moved to the nearest supported
// configuration.
func negotiate(caps audio.DeviceCapabilities, cfg Config) (EffectiveConfig, error) {
	if len(caps.SampleRates) == 0 {
		return EffectiveConfig{}, fmt.Errorf("%w: device reports no sample rates", ErrHardware)
	}

	maxRate := caps.SampleRates[0]
	for _, r := range caps.SampleRates[1:] {
		if r > maxRate {
			maxRate = r
		}
	}
	if cfg.SampleRate > maxRate {
		return EffectiveConfig{}, fmt.Errorf("%w: sample rate %d Hz exceeds device max %d Hz (supported: %v)",
			ErrHardware, cfg.SampleRate, maxRate, caps.SampleRates)
	}

	if !bufpool.ValidFrames(cfg.BufferFrames) {
		return EffectiveConfig{}, fmt.Errorf("%w: %d frames (want power of two in [%d, %d])",
			bufpool.ErrInvalidSize, cfg.BufferFrames, bufpool.MinFrames, bufpool.MaxFrames)
	}

	rate := caps.NearestRate(cfg.SampleRate)

	bitDepth := cfg.BitDepth
	if bitDepth <= 0 {
		bitDepth = caps.MaxBitDepth
	}
	if bitDepth > caps.MaxBitDepth {
		bitDepth = caps.MaxBitDepth
	}

	channels := cfg.Channels
	if channels <= 0 {
		channels = 2
	}
	if channels > caps.MaxChannels {
		channels = caps.MaxChannels
	}

	format := audio.Format{
		SampleRate:  rate,
		BitDepth:    bitDepth,
		Channels:    channels,
		Interleaved: true,
	}

	cycle := format.CycleLatency(cfg.BufferFrames)
	if cycle > cfg.LatencyBudget {
		return EffectiveConfig{}, fmt.Errorf("%w: %d frames at %d Hz needs %v, budget is %v",
			ErrHardware, cfg.BufferFrames, rate, cycle, cfg.LatencyBudget)
	}

	// Device baseline must leave the budgets reachable at all.
	if caps.BaselineLatency > cfg.LatencyBudget {
		return EffectiveConfig{}, fmt.Errorf("%w: device baseline latency %v exceeds %v budget",
			ErrHardware, caps.BaselineLatency, cfg.LatencyBudget)
	}
	if caps.BaselineTHDN > cfg.THDNTarget {
		return EffectiveConfig{}, fmt.Errorf("%w: device baseline THD+N %.6f%% above %.6f%% target",
			ErrHardware, caps.BaselineTHDN*100, cfg.THDNTarget*100)
	}

	return EffectiveConfig{
		Format:       format,
		BufferFrames: cfg.BufferFrames,
		CycleBudget:  cycle,
	}, nil
}
