// ABOUTME: Engine lifecycle and pipeline tests against a capturing sink
// ABOUTME: Covers the state machine, AI fail-open and end-to-end processing
package engine

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tald-unia/unia-go/internal/bufpool"
	"github.com/tald-unia/unia-go/pkg/audio/output"
	"github.com/tald-unia/unia-go/pkg/enhance/fake"
)

// quietSensors pins platform pressure to zero so tests never trigger
// degradation from the host machine's actual state.
type quietSensors struct{}

func (quietSensors) Thermal() float64        { return 0 }
func (quietSensors) MemoryPressure() float64 { return 0 }

func testConfig() Config {
	return Config{
		SampleRate:      48000,
		BitDepth:        16,
		Channels:        2,
		BufferFrames:    256,
		MonitorInterval: 20 * time.Millisecond,
		PoolOptions:     []bufpool.Option{bufpool.WithSensors(quietSensors{})},
	}
}

// sineSlice builds interleaved stereo test material.
func sineSlice(frames int, freq float64, rate int) []float64 {
	out := make([]float64, frames*2)
	for f := 0; f < frames; f++ {
		s := 0.5 * math.Sin(2*math.Pi*freq*float64(f)/float64(rate))
		out[f*2] = s
		out[f*2+1] = s
	}
	return out
}

func waitForState(t *testing.T, e *Engine, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("engine never reached %s, stuck at %s", want, e.State())
}

func TestStartWithoutConfigure(t *testing.T) {
	e := New(testCaps(), &SineSource{Frequency: 440, Amplitude: 0.5}, output.NewNull())
	require.ErrorIs(t, e.Start(), ErrNotConfigured)
	assert.Equal(t, Idle, e.State(), "failed start rolls back to Idle")
}

func TestConfigureHardwareErrorKeepsIdle(t *testing.T) {
	e := New(testCaps(), &SineSource{Frequency: 440, Amplitude: 0.5}, output.NewNull())

	cfg := testConfig()
	cfg.SampleRate = 500000
	_, err := e.Configure(cfg)
	require.ErrorIs(t, err, ErrHardware)
	assert.Equal(t, Idle, e.State())

	// The engine is still usable with a valid request.
	_, err = e.Configure(testConfig())
	require.NoError(t, err)
}

func TestStartOnRunningIsError(t *testing.T) {
	e := New(testCaps(), &SineSource{Frequency: 440, Amplitude: 0.5}, output.NewNull())
	_, err := e.Configure(testConfig())
	require.NoError(t, err)
	require.NoError(t, e.Start())
	defer e.Stop()

	require.ErrorIs(t, e.Start(), ErrAlreadyRunning)
}

func TestOfflineRunDrainsSourceAndStops(t *testing.T) {
	sink := output.NewNull()
	src := &SliceSource{Samples: sineSlice(256*10, 1000, 48000)}
	e := New(testCaps(), src, sink)

	_, err := e.Configure(testConfig())
	require.NoError(t, err)
	require.NoError(t, e.Start())

	waitForState(t, e, Stopped)
	assert.Equal(t, 10, sink.Writes(), "ten full buffers pushed to hardware")
	assert.Greater(t, sink.LastSeq(), uint64(0))
}

func TestStopIsIdempotentFromAnyState(t *testing.T) {
	e := New(testCaps(), &SineSource{Frequency: 440, Amplitude: 0.5}, output.NewNull())
	_, err := e.Configure(testConfig())
	require.NoError(t, err)
	require.NoError(t, e.Start())

	e.Stop()
	e.Stop()
	assert.Equal(t, Stopped, e.State())

	// Stopped engines don't restart.
	require.ErrorIs(t, e.Start(), ErrInvalidState)
}

func TestStopNeverStartedEngine(t *testing.T) {
	e := New(testCaps(), &SineSource{Frequency: 440, Amplitude: 0.5}, output.NewNull())
	e.Stop()
	assert.Equal(t, Stopped, e.State())
}

func TestSuspendResume(t *testing.T) {
	sink := output.NewNull()
	cfg := testConfig()
	cfg.RealTime = true
	e := New(testCaps(), &SineSource{Frequency: 440, Amplitude: 0.5}, sink)

	_, err := e.Configure(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Start())
	defer e.Stop()

	require.NoError(t, e.Suspend())
	waitForState(t, e, Suspended)

	// Writes stall while suspended.
	stalled := sink.Writes()
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, sink.Writes(), stalled+1, "at most the in-flight cycle completes")

	require.ErrorIs(t, e.Suspend(), ErrInvalidState)

	require.NoError(t, e.Resume())
	waitForState(t, e, Running)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && sink.Writes() <= stalled+1 {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Greater(t, sink.Writes(), stalled+1, "stream resumes after Resume")
}

func TestResumeWhileRunningIsError(t *testing.T) {
	e := New(testCaps(), &SineSource{Frequency: 440, Amplitude: 0.5}, output.NewNull())
	_, err := e.Configure(testConfig())
	require.NoError(t, err)
	require.NoError(t, e.Start())
	defer e.Stop()

	require.ErrorIs(t, e.Resume(), ErrInvalidState)
}

// allStagesOff disables the DSP chain so the pipeline is a pure copy path.
func allStagesOff(e *Engine) {
	e.UpdateParams(func(p *Params) {
		p.EqualizerEnabled = false
		p.CompressorEnabled = false
		p.RoomCorrectionEnabled = false
		p.SpatialEnabled = false
	})
}

func TestSlowAIEnhancerFailsOpen(t *testing.T) {
	slow := fake.New()
	slow.Delay = 500 * time.Millisecond
	slow.Gain = 3.0 // would be audible if ever applied

	sink := output.NewNull()
	input := sineSlice(256*4, 1000, 48000)
	cfg := testConfig()
	cfg.AI = &AIConfig{Enhancer: slow, MinConfidence: 0.5}

	e := New(testCaps(), &SliceSource{Samples: append([]float64(nil), input...)}, sink)
	allStagesOff(e)
	_, err := e.Configure(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Start())
	waitForState(t, e, Stopped)

	// Output equals the pre-AI-stage signal exactly; no error surfaced.
	got := sink.Captured()
	require.Len(t, got, len(input))
	for i := range input {
		require.Equal(t, input[i], got[i], "sample %d", i)
	}
}

func TestConfidentAIEnhancerApplies(t *testing.T) {
	enh := fake.New()
	enh.Gain = 0.5
	enh.Confidence = 0.9

	sink := output.NewNull()
	input := sineSlice(256*4, 1000, 48000)
	cfg := testConfig()
	cfg.AI = &AIConfig{Enhancer: enh, MinConfidence: 0.5}

	e := New(testCaps(), &SliceSource{Samples: append([]float64(nil), input...)}, sink)
	allStagesOff(e)
	_, err := e.Configure(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Start())
	waitForState(t, e, Stopped)

	got := sink.Captured()
	require.Len(t, got, len(input))
	for i := range input {
		want := float64(float32(input[i]) * 0.5)
		require.InDelta(t, want, got[i], 1e-6, "sample %d", i)
	}
}

func TestFullChainKeepsStreamAlive(t *testing.T) {
	sink := output.NewNull()
	src := &SliceSource{Samples: sineSlice(256*20, 1000, 48000)}
	e := New(testCaps(), src, sink)

	_, err := e.Configure(testConfig())
	require.NoError(t, err)
	require.NoError(t, e.Start())

	// Exercise the parameter APIs while the stream runs.
	require.NoError(t, e.Equalizer().UpdateBand(5, 1000, 3, 1.2))
	require.NoError(t, e.Equalizer().SetBandEnabled(5, true))
	p := e.Compressor().Params()
	p.ThresholdDB = -24
	require.NoError(t, e.Compressor().SetParams(p))

	waitForState(t, e, Stopped)
	assert.Equal(t, 20, sink.Writes())

	// Output stays bounded; the chain never blew up the signal.
	for i, s := range sink.Captured() {
		require.LessOrEqual(t, math.Abs(s), 2.0, "sample %d", i)
	}
}

func TestMetricsSnapshotAppears(t *testing.T) {
	sink := output.NewNull()
	cfg := testConfig()
	cfg.RealTime = true
	e := New(testCaps(), &SineSource{Frequency: 1000, Amplitude: 0.5}, sink)

	_, err := e.Configure(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Start())
	defer e.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m, ok := e.Metrics(); ok {
			assert.Equal(t, e.eff.CycleBudget, m.Latency)
			assert.False(t, m.Timestamp.IsZero())
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("monitor never produced a snapshot")
}
