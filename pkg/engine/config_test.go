// ABOUTME: Tests for hardware negotiation
// ABOUTME: Covers nearest-value mapping and the hardware rejection scenarios
package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tald-unia/unia-go/internal/bufpool"
	"github.com/tald-unia/unia-go/pkg/audio"
)

func testCaps() audio.DeviceCapabilities {
	return audio.DeviceCapabilities{
		SampleRates:     []int{44100, 48000, 96000, 192000},
		MaxBitDepth:     24,
		MaxChannels:     2,
		BaselineTHDN:    0.000001,
		BaselineLatency: time.Millisecond,
	}
}

func TestNegotiateExactRequest(t *testing.T) {
	eff, err := negotiate(testCaps(), Config{
		SampleRate: 192000, BitDepth: 24, Channels: 2, BufferFrames: 256,
		LatencyBudget: DefaultLatencyBudget, THDNTarget: DefaultTHDNTarget,
	})
	require.NoError(t, err)
	assert.Equal(t, 192000, eff.Format.SampleRate)
	assert.Equal(t, 256, eff.BufferFrames)

	// 256/192000 is about 1.33ms, inside the 10ms budget.
	assert.InDelta(t, 256.0/192000.0, eff.CycleBudget.Seconds(), 1e-9)
	assert.Less(t, eff.CycleBudget, 10*time.Millisecond)
}

func TestNegotiateNearestRate(t *testing.T) {
	eff, err := negotiate(testCaps(), Config{
		SampleRate: 88000, BitDepth: 24, Channels: 2, BufferFrames: 256,
		LatencyBudget: DefaultLatencyBudget, THDNTarget: DefaultTHDNTarget,
	})
	require.NoError(t, err)
	assert.Equal(t, 96000, eff.Format.SampleRate, "effective value is the nearest supported")
}

func TestNegotiateRateBeyondHardware(t *testing.T) {
	_, err := negotiate(testCaps(), Config{
		SampleRate: 500000, BitDepth: 24, Channels: 2, BufferFrames: 256,
		LatencyBudget: DefaultLatencyBudget, THDNTarget: DefaultTHDNTarget,
	})
	require.ErrorIs(t, err, ErrHardware)
	assert.Contains(t, err.Error(), "500000", "diagnostics carry the requested value")
	assert.Contains(t, err.Error(), "192000", "diagnostics carry the supported values")
}

func TestNegotiateInvalidBufferSize(t *testing.T) {
	for _, frames := range []int{333, 0, 32, 2048} {
		_, err := negotiate(testCaps(), Config{
			SampleRate: 48000, BitDepth: 16, Channels: 2, BufferFrames: frames,
			LatencyBudget: DefaultLatencyBudget, THDNTarget: DefaultTHDNTarget,
		})
		require.ErrorIs(t, err, bufpool.ErrInvalidSize, "frames %d", frames)
	}
}

func TestNegotiateClampsBitDepthAndChannels(t *testing.T) {
	eff, err := negotiate(testCaps(), Config{
		SampleRate: 48000, BitDepth: 32, Channels: 8, BufferFrames: 256,
		LatencyBudget: DefaultLatencyBudget, THDNTarget: DefaultTHDNTarget,
	})
	require.NoError(t, err)
	assert.Equal(t, 24, eff.Format.BitDepth)
	assert.Equal(t, 2, eff.Format.Channels)
}

func TestNegotiateCycleBeyondBudget(t *testing.T) {
	// 1024 frames at 44.1kHz is ~23ms, over the 10ms budget.
	_, err := negotiate(testCaps(), Config{
		SampleRate: 44100, BitDepth: 16, Channels: 2, BufferFrames: 1024,
		LatencyBudget: DefaultLatencyBudget, THDNTarget: DefaultTHDNTarget,
	})
	require.ErrorIs(t, err, ErrHardware)
}

func TestNegotiateBaselineValidation(t *testing.T) {
	noisy := testCaps()
	noisy.BaselineTHDN = 0.001
	_, err := negotiate(noisy, Config{
		SampleRate: 48000, BitDepth: 16, Channels: 2, BufferFrames: 256,
		LatencyBudget: DefaultLatencyBudget, THDNTarget: DefaultTHDNTarget,
	})
	require.ErrorIs(t, err, ErrHardware)

	slow := testCaps()
	slow.BaselineLatency = 50 * time.Millisecond
	_, err = negotiate(slow, Config{
		SampleRate: 48000, BitDepth: 16, Channels: 2, BufferFrames: 256,
		LatencyBudget: DefaultLatencyBudget, THDNTarget: DefaultTHDNTarget,
	})
	require.ErrorIs(t, err, ErrHardware)
}

func TestLatencyAcrossAllBufferSizes(t *testing.T) {
	for _, frames := range []int{64, 128, 256, 512, 1024} {
		for _, rate := range []int{48000, 96000, 192000} {
			f := audio.Format{SampleRate: rate, BitDepth: 24, Channels: 2}
			latency := f.CycleLatency(frames)
			if float64(frames)/float64(rate) <= 0.010 {
				assert.LessOrEqual(t, latency, 10*time.Millisecond,
					"%d frames at %dHz", frames, rate)
			}
		}
	}
}
