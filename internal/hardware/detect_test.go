// ABOUTME: Tests for capability derivation from malgo device descriptors
// ABOUTME: Real enumeration is not assumed; CI machines are headless
package hardware

import (
	"testing"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/stretchr/testify/assert"

	"github.com/tald-unia/unia-go/pkg/audio"
)

func TestCapsFromInfoCollectsNativeFormats(t *testing.T) {
	var info malgo.DeviceInfo
	info.FormatCount = 3
	info.Formats = []malgo.DataFormat{
		{Format: malgo.FormatS16, Channels: 2, SampleRate: 48000},
		{Format: malgo.FormatS24, Channels: 2, SampleRate: 96000},
		{Format: malgo.FormatS16, Channels: 8, SampleRate: 48000},
	}

	caps := capsFromInfo(&info)
	assert.Equal(t, []int{48000, 96000}, caps.SampleRates)
	assert.Equal(t, 8, caps.MaxChannels)
	assert.Equal(t, 24, caps.MaxBitDepth)
}

func TestCapsFromInfoFallsBackToStandardRates(t *testing.T) {
	var info malgo.DeviceInfo

	caps := capsFromInfo(&info)
	assert.Equal(t, standardRates, caps.SampleRates)
	assert.Equal(t, 2, caps.MaxChannels, "no format info means assume stereo")
}

func TestCapsFromInfoTruncatedFormatList(t *testing.T) {
	// A descriptor can declare more formats than its list carries; the
	// derivation must stay within the list it actually has.
	var info malgo.DeviceInfo
	info.FormatCount = 5
	info.Formats = []malgo.DataFormat{{Format: malgo.FormatS16, Channels: 2, SampleRate: 44100}}

	caps := capsFromInfo(&info)
	assert.Equal(t, []int{44100}, caps.SampleRates)
	assert.Equal(t, 2, caps.MaxChannels)
}

func TestCapsFromInfoDropsOutOfRangeRates(t *testing.T) {
	var info malgo.DeviceInfo
	info.FormatCount = 2
	info.Formats = []malgo.DataFormat{
		{Channels: 2, SampleRate: 8000}, // telephony rate
		{Channels: 2, SampleRate: 48000},
	}

	caps := capsFromInfo(&info)
	assert.Equal(t, []int{48000}, caps.SampleRates)
}

func TestFallbackIsUsableForNegotiation(t *testing.T) {
	caps := Fallback()
	assert.NoError(t, audio.Format{
		SampleRate:  caps.NearestRate(48000),
		BitDepth:    caps.MaxBitDepth,
		Channels:    2,
		Interleaved: true,
	}.Validate(caps))
	assert.Greater(t, caps.BaselineTHDN, 0.0)
	assert.Greater(t, caps.BaselineLatency, time.Duration(0))
}
