// ABOUTME: Codec capability detection through malgo/miniaudio enumeration
// ABOUTME: Falls back to a static descriptor on headless machines
package hardware

import (
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/tald-unia/unia-go/pkg/audio"
)

// Baselines assumed for consumer codecs when the platform exposes no
// measured values. Conservative enough that negotiation never promises
// what the DAC cannot deliver.
const (
	assumedBaselineTHDN    = 0.000001 // 0.0001%
	assumedBaselineLatency = time.Millisecond
)

// standardRates probed when a device does not enumerate native formats.
var standardRates = []int{44100, 48000, 88200, 96000, 176400, 192000, 384000}

// Detect enumerates playback devices and derives the default device's
// capabilities. Re-run only on device reconnect; the result is read-only
// afterwards.
func Detect() (audio.DeviceCapabilities, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return audio.DeviceCapabilities{}, fmt.Errorf("hardware: context init failed: %w", err)
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	infos, err := ctx.Devices(malgo.Playback)
	if err != nil {
		return audio.DeviceCapabilities{}, fmt.Errorf("hardware: device enumeration failed: %w", err)
	}
	if len(infos) == 0 {
		return audio.DeviceCapabilities{}, fmt.Errorf("hardware: no playback devices")
	}

	// Prefer the default device; otherwise take the first.
	chosen := infos[0]
	for i := range infos {
		if infos[i].IsDefault != 0 {
			chosen = infos[i]
			break
		}
	}

	caps := capsFromInfo(&chosen)
	log.Printf("Detected codec %q: rates %v, %d-bit, %d channels",
		chosen.Name(), caps.SampleRates, caps.MaxBitDepth, caps.MaxChannels)
	return caps, nil
}

func capsFromInfo(info *malgo.DeviceInfo) audio.DeviceCapabilities {
	rateSet := map[int]bool{}
	maxChannels := 0

	for i := uint32(0); i < info.FormatCount && i < uint32(len(info.Formats)); i++ {
		f := info.Formats[i]
		if f.SampleRate > 0 {
			rateSet[int(f.SampleRate)] = true
		}
		if int(f.Channels) > maxChannels {
			maxChannels = int(f.Channels)
		}
	}

	var rates []int
	for r := range rateSet {
		if r >= audio.MinSampleRate && r <= audio.MaxSampleRate {
			rates = append(rates, r)
		}
	}
	sort.Ints(rates)

	// Devices that report no native formats get the standard probe set.
	if len(rates) == 0 {
		rates = append(rates, standardRates...)
	}
	if maxChannels == 0 {
		maxChannels = 2
	}
	if maxChannels > audio.MaxChannels {
		maxChannels = audio.MaxChannels
	}

	return audio.DeviceCapabilities{
		SampleRates:     rates,
		MaxBitDepth:     24,
		MaxChannels:     maxChannels,
		BaselineTHDN:    assumedBaselineTHDN,
		BaselineLatency: assumedBaselineLatency,
	}
}

// Fallback is the static descriptor used when no audio backend is
// available (CI, headless render jobs).
func Fallback() audio.DeviceCapabilities {
	return audio.DeviceCapabilities{
		SampleRates:     []int{44100, 48000, 96000, 192000},
		MaxBitDepth:     24,
		MaxChannels:     2,
		BaselineTHDN:    assumedBaselineTHDN,
		BaselineLatency: assumedBaselineLatency,
	}
}

// DetectOrFallback tries the hardware and quietly degrades to the static
// descriptor.
func DetectOrFallback() audio.DeviceCapabilities {
	caps, err := Detect()
	if err != nil {
		log.Printf("Hardware detection unavailable, using fallback capabilities: %v", err)
		return Fallback()
	}
	return caps
}
