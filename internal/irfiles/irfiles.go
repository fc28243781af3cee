// ABOUTME: Loads measured impulse responses (HRTF sets, room IRs) from WAV files
// ABOUTME: File naming carries the azimuth; decoding normalizes to float64
package irfiles

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-audio/wav"

	"github.com/tald-unia/unia-go/pkg/dsp"
)

var (
	ErrInvalidIR      = errors.New("irfiles: invalid impulse response file")
	ErrRateMismatch   = errors.New("irfiles: sample rate mismatch")
	ErrNoMeasurements = errors.New("irfiles: no measurement files found")
)

// IR is one decoded impulse response. Mono files carry the same data on
// both channels.
type IR struct {
	SampleRate int
	Left       []float64
	Right      []float64
}

// Load decodes a WAV impulse response. Only mono and stereo files are
// accepted; an IR with more channels is not a meaningful ear pair.
func Load(path string) (IR, error) {
	f, err := os.Open(path)
	if err != nil {
		return IR{}, fmt.Errorf("irfiles: open %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return IR{}, fmt.Errorf("%w: %s is not a valid WAV file", ErrInvalidIR, path)
	}
	if dec.NumChans < 1 || dec.NumChans > 2 {
		return IR{}, fmt.Errorf("%w: %s has %d channels, want 1 or 2", ErrInvalidIR, path, dec.NumChans)
	}

	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return IR{}, fmt.Errorf("irfiles: decode %s: %w", path, err)
	}
	if len(pcm.Data) == 0 {
		return IR{}, fmt.Errorf("%w: %s is empty", ErrInvalidIR, path)
	}

	div, err := divisor(int(dec.BitDepth))
	if err != nil {
		return IR{}, fmt.Errorf("%w: %s: %v", ErrInvalidIR, path, err)
	}

	channels := int(dec.NumChans)
	frames := len(pcm.Data) / channels
	out := IR{
		SampleRate: int(dec.SampleRate),
		Left:       make([]float64, frames),
		Right:      make([]float64, frames),
	}
	for i := 0; i < frames; i++ {
		out.Left[i] = float64(pcm.Data[i*channels]) / div
		if channels == 2 {
			out.Right[i] = float64(pcm.Data[i*channels+1]) / div
		} else {
			out.Right[i] = out.Left[i]
		}
	}
	return out, nil
}

func divisor(bitDepth int) (float64, error) {
	switch bitDepth {
	case 8:
		return 128, nil
	case 16:
		return 32768, nil
	case 24:
		return 8388608, nil
	case 32:
		return 2147483648, nil
	default:
		return 0, fmt.Errorf("unsupported bit depth %d", bitDepth)
	}
}

// LoadHRTFDir builds an HRTF set from a directory of per-azimuth WAV
// measurements. Each file is a stereo left/right ear pair named for its
// azimuth in degrees: az-090.wav, az0.wav, az+030.wav. Files that don't
// follow the convention are skipped with a log line so a stray README
// never fails provisioning.
func LoadHRTFDir(dir string, sampleRate int) (dsp.HRTF, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return dsp.HRTF{}, fmt.Errorf("irfiles: read dir %s: %w", dir, err)
	}

	type measurement struct {
		azimuth float64
		ir      IR
	}
	var ms []measurement

	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".wav") {
			continue
		}
		az, ok := parseAzimuth(e.Name())
		if !ok {
			log.Printf("Skipping %s: name does not carry an azimuth", e.Name())
			continue
		}

		ir, err := Load(filepath.Join(dir, e.Name()))
		if err != nil {
			return dsp.HRTF{}, err
		}
		if ir.SampleRate != sampleRate {
			return dsp.HRTF{}, fmt.Errorf("%w: %s is %d Hz, stream is %d Hz",
				ErrRateMismatch, e.Name(), ir.SampleRate, sampleRate)
		}
		ms = append(ms, measurement{azimuth: az, ir: ir})
	}

	if len(ms) == 0 {
		return dsp.HRTF{}, fmt.Errorf("%w: no azimuth WAV files in %s", ErrNoMeasurements, dir)
	}

	sort.Slice(ms, func(i, j int) bool { return ms[i].azimuth < ms[j].azimuth })

	set := dsp.HRTF{SampleRate: sampleRate}
	for _, m := range ms {
		set.Azimuths = append(set.Azimuths, m.azimuth)
		set.Left = append(set.Left, m.ir.Left)
		set.Right = append(set.Right, m.ir.Right)
	}
	if err := set.Validate(); err != nil {
		return dsp.HRTF{}, err
	}
	log.Printf("Loaded HRTF set from %s: %d azimuths at %d Hz", dir, len(ms), sampleRate)
	return set, nil
}

// parseAzimuth extracts the angle from a measurement file name. The "az"
// prefix is optional, so bare "-90.wav" also works.
func parseAzimuth(name string) (float64, bool) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	base = strings.TrimPrefix(strings.ToLower(base), "az")
	az, err := strconv.ParseFloat(base, 64)
	if err != nil {
		return 0, false
	}
	if az < -180 || az >= 360 {
		return 0, false
	}
	if az >= 180 {
		az -= 360
	}
	return az, true
}

// LoadRoomIR loads a measured room response, downmixing stereo captures
// to mono for the reverb convolver.
func LoadRoomIR(path string, sampleRate int) ([]float64, error) {
	ir, err := Load(path)
	if err != nil {
		return nil, err
	}
	if ir.SampleRate != sampleRate {
		return nil, fmt.Errorf("%w: %s is %d Hz, stream is %d Hz",
			ErrRateMismatch, path, ir.SampleRate, sampleRate)
	}
	mono := make([]float64, len(ir.Left))
	for i := range mono {
		mono[i] = 0.5 * (ir.Left[i] + ir.Right[i])
	}
	return mono, nil
}
