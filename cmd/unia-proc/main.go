// ABOUTME: Offline processing CLI: runs a WAV file through the full chain
// ABOUTME: Captures the rendered stream and writes it back out as WAV
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alecthomas/kong"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tald-unia/unia-go/internal/hardware"
	"github.com/tald-unia/unia-go/internal/irfiles"
	"github.com/tald-unia/unia-go/pkg/audio"
	"github.com/tald-unia/unia-go/pkg/audio/output"
	"github.com/tald-unia/unia-go/pkg/dsp"
	"github.com/tald-unia/unia-go/pkg/engine"
	"github.com/tald-unia/unia-go/pkg/enhance"
)

var version = "0.1.0"

// CLI defines the command-line interface.
type CLI struct {
	Version bool   `short:"v" help:"Show version information"`
	Input   string `arg:"" optional:"" type:"existingfile" help:"Input WAV file"`
	Output  string `short:"o" default:"enhanced.wav" help:"Output WAV file"`

	Frames int `default:"256" help:"Processing buffer size in frames (power of two, 64-1024)"`

	EQ           []string `name:"eq" help:"Enable an EQ band as index:freq:gain:q (repeatable, index 0-30)"`
	NoCompressor bool     `help:"Disable the dynamics stage"`
	Threshold    float64  `default:"-18" help:"Compressor threshold in dBFS"`
	Ratio        float64  `default:"3" help:"Compressor ratio"`

	NoRoomCorrection bool    `help:"Disable room correction"`
	RoomSize         float64 `default:"30" help:"Room size for correction, 1-100"`
	ReverbTime       float64 `default:"0.4" help:"Room reverb time in seconds"`

	NoSpatial bool   `help:"Disable spatial rendering"`
	HRTFDir   string `name:"hrtf-dir" type:"existingdir" help:"Directory of per-azimuth HRTF WAV measurements"`

	Model           string  `type:"existingfile" help:"ONNX enhancement model path"`
	ModelConfidence float64 `default:"0.5" help:"Minimum confidence to apply AI output"`
	ModelFrames     int     `default:"0" help:"Model frame contract (defaults to --frames)"`
}

func main() {
	cli := &CLI{}
	ctx := kong.Parse(cli,
		kong.Name("unia-proc"),
		kong.Description("Offline audio enhancement processor"),
		kong.UsageOnError(),
	)

	if cli.Version {
		fmt.Printf("unia-proc %s\n", version)
		os.Exit(0)
	}
	if cli.Input == "" {
		fmt.Fprintln(os.Stderr, "no input file specified")
		ctx.PrintUsage(false)
		os.Exit(1)
	}

	if err := run(cli); err != nil {
		fmt.Fprintf(os.Stderr, "unia-proc: %v\n", err)
		os.Exit(1)
	}
}

func run(cli *CLI) error {
	format, samples, err := readWAV(cli.Input)
	if err != nil {
		return err
	}
	log.Printf("Input: %dHz %d-bit %dch, %d frames",
		format.SampleRate, format.BitDepth, format.Channels,
		len(samples)/format.Channels)

	caps := hardware.Fallback()
	cfg := engine.Config{
		SampleRate:   format.SampleRate,
		BitDepth:     format.BitDepth,
		Channels:     format.Channels,
		BufferFrames: cli.Frames,
	}

	if cli.HRTFDir != "" {
		set, err := irfiles.LoadHRTFDir(cli.HRTFDir, format.SampleRate)
		if err != nil {
			return err
		}
		cfg.HRTF = set
	}

	var model *enhance.ONNXEnhancer
	if cli.Model != "" {
		frames := cli.ModelFrames
		if frames <= 0 {
			frames = cli.Frames
		}
		model, err = enhance.NewONNXEnhancer(enhance.ONNXConfig{
			ModelPath: cli.Model,
			Version:   cli.Model,
			Frames:    frames,
		})
		if err != nil {
			return err
		}
		defer model.Close()
		cfg.AI = &engine.AIConfig{Enhancer: model, MinConfidence: cli.ModelConfidence}
	}

	// The source stays gated until every flag has been applied so the
	// first buffers don't render with default stage parameters.
	src := &gatedSource{inner: &engine.SliceSource{Samples: samples}}
	sink := output.NewNull()
	e := engine.New(caps, src, sink)

	e.UpdateParams(func(p *engine.Params) {
		p.EqualizerEnabled = len(cli.EQ) > 0
		p.CompressorEnabled = !cli.NoCompressor
		p.RoomCorrectionEnabled = !cli.NoRoomCorrection
		p.SpatialEnabled = !cli.NoSpatial
		p.AIEnabled = model != nil
	})

	eff, err := e.Configure(cfg)
	if err != nil {
		return err
	}
	if err := e.Start(); err != nil {
		return err
	}

	if err := applyStageFlags(cli, e); err != nil {
		e.Stop()
		return err
	}
	src.ready.Store(true)

	// Offline mode: the engine drains the source and stops itself.
	waitStopped(e)

	if err := writeWAV(cli.Output, eff.Format, sink.Captured()); err != nil {
		return err
	}
	log.Printf("Wrote %s", cli.Output)

	printMetrics(e)
	return nil
}

func applyStageFlags(cli *CLI, e *engine.Engine) error {
	for _, spec := range cli.EQ {
		index, freq, gain, q, err := parseBand(spec)
		if err != nil {
			return err
		}
		if err := e.Equalizer().UpdateBand(index, freq, gain, q); err != nil {
			return fmt.Errorf("--eq %s: %w", spec, err)
		}
		if err := e.Equalizer().SetBandEnabled(index, true); err != nil {
			return fmt.Errorf("--eq %s: %w", spec, err)
		}
	}

	if !cli.NoCompressor {
		p := e.Compressor().Params()
		p.ThresholdDB = cli.Threshold
		p.Ratio = cli.Ratio
		if err := e.Compressor().SetParams(p); err != nil {
			return fmt.Errorf("compressor: %w", err)
		}
	}

	if !cli.NoRoomCorrection {
		if err := e.RoomCorrection().SetParams(dsp.RoomCorrectionParams{
			RoomSize:   cli.RoomSize,
			ReverbTime: cli.ReverbTime,
			Enabled:    true,
		}); err != nil {
			return fmt.Errorf("room correction: %w", err)
		}
	}
	return nil
}

// parseBand parses index:freq:gain:q.
func parseBand(spec string) (index int, freq, gain, q float64, err error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("--eq %q: want index:freq:gain:q", spec)
	}
	index, err = strconv.Atoi(parts[0])
	if err == nil {
		freq, err = strconv.ParseFloat(parts[1], 64)
	}
	if err == nil {
		gain, err = strconv.ParseFloat(parts[2], 64)
	}
	if err == nil {
		q, err = strconv.ParseFloat(parts[3], 64)
	}
	if err != nil {
		return 0, 0, 0, 0, fmt.Errorf("--eq %q: %w", spec, err)
	}
	return index, freq, gain, q, nil
}

// gatedSource delivers nothing until released.
type gatedSource struct {
	inner engine.Source
	ready atomic.Bool
}

func (g *gatedSource) Read(buf *audio.Buffer) (int, error) {
	if !g.ready.Load() {
		return 0, nil
	}
	return g.inner.Read(buf)
}

func waitStopped(e *engine.Engine) {
	for e.State() != engine.Stopped {
		time.Sleep(10 * time.Millisecond)
	}
}

func printMetrics(e *engine.Engine) {
	m, ok := e.Metrics()
	if !ok {
		history := e.MetricsHistory()
		if len(history) == 0 {
			fmt.Println("No metrics collected (stream shorter than one monitor interval)")
			return
		}
		m = history[len(history)-1]
	}
	fmt.Printf("Latency:          %.2f ms\n", m.Latency.Seconds()*1000)
	fmt.Printf("THD+N:            %.6f %%\n", m.THDN*100)
	fmt.Printf("SNR:              %.1f dB\n", m.SNR)
	fmt.Printf("Power efficiency: %.1f %%\n", m.PowerEfficiency*100)
	fmt.Printf("Gain reduction:   %.2f dB\n", m.GainReduction)
}

// readWAV decodes a whole file to interleaved float64.
func readWAV(path string) (audio.Format, []float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return audio.Format{}, nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return audio.Format{}, nil, fmt.Errorf("%s is not a valid WAV file", path)
	}

	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return audio.Format{}, nil, fmt.Errorf("decode %s: %w", path, err)
	}

	div, err := pcmDivisor(int(dec.BitDepth))
	if err != nil {
		return audio.Format{}, nil, err
	}

	format := audio.Format{
		SampleRate:  int(dec.SampleRate),
		BitDepth:    int(dec.BitDepth),
		Channels:    int(dec.NumChans),
		Interleaved: true,
	}
	samples := make([]float64, len(pcm.Data))
	for i, v := range pcm.Data {
		samples[i] = float64(v) / div
	}
	return format, samples, nil
}

func pcmDivisor(bitDepth int) (float64, error) {
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

// writeWAV encodes interleaved float64 at the stream format.
func writeWAV(path string, format audio.Format, samples []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	mul, err := pcmDivisor(format.BitDepth)
	if err != nil {
		return err
	}

	data := make([]int, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		data[i] = int(s * (mul - 1))
	}

	enc := wav.NewEncoder(f, format.SampleRate, format.BitDepth, format.Channels, 1)
	if err := enc.Write(&goaudio.IntBuffer{
		Data:   data,
		Format: &goaudio.Format{SampleRate: format.SampleRate, NumChannels: format.Channels},
	}); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return enc.Close()
}
