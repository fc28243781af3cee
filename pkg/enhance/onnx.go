// ABOUTME: ONNX Runtime enhancement backend with a lazily initialized session
// ABOUTME: Fixed [1, frames, 1] tensors are allocated once and reused per call
package enhance

import (
	"context"
	"fmt"
	"math"
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var ortEnvOnce sync.Once
var ortEnvErr error

// ensureOrtEnv initializes the process-wide ONNX runtime environment once.
func ensureOrtEnv() error {
	ortEnvOnce.Do(func() {
		if path := os.Getenv("UNIA_ORT_LIB"); path != "" {
			ort.SetSharedLibraryPath(path)
		}
		ortEnvErr = ort.InitializeEnvironment()
	})
	return ortEnvErr
}

// ONNXConfig locates and shapes the local enhancement model.
type ONNXConfig struct {
	ModelPath string
	Version   string

	// Frames is the fixed per-cycle sample count (frameCount in the
	// [1, frameCount, 1] input contract).
	Frames int

	// ConfidenceOutput names an optional second model output holding a
	// [1, 1] confidence score. Empty means the model reports none and
	// every result carries confidence 1.
	ConfidenceOutput string
}

// ONNXEnhancer runs a local enhancement model through ONNX Runtime. The
// session and its tensors are created once on first use and reused; a
// mutex serializes calls since the gate never overlaps them anyway.
type ONNXEnhancer struct {
	cfg ONNXConfig

	sessionOnce sync.Once
	sessionErr  error
	session     *ort.AdvancedSession
	input       *ort.Tensor[float32]
	output      *ort.Tensor[float32]
	confidence  *ort.Tensor[float32]

	mu sync.Mutex
}

// NewONNXEnhancer validates the configuration; the session itself loads
// lazily on the first Enhance call.
func NewONNXEnhancer(cfg ONNXConfig) (*ONNXEnhancer, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("%w: no model path", ErrModelUnavailable)
	}
	if cfg.Frames <= 0 {
		return nil, fmt.Errorf("%w: frame count %d", ErrModelUnavailable, cfg.Frames)
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	if cfg.Version == "" {
		cfg.Version = "unknown"
	}
	return &ONNXEnhancer{cfg: cfg}, nil
}

// ModelVersion implements Enhancer.
func (e *ONNXEnhancer) ModelVersion() string { return e.cfg.Version }

// InputShape implements Enhancer.
func (e *ONNXEnhancer) InputShape() [3]int64 {
	return [3]int64{1, int64(e.cfg.Frames), 1}
}

func (e *ONNXEnhancer) loadSession() error {
	e.sessionOnce.Do(func() {
		if err := ensureOrtEnv(); err != nil {
			e.sessionErr = fmt.Errorf("%w: runtime init: %v", ErrModelUnavailable, err)
			return
		}

		options, err := ort.NewSessionOptions()
		if err != nil {
			e.sessionErr = fmt.Errorf("%w: session options: %v", ErrModelUnavailable, err)
			return
		}
		defer options.Destroy()

		// Inference shares the machine with the audio thread; keep the
		// runtime off most cores.
		intraOp := runtime.NumCPU() / 2
		if intraOp < 1 {
			intraOp = 1
		}
		if err := options.SetIntraOpNumThreads(intraOp); err != nil {
			e.sessionErr = fmt.Errorf("%w: intra-op threads: %v", ErrModelUnavailable, err)
			return
		}
		if err := options.SetInterOpNumThreads(1); err != nil {
			e.sessionErr = fmt.Errorf("%w: inter-op threads: %v", ErrModelUnavailable, err)
			return
		}

		shape := ort.NewShape(1, int64(e.cfg.Frames), 1)
		e.input, err = ort.NewEmptyTensor[float32](shape)
		if err != nil {
			e.sessionErr = fmt.Errorf("%w: input tensor: %v", ErrModelUnavailable, err)
			return
		}
		e.output, err = ort.NewEmptyTensor[float32](shape)
		if err != nil {
			e.sessionErr = fmt.Errorf("%w: output tensor: %v", ErrModelUnavailable, err)
			return
		}

		inputNames := []string{"audio"}
		outputNames := []string{"enhanced"}
		inputs := []ort.ArbitraryTensor{e.input}
		outputs := []ort.ArbitraryTensor{e.output}

		if e.cfg.ConfidenceOutput != "" {
			e.confidence, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
			if err != nil {
				e.sessionErr = fmt.Errorf("%w: confidence tensor: %v", ErrModelUnavailable, err)
				return
			}
			outputNames = append(outputNames, e.cfg.ConfidenceOutput)
			outputs = append(outputs, e.confidence)
		}

		e.session, err = ort.NewAdvancedSession(
			e.cfg.ModelPath, inputNames, outputNames, inputs, outputs, options)
		if err != nil {
			e.sessionErr = fmt.Errorf("%w: session: %v", ErrModelUnavailable, err)
			return
		}
	})
	return e.sessionErr
}

// Enhance implements Enhancer. The sample count must match the configured
// frame contract.
func (e *ONNXEnhancer) Enhance(ctx context.Context, samples []float32) (Result, error) {
	if err := e.loadSession(); err != nil {
		return Result{}, err
	}
	if len(samples) != e.cfg.Frames {
		return Result{}, fmt.Errorf("%w: got %d samples, model expects %d",
			ErrShapeMismatch, len(samples), e.cfg.Frames)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var inRMS float64
	in := e.input.GetData()
	for i, s := range samples {
		in[i] = s
		inRMS += float64(s) * float64(s)
	}

	if err := e.session.Run(); err != nil {
		return Result{}, fmt.Errorf("enhance: inference failed: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	out := e.output.GetData()
	enhanced := make([]float32, len(samples))
	var outRMS float64
	for i := range enhanced {
		enhanced[i] = out[i]
		outRMS += float64(out[i]) * float64(out[i])
	}

	res := Result{Samples: enhanced, Confidence: 1}
	if inRMS > 0 {
		res.Gain = 20 * math.Log10(math.Sqrt(outRMS)/math.Sqrt(inRMS))
	}
	if e.confidence != nil {
		if data := e.confidence.GetData(); len(data) > 0 {
			res.Confidence = float64(data[0])
		}
	}
	return res, nil
}

// Close releases the session and its tensors.
func (e *ONNXEnhancer) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
	for _, t := range []*ort.Tensor[float32]{e.input, e.output, e.confidence} {
		if t != nil {
			t.Destroy()
		}
	}
	e.input, e.output, e.confidence = nil, nil, nil
	return nil
}
