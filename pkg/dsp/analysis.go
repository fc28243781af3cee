// ABOUTME: Online signal analysis used by stages and the quality monitor
// ABOUTME: THD+N and SNR via FFT peak search plus least-squares sine fit
package dsp

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// DistortionAnalysis is the result of one spectral measurement window.
type DistortionAnalysis struct {
	THDN        float64 // ratio of non-fundamental energy to fundamental
	SNR         float64 // dB
	Fundamental float64 // Hz of the detected fundamental
	RMS         float64 // linear RMS of the analyzed window
}

// silenceFloor is the RMS below which a window is treated as silence and
// reported as distortion-free.
const silenceFloor = 1e-9

// maxSNR caps the reported signal-to-noise ratio in dB.
const maxSNR = 120.0

// Analyzer performs repeated THD+N measurements over fixed-size windows
// without per-call allocation. It is not safe for concurrent use; the
// monitor owns one, stages that self-measure own their own.
type Analyzer struct {
	fft    *fourier.FFT
	n      int
	window []float64 // precomputed Hann
	work   []float64
	coeffs []complex128
}

// NewAnalyzer creates an analyzer for windows of n samples. n is rounded
// down to a power of two, with a floor of 64.
func NewAnalyzer(n int) *Analyzer {
	size := 64
	for size*2 <= n {
		size *= 2
	}

	window := make([]float64, size)
	for i := range window {
		window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(size-1)))
	}

	return &Analyzer{
		fft:    fourier.NewFFT(size),
		n:      size,
		window: window,
		work:   make([]float64, size),
		coeffs: make([]complex128, size/2+1),
	}
}

// WindowSize returns the number of samples consumed per measurement.
func (a *Analyzer) WindowSize() int { return a.n }

// Measure analyzes the first WindowSize() samples of a mono signal.
func (a *Analyzer) Measure(samples []float64, sampleRate int) DistortionAnalysis {
	if len(samples) < a.n {
		return DistortionAnalysis{}
	}

	var sumSq float64
	for i := 0; i < a.n; i++ {
		a.work[i] = samples[i] * a.window[i]
		sumSq += samples[i] * samples[i]
	}
	rms := math.Sqrt(sumSq / float64(a.n))
	if rms < silenceFloor {
		return DistortionAnalysis{SNR: 120.0, RMS: rms}
	}

	a.coeffs = a.fft.Coefficients(a.coeffs, a.work)

	// Coarse peak search over the windowed spectrum, skipping DC.
	peak, peakPower := 1, 0.0
	for i := 1; i < len(a.coeffs); i++ {
		re, im := real(a.coeffs[i]), imag(a.coeffs[i])
		if p := re*re + im*im; p > peakPower {
			peak, peakPower = i, p
		}
	}
	if peakPower <= 0 {
		return DistortionAnalysis{SNR: maxSNR, RMS: rms}
	}

	// A tone that is not bin-centered leaks across the whole spectrum, so
	// bin bookkeeping would read leakage as distortion. Instead, fit
	// A*sin + B*cos + DC to the raw window by least squares and refine the
	// frequency within +/-1 bin of the peak; the fit's unexplained energy
	// is exactly the harmonics-plus-noise residual.
	lo, hi := float64(peak)-1, float64(peak)+1
	if lo < 0.5 {
		lo = 0.5
	}
	if limit := float64(a.n)/2 - 0.5; hi > limit {
		hi = limit
	}
	for i := 0; i < 64; i++ {
		m1 := lo + (hi-lo)/3
		m2 := hi - (hi-lo)/3
		if a.fitAt(samples, m1).residual <= a.fitAt(samples, m2).residual {
			hi = m2
		} else {
			lo = m1
		}
	}
	bins := (lo + hi) / 2
	fit := a.fitAt(samples, bins)

	out := DistortionAnalysis{
		Fundamental: bins * float64(sampleRate) / float64(a.n),
		RMS:         rms,
	}
	if fit.fundamental > 0 {
		out.THDN = math.Sqrt(fit.residual / fit.fundamental)
		switch {
		case fit.residual <= 0:
			out.SNR = maxSNR
		default:
			out.SNR = 10 * math.Log10(fit.fundamental/fit.residual)
			if out.SNR > maxSNR {
				out.SNR = maxSNR
			}
		}
	}
	return out
}

// sineFit is one least-squares solution: the energy the fitted sinusoid
// explains and the energy it leaves behind.
type sineFit struct {
	fundamental float64
	residual    float64
}

// fitAt solves the least-squares fit of A*sin + B*cos + DC over the window
// at a trial frequency given in bin units.
func (a *Analyzer) fitAt(samples []float64, bins float64) sineFit {
	step := 2 * math.Pi * bins / float64(a.n)
	cosStep, sinStep := math.Cos(step), math.Sin(step)

	var ss, cc, sc, s1, c1 float64
	var xs, xc, x1, xx float64
	s, c := 0.0, 1.0
	for i := 0; i < a.n; i++ {
		// Re-seed the rotation periodically so recurrence error cannot
		// accumulate over long windows.
		if i&0xFF == 0 {
			s, c = math.Sincos(step * float64(i))
		}
		x := samples[i]
		ss += s * s
		cc += c * c
		sc += s * c
		s1 += s
		c1 += c
		xs += x * s
		xc += x * c
		x1 += x
		xx += x * x
		s, c = s*cosStep+c*sinStep, c*cosStep-s*sinStep
	}

	// Normal equations, 3x3 by Cramer's rule.
	n := float64(a.n)
	det := ss*(cc*n-c1*c1) - sc*(sc*n-c1*s1) + s1*(sc*c1-cc*s1)
	if math.Abs(det) < 1e-12 {
		return sineFit{residual: xx}
	}
	ba := (xs*(cc*n-c1*c1) - sc*(xc*n-c1*x1) + s1*(xc*c1-cc*x1)) / det
	bb := (ss*(xc*n-c1*x1) - xs*(sc*n-c1*s1) + s1*(sc*x1-xc*s1)) / det
	bc := (ss*(cc*x1-xc*c1) - sc*(sc*x1-xs*c1) + xs*(sc*c1-cc*s1)) / det

	residual := xx - (ba*xs + bb*xc + bc*x1)
	if residual < 0 {
		residual = 0
	}
	return sineFit{
		fundamental: ba*ba*ss + 2*ba*bb*sc + bb*bb*cc,
		residual:    residual,
	}
}

// MonoMix downmixes an interleaved block into dst (len(samples)/channels
// samples) by channel averaging.
func MonoMix(dst, samples []float64, channels int) []float64 {
	frames := len(samples) / channels
	if cap(dst) < frames {
		dst = make([]float64, frames)
	}
	dst = dst[:frames]
	inv := 1.0 / float64(channels)
	for f := 0; f < frames; f++ {
		var sum float64
		for ch := 0; ch < channels; ch++ {
			sum += samples[f*channels+ch]
		}
		dst[f] = sum * inv
	}
	return dst
}
