// ABOUTME: Second-order (biquad) filter sections, RBJ cookbook coefficients
// ABOUTME: Transposed direct form II with independent per-channel state
package dsp

import "math"

// biquadCoeffs holds one section's normalized coefficients (a0 == 1).
type biquadCoeffs struct {
	b0, b1, b2 float64
	a1, a2     float64
}

// identityCoeffs passes the signal through unchanged.
var identityCoeffs = biquadCoeffs{b0: 1}

// peakingCoeffs computes RBJ peaking-EQ coefficients.
func peakingCoeffs(sampleRate, freq, gainDB, q float64) biquadCoeffs {
	a := math.Pow(10, gainDB/40.0)
	w0 := 2 * math.Pi * freq / sampleRate
	alpha := math.Sin(w0) / (2 * q)
	cosw0 := math.Cos(w0)

	a0 := 1 + alpha/a
	return biquadCoeffs{
		b0: (1 + alpha*a) / a0,
		b1: (-2 * cosw0) / a0,
		b2: (1 - alpha*a) / a0,
		a1: (-2 * cosw0) / a0,
		a2: (1 - alpha/a) / a0,
	}
}

// lowShelfCoeffs computes RBJ low-shelf coefficients.
func lowShelfCoeffs(sampleRate, freq, gainDB, q float64) biquadCoeffs {
	a := math.Pow(10, gainDB/40.0)
	w0 := 2 * math.Pi * freq / sampleRate
	alpha := math.Sin(w0) / (2 * q)
	cosw0 := math.Cos(w0)
	sqrtA := math.Sqrt(a)

	a0 := (a + 1) + (a-1)*cosw0 + 2*sqrtA*alpha
	return biquadCoeffs{
		b0: a * ((a + 1) - (a-1)*cosw0 + 2*sqrtA*alpha) / a0,
		b1: 2 * a * ((a - 1) - (a+1)*cosw0) / a0,
		b2: a * ((a + 1) - (a-1)*cosw0 - 2*sqrtA*alpha) / a0,
		a1: -2 * ((a - 1) + (a+1)*cosw0) / a0,
		a2: ((a + 1) + (a-1)*cosw0 - 2*sqrtA*alpha) / a0,
	}
}

// highShelfCoeffs computes RBJ high-shelf coefficients.
func highShelfCoeffs(sampleRate, freq, gainDB, q float64) biquadCoeffs {
	a := math.Pow(10, gainDB/40.0)
	w0 := 2 * math.Pi * freq / sampleRate
	alpha := math.Sin(w0) / (2 * q)
	cosw0 := math.Cos(w0)
	sqrtA := math.Sqrt(a)

	a0 := (a + 1) - (a-1)*cosw0 + 2*sqrtA*alpha
	return biquadCoeffs{
		b0: a * ((a + 1) + (a-1)*cosw0 + 2*sqrtA*alpha) / a0,
		b1: -2 * a * ((a - 1) + (a+1)*cosw0) / a0,
		b2: a * ((a + 1) + (a-1)*cosw0 - 2*sqrtA*alpha) / a0,
		a1: 2 * ((a - 1) - (a+1)*cosw0) / a0,
		a2: ((a + 1) - (a-1)*cosw0 - 2*sqrtA*alpha) / a0,
	}
}

// biquadState is the two delay registers of one transposed direct form II
// section for one channel.
type biquadState struct {
	z1, z2 float64
}

// process runs one sample through the section.
func (s *biquadState) process(c *biquadCoeffs, x float64) float64 {
	y := c.b0*x + s.z1
	s.z1 = c.b1*x - c.a1*y + s.z2
	s.z2 = c.b2*x - c.a2*y
	return y
}

// processInterleaved runs an interleaved multichannel block through the
// section, one state per channel.
func processInterleaved(c *biquadCoeffs, states []biquadState, samples []float64, channels int) {
	for i := 0; i < len(samples); i += channels {
		for ch := 0; ch < channels; ch++ {
			samples[i+ch] = states[ch].process(c, samples[i+ch])
		}
	}
}
