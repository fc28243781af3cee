// ABOUTME: Streaming FFT convolution (overlap-add) for impulse responses
// ABOUTME: Precomputes the IR spectrum; per-block work is two transforms
package dsp

import (
	"fmt"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Convolver convolves a stream with a fixed impulse response using
// overlap-add. One instance handles one mono stream; it carries the
// inter-block tail as state. Not safe for concurrent use.
type Convolver struct {
	fft    *fourier.FFT
	n      int
	block  int
	irLen  int
	irFreq []complex128

	work   []float64
	coeffs []complex128
	out    []float64
	tail   []float64
}

// NewConvolver prepares streaming convolution of block-sized chunks with ir.
func NewConvolver(ir []float64, block int) (*Convolver, error) {
	if len(ir) == 0 {
		return nil, fmt.Errorf("%w: empty impulse response", ErrConfiguration)
	}
	if block <= 0 {
		return nil, fmt.Errorf("%w: block size %d", ErrConfiguration, block)
	}

	n := 1
	for n < block+len(ir)-1 {
		n <<= 1
	}

	fft := fourier.NewFFT(n)

	padded := make([]float64, n)
	copy(padded, ir)
	irFreq := fft.Coefficients(nil, padded)

	return &Convolver{
		fft:    fft,
		n:      n,
		block:  block,
		irLen:  len(ir),
		irFreq: irFreq,
		work:   make([]float64, n),
		coeffs: make([]complex128, n/2+1),
		out:    make([]float64, n),
		tail:   make([]float64, n),
	}, nil
}

// Process convolves one block. src may be shorter than the block size on
// the final chunk; dst must have the same length as src.
func (c *Convolver) Process(dst, src []float64) error {
	if len(src) > c.block {
		return fmt.Errorf("%w: chunk of %d exceeds block size %d", ErrConfiguration, len(src), c.block)
	}

	for i := range c.work {
		c.work[i] = 0
	}
	copy(c.work, src)

	c.coeffs = c.fft.Coefficients(c.coeffs, c.work)
	for i := range c.coeffs {
		c.coeffs[i] *= c.irFreq[i]
	}
	c.out = c.fft.Sequence(c.out, c.coeffs)

	// Sequence returns the inverse scaled by n.
	scale := 1.0 / float64(c.n)
	for i := range src {
		dst[i] = c.out[i]*scale + c.tail[i]
	}

	// Slide the tail: what this block contributes beyond its own length.
	carry := c.irLen - 1
	for i := 0; i < carry; i++ {
		var prev float64
		if i+len(src) < c.n {
			prev = c.out[i+len(src)] * scale
		}
		if i+len(src) < len(c.tail) {
			prev += c.tail[i+len(src)]
		}
		c.tail[i] = prev
	}
	for i := carry; i < len(c.tail); i++ {
		c.tail[i] = 0
	}

	return nil
}

// Reset clears inter-block state.
func (c *Convolver) Reset() {
	for i := range c.tail {
		c.tail[i] = 0
	}
}

// Latency returns the convolution's algorithmic latency in samples
// (overlap-add adds none beyond the block itself).
func (c *Convolver) Latency() int { return 0 }
