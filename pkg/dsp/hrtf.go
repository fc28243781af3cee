// ABOUTME: HRTF measurement sets and azimuth-based selection/interpolation
// ABOUTME: Includes a spherical-head synthetic set used when no files load
package dsp

import (
	"fmt"
	"math"
	"sort"
)

// HRTF is a set of head-related impulse response pairs indexed by azimuth.
// Elevation handling stays with the external profile collaborator; the
// engine renders on the horizontal plane.
type HRTF struct {
	SampleRate int
	Azimuths   []float64 // degrees in [-180, 180), sorted ascending
	Left       [][]float64
	Right      [][]float64
}

// Validate checks structural sanity of a loaded set.
func (h HRTF) Validate() error {
	if len(h.Azimuths) == 0 || len(h.Azimuths) != len(h.Left) || len(h.Azimuths) != len(h.Right) {
		return fmt.Errorf("%w: HRTF set has mismatched azimuth/IR counts", ErrConfiguration)
	}
	if !sort.Float64sAreSorted(h.Azimuths) {
		return fmt.Errorf("%w: HRTF azimuths must be sorted", ErrConfiguration)
	}
	for i := range h.Left {
		if len(h.Left[i]) == 0 || len(h.Left[i]) != len(h.Right[i]) {
			return fmt.Errorf("%w: HRTF pair %d has mismatched IR lengths", ErrConfiguration, i)
		}
	}
	return nil
}

// Select returns the impulse pair for an azimuth, linearly interpolating
// between the two nearest measurements.
func (h HRTF) Select(azimuth float64) (left, right []float64) {
	az := wrapDegrees(azimuth)

	n := len(h.Azimuths)
	// Find the first measurement at or above the requested angle.
	hi := sort.SearchFloat64s(h.Azimuths, az)
	lo := hi - 1
	if hi == n {
		hi = 0 // wrap around
	}
	if lo < 0 {
		lo = n - 1
	}

	a, b := h.Azimuths[lo], h.Azimuths[hi]
	span := wrapDegrees(b - a)
	if span <= 0 {
		span += 360
	}
	off := wrapDegrees(az - a)
	if off < 0 {
		off += 360
	}
	t := off / span
	if t > 1 {
		t = 1
	}
	if lo == hi || t <= 0 {
		return h.Left[lo], h.Right[lo]
	}

	irLen := len(h.Left[lo])
	if len(h.Left[hi]) > irLen {
		irLen = len(h.Left[hi])
	}
	left = make([]float64, irLen)
	right = make([]float64, irLen)
	for i := 0; i < irLen; i++ {
		left[i] = lerpAt(h.Left[lo], i)*(1-t) + lerpAt(h.Left[hi], i)*t
		right[i] = lerpAt(h.Right[lo], i)*(1-t) + lerpAt(h.Right[hi], i)*t
	}
	return left, right
}

func lerpAt(ir []float64, i int) float64 {
	if i < len(ir) {
		return ir[i]
	}
	return 0
}

func wrapDegrees(deg float64) float64 {
	for deg >= 180 {
		deg -= 360
	}
	for deg < -180 {
		deg += 360
	}
	return deg
}

// SyntheticHRTF builds a spherical-head model set: interaural time delay by
// the Woodworth formula and a level difference for head shadow. It stands
// in when no measured HRTF files are provisioned.
func SyntheticHRTF(sampleRate int) HRTF {
	const (
		stepDeg    = 30
		headRadius = 0.0875 // meters
		speedSound = 343.0  // m/s
		irLen      = 64
	)

	var set HRTF
	set.SampleRate = sampleRate

	for az := -180; az < 180; az += stepDeg {
		rad := float64(az) * math.Pi / 180

		// Woodworth ITD: the far ear hears later.
		itd := headRadius / speedSound * (math.Abs(rad) + math.Abs(math.Sin(rad)))
		delaySamples := itd * float64(sampleRate)

		// Head shadow: gentle level difference toward the far ear.
		shadow := 0.25 * math.Abs(math.Sin(rad))

		left := make([]float64, irLen)
		right := make([]float64, irLen)
		if az >= 0 {
			// source to the right: left ear delayed and shadowed
			placeImpulse(right, 0, 1.0)
			placeImpulse(left, delaySamples, 1.0-shadow)
		} else {
			placeImpulse(left, 0, 1.0)
			placeImpulse(right, delaySamples, 1.0-shadow)
		}

		set.Azimuths = append(set.Azimuths, float64(az))
		set.Left = append(set.Left, left)
		set.Right = append(set.Right, right)
	}
	return set
}

// placeImpulse writes a unit impulse at a fractional sample offset using
// linear interpolation between the two neighboring taps.
func placeImpulse(ir []float64, offset, gain float64) {
	i := int(offset)
	frac := offset - float64(i)
	if i < len(ir) {
		ir[i] += gain * (1 - frac)
	}
	if i+1 < len(ir) && frac > 0 {
		ir[i+1] += gain * frac
	}
}
