// ABOUTME: Sample conversion between the float64 pipeline and wire PCM
// ABOUTME: Handles 16-bit and 24-bit little-endian encode/decode with clamping
package audio

import "encoding/binary"

// SampleToInt16 converts a normalized float64 sample to 16-bit PCM,
// clamping out-of-range values.
func SampleToInt16(s float64) int16 {
	if s > 1.0 {
		s = 1.0
	} else if s < -1.0 {
		s = -1.0
	}
	return int16(s * 32767.0)
}

// SampleFromInt16 converts a 16-bit PCM sample to the normalized float range.
func SampleFromInt16(s int16) float64 {
	return float64(s) / 32768.0
}

// SampleTo24Bit converts a normalized float64 sample to 24-bit packed bytes
// (little-endian), clamping out-of-range values.
func SampleTo24Bit(s float64) [3]byte {
	// Clamp in float: converting an out-of-range float to int32 first is
	// implementation-defined.
	if s > 1.0 {
		s = 1.0
	} else if s < -1.0 {
		s = -1.0
	}
	v := int32(s * 8388607.0)
	return [3]byte{byte(v), byte(v >> 8), byte(v >> 16)}
}

// SampleFrom24Bit converts 24-bit packed bytes (little-endian) to the
// normalized float range.
func SampleFrom24Bit(b [3]byte) float64 {
	v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	if v&0x800000 != 0 {
		v |= ^int32(0xFFFFFF) // sign extend from 24-bit
	}
	return float64(v) / 8388608.0
}

// EncodePCM encodes normalized samples as little-endian PCM at the format's
// bit depth. dst must hold len(samples)*BitDepth/8 bytes; the written byte
// count is returned.
func EncodePCM(dst []byte, samples []float64, bitDepth int) int {
	switch bitDepth {
	case 24:
		for i, s := range samples {
			b := SampleTo24Bit(s)
			dst[i*3] = b[0]
			dst[i*3+1] = b[1]
			dst[i*3+2] = b[2]
		}
		return len(samples) * 3
	default: // 16-bit
		for i, s := range samples {
			binary.LittleEndian.PutUint16(dst[i*2:], uint16(SampleToInt16(s)))
		}
		return len(samples) * 2
	}
}

// DecodePCM decodes little-endian PCM bytes into normalized samples.
// dst must hold len(data)/(BitDepth/8) samples; the sample count is returned.
func DecodePCM(dst []float64, data []byte, bitDepth int) int {
	switch bitDepth {
	case 24:
		n := len(data) / 3
		for i := 0; i < n; i++ {
			dst[i] = SampleFrom24Bit([3]byte{data[i*3], data[i*3+1], data[i*3+2]})
		}
		return n
	default: // 16-bit
		n := len(data) / 2
		for i := 0; i < n; i++ {
			dst[i] = SampleFromInt16(int16(binary.LittleEndian.Uint16(data[i*2:])))
		}
		return n
	}
}
