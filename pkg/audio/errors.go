package audio

import "errors"

var (
	ErrUnsupportedFormat = errors.New("audio: format not supported by device")
	ErrFormatMismatch    = errors.New("audio: buffer format mismatch")
)
