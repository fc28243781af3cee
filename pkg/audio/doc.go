// Package audio defines the data model shared by every stage of the UNIA
// processing pipeline: stream formats, sequenced sample buffers, device
// capability descriptors and PCM conversion helpers.
//
// The pipeline processes interleaved float64 samples internally and only
// converts to fixed-point PCM at the hardware boundary.
package audio
