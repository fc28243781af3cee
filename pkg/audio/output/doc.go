// Package output provides hardware output sinks for the processing engine:
// an oto-backed device sink for live playback and a capturing null sink for
// offline runs and tests.
package output
