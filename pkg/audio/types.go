package audio

import (
	"fmt"
	"time"
)

// AnalysisBits is the bit depth of the samples consumed by classifiers.
const AnalysisBits = 16

// Format describes the raw sample layout delivered by a [Source].
// A Format is fixed for the lifetime of a source; nothing in the pipeline
// renegotiates it at runtime.
type Format struct {
	// SampleRate in Hz (e.g., 16000).
	SampleRate int

	// Channels is the number of interleaved channels. The capture pipeline
	// only accepts mono (1).
	Channels int

	// BitDepth is the width of one raw sample slot in bits: 24 (packed) or 32.
	BitDepth int
}

// Width returns the size of one raw sample in bytes.
func (f Format) Width() int {
	return f.BitDepth / 8
}

// Validate reports whether f describes a layout the pipeline can decode.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("audio: sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels != 1 {
		return fmt.Errorf("audio: only mono capture is supported, got %d channels", f.Channels)
	}
	if f.BitDepth != 24 && f.BitDepth != 32 {
		return fmt.Errorf("audio: bit depth must be 24 or 32, got %d", f.BitDepth)
	}
	return nil
}

// DefaultShift is the arithmetic right shift that keeps the high-order
// [AnalysisBits] bits of a raw sample.
func (f Format) DefaultShift() uint {
	return uint(f.BitDepth - AnalysisBits)
}

// SamplesIn returns the number of samples covering d at f's sample rate.
func (f Format) SamplesIn(d time.Duration) int {
	return int(int64(f.SampleRate) * int64(d) / int64(time.Second))
}

// String returns a human-readable description, e.g. "16000Hz mono s32le".
func (f Format) String() string {
	return fmt.Sprintf("%dHz %s s%dle", f.SampleRate, formatChannels(f.Channels), f.BitDepth)
}

func formatChannels(channels int) string {
	switch channels {
	case 1:
		return "mono"
	case 2:
		return "stereo"
	default:
		return fmt.Sprintf("%dch", channels)
	}
}
