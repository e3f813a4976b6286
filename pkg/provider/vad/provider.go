// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech classifier (e.g., WebRTC VAD or an
// energy detector) and surfaces it as a stateful session. The session's
// internal state evolves with every classified frame, so a session must be
// driven by exactly one owner, strictly sequentially, for its whole lifetime.
//
// VAD is synchronous by design: ProcessFrame returns immediately with a
// verdict, making it suitable for the capture loop that feeds it.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle must not be shared across goroutines.
package vad

import (
	"fmt"
	"slices"
)

// Mode is the aggressiveness of voice/non-voice discrimination. Higher modes
// are more restrictive in reporting speech, trading missed speech for fewer
// false positives.
type Mode int

const (
	// ModeQuality is the least aggressive mode.
	ModeQuality Mode = iota

	// ModeLowBitrate is tuned for low-bitrate links.
	ModeLowBitrate

	// ModeAggressive rejects more non-speech.
	ModeAggressive

	// ModeVeryAggressive is the most aggressive mode.
	ModeVeryAggressive
)

var modeNames = map[Mode]string{
	ModeQuality:        "quality",
	ModeLowBitrate:     "low_bitrate",
	ModeAggressive:     "aggressive",
	ModeVeryAggressive: "very_aggressive",
}

// String returns the configuration name of m.
func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	_, ok := modeNames[m]
	return ok
}

// ParseMode maps a configuration name to a [Mode].
func ParseMode(s string) (Mode, error) {
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("vad: unknown mode %q; valid values: quality, low_bitrate, aggressive, very_aggressive", s)
}

// SupportedFrameMs lists the frame durations classifiers accept.
var SupportedFrameMs = []int{10, 20, 30}

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// frames passed to ProcessFrame. Common values: 8000, 16000, 32000, 48000.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds.
	// ProcessFrame returns [ErrFrameSize] if the supplied frame does not
	// match this size.
	FrameSizeMs int

	// Mode selects the aggressiveness.
	Mode Mode
}

// FrameSize returns the number of samples in one frame.
func (c Config) FrameSize() int {
	return c.SampleRate * c.FrameSizeMs / 1000
}

// Validate checks the configuration independent of any engine.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("vad: sample rate must be positive, got %d", c.SampleRate)
	}
	if !slices.Contains(SupportedFrameMs, c.FrameSizeMs) {
		return fmt.Errorf("vad: frame size %d ms is unsupported; valid values: 10, 20, 30", c.FrameSizeMs)
	}
	if !c.Mode.IsValid() {
		return fmt.Errorf("vad: invalid mode %d", int(c.Mode))
	}
	return nil
}

// SessionHandle represents an active VAD session for a single audio stream. It
// is an interface so that test code can supply mock implementations without a
// live engine.
type SessionHandle interface {
	// ProcessFrame classifies exactly one frame of analysis samples. The frame
	// length must equal Config.FrameSize(); any other length returns
	// [ErrFrameSize] without touching session state.
	//
	// This method is called synchronously in the capture loop; it must not
	// block.
	ProcessFrame(frame []int16) (Verdict, error)

	// Reset clears accumulated detection state without closing the session.
	Reset()

	// Close releases all resources associated with the session. After Close,
	// ProcessFrame returns [ErrSessionClosed]. Calling Close more than once is
	// safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may call
// NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates, initialises and configures a new session. Any
	// failure is reported as a [*SetupError] naming the failed stage; a
	// partially set up session is released before returning and never handed
	// to the caller.
	NewSession(cfg Config) (SessionHandle, error)
}
