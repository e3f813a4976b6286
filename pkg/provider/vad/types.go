package vad

import (
	"errors"
	"fmt"
)

// Verdict is the classification of a single frame.
type Verdict int

const (
	// VerdictNeutral means the classifier could not decide (e.g. an internal
	// processing error). It is never treated as speech.
	VerdictNeutral Verdict = iota

	// VerdictSilence means no voice activity in the frame.
	VerdictSilence

	// VerdictVoice means voice activity in the frame.
	VerdictVoice
)

// String returns the human-readable name of the verdict.
func (v Verdict) String() string {
	switch v {
	case VerdictSilence:
		return "SILENCE"
	case VerdictVoice:
		return "VOICE"
	default:
		return "NEUTRAL"
	}
}

var (
	// ErrFrameSize is returned by ProcessFrame for a frame of the wrong length.
	ErrFrameSize = errors.New("vad: frame size mismatch")

	// ErrSessionClosed is returned by ProcessFrame after Close.
	ErrSessionClosed = errors.New("vad: session closed")

	// ErrEngineUnavailable is returned by engines that are not compiled into
	// this binary.
	ErrEngineUnavailable = errors.New("vad: engine unavailable")
)

// SetupStage names the step of session setup that failed.
type SetupStage string

const (
	StageCreate SetupStage = "create"
	StageInit   SetupStage = "init"
	StageMode   SetupStage = "mode"
)

// SetupError reports a failure to create, initialise or configure a session.
type SetupError struct {
	Stage SetupStage
	Err   error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("vad: session %s failed: %v", e.Stage, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}
