// Package energy provides a pure-Go VAD engine based on frame RMS energy
// with hysteresis. It needs no cgo and serves builds where the WebRTC
// detector is unavailable.
//
// Mode selects the thresholds: more aggressive modes need louder frames and a
// longer run of them before reporting speech, and release sooner.
package energy

import (
	"fmt"
	"math"
	"sync"

	"github.com/MrWong99/micvad/pkg/provider/vad"
)

// thresholds holds the hysteresis parameters for one mode. Levels are RMS
// relative to int16 full scale.
type thresholds struct {
	speech        float64
	silence       float64
	speechFrames  int
	silenceFrames int
}

var modeThresholds = map[vad.Mode]thresholds{
	vad.ModeQuality:        {speech: 0.008, silence: 0.004, speechFrames: 1, silenceFrames: 30},
	vad.ModeLowBitrate:     {speech: 0.012, silence: 0.006, speechFrames: 2, silenceFrames: 25},
	vad.ModeAggressive:     {speech: 0.015, silence: 0.008, speechFrames: 3, silenceFrames: 20},
	vad.ModeVeryAggressive: {speech: 0.025, silence: 0.012, speechFrames: 3, silenceFrames: 15},
}

// Engine creates energy VAD sessions.
type Engine struct{}

// New returns an energy VAD engine.
func New() *Engine {
	return &Engine{}
}

// NewSession validates cfg and returns a session in the silence state.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &vad.SetupError{Stage: vad.StageInit, Err: err}
	}
	th, ok := modeThresholds[cfg.Mode]
	if !ok {
		return nil, &vad.SetupError{Stage: vad.StageMode, Err: fmt.Errorf("no thresholds for %s", cfg.Mode)}
	}
	return &Session{frameSize: cfg.FrameSize(), th: th}, nil
}

// Session tracks the speech/silence state of one stream.
type Session struct {
	frameSize int
	th        thresholds

	mu           sync.Mutex
	inSpeech     bool
	speechCount  int
	silenceCount int
	closed       bool
}

// ProcessFrame updates the hysteresis state with the frame's RMS level and
// returns [vad.VerdictVoice] while in the speech state.
func (s *Session) ProcessFrame(frame []int16) (vad.Verdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.VerdictNeutral, vad.ErrSessionClosed
	}
	if len(frame) != s.frameSize {
		return vad.VerdictNeutral, fmt.Errorf("%w: got %d samples, want %d", vad.ErrFrameSize, len(frame), s.frameSize)
	}

	level := RMS(frame)
	if s.inSpeech {
		if level < s.th.silence {
			s.silenceCount++
			if s.silenceCount >= s.th.silenceFrames {
				s.inSpeech = false
				s.silenceCount = 0
			}
		} else {
			s.silenceCount = 0
		}
	} else {
		if level >= s.th.speech {
			s.speechCount++
			if s.speechCount >= s.th.speechFrames {
				s.inSpeech = true
				s.speechCount = 0
			}
		} else {
			s.speechCount = 0
		}
	}

	if s.inSpeech {
		return vad.VerdictVoice, nil
	}
	return vad.VerdictSilence, nil
}

// Reset returns the session to the silence state.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inSpeech = false
	s.speechCount = 0
	s.silenceCount = 0
}

// Close marks the session closed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// RMS returns the root-mean-square level of samples relative to int16 full
// scale, in [0, 1].
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)
