//go:build cgo

// Package webrtc provides a VAD engine backed by the WebRTC voice activity
// detector (github.com/maxhawkins/go-webrtcvad).
//
// The detector accepts 10, 20 or 30 ms frames of 16-bit PCM at 8, 16, 32 or
// 48 kHz. Its four aggressiveness modes map one-to-one onto [vad.Mode].
package webrtc

import (
	"fmt"
	"sync"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"github.com/MrWong99/micvad/pkg/audio"
	"github.com/MrWong99/micvad/pkg/provider/vad"
)

// Engine creates WebRTC VAD sessions.
type Engine struct{}

// New returns a WebRTC VAD engine.
func New() *Engine {
	return &Engine{}
}

// NewSession creates and initialises a detector instance, checks that the
// rate and frame length are supported, and applies cfg.Mode.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	inst, err := newInstance(cfg)
	if err != nil {
		return nil, err
	}
	return &Session{
		cfg:       cfg,
		frameSize: cfg.FrameSize(),
		inst:      inst,
		pcm:       make([]byte, cfg.FrameSize()*2),
	}, nil
}

func newInstance(cfg vad.Config) (*webrtcvad.VAD, error) {
	// webrtcvad.New creates and initialises the instance in one call.
	inst, err := webrtcvad.New()
	if err != nil {
		return nil, &vad.SetupError{Stage: vad.StageCreate, Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &vad.SetupError{Stage: vad.StageInit, Err: err}
	}
	if !inst.ValidRateAndFrameLength(cfg.SampleRate, cfg.FrameSize()) {
		return nil, &vad.SetupError{
			Stage: vad.StageInit,
			Err:   fmt.Errorf("unsupported rate %d Hz with %d ms frames", cfg.SampleRate, cfg.FrameSizeMs),
		}
	}
	if err := inst.SetMode(int(cfg.Mode)); err != nil {
		return nil, &vad.SetupError{Stage: vad.StageMode, Err: err}
	}
	return inst, nil
}

// Session is a single WebRTC detector instance.
type Session struct {
	cfg       vad.Config
	frameSize int

	mu     sync.Mutex
	inst   *webrtcvad.VAD
	pcm    []byte
	closed bool
}

// ProcessFrame classifies one frame. A detector processing error yields
// [vad.VerdictNeutral] together with the error.
func (s *Session) ProcessFrame(frame []int16) (vad.Verdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.VerdictNeutral, vad.ErrSessionClosed
	}
	if len(frame) != s.frameSize {
		return vad.VerdictNeutral, fmt.Errorf("%w: got %d samples, want %d", vad.ErrFrameSize, len(frame), s.frameSize)
	}
	s.pcm = audio.PCM16LE(s.pcm, frame)
	active, err := s.inst.Process(s.cfg.SampleRate, s.pcm)
	if err != nil {
		return vad.VerdictNeutral, fmt.Errorf("webrtc: process: %w", err)
	}
	if active {
		return vad.VerdictVoice, nil
	}
	return vad.VerdictSilence, nil
}

// Reset replaces the detector with a freshly configured instance. If that
// fails the current instance is kept.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if inst, err := newInstance(s.cfg); err == nil {
		s.inst = inst
	}
}

// Close releases the detector. The C instance is freed by the binding's
// finalizer once unreachable.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.inst = nil
	return nil
}

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)
