// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that sessions are created with the expected Config, or
// to fail session setup. Use Session to script verdicts and inspect the frames
// that were submitted for processing.
//
// Example:
//
//	sess := &mock.Session{
//	    Verdicts: map[int]vad.Verdict{3: vad.VerdictVoice},
//	}
//	eng := &mock.Engine{Session: sess}
//	handle, _ := eng.NewSession(cfg)
package mock

import (
	"sync"

	"github.com/MrWong99/micvad/pkg/provider/vad"
)

// NewSessionCall records a single invocation of Engine.NewSession.
type NewSessionCall struct {
	// Cfg is the Config passed to NewSession.
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by NewSession. If nil, NewSession
	// returns a new default Session.
	Session vad.SessionHandle

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	// Wrap it in a *vad.SetupError to emulate a real engine.
	NewSessionErr error

	// NewSessionCalls records every call to NewSession in order.
	NewSessionCalls []NewSessionCall
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{FrameSize: cfg.FrameSize()}, nil
}

// Calls returns the number of NewSession calls. Thread-safe.
func (e *Engine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.NewSessionCalls)
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

// Session is a mock implementation of vad.SessionHandle.
type Session struct {
	mu sync.Mutex

	// FrameSize, if positive, makes ProcessFrame reject frames of any other
	// length with vad.ErrFrameSize, like a real engine.
	FrameSize int

	// Verdicts maps a zero-based call index to the verdict returned for that
	// call. Calls without an entry return Default.
	Verdicts map[int]vad.Verdict

	// Default is returned for calls not listed in Verdicts. Its zero value is
	// vad.VerdictNeutral.
	Default vad.Verdict

	// ProcessFrameErr, if non-nil, is returned by every ProcessFrame call.
	ProcessFrameErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// Frames holds a copy of every frame passed to ProcessFrame in order.
	Frames [][]int16

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// ProcessFrame records a copy of frame and returns the scripted verdict.
func (s *Session) ProcessFrame(frame []int16) (vad.Verdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FrameSize > 0 && len(frame) != s.FrameSize {
		return vad.VerdictNeutral, vad.ErrFrameSize
	}
	idx := len(s.Frames)
	cp := make([]int16, len(frame))
	copy(cp, frame)
	s.Frames = append(s.Frames, cp)
	if s.ProcessFrameErr != nil {
		return vad.VerdictNeutral, s.ProcessFrameErr
	}
	if v, ok := s.Verdicts[idx]; ok {
		return v, nil
	}
	return s.Default, nil
}

// Reset records the call by incrementing ResetCallCount.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// ProcessedFrames returns a snapshot of the recorded frames. Thread-safe.
func (s *Session) ProcessedFrames() [][]int16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]int16, len(s.Frames))
	copy(out, s.Frames)
	return out
}

// Ensure Session implements vad.SessionHandle at compile time.
var _ vad.SessionHandle = (*Session)(nil)
