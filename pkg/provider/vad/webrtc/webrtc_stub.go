//go:build !cgo

package webrtc

import "github.com/MrWong99/micvad/pkg/provider/vad"

// Engine is the WebRTC VAD engine; without cgo it cannot create sessions.
type Engine struct{}

// New returns a WebRTC VAD engine.
func New() *Engine {
	return &Engine{}
}

// NewSession always fails without cgo.
func (e *Engine) NewSession(vad.Config) (vad.SessionHandle, error) {
	return nil, &vad.SetupError{Stage: vad.StageCreate, Err: vad.ErrEngineUnavailable}
}

var _ vad.Engine = (*Engine)(nil)
