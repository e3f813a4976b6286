package detector

import (
	"context"
	"time"

	"github.com/MrWong99/micvad/internal/observe"
)

// Event reports one frame classified as voice.
type Event struct {
	// Cycle is the 1-based capture cycle number.
	Cycle uint64

	// Frame is the zero-based frame index within the cycle.
	Frame int

	// Offset is the index of the frame's first sample within the window.
	Offset int

	// At is when the verdict was produced.
	At time.Time
}

// Sink receives voice events. Voice is called synchronously from the capture
// loop and must return quickly.
type Sink interface {
	Voice(ctx context.Context, ev Event)
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(ctx context.Context, ev Event)

// Voice calls f(ctx, ev).
func (f SinkFunc) Voice(ctx context.Context, ev Event) {
	f(ctx, ev)
}

// LogSink logs every event as "voice detected" at info level.
type LogSink struct{}

// Voice implements [Sink].
func (LogSink) Voice(ctx context.Context, ev Event) {
	observe.Logger(ctx).InfoContext(ctx, "voice detected",
		"cycle", ev.Cycle,
		"frame", ev.Frame,
		"offset", ev.Offset,
	)
}
