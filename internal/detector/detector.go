// Package detector runs the capture cycle: fill a window of analysis samples,
// slice it into fixed-size frames, classify each frame with a VAD session, and
// report every frame classified as voice to a [Sink].
//
// A [Detector] owns its classifier session exclusively and drives everything
// from the goroutine that calls [Detector.Run]. Other goroutines may only
// observe it through [Detector.Status].
//
// Lifecycle:
//
//	Uninitialized --Setup ok--> Ready --Run--> Running --ctx done / EOF--> Stopped
//	Uninitialized --Setup err-> Fatal
//
// Fatal is terminal. The caller is expected to restart the process.
package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/micvad/internal/observe"
	"github.com/MrWong99/micvad/pkg/audio"
	"github.com/MrWong99/micvad/pkg/provider/vad"
)

// ErrFatal marks a failure the detector cannot recover from in-process.
var ErrFatal = errors.New("detector: fatal")

// DefaultWindow is the capture window length.
const DefaultWindow = 500 * time.Millisecond

// State is the lifecycle state of a [Detector].
type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateRunning
	StateFatal
	StateStopped
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateFatal:
		return "fatal"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Filler fills a window with analysis samples. It returns len(dst) on success
// and 0 with the read error on failure. [capture.Assembler] implements it.
type Filler interface {
	Fill(ctx context.Context, dst []int16) (int, error)
}

// Config holds the detector parameters.
type Config struct {
	// Classifier configures the VAD session. Its SampleRate also sizes the
	// window.
	Classifier vad.Config

	// Window is the duration of one capture cycle. Default: [DefaultWindow].
	Window time.Duration
}

// WindowSamples returns the number of analysis samples per cycle.
func (c Config) WindowSamples() int {
	w := c.Window
	if w <= 0 {
		w = DefaultWindow
	}
	return int(int64(c.Classifier.SampleRate) * int64(w) / int64(time.Second))
}

// Status is a point-in-time snapshot of a detector.
type Status struct {
	State       State
	Cycles      uint64
	Frames      uint64
	VoiceFrames uint64

	// LastCycle is when the most recent cycle completed. Zero before the
	// first cycle.
	LastCycle time.Time
}

// Detector is the capture and classification loop.
type Detector struct {
	fill    Filler
	engine  vad.Engine
	cfg     Config
	sink    Sink
	metrics *observe.Metrics
	now     func() time.Time

	// Owned by the Run goroutine after Setup.
	session   vad.SessionHandle
	buf       []int16
	frameSize int

	state     atomic.Int32
	cycles    atomic.Uint64
	frames    atomic.Uint64
	voice     atomic.Uint64
	lastCycle atomic.Int64
}

// Option is a functional option for [New].
type Option func(*Detector)

// WithSink sets the receiver of voice events. Default: [LogSink].
func WithSink(s Sink) Option {
	return func(d *Detector) {
		d.sink = s
	}
}

// WithMetrics records cycle metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Detector) {
		d.metrics = m
	}
}

// WithClock overrides the time source used for event timestamps and status.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		d.now = now
	}
}

// New returns an uninitialised detector. Call [Detector.Setup] before
// [Detector.Run].
func New(fill Filler, engine vad.Engine, cfg Config, opts ...Option) *Detector {
	d := &Detector{
		fill:   fill,
		engine: engine,
		cfg:    cfg,
		sink:   LogSink{},
		now:    time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// Setup allocates the sample window and creates the classifier session. On
// failure the detector enters [StateFatal] and the returned error wraps both
// [ErrFatal] and the cause (a [*vad.SetupError] for engine failures).
func (d *Detector) Setup() error {
	if s := d.State(); s != StateUninitialized {
		return fmt.Errorf("detector: setup in state %s", s)
	}

	if err := d.cfg.Classifier.Validate(); err != nil {
		return d.fatal(&vad.SetupError{Stage: vad.StageInit, Err: err})
	}
	frame := d.cfg.Classifier.FrameSize()
	window := d.cfg.WindowSamples()
	if window < frame {
		return d.fatal(fmt.Errorf("window of %d samples is shorter than one %d-sample frame", window, frame))
	}

	session, err := d.engine.NewSession(d.cfg.Classifier)
	if err != nil {
		return d.fatal(err)
	}

	d.session = session
	d.frameSize = frame
	d.buf = make([]int16, window)
	d.state.Store(int32(StateReady))
	slog.Info("detector ready",
		"window_samples", window,
		"frame_samples", frame,
		"frames_per_cycle", window/frame,
		"mode", d.cfg.Classifier.Mode.String(),
	)
	return nil
}

func (d *Detector) fatal(err error) error {
	d.state.Store(int32(StateFatal))
	return fmt.Errorf("%w: %w", ErrFatal, err)
}

// Run executes capture cycles until ctx is cancelled or the source reports
// [audio.ErrSourceClosed], then closes the classifier session and returns nil.
// Cancellation is observed between cycles only; a pending read is not
// interrupted.
//
// Transport errors and short windows are logged and the next cycle starts
// immediately. Run on a fatal detector returns [ErrFatal] without reading.
func (d *Detector) Run(ctx context.Context) error {
	switch s := d.State(); s {
	case StateReady:
	case StateFatal:
		return ErrFatal
	default:
		return fmt.Errorf("detector: run in state %s", s)
	}
	d.state.Store(int32(StateRunning))
	defer func() {
		if err := d.session.Close(); err != nil {
			slog.Warn("detector: failed to close classifier session", "err", err)
		}
		d.state.Store(int32(StateStopped))
	}()

	for {
		if err := ctx.Err(); err != nil {
			slog.Info("detector stopped", "reason", context.Cause(ctx), "cycles", d.cycles.Load())
			return nil
		}
		if done := d.cycle(ctx); done {
			slog.Info("detector stopped", "reason", audio.ErrSourceClosed, "cycles", d.cycles.Load())
			return nil
		}
	}
}

// cycle runs one capture cycle and reports whether the source has ended.
func (d *Detector) cycle(ctx context.Context) (sourceEnded bool) {
	n := d.cycles.Load() + 1
	ctx, span := observe.StartCycleSpan(ctx, n)
	defer span.End()
	log := observe.Logger(ctx)
	start := d.now()

	count, err := d.fill.Fill(ctx, d.buf)
	if err != nil {
		if errors.Is(err, audio.ErrSourceClosed) {
			span.SetAttributes(attribute.Bool("micvad.source_closed", true))
			return true
		}
		d.metrics.TransportErrors.Add(ctx, 1)
		span.RecordError(err)
		log.Warn("capture read failed", "err", err)
	}

	if count < d.frameSize {
		log.Warn("too few samples for one frame", "samples", count, "frame_samples", d.frameSize)
		outcome := "short"
		if err != nil {
			outcome = "transport_error"
		}
		d.metrics.RecordCycle(ctx, outcome, d.now().Sub(start).Seconds())
		d.metrics.RecordDropped(ctx, "short_cycle", count)
		d.finish(n, 0)
		return false
	}

	frames, voiced := 0, 0
	for offset := 0; offset+d.frameSize <= count; offset += d.frameSize {
		verdict, err := d.session.ProcessFrame(d.buf[offset : offset+d.frameSize])
		if err != nil {
			d.metrics.ClassifierErrors.Add(ctx, 1)
			log.Debug("classifier error, treating frame as neutral", "frame", frames, "err", err)
			verdict = vad.VerdictNeutral
		}
		if verdict == vad.VerdictVoice {
			voiced++
			d.sink.Voice(ctx, Event{Cycle: n, Frame: frames, Offset: offset, At: d.now()})
		}
		frames++
	}

	d.metrics.FramesClassified.Add(ctx, int64(frames))
	d.metrics.VoiceFrames.Add(ctx, int64(voiced))
	d.metrics.RecordDropped(ctx, "tail", count-frames*d.frameSize)
	d.metrics.RecordCycle(ctx, "ok", d.now().Sub(start).Seconds())
	span.SetAttributes(
		attribute.Int("micvad.frames", frames),
		attribute.Int("micvad.voice_frames", voiced),
	)
	d.voice.Add(uint64(voiced))
	d.finish(n, frames)
	return false
}

// finish publishes a completed cycle to Status readers.
func (d *Detector) finish(cycle uint64, frames int) {
	d.cycles.Store(cycle)
	d.frames.Add(uint64(frames))
	d.lastCycle.Store(d.now().UnixNano())
}

// State returns the current lifecycle state. Safe for concurrent use.
func (d *Detector) State() State {
	return State(d.state.Load())
}

// Status returns a snapshot of the detector's counters. Safe for concurrent
// use.
func (d *Detector) Status() Status {
	st := Status{
		State:       d.State(),
		Cycles:      d.cycles.Load(),
		Frames:      d.frames.Load(),
		VoiceFrames: d.voice.Load(),
	}
	if ns := d.lastCycle.Load(); ns != 0 {
		st.LastCycle = time.Unix(0, ns)
	}
	return st
}
