// Package app wires the micvad subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the capture pipeline and
// the diagnostics listener, Run sets the detector up and drives it, and
// Shutdown releases the microphone source.
//
// A classifier setup failure is fatal: Run logs it, waits the configured
// restart delay, releases resources and hands over to a [Restarter] exactly
// once. For testing, inject doubles via functional options (WithRestarter,
// WithSink, etc.).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/micvad/internal/capture"
	"github.com/MrWong99/micvad/internal/config"
	"github.com/MrWong99/micvad/internal/detector"
	"github.com/MrWong99/micvad/internal/health"
	"github.com/MrWong99/micvad/internal/observe"
	"github.com/MrWong99/micvad/pkg/audio"
	"github.com/MrWong99/micvad/pkg/provider/vad"
)

// shutdownTimeout bounds the graceful stop of the diagnostics listener.
const shutdownTimeout = 5 * time.Second

// App owns the capture pipeline and the diagnostics listener.
type App struct {
	cfg    *config.Config
	source audio.Source
	engine vad.Engine

	metrics   *observe.Metrics
	restarter Restarter
	sink      detector.Sink
	wait      func(ctx context.Context, d time.Duration) error

	det     *detector.Detector
	handler http.Handler
	server  *http.Server

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics records pipeline metrics on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithRestarter injects the fatal-path restart action instead of the one
// selected by restart.mode.
func WithRestarter(r Restarter) Option {
	return func(a *App) { a.restarter = r }
}

// WithSink injects the receiver of voice events. Default: [detector.LogSink].
func WithSink(s detector.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithWait replaces the restart delay timer.
func WithWait(wait func(ctx context.Context, d time.Duration) error) Option {
	return func(a *App) { a.wait = wait }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App around an opened source and a VAD engine (both usually
// built through the [config.Registry]). The App takes ownership of source and
// closes it on Shutdown.
func New(cfg *config.Config, source audio.Source, engine vad.Engine, opts ...Option) (*App, error) {
	a := &App{
		cfg:    cfg,
		source: source,
		engine: engine,
		wait:   sleep,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.restarter == nil {
		a.restarter = NewRestarter(cfg.Restart.Mode)
	}

	classifier, err := cfg.VAD.Classifier(source.Format().SampleRate)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	asm, err := capture.NewAssembler(source,
		capture.WithStagingSamples(cfg.Mic.StagingSamples),
		capture.WithShift(cfg.Mic.ShiftOrDefault()),
		capture.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	detOpts := []detector.Option{detector.WithMetrics(a.metrics)}
	if a.sink != nil {
		detOpts = append(detOpts, detector.WithSink(a.sink))
	}
	a.det = detector.New(asm, engine, detector.Config{
		Classifier: classifier,
		Window:     cfg.VAD.Window(),
	}, detOpts...)

	a.handler = a.diagnosticsHandler()
	if cfg.Server.ListenAddr != "" {
		a.server = &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           a.handler,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return a, nil
}

// diagnosticsHandler serves health, status and Prometheus metrics.
func (a *App) diagnosticsHandler() http.Handler {
	mux := http.NewServeMux()
	health.New(health.DetectorCheck(a.det, a.cfg.Server.StallAfter, nil)).
		WithStatus(a.det).
		Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(a.metrics)(mux)
}

// Handler returns the diagnostics handler served on server.listen_addr.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Detector returns the capture detector.
func (a *App) Detector() *detector.Detector {
	return a.det
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run sets the detector up and drives it until ctx is cancelled or the source
// ends. The diagnostics listener, when configured, runs alongside and stops
// with the detector.
//
// If setup fails, Run enters the fatal path: it waits restart.delay, shuts
// the App down and invokes the [Restarter] once. The returned error wraps
// [detector.ErrFatal]. A Restarter that re-executes the process does not
// return.
func (a *App) Run(ctx context.Context) error {
	if err := a.det.Setup(); err != nil {
		return a.fatal(ctx, err)
	}

	var ln net.Listener
	if a.server != nil {
		var err error
		if ln, err = net.Listen("tcp", a.server.Addr); err != nil {
			_ = a.Shutdown(ctx)
			return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
		}
		slog.Info("diagnostics listening", "addr", ln.Addr().String())
	}

	g, gctx := errgroup.WithContext(ctx)
	runCtx, stop := context.WithCancel(gctx)
	defer stop()

	g.Go(func() error {
		defer stop()
		return a.det.Run(runCtx)
	})

	// A pending read is not cancellable; closing the source unblocks it.
	g.Go(func() error {
		<-runCtx.Done()
		return a.Shutdown(context.WithoutCancel(ctx))
	})

	if ln != nil {
		g.Go(func() error {
			if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: serve diagnostics: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-runCtx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			return a.server.Shutdown(sctx)
		})
	}

	slog.Info("app running", "state", a.det.State().String())
	return g.Wait()
}

// fatal handles a setup failure: log, wait, release, restart.
func (a *App) fatal(ctx context.Context, cause error) error {
	delay := a.cfg.Restart.Delay
	slog.Error("classifier setup failed; restarting",
		"err", cause,
		"delay", delay,
		"mode", a.cfg.Restart.Mode,
	)
	if err := a.wait(ctx, delay); err != nil {
		slog.Info("restart abandoned, shutting down", "reason", err)
		_ = a.Shutdown(context.WithoutCancel(ctx))
		return cause
	}
	if err := a.Shutdown(ctx); err != nil {
		slog.Warn("shutdown before restart", "err", err)
	}
	if err := a.restarter.Restart(); err != nil {
		return errors.Join(cause, fmt.Errorf("app: restart: %w", err))
	}
	return cause
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases the microphone source. Run calls it when the detector
// stops; it is safe to call more than once. ctx is accepted for symmetry with
// other shutdown paths; closing a source does not block.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		if err := a.source.Close(); err != nil {
			slog.Warn("source close error", "err", err)
			shutdownErr = fmt.Errorf("app: close source: %w", err)
		}
		slog.Info("shutdown complete", "cycles", a.det.Status().Cycles)
	})
	return shutdownErr
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
