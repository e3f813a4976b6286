package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/micvad/internal/app"
	"github.com/MrWong99/micvad/internal/config"
	"github.com/MrWong99/micvad/internal/detector"
	"github.com/MrWong99/micvad/internal/observe"
	"github.com/MrWong99/micvad/pkg/audio"
	audiomock "github.com/MrWong99/micvad/pkg/audio/mock"
	"github.com/MrWong99/micvad/pkg/provider/vad"
	vadmock "github.com/MrWong99/micvad/pkg/provider/vad/mock"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

var s32Mono16k = audio.Format{SampleRate: 16000, Channels: 1, BitDepth: 32}

// testConfig returns the default configuration with the diagnostics listener
// disabled.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	cfg.Server.ListenAddr = ""
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader())))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// windowScript returns reads that deliver exactly one 500 ms window of zero
// samples in staging-sized chunks.
func windowScript(cfg *config.Config) []audiomock.Read {
	f := cfg.Mic.Format()
	window := f.SamplesIn(cfg.VAD.Window())
	chunk := cfg.Mic.StagingSamples
	var reads []audiomock.Read
	for left := window; left > 0; left -= chunk {
		n := min(chunk, left)
		reads = append(reads, audiomock.Read{Data: make([]byte, n*f.Width())})
	}
	return reads
}

// countingRestarter counts Restart calls.
type countingRestarter struct {
	calls atomic.Int32
	err   error
}

func (r *countingRestarter) Restart() error {
	r.calls.Add(1)
	return r.err
}

// recordingSink collects voice events.
type recordingSink struct {
	mu     sync.Mutex
	events []detector.Event
}

func (s *recordingSink) Voice(_ context.Context, ev detector.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) Events() []detector.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]detector.Event(nil), s.events...)
}

// blockingSource blocks every Read until Close.
type blockingSource struct {
	closed    chan struct{}
	closeOnce sync.Once
	reads     atomic.Int32
}

func newBlockingSource() *blockingSource {
	return &blockingSource{closed: make(chan struct{})}
}

func (s *blockingSource) Read([]byte) (int, error) {
	s.reads.Add(1)
	<-s.closed
	return 0, audio.ErrSourceClosed
}

func (s *blockingSource) Format() audio.Format { return s32Mono16k }

func (s *blockingSource) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func newApp(t *testing.T, cfg *config.Config, src audio.Source, eng vad.Engine, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{app.WithMetrics(testMetrics(t))}, opts...)
	a, err := app.New(cfg, src, eng, opts...)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	return a
}

// ─── New ─────────────────────────────────────────────────────────────────────

func TestNew_RejectsUnsupportedFormat(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	src := &audiomock.Source{SourceFormat: audio.Format{SampleRate: 16000, Channels: 1, BitDepth: 16}}
	if _, err := app.New(cfg, src, &vadmock.Engine{}, app.WithMetrics(testMetrics(t))); err == nil {
		t.Fatal("expected error for a 16-bit source")
	}
}

func TestNew_RejectsInvalidMode(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.VAD.Mode = "shouty"
	src := &audiomock.Source{SourceFormat: s32Mono16k}
	if _, err := app.New(cfg, src, &vadmock.Engine{}, app.WithMetrics(testMetrics(t))); err == nil {
		t.Fatal("expected error for an invalid mode")
	}
}

// ─── Run: fatal path ─────────────────────────────────────────────────────────

func TestRun_SetupFailureRestartsOnce(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	src := &audiomock.Source{SourceFormat: s32Mono16k, Script: windowScript(cfg)}
	eng := &vadmock.Engine{NewSessionErr: &vad.SetupError{Stage: vad.StageCreate, Err: errors.New("out of memory")}}
	restarter := &countingRestarter{}
	var waited []time.Duration

	a := newApp(t, cfg, src, eng,
		app.WithRestarter(restarter),
		app.WithWait(func(_ context.Context, d time.Duration) error {
			waited = append(waited, d)
			return nil
		}),
	)

	err := a.Run(context.Background())
	if !errors.Is(err, detector.ErrFatal) {
		t.Fatalf("Run error = %v, want ErrFatal", err)
	}
	var setupErr *vad.SetupError
	if !errors.As(err, &setupErr) || setupErr.Stage != vad.StageCreate {
		t.Errorf("Run error = %v, want a create SetupError", err)
	}
	if got := restarter.calls.Load(); got != 1 {
		t.Errorf("Restart calls = %d, want 1", got)
	}
	if len(waited) != 1 || waited[0] != 3*time.Second {
		t.Errorf("waited = %v, want [3s]", waited)
	}
	if got := src.Reads(); got != 0 {
		t.Errorf("source reads = %d, want 0", got)
	}
	if src.CloseCallCount != 1 {
		t.Errorf("source Close calls = %d, want 1", src.CloseCallCount)
	}
	if got := a.Detector().State(); got != detector.StateFatal {
		t.Errorf("detector state = %s, want %s", got, detector.StateFatal)
	}
}

func TestRun_RestartErrorIsJoined(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	src := &audiomock.Source{SourceFormat: s32Mono16k}
	eng := &vadmock.Engine{NewSessionErr: &vad.SetupError{Stage: vad.StageMode, Err: errors.New("bad mode")}}
	restartErr := errors.New("exec: permission denied")
	restarter := &countingRestarter{err: restartErr}

	a := newApp(t, cfg, src, eng,
		app.WithRestarter(restarter),
		app.WithWait(func(context.Context, time.Duration) error { return nil }),
	)

	err := a.Run(context.Background())
	if !errors.Is(err, detector.ErrFatal) {
		t.Errorf("Run error = %v, want ErrFatal", err)
	}
	if !errors.Is(err, restartErr) {
		t.Errorf("Run error = %v, want the restart error joined", err)
	}
}

func TestRun_CancelledWaitSkipsRestart(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	src := &audiomock.Source{SourceFormat: s32Mono16k}
	eng := &vadmock.Engine{NewSessionErr: &vad.SetupError{Stage: vad.StageInit, Err: errors.New("init")}}
	restarter := &countingRestarter{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := newApp(t, cfg, src, eng, app.WithRestarter(restarter))

	err := a.Run(ctx)
	if !errors.Is(err, detector.ErrFatal) {
		t.Errorf("Run error = %v, want ErrFatal", err)
	}
	if got := restarter.calls.Load(); got != 0 {
		t.Errorf("Restart calls = %d, want 0", got)
	}
	if src.CloseCallCount != 1 {
		t.Errorf("source Close calls = %d, want 1", src.CloseCallCount)
	}
}

// ─── Run: capture ────────────────────────────────────────────────────────────

func TestRun_EndOfStreamDeliversEvents(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	src := &audiomock.Source{SourceFormat: s32Mono16k, Script: windowScript(cfg)}
	sess := &vadmock.Session{FrameSize: 320, Verdicts: map[int]vad.Verdict{3: vad.VerdictVoice}}
	eng := &vadmock.Engine{Session: sess}
	sink := &recordingSink{}
	restarter := &countingRestarter{}

	a := newApp(t, cfg, src, eng, app.WithSink(sink), app.WithRestarter(restarter))

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	events := sink.Events()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if ev := events[0]; ev.Cycle != 1 || ev.Frame != 3 || ev.Offset != 960 {
		t.Errorf("event = %+v, want cycle 1 frame 3 offset 960", ev)
	}
	if got := len(sess.ProcessedFrames()); got != 25 {
		t.Errorf("frames classified = %d, want 25", got)
	}
	if got := eng.Calls(); got != 1 {
		t.Errorf("NewSession calls = %d, want 1", got)
	}
	if sess.CloseCallCount != 1 {
		t.Errorf("session Close calls = %d, want 1", sess.CloseCallCount)
	}
	if restarter.calls.Load() != 0 {
		t.Error("restarter called on a clean stop")
	}
	if got := a.Detector().State(); got != detector.StateStopped {
		t.Errorf("detector state = %s, want %s", got, detector.StateStopped)
	}
	if got := eng.NewSessionCalls[0].Cfg; got.SampleRate != 16000 || got.FrameSizeMs != 20 || got.Mode != vad.ModeVeryAggressive {
		t.Errorf("session config = %+v", got)
	}
}

func TestRun_ContextCancelClosesSource(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	src := newBlockingSource()

	a := newApp(t, cfg, src, &vadmock.Engine{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for src.reads.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("source was never read")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if got := a.Detector().State(); got != detector.StateStopped {
		t.Errorf("detector state = %s, want %s", got, detector.StateStopped)
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	src := &audiomock.Source{SourceFormat: s32Mono16k, CloseErr: errors.New("busy")}
	a := newApp(t, cfg, src, &vadmock.Engine{})

	if err := a.Shutdown(context.Background()); err == nil {
		t.Error("first Shutdown: expected close error")
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
	if src.CloseCallCount != 1 {
		t.Errorf("source Close calls = %d, want 1", src.CloseCallCount)
	}
}

// ─── diagnostics ─────────────────────────────────────────────────────────────

func TestHandler_Endpoints(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	a := newApp(t, cfg, &audiomock.Source{SourceFormat: s32Mono16k}, &vadmock.Engine{})
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	tests := []struct {
		path string
		want int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusServiceUnavailable},
		{"/status", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/nope", http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tc.path)
			if err != nil {
				t.Fatalf("GET %s: %v", tc.path, err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Errorf("GET %s = %d, want %d", tc.path, resp.StatusCode, tc.want)
			}
		})
	}
}

func TestHandler_StatusReportsDetector(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	src := &audiomock.Source{SourceFormat: s32Mono16k, Script: windowScript(cfg)}
	a := newApp(t, cfg, src, &vadmock.Engine{}, app.WithSink(&recordingSink{}))
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		State  string `json:"state"`
		Cycles uint64 `json:"cycles"`
		Frames uint64 `json:"frames"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.State != detector.StateStopped.String() {
		t.Errorf("state = %q, want %q", body.State, detector.StateStopped.String())
	}
	if body.Cycles != 1 || body.Frames != 25 {
		t.Errorf("cycles = %d frames = %d, want 1 and 25", body.Cycles, body.Frames)
	}
}
