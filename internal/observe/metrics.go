// Package observe provides application-wide observability primitives for
// micvad: OpenTelemetry metrics, per-cycle tracing, trace-aware logging, and
// HTTP middleware for the diagnostics listener.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be
// scraped from /metrics. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all micvad metrics.
const meterName = "github.com/MrWong99/micvad"

// Metrics holds all OpenTelemetry metric instruments for the capture
// pipeline. All fields are safe for concurrent use.
type Metrics struct {
	// --- Capture cycle ---

	// Cycles counts capture cycles by outcome. Use with attribute:
	//   attribute.String("outcome", "ok"|"short"|"transport_error")
	Cycles metric.Int64Counter

	// ShortCycles counts cycles that yielded fewer samples than one frame.
	ShortCycles metric.Int64Counter

	// CycleDuration tracks the wall time of one cycle (assembly plus
	// classification). At steady state it approximates the window length.
	CycleDuration metric.Float64Histogram

	// --- Classification ---

	// FramesClassified counts classifier calls.
	FramesClassified metric.Int64Counter

	// VoiceFrames counts frames classified as voice.
	VoiceFrames metric.Int64Counter

	// ClassifierErrors counts per-frame classifier errors (treated as
	// neutral verdicts).
	ClassifierErrors metric.Int64Counter

	// --- Transport ---

	// ReadBytes counts bytes delivered by the source.
	ReadBytes metric.Int64Counter

	// TransportErrors counts failed source reads.
	TransportErrors metric.Int64Counter

	// StrayBytes counts bytes discarded because a read was not a whole
	// number of raw samples.
	StrayBytes metric.Int64Counter

	// DroppedSamples counts analysis samples lost at cycle boundaries (tail
	// shorter than one frame). Use with attribute:
	//   attribute.String("reason", "tail"|"short_cycle")
	DroppedSamples metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks diagnostics request processing time. Use
	// with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// cycleBuckets defines histogram bucket boundaries (in seconds) around the
// default half-second window.
var cycleBuckets = []float64{
	0.05, 0.1, 0.25, 0.4, 0.5, 0.6, 0.75, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Cycles, err = m.Int64Counter("micvad.cycles",
		metric.WithDescription("Capture cycles by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ShortCycles, err = m.Int64Counter("micvad.cycles.short",
		metric.WithDescription("Cycles with too few samples for one frame."),
	); err != nil {
		return nil, err
	}
	if met.CycleDuration, err = m.Float64Histogram("micvad.cycle.duration",
		metric.WithDescription("Wall time of one capture cycle."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(cycleBuckets...),
	); err != nil {
		return nil, err
	}

	if met.FramesClassified, err = m.Int64Counter("micvad.frames.classified",
		metric.WithDescription("Frames passed to the classifier."),
	); err != nil {
		return nil, err
	}
	if met.VoiceFrames, err = m.Int64Counter("micvad.frames.voice",
		metric.WithDescription("Frames classified as voice."),
	); err != nil {
		return nil, err
	}
	if met.ClassifierErrors, err = m.Int64Counter("micvad.classifier.errors",
		metric.WithDescription("Per-frame classifier errors."),
	); err != nil {
		return nil, err
	}

	if met.ReadBytes, err = m.Int64Counter("micvad.read.bytes",
		metric.WithDescription("Bytes delivered by the audio source."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.TransportErrors, err = m.Int64Counter("micvad.transport.errors",
		metric.WithDescription("Failed audio source reads."),
	); err != nil {
		return nil, err
	}
	if met.StrayBytes, err = m.Int64Counter("micvad.bytes.stray",
		metric.WithDescription("Bytes discarded from reads that were not whole samples."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.DroppedSamples, err = m.Int64Counter("micvad.samples.dropped",
		metric.WithDescription("Analysis samples dropped at cycle boundaries by reason."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("micvad.http.request.duration",
		metric.WithDescription("Diagnostics HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordCycle records the outcome and duration of one capture cycle. Any
// outcome other than "ok" also counts as a short cycle.
func (m *Metrics) RecordCycle(ctx context.Context, outcome string, seconds float64) {
	m.Cycles.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if outcome != "ok" {
		m.ShortCycles.Add(ctx, 1)
	}
	m.CycleDuration.Record(ctx, seconds)
}

// RecordDropped records samples lost at a cycle boundary. Zero is ignored.
func (m *Metrics) RecordDropped(ctx context.Context, reason string, samples int) {
	if samples <= 0 {
		return
	}
	m.DroppedSamples.Add(ctx, int64(samples), metric.WithAttributes(attribute.String("reason", reason)))
}
