// Package observe provides Echo's observability primitives: OpenTelemetry
// metrics with a Prometheus exporter bridge, and HTTP middleware that records
// request latency.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Echo metrics.
const meterName = "github.com/echovoice/echo"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Pipeline counters ---

	// EventsIngested counts activity events accepted onto the activity bus.
	// Use with attribute.String("source", ...).
	EventsIngested metric.Int64Counter

	// EventsDropped counts events lost to full subscriber buffers. Use with
	// attribute.String("bus", ...).
	EventsDropped metric.Int64Counter

	// NarrationsEmitted counts narrations produced by the summarizer. Use
	// with attribute.String("priority", ...).
	NarrationsEmitted metric.Int64Counter

	// Playbacks counts clips played on the output device. Use with
	// attribute.String("kind", ...): "tone", "narration", "confirmation".
	Playbacks metric.Int64Counter

	// ResponsesDispatched counts spoken replies injected into the assistant's
	// terminal. Use with attribute.String("method", ...).
	ResponsesDispatched metric.Int64Counter

	// --- Latency histograms ---

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks LLM summarization latency.
	LLMDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attribute.String("method", ...), attribute.String("path", ...).
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.EventsIngested, err = m.Int64Counter("echo.events.ingested",
		metric.WithDescription("Total activity events accepted, by source."),
	); err != nil {
		return nil, err
	}
	if met.EventsDropped, err = m.Int64Counter("echo.events.dropped",
		metric.WithDescription("Total events dropped on full subscriber buffers, by bus."),
	); err != nil {
		return nil, err
	}
	if met.NarrationsEmitted, err = m.Int64Counter("echo.narrations.emitted",
		metric.WithDescription("Total narrations emitted, by priority."),
	); err != nil {
		return nil, err
	}
	if met.Playbacks, err = m.Int64Counter("echo.playbacks",
		metric.WithDescription("Total audio clips played, by kind."),
	); err != nil {
		return nil, err
	}
	if met.ResponsesDispatched, err = m.Int64Counter("echo.responses.dispatched",
		metric.WithDescription("Total spoken replies dispatched, by match method."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.TTSDuration, err = m.Float64Histogram("echo.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTDuration, err = m.Float64Histogram("echo.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("echo.llm.duration",
		metric.WithDescription("Latency of LLM summarization."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("echo.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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
