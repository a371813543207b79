// Package observe provides application-wide observability primitives for
// SpeakDrill: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all SpeakDrill metrics.
const meterName = "github.com/speakdrill/speakdrill"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// SessionDuration tracks the wall-clock length of realtime practice
	// sessions, from connect to teardown.
	SessionDuration metric.Float64Histogram

	// ScoringDuration tracks end-to-end scoring pipeline latency per
	// submission.
	ScoringDuration metric.Float64Histogram

	// TranscriptionDuration tracks how long a submission's audio takes to
	// transcribe, including polling waits.
	TranscriptionDuration metric.Float64Histogram

	// ToolExecutionDuration tracks capability execution latency in the
	// tool dispatcher.
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// FramesSent counts capture frames delivered to the live provider.
	FramesSent metric.Int64Counter

	// FramesDiscarded counts capture frames read from the device but
	// dropped because the stream was muted or inactive.
	FramesDiscarded metric.Int64Counter

	// ScoringSteps counts scoring pipeline steps by step name and status.
	ScoringSteps metric.Int64Counter

	// TranscriptionPolls counts poll round-trips against the
	// transcription job API.
	TranscriptionPolls metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live practice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// PlaybackQueueDepth tracks the number of audio segments queued for
	// playback across all sessions.
	PlaybackQueueDepth metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for the
// sub-minute pipeline latencies (scoring, transcription, tool execution).
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// sessionBuckets defines histogram bucket boundaries (in seconds) for whole
// practice sessions, which run minutes rather than milliseconds.
var sessionBuckets = []float64{
	10, 30, 60, 120, 300, 600, 900, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SessionDuration, err = m.Float64Histogram("speakdrill.session.duration",
		metric.WithDescription("Wall-clock length of realtime practice sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ScoringDuration, err = m.Float64Histogram("speakdrill.scoring.duration",
		metric.WithDescription("End-to-end scoring pipeline latency per submission."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionDuration, err = m.Float64Histogram("speakdrill.transcription.duration",
		metric.WithDescription("Latency of audio transcription including polling waits."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("speakdrill.tool.duration",
		metric.WithDescription("Latency of capability execution in the tool dispatcher."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("speakdrill.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("speakdrill.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("speakdrill.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("speakdrill.audio.frames_sent",
		metric.WithDescription("Capture frames delivered to the live provider."),
	); err != nil {
		return nil, err
	}
	if met.FramesDiscarded, err = m.Int64Counter("speakdrill.audio.frames_discarded",
		metric.WithDescription("Capture frames dropped while muted or inactive."),
	); err != nil {
		return nil, err
	}
	if met.ScoringSteps, err = m.Int64Counter("speakdrill.scoring.steps",
		metric.WithDescription("Scoring pipeline steps by step name and status."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionPolls, err = m.Int64Counter("speakdrill.transcription.polls",
		metric.WithDescription("Poll round-trips against the transcription job API."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("speakdrill.active_sessions",
		metric.WithDescription("Number of live practice sessions."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackQueueDepth, err = m.Int64UpDownCounter("speakdrill.audio.playback_depth",
		metric.WithDescription("Audio segments queued for playback across all sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("speakdrill.http.request.duration",
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordToolCall records a tool call counter increment with the standard
// attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordScoringStep records a scoring step counter increment.
func (m *Metrics) RecordScoringStep(ctx context.Context, step, status string) {
	m.ScoringSteps.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("step", step),
			attribute.String("status", status),
		),
	)
}
