// Package observe provides application-wide observability primitives for
// livecaption: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all livecaption
// metrics.
const meterName = "github.com/eburon/livecaption"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// ASRDuration tracks speech-recognition latency per audio chunk.
	ASRDuration metric.Float64Histogram

	// TranslateDuration tracks translation latency per batch.
	TranslateDuration metric.Float64Histogram

	// SynthesisDuration tracks text-to-speech synthesis latency per segment.
	SynthesisDuration metric.Float64Histogram

	// --- Counters ---

	// ChunksProcessed counts ingested audio chunks. Use with attribute:
	//   attribute.String("status", "success"|"skipped_empty"|"error")
	ChunksProcessed metric.Int64Counter

	// BatchesFlushed counts transcript batches released for translation.
	// Use with attribute: attribute.String("reason", ...)
	BatchesFlushed metric.Int64Counter

	// TranslationFallbacks counts batches served by the fallback translator
	// after the primary failed.
	TranslationFallbacks metric.Int64Counter

	// SegmentsSpoken counts synthesized playback segments. Use with
	// attribute: attribute.String("status", "completed"|"failed"|"aborted")
	SegmentsSpoken metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveMeetings tracks the number of meetings currently being captured.
	ActiveMeetings metric.Int64UpDownCounter

	// ActiveListeners tracks the number of live listener sessions.
	ActiveListeners metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for captioning-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ASRDuration, err = m.Float64Histogram("livecaption.asr.duration",
		metric.WithDescription("Latency of speech recognition per audio chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranslateDuration, err = m.Float64Histogram("livecaption.translate.duration",
		metric.WithDescription("Latency of translation per transcript batch."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("livecaption.synthesis.duration",
		metric.WithDescription("Latency of speech synthesis per playback segment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ChunksProcessed, err = m.Int64Counter("livecaption.chunks.processed",
		metric.WithDescription("Total ingested audio chunks by status."),
	); err != nil {
		return nil, err
	}
	if met.BatchesFlushed, err = m.Int64Counter("livecaption.batches.flushed",
		metric.WithDescription("Total transcript batches released for translation by reason."),
	); err != nil {
		return nil, err
	}
	if met.TranslationFallbacks, err = m.Int64Counter("livecaption.translation.fallbacks",
		metric.WithDescription("Total batches translated by the fallback provider."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsSpoken, err = m.Int64Counter("livecaption.segments.spoken",
		metric.WithDescription("Total synthesized playback segments by status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("livecaption.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("livecaption.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveMeetings, err = m.Int64UpDownCounter("livecaption.active_meetings",
		metric.WithDescription("Number of meetings currently being captured."),
	); err != nil {
		return nil, err
	}
	if met.ActiveListeners, err = m.Int64UpDownCounter("livecaption.active_listeners",
		metric.WithDescription("Number of live listener sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("livecaption.http.request.duration",
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

// RecordChunk records an ingested chunk with its processing status.
func (m *Metrics) RecordChunk(ctx context.Context, status string) {
	m.ChunksProcessed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordBatchFlush records a batch release with the policy reason.
func (m *Metrics) RecordBatchFlush(ctx context.Context, reason string) {
	m.BatchesFlushed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordSegment records a finished playback segment with its outcome.
func (m *Metrics) RecordSegment(ctx context.Context, status string) {
	m.SegmentsSpoken.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
