// Package observe provides application-wide observability primitives for
// Voxmorph: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all Voxmorph metrics.
const meterName = "github.com/voxmorph/voxmorph"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// HangupDuration tracks the latency of a hangup request from invocation
	// until audio is silent and teardown is handed off.
	HangupDuration metric.Float64Histogram

	// InterruptDuration tracks how long the output sink takes to drain its
	// queue and stop the device on interrupt.
	InterruptDuration metric.Float64Histogram

	// TeardownDuration tracks how long supervised session teardown ran,
	// whether it completed or hit the ceiling.
	TeardownDuration metric.Float64Histogram

	// SessionStartDuration tracks how long the provider takes to establish a
	// conversational session.
	SessionStartDuration metric.Float64Histogram

	// CloneDuration tracks voice cloning latency.
	CloneDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// TeardownTimeouts counts supervised teardowns that hit the ceiling and
	// were abandoned. Each one is a leaked goroutine until its EndSession
	// eventually returns.
	TeardownTimeouts metric.Int64Counter

	// ChunksDropped counts audio chunks discarded by sink interrupts. Use
	// with attribute: attribute.String("reason", ...)
	ChunksDropped metric.Int64Counter

	// ChunksPlayed counts audio chunks written to the output device.
	ChunksPlayed metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of live calls. For this application it is
	// 0 or 1, but the instrument stays a gauge so a regression to overlapped
	// calls shows up immediately.
	ActiveCalls metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for call-control latencies. The sub-100ms buckets exist to watch the
// interrupt path, which must stay under 0.1s.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.HangupDuration, err = m.Float64Histogram("voxmorph.call.hangup.duration",
		metric.WithDescription("Latency from hangup request until audio is silent."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.InterruptDuration, err = m.Float64Histogram("voxmorph.sink.interrupt.duration",
		metric.WithDescription("Latency of sink queue drain plus device stop on interrupt."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TeardownDuration, err = m.Float64Histogram("voxmorph.call.teardown.duration",
		metric.WithDescription("Duration of supervised session teardown by outcome."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionStartDuration, err = m.Float64Histogram("voxmorph.session.start.duration",
		metric.WithDescription("Latency of establishing a conversational session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CloneDuration, err = m.Float64Histogram("voxmorph.voice.clone.duration",
		metric.WithDescription("Latency of voice cloning."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("voxmorph.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.TeardownTimeouts, err = m.Int64Counter("voxmorph.call.teardown.timeouts",
		metric.WithDescription("Total supervised teardowns abandoned at the ceiling."),
	); err != nil {
		return nil, err
	}
	if met.ChunksDropped, err = m.Int64Counter("voxmorph.sink.chunks.dropped",
		metric.WithDescription("Total audio chunks discarded by sink interrupts."),
	); err != nil {
		return nil, err
	}
	if met.ChunksPlayed, err = m.Int64Counter("voxmorph.sink.chunks.played",
		metric.WithDescription("Total audio chunks written to the output device."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("voxmorph.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCalls, err = m.Int64UpDownCounter("voxmorph.active_calls",
		metric.WithDescription("Number of live calls."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxmorph.http.request.duration",
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

// RecordTeardown records one supervised teardown with its outcome attribute
// ("completed" or "timed_out").
func (m *Metrics) RecordTeardown(ctx context.Context, outcome string, seconds float64) {
	m.TeardownDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
	if outcome == "timed_out" {
		m.TeardownTimeouts.Add(ctx, 1)
	}
}
