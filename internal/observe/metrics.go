// Package observe provides application-wide observability primitives for
// beatify: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the /metrics endpoint. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all beatify metrics.
const meterName = "github.com/MrWong99/beatify"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Render loop ---

	// FrameDuration tracks the time spent producing one frame.
	FrameDuration metric.Float64Histogram

	// Frames counts rendered frames. Use with attribute:
	//   attribute.Bool("driven", ...)
	Frames metric.Int64Counter

	// --- Capture ---

	// ActiveCaptures tracks capture sessions in the Recording state.
	ActiveCaptures metric.Int64UpDownCounter

	// Fragments counts encoded fragments appended to a recording.
	Fragments metric.Int64Counter

	// PayloadBytes tracks the size of finalized recordings.
	PayloadBytes metric.Int64Histogram

	// DeviceErrors counts failed microphone opens.
	DeviceErrors metric.Int64Counter

	// --- Remote services ---

	// RecognitionDuration tracks recognition round-trip latency.
	RecognitionDuration metric.Float64Histogram

	// RecognitionRequests counts recognition requests. Use with attribute:
	//   attribute.String("status", ...)
	RecognitionRequests metric.Int64Counter

	// ShareRequests counts SMS share requests. Use with attribute:
	//   attribute.String("status", ...)
	ShareRequests metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes: attribute.String("breaker", ...), attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// frameBuckets covers frame times around the 16.7 ms budget of 60 fps.
var frameBuckets = []float64{
	0.001, 0.002, 0.004, 0.008, 0.0167, 0.033, 0.05, 0.1, 0.25,
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for remote
// service round trips.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Render loop.
	if met.FrameDuration, err = m.Float64Histogram("beatify.render.frame.duration",
		metric.WithDescription("Time spent producing one visualizer frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(frameBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Frames, err = m.Int64Counter("beatify.render.frames",
		metric.WithDescription("Total rendered frames by whether audio drove them."),
	); err != nil {
		return nil, err
	}

	// Capture.
	if met.ActiveCaptures, err = m.Int64UpDownCounter("beatify.capture.active",
		metric.WithDescription("Number of capture sessions currently recording."),
	); err != nil {
		return nil, err
	}
	if met.Fragments, err = m.Int64Counter("beatify.capture.fragments",
		metric.WithDescription("Total encoded fragments appended to recordings."),
	); err != nil {
		return nil, err
	}
	if met.PayloadBytes, err = m.Int64Histogram("beatify.capture.payload.size",
		metric.WithDescription("Size of finalized recordings."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.DeviceErrors, err = m.Int64Counter("beatify.capture.device_errors",
		metric.WithDescription("Total failed microphone opens."),
	); err != nil {
		return nil, err
	}

	// Remote services.
	if met.RecognitionDuration, err = m.Float64Histogram("beatify.recognition.duration",
		metric.WithDescription("Latency of recognition requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecognitionRequests, err = m.Int64Counter("beatify.recognition.requests",
		metric.WithDescription("Total recognition requests by status."),
	); err != nil {
		return nil, err
	}
	if met.ShareRequests, err = m.Int64Counter("beatify.share.requests",
		metric.WithDescription("Total SMS share requests by status."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("beatify.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker and target state."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("beatify.http.request.duration",
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// RecordFrame records one rendered frame.
func (m *Metrics) RecordFrame(ctx context.Context, d time.Duration, driven bool) {
	m.FrameDuration.Record(ctx, d.Seconds())
	m.Frames.Add(ctx, 1, metric.WithAttributes(attribute.Bool("driven", driven)))
}

// RecordRecognition records a finished recognition request.
func (m *Metrics) RecordRecognition(ctx context.Context, d time.Duration, status string) {
	m.RecognitionDuration.Record(ctx, d.Seconds())
	m.RecognitionRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordShare records a finished share request.
func (m *Metrics) RecordShare(ctx context.Context, status string) {
	m.ShareRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordBreakerTransition records a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", breaker),
		attribute.String("to", to),
	))
}
