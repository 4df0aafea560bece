// Package observe provides observability primitives for the chirp speech
// daemon: OpenTelemetry metrics, tracing helpers, and HTTP middleware tying
// them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed via
// a Prometheus exporter bridge set up by [InitProvider], so they remain
// scrapable from the standard /metrics endpoint. Tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all chirp metrics.
const meterName = "github.com/tadpolelabs/chirp"

// Metrics holds all OpenTelemetry metric instruments for the daemon.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// SpeakDuration tracks per-utterance playback latency. Use with
	// attributes:
	//   attribute.String("backend", ...), attribute.String("status", ...)
	SpeakDuration metric.Float64Histogram

	// Utterances counts processed utterances. Same attributes as
	// SpeakDuration.
	Utterances metric.Int64Counter

	// BackendErrors counts voice backend failures. Use with attribute:
	//   attribute.String("backend", ...)
	BackendErrors metric.Int64Counter

	// QueueDepth tracks the number of not-yet-started utterances.
	QueueDepth metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// speech playback: most utterances take between a fraction of a second and
// the 12 s playback timeout.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 12, 20,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SpeakDuration, err = m.Float64Histogram("chirp.speak.duration",
		metric.WithDescription("Per-utterance playback latency by backend and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("chirp.utterances",
		metric.WithDescription("Total processed utterances by backend and status."),
	); err != nil {
		return nil, err
	}
	if met.BackendErrors, err = m.Int64Counter("chirp.backend.errors",
		metric.WithDescription("Total voice backend failures by backend."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("chirp.queue.depth",
		metric.WithDescription("Number of queued, not-yet-started utterances."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("chirp.http.request.duration",
		metric.WithDescription("HTTP request processing time by method and path."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}
