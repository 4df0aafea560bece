package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestSpeakDurationHistogram(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	attrs := metric.WithAttributes(
		attribute.String("backend", "device"),
		attribute.String("status", "done"),
	)
	m.SpeakDuration.Record(ctx, 0.8, attrs)
	m.SpeakDuration.Record(ctx, 2.4, attrs)

	rm := collect(t, reader)
	found := findMetric(rm, "chirp.speak.duration")
	if found == nil {
		t.Fatal("chirp.speak.duration not found")
	}

	hist, ok := found.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("unexpected data type %T", found.Data)
	}
	if len(hist.DataPoints) != 1 {
		t.Fatalf("datapoints = %d, want 1", len(hist.DataPoints))
	}
	if hist.DataPoints[0].Count != 2 {
		t.Errorf("count = %d, want 2", hist.DataPoints[0].Count)
	}
}

func TestUtteranceCounterAttributes(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.Utterances.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", "cloud"),
		attribute.String("status", "done"),
	))
	m.Utterances.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", "device"),
		attribute.String("status", "timeout"),
	))

	rm := collect(t, reader)
	found := findMetric(rm, "chirp.utterances")
	if found == nil {
		t.Fatal("chirp.utterances not found")
	}

	sum, ok := found.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", found.Data)
	}
	if len(sum.DataPoints) != 2 {
		t.Errorf("datapoints = %d, want 2 (one per attribute set)", len(sum.DataPoints))
	}
}

func TestQueueDepthUpDown(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.QueueDepth.Add(ctx, 3)
	m.QueueDepth.Add(ctx, -2)

	rm := collect(t, reader)
	found := findMetric(rm, "chirp.queue.depth")
	if found == nil {
		t.Fatal("chirp.queue.depth not found")
	}

	sum, ok := found.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", found.Data)
	}
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Errorf("queue depth = %+v, want single datapoint of 1", sum.DataPoints)
	}
}
