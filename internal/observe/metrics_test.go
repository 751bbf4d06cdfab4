package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader.
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

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

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

func sumWithAttr(t *testing.T, m *metricdata.Metrics, key, value string) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s: data is %T, want Sum[int64]", m.Name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			total += dp.Value
		}
	}
	return total
}

func TestRecordDrop(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordDrop(ctx, DropReasonSize)
	m.RecordDrop(ctx, DropReasonSize)
	m.RecordDrop(ctx, DropReasonQueueFull)

	met := findMetric(collect(t, reader), "vadstream.frames.dropped")
	if met == nil {
		t.Fatal("vadstream.frames.dropped not found")
	}
	if got := sumWithAttr(t, met, "reason", DropReasonSize); got != 2 {
		t.Errorf("size drops = %d, want 2", got)
	}
	if got := sumWithAttr(t, met, "reason", DropReasonQueueFull); got != 1 {
		t.Errorf("queue_full drops = %d, want 1", got)
	}
}

func TestRecordEventAndSessionError(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordEvent(ctx, "frame")
	m.RecordEvent(ctx, "speech_start")
	m.RecordSessionError(ctx, "ADAPTER_FAILED")
	m.RecordBreakerTransition(ctx, "open")

	rm := collect(t, reader)
	if got := sumWithAttr(t, findMetric(rm, "vadstream.events"), "type", "speech_start"); got != 1 {
		t.Errorf("speech_start events = %d, want 1", got)
	}
	if got := sumWithAttr(t, findMetric(rm, "vadstream.session.errors"), "code", "ADAPTER_FAILED"); got != 1 {
		t.Errorf("session errors = %d, want 1", got)
	}
	if got := sumWithAttr(t, findMetric(rm, "vadstream.breaker.transitions"), "to", "open"); got != 1 {
		t.Errorf("breaker transitions = %d, want 1", got)
	}
}

func TestScoreDurationHistogram(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.ScoreDuration.Record(context.Background(), 0.004)

	met := findMetric(collect(t, reader), "vadstream.score.duration")
	if met == nil {
		t.Fatal("vadstream.score.duration not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("data is %T, want Histogram[float64]", met.Data)
	}
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Errorf("histogram data points = %+v, want one observation", hist.DataPoints)
	}
}

func TestNoopRecordsNothing(t *testing.T) {
	m := Noop()
	if m == nil {
		t.Fatal("Noop returned nil")
	}
	// Must not panic.
	m.RecordDrop(context.Background(), DropReasonSize)
	m.ActiveSessions.Add(context.Background(), 1)
}
