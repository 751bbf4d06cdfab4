// Package observe provides the OpenTelemetry metric instruments recorded by
// the streaming engine, the transport bridge and the remote scorer.
//
// Metrics are exported through a Prometheus bridge installed by
// [InitProvider] and scraped from /metrics. Tests should build their own
// instance with [NewMetrics] and a ManualReader-backed provider.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/GriffinCanCode/good-listener/backend/vadstream"

// Drop reasons recorded on FramesDropped.
const (
	DropReasonSize      = "size"
	DropReasonQueueFull = "queue_full"
)

// Metrics holds all metric instruments. The OTel types handle their own
// synchronisation.
type Metrics struct {
	// FramesSubmitted counts frames accepted into a session queue.
	FramesSubmitted metric.Int64Counter

	// FramesProcessed counts frames scored and classified by a worker.
	FramesProcessed metric.Int64Counter

	// FramesDropped counts frames discarded before reaching a worker. Use with
	// attribute.String("reason", DropReasonSize|DropReasonQueueFull).
	FramesDropped metric.Int64Counter

	// Events counts emitted events. Use with attribute.String("type", ...).
	Events metric.Int64Counter

	// ScoreDuration tracks the latency of one Scorer.Score call.
	ScoreDuration metric.Float64Histogram

	// SessionErrors counts session-fatal conditions. Use with
	// attribute.String("code", ...).
	SessionErrors metric.Int64Counter

	// ActiveSessions tracks the number of running streaming sessions.
	ActiveSessions metric.Int64UpDownCounter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attribute.String("to", ...).
	BreakerTransitions metric.Int64Counter
}

// scoreBuckets covers in-process scorers (sub-millisecond) through remote
// inference close to the 32 ms frame budget.
var scoreBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.032, 0.05, 0.1, 0.25,
}

// NewMetrics creates all instruments from the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesSubmitted, err = m.Int64Counter("vadstream.frames.submitted",
		metric.WithDescription("Frames accepted into a session queue."),
	); err != nil {
		return nil, err
	}
	if met.FramesProcessed, err = m.Int64Counter("vadstream.frames.processed",
		metric.WithDescription("Frames scored and classified."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("vadstream.frames.dropped",
		metric.WithDescription("Frames discarded before classification."),
	); err != nil {
		return nil, err
	}
	if met.Events, err = m.Int64Counter("vadstream.events",
		metric.WithDescription("Events emitted by the classifier."),
	); err != nil {
		return nil, err
	}
	if met.ScoreDuration, err = m.Float64Histogram("vadstream.score.duration",
		metric.WithDescription("Latency of one scoring call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(scoreBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionErrors, err = m.Int64Counter("vadstream.session.errors",
		metric.WithDescription("Session-fatal errors."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("vadstream.sessions.active",
		metric.WithDescription("Streaming sessions currently running."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("vadstream.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns an instance bound to the global meter provider. It
// is created on first use, so call it after [InitProvider].
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			m = Noop()
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// Noop returns instruments that record nothing.
func Noop() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider())
	return m
}

// Attr is a shorthand for attribute.String.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordDrop counts one dropped frame.
func (m *Metrics) RecordDrop(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
}

// RecordEvent counts one emitted event of the given type.
func (m *Metrics) RecordEvent(ctx context.Context, eventType string) {
	m.Events.Add(ctx, 1, metric.WithAttributes(Attr("type", eventType)))
}

// RecordSessionError counts one session-fatal error.
func (m *Metrics) RecordSessionError(ctx context.Context, code string) {
	m.SessionErrors.Add(ctx, 1, metric.WithAttributes(Attr("code", code)))
}

// RecordBreakerTransition counts a breaker moving to state to.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(Attr("to", to)))
}
