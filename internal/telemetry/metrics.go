package telemetry

import (
	"context"
	"time"

	"github.com/ppiankov/uhmm/internal/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the pipeline instruments. A nil *Metrics records nothing.
type Metrics struct {
	failures       metric.Int64Counter
	verdicts       metric.Int64Counter
	cacheLookups   metric.Int64Counter
	dropped        metric.Int64Counter
	sentences      metric.Int64Counter
	viewerSessions metric.Int64UpDownCounter
	stageDuration  metric.Float64Histogram
}

// NewMetrics creates the instruments on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.failures, err = meter.Int64Counter("uhmm.failures",
		metric.WithDescription("Failed collaborator calls by stage and kind")); err != nil {
		return nil, err
	}
	if m.verdicts, err = meter.Int64Counter("uhmm.verdicts",
		metric.WithDescription("Verdicts produced by status")); err != nil {
		return nil, err
	}
	if m.cacheLookups, err = meter.Int64Counter("uhmm.cache.lookups",
		metric.WithDescription("Verdict cache lookups by outcome")); err != nil {
		return nil, err
	}
	if m.dropped, err = meter.Int64Counter("uhmm.broadcast.dropped",
		metric.WithDescription("Events dropped by viewer queue overflow")); err != nil {
		return nil, err
	}
	if m.sentences, err = meter.Int64Counter("uhmm.sentences",
		metric.WithDescription("Sentences emitted by the aggregator")); err != nil {
		return nil, err
	}
	if m.viewerSessions, err = meter.Int64UpDownCounter("uhmm.viewer.sessions",
		metric.WithDescription("Connected viewer sessions")); err != nil {
		return nil, err
	}
	if m.stageDuration, err = meter.Float64Histogram("uhmm.stage.duration",
		metric.WithDescription("Latency of pipeline stages"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return &m, nil
}

// Failure records a failed call at stage
func (m *Metrics) Failure(ctx context.Context, stage string, err error) {
	if m == nil {
		return
	}
	m.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("kind", model.Classify(err)),
	))
}

// Verdict records a produced verdict
func (m *Metrics) Verdict(ctx context.Context, status model.Status) {
	if m == nil {
		return
	}
	m.verdicts.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}

// CacheLookup records a verdict cache lookup outcome
func (m *Metrics) CacheLookup(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Dropped records an event dropped from a viewer queue
func (m *Metrics) Dropped(ctx context.Context, policy string) {
	if m == nil {
		return
	}
	m.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("policy", policy)))
}

// Sentence records an aggregator emission
func (m *Metrics) Sentence(ctx context.Context, forced bool) {
	if m == nil {
		return
	}
	m.sentences.Add(ctx, 1, metric.WithAttributes(attribute.Bool("forced", forced)))
}

// SessionOpened increments the connected viewer gauge
func (m *Metrics) SessionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.viewerSessions.Add(ctx, 1)
}

// SessionClosed decrements the connected viewer gauge
func (m *Metrics) SessionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.viewerSessions.Add(ctx, -1)
}

// ObserveStage records how long a stage took
func (m *Metrics) ObserveStage(ctx context.Context, stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}
