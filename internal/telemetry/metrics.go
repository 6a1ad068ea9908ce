package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Metrics are the pipeline instruments. A nil *Metrics records nothing.
type Metrics struct {
	tasksCreated  otelmetric.Int64Counter
	tasksFinished otelmetric.Int64Counter
	tasksActive   otelmetric.Int64UpDownCounter
	stageDuration otelmetric.Float64Histogram
	subscribers   otelmetric.Int64UpDownCounter
}

// NewMetrics registers the instruments on meter.
func NewMetrics(meter otelmetric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.tasksCreated, err = meter.Int64Counter("researchd.tasks.created",
		otelmetric.WithDescription("Research tasks submitted")); err != nil {
		return nil, fmt.Errorf("tasks.created: %w", err)
	}
	if m.tasksFinished, err = meter.Int64Counter("researchd.tasks.finished",
		otelmetric.WithDescription("Research tasks that reached a terminal state")); err != nil {
		return nil, fmt.Errorf("tasks.finished: %w", err)
	}
	if m.tasksActive, err = meter.Int64UpDownCounter("researchd.tasks.active",
		otelmetric.WithDescription("Pipelines currently running")); err != nil {
		return nil, fmt.Errorf("tasks.active: %w", err)
	}
	if m.stageDuration, err = meter.Float64Histogram("researchd.stage.duration",
		otelmetric.WithDescription("Stage execution time"), otelmetric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("stage.duration: %w", err)
	}
	if m.subscribers, err = meter.Int64UpDownCounter("researchd.stream.subscribers",
		otelmetric.WithDescription("Open event-stream connections")); err != nil {
		return nil, fmt.Errorf("stream.subscribers: %w", err)
	}
	return &m, nil
}


func (m *Metrics) TaskCreated(ctx context.Context) {
	if m == nil {
		return
	}
	m.tasksCreated.Add(ctx, 1)
}

// TaskStarted and TaskFinished bracket one pipeline run.
func (m *Metrics) TaskStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.tasksActive.Add(ctx, 1)
}

func (m *Metrics) TaskFinished(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.tasksActive.Add(ctx, -1)
	m.tasksFinished.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) StageDone(ctx context.Context, stage, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.Record(ctx, d.Seconds(), otelmetric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) SubscriberDelta(ctx context.Context, n int64) {
	if m == nil {
		return
	}
	m.subscribers.Add(ctx, n)
}
