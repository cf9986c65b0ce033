package pipeline

import (
	"context"

	"github.com/loqalabs/loqa-dictate/internal/chunk"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	chunksEnqueued  metric.Int64Counter
	chunksDropped   metric.Int64Counter
	framesRejected  metric.Int64Counter
	segmentsEmitted metric.Int64Counter
	emitErrors      metric.Int64Counter
	emitLatency     metric.Float64Histogram
}

func newMetrics(c *Controller) *metrics {
	meter := otel.Meter("github.com/loqalabs/loqa-dictate/internal/pipeline")
	m := &metrics{}
	m.chunksEnqueued, _ = meter.Int64Counter("dictate_chunks_enqueued_total",
		metric.WithDescription("Audio chunks queued for transcription"))
	m.chunksDropped, _ = meter.Int64Counter("dictate_chunks_dropped_total",
		metric.WithDescription("Audio chunks discarded because the chunk queue was full"))
	m.framesRejected, _ = meter.Int64Counter("dictate_frames_rejected_total",
		metric.WithDescription("Capture frames rejected by the voice activity classifier"))
	m.segmentsEmitted, _ = meter.Int64Counter("dictate_segments_emitted_total",
		metric.WithDescription("Text segments delivered to the emitter"))
	m.emitErrors, _ = meter.Int64Counter("dictate_emit_errors_total",
		metric.WithDescription("Text emission failures"))
	m.emitLatency, _ = meter.Float64Histogram("dictate_emit_latency_seconds",
		metric.WithDescription("Time from capture to emission"), metric.WithUnit("s"))

	_, _ = meter.Int64ObservableGauge("dictate_pipeline_state",
		metric.WithDescription("Pipeline state (0 stopped, 1 starting, 2 running, 3 stopping)"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(c.State()))
			return nil
		}))
	return m
}

func kindAttr(k chunk.Kind) metric.AddOption {
	return metric.WithAttributes(attribute.String("kind", k.String()))
}
