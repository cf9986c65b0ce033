package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

const meterName = "github.com/loqalabs/loqa-dictate/internal/runtime"

type telemetry struct {
	// metrics serves the dictate registry in Prometheus text format.
	metrics  http.Handler
	shutdown func(context.Context) error
}

// setupTelemetry installs the global tracer and meter providers. Metrics go to
// a registry owned by this runtime, not the Prometheus default registerer.
func setupTelemetry(ctx context.Context, cfg config.Config, logger *slog.Logger) (*telemetry, error) {
	res, err := resource.New(ctx, resource.WithAttributes(dictateAttributes(cfg)...))
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	tp, err := newTracerProvider(ctx, cfg.Telemetry, res, logger)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	if err := registerConfigInfo(mp.Meter(meterName), cfg); err != nil {
		logger.Warn("config info gauge unavailable", slog.String("error", err.Error()))
	}

	return &telemetry{
		metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		shutdown: func(ctx context.Context) error {
			return errors.Join(mp.Shutdown(ctx), tp.Shutdown(ctx))
		},
	}, nil
}

func dictateAttributes(cfg config.Config) []attribute.KeyValue {
	return []attribute.KeyValue{
		semconv.ServiceName(cfg.RuntimeName),
		attribute.String("deployment.environment", cfg.Environment),
		attribute.String("dictate.stt.mode", cfg.STT.Mode),
		attribute.String("dictate.output.insert_mode", cfg.Output.InsertMode),
		attribute.String("dictate.chunk.strategy", cfg.Chunk.Strategy),
		attribute.Bool("dictate.vad.enabled", cfg.VAD.Enable),
	}
}

// registerConfigInfo exposes the active engine and output settings as a
// constant gauge so dashboards can join on them.
func registerConfigInfo(meter metric.Meter, cfg config.Config) error {
	attrs := metric.WithAttributes(
		attribute.String("engine", cfg.STT.Mode),
		attribute.String("model", cfg.STT.Model),
		attribute.String("insert_mode", cfg.Output.InsertMode),
		attribute.String("strategy", cfg.Chunk.Strategy),
		attribute.String("hotkey", cfg.Hotkey),
	)
	_, err := meter.Int64ObservableGauge("dictate_config_info",
		metric.WithDescription("Active dictation configuration, always 1"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(1, attrs)
			return nil
		}),
	)
	return err
}

func newTracerProvider(ctx context.Context, tc config.TelemetryConfig, res *resource.Resource, logger *slog.Logger) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	kind := "none"
	switch endpoint := strings.TrimSpace(tc.OTLPEndpoint); {
	case endpoint != "":
		grpcOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if tc.OTLPInsecure {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, grpcOpts...)
		if err != nil {
			return nil, fmt.Errorf("otlp trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
		kind = "otlp"
	case tc.TraceStdout:
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("stdout trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
		kind = "stdout"
	default:
		// Transcription spans would only be dropped.
		opts = append(opts, sdktrace.WithSampler(sdktrace.NeverSample()))
	}
	logger.Info("telemetry initialized", slog.String("traces", kind), slog.String("endpoint", tc.OTLPEndpoint))
	return sdktrace.NewTracerProvider(opts...), nil
}
