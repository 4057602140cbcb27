package observability

import (
	"context"

	"assessapp/internal/config"
	contextutils "assessapp/internal/utils"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// InitMetrics initializes OpenTelemetry metrics
func InitMetrics(cfg *config.OpenTelemetryConfig) (result0 *metric.MeterProvider, err error) {
	ctx := context.Background()

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrInternalError, "failed to create otel resource: %w", err)
	}

	var exporter metric.Exporter
	switch cfg.Protocol {
	case "grpc", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint), otlpmetricgrpc.WithHeaders(cfg.Headers)}
		if cfg.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exporter, err = otlpmetricgrpc.New(ctx, opts...)
		if err != nil {
			return nil, contextutils.WrapErrorf(contextutils.ErrInternalError, "failed to create otlp grpc metric exporter: %w", err)
		}
	case "http":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint), otlpmetrichttp.WithHeaders(cfg.Headers)}
		if cfg.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		exporter, err = otlpmetrichttp.New(ctx, opts...)
		if err != nil {
			return nil, contextutils.WrapErrorf(contextutils.ErrInternalError, "failed to create otlp http metric exporter: %w", err)
		}
	default:
		return nil, contextutils.WrapErrorf(contextutils.ErrInvalidInput, "unsupported otel protocol: %s", cfg.Protocol)
	}

	return metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(exporter)),
		metric.WithResource(res),
	), nil
}

// Metrics holds the application instruments. Instruments come from the global
// meter provider, so they are no-ops until InitMetrics has been installed.
type Metrics struct {
	AnswersScored       otelmetric.Int64Counter
	AIFailures          otelmetric.Int64Counter
	DashboardBroadcasts otelmetric.Int64Counter
	ConnectedSockets    otelmetric.Int64UpDownCounter
}

// NewMetrics creates the application instruments on the global meter provider.
func NewMetrics() *Metrics {
	meter := otel.Meter(tracerName)
	m := &Metrics{}
	// Instrument creation only fails for invalid names; the returned no-op
	// instrument is still safe to use.
	m.AnswersScored, _ = meter.Int64Counter("assess.answers.scored",
		otelmetric.WithDescription("Answers that received a score"))
	m.AIFailures, _ = meter.Int64Counter("assess.ai.failures",
		otelmetric.WithDescription("Failed calls to AI providers"))
	m.DashboardBroadcasts, _ = meter.Int64Counter("assess.dashboard.broadcasts",
		otelmetric.WithDescription("Dashboard snapshots pushed to admin sockets"))
	m.ConnectedSockets, _ = meter.Int64UpDownCounter("assess.dashboard.connections",
		otelmetric.WithDescription("Currently connected dashboard sockets"))
	return m
}

// RecordAnswerScored counts a scored answer by question type.
func (m *Metrics) RecordAnswerScored(ctx context.Context, questionType string) {
	if m == nil {
		return
	}
	m.AnswersScored.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("question.type", questionType)))
}

// RecordAIFailure counts a failed AI call by provider kind ("chat" or "emotion").
func (m *Metrics) RecordAIFailure(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.AIFailures.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("ai.provider", provider)))
}

// RecordBroadcast counts one dashboard broadcast.
func (m *Metrics) RecordBroadcast(ctx context.Context) {
	if m == nil {
		return
	}
	m.DashboardBroadcasts.Add(ctx, 1)
}

// AddConnections adjusts the connected socket gauge by delta.
func (m *Metrics) AddConnections(ctx context.Context, delta int64, role string) {
	if m == nil {
		return
	}
	m.ConnectedSockets.Add(ctx, delta, otelmetric.WithAttributes(attribute.String("role", role)))
}
