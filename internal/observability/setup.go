package observability

import (
	"context"
	"errors"

	"assessapp/internal/config"

	autosdk "go.opentelemetry.io/auto/sdk"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Providers groups what SetupObservability installed so the caller can shut it down.
type Providers struct {
	Tracer trace.TracerProvider
	Meter  *metric.MeterProvider
	Logger *Logger
}

// Shutdown flushes and stops the tracer and meter providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	if tp, ok := p.Tracer.(*sdktrace.TracerProvider); ok {
		errs = append(errs, tp.Shutdown(ctx))
	}
	if p.Meter != nil {
		errs = append(errs, p.Meter.Shutdown(ctx))
	}
	if p.Logger != nil {
		_ = p.Logger.Sync()
	}
	return errors.Join(errs...)
}

// SetupObservability initializes tracing, metrics, and logging for a service
func SetupObservability(cfg *config.OpenTelemetryConfig, serviceName, logLevel string) (result0 *Providers, err error) {
	if serviceName != "" {
		cfg.ServiceName = serviceName
	}

	p := &Providers{Logger: NewLoggerWithLevel(cfg, ParseLevel(logLevel))}

	if cfg.EnableTracing {
		if cfg.UseAutoSDK {
			p.Tracer = autosdk.TracerProvider()
		} else {
			tp, err := InitStandardTracing(cfg)
			if err != nil {
				return nil, err
			}
			p.Tracer = tp
		}
		otel.SetTracerProvider(p.Tracer)
		InitPropagation()
		p.Logger.Info(context.Background(), "Tracing enabled", map[string]interface{}{
			"service_name": cfg.ServiceName,
			"auto_sdk":     cfg.UseAutoSDK,
		})
	}

	if cfg.EnableMetrics {
		mp, err := InitMetrics(cfg)
		if err != nil {
			return nil, err
		}
		otel.SetMeterProvider(mp)
		p.Meter = mp
	}

	return p, nil
}
