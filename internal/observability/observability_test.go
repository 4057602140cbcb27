package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"assessapp/internal/config"
	contextutils "assessapp/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetupObservability_NoneEnabled(t *testing.T) {
	cfg := &config.OpenTelemetryConfig{ServiceName: "test-service"}
	p, err := SetupObservability(cfg, "test-service", "info")
	require.NoError(t, err)
	assert.Nil(t, p.Tracer)
	assert.Nil(t, p.Meter)
	require.NotNil(t, p.Logger)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSetupObservability_StandardSDK(t *testing.T) {
	cfg := &config.OpenTelemetryConfig{
		EnableTracing: true,
		Protocol:      "grpc",
		Endpoint:      "localhost:4317",
		Insecure:      true,
		SamplingRate:  1.0,
	}
	p, err := SetupObservability(cfg, "test-service", "debug")
	require.NoError(t, err)
	_, ok := p.Tracer.(*sdktrace.TracerProvider)
	assert.True(t, ok, "expected the standard SDK tracer provider")
	assert.Equal(t, "test-service", cfg.ServiceName)
}

func TestSetupObservability_AutoSDK(t *testing.T) {
	cfg := &config.OpenTelemetryConfig{EnableTracing: true, UseAutoSDK: true}
	p, err := SetupObservability(cfg, "test-service", "info")
	require.NoError(t, err)
	require.NotNil(t, p.Tracer)
	_, isStandard := p.Tracer.(*sdktrace.TracerProvider)
	assert.False(t, isStandard)
}

func TestInitStandardTracing_InvalidProtocol(t *testing.T) {
	tp, err := InitStandardTracing(&config.OpenTelemetryConfig{Protocol: "carrier-pigeon"})
	require.Error(t, err)
	assert.Nil(t, tp)
	assert.Contains(t, err.Error(), "unsupported otel protocol")
}

func TestInitMetrics_HTTP(t *testing.T) {
	mp, err := InitMetrics(&config.OpenTelemetryConfig{Protocol: "http", Endpoint: "localhost:4318", Insecure: true})
	require.NoError(t, err)
	require.NotNil(t, mp)
	assert.NoError(t, mp.Shutdown(context.Background()))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordAnswerScored(ctx, "short_answer")
	m.RecordAIFailure(ctx, "chat")
	m.RecordBroadcast(ctx)
	m.AddConnections(ctx, 1, "admin")

	real := NewMetrics()
	real.RecordAnswerScored(ctx, "video_response")
	real.AddConnections(ctx, -1, "user")
}

func TestFinishSpan_RecordsError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)

	func() (err error) {
		_, span := TraceAssessmentFunction(context.Background(), "EvaluateText")
		defer FinishSpan(span, &err)
		return contextutils.ErrAIRequestFailed
	}()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "assessment.EvaluateText", spans[0].Name())
	assert.Equal(t, "Error", spans[0].Status().Code.String())
}

func TestErrorAttributes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))

	r := gin.New()
	r.Use(GinMiddleware("test"), ErrorAttributes())
	r.GET("/boom", func(c *gin.Context) {
		_ = c.Error(contextutils.ErrServiceUnavailable)
		c.JSON(http.StatusServiceUnavailable, gin.H{})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	spans := recorder.Ended()
	require.NotEmpty(t, spans)
	found := false
	for _, kv := range spans[len(spans)-1].Attributes() {
		if kv.Key == "error.code" {
			found = true
			assert.Equal(t, string(contextutils.ErrorCodeServiceUnavailable), kv.Value.AsString())
		}
	}
	assert.True(t, found)
}
