package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogWithContextAddsTraceInfo(t *testing.T) {
	tracer := trace.NewTracerProvider().Tracer("test-tracer")

	core, observedLogs := observer.New(zap.InfoLevel)
	logger := &Logger{Logger: zap.New(core)}

	ctx, span := tracer.Start(context.Background(), "test-span")
	defer span.End()

	logger.Info(ctx, "answer scored", map[string]interface{}{"attempt_id": 7})

	entries := observedLogs.All()
	assert.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, span.SpanContext().TraceID().String(), fields["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), fields["span_id"])
	assert.EqualValues(t, 7, fields["attempt_id"])
}

func TestLogWithContextNoSpan(t *testing.T) {
	core, observedLogs := observer.New(zap.InfoLevel)
	logger := &Logger{Logger: zap.New(core)}

	logger.Info(context.Background(), "no span", nil)

	fields := observedLogs.All()[0].ContextMap()
	assert.NotContains(t, fields, "trace_id")
}

func TestErrorMergesFieldsWithoutMutating(t *testing.T) {
	core, observedLogs := observer.New(zap.DebugLevel)
	logger := &Logger{Logger: zap.New(core)}

	caller := map[string]interface{}{"user_id": 3}
	logger.Error(context.Background(), "failed", errors.New("boom"), caller)

	assert.NotContains(t, caller, "error")
	fields := observedLogs.All()[0].ContextMap()
	assert.Equal(t, "boom", fields["error"])
	assert.EqualValues(t, 3, fields["user_id"])
}

func TestLevelFiltering(t *testing.T) {
	core, observedLogs := observer.New(zap.WarnLevel)
	logger := &Logger{Logger: zap.New(core)}

	logger.Debug(context.Background(), "hidden")
	logger.Info(context.Background(), "hidden")
	logger.Warn(context.Background(), "shown")
	assert.Equal(t, 1, observedLogs.Len())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("nonsense"))
}

func TestNewLogger_Disabled(t *testing.T) {
	l := NewLogger(nil)
	assert.NotNil(t, l)
	l.Info(context.Background(), "noop")
}
