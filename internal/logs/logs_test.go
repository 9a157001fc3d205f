package logs

import (
	"context"
	"sync"
	"testing"

	logger "github.com/gath-stack/gologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type memoryExporter struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (e *memoryExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range records {
		e.records = append(e.records, r.Clone())
	}
	return nil
}

func (e *memoryExporter) Shutdown(context.Context) error   { return nil }
func (e *memoryExporter) ForceFlush(context.Context) error { return nil }

func (e *memoryExporter) all() []sdklog.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]sdklog.Record(nil), e.records...)
}

func TestWithTrace_AddsIdentifiers(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	core, observed := observer.New(zapcore.InfoLevel)
	WithTrace(ctx, zap.New(core)).Info("hello")

	entries := observed.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, span.SpanContext().TraceID().String(), fields["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), fields["span_id"])
	assert.Equal(t, true, fields["trace_sampled"])
}

func TestWithTrace_NoSpan(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	WithTrace(context.Background(), zap.New(core)).Info("hello")

	require.Len(t, observed.All(), 1)
	assert.NotContains(t, observed.All()[0].ContextMap(), "trace_id")
}

func TestOTELCore_EmitsCorrelatedRecords(t *testing.T) {
	exporter := &memoryExporter{}
	provider := NewLogsProviderWithProcessor(sdklog.NewSimpleProcessor(exporter), nil)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	logger := zap.New(OTELCore(provider.Provider(), zapcore.InfoLevel))
	WithTrace(ctx, logger).Error("io task", zap.String("path", "/io_task"))
	logger.Debug("filtered out")

	records := exporter.all()
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, "io task", r.Body().AsString())
	assert.Equal(t, log.SeverityError, r.Severity())
	assert.Equal(t, span.SpanContext().TraceID(), r.TraceID())
	assert.Equal(t, span.SpanContext().SpanID(), r.SpanID())

	attrs := map[string]string{}
	r.WalkAttributes(func(kv log.KeyValue) bool {
		attrs[kv.Key] = kv.Value.String()
		return true
	})
	assert.Equal(t, "/io_task", attrs["path"])
	assert.NotContains(t, attrs, "trace_id")
}

func TestTee_WritesToBothCores(t *testing.T) {
	first, firstObserved := observer.New(zapcore.InfoLevel)
	second, secondObserved := observer.New(zapcore.InfoLevel)

	Tee(zap.New(first), second).Info("both")

	assert.Equal(t, 1, firstObserved.Len())
	assert.Equal(t, 1, secondObserved.Len())
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := NewLogger(Options{ServiceName: "app", Environment: "production", Level: "loud"})
	require.ErrorIs(t, err, logger.ErrInvalidLogLevel)
}

func TestNewLogger_MissingServiceName(t *testing.T) {
	_, err := NewLogger(Options{Environment: "production", Level: "info"})
	require.ErrorIs(t, err, logger.ErrMissingServiceName)
}

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		env      string
		level    string
		enabled  zapcore.Level
		disabled zapcore.Level
	}{
		{"development", "debug", zapcore.DebugLevel, zapcore.DebugLevel - 1},
		{"staging", "info", zapcore.InfoLevel, zapcore.DebugLevel},
		{"production", "WARN", zapcore.WarnLevel, zapcore.InfoLevel},
		{"prod", "error", zapcore.ErrorLevel, zapcore.WarnLevel},
	}

	for _, tt := range tests {
		t.Run(tt.env+"/"+tt.level, func(t *testing.T) {
			l, err := NewLogger(Options{ServiceName: "app-a", Environment: tt.env, Level: tt.level})
			require.NoError(t, err)

			assert.True(t, l.Core().Enabled(tt.enabled))
			assert.False(t, l.Core().Enabled(tt.disabled))
		})
	}
}

func TestLoggerEnvironment(t *testing.T) {
	assert.Equal(t, logger.EnvDevelopment, loggerEnvironment("Dev"))
	assert.Equal(t, logger.EnvDevelopment, loggerEnvironment("local"))
	assert.Equal(t, logger.EnvProduction, loggerEnvironment("staging"))
	assert.Equal(t, logger.EnvProduction, loggerEnvironment("production"))
}
