// Package logs provides trace-correlated zap logging and the OpenTelemetry
// logs pipeline that ships those entries to an OTLP collector.
package logs

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zapcore"
)

const instrumentationName = "github.com/gath-stack/chainapp"

// LogsProvider manages the OpenTelemetry logs pipeline.
type LogsProvider struct {
	provider *sdklog.LoggerProvider
}

// NewLogsProvider creates a logs provider that batches records to an OTLP
// gRPC collector at endpoint.
func NewLogsProvider(ctx context.Context, endpoint string, res *resource.Resource) (*LogsProvider, error) {
	exporter, err := otlploggrpc.New(
		ctx,
		otlploggrpc.WithEndpoint(endpoint),
		otlploggrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP log exporter: %w", err)
	}

	processor := sdklog.NewBatchProcessor(exporter,
		sdklog.WithExportTimeout(10*time.Second),
		sdklog.WithExportMaxBatchSize(512),
	)
	return NewLogsProviderWithProcessor(processor, res), nil
}

// NewLogsProviderWithProcessor builds a provider around an existing
// processor. Tests use it with a synchronous processor and an in-memory
// exporter.
func NewLogsProviderWithProcessor(processor sdklog.Processor, res *resource.Resource) *LogsProvider {
	opts := []sdklog.LoggerProviderOption{sdklog.WithProcessor(processor)}
	if res != nil {
		opts = append(opts, sdklog.WithResource(res))
	}
	return &LogsProvider{provider: sdklog.NewLoggerProvider(opts...)}
}

// Shutdown flushes pending records and stops the exporter.
func (lp *LogsProvider) Shutdown(ctx context.Context) error {
	if lp.provider != nil {
		return lp.provider.Shutdown(ctx)
	}
	return nil
}

// Provider returns the underlying OpenTelemetry logger provider.
func (lp *LogsProvider) Provider() log.LoggerProvider {
	return lp.provider
}

// OTELCore creates a zapcore.Core that forwards entries to provider.
//
// Entries carrying trace_id and span_id fields (see WithTrace) are emitted
// under that span context, so the backend links each record to its span.
func OTELCore(provider log.LoggerProvider, level zapcore.LevelEnabler) zapcore.Core {
	return &otelCore{
		logger: provider.Logger(instrumentationName),
		level:  level,
	}
}

type otelCore struct {
	logger log.Logger
	level  zapcore.LevelEnabler
	fields []zapcore.Field
}

func (c *otelCore) Enabled(level zapcore.Level) bool {
	return c.level.Enabled(level)
}

func (c *otelCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(clone.fields[:len(c.fields):len(c.fields)], fields...)
	return &clone
}

func (c *otelCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return ce.AddCore(entry, c)
	}
	return ce
}

func (c *otelCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	all := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	all = append(all, c.fields...)
	all = append(all, fields...)

	enc := zapcore.NewMapObjectEncoder()
	for _, field := range all {
		field.AddTo(enc)
	}

	ctx := context.Background()
	if sc, ok := spanContextFromFields(enc.Fields); ok {
		ctx = trace.ContextWithRemoteSpanContext(ctx, sc)
	}

	attrs := make([]log.KeyValue, 0, len(enc.Fields)+3)
	attrs = append(attrs,
		log.String("level", entry.Level.String()),
		log.String("logger", entry.LoggerName),
		log.String("caller", entry.Caller.TrimmedPath()),
	)
	for key, value := range enc.Fields {
		if key == traceIDKey || key == spanIDKey {
			continue
		}
		attrs = append(attrs, convertToLogKeyValue(key, value))
	}

	var record log.Record
	record.SetTimestamp(entry.Time)
	record.SetBody(log.StringValue(entry.Message))
	record.SetSeverity(convertLevel(entry.Level))
	record.SetSeverityText(entry.Level.CapitalString())
	record.AddAttributes(attrs...)

	c.logger.Emit(ctx, record)
	return nil
}

func (c *otelCore) Sync() error {
	return nil
}

// spanContextFromFields rebuilds the span context WithTrace encoded.
func spanContextFromFields(fields map[string]interface{}) (trace.SpanContext, bool) {
	rawTrace, _ := fields[traceIDKey].(string)
	rawSpan, _ := fields[spanIDKey].(string)
	if rawTrace == "" || rawSpan == "" {
		return trace.SpanContext{}, false
	}

	traceID, err := trace.TraceIDFromHex(rawTrace)
	if err != nil {
		return trace.SpanContext{}, false
	}
	spanID, err := trace.SpanIDFromHex(rawSpan)
	if err != nil {
		return trace.SpanContext{}, false
	}

	var flags trace.TraceFlags
	if sampled, _ := fields[traceSampledKey].(bool); sampled {
		flags = trace.FlagsSampled
	}

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	})
	return sc, sc.IsValid()
}

func convertLevel(level zapcore.Level) log.Severity {
	switch level {
	case zapcore.DebugLevel:
		return log.SeverityDebug
	case zapcore.InfoLevel:
		return log.SeverityInfo
	case zapcore.WarnLevel:
		return log.SeverityWarn
	case zapcore.ErrorLevel:
		return log.SeverityError
	case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		return log.SeverityFatal
	default:
		return log.SeverityInfo
	}
}

func convertToLogKeyValue(key string, value interface{}) log.KeyValue {
	switch v := value.(type) {
	case string:
		return log.String(key, v)
	case int:
		return log.Int(key, v)
	case int64:
		return log.Int64(key, v)
	case float64:
		return log.Float64(key, v)
	case bool:
		return log.Bool(key, v)
	case time.Duration:
		return log.String(key, v.String())
	default:
		return log.String(key, fmt.Sprintf("%v", v))
	}
}
