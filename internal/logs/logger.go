package logs

import (
	"context"
	"strings"

	logger "github.com/gath-stack/gologger"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	traceIDKey      = "trace_id"
	spanIDKey       = "span_id"
	traceSampledKey = "trace_sampled"
	serviceNameKey  = "service.name"
)

// Options configures NewLogger.
type Options struct {
	ServiceName string
	Environment string
	Level       string
}

// NewLogger builds the process logger on gologger. Development-like
// environments get the console encoder; everything else gets JSON. Level is
// case-insensitive. Every entry carries service.name.
func NewLogger(opts Options) (*zap.Logger, error) {
	l, err := logger.New(logger.Config{
		Level:       logger.LogLevel(strings.ToUpper(opts.Level)),
		Environment: loggerEnvironment(opts.Environment),
		ServiceName: opts.ServiceName,
	})
	if err != nil {
		return nil, err
	}

	// gologger skips one frame for its package-level helpers; callers here
	// use the zap.Logger directly.
	return l.Logger.WithOptions(zap.AddCallerSkip(-1)).
		With(zap.String(serviceNameKey, opts.ServiceName)), nil
}

func loggerEnvironment(env string) logger.Environment {
	switch strings.ToLower(env) {
	case "development", "dev", "local":
		return logger.EnvDevelopment
	default:
		return logger.EnvProduction
	}
}

// WithTrace returns log annotated with the trace and span identifiers of the
// span active in ctx. Without a valid span it returns log unchanged.
func WithTrace(ctx context.Context, log *zap.Logger) *zap.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return log
	}
	return log.With(
		zap.String(traceIDKey, sc.TraceID().String()),
		zap.String(spanIDKey, sc.SpanID().String()),
		zap.Bool(traceSampledKey, sc.IsSampled()),
	)
}

// Tee returns a logger writing to both log's core and core.
func Tee(log *zap.Logger, core zapcore.Core) *zap.Logger {
	return log.WithOptions(zap.WrapCore(func(existing zapcore.Core) zapcore.Core {
		return zapcore.NewTee(existing, core)
	}))
}
