// Package observability builds the telemetry stack of the chain service.
//
// A Stack owns the meter provider (Prometheus pull reader, optional OTLP push),
// the tracer provider (batched OTLP/gRPC export with gzip), the propagator and
// the OTLP logs provider. Nothing is installed as an OpenTelemetry global: the
// Stack is created once at startup and handed to whatever needs it.
//
// # Quick Start
//
//	log, _ := logs.NewLogger(logs.Options{ServiceName: "app-a"})
//
//	stack, err := observability.Init(log, nil)
//	if err != nil {
//	    log.Fatal("failed to init observability", zap.Error(err))
//	}
//	defer func() {
//	    if err := stack.Shutdown(context.Background()); err != nil {
//	        log.Error("Failed to shutdown observability", zap.Error(err))
//	    }
//	}()
//
//	router.Use(stack.Tracing.Middleware())
//	router.Get("/", web.Handle(log, handler, stack.HTTP.Instrument))
//	router.Handle("/metrics", stack.MetricsHandler())
//
// See internal/config for the environment variables.
package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	_ "google.golang.org/grpc/encoding/gzip"

	"github.com/gath-stack/chainapp/internal/config"
	"github.com/gath-stack/chainapp/internal/logs"
	"github.com/gath-stack/chainapp/internal/metrics"
	"github.com/gath-stack/chainapp/internal/tracing"
)

// InstrumentationName identifies the meters and tracers created by the stack.
const InstrumentationName = "github.com/gath-stack/chainapp"

// Logger is the logging interface used by the stack. *zap.Logger satisfies it.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
}

// Stack is a started observability stack with its request instrumentation
// ready to use.
//
// HTTP and Tracing are always non-nil. When metrics are disabled HTTP records
// into a no-op meter and MetricsHandler returns nil; when tracing is disabled
// spans are non-recording and nothing is propagated downstream.
type Stack struct {
	obs *Observability
	log Logger

	// HTTP is the request instrumentation middleware.
	HTTP *metrics.HTTPMetrics

	// Tracing opens the server span of each inbound request.
	Tracing *tracing.HTTPTracing

	// Runtime reports Go runtime gauges. Nil when metrics are disabled.
	Runtime *metrics.RuntimeMetrics

	// System reports host gauges. Nil when metrics or system metrics are
	// disabled.
	System *metrics.SystemMetrics

	client *http.Client
}

// InitOptions configures optional behaviours of the stack.
type InitOptions struct {
	// DisableSystemMetrics skips the gopsutil host gauges regardless of
	// OBSERVABILITY_SYSTEM_METRICS_ENABLED.
	DisableSystemMetrics bool

	// SystemDiskPath is the mount point reported by the disk gauges.
	// Defaults to "/".
	SystemDiskPath string

	// SpanProcessor replaces the batched OTLP span exporter.
	SpanProcessor sdktrace.SpanProcessor

	// LogProcessor replaces the batched OTLP log exporter.
	LogProcessor sdklog.Processor

	// MetricReaders are registered on the meter provider next to the
	// Prometheus reader.
	MetricReaders []sdkmetric.Reader
}

// Observability manages the lifecycle of the providers behind a Stack.
type Observability struct {
	config       config.Config
	log          Logger
	cleanupFuncs []func(context.Context) error
	initialized  bool

	resource       *resource.Resource
	meter          metric.Meter
	tracerProvider trace.TracerProvider
	propagator     propagation.TextMapPropagator
	exposition     *metrics.Exposition
	logsProvider   *logs.LogsProvider
}

// Init loads the configuration from the environment and starts the stack.
func Init(log Logger, opts *InitOptions) (*Stack, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return InitWithConfig(context.Background(), cfg, log, opts)
}

// MustInit is like Init but panics if initialization fails.
func MustInit(log Logger, opts *InitOptions) *Stack {
	stack, err := Init(log, opts)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize observability stack: %v", err))
	}
	return stack
}

// InitWithConfig starts the stack for an already loaded configuration.
//
// On failure every provider started so far is shut down before the error is
// returned.
func InitWithConfig(ctx context.Context, cfg config.Config, log Logger, opts *InitOptions) (*Stack, error) {
	if opts == nil {
		opts = &InitOptions{}
	}
	if opts.SystemDiskPath == "" {
		opts.SystemDiskPath = "/"
	}

	log.Info("Initializing observability stack")

	obs, err := newWithConfig(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create observability: %w", err)
	}

	if err := obs.Start(ctx, opts); err != nil {
		if shutdownErr := obs.shutdown(ctx); shutdownErr != nil {
			log.Error("failed to shutdown observability after initialization error",
				zap.Error(shutdownErr))
		}
		return nil, fmt.Errorf("failed to start observability: %w", err)
	}

	stack := &Stack{
		obs:     obs,
		log:     log,
		Tracing: tracing.NewHTTPTracing(obs.Tracer(), obs.propagator),
		client:  tracing.NewClient(obs.tracerProvider, obs.propagator),
	}

	if err := stack.initializeMetrics(opts); err != nil {
		if shutdownErr := obs.Shutdown(ctx); shutdownErr != nil {
			log.Error("failed to shutdown observability after initialization error",
				zap.Error(shutdownErr))
		}
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	log.Info("Observability stack initialized successfully",
		zap.Strings("components", cfg.EnabledComponents()),
		zap.Float64("sampling_rate", cfg.TraceSamplingRate))

	return stack, nil
}

func newWithConfig(cfg config.Config, log Logger) (*Observability, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Observability{
		config:         cfg,
		log:            log,
		cleanupFuncs:   make([]func(context.Context) error, 0),
		meter:          metricnoop.NewMeterProvider().Meter(InstrumentationName),
		tracerProvider: tracenoop.NewTracerProvider(),
		propagator: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	}, nil
}

// Start initializes every enabled provider. It fails if called twice.
func (o *Observability) Start(ctx context.Context, opts *InitOptions) error {
	if o.initialized {
		return fmt.Errorf("observability already initialized")
	}
	if opts == nil {
		opts = &InitOptions{}
	}

	if !o.config.IsEnabled() {
		o.log.Info("Observability stack disabled - no components enabled")
		o.initialized = true
		return nil
	}

	o.log.Info("Starting observability stack",
		zap.Strings("components", o.config.EnabledComponents()))

	startTime := time.Now()

	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		o.log.Warn("OpenTelemetry export error", zap.Error(err))
	}))

	if err := o.initResource(ctx); err != nil {
		return err
	}

	if o.config.TracingEnabled {
		if err := o.initTracing(ctx, opts.SpanProcessor); err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
	}

	if o.config.MetricsEnabled {
		if err := o.initMetrics(ctx, opts.MetricReaders); err != nil {
			return fmt.Errorf("failed to initialize metrics: %w", err)
		}
	}

	if o.config.LogsEnabled {
		if err := o.initLogs(ctx, opts.LogProcessor); err != nil {
			return fmt.Errorf("failed to initialize logs: %w", err)
		}
	}

	o.log.Info("Observability stack started successfully",
		zap.Duration("duration", time.Since(startTime)),
		zap.Int("components", len(o.cleanupFuncs)))

	o.initialized = true
	return nil
}

func (o *Observability) initResource(ctx context.Context) error {
	name := o.config.ServiceName

	res, err := resource.New(
		ctx,
		resource.WithAttributes(
			semconv.ServiceName(name),
			semconv.ServiceNamespace(name),
			semconv.ServiceInstanceID(name),
			semconv.ServiceVersion(o.config.ServiceVersion),
			semconv.DeploymentEnvironment(o.config.Environment),
			semconv.HostName(o.config.HostName),
		),
		resource.WithAttributes(
			attribute.String("compose_service", name),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	o.resource = res
	return nil
}

// initTracing creates the tracer provider. Spans are batched and shipped
// gzip-compressed over OTLP/gRPC unless processor overrides the pipeline.
func (o *Observability) initTracing(ctx context.Context, processor sdktrace.SpanProcessor) error {
	if processor == nil {
		o.log.Debug("Initializing trace exporter",
			zap.String("endpoint", o.config.OTLPEndpoint),
			zap.Int("batch_size", o.config.TraceBatchSize))

		exporter, err := otlptracegrpc.New(
			ctx,
			otlptracegrpc.WithEndpoint(o.config.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithCompressor("gzip"),
		)
		if err != nil {
			return fmt.Errorf("failed to create OTLP trace exporter: %w", err)
		}

		processor = sdktrace.NewBatchSpanProcessor(exporter,
			sdktrace.WithMaxExportBatchSize(o.config.TraceBatchSize),
		)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(processor),
		sdktrace.WithResource(o.resource),
		sdktrace.WithSampler(sdktrace.ParentBased(
			sdktrace.TraceIDRatioBased(o.config.TraceSamplingRate),
		)),
	)
	o.tracerProvider = provider

	o.cleanupFuncs = append(o.cleanupFuncs, func(ctx context.Context) error {
		o.log.Debug("Shutting down tracer provider")
		if err := provider.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown tracer provider: %w", err)
		}
		return nil
	})

	o.log.Info("Tracing initialized",
		zap.String("endpoint", o.config.OTLPEndpoint),
		zap.Float64("sampling_rate", o.config.TraceSamplingRate))

	return nil
}

// initMetrics creates the meter provider with the Prometheus pull reader and,
// when enabled, a periodic OTLP push reader.
func (o *Observability) initMetrics(ctx context.Context, extra []sdkmetric.Reader) error {
	exposition, err := metrics.NewExposition()
	if err != nil {
		return fmt.Errorf("failed to create Prometheus reader: %w", err)
	}
	o.exposition = exposition

	opts := []sdkmetric.Option{
		sdkmetric.WithResource(o.resource),
		sdkmetric.WithReader(exposition.Reader()),
	}

	if o.config.MetricsOTLPEnabled {
		o.log.Debug("Initializing metrics exporter",
			zap.String("endpoint", o.config.OTLPEndpoint),
			zap.Int("export_interval_sec", o.config.MetricExportIntervalSec))

		exporter, err := otlpmetricgrpc.New(
			ctx,
			otlpmetricgrpc.WithEndpoint(o.config.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
			otlpmetricgrpc.WithCompressor("gzip"),
		)
		if err != nil {
			return fmt.Errorf("failed to create OTLP metric exporter: %w", err)
		}

		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(
			exporter,
			sdkmetric.WithInterval(time.Duration(o.config.MetricExportIntervalSec)*time.Second),
		)))
	}

	for _, reader := range extra {
		opts = append(opts, sdkmetric.WithReader(reader))
	}

	provider := sdkmetric.NewMeterProvider(opts...)
	o.meter = provider.Meter(InstrumentationName)

	o.cleanupFuncs = append(o.cleanupFuncs, func(ctx context.Context) error {
		o.log.Debug("Shutting down meter provider")
		if err := provider.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown meter provider: %w", err)
		}
		return nil
	})

	o.log.Info("Metrics initialized",
		zap.Bool("otlp_push", o.config.MetricsOTLPEnabled),
		zap.String("service", o.config.ServiceName))

	return nil
}

func (o *Observability) initLogs(ctx context.Context, processor sdklog.Processor) error {
	var (
		provider *logs.LogsProvider
		err      error
	)
	if processor != nil {
		provider = logs.NewLogsProviderWithProcessor(processor, o.resource)
	} else {
		provider, err = logs.NewLogsProvider(ctx, o.config.OTLPEndpoint, o.resource)
		if err != nil {
			return err
		}
	}
	o.logsProvider = provider

	o.cleanupFuncs = append(o.cleanupFuncs, func(ctx context.Context) error {
		o.log.Debug("Shutting down logs provider")
		if err := provider.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown logs provider: %w", err)
		}
		return nil
	})

	o.log.Info("Logs export initialized", zap.String("endpoint", o.config.OTLPEndpoint))
	return nil
}

// Shutdown flushes and stops every provider. It keeps going when a provider
// fails and returns the joined errors. The context bounds the whole shutdown,
// capped at 30 seconds.
func (o *Observability) Shutdown(ctx context.Context) error {
	if !o.initialized {
		o.log.Debug("Observability not initialized, skipping shutdown")
		return nil
	}
	return o.shutdown(ctx)
}

func (o *Observability) shutdown(ctx context.Context) error {
	if len(o.cleanupFuncs) == 0 {
		o.initialized = false
		return nil
	}

	o.log.Info("Shutting down observability stack",
		zap.Int("components", len(o.cleanupFuncs)))

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var errs []error
	for i, cleanup := range o.cleanupFuncs {
		if err := cleanup(shutdownCtx); err != nil {
			o.log.Error("Failed to shutdown component",
				zap.Int("index", i+1),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	o.cleanupFuncs = nil
	o.initialized = false

	if len(errs) > 0 {
		return fmt.Errorf("observability shutdown: %w", errors.Join(errs...))
	}

	o.log.Info("Observability stack shutdown complete")
	return nil
}

// Meter returns the service meter, a no-op meter when metrics are disabled.
func (o *Observability) Meter() metric.Meter {
	return o.meter
}

// Tracer returns the service tracer, a no-op tracer when tracing is disabled.
func (o *Observability) Tracer() trace.Tracer {
	return o.tracerProvider.Tracer(InstrumentationName)
}

// IsInitialized reports whether Start has completed and Shutdown has not.
func (o *Observability) IsInitialized() bool {
	return o.initialized
}

// Config returns the configuration the stack was started with.
func (o *Observability) Config() config.Config {
	return o.config
}

func (s *Stack) initializeMetrics(opts *InitOptions) error {
	cfg := s.obs.Config()
	meter := s.obs.Meter()

	httpMetrics, err := metrics.NewHTTPMetrics(meter, cfg.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to create HTTP metrics: %w", err)
	}
	s.HTTP = httpMetrics

	if !cfg.MetricsEnabled {
		return nil
	}

	runtimeMetrics, err := metrics.NewRuntimeMetrics(meter)
	if err != nil {
		return fmt.Errorf("failed to create runtime metrics: %w", err)
	}
	s.Runtime = runtimeMetrics
	s.log.Info("Runtime metrics initialized",
		zap.Int("goroutines", metrics.NumGoroutines()),
		zap.Float64("memory_mb", metrics.MemoryUsageMB()))

	if opts.DisableSystemMetrics || !cfg.SystemMetricsEnabled {
		s.log.Info("System metrics disabled")
		return nil
	}

	systemMetrics, err := metrics.NewSystemMetrics(meter, metrics.SystemMetricsConfig{
		DiskPath: opts.SystemDiskPath,
	})
	if err != nil {
		return fmt.Errorf("failed to create system metrics: %w", err)
	}
	s.System = systemMetrics
	s.log.Info("System metrics initialized", zap.String("disk_path", opts.SystemDiskPath))

	return nil
}

// Shutdown flushes and stops every provider of the stack.
func (s *Stack) Shutdown(ctx context.Context) error {
	return s.obs.Shutdown(ctx)
}

// Config returns the configuration the stack was started with.
func (s *Stack) Config() config.Config {
	return s.obs.Config()
}

// IsInitialized reports whether the stack is running.
func (s *Stack) IsInitialized() bool {
	return s.obs.IsInitialized()
}

// Meter returns the service meter for custom instruments.
func (s *Stack) Meter() metric.Meter {
	return s.obs.Meter()
}

// Tracer returns the service tracer.
func (s *Stack) Tracer() trace.Tracer {
	return s.obs.Tracer()
}

// TracerProvider returns the tracer provider, a no-op one when tracing is
// disabled.
func (s *Stack) TracerProvider() trace.TracerProvider {
	return s.obs.tracerProvider
}

// Propagator returns the W3C trace context and baggage propagator.
func (s *Stack) Propagator() propagation.TextMapPropagator {
	return s.obs.propagator
}

// HTTPClient returns the traced client for outbound calls.
func (s *Stack) HTTPClient() *http.Client {
	return s.client
}

// MetricsHandler serves the Prometheus exposition, or returns nil when
// metrics are disabled.
func (s *Stack) MetricsHandler() http.Handler {
	if s.obs.exposition == nil {
		return nil
	}
	return s.obs.exposition.Handler()
}

// MetricsServer returns the dedicated exposition server listening on addr,
// or nil when metrics are disabled.
func (s *Stack) MetricsServer(addr string) *http.Server {
	if s.obs.exposition == nil {
		return nil
	}
	return s.obs.exposition.Server(addr)
}

// EnableLogsExport returns log teed into the OTLP logs pipeline. Entries keep
// going to log's own core as well. Without a logs provider log is returned
// unchanged.
func (s *Stack) EnableLogsExport(log *zap.Logger) *zap.Logger {
	if s.obs.logsProvider == nil {
		return log
	}
	return logs.Tee(log, logs.OTELCore(s.obs.logsProvider.Provider(), log.Level()))
}
