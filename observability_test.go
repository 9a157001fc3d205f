package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"github.com/gath-stack/chainapp/internal/config"
	"github.com/gath-stack/chainapp/internal/logs"
)

type recordingExporter struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (e *recordingExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range records {
		e.records = append(e.records, r.Clone())
	}
	return nil
}

func (e *recordingExporter) Shutdown(context.Context) error   { return nil }
func (e *recordingExporter) ForceFlush(context.Context) error { return nil }

func (e *recordingExporter) len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.records)
}

func testConfig() config.Config {
	return config.Config{
		ServiceName:             "app-a",
		ServiceVersion:          "1.0.0",
		Environment:             "test",
		HostName:                "localhost",
		HTTPPort:                5000,
		MetricsPort:             8000,
		SelfURL:                 "http://localhost:5000",
		TargetOneURL:            "http://app-b:5000",
		TargetTwoURL:            "http://app-c:5000",
		OTLPEndpoint:            "localhost:4317",
		MetricsEnabled:          true,
		TracingEnabled:          true,
		LogsEnabled:             true,
		MetricExportIntervalSec: 10,
		TraceSamplingRate:       1.0,
		TraceBatchSize:          512,
		LogLevel:                "info",
	}
}

func TestInitWithConfig_AllComponents(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	exporter := &recordingExporter{}

	stack, err := InitWithConfig(context.Background(), testConfig(), zap.NewNop(), &InitOptions{
		SpanProcessor: spans,
		LogProcessor:  sdklog.NewSimpleProcessor(exporter),
	})
	require.NoError(t, err)
	require.True(t, stack.IsInitialized())

	assert.NotNil(t, stack.HTTP)
	assert.NotNil(t, stack.Tracing)
	assert.NotNil(t, stack.Runtime)
	assert.Nil(t, stack.System, "system metrics are off in the test config")
	assert.NotNil(t, stack.HTTPClient())

	ctx, span := stack.Tracer().Start(context.Background(), "op")
	assert.True(t, span.SpanContext().IsSampled())

	log := stack.EnableLogsExport(zap.NewExample())
	logs.WithTrace(ctx, log).Info("hello")
	span.End()

	require.Len(t, spans.Ended(), 1)
	assert.Equal(t, "op", spans.Ended()[0].Name())
	assert.Equal(t, 1, exporter.len())

	headers := make(http.Header)
	stack.Propagator().Inject(ctx, propagation.HeaderCarrier(headers))
	assert.NotEmpty(t, headers.Get("traceparent"))

	srv := httptest.NewServer(stack.MetricsHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	assert.Contains(t, string(body), `chainapp_app_info_total`)
	assert.Contains(t, string(body), `app_name="app-a"`)
	assert.Contains(t, string(body), `chainapp_go_goroutines`)
	assert.Contains(t, string(body), `compose_service="app-a"`)

	assert.NotNil(t, stack.MetricsServer(":0"))

	require.NoError(t, stack.Shutdown(context.Background()))
	assert.False(t, stack.IsInitialized())
	require.NoError(t, stack.Shutdown(context.Background()))
}

func TestInitWithConfig_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.MetricsEnabled = false
	cfg.TracingEnabled = false
	cfg.LogsEnabled = false

	stack, err := InitWithConfig(context.Background(), cfg, zap.NewNop(), nil)
	require.NoError(t, err)

	assert.NotNil(t, stack.HTTP, "instrumentation stays usable against a no-op meter")
	assert.Nil(t, stack.Runtime)
	assert.Nil(t, stack.MetricsHandler())
	assert.Nil(t, stack.MetricsServer(":0"))

	_, span := stack.Tracer().Start(context.Background(), "op")
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	log := zap.NewNop()
	assert.Same(t, log, stack.EnableLogsExport(log))

	require.NoError(t, stack.Shutdown(context.Background()))
}

func TestInitWithConfig_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.ServiceName = ""

	_, err := InitWithConfig(context.Background(), cfg, zap.NewNop(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ServiceName is required")
}

func TestInit_MissingServiceName(t *testing.T) {
	t.Setenv("SERVICE_APP_NAME", "")
	t.Setenv("APP_NAME", "")

	_, err := Init(zap.NewNop(), nil)
	require.ErrorIs(t, err, config.ErrMissingServiceName)
}
