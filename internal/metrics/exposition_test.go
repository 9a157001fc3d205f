package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func TestExposition_ServesRequestSeries(t *testing.T) {
	exp, err := NewExposition()
	require.NoError(t, err)

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exp.Reader()))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := NewHTTPMetrics(provider.Meter("test"), "demo")
	require.NoError(t, err)

	_ = m.Instrument(func(w http.ResponseWriter, r *http.Request) error {
		w.WriteHeader(http.StatusOK)
		return nil
	})(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	count, err := testutil.GatherAndCount(exp.Registry(),
		"chainapp_requests_total",
		"chainapp_responses_total",
		"chainapp_requests_in_progress",
		"chainapp_requests_duration_seconds",
		"chainapp_app_info_total",
	)
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	srv := httptest.NewServer(exp.Server("").Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `chainapp_requests_total{`)
	assert.Contains(t, string(body), `app_name="demo"`)

	notFound, err := http.Get(srv.URL + "/other")
	require.NoError(t, err)
	notFound.Body.Close()
	assert.Equal(t, http.StatusNotFound, notFound.StatusCode)
}

func TestRuntimeAndSystemMetrics_Register(t *testing.T) {
	exp, err := NewExposition()
	require.NoError(t, err)

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exp.Reader()))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	meter := provider.Meter("test")
	_, err = NewRuntimeMetrics(meter)
	require.NoError(t, err)
	_, err = NewSystemMetrics(meter, SystemMetricsConfig{})
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(exp.Registry(), "chainapp_go_goroutines")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	assert.Greater(t, NumGoroutines(), 0)
	assert.Greater(t, MemoryUsageMB(), 0.0)
}
