package tracing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

var testPropagator = propagation.NewCompositeTextMapPropagator(
	propagation.TraceContext{},
	propagation.Baggage{},
)

func newRecorder(t *testing.T) (*sdktrace.TracerProvider, *tracetest.SpanRecorder) {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, recorder
}

func TestMiddleware_NamesSpanByRoute(t *testing.T) {
	tp, recorder := newRecorder(t)
	tr := NewHTTPTracing(tp.Tracer("test"), testPropagator)

	r := chi.NewRouter()
	r.Use(tr.Middleware())
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, trace.SpanContextFromContext(r.Context()).IsValid())
		w.WriteHeader(http.StatusNoContent)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/items/42", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /items/{id}", spans[0].Name())
	assert.Equal(t, trace.SpanKindServer, spans[0].SpanKind())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
}

func TestMiddleware_ContinuesInboundTrace(t *testing.T) {
	tp, recorder := newRecorder(t)
	tr := NewHTTPTracing(tp.Tracer("test"), testPropagator)

	ctx, parent := tp.Tracer("caller").Start(context.Background(), "caller")
	headers := Headers(ctx, testPropagator)
	parent.End()

	h := tr.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	h.ServeHTTP(httptest.NewRecorder(), req)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	server := spans[1]
	assert.Equal(t, parent.SpanContext().TraceID(), server.SpanContext().TraceID())
	assert.Equal(t, parent.SpanContext().SpanID(), server.Parent().SpanID())
	assert.True(t, server.Parent().IsRemote())
}

func TestMiddleware_MarksServerErrors(t *testing.T) {
	tp, recorder := newRecorder(t)
	tr := NewHTTPTracing(tp.Tracer("test"), testPropagator)

	h := tr.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/error_test", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestMiddleware_PanicEndsSpan(t *testing.T) {
	tp, recorder := newRecorder(t)
	tr := NewHTTPTracing(tp.Tracer("test"), testPropagator)

	h := tr.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	assert.PanicsWithValue(t, "boom", func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestHeaders(t *testing.T) {
	tp, _ := newRecorder(t)

	t.Run("without span", func(t *testing.T) {
		assert.Empty(t, Headers(context.Background(), testPropagator))
	})

	t.Run("with span", func(t *testing.T) {
		ctx, span := tp.Tracer("test").Start(context.Background(), "op")
		defer span.End()

		headers := Headers(ctx, testPropagator)
		sc := span.SpanContext()
		want := "00-" + sc.TraceID().String() + "-" + sc.SpanID().String() + "-01"
		assert.Equal(t, want, headers["traceparent"])
	})
}

func TestDumpHeaders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	headers := map[string]string{"traceparent": "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01"}

	require.NoError(t, DumpHeaders(path, headers))
	require.NoError(t, DumpHeaders(path, headers))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n    \"traceparent\"")

	var got map[string]string
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, headers, got)

	err = DumpHeaders(filepath.Join(t.TempDir(), "missing", "data.json"), headers)
	assert.Error(t, err)
}

func TestNewClient_InjectsClientSpan(t *testing.T) {
	tp, recorder := newRecorder(t)

	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("traceparent")
	}))
	defer srv.Close()

	ctx, parent := tp.Tracer("test").Start(context.Background(), "parent")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/io_task", nil)
	require.NoError(t, err)
	resp, err := NewClient(tp, testPropagator).Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	parent.End()

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	client := spans[0]
	assert.Equal(t, trace.SpanKindClient, client.SpanKind())
	assert.Equal(t, "GET /io_task", client.Name())
	assert.Equal(t, parent.SpanContext().TraceID(), client.SpanContext().TraceID())

	want := "00-" + client.SpanContext().TraceID().String() + "-" + client.SpanContext().SpanID().String() + "-01"
	assert.Equal(t, want, got)
}
