package metrics

import (
	"context"
	"net/http"
	"reflect"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/gath-stack/chainapp/internal/web"
)

// Attribute keys shared by every request series.
const (
	AttrMethod        = "method"
	AttrPath          = "path"
	AttrAppName       = "app_name"
	AttrStatusCode    = "status_code"
	AttrExceptionType = "exception_type"
)

// Instrument names before exporter suffixes are applied.
var (
	InfoName               = name("app_info")
	RequestsName           = name("requests")
	ResponsesName          = name("responses")
	ExceptionsName         = name("exceptions")
	ProcessingTimeName     = name("requests_duration")
	RequestsInProgressName = name("requests_in_progress")
)

// HTTPMetrics holds the request lifecycle instruments.
//
// All instruments are safe for concurrent use; a single HTTPMetrics is shared
// by every route of the process.
type HTTPMetrics struct {
	appName string

	info               metric.Int64Counter
	requestsTotal      metric.Int64Counter
	responsesTotal     metric.Int64Counter
	exceptionsTotal    metric.Int64Counter
	processingTime     metric.Float64Histogram
	requestsInProgress metric.Int64UpDownCounter
}

// NewHTTPMetrics registers the request instruments on meter and increments the
// static info counter once for appName.
func NewHTTPMetrics(meter metric.Meter, appName string) (*HTTPMetrics, error) {
	info, err := Counter(meter, InfoName, "Application information", "{info}")
	if err != nil {
		return nil, err
	}

	requestsTotal, err := Counter(meter, RequestsName, "Total count of requests", "{request}")
	if err != nil {
		return nil, err
	}

	responsesTotal, err := Counter(meter, ResponsesName, "Total count of responses", "{response}")
	if err != nil {
		return nil, err
	}

	exceptionsTotal, err := Counter(meter, ExceptionsName, "Total count of exceptions", "{exception}")
	if err != nil {
		return nil, err
	}

	processingTime, err := Histogram(meter, ProcessingTimeName,
		"Duration of inbound requests",
		"s",
		[]float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	)
	if err != nil {
		return nil, err
	}

	requestsInProgress, err := Gauge(meter, RequestsInProgressName,
		"Requests currently being processed by method and path",
		"{request}",
	)
	if err != nil {
		return nil, err
	}

	info.Add(context.Background(), 1, metric.WithAttributes(attribute.String(AttrAppName, appName)))

	return &HTTPMetrics{
		appName:            appName,
		info:               info,
		requestsTotal:      requestsTotal,
		responsesTotal:     responsesTotal,
		exceptionsTotal:    exceptionsTotal,
		processingTime:     processingTime,
		requestsInProgress: requestsInProgress,
	}, nil
}

// Instrument wraps next with request lifecycle accounting.
//
// On entry requests_in_progress and requests_total are incremented. A
// failure of next, returned error or panic, increments exceptions_total
// tagged with the failure's type name and is passed on untouched. A success
// records the elapsed time in the processing-time histogram. Whatever the
// outcome, responses_total is incremented with the status code (500 on
// failure) and requests_in_progress is decremented before Instrument returns.
func (h *HTTPMetrics) Instrument(next web.HandlerFunc) web.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) (err error) {
		ctx := r.Context()
		base := []attribute.KeyValue{
			attribute.String(AttrMethod, r.Method),
			attribute.String(AttrPath, routePattern(r)),
			attribute.String(AttrAppName, h.appName),
		}
		baseAttrs := metric.WithAttributeSet(attribute.NewSet(base...))

		h.requestsInProgress.Add(ctx, 1, baseAttrs)
		h.requestsTotal.Add(ctx, 1, baseAttrs)

		status := http.StatusInternalServerError
		defer func() {
			h.responsesTotal.Add(ctx, 1, metric.WithAttributes(
				append(base[:len(base):len(base)], attribute.Int(AttrStatusCode, status))...))
			h.requestsInProgress.Add(ctx, -1, baseAttrs)
		}()

		defer func() {
			if p := recover(); p != nil {
				h.recordException(ctx, base, p)
				panic(p)
			}
		}()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		if err = next(ww, r); err != nil {
			h.recordException(ctx, base, err)
			return err
		}

		status = ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.processingTime.Record(ctx, time.Since(start).Seconds(), baseAttrs)
		return nil
	}
}

func (h *HTTPMetrics) recordException(ctx context.Context, base []attribute.KeyValue, failure any) {
	h.exceptionsTotal.Add(ctx, 1, metric.WithAttributes(
		append(base[:len(base):len(base)], attribute.String(AttrExceptionType, exceptionType(failure)))...))

	span := trace.SpanFromContext(ctx)
	if err, ok := failure.(error); ok {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Error, "panic")
	}
}

// exceptionType names the concrete type of a failure value, pointer
// indirections stripped: *app.ValueError reports "ValueError".
func exceptionType(v any) string {
	t := reflect.TypeOf(v)
	if t == nil {
		return "unknown"
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return t.String()
	}
	return t.Name()
}

// routePattern returns the chi route template, or the raw path when the
// request was not routed by chi.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}
