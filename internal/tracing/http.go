package tracing

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// HTTPTracing opens the server span of every inbound request.
//
// The inbound propagation headers are extracted first, so a request that
// arrives from another hop of a chain continues the caller's trace instead
// of starting a new one.
type HTTPTracing struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// NewHTTPTracing builds the server tracing middleware. It is safe to share
// one instance across routers.
func NewHTTPTracing(tracer trace.Tracer, propagator propagation.TextMapPropagator) *HTTPTracing {
	return &HTTPTracing{
		tracer:     tracer,
		propagator: propagator,
	}
}

// Middleware returns a chi-compatible middleware creating one server span per
// request.
//
// The span starts with a temporary name and is renamed to "METHOD /pattern"
// once the handler has run, because chi only fills the route context while
// routing. Status codes >= 400 and panics mark the span as failed.
func (h *HTTPTracing) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := h.propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			ctx, span := h.tracer.Start(ctx, "HTTP "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.scheme", scheme(r)),
					attribute.String("http.host", r.Host),
					attribute.String("http.target", r.URL.Path),
					attribute.String("http.user_agent", r.UserAgent()),
					attribute.String("http.client_ip", clientIP(r)),
				),
			)
			defer span.End()

			wrapped := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			defer func() {
				if p := recover(); p != nil {
					span.SetStatus(codes.Error, fmt.Sprint(p))
					span.SetAttributes(attribute.Bool("error", true))
					panic(p)
				}
			}()

			next.ServeHTTP(wrapped, r.WithContext(ctx))

			routePattern := getRoutePattern(r)
			span.SetName(r.Method + " " + routePattern)
			span.SetAttributes(
				attribute.String("http.route", routePattern),
				attribute.Int("http.status_code", wrapped.statusCode),
				attribute.Int64("http.response_content_length", wrapped.bytesWritten),
			)

			if wrapped.statusCode >= 400 {
				span.SetStatus(codes.Error, http.StatusText(wrapped.statusCode))
				span.SetAttributes(attribute.Bool("error", true))
			} else {
				span.SetStatus(codes.Ok, "")
			}
		})
	}
}

// responseWriter captures the status code and body size.
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
	wroteHeader  bool
}

func (w *responseWriter) WriteHeader(statusCode int) {
	if !w.wroteHeader {
		w.statusCode = statusCode
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// getRoutePattern returns the chi route template ("/users/{id}") and falls
// back to the raw path for unrouted requests.
func getRoutePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func scheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}
