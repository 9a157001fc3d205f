// Package web defines the error-returning handler shape used by the service
// and the outermost layer that turns a handler error into a response.
//
// Handlers return errors instead of writing failure responses themselves so
// that middleware (see metrics.HTTPMetrics.Instrument) can observe the
// original error before it reaches Handle.
package web

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/gath-stack/chainapp/internal/logs"
)

// HandlerFunc is an http.HandlerFunc that may fail.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Middleware wraps a HandlerFunc.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain applies mws to h so that mws[0] is the outermost.
func Chain(h HandlerFunc, mws ...Middleware) HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Handle adapts h to net/http. An error returned by h is logged with the
// request's trace identifiers and answered with 500 Internal Server Error,
// unless the handler already started the response.
func Handle(log *zap.Logger, h HandlerFunc, mws ...Middleware) http.HandlerFunc {
	h = Chain(h, mws...)

	return func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		err := h(ww, r)
		if err == nil {
			return
		}

		logs.WithTrace(r.Context(), log).Error("Unhandled handler error",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))

		if ww.Status() != 0 {
			return
		}
		_ = JSON(ww, http.StatusInternalServerError, map[string]string{
			"error": http.StatusText(http.StatusInternalServerError),
		})
	}
}

// JSON writes v as an application/json body with the given status.
func JSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// Text writes s as a text/plain body with the given status.
func Text(w http.ResponseWriter, status int, s string) error {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, err := w.Write([]byte(s))
	return err
}
