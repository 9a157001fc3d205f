// Package app holds the HTTP surface of the chain service: the demo
// endpoints, the multi-hop /chain endpoint and the router that puts the
// observability middleware in front of them.
package app

import (
	"crypto/rand"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	observability "github.com/gath-stack/chainapp"
	"github.com/gath-stack/chainapp/internal/config"
	"github.com/gath-stack/chainapp/internal/logs"
	"github.com/gath-stack/chainapp/internal/web"
)

// Application serves the endpoints. It is safe for concurrent use.
type Application struct {
	log    *zap.Logger
	stack  *observability.Stack
	client *http.Client

	selfURL      string
	targetOneURL string
	targetTwoURL string
	headersFile  string

	sleep     func(time.Duration)
	randomInt func(n int64) int64
}

// Option customises an Application.
type Option func(*Application)

// WithSleep replaces time.Sleep in the simulated I/O endpoints.
func WithSleep(sleep func(time.Duration)) Option {
	return func(app *Application) { app.sleep = sleep }
}

// WithRandom replaces the source of /random_sleep durations. randomInt must
// return a value in [0, n).
func WithRandom(randomInt func(n int64) int64) Option {
	return func(app *Application) { app.randomInt = randomInt }
}

// WithClient replaces the stack's traced client for outbound chain calls.
func WithClient(client *http.Client) Option {
	return func(app *Application) { app.client = client }
}

// New builds the application. Chain targets and the headers file are taken
// from cfg once and never re-read.
func New(log *zap.Logger, stack *observability.Stack, cfg config.Config, opts ...Option) *Application {
	app := &Application{
		log:          log,
		stack:        stack,
		client:       stack.HTTPClient(),
		selfURL:      cfg.SelfURL,
		targetOneURL: cfg.TargetOneURL,
		targetTwoURL: cfg.TargetTwoURL,
		headersFile:  cfg.HeadersFile,
		sleep:        time.Sleep,
		randomInt:    randomInt,
	}
	for _, opt := range opts {
		opt(app)
	}
	return app
}

// Router wires the base middleware, the server span and the request
// instrumentation in front of every endpoint. Unmatched paths and methods
// go through the same instrumentation as the routes.
func (app *Application) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(app.loggingMiddleware)
	r.Use(app.stack.Tracing.Middleware())

	r.Get("/health", app.handle(app.healthHandler))
	r.Get("/", app.handle(app.indexHandler))
	r.Get("/io_task", app.handle(app.ioTaskHandler))
	r.Get("/cpu_task", app.handle(app.cpuTaskHandler))
	r.Get("/random_status", app.handle(app.randomStatusHandler))
	r.Get("/random_sleep", app.handle(app.randomSleepHandler))
	r.Get("/error_test", app.handle(app.errorTestHandler))
	r.HandleFunc("/chain", app.handle(app.chainHandler))

	if h := app.stack.MetricsHandler(); h != nil {
		r.Get("/metrics", app.handle(func(w http.ResponseWriter, r *http.Request) error {
			h.ServeHTTP(w, r)
			return nil
		}))
	}

	r.NotFound(app.handle(notFoundHandler))
	r.MethodNotAllowed(app.handle(methodNotAllowedHandler))

	return r
}

func (app *Application) handle(h web.HandlerFunc) http.HandlerFunc {
	return web.Handle(app.log, h, app.stack.HTTP.Instrument)
}

func (app *Application) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logs.WithTrace(r.Context(), app.log).Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.Int("bytes", ww.BytesWritten()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("remote_addr", r.RemoteAddr))
	})
}

// randomInt returns a uniform value in [0, n), or 0 if the system random
// source fails.
func randomInt(n int64) int64 {
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return 0
	}
	return v.Int64()
}
