package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Exposition bridges the OpenTelemetry meter provider to a private
// Prometheus registry and serves it in the text exposition format.
type Exposition struct {
	registry *prometheus.Registry
	reader   *otelprom.Exporter
}

// NewExposition creates the registry and the pull reader that feeds it. The
// reader must be attached to the meter provider with sdkmetric.WithReader.
func NewExposition() (*Exposition, error) {
	registry := prometheus.NewRegistry()

	reader, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}

	return &Exposition{registry: registry, reader: reader}, nil
}

// Reader returns the metric reader to register on the meter provider.
func (e *Exposition) Reader() sdkmetric.Reader {
	return e.reader
}

// Registry returns the Prometheus registry backing the exposition.
func (e *Exposition) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the registry contents. OpenMetrics is negotiated when the
// scraper asks for it; collection errors still return the healthy series.
func (e *Exposition) Handler() http.Handler {
	return promhttp.HandlerFor(
		e.registry,
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
			ErrorHandling:     promhttp.ContinueOnError,
		},
	)
}

// Server returns an HTTP server for the dedicated exposition port, serving
// only /metrics.
func (e *Exposition) Server(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
