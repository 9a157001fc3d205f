package metrics

import (
	"go.opentelemetry.io/otel/metric"
)

// Namespace prefixes every instrument this service registers.
const Namespace = "chainapp"

// name joins Namespace and suffix with an underscore, the separator the
// Prometheus exposition keeps verbatim.
func name(suffix string) string {
	return Namespace + "_" + suffix
}

// Counter creates a monotonically increasing Int64 counter.
//
// Units in braces (e.g. "{request}") are annotations and are dropped from
// the exposed Prometheus name; the exporter appends "_total".
func Counter(meter metric.Meter, name, description, unit string) (metric.Int64Counter, error) {
	return meter.Int64Counter(
		name,
		metric.WithDescription(description),
		metric.WithUnit(unit),
	)
}

// Histogram creates a Float64 histogram, with explicit bucket boundaries
// when buckets is non-empty.
func Histogram(meter metric.Meter, name, description, unit string, buckets []float64) (metric.Float64Histogram, error) {
	opts := []metric.Float64HistogramOption{
		metric.WithDescription(description),
		metric.WithUnit(unit),
	}

	if len(buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}

	return meter.Float64Histogram(name, opts...)
}

// Gauge creates an Int64 up-down counter, exposed as a Prometheus gauge.
func Gauge(meter metric.Meter, name, description, unit string) (metric.Int64UpDownCounter, error) {
	return meter.Int64UpDownCounter(
		name,
		metric.WithDescription(description),
		metric.WithUnit(unit),
	)
}
