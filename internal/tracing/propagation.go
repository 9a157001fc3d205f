package tracing

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.opentelemetry.io/otel/propagation"
)

// Headers serialises the span context and baggage carried by ctx into a
// fresh header set. With the W3C propagator the result holds "traceparent"
// and, when present, "tracestate" and "baggage". A context without a valid
// span yields an empty map.
func Headers(ctx context.Context, propagator propagation.TextMapPropagator) map[string]string {
	carrier := propagation.MapCarrier{}
	propagator.Inject(ctx, carrier)
	return carrier
}

// DumpHeaders overwrites path with headers as 4-space indented JSON.
// Concurrent writers are not serialised; the last one wins.
func DumpHeaders(path string, headers map[string]string) error {
	data, err := json.MarshalIndent(headers, "", "    ")
	if err != nil {
		return fmt.Errorf("encode headers: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write headers file %s: %w", path, err)
	}
	return nil
}
