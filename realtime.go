// Copyright 2021 William Perron. All rights reserved. MIT License.
package profiler

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// newRealtimeProcessor streams spans to an OTLP collector such as a local
// Jaeger or Tempo instance. Endpoint and headers come from the exporter's
// defaults and the standard OTEL_EXPORTER_OTLP_* variables. The connection is
// established lazily, so a missing collector does not block startup.
func newRealtimeProcessor(ctx context.Context) (sdktrace.SpanProcessor, error) {
	exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, errors.Wrap(err, "creating realtime trace exporter")
	}
	return sdktrace.NewBatchSpanProcessor(exp), nil
}
