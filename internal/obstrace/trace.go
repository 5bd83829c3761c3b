// Package obstrace initializes OpenTelemetry tracing, adapted from the
// teacher library's pkg/telemetry. Init only registers the global
// TracerProvider and its exporter; the router, pub/sub drivers and rate
// limiters in this module do not open spans of their own.
package obstrace

import (
	"context"

	"github.com/chris-alexander-pop/wsrouter/internal/wserr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config configures the OTLP exporter.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
}

// Init sets up an OTLP gRPC trace exporter and registers it as the global
// TracerProvider. The returned shutdown func flushes and closes the
// exporter; callers should defer it.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, wserr.New(wserr.Internal, "failed to build telemetry resource", err)
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, wserr.New(wserr.Internal, "failed to create trace exporter", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
