// Package otel wires OpenTelemetry tracing for stage processes.
package otel

import (
	"context"
	"os"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the tracer name used by stage packages.
const InstrumentationName = "github.com/louisbranch/yesand"

// Setup initialises OpenTelemetry tracing for the given service.
//
// Tracing is opt-in: when YESAND_OTEL_ENDPOINT is empty or
// YESAND_OTEL_ENABLED is "false", Setup returns a no-op shutdown function and
// the global provider stays the default no-op provider.
func Setup(ctx context.Context, serviceName string) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	if strings.EqualFold(os.Getenv("YESAND_OTEL_ENABLED"), "false") {
		return noop, nil
	}

	endpoint := strings.TrimSpace(os.Getenv("YESAND_OTEL_ENDPOINT"))
	if endpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(endpoint),
	)
	if err != nil {
		return noop, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return noop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(SampleRatio()))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}

// SampleRatio reads YESAND_OTEL_SAMPLE_RATIO, defaulting to sampling every
// trace when the value is missing or outside [0, 1].
func SampleRatio() float64 {
	raw := strings.TrimSpace(os.Getenv("YESAND_OTEL_SAMPLE_RATIO"))
	if raw == "" {
		return 1
	}
	ratio, err := strconv.ParseFloat(raw, 64)
	if err != nil || ratio < 0 || ratio > 1 {
		return 1
	}
	return ratio
}

// Tracer returns the package tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}
