// Package tracing sets up the OpenTelemetry tracer used around trade
// execution stages. Spans are exported as JSON to stderr, stdout or a file;
// when tracing is disabled StartSpan returns the span already in the context.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "solana-position-engine"

var (
	tracer         trace.Tracer
	tracerProvider *sdktrace.TracerProvider
	enabled        bool
	outputFile     *os.File
)

// Config configures Init.
type Config struct {
	Enabled     bool
	ServiceName string
	// Destination is "stderr" (default), "stdout" or a file path spans are
	// appended to. Ignored when Output is set.
	Destination string
	Output      io.Writer
	PrettyPrint bool
}

func openOutput(dest string) (io.Writer, error) {
	switch dest {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace output: %w", err)
	}
	outputFile = f
	return f, nil
}

// Init installs the global tracer provider.
func Init(cfg Config) error {
	enabled = cfg.Enabled
	if !enabled {
		return nil
	}

	out := cfg.Output
	if out == nil {
		var err error
		if out, err = openOutput(cfg.Destination); err != nil {
			return err
		}
	}
	opts := []stdouttrace.Option{stdouttrace.WithWriter(out)}
	if cfg.PrettyPrint {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return err
	}

	name := cfg.ServiceName
	if name == "" {
		name = tracerName
	}
	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(semconv.ServiceName(name)),
	)
	if err != nil {
		return err
	}

	tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)
	tracer = otel.Tracer(tracerName)
	return nil
}

// Shutdown flushes pending spans and closes the output file, if any.
func Shutdown(ctx context.Context) error {
	var err error
	if tracerProvider != nil {
		err = tracerProvider.Shutdown(ctx)
	}
	if outputFile != nil {
		err = errors.Join(err, outputFile.Close())
		outputFile = nil
	}
	return err
}

// StartSpan starts a span named name with attrs.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if !enabled || tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Enabled reports whether Init installed a tracer.
func Enabled() bool {
	return enabled
}

// TraceFields returns the trace and span ids in ctx for log correlation.
func TraceFields(ctx context.Context) (traceID, spanID string, ok bool) {
	if !enabled {
		return "", "", false
	}
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return "", "", false
	}
	return sc.TraceID().String(), sc.SpanID().String(), true
}
