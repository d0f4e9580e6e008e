package tracing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope used by codexmcp packages.
const TracerName = "codexmcp"

// Span exporters
const (
	ExporterFile = "file"
	ExporterOTLP = "otlp"
)

// Config selects where finished spans are sent.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// Exporter is ExporterFile (JSON lines, one span per line) or ExporterOTLP.
	Exporter string
	// File receives spans for ExporterFile. Never stdout: it carries MCP.
	File string
	// Endpoint is the OTLP gRPC collector address, e.g. localhost:4317.
	Endpoint string
	Insecure bool
	// SampleRatio in [0, 1]; zero samples everything.
	SampleRatio float64
}

// Provider owns the global tracer provider installed by Setup.
type Provider struct {
	tp   *sdktrace.TracerProvider
	sink io.Closer
}

// Setup builds the exporter named by cfg and installs a batching tracer
// provider as the otel global.
func Setup(ctx context.Context, cfg Config) (*Provider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, sink, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{tp: tp, sink: sink}, nil
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, io.Closer, error) {
	switch cfg.Exporter {
	case ExporterFile, "":
		if cfg.File == "" {
			return nil, nil, errors.New("tracing file is required for the file exporter")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create trace directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open trace file: %w", err)
		}
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(f))
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("failed to create file exporter: %w", err)
		}
		return exporter, f, nil

	case ExporterOTLP:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}
		return exporter, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown trace exporter %q", cfg.Exporter)
	}
}

// Shutdown flushes pending spans, stops the provider and closes the trace file.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	err := p.tp.Shutdown(ctx)
	if p.sink != nil {
		err = errors.Join(err, p.sink.Close())
		p.sink = nil
	}
	return err
}

// StartSpan starts a span and copies its trace id into the request context
// so loggers and audit events carry it.
func StartSpan(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := otel.Tracer(TracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))

	if GetTraceID(ctx) == "" {
		if sc := span.SpanContext(); sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}

	return ctx, span
}
