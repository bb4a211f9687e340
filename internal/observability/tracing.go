package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"

	defaultOTLPEndpoint = "localhost:4317"
	shutdownTimeout     = 5 * time.Second
)

// TracingConfig selects the span exporter and describes the deployment
// recorded on every span.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Exporter    string // stdout | otlp
	Endpoint    string // otlp collector, host:port
	SampleRatio float64

	// LiveSource is the configured live reading source (modem, mqtt, none).
	LiveSource string
	// ReferenceLat and ReferenceLon are the estimator's projection origin.
	ReferenceLat float64
	ReferenceLon float64

	// Writer receives stdout-exporter spans; nil means stderr so that CLI
	// output on stdout stays clean.
	Writer io.Writer
}

func (cfg TracingConfig) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.namespace", "towerloc"),
		attribute.Float64("towerloc.reference.lat", cfg.ReferenceLat),
		attribute.Float64("towerloc.reference.lon", cfg.ReferenceLon),
	}
	if cfg.LiveSource != "" {
		attrs = append(attrs, attribute.String("towerloc.live_source", cfg.LiveSource))
	}
	return attrs
}

// InitTracing installs the global tracer provider and returns the function
// that flushes it. With tracing disabled a noop provider is installed so
// spans started by the locate flow cost nothing.
func InitTracing(ctx context.Context, cfg TracingConfig, log *slog.Logger) (func(context.Context) error, error) {
	if log == nil {
		log = slog.Default()
	}

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		log.Debug("tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	tp, err := newTracerProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info("tracing enabled",
		"exporter", cfg.Exporter,
		"service_name", cfg.ServiceName,
		"live_source", cfg.LiveSource,
		"sample_ratio", cfg.SampleRatio,
	)
	return tp.Shutdown, nil
}

func newTracerProvider(ctx context.Context, cfg TracingConfig) (*sdktrace.TracerProvider, error) {
	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(cfg.attributes()...))
	if err != nil {
		return nil, fmt.Errorf("building trace resource: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	), nil
}

func newExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case ExporterStdout, "":
		w := cfg.Writer
		if w == nil {
			w = os.Stderr
		}
		return stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithoutTimestamps())
	case ExporterOTLP:
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = defaultOTLPEndpoint
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	default:
		return nil, fmt.Errorf("unknown tracing exporter %q", cfg.Exporter)
	}
}

// ShutdownWithTimeout flushes pending spans, giving up after five seconds.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log *slog.Logger) {
	if shutdown == nil {
		return
	}
	if log == nil {
		log = slog.Default()
	}

	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn("tracing shutdown failed", "err", err)
	}
}
