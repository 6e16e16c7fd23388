package tracing

import (
	"context"
	"fmt"
	"net"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	propjaeger "go.opentelemetry.io/contrib/propagators/jaeger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// EndpointType represents the type of the tracing endpoint.
type EndpointType string

const (
	EndpointTypeCollector EndpointType = "collector"
	EndpointTypeAgent     EndpointType = "agent"
	EndpointTypeOTel      EndpointType = "otel"
)

// Config selects where spans are exported. An empty Endpoint disables tracing.
type Config struct {
	ServiceName      string
	Endpoint         string
	EndpointType     EndpointType
	SamplingFraction float64
}

// ShutdownFunc flushes and stops a tracer provider.
type ShutdownFunc func(context.Context) error

// InitTracer installs a global tracer provider for cfg and returns it along
// with its shutdown function. Errors of the exporter are reported to logger.
func InitTracer(ctx context.Context, logger log.Logger, cfg Config) (trace.TracerProvider, ShutdownFunc, error) {
	noop := func(context.Context) error { return nil }
	nopTracerProvider := trace.NewNoopTracerProvider()
	otel.SetTracerProvider(nopTracerProvider)

	if cfg.Endpoint == "" {
		return nopTracerProvider, noop, nil
	}

	r, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String(cfg.ServiceName)))
	if err != nil {
		return nopTracerProvider, noop, fmt.Errorf("create resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch cfg.EndpointType {
	case EndpointTypeAgent, EndpointTypeCollector:
		exporter, err = newJaegerExporter(cfg.EndpointType, cfg.Endpoint)
	case EndpointTypeOTel:
		exporter, err = otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure())
		if err != nil {
			err = fmt.Errorf("create otel exporter: %w", err)
		}
	default:
		err = fmt.Errorf("invalid endpoint type: %s", cfg.EndpointType)
	}
	if err != nil {
		return nopTracerProvider, noop, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(r),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingFraction))),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propjaeger.Jaeger{},
		propagation.Baggage{},
	))
	otel.SetErrorHandler(errorHandler{logger: logger})

	return provider, provider.Shutdown, nil
}

func newJaegerExporter(endpointType EndpointType, endpoint string) (*jaeger.Exporter, error) {
	var endpointOption jaeger.EndpointOption
	if endpointType == EndpointTypeAgent {
		host, port, err := net.SplitHostPort(endpoint)
		if err != nil {
			return nil, fmt.Errorf("cannot parse tracing endpoint host and port: %w", err)
		}
		endpointOption = jaeger.WithAgentEndpoint(
			jaeger.WithAgentHost(host),
			jaeger.WithAgentPort(port),
		)
	} else {
		endpointOption = jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(endpoint))
	}

	exp, err := jaeger.New(endpointOption)
	if err != nil {
		return nil, fmt.Errorf("create jaeger exporter: %w", err)
	}
	return exp, nil
}

type errorHandler struct {
	logger log.Logger
}

func (h errorHandler) Handle(err error) {
	level.Error(h.logger).Log("msg", "opentelemetry", "err", err.Error())
}
