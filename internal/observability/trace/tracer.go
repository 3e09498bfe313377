// Package trace provides tracing for HALOAlign training runs.
// It integrates the OpenTelemetry SDK so that train steps, evaluation
// passes, collectives and checkpoint writes appear as spans, and trace
// context can ride along on metric records.
package trace

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// ============================================================================
// Tracer Interface
// ============================================================================

// Tracer defines the distributed tracing interface
type Tracer interface {
	// Start creates a new span
	Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span)

	// InjectContext injects trace context into carrier
	InjectContext(ctx context.Context, carrier propagation.TextMapCarrier)

	// Shutdown gracefully shuts down the tracer
	Shutdown(ctx context.Context) error
}

// ============================================================================
// OpenTelemetry Tracer Implementation
// ============================================================================

// OtelTracer wraps OpenTelemetry tracer
type OtelTracer struct {
	tracer         trace.Tracer
	provider       *sdktrace.TracerProvider
	propagator     propagation.TextMapPropagator
	serviceName    string
	serviceVersion string
}

// TracerConfig defines tracer configuration
type TracerConfig struct {
	// Service name
	ServiceName string

	// Service version
	ServiceVersion string

	// Environment (development, staging, production)
	Environment string

	// Provider (jaeger, zipkin, otlp, none)
	Provider string

	// Endpoint for exporter
	Endpoint string

	// Sampling rate (0.0 - 1.0)
	SamplingRate float64
}

// ============================================================================
// Tracer Initialization
// ============================================================================

// NewTracer creates a new OpenTelemetry tracer. Provider "none" or an
// empty provider yields a no-op tracer.
func NewTracer(cfg TracerConfig) (Tracer, error) {
	if cfg.Provider == "" || cfg.Provider == "none" {
		return NewNoopTracer(), nil
	}

	// Create resource
	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	// Create exporter based on provider
	var exporter sdktrace.SpanExporter
	switch cfg.Provider {
	case "jaeger":
		exporter, err = createJaegerExporter(cfg.Endpoint)
	case "zipkin":
		exporter, err = createZipkinExporter(cfg.Endpoint)
	case "otlp":
		exporter, err = createOTLPExporter(cfg.Endpoint)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	// Create sampler
	sampler := sdktrace.ParentBased(
		sdktrace.TraceIDRatioBased(cfg.SamplingRate),
	)

	// Create trace provider
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	// Set global trace provider
	otel.SetTracerProvider(tp)

	// Create propagator
	propagator := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)

	// Set global propagator
	otel.SetTextMapPropagator(propagator)

	// Create tracer
	tracer := tp.Tracer(
		cfg.ServiceName,
		trace.WithInstrumentationVersion(cfg.ServiceVersion),
	)

	return &OtelTracer{
		tracer:         tracer,
		provider:       tp,
		propagator:     propagator,
		serviceName:    cfg.ServiceName,
		serviceVersion: cfg.ServiceVersion,
	}, nil
}

// ============================================================================
// Exporter Creation
// ============================================================================

// createJaegerExporter creates a Jaeger exporter
func createJaegerExporter(endpoint string) (sdktrace.SpanExporter, error) {
	return jaeger.New(
		jaeger.WithCollectorEndpoint(
			jaeger.WithEndpoint(endpoint),
		),
	)
}

// createZipkinExporter creates a Zipkin exporter
func createZipkinExporter(endpoint string) (sdktrace.SpanExporter, error) {
	return zipkin.New(endpoint)
}

// createOTLPExporter creates an OTLP exporter
func createOTLPExporter(endpoint string) (sdktrace.SpanExporter, error) {
	ctx := context.Background()
	client := otlptracegrpc.NewClient(
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	return otlptrace.New(ctx, client)
}

// ============================================================================
// Tracer Methods
// ============================================================================

// Start creates a new span
func (t *OtelTracer) Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, spanName, opts...)
}

// InjectContext injects trace context into carrier
func (t *OtelTracer) InjectContext(ctx context.Context, carrier propagation.TextMapCarrier) {
	t.propagator.Inject(ctx, carrier)
}

// Shutdown gracefully shuts down the tracer
func (t *OtelTracer) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}

// ============================================================================
// Span Helpers
// ============================================================================

// RecordSpanError records an error on current span
func RecordSpanError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// AddSpanEvent adds an event to current span
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// ============================================================================
// Common Attribute Constructors
// ============================================================================

// StringAttr creates a string attribute
func StringAttr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// IntAttr creates an int attribute
func IntAttr(key string, value int) attribute.KeyValue {
	return attribute.Int(key, value)
}

// Float64Attr creates a float64 attribute
func Float64Attr(key string, value float64) attribute.KeyValue {
	return attribute.Float64(key, value)
}

// BoolAttr creates a bool attribute
func BoolAttr(key string, value bool) attribute.KeyValue {
	return attribute.Bool(key, value)
}

// ============================================================================
// Training Attributes
// ============================================================================

// RankAttr identifies the process rank
func RankAttr(rank int) attribute.KeyValue {
	return attribute.Int("train.rank", rank)
}

// WorldSizeAttr identifies the process group size
func WorldSizeAttr(size int) attribute.KeyValue {
	return attribute.Int("train.world_size", size)
}

// ExamplesAttr records the example counter
func ExamplesAttr(examples int) attribute.KeyValue {
	return attribute.Int("train.examples", examples)
}

// ModeAttr records the batch metrics mode (train, eval, sample)
func ModeAttr(mode string) attribute.KeyValue {
	return attribute.String("train.mode", mode)
}

// LossAttr records a loss value
func LossAttr(loss float64) attribute.KeyValue {
	return attribute.Float64("train.loss", loss)
}

// CollectiveOpAttr identifies a collective operation
func CollectiveOpAttr(op string) attribute.KeyValue {
	return attribute.String("dist.op", op)
}

// RunIDAttr identifies the training run
func RunIDAttr(runID string) attribute.KeyValue {
	return attribute.String("run.id", runID)
}

// ============================================================================
// Span Kind Options
// ============================================================================

// SpanKindInternal creates an internal span
func SpanKindInternal() trace.SpanStartOption {
	return trace.WithSpanKind(trace.SpanKindInternal)
}

// ============================================================================
// Header Propagation Carrier
// ============================================================================

// HeadersCarrier adapts a flat header map, such as Kafka record headers,
// to TextMapCarrier
type HeadersCarrier map[string]string

// Get returns the value associated with the passed key
func (c HeadersCarrier) Get(key string) string {
	return c[key]
}

// Set stores the key-value pair
func (c HeadersCarrier) Set(key, value string) {
	c[key] = value
}

// Keys lists the keys stored in this carrier
func (c HeadersCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// ============================================================================
// No-op Tracer
// ============================================================================

// NoopTracer is a tracer that does nothing
type NoopTracer struct{}

// NewNoopTracer creates a no-op tracer
func NewNoopTracer() Tracer {
	return &NoopTracer{}
}

func (t *NoopTracer) Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return ctx, trace.SpanFromContext(ctx)
}

func (t *NoopTracer) InjectContext(ctx context.Context, carrier propagation.TextMapCarrier) {
}

func (t *NoopTracer) Shutdown(ctx context.Context) error {
	return nil
}

//Personal.AI order the ending
