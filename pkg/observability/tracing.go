// Package observability provides OpenTelemetry tracing for transfer jobs.
// Each job gets a root span and each stream a child span; spans are exported
// with the stdout exporter when tracing is enabled and dropped otherwise.
package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ajitpratap0/nebula-sync/pkg/errors"
)

const instrumentationName = "github.com/ajitpratap0/nebula-sync"

var (
	mu     sync.RWMutex
	tracer trace.Tracer = noop.NewTracerProvider().Tracer(instrumentationName)
)

// TracingConfig configures the tracer provider.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// SamplingRate in [0,1]; values >= 1 sample everything
	SamplingRate float64
	// Output receives exported spans, stdout when nil
	Output      io.Writer
	PrettyPrint bool
}

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(ctx context.Context) error

// InitTracing installs a stdout-exporting tracer provider as the global provider.
func InitTracing(ctx context.Context, cfg TracingConfig) (ShutdownFunc, error) {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	opts := []stdouttrace.Option{stdouttrace.WithWriter(out)}
	if cfg.PrettyPrint {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create stdout trace exporter")
	}
	return InitTracingWithExporter(ctx, cfg, exporter)
}

// InitTracingWithExporter installs a tracer provider exporting to exporter.
func InitTracingWithExporter(ctx context.Context, cfg TracingConfig, exporter sdktrace.SpanExporter) (ShutdownFunc, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "nebula-sync"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create trace resource")
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SamplingRate <= 0 || cfg.SamplingRate >= 1:
		sampler = sdktrace.AlwaysSample()
	default:
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
	)
	otel.SetTracerProvider(tp)

	mu.Lock()
	tracer = tp.Tracer(instrumentationName)
	mu.Unlock()

	return func(ctx context.Context) error {
		mu.Lock()
		tracer = noop.NewTracerProvider().Tracer(instrumentationName)
		mu.Unlock()
		return tp.Shutdown(ctx)
	}, nil
}

// Tracer returns the active tracer, a no-op tracer before InitTracing.
func Tracer() trace.Tracer {
	mu.RLock()
	defer mu.RUnlock()
	return tracer
}

// Span wraps a trace span with typed attribute helpers.
type Span struct {
	span trace.Span
}

// StartJob starts the root span of a transfer job.
func StartJob(ctx context.Context, jobID, connector, destination string) (context.Context, *Span) {
	ctx, span := Tracer().Start(ctx, "nebula_sync.job",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("job.id", jobID),
			attribute.String("connector.type", connector),
			attribute.String("destination.type", destination),
		))
	return ctx, &Span{span: span}
}

// StartStream starts a child span for one stream of a job.
func StartStream(ctx context.Context, connector, stream string) (context.Context, *Span) {
	ctx, span := Tracer().Start(ctx, "nebula_sync.stream",
		trace.WithAttributes(
			attribute.String("connector.type", connector),
			attribute.String("stream.name", stream),
		))
	return ctx, &Span{span: span}
}

// SetAttribute records a string, integer, float or boolean attribute. Other
// values are formatted with %v.
func (s *Span) SetAttribute(key string, value interface{}) {
	var attr attribute.KeyValue
	switch v := value.(type) {
	case string:
		attr = attribute.String(key, v)
	case int:
		attr = attribute.Int(key, v)
	case int64:
		attr = attribute.Int64(key, v)
	case float64:
		attr = attribute.Float64(key, v)
	case bool:
		attr = attribute.Bool(key, v)
	default:
		attr = attribute.String(key, fmt.Sprintf("%v", v))
	}
	s.span.SetAttributes(attr)
}

// AddEvent adds a named event.
func (s *Span) AddEvent(name string, attrs ...attribute.KeyValue) {
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// End closes the span, marking it failed when err is non-nil.
func (s *Span) End(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetAttributes(attribute.String("error.type", string(errors.TypeOf(err))))
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}
