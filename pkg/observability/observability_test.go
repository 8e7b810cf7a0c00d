package observability

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ajitpratap0/nebula-sync/pkg/errors"
)

func TestJobAndStreamSpans(t *testing.T) {
	ctx := context.Background()
	exporter := tracetest.NewInMemoryExporter()
	shutdown, err := InitTracingWithExporter(ctx, TracingConfig{ServiceName: "nebula-sync-test"}, exporter)
	require.NoError(t, err)
	defer shutdown(ctx)

	jobCtx, job := StartJob(ctx, "job-1", "sample", "csv")
	_, stream := StartStream(jobCtx, "sample", "events")
	stream.SetAttribute("records", int64(24))
	stream.End(errors.New(errors.ErrorTypePartialStream, "events failed"))
	job.End(nil)

	tp, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	require.True(t, ok)
	require.NoError(t, tp.ForceFlush(ctx))

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	streamSpan, jobSpan := spans[0], spans[1]
	assert.Equal(t, "nebula_sync.stream", streamSpan.Name)
	assert.Equal(t, "nebula_sync.job", jobSpan.Name)
	assert.Equal(t, jobSpan.SpanContext.SpanID(), streamSpan.Parent.SpanID())
	assert.Equal(t, codes.Error, streamSpan.Status.Code)
	assert.Equal(t, codes.Ok, jobSpan.Status.Code)

	var errorType string
	for _, attr := range streamSpan.Attributes {
		if attr.Key == "error.type" {
			errorType = attr.Value.AsString()
		}
	}
	assert.Equal(t, string(errors.ErrorTypePartialStream), errorType)
}

func TestStdoutExporter(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	shutdown, err := InitTracing(ctx, TracingConfig{Output: &buf})
	require.NoError(t, err)

	_, span := StartJob(ctx, "job-2", "linkedin_ads", "bigquery")
	span.End(nil)
	require.NoError(t, shutdown(ctx))

	assert.Contains(t, buf.String(), "nebula_sync.job")
	assert.Contains(t, buf.String(), "job-2")
}

func TestTracerBeforeInit(t *testing.T) {
	_, span := StartStream(context.Background(), "sample", "accounts")
	assert.NotPanics(t, func() { span.End(nil) })
	assert.NotNil(t, Tracer())
}
