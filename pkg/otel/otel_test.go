package otel

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func TestProviderCarriesServiceName(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp, err := NewProvider(context.Background(), Config{ServiceVersion: "test"}, sdktraceWithRecorder(rec))
	require.NoError(t, err)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	_, span := tp.Tracer("test").Start(context.Background(), "Test.Span")
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "Test.Span", ended[0].Name())
	attrs := ended[0].Resource().Attributes()
	assert.Contains(t, attrs, semconv.ServiceName("cveagent"))
	assert.Contains(t, attrs, semconv.ServiceVersion("test"))
}

func TestStdoutExporterWritesToWriter(t *testing.T) {
	var buf bytes.Buffer
	tp, err := NewProvider(context.Background(), Config{UseStdout: true, Writer: &buf})
	require.NoError(t, err)
	_, span := tp.Tracer("test").Start(context.Background(), "Stdout.Span")
	span.End()
	require.NoError(t, tp.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), "Stdout.Span")
}

func TestInitInstallsProvider(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func sdktraceWithRecorder(rec *tracetest.SpanRecorder) sdktrace.TracerProviderOption {
	return sdktrace.WithSpanProcessor(rec)
}
