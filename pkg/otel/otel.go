// Package otel wires the global tracer provider used by the resolver,
// executor, session and HTTP layers.
package otel

import (
	"context"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config controls OTel initialization.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// UseStdout exports spans as pretty JSON to Writer.
	UseStdout bool
	// Writer defaults to os.Stderr so spans never mix with rendered answers.
	Writer io.Writer
	// SampleRatio in (0,1) samples that share of root spans; anything else
	// samples all of them.
	SampleRatio float64
}

func (c Config) withDefaults() Config {
	if c.ServiceName == "" {
		c.ServiceName = "cveagent"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = os.Getenv("CVEAGENT_VERSION")
	}
	if c.Writer == nil {
		c.Writer = os.Stderr
	}
	return c
}

// Init installs a global tracer provider and W3C propagators. The returned
// func flushes and stops the provider.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	tp, err := NewProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp.Shutdown, nil
}

// NewProvider builds the provider without installing it. extra options are
// applied last, which lets tests add a span recorder.
func NewProvider(ctx context.Context, cfg Config, extra ...sdktrace.TracerProviderOption) (*sdktrace.TracerProvider, error) {
	cfg = cfg.withDefaults()
	res, err := resource(ctx, cfg)
	if err != nil {
		return nil, err
	}
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if r := cfg.SampleRatio; r > 0 && r < 1 {
		opts = append(opts, sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(r))))
	}
	if cfg.UseStdout {
		batcher, err := stdoutBatcher(cfg.Writer)
		if err != nil {
			return nil, err
		}
		opts = append(opts, batcher)
	}
	opts = append(opts, extra...)
	return sdktrace.NewTracerProvider(opts...), nil
}

func resource(ctx context.Context, cfg Config) (*sdkresource.Resource, error) {
	return sdkresource.New(ctx,
		sdkresource.WithFromEnv(),
		sdkresource.WithHost(),
		sdkresource.WithOS(),
		sdkresource.WithProcess(),
		sdkresource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("library.language", "go"),
		),
	)
}

func stdoutBatcher(w io.Writer) (sdktrace.TracerProviderOption, error) {
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	return sdktrace.WithBatcher(exp,
		sdktrace.WithBatchTimeout(200*time.Millisecond),
		sdktrace.WithMaxExportBatchSize(512),
	), nil
}
