// Package executor runs resolved intents against the tool registry and folds
// every outcome into a tool.Result envelope.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/castleinc/cveagent/pkg/errmodel"
	"github.com/castleinc/cveagent/pkg/intent"
	"github.com/castleinc/cveagent/pkg/metrics"
	"github.com/castleinc/cveagent/pkg/tool"
)

// Executor is safe for concurrent use once constructed.
type Executor struct {
	reg     *tool.Registry
	log     *zap.Logger
	metrics *metrics.Metrics
}

type Option func(*Executor)

func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

func New(reg *tool.Registry, opts ...Option) *Executor {
	e := &Executor{reg: reg, log: zap.NewNop()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Execute validates the intent's parameters, runs the bound handler and
// returns the envelope. It never returns a raw error: lookup, validation,
// store and handler failures all come back as StatusError with a coded
// *errmodel.Error, and empty results come back as StatusNotFound.
func (e *Executor) Execute(ctx context.Context, in intent.Intent) (res tool.Result) {
	tr := otel.Tracer("executor")
	ctx, span := tr.Start(ctx, "Executor.Execute", trace.WithAttributes(
		attribute.String("tool.name", in.Tool),
		attribute.String("intent.source", string(in.Source)),
	))
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = tool.Failed(in.Tool, errmodel.System(errmodel.CodeInternal, "tool execution panicked",
				map[string]any{"tool": in.Tool, "panic": fmt.Sprint(r)}, nil))
		}
		span.SetAttributes(attribute.String("tool.status", string(res.Status)))
		if res.Status == tool.StatusError {
			span.SetStatus(codes.Error, res.Message)
		}
		span.End()
		e.metrics.ToolExecuted(in.Tool, string(res.Status), time.Since(start))
		fields := []zap.Field{
			zap.String("tool", in.Tool),
			zap.String("status", string(res.Status)),
			zap.Duration("elapsed", time.Since(start)),
		}
		if res.Error != nil {
			fields = append(fields, zap.String("code", res.Error.Code))
			e.log.Warn("tool execution failed", append(fields, zap.String("error", res.Error.Message))...)
			return
		}
		e.log.Debug("tool executed", fields...)
	}()

	entry, err := e.reg.Get(in.Tool)
	if err != nil {
		return tool.Failed(in.Tool, err)
	}
	params, err := entry.Bind(in.Params)
	if err != nil {
		return tool.Failed(in.Tool, err)
	}
	data, err := entry.Handler(ctx, params)
	switch {
	case errors.Is(err, tool.ErrNoResult):
		return tool.NotFound(in.Tool, notFoundMessage(in.Tool, params))
	case err != nil:
		span.RecordError(err)
		var ce *errmodel.Error
		if errors.As(err, &ce) {
			return tool.Failed(in.Tool, ce)
		}
		return tool.Failed(in.Tool, errmodel.StoreUnavailable(in.Tool, err))
	case tool.IsEmpty(data):
		return tool.NotFound(in.Tool, notFoundMessage(in.Tool, params))
	}
	return tool.OK(in.Tool, data)
}

func notFoundMessage(name string, p tool.Params) string {
	if id := p.String("cve_id"); id != "" {
		return fmt.Sprintf("%s was not found", id)
	}
	return fmt.Sprintf("no records matched %s", name)
}
