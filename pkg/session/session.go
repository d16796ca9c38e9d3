// Package session sequences resolver, executor and renderer for one
// conversation and keeps its turn history.
package session

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/castleinc/cveagent/pkg/errmodel"
	"github.com/castleinc/cveagent/pkg/executor"
	"github.com/castleinc/cveagent/pkg/intent"
	"github.com/castleinc/cveagent/pkg/metrics"
	"github.com/castleinc/cveagent/pkg/render"
	"github.com/castleinc/cveagent/pkg/store"
	"github.com/castleinc/cveagent/pkg/tool"
)

// Turn is one completed input/response cycle.
type Turn struct {
	ID        string        `json:"id"`
	Input     string        `json:"input"`
	Intent    intent.Intent `json:"intent"`
	Result    tool.Result   `json:"result"`
	Rendered  render.Output `json:"rendered"`
	Timestamp time.Time     `json:"timestamp"`
}

// Reply is what ProcessQuery hands back. TurnID is empty for rejected turns.
type Reply struct {
	TurnID   string        `json:"turn_id,omitempty"`
	Intent   intent.Intent `json:"intent"`
	Result   tool.Result   `json:"result"`
	Rendered render.Output `json:"rendered"`
}

// Session owns the history of one conversation. Methods are safe for
// concurrent use, but turns are meant to come from one caller at a time.
type Session struct {
	id       string
	resolver *intent.Resolver
	exec     *executor.Executor
	renderer *render.Renderer
	tools    []tool.Spec

	planner  intent.Planner
	recorder store.TurnLog
	closer   io.Closer
	log      *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu        sync.Mutex
	turns     []Turn
	closeOnce sync.Once
}

type Option func(*Session)

// WithPlanner lets an LLM choose the tool when the caller supplies no payload.
func WithPlanner(p intent.Planner) Option {
	return func(s *Session) { s.planner = p }
}

// WithRecorder persists completed turns.
func WithRecorder(l store.TurnLog) Option {
	return func(s *Session) { s.recorder = l }
}

// WithStoreHandle hands the session a store handle to release on Close.
func WithStoreHandle(c io.Closer) Option {
	return func(s *Session) { s.closer = c }
}

func WithRenderer(r *render.Renderer) Option {
	return func(s *Session) {
		if r != nil {
			s.renderer = r
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithID fixes the session id; by default a random UUID is used.
func WithID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// WithTools sets the catalog offered to the planner.
func WithTools(specs []tool.Spec) Option {
	return func(s *Session) { s.tools = specs }
}

func New(res *intent.Resolver, ex *executor.Executor, opts ...Option) *Session {
	s := &Session{
		id:       uuid.NewString(),
		resolver: res,
		exec:     ex,
		log:      zap.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	if s.renderer == nil {
		s.renderer = render.MustNew()
	}
	s.log = s.log.With(zap.String("session", s.id))
	return s
}

func (s *Session) ID() string { return s.id }

// ProcessQuery runs one turn. format may be empty; when set it wins over a
// format chosen by the intent, which wins over the renderer's default.
//
// Every call returns a Reply whose Rendered field is populated. err is
// non-nil when the turn was rejected before execution (blank text, unknown
// tool or invalid parameters in payload, unknown format) or when the
// requested format does not fit the result. Rejected turns are not recorded;
// turns with a format mismatch are.
func (s *Session) ProcessQuery(ctx context.Context, text, format string, payload *intent.Payload) (Reply, error) {
	ctx, span := otel.Tracer("session").Start(ctx, "Session.ProcessQuery", trace.WithAttributes(
		attribute.String("session.id", s.id),
		attribute.Bool("payload", payload != nil),
	))
	defer span.End()

	var callerFormat render.Format
	if format != "" {
		f, ok := render.ParseFormat(format)
		if !ok {
			err := errmodel.InvalidIntent("unknown output format", map[string]any{"format": format})
			return s.reject(err, render.Detailed), err
		}
		callerFormat = f
	}

	in, err := s.resolve(ctx, text, payload)
	if err != nil {
		span.RecordError(err)
		f := callerFormat
		if f == "" {
			f = render.Detailed
		}
		return s.reject(err, f), err
	}

	res := s.exec.Execute(ctx, in)

	f := callerFormat
	if f == "" {
		if pf, ok := render.ParseFormat(in.Params.String("format")); ok {
			f = pf
		} else if res.Status == tool.StatusOK {
			f = render.Default(res.Data)
		} else {
			f = render.Detailed
		}
	}
	out, renderErr := s.renderer.Render(res, f)

	turn := Turn{
		ID:        uuid.NewString(),
		Input:     text,
		Intent:    in.Clone(),
		Result:    res,
		Rendered:  out,
		Timestamp: s.now(),
	}
	s.mu.Lock()
	s.turns = append(s.turns, turn)
	s.mu.Unlock()
	s.record(ctx, turn)

	s.metrics.TurnCompleted(string(res.Status))
	span.SetAttributes(
		attribute.String("tool.name", in.Tool),
		attribute.String("tool.status", string(res.Status)),
		attribute.String("render.format", string(out.Format)),
	)
	s.log.Info("turn completed",
		zap.String("tool", in.Tool),
		zap.String("status", string(res.Status)),
		zap.String("matcher", in.Matcher),
		zap.String("format", string(out.Format)),
	)
	return Reply{TurnID: turn.ID, Intent: in, Result: res, Rendered: out}, renderErr
}

func (s *Session) resolve(ctx context.Context, text string, payload *intent.Payload) (intent.Intent, error) {
	if payload != nil {
		return s.resolver.ResolveStructured(ctx, *payload)
	}
	if s.planner != nil {
		p, ok, err := s.planner.Plan(ctx, intent.PlanRequest{Text: text, History: s.exchanges(), Tools: s.tools})
		switch {
		case err != nil:
			s.log.Warn("planner failed, using rules", zap.Error(err))
		case !ok:
			s.log.Debug("planner picked no tool, using rules")
		default:
			in, err := s.resolver.ResolvePlanned(ctx, p)
			if err == nil {
				return in, nil
			}
			s.log.Warn("planned call rejected, using rules", zap.String("tool", p.Tool), zap.Error(err))
		}
	}
	return s.resolver.Resolve(ctx, text)
}

func (s *Session) reject(err error, f render.Format) Reply {
	s.metrics.TurnCompleted("rejected")
	s.log.Info("turn rejected", zap.Error(err))
	ce := errmodel.From(err)
	return Reply{
		Result:   tool.Result{Status: tool.StatusError, Error: ce, Message: ce.Message},
		Rendered: s.renderer.Error(err, f),
	}
}

func (s *Session) record(ctx context.Context, t Turn) {
	if s.recorder == nil {
		return
	}
	params, err := json.Marshal(t.Intent.Params)
	if err != nil {
		params = []byte("{}")
	}
	_, err = s.recorder.AppendTurn(ctx, store.TurnRecord{
		TurnID:    t.ID,
		SessionID: s.id,
		Input:     t.Input,
		Tool:      t.Intent.Tool,
		Source:    string(t.Intent.Source),
		Params:    params,
		Status:    string(t.Result.Status),
		Format:    string(t.Rendered.Format),
		Rendered:  t.Rendered.Content,
		CreatedAt: t.Timestamp,
	})
	if err != nil {
		s.log.Warn("turn not persisted", zap.String("turn", t.ID), zap.Error(err))
	}
}

func (s *Session) exchanges() []intent.Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]intent.Exchange, 0, len(s.turns))
	for _, t := range s.turns {
		out = append(out, intent.Exchange{Input: t.Input, Reply: t.Rendered.Content})
	}
	return out
}

// History returns a copy of the turns so far, oldest first.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns))
	for i, t := range s.turns {
		t.Intent = t.Intent.Clone()
		out[i] = t
	}
	return out
}

// Reset clears the history. The store handle stays open.
func (s *Session) Reset() {
	s.mu.Lock()
	s.turns = nil
	s.mu.Unlock()
	s.log.Debug("history reset")
}

// Close releases the store handle given with WithStoreHandle. Calling it
// more than once is harmless.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.closer != nil {
			err = s.closer.Close()
		}
	})
	return err
}
