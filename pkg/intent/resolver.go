package intent

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/castleinc/cveagent/pkg/errmodel"
	"github.com/castleinc/cveagent/pkg/metrics"
	"github.com/castleinc/cveagent/pkg/tool"
)

// Resolver maps text or payloads to validated intents. It holds no per-turn
// state and is safe for concurrent use.
type Resolver struct {
	reg      *tool.Registry
	matchers []Matcher
	log      *zap.Logger
	metrics  *metrics.Metrics
}

var _ StructuredResolver = (*Resolver)(nil)

type Option func(*Resolver)

// WithMatchers replaces the rule set. Order is evaluation order.
func WithMatchers(ms []Matcher) Option {
	return func(r *Resolver) { r.matchers = ms }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

func NewResolver(reg *tool.Registry, opts ...Option) *Resolver {
	r := &Resolver{reg: reg, matchers: DefaultMatchers(), log: zap.NewNop()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve picks an intent for free text using the first matching rule. Any
// non-blank text resolves; the last rule is a keyword search over the whole
// input. Extracted values that fail validation stay in the intent unbound,
// so the turn still runs and fails at the executor.
func (r *Resolver) Resolve(ctx context.Context, text string) (Intent, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Intent{}, errmodel.InvalidIntent("query is empty", nil)
	}
	for _, m := range r.matchers {
		args, ok := m.Match(text)
		if !ok {
			continue
		}
		entry, err := r.reg.Get(m.Tool)
		if err != nil {
			return Intent{}, err
		}
		in := Intent{Tool: m.Tool, Source: SourceRule, Matcher: m.Name, Reason: reasons[m.Name]}
		params, err := entry.Bind(args)
		if err != nil {
			// Left for the executor, which reports it as an error result.
			r.log.Debug("extracted parameters do not bind", zap.String("matcher", m.Name), zap.Error(err))
			params = tool.Params(args).Clone()
		}
		in.Params = params
		r.observe(in)
		return in, nil
	}
	return Intent{}, errmodel.InvalidIntent("no rule matched the query", map[string]any{"text": text})
}

// ResolveStructured validates a provider payload: the tool must be registered
// and the parameters must bind against its spec. Defaults are filled.
func (r *Resolver) ResolveStructured(ctx context.Context, p Payload) (Intent, error) {
	return r.resolvePayload(p, SourceStructured)
}

// ResolvePlanned is ResolveStructured for payloads produced by an LLM planner.
func (r *Resolver) ResolvePlanned(ctx context.Context, p Payload) (Intent, error) {
	return r.resolvePayload(p, SourceLLM)
}

func (r *Resolver) resolvePayload(p Payload, src Source) (Intent, error) {
	name := strings.TrimSpace(p.Tool)
	if name == "" {
		return Intent{}, errmodel.InvalidIntent("payload has no tool_name", nil)
	}
	entry, err := r.reg.Get(name)
	if err != nil {
		return Intent{}, err
	}
	params, err := entry.Bind(p.Parameters)
	if err != nil {
		ce := errmodel.From(err)
		details := map[string]any{"tool": name}
		if param, ok := ce.Context["parameter"]; ok {
			details["parameter"] = param
		}
		return Intent{}, errmodel.New(errmodel.CategoryValidation, errmodel.CodeInvalidIntent, ce.Message, details, err)
	}
	in := Intent{Tool: name, Params: params, Source: src}
	r.observe(in)
	return in, nil
}

func (r *Resolver) observe(in Intent) {
	r.metrics.IntentResolved(string(in.Source), in.Matcher)
	r.log.Debug("intent resolved",
		zap.String("tool", in.Tool),
		zap.String("source", string(in.Source)),
		zap.String("matcher", in.Matcher),
	)
}

var reasons = map[string]string{
	MatchIdentifier: "Detected a specific CVE identifier",
	MatchScoreRange: "Detected a CVSS score range",
	MatchSeverity:   "Detected a severity term",
	MatchStatistics: "Detected a request for statistics",
	MatchMaturity:   "Detected an exploit maturity term",
	MatchRecency:    "Detected a recency request",
	MatchKeyword:    "Generic keyword search",
}
