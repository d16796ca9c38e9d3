package tool

import (
	"context"
	"sync"

	santhosh "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/castleinc/cveagent/pkg/errmodel"
)

// Handler runs a tool with bound parameters. It returns ErrNoResult (or an
// empty payload) when nothing matched.
type Handler func(ctx context.Context, p Params) (any, error)

// Entry is a registered tool.
type Entry struct {
	Spec    Spec
	Handler Handler
	schema  *santhosh.Schema
}

// Bind binds args against the tool Spec and then checks the result against the
// compiled JSON schema.
func (e Entry) Bind(args map[string]any) (Params, error) {
	p, err := e.Spec.Bind(args)
	if err != nil {
		return nil, err
	}
	if err := validateAgainst(e.schema, p); err != nil {
		return nil, errmodel.Validation(errmodel.CodeInvalidParameter, "parameters do not match tool schema",
			map[string]any{"tool": e.Spec.Name, "error": err.Error()})
	}
	return p, nil
}

// Registry keeps tools by name. It is filled at startup and read concurrently
// afterwards.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]Entry{}}
}

// Register adds a tool. Names are unique and the Spec must be well formed.
func (r *Registry) Register(spec Spec, h Handler) error {
	if err := spec.check(); err != nil {
		return errmodel.Validation(errmodel.CodeInvalidToolSpec, err.Error(), map[string]any{"tool": spec.Name})
	}
	if h == nil {
		return errmodel.Validation(errmodel.CodeInvalidToolSpec, "handler is nil", map[string]any{"tool": spec.Name})
	}
	raw, err := spec.SchemaJSON()
	if err != nil {
		return errmodel.Validation(errmodel.CodeInvalidToolSpec, err.Error(), map[string]any{"tool": spec.Name})
	}
	sch, err := compileSchema(raw)
	if err != nil {
		return errmodel.Validation(errmodel.CodeInvalidToolSpec, "schema does not compile: "+err.Error(), map[string]any{"tool": spec.Name})
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[spec.Name]; exists {
		return errmodel.DuplicateTool(spec.Name)
	}
	r.entries[spec.Name] = Entry{Spec: spec, Handler: h, schema: sch}
	r.order = append(r.order, spec.Name)
	return nil
}

// Get returns the named tool or an unknown_tool error.
func (r *Registry) Get(name string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Entry{}, errmodel.UnknownTool(name)
	}
	return e, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// List returns specs in registration order.
func (r *Registry) List() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.entries[n].Spec)
	}
	return out
}
