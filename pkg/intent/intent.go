// Package intent turns a user's free text, or a structured function-call
// payload, into the tool to run and its validated parameters.
package intent

import (
	"context"

	"github.com/castleinc/cveagent/pkg/tool"
)

// Source records which path produced an Intent.
type Source string

const (
	SourceRule       Source = "rule"
	SourceStructured Source = "structured"
	SourceLLM        Source = "llm"
)

// Intent is the resolved tool plus bound parameters for one turn. Treat it as
// a value; use Clone before handing it to code that may mutate Params.
type Intent struct {
	Tool    string      `json:"tool_name"`
	Params  tool.Params `json:"parameters"`
	Source  Source      `json:"source"`
	Matcher string      `json:"matcher,omitempty"`
	Reason  string      `json:"reason,omitempty"`
}

func (in Intent) Clone() Intent {
	out := in
	if in.Params != nil {
		out.Params = in.Params.Clone()
	}
	return out
}

// Payload is the minimal envelope a structured provider supplies.
type Payload struct {
	Tool       string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// StructuredResolver validates a provider payload into an Intent.
type StructuredResolver interface {
	ResolveStructured(ctx context.Context, p Payload) (Intent, error)
}

// Exchange is one earlier turn offered to a planner as context.
type Exchange struct {
	Input string
	Reply string
}

// PlanRequest is what a Planner sees for one turn.
type PlanRequest struct {
	Text    string
	History []Exchange
	Tools   []tool.Spec
}

// Planner produces a structured payload from free text, typically by asking
// an LLM to pick a function. ok is false when the provider declined to pick a
// tool.
type Planner interface {
	Plan(ctx context.Context, req PlanRequest) (p Payload, ok bool, err error)
}
