// Package llm plugs hosted models into the resolver as planners: the model
// sees the tool catalog as callable functions and its chosen call becomes a
// structured payload.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/castleinc/cveagent/pkg/intent"
	"github.com/castleinc/cveagent/pkg/tool"
)

// Message is one chat turn handed to a provider.
type Message struct {
	Role    string
	Content string
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// SystemPrompt frames every planning request.
const SystemPrompt = `You route questions about security vulnerabilities (CVEs) to exactly one of the provided functions.
Call a function whenever one fits the question. Use upper-case CVE identifiers and severities.
If no function applies, answer briefly without calling one.`

// Config is the provider-neutral planner configuration.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	// MaxRetries overrides the SDK retry count when positive. Negative
	// disables retries.
	MaxRetries int
	// HistoryTokens bounds how much earlier conversation is sent along.
	HistoryTokens int
	Logger        *zap.Logger
}

// Factory builds a provider's planner.
type Factory func(ctx context.Context, cfg Config) (intent.Planner, error)

type registry struct {
	mu sync.RWMutex
	m  map[string]Factory
}

var providers = &registry{m: map[string]Factory{}}

// Register makes a planner factory available under name. Provider packages
// call it from init.
func Register(name string, f Factory) error {
	switch {
	case name == "":
		return errors.New("llm: provider name is empty")
	case f == nil:
		return fmt.Errorf("llm: provider %q has no factory", name)
	}
	providers.mu.Lock()
	defer providers.mu.Unlock()
	if providers.m[name] != nil {
		return fmt.Errorf("llm: provider %q registered twice", name)
	}
	providers.m[name] = f
	return nil
}

// Resolve looks up the factory for name.
func Resolve(name string) (Factory, bool) {
	providers.mu.RLock()
	f, ok := providers.m[name]
	providers.mu.RUnlock()
	return f, ok
}

// Providers returns the registered names, sorted.
func Providers() []string {
	providers.mu.RLock()
	names := make([]string, 0, len(providers.m))
	for n := range providers.m {
		names = append(names, n)
	}
	providers.mu.RUnlock()
	sort.Strings(names)
	return names
}

// New builds the planner for provider.
func New(ctx context.Context, provider string, cfg Config) (intent.Planner, error) {
	f, ok := Resolve(provider)
	if !ok {
		return nil, fmt.Errorf("llm: unknown provider %q (registered: %s)", provider, strings.Join(Providers(), ", "))
	}
	return f(ctx, cfg)
}

// Conversation builds the message list for a planning request: system
// prompt, the most recent history that fits budget, then the question.
func Conversation(req intent.PlanRequest, budget *HistoryBudget) []Message {
	msgs := []Message{{Role: RoleSystem, Content: SystemPrompt}}
	history := req.History
	if budget != nil {
		history = budget.Fit(history)
	}
	for _, ex := range history {
		msgs = append(msgs,
			Message{Role: RoleUser, Content: ex.Input},
			Message{Role: RoleAssistant, Content: ex.Reply},
		)
	}
	return append(msgs, Message{Role: RoleUser, Content: req.Text})
}

// FunctionSchema returns a tool's parameter schema as a generic JSON object.
func FunctionSchema(s tool.Spec) (map[string]any, error) {
	raw, err := s.SchemaJSON()
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeArguments parses a function-call argument string. Numbers are kept
// as json.Number so integer parameters bind exactly.
func DecodeArguments(s string) (map[string]any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("llm: decode function arguments: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
