// Package gemini plans tool calls with Gemini function declarations.
package gemini

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	genai "google.golang.org/genai"

	"github.com/castleinc/cveagent/pkg/intent"
	"github.com/castleinc/cveagent/pkg/llm"
)

const defaultModel = "gemini-2.5-flash-lite"

type planner struct {
	client *genai.Client
	model  string
	budget *llm.HistoryBudget
	log    *zap.Logger
}

func (p *planner) Plan(ctx context.Context, req intent.PlanRequest) (intent.Payload, bool, error) {
	ctx, span := otel.Tracer("llm").Start(ctx, "Gemini.Plan", trace.WithAttributes(
		attribute.String("llm.model", p.model),
		attribute.Int("llm.tools", len(req.Tools)),
	))
	defer span.End()

	decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
	for _, s := range req.Tools {
		schema, err := llm.FunctionSchema(s)
		if err != nil {
			return intent.Payload{}, false, fmt.Errorf("gemini: schema for %s: %w", s.Name, err)
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 s.Name,
			Description:          s.Description,
			ParametersJsonSchema: schema,
		})
	}

	// Gemini takes the system prompt separately and calls the assistant "model".
	var system *genai.Content
	var contents []*genai.Content
	for _, m := range llm.Conversation(req, p.budget) {
		switch m.Role {
		case llm.RoleSystem:
			system = genai.NewContentFromText(m.Content, genai.RoleUser)
		case llm.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	cfg := &genai.GenerateContentConfig{SystemInstruction: system}
	if len(decls) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		span.RecordError(err)
		return intent.Payload{}, false, fmt.Errorf("gemini: %w", err)
	}
	for _, call := range resp.FunctionCalls() {
		if call == nil || call.Name == "" {
			continue
		}
		args := call.Args
		if args == nil {
			args = map[string]any{}
		}
		span.SetAttributes(attribute.String("tool.name", call.Name))
		p.log.Debug("gemini planned call", zap.String("tool", call.Name))
		return intent.Payload{Tool: call.Name, Parameters: args}, true, nil
	}
	return intent.Payload{}, false, nil
}

// Factory builds the planner. The key comes from cfg or GOOGLE_API_KEY.
func Factory(ctx context.Context, cfg llm.Config) (intent.Planner, error) { // nolint: revive
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: missing API key; set GOOGLE_API_KEY or llm.api_key")
	}
	cc := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	model := defaultModel
	if cfg.Model != "" {
		model = cfg.Model
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &planner{
		client: client,
		model:  model,
		budget: llm.BudgetFor(model, cfg.HistoryTokens, log),
		log:    log,
	}, nil
}

func init() {
	_ = llm.Register("gemini", Factory)
}
