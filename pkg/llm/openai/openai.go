// Package openai plans tool calls with OpenAI chat-completion function calling.
package openai

import (
	"context"
	"fmt"
	"os"

	oa "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/castleinc/cveagent/pkg/intent"
	"github.com/castleinc/cveagent/pkg/llm"
)

const defaultModel = "gpt-5-nano"

type planner struct {
	client oa.Client
	model  string
	budget *llm.HistoryBudget
	log    *zap.Logger
}

func (p *planner) Plan(ctx context.Context, req intent.PlanRequest) (intent.Payload, bool, error) {
	ctx, span := otel.Tracer("llm").Start(ctx, "OpenAI.Plan", trace.WithAttributes(
		attribute.String("llm.model", p.model),
		attribute.Int("llm.tools", len(req.Tools)),
	))
	defer span.End()

	tools := make([]oa.ChatCompletionToolUnionParam, 0, len(req.Tools))
	for _, s := range req.Tools {
		params, err := llm.FunctionSchema(s)
		if err != nil {
			return intent.Payload{}, false, fmt.Errorf("openai: schema for %s: %w", s.Name, err)
		}
		tools = append(tools, oa.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        s.Name,
			Description: oa.String(s.Description),
			Parameters:  shared.FunctionParameters(params),
		}))
	}

	conv := llm.Conversation(req, p.budget)
	mm := make([]oa.ChatCompletionMessageParamUnion, 0, len(conv))
	for _, m := range conv {
		switch m.Role {
		case llm.RoleSystem:
			mm = append(mm, oa.SystemMessage(m.Content))
		case llm.RoleAssistant:
			mm = append(mm, oa.AssistantMessage(m.Content))
		default:
			mm = append(mm, oa.UserMessage(m.Content))
		}
	}

	params := oa.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: mm,
	}
	if len(tools) > 0 {
		params.Tools = tools
		params.ToolChoice = oa.ChatCompletionToolChoiceOptionUnionParam{OfAuto: oa.String("auto")}
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		span.RecordError(err)
		return intent.Payload{}, false, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return intent.Payload{}, false, nil
	}
	for _, call := range resp.Choices[0].Message.ToolCalls {
		if call.Function.Name == "" {
			continue
		}
		args, err := llm.DecodeArguments(call.Function.Arguments)
		if err != nil {
			return intent.Payload{}, false, err
		}
		span.SetAttributes(attribute.String("tool.name", call.Function.Name))
		p.log.Debug("openai planned call", zap.String("tool", call.Function.Name), zap.Int64("tokens", resp.Usage.TotalTokens))
		return intent.Payload{Tool: call.Function.Name, Parameters: args}, true, nil
	}
	return intent.Payload{}, false, nil
}

// Factory builds the planner. The key comes from cfg or OPENAI_API_KEY.
func Factory(ctx context.Context, cfg llm.Config) (intent.Planner, error) { // nolint: revive
	_ = ctx
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("openai: missing API key; set OPENAI_API_KEY or llm.api_key")
	}
	model := defaultModel
	if cfg.Model != "" {
		model = cfg.Model
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	switch {
	case cfg.MaxRetries > 0:
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	case cfg.MaxRetries < 0:
		opts = append(opts, option.WithMaxRetries(0))
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &planner{
		client: oa.NewClient(opts...),
		model:  model,
		budget: llm.BudgetFor(model, cfg.HistoryTokens, log),
		log:    log,
	}, nil
}

func init() {
	_ = llm.Register("openai", Factory)
}
