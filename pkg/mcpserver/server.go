// Package mcpserver exposes the CVE tool catalog over the Model Context
// Protocol. Each call runs as a structured turn of a conversation session,
// so MCP callers get the same validation, envelope and rendering as every
// other surface.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	mcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/castleinc/cveagent/pkg/errmodel"
	"github.com/castleinc/cveagent/pkg/intent"
	"github.com/castleinc/cveagent/pkg/render"
	"github.com/castleinc/cveagent/pkg/session"
	"github.com/castleinc/cveagent/pkg/tool"
)

// AskTool answers a free-text question through the rule resolver.
const AskTool = "ask_cve_question"

// defaultSession keys calls from transports without session ids (stdio,
// in-memory).
const defaultSession = "mcp"

type Server struct {
	srv      *mcp.Server
	sessions *session.Manager
	renderer *render.Renderer
	log      *zap.Logger
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// New builds the server and registers one MCP tool per catalog entry plus
// AskTool.
func New(version string, specs []tool.Spec, sessions *session.Manager, opts ...Option) (*Server, error) {
	s := &Server{
		srv:      mcp.NewServer(&mcp.Implementation{Name: "cveagent", Version: version}, nil),
		sessions: sessions,
		renderer: render.MustNew(),
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	for _, spec := range specs {
		if spec.Name == AskTool {
			return nil, errmodel.DuplicateTool(AskTool)
		}
		s.srv.AddTool(&mcp.Tool{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: spec.JSONSchema(),
		}, s.toolHandler(spec.Name))
	}
	s.srv.AddTool(&mcp.Tool{
		Name:        AskTool,
		Description: "Answer a natural-language question about CVEs, e.g. \"Find high severity vulnerabilities\".",
		InputSchema: askSchema(),
	}, s.askHandler)
	return s, nil
}

// Run serves one transport until it closes or ctx ends.
func (s *Server) Run(ctx context.Context, t mcp.Transport) error {
	return s.srv.Run(ctx, t)
}

// RunStdio serves over stdin/stdout.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.Run(ctx, &mcp.StdioTransport{})
}

// Connect attaches a transport and returns immediately; used with in-memory
// transports.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.srv.Connect(ctx, t, nil)
}

// Handler serves the streamable HTTP transport.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.srv }, nil)
}

func (s *Server) toolHandler(name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := map[string]any{}
		if raw := req.Params.Arguments; len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return s.errorResult(name, errmodel.InvalidIntent("arguments are not a JSON object", map[string]any{"tool": name})), nil
			}
		}
		input := fmt.Sprintf("%s %s", name, req.Params.Arguments)
		sess := s.session(req)
		reply, err := sess.ProcessQuery(ctx, input, "", &intent.Payload{Tool: name, Parameters: args})
		return s.result(name, reply, err), nil
	}
}

func (s *Server) askHandler(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var in struct {
		Query  string `json:"query"`
		Format string `json:"format"`
	}
	if raw := req.Params.Arguments; len(raw) > 0 {
		if err := json.Unmarshal(raw, &in); err != nil {
			return s.errorResult(AskTool, errmodel.InvalidIntent("arguments are not a JSON object", map[string]any{"tool": AskTool})), nil
		}
	}
	reply, err := s.session(req).ProcessQuery(ctx, in.Query, in.Format, nil)
	return s.result(AskTool, reply, err), nil
}

func (s *Server) session(req *mcp.CallToolRequest) *session.Session {
	id := defaultSession
	if req.Session != nil && req.Session.ID() != "" {
		id = req.Session.ID()
	}
	return s.sessions.GetOrCreate(id)
}

// result carries the rendered document as text and the envelope as
// structured content. Tool failures are reported in-band with IsError.
func (s *Server) result(name string, reply session.Reply, err error) *mcp.CallToolResult {
	if err != nil {
		s.log.Debug("mcp call failed", zap.String("tool", name), zap.Error(err))
	}
	return &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: reply.Rendered.Content}},
		StructuredContent: reply.Result,
		IsError:           err != nil || reply.Result.Status == tool.StatusError,
	}
}

func (s *Server) errorResult(name string, err *errmodel.Error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: s.renderer.Error(err, render.Detailed).Content}},
		StructuredContent: tool.Failed(name, err),
		IsError:           true,
	}
}

func askSchema() any {
	formats := make([]any, 0, len(render.Formats))
	for _, f := range render.Formats {
		formats = append(formats, string(f))
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query":  map[string]any{"type": "string", "description": "The question."},
			"format": map[string]any{"type": "string", "enum": formats, "description": "Output format; chosen from the result when omitted."},
		},
		"required":             []any{"query"},
		"additionalProperties": false,
	}
}
