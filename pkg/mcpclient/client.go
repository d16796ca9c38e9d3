// Package mcpclient talks to a remote cveagent MCP server.
package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	mcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/castleinc/cveagent/pkg/mcpserver"
	"github.com/castleinc/cveagent/pkg/tool"
)

// ToolDescriptor describes a remote tool.
type ToolDescriptor struct {
	Name        string
	Description string
	InputSchema any
}

// Answer is a tool call outcome: the rendered text plus the envelope.
type Answer struct {
	Text    string
	Result  tool.Result
	IsError bool
}

type Client struct {
	cs *mcp.ClientSession
}

// Dial connects to a streamable HTTP endpoint such as http://host:8080/mcp.
func Dial(ctx context.Context, endpoint string) (*Client, error) {
	return Connect(ctx, &mcp.StreamableClientTransport{
		Endpoint:   endpoint,
		HTTPClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	})
}

// Connect performs the MCP handshake over t.
func Connect(ctx context.Context, t mcp.Transport) (*Client, error) {
	c := mcp.NewClient(&mcp.Implementation{Name: "cveagent-client", Version: "v1"}, nil)
	cs, err := c.Connect(ctx, t, nil)
	if err != nil {
		return nil, fmt.Errorf("mcp connect: %w", err)
	}
	return &Client{cs: cs}, nil
}

func (c *Client) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	res, err := c.cs.ListTools(ctx, nil)
	if err != nil {
		return nil, err
	}
	out := make([]ToolDescriptor, 0, len(res.Tools))
	for _, t := range res.Tools {
		out = append(out, ToolDescriptor{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return out, nil
}

// CallTool invokes a catalog tool. Tool-level failures come back in the
// Answer with IsError set; err is reserved for protocol failures.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (Answer, error) {
	res, err := c.cs.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return Answer{}, err
	}
	a := Answer{IsError: res.IsError}
	var texts []string
	for _, ct := range res.Content {
		if tc, ok := ct.(*mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	a.Text = strings.Join(texts, "\n")
	if res.StructuredContent != nil {
		raw, err := json.Marshal(res.StructuredContent)
		if err != nil {
			return a, err
		}
		if err := json.Unmarshal(raw, &a.Result); err != nil {
			return a, fmt.Errorf("decode structured content: %w", err)
		}
	}
	return a, nil
}

// Ask sends a free-text question; format may be empty.
func (c *Client) Ask(ctx context.Context, query, format string) (Answer, error) {
	args := map[string]any{"query": query}
	if format != "" {
		args["format"] = format
	}
	return c.CallTool(ctx, mcpserver.AskTool, args)
}

func (c *Client) Close() error { return c.cs.Close() }
