package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/castleinc/cveagent/pkg/intent"
	"github.com/castleinc/cveagent/pkg/mcpclient"
	"github.com/castleinc/cveagent/pkg/render"
	"github.com/castleinc/cveagent/pkg/session"
)

type outputOpts struct {
	format string
	raw    bool
}

func (o *outputOpts) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.format, "format", "f", "", "Output format: detailed, summary, list, json or markdown")
	cmd.Flags().BoolVar(&o.raw, "raw", false, "Print markdown without terminal styling")
}

func newAskCmd(c *cli) *cobra.Command {
	var out outputOpts
	var payload, remote string
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer one question and exit",
		Example: `  cveagent ask "Show me CVE-2021-44228"
  cveagent ask -f json "Find high severity vulnerabilities"
  cveagent ask --payload '{"tool_name":"search_cves_by_score","parameters":{"min_score":9,"max_score":10}}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			var p *intent.Payload
			if payload != "" {
				p = &intent.Payload{}
				if err := json.Unmarshal([]byte(payload), p); err != nil {
					return fmt.Errorf("--payload: %w", err)
				}
			} else if strings.TrimSpace(text) == "" {
				return fmt.Errorf("ask needs a question or --payload")
			}
			if remote != "" {
				return askRemote(cmd, remote, text, out, p)
			}
			a, err := c.build(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())
			sess := a.NewSession("")
			reply, qerr := sess.ProcessQuery(cmd.Context(), text, out.format, p)
			if err := out.print(cmd.OutOrStdout(), reply); err != nil {
				return err
			}
			return qerr
		},
	}
	out.bind(cmd)
	cmd.Flags().StringVar(&payload, "payload", "", `Structured call as JSON: {"tool_name": ..., "parameters": {...}}`)
	cmd.Flags().StringVar(&remote, "remote", "", "Ask a running server instead, e.g. http://localhost:8080/mcp")
	return cmd
}

func askRemote(cmd *cobra.Command, endpoint, text string, out outputOpts, p *intent.Payload) error {
	client, err := mcpclient.Dial(cmd.Context(), endpoint)
	if err != nil {
		return err
	}
	defer client.Close()
	var ans mcpclient.Answer
	if p != nil {
		ans, err = client.CallTool(cmd.Context(), p.Tool, p.Parameters)
	} else {
		ans, err = client.Ask(cmd.Context(), text, out.format)
	}
	if err != nil {
		return err
	}
	format := render.Detailed
	if f, ok := render.ParseFormat(out.format); ok {
		format = f
	}
	if err := out.print(cmd.OutOrStdout(), session.Reply{Result: ans.Result, Rendered: render.Output{Format: format, Content: ans.Text}}); err != nil {
		return err
	}
	if ans.IsError {
		return fmt.Errorf("remote call failed: %s", ans.Result.Message)
	}
	return nil
}

// print writes the rendered document, styling markdown for terminals.
func (o *outputOpts) print(w io.Writer, reply session.Reply) error {
	content := reply.Rendered.Content
	if reply.Rendered.Format == render.Markdown && !o.raw && isTerminal(w) {
		r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
		if err == nil {
			if styled, err := r.Render(content); err == nil {
				content = styled
			}
		}
	}
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	_, err := io.WriteString(w, content)
	return err
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	st, err := f.Stat()
	return err == nil && st.Mode()&os.ModeCharDevice != 0
}
