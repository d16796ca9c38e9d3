package main

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/castleinc/cveagent/pkg/mcpserver"
)

func newMCPCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the CVE tools over MCP on stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			a, err := c.build(ctx)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())
			srv, err := mcpserver.New(version, a.Registry.List(), a.Sessions, mcpserver.WithLogger(a.Log))
			if err != nil {
				return err
			}
			return srv.RunStdio(ctx)
		},
	}
}
