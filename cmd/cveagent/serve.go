package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/castleinc/cveagent/pkg/httpapi"
	"github.com/castleinc/cveagent/pkg/mcpserver"
)

func newServeCmd(c *cli) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the query API over HTTP (with MCP at /mcp)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := c.build(ctx)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			mcpSrv, err := mcpserver.New(version, a.Registry.List(), a.Sessions, mcpserver.WithLogger(a.Log))
			if err != nil {
				return err
			}
			if addr == "" {
				addr = c.cfg.HTTP.Addr
			}
			srv := httpapi.New(a.Sessions, a.Registry.List(),
				httpapi.WithMetrics(a.Prometheus),
				httpapi.WithMCP(mcpSrv.Handler()),
				httpapi.WithTimeout(c.cfg.HTTP.RequestTimeout),
				httpapi.WithLogger(a.Log),
			)
			return srv.ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, :8080)")
	return cmd
}
