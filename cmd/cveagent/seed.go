package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/castleinc/cveagent/internal/app"
)

func newSeedCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "seed [file]",
		Short: "Load CVE records into the configured store (bundled sample when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c.cfg.Store.SeedFile = app.SampleSeed
			if len(args) == 1 {
				c.cfg.Store.SeedFile = args[0]
			}
			a, err := c.build(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %s store from %s\n", c.cfg.Store.Backend, c.cfg.Store.SeedFile)
			return nil
		},
	}
}
