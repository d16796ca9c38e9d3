package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/castleinc/cveagent/pkg/tool/cvetools"
)

func newToolsCmd(c *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tool catalog and parameter schemas",
		RunE: func(cmd *cobra.Command, args []string) error {
			specs := cvetools.Specs(cvetools.Options{DefaultLimit: c.cfg.Tools.DefaultLimit, MaxLimit: c.cfg.Tools.MaxLimit})
			w := cmd.OutOrStdout()
			if asJSON {
				type doc struct {
					Name        string `json:"name"`
					Description string `json:"description"`
					Parameters  any    `json:"parameters"`
				}
				out := make([]doc, 0, len(specs))
				for _, s := range specs {
					out = append(out, doc{s.Name, s.Description, s.JSONSchema()})
				}
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			for _, s := range specs {
				fmt.Fprintf(w, "%s\n  %s\n", s.Name, s.Description)
				for _, p := range s.Params {
					req := ""
					if p.Required {
						req = ", required"
					}
					fmt.Fprintf(w, "  - %s (%s%s)", p.Name, p.Type, req)
					if p.Default != nil {
						fmt.Fprintf(w, " default=%v", p.Default)
					}
					if len(p.Enum) > 0 {
						fmt.Fprintf(w, " one of %v", p.Enum)
					}
					fmt.Fprintln(w)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON schemas")
	return cmd
}
