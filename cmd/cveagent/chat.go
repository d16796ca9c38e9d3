package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/castleinc/cveagent/pkg/render"
)

const chatHelp = `Commands:
  /format <name>  set the output format (detailed, summary, list, json, markdown; "auto" to clear)
  /history        show this session's turns
  /reset          clear the history
  /quit           leave`

func newChatCmd(c *cli) *cobra.Command {
	var out outputOpts
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive conversation; one question per line",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.build(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())
			sess := a.NewSession("")
			defer sess.Close()

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "cveagent %s, session %s. Type /help for commands.\n", version, sess.ID())
			sc := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(w, "> ")
				if !sc.Scan() {
					fmt.Fprintln(w)
					return sc.Err()
				}
				line := strings.TrimSpace(sc.Text())
				switch {
				case line == "":
					continue
				case line == "/quit" || line == "/exit":
					return nil
				case line == "/help":
					fmt.Fprintln(w, chatHelp)
					continue
				case line == "/reset":
					sess.Reset()
					fmt.Fprintln(w, "history cleared")
					continue
				case line == "/history":
					for i, t := range sess.History() {
						params, _ := json.Marshal(t.Intent.Params)
						fmt.Fprintf(w, "%d. %q -> %s %s [%s]\n", i+1, t.Input, t.Intent.Tool, params, t.Result.Status)
					}
					continue
				case strings.HasPrefix(line, "/format"):
					name := strings.TrimSpace(strings.TrimPrefix(line, "/format"))
					if name == "" || name == "auto" {
						out.format = ""
						fmt.Fprintln(w, "format: auto")
						continue
					}
					f, ok := render.ParseFormat(name)
					if !ok {
						fmt.Fprintf(w, "unknown format %q\n", name)
						continue
					}
					out.format = string(f)
					fmt.Fprintf(w, "format: %s\n", f)
					continue
				}
				reply, _ := sess.ProcessQuery(cmd.Context(), line, out.format, nil)
				if err := out.print(w, reply); err != nil {
					return err
				}
			}
		},
	}
	out.bind(cmd)
	return cmd
}
