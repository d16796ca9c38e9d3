package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/castleinc/cveagent/pkg/eval"
	"github.com/castleinc/cveagent/pkg/session"
)

func newEvalCmd(c *cli) *cobra.Command {
	var dir, replay string
	var minScore float64
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Score routing against fixtures, or replay a recorded session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.build(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			if replay != "" {
				if a.Turns == nil {
					return fmt.Errorf("replay needs store.record_turns")
				}
				rep, err := eval.ReplayTranscript(ctx, a.Turns, replay, a.NewSession("", session.WithRecorder(nil)))
				if err != nil {
					return err
				}
				if err := enc.Encode(rep); err != nil {
					return err
				}
				if len(rep.Divergences) > 0 {
					return fmt.Errorf("%d divergence(s) in %d turn(s)", len(rep.Divergences), rep.Turns)
				}
				return nil
			}

			fsys, root := eval.Builtin(), "fixtures"
			if dir != "" {
				fsys, root = os.DirFS(dir), "."
			}
			rep, err := eval.EvaluateFixtures(ctx, fsys, root, func() *session.Session {
				return a.NewSession("", session.WithRecorder(nil))
			})
			if err != nil {
				return err
			}
			if err := enc.Encode(rep); err != nil {
				return err
			}
			if rep.Score < minScore {
				return fmt.Errorf("score %.2f below %.2f", rep.Score, minScore)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Directory of .json/.yaml fixtures (default: bundled fixtures)")
	cmd.Flags().StringVar(&replay, "replay", "", "Replay the recorded turns of this session id")
	cmd.Flags().Float64Var(&minScore, "min-score", 1, "Fail when the fixture score is below this")
	return cmd
}
