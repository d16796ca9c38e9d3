package eval

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/castleinc/cveagent/pkg/intent"
	"github.com/castleinc/cveagent/pkg/session"
	"github.com/castleinc/cveagent/pkg/store"
)

// Divergence is a recorded turn whose replay came out differently.
type Divergence struct {
	Seq    int64  `json:"seq"`
	Input  string `json:"input"`
	Field  string `json:"field"`
	Stored string `json:"stored"`
	Replay string `json:"replay"`
}

type ReplayReport struct {
	SessionID   string       `json:"session_id"`
	Turns       int          `json:"turns"`
	Divergences []Divergence `json:"divergences,omitempty"`
}

const replayPage = 100

// ReplayTranscript feeds every recorded turn of sessionID, in order, through
// sess and compares tool, status, format and rendered content with what was
// stored. Structured turns are replayed from their stored parameters; the
// rest are replayed from their text.
func ReplayTranscript(ctx context.Context, log store.TurnLog, sessionID string, sess *session.Session) (ReplayReport, error) {
	rep := ReplayReport{SessionID: sessionID}
	var after int64
	for {
		turns, err := log.ListTurns(ctx, sessionID, after, replayPage)
		if err != nil {
			return rep, fmt.Errorf("replay %s: %w", sessionID, err)
		}
		for _, t := range turns {
			rep.Turns++
			var payload *intent.Payload
			if t.Source == string(intent.SourceStructured) {
				var params map[string]any
				if len(t.Params) > 0 {
					if err := json.Unmarshal(t.Params, &params); err != nil {
						return rep, fmt.Errorf("replay %s seq %d: %w", sessionID, t.Seq, err)
					}
				}
				payload = &intent.Payload{Tool: t.Tool, Parameters: params}
			}
			reply, _ := sess.ProcessQuery(ctx, t.Input, t.Format, payload)
			diff := func(field, stored, replay string) {
				if stored != replay {
					rep.Divergences = append(rep.Divergences, Divergence{Seq: t.Seq, Input: t.Input, Field: field, Stored: stored, Replay: replay})
				}
			}
			diff("tool", t.Tool, reply.Intent.Tool)
			diff("status", t.Status, string(reply.Result.Status))
			diff("format", t.Format, string(reply.Rendered.Format))
			diff("rendered", t.Rendered, reply.Rendered.Content)
			after = t.Seq
		}
		if len(turns) < replayPage {
			return rep, nil
		}
	}
}
