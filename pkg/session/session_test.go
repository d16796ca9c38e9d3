package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/castleinc/cveagent/pkg/cve"
	"github.com/castleinc/cveagent/pkg/errmodel"
	"github.com/castleinc/cveagent/pkg/executor"
	"github.com/castleinc/cveagent/pkg/intent"
	"github.com/castleinc/cveagent/pkg/render"
	"github.com/castleinc/cveagent/pkg/store/memstore"
	"github.com/castleinc/cveagent/pkg/tool"
	"github.com/castleinc/cveagent/pkg/tool/cvetools"
)

type stubPlanner struct {
	payload intent.Payload
	ok      bool
	err     error
	seen    []intent.PlanRequest
}

func (p *stubPlanner) Plan(_ context.Context, req intent.PlanRequest) (intent.Payload, bool, error) {
	p.seen = append(p.seen, req)
	return p.payload, p.ok, p.err
}

type countingCloser struct{ n int }

func (c *countingCloser) Close() error { c.n++; return nil }

func newSession(t *testing.T, opts ...Option) *Session {
	t.Helper()
	rs, err := cve.SampleRecords()
	require.NoError(t, err)
	reg := tool.NewRegistry()
	require.NoError(t, cvetools.Register(reg, memstore.New(rs...), cvetools.Options{}))
	opts = append([]Option{WithTools(reg.List())}, opts...)
	return New(intent.NewResolver(reg), executor.New(reg), opts...)
}

func TestProcessQueryScenarios(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()

	r, err := s.ProcessQuery(ctx, "Show me CVE-1999-0095", "", nil)
	require.NoError(t, err)
	require.Equal(t, cvetools.GetDetails, r.Intent.Tool)
	require.Equal(t, tool.StatusOK, r.Result.Status)
	require.Equal(t, render.Detailed, r.Rendered.Format)
	require.Contains(t, r.Rendered.Content, "CVE-1999-0095")

	r, err = s.ProcessQuery(ctx, "Show me CVE-2099-0001", "", nil)
	require.NoError(t, err)
	require.Equal(t, tool.StatusNotFound, r.Result.Status)
	require.NotEmpty(t, r.Rendered.Content)

	r, err = s.ProcessQuery(ctx, "Find high severity vulnerabilities", "", nil)
	require.NoError(t, err)
	require.Equal(t, cvetools.SearchBySeverity, r.Intent.Tool)
	require.Equal(t, 10, r.Intent.Params.Int("limit"))
	require.Equal(t, render.List, r.Rendered.Format)

	r, err = s.ProcessQuery(ctx, "Get critical vulnerabilities between 7 and 9", "", nil)
	require.NoError(t, err)
	require.Equal(t, cvetools.SearchByScore, r.Intent.Tool)

	require.Len(t, s.History(), 4)
}

func TestFormatPrecedence(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()

	r, err := s.ProcessQuery(ctx, "CVE-2021-44228 as markdown", "", nil)
	require.NoError(t, err)
	require.Equal(t, render.Markdown, r.Rendered.Format, "intent format beats default")

	r, err = s.ProcessQuery(ctx, "CVE-2021-44228 as markdown", "json", nil)
	require.NoError(t, err)
	require.Equal(t, render.JSON, r.Rendered.Format, "caller format beats intent")
}

func TestFormatMismatchIsRecorded(t *testing.T) {
	s := newSession(t)
	r, err := s.ProcessQuery(context.Background(), "CVE-2021-44228", "list", nil)
	require.True(t, errmodel.HasCode(err, errmodel.CodeFormatMismatch), "err=%v", err)
	require.Equal(t, tool.StatusOK, r.Result.Status)
	require.Contains(t, r.Rendered.Content, errmodel.CodeFormatMismatch)
	require.NotEmpty(t, r.TurnID)
	require.Len(t, s.History(), 1)
}

func TestRejectedTurnsAreNotRecorded(t *testing.T) {
	log := memstore.NewTurnLog()
	s := newSession(t, WithRecorder(log))
	ctx := context.Background()

	cases := []struct {
		text    string
		format  string
		payload *intent.Payload
		code    string
	}{
		{text: "   ", code: errmodel.CodeInvalidIntent},
		{text: "x", payload: &intent.Payload{Tool: "rm_rf"}, code: errmodel.CodeUnknownTool},
		{text: "x", payload: &intent.Payload{Tool: cvetools.GetDetails}, code: errmodel.CodeInvalidIntent},
		{text: "CVE-2021-44228", format: "pdf", code: errmodel.CodeInvalidIntent},
	}
	for _, c := range cases {
		r, err := s.ProcessQuery(ctx, c.text, c.format, c.payload)
		require.True(t, errmodel.HasCode(err, c.code), "%q: err=%v want %s", c.text, err, c.code)
		require.Empty(t, r.TurnID)
		require.Equal(t, tool.StatusError, r.Result.Status)
		require.NotEmpty(t, r.Rendered.Content)
	}
	require.Empty(t, s.History())
	n, err := log.LastSeq(ctx, s.ID())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestStructuredPayloadAndRecorder(t *testing.T) {
	log := memstore.NewTurnLog()
	s := newSession(t, WithRecorder(log), WithID("fixed"))
	ctx := context.Background()

	r, err := s.ProcessQuery(ctx, "ignored", "", &intent.Payload{Tool: cvetools.SearchBySeverity, Parameters: map[string]any{"severity": "critical", "limit": 2}})
	require.NoError(t, err)
	require.Equal(t, intent.SourceStructured, r.Intent.Source)
	require.LessOrEqual(t, len(r.Result.Data.(cve.RecordList)), 2)

	turns, err := log.ListTurns(ctx, "fixed", 0, 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	require.Equal(t, cvetools.SearchBySeverity, turns[0].Tool)
	require.JSONEq(t, `{"severity":"CRITICAL","limit":2}`, string(turns[0].Params))
	require.Equal(t, r.TurnID, turns[0].TurnID)
}

func TestPlannerAndFallback(t *testing.T) {
	ctx := context.Background()

	p := &stubPlanner{payload: intent.Payload{Tool: cvetools.GetStatistics}, ok: true}
	s := newSession(t, WithPlanner(p))
	r, err := s.ProcessQuery(ctx, "what's in there?", "", nil)
	require.NoError(t, err)
	require.Equal(t, intent.SourceLLM, r.Intent.Source)
	require.Equal(t, cvetools.GetStatistics, r.Intent.Tool)
	require.NotEmpty(t, p.seen[0].Tools)

	_, err = s.ProcessQuery(ctx, "again", "", nil)
	require.NoError(t, err)
	require.Len(t, p.seen[1].History, 1, "planner sees earlier turns")

	for _, bad := range []*stubPlanner{
		{err: errors.New("rate limited")},
		{ok: false},
		{payload: intent.Payload{Tool: "hallucinated_tool"}, ok: true},
	} {
		s := newSession(t, WithPlanner(bad))
		r, err := s.ProcessQuery(ctx, "Show me CVE-2014-0160", "", nil)
		require.NoError(t, err)
		require.Equal(t, intent.SourceRule, r.Intent.Source)
		require.Equal(t, cvetools.GetDetails, r.Intent.Tool)
	}
}

func TestResetHistoryAndClose(t *testing.T) {
	c := &countingCloser{}
	s := newSession(t, WithStoreHandle(c))
	ctx := context.Background()
	_, err := s.ProcessQuery(ctx, "CVE-2014-0160", "", nil)
	require.NoError(t, err)

	h := s.History()
	h[0].Input = "mutated"
	h[0].Intent.Params["cve_id"] = "mutated"
	require.Equal(t, "CVE-2014-0160", s.History()[0].Input)
	require.Equal(t, "CVE-2014-0160", s.History()[0].Intent.Params.String("cve_id"))

	s.Reset()
	require.Empty(t, s.History())
	require.Zero(t, c.n, "reset must keep the store handle")

	_, err = s.ProcessQuery(ctx, "CVE-2014-0160", "", nil)
	require.NoError(t, err)
	require.Len(t, s.History(), 1)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.Equal(t, 1, c.n)
}

func TestInvalidExtractionIsRecordedAsError(t *testing.T) {
	reg := tool.NewRegistry()
	require.NoError(t, cvetools.Register(reg, memstore.New(), cvetools.Options{}))
	res := intent.NewResolver(reg, intent.WithMatchers([]intent.Matcher{
		{Name: "bad_limit", Tool: cvetools.ListRecent, Match: func(string) (map[string]any, bool) {
			return map[string]any{"limit": "many"}, true
		}},
	}))
	s := New(res, executor.New(reg))

	r, err := s.ProcessQuery(context.Background(), "latest many", "", nil)
	require.NoError(t, err)
	require.Equal(t, tool.StatusError, r.Result.Status)
	require.Equal(t, errmodel.CodeInvalidParameter, r.Result.Error.Code)
	require.NotEmpty(t, r.TurnID)
	require.NotEmpty(t, r.Rendered.Content)
	require.Len(t, s.History(), 1)
}
