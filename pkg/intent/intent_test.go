package intent

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/castleinc/cveagent/pkg/errmodel"
	"github.com/castleinc/cveagent/pkg/store/memstore"
	"github.com/castleinc/cveagent/pkg/tool"
	"github.com/castleinc/cveagent/pkg/tool/cvetools"
)

func newResolver(t *testing.T) *Resolver {
	t.Helper()
	reg := tool.NewRegistry()
	require.NoError(t, cvetools.Register(reg, memstore.New(), cvetools.Options{}))
	return NewResolver(reg)
}

func TestResolveScenarios(t *testing.T) {
	r := newResolver(t)
	cases := []struct {
		text    string
		tool    string
		params  tool.Params
		matcher string
	}{
		{
			text:    "Show me CVE-1999-0095",
			tool:    cvetools.GetDetails,
			params:  tool.Params{"cve_id": "CVE-1999-0095", "format": "detailed"},
			matcher: MatchIdentifier,
		},
		{
			text:    "Find high severity vulnerabilities",
			tool:    cvetools.SearchBySeverity,
			params:  tool.Params{"severity": "HIGH", "limit": 10},
			matcher: MatchSeverity,
		},
		{
			// Severity word and score range together: the range wins.
			text:    "Get critical vulnerabilities between 7 and 9",
			tool:    cvetools.SearchByScore,
			params:  tool.Params{"min_score": 7.0, "max_score": 9.0, "limit": 10},
			matcher: MatchScoreRange,
		},
		{
			text:    "cvss score 9 to 6.5",
			tool:    cvetools.SearchByScore,
			params:  tool.Params{"min_score": 6.5, "max_score": 9.0, "limit": 10},
			matcher: MatchScoreRange,
		},
		{
			text:    "anything with a score above 8.5",
			tool:    cvetools.SearchByScore,
			params:  tool.Params{"min_score": 8.5, "max_score": 10.0, "limit": 10},
			matcher: MatchScoreRange,
		},
		{
			text:    "vulns below 4",
			tool:    cvetools.SearchByScore,
			params:  tool.Params{"min_score": 0.0, "max_score": 4.0, "limit": 10},
			matcher: MatchScoreRange,
		},
		{
			text:    "top 3 medium issues",
			tool:    cvetools.SearchBySeverity,
			params:  tool.Params{"severity": "MEDIUM", "limit": 3},
			matcher: MatchSeverity,
		},
		{
			text:    "give me an overview of the database",
			tool:    cvetools.GetStatistics,
			params:  tool.Params{},
			matcher: MatchStatistics,
		},
		{
			text:    "which bugs have a proof of concept exploit",
			tool:    cvetools.SearchByExploitMaturity,
			params:  tool.Params{"maturity": "Proof of Concept", "limit": 10},
			matcher: MatchMaturity,
		},
		{
			text:    "latest 5 entries",
			tool:    cvetools.ListRecent,
			params:  tool.Params{"limit": 5},
			matcher: MatchRecency,
		},
		{
			text:    "  SQL injection in login form ",
			tool:    cvetools.SearchByKeyword,
			params:  tool.Params{"keyword": "SQL injection in login form", "limit": 10},
			matcher: MatchKeyword,
		},
		{
			text:    "critical issues with score from 2020 to 2021 between 7 and 9",
			tool:    cvetools.SearchByScore,
			params:  tool.Params{"min_score": 7.0, "max_score": 9.0, "limit": 10},
			matcher: MatchScoreRange,
		},
		{
			text:    "give me more than 5 critical vulnerabilities",
			tool:    cvetools.SearchBySeverity,
			params:  tool.Params{"severity": "CRITICAL", "limit": 10},
			matcher: MatchSeverity,
		},
		{
			text:    "cvss score greater than 8",
			tool:    cvetools.SearchByScore,
			params:  tool.Params{"min_score": 8.0, "max_score": 10.0, "limit": 10},
			matcher: MatchScoreRange,
		},
		{
			text:    "vulnerabilities in new apache versions",
			tool:    cvetools.SearchByKeyword,
			params:  tool.Params{"keyword": "vulnerabilities in new apache versions", "limit": 10},
			matcher: MatchKeyword,
		},
		{
			text:    "scores from 2019 to 2021",
			tool:    cvetools.SearchByKeyword,
			params:  tool.Params{"keyword": "scores from 2019 to 2021", "limit": 10},
			matcher: MatchKeyword,
		},
	}
	for _, c := range cases {
		got, err := r.Resolve(context.Background(), c.text)
		require.NoError(t, err, c.text)
		require.Equal(t, c.tool, got.Tool, c.text)
		require.Equal(t, c.matcher, got.Matcher, c.text)
		require.Equal(t, SourceRule, got.Source)
		if diff := cmp.Diff(c.params, got.Params); diff != "" {
			t.Fatalf("%q params (-want +got):\n%s", c.text, diff)
		}
	}
}

func TestIdentifierAnywhereAnyCase(t *testing.T) {
	r := newResolver(t)
	ids := []string{"CVE-2021-44228", "cve-2014-0160", "Cve-2023-1234567"}
	shapes := []string{"%s", "tell me about %s please", "what is %s?", "(%s) details in json", "details for id_%s", "x%sy"}
	for _, id := range ids {
		for _, shape := range shapes {
			text := fmt.Sprintf(shape, id)
			got, err := r.Resolve(context.Background(), text)
			require.NoError(t, err)
			require.Equal(t, cvetools.GetDetails, got.Tool, text)
			require.Equal(t, strings.ToUpper(id), got.Params.String("cve_id"), text)
		}
	}
	got, _ := r.Resolve(context.Background(), "CVE-2021-44228 summary")
	require.Equal(t, "summary", got.Params.String("format"))
}

func TestFallbackIsTotal(t *testing.T) {
	r := newResolver(t)
	for _, text := range []string{"apache", "x", "???", "buffer overflow in kernel", "über-bug 🐛"} {
		got, err := r.Resolve(context.Background(), text)
		require.NoError(t, err, text)
		require.Equal(t, cvetools.SearchByKeyword, got.Tool, text)
		require.Equal(t, text, got.Params.String("keyword"))
	}
	_, err := r.Resolve(context.Background(), " \t\n")
	require.True(t, errmodel.HasCode(err, errmodel.CodeInvalidIntent), "err=%v", err)
}

func TestResolveIsDeterministic(t *testing.T) {
	r := newResolver(t)
	text := "top 7 critical exploits over 9"
	first, err := r.Resolve(context.Background(), text)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := r.Resolve(context.Background(), text)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestResolveStructured(t *testing.T) {
	r := newResolver(t)
	ctx := context.Background()

	in, err := r.ResolveStructured(ctx, Payload{Tool: cvetools.SearchBySeverity, Parameters: map[string]any{"severity": "HIGH"}})
	require.NoError(t, err)
	require.Equal(t, SourceStructured, in.Source)
	require.Equal(t, 10, in.Params.Int("limit"), "limit must default to 10")

	in, err = r.ResolveStructured(ctx, Payload{Tool: cvetools.SearchByScore, Parameters: map[string]any{"min_score": "7", "max_score": 9}})
	require.NoError(t, err)
	require.Equal(t, 7.0, in.Params.Float("min_score"))

	_, err = r.ResolveStructured(ctx, Payload{Tool: "delete_everything"})
	require.True(t, errmodel.HasCode(err, errmodel.CodeUnknownTool), "err=%v", err)

	_, err = r.ResolveStructured(ctx, Payload{Tool: cvetools.GetDetails})
	require.True(t, errmodel.HasCode(err, errmodel.CodeInvalidIntent), "err=%v", err)
	require.Equal(t, "cve_id", errmodel.From(err).Context["parameter"])

	_, err = r.ResolveStructured(ctx, Payload{Tool: cvetools.SearchByScore, Parameters: map[string]any{"min_score": "low", "max_score": 9}})
	require.True(t, errmodel.HasCode(err, errmodel.CodeInvalidIntent), "err=%v", err)

	_, err = r.ResolveStructured(ctx, Payload{})
	require.True(t, errmodel.HasCode(err, errmodel.CodeInvalidIntent), "err=%v", err)
}

func TestCloneDetachesParams(t *testing.T) {
	in := Intent{Tool: "t", Params: tool.Params{"limit": 10}}
	c := in.Clone()
	c.Params["limit"] = 99
	require.Equal(t, 10, in.Params.Int("limit"))
}

func TestCustomMatchers(t *testing.T) {
	reg := tool.NewRegistry()
	require.NoError(t, cvetools.Register(reg, memstore.New(), cvetools.Options{}))
	r := NewResolver(reg, WithMatchers([]Matcher{
		{Name: "always_stats", Tool: cvetools.GetStatistics, Match: func(string) (map[string]any, bool) { return nil, true }},
	}))
	got, err := r.Resolve(context.Background(), "CVE-2021-44228")
	require.NoError(t, err)
	require.Equal(t, cvetools.GetStatistics, got.Tool)
}

func TestUnboundExtractionIsKept(t *testing.T) {
	reg := tool.NewRegistry()
	require.NoError(t, cvetools.Register(reg, memstore.New(), cvetools.Options{}))
	r := NewResolver(reg, WithMatchers([]Matcher{
		{Name: "bad_score", Tool: cvetools.SearchByScore, Match: func(string) (map[string]any, bool) {
			return map[string]any{"min_score": 12.0, "max_score": 15.0}, true
		}},
	}))
	got, err := r.Resolve(context.Background(), "scores above twelve")
	require.NoError(t, err)
	require.Equal(t, cvetools.SearchByScore, got.Tool)
	require.Equal(t, 12.0, got.Params.Float("min_score"))
	entry, err := reg.Get(got.Tool)
	require.NoError(t, err)
	_, bindErr := entry.Bind(got.Params)
	require.True(t, errmodel.HasCode(bindErr, errmodel.CodeInvalidParameter), "err=%v", bindErr)
}
