package cvetools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/castleinc/cveagent/pkg/cve"
	"github.com/castleinc/cveagent/pkg/store/memstore"
	"github.com/castleinc/cveagent/pkg/tool"
)

func newRegistry(t *testing.T, repo cve.Repository) *tool.Registry {
	t.Helper()
	reg := tool.NewRegistry()
	require.NoError(t, Register(reg, repo, Options{}))
	return reg
}

func sampleStore(t *testing.T) *memstore.Store {
	t.Helper()
	rs, err := cve.SampleRecords()
	require.NoError(t, err)
	return memstore.New(rs...)
}

func call(t *testing.T, reg *tool.Registry, name string, args map[string]any) (any, error) {
	t.Helper()
	e, err := reg.Get(name)
	require.NoError(t, err)
	p, err := e.Bind(args)
	require.NoError(t, err)
	return e.Handler(context.Background(), p)
}

func TestCatalogOrderAndDefaults(t *testing.T) {
	reg := newRegistry(t, memstore.New())
	var names []string
	for _, s := range reg.List() {
		names = append(names, s.Name)
	}
	require.Equal(t, []string{GetDetails, SearchBySeverity, SearchByScore, SearchByKeyword, GetStatistics, SearchByExploitMaturity, ListRecent}, names)

	e, err := reg.Get(SearchBySeverity)
	require.NoError(t, err)
	p, err := e.Bind(map[string]any{"severity": "high"})
	require.NoError(t, err)
	require.Equal(t, tool.Params{"severity": "HIGH", "limit": 10}, p)

	p, err = e.Bind(map[string]any{"severity": "HIGH", "limit": 500})
	require.NoError(t, err)
	require.Equal(t, MaxLimit, p.Int("limit"))
}

func TestCatalogHonoursOptions(t *testing.T) {
	specs := Specs(Options{DefaultLimit: 5, MaxLimit: 20})
	p, ok := specs[1].Param("limit")
	require.True(t, ok)
	require.Equal(t, 5, p.Default)
	require.Equal(t, 20.0, *p.Max)
}

func TestDetails(t *testing.T) {
	reg := newRegistry(t, sampleStore(t))
	got, err := call(t, reg, GetDetails, map[string]any{"cve_id": "cve-1999-0095"})
	require.NoError(t, err)
	r, ok := got.(cve.Record)
	require.True(t, ok, "got %T", got)
	require.Equal(t, "CVE-1999-0095", r.CVEID)

	_, err = call(t, reg, GetDetails, map[string]any{"cve_id": "CVE-2000-0001"})
	require.True(t, errors.Is(err, tool.ErrNoResult), "err=%v", err)
}

func TestSearches(t *testing.T) {
	reg := newRegistry(t, sampleStore(t))

	got, err := call(t, reg, SearchBySeverity, map[string]any{"severity": "CRITICAL"})
	require.NoError(t, err)
	for _, r := range got.(cve.RecordList) {
		require.GreaterOrEqual(t, r.CVSSScore, 9.0, r.CVEID)
	}

	got, err = call(t, reg, SearchByScore, map[string]any{"min_score": 9.0, "max_score": 7.0, "limit": 3})
	require.NoError(t, err)
	list := got.(cve.RecordList)
	require.LessOrEqual(t, len(list), 3)
	for _, r := range list {
		require.True(t, r.CVSSScore >= 7 && r.CVSSScore <= 9, "%s %.1f", r.CVEID, r.CVSSScore)
	}

	got, err = call(t, reg, SearchByKeyword, map[string]any{"keyword": "OpenSSL"})
	require.NoError(t, err)
	require.NotEmpty(t, got.(cve.RecordList))

	got, err = call(t, reg, SearchByKeyword, map[string]any{"keyword": "zzz-no-match"})
	require.NoError(t, err)
	require.True(t, tool.IsEmpty(got))

	got, err = call(t, reg, ListRecent, map[string]any{"limit": 2})
	require.NoError(t, err)
	recent := got.(cve.RecordList)
	require.Len(t, recent, 2)
	require.False(t, recent[0].Published.Before(recent[1].Published))

	got, err = call(t, reg, SearchByExploitMaturity, map[string]any{"maturity": "functional"})
	require.NoError(t, err)
	for _, r := range got.(cve.RecordList) {
		require.Equal(t, cve.MaturityFunctional, r.ExploitMaturity)
	}
}

func TestStatistics(t *testing.T) {
	store := sampleStore(t)
	reg := newRegistry(t, store)
	got, err := call(t, reg, GetStatistics, nil)
	require.NoError(t, err)
	st := got.(cve.Statistics)
	require.Equal(t, store.Len()-1, st.Total, "inactive record must not be counted")

	_, err = call(t, newRegistry(t, memstore.New()), GetStatistics, nil)
	require.ErrorIs(t, err, tool.ErrNoResult)
}

func TestStatisticsAgreeWithSeveritySearch(t *testing.T) {
	rs, err := cve.SampleRecords()
	require.NoError(t, err)
	rs = append(rs,
		cve.Record{CVEID: "CVE-2030-0001", Severity: cve.SeverityCritical, CVSSScore: 8.95, Active: true},
		cve.Record{CVEID: "CVE-2030-0002", Severity: cve.SeverityMedium, CVSSScore: 3.95, Active: true},
		cve.Record{CVEID: "CVE-2030-0003", Severity: cve.SeverityLow, Active: true},
	)
	reg := newRegistry(t, memstore.New(rs...))

	got, err := call(t, reg, GetStatistics, map[string]any{})
	require.NoError(t, err)
	stats := got.(cve.Statistics)

	for _, sev := range cve.Severities {
		got, err := call(t, reg, SearchBySeverity, map[string]any{"severity": string(sev), "limit": MaxLimit})
		require.NoError(t, err)
		list, _ := got.(cve.RecordList)
		require.Equal(t, stats.BySeverity[string(sev)], len(list), sev)
		for _, r := range list {
			require.Equal(t, sev, r.Severity, r.CVEID)
		}
	}
	// CVE-1999-0095 is labelled HIGH but rates CRITICAL by its 10.0 score.
	require.Equal(t, 4, stats.BySeverity["CRITICAL"])
	require.Equal(t, 6, stats.BySeverity["HIGH"])
	require.Equal(t, 3, stats.BySeverity["LOW"])
}
