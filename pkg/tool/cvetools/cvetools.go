// Package cvetools binds the fixed CVE tool catalog to a cve.Repository.
package cvetools

import (
	"context"
	"errors"

	"github.com/castleinc/cveagent/pkg/cve"
	"github.com/castleinc/cveagent/pkg/tool"
)

// Tool names. Collaborators (LLM planners, MCP clients, the HTTP API) bind to these.
const (
	GetDetails              = "get_cve_details"
	SearchBySeverity        = "search_cves_by_severity"
	SearchByScore           = "search_cves_by_score"
	SearchByKeyword         = "search_cves_by_keyword"
	GetStatistics           = "get_cve_statistics"
	SearchByExploitMaturity = "search_cves_by_exploit_maturity"
	ListRecent              = "list_recent_cves"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// DetailFormats are the render formats get_cve_details accepts.
var DetailFormats = []string{"detailed", "summary", "json", "markdown"}

// Options tune the catalog. Zero values use DefaultLimit and MaxLimit.
type Options struct {
	DefaultLimit int
	MaxLimit     int
}

func (o Options) withDefaults() Options {
	if o.MaxLimit <= 0 {
		o.MaxLimit = MaxLimit
	}
	if o.DefaultLimit <= 0 {
		o.DefaultLimit = DefaultLimit
	}
	if o.DefaultLimit > o.MaxLimit {
		o.DefaultLimit = o.MaxLimit
	}
	return o
}

// Specs returns the catalog in registration order.
func Specs(o Options) []tool.Spec {
	o = o.withDefaults()
	limit := func() tool.ParamSpec {
		lo, hi := tool.Bounds(1, float64(o.MaxLimit))
		return tool.ParamSpec{
			Name:        "limit",
			Type:        tool.TypeInteger,
			Description: "Maximum number of records to return",
			Default:     o.DefaultLimit,
			Min:         lo,
			Max:         hi,
			Clamp:       true,
		}
	}
	score := func(name, desc string) tool.ParamSpec {
		lo, hi := tool.Bounds(0, 10)
		return tool.ParamSpec{Name: name, Type: tool.TypeFloat, Description: desc, Required: true, Min: lo, Max: hi}
	}
	severities := make([]string, 0, len(cve.Severities))
	for _, s := range cve.Severities {
		severities = append(severities, string(s))
	}
	return []tool.Spec{
		{
			Name:        GetDetails,
			Description: "Get full details for one CVE by its identifier",
			Params: []tool.ParamSpec{
				{Name: "cve_id", Type: tool.TypeString, Required: true, Description: "CVE identifier such as CVE-2021-44228"},
				{Name: "format", Type: tool.TypeEnum, Enum: DetailFormats, Default: "detailed", Description: "Presentation format"},
			},
		},
		{
			Name:        SearchBySeverity,
			Description: "Search active CVEs by severity rating",
			Params: []tool.ParamSpec{
				{Name: "severity", Type: tool.TypeEnum, Required: true, Enum: severities, Description: "Severity rating"},
				limit(),
			},
		},
		{
			Name:        SearchByScore,
			Description: "Search active CVEs whose CVSS base score falls in an inclusive range",
			Params: []tool.ParamSpec{
				score("min_score", "Lowest CVSS score"),
				score("max_score", "Highest CVSS score"),
				limit(),
			},
		},
		{
			Name:        SearchByKeyword,
			Description: "Search active CVEs whose title, description or keywords mention a term",
			Params: []tool.ParamSpec{
				{Name: "keyword", Type: tool.TypeString, Required: true, Description: "Search term"},
				limit(),
			},
		},
		{
			Name:        GetStatistics,
			Description: "Count active CVEs by severity, exploit maturity and classification",
		},
		{
			Name:        SearchByExploitMaturity,
			Description: "Search active CVEs by exploit code maturity",
			Params: []tool.ParamSpec{
				{Name: "maturity", Type: tool.TypeEnum, Required: true, Enum: cve.Maturities, Description: "Exploit code maturity"},
				limit(),
			},
		},
		{
			Name:        ListRecent,
			Description: "List the most recently published active CVEs",
			Params:      []tool.ParamSpec{limit()},
		},
	}
}

// Register adds every catalog tool to reg, bound to repo.
func Register(reg *tool.Registry, repo cve.Repository, o Options) error {
	h := handlers{repo: repo}
	bound := map[string]tool.Handler{
		GetDetails:              h.details,
		SearchBySeverity:        h.bySeverity,
		SearchByScore:           h.byScore,
		SearchByKeyword:         h.byKeyword,
		GetStatistics:           h.statistics,
		SearchByExploitMaturity: h.byMaturity,
		ListRecent:              h.recent,
	}
	for _, s := range Specs(o) {
		if err := reg.Register(s, bound[s.Name]); err != nil {
			return err
		}
	}
	return nil
}

type handlers struct {
	repo cve.Repository
}

func (h handlers) details(ctx context.Context, p tool.Params) (any, error) {
	r, err := h.repo.FindByID(ctx, p.String("cve_id"))
	if errors.Is(err, cve.ErrNotFound) {
		return nil, tool.ErrNoResult
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (h handlers) bySeverity(ctx context.Context, p tool.Params) (any, error) {
	sev, _ := cve.ParseSeverity(p.String("severity"))
	return h.filter(ctx, cve.Criteria{Severity: sev}, p.Int("limit"), nil)
}

func (h handlers) byScore(ctx context.Context, p tool.Params) (any, error) {
	lo, hi := p.Float("min_score"), p.Float("max_score")
	if lo > hi {
		lo, hi = hi, lo
	}
	return h.filter(ctx, cve.Criteria{MinScore: &lo, MaxScore: &hi}, p.Int("limit"), nil)
}

func (h handlers) byKeyword(ctx context.Context, p tool.Params) (any, error) {
	rs, err := h.repo.TextSearch(ctx, p.String("keyword"), p.Int("limit"))
	if err != nil {
		return nil, err
	}
	return cve.RecordList(rs), nil
}

func (h handlers) byMaturity(ctx context.Context, p tool.Params) (any, error) {
	return h.filter(ctx, cve.Criteria{ExploitMaturity: p.String("maturity")}, p.Int("limit"), nil)
}

func (h handlers) recent(ctx context.Context, p tool.Params) (any, error) {
	return h.filter(ctx, cve.Criteria{}, p.Int("limit"), &cve.Sort{By: cve.SortByPublished, Desc: true})
}

func (h handlers) statistics(ctx context.Context, _ tool.Params) (any, error) {
	st, err := cve.CollectStatistics(ctx, h.repo)
	if err != nil {
		return nil, err
	}
	if st.Total == 0 {
		return nil, tool.ErrNoResult
	}
	return st, nil
}

func (h handlers) filter(ctx context.Context, c cve.Criteria, limit int, s *cve.Sort) (any, error) {
	rs, err := h.repo.FindByFilter(ctx, c, limit, s)
	if err != nil {
		return nil, err
	}
	return cve.RecordList(rs), nil
}
