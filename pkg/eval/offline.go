// Package eval scores the resolver and renderer against fixture queries and
// replays recorded transcripts.
package eval

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"reflect"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/castleinc/cveagent/pkg/errmodel"
	"github.com/castleinc/cveagent/pkg/session"
)

//go:embed fixtures/*.yaml
var builtin embed.FS

// Builtin returns the bundled fixtures, rooted at "fixtures".
func Builtin() fs.FS { return builtin }

// Fixture is one query evaluation case. Query is a text/template rendered
// with Vars.
type Fixture struct {
	Name   string         `json:"name" yaml:"name"`
	Query  string         `json:"query" yaml:"query"`
	Format string         `json:"format,omitempty" yaml:"format"`
	Vars   map[string]any `json:"vars,omitempty" yaml:"vars"`
	Expect Expectation    `json:"expect" yaml:"expect"`
}

type Expectation struct {
	Tool        string         `json:"tool,omitempty" yaml:"tool"`
	Matcher     string         `json:"matcher,omitempty" yaml:"matcher"`
	Params      map[string]any `json:"params,omitempty" yaml:"params"`
	Status      string         `json:"status,omitempty" yaml:"status"`
	Format      string         `json:"format,omitempty" yaml:"format"`
	ErrorCode   string         `json:"error_code,omitempty" yaml:"error_code"`
	Contains    []string       `json:"contains,omitempty" yaml:"contains"`
	NotContains []string       `json:"not_contains,omitempty" yaml:"not_contains"`
}

// Report summarises a fixture run. Score is Passed/Total, or 1 when there
// were no fixtures.
type Report struct {
	Score   float64  `json:"score"`
	Total   int      `json:"total"`
	Passed  int      `json:"passed"`
	Details []string `json:"details,omitempty"`
}

// EvaluateFixtures loads fixtures (json or yaml) from dir and runs each as
// the first turn of a fresh session from newSession.
func EvaluateFixtures(ctx context.Context, fsys fs.FS, dir string, newSession func() *session.Session) (Report, error) {
	fixtures, err := loadFixtures(fsys, dir)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Total: len(fixtures)}
	if rep.Total == 0 {
		rep.Score = 1
		return rep, nil
	}
	for _, fx := range fixtures {
		problems := run(ctx, fx, newSession)
		if len(problems) == 0 {
			rep.Passed++
			continue
		}
		for _, p := range problems {
			rep.Details = append(rep.Details, fx.Name+": "+p)
		}
	}
	rep.Score = float64(rep.Passed) / float64(rep.Total)
	return rep, nil
}

func run(ctx context.Context, fx Fixture, newSession func() *session.Session) []string {
	query, err := renderTemplate(fx.Query, fx.Vars)
	if err != nil {
		return []string{"render error: " + err.Error()}
	}
	sess := newSession()
	defer sess.Close()
	reply, qerr := sess.ProcessQuery(ctx, query, fx.Format, nil)

	var problems []string
	check := func(what, want, got string) {
		if want != "" && want != got {
			problems = append(problems, fmt.Sprintf("%s=%q want %q", what, got, want))
		}
	}
	e := fx.Expect
	check("tool", e.Tool, reply.Intent.Tool)
	check("matcher", e.Matcher, reply.Intent.Matcher)
	check("status", e.Status, string(reply.Result.Status))
	check("format", e.Format, string(reply.Rendered.Format))
	code := ""
	if ce := errmodel.From(qerr); ce != nil {
		code = ce.Code
	} else if reply.Result.Error != nil {
		code = reply.Result.Error.Code
	}
	check("error", e.ErrorCode, code)
	for k, want := range e.Params {
		got, ok := reply.Intent.Params[k]
		if !ok {
			problems = append(problems, "missing param "+k)
			continue
		}
		if !sameValue(want, got) {
			problems = append(problems, fmt.Sprintf("param %s=%v want %v", k, got, want))
		}
	}
	for _, s := range e.Contains {
		if !strings.Contains(reply.Rendered.Content, s) {
			problems = append(problems, "missing contains: "+s)
		}
	}
	for _, s := range e.NotContains {
		if strings.Contains(reply.Rendered.Content, s) {
			problems = append(problems, "unexpected contains: "+s)
		}
	}
	return problems
}

// sameValue compares fixture values to bound params; numbers compare by
// value whatever their Go type.
func sameValue(want, got any) bool {
	if wf, ok := toFloat(want); ok {
		gf, ok := toFloat(got)
		return ok && wf == gf
	}
	if ws, ok := want.(string); ok {
		gs, ok := got.(string)
		return ok && strings.EqualFold(ws, gs)
	}
	return reflect.DeepEqual(want, got)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func loadFixtures(fsys fs.FS, dir string) ([]Fixture, error) {
	var out []Fixture
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := path.Ext(e.Name())
		if ext != ".json" && ext != ".yaml" && ext != ".yml" {
			continue
		}
		b, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		var batch []Fixture
		if ext == ".json" {
			var fx Fixture
			err = json.Unmarshal(b, &fx)
			batch = []Fixture{fx}
		} else {
			// a yaml file holds a list of fixtures
			err = yaml.Unmarshal(b, &batch)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		out = append(out, batch...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func renderTemplate(tpl string, vars map[string]any) (string, error) {
	t, err := template.New("q").Option("missingkey=error").Parse(tpl)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := t.Execute(&b, vars); err != nil {
		return "", err
	}
	return b.String(), nil
}
