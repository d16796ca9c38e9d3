package entstore

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/castleinc/cveagent/pkg/cve"
	"github.com/castleinc/cveagent/pkg/store/memstore"
)

func sqliteURL(name string) string {
	return "sqlite:file:" + name + "?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)&_fk=1"
}

func TestOpenRejectsUnknownScheme(t *testing.T) {
	if _, err := Open(context.Background(), "mysql://root@localhost/db"); err == nil {
		t.Fatal("expected unsupported scheme error")
	}
	if _, err := Open(context.Background(), ""); err == nil {
		t.Fatal("expected empty url error")
	}
}

func TestParseURL(t *testing.T) {
	cases := []struct {
		in   string
		want target
	}{
		{"sqlite:file:x.db", target{driver: "sqlite3", dsn: "file:x.db", dialect: "sqlite3"}},
		{"SQLite:", target{driver: "sqlite3", dsn: defaultSQLite, dialect: "sqlite3"}},
		{"postgres://u:p@localhost:5432/db?sslmode=disable", target{driver: "pgx", dsn: "postgres://u:p@localhost:5432/db?sslmode=disable", dialect: "postgres"}},
		{"host=localhost user=u dbname=db", target{driver: "pgx", dsn: "host=localhost user=u dbname=db", dialect: "postgres"}},
	}
	for _, c := range cases {
		got, err := parseURL(c.in)
		if err != nil {
			t.Fatalf("%s: %v", c.in, err)
		}
		if diff := cmp.Diff(c.want, got, cmp.AllowUnexported(target{})); diff != "" {
			t.Fatalf("%s (-want +got):\n%s", c.in, diff)
		}
	}
	if _, err := parseURL("cves.db"); err == nil {
		t.Fatal("bare path accepted")
	}
}

func TestSQLiteFindByID(t *testing.T) {
	st := openSeeded(t, sqliteURL("findbyid"))
	ctx := context.Background()

	r, err := st.FindByID(ctx, "cve-2021-44228")
	if err != nil {
		t.Fatal(err)
	}
	if r.CVEID != "CVE-2021-44228" || r.Severity != cve.SeverityCritical {
		t.Fatalf("got %+v", r)
	}
	if len(r.Keywords) == 0 || r.Published.IsZero() {
		t.Fatalf("lists or times not restored: %+v", r)
	}
	if _, err := st.FindByID(ctx, "CVE-2000-0000"); !errors.Is(err, cve.ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
}

// The SQL store must agree with the in-memory reference for every query shape.
func TestSQLiteMatchesMemstore(t *testing.T) {
	st := openSeeded(t, sqliteURL("parity"))
	rs, err := cve.SampleRecords()
	if err != nil {
		t.Fatal(err)
	}
	mem := memstore.New(rs...)
	ctx := context.Background()

	seven, nine := 7.0, 9.0
	criteria := []cve.Criteria{
		{Severity: cve.SeverityCritical},
		{Severity: cve.SeverityHigh},
		{Severity: cve.SeverityLow},
		{MinScore: &seven, MaxScore: &nine},
		{ExploitMaturity: "proof of concept"},
		{IncludeInactive: true},
	}
	for _, c := range criteria {
		got, err := st.FindByFilter(ctx, c, 10, nil)
		if err != nil {
			t.Fatal(err)
		}
		want, _ := mem.FindByFilter(ctx, c, 10, nil)
		if diff := cmp.Diff(ids(want), ids(got)); diff != "" {
			t.Fatalf("criteria %+v (-mem +sql):\n%s", c, diff)
		}
	}

	got, err := st.FindByFilter(ctx, cve.Criteria{}, 3, &cve.Sort{By: cve.SortByPublished, Desc: true})
	if err != nil {
		t.Fatal(err)
	}
	want, _ := mem.FindByFilter(ctx, cve.Criteria{}, 3, &cve.Sort{By: cve.SortByPublished, Desc: true})
	if diff := cmp.Diff(ids(want), ids(got)); diff != "" {
		t.Fatalf("recent (-mem +sql):\n%s", diff)
	}

	for _, kw := range []string{"java", "WINDOWS", "rails", "no-such-thing"} {
		got, err := st.TextSearch(ctx, kw, 10)
		if err != nil {
			t.Fatal(err)
		}
		want, _ := mem.TextSearch(ctx, kw, 10)
		if diff := cmp.Diff(ids(want), ids(got)); diff != "" {
			t.Fatalf("keyword %q (-mem +sql):\n%s", kw, diff)
		}
	}

	for _, f := range []cve.Field{cve.FieldSeverity, cve.FieldExploitMaturity, cve.FieldClassification} {
		got, err := st.AggregateCountsBy(ctx, f)
		if err != nil {
			t.Fatal(err)
		}
		want, _ := mem.AggregateCountsBy(ctx, f)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("aggregate %s (-mem +sql):\n%s", f, diff)
		}
	}
}

func TestSQLiteUpsertReplaces(t *testing.T) {
	st := openSeeded(t, sqliteURL("upsert"))
	ctx := context.Background()
	r, err := st.FindByID(ctx, "CVE-2014-0160")
	if err != nil {
		t.Fatal(err)
	}
	r.Title = "Heartbleed (updated)"
	r.Active = false
	if err := st.Upsert(ctx, r); err != nil {
		t.Fatal(err)
	}
	got, err := st.FindByID(ctx, "CVE-2014-0160")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Heartbleed (updated)" || got.Active {
		t.Fatalf("got %+v", got)
	}
	if _, err := st.AggregateCountsBy(ctx, cve.Field("vendor")); err == nil {
		t.Fatal("expected unsupported field error")
	}
}

func TestSQLiteTurnAppendAndList(t *testing.T) {
	ctx := context.Background()
	st, err := Open(ctx, sqliteURL("turns"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Migrate(ctx); err != nil {
		t.Fatal(err)
	}

	t1, err := st.AppendTurn(ctx, turnFixture("t1", "s1", "get_cve_details", map[string]any{"cve_id": "CVE-1999-0095"}))
	if err != nil {
		t.Fatal(err)
	}
	if t1.Seq != 1 {
		t.Fatalf("seq=%d want 1", t1.Seq)
	}
	t2, err := st.AppendTurn(ctx, turnFixture("t2", "s1", "get_cve_statistics", nil))
	if err != nil {
		t.Fatal(err)
	}
	if t2.Seq != 2 {
		t.Fatalf("seq=%d want 2", t2.Seq)
	}
	again, err := st.AppendTurn(ctx, turnFixture("t1", "s1", "other", nil))
	if err != nil {
		t.Fatal(err)
	}
	if again.Seq != 1 || again.Tool != "get_cve_details" {
		t.Fatalf("append not idempotent: %+v", again)
	}
	if _, err := st.AppendTurn(ctx, turnFixture("t3", "s2", "x", nil)); err != nil {
		t.Fatal(err)
	}

	turns, err := st.ListTurns(ctx, "s1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 2 {
		t.Fatalf("len=%d want 2", len(turns))
	}
	if string(turns[0].Params) != `{"cve_id":"CVE-1999-0095"}` {
		t.Fatalf("params=%s", turns[0].Params)
	}
	after, err := st.ListTurns(ctx, "s1", 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != 1 || after[0].TurnID != "t2" {
		t.Fatalf("after=%+v", after)
	}
	last, err := st.LastSeq(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if last != 2 {
		t.Fatalf("last=%d want 2", last)
	}
	none, err := st.LastSeq(ctx, "missing")
	if err != nil || none != 0 {
		t.Fatalf("last=%d err=%v", none, err)
	}
}

func ids(rs []cve.Record) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.CVEID)
	}
	return out
}
