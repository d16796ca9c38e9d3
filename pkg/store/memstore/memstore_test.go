package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/castleinc/cveagent/pkg/cve"
)

func sample(t *testing.T) *Store {
	t.Helper()
	rs, err := cve.SampleRecords()
	if err != nil {
		t.Fatal(err)
	}
	return New(rs...)
}

func TestFindByIDCaseInsensitive(t *testing.T) {
	s := sample(t)
	r, err := s.FindByID(context.Background(), "cve-1999-0095")
	if err != nil {
		t.Fatal(err)
	}
	if r.CVEID != "CVE-1999-0095" {
		t.Fatalf("id=%s", r.CVEID)
	}
	if _, err := s.FindByID(context.Background(), "CVE-2000-9999"); !errors.Is(err, cve.ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
}

func TestFindByFilterLimitAndOrder(t *testing.T) {
	s := sample(t)
	got, err := s.FindByFilter(context.Background(), cve.Criteria{Severity: cve.SeverityCritical}, 3, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("len=%d want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].CVSSScore < got[i].CVSSScore {
			t.Fatalf("not sorted by score desc: %v then %v", got[i-1].CVSSScore, got[i].CVSSScore)
		}
	}
	for _, r := range got {
		if r.CVSSScore < 9 {
			t.Fatalf("%s score=%v outside critical band", r.CVEID, r.CVSSScore)
		}
	}
}

func TestTextSearchSkipsInactive(t *testing.T) {
	s := sample(t)
	got, err := s.TextSearch(context.Background(), "rails", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("inactive record returned: %+v", got)
	}
	got, err = s.TextSearch(context.Background(), "JAVA", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) < 2 {
		t.Fatalf("len=%d want >=2", len(got))
	}
}

func TestAggregateCountsBy(t *testing.T) {
	s := New(
		cve.Record{CVEID: "A", CVSSScore: 9.1, ExploitMaturity: "Functional", Active: true},
		cve.Record{CVEID: "B", CVSSScore: 9.9, ExploitMaturity: "Functional", Active: true},
		cve.Record{CVEID: "C", CVSSScore: 5, Active: true},
		cve.Record{CVEID: "D", CVSSScore: 5, Active: false},
	)
	got, err := s.AggregateCountsBy(context.Background(), cve.FieldSeverity)
	if err != nil {
		t.Fatal(err)
	}
	if got["CRITICAL"] != 2 || got["MEDIUM"] != 1 {
		t.Fatalf("got %v", got)
	}
	if _, err := s.AggregateCountsBy(context.Background(), cve.Field("vendor")); err == nil {
		t.Fatalf("expected unsupported field error")
	}
	st, err := cve.CollectStatistics(context.Background(), s)
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 3 || st.ByExploitMaturity["Functional"] != 2 {
		t.Fatalf("stats=%+v", st)
	}
	if _, ok := st.ByExploitMaturity[""]; ok {
		t.Fatalf("blank bucket kept")
	}
}

func TestCanceledContext(t *testing.T) {
	s := sample(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.FindByFilter(ctx, cve.Criteria{}, 10, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
}
