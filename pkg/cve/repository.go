package cve

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNotFound is returned by FindByID when no record matches.
var ErrNotFound = errors.New("cve: record not found")

// Field names a groupable attribute for AggregateCountsBy.
type Field string

const (
	FieldSeverity        Field = "severity"
	FieldExploitMaturity Field = "exploit_maturity"
	FieldClassification  Field = "classification_location"
)

// ErrUnsupportedField is returned for aggregation fields a store cannot group by.
type ErrUnsupportedField struct{ Field Field }

func (e ErrUnsupportedField) Error() string {
	return fmt.Sprintf("cve: cannot aggregate by %q", string(e.Field))
}

// ValueOf returns the record attribute a Field groups on.
func (f Field) ValueOf(r Record) (string, error) {
	switch f {
	case FieldSeverity:
		return string(r.Rating()), nil
	case FieldExploitMaturity:
		return r.ExploitMaturity, nil
	case FieldClassification:
		return r.ClassificationLocation, nil
	default:
		return "", ErrUnsupportedField{Field: f}
	}
}

// Criteria filters records. Zero values impose no constraint; inactive
// records are excluded unless IncludeInactive is set.
type Criteria struct {
	Severity        Severity
	MinScore        *float64
	MaxScore        *float64
	ExploitMaturity string
	IncludeInactive bool
}

// Match applies the criteria to a single record. Severity filters use the
// CVSS band for scored records and the stored rating otherwise. Score bounds
// never match unscored records.
func (c Criteria) Match(r Record) bool {
	if !c.IncludeInactive && !r.Active {
		return false
	}
	if c.Severity != "" {
		band, ok := ScoreBand(c.Severity)
		if !ok {
			return false
		}
		if r.HasScore() {
			if !band.Contains(r.CVSSScore) {
				return false
			}
		} else if !strings.EqualFold(string(r.Severity), string(c.Severity)) {
			return false
		}
	}
	if c.MinScore != nil || c.MaxScore != nil {
		if !r.HasScore() {
			return false
		}
		if c.MinScore != nil && r.CVSSScore < *c.MinScore {
			return false
		}
		if c.MaxScore != nil && r.CVSSScore > *c.MaxScore {
			return false
		}
	}
	if c.ExploitMaturity != "" && !strings.EqualFold(r.ExploitMaturity, c.ExploitMaturity) {
		return false
	}
	return true
}

// MatchesKeyword reports whether kw occurs, case-insensitively, in the title,
// the description or any keyword of r.
func MatchesKeyword(r Record, kw string) bool {
	kw = strings.ToLower(strings.TrimSpace(kw))
	if kw == "" {
		return false
	}
	if strings.Contains(strings.ToLower(r.Title), kw) || strings.Contains(strings.ToLower(r.Description), kw) {
		return true
	}
	for _, k := range r.Keywords {
		if strings.Contains(strings.ToLower(k), kw) {
			return true
		}
	}
	return false
}

// SortKey selects the ordering column.
type SortKey string

const (
	SortByScore     SortKey = "cvss_score"
	SortByPublished SortKey = "published"
)

// Sort orders FindByFilter results. A nil *Sort means highest score first.
// Ties are always broken by ascending identifier.
type Sort struct {
	By   SortKey
	Desc bool
}

// DefaultSort is used when callers pass nil.
var DefaultSort = Sort{By: SortByScore, Desc: true}

// SortRecords orders rs in place following s.
func SortRecords(rs []Record, s *Sort) {
	if s == nil {
		s = &DefaultSort
	}
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		var cmp int
		switch s.By {
		case SortByPublished:
			cmp = a.Published.Compare(b.Published)
		default:
			switch {
			case a.CVSSScore < b.CVSSScore:
				cmp = -1
			case a.CVSSScore > b.CVSSScore:
				cmp = 1
			}
		}
		if cmp == 0 {
			return a.CVEID < b.CVEID
		}
		if s.Desc {
			return cmp > 0
		}
		return cmp < 0
	})
}

// Repository is the read-only store contract the tools depend on.
// Implementations must be safe for concurrent use.
type Repository interface {
	FindByID(ctx context.Context, id string) (Record, error)
	FindByFilter(ctx context.Context, c Criteria, limit int, s *Sort) ([]Record, error)
	TextSearch(ctx context.Context, keyword string, limit int) ([]Record, error)
	AggregateCountsBy(ctx context.Context, f Field) (map[string]int, error)
}

// Writer loads records into a store. Only seeding uses it.
type Writer interface {
	Upsert(ctx context.Context, rs ...Record) error
}
