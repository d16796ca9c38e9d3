package entstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/castleinc/cveagent/pkg/cve"
)

const cvesTable = "cves"

// cveColumns are selected and inserted in this order; see scanRecord and recordValues.
var cveColumns = []string{
	"cve_id", "title", "description", "technical_description", "severity",
	"cvss_score", "cvss_vector", "exploit_maturity", "remediation_level", "report_confidence",
	"classification_location", "classification_attack_type", "classification_impact", "solution",
	"keywords", "reference_urls", "affected_products", "published", "last_modified", "is_active",
}

var aggregateColumns = map[cve.Field]string{
	cve.FieldSeverity:        "severity",
	cve.FieldExploitMaturity: "exploit_maturity",
	cve.FieldClassification:  "classification_location",
}

func (s *Store) FindByID(ctx context.Context, id string) (cve.Record, error) {
	b := s.builder()
	q, args := b.Select(cveColumns...).
		From(b.Table(cvesTable)).
		Where(entsql.EQ("cve_id", strings.ToUpper(strings.TrimSpace(id)))).
		Limit(1).
		Query()
	recs, err := s.selectRecords(ctx, q, args)
	if err != nil {
		return cve.Record{}, err
	}
	if len(recs) == 0 {
		return cve.Record{}, cve.ErrNotFound
	}
	return recs[0], nil
}

func (s *Store) FindByFilter(ctx context.Context, c cve.Criteria, limit int, sort *cve.Sort) ([]cve.Record, error) {
	preds, err := criteriaPredicates(c)
	if err != nil {
		return nil, err
	}
	b := s.builder()
	sel := b.Select(cveColumns...).From(b.Table(cvesTable))
	if len(preds) > 0 {
		sel = sel.Where(entsql.And(preds...))
	}
	sel = sel.OrderBy(orderBy(sort)...)
	if limit > 0 {
		sel = sel.Limit(limit)
	}
	q, args := sel.Query()
	return s.selectRecords(ctx, q, args)
}

// TextSearch matches keyword against title, description and keywords.
func (s *Store) TextSearch(ctx context.Context, keyword string, limit int) ([]cve.Record, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, nil
	}
	b := s.builder()
	sel := b.Select(cveColumns...).
		From(b.Table(cvesTable)).
		Where(entsql.And(
			entsql.EQ("is_active", true),
			entsql.Or(
				entsql.ContainsFold("title", keyword),
				entsql.ContainsFold("description", keyword),
				entsql.ContainsFold("keywords", keyword),
			),
		)).
		OrderBy(orderBy(nil)...)
	if limit > 0 {
		sel = sel.Limit(limit)
	}
	q, args := sel.Query()
	return s.selectRecords(ctx, q, args)
}

func (s *Store) AggregateCountsBy(ctx context.Context, f cve.Field) (map[string]int, error) {
	col, ok := aggregateColumns[f]
	if !ok {
		return nil, cve.ErrUnsupportedField{Field: f}
	}
	b := s.builder()
	q, args := b.Select(col, entsql.Count("*")).
		From(b.Table(cvesTable)).
		Where(entsql.EQ("is_active", true)).
		GroupBy(col).
		Query()
	out := map[string]int{}
	err := s.query(ctx, q, args, func(rows *sql.Rows) error {
		var k sql.NullString
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return err
		}
		out[k.String] += n
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", col, err)
	}
	return out, nil
}

// Upsert inserts records or replaces existing ones with the same identifier.
func (s *Store) Upsert(ctx context.Context, rs ...cve.Record) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, r := range rs {
			r.Normalize()
			vals, err := recordValues(r)
			if err != nil {
				return err
			}
			q, args := s.builder().Insert(cvesTable).
				Columns(cveColumns...).
				Values(vals...).
				OnConflict(entsql.ConflictColumns("cve_id"), entsql.ResolveWithNewValues()).
				Query()
			if _, err := tx.ExecContext(ctx, q, args...); err != nil {
				return fmt.Errorf("upsert %s: %w", r.CVEID, err)
			}
		}
		return nil
	})
}

func criteriaPredicates(c cve.Criteria) ([]*entsql.Predicate, error) {
	var preds []*entsql.Predicate
	if !c.IncludeInactive {
		preds = append(preds, entsql.EQ("is_active", true))
	}
	if c.Severity != "" {
		band, ok := cve.ScoreBand(c.Severity)
		if !ok {
			return nil, fmt.Errorf("unknown severity %q", c.Severity)
		}
		inBand := []*entsql.Predicate{entsql.GT("cvss_score", 0), entsql.GTE("cvss_score", band.Min)}
		if band.Below > 0 {
			inBand = append(inBand, entsql.LT("cvss_score", band.Below))
		}
		preds = append(preds, entsql.Or(
			entsql.And(inBand...),
			entsql.And(
				entsql.EQ("cvss_score", 0),
				entsql.EQ("severity", string(c.Severity)),
			),
		))
	}
	if c.MinScore != nil || c.MaxScore != nil {
		preds = append(preds, entsql.GT("cvss_score", 0))
		if c.MinScore != nil {
			preds = append(preds, entsql.GTE("cvss_score", *c.MinScore))
		}
		if c.MaxScore != nil {
			preds = append(preds, entsql.LTE("cvss_score", *c.MaxScore))
		}
	}
	if c.ExploitMaturity != "" {
		preds = append(preds, entsql.EqualFold("exploit_maturity", c.ExploitMaturity))
	}
	return preds, nil
}

func orderBy(s *cve.Sort) []string {
	if s == nil {
		s = &cve.DefaultSort
	}
	col := "cvss_score"
	if s.By == cve.SortByPublished {
		col = "published"
	}
	if s.Desc {
		return []string{entsql.Desc(col), entsql.Asc("cve_id")}
	}
	return []string{entsql.Asc(col), entsql.Asc("cve_id")}
}

func (s *Store) selectRecords(ctx context.Context, q string, args []any) ([]cve.Record, error) {
	var out []cve.Record
	err := s.query(ctx, q, args, func(rows *sql.Rows) error {
		r, err := scanRecord(rows)
		if err != nil {
			return err
		}
		out = append(out, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scanRecord(rows *sql.Rows) (cve.Record, error) {
	var (
		r                        cve.Record
		severity                 string
		keywords, refs, products string
		published, lastModified  any
	)
	err := rows.Scan(
		&r.CVEID, &r.Title, &r.Description, &r.TechnicalDescription, &severity,
		&r.CVSSScore, &r.CVSSVector, &r.ExploitMaturity, &r.RemediationLevel, &r.ReportConfidence,
		&r.ClassificationLocation, &r.ClassificationAttackType, &r.ClassificationImpact, &r.Solution,
		&keywords, &refs, &products, &published, &lastModified, &r.Active,
	)
	if err != nil {
		return cve.Record{}, err
	}
	r.Severity = cve.Severity(severity)
	if r.Keywords, err = decodeList(keywords); err != nil {
		return cve.Record{}, fmt.Errorf("%s keywords: %w", r.CVEID, err)
	}
	if r.References, err = decodeList(refs); err != nil {
		return cve.Record{}, fmt.Errorf("%s references: %w", r.CVEID, err)
	}
	if r.AffectedProducts, err = decodeList(products); err != nil {
		return cve.Record{}, fmt.Errorf("%s affected_products: %w", r.CVEID, err)
	}
	if r.Published, err = scanTime(published); err != nil {
		return cve.Record{}, err
	}
	if r.LastModified, err = scanTime(lastModified); err != nil {
		return cve.Record{}, err
	}
	return r, nil
}

func recordValues(r cve.Record) ([]any, error) {
	keywords, err := encodeList(r.Keywords)
	if err != nil {
		return nil, err
	}
	refs, err := encodeList(r.References)
	if err != nil {
		return nil, err
	}
	products, err := encodeList(r.AffectedProducts)
	if err != nil {
		return nil, err
	}
	return []any{
		r.CVEID, r.Title, r.Description, r.TechnicalDescription, string(r.Severity),
		r.CVSSScore, r.CVSSVector, r.ExploitMaturity, r.RemediationLevel, r.ReportConfidence,
		r.ClassificationLocation, r.ClassificationAttackType, r.ClassificationImpact, r.Solution,
		keywords, refs, products, nullTime(r.Published), nullTime(r.LastModified), r.Active,
	}, nil
}

func encodeList(v []string) (string, error) {
	if len(v) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func decodeList(s string) ([]string, error) {
	if s == "" || s == "[]" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// scanTime accepts the representations drivers hand back for timestamp columns.
func scanTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return t.UTC(), nil
	case []byte:
		return parseTime(string(t))
	case string:
		return parseTime(t)
	default:
		return time.Time{}, fmt.Errorf("unexpected time value %T", v)
	}
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.New("unparseable time " + s)
}
