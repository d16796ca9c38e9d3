package cve

import (
	"context"
	"embed"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

//go:embed seed/sample.yaml
var seedFS embed.FS

type seedRecord struct {
	Record   `yaml:",inline"`
	IsActive *bool `yaml:"is_active"`
}

type seedDoc struct {
	CVEs []seedRecord `yaml:"cves"`
}

// DecodeSeed reads a seed document. YAML is a superset of JSON, so both
// encodings are accepted. Records default to active.
func DecodeSeed(r io.Reader) ([]Record, error) {
	var doc seedDoc
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	out := make([]Record, 0, len(doc.CVEs))
	seen := make(map[string]bool, len(doc.CVEs))
	for i, sr := range doc.CVEs {
		rec := sr.Record
		rec.Active = sr.IsActive == nil || *sr.IsActive
		rec.Normalize()
		if rec.CVEID == "" {
			return nil, fmt.Errorf("seed entry %d: missing cve_id", i)
		}
		if seen[rec.CVEID] {
			return nil, fmt.Errorf("seed entry %d: duplicate %s", i, rec.CVEID)
		}
		seen[rec.CVEID] = true
		out = append(out, rec)
	}
	return out, nil
}

// SampleRecords returns the bundled demo data set.
func SampleRecords() ([]Record, error) {
	f, err := seedFS.Open("seed/sample.yaml")
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeSeed(f)
}

// Seed writes records into w.
func Seed(ctx context.Context, w Writer, rs []Record) error {
	if len(rs) == 0 {
		return nil
	}
	return w.Upsert(ctx, rs...)
}

// CollectStatistics aggregates the active records of repo.
func CollectStatistics(ctx context.Context, repo Repository) (Statistics, error) {
	var st Statistics
	var err error
	if st.BySeverity, err = repo.AggregateCountsBy(ctx, FieldSeverity); err != nil {
		return Statistics{}, err
	}
	if st.ByExploitMaturity, err = repo.AggregateCountsBy(ctx, FieldExploitMaturity); err != nil {
		return Statistics{}, err
	}
	if st.ByClassification, err = repo.AggregateCountsBy(ctx, FieldClassification); err != nil {
		return Statistics{}, err
	}
	for _, n := range st.BySeverity {
		st.Total += n
	}
	st.ByExploitMaturity = dropBlank(st.ByExploitMaturity)
	st.ByClassification = dropBlank(st.ByClassification)
	return st, nil
}

func dropBlank(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		if k == "" {
			continue
		}
		out[k] = v
	}
	return out
}
