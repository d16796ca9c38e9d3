// Package cve holds the vulnerability record model, the read-only repository
// contract the tools are built on, and the matching rules every store shares.
package cve

import (
	"strings"
	"time"
)

// Severity is the qualitative rating of a record.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityUnknown  Severity = "UNKNOWN"
)

// Severities lists the ratings accepted by severity filters, most severe first.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// Band is a half-open CVSS score range [Min, Below). A zero Below leaves
// the range open at the top.
type Band struct {
	Min   float64
	Below float64
}

// Contains reports whether score falls inside the band.
func (b Band) Contains(score float64) bool {
	return score >= b.Min && (b.Below == 0 || score < b.Below)
}

var bands = map[Severity]Band{
	SeverityCritical: {Min: 9.0},
	SeverityHigh:     {Min: 7.0, Below: 9.0},
	SeverityMedium:   {Min: 4.0, Below: 7.0},
	SeverityLow:      {Min: 0.1, Below: 4.0},
}

// ParseSeverity accepts any casing of the four ratings.
func ParseSeverity(s string) (Severity, bool) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := bands[sev]
	return sev, ok
}

// ScoreBand returns the CVSS range a rating covers.
func ScoreBand(s Severity) (Band, bool) {
	b, ok := bands[s]
	return b, ok
}

// SeverityForScore rates a CVSS score. Zero means unscored.
func SeverityForScore(score float64) Severity {
	for _, s := range Severities {
		if bands[s].Contains(score) {
			return s
		}
	}
	return SeverityUnknown
}

// Exploit code maturity values, as published in CVSS temporal metrics.
const (
	MaturityHigh           = "High"
	MaturityFunctional     = "Functional"
	MaturityProofOfConcept = "Proof of Concept"
	MaturityUnproven       = "Unproven"
)

var Maturities = []string{MaturityFunctional, MaturityProofOfConcept, MaturityHigh, MaturityUnproven}

// Record is one vulnerability entry.
type Record struct {
	CVEID                    string    `json:"cve_id" yaml:"cve_id"`
	Title                    string    `json:"title" yaml:"title"`
	Description              string    `json:"description" yaml:"description"`
	TechnicalDescription     string    `json:"technical_description,omitempty" yaml:"technical_description"`
	Severity                 Severity  `json:"severity" yaml:"severity"`
	CVSSScore                float64   `json:"cvss_score" yaml:"cvss_score"`
	CVSSVector               string    `json:"cvss_vector,omitempty" yaml:"cvss_vector"`
	ExploitMaturity          string    `json:"exploit_code_maturity,omitempty" yaml:"exploit_code_maturity"`
	RemediationLevel         string    `json:"remediation_level,omitempty" yaml:"remediation_level"`
	ReportConfidence         string    `json:"report_confidence,omitempty" yaml:"report_confidence"`
	ClassificationLocation   string    `json:"classification_location,omitempty" yaml:"classification_location"`
	ClassificationAttackType string    `json:"classification_attack_type,omitempty" yaml:"classification_attack_type"`
	ClassificationImpact     string    `json:"classification_impact,omitempty" yaml:"classification_impact"`
	Solution                 string    `json:"solution,omitempty" yaml:"solution"`
	Keywords                 []string  `json:"keywords,omitempty" yaml:"keywords"`
	References               []string  `json:"references,omitempty" yaml:"references"`
	AffectedProducts         []string  `json:"affected_products,omitempty" yaml:"affected_products"`
	Published                time.Time `json:"published" yaml:"published"`
	LastModified             time.Time `json:"last_modified" yaml:"last_modified"`
	Active                   bool      `json:"is_active" yaml:"-"`
}

// HasScore reports whether a CVSS base score was recorded.
func (r Record) HasScore() bool { return r.CVSSScore > 0 }

// Rating is the effective severity: the CVSS band for scored records, the
// stored label otherwise.
func (r Record) Rating() Severity {
	if r.HasScore() {
		return SeverityForScore(r.CVSSScore)
	}
	if sev, ok := ParseSeverity(string(r.Severity)); ok {
		return sev
	}
	return SeverityUnknown
}

// Normalize canonicalises the identifier and replaces the stored label with
// the effective rating, so severity searches and statistics agree.
func (r *Record) Normalize() {
	r.CVEID = strings.ToUpper(strings.TrimSpace(r.CVEID))
	r.Severity = r.Rating()
	if !r.Published.IsZero() {
		r.Published = r.Published.UTC()
	}
	if !r.LastModified.IsZero() {
		r.LastModified = r.LastModified.UTC()
	}
}

// RecordList is a multi-record search result.
type RecordList []Record

// Statistics summarises the active records.
type Statistics struct {
	Total             int            `json:"total"`
	BySeverity        map[string]int `json:"by_severity"`
	ByExploitMaturity map[string]int `json:"by_exploit_maturity"`
	ByClassification  map[string]int `json:"by_classification"`
}
