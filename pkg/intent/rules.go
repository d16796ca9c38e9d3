package intent

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/castleinc/cveagent/pkg/cve"
	"github.com/castleinc/cveagent/pkg/tool/cvetools"
)

// Matcher pairs a precondition/extractor with the tool it selects. Match
// must be pure: same text, same answer.
type Matcher struct {
	Name  string
	Tool  string
	Match func(text string) (map[string]any, bool)
}

// Matcher names, reported as Intent.Matcher.
const (
	MatchIdentifier = "identifier"
	MatchScoreRange = "score_range"
	MatchSeverity   = "severity"
	MatchStatistics = "statistics"
	MatchMaturity   = "exploit_maturity"
	MatchRecency    = "recency"
	MatchKeyword    = "keyword"
)

var (
	identifierRe = regexp.MustCompile(`(?i)CVE-\d{4}-\d{4,}`)
	formatWordRe = regexp.MustCompile(`(?i)\b(summary|json|markdown|detailed)\b`)

	number       = `(\d+(?:\.\d+)?)`
	rangePairRe  = regexp.MustCompile(`(?i)` + number + `\s*(?:-|to|and)\s*` + number)
	rangeCtxRe   = regexp.MustCompile(`(?i)\b(between|score|scores|scored|cvss|range|from)\b`)
	scorePhrase  = `\s*(?:a\s+)?(?:(?:cvss\s+)?score\s+(?:of\s+)?)?` + number
	aboveRe      = regexp.MustCompile(`(?i)\b(?:above|over|at least|higher than)` + scorePhrase)
	belowRe      = regexp.MustCompile(`(?i)\b(?:below|under|at most|lower than)` + scorePhrase)
	moreRe       = regexp.MustCompile(`(?i)\b(?:more than|greater than)` + scorePhrase)
	lessRe       = regexp.MustCompile(`(?i)\b(?:less than|fewer than)` + scorePhrase)
	scoreCtxRe   = regexp.MustCompile(`(?i)\b(score|scores|scored|scoring|cvss)\b`)
	severityRe   = regexp.MustCompile(`(?i)\b(critical|high|medium|low)\b`)
	statsRe      = regexp.MustCompile(`(?i)\b(statistics|stats|how many|count|counts|overview|breakdown)\b`)
	maturityRe   = regexp.MustCompile(`(?i)\b(functional|proof[ -]of[ -]concept|poc|unproven)\b`)
	exploitCtxRe = regexp.MustCompile(`(?i)\b(exploit|exploits|exploited|exploitable|maturity)\b`)
	recencyRe    = regexp.MustCompile(`(?i)\b(recent|recently|latest|newest|newly)\b`)
	limitRe      = regexp.MustCompile(`(?i)\b(?:top|first|limit|latest|last)\s+(\d{1,4})\b`)
)

// DefaultMatchers returns the rule set in evaluation order. A score range
// outranks a severity word, so "critical vulnerabilities between 7 and 9"
// searches by score.
func DefaultMatchers() []Matcher {
	return []Matcher{
		{Name: MatchIdentifier, Tool: cvetools.GetDetails, Match: matchIdentifier},
		{Name: MatchScoreRange, Tool: cvetools.SearchByScore, Match: matchScoreRange},
		{Name: MatchSeverity, Tool: cvetools.SearchBySeverity, Match: matchSeverity},
		{Name: MatchStatistics, Tool: cvetools.GetStatistics, Match: matchStatistics},
		{Name: MatchMaturity, Tool: cvetools.SearchByExploitMaturity, Match: matchMaturity},
		{Name: MatchRecency, Tool: cvetools.ListRecent, Match: matchRecency},
		{Name: MatchKeyword, Tool: cvetools.SearchByKeyword, Match: matchKeyword},
	}
}

func matchIdentifier(text string) (map[string]any, bool) {
	id := identifierRe.FindString(text)
	if id == "" {
		return nil, false
	}
	p := map[string]any{"cve_id": strings.ToUpper(id)}
	if m := formatWordRe.FindStringSubmatch(text); m != nil {
		p["format"] = strings.ToLower(m[1])
	}
	return p, true
}

func matchScoreRange(text string) (map[string]any, bool) {
	if rangeCtxRe.MatchString(text) {
		for _, m := range rangePairRe.FindAllStringSubmatch(text, -1) {
			lo, okLo := score(m[1])
			hi, okHi := score(m[2])
			if !okLo || !okHi {
				continue
			}
			if lo > hi {
				lo, hi = hi, lo
			}
			return withLimit(text, map[string]any{"min_score": lo, "max_score": hi}), true
		}
	}
	// "more than 5" usually counts records; only read it as a score when
	// the text talks about scores.
	above, below := []*regexp.Regexp{aboveRe}, []*regexp.Regexp{belowRe}
	if scoreCtxRe.MatchString(text) {
		above, below = append(above, moreRe), append(below, lessRe)
	}
	if lo, ok := firstScore(text, above); ok {
		return withLimit(text, map[string]any{"min_score": lo, "max_score": 10.0}), true
	}
	if hi, ok := firstScore(text, below); ok {
		return withLimit(text, map[string]any{"min_score": 0.0, "max_score": hi}), true
	}
	return nil, false
}

func firstScore(text string, res []*regexp.Regexp) (float64, bool) {
	for _, re := range res {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if f, ok := score(m[1]); ok {
				return f, true
			}
		}
	}
	return 0, false
}

func matchSeverity(text string) (map[string]any, bool) {
	m := severityRe.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	return withLimit(text, map[string]any{"severity": strings.ToUpper(m[1])}), true
}

func matchStatistics(text string) (map[string]any, bool) {
	if !statsRe.MatchString(text) {
		return nil, false
	}
	return map[string]any{}, true
}

func matchMaturity(text string) (map[string]any, bool) {
	m := maturityRe.FindStringSubmatch(text)
	if m == nil || !exploitCtxRe.MatchString(text) {
		return nil, false
	}
	var maturity string
	switch strings.ToLower(m[1]) {
	case "functional":
		maturity = cve.MaturityFunctional
	case "unproven":
		maturity = cve.MaturityUnproven
	default:
		maturity = cve.MaturityProofOfConcept
	}
	return withLimit(text, map[string]any{"maturity": maturity}), true
}

func matchRecency(text string) (map[string]any, bool) {
	if !recencyRe.MatchString(text) {
		return nil, false
	}
	return withLimit(text, map[string]any{}), true
}

func matchKeyword(text string) (map[string]any, bool) {
	kw := strings.TrimSpace(text)
	if kw == "" {
		return nil, false
	}
	return withLimit(text, map[string]any{"keyword": kw}), true
}

// withLimit adds an explicit "top N" style limit when the text carries one.
func withLimit(text string, p map[string]any) map[string]any {
	if m := limitRe.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			p["limit"] = n
		}
	}
	return p
}

func score(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || f > 10 {
		return 0, false
	}
	return f, true
}
