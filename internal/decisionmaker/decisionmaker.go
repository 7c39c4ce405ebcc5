// Package decisionmaker parses the decision maker agent's reply (the
// prompt itself is built by promptbuilder) through a defensive, multi-strategy
// JSON extraction pipeline, validating the result against the fixed
// ReviewDecision schema. Parsing never throws: every failure mode
// degrades to a fallback decision rather than propagating an error.
package decisionmaker

import (
	"encoding/json"
	"strings"
)

// Severity is one of the three decision-item severities.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Verdict is the decision maker's disposition of one item.
type Verdict string

const (
	VerdictAccepted Verdict = "accepted"
	VerdictRejected Verdict = "rejected"
	VerdictModified Verdict = "modified"
)

// Category mirrors config.CheckCategory's fixed six-member set.
type Category string

const (
	CategorySecurity      Category = "security"
	CategoryPerformance   Category = "performance"
	CategoryReadability   Category = "readability"
	CategoryCodeQuality   Category = "code-quality"
	CategoryBestPractices Category = "best-practices"
	CategoryOther         Category = "other"
)

var validCategories = map[Category]bool{
	CategorySecurity: true, CategoryPerformance: true, CategoryReadability: true,
	CategoryCodeQuality: true, CategoryBestPractices: true, CategoryOther: true,
}

// DecisionItem is one adjudicated finding.
type DecisionItem struct {
	Severity    Severity `json:"severity"`
	Category    Category `json:"category"`
	Description string   `json:"description"`
	File        string   `json:"file,omitempty"`
	Line        *int     `json:"line,omitempty"`
	RaisedBy    []string `json:"raisedBy,omitempty"`
	Verdict     Verdict  `json:"verdict"`
	Reasoning   string   `json:"reasoning,omitempty"`
	Suggestion  string   `json:"suggestion,omitempty"`
}

// AdditionalFinding is a DecisionItem minus raisedBy/verdict/reasoning.
type AdditionalFinding struct {
	Severity    Severity `json:"severity"`
	Category    Category `json:"category"`
	Description string   `json:"description"`
	File        string   `json:"file,omitempty"`
	Line        *int     `json:"line,omitempty"`
	Suggestion  string   `json:"suggestion,omitempty"`
}

// MaxDecisions and MaxAdditionalFindings cap the final lists.
const (
	MaxDecisions          = 15
	MaxAdditionalFindings = 3
)

// Decision is the fully validated structured adjudication.
type Decision struct {
	ReviewerLabel      string              `json:"reviewerLabel"`
	OverallAssessment  string              `json:"overallAssessment"`
	Decisions          []DecisionItem      `json:"decisions"`
	AdditionalFindings []AdditionalFinding `json:"additionalFindings"`
}

// rawDecision is the free-form intermediate shape parsed straight off the
// wire, before field-by-field coercion into the canonical Decision.
type rawDecision struct {
	OverallAssessment  string    `json:"overallAssessment"`
	Decisions          []rawItem `json:"decisions"`
	AdditionalFindings []rawItem `json:"additionalFindings"`
}

type rawItem struct {
	Severity    string   `json:"severity"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	File        string   `json:"file"`
	Line        *float64 `json:"line"`
	RaisedBy    []string `json:"raisedBy"`
	Verdict     string   `json:"verdict"`
	Reasoning   string   `json:"reasoning"`
	Suggestion  string   `json:"suggestion"`
}

// Parse runs the four-strategy extraction pipeline against raw model
// output and returns a validated Decision, labeled with reviewerName.
// Parse never returns an error: an unparseable reply degrades to a
// PARSE_FAILED fallback decision, per the parse-fallback-never-throws
// design.
func Parse(reviewerName, raw string) Decision {
	label := reviewerName + " (Decision Maker)"

	jsonStr, ok := extractJSON(raw)
	if !ok {
		return fallback(label, raw)
	}

	var rd rawDecision
	if err := json.Unmarshal([]byte(jsonStr), &rd); err != nil {
		return fallback(label, raw)
	}

	return validate(label, rd)
}

// extractJSON tries, in order: (1) raw trimmed parse; (2) after stripping
// markdown code fences; (3) the first balanced {...} substring via a
// stateful string/escape-aware scanner; (4) that balanced substring with
// JS-style comments stripped and trailing commas removed. The first
// candidate that is syntactically valid JSON wins.
func extractJSON(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if isValidJSON(trimmed) {
		return trimmed, true
	}

	fenced := stripCodeFences(trimmed)
	if isValidJSON(fenced) {
		return fenced, true
	}

	balanced, found := firstBalancedObject(fenced)
	if found && isValidJSON(balanced) {
		return balanced, true
	}

	if found {
		cleaned := stripCommentsAndTrailingCommas(balanced)
		if isValidJSON(cleaned) {
			return cleaned, true
		}
	}

	return "", false
}

func isValidJSON(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}
	return json.Valid([]byte(s))
}

// stripCodeFences removes a leading/trailing ``` or ```json fence.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		firstLine := strings.TrimSpace(s[:idx])
		if firstLine == "json" || firstLine == "" {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// firstBalancedObject scans s for the first top-level {...} substring,
// tracking string and escape state so braces inside string literals don't
// throw off the balance count.
func firstBalancedObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}

	return "", false
}

// stripCommentsAndTrailingCommas removes JS-style // and /* */ comments
// and commas that immediately precede } or ], all while respecting string
// context.
func stripCommentsAndTrailingCommas(s string) string {
	var b strings.Builder
	inString := false
	escaped := false

	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		c := runes[i]

		if inString {
			b.WriteRune(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		if c == '"' {
			inString = true
			b.WriteRune(c)
			continue
		}

		if c == '/' && i+1 < len(runes) && runes[i+1] == '/' {
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			i--
			continue
		}

		if c == '/' && i+1 < len(runes) && runes[i+1] == '*' {
			i += 2
			for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			i++
			continue
		}

		b.WriteRune(c)
	}

	out := b.String()
	return trailingCommaPattern(out)
}

// trailingCommaPattern removes a comma (plus surrounding whitespace) that
// directly precedes a closing } or ], outside of string context. The
// comment-stripping pass has already removed comments, so this operates on
// plain JSON-ish text but still tracks strings to avoid mangling comma
// characters that legitimately appear inside a string value.
func trailingCommaPattern(s string) string {
	var b strings.Builder
	inString := false
	escaped := false

	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		c := runes[i]

		if inString {
			b.WriteRune(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		if c == '"' {
			inString = true
			b.WriteRune(c)
			continue
		}

		if c == ',' {
			j := i + 1
			for j < len(runes) && (runes[j] == ' ' || runes[j] == '\n' || runes[j] == '\t' || runes[j] == '\r') {
				j++
			}
			if j < len(runes) && (runes[j] == '}' || runes[j] == ']') {
				continue
			}
		}

		b.WriteRune(c)
	}

	return b.String()
}

// fallback builds the PARSE_FAILED decision used when all four extraction
// strategies fail. This counts as a decision-maker success for
// aggregation purposes.
func fallback(label, raw string) Decision {
	snippet := raw
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	return Decision{
		ReviewerLabel:      label,
		OverallAssessment:  "[PARSE_FAILED] " + snippet,
		Decisions:          []DecisionItem{},
		AdditionalFindings: []AdditionalFinding{},
	}
}

// validate coerces rawDecision fields into the canonical Decision,
// applying the fixed coercion rules and final truncation.
func validate(label string, rd rawDecision) Decision {
	decisions := make([]DecisionItem, 0, len(rd.Decisions))
	for _, item := range rd.Decisions {
		decisions = append(decisions, DecisionItem{
			Severity:    coerceSeverity(item.Severity),
			Category:    coerceCategory(item.Category),
			Description: item.Description,
			File:        item.File,
			Line:        coerceLine(item.Line),
			RaisedBy:    item.RaisedBy,
			Verdict:     coerceVerdict(item.Verdict),
			Reasoning:   item.Reasoning,
			Suggestion:  item.Suggestion,
		})
	}
	if len(decisions) > MaxDecisions {
		decisions = decisions[:MaxDecisions]
	}

	findings := make([]AdditionalFinding, 0, len(rd.AdditionalFindings))
	for _, item := range rd.AdditionalFindings {
		findings = append(findings, AdditionalFinding{
			Severity:    coerceSeverity(item.Severity),
			Category:    coerceCategory(item.Category),
			Description: item.Description,
			File:        item.File,
			Line:        coerceLine(item.Line),
			Suggestion:  item.Suggestion,
		})
	}
	if len(findings) > MaxAdditionalFindings {
		findings = findings[:MaxAdditionalFindings]
	}

	return Decision{
		ReviewerLabel:      label,
		OverallAssessment:  rd.OverallAssessment,
		Decisions:          decisions,
		AdditionalFindings: findings,
	}
}

func coerceSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityHigh, SeverityMedium, SeverityLow:
		return Severity(s)
	default:
		return SeverityMedium
	}
}

func coerceCategory(c string) Category {
	if validCategories[Category(c)] {
		return Category(c)
	}
	return CategoryOther
}

func coerceVerdict(v string) Verdict {
	switch Verdict(v) {
	case VerdictAccepted, VerdictRejected, VerdictModified:
		return Verdict(v)
	default:
		return VerdictModified
	}
}

// coerceLine keeps line only if it is a positive integer.
func coerceLine(f *float64) *int {
	if f == nil {
		return nil
	}
	n := int(*f)
	if n <= 0 || float64(n) != *f {
		return nil
	}
	return &n
}
