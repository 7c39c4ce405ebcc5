package decisionmaker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse_RawJSON(t *testing.T) {
	raw := `{"overallAssessment":"fine","decisions":[{"severity":"high","category":"security","description":"sql injection","file":"db.go","line":12,"raisedBy":["reviewerA"],"verdict":"rejected","reasoning":"unsafe query"}],"additionalFindings":[]}`

	d := Parse("council", raw)
	require.Equal(t, "council (Decision Maker)", d.ReviewerLabel)
	require.Equal(t, "fine", d.OverallAssessment)
	require.Len(t, d.Decisions, 1)
	require.Equal(t, SeverityHigh, d.Decisions[0].Severity)
	require.Equal(t, CategorySecurity, d.Decisions[0].Category)
	require.Equal(t, VerdictRejected, d.Decisions[0].Verdict)
	require.NotNil(t, d.Decisions[0].Line)
	require.Equal(t, 12, *d.Decisions[0].Line)
}

// TestParse_FencedJSONWithTrailingCommentary verifies JSON wrapped in a
// markdown code fence with commentary before and after it still parses.
func TestParse_FencedJSONWithTrailingCommentary(t *testing.T) {
	raw := "Here is my assessment of the change:\n\n```json\n" +
		`{"overallAssessment":"looks good","decisions":[],"additionalFindings":[]}` +
		"\n```\n\nLet me know if you have questions."

	d := Parse("reviewerA", raw)
	require.Equal(t, "looks good", d.OverallAssessment)
	require.Empty(t, d.Decisions)
}

func TestParse_BalancedBraceScanIgnoresCurlyBracesInStrings(t *testing.T) {
	raw := `some preamble text {"overallAssessment":"ok with {braces} inside strings","decisions":[],"additionalFindings":[]} trailing`

	d := Parse("reviewerA", raw)
	require.Equal(t, "ok with {braces} inside strings", d.OverallAssessment)
}

func TestParse_CommentsAndTrailingCommasTolerated(t *testing.T) {
	raw := `{
		// overall take
		"overallAssessment": "mostly fine",
		"decisions": [
			{"severity": "low", "category": "readability", "description": "naming", "verdict": "modified",},
		],
		"additionalFindings": [],
	}`

	d := Parse("reviewerA", raw)
	require.Equal(t, "mostly fine", d.OverallAssessment)
	require.Len(t, d.Decisions, 1)
	require.Equal(t, SeverityLow, d.Decisions[0].Severity)
}

func TestParse_UnparseableInputFallsBackToParseFailed(t *testing.T) {
	raw := "I refuse to produce structured output today."
	d := Parse("reviewerA", raw)

	require.True(t, strings.HasPrefix(d.OverallAssessment, "[PARSE_FAILED] "))
	require.Empty(t, d.Decisions)
	require.Empty(t, d.AdditionalFindings)
}

func TestParse_FallbackSnippetTruncatedAt200Chars(t *testing.T) {
	raw := strings.Repeat("x", 500)
	d := Parse("reviewerA", raw)

	require.Equal(t, "[PARSE_FAILED] "+strings.Repeat("x", 200), d.OverallAssessment)
}

func TestParse_CoercesUnknownSeverityCategoryAndVerdict(t *testing.T) {
	raw := `{"overallAssessment":"x","decisions":[{"severity":"critical","category":"style","description":"d","verdict":"maybe"}],"additionalFindings":[]}`

	d := Parse("reviewerA", raw)
	require.Len(t, d.Decisions, 1)
	require.Equal(t, SeverityMedium, d.Decisions[0].Severity)
	require.Equal(t, CategoryOther, d.Decisions[0].Category)
	require.Equal(t, VerdictModified, d.Decisions[0].Verdict)
}

func TestParse_CoerceLineDropsNonPositiveAndNonIntegerValues(t *testing.T) {
	for _, line := range []string{"-5", "0", "3.5"} {
		raw := fmt.Sprintf(`{"overallAssessment":"x","decisions":[{"severity":"low","category":"other","description":"d","verdict":"accepted","line":%s}],"additionalFindings":[]}`, line)
		d := Parse("reviewerA", raw)
		require.Nil(t, d.Decisions[0].Line, "line=%s", line)
	}
}

func TestParse_CoerceLineKeepsPositiveInteger(t *testing.T) {
	raw := `{"overallAssessment":"x","decisions":[{"severity":"low","category":"other","description":"d","verdict":"accepted","line":42}],"additionalFindings":[]}`
	d := Parse("reviewerA", raw)
	require.NotNil(t, d.Decisions[0].Line)
	require.Equal(t, 42, *d.Decisions[0].Line)
}

func TestParse_TruncatesDecisionsAndFindingsToCaps(t *testing.T) {
	var decisions []string
	for i := 0; i < MaxDecisions+5; i++ {
		decisions = append(decisions, `{"severity":"low","category":"other","description":"d","verdict":"accepted"}`)
	}
	var findings []string
	for i := 0; i < MaxAdditionalFindings+5; i++ {
		findings = append(findings, `{"severity":"low","category":"other","description":"d"}`)
	}

	raw := fmt.Sprintf(`{"overallAssessment":"x","decisions":[%s],"additionalFindings":[%s]}`,
		strings.Join(decisions, ","), strings.Join(findings, ","))

	d := Parse("reviewerA", raw)
	require.Len(t, d.Decisions, MaxDecisions)
	require.Len(t, d.AdditionalFindings, MaxAdditionalFindings)
}
