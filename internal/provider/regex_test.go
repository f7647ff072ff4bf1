package provider

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleNotes = `W.O. No: WO-2024-001
라인: A3
Lot no. L-7788
검사자: 김민수
2024-06-01 오전 검사
판정: 합격
비고: 표면 양호`

func TestRegexExtract(t *testing.T) {
	e := NewRegexExtractor()

	out := e.Extract(ExtractInput{
		Text:      sampleNotes,
		FieldKeys: []string{"wo_no", "line", "lot_no", "inspector", "inspected_at", "result"},
	})

	assert.Equal(t, "WO-2024-001", out.Fields["wo_no"])
	assert.Equal(t, "A3", out.Fields["line"])
	assert.Equal(t, "L-7788", out.Fields["lot_no"])
	assert.Equal(t, "김민수", out.Fields["inspector"])
	assert.Equal(t, "2024-06-01", out.Fields["inspected_at"])
	assert.Equal(t, "합격", out.Fields["result"])
	for k := range out.Fields {
		assert.Equal(t, 1.0, out.Confidence[k], k)
	}
	assert.Equal(t, "regex", out.Audit.Provider)
	assert.True(t, strings.HasPrefix(out.Audit.PromptHash, "sha256:"))
}

func TestRegexExtract_OnlyWantedFields(t *testing.T) {
	e := NewRegexExtractor()

	out := e.Extract(ExtractInput{Text: sampleNotes, FieldKeys: []string{"wo_no"}})
	assert.Equal(t, map[string]string{"wo_no": "WO-2024-001"}, out.Fields)
}

func TestRegexExtract_NoMatch(t *testing.T) {
	e := NewRegexExtractor()

	out := e.Extract(ExtractInput{Text: "nothing useful here", FieldKeys: []string{"wo_no", "result"}})
	assert.Empty(t, out.Fields)
}

func TestRulesetHash_Stable(t *testing.T) {
	a := NewRegexExtractor().RulesetHash()
	b := NewRegexExtractor().RulesetHash()
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "sha256:"))
	assert.Len(t, a, len("sha256:")+16)
}

func TestCovers(t *testing.T) {
	out := &ExtractOutput{Fields: map[string]string{"wo_no": "WO-1", "line": "A"}}

	assert.True(t, Covers(out, []string{"wo_no", "line"}))
	assert.True(t, Covers(out, nil))
	assert.False(t, Covers(out, []string{"wo_no", "inspected_at"}))
}

func TestMerge_RegexWins(t *testing.T) {
	regexOut := &ExtractOutput{
		Fields:     map[string]string{"wo_no": "WO-1"},
		Confidence: map[string]float64{"wo_no": 1.0},
	}
	llmOut := &ExtractOutput{
		Fields:     map[string]string{"wo_no": "WO-1-guessed", "inspector": "kim"},
		Confidence: map[string]float64{"wo_no": 0.6, "inspector": 0.9},
		Audit:      NewRegexExtractor().Extract(ExtractInput{}).Audit,
	}

	merged := Merge(regexOut, llmOut)
	assert.Equal(t, "WO-1", merged.Fields["wo_no"], "verbatim capture beats the LLM guess")
	assert.Equal(t, 1.0, merged.Confidence["wo_no"])
	assert.Equal(t, "kim", merged.Fields["inspector"])
	assert.Equal(t, llmOut.Audit, merged.Audit)
}

func TestRenderPrompt(t *testing.T) {
	out := RenderPrompt([]string{"wo_no", "line"}, map[string]string{"text": "some notes"})

	assert.Contains(t, out, "- line\n- wo_no", "field list is sorted")
	assert.Contains(t, out, "some notes")
	assert.NotContains(t, out, "{{field_list}}")
	assert.NotContains(t, out, "{{text}}")
}

func TestPromptAndResponseHash(t *testing.T) {
	assert.Equal(t, PromptHash("x"), PromptHash("x"))
	assert.NotEqual(t, PromptHash("x"), PromptHash("y"))
	assert.True(t, strings.HasPrefix(PromptHash("x"), "sha256:"))

	assert.Len(t, ResponseHash("raw"), 64)
	assert.NotEqual(t, ResponseHash("a"), ResponseHash("b"))
}

func TestGradeOCR(t *testing.T) {
	tests := []struct {
		confidence float64
		ok, warn   bool
	}{
		{0.95, true, false},
		{0.8, true, false},
		{0.79, true, true},
		{0.5, true, true},
		{0.49, false, false},
		{0, false, false},
	}
	for _, tt := range tests {
		ok, warn := GradeOCR(tt.confidence)
		assert.Equal(t, tt.ok, ok, tt.confidence)
		assert.Equal(t, tt.warn, warn, tt.confidence)
	}
}

func TestParseRetryAfterHeader(t *testing.T) {
	assert.Equal(t, 30, ParseRetryAfterHeader("30"))
	assert.Equal(t, 0, ParseRetryAfterHeader(""))
	assert.Equal(t, 0, ParseRetryAfterHeader("Wed, 21 Oct 2015 07:28:00 GMT"))
}

func TestNewRateLimitError_DefaultRetry(t *testing.T) {
	err := NewRateLimitError("claude", assert.AnError, 0)
	require.NotNil(t, err)
	assert.Equal(t, "claude", err.Provider)
	assert.Equal(t, "1m0s", err.RetryAfter.String())
	assert.ErrorIs(t, err, assert.AnError)
}
