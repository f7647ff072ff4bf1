package provider

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"qcert/internal/domain"
)

// RulesetVersion identifies the built-in regex rule set recorded in the
// extraction audit when the regex pass serves a field.
const RulesetVersion = "1"

type regexRule struct {
	fieldKey string
	pattern  *regexp.Regexp
	group    int
}

// Built-in pre-extraction rules. Each rule captures the field value in the
// named group; rules run in order and the first match per field wins.
var defaultRules = []regexRule{
	{"wo_no", regexp.MustCompile(`(?i)(?:W\.?O\.?|작업지시|work\s*order)\s*(?:no\.?|번호|#|:)?\s*[:#]?\s*([A-Za-z0-9][A-Za-z0-9_-]*)`), 1},
	{"line", regexp.MustCompile(`(?i)(?:line|라인)\s*[:#]?\s*([A-Za-z0-9][A-Za-z0-9_-]*)`), 1},
	{"lot_no", regexp.MustCompile(`(?i)(?:lot|로트)\s*(?:no\.?|번호)?\s*[:#]?\s*([A-Za-z0-9][A-Za-z0-9_-]*)`), 1},
	{"inspector", regexp.MustCompile(`(?i)(?:inspector|검사자|담당)\s*[:#]?\s*([^\s,;]+)`), 1},
	{"inspected_at", regexp.MustCompile(`(\d{4}[-/.]\d{2}[-/.]\d{2})`), 1},
	{"result", regexp.MustCompile(`(?i)(?:result|판정|결과)\s*[:#]?\s*(PASS|FAIL|OK|NG|합격|불합격|[OX])`), 1},
}

// RegexExtractor runs the cheap rule pass before any LLM call. When every
// critical field is served by a rule the LLM call can be skipped entirely.
type RegexExtractor struct {
	rules []regexRule
}

// NewRegexExtractor returns an extractor over the built-in rule set.
func NewRegexExtractor() *RegexExtractor {
	return &RegexExtractor{rules: defaultRules}
}

// RulesetHash returns the audit hash of the active rule set, in the same
// "sha256:<hex16>" form as prompt hashes.
func (e *RegexExtractor) RulesetHash() string {
	var b strings.Builder
	for _, r := range e.rules {
		b.WriteString(r.fieldKey)
		b.WriteByte('\x00')
		b.WriteString(r.pattern.String())
		b.WriteByte('\n')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return "sha256:" + hex.EncodeToString(sum[:])[:16]
}

// Extract applies the rule set to the intake text. Only fields listed in
// input.FieldKeys are reported. Confidence is fixed at 1.0 for rule hits
// since the value is taken verbatim from the text.
func (e *RegexExtractor) Extract(input ExtractInput) *ExtractOutput {
	wanted := map[string]bool{}
	for _, k := range input.FieldKeys {
		wanted[k] = true
	}

	fields := map[string]string{}
	confidence := map[string]float64{}
	for _, r := range e.rules {
		if !wanted[r.fieldKey] {
			continue
		}
		if _, ok := fields[r.fieldKey]; ok {
			continue
		}
		m := r.pattern.FindStringSubmatch(input.Text)
		if m == nil || m[r.group] == "" {
			continue
		}
		fields[r.fieldKey] = strings.TrimSpace(m[r.group])
		confidence[r.fieldKey] = 1.0
	}

	return &ExtractOutput{
		Fields:     fields,
		Confidence: confidence,
		Audit: domain.ExtractionAudit{
			Provider:              "regex",
			ModelRequested:        "ruleset-v" + RulesetVersion,
			ModelUsed:             "ruleset-v" + RulesetVersion,
			PromptTemplateID:      "regex_ruleset",
			PromptTemplateVersion: RulesetVersion,
			PromptHash:            e.RulesetHash(),
		},
	}
}

// Covers reports whether the regex output already serves every key in
// criticalKeys, in which case the LLM call is skipped.
func Covers(out *ExtractOutput, criticalKeys []string) bool {
	for _, k := range criticalKeys {
		if _, ok := out.Fields[k]; !ok {
			return false
		}
	}
	return true
}

// Merge overlays an LLM extraction with regex hits. Regex values win on
// conflict since they are verbatim captures.
func Merge(regexOut, llmOut *ExtractOutput) *ExtractOutput {
	merged := &ExtractOutput{
		Fields:     map[string]string{},
		Confidence: map[string]float64{},
		Audit:      llmOut.Audit,
	}
	for k, v := range llmOut.Fields {
		merged.Fields[k] = v
		merged.Confidence[k] = llmOut.Confidence[k]
	}
	for k, v := range regexOut.Fields {
		merged.Fields[k] = v
		merged.Confidence[k] = regexOut.Confidence[k]
	}
	return merged
}
