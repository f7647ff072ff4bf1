package provider

import (
	"sort"
	"strings"
)

// Prompt template identity recorded in the extraction audit.
const (
	PromptTemplateID      = "field_extraction"
	PromptTemplateVersion = "2"
)

const promptTemplate = `You are an inspection-report intake assistant. Extract the values of the fields listed below from the operator's notes. The notes mix Korean and English shop-floor shorthand.

Fields to extract:
{{field_list}}

Operator notes:
---
{{text}}
---

Return ONLY valid JSON with no markdown formatting, no code fences, no explanation — just the raw JSON object.

Return two top-level keys: "fields" and "confidence".
"fields" maps each field key to its extracted string value; omit keys you cannot find.
"confidence" maps each extracted key to a score between 0 and 1.
Keep values verbatim as written; do not reformat numbers or dates.`

// RenderPrompt substitutes the template variables into the extraction
// prompt. Variables are recorded separately from the template in the audit
// record.
func RenderPrompt(fieldKeys []string, vars map[string]string) string {
	keys := append([]string{}, fieldKeys...)
	sort.Strings(keys)

	out := promptTemplate
	out = strings.ReplaceAll(out, "{{field_list}}", "- "+strings.Join(keys, "\n- "))
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{{"+k+"}}", v)
	}
	return out
}
