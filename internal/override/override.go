package override

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"qcert/internal/domain"
)

// MinDetailLength is the minimum number of visible characters an override
// detail must carry.
const MinDetailLength = 10

// bannedTokens are rejected as override details after trimming and
// lowercasing. Exact match only.
var bannedTokens = map[string]bool{
	"ok": true, "okay": true,
	"n/a": true, "na": true,
	"none": true,
	"-":    true,
	".":    true,
	"..":   true,
	"x":    true,
	"xx":   true,
	"ㅇ":    true,
	"ㅇㅇ":   true,
	"ㅁ":    true,
	"ㅁㅁ":   true,
	"없음":   true,
	"해당없음": true,
}

var legacyPattern = regexp.MustCompile(`^([A-Z_]+):\s*(.*)$`)

// FromLegacy parses a legacy free-string reason. Strings matching
// "<CODE>: <detail>" keep their code; everything else is classified OTHER
// with the whole string as detail.
func FromLegacy(raw string) domain.OverrideReason {
	trimmed := strings.TrimSpace(raw)
	if m := legacyPattern.FindStringSubmatch(trimmed); m != nil {
		return domain.OverrideReason{Code: domain.OverrideCode(m[1]), Detail: strings.TrimSpace(m[2])}
	}
	return domain.OverrideReason{Code: domain.OverrideOther, Detail: trimmed}
}

// Resolve validates a structured reason for the given field or slot key.
// Unknown codes are accepted but rewritten to OTHER with a warning. A
// banned-token or under-length detail rejects with INVALID_OVERRIDE_REASON.
func Resolve(key string, reason domain.OverrideReason) (domain.OverrideReason, []domain.Warning, error) {
	var warnings []domain.Warning

	if !domain.KnownOverrideCodes[reason.Code] {
		warnings = append(warnings, domain.Warning{
			Code:          domain.WarnOverrideCodeRewritten,
			ActionID:      "rewrite_override_code",
			FieldOrSlot:   key,
			OriginalValue: string(reason.Code),
			ResolvedValue: string(domain.OverrideOther),
			Message:       fmt.Sprintf("unrecognized override code %q rewritten to OTHER", reason.Code),
		})
		reason.Code = domain.OverrideOther
	}

	if err := checkDetail(key, reason.Detail); err != nil {
		return domain.OverrideReason{}, warnings, err
	}
	return reason, warnings, nil
}

func checkDetail(key, detail string) error {
	norm := strings.ToLower(strings.TrimSpace(detail))
	if bannedTokens[norm] {
		return domain.Rejectf(domain.CodeInvalidOverrideReason,
			"override detail for %q is a banned token", key).
			With("key", key).With("detail", detail)
	}
	if visibleLength(detail) < MinDetailLength {
		return domain.Rejectf(domain.CodeInvalidOverrideReason,
			"override detail for %q is shorter than %d visible characters", key, MinDetailLength).
			With("key", key).With("detail", detail)
	}
	return nil
}

// visibleLength counts non-whitespace runes.
func visibleLength(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

// Apply records an accepted override as a RunRecord entry plus its
// OVERRIDE_APPLIED warning. Re-application on a later run is allowed; each
// run emits its own entry.
func Apply(key string, reason domain.OverrideReason, actor string, now time.Time) (domain.OverrideApplication, domain.Warning) {
	app := domain.OverrideApplication{
		Key:       key,
		Code:      reason.Code,
		Detail:    reason.Detail,
		AppliedBy: actor,
		AppliedAt: now,
	}
	warn := domain.Warning{
		Code:        domain.WarnOverrideApplied,
		ActionID:    "apply_override",
		FieldOrSlot: key,
		Message:     fmt.Sprintf("override %s applied: %s", reason.Code, reason.Detail),
	}
	return app, warn
}
