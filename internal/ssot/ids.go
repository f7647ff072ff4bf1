package ssot

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const sanitizedMaxLen = 20

// SanitizeIDPart reduces a work-order or line value to the character set
// safe for job directory names: ASCII alphanumerics with underscore
// separators, capped at 20 characters. Empty results fall back to UNKNOWN.
func SanitizeIDPart(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			b.WriteRune(r)
			lastUnderscore = false
		case r == ' ', r == '_', r == '-':
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > sanitizedMaxLen {
		out = strings.Trim(out[:sanitizedMaxLen], "_")
	}
	if out == "" {
		return "UNKNOWN"
	}
	return out
}

// JobID derives the stable job identifier for (wo_no, line). The trailing
// hash disambiguates values that sanitize to the same text. Bump
// domain.JobIDVersion if this derivation changes.
func JobID(woNo, line string) string {
	sum := sha256.Sum256([]byte(woNo + ":" + line))
	hash8 := hex.EncodeToString(sum[:])[:8]
	return fmt.Sprintf("JOB-%s-%s-%s", SanitizeIDPart(woNo), SanitizeIDPart(line), hash8)
}

// NewRunID issues a fresh run identifier: timestamp plus random suffix.
func NewRunID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("RUN-%s-%s", now.UTC().Format("20060102150405"), suffix)
}
