package provider

import (
	"crypto/sha256"
	"encoding/hex"
)

// PromptHash returns the short audit hash of a rendered prompt, in the
// "sha256:<hex16>" form recorded by the intake session.
func PromptHash(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return "sha256:" + hex.EncodeToString(sum[:])[:16]
}

// ResponseHash returns the full hex SHA-256 of a raw provider response.
// Computed before any truncation so minimal raw-storage mode stays
// verifiable.
func ResponseHash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
