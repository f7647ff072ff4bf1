package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrJobNotFound         = errors.New("job directory not found")
	ErrSessionNotFound     = errors.New("intake session not found")
	ErrRunNotFound         = errors.New("run record not found")
	ErrDeliverableNotFound = errors.New("deliverable not found")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileTooLarge        = errors.New("file exceeds maximum allowed size")
)

// Reject codes. Each code maps to exactly one HTTP status at the boundary;
// see handler.MapDomainError.
const (
	CodeMissingCriticalField     = "MISSING_CRITICAL_FIELD"
	CodeInvalidData              = "INVALID_DATA"
	CodeParseErrorCritical       = "PARSE_ERROR_CRITICAL"
	CodePhotoRequiredMissing     = "PHOTO_REQUIRED_MISSING"
	CodePhotoOverrideRequired    = "PHOTO_OVERRIDE_REQUIRED"
	CodeJobJSONLockTimeout       = "JOB_JSON_LOCK_TIMEOUT"
	CodePacketJobMismatch        = "PACKET_JOB_MISMATCH"
	CodeArchiveFailed            = "ARCHIVE_FAILED"
	CodeInvalidOverrideReason    = "INVALID_OVERRIDE_REASON"
	CodeIntakeImmutableViolation = "INTAKE_IMMUTABLE_VIOLATION"
	CodeTemplateUnknownPlaceholder = "TEMPLATE_UNKNOWN_PLACEHOLDER"
	CodeResultInvalidValue       = "RESULT_INVALID_VALUE"
	CodeJobJSONCorrupt           = "JOB_JSON_CORRUPT"
	CodeIntakeSessionCorrupt     = "INTAKE_SESSION_CORRUPT"
	CodeTemplateNotFound         = "TEMPLATE_NOT_FOUND"
	CodeRenderFailed             = "RENDER_FAILED"
	CodeOCRFailed                = "OCR_FAILED"
	CodeExtractionFailed         = "EXTRACTION_FAILED"
)

// Warning codes. Warnings accumulate on the RunRecord and never abort a run.
const (
	WarnParseErrorReference       = "PARSE_ERROR_REFERENCE"
	WarnPhotoLowConfidenceMatch   = "PHOTO_LOW_CONFIDENCE_MATCH"
	WarnPhotoDuplicateAutoSelected = "PHOTO_DUPLICATE_AUTO_SELECTED"
	WarnPhotoAmbiguousMatch       = "PHOTO_AMBIGUOUS_MATCH"
	WarnFsyncFailed               = "FSYNC_FAILED"
	WarnOverrideApplied           = "OVERRIDE_APPLIED"
	WarnOverrideCodeRewritten     = "OVERRIDE_CODE_REWRITTEN"
	WarnPlaceholderUnresolved     = "PLACEHOLDER_UNRESOLVED"
)

// RejectError is the tagged reject variant carried upward through the
// pipeline. Code identifies the taxonomy entry; Context carries structured
// detail for the run log and the HTTP error body.
type RejectError struct {
	Code    string
	Message string
	Context map[string]any
}

// NewReject builds a RejectError with an empty context.
func NewReject(code, message string) *RejectError {
	return &RejectError{Code: code, Message: message, Context: map[string]any{}}
}

// Rejectf builds a RejectError with a formatted message.
func Rejectf(code, format string, args ...any) *RejectError {
	return NewReject(code, fmt.Sprintf(format, args...))
}

// With attaches a context entry and returns the receiver for chaining.
func (e *RejectError) With(key string, value any) *RejectError {
	if e.Context == nil {
		e.Context = map[string]any{}
	}
	e.Context[key] = value
	return e
}

func (e *RejectError) Error() string {
	if len(e.Context) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, e.Context[k]))
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, strings.Join(parts, " "))
}

// Is reports whether target is a RejectError with the same code, so callers
// can match with errors.Is against a code-only template.
func (e *RejectError) Is(target error) bool {
	var other *RejectError
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// RejectCode extracts the reject code from err, or "" when err is not a
// RejectError.
func RejectCode(err error) string {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}
