package domain

import "strings"

// FieldType is the closed set of declared field types.
type FieldType string

const (
	FieldTypeToken    FieldType = "token"
	FieldTypeFreeText FieldType = "free_text"
	FieldTypeNumber   FieldType = "number"
	FieldTypeDate     FieldType = "date"
)

// Importance classifies a field for validation and hashing.
type Importance string

const (
	ImportanceCritical  Importance = "critical"
	ImportanceReference Importance = "reference"
)

// RunResult is the terminal state of a pipeline attempt.
type RunResult string

const (
	RunSuccess  RunResult = "success"
	RunRejected RunResult = "rejected"
)

// PhotoAction records what the slot engine did for a slot during one run.
type PhotoAction string

const (
	PhotoMapped   PhotoAction = "mapped"
	PhotoArchived PhotoAction = "archived"
	PhotoOverride PhotoAction = "override"
	PhotoMissing  PhotoAction = "missing"
	PhotoSkipped  PhotoAction = "skipped"
)

// MatchConfidence grades how a raw file was matched to a slot.
type MatchConfidence string

const (
	ConfidenceHigh      MatchConfidence = "high"
	ConfidenceMedium    MatchConfidence = "medium"
	ConfidenceLow       MatchConfidence = "low"
	ConfidenceAmbiguous MatchConfidence = "ambiguous"
)

// MatchRule identifies which matching tier selected a file.
type MatchRule string

const (
	MatchBasenameExact  MatchRule = "basename_exact"
	MatchBasenamePrefix MatchRule = "basename_prefix"
	MatchKeyPrefix      MatchRule = "key_prefix"
)

// OverrideCode is the closed set of structured override reason codes.
type OverrideCode string

const (
	OverrideMissingPhoto       OverrideCode = "MISSING_PHOTO"
	OverrideDataUnavailable    OverrideCode = "DATA_UNAVAILABLE"
	OverrideCustomerRequest    OverrideCode = "CUSTOMER_REQUEST"
	OverrideDeviceFailure      OverrideCode = "DEVICE_FAILURE"
	OverrideOCRUnreadable      OverrideCode = "OCR_UNREADABLE"
	OverrideFieldNotApplicable OverrideCode = "FIELD_NOT_APPLICABLE"
	OverrideOther              OverrideCode = "OTHER"
)

// KnownOverrideCodes indexes the recognized codes; anything else is
// rewritten to OTHER with a warning.
var KnownOverrideCodes = map[OverrideCode]bool{
	OverrideMissingPhoto:       true,
	OverrideDataUnavailable:    true,
	OverrideCustomerRequest:    true,
	OverrideDeviceFailure:      true,
	OverrideOCRUnreadable:      true,
	OverrideFieldNotApplicable: true,
	OverrideOther:              true,
}

// RawStorageLevel controls how much of a provider's raw response the intake
// session retains.
type RawStorageLevel string

const (
	RawStorageNone    RawStorageLevel = "none"
	RawStorageMinimal RawStorageLevel = "minimal"
	RawStorageFull    RawStorageLevel = "full"
)

// PurgeMode selects what happens to evicted trash buckets.
type PurgeMode string

const (
	PurgeDelete   PurgeMode = "delete"
	PurgeCompress PurgeMode = "compress"
	PurgeExternal PurgeMode = "external"
)

// ContentTypes maps a lowercase file extension (without dot) to the MIME
// type used by the delivery packager and download handlers.
var ContentTypes = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"bmp":  "image/bmp",
	"webp": "image/webp",
	"html": "text/html; charset=utf-8",
	"htm":  "text/html; charset=utf-8",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"pdf":  "application/pdf",
	"json": "application/json",
	"zip":  "application/zip",
	"txt":  "text/plain; charset=utf-8",
}

// ContentTypeFor returns the MIME type for ext, defaulting to
// application/octet-stream. A leading dot and upper case are tolerated.
func ContentTypeFor(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ct, ok := ContentTypes[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}

// ImageExtensions lists extensions the photo engine accepts as raw uploads
// when the contract does not narrow them further.
var ImageExtensions = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true, "bmp": true, "webp": true,
}
