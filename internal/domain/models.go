package domain

import "time"

// Version markers embedded in persisted records. Bump JobIDVersion if the
// job_id derivation changes, PacketHashVersion if the canonical
// serialization changes.
const (
	SchemaVersion     = 1
	JobIDVersion      = 1
	PacketHashVersion = 1
)

// MeasurementRow is one row of the measurement table. Cells are keyed by
// header label; values are canonical strings after normalization.
type MeasurementRow struct {
	Index int               `json:"index"`
	Cells map[string]string `json:"cells"`
}

// UploadDescriptor describes one raw upload as received at intake.
type UploadDescriptor struct {
	OriginalName string    `json:"original_name"`
	StoredName   string    `json:"stored_name"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

// RawPacket carries intake values before normalization. Field values are the
// strings as supplied; Discarded after the Normalizer runs.
type RawPacket struct {
	Fields          map[string]string `json:"fields"`
	MeasurementRows []MeasurementRow  `json:"measurement_rows,omitempty"`
	Uploads         []UploadDescriptor `json:"uploads,omitempty"`
}

// NormalizedPacket is the canonical form consumed by the Validator and the
// Fingerprint Engine. A nil value records a reference field that failed to
// parse.
type NormalizedPacket struct {
	Fields          map[string]*string `json:"fields"`
	MeasurementRows []MeasurementRow   `json:"measurement_rows,omitempty"`
}

// Field returns the canonical value for key, or "" and false when the field
// is absent or null.
func (p *NormalizedPacket) Field(key string) (string, bool) {
	v, ok := p.Fields[key]
	if !ok || v == nil {
		return "", false
	}
	return *v, true
}

// JobIdentity is the immutable content of job.json.
type JobIdentity struct {
	JobID         string    `json:"job_id"`
	JobIDVersion  int       `json:"job_id_version"`
	SchemaVersion int       `json:"schema_version"`
	CreatedAt     time.Time `json:"created_at"`
	WONo          string    `json:"wo_no"`
	Line          string    `json:"line"`
}

// Warning is one non-fatal event on a RunRecord.
type Warning struct {
	Code          string `json:"code"`
	ActionID      string `json:"action_id"`
	FieldOrSlot   string `json:"field_or_slot"`
	OriginalValue string `json:"original_value"`
	ResolvedValue string `json:"resolved_value,omitempty"`
	Message       string `json:"message"`
}

// OverrideReason is the structured override form attached to a field or
// slot.
type OverrideReason struct {
	Code   OverrideCode `json:"code"`
	Detail string       `json:"detail"`
}

// OverrideApplication records one accepted override on a run.
type OverrideApplication struct {
	Key       string       `json:"key"`
	Code      OverrideCode `json:"code"`
	Detail    string       `json:"detail"`
	AppliedBy string       `json:"applied_by,omitempty"`
	AppliedAt time.Time    `json:"applied_at"`
}

// PhotoProcessingEntry records what the slot engine did for one slot.
type PhotoProcessingEntry struct {
	SlotKey        string          `json:"slot_key"`
	Action         PhotoAction     `json:"action"`
	RawPath        string          `json:"raw_path,omitempty"`
	DerivedPath    string          `json:"derived_path,omitempty"`
	ArchivedPath   string          `json:"archived_path,omitempty"`
	Confidence     MatchConfidence `json:"confidence,omitempty"`
	MatchedBy      MatchRule       `json:"matched_by,omitempty"`
	OCRVerified    bool            `json:"ocr_verified,omitempty"`
	OverrideReason *OverrideReason `json:"override_reason,omitempty"`
}

// RunRecord is the structured log of one pipeline attempt. Raw provider
// payloads never appear here; they live in the intake session only.
type RunRecord struct {
	RunID             string                `json:"run_id"`
	JobID             string                `json:"job_id"`
	StartedAt         time.Time             `json:"started_at"`
	FinishedAt        time.Time             `json:"finished_at"`
	Result            RunResult             `json:"result"`
	RejectReason      string                `json:"reject_reason,omitempty"`
	RejectContext     map[string]any        `json:"reject_context,omitempty"`
	PacketHash        string                `json:"packet_hash,omitempty"`
	PacketFullHash    string                `json:"packet_full_hash,omitempty"`
	Warnings          []Warning             `json:"warnings"`
	Overrides         []OverrideApplication `json:"overrides"`
	PhotoProcessing   []PhotoProcessingEntry `json:"photo_processing"`
	DefinitionVersion string                `json:"definition_version"`
	SchemaVersion     int                   `json:"schema_version"`
	PacketHashVersion int                   `json:"packet_hash_version"`
}

// Correction is one append-only field correction on an intake session.
// Effective fields are the extraction result overlaid with corrections in
// order.
type Correction struct {
	Field       string    `json:"field"`
	Original    string    `json:"original"`
	Corrected   string    `json:"corrected"`
	CorrectedAt time.Time `json:"corrected_at"`
	CorrectedBy string    `json:"corrected_by,omitempty"`
}

// CallParams are the provider call parameters recorded for audit.
type CallParams struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	MaxTokens   int     `json:"max_tokens"`
}

// ExtractionAudit is the per-call provider metadata retained by the intake
// session. Prompt template and user variables are recorded separately so
// user content can be redacted without losing the template identity.
type ExtractionAudit struct {
	Provider              string            `json:"provider"`
	ModelRequested        string            `json:"model_requested"`
	ModelUsed             string            `json:"model_used"`
	FallbackTriggered     bool              `json:"fallback_triggered,omitempty"`
	Params                CallParams        `json:"params"`
	ProviderRequestID     string            `json:"provider_request_id,omitempty"`
	PromptTemplateID      string            `json:"prompt_template_id"`
	PromptTemplateVersion string            `json:"prompt_template_version"`
	UserVariables         map[string]string `json:"user_variables,omitempty"`
	RenderedPrompt        string            `json:"rendered_prompt,omitempty"`
	PromptHash            string            `json:"prompt_hash"`
	RawResponse           string            `json:"raw_response,omitempty"`
	RawTruncated          bool              `json:"raw_truncated,omitempty"`
	RawResponseHash       string            `json:"raw_response_hash,omitempty"`
}

// ExtractionResult is what a field-extraction call produced, plus its audit
// trail.
type ExtractionResult struct {
	Fields      map[string]string `json:"fields"`
	Confidence  map[string]float64 `json:"confidence,omitempty"`
	Audit       ExtractionAudit   `json:"audit"`
	ExtractedAt time.Time         `json:"extracted_at"`
}

// DeliverableEntry is one line of the download manifest.
type DeliverableEntry struct {
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	RelativePath string `json:"relative_path"`
	ContentType  string `json:"content_type"`
}

// SlotStatus is the read-only per-slot mapping view surfaced over HTTP.
type SlotStatus struct {
	SlotKey         string `json:"slot_key"`
	Required        bool   `json:"required"`
	OverrideAllowed bool   `json:"override_allowed"`
	HasRaw          bool   `json:"has_raw"`
	HasDerived      bool   `json:"has_derived"`
	RawPath         string `json:"raw_path,omitempty"`
	DerivedPath     string `json:"derived_path,omitempty"`
}
