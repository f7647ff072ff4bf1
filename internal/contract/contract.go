package contract

import (
	"fmt"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"qcert/internal/domain"
)

// FieldSpec declares one field of the contract.
type FieldSpec struct {
	Key                    string           `yaml:"-"`
	Type                   domain.FieldType `yaml:"type"`
	Importance             domain.Importance `yaml:"importance"`
	Aliases                []string         `yaml:"aliases"`
	OverrideAllowed        bool             `yaml:"override_allowed"`
	OverrideRequiresReason bool             `yaml:"override_requires_reason"`
	DateFormats            []string         `yaml:"date_formats,omitempty"`
}

// SlotSpec declares one photo slot.
type SlotSpec struct {
	Key                    string   `yaml:"key"`
	Basename               string   `yaml:"basename"`
	Required               bool     `yaml:"required"`
	OverrideAllowed        bool     `yaml:"override_allowed"`
	OverrideRequiresReason bool     `yaml:"override_requires_reason"`
	AllowedExtensions      []string `yaml:"allowed_extensions,omitempty"`
	PreferOrder            []string `yaml:"prefer_order,omitempty"`
	OCRKeywords            []string `yaml:"ocr_keywords,omitempty"`
}

// Extensions returns the slot's allowed extensions, falling back to the
// photo-section defaults.
func (s *SlotSpec) Extensions(defaults []string) []string {
	if len(s.AllowedExtensions) > 0 {
		return s.AllowedExtensions
	}
	return defaults
}

// Preference returns the slot's tie-break extension order, falling back to
// the photo-section defaults.
func (s *SlotSpec) Preference(defaults []string) []string {
	if len(s.PreferOrder) > 0 {
		return s.PreferOrder
	}
	return defaults
}

// RetentionSpec is the trash retention policy declared by the contract.
type RetentionSpec struct {
	RetentionDays    int              `yaml:"retention_days"`
	MaxSizePerJobMB  int64            `yaml:"max_size_per_job_mb"`
	MaxTotalSizeGB   int64            `yaml:"max_total_size_gb"`
	PurgeMode        domain.PurgeMode `yaml:"purge_mode"`
	ArchiveDir       string           `yaml:"archive_dir"`
	MinKeepCount     int              `yaml:"min_keep_count"`
}

// PhotoSpec is the photos section of the contract.
type PhotoSpec struct {
	AllowedExtensions []string      `yaml:"allowed_extensions"`
	PreferOrder       []string      `yaml:"prefer_order"`
	Slots             []SlotSpec    `yaml:"slots"`
	TrashRetention    RetentionSpec `yaml:"trash_retention"`
}

// ResultAliases declares the accepted spellings of the pass/fail result
// field.
type ResultAliases struct {
	Pass []string `yaml:"pass"`
	Fail []string `yaml:"fail"`
}

type contractFile struct {
	Version       string               `yaml:"version"`
	Fields        map[string]FieldSpec `yaml:"fields"`
	Photos        PhotoSpec            `yaml:"photos"`
	ResultAliases ResultAliases        `yaml:"result_aliases"`
}

// Contract is the loaded field/slot definition. Loaded once at startup and
// immutable per process.
type Contract struct {
	DefinitionVersion string
	Fields            map[string]FieldSpec
	Photos            PhotoSpec
	ResultAliases     ResultAliases

	fieldOrder []string
	slotIndex  map[string]*SlotSpec
	aliasIndex map[string]string
}

var defaultResultAliases = ResultAliases{
	Pass: []string{"PASS", "OK", "합격", "O"},
	Fail: []string{"FAIL", "NG", "불합격", "X"},
}

// Load reads and indexes the contract file at path. Alias collisions across
// fields are rejected here, not at lookup time.
func Load(path string) (*Contract, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read contract file: %w", err)
	}
	var cf contractFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse contract file: %w", err)
	}
	if cf.Version == "" {
		return nil, fmt.Errorf("contract file %s: missing version", path)
	}
	if len(cf.Fields) == 0 {
		return nil, fmt.Errorf("contract file %s: no fields declared", path)
	}

	c := &Contract{
		DefinitionVersion: cf.Version,
		Fields:            make(map[string]FieldSpec, len(cf.Fields)),
		Photos:            cf.Photos,
		ResultAliases:     cf.ResultAliases,
		slotIndex:         make(map[string]*SlotSpec, len(cf.Photos.Slots)),
		aliasIndex:        make(map[string]string),
	}
	if len(c.ResultAliases.Pass) == 0 {
		c.ResultAliases.Pass = defaultResultAliases.Pass
	}
	if len(c.ResultAliases.Fail) == 0 {
		c.ResultAliases.Fail = defaultResultAliases.Fail
	}

	for key, fs := range cf.Fields {
		switch fs.Type {
		case domain.FieldTypeToken, domain.FieldTypeFreeText, domain.FieldTypeNumber, domain.FieldTypeDate:
		default:
			return nil, fmt.Errorf("field %q: unknown type %q", key, fs.Type)
		}
		switch fs.Importance {
		case domain.ImportanceCritical, domain.ImportanceReference:
		default:
			return nil, fmt.Errorf("field %q: unknown importance %q", key, fs.Importance)
		}
		fs.Key = key
		c.Fields[key] = fs
		c.fieldOrder = append(c.fieldOrder, key)

		if err := c.indexAlias(key, key); err != nil {
			return nil, err
		}
		for _, alias := range fs.Aliases {
			if err := c.indexAlias(alias, key); err != nil {
				return nil, err
			}
		}
	}

	for i := range c.Photos.Slots {
		slot := &c.Photos.Slots[i]
		if slot.Key == "" || slot.Basename == "" {
			return nil, fmt.Errorf("photo slot %d: key and basename are required", i)
		}
		if _, dup := c.slotIndex[slot.Key]; dup {
			return nil, fmt.Errorf("photo slot %q declared twice", slot.Key)
		}
		c.slotIndex[slot.Key] = slot
	}

	log.Printf("contract.Load: loaded %s (%d fields, %d slots)", cf.Version, len(c.Fields), len(c.Photos.Slots))
	return c, nil
}

func (c *Contract) indexAlias(alias, key string) error {
	canon := canonAlias(alias)
	if canon == "" {
		return fmt.Errorf("field %q: empty alias", key)
	}
	if existing, ok := c.aliasIndex[canon]; ok && existing != key {
		return fmt.Errorf("alias %q collides between fields %q and %q", alias, existing, key)
	}
	c.aliasIndex[canon] = key
	return nil
}

// canonAlias lowercases and strips all whitespace so lookups are case- and
// whitespace-insensitive.
func canonAlias(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "")
}

// Field looks up a field by canonical key.
func (c *Contract) Field(key string) (FieldSpec, bool) {
	fs, ok := c.Fields[key]
	return fs, ok
}

// Resolve maps a raw label (canonical key or alias) to its field key.
func (c *Contract) Resolve(label string) (string, bool) {
	key, ok := c.aliasIndex[canonAlias(label)]
	return key, ok
}

// Slot looks up a photo slot by key.
func (c *Contract) Slot(key string) (*SlotSpec, bool) {
	s, ok := c.slotIndex[key]
	return s, ok
}

// FieldKeys returns the declared field keys in declaration order.
func (c *Contract) FieldKeys() []string {
	out := make([]string, len(c.fieldOrder))
	copy(out, c.fieldOrder)
	return out
}

// CriticalKeys returns the keys of all critical fields.
func (c *Contract) CriticalKeys() []string {
	var out []string
	for _, key := range c.fieldOrder {
		if c.Fields[key].Importance == domain.ImportanceCritical {
			out = append(out, key)
		}
	}
	return out
}

// HashKeys returns the keys in scope of the judgement-equal hash: every
// critical field plus reference fields of type token, number or date.
// Free-text never participates.
func (c *Contract) HashKeys() []string {
	var out []string
	for _, key := range c.fieldOrder {
		fs := c.Fields[key]
		if fs.Type == domain.FieldTypeFreeText {
			continue
		}
		out = append(out, key)
	}
	return out
}

// NormalizeResult maps a raw result value onto PASS or FAIL via the declared
// aliases. Unrecognized values reject with RESULT_INVALID_VALUE.
func (c *Contract) NormalizeResult(raw string) (string, error) {
	v := strings.ToUpper(strings.TrimSpace(raw))
	for _, a := range c.ResultAliases.Pass {
		if v == strings.ToUpper(a) {
			return "PASS", nil
		}
	}
	for _, a := range c.ResultAliases.Fail {
		if v == strings.ToUpper(a) {
			return "FAIL", nil
		}
	}
	return "", domain.Rejectf(domain.CodeResultInvalidValue, "result value %q is not a recognized pass/fail alias", raw).With("value", raw)
}
