package validate

import (
	"log"
	"time"

	"qcert/internal/contract"
	"qcert/internal/domain"
	"qcert/internal/normalize"
	"qcert/internal/override"
)

// Engine enforces the field contract against a normalized packet and
// delegates override handling to the override subsystem.
type Engine struct {
	contract *contract.Contract
}

// NewEngine builds a validation engine over the loaded contract.
func NewEngine(c *contract.Contract) *Engine {
	return &Engine{contract: c}
}

// Input is everything one validation pass consumes. Overrides are keyed by
// field or slot key; MappedSlots marks slots the photo engine resolved.
type Input struct {
	Packet      *domain.NormalizedPacket
	Overrides   map[string]domain.OverrideReason
	MappedSlots map[string]bool
	Actor       string
	Now         time.Time
}

// Result carries the accepted overrides and accumulated warnings of a
// passing validation.
type Result struct {
	Overrides []domain.OverrideApplication
	Warnings  []domain.Warning
}

// Validate checks critical-field presence, post-normalization type
// conformance, and required-slot coverage. The first violation rejects.
func (e *Engine) Validate(in Input) (*Result, error) {
	res := &Result{}

	for _, key := range e.contract.FieldKeys() {
		spec, _ := e.contract.Field(key)
		value, present := in.Packet.Field(key)

		if !present {
			if spec.Importance != domain.ImportanceCritical {
				continue
			}
			if err := e.resolveFieldOverride(key, spec, in, res); err != nil {
				return nil, err
			}
			continue
		}

		if !conforms(spec.Type, value) {
			return nil, domain.Rejectf(domain.CodeParseErrorCritical,
				"field %q value %q violates declared type %s", key, value, spec.Type).
				With("field", key).With("value", value)
		}
	}

	for _, slot := range e.contract.Photos.Slots {
		if !slot.Required || in.MappedSlots[slot.Key] {
			continue
		}
		if err := e.resolveSlotOverride(slot, in, res); err != nil {
			return nil, err
		}
	}

	log.Printf("validator.Engine: packet accepted (%d overrides, %d warnings)",
		len(res.Overrides), len(res.Warnings))
	return res, nil
}

func (e *Engine) resolveFieldOverride(key string, spec contract.FieldSpec, in Input, res *Result) error {
	reason, has := in.Overrides[key]
	if !spec.OverrideAllowed || !has {
		return domain.Rejectf(domain.CodeMissingCriticalField,
			"critical field %q is absent or null", key).With("field", key)
	}
	resolved, warns, err := override.Resolve(key, reason)
	if err != nil {
		return err
	}
	res.Warnings = append(res.Warnings, warns...)
	app, warn := override.Apply(key, resolved, in.Actor, in.Now)
	res.Overrides = append(res.Overrides, app)
	res.Warnings = append(res.Warnings, warn)
	return nil
}

func (e *Engine) resolveSlotOverride(slot contract.SlotSpec, in Input, res *Result) error {
	reason, has := in.Overrides[slot.Key]
	if !slot.OverrideAllowed {
		return domain.Rejectf(domain.CodePhotoRequiredMissing,
			"required slot %q has no content and is not override-eligible", slot.Key).
			With("slot", slot.Key)
	}
	if !has {
		return domain.Rejectf(domain.CodePhotoOverrideRequired,
			"required slot %q has no content; an override is possible but was not provided", slot.Key).
			With("slot", slot.Key)
	}
	resolved, warns, err := override.Resolve(slot.Key, reason)
	if err != nil {
		return err
	}
	res.Warnings = append(res.Warnings, warns...)
	app, warn := override.Apply(slot.Key, resolved, in.Actor, in.Now)
	res.Overrides = append(res.Overrides, app)
	res.Warnings = append(res.Warnings, warn)
	return nil
}

// conforms re-checks a canonical value against its declared type. The
// Normalizer produced it, so a mismatch means the packet was built outside
// the normal path.
func conforms(t domain.FieldType, value string) bool {
	switch t {
	case domain.FieldTypeNumber:
		canon, err := normalize.CanonicalDecimal(value)
		return err == nil && canon == value
	case domain.FieldTypeDate:
		_, err := time.Parse("2006-01-02", value)
		return err == nil
	default:
		return true
	}
}
