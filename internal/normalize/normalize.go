package normalize

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"qcert/internal/contract"
	"qcert/internal/domain"
)

// ResultFieldKey is the field the pass/fail alias normalization applies to.
const ResultFieldKey = "result"

var defaultDateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006.01.02",
	"20060102",
}

// Normalizer performs the pure, type-directed canonicalization stage.
type Normalizer struct {
	contract *contract.Contract
}

// New builds a Normalizer over the loaded contract.
func New(c *contract.Contract) *Normalizer {
	return &Normalizer{contract: c}
}

// Normalize canonicalizes a RawPacket. Field labels are resolved through
// the alias index; undeclared labels are dropped with a warning. A parse
// failure on a critical field rejects; on a reference field the value
// becomes null and a warning is recorded.
func (n *Normalizer) Normalize(raw *domain.RawPacket) (*domain.NormalizedPacket, []domain.Warning, error) {
	packet := &domain.NormalizedPacket{Fields: make(map[string]*string, len(raw.Fields))}
	var warnings []domain.Warning

	for label, value := range raw.Fields {
		key, ok := n.contract.Resolve(label)
		if !ok {
			warnings = append(warnings, domain.Warning{
				Code:          domain.WarnParseErrorReference,
				ActionID:      "drop_undeclared_field",
				FieldOrSlot:   label,
				OriginalValue: value,
				Message:       fmt.Sprintf("label %q is not declared in the contract", label),
			})
			continue
		}
		spec, _ := n.contract.Field(key)

		canonical, err := n.normalizeValue(spec, value)
		if err != nil {
			if errors.Is(err, ErrNonFinite) {
				return nil, warnings, domain.Rejectf(domain.CodeInvalidData,
					"non-finite value in field %q", key).
					With("field", key).With("value", value)
			}
			var re *domain.RejectError
			if errors.As(err, &re) {
				return nil, warnings, re
			}
			if spec.Importance == domain.ImportanceCritical {
				return nil, warnings, domain.Rejectf(domain.CodeParseErrorCritical,
					"critical field %q failed %s parse", key, spec.Type).
					With("field", key).With("value", value)
			}
			packet.Fields[key] = nil
			warnings = append(warnings, domain.Warning{
				Code:          domain.WarnParseErrorReference,
				ActionID:      "null_reference_field",
				FieldOrSlot:   key,
				OriginalValue: value,
				Message:       fmt.Sprintf("reference field %q failed %s parse: %v", key, spec.Type, err),
			})
			continue
		}
		packet.Fields[key] = &canonical
	}

	rows, err := n.normalizeRows(raw.MeasurementRows)
	if err != nil {
		return nil, warnings, err
	}
	packet.MeasurementRows = rows

	return packet, warnings, nil
}

func (n *Normalizer) normalizeValue(spec contract.FieldSpec, value string) (string, error) {
	switch spec.Type {
	case domain.FieldTypeToken:
		v := collapseWhitespace(value)
		if spec.Key == ResultFieldKey {
			return n.contract.NormalizeResult(v)
		}
		return v, nil
	case domain.FieldTypeFreeText:
		return strings.TrimSpace(value), nil
	case domain.FieldTypeNumber:
		return n.normalizeNumber(spec.Key, value)
	case domain.FieldTypeDate:
		return normalizeDate(value, spec.DateFormats)
	default:
		return "", fmt.Errorf("unknown field type %q", spec.Type)
	}
}

func (n *Normalizer) normalizeNumber(key, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if strings.ContainsAny(trimmed, "eE") {
		// Exponent notation usually means the value round-tripped through a
		// binary float upstream. Canonicalization still succeeds.
		log.Printf("normalize.Normalizer: field %q received float-notation input %q", key, trimmed)
	}
	return CanonicalDecimal(trimmed)
}

// normalizeDate accepts ISO 8601, the spreadsheet date serial, or one of
// the declared layouts, and emits an ISO 8601 date string.
func normalizeDate(value string, extraLayouts []string) (string, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", fmt.Errorf("empty date")
	}

	layouts := append(append([]string{}, defaultDateLayouts...), extraLayouts...)
	for _, layout := range layouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.Format("2006-01-02"), nil
	}
	if serial, err := strconv.Atoi(v); err == nil && serial > 0 && serial < 200000 {
		return dateFromSerial(serial), nil
	}
	return "", fmt.Errorf("unrecognized date %q", v)
}

// dateFromSerial converts a spreadsheet date serial (days since
// 1899-12-30) to an ISO date.
func dateFromSerial(serial int) string {
	epoch := time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)
	return epoch.AddDate(0, 0, serial).Format("2006-01-02")
}

func (n *Normalizer) normalizeRows(rows []domain.MeasurementRow) ([]domain.MeasurementRow, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	out := make([]domain.MeasurementRow, 0, len(rows))
	for _, row := range rows {
		cells := make(map[string]string, len(row.Cells))
		for header, cell := range row.Cells {
			canon, err := CanonicalDecimal(cell)
			switch {
			case err == nil:
				cells[header] = canon
			case errors.Is(err, ErrNonFinite):
				return nil, domain.Rejectf(domain.CodeInvalidData,
					"non-finite value in measurement row %d", row.Index).
					With("row", row.Index).With("header", header).With("value", cell)
			default:
				cells[header] = collapseWhitespace(cell)
			}
		}
		out = append(out, domain.MeasurementRow{Index: row.Index, Cells: cells})
	}
	return out, nil
}

// collapseWhitespace trims and squeezes internal whitespace runs to single
// spaces.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
