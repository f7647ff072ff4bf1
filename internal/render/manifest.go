package render

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"qcert/internal/domain"
)

// PhotoFallback is the template-declared policy for an image anchor whose
// slot produced no derived file.
type PhotoFallback string

const (
	// FallbackEmpty resolves the anchor to nothing.
	FallbackEmpty PhotoFallback = "empty"
	// FallbackBlank resolves the anchor to a blank placeholder image.
	FallbackBlank PhotoFallback = "blank"
)

// MeasurementMapping declares how measurement rows land in the workbook.
// Header-driven mode (HeaderRow + Headers) locates columns by scanning the
// header row for the declared labels and survives column reordering. Direct
// mode (Columns) pins each field to a column letter.
type MeasurementMapping struct {
	Sheet     string            `yaml:"sheet"`
	StartRow  int               `yaml:"start_row"`
	HeaderRow int               `yaml:"header_row"`
	Headers   map[string]string `yaml:"headers"`
	Columns   map[string]string `yaml:"columns"`
}

// XLSXMappings declares how packet fields land in the workbook template.
type XLSXMappings struct {
	NamedRanges   map[string]string  `yaml:"named_ranges"`
	CellAddresses map[string]string  `yaml:"cell_addresses"`
	Measurements  MeasurementMapping `yaml:"measurements"`
}

// Manifest is a template folder's manifest.yaml.
type Manifest struct {
	TemplateID    string        `yaml:"template_id"`
	DocType       string        `yaml:"doc_type"`
	DocTemplate   string        `yaml:"doc_template"`
	XLSXTemplate  string        `yaml:"xlsx_template"`
	PhotoFallback PhotoFallback `yaml:"photo_fallback"`
	XLSXMappings  XLSXMappings  `yaml:"xlsx_mappings"`
}

// LoadManifest reads and validates a template manifest. A field mapped by
// both a named range and a cell address is a template authoring error and
// fails here rather than at render time.
func LoadManifest(templateDir string) (*Manifest, error) {
	path := filepath.Join(templateDir, "manifest.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.NewReject(domain.CodeTemplateNotFound, "template manifest not found").
				With("path", path)
		}
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, domain.NewReject(domain.CodeRenderFailed, "template manifest is not valid YAML").
			With("path", path).With("error", err.Error())
	}

	if m.PhotoFallback == "" {
		m.PhotoFallback = FallbackEmpty
	}
	if m.PhotoFallback != FallbackEmpty && m.PhotoFallback != FallbackBlank {
		return nil, domain.NewReject(domain.CodeRenderFailed, "unknown photo_fallback policy").
			With("photo_fallback", string(m.PhotoFallback))
	}

	var conflicts []string
	for field := range m.XLSXMappings.NamedRanges {
		if _, ok := m.XLSXMappings.CellAddresses[field]; ok {
			conflicts = append(conflicts, field)
		}
	}
	if len(conflicts) > 0 {
		return nil, domain.NewReject(domain.CodeRenderFailed, "field mapped by both named_ranges and cell_addresses").
			With("fields", conflicts)
	}

	return &m, nil
}
