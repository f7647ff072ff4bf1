package render

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"qcert/internal/domain"
)

// WorkbookRenderer fills the measurement workbook template. Field values are
// written as the canonical strings from the packet; the workbook never sees
// binary floats.
type WorkbookRenderer struct {
	manifest *Manifest
	tmplPath string
}

// NewWorkbookRenderer locates the workbook template declared by the
// manifest.
func NewWorkbookRenderer(templateDir string, m *Manifest) (*WorkbookRenderer, error) {
	name := m.XLSXTemplate
	if name == "" {
		name = "measurements.xlsx"
	}
	tmplPath := filepath.Join(templateDir, name)
	if _, err := os.Stat(tmplPath); err != nil {
		return nil, domain.NewReject(domain.CodeTemplateNotFound, "workbook template not found").
			With("path", tmplPath)
	}
	return &WorkbookRenderer{manifest: m, tmplPath: tmplPath}, nil
}

// Render fills the template and writes the workbook to outPath. The caller
// publishes the result.
func (r *WorkbookRenderer) Render(fields map[string]string, rows []domain.MeasurementRow, outPath string) error {
	f, err := excelize.OpenFile(r.tmplPath)
	if err != nil {
		return domain.NewReject(domain.CodeRenderFailed, "opening workbook template").
			With("template", r.tmplPath).With("error", err.Error())
	}
	defer func() { _ = f.Close() }()

	if err := r.fillFields(f, fields); err != nil {
		return err
	}
	if err := r.fillMeasurements(f, rows); err != nil {
		return err
	}

	if err := f.SaveAs(outPath); err != nil {
		return domain.NewReject(domain.CodeRenderFailed, "saving workbook").
			With("path", outPath).With("error", err.Error())
	}
	return nil
}

func (r *WorkbookRenderer) fillFields(f *excelize.File, fields map[string]string) error {
	for field, rangeName := range r.manifest.XLSXMappings.NamedRanges {
		value, ok := fields[field]
		if !ok {
			continue
		}
		sheet, cell, found := lookupDefinedName(f, rangeName)
		if !found {
			// Missing named ranges are tolerated; the manifest may map
			// more fields than a particular template revision declares.
			continue
		}
		if err := f.SetCellValue(sheet, cell, value); err != nil {
			return domain.NewReject(domain.CodeRenderFailed, "writing named range").
				With("field", field).With("range", rangeName).With("error", err.Error())
		}
	}

	for field, addr := range r.manifest.XLSXMappings.CellAddresses {
		value, ok := fields[field]
		if !ok {
			continue
		}
		sheet, cell := splitCellAddress(f, addr)
		if err := f.SetCellValue(sheet, cell, value); err != nil {
			return domain.NewReject(domain.CodeRenderFailed, "writing cell address").
				With("field", field).With("address", addr).With("error", err.Error())
		}
	}
	return nil
}

func (r *WorkbookRenderer) fillMeasurements(f *excelize.File, rows []domain.MeasurementRow) error {
	cfg := r.manifest.XLSXMappings.Measurements
	if len(rows) == 0 || (len(cfg.Headers) == 0 && len(cfg.Columns) == 0) {
		return nil
	}

	sheet := cfg.Sheet
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}

	columns, startRow, err := r.resolveColumns(f, sheet, cfg)
	if err != nil {
		return err
	}

	for i, row := range rows {
		rowNum := startRow + i
		for header, col := range columns {
			value, ok := row.Cells[header]
			if !ok {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(col, rowNum)
			if err != nil {
				return domain.NewReject(domain.CodeRenderFailed, "resolving measurement cell").
					With("column", col).With("row", rowNum).With("error", err.Error())
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return domain.NewReject(domain.CodeRenderFailed, "writing measurement cell").
					With("cell", cell).With("error", err.Error())
			}
		}
	}
	return nil
}

// resolveColumns maps measurement cell keys to column numbers. Header-driven
// mode scans the header row for the declared labels so templates survive
// column reordering; direct mode trusts the manifest's column letters.
func (r *WorkbookRenderer) resolveColumns(f *excelize.File, sheet string, cfg MeasurementMapping) (map[string]int, int, error) {
	if len(cfg.Headers) > 0 {
		headerRow := cfg.HeaderRow
		if headerRow == 0 {
			headerRow = 1
		}
		startRow := cfg.StartRow
		if startRow == 0 {
			startRow = headerRow + 1
		}

		allRows, err := f.GetRows(sheet)
		if err != nil {
			return nil, 0, domain.NewReject(domain.CodeRenderFailed, "reading header row").
				With("sheet", sheet).With("error", err.Error())
		}
		if headerRow > len(allRows) {
			return nil, 0, domain.NewReject(domain.CodeRenderFailed, "header row beyond sheet extent").
				With("sheet", sheet).With("header_row", headerRow)
		}

		labelToCol := map[string]int{}
		for i, label := range allRows[headerRow-1] {
			labelToCol[canonLabel(label)] = i + 1
		}

		columns := map[string]int{}
		for key, label := range cfg.Headers {
			col, ok := labelToCol[canonLabel(label)]
			if !ok {
				return nil, 0, domain.NewReject(domain.CodeRenderFailed, "header label not found in template").
					With("sheet", sheet).With("label", label)
			}
			columns[key] = col
		}
		return columns, startRow, nil
	}

	startRow := cfg.StartRow
	if startRow == 0 {
		startRow = 2
	}
	columns := map[string]int{}
	for key, letter := range cfg.Columns {
		col, err := excelize.ColumnNameToNumber(letter)
		if err != nil {
			return nil, 0, domain.NewReject(domain.CodeRenderFailed, "invalid measurement column letter").
				With("column", letter).With("error", err.Error())
		}
		columns[key] = col
	}
	return columns, startRow, nil
}

func canonLabel(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// lookupDefinedName resolves a workbook-scoped defined name to its first
// cell.
func lookupDefinedName(f *excelize.File, rangeName string) (sheet, cell string, found bool) {
	for _, dn := range f.GetDefinedName() {
		if dn.Name != rangeName {
			continue
		}
		sheet, cell = parseRefersTo(dn.RefersTo)
		if sheet == "" {
			sheet = f.GetSheetName(0)
		}
		return sheet, cell, cell != ""
	}
	return "", "", false
}

// parseRefersTo reads "Sheet1!$B$4" or "'My Sheet'!$B$4:$C$5" into a sheet
// name and the range's first cell.
func parseRefersTo(ref string) (sheet, cell string) {
	ref = strings.TrimPrefix(ref, "=")
	if i := strings.LastIndex(ref, "!"); i >= 0 {
		sheet = strings.Trim(ref[:i], "'")
		ref = ref[i+1:]
	}
	ref = strings.ReplaceAll(ref, "$", "")
	if i := strings.Index(ref, ":"); i >= 0 {
		ref = ref[:i]
	}
	return sheet, ref
}

// splitCellAddress reads "Sheet1!B4" or "B4" (first sheet).
func splitCellAddress(f *excelize.File, addr string) (sheet, cell string) {
	if i := strings.Index(addr, "!"); i >= 0 {
		return strings.Trim(addr[:i], "'"), addr[i+1:]
	}
	return f.GetSheetName(0), addr
}
