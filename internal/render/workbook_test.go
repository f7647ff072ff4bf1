package render

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"qcert/internal/domain"
)

// writeWorkbookTemplate builds a minimal template: a header row on Sheet1
// and a workbook-scoped defined name for the work-order cell.
func writeWorkbookTemplate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Width (mm)"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "Height (mm)"))
	require.NoError(t, f.SetDefinedName(&excelize.DefinedName{
		Name:     "WONumber",
		RefersTo: "Sheet1!$D$1",
	}))
	require.NoError(t, f.SaveAs(filepath.Join(dir, "measurements.xlsx")))
	require.NoError(t, f.Close())
	return dir
}

func renderWorkbook(t *testing.T, dir string, m *Manifest, fields map[string]string, rows []domain.MeasurementRow) *excelize.File {
	t.Helper()
	r, err := NewWorkbookRenderer(dir, m)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "out.xlsx")
	require.NoError(t, r.Render(fields, rows, out))

	f, err := excelize.OpenFile(out)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func cell(t *testing.T, f *excelize.File, addr string) string {
	t.Helper()
	v, err := f.GetCellValue("Sheet1", addr)
	require.NoError(t, err)
	return v
}

func TestWorkbook_NamedRangeAndCellAddress(t *testing.T) {
	dir := writeWorkbookTemplate(t)
	m := &Manifest{XLSXMappings: XLSXMappings{
		NamedRanges:   map[string]string{"wo_no": "WONumber"},
		CellAddresses: map[string]string{"qty": "Sheet1!E1"},
	}}

	f := renderWorkbook(t, dir, m, map[string]string{"wo_no": "WO-1", "qty": "10.5"}, nil)
	assert.Equal(t, "WO-1", cell(t, f, "D1"))
	assert.Equal(t, "10.5", cell(t, f, "E1"))
}

func TestWorkbook_MissingNamedRangeTolerated(t *testing.T) {
	dir := writeWorkbookTemplate(t)
	m := &Manifest{XLSXMappings: XLSXMappings{
		NamedRanges: map[string]string{"wo_no": "NoSuchName"},
	}}

	f := renderWorkbook(t, dir, m, map[string]string{"wo_no": "WO-1"}, nil)
	assert.Empty(t, cell(t, f, "D1"))
}

func TestWorkbook_AbsentFieldLeavesTemplateValue(t *testing.T) {
	dir := writeWorkbookTemplate(t)
	m := &Manifest{XLSXMappings: XLSXMappings{
		NamedRanges: map[string]string{"wo_no": "WONumber"},
	}}

	f := renderWorkbook(t, dir, m, map[string]string{}, nil)
	assert.Empty(t, cell(t, f, "D1"))
}

func TestWorkbook_HeaderDrivenMeasurements(t *testing.T) {
	dir := writeWorkbookTemplate(t)
	m := &Manifest{XLSXMappings: XLSXMappings{
		Measurements: MeasurementMapping{
			HeaderRow: 1,
			Headers: map[string]string{
				// label matching ignores case and collapses whitespace
				"w": "width  (MM)",
				"h": "Height (mm)",
			},
		},
	}}

	rows := []domain.MeasurementRow{
		{Index: 1, Cells: map[string]string{"w": "10.5", "h": "20"}},
		{Index: 2, Cells: map[string]string{"w": "11"}},
	}
	f := renderWorkbook(t, dir, m, nil, rows)
	assert.Equal(t, "10.5", cell(t, f, "A2"))
	assert.Equal(t, "20", cell(t, f, "B2"))
	assert.Equal(t, "11", cell(t, f, "A3"))
	assert.Empty(t, cell(t, f, "B3"))
}

func TestWorkbook_HeaderLabelNotFound(t *testing.T) {
	dir := writeWorkbookTemplate(t)
	m := &Manifest{XLSXMappings: XLSXMappings{
		Measurements: MeasurementMapping{
			HeaderRow: 1,
			Headers:   map[string]string{"d": "Depth (mm)"},
		},
	}}

	r, err := NewWorkbookRenderer(dir, m)
	require.NoError(t, err)
	err = r.Render(nil, []domain.MeasurementRow{{Index: 1, Cells: map[string]string{"d": "5"}}},
		filepath.Join(t.TempDir(), "out.xlsx"))
	require.Error(t, err)
	assert.Equal(t, domain.CodeRenderFailed, domain.RejectCode(err))
}

func TestWorkbook_DirectColumnMeasurements(t *testing.T) {
	dir := writeWorkbookTemplate(t)
	m := &Manifest{XLSXMappings: XLSXMappings{
		Measurements: MeasurementMapping{
			StartRow: 5,
			Columns:  map[string]string{"w": "C"},
		},
	}}

	rows := []domain.MeasurementRow{{Index: 1, Cells: map[string]string{"w": "7"}}}
	f := renderWorkbook(t, dir, m, nil, rows)
	assert.Equal(t, "7", cell(t, f, "C5"))
}

func TestNewWorkbookRenderer_TemplateMissing(t *testing.T) {
	_, err := NewWorkbookRenderer(t.TempDir(), &Manifest{})
	require.Error(t, err)
	assert.Equal(t, domain.CodeTemplateNotFound, domain.RejectCode(err))
}

func TestWorkbook_CustomTemplateName(t *testing.T) {
	dir := writeWorkbookTemplate(t)
	require.NoError(t, os.Rename(
		filepath.Join(dir, "measurements.xlsx"),
		filepath.Join(dir, "grid.xlsx")))

	_, err := NewWorkbookRenderer(dir, &Manifest{XLSXTemplate: "grid.xlsx"})
	assert.NoError(t, err)
}
