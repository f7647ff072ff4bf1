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

func TestResolveTemplateDir(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "base", "default"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "custom", "default"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "base", "compact"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "legacy"), 0o755))

	dir, err := ResolveTemplateDir(root, "default")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "custom", "default"), dir, "custom shadows base")

	dir, err = ResolveTemplateDir(root, "compact")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "base", "compact"), dir)

	dir, err = ResolveTemplateDir(root, "legacy")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "legacy"), dir, "uncategorized folders still resolve")

	_, err = ResolveTemplateDir(root, "missing")
	require.Error(t, err)
	assert.Equal(t, domain.CodeTemplateNotFound, domain.RejectCode(err))
}

func TestRenderer_WritesBothArtifacts(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "base", "default")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte(`
template_id: default
xlsx_mappings:
  cell_addresses:
    wo_no: Sheet1!A1
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.html"),
		[]byte(`<h1>{{wo_no}}</h1>`), 0o644))

	wb := excelize.NewFile()
	require.NoError(t, wb.SaveAs(filepath.Join(dir, "measurements.xlsx")))
	require.NoError(t, wb.Close())

	r, err := New(testDocContract(t), root, "default")
	require.NoError(t, err)

	outDir := filepath.Join(t.TempDir(), "deliverables")
	warnings, err := r.Render(outDir, Input{
		Fields: map[string]string{"wo_no": "WO-1"},
		RunID:  "RUN-1",
		Now:    docNow,
	})
	require.NoError(t, err)
	assert.Empty(t, warnings)

	report, err := os.ReadFile(filepath.Join(outDir, ReportName))
	require.NoError(t, err)
	assert.Equal(t, "<h1>WO-1</h1>", string(report))

	out, err := excelize.OpenFile(filepath.Join(outDir, WorkbookName))
	require.NoError(t, err)
	defer out.Close()
	v, err := out.GetCellValue("Sheet1", "A1")
	require.NoError(t, err)
	assert.Equal(t, "WO-1", v)

	// the staging file never survives publication
	_, err = os.Stat(filepath.Join(outDir, ".tmp-"+WorkbookName))
	assert.True(t, os.IsNotExist(err))
}

func TestRenderer_TemplateMissing(t *testing.T) {
	_, err := New(testDocContract(t), t.TempDir(), "default")
	require.Error(t, err)
	assert.Equal(t, domain.CodeTemplateNotFound, domain.RejectCode(err))
}
