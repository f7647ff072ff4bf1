package render

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"qcert/internal/contract"
	"qcert/internal/domain"
	"qcert/internal/fsio"
)

// Deliverable file names. The document and workbook are the two artifacts of
// every successful run.
const (
	ReportName   = "report.html"
	WorkbookName = "measurements.xlsx"
)

// Renderer produces both artifacts for one template. It must run under the
// job-directory lock; at most one render per job directory at any instant.
type Renderer struct {
	doc      *DocRenderer
	workbook *WorkbookRenderer
}

// ResolveTemplateDir finds the folder for templateID under templatesDir,
// preferring custom/ over base/.
func ResolveTemplateDir(templatesDir, templateID string) (string, error) {
	for _, category := range []string{"custom", "base"} {
		dir := filepath.Join(templatesDir, category, templateID)
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			return dir, nil
		}
	}
	dir := filepath.Join(templatesDir, templateID)
	if st, err := os.Stat(dir); err == nil && st.IsDir() {
		return dir, nil
	}
	return "", domain.NewReject(domain.CodeTemplateNotFound, "template folder not found").
		With("templates_dir", templatesDir).With("template_id", templateID)
}

// New loads the manifest and both template files for templateID.
func New(c *contract.Contract, templatesDir, templateID string) (*Renderer, error) {
	dir, err := ResolveTemplateDir(templatesDir, templateID)
	if err != nil {
		return nil, err
	}
	m, err := LoadManifest(dir)
	if err != nil {
		return nil, err
	}
	doc, err := NewDocRenderer(c, dir, m)
	if err != nil {
		return nil, err
	}
	wb, err := NewWorkbookRenderer(dir, m)
	if err != nil {
		return nil, err
	}
	return &Renderer{doc: doc, workbook: wb}, nil
}

// Input is one render request.
type Input struct {
	Fields          map[string]string
	MeasurementRows []domain.MeasurementRow
	Photos          map[string]string
	Overridden      map[string]bool
	RunID           string
	Now             time.Time
}

// Render writes both artifacts into outDir by atomic replace and returns the
// accumulated warnings.
func (r *Renderer) Render(outDir string, input Input) ([]domain.Warning, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, domain.NewReject(domain.CodeRenderFailed, "creating deliverables directory").
			With("dir", outDir).With("error", err.Error())
	}

	doc, warnings, err := r.doc.Render(DocInput{
		Fields:          input.Fields,
		MeasurementRows: input.MeasurementRows,
		Photos:          input.Photos,
		Overridden:      input.Overridden,
		RunID:           input.RunID,
		Now:             input.Now,
	})
	if err != nil {
		return nil, err
	}
	reportPath := filepath.Join(outDir, ReportName)
	if err := fsio.WriteAtomic(reportPath, []byte(doc), 0o644); err != nil {
		return nil, domain.NewReject(domain.CodeRenderFailed, "publishing report").
			With("path", reportPath).With("error", err.Error())
	}

	// The workbook template is filled via a temp file in the destination
	// directory, then renamed into place like every other publication.
	tmp := filepath.Join(outDir, ".tmp-"+WorkbookName)
	if err := r.workbook.Render(input.Fields, input.MeasurementRows, tmp); err != nil {
		_ = os.Remove(tmp)
		return nil, err
	}
	if err := fsio.Fsync(tmp); err != nil {
		warnings = append(warnings, domain.Warning{
			Code:    domain.WarnFsyncFailed,
			Message: "fsync of workbook failed; publication proceeded",
		})
	}
	wbPath := filepath.Join(outDir, WorkbookName)
	if err := os.Rename(tmp, wbPath); err != nil {
		_ = os.Remove(tmp)
		return nil, domain.NewReject(domain.CodeRenderFailed, "publishing workbook").
			With("path", wbPath).With("error", err.Error())
	}
	if err := fsio.SyncDir(outDir); err != nil {
		warnings = append(warnings, domain.Warning{
			Code:    domain.WarnFsyncFailed,
			Message: "fsync of deliverables directory failed",
		})
	}

	log.Printf("render.Renderer: wrote %s and %s to %s", ReportName, WorkbookName, outDir)
	return warnings, nil
}
