package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"qcert/internal/csvexport"
	"qcert/internal/deliver"
	"qcert/internal/domain"
	"qcert/internal/pipeline"
	"qcert/internal/runlog"
	"qcert/internal/ssot"
)

// GenerateHandler handles pipeline runs and deliverable downloads.
type GenerateHandler struct {
	pipeline *pipeline.Pipeline
	store    *ssot.Store
	logs     *runlog.Writer
}

// NewGenerateHandler creates a new GenerateHandler.
func NewGenerateHandler(p *pipeline.Pipeline, store *ssot.Store, logs *runlog.Writer) *GenerateHandler {
	return &GenerateHandler{pipeline: p, store: store, logs: logs}
}

type generateRequest struct {
	Fields          map[string]string                `json:"fields" binding:"required"`
	MeasurementRows []domain.MeasurementRow          `json:"measurement_rows"`
	Overrides       map[string]domain.OverrideReason `json:"overrides"`
	TemplateID      string                           `json:"template_id" binding:"required"`
	Actor           string                           `json:"actor"`
}

// Generate handles POST /api/v1/generate
func (h *GenerateHandler) Generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_REQUEST", "fields and template_id are required")
		return
	}

	outcome, err := h.pipeline.Generate(c.Request.Context(), pipeline.Request{
		Fields:          req.Fields,
		MeasurementRows: req.MeasurementRows,
		Overrides:       req.Overrides,
		TemplateID:      req.TemplateID,
		Actor:           req.Actor,
	})
	if err != nil {
		HandleError(c, err)
		return
	}

	status := http.StatusOK
	if outcome.JobCreated {
		status = http.StatusCreated
	}
	c.JSON(status, APIResponse{Success: true, Data: gin.H{
		"run_id":           outcome.RunID,
		"job_id":           outcome.JobID,
		"job_created":      outcome.JobCreated,
		"packet_hash":      outcome.PacketHash,
		"packet_full_hash": outcome.PacketFullHash,
		"warnings":         outcome.Record.Warnings,
		"overrides":        outcome.Record.Overrides,
		"photo_processing": outcome.Record.PhotoProcessing,
		"manifest":         outcome.Manifest,
	}})
}

// jobDir resolves the path parameters to an existing job directory.
func (h *GenerateHandler) jobDir(c *gin.Context) (string, bool) {
	woNo, line, ok := jobParams(c)
	if !ok {
		return "", false
	}
	dir := h.store.JobDir(woNo, line)
	if _, err := h.store.ReadIdentity(dir); err != nil {
		HandleError(c, err)
		return "", false
	}
	return dir, true
}

// ListRuns handles GET /api/v1/jobs/:wo_no/lines/:line/runs
func (h *GenerateHandler) ListRuns(c *gin.Context) {
	dir, ok := h.jobDir(c)
	if !ok {
		return
	}
	records, err := h.logs.List(dir)
	if err != nil {
		HandleError(c, err)
		return
	}
	RespondOK(c, gin.H{"runs": records})
}

// ExportRuns handles GET /api/v1/jobs/:wo_no/lines/:line/runs/export
// It streams the job's run history as CSV for spreadsheet review.
func (h *GenerateHandler) ExportRuns(c *gin.Context) {
	dir, ok := h.jobDir(c)
	if !ok {
		return
	}
	records, err := h.logs.List(dir)
	if err != nil {
		HandleError(c, err)
		return
	}

	jobID := ""
	if len(records) > 0 {
		jobID = records[len(records)-1].JobID
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", csvexport.BuildFilename(jobID)))
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Status(http.StatusOK)
	_, _ = c.Writer.Write(csvexport.BOM)

	w := csvexport.NewWriter(c.Writer)
	if err := w.WriteHeader(); err != nil {
		_ = c.Error(err)
		return
	}
	if err := w.WriteRuns(records); err != nil {
		_ = c.Error(err)
		return
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = c.Error(err)
	}
}

// GetRun handles GET /api/v1/jobs/:wo_no/lines/:line/runs/:run_id
func (h *GenerateHandler) GetRun(c *gin.Context) {
	dir, ok := h.jobDir(c)
	if !ok {
		return
	}
	records, err := h.logs.List(dir)
	if err != nil {
		HandleError(c, err)
		return
	}
	runID := c.Param("run_id")
	for i := range records {
		if records[i].RunID == runID {
			RespondOK(c, records[i])
			return
		}
	}
	HandleError(c, domain.ErrRunNotFound)
}

// Manifest handles GET /api/v1/jobs/:wo_no/lines/:line/deliverables
func (h *GenerateHandler) Manifest(c *gin.Context) {
	dir, ok := h.jobDir(c)
	if !ok {
		return
	}
	m, err := deliver.ReadManifest(dir)
	if err != nil {
		HandleError(c, err)
		return
	}
	RespondOK(c, m)
}

// Download handles GET /api/v1/jobs/:wo_no/lines/:line/deliverables/:name
func (h *GenerateHandler) Download(c *gin.Context) {
	dir, ok := h.jobDir(c)
	if !ok {
		return
	}
	name := c.Param("name")
	if name == deliver.BundleName {
		h.bundle(c, dir)
		return
	}

	f, entry, err := deliver.Open(dir, name)
	if err != nil {
		HandleError(c, err)
		return
	}
	defer f.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", entry.Name))
	c.DataFromReader(http.StatusOK, entry.Size, entry.ContentType, f, nil)
}

// bundle streams the on-demand zip of all deliverables. Nothing is cached;
// the archive is rebuilt on every request.
func (h *GenerateHandler) bundle(c *gin.Context, jobDir string) {
	if _, err := deliver.ReadManifest(jobDir); err != nil {
		HandleError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", deliver.BundleName))
	c.Header("Content-Type", "application/zip")
	c.Status(http.StatusOK)
	if err := deliver.WriteBundle(jobDir, c.Writer); err != nil {
		// Headers are already on the wire; all that is left is to cut
		// the stream short.
		_ = c.Error(err)
	}
}
