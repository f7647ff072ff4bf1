package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"qcert/internal/domain"
	"qcert/internal/service"
)

// maxUploadBytes caps one intake upload. The slot engine has its own
// per-job retention budget; this only bounds a single request body.
const maxUploadBytes = 50 << 20

// IntakeHandler handles the chat-intake endpoints for one job line.
type IntakeHandler struct {
	intake service.IntakeService
}

// NewIntakeHandler creates a new IntakeHandler.
func NewIntakeHandler(intake service.IntakeService) *IntakeHandler {
	return &IntakeHandler{intake: intake}
}

func jobParams(c *gin.Context) (woNo, line string, ok bool) {
	woNo = c.Param("wo_no")
	line = c.Param("line")
	if woNo == "" || line == "" {
		RespondError(c, http.StatusBadRequest, "MISSING_JOB_IDENTITY", "wo_no and line path parameters are required")
		return "", "", false
	}
	return woNo, line, true
}

type postMessageRequest struct {
	Role string `json:"role" binding:"required"`
	Text string `json:"text" binding:"required"`
}

// PostMessage handles POST /api/v1/jobs/:wo_no/lines/:line/intake/messages
func (h *IntakeHandler) PostMessage(c *gin.Context) {
	woNo, line, ok := jobParams(c)
	if !ok {
		return
	}
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_REQUEST", "role and text fields are required")
		return
	}

	sess, err := h.intake.PostMessage(c.Request.Context(), woNo, line, req.Role, req.Text)
	if err != nil {
		HandleError(c, err)
		return
	}
	RespondCreated(c, sess)
}

// Upload handles POST /api/v1/jobs/:wo_no/lines/:line/intake/uploads
func (h *IntakeHandler) Upload(c *gin.Context) {
	woNo, line, ok := jobParams(c)
	if !ok {
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		RespondError(c, http.StatusBadRequest, "MISSING_FILE", "file field is required")
		return
	}
	defer func() { _ = file.Close() }()

	if header.Size > maxUploadBytes {
		HandleError(c, domain.ErrFileTooLarge)
		return
	}

	sess, desc, err := h.intake.Upload(c.Request.Context(), woNo, line, header.Filename, file)
	if err != nil {
		HandleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, APIResponse{
		Success: true,
		Data: gin.H{
			"upload":  desc,
			"session": sess,
		},
	})
}

// Extract handles POST /api/v1/jobs/:wo_no/lines/:line/intake/extract
func (h *IntakeHandler) Extract(c *gin.Context) {
	woNo, line, ok := jobParams(c)
	if !ok {
		return
	}
	sess, err := h.intake.Extract(c.Request.Context(), woNo, line)
	if err != nil {
		HandleError(c, err)
		return
	}
	RespondOK(c, sess)
}

type correctionRequest struct {
	Field       string `json:"field" binding:"required"`
	Original    string `json:"original"`
	Corrected   string `json:"corrected" binding:"required"`
	CorrectedBy string `json:"corrected_by"`
}

// Correct handles POST /api/v1/jobs/:wo_no/lines/:line/intake/corrections
func (h *IntakeHandler) Correct(c *gin.Context) {
	woNo, line, ok := jobParams(c)
	if !ok {
		return
	}
	var req correctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_REQUEST", "field and corrected fields are required")
		return
	}

	sess, err := h.intake.Correct(c.Request.Context(), woNo, line, domain.Correction{
		Field:       req.Field,
		Original:    req.Original,
		Corrected:   req.Corrected,
		CorrectedBy: req.CorrectedBy,
	})
	if err != nil {
		HandleError(c, err)
		return
	}
	RespondCreated(c, sess)
}

type overrideRequest struct {
	Code   string `json:"code" binding:"required"`
	Detail string `json:"detail" binding:"required"`
}

// SetOverride handles PUT /api/v1/jobs/:wo_no/lines/:line/intake/overrides/:key
func (h *IntakeHandler) SetOverride(c *gin.Context) {
	woNo, line, ok := jobParams(c)
	if !ok {
		return
	}
	key := c.Param("key")
	if key == "" {
		RespondError(c, http.StatusBadRequest, "INVALID_REQUEST", "override key is required")
		return
	}
	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_REQUEST", "code and detail fields are required")
		return
	}

	sess, err := h.intake.SetOverride(c.Request.Context(), woNo, line, key, domain.OverrideReason{
		Code:   domain.OverrideCode(req.Code),
		Detail: req.Detail,
	})
	if err != nil {
		HandleError(c, err)
		return
	}
	RespondOK(c, sess)
}

// Session handles GET /api/v1/jobs/:wo_no/lines/:line/intake
func (h *IntakeHandler) Session(c *gin.Context) {
	woNo, line, ok := jobParams(c)
	if !ok {
		return
	}
	sess, err := h.intake.Session(c.Request.Context(), woNo, line)
	if err != nil {
		HandleError(c, err)
		return
	}
	RespondOK(c, sess)
}

// SlotStatuses handles GET /api/v1/jobs/:wo_no/lines/:line/photos/slots
func (h *IntakeHandler) SlotStatuses(c *gin.Context) {
	woNo, line, ok := jobParams(c)
	if !ok {
		return
	}
	statuses, err := h.intake.SlotStatuses(c.Request.Context(), woNo, line)
	if err != nil {
		HandleError(c, err)
		return
	}
	RespondOK(c, gin.H{"slots": statuses})
}
