package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"qcert/internal/domain"
)

// APIResponse is the standard envelope for all API responses.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

// APIError holds error details in the response. Context carries the reject
// context verbatim when the cause is a pipeline reject.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

// RespondOK sends a 200 success response.
func RespondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: data})
}

// RespondCreated sends a 201 success response.
func RespondCreated(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, APIResponse{Success: true, Data: data})
}

// RespondError sends an error response with the given status code.
func RespondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, APIResponse{
		Success: false,
		Error:   &APIError{Code: code, Message: msg},
	})
}

// rejectStatus maps reject codes to HTTP status codes. Lock timeouts are
// conflicts, not client errors: the request may succeed on retry.
var rejectStatus = map[string]int{
	domain.CodeMissingCriticalField:       http.StatusBadRequest,
	domain.CodeInvalidData:                http.StatusBadRequest,
	domain.CodeParseErrorCritical:         http.StatusBadRequest,
	domain.CodeResultInvalidValue:         http.StatusBadRequest,
	domain.CodeInvalidOverrideReason:      http.StatusBadRequest,
	domain.CodePhotoRequiredMissing:       http.StatusUnprocessableEntity,
	domain.CodePhotoOverrideRequired:      http.StatusUnprocessableEntity,
	domain.CodeTemplateUnknownPlaceholder: http.StatusUnprocessableEntity,
	domain.CodeJobJSONLockTimeout:         http.StatusConflict,
	domain.CodePacketJobMismatch:          http.StatusConflict,
	domain.CodeIntakeImmutableViolation:   http.StatusConflict,
	domain.CodeTemplateNotFound:           http.StatusNotFound,
	domain.CodeExtractionFailed:           http.StatusBadGateway,
	domain.CodeOCRFailed:                  http.StatusBadGateway,
	domain.CodeArchiveFailed:              http.StatusInternalServerError,
	domain.CodeRenderFailed:               http.StatusInternalServerError,
	domain.CodeJobJSONCorrupt:             http.StatusInternalServerError,
	domain.CodeIntakeSessionCorrupt:       http.StatusInternalServerError,
}

// MapDomainError translates domain errors to HTTP status codes and error
// codes.
func MapDomainError(err error) (status int, code, msg string) {
	var reject *domain.RejectError
	if errors.As(err, &reject) {
		status, ok := rejectStatus[reject.Code]
		if !ok {
			status = http.StatusInternalServerError
		}
		return status, reject.Code, reject.Message
	}

	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		return http.StatusNotFound, "JOB_NOT_FOUND", "job directory not found"
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound, "SESSION_NOT_FOUND", "intake session not found"
	case errors.Is(err, domain.ErrRunNotFound):
		return http.StatusNotFound, "RUN_NOT_FOUND", "run record not found"
	case errors.Is(err, domain.ErrDeliverableNotFound):
		return http.StatusNotFound, "DELIVERABLE_NOT_FOUND", "deliverable not found"
	case errors.Is(err, domain.ErrUnsupportedFileType):
		return http.StatusBadRequest, "UNSUPPORTED_FILE_TYPE", "unsupported file type"
	case errors.Is(err, domain.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "file exceeds maximum allowed size"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred"
	}
}

// HandleError maps a domain error and sends the appropriate error response.
// Reject context rides along in the error body.
func HandleError(c *gin.Context, err error) {
	status, code, msg := MapDomainError(err)
	if status >= 500 {
		requestID, _ := c.Get("request_id")
		log.Printf("[%s] internal error: %v", requestID, err)
	}

	var reject *domain.RejectError
	if errors.As(err, &reject) && len(reject.Context) > 0 {
		c.JSON(status, APIResponse{
			Success: false,
			Error:   &APIError{Code: code, Message: msg, Context: reject.Context},
		})
		return
	}
	RespondError(c, status, code, msg)
}
