package handler

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
)

// HealthHandler handles health check endpoints. Readiness verifies that the
// filesystem roots the pipeline depends on exist and are usable.
type HealthHandler struct {
	jobsRoot     string
	templatesDir string
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(jobsRoot, templatesDir string) *HealthHandler {
	return &HealthHandler{jobsRoot: jobsRoot, templatesDir: templatesDir}
}

// Liveness handles GET /healthz
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readiness handles GET /readyz
func (h *HealthHandler) Readiness(c *gin.Context) {
	if st, err := os.Stat(h.templatesDir); err != nil || !st.IsDir() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": "templates directory not reachable"})
		return
	}
	probe, err := os.CreateTemp(h.jobsRoot, ".readyz-*")
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": "jobs root not writable"})
		return
	}
	probe.Close()
	os.Remove(probe.Name())

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
