package router

import (
	"github.com/gin-gonic/gin"

	"qcert/internal/handler"
	"qcert/internal/middleware"
)

// Setup configures the Gin engine with all routes and middleware.
func Setup(
	allowedOrigins []string,
	intakeH *handler.IntakeHandler,
	generateH *handler.GenerateHandler,
	healthH *handler.HealthHandler,
) *gin.Engine {
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(allowedOrigins))

	// Health checks
	r.GET("/healthz", healthH.Liveness)
	r.GET("/readyz", healthH.Readiness)

	v1 := r.Group("/api/v1")

	// Pipeline runs
	v1.POST("/generate", generateH.Generate)

	// Job-scoped routes. wo_no and line together identify a job directory.
	jobs := v1.Group("/jobs/:wo_no/lines/:line")

	intake := jobs.Group("/intake")
	intake.GET("", intakeH.Session)
	intake.POST("/messages", intakeH.PostMessage)
	intake.POST("/uploads", intakeH.Upload)
	intake.POST("/extract", intakeH.Extract)
	intake.POST("/corrections", intakeH.Correct)
	intake.PUT("/overrides/:key", intakeH.SetOverride)

	jobs.GET("/photos/slots", intakeH.SlotStatuses)

	jobs.GET("/runs", generateH.ListRuns)
	jobs.GET("/runs/export", generateH.ExportRuns)
	jobs.GET("/runs/:run_id", generateH.GetRun)

	jobs.GET("/deliverables", generateH.Manifest)
	jobs.GET("/deliverables/:name", generateH.Download)

	return r
}
