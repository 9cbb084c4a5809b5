package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/audio-processing-be/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "audio-processing-service",
		})
	})

	// Initialize processing handler
	processingHandler := handler.NewProcessingHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		processing := v1.Group("/processing")
		{
			jobs := processing.Group("/jobs")
			{
				// POST /api/v1/processing/jobs - Enqueue a new job
				jobs.POST("", processingHandler.EnqueueJob)

				// GET /api/v1/processing/jobs - List a user's jobs
				jobs.GET("", processingHandler.ListJobs)

				// GET /api/v1/processing/jobs/:job_id - Get job details
				jobs.GET("/:job_id", processingHandler.GetJob)

				// GET /api/v1/processing/jobs/:job_id/progress - Latest progress snapshot
				jobs.GET("/:job_id/progress", processingHandler.GetJobProgress)

				// DELETE /api/v1/processing/jobs/:job_id - Cancel a job
				jobs.DELETE("/:job_id", processingHandler.CancelJob)
			}

			// GET /api/v1/processing/queue/status - Queue and worker pool status
			processing.GET("/queue/status", processingHandler.QueueStatus)

			// GET /api/v1/processing/ws/:job_id - WebSocket progress stream
			processing.GET("/ws/:job_id", processingHandler.WatchJobProgress)
		}
	}

	return r
}
