package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/audio-processing-be/internal/api/dto"
	"github.com/cuongbtq/audio-processing-be/internal/domain"
	"github.com/cuongbtq/audio-processing-be/internal/progress"
	"github.com/cuongbtq/audio-processing-be/internal/scheduler"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// EnqueueJob handles POST /api/v1/processing/jobs
// Admits a new audio processing job into the dispatch queue
func (h *ProcessingHandler) EnqueueJob(c *gin.Context) {
	var req dto.EnqueueJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	priority := domain.DefaultPriority
	if req.Priority != nil {
		priority = *req.Priority
	}

	job, err := h.scheduler.Enqueue(c.Request.Context(), &scheduler.EnqueueRequest{
		UserID:     req.UserID,
		ToolType:   domain.ToolType(req.ToolType),
		Settings:   req.Settings,
		InputFiles: req.InputFiles,
		Priority:   priority,
	})
	if err != nil {
		var vErr *domain.ValidationError
		switch {
		case errors.As(err, &vErr):
			c.JSON(http.StatusBadRequest, gin.H{
				"error": vErr.Error(),
			})
		case errors.Is(err, domain.ErrRateLimited):
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Too many jobs submitted, slow down",
			})
		default:
			h.logger.Error("Failed to enqueue job", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to enqueue job",
			})
		}
		return
	}

	h.logger.Info("Job enqueued",
		slog.String("job_id", job.ID),
		slog.String("user_id", job.UserID),
		slog.String("tool_type", string(job.ToolType)),
	)

	c.JSON(http.StatusCreated, dto.FromJob(job))
}

// ListJobs handles GET /api/v1/processing/jobs
// Lists a user's jobs, newest first
func (h *ProcessingHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "user_id is required",
		})
		return
	}

	if req.Limit <= 0 {
		req.Limit = defaultListLimit
	}
	if req.Limit > maxListLimit {
		req.Limit = maxListLimit
	}

	jobs, err := h.store.ListJobsByUser(c.Request.Context(), req.UserID, req.Limit)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i, job := range jobs {
		jobResponse[i] = dto.FromJob(job)
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{Jobs: jobResponse})
}

// GetJob handles GET /api/v1/processing/jobs/:job_id
// Retrieves detailed information about a specific job
func (h *ProcessingHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.store.GetJobByID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, dto.FromJob(job))
}

// GetJobProgress handles GET /api/v1/processing/jobs/:job_id/progress
// Returns the latest cached progress snapshot for a job
func (h *ProcessingHandler) GetJobProgress(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	snapshot, err := h.bus.GetLatest(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, progress.ErrSnapshotNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "No progress recorded for this job",
			})
			return
		}
		h.logger.Error("Failed to get progress", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get progress",
		})
		return
	}

	c.JSON(http.StatusOK, dto.FromSnapshot(snapshot))
}

// CancelJob handles DELETE /api/v1/processing/jobs/:job_id
// Cancels a pending or processing job on behalf of its owner
func (h *ProcessingHandler) CancelJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "user_id is required",
		})
		return
	}

	status, err := h.scheduler.Cancel(c.Request.Context(), jobID, userID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
		case errors.Is(err, domain.ErrNotOwner):
			c.JSON(http.StatusForbidden, gin.H{
				"error": "Job belongs to another user",
			})
		default:
			h.logger.Error("Failed to cancel job", slog.String("job_id", jobID), slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to cancel job",
			})
		}
		return
	}

	h.logger.Info("Job cancel requested",
		slog.String("job_id", jobID),
		slog.String("user_id", userID),
		slog.String("status", status),
	)

	c.JSON(http.StatusOK, dto.CancelJobResponse{
		JobID:  jobID,
		Status: status,
	})
}

// QueueStatus handles GET /api/v1/processing/queue/status
// Reports pending jobs and worker pool occupancy
func (h *ProcessingHandler) QueueStatus(c *gin.Context) {
	status, err := h.scheduler.QueueStatus(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to get queue status", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get queue status",
		})
		return
	}

	c.JSON(http.StatusOK, status)
}
