package dto

import (
	"time"

	"github.com/cuongbtq/audio-processing-be/internal/domain"
)

type EnqueueJobRequest struct {
	UserID     string         `json:"user_id" binding:"required"`
	ToolType   string         `json:"tool_type" binding:"required"`
	Settings   map[string]any `json:"settings"`
	InputFiles []string       `json:"input_files"`
	Priority   *int           `json:"priority"`
}

type ListJobsRequest struct {
	UserID string `form:"user_id" binding:"required"`
	Limit  int    `form:"limit"`
}

type ListJobsResponse struct {
	Jobs []JobDTO `json:"jobs"`
}

type JobDTO struct {
	JobID          string         `json:"job_id"`
	UserID         string         `json:"user_id"`
	ToolType       string         `json:"tool_type"`
	Settings       map[string]any `json:"settings,omitempty"`
	InputFiles     []string       `json:"input_files"`
	OutputFiles    []string       `json:"output_files,omitempty"`
	Status         string         `json:"status"`
	Progress       float64        `json:"progress"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	Priority       int            `json:"priority"`
	CreatedAt      string         `json:"created_at"`
	CompletedAt    string         `json:"completed_at,omitempty"`
	ProcessingTime *float64       `json:"processing_time,omitempty"`
}

type ProgressDTO struct {
	JobID                  string   `json:"job_id"`
	Progress               float64  `json:"progress"`
	Status                 string   `json:"status"`
	Message                string   `json:"message"`
	CurrentStep            string   `json:"current_step"`
	CurrentStepNum         int      `json:"current_step_num"`
	TotalSteps             int      `json:"total_steps"`
	EstimatedTimeRemaining *float64 `json:"estimated_time_remaining,omitempty"`
	UpdatedAt              string   `json:"updated_at"`
}

type CancelJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// FromJob converts a domain job to its API representation
func FromJob(job *domain.Job) JobDTO {
	d := JobDTO{
		JobID:          job.ID,
		UserID:         job.UserID,
		ToolType:       string(job.ToolType),
		Settings:       job.Settings,
		InputFiles:     job.InputFiles,
		OutputFiles:    job.OutputFiles,
		Status:         job.Status,
		Progress:       job.Progress,
		ErrorMessage:   job.ErrorMessage,
		Priority:       job.Priority,
		CreatedAt:      job.CreatedAt.Format(time.RFC3339),
		ProcessingTime: job.ProcessingTime,
	}
	if job.CompletedAt != nil {
		d.CompletedAt = job.CompletedAt.Format(time.RFC3339)
	}
	return d
}

// FromSnapshot converts a progress snapshot to its API representation
func FromSnapshot(s *domain.ProgressSnapshot) ProgressDTO {
	return ProgressDTO{
		JobID:                  s.JobID,
		Progress:               s.Progress,
		Status:                 s.Status,
		Message:                s.Message,
		CurrentStep:            s.CurrentStep,
		CurrentStepNum:         s.CurrentStepNum,
		TotalSteps:             s.TotalSteps,
		EstimatedTimeRemaining: s.EstimatedTimeRemaining,
		UpdatedAt:              s.UpdatedAt.Format(time.RFC3339),
	}
}
