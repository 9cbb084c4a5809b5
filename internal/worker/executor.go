package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/audio-processing-be/internal/domain"
)

var errHardDeadline = errors.New("hard deadline exceeded")

// processJob drives one job through its step sequence:
// init -> one step per input file -> finalize. Cancellation is checked
// between steps; the soft deadline raises the same cooperative signal,
// and the hard deadline force-fails the job in the store regardless of
// whether the backend call ever returns.
func (p *Pool) processJob(ctx context.Context, workerName string, entry *domain.QueueEntry) {
	job, err := p.store.ClaimJob(ctx, entry.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobAlreadyClaimed) {
			// Cancelled before dispatch, or a broker redelivery.
			p.logger.Debug("Skipping unclaimable job",
				slog.String("worker_name", workerName),
				slog.String("job_id", entry.JobID),
			)
			return
		}
		p.logger.Error("Failed to claim job",
			slog.String("worker_name", workerName),
			slog.String("job_id", entry.JobID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := p.store.MarkEntryStarted(ctx, entry.JobID); err != nil {
		p.logger.Warn("Failed to mark queue entry started",
			slog.String("job_id", entry.JobID),
			slog.String("error", err.Error()),
		)
	}

	p.logger.Info("Worker claimed job",
		slog.String("worker_name", workerName),
		slog.String("job_id", job.ID),
		slog.String("tool_type", string(job.ToolType)),
		slog.Int("input_files", len(job.InputFiles)),
		slog.Int("retry_count", entry.RetryCount),
	)

	jobCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	unregister := p.registerJob(job.ID, cancel)
	defer unregister()

	if p.softTimeout > 0 {
		softTimer := time.AfterFunc(p.softTimeout, func() {
			cancel(errSoftDeadline)
		})
		defer softTimer.Stop()
	}
	if p.hardTimeout > 0 {
		hardTimer := time.AfterFunc(p.hardTimeout, func() {
			p.forceFail(job, "processing timed out (hard deadline exceeded)")
			cancel(errHardDeadline)
		})
		defer hardTimer.Stop()
	}

	p.executeJob(ctx, jobCtx, job, entry)
}

func (p *Pool) executeJob(ctx, jobCtx context.Context, job *domain.Job, entry *domain.QueueEntry) {
	totalSteps := len(job.InputFiles) + 2
	startedAt := time.Now()

	p.publish(ctx, &domain.ProgressSnapshot{
		JobID:          job.ID,
		Progress:       0,
		Status:         domain.JobStatusProcessing,
		Message:        "Starting audio processing...",
		CurrentStep:    "Initializing",
		CurrentStepNum: 1,
		TotalSteps:     totalSteps,
	})

	processor, err := p.backends.Get(job.ToolType)
	if err != nil {
		p.failJob(ctx, job, entry, 0, totalSteps, err.Error())
		return
	}

	stepsDone := 0
	outputFiles := make([]string, 0, len(job.InputFiles))

	for i, inputFile := range job.InputFiles {
		if cause := context.Cause(jobCtx); cause != nil {
			p.handleInterrupt(ctx, job, entry, stepsDone, totalSteps, cause)
			return
		}

		outputFile, procErr := processor.Process(jobCtx, job.Settings, inputFile)
		if procErr != nil {
			if cause := context.Cause(jobCtx); cause != nil {
				p.handleInterrupt(ctx, job, entry, stepsDone, totalSteps, cause)
				return
			}

			// Transient failures before any step has completed are
			// re-admitted; partial progress is never replayed.
			if domain.IsTransient(procErr) && stepsDone == 0 && entry.RetryCount < entry.MaxRetries {
				p.readmitJob(ctx, job, entry, procErr)
				return
			}

			p.failJob(ctx, job, entry, stepsDone, totalSteps, procErr.Error())
			return
		}

		outputFiles = append(outputFiles, outputFile)
		stepsDone++

		pct := float64(stepsDone) / float64(len(job.InputFiles)) * 100

		var eta *float64
		if remaining := len(job.InputFiles) - stepsDone; remaining > 0 {
			perFile := time.Since(startedAt).Seconds() / float64(stepsDone)
			estimate := perFile * float64(remaining)
			eta = &estimate
		}

		p.publish(ctx, &domain.ProgressSnapshot{
			JobID:                  job.ID,
			Progress:               pct,
			Status:                 domain.JobStatusProcessing,
			Message:                fmt.Sprintf("Processing file %d of %d...", i+1, len(job.InputFiles)),
			CurrentStep:            fmt.Sprintf("Processing %s", inputFile),
			CurrentStepNum:         stepsDone + 1,
			TotalSteps:             totalSteps,
			EstimatedTimeRemaining: eta,
		})

		if err := p.store.UpdateJobProgress(ctx, job.ID, pct, ""); err != nil {
			p.logger.Warn("Failed to persist job progress",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if cause := context.Cause(jobCtx); cause != nil {
		p.handleInterrupt(ctx, job, entry, stepsDone, totalSteps, cause)
		return
	}

	// Finalize step: aggregate outputs and seal the record before the
	// completion snapshot goes out.
	processingTime := time.Since(startedAt).Seconds()
	if err := p.store.UpdateJobProgress(ctx, job.ID, 100, ""); err != nil {
		p.logger.Warn("Failed to persist final progress",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := p.store.UpdateJobStatus(ctx, job.ID, domain.JobStatusCompleted, outputFiles, "", &processingTime); err != nil {
		p.logger.Error("Failed to update job status to completed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	p.publish(ctx, &domain.ProgressSnapshot{
		JobID:          job.ID,
		Progress:       100,
		Status:         domain.JobStatusCompleted,
		Message:        "Audio processing completed successfully!",
		CurrentStep:    "Finalizing",
		CurrentStepNum: totalSteps,
		TotalSteps:     totalSteps,
	})

	p.dropEntry(ctx, job.ID)

	p.logger.Info("Job completed successfully",
		slog.String("job_id", job.ID),
		slog.String("tool_type", string(job.ToolType)),
		slog.Float64("processing_time_seconds", processingTime),
	)
}

// handleInterrupt resolves an observed cancellation cause into the terminal
// state it stands for.
func (p *Pool) handleInterrupt(ctx context.Context, job *domain.Job, entry *domain.QueueEntry, stepsDone, totalSteps int, cause error) {
	switch {
	case errors.Is(cause, errCancelledByUser):
		if err := p.store.UpdateJobStatus(ctx, job.ID, domain.JobStatusCancelled, nil, "", nil); err != nil {
			p.logger.Error("Failed to update job status to cancelled",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
		p.publish(ctx, &domain.ProgressSnapshot{
			JobID:          job.ID,
			Progress:       stepProgress(stepsDone, len(job.InputFiles)),
			Status:         domain.JobStatusCancelled,
			Message:        "Job cancelled by user",
			CurrentStepNum: stepsDone + 1,
			TotalSteps:     totalSteps,
		})
		p.dropEntry(ctx, job.ID)

		p.logger.Info("Job cancelled",
			slog.String("job_id", job.ID),
			slog.Int("steps_done", stepsDone),
		)

	case errors.Is(cause, errSoftDeadline):
		p.failJob(ctx, job, entry, stepsDone, totalSteps, "processing timed out")

	case errors.Is(cause, errHardDeadline):
		// The watchdog already failed the job in the store.
		p.dropEntry(ctx, job.ID)

	default:
		// Process shutdown mid-job: leave the record as-is, restart
		// recovery re-admits or fails it.
		p.logger.Warn("Job interrupted by shutdown",
			slog.String("job_id", job.ID),
		)
	}
}

func (p *Pool) failJob(ctx context.Context, job *domain.Job, _ *domain.QueueEntry, stepsDone, totalSteps int, errMsg string) {
	if err := p.store.UpdateJobStatus(ctx, job.ID, domain.JobStatusFailed, nil, errMsg, nil); err != nil {
		p.logger.Error("Failed to update job status to failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	p.publish(ctx, &domain.ProgressSnapshot{
		JobID:          job.ID,
		Progress:       stepProgress(stepsDone, len(job.InputFiles)),
		Status:         domain.JobStatusFailed,
		Message:        "Processing failed: " + errMsg,
		CurrentStep:    "Error",
		CurrentStepNum: stepsDone + 1,
		TotalSteps:     totalSteps,
	})
	p.dropEntry(ctx, job.ID)

	p.logger.Error("Job failed",
		slog.String("job_id", job.ID),
		slog.String("tool_type", string(job.ToolType)),
		slog.String("error", errMsg),
	)
}

// forceFail is the hard-deadline path. It runs from the watchdog timer, so
// it uses a fresh context and updates the store directly regardless of what
// the worker goroutine is doing.
func (p *Pool) forceFail(job *domain.Job, errMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := p.store.UpdateJobStatus(ctx, job.ID, domain.JobStatusFailed, nil, errMsg, nil); err != nil {
		p.logger.Error("Failed to force-fail job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	p.publish(ctx, &domain.ProgressSnapshot{
		JobID:      job.ID,
		Status:     domain.JobStatusFailed,
		Message:    "Processing failed: " + errMsg,
		TotalSteps: len(job.InputFiles) + 2,
	})
	p.dropEntry(ctx, job.ID)

	p.logger.Error("Job force-failed by hard deadline",
		slog.String("job_id", job.ID),
	)
}

func (p *Pool) readmitJob(ctx context.Context, job *domain.Job, entry *domain.QueueEntry, cause error) {
	p.logger.Warn("Job hit transient failure, re-admitting",
		slog.String("job_id", job.ID),
		slog.Int("retry_count", entry.RetryCount),
		slog.Int("max_retries", entry.MaxRetries),
		slog.String("error", cause.Error()),
	)

	if err := p.readmitter.Readmit(ctx, entry); err != nil {
		p.logger.Error("Failed to re-admit job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		p.failJob(ctx, job, entry, 0, len(job.InputFiles)+2, cause.Error())
	}
}

func (p *Pool) publish(ctx context.Context, snapshot *domain.ProgressSnapshot) {
	if err := p.bus.Publish(ctx, snapshot); err != nil {
		p.logger.Warn("Failed to publish progress",
			slog.String("job_id", snapshot.JobID),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) dropEntry(ctx context.Context, jobID string) {
	if err := p.store.DeleteQueueEntry(ctx, jobID); err != nil {
		p.logger.Warn("Failed to delete queue entry",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

func stepProgress(stepsDone, totalFiles int) float64 {
	if totalFiles == 0 {
		return 0
	}
	return float64(stepsDone) / float64(totalFiles) * 100
}
