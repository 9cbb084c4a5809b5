// Package jobstore provides the durable record of job identity, settings,
// status, and progress, plus the scheduling metadata kept per admitted job.
package jobstore

import (
	"context"

	"github.com/cuongbtq/audio-processing-be/internal/domain"
)

// Store is the durable source of truth for job existence and terminal
// outcome. Implementations must be safe for concurrent use and
// read-after-write consistent per job.
type Store interface {
	// CreateJob persists a new job record.
	CreateJob(ctx context.Context, job *domain.Job) error

	// GetJobByID returns the job or domain.ErrJobNotFound.
	GetJobByID(ctx context.Context, jobID string) (*domain.Job, error)

	// ListJobsByUser returns up to limit jobs for the user, newest first.
	ListJobsByUser(ctx context.Context, userID string, limit int) ([]*domain.Job, error)

	// CountJobsByStatus returns the number of jobs currently in status.
	CountJobsByStatus(ctx context.Context, status string) (int, error)

	// ClaimJob atomically moves a pending job to processing and returns it.
	// Returns domain.ErrJobAlreadyClaimed if the job is no longer pending,
	// which happens when it was cancelled before dispatch or claimed twice.
	ClaimJob(ctx context.Context, jobID string) (*domain.Job, error)

	// UpdateJobProgress records the progress percentage and, when status is
	// non-empty, the status. Terminal statuses also set completed_at.
	// Calls that would move a job out of a terminal state, or move progress
	// backward while processing, are ignored: repeated calls with
	// equal-or-greater progress for the same status are idempotent.
	UpdateJobProgress(ctx context.Context, jobID string, progress float64, status string) error

	// UpdateJobStatus finalizes a job: status plus output files, error
	// message, and processing time where applicable. A job already in a
	// terminal state is left untouched (the earlier outcome wins).
	UpdateJobStatus(ctx context.Context, jobID, status string, outputFiles []string, errMsg string, processingTime *float64) error

	// CancelPendingJob atomically moves a pending job to cancelled.
	// Returns false when the job is no longer pending, which means a worker
	// won the claim race and cancellation must go through the signal path.
	CancelPendingJob(ctx context.Context, jobID string) (bool, error)

	// RequeueJob moves a processing job back to pending with progress reset
	// so it can be claimed again after a transient failure or a restart.
	// No-op if the job is not currently processing.
	RequeueJob(ctx context.Context, jobID string) error

	// CreateQueueEntry persists scheduling metadata for an admitted job.
	CreateQueueEntry(ctx context.Context, entry *domain.QueueEntry) error

	// GetQueueEntry returns the entry or domain.ErrJobNotFound.
	GetQueueEntry(ctx context.Context, jobID string) (*domain.QueueEntry, error)

	// MarkEntryStarted stamps started_at when a worker picks the job up.
	MarkEntryStarted(ctx context.Context, jobID string) error

	// ReadmitEntry increments retry_count and clears started_at so the job
	// can be dispatched again.
	ReadmitEntry(ctx context.Context, jobID string) error

	// DeleteQueueEntry removes the entry once the job is terminal.
	DeleteQueueEntry(ctx context.Context, jobID string) error

	// ListStartedEntries returns entries with started_at set, used on
	// restart to find jobs that were mid-flight when the process died.
	ListStartedEntries(ctx context.Context) ([]*domain.QueueEntry, error)
}
