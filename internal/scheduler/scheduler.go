// Package scheduler is the admission and dispatch authority over the job
// queue: it validates and admits work, orders dispatch, cancels pending or
// running jobs, and re-admits transiently failed ones.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/cuongbtq/audio-processing-be/internal/domain"
	"github.com/cuongbtq/audio-processing-be/internal/jobstore"
	"github.com/cuongbtq/audio-processing-be/internal/progress"
	"github.com/cuongbtq/audio-processing-be/internal/queue"
)

// Pool is the scheduler's view of the worker pool.
type Pool interface {
	CancelJob(jobID string) bool
	ActiveCount() int
	WorkerCount() int
}

// Config holds scheduler configuration
type Config struct {
	Logger *slog.Logger
	Store  jobstore.Store
	Queue  queue.Queue
	Bus    *progress.Bus

	// MaxRetries bounds automatic re-admission per job.
	MaxRetries int

	// EnqueueRate limits enqueues per owner per second. Zero disables
	// rate limiting.
	EnqueueRate  float64
	EnqueueBurst int
}

// Cancel retries the pool signal for the window between a worker's claim
// and its cancel registration becoming visible.
const (
	cancelSignalRetries  = 20
	cancelSignalInterval = 5 * time.Millisecond
)

// EnqueueRequest carries the caller-supplied fields for one new job. The
// owner identity is trusted as given; authentication lives upstream.
type EnqueueRequest struct {
	UserID     string
	ToolType   domain.ToolType
	Settings   map[string]any
	InputFiles []string
	Priority   int
}

// QueueStatus is a point-in-time observability snapshot, not used for
// correctness.
type QueueStatus struct {
	PendingCount int `json:"pending_count"`
	ActiveCount  int `json:"active_count"`
	WorkerCount  int `json:"worker_count"`
}

// Manager admits, dispatches, cancels, and re-admits jobs.
type Manager struct {
	logger       *slog.Logger
	store        jobstore.Store
	queue        queue.Queue
	bus          *progress.Bus
	maxRetries   int
	enqueueRate  float64
	enqueueBurst int

	pool Pool

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
}

// NewManager creates a scheduler. AttachPool must be called before Cancel
// or QueueStatus can account for running jobs.
func NewManager(cfg *Config) *Manager {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = domain.DefaultMaxRetries
	}
	burst := cfg.EnqueueBurst
	if burst <= 0 {
		burst = 1
	}
	return &Manager{
		logger:       cfg.Logger,
		store:        cfg.Store,
		queue:        cfg.Queue,
		bus:          cfg.Bus,
		maxRetries:   maxRetries,
		enqueueRate:  cfg.EnqueueRate,
		enqueueBurst: burst,
		limiters:     make(map[string]*rate.Limiter),
	}
}

// AttachPool wires in the worker pool once it exists.
func (m *Manager) AttachPool(pool Pool) {
	m.pool = pool
}

// Enqueue validates the request, creates the durable job record and its
// queue entry, and makes the job visible to workers. It returns as soon as
// the job is admitted; execution outcomes are only observable through
// status and progress.
func (m *Manager) Enqueue(ctx context.Context, req *EnqueueRequest) (*domain.Job, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if !m.allowEnqueue(req.UserID) {
		return nil, domain.ErrRateLimited
	}

	now := time.Now().UTC()
	job := &domain.Job{
		ID:          uuid.New().String(),
		UserID:      req.UserID,
		ToolType:    req.ToolType,
		Settings:    req.Settings,
		InputFiles:  req.InputFiles,
		OutputFiles: []string{},
		Status:      domain.JobStatusPending,
		Priority:    req.Priority,
		CreatedAt:   now,
	}

	if err := m.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	entry := &domain.QueueEntry{
		JobID:       job.ID,
		Priority:    job.Priority,
		ScheduledAt: now,
		MaxRetries:  m.maxRetries,
	}
	if err := m.store.CreateQueueEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to create queue entry: %w", err)
	}

	if err := m.queue.Enqueue(ctx, entry); err != nil {
		if domain.IsTransient(err) {
			// The job record exists; keep trying in the background so the
			// caller still gets the handle it can poll.
			go m.retryAdmission(entry, err)
		} else {
			m.failAdmission(context.WithoutCancel(ctx), job.ID, err)
			return nil, fmt.Errorf("failed to enqueue job: %w", err)
		}
	}

	m.logger.Info("Job enqueued",
		slog.String("job_id", job.ID),
		slog.String("user_id", job.UserID),
		slog.String("tool_type", string(job.ToolType)),
		slog.Int("priority", job.Priority),
		slog.Int("input_files", len(job.InputFiles)),
	)

	return job, nil
}

// Cancel withdraws a pending job or raises the cancellation signal for a
// running one. Cancellation is always acknowledged; if the job already
// reached a terminal status, that status wins and is returned.
func (m *Manager) Cancel(ctx context.Context, jobID, requestingUserID string) (string, error) {
	job, err := m.store.GetJobByID(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job.UserID != requestingUserID {
		return "", domain.ErrNotOwner
	}
	if domain.IsTerminal(job.Status) {
		return job.Status, nil
	}

	if job.Status == domain.JobStatusPending {
		m.queue.Remove(jobID)

		cancelled, err := m.store.CancelPendingJob(ctx, jobID)
		if err != nil {
			return "", err
		}
		if cancelled {
			if err := m.store.DeleteQueueEntry(ctx, jobID); err != nil {
				m.logger.Warn("Failed to delete queue entry for cancelled job",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
			if err := m.bus.Publish(ctx, &domain.ProgressSnapshot{
				JobID:    jobID,
				Progress: 0,
				Status:   domain.JobStatusCancelled,
				Message:  "Job cancelled by user",
			}); err != nil {
				m.logger.Warn("Failed to publish cancellation",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}

			m.logger.Info("Pending job cancelled",
				slog.String("job_id", jobID),
				slog.String("user_id", requestingUserID),
			)
			return domain.JobStatusCancelled, nil
		}
		// A worker won the claim race; fall through to the signal path.
	}

	// A worker that just won the claim may not have registered its cancel
	// function with the pool yet, so a missed signal is retried briefly.
	// Terminal states read from the store win at any point.
	for attempt := 0; ; attempt++ {
		if m.pool != nil && m.pool.CancelJob(jobID) {
			m.logger.Info("Cancellation signal raised for running job",
				slog.String("job_id", jobID),
				slog.String("user_id", requestingUserID),
			)
			return domain.JobStatusCancelled, nil
		}

		current, err := m.store.GetJobByID(ctx, jobID)
		if err != nil {
			return "", err
		}
		if domain.IsTerminal(current.Status) {
			return current.Status, nil
		}
		if m.pool == nil || attempt >= cancelSignalRetries {
			return domain.JobStatusCancelled, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(cancelSignalInterval):
		}
	}
}

// QueueStatus reports a point-in-time snapshot of queue depth and pool
// utilization.
func (m *Manager) QueueStatus(ctx context.Context) (*QueueStatus, error) {
	pending, err := m.store.CountJobsByStatus(ctx, domain.JobStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending jobs: %w", err)
	}

	status := &QueueStatus{PendingCount: pending}
	if m.pool != nil {
		status.ActiveCount = m.pool.ActiveCount()
		status.WorkerCount = m.pool.WorkerCount()
	}
	return status, nil
}

// Readmit puts a transiently failed job back into dispatch with its retry
// count incremented. Called by the worker pool.
func (m *Manager) Readmit(ctx context.Context, entry *domain.QueueEntry) error {
	if err := m.store.RequeueJob(ctx, entry.JobID); err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}
	if err := m.store.ReadmitEntry(ctx, entry.JobID); err != nil {
		return fmt.Errorf("failed to readmit entry: %w", err)
	}

	readmitted := *entry
	readmitted.RetryCount++
	readmitted.StartedAt = nil
	if err := m.queue.Enqueue(ctx, &readmitted); err != nil {
		return fmt.Errorf("failed to enqueue readmitted job: %w", err)
	}

	if err := m.bus.Publish(ctx, &domain.ProgressSnapshot{
		JobID:    entry.JobID,
		Progress: 0,
		Status:   domain.JobStatusPending,
		Message:  fmt.Sprintf("Retrying (attempt %d of %d)...", readmitted.RetryCount+1, readmitted.MaxRetries+1),
	}); err != nil {
		m.logger.Warn("Failed to publish retry snapshot",
			slog.String("job_id", entry.JobID),
			slog.String("error", err.Error()),
		)
	}

	m.logger.Info("Job re-admitted after transient failure",
		slog.String("job_id", entry.JobID),
		slog.Int("retry_count", readmitted.RetryCount),
		slog.Int("max_retries", readmitted.MaxRetries),
	)
	return nil
}

// Recover scans for jobs that were mid-flight when the previous process
// died: started queue entries whose job never reached a terminal status.
// Each is re-admitted while retries remain, otherwise failed.
func (m *Manager) Recover(ctx context.Context) error {
	entries, err := m.store.ListStartedEntries(ctx)
	if err != nil {
		return fmt.Errorf("failed to list started entries: %w", err)
	}

	for _, entry := range entries {
		job, err := m.store.GetJobByID(ctx, entry.JobID)
		if err != nil {
			if errors.Is(err, domain.ErrJobNotFound) {
				_ = m.store.DeleteQueueEntry(ctx, entry.JobID)
				continue
			}
			return err
		}
		if domain.IsTerminal(job.Status) {
			_ = m.store.DeleteQueueEntry(ctx, entry.JobID)
			continue
		}

		if entry.RetryCount < entry.MaxRetries {
			if err := m.Readmit(ctx, entry); err != nil {
				m.logger.Error("Failed to re-admit job during recovery",
					slog.String("job_id", entry.JobID),
					slog.String("error", err.Error()),
				)
			}
			continue
		}

		if err := m.store.UpdateJobStatus(ctx, entry.JobID, domain.JobStatusFailed, nil, "no progress after restart", nil); err != nil {
			m.logger.Error("Failed to fail stale job during recovery",
				slog.String("job_id", entry.JobID),
				slog.String("error", err.Error()),
			)
			continue
		}
		_ = m.store.DeleteQueueEntry(ctx, entry.JobID)

		m.logger.Warn("Stale job failed during recovery",
			slog.String("job_id", entry.JobID),
			slog.Int("retry_count", entry.RetryCount),
		)
	}

	if len(entries) > 0 {
		m.logger.Info("Restart recovery complete",
			slog.Int("entries", len(entries)),
		)
	}
	return nil
}

// retryAdmission keeps trying to publish an admitted job whose first
// queue write hit a transient broker failure.
func (m *Manager) retryAdmission(entry *domain.QueueEntry, lastErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	for attempt := entry.RetryCount; attempt < entry.MaxRetries; attempt++ {
		time.Sleep(time.Duration(attempt+1) * time.Second)

		if err := m.store.ReadmitEntry(ctx, entry.JobID); err != nil {
			m.logger.Error("Failed to record admission retry",
				slog.String("job_id", entry.JobID),
				slog.String("error", err.Error()),
			)
		}
		entry.RetryCount = attempt + 1

		if err := m.queue.Enqueue(ctx, entry); err != nil {
			lastErr = err
			continue
		}

		m.logger.Info("Job admitted after broker retry",
			slog.String("job_id", entry.JobID),
			slog.Int("retry_count", entry.RetryCount),
		)
		return
	}

	m.failAdmission(ctx, entry.JobID, lastErr)
}

func (m *Manager) failAdmission(ctx context.Context, jobID string, cause error) {
	if err := m.store.UpdateJobStatus(ctx, jobID, domain.JobStatusFailed, nil, "failed to admit job: "+cause.Error(), nil); err != nil {
		m.logger.Error("Failed to mark unadmitted job as failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
	_ = m.store.DeleteQueueEntry(ctx, jobID)
}

func (m *Manager) allowEnqueue(userID string) bool {
	if m.enqueueRate <= 0 {
		return true
	}

	m.limitersMu.Lock()
	limiter, ok := m.limiters[userID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(m.enqueueRate), m.enqueueBurst)
		m.limiters[userID] = limiter
	}
	m.limitersMu.Unlock()

	return limiter.Allow()
}

func validateRequest(req *EnqueueRequest) error {
	if req.UserID == "" {
		return domain.NewValidationError("user_id", "must not be empty")
	}
	if !req.ToolType.Valid() {
		return domain.NewValidationError("tool_type", fmt.Sprintf("unrecognized tool type %q", req.ToolType))
	}
	if req.ToolType.RequiresInput() && len(req.InputFiles) == 0 {
		return domain.NewValidationError("input_files", fmt.Sprintf("tool type %q requires at least one input file", req.ToolType))
	}
	if req.Priority < 0 || req.Priority > 9 {
		return domain.NewValidationError("priority", "must be between 0 and 9")
	}
	return nil
}
