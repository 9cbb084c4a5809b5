package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cuongbtq/audio-processing-be/internal/domain"
	"github.com/cuongbtq/audio-processing-be/shared/postgresql"
)

// PostgresStore persists jobs and queue entries in PostgreSQL.
type PostgresStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgresStore creates a PostgresStore on top of the shared client.
func NewPostgresStore(pg *postgresql.Client, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		db:     pg.GetDB(),
		logger: logger,
	}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) CreateJob(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO audio_jobs (
			id, user_id, tool_type, settings, input_files, output_files,
			status, progress, error_message, priority, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11
		)
	`

	settingsJSON, err := json.Marshal(job.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		query,
		job.ID,
		job.UserID,
		job.ToolType,
		settingsJSON,
		pq.Array(job.InputFiles),
		pq.Array(job.OutputFiles),
		job.Status,
		job.Progress,
		job.ErrorMessage,
		job.Priority,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// jobRow mirrors the audio_jobs columns that need scan helpers.
type jobRow struct {
	ID             string          `db:"id"`
	UserID         string          `db:"user_id"`
	ToolType       string          `db:"tool_type"`
	Settings       []byte          `db:"settings"`
	InputFiles     pq.StringArray  `db:"input_files"`
	OutputFiles    pq.StringArray  `db:"output_files"`
	Status         string          `db:"status"`
	Progress       float64         `db:"progress"`
	ErrorMessage   sql.NullString  `db:"error_message"`
	Priority       int             `db:"priority"`
	CreatedAt      sql.NullTime    `db:"created_at"`
	CompletedAt    sql.NullTime    `db:"completed_at"`
	ProcessingTime sql.NullFloat64 `db:"processing_time"`
}

func (r *jobRow) toDomain() (*domain.Job, error) {
	job := &domain.Job{
		ID:          r.ID,
		UserID:      r.UserID,
		ToolType:    domain.ToolType(r.ToolType),
		InputFiles:  []string(r.InputFiles),
		OutputFiles: []string(r.OutputFiles),
		Status:      r.Status,
		Progress:    r.Progress,
		Priority:    r.Priority,
		CreatedAt:   r.CreatedAt.Time,
	}
	if len(r.Settings) > 0 {
		if err := json.Unmarshal(r.Settings, &job.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
		}
	}
	if r.ErrorMessage.Valid {
		job.ErrorMessage = r.ErrorMessage.String
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		job.CompletedAt = &t
	}
	if r.ProcessingTime.Valid {
		pt := r.ProcessingTime.Float64
		job.ProcessingTime = &pt
	}
	return job, nil
}

const jobColumns = `
	id, user_id, tool_type, settings, input_files, output_files,
	status, progress, error_message, priority, created_at, completed_at,
	processing_time
`

func (s *PostgresStore) GetJobByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM audio_jobs WHERE id = $1`

	var row jobRow
	if err := s.db.GetContext(ctx, &row, query, jobID); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return row.toDomain()
}

func (s *PostgresStore) ListJobsByUser(ctx context.Context, userID string, limit int) ([]*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM audio_jobs
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, userID, limit); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*domain.Job, 0, len(rows))
	for i := range rows {
		job, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s *PostgresStore) CountJobsByStatus(ctx context.Context, status string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM audio_jobs WHERE status = $1`
	if err := s.db.GetContext(ctx, &count, query, status); err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return count, nil
}

// ClaimJob uses an optimistic conditional update so at most one worker wins
// the pending -> processing transition.
func (s *PostgresStore) ClaimJob(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
		UPDATE audio_jobs
		SET status = $1
		WHERE id = $2
		  AND status = $3
		RETURNING ` + jobColumns

	var row jobRow
	err := s.db.GetContext(ctx, &row, query, domain.JobStatusProcessing, jobID, domain.JobStatusPending)
	if err != nil {
		if err == sql.ErrNoRows {
			s.logger.Warn("Failed to claim job - already claimed, cancelled, or not found",
				slog.String("job_id", jobID),
			)
			return nil, domain.ErrJobAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	return row.toDomain()
}

func (s *PostgresStore) UpdateJobProgress(ctx context.Context, jobID string, progress float64, status string) error {
	// Terminal rows are never touched and progress only moves forward;
	// replays of earlier updates become no-ops.
	query := `
		UPDATE audio_jobs
		SET progress = GREATEST(progress, $1),
			status = COALESCE(NULLIF($2, ''), status),
			completed_at = CASE
				WHEN $2 IN ($3, $4, $5) THEN NOW()
				ELSE completed_at
			END
		WHERE id = $6
		  AND status NOT IN ($3, $4, $5)
	`

	result, err := s.db.ExecContext(ctx, query,
		progress, status,
		domain.JobStatusCompleted, domain.JobStatusFailed, domain.JobStatusCancelled,
		jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, getErr := s.GetJobByID(ctx, jobID); getErr != nil {
			return getErr
		}
		// Job exists but is terminal: the earlier outcome wins.
	}

	return nil
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, jobID, status string, outputFiles []string, errMsg string, processingTime *float64) error {
	query := `
		UPDATE audio_jobs
		SET status = $1,
			output_files = COALESCE($2, output_files),
			error_message = $3,
			processing_time = COALESCE($4, processing_time),
			completed_at = CASE
				WHEN $1 IN ($5, $6, $7) THEN NOW()
				ELSE completed_at
			END
		WHERE id = $8
		  AND status NOT IN ($5, $6, $7)
	`

	var files interface{}
	if outputFiles != nil {
		files = pq.Array(outputFiles)
	}

	_, err := s.db.ExecContext(ctx, query,
		status, files, errMsg, processingTime,
		domain.JobStatusCompleted, domain.JobStatusFailed, domain.JobStatusCancelled,
		jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", status),
	)

	return nil
}

func (s *PostgresStore) CancelPendingJob(ctx context.Context, jobID string) (bool, error) {
	query := `
		UPDATE audio_jobs
		SET status = $1, completed_at = NOW()
		WHERE id = $2
		  AND status = $3
	`

	result, err := s.db.ExecContext(ctx, query, domain.JobStatusCancelled, jobID, domain.JobStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to cancel pending job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, getErr := s.GetJobByID(ctx, jobID); getErr != nil {
			return false, getErr
		}
		return false, nil
	}
	return true, nil
}

func (s *PostgresStore) RequeueJob(ctx context.Context, jobID string) error {
	query := `
		UPDATE audio_jobs
		SET status = $1, progress = 0
		WHERE id = $2
		  AND status = $3
	`

	_, err := s.db.ExecContext(ctx, query, domain.JobStatusPending, jobID, domain.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateQueueEntry(ctx context.Context, entry *domain.QueueEntry) error {
	query := `
		INSERT INTO queue_entries (
			job_id, priority, scheduled_at, started_at, retry_count, max_retries
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.db.ExecContext(ctx, query,
		entry.JobID,
		entry.Priority,
		entry.ScheduledAt,
		entry.StartedAt,
		entry.RetryCount,
		entry.MaxRetries,
	)
	if err != nil {
		return fmt.Errorf("failed to create queue entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetQueueEntry(ctx context.Context, jobID string) (*domain.QueueEntry, error) {
	query := `
		SELECT job_id, priority, scheduled_at, started_at, retry_count, max_retries
		FROM queue_entries
		WHERE job_id = $1
	`

	var entry domain.QueueEntry
	if err := s.db.GetContext(ctx, &entry, query, jobID); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get queue entry: %w", err)
	}
	return &entry, nil
}

func (s *PostgresStore) MarkEntryStarted(ctx context.Context, jobID string) error {
	query := `UPDATE queue_entries SET started_at = NOW() WHERE job_id = $1`
	if _, err := s.db.ExecContext(ctx, query, jobID); err != nil {
		return fmt.Errorf("failed to mark entry started: %w", err)
	}
	return nil
}

func (s *PostgresStore) ReadmitEntry(ctx context.Context, jobID string) error {
	query := `
		UPDATE queue_entries
		SET retry_count = retry_count + 1, started_at = NULL
		WHERE job_id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, jobID); err != nil {
		return fmt.Errorf("failed to readmit entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteQueueEntry(ctx context.Context, jobID string) error {
	query := `DELETE FROM queue_entries WHERE job_id = $1`
	if _, err := s.db.ExecContext(ctx, query, jobID); err != nil {
		return fmt.Errorf("failed to delete queue entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListStartedEntries(ctx context.Context) ([]*domain.QueueEntry, error) {
	query := `
		SELECT job_id, priority, scheduled_at, started_at, retry_count, max_retries
		FROM queue_entries
		WHERE started_at IS NOT NULL
	`

	var entries []*domain.QueueEntry
	if err := s.db.SelectContext(ctx, &entries, query); err != nil {
		return nil, fmt.Errorf("failed to list started entries: %w", err)
	}
	return entries, nil
}
