package domain

import "time"

// Job status constants. Values match the wire representation used by the
// processing API and the jobs table.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusCancelled  = "cancelled"
)

// DefaultPriority is the priority assigned when the caller does not supply
// one. Lower values are dispatched sooner.
const DefaultPriority = 5

// DefaultMaxRetries bounds automatic re-admission of transiently failed jobs.
const DefaultMaxRetries = 3

// IsTerminal reports whether status is one of the three terminal states.
func IsTerminal(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether a job may move from one status to another.
// The state machine only moves forward: pending -> processing -> terminal,
// plus the pending -> cancelled edge for jobs cancelled before dispatch.
func CanTransition(from, to string) bool {
	if from == to {
		return true
	}
	switch from {
	case JobStatusPending:
		return to == JobStatusProcessing || to == JobStatusCancelled
	case JobStatusProcessing:
		return IsTerminal(to)
	}
	return false
}

// Job is one durable unit of requested audio work.
type Job struct {
	ID             string         `db:"id" json:"id"`
	UserID         string         `db:"user_id" json:"user_id"`
	ToolType       ToolType       `db:"tool_type" json:"tool_type"`
	Settings       map[string]any `db:"-" json:"settings"`
	InputFiles     []string       `db:"-" json:"input_files"`
	OutputFiles    []string       `db:"-" json:"output_files"`
	Status         string         `db:"status" json:"status"`
	Progress       float64        `db:"progress" json:"progress"`
	ErrorMessage   string         `db:"error_message" json:"error_message,omitempty"`
	Priority       int            `db:"priority" json:"priority"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	CompletedAt    *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	ProcessingTime *float64       `db:"processing_time" json:"processing_time,omitempty"`
}

// QueueEntry is scheduling metadata kept alongside a job from admission
// until the job reaches a terminal status.
type QueueEntry struct {
	JobID       string     `db:"job_id"`
	Priority    int        `db:"priority"`
	ScheduledAt time.Time  `db:"scheduled_at"`
	StartedAt   *time.Time `db:"started_at"`
	RetryCount  int        `db:"retry_count"`
	MaxRetries  int        `db:"max_retries"`
}
