package domain

import "time"

// ProgressSnapshot is the latest ephemeral progress detail for a job. It
// lives in the progress cache with a bounded TTL; the durable job record
// remains authoritative for status if the snapshot has expired.
type ProgressSnapshot struct {
	JobID                  string    `json:"job_id"`
	Progress               float64   `json:"progress"`
	Status                 string    `json:"status"`
	Message                string    `json:"message"`
	CurrentStep            string    `json:"current_step"`
	CurrentStepNum         int       `json:"current_step_num"`
	TotalSteps             int       `json:"total_steps"`
	EstimatedTimeRemaining *float64  `json:"estimated_time_remaining,omitempty"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// PushMessage is the frame delivered to live subscribers on every publish.
type PushMessage struct {
	Type                   string   `json:"type"`
	JobID                  string   `json:"job_id"`
	Progress               float64  `json:"progress"`
	Status                 string   `json:"status"`
	Message                string   `json:"message"`
	CurrentStep            string   `json:"current_step"`
	CurrentStepNum         int      `json:"current_step_num"`
	TotalSteps             int      `json:"total_steps"`
	EstimatedTimeRemaining *float64 `json:"estimated_time_remaining,omitempty"`
	Timestamp              string   `json:"timestamp"`
}

// PushMessageType is the only message type currently pushed.
const PushMessageType = "progress_update"

// NewPushMessage converts a snapshot into its push frame.
func NewPushMessage(s *ProgressSnapshot) *PushMessage {
	return &PushMessage{
		Type:                   PushMessageType,
		JobID:                  s.JobID,
		Progress:               s.Progress,
		Status:                 s.Status,
		Message:                s.Message,
		CurrentStep:            s.CurrentStep,
		CurrentStepNum:         s.CurrentStepNum,
		TotalSteps:             s.TotalSteps,
		EstimatedTimeRemaining: s.EstimatedTimeRemaining,
		Timestamp:              s.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}
