package jobstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/audio-processing-be/internal/domain"
)

// MemoryStore is a fully in-memory Store. Safe for concurrent access.
// Intended for unit testing and development; it does not survive restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	jobs    map[string]*domain.Job
	entries map[string]*domain.QueueEntry
}

// NewMemoryStore returns a new empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    make(map[string]*domain.Job),
		entries: make(map[string]*domain.QueueEntry),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) CreateJob(_ context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := cloneJob(job)
	m.jobs[job.ID] = cp
	return nil
}

func (m *MemoryStore) GetJobByID(_ context.Context, jobID string) (*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (m *MemoryStore) ListJobsByUser(_ context.Context, userID string, limit int) ([]*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*domain.Job, 0)
	for _, job := range m.jobs {
		if job.UserID == userID {
			result = append(result, cloneJob(job))
		}
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) CountJobsByStatus(_ context.Context, status string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, job := range m.jobs {
		if job.Status == status {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) ClaimJob(_ context.Context, jobID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if job.Status != domain.JobStatusPending {
		return nil, domain.ErrJobAlreadyClaimed
	}
	job.Status = domain.JobStatusProcessing
	return cloneJob(job), nil
}

func (m *MemoryStore) UpdateJobProgress(_ context.Context, jobID string, progress float64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	if domain.IsTerminal(job.Status) {
		return nil
	}
	if status != "" && !domain.CanTransition(job.Status, status) {
		return nil
	}
	if progress > job.Progress {
		job.Progress = progress
	}
	if status != "" {
		job.Status = status
		if domain.IsTerminal(status) {
			now := time.Now().UTC()
			job.CompletedAt = &now
		}
	}
	return nil
}

func (m *MemoryStore) UpdateJobStatus(_ context.Context, jobID, status string, outputFiles []string, errMsg string, processingTime *float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	if domain.IsTerminal(job.Status) {
		return nil
	}
	job.Status = status
	job.ErrorMessage = errMsg
	if outputFiles != nil {
		job.OutputFiles = append([]string(nil), outputFiles...)
	}
	if processingTime != nil {
		pt := *processingTime
		job.ProcessingTime = &pt
	}
	if domain.IsTerminal(status) {
		now := time.Now().UTC()
		job.CompletedAt = &now
	}
	return nil
}

func (m *MemoryStore) CancelPendingJob(_ context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return false, domain.ErrJobNotFound
	}
	if job.Status != domain.JobStatusPending {
		return false, nil
	}
	job.Status = domain.JobStatusCancelled
	now := time.Now().UTC()
	job.CompletedAt = &now
	return true, nil
}

func (m *MemoryStore) RequeueJob(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.Status != domain.JobStatusProcessing {
		return nil
	}
	job.Status = domain.JobStatusPending
	job.Progress = 0
	return nil
}

func (m *MemoryStore) CreateQueueEntry(_ context.Context, entry *domain.QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.entries[entry.JobID] = &cp
	return nil
}

func (m *MemoryStore) GetQueueEntry(_ context.Context, jobID string) (*domain.QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	cp := *entry
	return &cp, nil
}

func (m *MemoryStore) MarkEntryStarted(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	now := time.Now().UTC()
	entry.StartedAt = &now
	return nil
}

func (m *MemoryStore) ReadmitEntry(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	entry.RetryCount++
	entry.StartedAt = nil
	return nil
}

func (m *MemoryStore) DeleteQueueEntry(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, jobID)
	return nil
}

func (m *MemoryStore) ListStartedEntries(_ context.Context) ([]*domain.QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*domain.QueueEntry, 0)
	for _, entry := range m.entries {
		if entry.StartedAt != nil {
			cp := *entry
			result = append(result, &cp)
		}
	}
	return result, nil
}

// cloneJob returns a copy so callers can mutate without racing the store.
func cloneJob(job *domain.Job) *domain.Job {
	cp := *job
	cp.InputFiles = append([]string(nil), job.InputFiles...)
	cp.OutputFiles = append([]string(nil), job.OutputFiles...)
	if job.Settings != nil {
		cp.Settings = make(map[string]any, len(job.Settings))
		for k, v := range job.Settings {
			cp.Settings[k] = v
		}
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		cp.CompletedAt = &t
	}
	if job.ProcessingTime != nil {
		pt := *job.ProcessingTime
		cp.ProcessingTime = &pt
	}
	return &cp
}
