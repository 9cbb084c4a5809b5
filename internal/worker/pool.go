// Package worker runs the bounded pool that pulls admitted jobs from the
// dispatch queue and executes their step sequence against a processing
// backend, reporting progress through the bus.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/audio-processing-be/internal/backend"
	"github.com/cuongbtq/audio-processing-be/internal/domain"
	"github.com/cuongbtq/audio-processing-be/internal/jobstore"
	"github.com/cuongbtq/audio-processing-be/internal/progress"
	"github.com/cuongbtq/audio-processing-be/internal/queue"
)

// Cancellation causes. The worker observes these between steps and picks
// the terminal status accordingly.
var (
	errCancelledByUser = errors.New("job cancelled by user")
	errSoftDeadline    = errors.New("soft deadline exceeded")
)

// Readmitter re-admits a transiently failed job for another attempt.
// Implemented by the scheduler.
type Readmitter interface {
	Readmit(ctx context.Context, entry *domain.QueueEntry) error
}

// Config holds pool configuration
type Config struct {
	Logger      *slog.Logger
	Store       jobstore.Store
	Queue       queue.Queue
	Bus         *progress.Bus
	Backends    *backend.Registry
	Readmitter  Readmitter
	Concurrency int
	SoftTimeout time.Duration
	HardTimeout time.Duration
}

// Pool is a bounded set of worker goroutines. Each worker owns exactly one
// job at a time; mutual exclusion comes from the store-level claim, not from
// locking the job record.
type Pool struct {
	logger      *slog.Logger
	store       jobstore.Store
	queue       queue.Queue
	bus         *progress.Bus
	backends    *backend.Registry
	readmitter  Readmitter
	concurrency int
	softTimeout time.Duration
	hardTimeout time.Duration
	workerID    string

	wg       sync.WaitGroup
	stopChan chan struct{}
	active   atomic.Int64

	// activeJobs maps a running job to its cancel function so the
	// scheduler can raise the cooperative cancellation signal.
	activeMu   sync.Mutex
	activeJobs map[string]context.CancelCauseFunc
}

// NewPool creates a pool. Start must be called before jobs are processed.
func NewPool(cfg *Config) *Pool {
	return &Pool{
		logger:      cfg.Logger,
		store:       cfg.Store,
		queue:       cfg.Queue,
		bus:         cfg.Bus,
		backends:    cfg.Backends,
		readmitter:  cfg.Readmitter,
		concurrency: cfg.Concurrency,
		softTimeout: cfg.SoftTimeout,
		hardTimeout: cfg.HardTimeout,
		workerID:    fmt.Sprintf("worker-%s", uuid.New().String()[:8]),
		stopChan:    make(chan struct{}),
		activeJobs:  make(map[string]context.CancelCauseFunc),
	}
}

// Start spawns the worker goroutines and returns immediately.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("Spawning worker pool",
		slog.Int("concurrency", p.concurrency),
		slog.String("worker_id", p.workerID),
	)

	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.workerLoop(ctx, i)
	}
}

// Stop closes the queue and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	p.logger.Info("Stopping worker pool...")
	close(p.stopChan)
	p.queue.Close()
	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}

// WorkerCount returns the configured pool size.
func (p *Pool) WorkerCount() int {
	return p.concurrency
}

// ActiveCount returns the number of jobs currently executing.
func (p *Pool) ActiveCount() int {
	return int(p.active.Load())
}

// CancelJob raises the cooperative cancellation signal for a running job.
// Returns false if the job is not executing on this pool.
func (p *Pool) CancelJob(jobID string) bool {
	p.activeMu.Lock()
	cancel, ok := p.activeJobs[jobID]
	p.activeMu.Unlock()

	if !ok {
		return false
	}
	cancel(errCancelledByUser)
	return true
}

func (p *Pool) workerLoop(ctx context.Context, workerNum int) {
	defer p.wg.Done()

	workerName := fmt.Sprintf("%s-%d", p.workerID, workerNum)
	p.logger.Info("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-p.stopChan:
			p.logger.Info("Worker goroutine stopping",
				slog.String("worker_name", workerName),
			)
			return
		case <-ctx.Done():
			p.logger.Info("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return
		default:
		}

		entry, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrQueueClosed) || errors.Is(err, context.Canceled) {
				p.logger.Info("Worker goroutine stopping - queue closed",
					slog.String("worker_name", workerName),
				)
				return
			}
			p.logger.Error("Failed to dequeue job",
				slog.String("worker_name", workerName),
				slog.String("error", err.Error()),
			)
			continue
		}

		p.active.Add(1)
		p.processJob(ctx, workerName, entry)
		p.active.Add(-1)
	}
}

// registerJob installs the cancel function for a running job and returns a
// cleanup closure.
func (p *Pool) registerJob(jobID string, cancel context.CancelCauseFunc) func() {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()

	return func() {
		p.activeMu.Lock()
		delete(p.activeJobs, jobID)
		p.activeMu.Unlock()
	}
}
