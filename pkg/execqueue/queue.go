// Package execqueue provides the in-process job queue in front of the
// code-execution backend: bounded concurrency, retries with exponential
// backoff, and result retention. Jobs are held in memory only; pending
// and finished jobs do not survive a process restart.
package execqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeclash-io/codeclash/pkg/config"
	"github.com/codeclash-io/codeclash/pkg/models"
	"github.com/codeclash-io/codeclash/pkg/sandbox"
)

// JobStatus is the lifecycle state of a queued job.
type JobStatus string

// Job statuses.
const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// Retention policy for terminal jobs.
const (
	completedRetention = time.Hour
	completedKeepLast  = 100
	failedRetention    = 24 * time.Hour
	failedKeepLast     = 1000
)

// queueCapacity bounds pending submissions.
const queueCapacity = 1024

var (
	// ErrQueueFull is returned when the submission buffer is saturated.
	ErrQueueFull = errors.New("execution queue is full")
	// ErrUnknownJob is returned for handles that were never issued or
	// whose jobs have been pruned by retention.
	ErrUnknownJob = errors.New("unknown job handle")
	// ErrQueueStopped is returned after Stop.
	ErrQueueStopped = errors.New("execution queue is stopped")
)

// Job is one tracked execution.
type Job struct {
	ID         string
	Request    models.ExecutionRequest
	Status     JobStatus
	Attempts   int
	Result     *models.ExecutionResult
	Err        error
	EnqueuedAt time.Time
	FinishedAt time.Time

	done chan struct{}
}

// Queue dispatches execution jobs to a fixed worker pool.
type Queue struct {
	executor sandbox.Executor
	cfg      config.ExecQueueConfig

	jobs chan *Job

	mu        sync.Mutex
	byID      map[string]*Job
	completed []string // terminal job ids, oldest first
	failed    []string

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
}

// New creates a queue in front of the given executor.
func New(executor sandbox.Executor, cfg config.ExecQueueConfig) *Queue {
	return &Queue{
		executor: executor,
		cfg:      cfg,
		jobs:     make(chan *Job, queueCapacity),
		byID:     make(map[string]*Job),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the worker pool. Safe to call once.
func (q *Queue) Start(ctx context.Context) {
	if q.started {
		return
	}
	q.started = true

	var gate <-chan time.Time
	if q.cfg.RatePerSecond > 0 {
		ticker := time.NewTicker(time.Second / time.Duration(q.cfg.RatePerSecond))
		gate = ticker.C
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			<-q.stopCh
			ticker.Stop()
		}()
	}

	for i := 0; i < q.cfg.WorkerCount; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i, gate)
	}
	slog.Info("Execution queue started",
		"workers", q.cfg.WorkerCount,
		"rate_per_second", q.cfg.RatePerSecond,
		"max_attempts", q.cfg.MaxAttempts)
}

// Stop drains the workers. Pending jobs stay queued and are abandoned.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
	q.wg.Wait()
}

// Enqueue validates and submits a job, returning its handle.
func (q *Queue) Enqueue(req models.ExecutionRequest) (string, error) {
	if err := sandbox.ValidateRequest(&req); err != nil {
		return "", err
	}

	job := &Job{
		ID:         uuid.New().String(),
		Request:    req,
		Status:     StatusPending,
		EnqueuedAt: time.Now(),
		done:       make(chan struct{}),
	}

	q.mu.Lock()
	q.byID[job.ID] = job
	q.mu.Unlock()

	select {
	case q.jobs <- job:
		return job.ID, nil
	case <-q.stopCh:
		q.forget(job.ID)
		return "", ErrQueueStopped
	default:
		q.forget(job.ID)
		return "", ErrQueueFull
	}
}

// AwaitResult blocks until the job reaches a terminal state or the wait
// timeout elapses. The final outcome is observable to the enqueuer for as
// long as retention keeps the job.
func (q *Queue) AwaitResult(ctx context.Context, handle string, waitTimeout time.Duration) (*models.ExecutionResult, error) {
	q.mu.Lock()
	job, ok := q.byID[handle]
	q.mu.Unlock()
	if !ok {
		return nil, ErrUnknownJob
	}

	timer := time.NewTimer(waitTimeout)
	defer timer.Stop()

	select {
	case <-job.done:
	case <-timer.C:
		return nil, fmt.Errorf("job %s: wait timeout after %s", handle, waitTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if job.Err != nil {
		return nil, job.Err
	}
	return job.Result, nil
}

// Snapshot returns a copy of the job's current state.
func (q *Queue) Snapshot(handle string) (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.byID[handle]
	if !ok {
		return Job{}, ErrUnknownJob
	}
	return Job{
		ID:         job.ID,
		Request:    job.Request,
		Status:     job.Status,
		Attempts:   job.Attempts,
		Result:     job.Result,
		Err:        job.Err,
		EnqueuedAt: job.EnqueuedAt,
		FinishedAt: job.FinishedAt,
	}, nil
}

// Depth reports how many jobs are waiting.
func (q *Queue) Depth() int { return len(q.jobs) }

func (q *Queue) worker(ctx context.Context, id int, gate <-chan time.Time) {
	defer q.wg.Done()
	log := slog.With("exec_worker", id)

	for {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			if gate != nil {
				select {
				case <-gate:
				case <-q.stopCh:
					return
				}
			}
			q.process(ctx, log, job)
		}
	}
}

// process runs a job with retries. Execution timeouts are successful
// results (TimedOut=true) and are never retried; only executor errors are.
func (q *Queue) process(ctx context.Context, log *slog.Logger, job *Job) {
	q.setStatus(job, StatusRunning)

	backoff := q.cfg.RetryBackoff
	var lastErr error
	for attempt := 1; attempt <= q.cfg.MaxAttempts; attempt++ {
		q.mu.Lock()
		job.Attempts = attempt
		q.mu.Unlock()

		result, err := q.executor.Execute(ctx, job.Request)
		if err == nil {
			q.finish(job, result, nil)
			return
		}
		lastErr = err
		log.Warn("Execution attempt failed",
			"job_id", job.ID, "attempt", attempt, "error", err)

		if attempt < q.cfg.MaxAttempts {
			select {
			case <-time.After(backoff):
			case <-q.stopCh:
				q.finish(job, nil, lastErr)
				return
			}
			backoff *= 2
		}
	}
	q.finish(job, nil, fmt.Errorf("job failed after %d attempts: %w", q.cfg.MaxAttempts, lastErr))
}

func (q *Queue) setStatus(job *Job, status JobStatus) {
	q.mu.Lock()
	job.Status = status
	q.mu.Unlock()
}

func (q *Queue) finish(job *Job, result *models.ExecutionResult, err error) {
	q.mu.Lock()
	job.Result = result
	job.Err = err
	job.FinishedAt = time.Now()
	if err != nil {
		job.Status = StatusFailed
		q.failed = append(q.failed, job.ID)
	} else {
		job.Status = StatusCompleted
		q.completed = append(q.completed, job.ID)
	}
	q.pruneLocked()
	q.mu.Unlock()
	close(job.done)
}

// pruneLocked enforces retention: completed jobs kept 1h or last 100,
// failed jobs 24h or last 1000. Caller holds mu.
func (q *Queue) pruneLocked() {
	now := time.Now()
	q.completed = q.pruneList(q.completed, completedKeepLast, now.Add(-completedRetention))
	q.failed = q.pruneList(q.failed, failedKeepLast, now.Add(-failedRetention))
}

func (q *Queue) pruneList(ids []string, keepLast int, cutoff time.Time) []string {
	drop := 0
	for i, id := range ids {
		job, ok := q.byID[id]
		overCount := len(ids)-i > keepLast
		expired := ok && job.FinishedAt.Before(cutoff)
		if overCount || expired {
			drop = i + 1
			delete(q.byID, id)
		} else {
			break
		}
	}
	return ids[drop:]
}

func (q *Queue) forget(id string) {
	q.mu.Lock()
	delete(q.byID, id)
	q.mu.Unlock()
}
