package tasks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/zgpcy/cloudspend/internal/logger"
	"github.com/zgpcy/cloudspend/internal/provider"
)

// Run outcomes reported to the Recorder
const (
	OutcomeSuccess = "success"
	OutcomeRetry   = "retry"
	OutcomeFailed  = "failed"
)

const (
	// DefaultWorkers is the worker pool size when none is configured
	DefaultWorkers = 4
	// DefaultRetryDelay is the wait before a retryable failure runs again
	DefaultRetryDelay = 60 * time.Second
	// DefaultMaxRetries bounds the retries of one task
	DefaultMaxRetries = 3
)

// Task is one unit of work for the queue
type Task struct {
	ID        string
	Name      string
	AccountID int64
	Provider  string
	Run       func(ctx context.Context) error
}

// Result is the terminal state of a task
type Result struct {
	Task     Task
	Attempts int
	Err      error
}

type job struct {
	task     Task
	policy   backoff.BackOff
	attempts int
}

// QueueConfig sizes the worker pool and its retry policy
type QueueConfig struct {
	Workers    int
	RetryDelay time.Duration
	MaxRetries int
}

// Queue is an in-process worker pool. Retryable failures wait outside the
// pool, so a waiting task never holds a worker.
type Queue struct {
	cfg      QueueConfig
	logger   *logger.Logger
	recorder Recorder

	jobs      chan *job
	ctx       context.Context
	cancel    context.CancelFunc
	pending   sync.WaitGroup
	workers   sync.WaitGroup
	enqueuers sync.WaitGroup

	mu      sync.Mutex
	stopped bool
	results map[string]Result
	timers  map[*time.Timer]*job
}

// NewQueue creates a queue; call Start before submitting
func NewQueue(cfg QueueConfig, log *logger.Logger, rec Recorder) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if log == nil {
		log = logger.Discard()
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Queue{
		cfg:      cfg,
		logger:   log,
		recorder: rec,
		jobs:     make(chan *job, cfg.Workers*4),
		results:  make(map[string]Result),
		timers:   make(map[*time.Timer]*job),
	}
}

// Start launches the workers. Cancelling ctx has the same effect as Stop on
// running tasks, but only Stop releases waiting retries.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.cfg.Workers; i++ {
		q.workers.Add(1)
		go q.work()
	}
	q.logger.Info("Task queue started", "workers", q.cfg.Workers,
		"retry_delay", q.cfg.RetryDelay.String(), "max_retries", q.cfg.MaxRetries)
}

// Submit enqueues t and returns its ID
func (q *Queue) Submit(t Task) string {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	j := &job{
		task:   t,
		policy: backoff.WithMaxRetries(backoff.NewConstantBackOff(q.cfg.RetryDelay), uint64(q.cfg.MaxRetries)),
	}
	q.pending.Add(1)

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		q.finish(j, context.Canceled)
		return t.ID
	}
	q.enqueuers.Add(1)
	q.mu.Unlock()

	go q.enqueue(j)
	return t.ID
}

// enqueue hands j to the workers. The caller has already counted it in
// q.enqueuers.
func (q *Queue) enqueue(j *job) {
	defer q.enqueuers.Done()
	select {
	case q.jobs <- j:
	case <-q.ctx.Done():
		q.finish(j, q.ctx.Err())
	}
}

func (q *Queue) work() {
	defer q.workers.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case j := <-q.jobs:
			q.run(j)
		}
	}
}

func (q *Queue) run(j *job) {
	if err := q.ctx.Err(); err != nil {
		q.finish(j, err)
		return
	}

	j.attempts++
	log := q.logger.WithFields("task_id", j.task.ID, "task", j.task.Name,
		"account_id", j.task.AccountID, "provider", j.task.Provider, "attempt", j.attempts)

	start := time.Now()
	err := j.task.Run(q.ctx)
	duration := time.Since(start)

	if err == nil {
		q.recorder.RecordRun(j.task.Name, j.task.Provider, OutcomeSuccess, duration)
		log.Info("Task succeeded", "duration_ms", duration.Milliseconds())
		q.finish(j, nil)
		return
	}

	if retryable(err) && q.ctx.Err() == nil {
		if next := j.policy.NextBackOff(); next != backoff.Stop {
			q.recorder.RecordRun(j.task.Name, j.task.Provider, OutcomeRetry, duration)
			log.Warn("Task failed, retrying", "error", err, "retry_in", next.String())
			q.retryAfter(j, next, err)
			return
		}
	}

	q.recorder.RecordRun(j.task.Name, j.task.Provider, OutcomeFailed, duration)
	log.Error("Task failed", "error", err)
	q.finish(j, err)
}

func (q *Queue) retryAfter(j *job, d time.Duration, lastErr error) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		q.finish(j, lastErr)
		return
	}
	q.enqueuers.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		q.mu.Unlock()
		q.enqueue(j)
	})
	q.timers[timer] = j
	q.mu.Unlock()
}

// retryable reports whether err may succeed on a later attempt
func retryable(err error) bool {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return false
	}
	return provider.IsRetryable(err)
}

func (q *Queue) finish(j *job, err error) {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	q.mu.Lock()
	q.results[j.task.ID] = Result{Task: j.task, Attempts: j.attempts, Err: err}
	q.mu.Unlock()
	q.pending.Done()
}

// Result returns the terminal state of a task once it finished
func (q *Queue) Result(id string) (Result, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.results[id]
	return r, ok
}

// Wait blocks until every submitted task reached a terminal state
func (q *Queue) Wait() {
	q.pending.Wait()
}

// Stop cancels running tasks and waiting retries, then stops the workers.
// Unfinished tasks end with context.Canceled.
func (q *Queue) Stop() {
	q.cancel()
	q.workers.Wait()

	q.mu.Lock()
	q.stopped = true
	var cancelled []*job
	for t, j := range q.timers {
		if t.Stop() {
			cancelled = append(cancelled, j)
		}
		delete(q.timers, t)
	}
	q.mu.Unlock()

	for _, j := range cancelled {
		q.finish(j, context.Canceled)
		q.enqueuers.Done()
	}
	q.enqueuers.Wait()

	for {
		select {
		case j := <-q.jobs:
			q.finish(j, context.Canceled)
		default:
			q.logger.Info("Task queue stopped")
			return
		}
	}
}
