package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler processes one job
type Handler func(ctx context.Context, job *Job) error

// WorkQueue is the part of *Queue a worker pool needs
type WorkQueue interface {
	Dequeue(ctx context.Context, workerID string, queueName string) (*Job, error)
	Complete(ctx context.Context, jobID uuid.UUID) error
	Fail(ctx context.Context, jobID uuid.UUID, errMsg string) error
	Retry(ctx context.Context, job *Job, errMsg string) (time.Time, error)
	Reschedule(ctx context.Context, jobID uuid.UUID, runAt time.Time) error
}

// PoolConfig configures a worker pool
type PoolConfig struct {
	Queue        string
	Workers      int
	PollInterval time.Duration
}

// WorkerPool runs workers that dequeue and process jobs of one queue
type WorkerPool struct {
	queue    WorkQueue
	handlers *HandlerRegistry
	config   PoolConfig
	logger   *zap.Logger
	metrics  *Metrics

	wake      chan struct{}
	stopChan  chan struct{}
	abortJobs context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	started   bool
	stopped   bool
}

// NewWorkerPool creates a worker pool. Handlers are shared with registry,
// so several pools can serve the same job types from different queues.
func NewWorkerPool(queue WorkQueue, registry *HandlerRegistry, config PoolConfig, logger *zap.Logger) *WorkerPool {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if registry == nil {
		registry = NewHandlerRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerPool{
		queue:    queue,
		handlers: registry,
		config:   config,
		logger:   logger.With(zap.String("queue", config.Queue)),
		metrics:  NewMetrics(),
		wake:     make(chan struct{}, config.Workers),
		stopChan: make(chan struct{}),
	}
}

// RegisterHandler registers a job handler for a specific job type
func (p *WorkerPool) RegisterHandler(jobType string, handler Handler) {
	p.handlers.Register(jobType, handler)
}

// Metrics returns the pool's processing metrics
func (p *WorkerPool) Metrics() *Metrics {
	return p.metrics
}

// Queue returns the name of the queue the pool serves
func (p *WorkerPool) Queue() string {
	return p.config.Queue
}

// Start launches the workers. Cancelling ctx stops dequeuing but lets
// in-flight jobs finish; only Shutdown's deadline aborts them.
func (p *WorkerPool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	jobCtx, abort := context.WithCancel(context.WithoutCancel(ctx))
	p.abortJobs = abort

	p.logger.Info("starting worker pool", zap.Int("workers", p.config.Workers))
	for i := 0; i < p.config.Workers; i++ {
		id := fmt.Sprintf("%s-%d-%s", p.config.Queue, i, uuid.NewString()[:8])
		p.wg.Add(1)
		go p.run(ctx, jobCtx, id)
	}
}

// Stop stops dequeuing and waits for in-flight jobs to finish
func (p *WorkerPool) Stop() {
	_ = p.Shutdown(context.Background())
}

// Shutdown stops dequeuing and waits for in-flight jobs until ctx is done.
// It then cancels the jobs still running, waits for their outcome to be
// recorded and returns ctx's error.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped || !p.started {
		p.stopped = true
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.stopChan)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("shutdown timeout reached, cancelling in-flight jobs")
		p.abortJobs()
		<-done
		err = ctx.Err()
	}
	p.abortJobs()
	p.logger.Info("worker pool stopped")
	return err
}

// Notify wakes one idle worker. It never blocks.
func (p *WorkerPool) Notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *WorkerPool) run(ctx, jobCtx context.Context, workerID string) {
	defer p.wg.Done()
	logger := p.logger.With(zap.String("worker", workerID))

	for {
		select {
		case <-p.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		// a claimed job must reach process, so the claim ignores ctx
		job, err := p.queue.Dequeue(jobCtx, workerID, p.config.Queue)
		if err != nil {
			if !errors.Is(err, ErrNoJobs) && ctx.Err() == nil {
				logger.Warn("dequeue failed", zap.Error(err))
			}
			if !p.idle(ctx) {
				return
			}
			continue
		}

		p.process(jobCtx, logger, job)
	}
}

// idle waits for a wakeup or the poll interval. Returns false when stopping.
func (p *WorkerPool) idle(ctx context.Context) bool {
	timer := time.NewTimer(p.config.PollInterval)
	defer timer.Stop()

	select {
	case <-p.stopChan:
		return false
	case <-ctx.Done():
		return false
	case <-p.wake:
		return true
	case <-timer.C:
		return true
	}
}

// process runs the handler with ctx and records the outcome even when ctx
// has been cancelled.
func (p *WorkerPool) process(ctx context.Context, logger *zap.Logger, job *Job) {
	start := time.Now()
	outcomeCtx := context.WithoutCancel(ctx)
	logger = logger.With(
		zap.String("job_id", job.ID.String()),
		zap.String("job_type", job.Type),
		zap.Int("attempt", job.Attempts),
		zap.Int("max_attempts", job.MaxAttempts),
	)

	handler, ok := p.handlers.Get(job.Type)
	if !ok {
		msg := fmt.Sprintf("no handler registered for job type: %s", job.Type)
		logger.Error(msg)
		if err := p.queue.Fail(outcomeCtx, job.ID, msg); err != nil {
			logger.Error("failed to mark job failed", zap.Error(err))
		}
		p.metrics.RecordFailure(job.Type, time.Since(start))
		return
	}

	err := safeCall(ctx, handler, job)
	duration := time.Since(start)

	if err == nil {
		if err := p.queue.Complete(outcomeCtx, job.ID); err != nil {
			logger.Error("failed to mark job complete", zap.Error(err))
			return
		}
		logger.Debug("job completed", zap.Duration("duration", duration))
		p.metrics.RecordSuccess(job.Type, duration)
		return
	}

	var rs *RescheduleError
	if errors.As(err, &rs) {
		if rerr := p.queue.Reschedule(outcomeCtx, job.ID, rs.At); rerr != nil {
			logger.Error("failed to reschedule job", zap.Error(rerr))
			return
		}
		logger.Debug("job rescheduled", zap.Time("run_at", rs.At), zap.String("reason", rs.Reason))
		p.metrics.RecordRescheduled(job.Type)
		return
	}

	if !IsPermanent(err) && job.IsRetryable() {
		runAt, rerr := p.queue.Retry(outcomeCtx, job, err.Error())
		if rerr == nil {
			logger.Warn("job failed, retrying", zap.Error(err), zap.Time("run_at", runAt))
			p.metrics.RecordRetry(job.Type, duration)
			return
		}
		if !errors.Is(rerr, ErrRetriesExhausted) {
			logger.Error("failed to retry job", zap.Error(rerr))
		}
	}

	logger.Error("job failed", zap.Error(err), zap.Bool("permanent", IsPermanent(err)))
	if ferr := p.queue.Fail(outcomeCtx, job.ID, err.Error()); ferr != nil {
		logger.Error("failed to mark job failed", zap.Error(ferr))
	}
	p.metrics.RecordFailure(job.Type, duration)
}

// safeCall runs handler and converts a panic into a permanent error
func safeCall(ctx context.Context, handler Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("handler panicked: %v", r))
		}
	}()
	return handler(ctx, job)
}

// HandlerRegistry maps job types to handlers
type HandlerRegistry struct {
	handlers map[string]Handler
	mu       sync.RWMutex
}

// NewHandlerRegistry creates a new handler registry
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

// Register adds a handler for a job type, replacing any earlier one
func (r *HandlerRegistry) Register(jobType string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = handler
}

// Get retrieves a handler for a job type
func (r *HandlerRegistry) Get(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[jobType]
	return handler, ok
}

// Types returns all registered job types
func (r *HandlerRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}
