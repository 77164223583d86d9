// Package worker polls the shared store, admits jobs whose tags are free
// and runs them on a bounded pool of goroutines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cuongbtq/tagqueue/internal/domain"
	"github.com/cuongbtq/tagqueue/internal/events"
	"github.com/cuongbtq/tagqueue/internal/store"
)

const (
	DefaultMaxThreads          = 2
	DefaultPollInterval        = time.Second
	DefaultDrainTimeout        = 60 * time.Second
	DefaultPoolShutdownTimeout = 30 * time.Second
	DefaultReconcileSchedule   = "@every 30s"

	reconcileTimeout = 10 * time.Second
)

// ErrAlreadyStarted is returned when Start is called twice
var ErrAlreadyStarted = errors.New("worker already started")

// Config holds worker configuration
type Config struct {
	WorkerID  string
	Store     store.Store
	Logger    *slog.Logger
	Executor  Executor
	Publisher events.Publisher

	MaxThreads          int
	PollInterval        time.Duration
	AllowedTags         []string
	RejectPolicy        store.RejectPolicy
	DrainTimeout        time.Duration
	PoolShutdownTimeout time.Duration

	// ReconcileSchedule is a cron expression for the active tag sweep. Empty disables it.
	ReconcileSchedule string
}

// Worker is one consumer of the shared queue
type Worker struct {
	id        string
	store     store.Store
	logger    *slog.Logger
	executor  Executor
	publisher events.Publisher
	admission store.Admission

	maxThreads          int
	pollInterval        time.Duration
	drainTimeout        time.Duration
	poolShutdownTimeout time.Duration

	pool *Pool
	cron *cron.Cron

	state   stateValue
	started atomic.Bool

	mu       sync.Mutex
	inFlight map[string]*Handle

	// reported holds rejected ids already announced; poll loop only
	reported map[string]struct{}

	stopChan     chan struct{}
	stopOnce     sync.Once
	shutdownOnce sync.Once
	done         chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) (*Worker, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: store is required", domain.ErrInvalidArgument)
	}

	policy, err := store.ParseRejectPolicy(string(cfg.RejectPolicy))
	if err != nil {
		return nil, err
	}

	w := &Worker{
		id:                  cfg.WorkerID,
		store:               cfg.Store,
		executor:            cfg.Executor,
		publisher:           cfg.Publisher,
		admission:           store.Admission{AllowedTags: cfg.AllowedTags, RejectPolicy: policy},
		maxThreads:          cfg.MaxThreads,
		pollInterval:        cfg.PollInterval,
		drainTimeout:        cfg.DrainTimeout,
		poolShutdownTimeout: cfg.PoolShutdownTimeout,
		inFlight:            make(map[string]*Handle),
		reported:            make(map[string]struct{}),
		stopChan:            make(chan struct{}),
		done:                make(chan struct{}),
	}

	if w.id == "" {
		w.id = fmt.Sprintf("worker-%d", os.Getpid())
	}
	if w.executor == nil {
		w.executor = DefaultExecutor
	}
	if w.publisher == nil {
		w.publisher = events.NoopPublisher{}
	}
	if w.maxThreads <= 0 {
		w.maxThreads = DefaultMaxThreads
	}
	if w.pollInterval <= 0 {
		w.pollInterval = DefaultPollInterval
	}
	if w.drainTimeout <= 0 {
		w.drainTimeout = DefaultDrainTimeout
	}
	if w.poolShutdownTimeout <= 0 {
		w.poolShutdownTimeout = DefaultPoolShutdownTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	w.logger = logger.With(slog.String("worker_id", w.id))

	if cfg.ReconcileSchedule != "" {
		w.cron = cron.New(cron.WithChain(
			cron.Recover(cron.DiscardLogger),
			cron.SkipIfStillRunning(cron.DiscardLogger),
		))
		if _, err := w.cron.AddFunc(cfg.ReconcileSchedule, w.reconcileTags); err != nil {
			return nil, fmt.Errorf("%w: reconcile schedule %q: %v", domain.ErrInvalidArgument, cfg.ReconcileSchedule, err)
		}
	}

	w.pool = NewPool(w.maxThreads, w.logger.With(slog.String("component", "pool")))
	return w, nil
}

// ID returns the worker identifier
func (w *Worker) ID() string {
	return w.id
}

// State returns the current lifecycle state
func (w *Worker) State() State {
	return w.state.Load()
}

// InFlight returns the number of jobs submitted and not yet reaped
func (w *Worker) InFlight() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.inFlight)
}

// Done is closed once the worker has terminated
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Start runs the poll loop until Shutdown is called, ctx is cancelled or
// the store fails, then drains in-flight jobs. It returns the store error
// that stopped the loop, if any.
func (w *Worker) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if w.state.Load() >= StateShuttingDown {
		return nil
	}

	w.logger.Info("Starting worker",
		slog.Int("max_threads", w.maxThreads),
		slog.Duration("poll_interval", w.pollInterval),
		slog.Any("allowed_tags", w.admission.AllowedTags),
		slog.String("reject_policy", string(w.admission.Policy())),
	)

	// Jobs keep running through shutdown; only the poll loop observes ctx.
	jobCtx := context.WithoutCancel(ctx)

	go func() {
		select {
		case <-ctx.Done():
			w.Shutdown()
		case <-w.stopChan:
		}
	}()

	w.reconcileTags()
	if w.cron != nil {
		w.cron.Start()
	}

	err := w.run(jobCtx)
	if err != nil {
		w.logger.Error("Worker loop stopped on store error", slog.Any("error", err))
		w.requestStop()
	}

	w.terminate()
	return err
}

func (w *Worker) run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		if w.state.Load() >= StateShuttingDown {
			return nil
		}

		if err := w.poll(ctx); err != nil {
			return err
		}

		select {
		case <-w.stopChan:
			return nil
		case <-ticker.C:
		}

		w.reap()
	}
}

// poll claims at most one job when the worker is running and has a free slot
func (w *Worker) poll(ctx context.Context) error {
	if w.state.Load() != StateRunning || w.InFlight() >= w.maxThreads {
		return nil
	}

	res, err := w.store.Claim(ctx, w.admission)
	if err != nil {
		return err
	}

	w.reportRejected(ctx, res)

	if res.Job == nil {
		if res.Blocked {
			w.logger.Debug("Head of queue waiting on active tags")
		}
		return nil
	}

	w.dispatch(ctx, res.Job)
	return nil
}

// reportRejected logs and publishes each rejection. Under skip and requeue
// the job stays queued and is seen again on every poll, so it is reported
// once until it leaves the queue.
func (w *Worker) reportRejected(ctx context.Context, res store.ClaimResult) {
	keepsJob := w.admission.Policy() != store.RejectDiscard

	for _, id := range res.Rejected {
		if keepsJob {
			if _, seen := w.reported[id]; seen {
				continue
			}
			w.reported[id] = struct{}{}
		}
		w.logger.Warn("Job tags not allowed on this worker",
			slog.String("job_id", id),
			slog.String("reject_policy", string(w.admission.Policy())),
		)
		w.publish(ctx, events.JobRejected, &domain.Job{ID: id, Status: domain.StatusPending})
	}

	// Only a walk that reached the end of the queue shows which rejected
	// jobs are still waiting.
	if keepsJob && res.Job == nil && !res.Blocked {
		current := make(map[string]struct{}, len(res.Rejected))
		for _, id := range res.Rejected {
			current[id] = struct{}{}
		}
		for id := range w.reported {
			if _, ok := current[id]; !ok {
				delete(w.reported, id)
			}
		}
	}
}

// dispatch hands a claimed job to the pool. The lock is held across Submit
// so the job's own untrack cannot run before it is tracked.
func (w *Worker) dispatch(ctx context.Context, job *domain.Job) {
	w.mu.Lock()
	defer w.mu.Unlock()

	h, err := w.pool.Submit(func() error {
		return w.processJob(ctx, job)
	})
	if err != nil {
		w.logger.Error("Failed to submit job to pool",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
		if markErr := w.store.MarkFailed(ctx, job, err.Error()); markErr != nil {
			w.logger.Error("Failed to mark job failed", slog.String("job_id", job.ID), slog.Any("error", markErr))
		}
		return
	}

	w.inFlight[job.ID] = h
}

// untrack removes a job from the in-flight set once its body returns
func (w *Worker) untrack(jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inFlight, jobID)
}

// reap drops finished handles and logs tasks that ended in error
func (w *Worker) reap() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for id, h := range w.inFlight {
		select {
		case <-h.Done():
			if err := h.Err(); err != nil {
				w.logger.Error("Job task ended with error",
					slog.String("job_id", id),
					slog.Any("error", err),
				)
			}
			delete(w.inFlight, id)
		default:
		}
	}
}

// Pause stops admitting new jobs. Running jobs are not affected.
func (w *Worker) Pause() {
	if w.state.CompareAndSwap(StateRunning, StatePaused) {
		w.logger.Info("Worker paused")
	}
}

// Resume starts admitting jobs again after Pause
func (w *Worker) Resume() {
	if w.state.CompareAndSwap(StatePaused, StateRunning) {
		w.logger.Info("Worker resumed")
	}
}

// Shutdown stops admission and begins draining. It returns immediately when
// Start is running; wait on Done or on Start's return for completion. If
// the worker was never started the shutdown sequence runs inline.
func (w *Worker) Shutdown() {
	w.requestStop()
	if !w.started.Load() {
		w.terminate()
	}
}

func (w *Worker) requestStop() {
	for {
		s := w.state.Load()
		if s >= StateShuttingDown {
			break
		}
		if w.state.CompareAndSwap(s, StateShuttingDown) {
			w.logger.Info("Shutdown requested", slog.Int("in_flight", w.InFlight()))
			break
		}
	}
	w.stopOnce.Do(func() { close(w.stopChan) })
}

// terminate drains in-flight jobs, stops the pool and the reconcile
// schedule, then closes the store.
func (w *Worker) terminate() {
	w.shutdownOnce.Do(func() {
		if !w.waitInFlight(w.drainTimeout) {
			w.logger.Warn("Timeout waiting for in-flight jobs",
				slog.Int("in_flight", w.InFlight()),
				slog.Duration("timeout", w.drainTimeout),
			)
		}

		if err := w.pool.Shutdown(w.poolShutdownTimeout); err != nil {
			w.logger.Warn("Worker pool did not stop in time",
				slog.Duration("timeout", w.poolShutdownTimeout),
				slog.Any("error", err),
			)
		}

		if w.cron != nil {
			<-w.cron.Stop().Done()
		}

		if err := w.store.Close(); err != nil {
			w.logger.Error("Failed to close store", slog.Any("error", err))
		}

		w.state.Store(StateTerminated)
		close(w.done)
		w.logger.Info("Worker stopped")
	})
}

// waitInFlight reports whether every in-flight job finished within timeout
func (w *Worker) waitInFlight(timeout time.Duration) bool {
	w.mu.Lock()
	handles := make([]*Handle, 0, len(w.inFlight))
	for _, h := range w.inFlight {
		handles = append(handles, h)
	}
	w.mu.Unlock()

	if len(handles) == 0 {
		return true
	}
	w.logger.Info("Waiting for in-flight jobs", slog.Int("count", len(handles)))

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for _, h := range handles {
		select {
		case <-h.Done():
		case <-timer.C:
			return false
		}
	}
	w.reap()
	return true
}

// reconcileTags releases active tags that no processing job holds
func (w *Worker) reconcileTags() {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()

	removed, err := w.store.ReconcileTags(ctx)
	if err != nil {
		w.logger.Error("Failed to reconcile active tags", slog.Any("error", err))
		return
	}
	if len(removed) > 0 {
		w.logger.Warn("Released stale active tags", slog.Any("tags", removed))
	}
}
