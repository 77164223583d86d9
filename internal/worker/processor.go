package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/cuongbtq/tagqueue/internal/domain"
	"github.com/cuongbtq/tagqueue/internal/events"
)

// Executor runs the body of a job. A returned error or a panic fails the job.
type Executor func(ctx context.Context, job *domain.Job) error

// MaxDefaultExecution bounds the sleep of DefaultExecutor
const MaxDefaultExecution = 3 * time.Second

// DefaultExecutor simulates work by sleeping a random duration up to
// MaxDefaultExecution.
func DefaultExecutor(ctx context.Context, job *domain.Job) error {
	d := time.Duration(rand.Int64N(int64(MaxDefaultExecution) + 1))

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// processJob runs a claimed job and records its outcome. The job is already
// processing and its tags are reserved.
func (w *Worker) processJob(ctx context.Context, job *domain.Job) error {
	defer w.untrack(job.ID)

	logger := w.logger.With(slog.String("job_id", job.ID))
	logger.Info("Processing job", slog.Any("tags", job.Tags))
	w.publish(ctx, events.JobStarted, job)

	start := time.Now()
	execErr := w.execute(ctx, job)

	if execErr != nil {
		msg := failureMessage(execErr)
		logger.Error("Job failed",
			slog.String("error", msg),
			slog.Duration("duration", time.Since(start)),
		)

		if err := w.store.MarkFailed(ctx, job, msg); err != nil {
			logger.Error("Failed to mark job failed", slog.Any("error", err))
			return fmt.Errorf("failed to mark job failed: %w", err)
		}
		w.publish(ctx, events.JobFailed, job)
		return nil
	}

	if err := w.store.MarkCompleted(ctx, job); err != nil {
		logger.Error("Failed to mark job completed", slog.Any("error", err))
		return fmt.Errorf("failed to mark job completed: %w", err)
	}

	logger.Info("Job completed", slog.Duration("duration", time.Since(start)))
	w.publish(ctx, events.JobCompleted, job)
	return nil
}

// execute calls the executor on a copy of the job, turning panics into errors
func (w *Worker) execute(ctx context.Context, job *domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = domain.NewExecutionError(job.ID, fmt.Errorf("panic: %v", r))
		}
	}()

	if err := w.executor(ctx, job.Clone()); err != nil {
		return domain.NewExecutionError(job.ID, err)
	}
	return nil
}

// failureMessage is what gets stored in the job's error field
func failureMessage(err error) string {
	var execErr *domain.ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Err.Error()
	}
	return err.Error()
}

func (w *Worker) publish(ctx context.Context, t events.Type, job *domain.Job) {
	if err := w.publisher.Publish(ctx, events.NewEvent(t, job, w.id)); err != nil {
		w.logger.Warn("Failed to publish event",
			slog.String("type", string(t)),
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
	}
}
