// Package redis implements store.Store on Redis, so any number of worker
// processes can share one queue.
//
// Layout:
//
//	jobs:queue        LIST   pending job ids, head first
//	jobs:all          LIST   every id ever enqueued
//	jobs:processing   SET    ids currently executing
//	tags:active       SET    tags reserved by processing jobs
//	job:data:{id}     STRING job record as JSON
//	job:tags:{id}     SET    the job's tags, read during reconciliation
//
// Claim uses optimistic transactions: it WATCHes the queue and the active
// tag set, evaluates the admission rules client side and commits the claim
// in one MULTI/EXEC. A concurrent change aborts the commit and the walk is
// retried.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/cuongbtq/tagqueue/internal/domain"
	"github.com/cuongbtq/tagqueue/internal/store"
)

var _ store.Store = (*Store)(nil)

// DefaultMaxClaimRetries bounds optimistic retries per Claim or reconcile
const DefaultMaxClaimRetries = 50

// Option configures the Store
type Option func(*Store)

// WithLogger sets a custom logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMaxClaimRetries sets how many times a contended transaction is retried
func WithMaxClaimRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// Store is a Redis-backed job store
type Store struct {
	client     goredis.UniversalClient
	logger     *slog.Logger
	maxRetries int
	closeOnce  sync.Once
	closeErr   error
}

// New creates a store over client. Close closes the client.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client:     client,
		logger:     slog.Default(),
		maxRetries: DefaultMaxClaimRetries,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enqueue writes the record and appends the id to the queue in one transaction
func (s *Store) Enqueue(ctx context.Context, job *domain.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	exists, err := s.client.Exists(ctx, store.JobDataKey(job.ID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check job existence: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: job %s already enqueued", domain.ErrInvalidArgument, job.ID)
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, store.JobDataKey(job.ID), payload, 0)
		if len(job.Tags) > 0 {
			pipe.SAdd(ctx, store.JobTagsKey(job.ID), toAny(job.Tags)...)
		}
		pipe.RPush(ctx, store.QueueKey, job.ID)
		pipe.RPush(ctx, store.AllJobsKey, job.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	s.logger.Debug("Job enqueued",
		slog.String("job_id", job.ID),
		slog.Any("tags", job.Tags),
	)
	return nil
}

// Peek returns the head of the queue without removing it
func (s *Store) Peek(ctx context.Context) (*domain.Job, error) {
	id, err := s.client.LIndex(ctx, store.QueueKey, 0).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, domain.ErrQueueEmpty
		}
		return nil, fmt.Errorf("failed to peek queue: %w", err)
	}
	return s.GetJob(ctx, id)
}

// Dequeue pops the head of the queue
func (s *Store) Dequeue(ctx context.Context) (*domain.Job, error) {
	id, err := s.client.LPop(ctx, store.QueueKey).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, domain.ErrQueueEmpty
		}
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}
	return s.GetJob(ctx, id)
}

// GetJob loads a job record
func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	return getJob(ctx, s.client, id)
}

func getJob(ctx context.Context, c goredis.Cmdable, id string) (*domain.Job, error) {
	raw, err := c.Get(ctx, store.JobDataKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return decodeJob(raw)
}

func decodeJob(raw []byte) (*domain.Job, error) {
	job, err := domain.DecodeJob(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return job, nil
}

// MarkProcessing moves the job to processing and reserves its tags
func (s *Store) MarkProcessing(ctx context.Context, job *domain.Job) error {
	if err := job.MarkProcessing(); err != nil {
		return err
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.SAdd(ctx, store.ProcessingJobsKey, job.ID)
		if len(job.Tags) > 0 {
			pipe.SAdd(ctx, store.ActiveTagsKey, toAny(job.Tags)...)
		}
		pipe.Set(ctx, store.JobDataKey(job.ID), payload, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mark job processing: %w", err)
	}
	return nil
}

// MarkCompleted finishes the job and releases tags no longer held
func (s *Store) MarkCompleted(ctx context.Context, job *domain.Job) error {
	return s.finish(ctx, job, domain.StatusCompleted, "")
}

// MarkFailed finishes the job with an error and releases tags no longer held
func (s *Store) MarkFailed(ctx context.Context, job *domain.Job, errMsg string) error {
	return s.finish(ctx, job, domain.StatusFailed, errMsg)
}

func (s *Store) finish(ctx context.Context, job *domain.Job, to domain.Status, errMsg string) error {
	if err := job.Transition(to, errMsg); err != nil {
		return err
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.SRem(ctx, store.ProcessingJobsKey, job.ID)
		pipe.Set(ctx, store.JobDataKey(job.ID), payload, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mark job %s: %w", to, err)
	}

	// The record is final at this point. A reconcile that keeps losing
	// to other clients leaves the tags to the periodic sweep.
	if _, err := s.ReconcileTags(ctx); err != nil {
		if errors.Is(err, goredis.TxFailedErr) {
			s.logger.Warn("Active tag release contended, deferring to sweep",
				slog.String("job_id", job.ID),
			)
			return nil
		}
		return err
	}
	return nil
}

// QueueSize returns the queue length
func (s *Store) QueueSize(ctx context.Context) (int64, error) {
	n, err := s.client.LLen(ctx, store.QueueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue size: %w", err)
	}
	return n, nil
}

// ProcessingJobs returns the ids of processing jobs
func (s *Store) ProcessingJobs(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, store.ProcessingJobsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list processing jobs: %w", err)
	}
	return ids, nil
}

// ActiveTags returns the reserved tags in lexical order
func (s *Store) ActiveTags(ctx context.Context) ([]string, error) {
	tags, err := s.client.SMembers(ctx, store.ActiveTagsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active tags: %w", err)
	}
	return domain.NewTagSet(tags...).Sorted(), nil
}

// AllJobs returns every job ever enqueued, in enqueue order
func (s *Store) AllJobs(ctx context.Context) ([]*domain.Job, error) {
	ids, err := s.client.LRange(ctx, store.AllJobsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	if len(ids) == 0 {
		return []*domain.Job{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = store.JobDataKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load jobs: %w", err)
	}

	jobs := make([]*domain.Job, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		job, err := decodeJob([]byte(raw))
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Ping verifies the Redis connection is alive
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client once
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}

func toAny(tags []string) []any {
	out := make([]any, len(tags))
	for i, t := range tags {
		out[i] = t
	}
	return out
}
