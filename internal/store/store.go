// Package store defines the shared job store contract. A store holds four
// co-located collections: the pending queue, the job records, the set of
// processing job ids and the set of active tags.
package store

import (
	"context"

	"github.com/cuongbtq/tagqueue/internal/domain"
)

// Store is the shared, concurrently accessed job state. Every method must
// be safe to call from many goroutines and, for networked backends, from
// many processes against the same storage.
type Store interface {
	// Enqueue appends the job to the queue and writes its record.
	// Malformed jobs are rejected with domain.ErrInvalidArgument.
	Enqueue(ctx context.Context, job *domain.Job) error

	// Peek returns the head of the queue without removing it.
	Peek(ctx context.Context) (*domain.Job, error)

	// Dequeue removes and returns the head of the queue.
	Dequeue(ctx context.Context) (*domain.Job, error)

	// Claim atomically walks the queue from the head and claims the first
	// admissible job, moving it to processing and reserving its tags.
	Claim(ctx context.Context, adm Admission) (ClaimResult, error)

	// GetJob returns the current record or domain.ErrJobNotFound.
	GetJob(ctx context.Context, id string) (*domain.Job, error)

	MarkProcessing(ctx context.Context, job *domain.Job) error
	MarkCompleted(ctx context.Context, job *domain.Job) error
	MarkFailed(ctx context.Context, job *domain.Job, errMsg string) error

	// ReconcileTags drops every active tag not held by a processing job
	// and returns the tags it removed.
	ReconcileTags(ctx context.Context) ([]string, error)

	QueueSize(ctx context.Context) (int64, error)
	ProcessingJobs(ctx context.Context) ([]string, error)
	ActiveTags(ctx context.Context) ([]string, error)

	// AllJobs returns every job ever enqueued, in enqueue order.
	AllJobs(ctx context.Context) ([]*domain.Job, error)

	Ping(ctx context.Context) error

	// Close releases the underlying connection. It is idempotent.
	Close() error
}

// Logical collection names shared by every backend.
const (
	QueueKey          = "jobs:queue"
	AllJobsKey        = "jobs:all"
	ProcessingJobsKey = "jobs:processing"
	ActiveTagsKey     = "tags:active"
	JobDataKeyPrefix  = "job:data:"
	JobTagsKeyPrefix  = "job:tags:"
)

// JobDataKey returns the record key for a job id
func JobDataKey(id string) string { return JobDataKeyPrefix + id }

// JobTagsKey returns the tag set key for a job id
func JobTagsKey(id string) string { return JobTagsKeyPrefix + id }
