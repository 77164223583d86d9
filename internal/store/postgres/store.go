// Package postgres implements store.Store on PostgreSQL. Every mutation of
// the queue, the processing set or the active tags runs in a transaction
// that first takes one transaction-scoped advisory lock, so claims from
// many worker processes are serialized.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/tagqueue/internal/domain"
	"github.com/cuongbtq/tagqueue/internal/store"
)

var _ store.Store = (*Store)(nil)

//go:embed schema.sql
var schema string

// claimLockKey identifies the advisory lock guarding queue mutations
const claimLockKey int64 = 0x74616771756575

// Option configures the Store
type Option func(*Store)

// WithLogger sets a custom logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store is a PostgreSQL-backed job store
type Store struct {
	db        *sqlx.DB
	logger    *slog.Logger
	closeOnce sync.Once
	closeErr  error
}

// New creates a store over db. Close closes db.
func New(db *sqlx.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Migrate creates the tables if they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

func (s *Store) withLock(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, claimLockKey); err != nil {
		return fmt.Errorf("failed to acquire queue lock: %w", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Enqueue inserts the record and appends it to the queue
func (s *Store) Enqueue(ctx context.Context, job *domain.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(job.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal job data: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO jobs (id, tags, status, data, error, created_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := tx.ExecContext(ctx, query,
		job.ID, tagArray(job.Tags), job.Status, data, job.Error,
		job.CreatedAt, job.StartedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: job %s already enqueued", domain.ErrInvalidArgument, job.ID)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO job_queue (job_id) VALUES ($1)`, job.ID); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Debug("Job enqueued",
		slog.String("job_id", job.ID),
		slog.Any("tags", job.Tags),
	)
	return nil
}

// Peek returns the head of the queue without removing it
func (s *Store) Peek(ctx context.Context) (*domain.Job, error) {
	var id string
	err := s.db.GetContext(ctx, &id, `SELECT job_id FROM job_queue ORDER BY position LIMIT 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrQueueEmpty
		}
		return nil, fmt.Errorf("failed to peek queue: %w", err)
	}
	return s.GetJob(ctx, id)
}

// Dequeue removes and returns the head of the queue
func (s *Store) Dequeue(ctx context.Context) (*domain.Job, error) {
	var job *domain.Job
	err := s.withLock(ctx, func(tx *sqlx.Tx) error {
		var id string
		query := `
			DELETE FROM job_queue
			WHERE position = (SELECT min(position) FROM job_queue)
			RETURNING job_id
		`
		if err := tx.GetContext(ctx, &id, query); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrQueueEmpty
			}
			return fmt.Errorf("failed to dequeue job: %w", err)
		}

		var err error
		job, err = getJob(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// GetJob loads a job record
func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	return getJob(ctx, s.db, id)
}

func getJob(ctx context.Context, q sqlx.QueryerContext, id string) (*domain.Job, error) {
	var row jobRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return row.toDomain()
}

// saveTransition persists the fields a status transition changes. It only
// matches while the stored status is still from, so a stale caller cannot
// move a record backwards.
func saveTransition(ctx context.Context, tx *sqlx.Tx, job *domain.Job, from domain.Status) error {
	query := `
		UPDATE jobs
		SET status = $2, started_at = $3, completed_at = $4, error = $5
		WHERE id = $1 AND status = $6
	`
	res, err := tx.ExecContext(ctx, query,
		job.ID, job.Status, job.StartedAt, job.CompletedAt, job.Error, from,
	)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: job %s is no longer %s", domain.ErrInvalidTransition, job.ID, from)
	}
	return nil
}

func reserve(ctx context.Context, tx *sqlx.Tx, job *domain.Job) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO processing_jobs (job_id) VALUES ($1) ON CONFLICT DO NOTHING`, job.ID,
	); err != nil {
		return fmt.Errorf("failed to add processing job: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO active_tags (tag) SELECT DISTINCT unnest($1::text[]) ON CONFLICT DO NOTHING`,
		tagArray(job.Tags),
	); err != nil {
		return fmt.Errorf("failed to reserve tags: %w", err)
	}
	return nil
}

// MarkProcessing moves the job to processing and reserves its tags
func (s *Store) MarkProcessing(ctx context.Context, job *domain.Job) error {
	if err := job.MarkProcessing(); err != nil {
		return err
	}
	return s.withLock(ctx, func(tx *sqlx.Tx) error {
		if err := saveTransition(ctx, tx, job, domain.StatusPending); err != nil {
			return err
		}
		return reserve(ctx, tx, job)
	})
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
	return s.withLock(ctx, func(tx *sqlx.Tx) error {
		if err := saveTransition(ctx, tx, job, domain.StatusProcessing); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM processing_jobs WHERE job_id = $1`, job.ID); err != nil {
			return fmt.Errorf("failed to remove processing job: %w", err)
		}
		_, err := reconcile(ctx, tx)
		return err
	})
}

// ReconcileTags drops every active tag that no processing job holds
func (s *Store) ReconcileTags(ctx context.Context) ([]string, error) {
	var removed []string
	err := s.withLock(ctx, func(tx *sqlx.Tx) error {
		var err error
		removed, err = reconcile(ctx, tx)
		return err
	})
	return removed, err
}

func reconcile(ctx context.Context, tx *sqlx.Tx) ([]string, error) {
	query := `
		DELETE FROM active_tags a
		WHERE NOT EXISTS (
			SELECT 1
			FROM processing_jobs p
			JOIN jobs j ON j.id = p.job_id
			WHERE a.tag = ANY(j.tags)
		)
		RETURNING a.tag
	`
	var removed []string
	if err := tx.SelectContext(ctx, &removed, query); err != nil {
		return nil, fmt.Errorf("failed to reconcile active tags: %w", err)
	}
	sort.Strings(removed)
	return removed, nil
}

// QueueSize returns the queue length
func (s *Store) QueueSize(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, `SELECT count(*) FROM job_queue`); err != nil {
		return 0, fmt.Errorf("failed to get queue size: %w", err)
	}
	return n, nil
}

// ProcessingJobs returns the ids of processing jobs
func (s *Store) ProcessingJobs(ctx context.Context) ([]string, error) {
	ids := []string{}
	if err := s.db.SelectContext(ctx, &ids, `SELECT job_id FROM processing_jobs ORDER BY job_id`); err != nil {
		return nil, fmt.Errorf("failed to list processing jobs: %w", err)
	}
	return ids, nil
}

// ActiveTags returns the reserved tags in lexical order
func (s *Store) ActiveTags(ctx context.Context) ([]string, error) {
	tags := []string{}
	if err := s.db.SelectContext(ctx, &tags, `SELECT tag FROM active_tags ORDER BY tag`); err != nil {
		return nil, fmt.Errorf("failed to list active tags: %w", err)
	}
	return tags, nil
}

// AllJobs returns every job ever enqueued, in enqueue order
func (s *Store) AllJobs(ctx context.Context) ([]*domain.Job, error) {
	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+jobColumns+` FROM jobs ORDER BY seq`); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*domain.Job, 0, len(rows))
	for i := range rows {
		job, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database handle once
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}
