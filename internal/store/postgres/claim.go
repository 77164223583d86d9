package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/tagqueue/internal/domain"
	"github.com/cuongbtq/tagqueue/internal/store"
)

type queueEntry struct {
	Position int64  `db:"position"`
	JobID    string `db:"job_id"`
}

// Claim walks the queue under the advisory lock and commits the claim,
// the rejected entries and the orphan cleanup in one transaction.
func (s *Store) Claim(ctx context.Context, adm store.Admission) (store.ClaimResult, error) {
	var result store.ClaimResult
	err := s.withLock(ctx, func(tx *sqlx.Tx) error {
		var queue []queueEntry
		if err := tx.SelectContext(ctx, &queue, `SELECT position, job_id FROM job_queue ORDER BY position`); err != nil {
			return fmt.Errorf("failed to read queue: %w", err)
		}
		var active []string
		if err := tx.SelectContext(ctx, &active, `SELECT tag FROM active_tags`); err != nil {
			return fmt.Errorf("failed to read active tags: %w", err)
		}

		positions := make(map[string]int64, len(queue))
		plan, err := store.Walk(adm, domain.NewTagSet(active...), func(i int) (string, *domain.Job, bool, error) {
			if i >= len(queue) {
				return "", nil, false, nil
			}
			e := queue[i]
			if _, seen := positions[e.JobID]; !seen {
				positions[e.JobID] = e.Position
			}
			job, err := getJob(ctx, tx, e.JobID)
			if errors.Is(err, domain.ErrJobNotFound) {
				return e.JobID, nil, true, nil
			}
			return e.JobID, job, err == nil, err
		})
		if err != nil {
			return err
		}

		for _, id := range plan.Orphans {
			if err := dropEntry(ctx, tx, positions[id]); err != nil {
				return err
			}
		}
		for _, id := range plan.Rejected {
			if err := applyPolicy(ctx, tx, adm.Policy(), id, positions[id]); err != nil {
				return err
			}
		}

		if job := plan.Claim; job != nil {
			if err := dropEntry(ctx, tx, positions[job.ID]); err != nil {
				return err
			}
			if err := job.MarkProcessing(); err != nil {
				return err
			}
			if err := saveTransition(ctx, tx, job, domain.StatusPending); err != nil {
				return err
			}
			if err := reserve(ctx, tx, job); err != nil {
				return err
			}
		}

		result = plan.Result()
		return nil
	})
	if err != nil {
		return store.ClaimResult{}, fmt.Errorf("failed to claim job: %w", err)
	}

	if result.Job != nil {
		s.logger.Debug("Job claimed", slog.String("job_id", result.Job.ID))
	}
	return result, nil
}

func dropEntry(ctx context.Context, tx *sqlx.Tx, position int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM job_queue WHERE position = $1`, position); err != nil {
		return fmt.Errorf("failed to remove queue entry: %w", err)
	}
	return nil
}

func applyPolicy(ctx context.Context, tx *sqlx.Tx, policy store.RejectPolicy, id string, position int64) error {
	switch policy {
	case store.RejectDiscard:
		return dropEntry(ctx, tx, position)
	case store.RejectRequeue:
		if err := dropEntry(ctx, tx, position); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO job_queue (job_id) VALUES ($1)`, id); err != nil {
			return fmt.Errorf("failed to requeue job: %w", err)
		}
	}
	return nil
}
