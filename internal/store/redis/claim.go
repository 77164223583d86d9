package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/cuongbtq/tagqueue/internal/domain"
	"github.com/cuongbtq/tagqueue/internal/store"
)

// Claim walks the queue inside a WATCH on the queue and the active tag set.
// If another client changes either before EXEC, the walk is redone. The
// queue and the records are read separately, so a record may already show
// another client's claim; such entries are treated as orphans, and the
// WATCH aborts the EXEC when the queue moved underneath. When
// every retry loses the race Claim reports nothing admissible and the
// caller tries again on its next poll.
func (s *Store) Claim(ctx context.Context, adm store.Admission) (store.ClaimResult, error) {
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		var result store.ClaimResult
		err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
			res, err := s.claimTx(ctx, tx, adm)
			result = res
			return err
		}, store.QueueKey, store.ActiveTagsKey)

		if err == nil {
			if result.Job != nil {
				s.logger.Debug("Job claimed",
					slog.String("job_id", result.Job.ID),
					slog.Int("attempt", attempt),
				)
			}
			return result, nil
		}
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return store.ClaimResult{}, fmt.Errorf("failed to claim job: %w", err)
	}

	s.logger.Warn("Claim contended, giving up for this cycle",
		slog.Int("attempts", s.maxRetries),
	)
	return store.ClaimResult{}, nil
}

func (s *Store) claimTx(ctx context.Context, tx *goredis.Tx, adm store.Admission) (store.ClaimResult, error) {
	ids, err := tx.LRange(ctx, store.QueueKey, 0, -1).Result()
	if err != nil {
		return store.ClaimResult{}, err
	}
	active, err := tx.SMembers(ctx, store.ActiveTagsKey).Result()
	if err != nil {
		return store.ClaimResult{}, err
	}

	plan, err := store.Walk(adm, domain.NewTagSet(active...), func(i int) (string, *domain.Job, bool, error) {
		if i >= len(ids) {
			return "", nil, false, nil
		}
		job, err := getJob(ctx, tx, ids[i])
		if errors.Is(err, domain.ErrJobNotFound) {
			return ids[i], nil, true, nil
		}
		return ids[i], job, err == nil, err
	})
	if err != nil {
		return store.ClaimResult{}, err
	}
	if plan.Claim == nil && len(plan.Rejected) == 0 && len(plan.Orphans) == 0 {
		return plan.Result(), nil
	}

	var payload []byte
	if job := plan.Claim; job != nil {
		if err := job.MarkProcessing(); err != nil {
			return store.ClaimResult{}, err
		}
		if payload, err = json.Marshal(job); err != nil {
			return store.ClaimResult{}, fmt.Errorf("failed to marshal job: %w", err)
		}
	}

	_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, id := range plan.Orphans {
			pipe.LRem(ctx, store.QueueKey, 1, id)
		}
		for _, id := range plan.Rejected {
			switch adm.Policy() {
			case store.RejectDiscard:
				pipe.LRem(ctx, store.QueueKey, 1, id)
			case store.RejectRequeue:
				pipe.LRem(ctx, store.QueueKey, 1, id)
				pipe.RPush(ctx, store.QueueKey, id)
			}
		}
		if job := plan.Claim; job != nil {
			pipe.LRem(ctx, store.QueueKey, 1, job.ID)
			pipe.SAdd(ctx, store.ProcessingJobsKey, job.ID)
			if len(job.Tags) > 0 {
				pipe.SAdd(ctx, store.ActiveTagsKey, toAny(job.Tags)...)
			}
			pipe.Set(ctx, store.JobDataKey(job.ID), payload, 0)
		}
		return nil
	})
	if err != nil {
		return store.ClaimResult{}, err
	}
	return plan.Result(), nil
}

// ReconcileTags recomputes the union of tags over processing jobs and
// removes every active tag outside it. The transaction aborts and retries
// if a claim or completion changes either set meanwhile.
func (s *Store) ReconcileTags(ctx context.Context) ([]string, error) {
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		var removed []string
		err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
			ids, err := tx.SMembers(ctx, store.ProcessingJobsKey).Result()
			if err != nil {
				return err
			}

			processing := make([]*domain.Job, 0, len(ids))
			for _, id := range ids {
				tags, err := tx.SMembers(ctx, store.JobTagsKey(id)).Result()
				if err != nil {
					return err
				}
				processing = append(processing, &domain.Job{ID: id, Tags: tags})
			}

			active, err := tx.SMembers(ctx, store.ActiveTagsKey).Result()
			if err != nil {
				return err
			}

			removed = store.UnheldTags(active, processing)
			if len(removed) == 0 {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.SRem(ctx, store.ActiveTagsKey, toAny(removed)...)
				return nil
			})
			return err
		}, store.ProcessingJobsKey, store.ActiveTagsKey)

		if err == nil {
			return removed, nil
		}
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return nil, fmt.Errorf("failed to reconcile active tags: %w", err)
	}
	return nil, fmt.Errorf("failed to reconcile active tags: %w", goredis.TxFailedErr)
}
