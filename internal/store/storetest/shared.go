package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/tagqueue/internal/domain"
	"github.com/cuongbtq/tagqueue/internal/store"
)

// SharedFactory returns n independent stores over the same, empty backend,
// each with its own connection, the way separate worker processes see it.
type SharedFactory func(t *testing.T, n int) []store.Store

// RunShared checks claim behaviour across independent clients
func RunShared(t *testing.T, open SharedFactory) {
	t.Run("IndependentClientsDrainQueue", func(t *testing.T) {
		testIndependentClientsDrainQueue(t, open(t, 4))
	})
	t.Run("IndependentClientsSharedTagClaimedOnce", func(t *testing.T) {
		testIndependentClientsSharedTagClaimedOnce(t, open(t, 4))
	})
}

// tagTracker records which tags are held by running jobs across clients
type tagTracker struct {
	mu         sync.Mutex
	held       map[string]string
	violations []string
}

func (tr *tagTracker) acquire(job *domain.Job) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for t := range job.TagSet() {
		if owner, ok := tr.held[t]; ok {
			tr.violations = append(tr.violations, fmt.Sprintf("tag %s held by %s and %s", t, owner, job.ID))
			continue
		}
		tr.held[t] = job.ID
	}
}

func (tr *tagTracker) release(job *domain.Job) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for t := range job.TagSet() {
		if tr.held[t] == job.ID {
			delete(tr.held, t)
		}
	}
}

func testIndependentClientsDrainQueue(t *testing.T, clients []store.Store) {
	ctx := context.Background()

	const total = 40
	ids := make(map[string]bool, total)
	for i := range total {
		tags := []string{fmt.Sprintf("room-%d", i%7)}
		if i%3 == 0 {
			tags = append(tags, "shared")
		}
		job := domain.NewJob(tags, nil)
		require.NoError(t, clients[i%len(clients)].Enqueue(ctx, job))
		ids[job.ID] = true
	}

	tracker := &tagTracker{held: make(map[string]string)}
	var (
		mu        sync.Mutex
		completed = make(map[string]int)
		errs      []error
		wg        sync.WaitGroup
	)
	deadline := time.Now().Add(15 * time.Second)

	for _, c := range clients {
		wg.Add(1)
		go func(s store.Store) {
			defer wg.Done()
			for time.Now().Before(deadline) {
				mu.Lock()
				finished := len(completed) >= total || len(errs) > 0
				mu.Unlock()
				if finished {
					return
				}

				res, err := s.Claim(ctx, store.Admission{})
				if err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
					return
				}
				if res.Job == nil {
					// Idle clients sweep like the worker's reconcile schedule does.
					_, _ = s.ReconcileTags(ctx)
					time.Sleep(time.Millisecond)
					continue
				}

				tracker.acquire(res.Job)
				time.Sleep(time.Millisecond)
				tracker.release(res.Job)

				if err := s.MarkCompleted(ctx, res.Job); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
					return
				}
				mu.Lock()
				completed[res.Job.ID]++
				mu.Unlock()
			}
		}(c)
	}
	wg.Wait()

	require.Empty(t, errs, "claims must not fail under contention")
	assert.Empty(t, tracker.violations)
	require.Len(t, completed, total)
	for id, n := range completed {
		assert.True(t, ids[id])
		assert.Equal(t, 1, n, "job %s completed more than once", id)
	}

	size, err := clients[0].QueueSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
	_, err = clients[0].ReconcileTags(ctx)
	require.NoError(t, err)
	processing, err := clients[0].ProcessingJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, processing)
	active, err := clients[0].ActiveTags(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func testIndependentClientsSharedTagClaimedOnce(t *testing.T, clients []store.Store) {
	ctx := context.Background()
	for range 6 {
		enqueue(t, clients[0], "shared")
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		claimed []string
	)
	for _, c := range clients {
		wg.Add(1)
		go func(s store.Store) {
			defer wg.Done()
			res, err := s.Claim(ctx, store.Admission{})
			assert.NoError(t, err)
			if res.Job != nil {
				mu.Lock()
				claimed = append(claimed, res.Job.ID)
				mu.Unlock()
			}
		}(c)
	}
	wg.Wait()

	assert.Len(t, claimed, 1, "only one job holding a tag may be claimed")
	active, err := clients[len(clients)-1].ActiveTags(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"shared"}, active)
}
