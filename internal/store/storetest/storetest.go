// Package storetest holds the behaviour every store.Store backend must
// share. Backends call Run from their own tests.
package storetest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/tagqueue/internal/domain"
	"github.com/cuongbtq/tagqueue/internal/store"
)

// Factory returns a fresh, empty store for one subtest
type Factory func(t *testing.T) store.Store

// Run executes the conformance suite against stores built by newStore
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"EnqueuePeekDequeue", testEnqueuePeekDequeue},
		{"EnqueueRejectsMalformedJob", testEnqueueRejectsMalformedJob},
		{"DataPassesThroughUnchanged", testDataPassesThroughUnchanged},
		{"GetJobNotFound", testGetJobNotFound},
		{"ClaimFIFO", testClaimFIFO},
		{"ClaimTagExclusion", testClaimTagExclusion},
		{"ClaimBlockedHeadKeepsOrder", testClaimBlockedHeadKeepsOrder},
		{"HotelBookingScenario", testHotelBookingScenario},
		{"TagReconciliation", testTagReconciliation},
		{"ReconcileTagsDropsStaleTags", testReconcileTagsDropsStaleTags},
		{"RejectDiscard", testRejectDiscard},
		{"RejectRequeue", testRejectRequeue},
		{"RejectSkip", testRejectSkip},
		{"DequeueThenMark", testDequeueThenMark},
		{"MonotonicStatus", testMonotonicStatus},
		{"AllJobsKeepsHistory", testAllJobsKeepsHistory},
		{"ConcurrentClaimsSharedTag", testConcurrentClaimsSharedTag},
		{"ConcurrentClaimsDisjointTags", testConcurrentClaimsDisjointTags},
		{"CloseIsIdempotent", testCloseIsIdempotent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			tt.fn(t, s)
		})
	}
}

func enqueue(t *testing.T, s store.Store, tags ...string) *domain.Job {
	t.Helper()
	job := domain.NewJob(tags, map[string]any{"n": len(tags)})
	require.NoError(t, s.Enqueue(context.Background(), job))
	return job
}

func claim(t *testing.T, s store.Store, adm store.Admission) store.ClaimResult {
	t.Helper()
	res, err := s.Claim(context.Background(), adm)
	require.NoError(t, err)
	return res
}

func testEnqueuePeekDequeue(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.Peek(ctx)
	assert.ErrorIs(t, err, domain.ErrQueueEmpty)
	_, err = s.Dequeue(ctx)
	assert.ErrorIs(t, err, domain.ErrQueueEmpty)

	a := enqueue(t, s, "a")
	b := enqueue(t, s, "b")

	size, err := s.QueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), size)

	head, err := s.Peek(ctx)
	require.NoError(t, err)
	assert.Equal(t, a.ID, head.ID)
	assert.Equal(t, domain.StatusPending, head.Status)

	size, err = s.QueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), size, "peek must not remove")

	first, err := s.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, a.ID, first.ID)
	assertSameData(t, a.Data, first.Data)

	second, err := s.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, b.ID, second.ID)

	size, err = s.QueueSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
}

// assertSameData compares payloads by their JSON encoding, since backends
// may hand numbers back as json.Number.
func assertSameData(t *testing.T, want, got map[string]any) {
	t.Helper()
	w, err := json.Marshal(want)
	require.NoError(t, err)
	g, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, string(w), string(g))
}

func testDataPassesThroughUnchanged(t *testing.T, s store.Store) {
	ctx := context.Background()
	data := map[string]any{
		"id":     json.Number("9007199254740993"),
		"amount": json.Number("10.50"),
		"hotel":  map[string]any{"rooms": []any{json.Number("101"), json.Number("102")}},
		"note":   "late check-in",
		"paid":   false,
	}
	job := domain.NewJob([]string{"hotel"}, data)
	require.NoError(t, s.Enqueue(ctx, job))

	stored, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assertSameData(t, data, stored.Data)

	raw, err := json.Marshal(stored.Data)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"id":9007199254740993`)

	res := claim(t, s, store.Admission{})
	require.NotNil(t, res.Job)
	require.NoError(t, s.MarkCompleted(ctx, res.Job))

	done, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assertSameData(t, data, done.Data)
}

func testEnqueueRejectsMalformedJob(t *testing.T, s store.Store) {
	ctx := context.Background()

	err := s.Enqueue(ctx, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	bad := domain.NewJob([]string{"a"}, nil)
	bad.ID = ""
	err = s.Enqueue(ctx, bad)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	size, err := s.QueueSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)

	all, err := s.AllJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func testGetJobNotFound(t *testing.T, s store.Store) {
	_, err := s.GetJob(context.Background(), "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func testClaimFIFO(t *testing.T, s store.Store) {
	a := enqueue(t, s, "a")
	b := enqueue(t, s, "b")
	c := enqueue(t, s, "c")

	var order []string
	for range 3 {
		res := claim(t, s, store.Admission{})
		require.NotNil(t, res.Job)
		assert.Equal(t, domain.StatusProcessing, res.Job.Status)
		assert.NotNil(t, res.Job.StartedAt)
		order = append(order, res.Job.ID)
	}
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, order)

	res := claim(t, s, store.Admission{})
	assert.Nil(t, res.Job)
	assert.False(t, res.Blocked)
}

func testClaimTagExclusion(t *testing.T, s store.Store) {
	ctx := context.Background()
	first := enqueue(t, s, "hotel", "booking")
	second := enqueue(t, s, "hotel", "payment")

	res := claim(t, s, store.Admission{})
	require.NotNil(t, res.Job)
	assert.Equal(t, first.ID, res.Job.ID)

	blocked := claim(t, s, store.Admission{})
	assert.Nil(t, blocked.Job)
	assert.True(t, blocked.Blocked)

	stored, err := s.GetJob(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)

	require.NoError(t, s.MarkCompleted(ctx, res.Job))

	next := claim(t, s, store.Admission{})
	require.NotNil(t, next.Job)
	assert.Equal(t, second.ID, next.Job.ID)
}

func testClaimBlockedHeadKeepsOrder(t *testing.T, s store.Store) {
	ctx := context.Background()
	enqueue(t, s, "hotel")
	blocked := enqueue(t, s, "hotel")
	enqueue(t, s, "flight")

	require.NotNil(t, claim(t, s, store.Admission{}).Job)

	res := claim(t, s, store.Admission{})
	assert.Nil(t, res.Job, "a job behind a blocked head must not be admitted")
	assert.True(t, res.Blocked)

	head, err := s.Peek(ctx)
	require.NoError(t, err)
	assert.Equal(t, blocked.ID, head.ID)

	size, err := s.QueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), size)
}

func testHotelBookingScenario(t *testing.T, s store.Store) {
	ctx := context.Background()
	enqueue(t, s, "hotel", "booking")
	second := enqueue(t, s, "hotel", "payment")

	require.NotNil(t, claim(t, s, store.Admission{}).Job)

	active, err := s.ActiveTags(ctx)
	require.NoError(t, err)
	assert.Subset(t, active, []string{"hotel", "booking"})
	assert.True(t, domain.NewTagSet(active...).Intersects(second.Tags))
}

func testTagReconciliation(t *testing.T, s store.Store) {
	ctx := context.Background()
	enqueue(t, s, "hotel")
	enqueue(t, s, "flight")

	hotel := claim(t, s, store.Admission{}).Job
	require.NotNil(t, hotel)
	flight := claim(t, s, store.Admission{}).Job
	require.NotNil(t, flight)

	require.NoError(t, s.MarkCompleted(ctx, hotel))

	active, err := s.ActiveTags(ctx)
	require.NoError(t, err)
	assert.NotContains(t, active, "hotel")
	assert.Contains(t, active, "flight")

	processing, err := s.ProcessingJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{flight.ID}, processing)

	require.NoError(t, s.MarkFailed(ctx, flight, "boom"))

	active, err = s.ActiveTags(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	stored, err := s.GetJob(ctx, flight.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Equal(t, "boom", stored.Error)
	assert.NotNil(t, stored.CompletedAt)
}

func testReconcileTagsDropsStaleTags(t *testing.T, s store.Store) {
	ctx := context.Background()
	enqueue(t, s, "hotel")
	enqueue(t, s, "hotel")

	job, err := s.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, s.MarkProcessing(ctx, job))

	removed, err := s.ReconcileTags(ctx)
	require.NoError(t, err)
	assert.Empty(t, removed, "held tags stay")

	require.NoError(t, s.MarkCompleted(ctx, job))
	removed, err = s.ReconcileTags(ctx)
	require.NoError(t, err)
	assert.Empty(t, removed, "completion already reconciled")

	active, err := s.ActiveTags(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func testRejectDiscard(t *testing.T, s store.Store) {
	ctx := context.Background()
	rejected := enqueue(t, s, "hotel")
	wanted := enqueue(t, s, "payment")

	res := claim(t, s, store.Admission{AllowedTags: []string{"payment"}, RejectPolicy: store.RejectDiscard})
	require.NotNil(t, res.Job)
	assert.Equal(t, wanted.ID, res.Job.ID)
	assert.Equal(t, []string{rejected.ID}, res.Rejected)

	size, err := s.QueueSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, size, "discarded job leaves the queue")

	stored, err := s.GetJob(ctx, rejected.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status, "discarded record stays queryable")
}

func testRejectRequeue(t *testing.T, s store.Store) {
	ctx := context.Background()
	rejected := enqueue(t, s, "hotel")
	wanted := enqueue(t, s, "payment")
	tail := enqueue(t, s, "payment")

	res := claim(t, s, store.Admission{AllowedTags: []string{"payment"}, RejectPolicy: store.RejectRequeue})
	require.NotNil(t, res.Job)
	assert.Equal(t, wanted.ID, res.Job.ID)
	assert.Equal(t, []string{rejected.ID}, res.Rejected)

	head, err := s.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, tail.ID, head.ID)

	head, err = s.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, rejected.ID, head.ID, "rejected job moved to the tail")

	only := enqueue(t, s, "hotel")
	res = claim(t, s, store.Admission{AllowedTags: []string{"payment"}, RejectPolicy: store.RejectRequeue})
	assert.Nil(t, res.Job)
	assert.Equal(t, []string{only.ID}, res.Rejected)
}

func testRejectSkip(t *testing.T, s store.Store) {
	ctx := context.Background()
	skipped := enqueue(t, s, "hotel")
	wanted := enqueue(t, s, "payment")

	res := claim(t, s, store.Admission{AllowedTags: []string{"payment"}, RejectPolicy: store.RejectSkip})
	require.NotNil(t, res.Job)
	assert.Equal(t, wanted.ID, res.Job.ID)

	head, err := s.Peek(ctx)
	require.NoError(t, err)
	assert.Equal(t, skipped.ID, head.ID, "skipped job keeps its place")

	other := claim(t, s, store.Admission{AllowedTags: []string{"hotel"}})
	require.NotNil(t, other.Job)
	assert.Equal(t, skipped.ID, other.Job.ID)
}

func testDequeueThenMark(t *testing.T, s store.Store) {
	ctx := context.Background()
	enqueue(t, s, "hotel", "booking")

	job, err := s.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, s.MarkProcessing(ctx, job))

	stored, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, stored.Status)
	assert.NotNil(t, stored.StartedAt)

	active, err := s.ActiveTags(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"hotel", "booking"}, active)

	processing, err := s.ProcessingJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{job.ID}, processing)

	require.NoError(t, s.MarkCompleted(ctx, job))

	stored, err = s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.NotNil(t, stored.CompletedAt)

	processing, err = s.ProcessingJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, processing)
}

func testMonotonicStatus(t *testing.T, s store.Store) {
	ctx := context.Background()
	enqueue(t, s, "a")

	job := claim(t, s, store.Admission{}).Job
	require.NotNil(t, job)
	require.NoError(t, s.MarkCompleted(ctx, job))

	assert.ErrorIs(t, s.MarkFailed(ctx, job, "late"), domain.ErrInvalidTransition)
	assert.ErrorIs(t, s.MarkProcessing(ctx, job), domain.ErrInvalidTransition)
	assert.ErrorIs(t, s.MarkCompleted(ctx, job), domain.ErrInvalidTransition)

	stored, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.Empty(t, stored.Error)
}

func testAllJobsKeepsHistory(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := enqueue(t, s, "a")
	b := enqueue(t, s, "b")
	c := enqueue(t, s, "c")

	job := claim(t, s, store.Admission{}).Job
	require.NotNil(t, job)
	require.NoError(t, s.MarkCompleted(ctx, job))

	all, err := s.AllJobs(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, []string{all[0].ID, all[1].ID, all[2].ID})
	assert.Equal(t, domain.StatusCompleted, all[0].Status)
	assert.Equal(t, domain.StatusPending, all[1].Status)
}

func testConcurrentClaimsSharedTag(t *testing.T, s store.Store) {
	for range 5 {
		enqueue(t, s, "shared")
	}

	claimed := concurrentClaims(t, s, 8)
	assert.Len(t, claimed, 1, "only one job holding a tag may be claimed")
}

func testConcurrentClaimsDisjointTags(t *testing.T, s store.Store) {
	ids := make(map[string]bool)
	for i := range 6 {
		ids[enqueue(t, s, string(rune('a'+i))).ID] = true
	}

	seen := make(map[string]int)
	for len(seen) < len(ids) {
		batch := concurrentClaims(t, s, 4)
		if len(batch) == 0 {
			break
		}
		for _, id := range batch {
			seen[id]++
		}
	}

	require.Len(t, seen, len(ids))
	for id, n := range seen {
		assert.True(t, ids[id])
		assert.Equal(t, 1, n, "job %s claimed more than once", id)
	}
}

func concurrentClaims(t *testing.T, s store.Store, workers int) []string {
	t.Helper()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		claimed []string
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.Claim(context.Background(), store.Admission{})
			assert.NoError(t, err)
			if res.Job != nil {
				mu.Lock()
				claimed = append(claimed, res.Job.ID)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return claimed
}

func testCloseIsIdempotent(t *testing.T, s store.Store) {
	require.NoError(t, s.Close())
	assert.NotPanics(t, func() { _ = s.Close() })
}
