package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/tagqueue/internal/domain"
)

func queueOf(jobs ...*domain.Job) QueuedFunc {
	return func(i int) (string, *domain.Job, bool, error) {
		if i >= len(jobs) {
			return "", nil, false, nil
		}
		if jobs[i].ID == "orphan" {
			return "orphan", nil, true, nil
		}
		return jobs[i].ID, jobs[i], true, nil
	}
}

func TestWalk(t *testing.T) {
	hotel := domain.NewJob([]string{"hotel"}, nil)
	payment := domain.NewJob([]string{"payment"}, nil)
	flight := domain.NewJob([]string{"flight"}, nil)

	t.Run("empty queue", func(t *testing.T) {
		plan, err := Walk(Admission{}, domain.NewTagSet(), queueOf())
		require.NoError(t, err)
		assert.Nil(t, plan.Claim)
		assert.False(t, plan.Blocked)
	})

	t.Run("admits head", func(t *testing.T) {
		plan, err := Walk(Admission{}, domain.NewTagSet(), queueOf(hotel, payment))
		require.NoError(t, err)
		assert.Equal(t, hotel, plan.Claim)
	})

	t.Run("blocked head stops the walk", func(t *testing.T) {
		plan, err := Walk(Admission{}, domain.NewTagSet("hotel"), queueOf(hotel, payment))
		require.NoError(t, err)
		assert.Nil(t, plan.Claim)
		assert.True(t, plan.Blocked)
	})

	t.Run("rejected jobs are passed over", func(t *testing.T) {
		adm := Admission{AllowedTags: []string{"flight"}}
		plan, err := Walk(adm, domain.NewTagSet(), queueOf(hotel, payment, flight))
		require.NoError(t, err)
		assert.Equal(t, flight, plan.Claim)
		assert.Equal(t, []string{hotel.ID, payment.ID}, plan.Rejected)
	})

	t.Run("orphans are collected", func(t *testing.T) {
		orphan := &domain.Job{ID: "orphan"}
		plan, err := Walk(Admission{}, domain.NewTagSet(), queueOf(orphan, payment))
		require.NoError(t, err)
		assert.Equal(t, payment, plan.Claim)
		assert.Equal(t, []string{"orphan"}, plan.Orphans)
	})

	t.Run("entries already taken are dropped", func(t *testing.T) {
		taken := domain.NewJob([]string{"payment"}, nil)
		require.NoError(t, taken.MarkProcessing())
		plan, err := Walk(Admission{}, domain.NewTagSet(), queueOf(taken, hotel))
		require.NoError(t, err)
		assert.Equal(t, hotel, plan.Claim)
		assert.Equal(t, []string{taken.ID}, plan.Orphans)
	})

	t.Run("read error aborts", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := Walk(Admission{}, domain.NewTagSet(), func(int) (string, *domain.Job, bool, error) {
			return "", nil, false, boom
		})
		assert.ErrorIs(t, err, boom)
	})
}

func TestUnheldTags(t *testing.T) {
	a := domain.NewJob([]string{"hotel", "booking"}, nil)
	b := domain.NewJob([]string{"payment"}, nil)

	stale := UnheldTags([]string{"hotel", "booking", "payment", "flight"}, []*domain.Job{a, b})
	assert.Equal(t, []string{"flight"}, stale)

	assert.Equal(t, []string{"hotel"}, UnheldTags([]string{"hotel"}, nil))
	assert.Empty(t, UnheldTags(nil, []*domain.Job{a}))
}
