package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJob(t *testing.T) {
	job := NewJob([]string{"hotel", "booking"}, map[string]any{"amount": 100})

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, StatusPending, job.Status)
	assert.Equal(t, []string{"hotel", "booking"}, job.Tags)
	assert.False(t, job.CreatedAt.IsZero())
	assert.Nil(t, job.StartedAt)
	assert.Nil(t, job.CompletedAt)
	assert.Empty(t, job.Error)
	require.NoError(t, job.Validate())

	other := NewJob(nil, nil)
	assert.NotEqual(t, job.ID, other.ID)
	assert.NotNil(t, other.Tags)
	assert.NotNil(t, other.Data)
}

func TestJob_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(j *Job)
		wantErr bool
	}{
		{name: "valid job", mutate: func(j *Job) {}},
		{name: "missing id", mutate: func(j *Job) { j.ID = "" }, wantErr: true},
		{name: "unknown status", mutate: func(j *Job) { j.Status = "queued" }, wantErr: true},
		{name: "zero created_at", mutate: func(j *Job) { j.CreatedAt = time.Time{} }, wantErr: true},
		{name: "blank tag", mutate: func(j *Job) { j.Tags = []string{"ok", " "} }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewJob([]string{"a"}, nil)
			tt.mutate(job)

			err := job.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidArgument)
			} else {
				require.NoError(t, err)
			}
		})
	}

	var nilJob *Job
	assert.ErrorIs(t, nilJob.Validate(), ErrInvalidArgument)
}

func TestJob_Transition(t *testing.T) {
	t.Run("happy path to completed", func(t *testing.T) {
		job := NewJob([]string{"a"}, nil)

		require.NoError(t, job.MarkProcessing())
		assert.Equal(t, StatusProcessing, job.Status)
		require.NotNil(t, job.StartedAt)

		require.NoError(t, job.MarkCompleted())
		assert.Equal(t, StatusCompleted, job.Status)
		require.NotNil(t, job.CompletedAt)
		assert.Empty(t, job.Error)
	})

	t.Run("failure records error", func(t *testing.T) {
		job := NewJob(nil, nil)

		require.NoError(t, job.MarkProcessing())
		require.NoError(t, job.MarkFailed("boom"))
		assert.Equal(t, StatusFailed, job.Status)
		assert.Equal(t, "boom", job.Error)
		require.NotNil(t, job.CompletedAt)
	})

	t.Run("pending cannot complete directly", func(t *testing.T) {
		job := NewJob(nil, nil)

		err := job.MarkCompleted()
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, StatusPending, job.Status)
		assert.Nil(t, job.CompletedAt)
	})

	t.Run("started_at set exactly once", func(t *testing.T) {
		job := NewJob(nil, nil)
		require.NoError(t, job.MarkProcessing())
		started := *job.StartedAt

		assert.ErrorIs(t, job.MarkProcessing(), ErrInvalidTransition)
		assert.Equal(t, started, *job.StartedAt)
	})
}

func TestJob_TerminalStatusIsFinal(t *testing.T) {
	for _, terminal := range []Status{StatusCompleted, StatusFailed} {
		t.Run(string(terminal), func(t *testing.T) {
			job := NewJob(nil, nil)
			require.NoError(t, job.MarkProcessing())
			require.NoError(t, job.Transition(terminal, "x"))
			completed := *job.CompletedAt

			for _, to := range []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed} {
				err := job.Transition(to, "again")
				assert.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", terminal, to)
			}
			assert.Equal(t, terminal, job.Status)
			assert.Equal(t, completed, *job.CompletedAt)
			assert.True(t, job.Status.IsTerminal())
		})
	}
}

func TestJob_JSONRoundTrip(t *testing.T) {
	job := NewJob([]string{"hotel", "hotel", "payment"}, map[string]any{"amount": float64(100), "currency": "EUR"})
	require.NoError(t, job.MarkProcessing())
	require.NoError(t, job.MarkFailed("card declined"))

	raw, err := json.Marshal(job)
	require.NoError(t, err)

	var decoded Job
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, job.ID, decoded.ID)
	assert.Equal(t, job.Tags, decoded.Tags)
	assert.Equal(t, job.Status, decoded.Status)
	assert.True(t, job.CreatedAt.Equal(decoded.CreatedAt))
	assert.True(t, job.StartedAt.Equal(*decoded.StartedAt))
	assert.True(t, job.CompletedAt.Equal(*decoded.CompletedAt))
	assert.Equal(t, job.Error, decoded.Error)
	assert.Equal(t, job.Data, decoded.Data)
}

func TestJob_JSONPendingShape(t *testing.T) {
	raw, err := json.Marshal(NewJob([]string{"test"}, nil))
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))

	assert.Equal(t, "pending", fields["status"])
	assert.Nil(t, fields["started_at"])
	assert.Nil(t, fields["completed_at"])
	assert.Contains(t, fields, "error")
	assert.Nil(t, fields["error"])
}

func TestJob_UnmarshalRejectsUnknownStatus(t *testing.T) {
	var job Job
	err := json.Unmarshal([]byte(`{"id":"x","status":"exploded","created_at":"2024-01-01T00:00:00Z"}`), &job)
	require.Error(t, err)
}

func TestJob_Clone(t *testing.T) {
	job := NewJob([]string{"a"}, map[string]any{"k": "v"})
	require.NoError(t, job.MarkProcessing())

	clone := job.Clone()
	clone.Tags[0] = "changed"
	clone.Data["k"] = "changed"
	*clone.StartedAt = clone.StartedAt.Add(1)

	assert.Equal(t, "a", job.Tags[0])
	assert.Equal(t, "v", job.Data["k"])
	assert.NotEqual(t, *job.StartedAt, *clone.StartedAt)
}
