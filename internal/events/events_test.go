package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/tagqueue/internal/domain"
)

type fakeAMQP struct {
	routingKey  string
	body        []byte
	contentType string
	err         error
}

func (f *fakeAMQP) PublishWithRetry(_ context.Context, routingKey string, body []byte, contentType string) error {
	f.routingKey = routingKey
	f.body = body
	f.contentType = contentType
	return f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewEvent(t *testing.T) {
	job := domain.NewJob([]string{"hotel"}, nil)
	ev := NewEvent(JobEnqueued, job, "worker-1")

	assert.Equal(t, JobEnqueued, ev.Type)
	assert.Equal(t, job.ID, ev.JobID)
	assert.Equal(t, domain.StatusPending, ev.Status)
	assert.Equal(t, "worker-1", ev.WorkerID)
	assert.False(t, ev.OccurredAt.IsZero())

	job.Tags[0] = "changed"
	assert.Equal(t, []string{"hotel"}, ev.Tags)
}

func TestRabbitPublisher_Publish(t *testing.T) {
	tests := []struct {
		name    string
		prefix  string
		event   Type
		wantKey string
		amqpErr error
		wantErr bool
	}{
		{name: "default prefix", event: JobCompleted, wantKey: "tagqueue.job.completed"},
		{name: "custom prefix", prefix: "booking", event: JobFailed, wantKey: "booking.job.failed"},
		{name: "broker error", event: JobStarted, wantKey: "tagqueue.job.started", amqpErr: errors.New("channel closed"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeAMQP{err: tt.amqpErr}
			p := NewRabbitPublisher(fake, tt.prefix, discardLogger())

			job := domain.NewJob([]string{"a"}, nil)
			err := p.Publish(context.Background(), NewEvent(tt.event, job, "w"))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.amqpErr)
			} else {
				require.NoError(t, err)
			}

			assert.Equal(t, tt.wantKey, fake.routingKey)
			assert.Equal(t, "application/json", fake.contentType)

			var decoded map[string]any
			require.NoError(t, json.Unmarshal(fake.body, &decoded))
			assert.Equal(t, string(tt.event), decoded["type"])
			assert.Equal(t, job.ID, decoded["job_id"])
		})
	}
}

func TestRecorder(t *testing.T) {
	r := NewRecorder(nil)
	job := domain.NewJob(nil, nil)
	require.NoError(t, r.Publish(context.Background(), NewEvent(JobStarted, job, "")))
	require.NoError(t, r.Publish(context.Background(), NewEvent(JobCompleted, job, "")))

	assert.Equal(t, []Type{JobStarted, JobCompleted}, r.Types(job.ID))
	assert.Len(t, r.Events(), 2)

	failing := NewRecorder(errors.New("down"))
	assert.Error(t, failing.Publish(context.Background(), NewEvent(JobStarted, job, "")))
	assert.Empty(t, failing.Events())
}

func TestNoopPublisher(t *testing.T) {
	assert.NoError(t, NoopPublisher{}.Publish(context.Background(), Event{}))
}
