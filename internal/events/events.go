// Package events publishes job lifecycle notifications. Publishing is best
// effort: callers log failures and never let them affect job state.
package events

import (
	"context"
	"time"

	"github.com/cuongbtq/tagqueue/internal/domain"
)

// Type names a lifecycle event
type Type string

const (
	JobEnqueued  Type = "job.enqueued"
	JobStarted   Type = "job.started"
	JobCompleted Type = "job.completed"
	JobFailed    Type = "job.failed"
	JobRejected  Type = "job.rejected"
)

// Event is the JSON body published for every lifecycle change
type Event struct {
	Type       Type          `json:"type"`
	JobID      string        `json:"job_id"`
	Tags       []string      `json:"tags"`
	Status     domain.Status `json:"status"`
	Error      string        `json:"error,omitempty"`
	WorkerID   string        `json:"worker_id,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// NewEvent builds an event from the job's current state
func NewEvent(t Type, job *domain.Job, workerID string) Event {
	return Event{
		Type:       t,
		JobID:      job.ID,
		Tags:       append([]string{}, job.Tags...),
		Status:     job.Status,
		Error:      job.Error,
		WorkerID:   workerID,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher delivers events somewhere
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NoopPublisher drops every event
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
