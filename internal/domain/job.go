package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Job is a unit of work carrying resource tags
type Job struct {
	ID          string         `json:"id"`
	Tags        []string       `json:"tags"`
	Status      Status         `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at"`
	Error       string         `json:"error"`
	Data        map[string]any `json:"data"`
}

// NewJob creates a pending job with a fresh id
func NewJob(tags []string, data map[string]any) *Job {
	if tags == nil {
		tags = []string{}
	}
	if data == nil {
		data = map[string]any{}
	}
	return &Job{
		ID:        uuid.New().String(),
		Tags:      tags,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
		Data:      data,
	}
}

// Validate checks that the job is well formed enough to be enqueued
func (j *Job) Validate() error {
	if j == nil {
		return fmt.Errorf("%w: job is nil", ErrInvalidArgument)
	}
	if j.ID == "" {
		return fmt.Errorf("%w: job id is required", ErrInvalidArgument)
	}
	if _, err := ParseStatus(string(j.Status)); err != nil {
		return err
	}
	if j.CreatedAt.IsZero() {
		return fmt.Errorf("%w: job created_at is required", ErrInvalidArgument)
	}
	for _, t := range j.Tags {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("%w: empty tag", ErrInvalidArgument)
		}
	}
	return nil
}

// Transition moves the job to status to and stamps the matching timestamp.
// errMsg is recorded only when to is StatusFailed.
func (j *Job) Transition(to Status, errMsg string) error {
	if !j.Status.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s (job %s)", ErrInvalidTransition, j.Status, to, j.ID)
	}

	now := time.Now().UTC()
	switch to {
	case StatusProcessing:
		j.StartedAt = &now
	case StatusCompleted:
		j.CompletedAt = &now
	case StatusFailed:
		j.CompletedAt = &now
		j.Error = errMsg
	}
	j.Status = to
	return nil
}

// MarkProcessing moves a pending job to processing
func (j *Job) MarkProcessing() error {
	return j.Transition(StatusProcessing, "")
}

// MarkCompleted moves a processing job to completed
func (j *Job) MarkCompleted() error {
	return j.Transition(StatusCompleted, "")
}

// MarkFailed moves a processing job to failed with the given message
func (j *Job) MarkFailed(errMsg string) error {
	return j.Transition(StatusFailed, errMsg)
}

// TagSet returns the job's tags as a set
func (j *Job) TagSet() TagSet {
	return NewTagSet(j.Tags...)
}

// Clone returns a deep copy. Data values are copied one level deep.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Tags = append([]string{}, j.Tags...)
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	c.Data = make(map[string]any, len(j.Data))
	for k, v := range j.Data {
		c.Data[k] = v
	}
	return &c
}
