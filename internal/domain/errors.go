package domain

import "errors"

var (
	// ErrInvalidArgument is returned when input to a store or handler is malformed
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrJobNotFound is returned when a job cannot be found in the store
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when a status change is not in the transition table
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrQueueEmpty is returned by Peek and Dequeue when no job is waiting
	ErrQueueEmpty = errors.New("queue is empty")

	// ErrStoreClosed is returned when a store is used after Close
	ErrStoreClosed = errors.New("store is closed")
)

// ExecutionError wraps a failure raised by a job body
type ExecutionError struct {
	JobID string
	Err   error
}

func (e *ExecutionError) Error() string {
	return "job " + e.JobID + " failed: " + e.Err.Error()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// NewExecutionError creates a new execution error
func NewExecutionError(jobID string, err error) error {
	return &ExecutionError{JobID: jobID, Err: err}
}
