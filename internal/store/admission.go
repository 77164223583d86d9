package store

import (
	"fmt"

	"github.com/cuongbtq/tagqueue/internal/domain"
)

// RejectPolicy decides what happens to a queued job whose tags miss a
// worker's allow-list.
type RejectPolicy string

const (
	// RejectDiscard removes the job from the queue without running it
	RejectDiscard RejectPolicy = "discard"
	// RejectRequeue moves the job to the tail of the queue
	RejectRequeue RejectPolicy = "requeue"
	// RejectSkip leaves the job in place and looks at the next one
	RejectSkip RejectPolicy = "skip"
)

// ParseRejectPolicy converts a config value into a RejectPolicy.
// An empty value selects RejectDiscard.
func ParseRejectPolicy(s string) (RejectPolicy, error) {
	switch p := RejectPolicy(s); p {
	case "":
		return RejectDiscard, nil
	case RejectDiscard, RejectRequeue, RejectSkip:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown reject policy %q", domain.ErrInvalidArgument, s)
	}
}

// Admission carries a worker's admission rules into Claim
type Admission struct {
	AllowedTags  []string
	RejectPolicy RejectPolicy
}

// Verdict is the outcome of evaluating one queued job
type Verdict int

const (
	// Admit claims the job
	Admit Verdict = iota
	// Block stops the walk; the job keeps its place
	Block
	// Reject applies the RejectPolicy and continues
	Reject
)

// Evaluate decides what to do with job given the current active tags
func (a Admission) Evaluate(job *domain.Job, active domain.TagSet) Verdict {
	if len(a.AllowedTags) > 0 && !domain.NewTagSet(a.AllowedTags...).Intersects(job.Tags) {
		return Reject
	}
	if active.Intersects(job.Tags) {
		return Block
	}
	return Admit
}

// Policy returns the configured policy, defaulting to RejectDiscard
func (a Admission) Policy() RejectPolicy {
	if a.RejectPolicy == "" {
		return RejectDiscard
	}
	return a.RejectPolicy
}

// ClaimResult reports the outcome of one Claim walk
type ClaimResult struct {
	// Job is the claimed job, nil when nothing was admissible
	Job *domain.Job
	// Rejected lists ids the allow-list turned away during the walk
	Rejected []string
	// Blocked is true when the walk stopped on a tag conflict
	Blocked bool
}
