package store

import "github.com/cuongbtq/tagqueue/internal/domain"

// QueuedFunc returns the queue entry at position i of a queue snapshot.
// ok is false past the end of the queue. A nil job with ok true marks an
// id whose record is missing.
type QueuedFunc func(i int) (id string, job *domain.Job, ok bool, err error)

// Plan is the set of queue mutations a claim walk decided on
type Plan struct {
	Claim    *domain.Job
	Rejected []string
	Orphans  []string
	Blocked  bool
}

// Walk evaluates queued jobs from the head until one is admitted, one is
// blocked by an active tag, or the queue is exhausted. Every entry is
// visited at most once, so requeued jobs are not seen again in the same
// walk.
func Walk(adm Admission, active domain.TagSet, next QueuedFunc) (Plan, error) {
	var plan Plan
	for i := 0; ; i++ {
		id, job, ok, err := next(i)
		if err != nil {
			return Plan{}, err
		}
		if !ok {
			return plan, nil
		}
		// A queued id whose record is gone or no longer pending was already
		// taken by another claim; it is dropped, never admitted.
		if job == nil || job.Status != domain.StatusPending {
			plan.Orphans = append(plan.Orphans, id)
			continue
		}

		switch adm.Evaluate(job, active) {
		case Reject:
			plan.Rejected = append(plan.Rejected, id)
		case Block:
			plan.Blocked = true
			return plan, nil
		case Admit:
			plan.Claim = job
			return plan, nil
		}
	}
}

// Result converts the plan into what Claim reports to the caller
func (p Plan) Result() ClaimResult {
	return ClaimResult{Job: p.Claim, Rejected: p.Rejected, Blocked: p.Blocked}
}

// UnheldTags returns the active tags that no processing job holds
func UnheldTags(active []string, processing []*domain.Job) []string {
	held := domain.NewTagSet()
	for _, j := range processing {
		held = held.Union(j.TagSet())
	}

	var stale []string
	for _, t := range active {
		if !held.Has(t) {
			stale = append(stale, t)
		}
	}
	return stale
}
