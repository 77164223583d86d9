// Package memory implements store.Store inside a single process. It is used
// by tests and by single-process deployments that do not need a shared
// backend.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuongbtq/tagqueue/internal/domain"
	"github.com/cuongbtq/tagqueue/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store keeps the queue, records, processing set and active tags behind
// one mutex so each operation is atomic.
type Store struct {
	mu sync.RWMutex

	queue      []string
	all        []string
	records    map[string]*domain.Job
	processing map[string]struct{}
	activeTags domain.TagSet
	closed     bool
}

// New returns an empty store
func New() *Store {
	return &Store{
		records:    make(map[string]*domain.Job),
		processing: make(map[string]struct{}),
		activeTags: domain.NewTagSet(),
	}
}

// Enqueue appends the job to the queue and stores a snapshot of it
func (s *Store) Enqueue(_ context.Context, job *domain.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrStoreClosed
	}
	if _, exists := s.records[job.ID]; exists {
		return fmt.Errorf("%w: job %s already enqueued", domain.ErrInvalidArgument, job.ID)
	}

	s.queue = append(s.queue, job.ID)
	s.all = append(s.all, job.ID)
	s.records[job.ID] = job.Clone()
	return nil
}

// Peek returns the head of the queue without removing it
func (s *Store) Peek(_ context.Context) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, domain.ErrStoreClosed
	}
	if len(s.queue) == 0 {
		return nil, domain.ErrQueueEmpty
	}
	return s.snapshot(s.queue[0])
}

// Dequeue removes and returns the head of the queue
func (s *Store) Dequeue(_ context.Context) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domain.ErrStoreClosed
	}
	if len(s.queue) == 0 {
		return nil, domain.ErrQueueEmpty
	}

	id := s.queue[0]
	s.queue = s.queue[1:]
	return s.snapshot(id)
}

// Claim walks the queue under the write lock and claims the first
// admissible job
func (s *Store) Claim(_ context.Context, adm store.Admission) (store.ClaimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ClaimResult{}, domain.ErrStoreClosed
	}

	snapshot := append([]string(nil), s.queue...)
	plan, err := store.Walk(adm, s.activeTags, func(i int) (string, *domain.Job, bool, error) {
		if i >= len(snapshot) {
			return "", nil, false, nil
		}
		id := snapshot[i]
		return id, s.records[id], true, nil
	})
	if err != nil {
		return store.ClaimResult{}, err
	}

	for _, id := range plan.Orphans {
		s.removeQueued(id)
	}
	for _, id := range plan.Rejected {
		switch adm.Policy() {
		case store.RejectDiscard:
			s.removeQueued(id)
		case store.RejectRequeue:
			s.removeQueued(id)
			s.queue = append(s.queue, id)
		}
	}
	if plan.Claim == nil {
		return plan.Result(), nil
	}

	job := plan.Claim
	s.removeQueued(job.ID)
	if err := job.MarkProcessing(); err != nil {
		return store.ClaimResult{}, err
	}
	s.processing[job.ID] = struct{}{}
	s.activeTags.Add(job.Tags...)

	plan.Claim = job.Clone()
	return plan.Result(), nil
}

// GetJob returns a snapshot of the job record
func (s *Store) GetJob(_ context.Context, id string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, domain.ErrStoreClosed
	}
	return s.snapshot(id)
}

// MarkProcessing moves the job to processing and reserves its tags
func (s *Store) MarkProcessing(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrStoreClosed
	}
	if err := job.MarkProcessing(); err != nil {
		return err
	}

	s.processing[job.ID] = struct{}{}
	s.activeTags.Add(job.Tags...)
	s.records[job.ID] = job.Clone()
	return nil
}

// MarkCompleted finishes the job and releases tags no longer held
func (s *Store) MarkCompleted(_ context.Context, job *domain.Job) error {
	return s.finish(job, domain.StatusCompleted, "")
}

// MarkFailed finishes the job with an error and releases tags no longer held
func (s *Store) MarkFailed(_ context.Context, job *domain.Job, errMsg string) error {
	return s.finish(job, domain.StatusFailed, errMsg)
}

func (s *Store) finish(job *domain.Job, to domain.Status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrStoreClosed
	}
	if err := job.Transition(to, errMsg); err != nil {
		return err
	}

	delete(s.processing, job.ID)
	s.records[job.ID] = job.Clone()
	s.reconcile()
	return nil
}

// ReconcileTags drops active tags that no processing job holds
func (s *Store) ReconcileTags(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domain.ErrStoreClosed
	}
	return s.reconcile(), nil
}

func (s *Store) reconcile() []string {
	processing := make([]*domain.Job, 0, len(s.processing))
	for id := range s.processing {
		if job, ok := s.records[id]; ok {
			processing = append(processing, job)
		}
	}

	stale := store.UnheldTags(s.activeTags.Sorted(), processing)
	for _, t := range stale {
		delete(s.activeTags, t)
	}
	return stale
}

// QueueSize returns the number of queued jobs
func (s *Store) QueueSize(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, domain.ErrStoreClosed
	}
	return int64(len(s.queue)), nil
}

// ProcessingJobs returns the ids of processing jobs
func (s *Store) ProcessingJobs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, domain.ErrStoreClosed
	}

	ids := make([]string, 0, len(s.processing))
	for id := range s.processing {
		ids = append(ids, id)
	}
	return ids, nil
}

// ActiveTags returns the reserved tags in lexical order
func (s *Store) ActiveTags(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, domain.ErrStoreClosed
	}
	return s.activeTags.Sorted(), nil
}

// AllJobs returns every job ever enqueued, in enqueue order
func (s *Store) AllJobs(_ context.Context) ([]*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, domain.ErrStoreClosed
	}

	jobs := make([]*domain.Job, 0, len(s.all))
	for _, id := range s.all {
		if job, ok := s.records[id]; ok {
			jobs = append(jobs, job.Clone())
		}
	}
	return jobs, nil
}

// Ping fails only after Close
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return domain.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Calling it twice is harmless.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) snapshot(id string) (*domain.Job, error) {
	job, ok := s.records[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return job.Clone(), nil
}

func (s *Store) removeQueued(id string) {
	for i, queued := range s.queue {
		if queued == id {
			s.queue = append(s.queue[:i:i], s.queue[i+1:]...)
			return
		}
	}
}
