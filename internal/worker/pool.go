package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

var (
	// ErrPoolFull is returned by Submit when the task queue has no room
	ErrPoolFull = errors.New("worker pool queue is full")

	// ErrPoolClosed is returned by Submit after Shutdown
	ErrPoolClosed = errors.New("worker pool is closed")

	// ErrPoolShutdownTimeout is returned when running tasks outlive the shutdown timeout
	ErrPoolShutdownTimeout = errors.New("worker pool shutdown timed out")
)

// Task is a unit of work run by the pool
type Task func() error

// Handle tracks one submitted task
type Handle struct {
	done chan struct{}
	err  error
}

// Done is closed when the task has returned or panicked
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the task's error. It is only meaningful after Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

type poolTask struct {
	fn     Task
	handle *Handle
}

// Pool runs tasks on a fixed number of goroutines fed by a bounded queue.
// Submit never blocks: a full queue rejects the task.
type Pool struct {
	size   int
	tasks  chan poolTask
	logger *slog.Logger
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPool spawns size goroutines with a task queue of twice that capacity
func NewPool(size int, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	p := &Pool{
		size:   size,
		tasks:  make(chan poolTask, size*2),
		logger: logger,
	}

	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.workerLoop(i)
	}

	p.logger.Debug("Worker pool spawned",
		slog.Int("size", size),
		slog.Int("queue_capacity", cap(p.tasks)),
	)
	return p
}

// Size returns the number of pool goroutines
func (p *Pool) Size() int {
	return p.size
}

// Submit queues fn and returns a handle to wait on
func (p *Pool) Submit(fn Task) (*Handle, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	h := &Handle{done: make(chan struct{})}
	select {
	case p.tasks <- poolTask{fn: fn, handle: h}:
		return h, nil
	default:
		return nil, ErrPoolFull
	}
}

func (p *Pool) workerLoop(n int) {
	defer p.wg.Done()

	for t := range p.tasks {
		p.run(n, t)
	}
}

func (p *Pool) run(n int, t poolTask) {
	defer close(t.handle.done)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Task panicked",
				slog.Int("goroutine", n),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			t.handle.err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	t.handle.err = t.fn()
}

// Shutdown stops accepting tasks, lets queued tasks finish and waits up to
// timeout for the goroutines to exit. It is safe to call more than once.
func (p *Pool) Shutdown(timeout time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		p.logger.Debug("Worker pool stopped")
		return nil
	case <-timer.C:
		return ErrPoolShutdownTimeout
	}
}
