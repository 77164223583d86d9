package worker

import "sync/atomic"

// State is the worker's lifecycle state
type State int32

const (
	StateRunning State = iota
	StatePaused
	StateShuttingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateShuttingDown:
		return "shutting_down"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// stateValue holds a State that many goroutines read and change
type stateValue struct {
	v atomic.Int32
}

func (s *stateValue) Load() State {
	return State(s.v.Load())
}

func (s *stateValue) Store(st State) {
	s.v.Store(int32(st))
}

func (s *stateValue) CompareAndSwap(from, to State) bool {
	return s.v.CompareAndSwap(int32(from), int32(to))
}
