package attempt

import (
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle stage of an attempt.
type State int

const (
	Queued State = iota
	Claimed
	Resolving
	Compiling
	Running
	Completed
	Failed
	TimedOut
)

var stateNames = map[State]string{
	Queued:    "queued",
	Claimed:   "claimed",
	Resolving: "resolving",
	Compiling: "compiling",
	Running:   "running",
	Completed: "completed",
	Failed:    "failed",
	TimedOut:  "timed_out",
}

func (state State) String() string {
	if name, ok := stateNames[state]; ok {
		return name
	}

	return "unknown"
}

// Terminal reports whether no further transition can leave state.
func (state State) Terminal() bool {
	return state == Completed || state == Failed || state == TimedOut
}

// Status is a snapshot of an in-flight attempt.
type Status struct {
	Since time.Time `json:"since"`
	ID    string    `json:"id"`
	State string    `json:"state"`
}

// execution is the live record of one claimed attempt, owned by the goroutine executing it.
type execution struct {
	since    time.Time
	cancel   func(cause error)
	id       string
	mu       sync.Mutex
	state    State
	reported atomic.Bool
}

func newExecution(id string, cancel func(cause error)) *execution {
	return &execution{id: id, cancel: cancel, state: Claimed, since: time.Now()}
}

// transition moves to state unless the attempt already reached a terminal state.
func (exec *execution) transition(state State) bool {
	exec.mu.Lock()
	defer exec.mu.Unlock()

	if exec.state.Terminal() {
		return false
	}

	exec.state = state
	exec.since = time.Now()

	return true
}

// claimReport returns true to exactly one caller, the one that sends the terminal report.
func (exec *execution) claimReport() bool {
	return exec.reported.CompareAndSwap(false, true)
}

func (exec *execution) status() Status {
	exec.mu.Lock()
	defer exec.mu.Unlock()

	return Status{ID: exec.id, State: exec.state.String(), Since: exec.since}
}
