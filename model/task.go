package model

import (
	"sync"
	"time"

	"github.com/actflow/actflow/internal/clock"
)

// TaskState is the lifecycle of a single (process, node) invocation.
type TaskState string

const (
	TaskStatePending   TaskState = "pending"
	TaskStateRunning   TaskState = "running"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
	TaskStateSkipped   TaskState = "skipped"
)

// Task is the execution record for one node within one process. A node
// executes at most once per process: there is no re-run without a new
// Process.
type Task struct {
	ProcessID  string          `json:"processId"`
	NodeID     string          `json:"nodeId"`
	State      TaskState       `json:"state"`
	Output     interface{}     `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	StartedAt  *time.Time      `json:"startedAt,omitempty"`
	FinishedAt *time.Time      `json:"finishedAt,omitempty"`

	mux sync.RWMutex `json:"-"`
}

// NewTask creates a Pending task for the given process/node pair.
func NewTask(processID, nodeID string) *Task {
	return &Task{ProcessID: processID, NodeID: nodeID, State: TaskStatePending}
}

// Start transitions the task to Running.
func (t *Task) Start() {
	t.mux.Lock()
	defer t.mux.Unlock()
	now := clock.Now()
	t.StartedAt = &now
	t.State = TaskStateRunning
}

// Complete transitions the task to Completed and records its output.
func (t *Task) Complete(output interface{}) {
	t.mux.Lock()
	defer t.mux.Unlock()
	now := clock.Now()
	t.FinishedAt = &now
	t.Output = output
	t.State = TaskStateCompleted
}

// Fail transitions the task to Failed and records the error string.
func (t *Task) Fail(err error) {
	t.mux.Lock()
	defer t.mux.Unlock()
	now := clock.Now()
	t.FinishedAt = &now
	if err != nil {
		t.Error = err.Error()
	}
	t.State = TaskStateFailed
}

// Skip transitions the task directly to Skipped without handler invocation,
// used when every incoming edge of the node is dead (§4.5 diamond
// reconvergence / dead-branch propagation).
func (t *Task) Skip() {
	t.mux.Lock()
	defer t.mux.Unlock()
	now := clock.Now()
	t.FinishedAt = &now
	t.State = TaskStateSkipped
}

// Snapshot returns a value copy safe to hand to readers outside the
// single-writer reactor (e.g. Store persistence, inspection APIs).
func (t *Task) Snapshot() Task {
	t.mux.RLock()
	defer t.mux.RUnlock()
	clone := *t
	clone.mux = sync.RWMutex{}
	return clone
}

// IsTerminal reports whether State will never change again.
func (t *Task) IsTerminal() bool {
	t.mux.RLock()
	defer t.mux.RUnlock()
	switch t.State {
	case TaskStateCompleted, TaskStateFailed, TaskStateSkipped:
		return true
	default:
		return false
	}
}
