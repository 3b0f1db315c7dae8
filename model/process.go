package model

import (
	"sync"
	"time"

	"github.com/actflow/actflow/internal/clock"
)

// ProcessState is the lifecycle of a live workflow instance.
type ProcessState string

const (
	ProcessStatePending   ProcessState = "pending"
	ProcessStateRunning   ProcessState = "running"
	ProcessStateCompleted ProcessState = "completed"
	ProcessStateFailed    ProcessState = "failed"
	ProcessStateCancelled ProcessState = "cancelled"
)

// Process is a live instance of a deployed WorkflowModel. It holds mutable
// execution state; per §4.4 and §5 mutations are routed through the
// Dispatcher's single-writer discipline, so Process exposes both mutating
// methods (called only by the Dispatcher's reactor for this process) and a
// Snapshot for any other caller.
type Process struct {
	ID         string                 `json:"id"`
	WorkflowID string                 `json:"workflowId"`
	State      ProcessState           `json:"state"`
	Outputs    map[string]interface{} `json:"outputs"`
	Tasks      map[string]*Task       `json:"tasks"`
	Env        map[string]string      `json:"env,omitempty"`
	Error      string                 `json:"error,omitempty"`
	CreatedAt  time.Time              `json:"createdAt"`
	UpdatedAt  time.Time              `json:"updatedAt"`

	mux sync.RWMutex `json:"-"`
}

// NewProcess builds a Pending process for the given workflow id with the
// supplied resolved environment (workflow env overlaid by runtime
// overrides, per §3).
func NewProcess(id, workflowID string, env map[string]string) *Process {
	now := clock.Now()
	return &Process{
		ID:         id,
		WorkflowID: workflowID,
		State:      ProcessStatePending,
		Outputs:    map[string]interface{}{},
		Tasks:      map[string]*Task{},
		Env:        env,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Task returns the existing task for nodeID, or nil.
func (p *Process) Task(nodeID string) *Task {
	p.mux.RLock()
	defer p.mux.RUnlock()
	return p.Tasks[nodeID]
}

// EnsureTask returns the existing task for nodeID, creating and registering
// a new Pending one if absent. The boolean result reports whether a task
// already existed — the Dispatcher uses this for the NodeReady idempotence
// check in §4.5 step 2.
func (p *Process) EnsureTask(nodeID string) (*Task, bool) {
	p.mux.Lock()
	defer p.mux.Unlock()
	if t, ok := p.Tasks[nodeID]; ok {
		return t, true
	}
	t := NewTask(p.ID, nodeID)
	p.Tasks[nodeID] = t
	p.touch()
	return t, false
}

// SetOutput records the output of a Completed node.
func (p *Process) SetOutput(nodeID string, output interface{}) {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.Outputs[nodeID] = output
	p.touch()
}

// OutputsSnapshot returns a shallow copy of the outputs map as it stands at
// the call instant — the read-only snapshot handlers receive per §5.
func (p *Process) OutputsSnapshot() map[string]interface{} {
	p.mux.RLock()
	defer p.mux.RUnlock()
	out := make(map[string]interface{}, len(p.Outputs))
	for k, v := range p.Outputs {
		out[k] = v
	}
	return out
}

// InterruptRunningTasks fails every Task still in the Running state with
// err — used at startup by the Store/Engine to resolve processes found
// Running when a previous engine instance exited mid-run (§6/§7
// InterruptedByRestart).
func (p *Process) InterruptRunningTasks(err error) {
	p.mux.Lock()
	defer p.mux.Unlock()
	for _, t := range p.Tasks {
		if t.Snapshot().State == TaskStateRunning {
			t.Fail(err)
		}
	}
	p.touch()
}

// Start transitions Pending -> Running.
func (p *Process) Start() {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.State = ProcessStateRunning
	p.touch()
}

// Complete transitions the process to Completed.
func (p *Process) Complete() {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.State = ProcessStateCompleted
	p.touch()
}

// Fail transitions the process to Failed, recording the fatal error.
func (p *Process) Fail(err error) {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.State = ProcessStateFailed
	if err != nil {
		p.Error = err.Error()
	}
	p.touch()
}

// Cancel transitions the process to Cancelled.
func (p *Process) Cancel() {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.State = ProcessStateCancelled
	p.touch()
}

// IsComplete reports true for {Completed, Failed, Cancelled} per §7.
func (p *Process) IsComplete() bool {
	p.mux.RLock()
	defer p.mux.RUnlock()
	switch p.State {
	case ProcessStateCompleted, ProcessStateFailed, ProcessStateCancelled:
		return true
	default:
		return false
	}
}

// CurrentState returns the process's state under the read lock.
func (p *Process) CurrentState() ProcessState {
	p.mux.RLock()
	defer p.mux.RUnlock()
	return p.State
}

// Snapshot returns a deep-enough copy for persistence/inspection: Outputs
// and Tasks are copied so the caller cannot observe further mutation.
func (p *Process) Snapshot() *Process {
	p.mux.RLock()
	defer p.mux.RUnlock()
	clone := &Process{
		ID:         p.ID,
		WorkflowID: p.WorkflowID,
		State:      p.State,
		Outputs:    make(map[string]interface{}, len(p.Outputs)),
		Tasks:      make(map[string]*Task, len(p.Tasks)),
		Env:        p.Env,
		Error:      p.Error,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
	for k, v := range p.Outputs {
		clone.Outputs[k] = v
	}
	for k, v := range p.Tasks {
		s := v.Snapshot()
		clone.Tasks[k] = &s
	}
	return clone
}

// CopyFrom merges the mutable fields of other into p, used by in-memory DAO
// backends on Save to keep a single canonical instance per process id
// (mirrors the merge-on-save discipline of the in-memory DAO pattern).
func (p *Process) CopyFrom(other *Process) {
	if other == nil {
		return
	}
	p.mux.Lock()
	defer p.mux.Unlock()
	p.State = other.State
	p.Error = other.Error
	p.UpdatedAt = other.UpdatedAt
	if other.Outputs != nil {
		p.Outputs = other.Outputs
	}
	if other.Tasks != nil {
		p.Tasks = other.Tasks
	}
	if other.Env != nil {
		p.Env = other.Env
	}
}

func (p *Process) touch() {
	p.UpdatedAt = clock.Now()
}
