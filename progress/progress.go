// Package progress keeps aggregated task counters (total, completed,
// skipped, failed, running, pending) for a single Process run. A
// Dispatcher holds one *Progress for the duration of a run and calls
// Update with a Delta as each task changes state; an embedder subscribes
// with OnChange or polls Snapshot to report run progress without needing
// its own counters.
package progress

import (
	"sync"
	"time"
)

// Delta is an incremental counter change emitted by a Dispatcher as a task
// moves between states. Fields are signed: positive to increment, negative
// to decrement.
type Delta struct {
	Total     int
	Completed int
	Skipped   int
	Failed    int
	Running   int
	Pending   int
}

// Progress keeps aggregated task counters for one Process run. It is safe
// for concurrent use.
type Progress struct {
	// Identification, informative only, filled when the process starts.
	RootProcessID string
	Workflow      string
	StartedAt     time.Time

	// Counters, modified via Update().
	TotalTasks     int
	CompletedTasks int
	SkippedTasks   int
	FailedTasks    int
	RunningTasks   int
	PendingTasks   int

	sync.Mutex
	onChange func(Progress)
}

// Update applies the supplied delta to the tracker.  It is safe to call from
// multiple goroutines.  If an onChange callback has been registered it will be
// invoked with a copy of the updated tracker outside the critical section so
// that the callback can perform slow operations (e.g. JSON encoding, I/O)
// without blocking engine internals.
func (p *Progress) Update(d Delta) {
	if p == nil {
		return
	}

	p.Lock()

	p.TotalTasks += d.Total
	p.CompletedTasks += d.Completed
	p.SkippedTasks += d.Skipped
	p.FailedTasks += d.Failed
	p.RunningTasks += d.Running
	p.PendingTasks += d.Pending

	// Make a value-copy for the callback while we still hold the lock to
	// avoid seeing partially updated counters.
	snapshot := *p
	cb := p.onChange

	p.Unlock()

	if cb != nil {
		cb(snapshot)
	}
}

// Snapshot returns a copy of the tracker suitable for read-only inspection.
func (p *Progress) Snapshot() Progress {
	if p == nil {
		return Progress{}
	}
	p.Lock()
	defer p.Unlock()
	return *p
}

// OnChange registers a callback that is invoked after every successful
// Update.  Passing nil disables the callback.  Only one callback can be
// active; subsequent calls overwrite the previous value.
func (p *Progress) OnChange(cb func(Progress)) {
	if p == nil {
		return
	}
	p.Lock()
	p.onChange = cb
	p.Unlock()
}

// New starts a tracker for a single Process run.
func New(rootProcessID, workflow string, onChange func(Progress)) *Progress {
	return &Progress{
		RootProcessID: rootProcessID,
		Workflow:      workflow,
		StartedAt:     time.Now(),
		onChange:      onChange,
	}
}
