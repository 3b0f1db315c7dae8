// Package dispatcher implements the per-process reactor described in §4.5:
// a single-writer actor that owns every Task state transition for one
// Process, reacting to NodeReady/NodeCompleted/NodeFailed transitions by
// computing the next ready set from live/dead edge liveness.
//
// Node handlers run in goroutines bounded by a semaphore; their results
// feed a single settle channel the reactor loop selects on, so exactly one
// goroutine ever mutates a given Process's Tasks. The ready/skip
// edge-liveness algorithm itself — a node becomes Ready once every incoming
// edge is Dead-or-Satisfied and at least one is Satisfied, and Skipped when
// every incoming edge is Dead.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/actflow/actflow/model"
	"github.com/actflow/actflow/model/errs"
	"github.com/actflow/actflow/model/event"
	"github.com/actflow/actflow/policy"
	"github.com/actflow/actflow/progress"
	"github.com/actflow/actflow/service/action"
	"github.com/actflow/actflow/service/channel"
	"github.com/actflow/actflow/service/template"
)

// DefaultCancelGrace is the period a cancelled (or fatally-failed) process's
// still-Running handlers are given to honour ctx before being force-failed
// with CancelledTimeout, per §5 ("implementation-defined grace period
// (default 5 s)").
const DefaultCancelGrace = 5 * time.Second

// DefaultConcurrency bounds how many node executions run concurrently
// within a single Dispatcher.
const DefaultConcurrency = 16

// Config configures a Dispatcher.
type Config struct {
	Concurrency int
	CancelGrace time.Duration
}

// DefaultConfig returns the default dispatcher settings.
func DefaultConfig() Config {
	return Config{Concurrency: DefaultConcurrency, CancelGrace: DefaultCancelGrace}
}

// Option configures a Dispatcher at construction time.
type Option func(*Dispatcher)

// WithConfig overrides the default Config.
func WithConfig(cfg Config) Option { return func(d *Dispatcher) { d.cfg = cfg } }

// WithPolicy attaches an optional approval policy (policy.Policy); a nil
// policy (the default) executes every node automatically.
func WithPolicy(p *policy.Policy) Option { return func(d *Dispatcher) { d.pol = p } }

// WithProgress attaches an optional counters tracker updated as tasks move
// through Pending/Running/Completed/Failed/Skipped.
func WithProgress(p *progress.Progress) Option { return func(d *Dispatcher) { d.prog = p } }

// settled is the internal message produced once a node's handler
// invocation returns (or is rejected before running).
type settled struct {
	nodeID string
	output interface{}
	err    error
}

// Dispatcher drives one Process to a terminal state. All Task and Process
// state mutation for that process happens on the Run goroutine; handler
// executions run concurrently but report back exclusively through
// settleCh, so the reactor never needs to lock against itself.
type Dispatcher struct {
	workflow *model.WorkflowModel
	process  *model.Process
	registry *action.Registry
	ch       *channel.Service
	cfg      Config
	pol      *policy.Policy
	prog     *progress.Progress

	settleCh chan settled
	sem      chan struct{}
	done     chan struct{}

	wg sync.WaitGroup

	runningMu sync.Mutex
	running   int
}

// New constructs a Dispatcher for process, executing workflow's nodes
// through registry and publishing lifecycle events to ch.
func New(workflow *model.WorkflowModel, process *model.Process, registry *action.Registry, ch *channel.Service, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		workflow: workflow,
		process:  process,
		registry: registry,
		ch:       ch,
		cfg:      DefaultConfig(),
		settleCh: make(chan settled, 64),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.cfg.Concurrency <= 0 {
		d.cfg.Concurrency = DefaultConcurrency
	}
	if d.cfg.CancelGrace <= 0 {
		d.cfg.CancelGrace = DefaultCancelGrace
	}
	d.sem = make(chan struct{}, d.cfg.Concurrency)
	return d
}

// Run drives the process from Pending to a terminal state and returns the
// process's fatal error, if any. It returns once Process.IsComplete() would
// report true. Cancelling ctx triggers the §5 cancellation sequence.
func (d *Dispatcher) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer close(d.done)
	defer cancel()

	start := d.workflow.StartNode()
	if start == nil {
		err := errs.Validation("workflow has no start node")
		d.process.Fail(err)
		return err
	}

	d.process.Start()
	d.publish(runCtx, event.New(event.KindProcessStarted, d.process.ID, ""))

	// start has no incoming edges by definition, so it is seeded directly
	// rather than through tryResolve (which would no-op on an empty
	// incoming set).
	d.emitReady(runCtx, start.ID)

	for {
		select {
		case <-ctx.Done():
			return d.terminate(runCtx, cancel, d.process.Cancel, errs.Cancelled())
		case s := <-d.settleCh:
			if err, done := d.handleSettled(runCtx, cancel, s); done {
				return err
			}
		}
	}
}

// handleSettled applies one node's outcome to Task/Process state and
// computes whatever follows from it. It returns (err, true) once the
// process has reached a terminal state.
func (d *Dispatcher) handleSettled(ctx context.Context, cancel context.CancelFunc, s settled) (error, bool) {
	d.decRunning()
	task := d.process.Task(s.nodeID)
	if task == nil {
		// Defensive: a settle for a node whose task was never recorded
		// cannot happen via the normal submit path.
		return nil, false
	}

	if s.err != nil {
		task.Fail(s.err)
		d.updateProgress(progress.Delta{Running: -1, Failed: 1})
		d.publish(ctx, nodeFailedEvent(d.process.ID, s.nodeID, s.err))
		err := d.terminate(ctx, cancel, func() { d.process.Fail(s.err) }, s.err)
		return err, true
	}

	task.Complete(s.output)
	d.process.SetOutput(s.nodeID, s.output)
	d.updateProgress(progress.Delta{Running: -1, Completed: 1})
	d.publish(ctx, nodeCompletedEvent(d.process.ID, s.nodeID, s.output))

	node := d.workflow.NodeByID(s.nodeID)
	if node != nil && node.Uses == model.UsesEnd {
		d.process.Complete()
		d.publish(ctx, event.New(event.KindProcessCompleted, d.process.ID, ""))
		return nil, true
	}

	for _, e := range d.workflow.OutgoingEdges(s.nodeID) {
		d.tryResolve(ctx, e.Target)
	}

	if d.runningCount() == 0 && !d.process.IsComplete() {
		err := errs.Deadlocked()
		d.process.Fail(err)
		d.publish(ctx, d.processFailedEvent(err))
		return err, true
	}

	return nil, false
}

// tryResolve evaluates nodeID's incoming edges against current Task state
// and, if every edge is now Dead-or-Satisfied, either marks the node Ready
// (at least one Satisfied edge) or Skipped (every edge Dead), per §4.5. It
// is a no-op if nodeID's task already exists (idempotence: a node fed by
// several settling predecessors is only resolved once).
func (d *Dispatcher) tryResolve(ctx context.Context, nodeID string) {
	if d.process.Task(nodeID) != nil {
		return
	}
	incoming := d.workflow.IncomingEdges(nodeID)
	if len(incoming) == 0 {
		return
	}

	anySatisfied := false
	for _, e := range incoming {
		dead, satisfied := d.edgeStatus(e)
		if !dead && !satisfied {
			return // at least one predecessor has not settled yet
		}
		if satisfied {
			anySatisfied = true
		}
	}

	if anySatisfied {
		d.emitReady(ctx, nodeID)
		return
	}
	d.skipNode(ctx, nodeID)
}

// edgeStatus reports whether e is Dead (its source did not take this
// branch, or the source itself was skipped/failed) or Satisfied (its
// source completed and did take this branch). Both false means the source
// has not settled yet.
func (d *Dispatcher) edgeStatus(e *model.EdgeModel) (dead, satisfied bool) {
	srcTask := d.process.Task(e.Source)
	if srcTask == nil {
		return false, false
	}
	snap := srcTask.Snapshot()
	switch snap.State {
	case model.TaskStateSkipped, model.TaskStateFailed:
		return true, false
	case model.TaskStateCompleted:
		srcNode := d.workflow.NodeByID(e.Source)
		if srcNode != nil && srcNode.Uses == model.UsesIfElse {
			branch, ok := branchOf(snap.Output)
			if ok && model.Handle(branch) == e.SourceHandle {
				return false, true
			}
			return true, false
		}
		return false, true
	default:
		return false, false
	}
}

func branchOf(output interface{}) (string, bool) {
	m, ok := output.(map[string]interface{})
	if !ok {
		return "", false
	}
	b, ok := m["branch"].(string)
	return b, ok
}

// skipNode marks nodeID's task Skipped without invoking its handler, then
// propagates resolution to its successors — a dead predecessor can itself
// make a downstream diamond fully dead (§4.5 "its skip propagates").
func (d *Dispatcher) skipNode(ctx context.Context, nodeID string) {
	task, existed := d.process.EnsureTask(nodeID)
	if existed {
		return
	}
	task.Skip()
	d.updateProgress(progress.Delta{Total: 1, Skipped: 1})
	for _, e := range d.workflow.OutgoingEdges(nodeID) {
		d.tryResolve(ctx, e.Target)
	}
}

// emitReady marks nodeID Ready, publishes NodeReady and submits it to the
// worker pool.
func (d *Dispatcher) emitReady(ctx context.Context, nodeID string) {
	task, existed := d.process.EnsureTask(nodeID)
	if existed {
		return
	}
	d.updateProgress(progress.Delta{Total: 1, Pending: 1})
	d.publish(ctx, event.New(event.KindNodeReady, d.process.ID, nodeID))
	d.incRunning()
	d.submit(ctx, nodeID, task)
}

// submit resolves nodeID's action template against the current outputs
// snapshot, applies the optional approval Policy, and — once both pass —
// starts the node's handler on a pool-bounded goroutine that reports its
// outcome back through settleCh.
func (d *Dispatcher) submit(ctx context.Context, nodeID string, task *model.Task) {
	node := d.workflow.NodeByID(nodeID)
	if node == nil {
		d.reportSettle(settled{nodeID: nodeID, err: errs.Validation("unknown node " + nodeID)})
		return
	}

	resolved, err := template.ResolveValue(template.Context{
		Outputs: d.process.OutputsSnapshot(),
		Env:     d.process.Env,
	}, node.Action)
	if err != nil {
		d.reportSettle(settled{nodeID: nodeID, err: err})
		return
	}
	resolvedAction, _ := resolved.(map[string]interface{})
	if resolvedAction == nil {
		resolvedAction = map[string]interface{}{}
	}

	if d.pol != nil {
		if d.pol.Mode == policy.ModeDeny || !d.pol.IsAllowed(node.Uses) {
			d.reportSettle(settled{nodeID: nodeID, err: errs.HandlerFailed("policy", "action denied by policy", nil)})
			return
		}
		if d.pol.Mode == policy.ModeAsk && d.pol.Ask != nil && !d.pol.Ask(ctx, node.Uses, resolvedAction, d.pol) {
			d.reportSettle(settled{nodeID: nodeID, err: errs.HandlerFailed("policy", "action rejected by approver", nil)})
			return
		}
	}

	task.Start()
	d.updateProgress(progress.Delta{Pending: -1, Running: 1})
	d.publish(ctx, event.New(event.KindNodeStarted, d.process.ID, nodeID))

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		select {
		case d.sem <- struct{}{}:
		case <-d.done:
			return
		}
		defer func() { <-d.sem }()

		actionCtx := d.newActionContext(ctx, nodeID)
		output, err := d.registry.Execute(actionCtx, node.Uses, resolvedAction)
		d.reportSettle(settled{nodeID: nodeID, output: output, err: err})
	}()
}

func (d *Dispatcher) newActionContext(ctx context.Context, nodeID string) *action.Context {
	return &action.Context{
		Context:   ctx,
		ProcessID: d.process.ID,
		NodeID:    nodeID,
		Env:       d.process.Env,
		LogFunc: func(level event.Level, message string) {
			e := event.New(event.KindLog, d.process.ID, nodeID)
			e.Level = level
			e.Message = message
			d.publish(ctx, e)
		},
		MessageFunc: func(payload interface{}) {
			e := event.New(event.KindMessage, d.process.ID, nodeID)
			e.Payload = payload
			d.publish(ctx, e)
		},
		RetryFunc: func(attempt int, cause error) {
			e := event.New(event.KindNodeRetried, d.process.ID, nodeID)
			e.Metadata = map[string]interface{}{"attempt": attempt}
			if cause != nil {
				e.Error = cause.Error()
			}
			d.publish(ctx, e)
		},
	}
}

// reportSettle delivers s to the reactor loop, or drops it silently once
// Run has already returned (d.done closed) — happens only when a node was
// cancelled mid-flight past the grace period.
func (d *Dispatcher) reportSettle(s settled) {
	select {
	case d.settleCh <- s:
	case <-d.done:
	}
}

// terminate runs the shared shutdown sequence for both fatal-error and
// user-cancellation paths (§5): apply the terminal Process state via
// applyState, publish ProcessFailed once, cancel the shared context so
// every in-flight handler observes it, then wait up to CancelGrace for
// still-Running tasks to settle before force-failing any stragglers with
// CancelledTimeout.
func (d *Dispatcher) terminate(ctx context.Context, cancel context.CancelFunc, applyState func(), cause error) error {
	applyState()
	d.publish(context.Background(), d.processFailedEvent(cause))
	cancel()

	if d.runningCount() == 0 {
		return cause
	}

	timer := time.NewTimer(d.cfg.CancelGrace)
	defer timer.Stop()
	for {
		select {
		case s := <-d.settleCh:
			d.decRunning()
			if task := d.process.Task(s.nodeID); task != nil {
				if s.err != nil {
					task.Fail(s.err)
					d.publish(context.Background(), nodeFailedEvent(d.process.ID, s.nodeID, s.err))
				} else {
					task.Complete(s.output)
					d.publish(context.Background(), nodeCompletedEvent(d.process.ID, s.nodeID, s.output))
				}
			}
			if d.runningCount() == 0 {
				return cause
			}
		case <-timer.C:
			d.forceFailRunning()
			return cause
		}
	}
}

// forceFailRunning marks every still-Running task CancelledTimeout once the
// grace period has elapsed without the handler honouring cancellation.
func (d *Dispatcher) forceFailRunning() {
	timeoutErr := errs.CancelledTimeout()
	for nodeID, task := range d.process.Tasks {
		if task.Snapshot().State != model.TaskStateRunning {
			continue
		}
		task.Fail(timeoutErr)
		d.publish(context.Background(), nodeFailedEvent(d.process.ID, nodeID, timeoutErr))
		d.decRunning()
	}
}

func (d *Dispatcher) publish(ctx context.Context, e *event.Event) {
	if d.ch == nil {
		return
	}
	_ = d.ch.Publish(ctx, e)
}

func (d *Dispatcher) updateProgress(delta progress.Delta) {
	if d.prog == nil {
		return
	}
	d.prog.Update(delta)
}

func (d *Dispatcher) incRunning() {
	d.runningMu.Lock()
	d.running++
	d.runningMu.Unlock()
}

func (d *Dispatcher) decRunning() {
	d.runningMu.Lock()
	d.running--
	d.runningMu.Unlock()
}

func (d *Dispatcher) runningCount() int {
	d.runningMu.Lock()
	defer d.runningMu.Unlock()
	return d.running
}

func nodeFailedEvent(pid, nid string, err error) *event.Event {
	e := event.New(event.KindNodeFailed, pid, nid)
	e.Error = err.Error()
	return e
}

func nodeCompletedEvent(pid, nid string, output interface{}) *event.Event {
	e := event.New(event.KindNodeCompleted, pid, nid)
	e.Output = output
	return e
}

// processFailedEvent builds the terminal ProcessFailed event, attaching a
// snapshot of whatever node outputs had already landed by the time of
// failure as Metadata["outputs"] — the same partial-results-on-failure
// idea §14 resolves for the stored Process, surfaced on the event stream
// too, whether the process failed outright or was cancelled.
func (d *Dispatcher) processFailedEvent(err error) *event.Event {
	e := event.New(event.KindProcessFailed, d.process.ID, "")
	e.Error = err.Error()
	e.Metadata = map[string]interface{}{"outputs": d.process.OutputsSnapshot()}
	return e
}
