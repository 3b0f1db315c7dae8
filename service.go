package actflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/actflow/actflow/internal/agentpb"
	"github.com/actflow/actflow/internal/idgen"
	"github.com/actflow/actflow/internal/sandbox"
	"github.com/actflow/actflow/model"
	"github.com/actflow/actflow/model/errs"
	"github.com/actflow/actflow/model/event"
	"github.com/actflow/actflow/policy"
	"github.com/actflow/actflow/progress"
	"github.com/actflow/actflow/runtime/dispatcher"
	"github.com/actflow/actflow/service/action"
	"github.com/actflow/actflow/service/action/agentaction"
	"github.com/actflow/actflow/service/action/code"
	"github.com/actflow/actflow/service/action/code/filespatch"
	"github.com/actflow/actflow/service/action/end"
	"github.com/actflow/actflow/service/action/httpreq"
	"github.com/actflow/actflow/service/action/ifelse"
	"github.com/actflow/actflow/service/action/start"
	"github.com/actflow/actflow/service/channel"
	"github.com/actflow/actflow/service/dao"
	pfs "github.com/actflow/actflow/service/dao/process/fs"
	pmemory "github.com/actflow/actflow/service/dao/process/memory"
	wmemory "github.com/actflow/actflow/service/dao/workflow"
	"github.com/actflow/actflow/tracing"
)

// defaultSandboxTimeout bounds a code action's default gosh-backed script
// execution when the caller does not supply a ScriptSandbox or override.
const defaultSandboxTimeout = 30 * time.Second

// Engine is the embeddable workflow engine façade (§4.7): it deploys
// WorkflowModel definitions, builds Process instances against them, and
// drives each one to completion through its own Dispatcher, publishing
// every lifecycle transition onto a shared Event Channel.
//
// Deploy accepts either an inline document or a URL loaded via viant/afs;
// RunProcess hands the process to a Dispatcher and every lifecycle
// transition is observable through Channel() rather than returned
// synchronously.
type Engine struct {
	cfg *Config

	workflowStore dao.Service[string, model.WorkflowModel]
	processStore  dao.Service[string, model.Process]
	registry      *action.Registry
	ch            *channel.Service
	pol           *policy.Policy
	prog          *progress.Progress

	httpClient     action.HTTPClient
	agentClient    action.AgentClient
	sandbox        action.ScriptSandbox
	sandboxTimeout time.Duration

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs an Engine. With no options every dependency defaults to
// an in-memory, single-process configuration suitable for embedding and
// for tests.
func New(opts ...Option) *Engine {
	e := &Engine{
		cfg:     DefaultConfig(),
		running: map[string]context.CancelFunc{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.workflowStore == nil {
		e.workflowStore = wmemory.New()
	}
	if e.processStore == nil {
		store, _ := newProcessStore(e.cfg.Store)
		e.processStore = store
	}
	if e.ch == nil {
		e.ch = channel.New(channel.WithConfig(channel.Config{QueueSize: e.cfg.Channel.QueueSize}))
	}
	if e.sandboxTimeout <= 0 {
		e.sandboxTimeout = defaultSandboxTimeout
	}
	if e.registry == nil {
		e.registry = e.defaultRegistry()
	}
	return e
}

// newProcessStore builds the process DAO backend selected by cfg.Type.
// "postgres" is not constructible here — opening the *sql.DB connection is
// the caller's responsibility — so a postgres Config without an explicit
// WithProcessStore override falls back to memory.
func newProcessStore(cfg StoreConfig) (dao.Service[string, model.Process], error) {
	switch cfg.Type {
	case "", "memory":
		return pmemory.New(), nil
	case "fs":
		return pfs.New(cfg.BasePath)
	default:
		return pmemory.New(), fmt.Errorf("actflow: store.type %q requires WithProcessStore", cfg.Type)
	}
}

// defaultRegistry builds the built-in Action Registry (§4.3) against
// whichever capability overrides were supplied, falling back to net/http,
// the gosh-backed local sandbox, and the JSON-RPC-ish agentpb client.
func (e *Engine) defaultRegistry() *action.Registry {
	r := action.NewRegistry()
	r.Register(model.UsesStart, start.New())
	r.Register(model.UsesEnd, end.New())
	r.Register(model.UsesIfElse, ifelse.New())

	httpClient := e.httpClient
	if httpClient == nil {
		httpClient = httpreq.NewDefaultClient()
	}
	r.Register(model.UsesHTTPRequest, httpreq.New(httpClient))

	scriptSandbox := e.sandbox
	if scriptSandbox == nil {
		scriptSandbox = sandbox.New(e.sandboxTimeout)
	}
	r.Register(model.UsesCode, code.New(scriptSandbox))
	r.Register(model.UsesFilesPatch, filespatch.New())

	agentClient := e.agentClient
	if agentClient == nil {
		agentClient = agentpb.New()
	}
	r.Register(model.UsesAgent, agentaction.New(agentClient))

	return r
}

// Channel returns the Engine's shared Event Channel (§4.1).
func (e *Engine) Channel() *channel.Service { return e.ch }

// Deploy validates encoded (decoded per hint's extension, §3/§6) and
// registers it in the workflow store, returning the deployed
// WorkflowModel.
func (e *Engine) Deploy(ctx context.Context, encoded []byte, hint string) (*model.WorkflowModel, error) {
	dec, ok := e.workflowStore.(interface {
		Decode([]byte, string) (*model.WorkflowModel, error)
	})
	var wf *model.WorkflowModel
	var err error
	if ok {
		wf, err = dec.Decode(encoded, hint)
		if err != nil {
			return nil, err
		}
	} else {
		return nil, fmt.Errorf("actflow: configured workflow store cannot decode raw documents")
	}
	if err := e.workflowStore.Save(ctx, wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// DeployURL downloads, decodes and registers the workflow document at URL.
func (e *Engine) DeployURL(ctx context.Context, URL string) (*model.WorkflowModel, error) {
	loader, ok := e.workflowStore.(interface {
		LoadFromURL(context.Context, string) (*model.WorkflowModel, error)
	})
	if !ok {
		return nil, fmt.Errorf("actflow: configured workflow store cannot load from a URL")
	}
	wf, err := loader.LoadFromURL(ctx, URL)
	if err != nil {
		return nil, err
	}
	if err := e.workflowStore.Save(ctx, wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// BuildProcess creates a Pending Process for workflowID, overlaying the
// workflow's declared env with envOverrides (§3), and persists it.
func (e *Engine) BuildProcess(ctx context.Context, workflowID string, envOverrides map[string]string) (*model.Process, error) {
	wf, err := e.workflowStore.Load(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	env := make(map[string]string, len(wf.Env)+len(envOverrides))
	for k, v := range wf.Env {
		env[k] = v
	}
	for k, v := range envOverrides {
		env[k] = v
	}

	process := model.NewProcess(idgen.New(), wf.ID, env)
	if err := e.processStore.Save(ctx, process); err != nil {
		return nil, err
	}
	return process, nil
}

// RunProcess starts process's Dispatcher against its deployed workflow and
// returns its id immediately; the run itself proceeds asynchronously,
// observable through Channel() or Process(ctx, pid). ProcessStarted is
// published from the Dispatcher's goroutine, so it may arrive after this
// call returns.
func (e *Engine) RunProcess(ctx context.Context, process *model.Process) (string, error) {
	if process == nil {
		return "", errs.Validation("process is nil")
	}
	wf, err := e.workflowStore.Load(ctx, process.WorkflowID)
	if err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.running[process.ID] = cancel
	e.mu.Unlock()

	persist := e.ch.OnEvent(channel.Filter{ProcessID: process.ID}, func(*event.Event) {
		_ = e.processStore.Save(context.Background(), process)
	})

	disp := dispatcher.New(wf, process, e.registry, e.ch,
		dispatcher.WithConfig(e.cfg.Dispatcher.toDispatcher()),
		dispatcher.WithPolicy(e.pol),
		dispatcher.WithProgress(e.prog),
	)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()
		defer e.ch.Unsubscribe(persist)
		defer func() {
			e.mu.Lock()
			delete(e.running, process.ID)
			e.mu.Unlock()
		}()

		spanCtx, span := tracing.StartSpan(runCtx, "dispatcher.run", "INTERNAL")
		span.WithAttributes(map[string]string{"process.id": process.ID, "workflow.id": wf.ID})
		runErr := disp.Run(spanCtx)
		tracing.EndSpan(span, runErr)

		_ = e.processStore.Save(context.Background(), process)
	}()

	return process.ID, nil
}

// Cancel triggers the §5 cancellation sequence for a running process. It
// returns an error if pid is not currently running under this Engine.
func (e *Engine) Cancel(pid string) error {
	e.mu.Lock()
	cancel, ok := e.running[pid]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("actflow: process %q is not running", pid)
	}
	cancel()
	return nil
}

// Process returns the current snapshot of pid from the process store.
func (e *Engine) Process(ctx context.Context, pid string) (*model.Process, error) {
	return e.processStore.Load(ctx, pid)
}

// Processes lists processes from the store, optionally filtered.
func (e *Engine) Processes(ctx context.Context, parameters ...*dao.Parameter) ([]*model.Process, error) {
	return e.processStore.List(ctx, parameters...)
}

// interruptible is implemented by process stores that can resolve
// processes left Running by a prior engine instance (§6/§7
// InterruptedByRestart). Only the memory backend satisfies it; the fs and
// postgres stores do not.
type interruptible interface {
	ResumeInterrupted(ctx context.Context, err error) []string
}

// Launch starts the Engine: when the process store implements
// interruptible, any process it finds in the Running state — left over
// from a previous instance that exited mid-run — is failed with
// InterruptedByRestart. With any other store Launch changes nothing.
func (e *Engine) Launch(ctx context.Context) error {
	if ri, ok := e.processStore.(interruptible); ok {
		ri.ResumeInterrupted(ctx, errs.InterruptedByRestart())
	}
	return nil
}

// Shutdown signals cancellation to every process this Engine is currently
// running, waits up to deadline for their Dispatchers to drain, and closes
// the Event Channel.
func (e *Engine) Shutdown(ctx context.Context, deadline time.Duration) error {
	e.mu.Lock()
	for _, cancel := range e.running {
		cancel()
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(deadline):
	}

	return e.ch.Shutdown(ctx)
}
