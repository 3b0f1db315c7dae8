package actflow

import (
	"time"

	"github.com/actflow/actflow/model"
	"github.com/actflow/actflow/policy"
	"github.com/actflow/actflow/progress"
	"github.com/actflow/actflow/service/action"
	"github.com/actflow/actflow/service/channel"
	"github.com/actflow/actflow/service/dao"
	"github.com/actflow/actflow/tracing"
)

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithConfig overrides the default Config.
func WithConfig(cfg *Config) Option {
	return func(e *Engine) {
		if cfg != nil {
			e.cfg = cfg
		}
	}
}

// WithWorkflowStore overrides the default in-memory workflow DAO.
func WithWorkflowStore(store dao.Service[string, model.WorkflowModel]) Option {
	return func(e *Engine) { e.workflowStore = store }
}

// WithProcessStore overrides the default in-memory process DAO.
func WithProcessStore(store dao.Service[string, model.Process]) Option {
	return func(e *Engine) { e.processStore = store }
}

// WithRegistry overrides the default Action Registry entirely. When set,
// WithHTTPClient/WithAgentClient/WithScriptSandbox are ignored — the caller
// owns handler wiring.
func WithRegistry(r *action.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithChannel overrides the default Event Channel.
func WithChannel(ch *channel.Service) Option {
	return func(e *Engine) { e.ch = ch }
}

// WithPolicy attaches an approval Policy applied to every process this
// Engine runs; there is no per-process override.
func WithPolicy(p *policy.Policy) Option {
	return func(e *Engine) { e.pol = p }
}

// WithHTTPClient overrides the capability backing the built-in http_request
// handler in the default registry.
func WithHTTPClient(c action.HTTPClient) Option {
	return func(e *Engine) { e.httpClient = c }
}

// WithAgentClient overrides the capability backing the built-in agent
// handler in the default registry.
func WithAgentClient(c action.AgentClient) Option {
	return func(e *Engine) { e.agentClient = c }
}

// WithScriptSandbox overrides the capability backing the built-in code
// handler in the default registry.
func WithScriptSandbox(s action.ScriptSandbox) Option {
	return func(e *Engine) { e.sandbox = s }
}

// WithSandboxTimeout sets the default gosh-backed sandbox's per-script
// timeout; ignored once WithScriptSandbox has been used.
func WithSandboxTimeout(d time.Duration) Option {
	return func(e *Engine) { e.sandboxTimeout = d }
}

// WithProgress attaches a shared progress tracker updated by every process
// this Engine runs.
func WithProgress(p *progress.Progress) Option {
	return func(e *Engine) { e.prog = p }
}

// WithTracing initialises OpenTelemetry tracing for the engine's lifetime,
// writing spans to outputFile (stdout when empty).
func WithTracing(serviceName, serviceVersion, outputFile string) Option {
	return func(e *Engine) { _ = tracing.Init(serviceName, serviceVersion, outputFile) }
}
