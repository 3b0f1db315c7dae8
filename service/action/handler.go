// Package action defines the Action Registry (§4.3): a map from a node's
// `uses` kind to the Handler that executes it, plus the narrow capability
// interfaces the built-in handlers run against so an embedder can
// substitute its own HTTP client, code sandbox, or agent backend.
//
// Handlers are looked up by name rather than dispatched through reflection:
// every action payload here is opaque JSON, already resolved by the
// Template Resolver, so a single Execute(ctx, json) call per handler is
// enough.
package action

import (
	"context"
	"fmt"
	"sync"

	"github.com/actflow/actflow/model/event"
)

// Context is passed to every Handler invocation. It carries the identity of
// the node being executed, a read-only environment snapshot, the
// cancellation signal for this process, and sinks for log/message/retry
// events routed through the Event Channel (§4.1).
type Context struct {
	context.Context
	ProcessID string
	NodeID    string
	Env       map[string]string

	LogFunc     func(level event.Level, message string)
	MessageFunc func(payload interface{})
	RetryFunc   func(attempt int, cause error)
}

// Log emits a Log event for this node via the Channel, if a sink was wired.
func (c *Context) Log(level event.Level, message string) {
	if c.LogFunc != nil {
		c.LogFunc(level, message)
	}
}

// Message emits a Message event for this node via the Channel, if a sink
// was wired. Used by the agent handler to forward streamed payloads.
func (c *Context) Message(payload interface{}) {
	if c.MessageFunc != nil {
		c.MessageFunc(payload)
	}
}

// Retry emits a NodeRetried event for this node, if a sink was wired. A
// handler with its own bounded retry policy (http_request's "retry" field
// is the built-in example) calls this once per re-attempt; the process
// itself is never retried, only what a handler does internally before it
// settles Execute's return value one way or the other.
func (c *Context) Retry(attempt int, cause error) {
	if c.RetryFunc != nil {
		c.RetryFunc(attempt, cause)
	}
}

// Handler executes one node's resolved action and returns its output as an
// arbitrary JSON value (object, array, string, number, bool, or nil) per
// §4.3's `Result<output_json, error>` contract, or an error, which the
// Dispatcher records unchanged as the node's failure.
type Handler interface {
	Execute(ctx *Context, action map[string]interface{}) (interface{}, error)
}

// HTTPClient is the capability interface the http_request handler runs
// against. The default implementation is backed by net/http.
type HTTPClient interface {
	Do(ctx context.Context, req *HTTPRequest) (*HTTPResponse, error)
}

// HTTPRequest is the resolved, ready-to-send form of an http_request
// action's fields.
type HTTPRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	Timeout int // milliseconds, 0 means no explicit deadline beyond ctx
}

// HTTPResponse is the handler's JSON-serialisable output shape:
// {status, headers, body}.
type HTTPResponse struct {
	Status  int
	Headers map[string]string
	Body    interface{}
}

// ScriptSandbox is the capability interface the code handler runs against.
// The default implementation shells out via github.com/viant/gosh.
type ScriptSandbox interface {
	Run(ctx context.Context, language, source string, inputs map[string]interface{}) (interface{}, error)
}

// AgentClient is the capability interface the agent handler runs against.
// The default implementation dials a gRPC endpoint (internal/agentpb).
type AgentClient interface {
	Invoke(ctx context.Context, endpoint string, request interface{}, stream bool, onEvent func(kind string, payload interface{})) (interface{}, error)
}

// Registry maps a node's `uses` kind to the Handler that executes it.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register associates uses with h, replacing any previous handler for the
// same kind.
func (r *Registry) Register(uses string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[uses] = h
}

// Lookup returns the Handler registered for uses, if any.
func (r *Registry) Lookup(uses string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[uses]
	return h, ok
}

// Execute looks up the handler for uses and runs it, returning a
// descriptive error if no handler is registered for that kind.
func (r *Registry) Execute(ctx *Context, uses string, action map[string]interface{}) (interface{}, error) {
	h, ok := r.Lookup(uses)
	if !ok {
		return nil, fmt.Errorf("action: no handler registered for uses=%q", uses)
	}
	return h.Execute(ctx, action)
}
