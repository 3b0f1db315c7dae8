// Package agentaction implements the `agent` action: dispatches a request
// to an external agent endpoint through the action.AgentClient capability,
// forwarding any streamed log/message events onto the node's Channel sinks
// and returning the agent's final aggregate result.
package agentaction

import (
	"github.com/actflow/actflow/model/errs"
	"github.com/actflow/actflow/model/event"
	"github.com/actflow/actflow/service/action"
)

// Handler implements the `agent` action.
type Handler struct {
	client action.AgentClient
}

// New returns a Handler dispatching through client.
func New(client action.AgentClient) *Handler {
	return &Handler{client: client}
}

// Execute sends act's request to act's endpoint and returns the agent's
// final result unwrapped, forwarding intermediate events via
// ctx.Log/ctx.Message when act.stream is true.
func (h *Handler) Execute(ctx *action.Context, act map[string]interface{}) (interface{}, error) {
	endpoint, _ := act["endpoint"].(string)
	if endpoint == "" {
		return nil, errs.HandlerFailed("agent", "agent: missing endpoint", nil)
	}
	request := act["request"]
	stream, _ := act["stream"].(bool)

	result, err := h.client.Invoke(ctx, endpoint, request, stream, func(kind string, payload interface{}) {
		switch kind {
		case "log":
			ctx.Log(event.LevelInfo, toLogMessage(payload))
		case "message":
			ctx.Message(payload)
		}
	})
	if err != nil {
		return nil, errs.HandlerFailed("agent", err.Error(), err)
	}
	return result, nil
}

func toLogMessage(payload interface{}) string {
	if s, ok := payload.(string); ok {
		return s
	}
	if m, ok := payload.(map[string]interface{}); ok {
		if msg, ok := m["message"].(string); ok {
			return msg
		}
	}
	return ""
}
