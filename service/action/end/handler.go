// Package end implements the `end` action: the terminal node that surfaces
// its (already template-resolved) value as the process's final output,
// passing the resolved field straight through to its Output.
package end

import "github.com/actflow/actflow/service/action"

// Handler echoes the optional `value` field of its action back as output,
// or an empty map if none was supplied (§4.3: `end` inputs `{value: ...}`).
type Handler struct{}

// New returns the end Handler.
func New() *Handler { return &Handler{} }

// Execute returns {"value": action["value"]} when present, else {}.
func (h *Handler) Execute(ctx *action.Context, act map[string]interface{}) (interface{}, error) {
	value, ok := act["value"]
	if !ok {
		return map[string]interface{}{}, nil
	}
	return map[string]interface{}{"value": value}, nil
}
