// Package start implements the `start` action: the no-op entry point every
// workflow's single start node uses. It always succeeds with an empty
// output.
package start

import "github.com/actflow/actflow/service/action"

// Handler always succeeds immediately with an empty output, per §4.3.
type Handler struct{}

// New returns the start Handler.
func New() *Handler { return &Handler{} }

// Execute ignores action and returns an empty output map.
func (h *Handler) Execute(ctx *action.Context, _ map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{}, nil
}
