// Package code implements the `code` action: runs a short script through
// the action.ScriptSandbox capability, defaulting to internal/sandbox's
// gosh-backed local interpreter.
package code

import (
	"github.com/actflow/actflow/model/errs"
	"github.com/actflow/actflow/service/action"
	"github.com/actflow/actflow/service/action/code/patch"
)

// Handler implements the `code` action.
type Handler struct {
	sandbox action.ScriptSandbox
}

// New returns a Handler running scripts through sandbox.
func New(sandbox action.ScriptSandbox) *Handler {
	return &Handler{sandbox: sandbox}
}

// Execute runs act's source under the configured language and returns
// whatever JSON value the script produces, unwrapped (§4.3: "arbitrary JSON
// returned by the script").
func (h *Handler) Execute(ctx *action.Context, act map[string]interface{}) (interface{}, error) {
	language, _ := act["language"].(string)
	source, _ := act["source"].(string)
	inputs, _ := act["inputs"].(map[string]interface{})

	if source == "" {
		return nil, errs.HandlerFailed("sandbox", "code: missing source", nil)
	}

	// An optional "patch" field carries an Update File hunk (the format a
	// code-generating action emits against its own prior source) that is
	// applied to source before the sandbox ever sees it.
	if rawPatch, ok := act["patch"].(string); ok && rawPatch != "" {
		patched, err := patch.ApplySource(source, rawPatch)
		if err != nil {
			return nil, errs.HandlerFailed("sandbox", "code: failed to apply patch: "+err.Error(), err)
		}
		source = patched
	}

	result, err := h.sandbox.Run(ctx, language, source, inputs)
	if err != nil {
		return nil, errs.HandlerFailed("sandbox", err.Error(), err)
	}
	return result, nil
}
