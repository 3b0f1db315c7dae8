// Package filespatch implements the `files_patch` action: applies a
// unified multi-file patch (the same "*** Begin Patch" hunk format the
// `code` action's single-file `patch` field understands) to a real
// filesystem through patch.Session, rolling every file back to its
// pre-call state if any hunk fails partway through.
//
// Where `code`'s patch field rewrites a script's in-memory source,
// files_patch is for workflow steps a code-generating agent hands a
// multi-file changeset to — new files, deletions, renames and edits across
// a project tree, committed together or not at all.
package filespatch

import (
	"fmt"

	"github.com/actflow/actflow/model/errs"
	"github.com/actflow/actflow/service/action"
	"github.com/actflow/actflow/service/action/code/patch"
)

// Handler implements the `files_patch` action.
type Handler struct{}

// New returns a Handler.
func New() *Handler { return &Handler{} }

// Execute parses act["patch"] as a unified multi-file patch and applies it
// through a fresh Session. On any failure the Session is rolled back and
// the error returned; on success the session is committed and the result
// is the Snapshot of every change the patch made: {kind, origUrl, url, diff}
// per file.
func (h *Handler) Execute(ctx *action.Context, act map[string]interface{}) (interface{}, error) {
	patchText, _ := act["patch"].(string)
	if patchText == "" {
		return nil, errs.HandlerFailed("files_patch", "files_patch: missing patch", nil)
	}

	session, err := patch.NewSession()
	if err != nil {
		return nil, errs.HandlerFailed("files_patch", "files_patch: opening session: "+err.Error(), err)
	}

	if err := session.ApplyPatch(ctx, patchText); err != nil {
		if rbErr := session.Rollback(ctx); rbErr != nil {
			return nil, errs.HandlerFailed("files_patch", fmt.Sprintf("files_patch: apply failed (%v), rollback failed: %v", err, rbErr), err)
		}
		return nil, errs.HandlerFailed("files_patch", "files_patch: "+err.Error(), err)
	}

	changes, err := session.Snapshot(ctx)
	if err != nil {
		_ = session.Rollback(ctx)
		return nil, errs.HandlerFailed("files_patch", "files_patch: snapshot: "+err.Error(), err)
	}

	if err := session.Commit(ctx); err != nil {
		return nil, errs.HandlerFailed("files_patch", "files_patch: commit: "+err.Error(), err)
	}

	return changes, nil
}
