package patch

import (
	"fmt"
	"strings"
)

// ApplySource applies a single-file patchText (the same "*** Begin Patch" /
// "*** Update File:" / "@@" hunk format Parse understands) to source and
// returns the patched text. It is the in-memory counterpart of Session's
// disk-backed Update: no file is read or written, which is what the `code`
// action's source-patch preprocessing step needs — a code-generating action
// emits a patch against the script it previously produced, and the handler
// rewrites `source` before handing it to the sandbox.
//
// Only a single UpdateFile hunk is supported; AddFile/DeleteFile hunks make
// no sense against an in-memory script body and are rejected.
func ApplySource(source, patchText string) (string, error) {
	hunks, err := Parse(patchText)
	if err != nil {
		return "", fmt.Errorf("patch: %w", err)
	}

	var update *UpdateFile
	for _, h := range hunks {
		u, ok := h.(UpdateFile)
		if !ok {
			return "", fmt.Errorf("patch: only Update File hunks are supported for code sources")
		}
		update = &u
	}
	if update == nil {
		return "", fmt.Errorf("patch: no Update File hunk found")
	}

	s := &Session{}
	lines := s.applyUpdate([]byte(source), *update)
	return strings.Join(lines, "\n"), nil
}
