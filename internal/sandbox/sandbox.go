// Package sandbox implements the default action.ScriptSandbox: it shells
// out to a language interpreter through github.com/viant/gosh's
// gosh.New(ctx, local.New(...)) / session.Run local-execution path.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/viant/gosh"
	"github.com/viant/gosh/runner"
	"github.com/viant/gosh/runner/local"
)

// Sandbox runs `code` action scripts through a local gosh session.
type Sandbox struct {
	timeout time.Duration
}

// New returns a Sandbox bounding every script run to timeout (default one
// minute if timeout <= 0).
func New(timeout time.Duration) *Sandbox {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Sandbox{timeout: timeout}
}

// Run executes source in language ("javascript" or "python"), passing
// inputs in as a single JSON value in the ACTFLOW_INPUTS environment
// variable (left unset when inputs is empty), and parses the script's stdout
// as JSON. Any non-JSON output, non-zero exit, or timeout is an error.
func (s *Sandbox) Run(ctx context.Context, language, source string, inputs map[string]interface{}) (interface{}, error) {
	interpreter, err := commandFor(language, source)
	if err != nil {
		return nil, err
	}

	session, err := gosh.New(ctx, local.New())
	if err != nil {
		return nil, fmt.Errorf("sandbox: starting session: %w", err)
	}
	defer session.Close()

	if len(inputs) > 0 {
		payload, err := json.Marshal(inputs)
		if err != nil {
			return nil, fmt.Errorf("sandbox: encoding inputs: %w", err)
		}
		if _, _, err := session.Run(ctx, fmt.Sprintf("export ACTFLOW_INPUTS=%s", shellQuote(string(payload)))); err != nil {
			return nil, fmt.Errorf("sandbox: exporting inputs: %w", err)
		}
	}

	stdout, status, err := session.Run(ctx, interpreter, runner.WithTimeout(int(s.timeout.Milliseconds())))
	if err != nil {
		return nil, fmt.Errorf("sandbox: running script: %w", err)
	}
	if status != 0 {
		return nil, fmt.Errorf("sandbox: script exited with status %d: %s", status, stdout)
	}

	var result interface{}
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		return nil, fmt.Errorf("sandbox: script did not return JSON: %w", err)
	}
	return result, nil
}

func commandFor(language, source string) (string, error) {
	encoded := shellQuote(source)
	switch language {
	case "javascript":
		return fmt.Sprintf("node -e %s", encoded), nil
	case "python":
		return fmt.Sprintf("python3 -c %s", encoded), nil
	default:
		return "", fmt.Errorf("sandbox: unsupported language %q", language)
	}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
