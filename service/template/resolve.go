// Package template implements the Template Resolver (§4.2): substitution of
// `{{#nodeId.path#}}` node-output references and `{{$VAR$}}` environment
// variable references inside action parameters before a handler runs.
//
// A whole-leaf token keeps its referenced value's native JSON type; a token
// embedded inside a larger string gets stringified and substituted in place.
// The two fixed-delimiter patterns are matched with stdlib regexp rather
// than a cursor lexer; see DESIGN.md for why a lexer is reserved for the
// code handler's patch grammar instead.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/actflow/actflow/model/errs"
)

var (
	outputPattern     = regexp.MustCompile(`\{\{#([^.#]+)\.([^#]+)#\}\}`)
	envPattern        = regexp.MustCompile(`\{\{\$([^$]+)\$\}\}`)
	fullOutputPattern = regexp.MustCompile(`^\{\{#([^.#]+)\.([^#]+)#\}\}$`)
)

// Context is the read-only view a resolution pass runs against: the
// snapshot of every node's output taken so far in the process, plus the
// process's environment map. Both are owned by the caller; Resolve never
// mutates them.
type Context struct {
	Outputs map[string]interface{}
	Env     map[string]string
}

// Resolve substitutes every reference in tmpl, always returning a string:
// every match is converted to its string form before splicing. Use
// ResolveValue instead when a leaf that is *exactly* one output token should
// keep its native JSON type (number, bool, object, array).
func Resolve(ctx Context, tmpl string) (string, error) {
	result := tmpl
	var unresolved []string

	for _, m := range envPattern.FindAllStringSubmatch(tmpl, -1) {
		full, name := m[0], m[1]
		value, ok := ctx.Env[name]
		if !ok {
			unresolved = append(unresolved, fmt.Sprintf("env variable %q not found", name))
			continue
		}
		result = strings.ReplaceAll(result, full, value)
	}

	for _, m := range outputPattern.FindAllStringSubmatch(tmpl, -1) {
		full, nodeID, path := m[0], m[1], m[2]
		value, ok := lookupPath(ctx.Outputs, nodeID, path)
		if !ok {
			unresolved = append(unresolved, fmt.Sprintf("variable %q not found", full))
			continue
		}
		result = strings.ReplaceAll(result, full, stringify(value))
	}

	if len(unresolved) > 0 {
		return "", errs.UnresolvedReference(strings.Join(unresolved, ", "))
	}
	return result, nil
}

// ResolveValue recursively resolves every string leaf of value (which is
// expected to be the result of unmarshalling a JSON action parameter: one of
// string, float64, bool, nil, []interface{}, map[string]interface{}).
//
// A string leaf that is, in its entirety, a single `{{#nodeId.path#}}`
// reference resolves to the referenced value's native type. Any other
// string (including one with surrounding text, multiple references, or
// `{{$VAR$}}` references) resolves via Resolve and is re-parsed as JSON only
// if the whole stringified result starts with '{' or '[' and parses; an
// object/array output embedded after leading text therefore stays a string.
func ResolveValue(ctx Context, value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return resolveStringLeaf(ctx, v)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			resolved, err := ResolveValue(ctx, item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			resolved, err := ResolveValue(ctx, item)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

func resolveStringLeaf(ctx Context, s string) (interface{}, error) {
	if m := fullOutputPattern.FindStringSubmatch(s); m != nil {
		value, ok := lookupPath(ctx.Outputs, m[1], m[2])
		if !ok {
			return nil, errs.UnresolvedReference(s)
		}
		return value, nil
	}

	resolved, err := Resolve(ctx, s)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(resolved, "{") || strings.HasPrefix(resolved, "[") {
		var parsed interface{}
		if err := json.Unmarshal([]byte(resolved), &parsed); err == nil {
			return parsed, nil
		}
	}
	return resolved, nil
}

// lookupPath resolves a dot-separated path rooted at outputs[nodeID].
// Numeric segments index into a []interface{}; everything else indexes into
// a map[string]interface{}.
func lookupPath(outputs map[string]interface{}, nodeID, path string) (interface{}, bool) {
	root, ok := outputs[nodeID]
	if !ok {
		return nil, false
	}
	current := root
	for _, key := range strings.Split(path, ".") {
		next, ok := step(current, key)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

func step(current interface{}, key string) (interface{}, bool) {
	switch c := current.(type) {
	case map[string]interface{}:
		v, ok := c[key]
		return v, ok
	case []interface{}:
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= len(c) {
			return nil, false
		}
		return c[idx], true
	default:
		return nil, false
	}
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return "null"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}
