// Package ifelse implements the `if_else` action: evaluates a flat list of
// conditions combined with "and"/"or" and selects the "true" or "false"
// branch.
package ifelse

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/actflow/actflow/model/errs"
	"github.com/actflow/actflow/service/action"
)

// Handler implements the `if_else` action.
type Handler struct{}

// New returns the if_else Handler.
func New() *Handler { return &Handler{} }

type condition struct {
	Left  interface{}
	Op    string
	Right interface{}
}

// Execute evaluates act's conditions and returns {"branch": "true"|"false"}.
func (h *Handler) Execute(ctx *action.Context, act map[string]interface{}) (interface{}, error) {
	rawConditions, _ := act["conditions"].([]interface{})
	logic, _ := act["logic"].(string)
	if logic == "" {
		logic = "and"
	}

	conditions := make([]condition, 0, len(rawConditions))
	for _, rc := range rawConditions {
		m, ok := rc.(map[string]interface{})
		if !ok {
			return nil, errs.HandlerFailed("condition-eval", fmt.Sprintf("if_else: condition is not an object: %v", rc), nil)
		}
		op, _ := m["op"].(string)
		conditions = append(conditions, condition{Left: m["left"], Op: op, Right: m["right"]})
	}

	branch := "false"
	if evaluateAll(conditions, logic) {
		branch = "true"
	}
	return map[string]interface{}{"branch": branch}, nil
}

func evaluateAll(conditions []condition, logic string) bool {
	if len(conditions) == 0 {
		return false
	}
	switch strings.ToLower(logic) {
	case "or":
		for _, c := range conditions {
			if evaluate(c) {
				return true
			}
		}
		return false
	default: // "and"
		for _, c := range conditions {
			if !evaluate(c) {
				return false
			}
		}
		return true
	}
}

func evaluate(c condition) bool {
	switch c.Op {
	case "is_empty":
		return isEmpty(c.Left)
	case "is_not_empty":
		return !isEmpty(c.Left)
	case "contains":
		return contains(c.Left, c.Right)
	case "not_contains":
		return !contains(c.Left, c.Right)
	case "greater_than":
		a, b, ok := numericPair(c.Left, c.Right)
		return ok && a > b
	case "less_than":
		a, b, ok := numericPair(c.Left, c.Right)
		return ok && a < b
	case "not_equals":
		return !equals(c.Left, c.Right)
	case "equals":
		return equals(c.Left, c.Right)
	default:
		return false
	}
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	default:
		return false
	}
}

// contains checks left (string or array) for right. A non-string,
// non-array left coerces to its JSON-compact string form and performs
// substring containment rather than erroring on unsupported types.
func contains(left, right interface{}) bool {
	switch l := left.(type) {
	case string:
		return strings.Contains(l, fmt.Sprintf("%v", right))
	case []interface{}:
		for _, item := range l {
			if equals(item, right) {
				return true
			}
		}
		return false
	default:
		return strings.Contains(stringifyCompact(left), fmt.Sprintf("%v", right))
	}
}

func stringifyCompact(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// numericPair attempts to parse both operands as float64, either because
// they already are numbers or because their string form parses as one.
func numericPair(left, right interface{}) (float64, float64, bool) {
	a, aok := asFloat(left)
	b, bok := asFloat(right)
	return a, b, aok && bok
}

func asFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// equals compares left and right: numeric compares attempt a numeric parse
// of both sides, otherwise it falls back to string comparison.
func equals(left, right interface{}) bool {
	if a, b, ok := numericPair(left, right); ok {
		return a == b
	}
	return fmt.Sprintf("%v", left) == fmt.Sprintf("%v", right)
}
