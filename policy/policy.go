// Package policy implements an optional per-node approval gate a Dispatcher
// consults before running a node's action. A nil *Policy means "run
// everything automatically", the zero-cost default; attaching one through
// Engine's WithPolicy lets a host ask a human (or any other gate) before an
// action kind runs, or block/allow specific kinds outright.
package policy

import (
	"context"
	"strings"
)

// Execution modes a Policy can be in.
const (
	ModeAsk  = "ask"  // call Ask before every node whose Uses kind is allowed
	ModeAuto = "auto" // run every allowed node without asking (default)
	ModeDeny = "deny" // block every node outright
)

// AskFunc is invoked when Mode==ask, once per node, with the node's `uses`
// kind and its already template-resolved action payload. Returning true
// lets the node run; false fails it with a HandlerFailed("policy") error. Implementations
// may mutate p — for example switching Mode to ModeAuto after the first
// approval so later nodes in the same run stop asking.
type AskFunc func(ctx context.Context, uses string, resolvedAction map[string]interface{}, p *Policy) bool

// Policy gates which node kinds a Dispatcher may run and, in ModeAsk, who
// approves each one.
type Policy struct {
	Mode      string   // ask / auto / deny, default auto
	AllowList []string // uses kinds permitted; empty means every kind
	BlockList []string // uses kinds always rejected, checked before AllowList
	Ask       AskFunc  // consulted only when Mode == ModeAsk
}

// Config is the declarative, serialisable subset of a Policy — everything
// but Ask, which cannot be persisted.
type Config struct {
	Mode      string   `json:"mode,omitempty" yaml:"mode,omitempty"`
	AllowList []string `json:"allow,omitempty" yaml:"allow,omitempty"`
	BlockList []string `json:"block,omitempty" yaml:"block,omitempty"`
}

// ToConfig converts a runtime Policy into its persistable Config.
func ToConfig(p *Policy) *Config {
	if p == nil {
		return nil
	}
	return &Config{
		Mode:      p.Mode,
		AllowList: append([]string(nil), p.AllowList...),
		BlockList: append([]string(nil), p.BlockList...),
	}
}

// FromConfig rebuilds a runtime Policy from a stored Config. The returned
// Policy has no Ask callback; a caller in ModeAsk must set one before use.
func FromConfig(c *Config) *Policy {
	if c == nil {
		return nil
	}
	return &Policy{
		Mode:      c.Mode,
		AllowList: append([]string(nil), c.AllowList...),
		BlockList: append([]string(nil), c.BlockList...),
	}
}

// IsAllowed reports whether uses (a node's `uses` kind, e.g. "http_request")
// may run at all under p. BlockList takes priority over AllowList; an empty
// AllowList permits every kind not blocked. A nil Policy allows everything.
func (p *Policy) IsAllowed(uses string) bool {
	if p == nil {
		return true
	}

	normalized := strings.ToLower(uses)

	for _, b := range p.BlockList {
		if normalized == strings.ToLower(b) {
			return false
		}
	}

	if len(p.AllowList) == 0 {
		return true
	}
	for _, a := range p.AllowList {
		if normalized == strings.ToLower(a) {
			return true
		}
	}
	return false
}

