// Package model defines the declarative data model for Actflow workflows:
// the deployed graph (WorkflowModel, NodeModel, EdgeModel) and the runtime
// records derived from executing it (Process, Task). Nothing in this
// package performs I/O; it is pure data plus the structural validation that
// can be checked without executing a single node.
package model

import (
	"fmt"
)

// Handle names an outbound connection point of a node. Most nodes expose a
// single handle named HandleSource; an if_else node exposes two, named
// HandleTrue and HandleFalse.
type Handle string

const (
	HandleSource Handle = "source"
	HandleTrue   Handle = "true"
	HandleFalse  Handle = "false"
)

// Action kinds recognised by the built-in Action Registry (service/action).
// User-registered handlers may use any other string.
const (
	UsesStart       = "start"
	UsesEnd         = "end"
	UsesHTTPRequest = "http_request"
	UsesIfElse      = "if_else"
	UsesCode        = "code"
	UsesAgent       = "agent"
	UsesFilesPatch  = "files_patch"
)

// NodeModel is one vertex of a workflow graph. Action is an opaque JSON
// document whose shape is interpreted by the handler registered under Uses;
// the engine never inspects its fields except to run Template Resolution
// against it.
type NodeModel struct {
	ID     string                 `json:"id" yaml:"id"`
	Title  string                 `json:"title,omitempty" yaml:"title,omitempty"`
	Desc   string                 `json:"desc,omitempty" yaml:"desc,omitempty"`
	Uses   string                 `json:"uses" yaml:"uses"`
	Action map[string]interface{} `json:"action,omitempty" yaml:"action,omitempty"`
}

// EdgeModel connects one outbound Handle of Source to the inbound handle of
// Target. SourceHandle is HandleSource for every node type except if_else,
// which emits HandleTrue/HandleFalse depending on which branch it selects at
// runtime.
type EdgeModel struct {
	ID           string `json:"id" yaml:"id"`
	Source       string `json:"source" yaml:"source"`
	Target       string `json:"target" yaml:"target"`
	SourceHandle Handle `json:"sourceHandle,omitempty" yaml:"sourceHandle,omitempty"`
}

// WorkflowModel is the immutable, deployed definition of a workflow graph.
type WorkflowModel struct {
	ID    string            `json:"id" yaml:"id"`
	Name  string            `json:"name,omitempty" yaml:"name,omitempty"`
	Desc  string            `json:"desc,omitempty" yaml:"desc,omitempty"`
	Env   map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Nodes []*NodeModel      `json:"nodes" yaml:"nodes"`
	Edges []*EdgeModel      `json:"edges" yaml:"edges"`
}

// NodeByID returns the node with the given id, or nil.
func (w *WorkflowModel) NodeByID(id string) *NodeModel {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// StartNode returns the workflow's single start node, or nil if absent.
func (w *WorkflowModel) StartNode() *NodeModel {
	for _, n := range w.Nodes {
		if n.Uses == UsesStart {
			return n
		}
	}
	return nil
}

// OutgoingEdges returns every edge whose Source is nodeID.
func (w *WorkflowModel) OutgoingEdges(nodeID string) []*EdgeModel {
	var out []*EdgeModel
	for _, e := range w.Edges {
		if e.Source == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// IncomingEdges returns every edge whose Target is nodeID.
func (w *WorkflowModel) IncomingEdges(nodeID string) []*EdgeModel {
	var in []*EdgeModel
	for _, e := range w.Edges {
		if e.Target == nodeID {
			in = append(in, e)
		}
	}
	return in
}

// Validate performs the structural checks required before a workflow may be
// deployed: exactly one start node, at least one end node, no dangling edge
// references, and an acyclic graph (diamond reconvergence through an
// if_else's two handles into the same downstream node is explicitly
// permitted and is not a cycle).
//
// The cycle check reuses the white/grey/black DFS technique used elsewhere
// in this codebase for dependency-graph validation, applied here to the
// edge adjacency list instead of a DependsOn tree.
func (w *WorkflowModel) Validate() []error {
	var issues []error

	if len(w.Nodes) == 0 {
		return append(issues, fmt.Errorf("workflow %s has no nodes", w.ID))
	}

	ids := map[string]bool{}
	var startCount, endCount int
	for _, n := range w.Nodes {
		if n.ID == "" {
			issues = append(issues, fmt.Errorf("workflow %s has a node with an empty id", w.ID))
			continue
		}
		if ids[n.ID] {
			issues = append(issues, fmt.Errorf("duplicate node id %s", n.ID))
		}
		ids[n.ID] = true
		switch n.Uses {
		case UsesStart:
			startCount++
		case UsesEnd:
			endCount++
		}
	}

	if startCount != 1 {
		issues = append(issues, fmt.Errorf("workflow %s must have exactly one start node, found %d", w.ID, startCount))
	}
	if endCount < 1 {
		issues = append(issues, fmt.Errorf("workflow %s must have at least one end node", w.ID))
	}

	adjacency := map[string][]string{}
	for _, e := range w.Edges {
		if e.Source == "" || e.Target == "" {
			issues = append(issues, fmt.Errorf("edge %s has an empty source or target", e.ID))
			continue
		}
		if !ids[e.Source] {
			issues = append(issues, fmt.Errorf("edge %s references unknown source node %s", e.ID, e.Source))
		}
		if !ids[e.Target] {
			issues = append(issues, fmt.Errorf("edge %s references unknown target node %s", e.ID, e.Target))
		}
		adjacency[e.Source] = append(adjacency[e.Source], e.Target)
	}

	if len(issues) > 0 {
		// Dangling references make cycle/reachability analysis meaningless.
		return issues
	}

	const (
		white = 0
		grey  = 1
		black = 2
	)
	colour := map[string]int{}

	var dfs func(string) bool
	dfs = func(n string) bool {
		switch colour[n] {
		case grey:
			return true
		case black:
			return false
		}
		colour[n] = grey
		for _, next := range adjacency[n] {
			if dfs(next) {
				return true
			}
		}
		colour[n] = black
		return false
	}

	for _, n := range w.Nodes {
		if colour[n.ID] == white {
			if dfs(n.ID) {
				issues = append(issues, fmt.Errorf("workflow %s contains a cycle", w.ID))
				break
			}
		}
	}

	return issues
}
