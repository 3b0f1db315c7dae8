// Package event defines the tagged event union flowing through the Event
// Channel (service/channel): process lifecycle, node lifecycle, log lines,
// and streaming messages. Every variant shares one closed Kind enum and a
// common field set so the Channel can filter across variants by (process
// id, node id, kind) without a type switch over reflect.Type per
// subscription.
package event

import "time"

// Kind identifies which variant of the union an Event carries.
type Kind string

const (
	KindProcessStarted   Kind = "process_started"
	KindProcessCompleted Kind = "process_completed"
	KindProcessFailed    Kind = "process_failed"
	KindNodeReady        Kind = "node_ready"
	KindNodeStarted      Kind = "node_started"
	KindNodeCompleted    Kind = "node_completed"
	KindNodeFailed       Kind = "node_failed"
	KindNodeRetried      Kind = "node_retried"
	KindLog              Kind = "log"
	KindMessage          Kind = "message"
)

// Level is the severity of a Log event.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is one entry in the per-process, strictly-increasing sequence
// described in §5. Only the fields relevant to Kind are populated; the rest
// are left at their zero value.
type Event struct {
	Seq       uint64                 `json:"seq"`
	Kind      Kind                   `json:"kind"`
	ProcessID string                 `json:"processId"`
	NodeID    string                 `json:"nodeId,omitempty"`
	Output    interface{}            `json:"output,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Level     Level                  `json:"level,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Payload   interface{}            `json:"payload,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

// IsComplete reports whether this event signals successful process
// termination — the filter used by the Channel's on_complete wrapper.
func (e *Event) IsComplete() bool {
	return e.Kind == KindProcessCompleted
}

// IsError reports whether this event signals a process or node failure —
// the filter used by the Channel's on_error wrapper.
func (e *Event) IsError() bool {
	return e.Kind == KindProcessFailed || e.Kind == KindNodeFailed
}

// New constructs an Event with CreatedAt set to now. Seq is assigned by the
// Channel at publish time so that sequencing is centralised in one place.
func New(kind Kind, processID, nodeID string) *Event {
	return &Event{
		Kind:      kind,
		ProcessID: processID,
		NodeID:    nodeID,
		CreatedAt: time.Now(),
	}
}
