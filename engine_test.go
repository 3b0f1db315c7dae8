package actflow_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actflow/actflow"
	"github.com/actflow/actflow/model"
	"github.com/actflow/actflow/model/errs"
	"github.com/actflow/actflow/model/event"
	"github.com/actflow/actflow/service/action"
	"github.com/actflow/actflow/service/action/end"
	"github.com/actflow/actflow/service/action/httpreq"
	"github.com/actflow/actflow/service/action/ifelse"
	"github.com/actflow/actflow/service/action/start"
	"github.com/actflow/actflow/service/channel"
)

// These six scenarios are the concrete cases named in §8: Linear two-node,
// Conditional true branch, Diamond reconvergence, Template references,
// Handler failure propagates, Cancellation during long handler. Each
// deploys a WorkflowModel built as a literal, runs it through the real
// Engine, and asserts the final Process/Task states; the linear and
// handler-failure cases also assert the exact event.Kind sequence a
// subscriber observes.

func deploy(t *testing.T, eng *actflow.Engine, wf *model.WorkflowModel) *model.Process {
	t.Helper()
	data, err := json.Marshal(wf)
	require.NoError(t, err)
	deployed, err := eng.Deploy(context.Background(), data, "workflow.json")
	require.NoError(t, err)
	process, err := eng.BuildProcess(context.Background(), deployed.ID, nil)
	require.NoError(t, err)
	return process
}

// runAndCollect subscribes before starting process so ProcessStarted is
// never missed, starts it, and blocks until a terminal process event
// arrives, returning every event observed in delivery order.
func runAndCollect(t *testing.T, eng *actflow.Engine, process *model.Process) []*event.Event {
	t.Helper()

	var mu sync.Mutex
	var events []*event.Event
	done := make(chan struct{})
	var closeOnce sync.Once

	sub := eng.Channel().OnEvent(channel.Filter{ProcessID: process.ID}, func(e *event.Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
		if e.Kind == event.KindProcessCompleted || e.Kind == event.KindProcessFailed {
			closeOnce.Do(func() { close(done) })
		}
	})
	defer eng.Channel().Unsubscribe(sub)

	pid, err := eng.RunProcess(context.Background(), process)
	require.NoError(t, err)
	require.Equal(t, process.ID, pid)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for process to reach a terminal state")
	}

	mu.Lock()
	defer mu.Unlock()
	return append([]*event.Event(nil), events...)
}

func kinds(events []*event.Event) []event.Kind {
	out := make([]event.Kind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

type stubHTTPClient struct{}

func (stubHTTPClient) Do(_ context.Context, _ *action.HTTPRequest) (*action.HTTPResponse, error) {
	return &action.HTTPResponse{
		Status:  200,
		Headers: map[string]string{},
		Body:    map[string]interface{}{"ok": true},
	}, nil
}

type passHandler struct{}

func (passHandler) Execute(*action.Context, map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{}, nil
}

type fixtureHandler struct{ output map[string]interface{} }

func (h fixtureHandler) Execute(*action.Context, map[string]interface{}) (interface{}, error) {
	return h.output, nil
}

type failHandler struct{ err error }

func (h failHandler) Execute(*action.Context, map[string]interface{}) (interface{}, error) {
	return nil, h.err
}

type sleepHandler struct{ duration time.Duration }

func (h sleepHandler) Execute(ctx *action.Context, _ map[string]interface{}) (interface{}, error) {
	select {
	case <-time.After(h.duration):
		return map[string]interface{}{}, nil
	case <-ctx.Done():
		return nil, errs.Cancelled()
	}
}

func TestEngine_LinearTwoNode(t *testing.T) {
	reg := action.NewRegistry()
	reg.Register(model.UsesStart, start.New())
	reg.Register(model.UsesHTTPRequest, httpreq.New(stubHTTPClient{}))
	reg.Register(model.UsesEnd, end.New())

	wf := &model.WorkflowModel{
		ID: "wf-linear",
		Nodes: []*model.NodeModel{
			{ID: "n1", Uses: model.UsesStart},
			{ID: "n2", Uses: model.UsesHTTPRequest, Action: map[string]interface{}{"url": "https://example.test/x"}},
			{ID: "n3", Uses: model.UsesEnd},
		},
		Edges: []*model.EdgeModel{
			{ID: "e1", Source: "n1", Target: "n2", SourceHandle: model.HandleSource},
			{ID: "e2", Source: "n2", Target: "n3", SourceHandle: model.HandleSource},
		},
	}

	eng := actflow.New(actflow.WithRegistry(reg))
	process := deploy(t, eng, wf)
	events := runAndCollect(t, eng, process)

	assert.Equal(t, []event.Kind{
		event.KindProcessStarted,
		event.KindNodeReady, event.KindNodeStarted, event.KindNodeCompleted,
		event.KindNodeReady, event.KindNodeStarted, event.KindNodeCompleted,
		event.KindNodeReady, event.KindNodeStarted, event.KindNodeCompleted,
		event.KindProcessCompleted,
	}, kinds(events))

	final, err := eng.Process(context.Background(), process.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProcessStateCompleted, final.CurrentState())

	n2Output, ok := final.Outputs["n2"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 200, n2Output["status"])
	assert.Equal(t, map[string]interface{}{"ok": true}, n2Output["body"])
}

func TestEngine_ConditionalTrueBranch(t *testing.T) {
	reg := action.NewRegistry()
	reg.Register(model.UsesStart, start.New())
	reg.Register(model.UsesIfElse, ifelse.New())
	reg.Register(model.UsesEnd, end.New())

	wf := &model.WorkflowModel{
		ID: "wf-conditional",
		Nodes: []*model.NodeModel{
			{ID: "n1", Uses: model.UsesStart},
			{ID: "n2", Uses: model.UsesIfElse, Action: map[string]interface{}{
				"conditions": []interface{}{
					map[string]interface{}{"left": "a", "op": "equals", "right": "a"},
				},
			}},
			{ID: "n3", Uses: model.UsesEnd},
			{ID: "n4", Uses: model.UsesEnd},
		},
		Edges: []*model.EdgeModel{
			{ID: "e1", Source: "n1", Target: "n2", SourceHandle: model.HandleSource},
			{ID: "e2", Source: "n2", Target: "n3", SourceHandle: model.HandleTrue},
			{ID: "e3", Source: "n2", Target: "n4", SourceHandle: model.HandleFalse},
		},
	}

	eng := actflow.New(actflow.WithRegistry(reg))
	process := deploy(t, eng, wf)
	runAndCollect(t, eng, process)

	final, err := eng.Process(context.Background(), process.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProcessStateCompleted, final.CurrentState())
	assert.Equal(t, model.TaskStateCompleted, final.Task("n3").Snapshot().State)
	assert.Equal(t, model.TaskStateSkipped, final.Task("n4").Snapshot().State)
}

func TestEngine_DiamondReconvergence(t *testing.T) {
	reg := action.NewRegistry()
	reg.Register(model.UsesStart, start.New())
	reg.Register(model.UsesIfElse, ifelse.New())
	reg.Register(model.UsesEnd, end.New())
	reg.Register("pass", passHandler{})

	wf := &model.WorkflowModel{
		ID: "wf-diamond",
		Nodes: []*model.NodeModel{
			{ID: "n1", Uses: model.UsesStart},
			{ID: "n2", Uses: model.UsesIfElse, Action: map[string]interface{}{
				"conditions": []interface{}{
					map[string]interface{}{"left": "a", "op": "equals", "right": "a"},
				},
			}},
			{ID: "n3", Uses: "pass"},
			{ID: "n4", Uses: "pass"},
			{ID: "n5", Uses: model.UsesEnd},
		},
		Edges: []*model.EdgeModel{
			{ID: "e1", Source: "n1", Target: "n2", SourceHandle: model.HandleSource},
			{ID: "e2", Source: "n2", Target: "n3", SourceHandle: model.HandleTrue},
			{ID: "e3", Source: "n2", Target: "n4", SourceHandle: model.HandleFalse},
			{ID: "e4", Source: "n3", Target: "n5", SourceHandle: model.HandleSource},
			{ID: "e5", Source: "n4", Target: "n5", SourceHandle: model.HandleSource},
		},
	}

	eng := actflow.New(actflow.WithRegistry(reg))
	process := deploy(t, eng, wf)
	events := runAndCollect(t, eng, process)

	final, err := eng.Process(context.Background(), process.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProcessStateCompleted, final.CurrentState())
	assert.Equal(t, model.TaskStateCompleted, final.Task("n3").Snapshot().State)
	assert.Equal(t, model.TaskStateSkipped, final.Task("n4").Snapshot().State)
	assert.Equal(t, model.TaskStateCompleted, final.Task("n5").Snapshot().State)

	// n5 must resolve (and run) exactly once even though it has two
	// incoming edges, one dead and one satisfied.
	n5Ready := 0
	for _, e := range events {
		if e.Kind == event.KindNodeReady && e.NodeID == "n5" {
			n5Ready++
		}
	}
	assert.Equal(t, 1, n5Ready)
}

func TestEngine_TemplateReferences(t *testing.T) {
	reg := action.NewRegistry()
	reg.Register(model.UsesStart, start.New())
	reg.Register("fixture", fixtureHandler{output: map[string]interface{}{
		"user": map[string]interface{}{"name": "alice"},
	}})
	reg.Register(model.UsesEnd, end.New())

	wf := &model.WorkflowModel{
		ID: "wf-template",
		Nodes: []*model.NodeModel{
			{ID: "n1", Uses: model.UsesStart},
			{ID: "n2", Uses: "fixture"},
			{ID: "n3", Uses: model.UsesEnd, Action: map[string]interface{}{
				"value": map[string]interface{}{
					"greeting": "hello {{#n2.user.name#}}",
					"raw":      "{{#n2.user#}}",
				},
			}},
		},
		Edges: []*model.EdgeModel{
			{ID: "e1", Source: "n1", Target: "n2", SourceHandle: model.HandleSource},
			{ID: "e2", Source: "n2", Target: "n3", SourceHandle: model.HandleSource},
		},
	}

	eng := actflow.New(actflow.WithRegistry(reg))
	process := deploy(t, eng, wf)
	runAndCollect(t, eng, process)

	final, err := eng.Process(context.Background(), process.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProcessStateCompleted, final.CurrentState())

	n3Output, ok := final.Outputs["n3"].(map[string]interface{})
	require.True(t, ok)
	value, ok := n3Output["value"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "hello alice", value["greeting"])
	assert.Equal(t, map[string]interface{}{"name": "alice"}, value["raw"])
}

func TestEngine_HandlerFailurePropagates(t *testing.T) {
	reg := action.NewRegistry()
	reg.Register(model.UsesStart, start.New())
	reg.Register("boom", failHandler{err: errs.HandlerFailed("test", "forced failure", nil)})
	reg.Register(model.UsesEnd, end.New())

	wf := &model.WorkflowModel{
		ID: "wf-failure",
		Nodes: []*model.NodeModel{
			{ID: "n1", Uses: model.UsesStart},
			{ID: "n2", Uses: "boom"},
			{ID: "n3", Uses: model.UsesEnd},
		},
		Edges: []*model.EdgeModel{
			{ID: "e1", Source: "n1", Target: "n2", SourceHandle: model.HandleSource},
		},
	}

	eng := actflow.New(actflow.WithRegistry(reg))
	process := deploy(t, eng, wf)
	events := runAndCollect(t, eng, process)

	assert.Equal(t, []event.Kind{
		event.KindProcessStarted,
		event.KindNodeReady, event.KindNodeStarted, event.KindNodeCompleted,
		event.KindNodeReady, event.KindNodeStarted, event.KindNodeFailed,
		event.KindProcessFailed,
	}, kinds(events))

	processFailedCount := 0
	for _, e := range events {
		if e.Kind == event.KindProcessFailed {
			processFailedCount++
		}
	}
	assert.Equal(t, 1, processFailedCount)

	final, err := eng.Process(context.Background(), process.ID)
	require.NoError(t, err)
	assert.True(t, final.IsComplete())
	assert.Equal(t, model.ProcessStateFailed, final.CurrentState())
}

func TestEngine_CancellationDuringLongHandler(t *testing.T) {
	reg := action.NewRegistry()
	reg.Register(model.UsesStart, start.New())
	reg.Register("sleep", sleepHandler{duration: 10 * time.Second})
	reg.Register(model.UsesEnd, end.New())

	wf := &model.WorkflowModel{
		ID: "wf-cancel",
		Nodes: []*model.NodeModel{
			{ID: "n1", Uses: model.UsesStart},
			{ID: "n2", Uses: "sleep"},
			{ID: "n3", Uses: model.UsesEnd},
		},
		Edges: []*model.EdgeModel{
			{ID: "e1", Source: "n1", Target: "n2", SourceHandle: model.HandleSource},
		},
	}

	eng := actflow.New(actflow.WithRegistry(reg))
	process := deploy(t, eng, wf)

	var mu sync.Mutex
	var events []*event.Event
	done := make(chan struct{})
	var closeOnce sync.Once

	sawProcessFailed := false
	sawNodeFailed := false
	sub := eng.Channel().OnEvent(channel.Filter{ProcessID: process.ID}, func(e *event.Event) {
		mu.Lock()
		events = append(events, e)
		if e.Kind == event.KindProcessFailed {
			sawProcessFailed = true
		}
		if e.Kind == event.KindNodeFailed && e.NodeID == "n2" {
			sawNodeFailed = true
		}
		// terminate() publishes ProcessFailed before the cancelled handler's
		// task settles, so both signals are required before n2's task state
		// is guaranteed final.
		if sawProcessFailed && sawNodeFailed {
			closeOnce.Do(func() { close(done) })
		}
		mu.Unlock()
	})
	defer eng.Channel().Unsubscribe(sub)

	pid, err := eng.RunProcess(context.Background(), process)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, eng.Cancel(pid))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for cancellation to settle")
	}

	final, err := eng.Process(context.Background(), process.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProcessStateCancelled, final.CurrentState())
	n2 := final.Task("n2").Snapshot()
	assert.Equal(t, model.TaskStateFailed, n2.State)
	assert.Equal(t, errs.Cancelled().Error(), n2.Error)
}
