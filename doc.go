// Package actflow is an embeddable workflow engine: it deploys a
// declarative node/edge WorkflowModel, drives live Process instances
// through it with a per-process Dispatcher reactor, and streams lifecycle
// events over an Event Channel.
//
// A host application typically interacts with the engine through the
// Engine façade exposed by this package:
//
//	eng := actflow.New()
//	wf, _ := eng.DeployURL(ctx, "workflow.yaml")
//	proc, _ := eng.BuildProcess(ctx, wf.ID, nil)
//	sub := eng.Channel().OnComplete(channel.Filter{ProcessID: proc.ID}, func(string) {})
//	_, _ = eng.RunProcess(ctx, proc)
package actflow
