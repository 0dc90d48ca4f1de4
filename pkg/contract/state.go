// Package contract defines the interfaces external collaborators (block
// implementations, plugin bundles, change-event observers) must satisfy to
// participate in a FlowForge-Engine instance. Block, BuilderService and
// EventListener are implemented outside the engine; Instance and Line are
// also implemented by the concrete types in pkg/engine.
package contract

// RunnableState is the lifecycle state shared by Instance and Block.
type RunnableState string

const (
	NotConfigured RunnableState = "NOT_CONFIGURED"
	Ready         RunnableState = "READY"
	Running       RunnableState = "RUNNING"
	Paused        RunnableState = "PAUSED"
	Done          RunnableState = "DONE"
	Stopped       RunnableState = "STOPPED"
	Aborted       RunnableState = "ABORTED"
)

// IsReadyToRun reports whether the state permits a run() call to do work.
func (s RunnableState) IsReadyToRun() bool {
	return s == Ready || s == Running
}

// IsTerminal reports whether the state is one of the three terminal states.
func (s RunnableState) IsTerminal() bool {
	return s == Done || s == Stopped || s == Aborted
}

// LineState is the activation state of a Line.
type LineState string

const (
	LineOn  LineState = "ON"
	LineOff LineState = "OFF"
)
