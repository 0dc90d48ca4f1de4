// Package engine implements the FlowForge-Engine core: the Instance state
// machine and planner/dispatcher, and the concrete Line type. Grounded on
// InstanceImpl.java from the original_source reference implementation.
package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tksoft/flowforge-engine/pkg/contract"
	"github.com/tksoft/flowforge-engine/pkg/engineerrors"
	flog "github.com/tksoft/flowforge-engine/pkg/log"
	"github.com/tksoft/flowforge-engine/pkg/otelinstr"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type instanceIdentity struct {
	InstanceID     int64  `validate:"required,gt=0"`
	TemplateID     int64  `validate:"required,gt=0"`
	InstanceUserID int64  `validate:"required,gt=0"`
	InstanceName   string `validate:"required"`
}

// Instance is the concrete, mutating implementation of contract.Instance:
// the whole procedure, its blocks, lines, parameters and plan (spec.md §3,
// §4.1-§4.3).
type Instance struct {
	mu sync.Mutex

	instanceID     int64
	templateID     int64
	instanceUserID int64
	instanceName   string

	parameters InstanceParameters
	blocks     []contract.Block
	lines      []contract.Line

	state        contract.RunnableState
	hasError     bool
	errorMessage string
	modified     bool

	plan []contract.Block

	listenersMu sync.Mutex
	listeners   []contract.EventListener

	tracer trace.Tracer
	log    *slog.Logger
}

var _ contract.Instance = (*Instance)(nil)

// Option configures optional Instance behavior at construction time.
type Option func(*Instance)

// WithTracer attaches an OpenTelemetry tracer used to emit an
// "instance.tick" span per call to Run. A nil tracer (the default) makes
// Run a no-op with respect to tracing.
func WithTracer(tracer trace.Tracer) Option {
	return func(i *Instance) { i.tracer = tracer }
}

// New constructs an Instance. parameters, blocks and lines may be nil, in
// which case they default to empty (spec.md §4.2).
func New(instanceID, templateID, instanceUserID int64, instanceName string,
	parameters InstanceParameters, blocks []contract.Block, lines []contract.Line,
	opts ...Option,
) (*Instance, error) {
	identity := instanceIdentity{
		InstanceID:     instanceID,
		TemplateID:     templateID,
		InstanceUserID: instanceUserID,
		InstanceName:   instanceName,
	}
	if err := validate.Struct(identity); err != nil {
		return nil, engineerrors.NullArgument("engine.New", err.Error())
	}

	if blocks == nil {
		blocks = []contract.Block{}
	}
	if lines == nil {
		lines = []contract.Line{}
	}

	if len(blocks) == 0 && len(lines) != 0 {
		return nil, engineerrors.ConfigurationMismatch("engine.New",
			"lines must not be present if blocks are not present")
	}

	inst := &Instance{
		instanceID:     instanceID,
		templateID:     templateID,
		instanceUserID: instanceUserID,
		instanceName:   instanceName,
		parameters:     parameters,
		blocks:         blocks,
		lines:          lines,
		state:          contract.Ready,
		modified:       true,
		log:            flog.WithModule("engine"),
	}

	for _, opt := range opts {
		opt(inst)
	}

	return inst, nil
}

func (i *Instance) GetInstanceID() int64      { return i.instanceID }
func (i *Instance) GetTemplateID() int64      { return i.templateID }
func (i *Instance) GetInstanceUserID() int64  { return i.instanceUserID }
func (i *Instance) GetInstanceName() string   { return i.instanceName }

func (i *Instance) GetState() contract.RunnableState {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

func (i *Instance) HasError() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.hasError
}

func (i *Instance) GetErrorMessage() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.errorMessage
}

func (i *Instance) IsModified() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.modified
}

func (i *Instance) ResetModified() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.modified = false
}

// setModified must be called with i.mu held.
func (i *Instance) setModified() {
	i.modified = true
}

// setState must be called with i.mu held.
func (i *Instance) setState(state contract.RunnableState) {
	if i.state != state {
		i.setModified()
	}
	i.state = state
	i.log.Info("state changed", "instance_id", i.instanceID, "state", state)
}

// setError must be called with i.mu held.
func (i *Instance) setError(hasError bool, message string) {
	if i.hasError != hasError {
		i.setModified()
	}
	i.hasError = hasError
	i.errorMessage = message
}

// GetModifiedObjects returns every block and line whose IsModified is true,
// blocks before lines, in iteration order (spec.md §4.3 step 2).
func (i *Instance) GetModifiedObjects() []contract.Modifiable {
	i.mu.Lock()
	defer i.mu.Unlock()

	modifiedObjects := make([]contract.Modifiable, 0, len(i.blocks)+len(i.lines))

	for _, b := range i.blocks {
		if b.IsModified() {
			modifiedObjects = append(modifiedObjects, b)
		}
	}
	for _, l := range i.lines {
		if l.IsModified() {
			modifiedObjects = append(modifiedObjects, l)
		}
	}

	return modifiedObjects
}

// AddListener registers a listener for change events, in the style of a
// copy-on-write list: iteration in progress during Run is unaffected.
func (i *Instance) AddListener(listener contract.EventListener) {
	i.listenersMu.Lock()
	defer i.listenersMu.Unlock()

	next := make([]contract.EventListener, len(i.listeners)+1)
	copy(next, i.listeners)
	next[len(i.listeners)] = listener
	i.listeners = next
}

// RemoveListener unregisters a listener by identity.
func (i *Instance) RemoveListener(listener contract.EventListener) {
	i.listenersMu.Lock()
	defer i.listenersMu.Unlock()

	next := make([]contract.EventListener, 0, len(i.listeners))
	for _, l := range i.listeners {
		if l != listener {
			next = append(next, l)
		}
	}
	i.listeners = next
}

func (i *Instance) snapshotListeners() []contract.EventListener {
	i.listenersMu.Lock()
	defer i.listenersMu.Unlock()
	return i.listeners
}

// fireChangeEvent publishes to every listener, in registration order.
// Listener panics are recovered and logged, never propagated (spec.md
// §4.3 step 3, §4.4).
func (i *Instance) fireChangeEvent(event contract.ChangeEvent) {
	for _, listener := range i.snapshotListeners() {
		i.dispatchOne(listener, event)
	}
}

func (i *Instance) dispatchOne(listener contract.EventListener, event contract.ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			i.log.Warn("listener panicked during dispatch", "instance_id", i.instanceID, "panic", r)
		}
	}()
	listener.OnEvent(event)
}

// Stop transitions the instance to STOPPED, propagating stop to every
// block and switching every line off.
func (i *Instance) Stop() {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.setState(contract.Stopped)
	for _, b := range i.blocks {
		b.Stop()
	}
	for _, l := range i.lines {
		l.SetState(contract.LineOff)
	}
	i.setModified()
}

// Abort transitions the instance to ABORTED, propagating abort to every
// block and switching every line off.
func (i *Instance) Abort() {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.setState(contract.Aborted)
	for _, b := range i.blocks {
		b.Abort()
	}
	for _, l := range i.lines {
		l.SetState(contract.LineOff)
	}
	i.setModified()
}

// SetReady moves a DONE|STOPPED|ABORTED instance back to READY without
// resetting blocks. It is a no-op from any other state and fails if the
// error flag is set.
func (i *Instance) SetReady() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state != contract.Done && i.state != contract.Aborted && i.state != contract.Stopped {
		return nil
	}

	if i.hasError {
		return engineerrors.ConfigurationMismatch("Instance.SetReady", i.errorMessage)
	}

	i.setState(contract.Ready)
	for _, b := range i.blocks {
		b.SetReady()
	}
	for _, l := range i.lines {
		l.SetState(contract.LineOff)
	}

	return nil
}

// Reset returns the instance to READY, resetting every block and line and
// clearing the error flag.
func (i *Instance) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.setState(contract.Ready)
	for _, b := range i.blocks {
		b.Reset()
	}
	for _, l := range i.lines {
		l.Reset()
	}

	i.hasError = false
	i.errorMessage = ""
	i.setModified()
}

// Run advances the instance one dispatch step, per the two-phase
// planner/dispatcher algorithm (spec.md §4.3):
//
//   - READY: populate source-block inputs from parameters, build the
//     initial plan from blocks with no incoming lines, transition to
//     RUNNING. No block executes on this call.
//   - RUNNING: execute every block in the plan, publish a change event,
//     prune DONE blocks, extend the plan along ON lines, transition to
//     DONE when the plan empties.
func (i *Instance) Run(ctx context.Context) error {
	var span trace.Span
	if i.tracer != nil {
		ctx, span = otelinstr.StartSpan(ctx, i.tracer, "instance.tick",
			attribute.Int64(otelinstr.InstanceIDKey, i.instanceID),
		)
		defer span.End()
	}
	_ = ctx

	i.mu.Lock()

	if i.state == contract.NotConfigured {
		i.setError(true, "instance is not configured")
		err := engineerrors.ConfigurationMismatch("Instance.Run", i.errorMessage)
		i.mu.Unlock()
		if span != nil {
			otelinstr.SetError(span, err)
		}
		return err
	}

	if i.state == contract.Ready {
		i.applyParametersLocked()

		i.plan = i.plan[:0]
		for _, b := range i.blocks {
			if !b.GetInputJunction().HasLines() {
				i.plan = append(i.plan, b)
			}
		}

		i.setState(contract.Running)
		planSize := len(i.plan)
		i.mu.Unlock()
		if span != nil {
			span.SetAttributes(
				attribute.String(otelinstr.InstanceStateKey, string(contract.Running)),
				attribute.Int(otelinstr.PlanSizeKey, planSize),
			)
		}
		return nil
	}

	var event contract.ChangeEvent
	ranThisTick := i.state == contract.Running
	if ranThisTick {
		for _, b := range i.plan {
			b.Run()
		}

		event = contract.ChangeEvent{
			ID:              NewInternalBlockID(),
			Instance:        i,
			ModifiedObjects: i.modifiedObjectsLocked(),
		}
	}

	// Listener dispatch is an external side channel (spec.md §4.4): it must
	// run without i.mu held, since a listener is free to call back into
	// GetState/HasError/GetModifiedObjects/etc., and sync.Mutex is not
	// reentrant.
	i.mu.Unlock()
	if ranThisTick {
		i.fireChangeEvent(event)
	}
	i.mu.Lock()

	if ranThisTick {
		i.plan = pruneDone(i.plan)

		for _, l := range i.lines {
			if l.GetState() != contract.LineOn {
				continue
			}
			target := l.GetBlockTo()
			if !containsBlock(i.plan, target) {
				i.plan = append(i.plan, target)
			}
		}
	}

	if len(i.plan) == 0 {
		i.setState(contract.Done)
	}

	state, planSize := i.state, len(i.plan)
	i.mu.Unlock()

	if span != nil {
		span.SetAttributes(
			attribute.String(otelinstr.InstanceStateKey, string(state)),
			attribute.Int(otelinstr.PlanSizeKey, planSize),
		)
	}

	return nil
}

// applyParametersLocked must be called with i.mu held.
func (i *Instance) applyParametersLocked() {
	for _, b := range i.blocks {
		if p, ok := i.parameters.GetParameter(b.GetInternalBlockID()); ok {
			b.SetInputText(p.ParameterValue())
		}
	}
}

// modifiedObjectsLocked must be called with i.mu held.
func (i *Instance) modifiedObjectsLocked() []contract.Modifiable {
	modifiedObjects := make([]contract.Modifiable, 0, len(i.blocks)+len(i.lines))

	for _, b := range i.blocks {
		if b.IsModified() {
			modifiedObjects = append(modifiedObjects, b)
		}
	}
	for _, l := range i.lines {
		if l.IsModified() {
			modifiedObjects = append(modifiedObjects, l)
		}
	}

	return modifiedObjects
}

func pruneDone(plan []contract.Block) []contract.Block {
	next := plan[:0]
	for _, b := range plan {
		if b.GetState() != contract.Done {
			next = append(next, b)
		}
	}
	return next
}

func containsBlock(plan []contract.Block, block contract.Block) bool {
	for _, b := range plan {
		if b == block {
			return true
		}
	}
	return false
}
