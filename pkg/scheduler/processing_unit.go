// Package scheduler implements the ProcessingUnit: the fixed-delay ticking
// scheduler that owns a pool of instances and drains a command queue once
// per tick. Grounded on InstanceProcessingUnit.java from the
// original_source reference implementation.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tksoft/flowforge-engine/pkg/contract"
	"github.com/tksoft/flowforge-engine/pkg/engineerrors"
	flog "github.com/tksoft/flowforge-engine/pkg/log"
	"github.com/tksoft/flowforge-engine/pkg/otelinstr"
)

// DefaultProcessingDelay is the delay applied between the end of one tick
// and the start of the next, absent an explicit WithProcessingDelay option.
const DefaultProcessingDelay = time.Second

// Instance is the mutating surface the scheduler drives. engine.Instance
// satisfies it; tests may substitute a fake.
type Instance interface {
	contract.Instance
	Run(ctx context.Context) error
	Stop()
	Abort()
	Reset()
	SetReady() error
}

// InstanceListItem is a snapshot view of one instance, returned by
// GetInstanceListItems.
type InstanceListItem struct {
	InstanceID int64
	OwnerID    int64
	Name       string
	State      contract.RunnableState
}

// ProcessingUnit is the scheduler: a pool of instances, a command queue and
// a fixed-delay ticking worker (spec.md §4.5).
type ProcessingUnit struct {
	processingDelay time.Duration
	tracer          trace.Tracer
	log             *slog.Logger

	mu        sync.Mutex
	instances map[int64]Instance
	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}

	commandMu    sync.Mutex
	commandQueue []CommandEntry
}

// Option configures a ProcessingUnit at construction time.
type Option func(*ProcessingUnit)

// WithProcessingDelay overrides DefaultProcessingDelay.
func WithProcessingDelay(d time.Duration) Option {
	return func(pu *ProcessingUnit) { pu.processingDelay = d }
}

// WithTracer attaches an OpenTelemetry tracer used to emit a
// "processing_unit.tick" span per tick.
func WithTracer(tracer trace.Tracer) Option {
	return func(pu *ProcessingUnit) { pu.tracer = tracer }
}

// New builds an idle ProcessingUnit. Call StartProcessing to begin
// ticking.
func New(opts ...Option) *ProcessingUnit {
	pu := &ProcessingUnit{
		processingDelay: DefaultProcessingDelay,
		instances:       make(map[int64]Instance),
		log:             flog.WithModule("scheduler"),
	}
	for _, opt := range opts {
		opt(pu)
	}
	return pu
}

// StartProcessing spawns the ticking worker. Idempotent: calling it while
// already running logs a warning and returns without effect.
func (pu *ProcessingUnit) StartProcessing() {
	pu.mu.Lock()
	defer pu.mu.Unlock()

	if pu.running {
		pu.log.Warn("processing unit already running")
		return
	}

	pu.stopCh = make(chan struct{})
	pu.doneCh = make(chan struct{})
	pu.running = true

	go pu.tickLoop(pu.stopCh, pu.doneCh)

	pu.log.Info("processing unit started", "delay_ms", pu.processingDelay.Milliseconds())
}

func (pu *ProcessingUnit) tickLoop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	pu.processTick()

	timer := time.NewTimer(pu.processingDelay)
	defer timer.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-timer.C:
			pu.processTick()
			timer.Reset(pu.processingDelay)
		}
	}
}

// StopProcessing cancels the ticking worker and awaits its natural
// termination up to timeout, then returns regardless. ctx cancellation is
// propagated as an early return, mirroring the interrupt-as-cancellation
// behavior of the original implementation.
func (pu *ProcessingUnit) StopProcessing(ctx context.Context, timeout time.Duration) {
	pu.mu.Lock()
	if !pu.running {
		pu.mu.Unlock()
		pu.log.Warn("processing unit not running")
		return
	}
	stopCh, doneCh := pu.stopCh, pu.doneCh
	pu.running = false
	pu.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
	case <-time.After(timeout):
	case <-ctx.Done():
	}

	pu.log.Info("processing unit stopped")
}

// AddInstance registers instance for processing. Fails with
// ObjectAlreadyExists if its instance id is already present.
func (pu *ProcessingUnit) AddInstance(instance Instance) error {
	pu.mu.Lock()
	defer pu.mu.Unlock()

	id := instance.GetInstanceID()
	if _, exists := pu.instances[id]; exists {
		return engineerrors.ObjectAlreadyExists("ProcessingUnit.AddInstance", "instance already exists")
	}

	pu.instances[id] = instance
	return nil
}

// GetInstanceListItems returns a snapshot of every instance owned by
// userID. Order is unspecified.
func (pu *ProcessingUnit) GetInstanceListItems(userID int64) []InstanceListItem {
	pu.mu.Lock()
	defer pu.mu.Unlock()

	items := make([]InstanceListItem, 0, len(pu.instances))
	for _, inst := range pu.instances {
		if inst.GetInstanceUserID() != userID {
			continue
		}
		items = append(items, InstanceListItem{
			InstanceID: inst.GetInstanceID(),
			OwnerID:    inst.GetInstanceUserID(),
			Name:       inst.GetInstanceName(),
			State:      inst.GetState(),
		})
	}
	return items
}

// PutCommand enqueues command for instanceID, to be applied at the start
// of the next tick.
func (pu *ProcessingUnit) PutCommand(command Command, instanceID int64) error {
	if instanceID <= 0 {
		return engineerrors.NullArgument("ProcessingUnit.PutCommand", "instanceID must be positive")
	}

	pu.commandMu.Lock()
	pu.commandQueue = append(pu.commandQueue, CommandEntry{Command: command, InstanceID: instanceID})
	pu.commandMu.Unlock()

	return nil
}

func (pu *ProcessingUnit) drainCommands() []CommandEntry {
	pu.commandMu.Lock()
	defer pu.commandMu.Unlock()

	if len(pu.commandQueue) == 0 {
		return nil
	}
	drained := pu.commandQueue
	pu.commandQueue = nil
	return drained
}

// processTick drains the command queue, applies every command, then runs
// every instance whose state permits it (spec.md §4.5). Not safe to call
// concurrently with itself; the tick loop enforces single-flight.
func (pu *ProcessingUnit) processTick() {
	ctx := context.Background()

	var span trace.Span
	if pu.tracer != nil {
		ctx, span = otelinstr.StartSpan(ctx, pu.tracer, "processing_unit.tick")
		defer span.End()
	}

	pu.mu.Lock()
	if len(pu.instances) == 0 {
		pu.commandMu.Lock()
		pu.commandQueue = nil
		pu.commandMu.Unlock()
		pu.mu.Unlock()
		return
	}
	pu.mu.Unlock()

	drained := pu.drainCommands()
	for _, entry := range drained {
		pu.applyCommand(entry)
	}

	advanced := 0
	pu.mu.Lock()
	toRun := make([]Instance, 0, len(pu.instances))
	for _, inst := range pu.instances {
		if inst.GetState().IsReadyToRun() {
			toRun = append(toRun, inst)
		}
	}
	pu.mu.Unlock()

	for _, inst := range toRun {
		if err := pu.runInstance(ctx, inst); err != nil {
			pu.log.Warn("instance run failed", "instance_id", inst.GetInstanceID(), "error", err)
			continue
		}
		advanced++
	}

	if span != nil {
		span.SetAttributes(
			attribute.Int(otelinstr.DrainedCountKey, len(drained)),
			attribute.Int(otelinstr.AdvancedCountKey, advanced),
		)
	}
}

func (pu *ProcessingUnit) applyCommand(entry CommandEntry) {
	pu.mu.Lock()
	inst, ok := pu.instances[entry.InstanceID]
	pu.mu.Unlock()
	if !ok {
		return
	}

	switch entry.Command {
	case CommandSetReady:
		if err := inst.SetReady(); err != nil {
			pu.log.Warn("set-ready command failed", "instance_id", entry.InstanceID, "error", err)
		}
	case CommandPause, CommandResume:
		// Not supported yet.
	case CommandStop:
		inst.Stop()
	case CommandAbort:
		inst.Abort()
	case CommandReset:
		inst.Reset()
	case CommandRemove:
		pu.mu.Lock()
		delete(pu.instances, entry.InstanceID)
		pu.mu.Unlock()
	}
}

// runInstance fails fast with ConfigurationMismatch if instance is
// NOT_CONFIGURED (InstanceProcessingUnit.java's equivalent check), even
// though the isReadyToRun() filter at the call site already makes that
// state unreachable in practice; the contract is documented independently
// of that filter (spec.md §4.5 step 3) and must hold on its own.
func (pu *ProcessingUnit) runInstance(ctx context.Context, instance Instance) error {
	state := instance.GetState()
	if state == contract.NotConfigured {
		return engineerrors.ConfigurationMismatch("ProcessingUnit.runInstance",
			"instance is not configured")
	}
	if state != contract.Ready && state != contract.Running {
		return nil
	}

	return instance.Run(ctx)
}
