package scheduler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tksoft/flowforge-engine/pkg/contract"
	"github.com/tksoft/flowforge-engine/pkg/engineerrors"
	"github.com/tksoft/flowforge-engine/pkg/scheduler"
)

// fakeInstance is a minimal scheduler.Instance used to exercise command
// application and run-gating without depending on pkg/engine.
type fakeInstance struct {
	mu sync.Mutex

	id       int64
	userID   int64
	name     string
	state    contract.RunnableState
	runCount int
}

func newFakeInstance(id, userID int64) *fakeInstance {
	return &fakeInstance{id: id, userID: userID, name: "instance", state: contract.Ready}
}

func (f *fakeInstance) GetInstanceID() int64     { return f.id }
func (f *fakeInstance) GetTemplateID() int64     { return 1 }
func (f *fakeInstance) GetInstanceUserID() int64 { return f.userID }
func (f *fakeInstance) GetInstanceName() string  { return f.name }
func (f *fakeInstance) HasError() bool           { return false }
func (f *fakeInstance) GetErrorMessage() string  { return "" }
func (f *fakeInstance) IsModified() bool         { return false }
func (f *fakeInstance) ResetModified()           {}
func (f *fakeInstance) GetModifiedObjects() []contract.Modifiable { return nil }

func (f *fakeInstance) GetState() contract.RunnableState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeInstance) setState(s contract.RunnableState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = s
}

func (f *fakeInstance) Run(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runCount++
	f.state = contract.Done
	return nil
}

func (f *fakeInstance) Stop()  { f.setState(contract.Stopped) }
func (f *fakeInstance) Abort() { f.setState(contract.Aborted) }
func (f *fakeInstance) Reset() { f.setState(contract.Ready) }

func (f *fakeInstance) SetReady() error {
	f.setState(contract.Ready)
	return nil
}

func (f *fakeInstance) runCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runCount
}

func TestAddInstanceRejectsDuplicateID(t *testing.T) {
	pu := scheduler.New()
	inst := newFakeInstance(1, 10)

	require.NoError(t, pu.AddInstance(inst))

	err := pu.AddInstance(newFakeInstance(1, 10))
	require.Error(t, err)
	assert.True(t, engineerrors.IsObjectAlreadyExists(err))
}

func TestGetInstanceListItemsFiltersByUser(t *testing.T) {
	pu := scheduler.New()
	require.NoError(t, pu.AddInstance(newFakeInstance(1, 10)))
	require.NoError(t, pu.AddInstance(newFakeInstance(2, 20)))

	items := pu.GetInstanceListItems(10)
	require.Len(t, items, 1)
	assert.Equal(t, int64(1), items[0].InstanceID)
}

func TestPutCommandRejectsNonPositiveInstanceID(t *testing.T) {
	pu := scheduler.New()
	err := pu.PutCommand(scheduler.CommandStop, 0)
	assert.Error(t, err)
}

// TestStartStopProcessingDrivesFakeInstanceToDone exercises the full tick
// loop end to end: start the scheduler, let at least one tick elapse, and
// confirm the ready instance advanced.
func TestStartStopProcessingDrivesFakeInstanceToDone(t *testing.T) {
	pu := scheduler.New(scheduler.WithProcessingDelay(10 * time.Millisecond))
	inst := newFakeInstance(1, 10)
	require.NoError(t, pu.AddInstance(inst))

	pu.StartProcessing()
	defer pu.StopProcessing(context.Background(), time.Second)

	require.Eventually(t, func() bool {
		return inst.runCalls() >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestStartProcessingIsIdempotent(t *testing.T) {
	pu := scheduler.New(scheduler.WithProcessingDelay(50 * time.Millisecond))
	pu.StartProcessing()
	pu.StartProcessing() // must log and return, not spawn a second worker.
	pu.StopProcessing(context.Background(), time.Second)
}

func TestCommandsAreAppliedBeforeInstancesRun(t *testing.T) {
	// Only the immediate first tick happens within the test, so the stopped
	// instance runs only if SET_READY is applied before the run phase.
	pu := scheduler.New(scheduler.WithProcessingDelay(time.Hour))
	inst := newFakeInstance(1, 10)
	inst.setState(contract.Stopped)
	require.NoError(t, pu.AddInstance(inst))

	require.NoError(t, pu.PutCommand(scheduler.CommandSetReady, 1))

	pu.StartProcessing()
	defer pu.StopProcessing(context.Background(), time.Second)

	require.Eventually(t, func() bool {
		return inst.runCalls() >= 1
	}, time.Second, 5*time.Millisecond)
}
