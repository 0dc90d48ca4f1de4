package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tksoft/flowforge-engine/pkg/contract"
	"github.com/tksoft/flowforge-engine/pkg/engine"
)

// fakeJunction reports whether any line terminates on this side of a block.
type fakeJunction struct {
	hasLines bool
}

func (j *fakeJunction) HasLines() bool { return j.hasLines }

// fakeBlock is a minimal contract.Block used to exercise the planner
// without depending on any real block implementation. It becomes DONE as
// soon as Run is called.
type fakeBlock struct {
	mu sync.Mutex

	id      string
	typeID  string
	state   contract.RunnableState
	input   contract.Junction
	output  contract.Junction
	inText  string
	outText string

	runCount int
	modified bool
}

func newFakeBlock(id string, hasIncoming bool) *fakeBlock {
	return &fakeBlock{
		id:       id,
		typeID:   "fake",
		state:    contract.Ready,
		input:    &fakeJunction{hasLines: hasIncoming},
		output:   &fakeJunction{},
		modified: false,
	}
}

func (b *fakeBlock) GetInternalBlockID() string       { return b.id }
func (b *fakeBlock) GetBlockTypeID() string            { return b.typeID }
func (b *fakeBlock) GetInputJunction() contract.Junction  { return b.input }
func (b *fakeBlock) GetOutputJunction() contract.Junction { return b.output }

func (b *fakeBlock) GetState() contract.RunnableState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *fakeBlock) SetInputText(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inText = text
	b.modified = true
}

func (b *fakeBlock) GetInputText() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inText
}

func (b *fakeBlock) SetResultText(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outText = text
	b.modified = true
}

func (b *fakeBlock) GetResultText() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.outText
}

func (b *fakeBlock) Run() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.runCount++
	b.state = contract.Done
	b.modified = true
}

func (b *fakeBlock) Stop()  { b.setState(contract.Stopped) }
func (b *fakeBlock) Abort() { b.setState(contract.Aborted) }
func (b *fakeBlock) Reset() { b.setState(contract.Ready) }

func (b *fakeBlock) SetReady() { b.setState(contract.Ready) }

func (b *fakeBlock) setState(state contract.RunnableState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = state
	b.modified = true
}

func (b *fakeBlock) AddStateChangeListener(_ contract.EventListener) {}

func (b *fakeBlock) IsModified() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.modified
}

func (b *fakeBlock) ResetModified() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.modified = false
}

func (b *fakeBlock) runCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runCount
}

type recordingListener struct {
	mu     sync.Mutex
	events []contract.ChangeEvent
}

func (l *recordingListener) OnEvent(event contract.ChangeEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *recordingListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func TestNewRejectsInvalidIdentity(t *testing.T) {
	_, err := engine.New(0, 1, 1, "name", engine.InstanceParameters{}, nil, nil)
	assert.Error(t, err)

	_, err = engine.New(1, 1, 1, "", engine.InstanceParameters{}, nil, nil)
	assert.Error(t, err)
}

func TestNewRejectsLinesWithoutBlocks(t *testing.T) {
	a := newFakeBlock("a", false)
	line, err := engine.NewLine(a, a)
	require.NoError(t, err)

	_, err = engine.New(1, 1, 1, "instance", engine.InstanceParameters{}, nil,
		[]contract.Line{line})
	require.Error(t, err)
}

func TestNewIsReadyAndModified(t *testing.T) {
	inst, err := engine.New(1, 1, 1, "instance", engine.InstanceParameters{}, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, contract.Ready, inst.GetState())
	assert.True(t, inst.IsModified())
}

// TestSingleSourceChain exercises the single-source chain scenario from
// spec.md §8: A -> B -> C, parameter "hello" applied to A.
func TestSingleSourceChain(t *testing.T) {
	a := newFakeBlock("a", false)
	b := newFakeBlock("b", true)
	c := newFakeBlock("c", true)

	lineAB, err := engine.NewLine(a, b)
	require.NoError(t, err)
	lineBC, err := engine.NewLine(b, c)
	require.NoError(t, err)

	param, err := engine.NewInstanceParameter("a", "hello")
	require.NoError(t, err)
	params := engine.NewInstanceParameters([]engine.InstanceParameter{param})

	inst, err := engine.New(1, 1, 1, "instance", params,
		[]contract.Block{a, b, c}, []contract.Line{lineAB, lineBC})
	require.NoError(t, err)

	listener := &recordingListener{}
	inst.AddListener(listener)

	// Tick 1: READY -> RUNNING, plan = [a], nothing executes yet.
	require.NoError(t, inst.Run(context.Background()))
	assert.Equal(t, contract.Running, inst.GetState())
	assert.Equal(t, 0, a.runCalls())
	assert.Equal(t, "hello", a.GetInputText())

	// Tick 2: a.run() executes; a reaches DONE but line a->b is still OFF
	// (fakeBlock never flips lines), so the plan drains to empty.
	require.NoError(t, inst.Run(context.Background()))
	assert.Equal(t, 1, a.runCalls())
	assert.Equal(t, contract.Done, inst.GetState())
	assert.Equal(t, 1, listener.count())
}

// TestDiamondActivatesBothBranches builds A -> {B, C} -> D and confirms the
// plan grows along every ON line without duplicating a block.
func TestDiamondActivatesBothBranches(t *testing.T) {
	a := newFakeBlock("a", false)
	b := newFakeBlock("b", true)
	c := newFakeBlock("c", true)
	d := newFakeBlock("d", true)

	lineAB, _ := engine.NewLine(a, b)
	lineAC, _ := engine.NewLine(a, c)
	lineBD, _ := engine.NewLine(b, d)
	lineCD, _ := engine.NewLine(c, d)

	lineAB.SetState(contract.LineOn)
	lineAC.SetState(contract.LineOn)

	inst, err := engine.New(1, 1, 1, "instance", engine.InstanceParameters{},
		[]contract.Block{a, b, c, d},
		[]contract.Line{lineAB, lineAC, lineBD, lineCD})
	require.NoError(t, err)

	require.NoError(t, inst.Run(context.Background())) // READY -> RUNNING, plan=[a]
	require.NoError(t, inst.Run(context.Background())) // a runs, b and c enter plan

	assert.Equal(t, 1, a.runCalls())
	assert.Equal(t, 0, b.runCalls())
	assert.Equal(t, 0, c.runCalls())

	require.NoError(t, inst.Run(context.Background())) // b and c each run once
	assert.Equal(t, 1, b.runCalls())
	assert.Equal(t, 1, c.runCalls())
	assert.Equal(t, 0, d.runCalls())
}

func TestStopPropagatesToBlocksAndLines(t *testing.T) {
	a := newFakeBlock("a", false)
	b := newFakeBlock("b", true)
	line, _ := engine.NewLine(a, b)
	line.SetState(contract.LineOn)

	inst, err := engine.New(1, 1, 1, "instance", engine.InstanceParameters{},
		[]contract.Block{a, b}, []contract.Line{line})
	require.NoError(t, err)

	inst.Stop()

	assert.Equal(t, contract.Stopped, inst.GetState())
	assert.Equal(t, contract.Stopped, a.GetState())
	assert.Equal(t, contract.Stopped, b.GetState())
	assert.Equal(t, contract.LineOff, line.GetState())
}

func TestSetReadyFromTerminalStatesResetsLinesOnly(t *testing.T) {
	a := newFakeBlock("a", false)
	b := newFakeBlock("b", true)
	line, _ := engine.NewLine(a, b)
	line.SetState(contract.LineOn)

	inst, err := engine.New(1, 1, 1, "instance", engine.InstanceParameters{},
		[]contract.Block{a, b}, []contract.Line{line})
	require.NoError(t, err)

	inst.Abort()
	require.NoError(t, inst.SetReady())

	assert.Equal(t, contract.Ready, inst.GetState())
	assert.Equal(t, contract.LineOff, line.GetState())
}

func TestSetReadyIsNoOpFromNonTerminalState(t *testing.T) {
	inst, err := engine.New(1, 1, 1, "instance", engine.InstanceParameters{}, nil, nil)
	require.NoError(t, err)

	require.NoError(t, inst.SetReady()) // READY is not a terminal state: no-op.
	assert.Equal(t, contract.Ready, inst.GetState())
}

// reentrantListener mimics KafkaBridge.OnEvent: it reads back the
// instance's own state from inside the callback. A listener like this
// must never observe Run holding its own lock across dispatch.
type reentrantListener struct {
	calls int
}

func (l *reentrantListener) OnEvent(event contract.ChangeEvent) {
	l.calls++
	_ = event.Instance.GetState()
	_ = event.Instance.HasError()
	_ = event.Instance.IsModified()
	_ = event.Instance.GetModifiedObjects()
}

func TestRunDoesNotDeadlockWhenListenerReadsBackInstanceState(t *testing.T) {
	a := newFakeBlock("a", false)
	inst, err := engine.New(1, 1, 1, "instance", engine.InstanceParameters{},
		[]contract.Block{a}, nil)
	require.NoError(t, err)

	listener := &reentrantListener{}
	inst.AddListener(listener)

	done := make(chan error, 1)
	go func() {
		require.NoError(t, inst.Run(context.Background())) // READY -> RUNNING
		done <- inst.Run(context.Background())              // RUNNING: fires the change event
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run deadlocked when a listener read back instance state from OnEvent")
	}

	assert.Equal(t, 1, listener.calls)
	assert.Equal(t, contract.Done, inst.GetState())
}

func TestGetModifiedObjectsOrdersBlocksBeforeLines(t *testing.T) {
	a := newFakeBlock("a", false)
	b := newFakeBlock("b", true)
	line, _ := engine.NewLine(a, b)
	line.SetState(contract.LineOn)

	inst, err := engine.New(1, 1, 1, "instance", engine.InstanceParameters{},
		[]contract.Block{a, b}, []contract.Line{line})
	require.NoError(t, err)

	a.SetResultText("done") // mark a modified so ordering (blocks before lines) is exercised.

	modified := inst.GetModifiedObjects()
	require.Len(t, modified, 2)
	assert.Same(t, a, modified[0])
	assert.Same(t, line, modified[1])
}
