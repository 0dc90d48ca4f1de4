package contract

// Junction is a connection anchor on a Block: either its input or its
// output side. It only needs to answer whether any Line terminates there,
// which is all the planner needs to decide if a block is a source.
type Junction interface {
	HasLines() bool
}

// Block is the external contract a block implementation must satisfy.
// Block implementations are user code; the engine only ever calls these
// methods, never subclasses or wraps them beyond the Line/plan bookkeeping
// the Instance itself owns.
type Block interface {
	Modifiable

	// GetInternalBlockID returns the opaque id unique within the owning
	// instance.
	GetInternalBlockID() string

	// GetBlockTypeID returns the id selecting the implementation.
	GetBlockTypeID() string

	GetState() RunnableState

	GetInputJunction() Junction
	GetOutputJunction() Junction

	SetInputText(text string)
	GetInputText() string

	SetResultText(text string)
	GetResultText() string

	// Run advances the block one dispatch step. Implementations are
	// expected to return quickly; a blocking Run stalls the owning
	// instance for the duration (see concurrency model, §5).
	Run()
	Stop()
	Abort()
	Reset()
	SetReady()

	AddStateChangeListener(listener EventListener)
}
