package contract

// Line is the external contract for a directed edge between two blocks.
// blockFrom and blockTo are borrowing references: a Line never owns the
// blocks it connects, the owning Instance does.
type Line interface {
	Modifiable

	GetBlockFrom() Block
	GetBlockTo() Block

	GetState() LineState
	SetState(state LineState)

	Reset()
}
