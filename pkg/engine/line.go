package engine

import (
	"sync"

	"github.com/tksoft/flowforge-engine/pkg/contract"
	"github.com/tksoft/flowforge-engine/pkg/engineerrors"
)

// Line is the engine's concrete contract.Line implementation: a directed
// edge between two blocks of the same owning instance (spec.md §3).
type Line struct {
	mu        sync.Mutex
	blockFrom contract.Block
	blockTo   contract.Block
	state     contract.LineState
	modified  bool
}

var _ contract.Line = (*Line)(nil)

// NewLine builds a Line connecting blockFrom to blockTo. Both must be
// non-nil; the caller (Instance construction) is responsible for ensuring
// they belong to the same instance.
func NewLine(blockFrom, blockTo contract.Block) (*Line, error) {
	if blockFrom == nil || blockTo == nil {
		return nil, engineerrors.NullArgument("NewLine", "blockFrom and blockTo must not be nil")
	}

	return &Line{
		blockFrom: blockFrom,
		blockTo:   blockTo,
		state:     contract.LineOff,
		modified:  true,
	}, nil
}

func (l *Line) GetBlockFrom() contract.Block { return l.blockFrom }
func (l *Line) GetBlockTo() contract.Block   { return l.blockTo }

func (l *Line) GetState() contract.LineState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Line) SetState(state contract.LineState) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != state {
		l.modified = true
	}
	l.state = state
}

// Reset turns the line OFF, matching instance reset|stop|abort semantics.
func (l *Line) Reset() {
	l.SetState(contract.LineOff)
}

func (l *Line) IsModified() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.modified
}

func (l *Line) ResetModified() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.modified = false
}
