package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tksoft/flowforge-engine/pkg/contract"
	"github.com/tksoft/flowforge-engine/pkg/engine"
)

func TestNewLineRejectsNilEndpoints(t *testing.T) {
	a := newFakeBlock("a", false)

	_, err := engine.NewLine(nil, a)
	assert.Error(t, err)

	_, err = engine.NewLine(a, nil)
	assert.Error(t, err)
}

func TestLineStartsOffAndModified(t *testing.T) {
	a := newFakeBlock("a", false)
	b := newFakeBlock("b", true)

	line, err := engine.NewLine(a, b)
	require.NoError(t, err)

	assert.Equal(t, contract.LineOff, line.GetState())
	assert.True(t, line.IsModified())
}

func TestLineSetStateTracksModification(t *testing.T) {
	a := newFakeBlock("a", false)
	b := newFakeBlock("b", true)
	line, err := engine.NewLine(a, b)
	require.NoError(t, err)

	line.ResetModified()
	assert.False(t, line.IsModified())

	line.SetState(contract.LineOn)
	assert.True(t, line.IsModified())
	assert.Equal(t, contract.LineOn, line.GetState())

	line.ResetModified()
	line.SetState(contract.LineOn) // no transition: must not re-flag modified.
	assert.False(t, line.IsModified())
}

func TestLineResetTurnsOff(t *testing.T) {
	a := newFakeBlock("a", false)
	b := newFakeBlock("b", true)
	line, err := engine.NewLine(a, b)
	require.NoError(t, err)

	line.SetState(contract.LineOn)
	line.Reset()

	assert.Equal(t, contract.LineOff, line.GetState())
}
