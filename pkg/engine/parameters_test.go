package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tksoft/flowforge-engine/pkg/engine"
)

func TestNewInstanceParameterRejectsBlank(t *testing.T) {
	_, err := engine.NewInstanceParameter("", "value")
	assert.Error(t, err)

	_, err = engine.NewInstanceParameter("block", "")
	assert.Error(t, err)
}

func TestInstanceParametersLookup(t *testing.T) {
	p1, err := engine.NewInstanceParameter("a", "hello")
	require.NoError(t, err)
	p2, err := engine.NewInstanceParameter("b", "world")
	require.NoError(t, err)

	params := engine.NewInstanceParameters([]engine.InstanceParameter{p1, p2})

	found, ok := params.GetParameter("a")
	require.True(t, ok)
	assert.Equal(t, "hello", found.ParameterValue())

	_, ok = params.GetParameter("missing")
	assert.False(t, ok)

	assert.Len(t, params.All(), 2)
}

func TestInstanceParametersDropsDuplicateBlockIDs(t *testing.T) {
	p1, _ := engine.NewInstanceParameter("a", "first")
	p2, _ := engine.NewInstanceParameter("a", "second")

	params := engine.NewInstanceParameters([]engine.InstanceParameter{p1, p2})

	found, ok := params.GetParameter("a")
	require.True(t, ok)
	assert.Equal(t, "first", found.ParameterValue())
	assert.Len(t, params.All(), 1)
}
