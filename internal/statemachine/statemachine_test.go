package statemachine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mel-run/taskflow/internal/model"
)

func TestCanTransition_LegalMoves(t *testing.T) {
	legal := [][2]model.ExecutionStatus{
		{model.ExecutionPending, model.ExecutionRunning},
		{model.ExecutionPending, model.ExecutionCancelled},
		{model.ExecutionRunning, model.ExecutionCompleted},
		{model.ExecutionRunning, model.ExecutionFailed},
		{model.ExecutionRunning, model.ExecutionCancelled},
		{model.ExecutionFailed, model.ExecutionRetrying},
		{model.ExecutionFailed, model.ExecutionCancelled},
		{model.ExecutionRetrying, model.ExecutionRunning},
		{model.ExecutionRetrying, model.ExecutionFailed},
		{model.ExecutionRetrying, model.ExecutionCancelled},
	}
	for _, pair := range legal {
		assert.Truef(t, CanTransition(pair[0], pair[1]), "%s -> %s should be legal", pair[0], pair[1])
	}
}

func TestCanTransition_IllegalMoves(t *testing.T) {
	illegal := [][2]model.ExecutionStatus{
		{model.ExecutionPending, model.ExecutionCompleted},
		{model.ExecutionPending, model.ExecutionFailed},
		{model.ExecutionPending, model.ExecutionRetrying},
		{model.ExecutionRunning, model.ExecutionPending},
		{model.ExecutionRunning, model.ExecutionRetrying},
		{model.ExecutionFailed, model.ExecutionRunning},
		{model.ExecutionFailed, model.ExecutionCompleted},
		{model.ExecutionCompleted, model.ExecutionRunning},
		{model.ExecutionCancelled, model.ExecutionRunning},
		{model.ExecutionRetrying, model.ExecutionPending},
	}
	for _, pair := range illegal {
		assert.Falsef(t, CanTransition(pair[0], pair[1]), "%s -> %s should be illegal", pair[0], pair[1])
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(model.ExecutionPending, model.ExecutionRunning))

	err := Validate(model.ExecutionPending, model.ExecutionCompleted)
	require.Error(t, err)
	var ite *InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, model.ExecutionPending, ite.From)
	assert.Equal(t, model.ExecutionCompleted, ite.To)
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(model.ExecutionCompleted))
	assert.True(t, IsTerminal(model.ExecutionCancelled))
	assert.False(t, IsTerminal(model.ExecutionPending))
	assert.False(t, IsTerminal(model.ExecutionRunning))
	assert.False(t, IsTerminal(model.ExecutionFailed))
	assert.False(t, IsTerminal(model.ExecutionRetrying))
}

func TestCanRetry(t *testing.T) {
	assert.True(t, CanRetry(model.ExecutionFailed))
	for _, s := range []model.ExecutionStatus{
		model.ExecutionPending, model.ExecutionRunning,
		model.ExecutionCompleted, model.ExecutionRetrying, model.ExecutionCancelled,
	} {
		assert.False(t, CanRetry(s))
	}
}

func TestPath_SameState(t *testing.T) {
	assert.Equal(t, []model.ExecutionStatus{model.ExecutionPending}, Path(model.ExecutionPending, model.ExecutionPending))
}

func TestPath_DirectAndMultiHop(t *testing.T) {
	assert.Equal(t,
		[]model.ExecutionStatus{model.ExecutionPending, model.ExecutionRunning},
		Path(model.ExecutionPending, model.ExecutionRunning))

	// pending -> running -> failed -> retrying is the shortest route.
	assert.Equal(t,
		[]model.ExecutionStatus{model.ExecutionPending, model.ExecutionRunning, model.ExecutionFailed, model.ExecutionRetrying},
		Path(model.ExecutionPending, model.ExecutionRetrying))
}

func TestPath_Unreachable(t *testing.T) {
	assert.Nil(t, Path(model.ExecutionCompleted, model.ExecutionRunning))
	assert.Nil(t, Path(model.ExecutionCancelled, model.ExecutionPending))
}

func TestPath_EveryLegalStepIsSingleHop(t *testing.T) {
	// For every legal transition a->b, Path(a,b) must be exactly [a,b].
	for from, tos := range transitions {
		for to := range tos {
			p := Path(from, to)
			require.Len(t, p, 2)
			assert.Equal(t, from, p[0])
			assert.Equal(t, to, p[1])
		}
	}
}
