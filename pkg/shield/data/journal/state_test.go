package journal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState_TransferPath(t *testing.T) {
	path := []State{
		StateIdle,
		StateCompressing,
		StateCompressConfirmed,
		StateSelecting,
		StateProofRequested,
		StateTransferring,
		StateTransferConfirmed,
		StateDone,
	}

	for i := 0; i < len(path)-1; i++ {
		assert.True(t, path[i].CanTransitionTo(path[i+1]), "%s -> %s", path[i], path[i+1])
		assert.False(t, path[i+1].CanTransitionTo(path[i]), "%s -> %s", path[i+1], path[i])
	}

	// Unshield and resumed runs skip compression
	assert.True(t, StateIdle.CanTransitionTo(StateSelecting))
}

func TestState_Failed(t *testing.T) {
	for _, s := range []State{
		StateIdle,
		StateCompressing,
		StateCompressConfirmed,
		StateSelecting,
		StateProofRequested,
		StateTransferring,
	} {
		assert.False(t, s.IsTerminal())
		assert.True(t, s.CanTransitionTo(StateFailed), s.String())
	}

	for _, s := range []State{StateTransferConfirmed, StateDone, StateFailed, StateResumed, StateUnconfirmed} {
		assert.False(t, s.CanTransitionTo(StateFailed), s.String())
	}

	assert.True(t, StateFailed.CanTransitionTo(StateResumed))
	assert.False(t, StateDone.CanTransitionTo(StateResumed))
	assert.False(t, StateCompressing.CanTransitionTo(StateTransferring))

	for _, s := range []State{StateDone, StateFailed, StateResumed, StateUnconfirmed} {
		assert.True(t, s.IsTerminal())
	}
}

func TestState_Unconfirmed(t *testing.T) {
	assert.True(t, StateTransferring.CanTransitionTo(StateUnconfirmed))
	assert.False(t, StateCompressing.CanTransitionTo(StateUnconfirmed))
	assert.False(t, StateFailed.CanTransitionTo(StateUnconfirmed))

	// Reconciliation settles the run either way
	assert.True(t, StateUnconfirmed.CanTransitionTo(StateDone))
	assert.True(t, StateUnconfirmed.CanTransitionTo(StateResumed))
	assert.True(t, StateFailed.CanTransitionTo(StateDone))

	assert.Equal(t, "unconfirmed", StateUnconfirmed.String())
}

func TestRecord_IsResumable(t *testing.T) {
	record := &Record{Kind: KindTransfer, State: StateFailed, Compressed: true}
	assert.True(t, record.IsResumable())

	record.Compressed = false
	assert.False(t, record.IsResumable())

	record.Compressed = true
	record.Kind = KindUnshield
	assert.False(t, record.IsResumable())

	record.Kind = KindTransfer
	record.State = StateResumed
	assert.False(t, record.IsResumable())

	record.State = StateUnconfirmed
	assert.False(t, record.IsResumable())
}

func TestRecord_AwaitsReconciliation(t *testing.T) {
	record := &Record{Kind: KindTransfer, State: StateUnconfirmed, Compressed: true}
	assert.True(t, record.AwaitsReconciliation())

	record.State = StateFailed
	assert.False(t, record.AwaitsReconciliation())

	record.State = StateUnconfirmed
	record.Kind = KindUnshield
	assert.False(t, record.AwaitsReconciliation())

	record.Kind = KindResume
	record.Compressed = false
	assert.False(t, record.AwaitsReconciliation())
}
