package journal

type State uint8

const (
	StateUnknown State = iota
	StateIdle
	StateCompressing
	StateCompressConfirmed
	StateSelecting
	StateProofRequested
	StateTransferring
	StateTransferConfirmed
	StateDone
	StateFailed
	StateResumed

	// The transfer phase was submitted but never observed to land or expire
	StateUnconfirmed
)

var transitions = map[State][]State{
	StateIdle:              {StateCompressing, StateSelecting, StateFailed},
	StateCompressing:       {StateCompressConfirmed, StateFailed},
	StateCompressConfirmed: {StateSelecting, StateFailed},
	StateSelecting:         {StateProofRequested, StateFailed},
	StateProofRequested:    {StateTransferring, StateFailed},
	StateTransferring:      {StateTransferConfirmed, StateFailed, StateUnconfirmed},
	StateTransferConfirmed: {StateDone},

	// A failed transfer whose funds were shielded is handed off to a new run.
	// Reconciliation against the chain may also find the transfer landed.
	StateFailed:      {StateResumed, StateDone},
	StateUnconfirmed: {StateResumed, StateDone},
}

// CanTransitionTo reports whether a run in state s may move to next
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further progress is expected
func (s State) IsTerminal() bool {
	switch s {
	case StateDone, StateFailed, StateResumed, StateUnconfirmed:
		return true
	}
	return false
}

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCompressing:
		return "compressing"
	case StateCompressConfirmed:
		return "compress_confirmed"
	case StateSelecting:
		return "selecting"
	case StateProofRequested:
		return "proof_requested"
	case StateTransferring:
		return "transferring"
	case StateTransferConfirmed:
		return "transfer_confirmed"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateResumed:
		return "resumed"
	case StateUnconfirmed:
		return "unconfirmed"
	}
	return "unknown"
}
