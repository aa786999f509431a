package transfer

import (
	"github.com/pkg/errors"

	"github.com/code-payments/shield-server/pkg/shield/selection"
	"github.com/code-payments/shield-server/pkg/shield/wallet"
)

var (
	ErrWalletNotConnected = wallet.ErrWalletNotConnected
	ErrInvalidAmount      = errors.New("amount must be a positive sol value")
	ErrInvalidRecipient   = errors.New("invalid recipient address")

	// ErrInsufficientVisibleBalance is returned when the sender cannot fund
	// the compress step and its fees. It matches selection.ErrInsufficientBalance.
	ErrInsufficientVisibleBalance = errors.Wrap(selection.ErrInsufficientBalance, "insufficient visible balance")

	ErrUnknownStateTree = errors.New("no nullifier queue configured for state tree")
	ErrIndexerBehind    = errors.New("compression indexer did not catch up")
	ErrJournalDisabled  = errors.New("transfer journal is disabled")
	ErrNotResumable     = errors.New("transfer cannot be resumed")
	ErrWalletMismatch   = errors.New("wallet does not match transfer sender")

	// Returned by ResumeTransfer when the original transfer transaction is
	// found on chain, or could still land
	ErrAlreadyTransferred = errors.New("transfer already landed")
	ErrTransferPending    = errors.New("transfer may still land")
)

type Phase string

const (
	PhaseCompress   Phase = "compress"
	PhaseTransfer   Phase = "transfer"
	PhaseDecompress Phase = "decompress"
)

// PhaseError is returned for any failure after a run has started. Compressed
// reports whether the sender's funds were already shielded, in which case the
// run can be resumed from the transfer phase or the funds unshielded.
//
// Unconfirmed reports that the transfer transaction was submitted but its
// outcome could not be observed. Compressed is never set alongside it, and the
// run must be reconciled through ResumeTransfer before funds are treated as
// unsent.
type PhaseError struct {
	Phase       Phase
	TransferId  string
	Compressed  bool
	Unconfirmed bool
	Err         error
}

func (e *PhaseError) Error() string {
	return string(e.Phase) + " phase failed: " + e.Err.Error()
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

func (e *PhaseError) Cause() error {
	return e.Err
}

// IsPartialFailure reports whether err left the sender with shielded but
// unsent funds
func IsPartialFailure(err error) bool {
	var phaseErr *PhaseError
	return errors.As(err, &phaseErr) && phaseErr.Compressed
}
