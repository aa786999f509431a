package journal

import (
	"time"

	"github.com/pkg/errors"

	"github.com/code-payments/shield-server/pkg/pointer"
)

type Kind uint8

const (
	KindUnknown Kind = iota
	KindTransfer
	KindUnshield
	KindResume
)

func (k Kind) String() string {
	switch k {
	case KindTransfer:
		return "transfer"
	case KindUnshield:
		return "unshield"
	case KindResume:
		return "resume"
	}
	return "unknown"
}

// Record tracks a single pipeline run. Signatures are set as soon as the
// corresponding transaction is submitted, so a record can always be matched
// against what landed on chain.
type Record struct {
	Id uint64

	TransferId string
	Kind       Kind

	Sender    string
	Recipient string
	Lamports  uint64

	CompressSignature *string
	TransferSignature *string

	// Last block height at which the transfer transaction can land, zero until
	// it is submitted
	LastValidBlockHeight uint64

	// Set once the compress transaction is confirmed. Funds are then shielded
	// regardless of how the rest of the run goes.
	Compressed bool

	ResumedFrom *string

	State         State
	FailureReason *string

	Version uint64

	CreatedAt time.Time
}

func (r *Record) Validate() error {
	if len(r.TransferId) == 0 {
		return errors.New("transfer id is required")
	}

	if r.Kind == KindUnknown {
		return errors.New("kind is required")
	}

	if len(r.Sender) == 0 {
		return errors.New("sender is required")
	}

	if len(r.Recipient) == 0 {
		return errors.New("recipient is required")
	}

	if r.Lamports == 0 {
		return errors.New("lamports must be positive")
	}

	if r.Kind == KindResume && r.ResumedFrom == nil {
		return errors.New("resumed from is required for resumed transfers")
	}

	if r.Kind != KindResume && r.ResumedFrom != nil {
		return errors.New("resumed from is only valid for resumed transfers")
	}

	if r.State == StateUnknown {
		return errors.New("state is required")
	}

	if r.State == StateFailed && r.FailureReason == nil {
		return errors.New("failure reason is required for failed transfers")
	}

	if r.State == StateUnconfirmed && r.TransferSignature == nil {
		return errors.New("transfer signature is required for unconfirmed transfers")
	}

	return nil
}

// IsResumable reports whether the transfer phase can be re-run against funds
// that were already shielded.
func (r *Record) IsResumable() bool {
	return r.spendsShieldedFunds() && r.State == StateFailed
}

// AwaitsReconciliation reports whether the transfer phase was submitted with
// shielded funds but its outcome was never observed. The run may only be
// resumed once the chain shows the transfer cannot land.
func (r *Record) AwaitsReconciliation() bool {
	return r.spendsShieldedFunds() && r.State == StateUnconfirmed
}

func (r *Record) spendsShieldedFunds() bool {
	return (r.Kind == KindTransfer || r.Kind == KindResume) && r.Compressed
}

func (r *Record) Clone() Record {
	return Record{
		Id: r.Id,

		TransferId: r.TransferId,
		Kind:       r.Kind,

		Sender:    r.Sender,
		Recipient: r.Recipient,
		Lamports:  r.Lamports,

		CompressSignature: pointer.Copy(r.CompressSignature),
		TransferSignature: pointer.Copy(r.TransferSignature),

		LastValidBlockHeight: r.LastValidBlockHeight,

		Compressed: r.Compressed,

		ResumedFrom: pointer.Copy(r.ResumedFrom),

		State:         r.State,
		FailureReason: pointer.Copy(r.FailureReason),

		Version: r.Version,

		CreatedAt: r.CreatedAt,
	}
}

func (r *Record) CopyTo(dst *Record) {
	dst.Id = r.Id

	dst.TransferId = r.TransferId
	dst.Kind = r.Kind

	dst.Sender = r.Sender
	dst.Recipient = r.Recipient
	dst.Lamports = r.Lamports

	dst.CompressSignature = pointer.Copy(r.CompressSignature)
	dst.TransferSignature = pointer.Copy(r.TransferSignature)

	dst.LastValidBlockHeight = r.LastValidBlockHeight

	dst.Compressed = r.Compressed

	dst.ResumedFrom = pointer.Copy(r.ResumedFrom)

	dst.State = r.State
	dst.FailureReason = pointer.Copy(r.FailureReason)

	dst.Version = r.Version

	dst.CreatedAt = r.CreatedAt
}
